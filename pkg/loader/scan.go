package loader

import (
	"io/fs"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/recera/wirepage/pkg/router"
	"github.com/recera/wirepage/pkg/template"
)

// Page is a routable file found by Scan
type Page struct {
	File   string
	Routes []template.Route
	// Err is the parse failure of the file. Routes then holds its
	// implicit route so the failure can still be served.
	Err error
}

// Scan walks the pages directory in lexical order. Files and directories
// whose names start with _ or . are not pages.
func (l *Loader) Scan() ([]Page, error) {
	var pages []Page
	err := filepath.WalkDir(l.pagesDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == l.pagesDir {
			return nil
		}
		name := d.Name()
		if strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || filepath.Ext(name) != Ext || name == "layout"+Ext {
			return nil
		}
		pages = append(pages, l.scanPage(path))
		return nil
	})
	return pages, err
}

func (l *Loader) scanPage(path string) Page {
	page := Page{File: path}
	if l.opts.Cache != nil {
		if entry, _, ok := l.opts.Cache.Get(path); ok && entry.Routes != nil {
			page.Routes = entry.Routes
			return page
		}
	}
	doc, err := template.ParseFile(path)
	if err == nil {
		if d, ok := template.Find[*template.PathDirective](doc); ok {
			page.Routes = d.Routes
			return page
		}
	}
	page.Err = err
	if pattern, ok := ImplicitRoute(l.pagesDir, path); ok {
		page.Routes = []template.Route{{Name: "main", Pattern: pattern}}
	}
	return page
}

// Routes registers every scanned page on a new router. Pages that fail to
// parse keep their implicit route; their errors are returned alongside.
func (l *Loader) Routes() (*router.Router, []Page, error) {
	pages, err := l.Scan()
	if err != nil {
		return nil, nil, err
	}
	r := router.New()
	for i, p := range pages {
		for _, route := range p.Routes {
			if err := r.Add(router.Route{Pattern: route.Pattern, File: p.File, Name: route.Name}); err != nil && pages[i].Err == nil {
				pages[i].Err = err
			}
		}
	}
	return r, pages, nil
}

var paramDir = regexp.MustCompile(`^\[(\.\.\.)?(.+?)\]$`)

// ImplicitRoute derives the route of a page from its path below pagesDir:
// index files map to their directory, [name] segments to {name}
// parameters and [...name] to a {name:path} capture.
func ImplicitRoute(pagesDir, file string) (string, bool) {
	rel, err := filepath.Rel(pagesDir, file)
	if err != nil || !within(pagesDir, file) {
		return "", false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	segments := make([]string, 0, len(parts))
	for i, part := range parts {
		if strings.HasPrefix(part, "_") || strings.HasPrefix(part, ".") {
			return "", false
		}
		name := part
		if i == len(parts)-1 {
			if filepath.Ext(name) != Ext || name == "layout"+Ext {
				return "", false
			}
			name = strings.TrimSuffix(name, Ext)
		}
		switch m := paramDir.FindStringSubmatch(name); {
		case name == "index":
			continue
		case m != nil && m[1] != "":
			segments = append(segments, "{"+m[2]+":path}")
		case m != nil:
			segments = append(segments, "{"+m[2]+"}")
		default:
			segments = append(segments, name)
		}
	}
	return "/" + strings.Join(segments, "/"), true
}
