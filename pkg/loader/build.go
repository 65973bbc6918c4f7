package loader

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/recera/wirepage/internal/cache"
)

// BuildEvent reports the progress of Build after each file
type BuildEvent struct {
	File  string
	Kind  cache.Kind
	Err   error
	Done  int
	Total int
}

// Summary counts the files written by Build
type Summary struct {
	Pages      int
	Layouts    int
	Components int
	Errors     []error
	OutDir     string
}

// Build compiles every page with its layouts and components into out and
// writes the manifest. Compilation continues past failing files; their
// errors are collected in the summary and joined into the returned error.
func (l *Loader) Build(out *cache.Cache, progress func(BuildEvent)) (*Summary, error) {
	pages, err := l.Scan()
	if err != nil {
		return nil, err
	}
	if err := out.Clear(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.reset()
	l.bytecode = true
	defer func() {
		l.bytecode = false
		l.reset()
	}()

	files := make([]string, 0, len(pages)+1)
	for _, p := range pages {
		files = append(files, p.File)
	}
	if errorPage := filepath.Join(l.pagesDir, ErrorPageName); fileExists(errorPage) {
		files = append(files, errorPage)
	}
	routes := make(map[string]*Page, len(pages))
	for i := range pages {
		routes[pages[i].File] = &pages[i]
	}

	summary := &Summary{OutDir: out.Dir()}
	report := func(file string, kind cache.Kind, err error, done, total int) {
		if err != nil {
			summary.Errors = append(summary.Errors, err)
		}
		if progress != nil {
			progress(BuildEvent{File: file, Kind: kind, Err: err, Done: done, Total: total})
		}
	}

	for i, file := range files {
		_, err := l.load(file, cache.KindPage)
		report(file, cache.KindPage, err, i+1, len(files))
	}
	// components are resolved lazily at render time; compile every
	// declared one now so the build is complete
	for {
		pending := l.pendingComponents()
		if len(pending) == 0 {
			break
		}
		for _, file := range pending {
			_, err := l.load(file, cache.KindComponent)
			if err != nil {
				// keep a placeholder so the file is not retried
				l.units[file] = &unit{kind: cache.KindComponent}
			}
			report(file, cache.KindComponent, err, len(files), len(files))
		}
	}

	paths := make([]string, 0, len(l.units))
	for path, u := range l.units {
		if u.prog != nil {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)
	for _, path := range paths {
		u := l.units[path]
		entry := cache.Entry{Hash: u.hash, Kind: u.kind}
		for _, d := range u.deps {
			h, err := cache.HashFile(d)
			if err != nil {
				continue
			}
			entry.Deps = append(entry.Deps, cache.Dep{Path: d, Hash: h})
		}
		if u.implicit != "" {
			implicit := u.implicit
			entry.ImplicitLayout = &implicit
		}
		switch u.kind {
		case cache.KindPage:
			summary.Pages++
			if p, ok := routes[path]; ok {
				entry.Routes = p.Routes
			}
		case cache.KindLayout:
			summary.Layouts++
		case cache.KindComponent:
			summary.Components++
		}
		if err := out.Put(path, entry, u.prog.Bytecode); err != nil {
			return summary, fmt.Errorf("failed to write artifact for %s: %w", path, err)
		}
	}
	if err := out.Save(); err != nil {
		return summary, fmt.Errorf("failed to write manifest: %w", err)
	}
	return summary, errors.Join(summary.Errors...)
}

// pendingComponents lists declared component files that have no unit yet
func (l *Loader) pendingComponents() []string {
	var pending []string
	seen := make(map[string]bool)
	for path, u := range l.units {
		if u.prog == nil {
			continue
		}
		for _, file := range u.prog.Components {
			dep := l.resolve(path, file)
			if _, ok := l.units[dep]; ok || seen[dep] {
				continue
			}
			if _, err := os.Stat(dep); err != nil {
				continue
			}
			seen[dep] = true
			pending = append(pending, dep)
		}
	}
	sort.Strings(pending)
	return pending
}
