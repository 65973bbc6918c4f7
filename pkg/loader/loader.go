// Package loader compiles .wire files on demand and keeps them linked:
// every page to its layout chain and every component tag to the file that
// defines it. Compiled programs are reused until one of the files they
// were built from changes.
package loader

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/recera/wirepage/internal/cache"
	"github.com/recera/wirepage/pkg/codegen"
	"github.com/recera/wirepage/pkg/runtime"
	"github.com/recera/wirepage/pkg/template"
	"go.starlark.net/starlark"
)

const (
	// Ext is the source file extension
	Ext = ".wire"
	// LayoutName is the directory layout applied to every page below it
	LayoutName = "__layout__.wire"
	// ErrorPageName renders failed requests when present in the pages
	// directory
	ErrorPageName = "__error__.wire"
)

// ErrCycle is returned when a file is its own layout or load() ancestor
var ErrCycle = errors.New("dependency cycle")

// Options configure a Loader
type Options struct {
	PagesDir string
	// Cache supplies precompiled artifacts; stale entries are ignored
	Cache     *cache.Cache
	NoRegions bool
}

// unit is one compiled file
type unit struct {
	prog     *runtime.Program
	kind     cache.Kind
	hash     string
	deps     []string
	implicit string
}

// module is an executed load() target
type module struct {
	globals starlark.StringDict
	err     error
	deps    []string
}

// Loader compiles and caches .wire files. It is safe for concurrent use
// and implements runtime.ComponentResolver.
type Loader struct {
	mu       sync.Mutex
	pagesDir string
	opts     Options
	bytecode bool

	units   map[string]*unit
	loading map[string]bool
	modules map[string]*module
	// dependents maps a file to the units built from it
	dependents map[string]map[string]bool
}

var _ runtime.ComponentResolver = (*Loader)(nil)

// New creates a loader for the pages below opts.PagesDir
func New(opts Options) (*Loader, error) {
	if opts.PagesDir == "" {
		opts.PagesDir = "pages"
	}
	dir, err := filepath.Abs(opts.PagesDir)
	if err != nil {
		return nil, err
	}
	l := &Loader{pagesDir: dir, opts: opts}
	l.reset()
	return l, nil
}

func (l *Loader) reset() {
	l.units = make(map[string]*unit)
	l.loading = make(map[string]bool)
	l.modules = make(map[string]*module)
	l.dependents = make(map[string]map[string]bool)
}

// PagesDir returns the absolute pages directory
func (l *Loader) PagesDir() string {
	return l.pagesDir
}

// Load returns the compiled program of a page, compiling it and its
// layouts when needed
func (l *Loader) Load(path string) (*runtime.Program, error) {
	path, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load(path, cache.KindPage)
}

// ErrorPage returns the pages directory's error page; ok is false when
// there is none
func (l *Loader) ErrorPage() (*runtime.Program, bool, error) {
	path := filepath.Join(l.pagesDir, ErrorPageName)
	if _, err := os.Stat(path); err != nil {
		return nil, false, nil
	}
	prog, err := l.Load(path)
	return prog, err == nil, err
}

// ResolveComponent finds the program for a component tag used in from.
// Declared components come first; otherwise <Name>.wire is looked up next
// to from, in the pages directory and in a components directory beside
// it.
func (l *Loader) ResolveComponent(from *runtime.Program, name string) (*runtime.Program, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	path, err := l.componentPath(from, name)
	if err != nil {
		return nil, err
	}
	prog, err := l.load(path, cache.KindComponent)
	if err != nil {
		return nil, err
	}
	if u, ok := l.units[from.File]; ok && !contains(u.deps, path) {
		u.deps = append(u.deps, path)
		l.depend(from.File, path)
	}
	return prog, nil
}

func (l *Loader) componentPath(from *runtime.Program, name string) (string, error) {
	if file, ok := from.Components[name]; ok {
		return l.resolve(from.File, file), nil
	}
	candidates := []string{
		filepath.Join(filepath.Dir(from.File), name+Ext),
		filepath.Join(l.pagesDir, name+Ext),
		filepath.Join(filepath.Dir(l.pagesDir), "components", name+Ext),
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}
	return "", fmt.Errorf("%s: unknown component <%s>", from.File, name)
}

// load compiles path unless a compiled unit exists. Caller must hold
// l.mu.
func (l *Loader) load(path string, kind cache.Kind) (*runtime.Program, error) {
	if u, ok := l.units[path]; ok {
		if kind == cache.KindPage {
			u.kind = kind
		}
		return u.prog, nil
	}
	if l.loading[path] {
		return nil, fmt.Errorf("%s: %w", path, ErrCycle)
	}
	l.loading[path] = true
	defer delete(l.loading, path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	u := &unit{kind: kind, hash: cache.Hash(data)}

	var compiled []byte
	implicit, cached := "", false
	if l.opts.Cache != nil && !l.bytecode {
		if entry, artifact, ok := l.opts.Cache.Get(path); ok {
			compiled, cached = artifact, true
			if entry.ImplicitLayout != nil {
				implicit = *entry.ImplicitLayout
			}
		}
	}
	if !cached && kind != cache.KindComponent {
		implicit = l.ImplicitLayout(path)
	}

	doc, err := template.Parse(string(data), path)
	if err != nil {
		return nil, err
	}
	if implicit != "" {
		if _, explicit := template.Find[*template.LayoutDirective](doc); explicit {
			implicit = ""
		} else {
			doc.Directives = append(doc.Directives, &template.LayoutDirective{File: implicit})
		}
	}
	u.implicit = implicit

	prog, err := codegen.Compile(doc, codegen.Options{
		UnitID:    l.unitID(path),
		NoRegions: l.opts.NoRegions,
		Load:      l.moduleLoader(path, u),
		Compiled:  compiled,
		Bytecode:  l.bytecode,
	})
	if err != nil {
		return nil, err
	}

	if prog.LayoutFile != "" {
		lp := l.resolve(path, prog.LayoutFile)
		u.deps = append(u.deps, lp)
		layout, err := l.load(lp, cache.KindLayout)
		if err != nil {
			return nil, fmt.Errorf("layout of %s: %w", path, err)
		}
		prog.Layout = layout
	}
	names := make([]string, 0, len(prog.Components))
	for name := range prog.Components {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		u.deps = append(u.deps, l.resolve(path, prog.Components[name]))
	}

	u.deps = dedupe(u.deps)
	u.prog = prog
	l.units[path] = u
	for _, d := range u.deps {
		l.depend(path, d)
	}
	debugf("compiled %s (%s, %d deps)", path, u.kind, len(u.deps))
	return prog, nil
}

func (l *Loader) depend(path, dep string) {
	set, ok := l.dependents[dep]
	if !ok {
		set = make(map[string]bool)
		l.dependents[dep] = set
	}
	set[path] = true
}

// moduleLoader resolves the load() statements of the code in from
func (l *Loader) moduleLoader(from string, u *unit) func(*starlark.Thread, string) (starlark.StringDict, error) {
	return func(_ *starlark.Thread, name string) (starlark.StringDict, error) {
		path := l.resolve(from, name)
		m := l.loadModule(path)
		u.deps = append(u.deps, path)
		u.deps = append(u.deps, m.deps...)
		return m.globals, m.err
	}
}

// loadModule executes a starlark module once. Caller must hold l.mu.
func (l *Loader) loadModule(path string) *module {
	if m, ok := l.modules[path]; ok {
		if m == nil {
			return &module{err: fmt.Errorf("load %s: %w", path, ErrCycle)}
		}
		return m
	}
	l.modules[path] = nil

	data, err := os.ReadFile(path)
	if err != nil {
		delete(l.modules, path)
		return &module{err: fmt.Errorf("load %s: %w", path, err)}
	}
	m := &module{}
	thread := &starlark.Thread{
		Name: "load " + path,
		Load: func(_ *starlark.Thread, name string) (starlark.StringDict, error) {
			dep := l.resolve(path, name)
			inner := l.loadModule(dep)
			m.deps = append(m.deps, dep)
			m.deps = append(m.deps, inner.deps...)
			return inner.globals, inner.err
		},
	}
	m.globals, m.err = starlark.ExecFile(thread, path, data, runtime.Predeclared())
	l.modules[path] = m
	return m
}

// resolve makes file absolute relative to the directory of base, falling
// back to the pages directory when only that location exists
func (l *Loader) resolve(base, file string) string {
	if filepath.IsAbs(file) {
		return filepath.Clean(file)
	}
	path := filepath.Join(filepath.Dir(base), file)
	if _, err := os.Stat(path); err != nil {
		if alt := filepath.Join(l.pagesDir, file); fileExists(alt) {
			return alt
		}
	}
	return path
}

// ImplicitLayout returns the nearest __layout__.wire above path within
// the pages directory, other than path itself
func (l *Loader) ImplicitLayout(path string) string {
	dir := filepath.Dir(path)
	if !within(l.pagesDir, dir) {
		return ""
	}
	for {
		layout := filepath.Join(dir, LayoutName)
		if layout != path && fileExists(layout) {
			return layout
		}
		if dir == l.pagesDir {
			return ""
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// Invalidate drops the compiled units built from path, directly or
// through other units, and returns them in sorted order. Adding or
// removing a directory layout affects every unit below it.
func (l *Loader) Invalidate(path string) []string {
	path, _ = filepath.Abs(path)
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := make(map[string]bool)
	var drop func(p string)
	drop = func(p string) {
		if removed[p] {
			return
		}
		if _, ok := l.units[p]; ok {
			removed[p] = true
			delete(l.units, p)
		}
		delete(l.modules, p)
		for dep := range l.dependents[p] {
			drop(dep)
		}
	}
	if _, ok := l.modules[path]; ok {
		// modules cache each other's globals
		l.modules = make(map[string]*module)
	}
	drop(path)
	if filepath.Base(path) == LayoutName {
		dir := filepath.Dir(path) + string(filepath.Separator)
		for p := range l.units {
			if strings.HasPrefix(p, dir) {
				drop(p)
			}
		}
	}
	if l.opts.Cache != nil {
		l.opts.Cache.InvalidateByDependency(path)
	}

	paths := make([]string, 0, len(removed))
	for p := range removed {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	debugf("invalidated %d units for %s", len(paths), path)
	return paths
}

// Clear drops every compiled unit
func (l *Loader) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reset()
}

// unitID derives the region and style prefix of a file from its path
// relative to the pages directory
func (l *Loader) unitID(path string) string {
	rel, err := filepath.Rel(l.pagesDir, path)
	if err != nil {
		rel = path
	}
	return "u" + cache.Hash([]byte(filepath.ToSlash(rel)))[:6] + "-"
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

func dedupe(list []string) []string {
	seen := make(map[string]bool, len(list))
	out := list[:0]
	for _, x := range list {
		if !seen[x] {
			seen[x] = true
			out = append(out, x)
		}
	}
	return out
}

// debugLog is set by the host when debug output is wanted
var debugLog func(args ...interface{})

// SetDebugLog sets the debug logging function
func SetDebugLog(fn func(args ...interface{})) {
	debugLog = fn
}

func debugf(format string, args ...interface{}) {
	if debugLog != nil {
		debugLog(fmt.Sprintf(format, args...))
	}
}
