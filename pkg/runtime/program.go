package runtime

import (
	"fmt"
	"sort"

	"github.com/recera/wirepage/pkg/template"
	"go.starlark.net/starlark"
)

// Proc renders part of a page into f.Out. Procs are produced by the code
// generator and are shared between every instance of a Program.
type Proc func(f *Frame) error

// Func is a reference to a function of the compiled starlark program. It is
// created while lowering and resolved by Link once the program has run.
type Func struct {
	Name string
	fn   *starlark.Function
}

// Function returns the resolved starlark function
func (fn *Func) Function() *starlark.Function {
	return fn.fn
}

// Expr is one compiled template expression: a call to Fn with the page and
// the named locals as arguments.
type Expr struct {
	Fn        *Func
	Locals    []string
	Cacheable bool
	// Site is unique per lowering site within the program
	Site string
	Line int
}

// Prop is a declared component parameter. Default is nil when the prop has
// no default value.
type Prop struct {
	Name    string
	Type    string
	Default *Expr
}

// Provide publishes a value to the context of child components
type Provide struct {
	Key   string
	Value *Expr
}

// Inject binds a context value to a page member
type Inject struct {
	Local string
	Key   string
}

// Native is a handler implemented in Go rather than in the page's code
type Native func(p *Page, thread *starlark.Thread, payload *starlark.Dict) error

// Program is the compiled, immutable form of one .wire file
type Program struct {
	File string
	// UnitID prefixes region ids, cache sites and the scoped style attribute
	UnitID string
	// LayoutID keys the slots this file exposes to the files that use it as
	// a layout or component
	LayoutID string

	Main    Proc
	Regions map[string]Proc

	// Fills are this file's contributions to its layout's slots
	Fills     map[string]Proc
	HeadFills []Proc

	LayoutFile string
	Layout     *Program

	Handlers map[string]bool
	Methods  map[string]bool
	Natives  map[string]Native

	Routes []template.Route
	// Simple is true for the single-string !path form
	Simple bool
	NoSpa  bool

	Props      []Prop
	Provides   []Provide
	Injects    []Inject
	Components map[string]string

	StyleID string
	Style   string

	Init    *Func
	Globals starlark.StringDict
	// Bytecode is the encoded starlark program, kept when requested at
	// compile time
	Bytecode []byte

	funcs map[string]*Func
}

// NewProgram creates an empty program for file
func NewProgram(file, unitID string) *Program {
	return &Program{
		File:       file,
		UnitID:     unitID,
		LayoutID:   file,
		Regions:    make(map[string]Proc),
		Fills:      make(map[string]Proc),
		Handlers:   make(map[string]bool),
		Methods:    make(map[string]bool),
		Natives:    make(map[string]Native),
		Components: make(map[string]string),
		funcs:      make(map[string]*Func),
	}
}

// Func returns the reference for a program function, creating it on first
// use
func (p *Program) Func(name string) *Func {
	if fn, ok := p.funcs[name]; ok {
		return fn
	}
	fn := &Func{Name: name}
	p.funcs[name] = fn
	return fn
}

// Link resolves every function reference against the executed program
func (p *Program) Link(globals starlark.StringDict) error {
	p.Globals = globals
	names := make([]string, 0, len(p.funcs))
	for name := range p.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fn, ok := globals[name].(*starlark.Function)
		if !ok {
			return fmt.Errorf("%s: missing function %s", p.File, name)
		}
		p.funcs[name].fn = fn
	}
	for name := range p.Methods {
		if _, ok := globals[name].(*starlark.Function); !ok {
			return fmt.Errorf("%s: method %s is not a function", p.File, name)
		}
	}
	return nil
}

// Method returns a page method defined by this program
func (p *Program) Method(name string) (*starlark.Function, bool) {
	if !p.Methods[name] {
		return nil, false
	}
	fn, ok := p.Globals[name].(*starlark.Function)
	return fn, ok
}

// HasRegions reports whether the template was compiled with any region
func (p *Program) HasRegions() bool {
	return len(p.Regions) > 0
}

// SpaEnabled reports whether the client runtime should run in single-page
// mode: multi-route pages are, unless they opt out
func (p *Program) SpaEnabled() bool {
	return !p.Simple && len(p.Routes) > 0 && !p.NoSpa
}

// SiblingPaths returns the patterns of every named route
func (p *Program) SiblingPaths() []string {
	if p.Simple {
		return nil
	}
	paths := make([]string, len(p.Routes))
	for i, r := range p.Routes {
		paths[i] = r.Pattern
	}
	return paths
}

// Chain returns the program followed by its layouts, innermost first
func (p *Program) Chain() []*Program {
	var chain []*Program
	seen := make(map[*Program]bool)
	for q := p; q != nil && !seen[q]; q = q.Layout {
		seen[q] = true
		chain = append(chain, q)
	}
	return chain
}
