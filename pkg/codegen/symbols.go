package codegen

import (
	"regexp"

	"github.com/recera/wirepage/pkg/runtime"
	"github.com/recera/wirepage/pkg/template"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// frameworkMembers are set on every page instance by the runtime
var frameworkMembers = []string{
	"params", "query", "path", "url", "request",
	"errors", "loading", "attrs", "context",
	"error_code", "error_detail", "error_trace",
}

var routeParam = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)(?::[A-Za-z]+)?\}`)

// symbols is what the code generator knows about the names of one file
type symbols struct {
	members     map[string]bool
	methods     map[string]bool
	loaded      map[string]bool
	predeclared starlark.StringDict
	// async holds the async builtins and every method that calls one,
	// directly or through other methods
	async        map[string]bool
	asyncBuiltin map[string]bool
}

func newSymbols(predeclared starlark.StringDict) *symbols {
	s := &symbols{
		members:      make(map[string]bool),
		methods:      make(map[string]bool),
		loaded:       make(map[string]bool),
		predeclared:  predeclared,
		async:        map[string]bool{"wait": true},
		asyncBuiltin: make(map[string]bool),
	}
	for _, name := range frameworkMembers {
		s.members[name] = true
	}
	for _, name := range runtime.AsyncNames() {
		s.async[name] = true
		s.asyncBuiltin[name] = true
	}
	return s
}

// global reports whether name resolves outside the page: a loaded name, a
// predeclared builtin or the starlark universe
func (s *symbols) global(name string) bool {
	if s.loaded[name] {
		return true
	}
	if _, ok := s.predeclared[name]; ok {
		return true
	}
	return starlark.Universe.Has(name)
}

// collect reads the page-level names of the directives and code section
func (s *symbols) collect(doc *template.Document) {
	if d, ok := template.Find[*template.PathDirective](doc); ok {
		for _, r := range d.Routes {
			for _, m := range routeParam.FindAllStringSubmatch(r.Pattern, -1) {
				s.members[m[1]] = true
			}
		}
	}
	for _, d := range template.All[*template.PropsDirective](doc) {
		for _, p := range d.Props {
			s.members[p.Name] = true
		}
	}
	for _, d := range template.All[*template.InjectDirective](doc) {
		s.members[d.Local] = true
	}

	if doc.BodyAST == nil {
		return
	}
	for _, stmt := range doc.BodyAST.Stmts {
		switch st := stmt.(type) {
		case *syntax.LoadStmt:
			for _, id := range st.To {
				s.loaded[id.Name] = true
			}
		case *syntax.DefStmt:
			s.methods[st.Name.Name] = true
		default:
			collectAssigned([]syntax.Stmt{stmt}, false, func(name string) {
				s.members[name] = true
			})
		}
	}
	for name := range s.methods {
		delete(s.members, name)
	}
	s.resolveAsync(doc.BodyAST)
}

// collectAssigned reports every name assigned by stmts, without entering
// nested functions. Loop variables are reported only with loops set.
func collectAssigned(stmts []syntax.Stmt, loops bool, fn func(name string)) {
	for _, stmt := range stmts {
		switch st := stmt.(type) {
		case *syntax.AssignStmt:
			targetNames(st.LHS, fn)
		case *syntax.IfStmt:
			collectAssigned(st.True, loops, fn)
			collectAssigned(st.False, loops, fn)
		case *syntax.ForStmt:
			if loops {
				targetNames(st.Vars, fn)
			}
			collectAssigned(st.Body, loops, fn)
		case *syntax.WhileStmt:
			collectAssigned(st.Body, loops, fn)
		}
	}
}

// collectLoopVars reports the loop variables of stmts
func collectLoopVars(stmts []syntax.Stmt, fn func(name string)) {
	for _, stmt := range stmts {
		switch st := stmt.(type) {
		case *syntax.IfStmt:
			collectLoopVars(st.True, fn)
			collectLoopVars(st.False, fn)
		case *syntax.ForStmt:
			targetNames(st.Vars, fn)
			collectLoopVars(st.Body, fn)
		case *syntax.WhileStmt:
			collectLoopVars(st.Body, fn)
		}
	}
}

// targetNames reports the plain names bound by an assignment target
func targetNames(e syntax.Expr, fn func(name string)) {
	switch x := e.(type) {
	case *syntax.Ident:
		fn(x.Name)
	case *syntax.TupleExpr:
		for _, el := range x.List {
			targetNames(el, fn)
		}
	case *syntax.ListExpr:
		for _, el := range x.List {
			targetNames(el, fn)
		}
	case *syntax.ParenExpr:
		targetNames(x.X, fn)
	}
}

// resolveAsync computes which methods are async: those calling wait, an
// async builtin, or another async method
func (s *symbols) resolveAsync(f *syntax.File) {
	calls := make(map[string]map[string]bool)
	for _, stmt := range f.Stmts {
		def, ok := stmt.(*syntax.DefStmt)
		if !ok {
			continue
		}
		called := make(map[string]bool)
		syntax.Walk(def, func(n syntax.Node) bool {
			if call, ok := n.(*syntax.CallExpr); ok {
				if name := calleeName(call.Fn); name != "" {
					called[name] = true
				}
			}
			return true
		})
		calls[def.Name.Name] = called
	}

	for changed := true; changed; {
		changed = false
		for method, called := range calls {
			if s.async[method] {
				continue
			}
			for name := range called {
				if s.async[name] {
					s.async[method] = true
					changed = true
					break
				}
			}
		}
	}
}

// calleeName returns f for f(...) and self.f(...)
func calleeName(fn syntax.Expr) string {
	switch x := fn.(type) {
	case *syntax.Ident:
		return x.Name
	case *syntax.DotExpr:
		if id, ok := x.X.(*syntax.Ident); ok && id.Name == "self" {
			return x.Name.Name
		}
	}
	return ""
}
