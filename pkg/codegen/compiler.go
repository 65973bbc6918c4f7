// Package codegen lowers parsed .wire documents into runtime programs: the
// code section and every template expression become one starlark program,
// and the template becomes a tree of render procedures.
package codegen

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/recera/wirepage/pkg/runtime"
	"github.com/recera/wirepage/pkg/styling"
	"github.com/recera/wirepage/pkg/template"
	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// initName is the generated method holding the top-level statements of the
// code section
const initName = "__init_page__"

// Options control compilation
type Options struct {
	// UnitID prefixes region ids and cache sites; it must be unique among
	// the files rendered together
	UnitID string
	// NoRegions renders every update as a full page
	NoRegions bool
	// Load resolves load() statements of the code section
	Load func(thread *starlark.Thread, module string) (starlark.StringDict, error)
	// Predeclared defaults to runtime.Predeclared()
	Predeclared starlark.StringDict
	// Compiled is bytecode from an earlier compilation of the same source.
	// It is used instead of compiling the starlark program when it decodes.
	Compiled []byte
	// Bytecode keeps the encoded starlark program in Program.Bytecode
	Bytecode bool
}

// compiler holds the state of one compilation
type compiler struct {
	doc  *template.Document
	opts Options
	prog *runtime.Program
	syms *symbols

	defs []syntax.Stmt

	exprN, handlerN, regionN, siteN int

	scopeID string
	// selected is the value bound to the enclosing select, if any
	selected *runtime.Expr
	// root receives fallthrough attributes when the file is a component
	root *template.Node
}

// Compile lowers doc into an executable program
func Compile(doc *template.Document, opts Options) (*runtime.Program, error) {
	if opts.Predeclared == nil {
		opts.Predeclared = runtime.Predeclared()
	}
	c := &compiler{
		doc:  doc,
		opts: opts,
		prog: runtime.NewProgram(doc.File, opts.UnitID),
		syms: newSymbols(opts.Predeclared),
	}
	c.syms.collect(doc)

	if err := c.directives(); err != nil {
		return nil, err
	}
	nodes := c.extractStyles(doc.Template)
	if err := c.template(nodes); err != nil {
		return nil, err
	}
	if err := c.build(); err != nil {
		return nil, err
	}
	return c.prog, nil
}

// directives copies the header declarations into the program
func (c *compiler) directives() error {
	prog := c.prog
	for _, d := range c.doc.Directives {
		switch x := d.(type) {
		case *template.PathDirective:
			prog.Routes = x.Routes
			prog.Simple = x.Simple
		case *template.LayoutDirective:
			prog.LayoutFile = x.File
		case *template.ComponentDirective:
			prog.Components[x.Name] = x.File
		case *template.NoSpaDirective:
			prog.NoSpa = true
		case *template.PropsDirective:
			for _, p := range x.Props {
				prop := runtime.Prop{Name: p.Name, Type: p.Type}
				if p.Default != "" {
					e, err := c.expr(p.Default, x.DirectiveLine(), 1, nil, modeRef)
					if err != nil {
						return err
					}
					prop.Default = e
				}
				prog.Props = append(prog.Props, prop)
			}
		case *template.ProvideDirective:
			e, err := c.expr(x.Expr, x.DirectiveLine(), 1, nil, modeRef)
			if err != nil {
				return err
			}
			prog.Provides = append(prog.Provides, runtime.Provide{Key: x.Key, Value: e})
		case *template.InjectDirective:
			prog.Injects = append(prog.Injects, runtime.Inject{Local: x.Local, Key: x.Key})
		}
	}
	return nil
}

// extractStyles removes <style scoped> elements and compiles their rules
func (c *compiler) extractStyles(nodes []*template.Node) []*template.Node {
	var css strings.Builder
	var walk func(nodes []*template.Node) []*template.Node
	walk = func(nodes []*template.Node) []*template.Node {
		out := nodes[:0:0]
		for _, n := range nodes {
			if strings.EqualFold(n.Tag, "style") {
				if _, ok := n.Attr("scoped"); ok {
					for _, ch := range n.Children {
						css.WriteString(ch.Text)
					}
					continue
				}
			}
			if len(n.Children) > 0 {
				cp := *n
				cp.Children = walk(n.Children)
				n = &cp
			}
			out = append(out, n)
		}
		return out
	}
	nodes = walk(nodes)
	if strings.TrimSpace(css.String()) != "" {
		unit := c.opts.UnitID
		if unit == "" {
			unit = c.doc.File
		}
		c.scopeID = styling.ScopeID(unit)
		c.prog.StyleID = c.scopeID
		c.prog.Style = styling.Scope(css.String(), c.scopeID)
	}
	return nodes
}

// build assembles the starlark program, executes it and links the
// generated procedures to its functions
func (c *compiler) build() error {
	f := &syntax.File{Path: c.doc.File, Options: syntax.LegacyFileOptions()}
	if c.doc.BodyAST != nil && c.doc.BodyAST.Options != nil {
		f.Options = c.doc.BodyAST.Options
	}

	var init []syntax.Stmt
	if c.doc.BodyAST != nil {
		for _, stmt := range c.doc.BodyAST.Stmts {
			switch st := stmt.(type) {
			case *syntax.LoadStmt:
				f.Stmts = append(f.Stmts, st)
			case *syntax.DefStmt:
				f.Stmts = append(f.Stmts, c.method(st))
				c.prog.Methods[st.Name.Name] = true
			default:
				init = append(init, stmt)
			}
		}
	}
	if len(init) > 0 {
		pos := syntax.MakePosition(&c.doc.File, int32(c.doc.BodyLine), 1)
		r := newRewriter(c.syms, modeCode, nil)
		r.push(r.localNames(map[string]bool{"self": true}, nil))
		loops := make(map[string]bool)
		collectLoopVars(init, func(name string) { loops[name] = true })
		r.push(loops)
		r.stmts(init)
		f.Stmts = append(f.Stmts, def(pos, initName, []string{"self"}, init))
		c.prog.Init = c.prog.Func(initName)
	}
	f.Stmts = append(f.Stmts, c.defs...)

	predeclared := c.opts.Predeclared
	prog, err := c.program(f)
	if err != nil {
		return err
	}
	thread := &starlark.Thread{Name: "compile " + c.doc.File, Load: c.opts.Load}
	globals, err := prog.Init(thread, predeclared)
	if err != nil {
		return fmt.Errorf("%s: %w", c.doc.File, err)
	}
	return c.prog.Link(globals)
}

// program compiles f, or decodes the bytecode it was compiled to before
func (c *compiler) program(f *syntax.File) (*starlark.Program, error) {
	if len(c.opts.Compiled) > 0 {
		if prog, err := starlark.CompiledProgram(bytes.NewReader(c.opts.Compiled)); err == nil {
			return prog, nil
		}
	}
	prog, err := starlark.FileProgram(f, c.opts.Predeclared.Has)
	if err != nil {
		return nil, compileError(c.doc.File, err)
	}
	if c.opts.Bytecode {
		var buf bytes.Buffer
		if err := prog.Write(&buf); err != nil {
			return nil, fmt.Errorf("%s: encode program: %w", c.doc.File, err)
		}
		c.prog.Bytecode = buf.Bytes()
	}
	return prog, nil
}

// method turns a top-level def into a page method taking self
func (c *compiler) method(d *syntax.DefStmt) *syntax.DefStmt {
	hasSelf := false
	if len(d.Params) > 0 {
		if id, ok := d.Params[0].(*syntax.Ident); ok && id.Name == "self" {
			hasSelf = true
		}
	}
	if !hasSelf {
		params := make([]syntax.Expr, 0, len(d.Params)+1)
		params = append(params, &syntax.Ident{NamePos: d.Def, Name: "self"})
		d.Params = append(params, d.Params...)
	}
	r := newRewriter(c.syms, modeCode, nil)
	r.function(d)
	return d
}

// compileError converts resolver errors into syntax errors with the
// position of the first problem
func compileError(file string, err error) error {
	if list, ok := err.(resolve.ErrorList); ok && len(list) > 0 {
		first := list[0]
		return &template.SyntaxError{File: file, Line: int(first.Pos.Line), Col: int(first.Pos.Col), Msg: first.Msg, Kind: template.ErrBody}
	}
	return template.BodyError(file, 0, 0, err)
}

// def builds a function definition with plain parameters
func def(pos syntax.Position, name string, params []string, body []syntax.Stmt) *syntax.DefStmt {
	d := &syntax.DefStmt{
		Def:  pos,
		Name: &syntax.Ident{NamePos: pos, Name: name},
		Body: body,
	}
	for _, p := range params {
		d.Params = append(d.Params, &syntax.Ident{NamePos: pos, Name: p})
	}
	return d
}

// optionalParam builds name=None
func optionalParam(pos syntax.Position, name string) syntax.Expr {
	return &syntax.BinaryExpr{
		OpPos: pos,
		Op:    syntax.EQ,
		X:     &syntax.Ident{NamePos: pos, Name: name},
		Y:     &syntax.Ident{NamePos: pos, Name: "None"},
	}
}

// site returns a new call-site id, unique within the unit
func (c *compiler) site(kind string) string {
	c.siteN++
	return c.prog.UnitID + kind + strconv.Itoa(c.siteN)
}
