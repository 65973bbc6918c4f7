package codegen

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/recera/wirepage/pkg/runtime"
	"github.com/recera/wirepage/pkg/template"
	"go.starlark.net/syntax"
)

var identForm = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// scope is the lowering context of a template position
type scope struct {
	// locals are the template bindings visible here, outermost first
	locals []string
	// regions is false inside a region or anywhere regions cannot start
	regions bool
}

func (sc *scope) has(name string) bool {
	if sc == nil {
		return false
	}
	for _, l := range sc.locals {
		if l == name {
			return true
		}
	}
	return false
}

// with returns a scope with more locals bound
func (sc *scope) with(names ...string) *scope {
	out := &scope{}
	if sc != nil {
		out.regions = sc.regions
		out.locals = append(out.locals, sc.locals...)
	}
	for _, n := range names {
		if !out.has(n) {
			out.locals = append(out.locals, n)
		}
	}
	return out
}

// noRegions returns a copy of sc in which no region may start
func (sc *scope) noRegions() *scope {
	out := sc.with()
	out.regions = false
	return out
}

// identity maps every local to itself
func (sc *scope) identity() map[string]string {
	m := make(map[string]string)
	if sc != nil {
		for _, l := range sc.locals {
			m[l] = l
		}
	}
	return m
}

// pad places src at line so positions in parse errors are file positions
func pad(src string, line int) string {
	if line < 1 {
		line = 1
	}
	return strings.Repeat("\n", line-1) + src
}

// exprError reports a parse error of an embedded expression at its
// position in the file
func exprError(file string, line, col int, err error) error {
	se := template.BodyError(file, 0, 0, err)
	if se.Line == line && col > 1 {
		se.Col += col - 1
	}
	return se
}

func (c *compiler) parseExpr(src string, line, col int) (syntax.Expr, error) {
	src = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(strings.TrimSpace(src))
	e, err := syntax.ParseExpr(c.doc.File, pad(src, line), 0)
	if err != nil {
		return nil, exprError(c.doc.File, line, col, err)
	}
	return e, nil
}

// expr compiles one template expression into a generated function taking
// the page and the locals it reads
func (c *compiler) expr(src string, line, col int, sc *scope, m mode) (*runtime.Expr, error) {
	e, err := c.parseExpr(src, line, col)
	if err != nil {
		return nil, err
	}
	pos, _ := e.Span()

	// a bare method name renders its result
	if id, ok := e.(*syntax.Ident); ok && m == modeTemplate && c.syms.methods[id.Name] && !sc.has(id.Name) {
		e = call(id.NamePos, member(id.NamePos, id.Name))
	}

	r := newRewriter(c.syms, m, sc.identity())
	body := r.expr(e, true)

	c.exprN++
	name := "_expr_" + strconv.Itoa(c.exprN)
	params := append([]string{"self"}, r.used...)
	c.defs = append(c.defs, def(pos, name, params, []syntax.Stmt{
		&syntax.ReturnStmt{Return: pos, Result: body},
	}))
	return &runtime.Expr{
		Fn:        c.prog.Func(name),
		Locals:    r.used,
		Cacheable: len(r.used) == 0 && !r.async,
		Site:      c.site("e"),
		Line:      line,
	}, nil
}

// exprAt compiles the expression of a special attribute
func (c *compiler) exprAt(src string, sp template.Special, sc *scope) (*runtime.Expr, error) {
	line, col := sp.Pos()
	return c.expr(src, line, col, sc, modeTemplate)
}
