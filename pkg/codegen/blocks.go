package codegen

import (
	"fmt"
	"strconv"

	"github.com/recera/wirepage/pkg/reactive"
	"github.com/recera/wirepage/pkg/runtime"
	"github.com/recera/wirepage/pkg/template"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// arm is one branch of a conditional; cond is empty for else
type arm struct {
	cond  string
	sp    template.Special
	nodes []*template.Node
}

// section is the run of children following a branch marker such as
// {$else} or {$except}
type section struct {
	marker template.Special
	nodes  []*template.Node
}

func isMarker(n *template.Node) bool {
	if n.Tag != "" || n.HasText || len(n.Special) != 1 {
		return false
	}
	switch n.Special[0].(type) {
	case *template.Elif, *template.Else, *template.Except, *template.Finally, *template.Then, *template.Catch:
		return true
	}
	return false
}

// splitBranches splits a block's children at its branch markers
func splitBranches(children []*template.Node) ([]*template.Node, []section) {
	var head []*template.Node
	var sections []section
	for _, ch := range children {
		if isMarker(ch) {
			sections = append(sections, section{marker: ch.Special[0]})
			continue
		}
		if len(sections) == 0 {
			head = append(head, ch)
		} else {
			last := &sections[len(sections)-1]
			last.nodes = append(last.nodes, ch)
		}
	}
	return head, sections
}

type branch struct {
	cond *runtime.Expr
	proc runtime.Proc
}

func (c *compiler) conditional(e *emitter, arms []arm, sc *scope) error {
	branches := make([]branch, 0, len(arms))
	for _, a := range arms {
		var b branch
		if a.cond != "" {
			ex, err := c.exprAt(a.cond, a.sp, sc)
			if err != nil {
				return err
			}
			b.cond = ex
		}
		proc, err := c.lower(a.nodes, sc)
		if err != nil {
			return err
		}
		b.proc = proc
		branches = append(branches, b)
	}
	e.op(func(f *runtime.Frame) error {
		for _, b := range branches {
			if b.cond != nil {
				ok, err := f.EvalBool(b.cond)
				if err != nil {
					return err
				}
				if !ok {
					continue
				}
			}
			return b.proc(f)
		}
		return nil
	})
	return nil
}

// ifBlock lowers {$if}...{$elif}...{$else}...{/if}
func (c *compiler) ifBlock(e *emitter, n *template.Node, x *template.If, sc *scope) error {
	head, sections := splitBranches(n.Children)
	arms := []arm{{cond: x.Cond, sp: x, nodes: head}}
	for _, s := range sections {
		switch m := s.marker.(type) {
		case *template.Elif:
			arms = append(arms, arm{cond: m.Cond, sp: m, nodes: s.nodes})
		case *template.Else:
			arms = append(arms, arm{sp: m, nodes: s.nodes})
		}
	}
	return c.conditional(e, arms, sc)
}

// keyed gives every root element of a loop body the loop's key
func keyed(nodes []*template.Node, f *template.For) []*template.Node {
	out := make([]*template.Node, len(nodes))
	for i, n := range nodes {
		if n.Tag == "" {
			out[i] = n
			continue
		}
		cp := *n
		cp.Special = append(append([]template.Special(nil), n.Special...), &template.Key{Position: f.Position, Expr: f.Key})
		out[i] = &cp
	}
	return out
}

// loop lowers a for block. The else branch renders when the iterable is
// empty.
func (c *compiler) loop(e *emitter, x *template.For, body, elseNodes []*template.Node, hasElse bool, sc *scope) error {
	line, col := x.Pos()
	iter, err := c.expr(x.Iterable, line, col, sc, modeTemplate)
	if err != nil {
		return err
	}
	vars, err := c.parseExpr(x.Vars, line, col)
	if err != nil {
		return err
	}
	bind, err := c.binder(vars)
	if err != nil {
		return err
	}
	var names []string
	targetNames(vars, func(name string) { names = append(names, name) })

	if x.Key != "" {
		body = keyed(body, x)
	}
	bodyProc, err := c.lower(body, sc.with(names...))
	if err != nil {
		return err
	}
	var elseProc runtime.Proc
	if hasElse {
		if elseProc, err = c.lower(elseNodes, sc); err != nil {
			return err
		}
	}

	e.op(func(f *runtime.Frame) error {
		v, err := f.Eval(iter)
		if err != nil {
			return err
		}
		empty := true
		err = f.Iterate(v, func(item starlark.Value) error {
			empty = false
			lf, err := bind(f, item)
			if err != nil {
				return err
			}
			return bodyProc(lf)
		})
		if err != nil {
			return err
		}
		if empty && elseProc != nil {
			return elseProc(f)
		}
		return nil
	})
	return nil
}

// bindFunc binds one loop item to the loop variables
type bindFunc func(f *runtime.Frame, v starlark.Value) (*runtime.Frame, error)

func (c *compiler) binder(target syntax.Expr) (bindFunc, error) {
	switch x := target.(type) {
	case *syntax.Ident:
		name := x.Name
		return func(f *runtime.Frame, v starlark.Value) (*runtime.Frame, error) {
			return f.With(name, v), nil
		}, nil
	case *syntax.ParenExpr:
		return c.binder(x.X)
	case *syntax.TupleExpr:
		return c.unpacker(x.List)
	case *syntax.ListExpr:
		return c.unpacker(x.List)
	}
	start, _ := target.Span()
	return nil, &template.SyntaxError{
		File: c.doc.File,
		Line: int(start.Line),
		Col:  int(start.Col),
		Msg:  "loop variables must be names",
		Kind: template.ErrStructure,
	}
}

func (c *compiler) unpacker(list []syntax.Expr) (bindFunc, error) {
	parts := make([]bindFunc, len(list))
	for i, el := range list {
		b, err := c.binder(el)
		if err != nil {
			return nil, err
		}
		parts[i] = b
	}
	return func(f *runtime.Frame, v starlark.Value) (*runtime.Frame, error) {
		items, err := unpack(v, len(parts))
		if err != nil {
			return nil, err
		}
		for i, b := range parts {
			if f, err = b(f, items[i]); err != nil {
				return nil, err
			}
		}
		return f, nil
	}, nil
}

func unpack(v starlark.Value, n int) ([]starlark.Value, error) {
	v, err := reactive.Unwrap(v)
	if err != nil {
		return nil, err
	}
	iterable, ok := v.(starlark.Iterable)
	if !ok {
		return nil, fmt.Errorf("got %s in sequence assignment", v.Type())
	}
	items := make([]starlark.Value, 0, n)
	it := iterable.Iterate()
	defer it.Done()
	var x starlark.Value
	for it.Next(&x) {
		items = append(items, x)
	}
	if len(items) != n {
		return nil, fmt.Errorf("cannot unpack %d values into %d variables", len(items), n)
	}
	return items, nil
}

type exceptArm struct {
	typ   string
	alias string
	proc  runtime.Proc
}

// tryBlock lowers {$try}...{$except}...{$else}...{$finally}...{/try}. The
// body renders into its own buffer so a failure discards its partial
// output.
func (c *compiler) tryBlock(e *emitter, n *template.Node, sc *scope) error {
	sc = sc.noRegions()
	head, sections := splitBranches(n.Children)
	body, err := c.lower(head, sc)
	if err != nil {
		return err
	}
	var excepts []exceptArm
	var elseProc, finallyProc runtime.Proc
	for _, s := range sections {
		switch m := s.marker.(type) {
		case *template.Except:
			inner := sc
			if m.Alias != "" {
				inner = sc.with(m.Alias)
			}
			proc, err := c.lower(s.nodes, inner)
			if err != nil {
				return err
			}
			excepts = append(excepts, exceptArm{typ: m.Type, alias: m.Alias, proc: proc})
		case *template.Else:
			if elseProc, err = c.lower(s.nodes, sc); err != nil {
				return err
			}
		case *template.Finally:
			if finallyProc, err = c.lower(s.nodes, sc); err != nil {
				return err
			}
		}
	}

	e.op(func(f *runtime.Frame) error {
		sub := f.Sub()
		err := body(sub)
		if err == nil {
			f.Write(sub.Out.String())
			if elseProc != nil {
				err = elseProc(f)
			}
		} else {
			for _, ex := range excepts {
				if !runtime.ErrorMatches(err, ex.typ) {
					continue
				}
				hf := f
				if ex.alias != "" {
					hf = f.With(ex.alias, starlark.String(runtime.ErrorMessage(err)))
				}
				err = ex.proc(hf)
				break
			}
		}
		if finallyProc != nil {
			if ferr := finallyProc(f); ferr != nil && err == nil {
				err = ferr
			}
		}
		return err
	})
	return nil
}

// awaitBlock lowers {$await expr}...{$then v}...{$catch e}...{/await}. The
// block is its own region: it renders the pending branch first and is
// re-rendered once the background evaluation settles.
func (c *compiler) awaitBlock(e *emitter, n *template.Node, x *template.Await, sc *scope) error {
	line, col := x.Pos()
	ex, err := c.expr(x.Expr, line, col, sc, modeTemplate)
	if err != nil {
		return err
	}
	ex.Cacheable = false

	inner := sc.noRegions()
	head, sections := splitBranches(n.Children)
	pending, err := c.lower(head, inner)
	if err != nil {
		return err
	}
	var thenProc, catchProc runtime.Proc
	var thenVar, catchVar string
	for _, s := range sections {
		switch m := s.marker.(type) {
		case *template.Then:
			thenVar = m.Var
			if thenProc, err = c.lower(s.nodes, inner.with(nonEmpty(m.Var)...)); err != nil {
				return err
			}
		case *template.Catch:
			catchVar = m.Var
			if catchProc, err = c.lower(s.nodes, inner.with(nonEmpty(m.Var)...)); err != nil {
				return err
			}
		}
	}

	settled := func(f *runtime.Frame, proc runtime.Proc, name string, v starlark.Value) error {
		if proc == nil {
			return nil
		}
		if name != "" {
			f = f.With(name, v)
		}
		return proc(f)
	}
	region := func(f *runtime.Frame) error {
		f.Write(`<div data-wire-region="` + runtime.Escape(f.Region()) + `" style="display: contents;">`)
		state, v := f.AwaitState()
		var err error
		switch state {
		case runtime.AwaitSuccess:
			err = settled(f, thenProc, thenVar, v)
		case runtime.AwaitError:
			err = settled(f, catchProc, catchVar, v)
		default:
			err = pending(f)
		}
		if err != nil {
			return err
		}
		f.Write("</div>")
		return nil
	}

	id := c.prog.UnitID + "await_" + strconv.Itoa(line) + "_" + strconv.Itoa(col)
	e.op(func(f *runtime.Frame) error {
		rid := f.Occurrence(id)
		f.StartAwait(rid, ex)
		return f.RenderRegion(rid, region)
	})
	return nil
}

func nonEmpty(names ...string) []string {
	var out []string
	for _, n := range names {
		if n != "" {
			out = append(out, n)
		}
	}
	return out
}
