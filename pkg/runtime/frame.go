package runtime

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/recera/wirepage/pkg/reactive"
	starlarkjson "go.starlark.net/lib/json"
	"go.starlark.net/starlark"
)

// Locals is an immutable chain of template-local bindings (loop variables,
// then/catch variables, except aliases)
type Locals struct {
	parent *Locals
	name   string
	value  starlark.Value
}

// With returns a chain with name bound to v
func (l *Locals) With(name string, v starlark.Value) *Locals {
	return &Locals{parent: l, name: name, value: v}
}

// Lookup finds the innermost binding of name
func (l *Locals) Lookup(name string) (starlark.Value, bool) {
	for ; l != nil; l = l.parent {
		if l.name == name {
			return l.value, true
		}
	}
	return nil, false
}

// Frame is the state threaded through generated procs while rendering
type Frame struct {
	Page   *Page
	Out    *strings.Builder
	Locals *Locals

	thread *starlark.Thread
	region string
}

// Region returns the id of the region being rendered, or "" at page level
func (f *Frame) Region() string {
	return f.region
}

// Write appends literal markup
func (f *Frame) Write(s string) {
	f.Out.WriteString(s)
}

// With returns a frame with one more local binding
func (f *Frame) With(name string, v starlark.Value) *Frame {
	c := *f
	c.Locals = f.Locals.With(name, v)
	return &c
}

// Sub returns a frame writing to a separate buffer
func (f *Frame) Sub() *Frame {
	c := *f
	c.Out = &strings.Builder{}
	return &c
}

// Eval evaluates a compiled expression in the current scope
func (f *Frame) Eval(e *Expr) (starlark.Value, error) {
	compute := func() (starlark.Value, error) {
		args := make(starlark.Tuple, 0, len(e.Locals)+1)
		args = append(args, f.Page)
		for _, name := range e.Locals {
			v, ok := f.Locals.Lookup(name)
			if !ok {
				return nil, fmt.Errorf("%s:%d: %s is not defined", f.Page.prog.File, e.Line, name)
			}
			args = append(args, v)
		}
		v, err := starlark.Call(f.thread, e.Fn.fn, args, nil)
		if err != nil {
			return nil, err
		}
		if fut, ok := v.(*Future); ok {
			return f.Page.wait(f.thread, fut)
		}
		return v, nil
	}

	if !e.Cacheable {
		return compute()
	}
	return f.Page.s.cached(f.region+"/"+e.Site, compute)
}

// EvalString evaluates e and converts the plain result to text
func (f *Frame) EvalString(e *Expr) (string, error) {
	v, err := f.Eval(e)
	if err != nil {
		return "", err
	}
	v, err = reactive.Unwrap(v)
	if err != nil {
		return "", err
	}
	return ToString(v), nil
}

// EvalBool evaluates e for its truth value
func (f *Frame) EvalBool(e *Expr) (bool, error) {
	v, err := f.Eval(e)
	if err != nil {
		return false, err
	}
	v, err = reactive.Unwrap(v)
	if err != nil {
		return false, err
	}
	return bool(v.Truth()), nil
}

// Interpolate writes the value of e, escaped unless raw is set
func (f *Frame) Interpolate(e *Expr, raw bool) error {
	s, err := f.EvalString(e)
	if err != nil {
		return err
	}
	if raw {
		f.Out.WriteString(s)
	} else {
		f.Out.WriteString(Escape(s))
	}
	return nil
}

// RenderRegion renders proc as the region id, recording its dependencies under
// that id so it can be re-rendered alone
func (f *Frame) RenderRegion(id string, proc Proc) error {
	qid := f.Page.qualify(id)
	s := f.Page.s
	s.regions[qid] = regionProc{page: f.Page, proc: proc, locals: f.Locals}
	return f.Page.renderRegion(f.thread, f.Out, qid, s.regions[qid])
}

// renderRegion runs one region procedure with its own tracking scope
func (p *Page) renderRegion(thread *starlark.Thread, out *strings.Builder, qid string, rp regionProc) error {
	s := p.s
	s.beginRegion(qid)
	rf := &Frame{Page: rp.page, Out: out, Locals: rp.locals, thread: thread, region: qid}
	return s.graph.WithScope(&reactive.Scope{Listener: s, Region: qid}, func() error {
		return rp.proc(rf)
	})
}

// Occurrence returns base for the first use of a site during the current
// render and base_N for the Nth repeated use, such as inside a loop
func (f *Frame) Occurrence(base string) string {
	s := f.Page.s
	key := "site:" + f.region + "/" + base
	n := s.counts[key]
	s.counts[key] = n + 1
	if n == 0 {
		return base
	}
	return base + "_" + strconv.Itoa(n)
}

// LocalJSON encodes a template local for a data-arg attribute
func (f *Frame) LocalJSON(name string) (string, error) {
	v, ok := f.Locals.Lookup(name)
	if !ok {
		return "", fmt.Errorf("%s: %s is not defined", f.Page.prog.File, name)
	}
	v, err := reactive.Unwrap(v)
	if err != nil {
		return "", err
	}
	encode := starlarkjson.Module.Members["encode"]
	out, err := starlark.Call(f.thread, encode, starlark.Tuple{v}, nil)
	if err != nil {
		return "", err
	}
	s, _ := starlark.AsString(out)
	return s, nil
}

// Iterate calls fn for each element of a template loop's iterable
func (f *Frame) Iterate(v starlark.Value, fn func(x starlark.Value) error) error {
	if _, ok := v.(starlark.Iterable); !ok {
		var err error
		if v, err = reactive.Unwrap(v); err != nil {
			return err
		}
	}
	iterable, ok := v.(starlark.Iterable)
	if !ok {
		return fmt.Errorf("%s: cannot iterate over %s", f.Page.prog.File, v.Type())
	}
	it := iterable.Iterate()
	defer it.Done()
	var x starlark.Value
	for it.Next(&x) {
		if err := fn(x); err != nil {
			return err
		}
	}
	return nil
}
