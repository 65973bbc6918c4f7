package reactive

import (
	"fmt"

	"go.starlark.net/starlark"
)

// Builtins returns the predeclared reactive functions: wire, derived,
// effect, unwrap, batch and untracked. They find their graph through the
// calling thread (see ThreadLocalGraph).
func Builtins() starlark.StringDict {
	return starlark.StringDict{
		"wire":      starlark.NewBuiltin("wire", wireBuiltin),
		"derived":   starlark.NewBuiltin("derived", derivedBuiltin),
		"effect":    starlark.NewBuiltin("effect", effectBuiltin),
		"unwrap":    starlark.NewBuiltin("unwrap", unwrapBuiltin),
		"batch":     starlark.NewBuiltin("batch", batchBuiltin),
		"untracked": starlark.NewBuiltin("untracked", untrackedBuiltin),
	}
}

func graphOf(thread *starlark.Thread, fn string) (*Graph, error) {
	g := GraphFromThread(thread)
	if g == nil {
		return nil, fmt.Errorf("%s: no reactive graph on thread %q", fn, thread.Name)
	}
	return g, nil
}

// wire(value=None, **fields)
func wireBuiltin(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	g, err := graphOf(thread, b.Name())
	if err != nil {
		return nil, err
	}
	if len(args) > 1 {
		return nil, errArity(b.Name(), 1, len(args))
	}
	if len(kwargs) > 0 {
		if len(args) > 0 {
			return nil, fmt.Errorf("%s: cannot mix a positional value with fields", b.Name())
		}
		return NewNamespace(g, kwargs), nil
	}
	if len(args) == 0 {
		return NewWire(g, starlark.None), nil
	}
	v := args[0]
	if r, ok := v.(Reactive); ok {
		v = r.Peek()
	}
	return New(g, v), nil
}

func derivedBuiltin(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var fn starlark.Callable
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &fn); err != nil {
		return nil, err
	}
	g, err := graphOf(thread, b.Name())
	if err != nil {
		return nil, err
	}
	name := fn.Name()
	return NewDerived(g, name, func() (starlark.Value, error) {
		return starlark.Call(g.NewThread("derived:"+name), fn, nil, nil)
	}), nil
}

func effectBuiltin(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var fn starlark.Callable
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &fn); err != nil {
		return nil, err
	}
	g, err := graphOf(thread, b.Name())
	if err != nil {
		return nil, err
	}
	name := fn.Name()
	e, err := NewEffect(g, name, func() error {
		_, err := starlark.Call(g.NewThread("effect:"+name), fn, nil, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

func unwrapBuiltin(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var v starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &v); err != nil {
		return nil, err
	}
	return Unwrap(v)
}

func batchBuiltin(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var fn starlark.Callable
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &fn); err != nil {
		return nil, err
	}
	g, err := graphOf(thread, b.Name())
	if err != nil {
		return nil, err
	}
	var result starlark.Value = starlark.None
	err = g.Batch(func() error {
		v, err := starlark.Call(thread, fn, nil, nil)
		if err == nil {
			result = v
		}
		return err
	})
	return result, err
}

func untrackedBuiltin(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var fn starlark.Callable
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &fn); err != nil {
		return nil, err
	}
	g, err := graphOf(thread, b.Name())
	if err != nil {
		return nil, err
	}
	var result starlark.Value = starlark.None
	err = g.Untracked(func() error {
		v, err := starlark.Call(thread, fn, nil, nil)
		if err == nil {
			result = v
		}
		return err
	})
	return result, err
}
