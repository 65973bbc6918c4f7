package reactive

import (
	"go.starlark.net/starlark"
)

// Unwrap converts reactive values into plain ones, tracking every read.
// Containers are rebuilt only when they hold reactive elements.
func Unwrap(v starlark.Value) (starlark.Value, error) {
	u, _, err := unwrap(v)
	return u, err
}

func unwrap(v starlark.Value) (starlark.Value, bool, error) {
	switch x := v.(type) {
	case nil:
		return starlark.None, false, nil
	case *Derived:
		inner, err := x.Value()
		if err != nil {
			return nil, false, err
		}
		u, _, err := unwrap(inner)
		return u, true, err
	case Reactive:
		u, _, err := unwrap(trackedValue(x))
		return u, true, err
	case *starlark.List:
		items, changed, err := unwrapAll(listItems(x))
		if err != nil || !changed {
			return x, false, err
		}
		return starlark.NewList(items), true, nil
	case starlark.Tuple:
		items, changed, err := unwrapAll(x)
		if err != nil || !changed {
			return x, false, err
		}
		return starlark.Tuple(items), true, nil
	case *starlark.Dict:
		items := x.Items()
		values := make([]starlark.Value, len(items))
		for i, kv := range items {
			values[i] = kv[1]
		}
		values, changed, err := unwrapAll(values)
		if err != nil || !changed {
			return x, false, err
		}
		d := starlark.NewDict(len(items))
		for i, kv := range items {
			if err := d.SetKey(kv[0], values[i]); err != nil {
				return nil, false, err
			}
		}
		return d, true, nil
	}
	return v, false, nil
}

func unwrapAll(in []starlark.Value) ([]starlark.Value, bool, error) {
	out := make([]starlark.Value, len(in))
	changed := false
	for i, v := range in {
		u, c, err := unwrap(v)
		if err != nil {
			return nil, false, err
		}
		changed = changed || c
		out[i] = u
	}
	return out, changed, nil
}

// IsReactive reports whether v is a wire, a proxy or a derived.
func IsReactive(v starlark.Value) bool {
	switch v.(type) {
	case Reactive, *Derived:
		return true
	}
	return false
}
