package reactive

import (
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// WireDict is a reactive proxy for a dict.
type WireDict struct {
	node
	d *starlark.Dict
}

var (
	_ Reactive                 = (*WireDict)(nil)
	_ starlark.IterableMapping = (*WireDict)(nil)
	_ starlark.HasSetKey       = (*WireDict)(nil)
	_ starlark.HasAttrs        = (*WireDict)(nil)
	_ starlark.HasBinary       = (*WireDict)(nil)
	_ starlark.Sequence        = (*WireDict)(nil)
)

// NewDict creates a dict proxy owning a copy of src (src may be nil).
func NewDict(g *Graph, src *starlark.Dict) *WireDict {
	d := starlark.NewDict(0)
	if src != nil {
		for _, kv := range src.Items() {
			_ = d.SetKey(kv[0], kv[1])
		}
	}
	return &WireDict{node: newNode(g), d: d}
}

func (w *WireDict) String() string { return w.d.String() }
func (w *WireDict) Type() string   { return "wire_dict" }
func (w *WireDict) Freeze()        { w.frozen = true }

func (w *WireDict) Truth() starlark.Bool {
	w.trackRead("value")
	return w.d.Len() > 0
}

func (w *WireDict) Hash() (uint32, error) { return uint32(w.id), nil }

func (w *WireDict) Len() int {
	w.trackRead("value")
	return w.d.Len()
}

// Get looks up k. Nested mutable values are replaced in place by proxies.
func (w *WireDict) Get(k starlark.Value) (starlark.Value, bool, error) {
	w.trackRead("value")
	v, found, err := w.d.Get(k)
	if err != nil || !found {
		return v, found, err
	}
	if p, ok := proxy(w.g, v, &w.node, ""); ok {
		if err := w.d.SetKey(k, p); err != nil {
			return nil, false, err
		}
		return p, true, nil
	}
	return v, true, nil
}

func (w *WireDict) SetKey(k, v starlark.Value) error {
	if err := w.checkWrite("wire_dict"); err != nil {
		return err
	}
	if old, found, _ := w.d.Get(k); found {
		if eq, err := starlark.Equal(old, v); err == nil && eq {
			return nil
		}
	}
	if err := w.d.SetKey(k, v); err != nil {
		return err
	}
	return w.notifyWrite("value")
}

// Delete removes k.
func (w *WireDict) Delete(k starlark.Value) (starlark.Value, bool, error) {
	if err := w.checkWrite("wire_dict"); err != nil {
		return nil, false, err
	}
	v, found, err := w.d.Delete(k)
	if err != nil || !found {
		return v, found, err
	}
	return v, true, w.notifyWrite("value")
}

func (w *WireDict) Iterate() starlark.Iterator {
	w.trackRead("value")
	return &sliceIterator{items: w.d.Keys()}
}

func (w *WireDict) Items() []starlark.Tuple {
	w.trackRead("value")
	return w.d.Items()
}

// Peek returns a plain dict copy without tracking.
func (w *WireDict) Peek() starlark.Value {
	d := starlark.NewDict(w.d.Len())
	for _, kv := range w.d.Items() {
		_ = d.SetKey(kv[0], kv[1])
	}
	return d
}

// Set replaces the contents with the items of the dict v.
func (w *WireDict) Set(v starlark.Value) error {
	if err := w.checkWrite("wire_dict"); err != nil {
		return err
	}
	if r, ok := v.(Reactive); ok {
		v = r.Peek()
	}
	src, ok := v.(starlark.IterableMapping)
	if !ok {
		return errUnhashable(v.Type())
	}
	d := starlark.NewDict(0)
	for _, kv := range src.Items() {
		if err := d.SetKey(kv[0], kv[1]); err != nil {
			return err
		}
	}
	w.d = d
	return w.notifyWrite("value")
}

// Update merges the items of a mapping or iterable of pairs plus kwargs.
func (w *WireDict) Update(args starlark.Tuple, kwargs []starlark.Tuple) error {
	if err := w.checkWrite("wire_dict"); err != nil {
		return err
	}
	if len(args) > 0 {
		src := args[0]
		if r, ok := src.(Reactive); ok {
			src = r.Peek()
		}
		switch s := src.(type) {
		case starlark.IterableMapping:
			for _, kv := range s.Items() {
				if err := w.d.SetKey(kv[0], kv[1]); err != nil {
					return err
				}
			}
		default:
			pairs, err := iterValues(src)
			if err != nil {
				return err
			}
			for _, p := range pairs {
				kv, err := iterValues(p)
				if err != nil || len(kv) != 2 {
					return errUnhashable(p.Type())
				}
				if err := w.d.SetKey(kv[0], kv[1]); err != nil {
					return err
				}
			}
		}
	}
	for _, kv := range kwargs {
		if err := w.d.SetKey(kv[0], kv[1]); err != nil {
			return err
		}
	}
	return w.notifyWrite("value")
}

// Clear removes every entry.
func (w *WireDict) Clear() error {
	if err := w.checkWrite("wire_dict"); err != nil {
		return err
	}
	w.d = starlark.NewDict(0)
	return w.notifyWrite("value")
}

func (w *WireDict) Binary(op syntax.Token, y starlark.Value, side starlark.Side) (starlark.Value, error) {
	if op == syntax.IN && side == starlark.Right {
		w.trackRead("value")
		_, found, err := w.d.Get(y)
		if err != nil {
			return nil, err
		}
		return starlark.Bool(found), nil
	}
	return delegateBinary(op, w.Peek(), y, side)
}

func (w *WireDict) Attr(name string) (starlark.Value, error) {
	switch name {
	case "value":
		w.trackRead("value")
		return w, nil
	case "peek":
		return peekMethod(w), nil
	case "freeze":
		return freezeMethod(w), nil
	}
	return methodAttr(w, name, dictMethods)
}

func (w *WireDict) AttrNames() []string {
	return append(methodNames(dictMethods), "freeze", "peek", "value")
}

var dictMethods = map[string]*starlark.Builtin{
	"clear":      starlark.NewBuiltin("clear", dictClear),
	"get":        starlark.NewBuiltin("get", dictGet),
	"items":      starlark.NewBuiltin("items", dictItems),
	"keys":       starlark.NewBuiltin("keys", dictKeys),
	"pop":        starlark.NewBuiltin("pop", dictPop),
	"popitem":    starlark.NewBuiltin("popitem", dictPopitem),
	"setdefault": starlark.NewBuiltin("setdefault", dictSetdefault),
	"update":     starlark.NewBuiltin("update", dictUpdate),
	"values":     starlark.NewBuiltin("values", dictValues),
}

func dictClear(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	return starlark.None, b.Receiver().(*WireDict).Clear()
}

func dictGet(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key starlark.Value
	var dflt starlark.Value = starlark.None
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &key, &dflt); err != nil {
		return nil, err
	}
	v, found, err := b.Receiver().(*WireDict).Get(key)
	if err != nil {
		return nil, err
	}
	if !found {
		return dflt, nil
	}
	return v, nil
}

func dictItems(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	items := b.Receiver().(*WireDict).Items()
	out := make([]starlark.Value, len(items))
	for i, kv := range items {
		out[i] = kv
	}
	return starlark.NewList(out), nil
}

func dictKeys(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	w := b.Receiver().(*WireDict)
	w.trackRead("value")
	return starlark.NewList(w.d.Keys()), nil
}

func dictValues(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	items := b.Receiver().(*WireDict).Items()
	out := make([]starlark.Value, len(items))
	for i, kv := range items {
		out[i] = kv[1]
	}
	return starlark.NewList(out), nil
}

func dictPop(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key starlark.Value
	var dflt starlark.Value = starlark.None
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &key, &dflt); err != nil {
		return nil, err
	}
	w := b.Receiver().(*WireDict)
	v, found, err := w.Delete(key)
	if err != nil {
		return nil, err
	}
	if !found {
		// absent keys still notify
		return dflt, w.notifyWrite("value")
	}
	return v, nil
}

func dictPopitem(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	w := b.Receiver().(*WireDict)
	keys := w.d.Keys()
	if len(keys) == 0 {
		return nil, errEmpty("popitem", "dictionary")
	}
	k := keys[len(keys)-1]
	v, _, err := w.Delete(k)
	if err != nil {
		return nil, err
	}
	return starlark.Tuple{k, v}, nil
}

func dictSetdefault(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key starlark.Value
	var dflt starlark.Value = starlark.None
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &key, &dflt); err != nil {
		return nil, err
	}
	w := b.Receiver().(*WireDict)
	if v, found, err := w.Get(key); err != nil {
		return nil, err
	} else if found {
		return v, nil
	}
	if err := w.checkWrite("wire_dict"); err != nil {
		return nil, err
	}
	if err := w.d.SetKey(key, dflt); err != nil {
		return nil, err
	}
	return dflt, w.notifyWrite("value")
}

func dictUpdate(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(args) > 1 {
		return nil, errArity(b.Name(), 1, len(args))
	}
	return starlark.None, b.Receiver().(*WireDict).Update(args, kwargs)
}
