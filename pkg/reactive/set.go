package reactive

import (
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// WireSet is a reactive proxy for a set.
type WireSet struct {
	node
	s *starlark.Set
}

var (
	_ Reactive           = (*WireSet)(nil)
	_ starlark.Iterable  = (*WireSet)(nil)
	_ starlark.Sequence  = (*WireSet)(nil)
	_ starlark.HasAttrs  = (*WireSet)(nil)
	_ starlark.HasBinary = (*WireSet)(nil)
)

// NewSet creates a set proxy owning a copy of src (src may be nil).
func NewSet(g *Graph, src *starlark.Set) *WireSet {
	s := new(starlark.Set)
	if src != nil {
		copySet(s, src)
	}
	return &WireSet{node: newNode(g), s: s}
}

func copySet(dst, src *starlark.Set) {
	it := src.Iterate()
	defer it.Done()
	var x starlark.Value
	for it.Next(&x) {
		_ = dst.Insert(x)
	}
}

func (w *WireSet) String() string { return w.s.String() }
func (w *WireSet) Type() string   { return "wire_set" }
func (w *WireSet) Freeze()        { w.frozen = true }

func (w *WireSet) Truth() starlark.Bool {
	w.trackRead("value")
	return w.s.Len() > 0
}

func (w *WireSet) Hash() (uint32, error) { return uint32(w.id), nil }

func (w *WireSet) Len() int {
	w.trackRead("value")
	return w.s.Len()
}

func (w *WireSet) Iterate() starlark.Iterator {
	w.trackRead("value")
	var items []starlark.Value
	it := w.s.Iterate()
	defer it.Done()
	var x starlark.Value
	for it.Next(&x) {
		items = append(items, x)
	}
	return &sliceIterator{items: items}
}

// Has reports membership, tracking the read.
func (w *WireSet) Has(x starlark.Value) (bool, error) {
	w.trackRead("value")
	return w.s.Has(x)
}

// Peek returns a plain set copy without tracking.
func (w *WireSet) Peek() starlark.Value {
	s := new(starlark.Set)
	copySet(s, w.s)
	return s
}

// Set replaces the contents with the elements of v.
func (w *WireSet) Set(v starlark.Value) error {
	if err := w.checkWrite("wire_set"); err != nil {
		return err
	}
	items, err := iterValues(v)
	if err != nil {
		return err
	}
	s := new(starlark.Set)
	for _, x := range items {
		if err := s.Insert(x); err != nil {
			return err
		}
	}
	w.s = s
	return w.notifyWrite("value")
}

// Add inserts x; adding a present element is a no-op.
func (w *WireSet) Add(x starlark.Value) error {
	if err := w.checkWrite("wire_set"); err != nil {
		return err
	}
	if found, err := w.s.Has(x); err != nil {
		return err
	} else if found {
		return nil
	}
	if err := w.s.Insert(x); err != nil {
		return err
	}
	return w.notifyWrite("value")
}

// Discard removes x if present.
func (w *WireSet) Discard(x starlark.Value) error {
	if err := w.checkWrite("wire_set"); err != nil {
		return err
	}
	found, err := w.s.Delete(x)
	if err != nil || !found {
		return err
	}
	return w.notifyWrite("value")
}

// Remove removes x and fails when it is absent.
func (w *WireSet) Remove(x starlark.Value) error {
	if err := w.checkWrite("wire_set"); err != nil {
		return err
	}
	found, err := w.s.Delete(x)
	if err != nil {
		return err
	}
	if !found {
		return errEmpty("remove", "set: missing key "+x.String())
	}
	return w.notifyWrite("value")
}

// Clear removes every element.
func (w *WireSet) Clear() error {
	if err := w.checkWrite("wire_set"); err != nil {
		return err
	}
	w.s = new(starlark.Set)
	return w.notifyWrite("value")
}

// replace swaps in a recomputed set and notifies.
func (w *WireSet) replace(keep func(x starlark.Value) (bool, error), extra []starlark.Value) error {
	if err := w.checkWrite("wire_set"); err != nil {
		return err
	}
	s := new(starlark.Set)
	it := w.s.Iterate()
	defer it.Done()
	var x starlark.Value
	for it.Next(&x) {
		ok, err := keep(x)
		if err != nil {
			return err
		}
		if ok {
			_ = s.Insert(x)
		}
	}
	for _, e := range extra {
		if err := s.Insert(e); err != nil {
			return err
		}
	}
	w.s = s
	return w.notifyWrite("value")
}

func setOf(iterables starlark.Tuple) (*starlark.Set, error) {
	s := new(starlark.Set)
	for _, it := range iterables {
		items, err := iterValues(it)
		if err != nil {
			return nil, err
		}
		for _, x := range items {
			if err := s.Insert(x); err != nil {
				return nil, err
			}
		}
	}
	return s, nil
}

func (w *WireSet) Binary(op syntax.Token, y starlark.Value, side starlark.Side) (starlark.Value, error) {
	if op == syntax.IN && side == starlark.Right {
		found, err := w.Has(y)
		if err != nil {
			return nil, err
		}
		return starlark.Bool(found), nil
	}
	w.trackRead("value")
	return delegateBinary(op, w.Peek(), y, side)
}

func (w *WireSet) Attr(name string) (starlark.Value, error) {
	switch name {
	case "value":
		w.trackRead("value")
		return w, nil
	case "peek":
		return peekMethod(w), nil
	case "freeze":
		return freezeMethod(w), nil
	}
	return methodAttr(w, name, setMethods)
}

func (w *WireSet) AttrNames() []string {
	return append(methodNames(setMethods), "freeze", "peek", "value")
}

var setMethods = map[string]*starlark.Builtin{
	"add":                         starlark.NewBuiltin("add", setAdd),
	"clear":                       starlark.NewBuiltin("clear", setClear),
	"difference_update":           starlark.NewBuiltin("difference_update", setDifferenceUpdate),
	"discard":                     starlark.NewBuiltin("discard", setDiscard),
	"intersection_update":         starlark.NewBuiltin("intersection_update", setIntersectionUpdate),
	"pop":                         starlark.NewBuiltin("pop", setPop),
	"remove":                      starlark.NewBuiltin("remove", setRemove),
	"symmetric_difference_update": starlark.NewBuiltin("symmetric_difference_update", setSymmetricDifferenceUpdate),
	"update":                      starlark.NewBuiltin("update", setUpdate),
}

func setAdd(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &x); err != nil {
		return nil, err
	}
	return starlark.None, b.Receiver().(*WireSet).Add(x)
}

func setClear(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	return starlark.None, b.Receiver().(*WireSet).Clear()
}

func setDiscard(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &x); err != nil {
		return nil, err
	}
	return starlark.None, b.Receiver().(*WireSet).Discard(x)
}

func setRemove(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &x); err != nil {
		return nil, err
	}
	return starlark.None, b.Receiver().(*WireSet).Remove(x)
}

func setPop(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	w := b.Receiver().(*WireSet)
	it := w.s.Iterate()
	var x starlark.Value
	ok := it.Next(&x)
	it.Done()
	if !ok {
		return nil, errEmpty("pop", "set")
	}
	return x, w.Discard(x)
}

func setUpdate(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(kwargs) > 0 {
		return nil, errArity(b.Name(), 0, len(kwargs))
	}
	extra, err := iterValuesAll(args)
	if err != nil {
		return nil, err
	}
	w := b.Receiver().(*WireSet)
	return starlark.None, w.replace(func(starlark.Value) (bool, error) { return true, nil }, extra)
}

func setIntersectionUpdate(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	sets := make([]*starlark.Set, len(args))
	for i, arg := range args {
		s, err := setOf(starlark.Tuple{arg})
		if err != nil {
			return nil, err
		}
		sets[i] = s
	}
	w := b.Receiver().(*WireSet)
	return starlark.None, w.replace(func(x starlark.Value) (bool, error) {
		for _, s := range sets {
			if found, err := s.Has(x); err != nil || !found {
				return false, err
			}
		}
		return true, nil
	}, nil)
}

func setDifferenceUpdate(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	others, err := setOf(args)
	if err != nil {
		return nil, err
	}
	w := b.Receiver().(*WireSet)
	return starlark.None, w.replace(func(x starlark.Value) (bool, error) {
		found, err := others.Has(x)
		return !found, err
	}, nil)
}

func setSymmetricDifferenceUpdate(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var other starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &other); err != nil {
		return nil, err
	}
	others, err := setOf(starlark.Tuple{other})
	if err != nil {
		return nil, err
	}
	w := b.Receiver().(*WireSet)
	var extra []starlark.Value
	it := others.Iterate()
	var x starlark.Value
	for it.Next(&x) {
		if found, _ := w.s.Has(x); !found {
			extra = append(extra, x)
		}
	}
	it.Done()
	return starlark.None, w.replace(func(x starlark.Value) (bool, error) {
		found, err := others.Has(x)
		return !found, err
	}, extra)
}

func iterValuesAll(args starlark.Tuple) ([]starlark.Value, error) {
	var all []starlark.Value
	for _, a := range args {
		items, err := iterValues(a)
		if err != nil {
			return nil, err
		}
		all = append(all, items...)
	}
	return all, nil
}
