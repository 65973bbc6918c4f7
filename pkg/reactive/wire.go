package reactive

import (
	"fmt"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// Reactive is implemented by every wire and proxy container.
type Reactive interface {
	starlark.Value
	ID() uint64
	// Peek returns the plain value without tracking the read.
	Peek() starlark.Value
	// Set replaces the whole value.
	Set(v starlark.Value) error
}

// Wire holds a single immutable value (int, string, bool, tuple, ...).
type Wire struct {
	node
	value starlark.Value
}

var (
	_ Reactive            = (*Wire)(nil)
	_ starlark.HasAttrs    = (*Wire)(nil)
	_ starlark.HasSetField = (*Wire)(nil)
	_ starlark.HasBinary   = (*Wire)(nil)
	_ starlark.Comparable  = (*Wire)(nil)
)

// NewWire creates a primitive wire on g.
func NewWire(g *Graph, v starlark.Value) *Wire {
	if v == nil {
		v = starlark.None
	}
	return &Wire{node: newNode(g), value: v}
}

// Get returns the value and tracks the read.
func (w *Wire) Get() starlark.Value {
	w.trackRead("value")
	return w.value
}

// Peek returns the value without tracking.
func (w *Wire) Peek() starlark.Value {
	return w.value
}

// Set writes a new value. Writing an equal value is a no-op.
func (w *Wire) Set(v starlark.Value) error {
	if err := w.checkWrite("wire"); err != nil {
		return err
	}
	if v == nil {
		v = starlark.None
	}
	if eq, err := starlark.Equal(w.value, v); err == nil && eq {
		return nil
	}
	w.value = v
	return w.notifyWrite("value")
}

func (w *Wire) String() string { return w.value.String() }
func (w *Wire) Type() string   { return "wire" }
func (w *Wire) Freeze()        { w.frozen = true }

func (w *Wire) Truth() starlark.Bool {
	return w.Get().Truth()
}

func (w *Wire) Hash() (uint32, error) { return uint32(w.id), nil }

func (w *Wire) Attr(name string) (starlark.Value, error) {
	switch name {
	case "value":
		return w.Get(), nil
	case "peek":
		return peekMethod(w), nil
	case "freeze":
		return freezeMethod(w), nil
	}
	return nil, nil
}

func (w *Wire) AttrNames() []string { return []string{"freeze", "peek", "value"} }

func (w *Wire) SetField(name string, v starlark.Value) error {
	if name != "value" {
		return starlark.NoSuchAttrError(fmt.Sprintf("wire has no field %q", name))
	}
	return w.Set(v)
}

func (w *Wire) Binary(op syntax.Token, y starlark.Value, side starlark.Side) (starlark.Value, error) {
	return delegateBinary(op, w.Get(), y, side)
}

// CompareSameType compares two wires by their current values.
func (w *Wire) CompareSameType(op syntax.Token, y starlark.Value, depth int) (bool, error) {
	other := y.(*Wire)
	if op == syntax.EQL && w == other {
		return true, nil
	}
	return starlark.CompareDepth(op, w.Get(), other.Get(), depth)
}

// delegateBinary evaluates a binary operator against the plain value held by
// a reactive operand.
func delegateBinary(op syntax.Token, x, y starlark.Value, side starlark.Side) (starlark.Value, error) {
	if r, ok := y.(Reactive); ok {
		y = trackedValue(r)
	} else if d, ok := y.(*Derived); ok {
		v, err := d.Value()
		if err != nil {
			return nil, err
		}
		y = v
	}
	if side == starlark.Left {
		return starlark.Binary(op, x, y)
	}
	return starlark.Binary(op, y, x)
}

// trackedValue reads r as a plain value, tracking the read.
func trackedValue(r Reactive) starlark.Value {
	if w, ok := r.(*Wire); ok {
		return w.Get()
	}
	switch c := r.(type) {
	case *WireList:
		c.trackRead("value")
	case *WireDict:
		c.trackRead("value")
	case *WireSet:
		c.trackRead("value")
	case *WireNamespace:
		c.trackRead("value")
	}
	return r.Peek()
}

func errUnhashable(typ string) error {
	return fmt.Errorf("unhashable type: %s", typ)
}

func peekMethod(r Reactive) *starlark.Builtin {
	return starlark.NewBuiltin("peek", func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
		return r.Peek(), nil
	})
}

func freezeMethod(r Reactive) *starlark.Builtin {
	return starlark.NewBuiltin("freeze", func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
		r.Freeze()
		return starlark.None, nil
	})
}

// New wraps v in the reactive container matching its type: lists, dicts and
// sets get proxies, everything else a primitive wire.
func New(g *Graph, v starlark.Value) Reactive {
	switch x := v.(type) {
	case *starlark.List:
		return NewList(g, listItems(x))
	case *starlark.Dict:
		return NewDict(g, x)
	case *starlark.Set:
		return NewSet(g, x)
	case Reactive:
		return x
	}
	return NewWire(g, v)
}

// proxy wraps a nested mutable value so writes through it bubble to parent.
func proxy(g *Graph, v starlark.Value, parent *node, field string) (Reactive, bool) {
	var r Reactive
	switch x := v.(type) {
	case *starlark.List:
		r = NewList(g, listItems(x))
	case *starlark.Dict:
		r = NewDict(g, x)
	case *starlark.Set:
		r = NewSet(g, x)
	default:
		return nil, false
	}
	setParent(r, parent, field)
	return r, true
}

func setParent(r Reactive, parent *node, field string) {
	switch c := r.(type) {
	case *Wire:
		c.parent, c.field = parent, field
	case *WireList:
		c.parent, c.field = parent, field
	case *WireDict:
		c.parent, c.field = parent, field
	case *WireSet:
		c.parent, c.field = parent, field
	case *WireNamespace:
		c.parent, c.field = parent, field
	}
}

func listItems(l *starlark.List) []starlark.Value {
	items := make([]starlark.Value, l.Len())
	for i := range items {
		items[i] = l.Index(i)
	}
	return items
}
