package reactive

import (
	"fmt"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// Derived is a lazy, memoized value computed from other reactive values.
// It recomputes on the first read after any of its sources changed.
type Derived struct {
	node
	name    string
	compute func() (starlark.Value, error)

	dirty     bool
	computing bool
	cache     starlark.Value
	sources   []*node
}

var (
	_ starlark.HasAttrs  = (*Derived)(nil)
	_ starlark.HasBinary = (*Derived)(nil)
)

// NewDerived creates a derived value on g. The compute function runs on the
// first read.
func NewDerived(g *Graph, name string, compute func() (starlark.Value, error)) *Derived {
	return &Derived{
		node:    newNode(g),
		name:    name,
		compute: compute,
		dirty:   true,
		cache:   starlark.None,
	}
}

// Value returns the cached value, recomputing it first when dirty.
func (d *Derived) Value() (starlark.Value, error) {
	if d.computing {
		return nil, &CircularDependencyError{Derived: d.name}
	}

	if d.dirty {
		d.clearSources()
		v, err := d.run()
		if err != nil {
			return nil, err
		}
		d.cache = v
		d.dirty = false
	}

	d.trackRead("value")
	return d.cache, nil
}

func (d *Derived) run() (starlark.Value, error) {
	d.computing = true
	d.g.push(d)
	defer func() {
		d.g.pop()
		d.computing = false
	}()
	v, err := d.compute()
	if err != nil {
		return nil, err
	}
	if v == nil {
		v = starlark.None
	}
	return v, nil
}

// Peek returns the cached value without tracking or recomputing.
func (d *Derived) Peek() starlark.Value {
	return d.cache
}

// Dirty reports whether the next read recomputes.
func (d *Derived) Dirty() bool {
	return d.dirty
}

func (d *Derived) addSource(n *node) {
	for _, s := range d.sources {
		if s == n {
			return
		}
	}
	d.sources = append(d.sources, n)
}

func (d *Derived) removeSource(n *node) {
	for i, s := range d.sources {
		if s == n {
			d.sources = append(d.sources[:i], d.sources[i+1:]...)
			return
		}
	}
}

func (d *Derived) clearSources() {
	for _, s := range d.sources {
		s.removeSubscriber(d)
	}
	d.sources = nil
}

func (d *Derived) execute() error {
	if d.dirty {
		return nil
	}
	d.dirty = true
	var firstErr error
	for _, sub := range append([]observer(nil), d.subscribers...) {
		if err := sub.execute(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	d.invalidate("value")
	return firstErr
}

func (d *Derived) String() string {
	return fmt.Sprintf("derived(%s, dirty=%t)", d.cache.String(), d.dirty)
}

func (d *Derived) Type() string { return "derived" }

func (d *Derived) Freeze() { d.frozen = true }

func (d *Derived) Truth() starlark.Bool {
	v, err := d.Value()
	if err != nil {
		return starlark.False
	}
	return v.Truth()
}

func (d *Derived) Hash() (uint32, error) { return uint32(d.id), nil }

func (d *Derived) Attr(name string) (starlark.Value, error) {
	switch name {
	case "value":
		return d.Value()
	case "peek":
		return starlark.NewBuiltin("peek", func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
			return d.Peek(), nil
		}), nil
	}
	return nil, nil
}

func (d *Derived) AttrNames() []string { return []string{"peek", "value"} }

func (d *Derived) Binary(op syntax.Token, y starlark.Value, side starlark.Side) (starlark.Value, error) {
	x, err := d.Value()
	if err != nil {
		return nil, err
	}
	return delegateBinary(op, x, y, side)
}
