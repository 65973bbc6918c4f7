package reactive

import (
	"fmt"
	"sort"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// WireNamespace is a wire created with keyword fields, wire(x=1, y=2).
// Each field is tracked separately so a write to x only invalidates readers
// of x (and readers of the namespace as a whole).
type WireNamespace struct {
	node
	names  []string
	fields map[string]starlark.Value
}

var (
	_ Reactive                 = (*WireNamespace)(nil)
	_ starlark.HasAttrs        = (*WireNamespace)(nil)
	_ starlark.HasSetField     = (*WireNamespace)(nil)
	_ starlark.HasBinary       = (*WireNamespace)(nil)
	_ starlark.IterableMapping = (*WireNamespace)(nil)
)

// NewNamespace creates a namespace wire from (name, value) pairs.
func NewNamespace(g *Graph, kwargs []starlark.Tuple) *WireNamespace {
	ns := &WireNamespace{node: newNode(g), fields: make(map[string]starlark.Value, len(kwargs))}
	for _, kv := range kwargs {
		name := string(kv[0].(starlark.String))
		if _, ok := ns.fields[name]; !ok {
			ns.names = append(ns.names, name)
		}
		ns.fields[name] = kv[1]
	}
	return ns
}

func (ns *WireNamespace) String() string {
	var sb strings.Builder
	sb.WriteString("wire(")
	for i, name := range ns.names {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s=%s", name, ns.fields[name].String())
	}
	sb.WriteByte(')')
	return sb.String()
}

func (ns *WireNamespace) Type() string { return "wire_namespace" }
func (ns *WireNamespace) Freeze()      { ns.frozen = true }

func (ns *WireNamespace) Truth() starlark.Bool {
	ns.trackRead("value")
	return len(ns.names) > 0
}

func (ns *WireNamespace) Hash() (uint32, error) { return uint32(ns.id), nil }

func (ns *WireNamespace) Attr(name string) (starlark.Value, error) {
	switch name {
	case "value":
		ns.trackRead("value")
		return ns.Peek(), nil
	case "peek":
		if _, ok := ns.fields[name]; !ok {
			return peekMethod(ns), nil
		}
	case "freeze":
		if _, ok := ns.fields[name]; !ok {
			return freezeMethod(ns), nil
		}
	}
	v, ok := ns.fields[name]
	if !ok {
		return nil, nil
	}
	ns.trackRead(name)
	if p, ok := proxy(ns.g, v, &ns.node, name); ok {
		ns.fields[name] = p
		return p, nil
	}
	return v, nil
}

func (ns *WireNamespace) AttrNames() []string {
	names := append([]string(nil), ns.names...)
	names = append(names, "freeze", "peek", "value")
	sort.Strings(names)
	return names
}

// SetField writes one field. Unknown names add a new field.
func (ns *WireNamespace) SetField(name string, v starlark.Value) error {
	if err := ns.checkWrite("wire_namespace"); err != nil {
		return err
	}
	if name == "value" {
		return ns.Set(v)
	}
	old, ok := ns.fields[name]
	if ok {
		if eq, err := starlark.Equal(old, v); err == nil && eq {
			return nil
		}
	} else {
		ns.names = append(ns.names, name)
	}
	ns.fields[name] = v
	return ns.notifyWrite(name)
}

// Get implements index access, ns["x"].
func (ns *WireNamespace) Get(k starlark.Value) (starlark.Value, bool, error) {
	s, ok := k.(starlark.String)
	if !ok {
		return nil, false, fmt.Errorf("wire_namespace key must be string, got %s", k.Type())
	}
	if _, ok := ns.fields[string(s)]; !ok {
		return nil, false, nil
	}
	v, err := ns.Attr(string(s))
	return v, err == nil, err
}

func (ns *WireNamespace) Iterate() starlark.Iterator {
	ns.trackRead("value")
	keys := make([]starlark.Value, len(ns.names))
	for i, name := range ns.names {
		keys[i] = starlark.String(name)
	}
	return &sliceIterator{items: keys}
}

func (ns *WireNamespace) Items() []starlark.Tuple {
	ns.trackRead("value")
	items := make([]starlark.Tuple, len(ns.names))
	for i, name := range ns.names {
		items[i] = starlark.Tuple{starlark.String(name), ns.fields[name]}
	}
	return items
}

// Peek returns the fields as a plain dict.
func (ns *WireNamespace) Peek() starlark.Value {
	d := starlark.NewDict(len(ns.names))
	for _, name := range ns.names {
		_ = d.SetKey(starlark.String(name), ns.fields[name])
	}
	return d
}

// Set replaces every field from a mapping with string keys.
func (ns *WireNamespace) Set(v starlark.Value) error {
	if err := ns.checkWrite("wire_namespace"); err != nil {
		return err
	}
	if r, ok := v.(Reactive); ok {
		v = r.Peek()
	}
	m, ok := v.(starlark.IterableMapping)
	if !ok {
		return fmt.Errorf("wire_namespace: cannot assign %s", v.Type())
	}
	names := make([]string, 0)
	fields := make(map[string]starlark.Value)
	for _, kv := range m.Items() {
		s, ok := kv[0].(starlark.String)
		if !ok {
			return fmt.Errorf("wire_namespace key must be string, got %s", kv[0].Type())
		}
		names = append(names, string(s))
		fields[string(s)] = kv[1]
	}
	ns.names, ns.fields = names, fields
	return ns.notifyWrite("value")
}

func (ns *WireNamespace) Binary(op syntax.Token, y starlark.Value, side starlark.Side) (starlark.Value, error) {
	if op == syntax.IN && side == starlark.Right {
		ns.trackRead("value")
		s, ok := y.(starlark.String)
		if !ok {
			return starlark.False, nil
		}
		_, found := ns.fields[string(s)]
		return starlark.Bool(found), nil
	}
	ns.trackRead("value")
	return delegateBinary(op, ns.Peek(), y, side)
}
