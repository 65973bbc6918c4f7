package reactive

import (
	"fmt"
	"sort"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// WireList is a reactive proxy for a list. Every mutating method notifies,
// and indexing a nested list, dict or set returns a memoized proxy of it.
type WireList struct {
	node
	items []starlark.Value
}

var (
	_ Reactive             = (*WireList)(nil)
	_ starlark.Indexable   = (*WireList)(nil)
	_ starlark.HasSetIndex = (*WireList)(nil)
	_ starlark.Iterable    = (*WireList)(nil)
	_ starlark.HasAttrs    = (*WireList)(nil)
	_ starlark.HasBinary   = (*WireList)(nil)
)

// NewList creates a list proxy owning a copy of items.
func NewList(g *Graph, items []starlark.Value) *WireList {
	return &WireList{node: newNode(g), items: append([]starlark.Value(nil), items...)}
}

func (l *WireList) String() string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, v := range l.items {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(v.String())
	}
	sb.WriteByte(']')
	return sb.String()
}

func (l *WireList) Type() string { return "wire_list" }
func (l *WireList) Freeze()      { l.frozen = true }

func (l *WireList) Truth() starlark.Bool {
	l.trackRead("value")
	return len(l.items) > 0
}

func (l *WireList) Hash() (uint32, error) { return uint32(l.id), nil }

func (l *WireList) Len() int {
	l.trackRead("value")
	return len(l.items)
}

// Index returns element i. Nested mutable containers are replaced in place
// by proxies whose writes bubble up to this list.
func (l *WireList) Index(i int) starlark.Value {
	l.trackRead("value")
	v := l.items[i]
	if p, ok := proxy(l.g, v, &l.node, ""); ok {
		l.items[i] = p
		return p
	}
	return v
}

func (l *WireList) SetIndex(i int, v starlark.Value) error {
	if err := l.checkWrite("wire_list"); err != nil {
		return err
	}
	if eq, err := starlark.Equal(l.items[i], v); err == nil && eq {
		return nil
	}
	l.items[i] = v
	return l.notifyWrite("value")
}

func (l *WireList) Iterate() starlark.Iterator {
	l.trackRead("value")
	return &sliceIterator{items: append([]starlark.Value(nil), l.items...)}
}

// Peek returns a plain list copy without tracking.
func (l *WireList) Peek() starlark.Value {
	return starlark.NewList(append([]starlark.Value(nil), l.items...))
}

// Set replaces the contents with the elements of v.
func (l *WireList) Set(v starlark.Value) error {
	if err := l.checkWrite("wire_list"); err != nil {
		return err
	}
	items, err := iterValues(v)
	if err != nil {
		return err
	}
	l.items = items
	return l.notifyWrite("value")
}

// Append adds v at the end.
func (l *WireList) Append(v starlark.Value) error {
	if err := l.checkWrite("wire_list"); err != nil {
		return err
	}
	l.items = append(l.items, v)
	return l.notifyWrite("value")
}

// Extend appends every element of iterable.
func (l *WireList) Extend(iterable starlark.Value) error {
	if err := l.checkWrite("wire_list"); err != nil {
		return err
	}
	items, err := iterValues(iterable)
	if err != nil {
		return err
	}
	l.items = append(l.items, items...)
	return l.notifyWrite("value")
}

// Insert inserts v before index i, clamping like Python.
func (l *WireList) Insert(i int, v starlark.Value) error {
	if err := l.checkWrite("wire_list"); err != nil {
		return err
	}
	n := len(l.items)
	if i < 0 {
		i += n
		if i < 0 {
			i = 0
		}
	}
	if i > n {
		i = n
	}
	l.items = append(l.items, nil)
	copy(l.items[i+1:], l.items[i:])
	l.items[i] = v
	return l.notifyWrite("value")
}

// Remove deletes the first element equal to v.
func (l *WireList) Remove(v starlark.Value) error {
	if err := l.checkWrite("wire_list"); err != nil {
		return err
	}
	for i, item := range l.items {
		if eq, err := starlark.Equal(item, v); err != nil {
			return err
		} else if eq {
			l.items = append(l.items[:i], l.items[i+1:]...)
			return l.notifyWrite("value")
		}
	}
	return fmt.Errorf("remove: element not found")
}

// Pop removes and returns the element at index i (negative counts from the end).
func (l *WireList) Pop(i int) (starlark.Value, error) {
	if err := l.checkWrite("wire_list"); err != nil {
		return nil, err
	}
	n := len(l.items)
	if i < 0 {
		i += n
	}
	if i < 0 || i >= n {
		return nil, fmt.Errorf("pop: index %d out of range [%d:%d]", i, -n, n)
	}
	v := l.items[i]
	l.items = append(l.items[:i], l.items[i+1:]...)
	return v, l.notifyWrite("value")
}

// Clear removes every element.
func (l *WireList) Clear() error {
	if err := l.checkWrite("wire_list"); err != nil {
		return err
	}
	l.items = nil
	return l.notifyWrite("value")
}

// Reverse reverses the list in place.
func (l *WireList) Reverse() error {
	if err := l.checkWrite("wire_list"); err != nil {
		return err
	}
	for i, j := 0, len(l.items)-1; i < j; i, j = i+1, j-1 {
		l.items[i], l.items[j] = l.items[j], l.items[i]
	}
	return l.notifyWrite("value")
}

// Sort sorts in place using key (may be nil) and reverse.
func (l *WireList) Sort(thread *starlark.Thread, key starlark.Callable, reverse bool) error {
	if err := l.checkWrite("wire_list"); err != nil {
		return err
	}
	keys := l.items
	if key != nil {
		keys = make([]starlark.Value, len(l.items))
		for i, v := range l.items {
			k, err := starlark.Call(thread, key, starlark.Tuple{v}, nil)
			if err != nil {
				return err
			}
			keys[i] = k
		}
	}
	idx := make([]int, len(l.items))
	for i := range idx {
		idx[i] = i
	}
	var sortErr error
	sort.SliceStable(idx, func(a, b int) bool {
		x, y := keys[idx[a]], keys[idx[b]]
		if reverse {
			x, y = y, x
		}
		lt, err := starlark.Compare(syntax.LT, x, y)
		if err != nil && sortErr == nil {
			sortErr = err
		}
		return lt
	})
	if sortErr != nil {
		return sortErr
	}
	sorted := make([]starlark.Value, len(idx))
	for i, j := range idx {
		sorted[i] = l.items[j]
	}
	l.items = sorted
	return l.notifyWrite("value")
}

func (l *WireList) Binary(op syntax.Token, y starlark.Value, side starlark.Side) (starlark.Value, error) {
	l.trackRead("value")
	if op == syntax.IN && side == starlark.Right {
		for _, item := range l.items {
			if eq, err := starlark.Equal(item, y); err != nil {
				return nil, err
			} else if eq {
				return starlark.True, nil
			}
		}
		return starlark.False, nil
	}
	if op == syntax.NOT_IN && side == starlark.Right {
		in, err := l.Binary(syntax.IN, y, side)
		if err != nil {
			return nil, err
		}
		return !in.(starlark.Bool), nil
	}
	return delegateBinary(op, l.Peek(), y, side)
}

func (l *WireList) Attr(name string) (starlark.Value, error) {
	switch name {
	case "value":
		l.trackRead("value")
		return l, nil
	case "peek":
		return peekMethod(l), nil
	case "freeze":
		return freezeMethod(l), nil
	}
	return methodAttr(l, name, listMethods)
}

func (l *WireList) AttrNames() []string {
	return append(methodNames(listMethods), "freeze", "peek", "value")
}

var listMethods = map[string]*starlark.Builtin{
	"append":  starlark.NewBuiltin("append", listAppend),
	"clear":   starlark.NewBuiltin("clear", listClear),
	"count":   starlark.NewBuiltin("count", listCount),
	"extend":  starlark.NewBuiltin("extend", listExtend),
	"index":   starlark.NewBuiltin("index", listIndex),
	"insert":  starlark.NewBuiltin("insert", listInsert),
	"pop":     starlark.NewBuiltin("pop", listPop),
	"remove":  starlark.NewBuiltin("remove", listRemove),
	"reverse": starlark.NewBuiltin("reverse", listReverse),
	"sort":    starlark.NewBuiltin("sort", listSort),
}

func listAppend(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &x); err != nil {
		return nil, err
	}
	return starlark.None, b.Receiver().(*WireList).Append(x)
}

func listClear(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	return starlark.None, b.Receiver().(*WireList).Clear()
}

func listCount(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &x); err != nil {
		return nil, err
	}
	l := b.Receiver().(*WireList)
	l.trackRead("value")
	n := 0
	for _, item := range l.items {
		if eq, err := starlark.Equal(item, x); err != nil {
			return nil, err
		} else if eq {
			n++
		}
	}
	return starlark.MakeInt(n), nil
}

func listExtend(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &x); err != nil {
		return nil, err
	}
	return starlark.None, b.Receiver().(*WireList).Extend(x)
}

func listIndex(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &x); err != nil {
		return nil, err
	}
	l := b.Receiver().(*WireList)
	l.trackRead("value")
	for i, item := range l.items {
		if eq, err := starlark.Equal(item, x); err != nil {
			return nil, err
		} else if eq {
			return starlark.MakeInt(i), nil
		}
	}
	return nil, fmt.Errorf("index: value not in list")
}

func listInsert(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var i int
	var x starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &i, &x); err != nil {
		return nil, err
	}
	return starlark.None, b.Receiver().(*WireList).Insert(i, x)
}

func listPop(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	i := -1
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0, &i); err != nil {
		return nil, err
	}
	return b.Receiver().(*WireList).Pop(i)
}

func listRemove(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &x); err != nil {
		return nil, err
	}
	return starlark.None, b.Receiver().(*WireList).Remove(x)
}

func listReverse(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	return starlark.None, b.Receiver().(*WireList).Reverse()
}

func listSort(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key starlark.Callable
	var reverse bool
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "key?", &key, "reverse?", &reverse); err != nil {
		return nil, err
	}
	return starlark.None, b.Receiver().(*WireList).Sort(thread, key, reverse)
}

func methodAttr(recv starlark.Value, name string, methods map[string]*starlark.Builtin) (starlark.Value, error) {
	b := methods[name]
	if b == nil {
		return nil, nil
	}
	return b.BindReceiver(recv), nil
}

func methodNames(methods map[string]*starlark.Builtin) []string {
	names := make([]string, 0, len(methods))
	for name := range methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func iterValues(v starlark.Value) ([]starlark.Value, error) {
	if r, ok := v.(Reactive); ok {
		v = r.Peek()
	}
	iterable, ok := v.(starlark.Iterable)
	if !ok {
		return nil, fmt.Errorf("got %s, want iterable", v.Type())
	}
	it := iterable.Iterate()
	defer it.Done()
	var items []starlark.Value
	var x starlark.Value
	for it.Next(&x) {
		items = append(items, x)
	}
	return items, nil
}

type sliceIterator struct {
	items []starlark.Value
	i     int
}

func (it *sliceIterator) Next(p *starlark.Value) bool {
	if it.i >= len(it.items) {
		return false
	}
	*p = it.items[it.i]
	it.i++
	return true
}

func (it *sliceIterator) Done() {}
