package reactive

import (
	"go.starlark.net/starlark"
)

// Effect is a side effect that runs on creation and again whenever one of
// the reactive values it read changes.
type Effect struct {
	g       *Graph
	name    string
	fn      func() error
	sources []*node

	disposed bool
	queued   bool
	runs     int
}

var _ starlark.HasAttrs = (*Effect)(nil)

// NewEffect creates an effect on g and runs it immediately (or queues it
// when a batch is open).
func NewEffect(g *Graph, name string, fn func() error) (*Effect, error) {
	e := &Effect{g: g, name: name, fn: fn}
	g.effects = append(g.effects, e)
	if err := e.execute(); err != nil {
		return e, err
	}
	return e, nil
}

func (e *Effect) execute() error {
	if e.disposed {
		return nil
	}
	if e.g.InBatch() {
		e.g.enqueue(e)
		return nil
	}

	e.clearSources()
	e.runs++
	e.g.push(e)
	defer e.g.pop()
	return e.fn()
}

// Runs reports how many times the effect body has executed.
func (e *Effect) Runs() int {
	return e.runs
}

// Disposed reports whether Dispose was called.
func (e *Effect) Disposed() bool {
	return e.disposed
}

// Dispose severs every dependency edge. Later writes to former sources do
// not run the effect again.
func (e *Effect) Dispose() {
	if e.disposed {
		return
	}
	e.disposed = true
	e.clearSources()
}

func (e *Effect) addSource(n *node) {
	for _, s := range e.sources {
		if s == n {
			return
		}
	}
	e.sources = append(e.sources, n)
}

func (e *Effect) removeSource(n *node) {
	for i, s := range e.sources {
		if s == n {
			e.sources = append(e.sources[:i], e.sources[i+1:]...)
			return
		}
	}
}

func (e *Effect) clearSources() {
	for _, s := range e.sources {
		s.removeSubscriber(e)
	}
	e.sources = nil
}

func (e *Effect) String() string        { return "effect(" + e.name + ")" }
func (e *Effect) Type() string          { return "effect" }
func (e *Effect) Freeze()               {}
func (e *Effect) Truth() starlark.Bool  { return starlark.Bool(!e.disposed) }
func (e *Effect) Hash() (uint32, error) { return 0, errUnhashable("effect") }

func (e *Effect) Attr(name string) (starlark.Value, error) {
	if name == "dispose" {
		return starlark.NewBuiltin("dispose", func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
			e.Dispose()
			return starlark.None, nil
		}), nil
	}
	return nil, nil
}

func (e *Effect) AttrNames() []string { return []string{"dispose"} }
