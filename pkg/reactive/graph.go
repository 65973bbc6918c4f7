package reactive

import (
	"sync/atomic"

	"go.starlark.net/starlark"
)

// debugLog is set by the host when debug output is wanted
var debugLog func(args ...interface{})

// SetDebugLog sets the debug logging function
func SetDebugLog(fn func(args ...interface{})) {
	debugLog = fn
}

// ThreadLocalGraph is the starlark thread-local key holding the active *Graph.
const ThreadLocalGraph = "wirepage.graph"

// Key identifies one tracked read: a reactive source and the field read on it.
type Key struct {
	Source uint64
	Field  string
}

// Listener receives reads made while a render scope is active, and
// invalidations for keys it has read.
type Listener interface {
	RegisterRead(key Key, region string)
	InvalidateKey(key Key)
}

// Scope is the render context: which listener is rendering and which region
// of it. An empty Region is the listener's root scope.
type Scope struct {
	Listener Listener
	Region   string
}

// observer is a computation that records the sources it reads.
type observer interface {
	addSource(n *node)
	removeSource(n *node)
	execute() error
}

// Frame is the tracking state of one logical task. It is detached from the
// graph while that task is suspended.
type Frame struct {
	stack []observer
	scope *Scope
}

var nextID atomic.Uint64

func newID() uint64 {
	return nextID.Add(1)
}

// Graph owns the tracking stack, the render scope and the batch queue for a
// set of reactive values. A graph belongs to one page instance; callers
// serialize access to it.
type Graph struct {
	stack []observer
	scope *Scope

	batchDepth int
	pending    []*Effect

	effects []*Effect

	threadFactory func(name string) *starlark.Thread
}

// NewGraph creates an empty reactive graph
func NewGraph() *Graph {
	return &Graph{}
}

// SetThreadFactory installs the function used to create starlark threads for
// derived computations and effects.
func (g *Graph) SetThreadFactory(fn func(name string) *starlark.Thread) {
	g.threadFactory = fn
}

// NewThread creates a thread that carries this graph as its thread-local.
func (g *Graph) NewThread(name string) *starlark.Thread {
	if g.threadFactory != nil {
		return g.threadFactory(name)
	}
	thread := &starlark.Thread{Name: name}
	thread.SetLocal(ThreadLocalGraph, g)
	return thread
}

// GraphFromThread returns the graph attached to a starlark thread, if any.
func GraphFromThread(thread *starlark.Thread) *Graph {
	if thread == nil {
		return nil
	}
	g, _ := thread.Local(ThreadLocalGraph).(*Graph)
	return g
}

func (g *Graph) top() observer {
	if len(g.stack) == 0 {
		return nil
	}
	return g.stack[len(g.stack)-1]
}

func (g *Graph) push(o observer) {
	g.stack = append(g.stack, o)
}

func (g *Graph) pop() {
	g.stack = g.stack[:len(g.stack)-1]
}

// CurrentScope returns the active render scope, or nil.
func (g *Graph) CurrentScope() *Scope {
	return g.scope
}

// WithScope runs fn with s as the active render scope and restores the
// previous scope on every exit path.
func (g *Graph) WithScope(s *Scope, fn func() error) error {
	prev := g.scope
	g.scope = s
	defer func() { g.scope = prev }()
	return fn()
}

// Untracked runs fn with tracking disabled.
func (g *Graph) Untracked(fn func() error) error {
	frame := g.Suspend()
	defer g.Resume(frame)
	return fn()
}

// Suspend detaches the current task's tracking state from the graph so
// another task can run.
func (g *Graph) Suspend() Frame {
	f := Frame{stack: g.stack, scope: g.scope}
	g.stack = nil
	g.scope = nil
	return f
}

// Resume reattaches tracking state captured by Suspend.
func (g *Graph) Resume(f Frame) {
	g.stack = f.stack
	g.scope = f.scope
}

// InBatch reports whether a batch is open.
func (g *Graph) InBatch() bool {
	return g.batchDepth > 0
}

// StartBatch opens a (nestable) batch. Effects triggered while a batch is
// open are queued until the outermost batch ends.
func (g *Graph) StartBatch() {
	g.batchDepth++
}

// EndBatch closes a batch. Closing the outermost batch drains the pending
// queue in FIFO order until it is empty, including effects queued by
// effects that ran during the drain.
func (g *Graph) EndBatch() error {
	if g.batchDepth == 0 {
		return nil
	}
	g.batchDepth--
	if g.batchDepth > 0 {
		return nil
	}

	var firstErr error
	for len(g.pending) > 0 {
		eff := g.pending[0]
		g.pending = g.pending[1:]
		eff.queued = false
		if err := eff.execute(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Batch runs fn inside StartBatch/EndBatch.
func (g *Graph) Batch(fn func() error) error {
	g.StartBatch()
	err := fn()
	if endErr := g.EndBatch(); err == nil {
		err = endErr
	}
	return err
}

func (g *Graph) enqueue(e *Effect) {
	if e.queued {
		return
	}
	e.queued = true
	g.pending = append(g.pending, e)
}

// DisposeAll disposes every effect created on this graph.
func (g *Graph) DisposeAll() {
	effects := g.effects
	g.effects = nil
	for _, e := range effects {
		e.Dispose()
	}
	if debugLog != nil {
		debugLog("[Graph] disposed", len(effects), "effects")
	}
}
