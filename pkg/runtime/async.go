package runtime

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.starlark.net/starlark"
)

// Future is the result of an asynchronous operation. Page code receives
// futures from async builtins; wait() and await blocks suspend on them.
type Future struct {
	name  string
	done  chan struct{}
	once  sync.Once
	value starlark.Value
	err   error
}

var _ starlark.Value = (*Future)(nil)

// NewFuture creates an unresolved future
func NewFuture(name string) *Future {
	return &Future{name: name, done: make(chan struct{})}
}

// Resolve completes the future. Later calls are ignored.
func (f *Future) Resolve(v starlark.Value, err error) {
	f.once.Do(func() {
		if v == nil {
			v = starlark.None
		}
		f.value, f.err = v, err
		close(f.done)
	})
}

// Done reports whether the future is resolved
func (f *Future) Done() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

func (f *Future) String() string        { return fmt.Sprintf("<future %s>", f.name) }
func (f *Future) Type() string          { return "future" }
func (f *Future) Freeze()               {}
func (f *Future) Truth() starlark.Bool  { return starlark.True }
func (f *Future) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: future") }

// wait blocks until fut resolves. The loop lock is released meanwhile so
// background tasks can run, and the reactive tracking frame is restored
// afterwards.
func (p *Page) wait(thread *starlark.Thread, fut *Future) (starlark.Value, error) {
	return p.s.wait(fut)
}

func (s *session) wait(fut *Future) (starlark.Value, error) {
	if fut.Done() {
		return fut.value, fut.err
	}
	ctx := s.ctx
	frame := s.graph.Suspend()
	s.loop.Unlock()
	var err error
	select {
	case <-fut.done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	s.loop.Lock()
	s.graph.Resume(frame)
	if err != nil {
		return nil, err
	}
	return fut.value, fut.err
}

// AsyncFunc is a host function running outside the page lock. It must not
// touch mutable starlark values.
type AsyncFunc func(ctx context.Context, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error)

var (
	asyncMu    sync.RWMutex
	asyncFuncs = map[string]AsyncFunc{}
)

// RegisterAsync makes fn callable from page code as name. Calls return a
// future which template expressions and wait() resolve.
func RegisterAsync(name string, fn AsyncFunc) {
	asyncMu.Lock()
	defer asyncMu.Unlock()
	asyncFuncs[name] = fn
}

// AsyncNames returns the names of the builtins whose calls return futures
func AsyncNames() []string {
	asyncMu.RLock()
	defer asyncMu.RUnlock()
	names := []string{"sleep"}
	for name := range asyncFuncs {
		names = append(names, name)
	}
	return names
}

func asyncBuiltin(name string, fn AsyncFunc) *starlark.Builtin {
	return starlark.NewBuiltin(name, func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		ctx := context.Background()
		if s, ok := sessionOf(thread); ok {
			ctx = s.ctx
		}
		for _, a := range args {
			a.Freeze()
		}
		for _, kv := range kwargs {
			kv[1].Freeze()
		}
		fut := NewFuture(name)
		go func() {
			v, err := fn(ctx, args, kwargs)
			fut.Resolve(v, err)
		}()
		return fut, nil
	})
}

// sleep(seconds) returns a future resolving to None after the delay
func sleep(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var seconds starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &seconds); err != nil {
		return nil, err
	}
	f, ok := starlark.AsFloat(seconds)
	if !ok {
		return nil, fmt.Errorf("%s: want number, got %s", b.Name(), seconds.Type())
	}
	fut := NewFuture("sleep")
	time.AfterFunc(time.Duration(f*float64(time.Second)), func() {
		fut.Resolve(starlark.None, nil)
	})
	return fut, nil
}

// waitBuiltin is wait(x): the resolved value of a future, or x itself
func waitBuiltin(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var v starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &v); err != nil {
		return nil, err
	}
	fut, ok := v.(*Future)
	if !ok {
		return v, nil
	}
	s, ok := sessionOf(thread)
	if !ok {
		<-fut.done
		return fut.value, fut.err
	}
	return s.wait(fut)
}

// Await states
const (
	AwaitPending = "pending"
	AwaitSuccess = "success"
	AwaitError   = "error"
)

type awaitState struct {
	status string
	result starlark.Value
}

// StartAwait starts the background task resolving an await block, unless
// it is already running or resolved
func (f *Frame) StartAwait(id string, e *Expr) {
	p := f.Page
	s := p.s
	qid := p.qualify(id)
	if _, ok := s.awaits[qid]; ok {
		return
	}
	st := &awaitState{status: AwaitPending}
	s.awaits[qid] = st
	s.tasks.Add(1)
	go p.resolveAwait(s.ctx, qid, st, e, f.Locals)
}

func (p *Page) resolveAwait(ctx context.Context, qid string, st *awaitState, e *Expr, locals *Locals) {
	s := p.s
	defer s.tasks.Done()

	s.loop.Lock()
	if ctx.Err() != nil {
		s.loop.Unlock()
		return
	}
	prev := s.graph.Suspend()
	thread := s.newThread("await " + qid)
	stop := bindThread(ctx, thread)
	f := &Frame{Page: p, Out: &strings.Builder{}, Locals: locals, thread: thread}
	v, err := f.Eval(e)
	stop()
	s.graph.Resume(prev)

	if ctx.Err() != nil {
		s.loop.Unlock()
		return
	}
	if err != nil {
		st.status, st.result = AwaitError, starlark.String(errorMessage(err))
	} else {
		st.status, st.result = AwaitSuccess, v
	}
	s.markDirty(qid)
	s.loop.Unlock()
	if debugLog != nil && s.debug {
		debugLog("[Page] await", qid, st.status)
	}
	s.requestPush()
}

// AwaitState returns the state of the await block rendered as the current
// region
func (f *Frame) AwaitState() (string, starlark.Value) {
	st, ok := f.Page.s.awaits[f.region]
	if !ok {
		return AwaitPending, starlark.None
	}
	return st.status, st.result
}

// errorMessage strips the starlark traceback from an evaluation error
func errorMessage(err error) string {
	if ee, ok := err.(*starlark.EvalError); ok {
		return ee.Msg
	}
	return err.Error()
}
