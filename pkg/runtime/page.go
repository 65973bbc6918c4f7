package runtime

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/recera/wirepage/pkg/reactive"
	"github.com/recera/wirepage/pkg/styling"
	"go.starlark.net/starlark"
)

// DefaultClientScript is the URL of the client runtime bundle
const DefaultClientScript = "/_wire/static/wire.core.min.js"

// Request is the per-request data exposed to page code
type Request struct {
	Method  string
	URL     string
	Path    string
	Headers map[string]string
	// Params are the typed route parameters
	Params map[string]starlark.Value
	Query  map[string]string
	// Route is the name of the matched named route, if any
	Route string
	// Error is set when the page renders a failure of another request
	Error *ErrorInfo
}

// ErrorInfo describes the failure an error page renders
type ErrorInfo struct {
	Code   int
	Detail string
	Trace  string
}

// ComponentResolver locates the compiled program for a component tag used
// in from
type ComponentResolver interface {
	ResolveComponent(from *Program, name string) (*Program, error)
}

// Options configure a page instance
type Options struct {
	Request *Request
	// Push is called whenever state changed outside a request, such as a
	// completed await. It must only queue the delivery.
	Push     func()
	Styles   *styling.Collector
	Resolver ComponentResolver
	// ClientScript overrides DefaultClientScript
	ClientScript string
	// Pjax enables link interception on single-route pages
	Pjax bool
	// Spa disables client single-page mode application-wide when false
	Spa   *bool
	Debug bool
	// Session is the live session id handed to the client runtime
	Session string
	// Component renders the page as a fragment without client injection.
	// Props, Slots and Context are its caller's inputs.
	Component bool
	Props     []starlark.Tuple
	Slots     map[string]string
	Context   *starlark.Dict
}

// Page is one live instance of a compiled program with its own state. It
// is the self of every method in the page's code.
type Page struct {
	prog   *Program
	chain  []*Program
	s      *session
	opts   Options
	prefix string

	component bool
	members   map[string]starlark.Value
	context   *starlark.Dict

	// fills are slot contents by layout id, then slot name
	fills     map[string]map[string]Proc
	slotHTML  map[string]map[string]string
	headFills []Proc
	closed    bool
}

var (
	_ starlark.HasAttrs    = (*Page)(nil)
	_ starlark.HasSetField = (*Page)(nil)
)

// NewPage creates a page instance and runs its initialization code: the
// code sections of its layouts outermost first, then its own.
func NewPage(prog *Program, opts Options) (*Page, error) {
	if opts.Request == nil {
		opts.Request = &Request{}
	}
	s := newSession(opts.Styles, opts.Push, opts.Debug)
	p := &Page{
		prog:      prog,
		chain:     prog.Chain(),
		s:         s,
		opts:      opts,
		component: opts.Component,
		members:   make(map[string]starlark.Value),
		context:   starlark.NewDict(0),
	}
	if opts.Context != nil {
		for _, kv := range opts.Context.Items() {
			_ = p.context.SetKey(kv[0], kv[1])
		}
	}
	if opts.Slots != nil {
		p.slotHTML = map[string]map[string]string{prog.LayoutID: opts.Slots}
	}
	s.graph.SetThreadFactory(s.newThread)
	p.collectFills()

	s.loop.Lock()
	defer s.loop.Unlock()
	thread := s.newThread("init " + prog.File)
	if err := p.initialize(thread, opts.Props); err != nil {
		return nil, err
	}
	return p, nil
}

// Program returns the compiled program of the page
func (p *Page) Program() *Program {
	return p.prog
}

func (p *Page) String() string        { return fmt.Sprintf("<page %s>", p.prog.File) }
func (p *Page) Type() string          { return "page" }
func (p *Page) Freeze()               {}
func (p *Page) Truth() starlark.Bool  { return starlark.True }
func (p *Page) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: page") }

// Attr returns a member, or a method bound to the page
func (p *Page) Attr(name string) (starlark.Value, error) {
	if v, ok := p.members[name]; ok {
		return v, nil
	}
	if fn, ok := p.method(name); ok {
		return &boundMethod{fn: fn, self: p}, nil
	}
	return nil, starlark.NoSuchAttrError(fmt.Sprintf("page has no attribute %q", name))
}

func (p *Page) AttrNames() []string {
	seen := make(map[string]bool)
	var names []string
	for name := range p.members {
		seen[name] = true
		names = append(names, name)
	}
	for _, prog := range p.chain {
		for name := range prog.Methods {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names
}

// SetField assigns a member. Assigning a plain value to a member holding a
// reactive value sets the reactive value instead of replacing it.
func (p *Page) SetField(name string, v starlark.Value) error {
	if cur, ok := p.members[name]; ok {
		if r, ok := cur.(reactive.Reactive); ok && !reactive.IsReactive(v) {
			return r.Set(v)
		}
	}
	p.members[name] = v
	return nil
}

// IsComponent reports whether the page renders as a component
func (p *Page) IsComponent() bool {
	return p.component
}

// PushState asks the host to deliver the pending changes now
func (p *Page) PushState(ctx context.Context) error {
	if p.closed {
		return ErrClosed
	}
	p.s.requestPush()
	return nil
}

// Member returns a member value without tracking
func (p *Page) Member(name string) (starlark.Value, bool) {
	v, ok := p.members[name]
	return v, ok
}

// method finds a method, searching the page's own code before its layouts'
func (p *Page) method(name string) (*starlark.Function, bool) {
	for _, prog := range p.chain {
		if fn, ok := prog.Method(name); ok {
			return fn, true
		}
	}
	return nil, false
}

func (p *Page) native(name string) (Native, bool) {
	for _, prog := range p.chain {
		if fn, ok := prog.Natives[name]; ok {
			return fn, true
		}
	}
	return nil, false
}

// allowed reports whether name is a declared event handler
func (p *Page) allowed(name string) bool {
	for _, prog := range p.chain {
		if prog.Handlers[name] {
			return true
		}
	}
	return false
}

func (p *Page) qualify(id string) string {
	return p.prefix + id
}

// HandlerName qualifies a handler name for the client so that events of a
// component instance are routed back to it
func (p *Page) HandlerName(name string) string {
	return p.prefix + name
}

// Context returns the values provided to this page by its ancestors and
// its own !provide directives
func (p *Page) Context() *starlark.Dict {
	return p.context
}

// collectFills registers the slot contents of every file in the chain.
// Head fills keep their order from the outermost layout's child down.
func (p *Page) collectFills() {
	p.fills = make(map[string]map[string]Proc)
	for i := len(p.chain) - 1; i >= 0; i-- {
		prog := p.chain[i]
		if prog.Layout == nil {
			continue
		}
		id := prog.Layout.LayoutID
		if p.fills[id] == nil {
			p.fills[id] = make(map[string]Proc)
		}
		for name, fill := range prog.Fills {
			p.fills[id][name] = fill
		}
		p.headFills = append(p.headFills, prog.HeadFills...)
	}
}

// initialize sets the framework members and runs the code sections
func (p *Page) initialize(thread *starlark.Thread, props []starlark.Tuple) error {
	p.setFrameworkMembers()
	if p.component {
		if err := p.applyProps(thread, props, true); err != nil {
			return err
		}
	}
	for i := len(p.chain) - 1; i >= 0; i-- {
		prog := p.chain[i]
		for _, in := range prog.Injects {
			v, found, err := p.context.Get(starlark.String(in.Key))
			if err != nil {
				return err
			}
			if !found {
				v = starlark.None
			}
			p.members[in.Local] = v
		}
	}
	for i := len(p.chain) - 1; i >= 0; i-- {
		prog := p.chain[i]
		if prog.Init == nil {
			continue
		}
		if _, err := starlark.Call(thread, prog.Init.fn, starlark.Tuple{p}, nil); err != nil {
			return fmt.Errorf("%s: %w", prog.File, err)
		}
	}
	f := &Frame{Page: p, Out: &strings.Builder{}, thread: thread}
	for i := len(p.chain) - 1; i >= 0; i-- {
		for _, pr := range p.chain[i].Provides {
			v, err := f.Eval(pr.Value)
			if err != nil {
				return err
			}
			if err := p.context.SetKey(starlark.String(pr.Key), v); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Page) setFrameworkMembers() {
	req := p.opts.Request
	g := p.s.graph

	params := starlark.NewDict(len(req.Params))
	for k, v := range req.Params {
		_ = params.SetKey(starlark.String(k), v)
		p.members[k] = v
	}
	p.members["params"] = params
	p.members["query"] = stringDict(req.Query)
	p.members["url"] = starlark.String(req.URL)

	path := starlark.NewDict(len(p.prog.Routes))
	for _, r := range p.prog.Routes {
		if !p.prog.Simple {
			_ = path.SetKey(starlark.String(r.Name), starlark.Bool(r.Name == req.Route))
		}
	}
	p.members["path"] = path

	request := starlark.NewDict(4)
	_ = request.SetKey(starlark.String("method"), starlark.String(req.Method))
	_ = request.SetKey(starlark.String("url"), starlark.String(req.URL))
	_ = request.SetKey(starlark.String("path"), starlark.String(req.Path))
	_ = request.SetKey(starlark.String("headers"), stringDict(req.Headers))
	p.members["request"] = request

	p.members["errors"] = reactive.NewDict(g, nil)
	p.members["loading"] = reactive.NewDict(g, nil)
	if _, ok := p.members["attrs"]; !ok {
		p.members["attrs"] = starlark.NewDict(0)
	}
	p.members["context"] = p.context
	p.members["error_code"] = starlark.None
	p.members["error_detail"] = starlark.None
	p.members["error_trace"] = starlark.None
	if e := req.Error; e != nil {
		p.members["error_code"] = starlark.MakeInt(e.Code)
		p.members["error_detail"] = starlark.String(e.Detail)
		if e.Trace != "" {
			p.members["error_trace"] = starlark.String(e.Trace)
		}
	}
}

// applyProps sets declared props from the caller's values or their
// defaults. Undeclared values become the fallthrough attrs.
func (p *Page) applyProps(thread *starlark.Thread, props []starlark.Tuple, first bool) error {
	given := make(map[string]starlark.Value, len(props))
	attrs := starlark.NewDict(0)
	declared := make(map[string]bool)
	for _, pr := range p.prog.Props {
		declared[pr.Name] = true
	}
	for _, kv := range props {
		name, _ := starlark.AsString(kv[0])
		if declared[name] {
			given[name] = kv[1]
			continue
		}
		if err := attrs.SetKey(kv[0], kv[1]); err != nil {
			return err
		}
	}
	p.members["attrs"] = attrs

	f := &Frame{Page: p, Out: &strings.Builder{}, thread: thread}
	for _, pr := range p.prog.Props {
		v, ok := given[pr.Name]
		if !ok {
			if !first {
				continue
			}
			if pr.Default == nil {
				v = starlark.None
			} else {
				var err error
				if v, err = f.Eval(pr.Default); err != nil {
					return err
				}
			}
		}
		if err := p.SetField(pr.Name, v); err != nil {
			return err
		}
	}
	return nil
}

func stringDict(m map[string]string) *starlark.Dict {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	d := starlark.NewDict(len(keys))
	for _, k := range keys {
		_ = d.SetKey(starlark.String(k), starlark.String(m[k]))
	}
	return d
}

// callHook calls an optional lifecycle method on every file in the chain,
// layouts first. The result is awaited when it is a future.
func (p *Page) callHook(thread *starlark.Thread, name string) error {
	for i := len(p.chain) - 1; i >= 0; i-- {
		fn, ok := p.chain[i].Method(name)
		if !ok {
			continue
		}
		v, err := starlark.Call(thread, fn, starlark.Tuple{p}, nil)
		if err != nil {
			return err
		}
		if fut, ok := v.(*Future); ok {
			if _, err := p.wait(thread, fut); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close stops background work and disposes reactive values. The page can
// not be used afterwards.
func (p *Page) Close() {
	s := p.s
	s.op.Lock()
	defer s.op.Unlock()
	s.loop.Lock()
	defer s.loop.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	s.cancelTasks()
	s.cancel()
	s.graph.DisposeAll()
}

// threadLocalSession holds the session of the page running on a thread
const threadLocalSession = "wirepage.session"

func (s *session) newThread(name string) *starlark.Thread {
	t := &starlark.Thread{
		Name: name,
		Print: func(_ *starlark.Thread, msg string) {
			if debugLog != nil {
				debugLog("[print]", msg)
			}
		},
	}
	t.SetLocal(reactive.ThreadLocalGraph, s.graph)
	t.SetLocal(threadLocalSession, s)
	return t
}

func sessionOf(thread *starlark.Thread) (*session, bool) {
	s, ok := thread.Local(threadLocalSession).(*session)
	return s, ok
}

// bindThread cancels thread when ctx is done
func bindThread(ctx context.Context, thread *starlark.Thread) func() bool {
	if ctx == nil {
		return func() bool { return true }
	}
	return context.AfterFunc(ctx, func() {
		thread.Cancel(ctx.Err().Error())
	})
}

// boundMethod is a page method with self already supplied
type boundMethod struct {
	fn   *starlark.Function
	self *Page
}

var _ starlark.Callable = (*boundMethod)(nil)

func (m *boundMethod) Name() string          { return m.fn.Name() }
func (m *boundMethod) String() string        { return fmt.Sprintf("<bound method %s of %s>", m.fn.Name(), m.self) }
func (m *boundMethod) Type() string          { return "bound_method" }
func (m *boundMethod) Freeze()               {}
func (m *boundMethod) Truth() starlark.Bool  { return starlark.True }
func (m *boundMethod) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: bound_method") }

func (m *boundMethod) CallInternal(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	all := make(starlark.Tuple, 0, len(args)+1)
	all = append(all, m.self)
	all = append(all, args...)
	return starlark.Call(thread, m.fn, all, kwargs)
}
