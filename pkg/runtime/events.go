package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	starlarkjson "go.starlark.net/lib/json"
	"go.starlark.net/starlark"
)

// Prefixes of the handlers generated by the compiler. They are always
// allowed; any other name starting with an underscore never is.
const (
	BindPrefix    = "_handle_bind_"
	HandlerPrefix = "_handler_"
	SubmitPrefix  = "_form_submit_"
)

// HandleEvent runs the named handler with the event payload and returns the
// resulting update. Names of the form "c3.save" address the component
// instance with prefix "c3.".
func (p *Page) HandleEvent(ctx context.Context, name string, payload map[string]interface{}) (Update, error) {
	s := p.s
	s.op.Lock()
	defer s.op.Unlock()
	s.loop.Lock()
	defer s.loop.Unlock()
	if p.closed {
		return Update{}, ErrClosed
	}

	target, handler := p, name
	if i := strings.LastIndex(name, "."); i >= 0 {
		child, ok := s.children[name[:i+1]]
		if !ok {
			return Update{}, &HandlerError{Name: name, Err: ErrHandlerNotFound}
		}
		target, handler = child, name[i+1:]
	}
	if !target.handlerAllowed(handler) {
		return Update{}, &HandlerError{Name: name, Err: ErrHandlerNotAllowed}
	}

	thread := s.newThread("event " + name)
	stop := bindThread(ctx, thread)
	defer stop()

	data, err := toStarlark(thread, payload)
	if err != nil {
		return Update{}, err
	}
	if err := target.dispatch(thread, handler, data); err != nil {
		return Update{}, err
	}
	return p.renderUpdate(ctx, false)
}

func (p *Page) handlerAllowed(name string) bool {
	for _, prefix := range []string{BindPrefix, HandlerPrefix, SubmitPrefix} {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	if strings.HasPrefix(name, "_") {
		return false
	}
	return p.allowed(name)
}

func (p *Page) dispatch(thread *starlark.Thread, handler string, payload *starlark.Dict) error {
	if native, ok := p.native(handler); ok {
		return native(p, thread, payload)
	}
	fn, ok := p.method(handler)
	if !ok {
		return &HandlerError{Name: handler, Err: ErrHandlerNotFound}
	}
	if strings.HasPrefix(handler, BindPrefix) {
		_, err := starlark.Call(thread, fn, starlark.Tuple{p, payload}, nil)
		return err
	}
	kwargs, err := handlerKwargs(fn, payload)
	if err != nil {
		return err
	}
	v, err := starlark.Call(thread, fn, starlark.Tuple{p}, kwargs)
	if err != nil {
		return err
	}
	if fut, ok := v.(*Future); ok {
		_, err = p.wait(thread, fut)
	}
	return err
}

// handlerKwargs maps the payload onto the handler's parameters. The
// payload's "args" entries are flattened in, "arg-0" becoming "arg0".
// Handlers with **kwargs receive everything; otherwise a parameter named
// event or event_data receives the whole payload and other parameters
// receive the entry of the same name when there is one.
func handlerKwargs(fn *starlark.Function, payload *starlark.Dict) ([]starlark.Tuple, error) {
	values := starlark.NewDict(payload.Len())
	for _, kv := range payload.Items() {
		if k, _ := starlark.AsString(kv[0]); k == "args" {
			continue
		}
		if err := values.SetKey(kv[0], kv[1]); err != nil {
			return nil, err
		}
	}
	if args, found, _ := payload.Get(starlark.String("args")); found {
		if m, ok := args.(starlark.IterableMapping); ok {
			for _, kv := range m.Items() {
				k, _ := starlark.AsString(kv[0])
				if strings.HasPrefix(k, "arg") {
					k = strings.ReplaceAll(k, "-", "")
				}
				if err := values.SetKey(starlark.String(k), kv[1]); err != nil {
					return nil, err
				}
			}
		}
	}

	var kwargs []starlark.Tuple
	if fn.HasKwargs() {
		for _, kv := range values.Items() {
			if k, _ := starlark.AsString(kv[0]); k == "self" {
				continue
			}
			kwargs = append(kwargs, starlark.Tuple{kv[0], kv[1]})
		}
		return kwargs, nil
	}

	n := fn.NumParams()
	if fn.HasVarargs() {
		n--
	}
	for i := 1; i < n; i++ {
		name, _ := fn.Param(i)
		if name == "event" || name == "event_data" {
			kwargs = append(kwargs, starlark.Tuple{starlark.String(name), &EventData{d: values}})
			continue
		}
		if v, found, _ := values.Get(starlark.String(name)); found {
			kwargs = append(kwargs, starlark.Tuple{starlark.String(name), v})
		}
	}
	return kwargs, nil
}

// toStarlark converts a decoded payload through JSON
func toStarlark(thread *starlark.Thread, payload map[string]interface{}) (*starlark.Dict, error) {
	if payload == nil {
		return starlark.NewDict(0), nil
	}
	data, err := json.Marshal(normalize(payload))
	if err != nil {
		return nil, fmt.Errorf("event payload: %w", err)
	}
	decode := starlarkjson.Module.Members["decode"]
	v, err := starlark.Call(thread, decode, starlark.Tuple{starlark.String(data)}, nil)
	if err != nil {
		return nil, fmt.Errorf("event payload: %w", err)
	}
	d, ok := v.(*starlark.Dict)
	if !ok {
		return nil, fmt.Errorf("event payload: want object, got %s", v.Type())
	}
	return d, nil
}

// normalize converts the map[interface{}]interface{} values some decoders
// produce into JSON-encodable maps
func normalize(v interface{}) interface{} {
	switch x := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(x))
		for k, e := range x {
			out[k] = normalize(e)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(x))
		for k, e := range x {
			out[fmt.Sprint(k)] = normalize(e)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, e := range x {
			out[i] = normalize(e)
		}
		return out
	}
	return v
}

// EventData is the payload of an event as seen by handler code. Entries
// are reachable by key or as attributes; missing attributes are None.
type EventData struct {
	d *starlark.Dict
}

var (
	_ starlark.IterableMapping = (*EventData)(nil)
	_ starlark.HasAttrs        = (*EventData)(nil)
)

func (e *EventData) String() string        { return "event(" + e.d.String() + ")" }
func (e *EventData) Type() string          { return "event" }
func (e *EventData) Freeze()               { e.d.Freeze() }
func (e *EventData) Truth() starlark.Bool  { return e.d.Truth() }
func (e *EventData) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: event") }

func (e *EventData) Get(k starlark.Value) (starlark.Value, bool, error) {
	return e.d.Get(k)
}

func (e *EventData) Iterate() starlark.Iterator { return e.d.Iterate() }
func (e *EventData) Items() []starlark.Tuple    { return e.d.Items() }

func (e *EventData) Attr(name string) (starlark.Value, error) {
	if name == "get" {
		return starlark.NewBuiltin("get", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var key, dflt starlark.Value = nil, starlark.None
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &key, &dflt); err != nil {
				return nil, err
			}
			v, found, err := e.d.Get(key)
			if err != nil || !found {
				return dflt, err
			}
			return v, nil
		}), nil
	}
	v, found, err := e.d.Get(starlark.String(name))
	if err != nil {
		return nil, err
	}
	if !found {
		return starlark.None, nil
	}
	return v, nil
}

func (e *EventData) AttrNames() []string {
	names := []string{"get"}
	for _, k := range e.d.Keys() {
		if s, ok := starlark.AsString(k); ok {
			names = append(names, s)
		}
	}
	sort.Strings(names)
	return names
}
