package codegen

import (
	"sort"
	"strings"

	"github.com/recera/wirepage/pkg/reactive"
	"github.com/recera/wirepage/pkg/runtime"
	"github.com/recera/wirepage/pkg/template"
	"go.starlark.net/starlark"
)

// propOp appends computed props at render time
type propOp func(f *runtime.Frame, props []starlark.Tuple) ([]starlark.Tuple, error)

// component lowers a component use. Static and computed attributes become
// props, event handlers are passed as data-on-* props that fall through to
// the component's root element, and children are pre-rendered into slots.
func (c *compiler) component(e *emitter, n *template.Node, sc *scope) error {
	var ops []propOp
	for _, a := range n.Attrs {
		kv := starlark.Tuple{starlark.String(a.Name), starlark.String(a.Value)}
		ops = append(ops, func(_ *runtime.Frame, props []starlark.Tuple) ([]starlark.Tuple, error) {
			return append(props, kv), nil
		})
	}

	var ref *runtime.Expr
	ev := &events{}
	for _, s := range n.Special {
		switch x := s.(type) {
		case *template.Reactive:
			if x.Name == "ref" {
				line, col := x.Pos()
				ex, err := c.expr(x.Expr, line, col, sc, modeRef)
				if err != nil {
					return err
				}
				ex.Cacheable = false
				ref = ex
				continue
			}
			ex, err := c.exprAt(x.Expr, x, sc)
			if err != nil {
				return err
			}
			name := starlark.String(x.Name)
			ops = append(ops, func(f *runtime.Frame, props []starlark.Tuple) ([]starlark.Tuple, error) {
				v, err := f.Eval(ex)
				if err != nil {
					return nil, err
				}
				return append(props, starlark.Tuple{name, v}), nil
			})
		case *template.Spread:
			ex, err := c.exprAt(x.Expr, x, sc)
			if err != nil {
				return err
			}
			ops = append(ops, func(f *runtime.Frame, props []starlark.Tuple) ([]starlark.Tuple, error) {
				v, err := f.Eval(ex)
				if err != nil {
					return nil, err
				}
				if v, err = reactive.Unwrap(v); err != nil {
					return nil, err
				}
				m, ok := v.(starlark.IterableMapping)
				if !ok {
					return props, nil
				}
				for _, kv := range m.Items() {
					k, ok := starlark.AsString(kv[0])
					if !ok {
						k = kv[0].String()
					}
					props = append(props, starlark.Tuple{starlark.String(k), kv[1]})
				}
				return props, nil
			})
		case *template.Event:
			if err := c.event(ev, x, sc); err != nil {
				return err
			}
		}
	}
	for _, op := range ev.ops() {
		op := op
		ops = append(ops, func(f *runtime.Frame, props []starlark.Tuple) ([]starlark.Tuple, error) {
			at := runtime.NewAttrs()
			if err := op(f, at); err != nil {
				return nil, err
			}
			for _, kv := range at.Plain().Items() {
				props = append(props, starlark.Tuple{kv[0], kv[1]})
			}
			return props, nil
		})
	}

	slots, err := c.slotContents(n.Children, sc.noRegions())
	if err != nil {
		return err
	}
	names := make([]string, 0, len(slots))
	for name := range slots {
		names = append(names, name)
	}
	sort.Strings(names)

	site := c.site("c")
	tag := n.Tag
	e.op(func(f *runtime.Frame) error {
		var props []starlark.Tuple
		var err error
		for _, op := range ops {
			if props, err = op(f, props); err != nil {
				return err
			}
		}
		rendered := make(map[string]string, len(names))
		for _, name := range names {
			sub := f.Sub()
			if err := slots[name](sub); err != nil {
				return err
			}
			rendered[name] = sub.Out.String()
		}
		var refValue starlark.Value
		if ref != nil {
			if refValue, err = f.Eval(ref); err != nil {
				return err
			}
		}
		return f.Component(site, tag, props, rendered, refValue)
	})
	return nil
}

// slotContents groups a component's children by their slot attribute.
// Unassigned children fill the default slot when they are not all
// whitespace.
func (c *compiler) slotContents(children []*template.Node, sc *scope) (map[string]runtime.Proc, error) {
	groups := make(map[string][]*template.Node)
	for _, ch := range children {
		if ch.Tag != "" {
			if name, ok := ch.Attr("slot"); ok && name != "" {
				cp := *ch
				cp.Attrs = nil
				for _, a := range ch.Attrs {
					if a.Name != "slot" {
						cp.Attrs = append(cp.Attrs, a)
					}
				}
				groups[name] = append(groups[name], &cp)
				continue
			}
		}
		groups["default"] = append(groups["default"], ch)
	}
	slots := make(map[string]runtime.Proc, len(groups))
	for name, nodes := range groups {
		if name == "default" && !hasContent(nodes) {
			continue
		}
		proc, err := c.lower(nodes, sc)
		if err != nil {
			return nil, err
		}
		slots[name] = proc
	}
	return slots, nil
}

// slot lowers a <slot> outlet of a layout or component. <slot $head>
// collects the head contributions of the pages using the layout.
func (c *compiler) slot(e *emitter, n *template.Node, sc *scope) error {
	var fallback runtime.Proc
	if len(n.Children) > 0 {
		proc, err := c.lower(n.Children, sc.noRegions())
		if err != nil {
			return err
		}
		fallback = proc
	}
	if _, ok := n.Attr("$head"); ok {
		e.op(func(f *runtime.Frame) error { return f.HeadSlot(fallback) })
		return nil
	}
	name, ok := n.Attr("name")
	if !ok || strings.TrimSpace(name) == "" {
		name = "default"
	}
	layoutID := c.prog.LayoutID
	e.op(func(f *runtime.Frame) error { return f.RenderSlot(layoutID, name, fallback) })
	return nil
}
