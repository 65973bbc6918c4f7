package runtime

import (
	"fmt"
	"strconv"

	"github.com/recera/wirepage/pkg/reactive"
	"go.starlark.net/starlark"
)

// Component renders a component instance in place. site identifies the
// use in the parent's template; instances persist across renders per
// region, site and occurrence. slots holds pre-rendered slot contents.
func (f *Frame) Component(site, name string, props []starlark.Tuple, slots map[string]string, ref starlark.Value) error {
	p := f.Page
	s := p.s
	resolver := p.opts.Resolver
	if resolver == nil {
		return fmt.Errorf("%s: component %s used without a resolver", p.prog.File, name)
	}
	prog, err := resolver.ResolveComponent(p.prog, name)
	if err != nil {
		return err
	}

	key := "component:" + f.region + "/" + site
	n := s.counts[key]
	s.counts[key] = n + 1
	instance := key + ":" + strconv.Itoa(n)

	child, ok := s.instances[instance]
	if !ok || child.prog != prog {
		child, err = p.newChild(f.thread, prog, instance, props, slots)
		if err != nil {
			return err
		}
		s.instances[instance] = child
	} else {
		child.slotHTML = map[string]map[string]string{prog.LayoutID: slots}
		if err := child.applyProps(f.thread, props, false); err != nil {
			return err
		}
	}

	if ref != nil {
		if r, ok := ref.(reactive.Reactive); ok {
			if err := r.Set(child); err != nil {
				return err
			}
		}
	}

	for _, q := range child.chain {
		if q.Style != "" {
			s.styles.Add(q.StyleID, q.Style)
		}
	}
	root := child.chain[len(child.chain)-1]
	if root.Main == nil {
		return nil
	}
	cf := &Frame{Page: child, Out: f.Out, thread: f.thread, region: f.region}
	return root.Main(cf)
}

// newChild creates a component instance sharing the parent's session
func (p *Page) newChild(thread *starlark.Thread, prog *Program, instance string, props []starlark.Tuple, slots map[string]string) (*Page, error) {
	s := p.s
	id, ok := s.childIDs[instance]
	if !ok {
		id = len(s.childIDs) + 1
		s.childIDs[instance] = id
	}
	ctx := starlark.NewDict(p.context.Len())
	for _, kv := range p.context.Items() {
		_ = ctx.SetKey(kv[0], kv[1])
	}
	opts := p.opts
	opts.Component = true
	child := &Page{
		prog:      prog,
		chain:     prog.Chain(),
		s:         s,
		opts:      opts,
		prefix:    "c" + strconv.Itoa(id) + ".",
		component: true,
		members:   make(map[string]starlark.Value),
		context:   ctx,
		slotHTML:  map[string]map[string]string{prog.LayoutID: slots},
	}
	child.collectFills()
	s.children[child.prefix] = child

	prev := s.graph.Suspend()
	defer s.graph.Resume(prev)
	if err := child.initialize(thread, props); err != nil {
		return nil, err
	}
	return child, nil
}

// RenderSlot renders the named slot of layout: the fill registered by a
// page using the layout, the content given by a component's caller, or
// fallback.
func (f *Frame) RenderSlot(layoutID, name string, fallback Proc) error {
	p := f.Page
	if fill, ok := p.fills[layoutID][name]; ok {
		return fill(f)
	}
	if html, ok := p.slotHTML[layoutID][name]; ok {
		f.Write(html)
		return nil
	}
	if fallback != nil {
		return fallback(f)
	}
	return nil
}

// HeadSlot renders the layout's own head content followed by the head
// contributions of every page in the chain
func (f *Frame) HeadSlot(fallback Proc) error {
	if fallback != nil {
		if err := fallback(f); err != nil {
			return err
		}
	}
	for _, fill := range f.Page.headFills {
		if err := fill(f); err != nil {
			return err
		}
	}
	return nil
}
