package reactive

// node is the tracking state shared by every reactive source.
type node struct {
	g      *Graph
	id     uint64
	parent *node
	field  string
	frozen bool

	pages       []Listener
	subscribers []observer
}

func newNode(g *Graph) node {
	return node{g: g, id: newID()}
}

// ID returns the source identity used in dependency keys.
func (n *node) ID() uint64 {
	return n.id
}

func (n *node) trackRead(field string) {
	if n.frozen || n.g == nil {
		return
	}
	g := n.g

	if s := g.scope; s != nil && s.Listener != nil {
		n.addPage(s.Listener)
		s.Listener.RegisterRead(Key{Source: n.id, Field: field}, s.Region)
	}

	if o := g.top(); o != nil {
		n.addSubscriber(o)
		o.addSource(n)
	}
}

func (n *node) addPage(l Listener) {
	for _, p := range n.pages {
		if p == l {
			return
		}
	}
	n.pages = append(n.pages, l)
}

func (n *node) addSubscriber(o observer) {
	for _, s := range n.subscribers {
		if s == o {
			return
		}
	}
	n.subscribers = append(n.subscribers, o)
}

func (n *node) removeSubscriber(o observer) {
	for i, s := range n.subscribers {
		if s == o {
			n.subscribers = append(n.subscribers[:i], n.subscribers[i+1:]...)
			return
		}
	}
}

// checkWrite runs before any mutation so a rejected write leaves the value
// untouched.
func (n *node) checkWrite(typ string) error {
	if n.frozen {
		return &FrozenError{Type: typ}
	}
	if n.g != nil {
		if d, ok := n.g.top().(*Derived); ok {
			return &ReactivityError{Derived: d.name}
		}
	}
	return nil
}

// notifyWrite propagates a write: parent proxies first, then downstream
// subscribers inside a batch, then every listener that read this source.
func (n *node) notifyWrite(field string) error {
	if n.g == nil {
		return nil
	}
	g := n.g

	if d, ok := g.top().(*Derived); ok {
		return &ReactivityError{Derived: d.name}
	}

	if n.parent != nil {
		f := n.field
		if f == "" {
			f = "value"
		}
		if err := n.parent.notifyWrite(f); err != nil {
			return err
		}
	}

	if debugLog != nil {
		debugLog("[Wire] write", n.id, field, "subscribers:", len(n.subscribers), "pages:", len(n.pages))
	}

	var firstErr error
	g.StartBatch()
	subs := append([]observer(nil), n.subscribers...)
	for _, sub := range subs {
		if err := sub.execute(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := g.EndBatch(); err != nil && firstErr == nil {
		firstErr = err
	}

	n.invalidate(field)
	return firstErr
}

func (n *node) invalidate(field string) {
	for _, p := range append([]Listener(nil), n.pages...) {
		p.InvalidateKey(Key{Source: n.id, Field: field})
		if field != "value" {
			p.InvalidateKey(Key{Source: n.id, Field: "value"})
		}
	}
}
