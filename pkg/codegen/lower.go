package codegen

import (
	"strconv"
	"strings"

	"github.com/recera/wirepage/pkg/runtime"
	"github.com/recera/wirepage/pkg/styling"
	"github.com/recera/wirepage/pkg/template"
)

// emitter collects the steps of one render procedure, merging adjacent
// static markup into single writes
type emitter struct {
	steps []runtime.Proc
	text  strings.Builder
}

func (e *emitter) write(s string) {
	e.text.WriteString(s)
}

func (e *emitter) flush() {
	if e.text.Len() == 0 {
		return
	}
	s := e.text.String()
	e.text.Reset()
	e.steps = append(e.steps, func(f *runtime.Frame) error {
		f.Write(s)
		return nil
	})
}

func (e *emitter) op(p runtime.Proc) {
	e.flush()
	e.steps = append(e.steps, p)
}

func (e *emitter) proc() runtime.Proc {
	e.flush()
	steps := e.steps
	switch len(steps) {
	case 0:
		return func(*runtime.Frame) error { return nil }
	case 1:
		return steps[0]
	}
	return func(f *runtime.Frame) error {
		for _, step := range steps {
			if err := step(f); err != nil {
				return err
			}
		}
		return nil
	}
}

// structural elements never become regions
var structural = map[string]bool{"html": true, "head": true, "body": true}

// unscoped elements never carry the scoped style attribute
var unscoped = map[string]bool{"style": true, "script": true, "slot": true, "template": true}

// template lowers the template section. A page with a layout contributes
// slot fills instead of a main procedure.
func (c *compiler) template(nodes []*template.Node) error {
	sc := &scope{regions: !c.opts.NoRegions}
	if c.prog.LayoutFile == "" {
		c.root = rootElement(nodes)
		main, err := c.lower(nodes, sc)
		if err != nil {
			return err
		}
		c.prog.Main = main
		return nil
	}

	var rest []*template.Node
	for _, n := range nodes {
		switch strings.ToLower(n.Tag) {
		case "slot":
			name, ok := n.Attr("name")
			if !ok || name == "" {
				name = "default"
			}
			proc, err := c.lower(n.Children, sc)
			if err != nil {
				return err
			}
			c.prog.Fills[name] = proc
		case "head":
			proc, err := c.lower(n.Children, sc.noRegions())
			if err != nil {
				return err
			}
			c.prog.HeadFills = append(c.prog.HeadFills, proc)
		default:
			rest = append(rest, n)
		}
	}
	if _, ok := c.prog.Fills["default"]; !ok && hasContent(rest) {
		proc, err := c.lower(rest, sc)
		if err != nil {
			return err
		}
		c.prog.Fills["default"] = proc
	}
	return nil
}

// rootElement is the element receiving fallthrough attributes when the
// file is used as a component
func rootElement(nodes []*template.Node) *template.Node {
	for _, n := range nodes {
		if n.Tag == "" {
			continue
		}
		switch strings.ToLower(n.Tag) {
		case "style", "script", "slot":
			continue
		}
		return n
	}
	return nil
}

func isWhitespace(n *template.Node) bool {
	return n.IsText() && strings.TrimSpace(n.Text) == ""
}

func hasContent(nodes []*template.Node) bool {
	for _, n := range nodes {
		if !isWhitespace(n) {
			return true
		}
	}
	return false
}

func (c *compiler) lower(nodes []*template.Node, sc *scope) (runtime.Proc, error) {
	e := &emitter{}
	if err := c.nodes(e, nodes, sc); err != nil {
		return nil, err
	}
	return e.proc(), nil
}

// strip copies n without the specials drop selects
func (c *compiler) strip(n *template.Node, drop func(template.Special) bool) *template.Node {
	cp := *n
	cp.Special = nil
	for _, s := range n.Special {
		if !drop(s) {
			cp.Special = append(cp.Special, s)
		}
	}
	if n == c.root {
		c.root = &cp
	}
	return &cp
}

func isConditional(s template.Special) bool {
	switch s.(type) {
	case *template.If, *template.Elif, *template.Else:
		return true
	}
	return false
}

func isLoop(s template.Special) bool {
	_, ok := s.(*template.For)
	return ok
}

// nodes lowers a sibling list. Elements carrying $if, $elif and $else form
// one chain; whitespace between them is dropped.
func (c *compiler) nodes(e *emitter, nodes []*template.Node, sc *scope) error {
	for i := 0; i < len(nodes); i++ {
		n := nodes[i]
		if n.Tag == "" {
			if err := c.node(e, n, sc); err != nil {
				return err
			}
			continue
		}

		if f, ok := template.SpecialOf[*template.For](n.Special); ok {
			body := c.strip(n, isLoop)
			if err := c.loop(e, f, []*template.Node{body}, nil, false, sc); err != nil {
				return err
			}
			continue
		}

		cond, ok := template.SpecialOf[*template.If](n.Special)
		if !ok {
			if el, ok := template.SpecialOf[*template.Elif](n.Special); ok {
				return &template.SyntaxError{File: c.doc.File, Line: el.Line, Col: el.Col, Msg: "$elif without a preceding $if", Kind: template.ErrStructure}
			}
			if el, ok := template.SpecialOf[*template.Else](n.Special); ok {
				return &template.SyntaxError{File: c.doc.File, Line: el.Line, Col: el.Col, Msg: "$else without a preceding $if", Kind: template.ErrStructure}
			}
			if err := c.element(e, n, sc); err != nil {
				return err
			}
			continue
		}

		arms := []arm{{cond: cond.Cond, sp: cond, nodes: []*template.Node{c.strip(n, isConditional)}}}
		j := i + 1
	chain:
		for ; j < len(nodes); j++ {
			m := nodes[j]
			if isWhitespace(m) {
				continue
			}
			if m.Tag == "" {
				break
			}
			if el, ok := template.SpecialOf[*template.Elif](m.Special); ok {
				arms = append(arms, arm{cond: el.Cond, sp: el, nodes: []*template.Node{c.strip(m, isConditional)}})
				i = j
				continue
			}
			if el, ok := template.SpecialOf[*template.Else](m.Special); ok {
				arms = append(arms, arm{sp: el, nodes: []*template.Node{c.strip(m, isConditional)}})
				i = j
			}
			break chain
		}
		if err := c.conditional(e, arms, sc); err != nil {
			return err
		}
	}
	return nil
}

// node lowers a text run, an interpolation, a brace block or an element
func (c *compiler) node(e *emitter, n *template.Node, sc *scope) error {
	if n.IsText() {
		e.write(n.Text)
		return nil
	}
	if n.Tag != "" {
		return c.nodes(e, []*template.Node{n}, sc)
	}
	for _, s := range n.Special {
		switch x := s.(type) {
		case *template.Interpolation:
			ex, err := c.exprAt(x.Expr, x, sc)
			if err != nil {
				return err
			}
			raw := x.Raw
			e.op(func(f *runtime.Frame) error { return f.Interpolate(ex, raw) })
			return nil
		case *template.If:
			return c.ifBlock(e, n, x, sc)
		case *template.For:
			head, sections := splitBranches(n.Children)
			var elseNodes []*template.Node
			hasElse := false
			for _, s := range sections {
				if _, ok := s.marker.(*template.Else); ok {
					elseNodes, hasElse = s.nodes, true
				}
			}
			return c.loop(e, x, head, elseNodes, hasElse, sc)
		case *template.Try:
			return c.tryBlock(e, n, sc)
		case *template.Await:
			return c.awaitBlock(e, n, x, sc)
		}
	}
	return nil
}

// element lowers one element: a slot, a component, a region or plain
// markup
func (c *compiler) element(e *emitter, n *template.Node, sc *scope) error {
	lower := strings.ToLower(n.Tag)
	if lower == "slot" {
		return c.slot(e, n, sc)
	}
	if c.isComponent(n.Tag) {
		return c.component(e, n, sc)
	}
	if sc.regions && len(sc.locals) == 0 && !structural[lower] && c.dynamic(n) {
		c.regionN++
		id := c.prog.UnitID + "r" + strconv.Itoa(c.regionN)
		re := &emitter{}
		if err := c.markup(re, n, sc.noRegions(), true); err != nil {
			return err
		}
		proc := re.proc()
		c.prog.Regions[id] = proc
		e.op(func(f *runtime.Frame) error { return f.RenderRegion(id, proc) })
		return nil
	}
	return c.markup(e, n, sc, false)
}

// dynamic reports whether anything in n's subtree depends on page state
func (c *compiler) dynamic(n *template.Node) bool {
	for _, s := range n.Special {
		if _, ok := s.(*template.Event); !ok {
			return true
		}
	}
	if n.Tag != "" && (strings.EqualFold(n.Tag, "slot") || c.isComponent(n.Tag)) {
		return true
	}
	for _, ch := range n.Children {
		if c.dynamic(ch) {
			return true
		}
	}
	return false
}

func (c *compiler) isComponent(tag string) bool {
	if _, ok := c.prog.Components[tag]; ok {
		return true
	}
	return tag != "" && tag[0] >= 'A' && tag[0] <= 'Z'
}

// attrOp computes part of an element's attributes at render time
type attrOp func(f *runtime.Frame, a *runtime.Attrs) error

// markup lowers an element's tag, attributes and children. region marks
// the root element of a region procedure.
func (c *compiler) markup(e *emitter, n *template.Node, sc *scope, region bool) error {
	lower := strings.ToLower(n.Tag)
	void := template.IsVoid(lower)
	scoped := c.scopeID != "" && !unscoped[lower]
	root := n == c.root
	option := lower == "option" && c.selected != nil
	defer func(prev *runtime.Expr) { c.selected = prev }(c.selected)

	if !region && !root && !option && len(n.Special) == 0 {
		e.write("<" + n.Tag)
		for _, a := range n.Attrs {
			e.write(" " + a.Name)
			if a.Value != "" {
				e.write(`="` + runtime.Escape(a.Value) + `"`)
			}
		}
		if scoped {
			e.write(" " + styling.Attr(c.scopeID))
		}
		e.write(">")
		if err := c.nodes(e, n.Children, sc); err != nil {
			return err
		}
		if !void {
			e.write("</" + n.Tag + ">")
		}
		return nil
	}

	var ops []attrOp
	for _, a := range n.Attrs {
		name, value := a.Name, a.Value
		ops = append(ops, func(_ *runtime.Frame, at *runtime.Attrs) error {
			at.Set(name, value)
			return nil
		})
	}
	if scoped {
		attr := styling.Attr(c.scopeID)
		ops = append(ops, func(_ *runtime.Frame, at *runtime.Attrs) error {
			at.Set(attr, "")
			return nil
		})
	}
	if region {
		ops = append(ops, func(f *runtime.Frame, at *runtime.Attrs) error {
			at.Set("data-wire-region", f.Region())
			return nil
		})
	}

	ev := &events{}
	var content *runtime.Expr
	for _, s := range n.Special {
		switch x := s.(type) {
		case *template.Reactive:
			ex, err := c.exprAt(x.Expr, x, sc)
			if err != nil {
				return err
			}
			name := x.Name
			ops = append(ops, func(f *runtime.Frame, at *runtime.Attrs) error {
				v, err := f.Eval(ex)
				if err != nil {
					return err
				}
				return at.SetValue(name, v)
			})
		case *template.Spread:
			ex, err := c.exprAt(x.Expr, x, sc)
			if err != nil {
				return err
			}
			ops = append(ops, func(f *runtime.Frame, at *runtime.Attrs) error {
				v, err := f.Eval(ex)
				if err != nil {
					return err
				}
				return at.Merge(v)
			})
		case *template.Show:
			ex, err := c.exprAt(x.Cond, x, sc)
			if err != nil {
				return err
			}
			ops = append(ops, func(f *runtime.Frame, at *runtime.Attrs) error {
				ok, err := f.EvalBool(ex)
				if err != nil {
					return err
				}
				if !ok {
					at.AppendStyle("display: none")
				}
				return nil
			})
		case *template.Key:
			ex, err := c.exprAt(x.Expr, x, sc)
			if err != nil {
				return err
			}
			ops = append(ops, func(f *runtime.Frame, at *runtime.Attrs) error {
				s, err := f.EvalString(ex)
				if err != nil {
					return err
				}
				at.Set("id", s)
				return nil
			})
		case *template.Event:
			if err := c.event(ev, x, sc); err != nil {
				return err
			}
		case *template.Bind:
			op, value, err := c.bind(ev, n, x, sc)
			if err != nil {
				return err
			}
			if op != nil {
				ops = append(ops, op)
			}
			content = value
		}
	}
	ops = append(ops, ev.ops()...)
	if option {
		ops = append(ops, c.optionSelected(n))
	}
	if root {
		ops = append(ops, func(f *runtime.Frame, at *runtime.Attrs) error {
			if !f.Page.IsComponent() {
				return nil
			}
			if v, ok := f.Page.Member("attrs"); ok {
				return at.Merge(v)
			}
			return nil
		})
	}

	tag := n.Tag
	e.op(func(f *runtime.Frame) error {
		at := runtime.NewAttrs()
		for _, op := range ops {
			if err := op(f, at); err != nil {
				return err
			}
		}
		var b strings.Builder
		b.WriteString("<" + tag)
		at.WriteTo(&b)
		b.WriteString(">")
		f.Write(b.String())
		return nil
	})
	if content != nil {
		e.op(func(f *runtime.Frame) error { return f.Interpolate(content, false) })
	} else if err := c.nodes(e, n.Children, sc); err != nil {
		return err
	}
	if !void {
		e.write("</" + n.Tag + ">")
	}
	return nil
}

// optionSelected marks an option of a bound select when its value matches
// the bound value. An option without a value attribute matches on its text.
func (c *compiler) optionSelected(n *template.Node) attrOp {
	bound := c.selected
	var text strings.Builder
	for _, ch := range n.Children {
		if ch.IsText() {
			text.WriteString(ch.Text)
		}
	}
	label := strings.TrimSpace(text.String())
	return func(f *runtime.Frame, at *runtime.Attrs) error {
		s, err := f.EvalString(bound)
		if err != nil {
			return err
		}
		value, ok := at.Get("value")
		if !ok {
			value = label
		}
		if value == s {
			at.Set("selected", "")
		} else {
			at.Delete("selected")
		}
		return nil
	}
}
