package codegen

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/recera/wirepage/pkg/runtime"
	"github.com/recera/wirepage/pkg/template"
	"go.starlark.net/syntax"
)

// argTable numbers the template locals an element's handlers read. Local
// i is sent by the client as data-arg-i and received as argi.
type argTable struct {
	names []string
}

func (t *argTable) param(name string) string {
	for i, n := range t.names {
		if n == name {
			return "arg" + strconv.Itoa(i)
		}
	}
	t.names = append(t.names, name)
	return "arg" + strconv.Itoa(len(t.names)-1)
}

type handlerRef struct {
	name      string
	modifiers []string
	// args are the parameters the handler receives from data-arg-*
	args []string
}

// events collects the handlers of one element, grouped by event type
type events struct {
	order  []string
	byType map[string][]handlerRef
	args   argTable
}

func (ev *events) add(typ, name string, modifiers, args []string) {
	if ev.byType == nil {
		ev.byType = make(map[string][]handlerRef)
	}
	if _, ok := ev.byType[typ]; !ok {
		ev.order = append(ev.order, typ)
	}
	ev.byType[typ] = append(ev.byType[typ], handlerRef{name: name, modifiers: modifiers, args: args})
}

type handlerEntry struct {
	Handler   string   `json:"handler"`
	Modifiers []string `json:"modifiers"`
	Args      []string `json:"args"`
}

func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}

// ops renders the data-on-*, data-modifiers-* and data-arg-* attributes.
// A type with several handlers is sent as a JSON list whose entries carry
// their own modifiers.
func (ev *events) ops() []attrOp {
	var ops []attrOp
	for _, typ := range ev.order {
		refs := ev.byType[typ]
		typ := typ
		if len(refs) == 1 {
			ref := refs[0]
			mods := strings.Join(ref.modifiers, " ")
			ops = append(ops, func(f *runtime.Frame, at *runtime.Attrs) error {
				at.Set("data-on-"+typ, f.Page.HandlerName(ref.name))
				if mods != "" {
					at.Set("data-modifiers-"+typ, mods)
				}
				return nil
			})
			continue
		}
		ops = append(ops, func(f *runtime.Frame, at *runtime.Attrs) error {
			entries := make([]handlerEntry, len(refs))
			for i, ref := range refs {
				entries[i] = handlerEntry{
					Handler:   f.Page.HandlerName(ref.name),
					Modifiers: nonNil(ref.modifiers),
					Args:      nonNil(ref.args),
				}
			}
			data, err := json.Marshal(entries)
			if err != nil {
				return err
			}
			at.Set("data-on-"+typ, string(data))
			return nil
		})
	}
	for i, local := range ev.args.names {
		attr, local := "data-arg-"+strconv.Itoa(i), local
		ops = append(ops, func(f *runtime.Frame, at *runtime.Attrs) error {
			s, err := f.LocalJSON(local)
			if err != nil {
				return err
			}
			at.Set(attr, s)
			return nil
		})
	}
	return ops
}

// event lowers one @type handler. A submit handler of a form with
// validated fields goes through the generated form native.
func (c *compiler) event(ev *events, x *template.Event, sc *scope) error {
	name, args, err := c.handler(x, sc, &ev.args)
	if err != nil {
		return err
	}
	if x.Type == "submit" && x.Schema != nil && len(x.Schema.Fields) > 0 && c.syms.methods[name] {
		native := runtime.SubmitPrefix + name
		exprs, err := c.fieldExprs(x)
		if err != nil {
			return err
		}
		c.prog.Natives[native] = runtime.SubmitNative(name, x.Schema, exprs)
		name = native
	}
	ev.add(x.Type, name, x.Modifiers, args)
	return nil
}

// fieldExprs compiles the dynamic validation bounds of a form. Bounds that
// read template locals cannot be evaluated at submit time and are skipped.
func (c *compiler) fieldExprs(x *template.Event) (map[string]runtime.FieldExprs, error) {
	exprs := make(map[string]runtime.FieldExprs)
	line, col := x.Pos()
	compile := func(src string) (*runtime.Expr, error) {
		if src == "" {
			return nil, nil
		}
		ex, err := c.expr(src, line, col, nil, modeTemplate)
		if err != nil || len(ex.Locals) > 0 {
			return nil, err
		}
		ex.Cacheable = false
		return ex, nil
	}
	for _, field := range x.Schema.Fields {
		var fe runtime.FieldExprs
		var err error
		if fe.Required, err = compile(field.RequiredExpr); err != nil {
			return nil, err
		}
		if fe.Min, err = compile(field.MinExpr); err != nil {
			return nil, err
		}
		if fe.Max, err = compile(field.MaxExpr); err != nil {
			return nil, err
		}
		if fe.Required != nil || fe.Min != nil || fe.Max != nil {
			exprs[field.Name] = fe
		}
	}
	return exprs, nil
}

// handler compiles an event handler and returns the name the client sends
// back, with the argument names it takes. A plain method name is used as
// is; anything else becomes a generated method whose parameters are the
// template locals it reads.
func (c *compiler) handler(x *template.Event, sc *scope, args *argTable) (string, []string, error) {
	src := strings.TrimSpace(x.Handler)
	if identForm.MatchString(src) && !sc.has(src) {
		c.prog.Handlers[src] = true
		return src, nil, nil
	}

	line, col := x.Pos()
	f, err := syntax.Parse(c.doc.File, pad(src, line)+"\n", 0)
	if err != nil {
		return "", nil, exprError(c.doc.File, line, col, err)
	}

	r := newRewriter(c.syms, modeCode, sc.identity())
	r.allowEvent = true
	r.rename = args.param
	loops := make(map[string]bool)
	collectLoopVars(f.Stmts, func(name string) { loops[name] = true })
	r.push(loops)
	r.stmts(f.Stmts)

	c.handlerN++
	name := runtime.HandlerPrefix + strconv.Itoa(c.handlerN)
	pos := syntax.MakePosition(&c.doc.File, int32(line), int32(col))
	d := def(pos, name, []string{"self"}, f.Stmts)
	params := make([]string, 0, len(r.used))
	for _, local := range r.used {
		param := args.param(local)
		params = append(params, param)
		d.Params = append(d.Params, optionalParam(pos, param))
	}
	d.Params = append(d.Params, optionalParam(pos, "event"))
	c.defs = append(c.defs, d)
	c.prog.Methods[name] = true
	return name, params, nil
}

// bind lowers $bind={name}: the element shows the member's value and a
// generated native writes client changes back. For a textarea the value
// is returned as the element's content instead.
func (c *compiler) bind(ev *events, n *template.Node, x *template.Bind, sc *scope) (attrOp, *runtime.Expr, error) {
	ex, err := c.exprAt(x.Target, x, sc)
	if err != nil {
		return nil, nil, err
	}
	ex.Cacheable = false

	tag := strings.ToLower(n.Tag)
	typ, _ := n.Attr("type")
	typ = strings.ToLower(typ)

	checkbox := tag == "input" && typ == "checkbox"
	numeric := tag == "input" && (typ == "number" || typ == "range")
	event := "input"
	if checkbox || typ == "radio" || tag == "select" {
		event = "change"
	}

	name := runtime.BindPrefix + x.Target
	if _, ok := c.prog.Natives[name]; !ok || checkbox || numeric {
		c.prog.Natives[name] = runtime.BindNative(x.Target, checkbox, numeric)
	}
	ev.add(event, name, nil, nil)

	switch {
	case tag == "textarea":
		return nil, ex, nil
	case tag == "select":
		c.selected = ex
		return nil, nil, nil
	case checkbox:
		return func(f *runtime.Frame, at *runtime.Attrs) error {
			ok, err := f.EvalBool(ex)
			if err != nil {
				return err
			}
			if ok {
				at.Set("checked", "")
			} else {
				at.Delete("checked")
			}
			return nil
		}, nil, nil
	case typ == "radio":
		value, _ := n.Attr("value")
		return func(f *runtime.Frame, at *runtime.Attrs) error {
			s, err := f.EvalString(ex)
			if err != nil {
				return err
			}
			if s == value {
				at.Set("checked", "")
			} else {
				at.Delete("checked")
			}
			return nil
		}, nil, nil
	}
	return func(f *runtime.Frame, at *runtime.Attrs) error {
		s, err := f.EvalString(ex)
		if err != nil {
			return err
		}
		at.Set("value", s)
		return nil
	}, nil, nil
}
