package template

import (
	"strconv"
	"strings"
)

// FormSchema is the server-side validation schema derived from the HTML
// validation attributes of a form's fields
type FormSchema struct {
	Fields []*FieldRules
}

// Field returns the rules for one field name
func (s *FormSchema) Field(name string) *FieldRules {
	for _, f := range s.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// FieldRules are the constraints declared on one named input. The *Expr
// fields hold expressions given in the {expr} form and are evaluated when
// the form is submitted.
type FieldRules struct {
	Name         string
	Required     bool
	RequiredExpr string
	Pattern      string
	MinLength    *int
	MaxLength    *int
	Min          string
	MinExpr      string
	Max          string
	MaxExpr      string
	Step         string
	Type         string
	Title        string
	AllowedTypes []string
	MaxSize      int64
}

// attachFormSchema builds the schema for a <form> with a submit handler
func attachFormSchema(form *Node) {
	var submit *Event
	for _, s := range form.Special {
		if e, ok := s.(*Event); ok && e.Type == "submit" {
			submit = e
			break
		}
	}
	if submit == nil {
		return
	}

	schema := &FormSchema{}
	var visit func(nodes []*Node)
	visit = func(nodes []*Node) {
		for _, n := range nodes {
			switch strings.ToLower(n.Tag) {
			case "input", "textarea", "select":
				if name, ok := n.Attr("name"); ok && name != "" && schema.Field(name) == nil {
					schema.Fields = append(schema.Fields, fieldRules(n, name))
				}
			}
			visit(n.Children)
		}
	}
	visit(form.Children)
	submit.Schema = schema
}

func fieldRules(n *Node, name string) *FieldRules {
	r := &FieldRules{Name: name}

	if _, ok := n.Attr("required"); ok {
		r.Required = true
	}
	r.Pattern, _ = n.Attr("pattern")
	if v, ok := n.Attr("minlength"); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			r.MinLength = &i
		}
	}
	if v, ok := n.Attr("maxlength"); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			r.MaxLength = &i
		}
	}
	r.Min, _ = n.Attr("min")
	r.Max, _ = n.Attr("max")
	r.Step, _ = n.Attr("step")
	r.Title, _ = n.Attr("title")

	if t, ok := n.Attr("type"); ok {
		r.Type = strings.ToLower(t)
	} else if tag := strings.ToLower(n.Tag); tag == "textarea" || tag == "select" {
		r.Type = tag
	}

	if v, ok := n.Attr("accept"); ok {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				r.AllowedTypes = append(r.AllowedTypes, t)
			}
		}
	}
	if v, ok := n.Attr("max-size"); ok {
		r.MaxSize = parseSize(v)
	}

	for _, s := range n.Special {
		ra, ok := s.(*Reactive)
		if !ok {
			continue
		}
		switch ra.Name {
		case "required":
			r.RequiredExpr = ra.Expr
		case "min":
			r.MinExpr = ra.Expr
		case "max":
			r.MaxExpr = ra.Expr
		}
	}
	return r
}

// parseSize reads sizes such as 512, 10k, 2.5mb or 1G. It returns 0 when
// the value is not a size.
func parseSize(v string) int64 {
	v = strings.ToLower(strings.TrimSpace(v))
	mult := 1.0
	for _, unit := range []struct {
		suffix string
		mult   float64
	}{
		{"kb", 1 << 10}, {"k", 1 << 10},
		{"mb", 1 << 20}, {"m", 1 << 20},
		{"gb", 1 << 30}, {"g", 1 << 30},
	} {
		if strings.HasSuffix(v, unit.suffix) {
			v = strings.TrimSpace(strings.TrimSuffix(v, unit.suffix))
			mult = unit.mult
			break
		}
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return int64(f * mult)
}
