package template

import (
	"strings"
)

// attributeParser recognizes one family of special attributes. ok is false
// when the attribute belongs to another parser.
type attributeParser func(file string, a rawAttr) (sp Special, ok bool, err error)

// attributeParsers run in priority order; the first match wins
var attributeParsers = []attributeParser{
	parseEventAttr,
	parseConditionalAttr,
	parseLoopAttr,
	parseKeyAttr,
	parseBindAttr,
}

// classify sorts raw attributes into static attributes and specials
func classify(file string, n *Node, attrs []rawAttr) error {
	for _, a := range attrs {
		pos := Position{Line: a.line, Col: a.col}

		switch a.kind {
		case attrSpread:
			n.Special = append(n.Special, &Spread{Position: pos, Expr: a.value})
			continue
		case attrShorthand:
			n.Special = append(n.Special, &Reactive{Position: pos, Name: a.name, Expr: a.name})
			continue
		}

		switch a.name {
		case "$permanent":
			n.SetAttr("data-wire-permanent", "true")
			continue
		case "$reload":
			n.SetAttr("data-wire-reload", "true")
			continue
		case "$head":
			// marks <slot $head> as the append-mode head slot
			n.SetAttr("$head", "")
			continue
		}

		matched := false
		for _, parse := range attributeParsers {
			sp, ok, err := parse(file, a)
			if err != nil {
				return err
			}
			if ok {
				n.Special = append(n.Special, sp)
				matched = true
				break
			}
		}
		if matched {
			continue
		}

		if strings.HasPrefix(a.name, "$") {
			return newError(ErrStructure, file, a.line, a.col, "unknown attribute %s", a.name)
		}
		if a.braced {
			n.Special = append(n.Special, &Reactive{Position: pos, Name: a.name, Expr: strings.TrimSpace(a.value)})
			continue
		}
		n.Attrs = append(n.Attrs, Attr{Name: a.name, Value: a.value})
	}
	return nil
}

// requireBraces enforces the {expr} form for attributes whose quoted value
// would be ambiguous
func requireBraces(file string, a rawAttr) error {
	if a.braced && strings.TrimSpace(a.value) != "" {
		return nil
	}
	return newError(ErrEnforcement, file, a.line, a.col,
		"%s value must be wrapped in brackets: use %s={...}", a.name, a.name)
}

func parseEventAttr(file string, a rawAttr) (Special, bool, error) {
	if !strings.HasPrefix(a.name, "@") {
		return nil, false, nil
	}
	if err := requireBraces(file, a); err != nil {
		return nil, true, err
	}
	parts := strings.Split(a.name[1:], ".")
	if parts[0] == "" {
		return nil, true, newError(ErrStructure, file, a.line, a.col, "missing event name in %s", a.name)
	}
	return &Event{
		Position:  Position{Line: a.line, Col: a.col},
		Type:      parts[0],
		Handler:   strings.TrimSpace(a.value),
		Modifiers: parts[1:],
	}, true, nil
}

func parseConditionalAttr(file string, a rawAttr) (Special, bool, error) {
	pos := Position{Line: a.line, Col: a.col}
	switch a.name {
	case "$if", "$elif", "$show":
		if err := requireBraces(file, a); err != nil {
			return nil, true, err
		}
		cond := strings.TrimSpace(a.value)
		switch a.name {
		case "$if":
			return &If{Position: pos, Cond: cond}, true, nil
		case "$elif":
			return &Elif{Position: pos, Cond: cond}, true, nil
		}
		return &Show{Position: pos, Cond: cond}, true, nil
	case "$else":
		if a.hasValue {
			return nil, true, newError(ErrStructure, file, a.line, a.col, "$else takes no value")
		}
		return &Else{Position: pos}, true, nil
	}
	return nil, false, nil
}

func parseLoopAttr(file string, a rawAttr) (Special, bool, error) {
	if a.name != "$for" {
		return nil, false, nil
	}
	if err := requireBraces(file, a); err != nil {
		return nil, true, err
	}
	f, ok := parseForClause(strings.TrimSpace(a.value))
	if !ok {
		return nil, true, newError(ErrStructure, file, a.line, a.col, "expected $for={vars in iterable}")
	}
	f.Position = Position{Line: a.line, Col: a.col}
	return f, true, nil
}

func parseKeyAttr(file string, a rawAttr) (Special, bool, error) {
	switch {
	case a.name == "$key":
		if err := requireBraces(file, a); err != nil {
			return nil, true, err
		}
	case a.name == "key" && a.braced:
	default:
		return nil, false, nil
	}
	return &Key{Position: Position{Line: a.line, Col: a.col}, Expr: strings.TrimSpace(a.value)}, true, nil
}

func parseBindAttr(file string, a rawAttr) (Special, bool, error) {
	if a.name != "$bind" {
		return nil, false, nil
	}
	target := strings.TrimSpace(a.value)
	if !identForm.MatchString(target) {
		return nil, true, newError(ErrStructure, file, a.line, a.col, "$bind target must be a name, got %q", target)
	}
	return &Bind{Position: Position{Line: a.line, Col: a.col}, Target: target}, true, nil
}
