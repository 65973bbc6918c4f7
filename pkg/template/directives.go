package template

import (
	"fmt"
	"regexp"
	"strings"

	"go.starlark.net/syntax"
	"gopkg.in/yaml.v3"
)

// directiveParser turns the value of one !name directive into a Directive
type directiveParser func(file string, line int, value string) (Directive, error)

var directiveParsers = map[string]directiveParser{
	"path":      parsePath,
	"layout":    parseLayout,
	"component": parseComponent,
	"props":     parseProps,
	"no_spa":    parseNoSpa,
	"provide":   parseProvide,
	"context":   parseProvide,
	"inject":    parseInject,
}

var (
	directiveName = regexp.MustCompile(`(?s)^!([A-Za-z_][A-Za-z0-9_]*)\s*(.*)$`)
	componentForm = regexp.MustCompile(`^("[^"]*"|'[^']*')\s+as\s+([A-Za-z_][A-Za-z0-9_]*)$`)
	propForm      = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\s*(?::\s*([^=]+?))?\s*(?:=\s*(.+))?$`)
	identForm     = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// parseHeader reads the directives at the top of the header. Everything
// from the first line that is not a directive onward is the code section.
func parseHeader(file string, lines []string, firstLine int) ([]Directive, string, int, error) {
	var directives []Directive
	i := 0
	for i < len(lines) {
		t := strings.TrimSpace(lines[i])
		if t == "" || strings.HasPrefix(t, "#") {
			i++
			continue
		}
		if !strings.HasPrefix(t, "!") {
			break
		}

		start := i
		text := t
		depth := nesting(t)
		for depth > 0 && i+1 < len(lines) {
			i++
			next := strings.TrimSpace(lines[i])
			text += "\n" + next
			depth += nesting(next)
		}
		if depth > 0 {
			return nil, "", 0, newError(ErrDirective, file, firstLine+start, 0, "unbalanced brackets in directive")
		}
		i++

		m := directiveName.FindStringSubmatch(text)
		if m == nil {
			return nil, "", 0, newError(ErrDirective, file, firstLine+start, 0, "malformed directive %q", firstLineOf(text))
		}
		parse, ok := directiveParsers[m[1]]
		if !ok {
			return nil, "", 0, newError(ErrDirective, file, firstLine+start, 0, "unknown directive !%s", m[1])
		}
		d, err := parse(file, firstLine+start, strings.TrimSpace(m[2]))
		if err != nil {
			return nil, "", 0, err
		}
		directives = append(directives, d)
	}

	return directives, strings.Join(lines[i:], "\n"), firstLine + i, nil
}

func firstLineOf(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// nesting returns the net count of opened {[( outside string literals
func nesting(s string) int {
	depth := 0
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case '{', '[', '(':
			depth++
		case '}', ']', ')':
			depth--
		case '#':
			return depth
		}
	}
	return depth
}

func parsePath(file string, line int, value string) (Directive, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(value), &doc); err != nil || len(doc.Content) == 0 {
		return nil, newError(ErrDirective, file, line, 0, "!path expects a string or a mapping of route names to patterns")
	}
	root := doc.Content[0]
	switch root.Kind {
	case yaml.ScalarNode:
		return &PathDirective{Line: Line(line), Routes: []Route{{Name: "main", Pattern: root.Value}}, Simple: true}, nil
	case yaml.MappingNode:
		d := &PathDirective{Line: Line(line)}
		for i := 0; i+1 < len(root.Content); i += 2 {
			k, v := root.Content[i], root.Content[i+1]
			if v.Kind != yaml.ScalarNode {
				return nil, newError(ErrDirective, file, line, 0, "!path route %q must be a string", k.Value)
			}
			d.Routes = append(d.Routes, Route{Name: k.Value, Pattern: v.Value})
		}
		return d, nil
	}
	return nil, newError(ErrDirective, file, line, 0, "!path expects a string or a mapping of route names to patterns")
}

func parseLayout(file string, line int, value string) (Directive, error) {
	s, ok := unquote(value)
	if !ok {
		return nil, newError(ErrDirective, file, line, 0, "!layout expects a quoted file path")
	}
	return &LayoutDirective{Line: Line(line), File: s}, nil
}

func parseComponent(file string, line int, value string) (Directive, error) {
	m := componentForm.FindStringSubmatch(value)
	if m == nil {
		return nil, newError(ErrDirective, file, line, 0, `!component expects "file" as Name`)
	}
	s, _ := unquote(m[1])
	return &ComponentDirective{Line: Line(line), File: s, Name: m[2]}, nil
}

func parseProps(file string, line int, value string) (Directive, error) {
	d := &PropsDirective{Line: Line(line)}
	for _, part := range splitTopLevel(value, ',') {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		m := propForm.FindStringSubmatch(part)
		if m == nil {
			return nil, newError(ErrDirective, file, line, 0, "malformed prop %q", part)
		}
		p := Prop{Name: m[1], Type: strings.TrimSpace(m[2]), Default: strings.TrimSpace(m[3])}
		if p.Default != "" {
			if _, err := syntax.ParseExpr(file, p.Default, 0); err != nil {
				return nil, newError(ErrDirective, file, line, 0, "invalid default for prop %s: %v", p.Name, err)
			}
		}
		d.Props = append(d.Props, p)
	}
	return d, nil
}

func parseNoSpa(file string, line int, value string) (Directive, error) {
	if value != "" {
		return nil, newError(ErrDirective, file, line, 0, "!no_spa takes no value")
	}
	return &NoSpaDirective{Line: Line(line)}, nil
}

func parseProvide(file string, line int, value string) (Directive, error) {
	key, expr, ok := strings.Cut(value, "=")
	if !ok {
		return nil, newError(ErrDirective, file, line, 0, "!provide expects key = expression")
	}
	key = strings.TrimSpace(key)
	if s, quoted := unquote(key); quoted {
		key = s
	} else if !identForm.MatchString(key) {
		return nil, newError(ErrDirective, file, line, 0, "invalid context key %q", key)
	}
	expr = strings.TrimSpace(expr)
	if _, err := syntax.ParseExpr(file, expr, 0); err != nil {
		return nil, newError(ErrDirective, file, line, 0, "invalid context value: %v", err)
	}
	return &ProvideDirective{Line: Line(line), Key: key, Expr: expr}, nil
}

func parseInject(file string, line int, value string) (Directive, error) {
	local, key, ok := strings.Cut(value, "=")
	local = strings.TrimSpace(local)
	if !identForm.MatchString(local) {
		return nil, newError(ErrDirective, file, line, 0, "invalid inject name %q", local)
	}
	if !ok {
		return &InjectDirective{Line: Line(line), Local: local, Key: local}, nil
	}
	k, quoted := unquote(strings.TrimSpace(key))
	if !quoted {
		return nil, newError(ErrDirective, file, line, 0, "!inject key must be quoted")
	}
	return &InjectDirective{Line: Line(line), Local: local, Key: k}, nil
}

func unquote(s string) (string, bool) {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1], true
	}
	return "", false
}

// splitTopLevel splits s on sep where it is not nested in brackets or a
// string literal
func splitTopLevel(s string, sep byte) []string {
	var parts []string
	depth := 0
	var quote byte
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case '{', '[', '(':
			depth++
		case '}', ']', ')':
			depth--
		case sep:
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}

func (d *PathDirective) String() string {
	if d.Simple {
		return fmt.Sprintf("!path %q", d.Routes[0].Pattern)
	}
	parts := make([]string, len(d.Routes))
	for i, r := range d.Routes {
		parts[i] = fmt.Sprintf("%q: %q", r.Name, r.Pattern)
	}
	return "!path {" + strings.Join(parts, ", ") + "}"
}
