package template

import (
	"strings"
	"unicode"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// voidElements never have children or a closing tag
var voidElements = map[atom.Atom]bool{
	atom.Area:   true,
	atom.Base:   true,
	atom.Br:     true,
	atom.Col:    true,
	atom.Embed:  true,
	atom.Hr:     true,
	atom.Img:    true,
	atom.Input:  true,
	atom.Link:   true,
	atom.Meta:   true,
	atom.Param:  true,
	atom.Source: true,
	atom.Track:  true,
	atom.Wbr:    true,
}

// rawElements keep their content verbatim, without interpolation
var rawElements = map[atom.Atom]bool{
	atom.Script: true,
	atom.Style:  true,
}

// preformatted elements keep whitespace-only text
var preformatted = map[atom.Atom]bool{
	atom.Pre:      true,
	atom.Textarea: true,
}

var blockKeywords = map[string]bool{
	"if":      true,
	"elif":    true,
	"else":    true,
	"for":     true,
	"try":     true,
	"except":  true,
	"finally": true,
	"await":   true,
	"then":    true,
	"catch":   true,
	"html":    true,
}

func lookupTag(tag string) atom.Atom {
	return atom.Lookup([]byte(strings.ToLower(tag)))
}

// IsVoid reports whether tag is an HTML void element
func IsVoid(tag string) bool {
	return voidElements[lookupTag(tag)]
}

type attrKind int

const (
	attrPlain attrKind = iota
	attrShorthand
	attrSpread
)

// rawAttr is an attribute as written, before classification
type rawAttr struct {
	kind     attrKind
	name     string
	value    string
	hasValue bool
	braced   bool
	line     int
	col      int
}

// scanner is a recursive descent parser for the template section. Elements
// nest as they are read; brace blocks ({$if}...{/if}) come out as flat
// sibling markers that structure() nests afterwards.
type scanner struct {
	input string
	pos   int
	line  int
	col   int
	file  string
}

func newScanner(file, input string, line int) *scanner {
	return &scanner{
		input: input,
		line:  line,
		col:   1,
		file:  file,
	}
}

// parseTemplate parses the whole template section
func (s *scanner) parseTemplate() ([]*Node, error) {
	nodes, err := s.parseNodes("")
	if err != nil {
		return nil, err
	}
	if s.pos < len(s.input) {
		return nil, s.error(ErrStructure, "unexpected closing tag")
	}
	return nodes, nil
}

// parseNodes parses siblings until the parent's closing tag or the end of
// input, then nests brace blocks
func (s *scanner) parseNodes(parent string) ([]*Node, error) {
	var nodes []*Node

	for s.pos < len(s.input) {
		switch {
		case s.peek("</"):
			if parent == "" {
				return nil, s.error(ErrStructure, "unexpected closing tag")
			}
			return s.finish(parent, nodes)
		case s.peek("<!--"):
			nodes = append(nodes, s.parseComment())
		case s.peek("<!"):
			nodes = append(nodes, s.parseDeclaration())
		case s.peekTag():
			node, err := s.parseElement()
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, node)
		case s.peek("{"):
			node, err := s.parseBrace()
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, node)
		default:
			if node := s.parseText(); node != nil {
				nodes = append(nodes, node)
			}
		}
	}

	if parent != "" {
		return nil, s.error(ErrStructure, "unclosed <"+parent+">")
	}
	return s.finish(parent, nodes)
}

func (s *scanner) finish(parent string, nodes []*Node) ([]*Node, error) {
	if !preformatted[lookupTag(parent)] {
		nodes = dropLayoutWhitespace(nodes)
	}
	return structure(s.file, nodes)
}

// dropLayoutWhitespace removes whitespace-only text that spans lines.
// Same-line gaps between siblings are kept verbatim.
func dropLayoutWhitespace(nodes []*Node) []*Node {
	out := nodes[:0]
	for _, n := range nodes {
		if n.IsText() && !n.Raw && strings.TrimSpace(n.Text) == "" && strings.Contains(n.Text, "\n") {
			continue
		}
		out = append(out, n)
	}
	return out
}

// peekTag reports whether the input is at the start of an element
func (s *scanner) peekTag() bool {
	if !s.peek("<") || s.pos+1 >= len(s.input) {
		return false
	}
	return unicode.IsLetter(rune(s.input[s.pos+1]))
}

func (s *scanner) parseComment() *Node {
	line, col := s.line, s.col
	start := s.pos
	s.consume("<!--")
	s.parseUntil("-->")
	s.consume("-->")
	return &Node{Text: s.input[start:s.pos], HasText: true, Raw: true, Line: line, Col: col}
}

func (s *scanner) parseDeclaration() *Node {
	line, col := s.line, s.col
	start := s.pos
	s.parseUntil(">")
	s.consume(">")
	return &Node{Text: s.input[start:s.pos], HasText: true, Raw: true, Line: line, Col: col}
}

// parseElement parses an element and its children
func (s *scanner) parseElement() (*Node, error) {
	line, col := s.line, s.col
	s.consume("<")

	tag := s.parseTagName()
	if tag == "" {
		return nil, s.error(ErrStructure, "expected tag name")
	}

	attrs, err := s.parseAttributes()
	if err != nil {
		return nil, err
	}

	node := &Node{Tag: tag, Line: line, Col: col}
	if err := classify(s.file, node, attrs); err != nil {
		return nil, err
	}

	a := lookupTag(tag)
	if s.consume("/>") {
		finishElement(node)
		return node, nil
	}
	if !s.consume(">") {
		return nil, s.error(ErrStructure, "expected > after <"+tag)
	}
	if voidElements[a] {
		finishElement(node)
		return node, nil
	}

	if rawElements[a] {
		textLine, textCol := s.line, s.col
		start := s.pos
		closer := "</" + tag
		for s.pos < len(s.input) && !s.peekFold(closer) {
			s.advance()
		}
		if s.pos > start {
			node.Children = []*Node{{
				Text:    s.input[start:s.pos],
				HasText: true,
				Raw:     true,
				Line:    textLine,
				Col:     textCol,
			}}
		}
	} else {
		children, err := s.parseNodes(tag)
		if err != nil {
			return nil, err
		}
		node.Children = children
	}

	if !s.consume("</") {
		return nil, s.error(ErrStructure, "unclosed <"+tag+">")
	}
	closing := s.parseTagName()
	if !strings.EqualFold(closing, tag) {
		return nil, s.error(ErrStructure, "mismatched tags: <"+tag+"> and </"+closing+">")
	}
	s.skipWhitespace()
	if !s.consume(">") {
		return nil, s.error(ErrStructure, "expected >")
	}
	finishElement(node)
	return node, nil
}

func finishElement(node *Node) {
	if strings.EqualFold(node.Tag, "form") {
		attachFormSchema(node)
	}
}

// parseAttributes reads attributes up to (not including) > or />
func (s *scanner) parseAttributes() ([]rawAttr, error) {
	var attrs []rawAttr

	for {
		s.skipWhitespace()
		if s.pos >= len(s.input) {
			return nil, s.error(ErrStructure, "unterminated tag")
		}
		if s.peek(">") || s.peek("/>") {
			return attrs, nil
		}

		line, col := s.line, s.col
		if s.peek("{") {
			inner, err := s.scanBraced()
			if err != nil {
				return nil, err
			}
			inner = strings.TrimSpace(inner)
			if strings.HasPrefix(inner, "**") {
				attrs = append(attrs, rawAttr{kind: attrSpread, value: strings.TrimSpace(inner[2:]), braced: true, line: line, col: col})
				continue
			}
			if !identForm.MatchString(inner) {
				return nil, s.errorAt(ErrStructure, line, col, "attribute shorthand must be a name, got {"+inner+"}")
			}
			attrs = append(attrs, rawAttr{kind: attrShorthand, name: inner, value: inner, braced: true, line: line, col: col})
			continue
		}

		name := s.parseAttributeName()
		if name == "" {
			return nil, s.error(ErrStructure, "invalid attribute")
		}
		attr := rawAttr{name: name, line: line, col: col}

		save := s.save()
		s.skipWhitespace()
		if !s.consume("=") {
			s.restore(save)
			attrs = append(attrs, attr)
			continue
		}
		s.skipWhitespace()
		attr.hasValue = true

		switch {
		case s.peek("{"):
			inner, err := s.scanBraced()
			if err != nil {
				return nil, err
			}
			attr.value, attr.braced = inner, true
		case s.peek(`"`), s.peek("'"):
			quote := s.input[s.pos : s.pos+1]
			s.advance()
			v := s.parseUntil(quote)
			if !s.consume(quote) {
				return nil, s.errorAt(ErrStructure, line, col, "unterminated value for attribute "+name)
			}
			if inner, ok := wholeBrace(v); ok {
				attr.value, attr.braced = inner, true
			} else {
				attr.value = html.UnescapeString(v)
			}
		default:
			start := s.pos
			for s.pos < len(s.input) && !isSpace(s.input[s.pos]) && !s.peek(">") && !s.peek("/>") {
				s.advance()
			}
			attr.value = html.UnescapeString(s.input[start:s.pos])
		}
		attrs = append(attrs, attr)
	}
}

// wholeBrace reports whether v is exactly one {expr} and returns expr
func wholeBrace(v string) (string, bool) {
	if !strings.HasPrefix(v, "{") {
		return "", false
	}
	end := matchBrace(v, 0)
	if end != len(v)-1 {
		return "", false
	}
	return v[1:end], true
}

// matchBrace returns the index of the } closing the { at open, skipping
// string literals, or -1
func matchBrace(v string, open int) int {
	depth := 0
	var quote byte
	for i := open; i < len(v); i++ {
		c := v[i]
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
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// scanBraced consumes a balanced {...} and returns its inner text
func (s *scanner) scanBraced() (string, error) {
	line, col := s.line, s.col
	end := matchBrace(s.input, s.pos)
	if end < 0 {
		return "", s.errorAt(ErrStructure, line, col, "unterminated {")
	}
	inner := s.input[s.pos+1 : end]
	for s.pos <= end {
		s.advance()
	}
	return inner, nil
}

// parseBrace parses {expr}, {{{expr}}}, {$keyword ...} and {/keyword}
func (s *scanner) parseBrace() (*Node, error) {
	line, col := s.line, s.col
	pos := Position{Line: line, Col: col}
	node := &Node{Line: line, Col: col}

	if s.peek("{{{") {
		s.consume("{{")
		inner, err := s.scanBraced()
		if err != nil {
			return nil, err
		}
		if !s.consume("}}") {
			return nil, s.errorAt(ErrStructure, line, col, "expected }}} to close raw interpolation")
		}
		expr := strings.TrimSpace(inner)
		if expr == "" {
			return nil, s.errorAt(ErrStructure, line, col, "empty interpolation")
		}
		node.Special = []Special{&Interpolation{Position: pos, Expr: expr, Raw: true}}
		return node, nil
	}

	inner, err := s.scanBraced()
	if err != nil {
		return nil, err
	}
	inner = strings.TrimSpace(inner)

	switch {
	case strings.HasPrefix(inner, "/"):
		kw := strings.TrimSpace(inner[1:])
		if !blockKeywords[kw] {
			return nil, s.errorAt(ErrStructure, line, col, "unknown closing block {/"+kw+"}")
		}
		node.Special = []Special{&blockMarker{Position: pos, Keyword: kw}}
	case strings.HasPrefix(inner, "$"):
		sp, err := s.blockSpecial(pos, inner[1:])
		if err != nil {
			return nil, err
		}
		node.Special = []Special{sp}
	default:
		if inner == "" {
			return nil, s.errorAt(ErrStructure, line, col, "empty interpolation")
		}
		node.Special = []Special{&Interpolation{Position: pos, Expr: inner}}
	}
	return node, nil
}

func (s *scanner) blockSpecial(pos Position, text string) (Special, error) {
	kw := text
	rest := ""
	if i := strings.IndexFunc(text, unicode.IsSpace); i >= 0 {
		kw, rest = text[:i], strings.TrimSpace(text[i:])
	}
	if !blockKeywords[kw] {
		return nil, s.errorAt(ErrStructure, pos.Line, pos.Col, "unknown block {$"+kw+"}")
	}

	switch kw {
	case "if", "elif":
		if rest == "" {
			return nil, s.errorAt(ErrStructure, pos.Line, pos.Col, "{$"+kw+"} needs a condition")
		}
		if kw == "if" {
			return &If{Position: pos, Cond: rest}, nil
		}
		return &Elif{Position: pos, Cond: rest}, nil
	case "else":
		return &Else{Position: pos}, nil
	case "for":
		f, ok := parseForClause(rest)
		if !ok {
			return nil, s.errorAt(ErrStructure, pos.Line, pos.Col, "expected {$for vars in iterable}")
		}
		f.Position = pos
		return f, nil
	case "try":
		return &Try{Position: pos}, nil
	case "except":
		e := &Except{Position: pos, Type: rest}
		if t, alias, ok := strings.Cut(rest, " as "); ok {
			e.Type, e.Alias = strings.TrimSpace(t), strings.TrimSpace(alias)
		}
		return e, nil
	case "finally":
		return &Finally{Position: pos}, nil
	case "await":
		if rest == "" {
			return nil, s.errorAt(ErrStructure, pos.Line, pos.Col, "{$await} needs an expression")
		}
		return &Await{Position: pos, Expr: rest}, nil
	case "then":
		return &Then{Position: pos, Var: rest}, nil
	case "catch":
		return &Catch{Position: pos, Var: rest}, nil
	}
	// html
	if rest == "" {
		return nil, s.errorAt(ErrStructure, pos.Line, pos.Col, "{$html} needs an expression")
	}
	return &Interpolation{Position: pos, Expr: rest, Raw: true}, nil
}

// parseForClause splits "a, b in xs, key=k"
func parseForClause(text string) (*For, bool) {
	vars, rest, ok := strings.Cut(text, " in ")
	if !ok {
		return nil, false
	}
	f := &For{Vars: strings.TrimSpace(vars), Iterable: strings.TrimSpace(rest)}
	if i := strings.LastIndex(f.Iterable, ", key="); i >= 0 {
		f.Key = strings.TrimSpace(f.Iterable[i+len(", key="):])
		f.Iterable = strings.TrimSpace(f.Iterable[:i])
	}
	if f.Vars == "" || f.Iterable == "" {
		return nil, false
	}
	return f, true
}

// parseText reads plain text up to the next element or brace
func (s *scanner) parseText() *Node {
	line, col := s.line, s.col
	start := s.pos
	for s.pos < len(s.input) {
		if s.peek("{") || s.peek("</") || s.peek("<!") || s.peekTag() {
			break
		}
		s.advance()
	}
	if s.pos == start {
		s.advance()
	}
	return &Node{Text: s.input[start:s.pos], HasText: true, Line: line, Col: col}
}

// Helper methods

type mark struct{ pos, line, col int }

func (s *scanner) save() mark { return mark{s.pos, s.line, s.col} }

func (s *scanner) restore(m mark) { s.pos, s.line, s.col = m.pos, m.line, m.col }

func (s *scanner) peek(str string) bool {
	return strings.HasPrefix(s.input[s.pos:], str)
}

func (s *scanner) peekFold(str string) bool {
	if s.pos+len(str) > len(s.input) {
		return false
	}
	return strings.EqualFold(s.input[s.pos:s.pos+len(str)], str)
}

func (s *scanner) consume(str string) bool {
	if s.peek(str) {
		for i := 0; i < len(str); i++ {
			s.advance()
		}
		return true
	}
	return false
}

func (s *scanner) advance() {
	if s.pos < len(s.input) {
		if s.input[s.pos] == '\n' {
			s.line++
			s.col = 1
		} else {
			s.col++
		}
		s.pos++
	}
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}

func (s *scanner) skipWhitespace() {
	for s.pos < len(s.input) && isSpace(s.input[s.pos]) {
		s.advance()
	}
}

func (s *scanner) parseUntil(delimiter string) string {
	start := s.pos
	for s.pos < len(s.input) {
		if s.peek(delimiter) {
			return s.input[start:s.pos]
		}
		s.advance()
	}
	return s.input[start:s.pos]
}

func (s *scanner) parseTagName() string {
	start := s.pos
	for s.pos < len(s.input) {
		ch := rune(s.input[s.pos])
		if !unicode.IsLetter(ch) && !unicode.IsDigit(ch) && ch != '-' && ch != '_' && ch != '.' && ch != ':' {
			break
		}
		s.advance()
	}
	return s.input[start:s.pos]
}

// parseAttributeName accepts the framework prefixes @ and $ and modifier
// dots (@click.prevent)
func (s *scanner) parseAttributeName() string {
	start := s.pos
	for s.pos < len(s.input) {
		c := s.input[s.pos]
		if isSpace(c) || c == '=' || c == '>' || c == '"' || c == '\'' || c == '{' || c == '}' || s.peek("/>") {
			break
		}
		s.advance()
	}
	return s.input[start:s.pos]
}

func (s *scanner) error(kind ErrorKind, msg string) error {
	return newError(kind, s.file, s.line, s.col, "%s", msg)
}

func (s *scanner) errorAt(kind ErrorKind, line, col int, msg string) error {
	return newError(kind, s.file, line, col, "%s", msg)
}
