package template

import (
	"errors"
	"os"
	"strings"

	"go.starlark.net/syntax"
)

// ParseFile parses a .wire file from disk
func ParseFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(string(data), path)
}

// Parse parses .wire source. file names the source in errors.
func Parse(src, file string) (*Document, error) {
	sec, err := splitSource(file, src)
	if err != nil {
		return nil, err
	}

	directives, body, bodyLine, err := parseHeader(file, sec.header, 1)
	if err != nil {
		return nil, err
	}

	doc := &Document{
		File:       file,
		Directives: directives,
		Body:       body,
		BodyLine:   bodyLine,
	}

	if strings.TrimSpace(body) != "" {
		// pad so positions in the code section match the file
		padded := strings.Repeat("\n", bodyLine-1) + body + "\n"
		f, err := syntax.Parse(file, padded, 0)
		if err != nil {
			return nil, BodyError(file, 0, 0, err)
		}
		doc.BodyAST = f
	}

	nodes, err := newScanner(file, sec.template, sec.templateLine).parseTemplate()
	if err != nil {
		return nil, err
	}
	doc.Template = nodes
	return doc, nil
}

// BodyError converts a code parse error into a SyntaxError. Positions in
// err are relative to (line, col); pass 0, 0 when they are already
// positions in file.
func BodyError(file string, line, col int, err error) *SyntaxError {
	var se syntax.Error
	if !errors.As(err, &se) {
		return newError(ErrBody, file, line, col, "%v", err)
	}
	l, c := int(se.Pos.Line), int(se.Pos.Col)
	if line > 0 {
		if l == 1 {
			c += col - 1
		}
		l += line - 1
	}
	return newError(ErrBody, file, l, c, "%s", se.Msg)
}

// Walk calls fn for every node in depth-first order. Children are skipped
// when fn returns false.
func Walk(nodes []*Node, fn func(n *Node) bool) {
	for _, n := range nodes {
		if fn(n) {
			Walk(n.Children, fn)
		}
	}
}
