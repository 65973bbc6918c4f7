package template

import (
	"go.starlark.net/syntax"
)

// AST node types for .wire templates

// Document is the result of parsing one .wire source file
type Document struct {
	File       string
	Directives []Directive
	Template   []*Node

	// Body is the code section between the directives and the separator.
	// BodyLine is the 1-based line of its first line in File.
	Body     string
	BodyLine int
	BodyAST  *syntax.File
}

// Attr is a plain static attribute
type Attr struct {
	Name  string
	Value string
}

// Node is an element, a text run, or a control block in the template tree.
// A node with an empty Tag and no text carries a standalone special
// attribute (an interpolation or a control-flow opener).
type Node struct {
	Tag      string
	Attrs    []Attr
	Special  []Special
	Text     string
	HasText  bool
	Children []*Node
	Line     int
	Col      int
	Raw      bool
}

// Attr returns a static attribute value
func (n *Node) Attr(name string) (string, bool) {
	for _, a := range n.Attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// SetAttr replaces or appends a static attribute
func (n *Node) SetAttr(name, value string) {
	for i, a := range n.Attrs {
		if a.Name == name {
			n.Attrs[i].Value = value
			return
		}
	}
	n.Attrs = append(n.Attrs, Attr{Name: name, Value: value})
}

// IsText reports whether n is a plain text run
func (n *Node) IsText() bool {
	return n.Tag == "" && n.HasText
}

// IsControl reports whether n is a brace control block ({$if}, {$for}, ...)
func (n *Node) IsControl() bool {
	if n.Tag != "" || n.HasText {
		return false
	}
	for _, s := range n.Special {
		switch s.(type) {
		case *If, *For, *Try, *Await:
			return true
		}
	}
	return false
}

// Special is a typed, non-literal template attribute
type Special interface {
	Pos() (line, col int)
	special()
}

// Position is embedded in every special attribute
type Position struct {
	Line int
	Col  int
}

func (p Position) Pos() (int, int) { return p.Line, p.Col }
func (Position) special()          {}

// Interpolation is {expr}; Raw marks {$html expr} and {{{expr}}}
type Interpolation struct {
	Position
	Expr string
	Raw  bool
}

// If opens a conditional chain
type If struct {
	Position
	Cond string
}

// Elif continues a conditional chain
type Elif struct {
	Position
	Cond string
}

// Else ends a conditional chain, or a for/try block
type Else struct {
	Position
}

// For is a loop over Iterable binding Vars; Key is optional
type For struct {
	Position
	Vars     string
	Iterable string
	Key      string
}

// Try opens a try block
type Try struct {
	Position
}

// Except is a handler branch of a try block
type Except struct {
	Position
	Type  string
	Alias string
}

// Finally is the cleanup branch of a try block
type Finally struct {
	Position
}

// Await opens an async block over Expr
type Await struct {
	Position
	Expr string
}

// Then is the resolved branch of an await block
type Then struct {
	Position
	Var string
}

// Catch is the failed branch of an await block
type Catch struct {
	Position
	Var string
}

// Show toggles display:none
type Show struct {
	Position
	Cond string
}

// Key is a stable identity for reconciliation
type Key struct {
	Position
	Expr string
}

// Event is @type.mod1.mod2={handler}
type Event struct {
	Position
	Type      string
	Handler   string
	Modifiers []string
	Schema    *FormSchema
}

// Reactive is name={expr}
type Reactive struct {
	Position
	Name string
	Expr string
}

// Spread is {**expr}
type Spread struct {
	Position
	Expr string
}

// Bind is $bind={name}, a two-way form binding
type Bind struct {
	Position
	Target string
}

// blockMarker is a {/if}-style closer. It only exists between scanning and
// structuring.
type blockMarker struct {
	Position
	Keyword string
}

// Directive is a header declaration
type Directive interface {
	DirectiveLine() int
}

// Line is embedded in every directive
type Line int

func (l Line) DirectiveLine() int { return int(l) }

// Route is one named route pattern
type Route struct {
	Name    string
	Pattern string
}

// PathDirective is !path; Simple marks the single-string form
type PathDirective struct {
	Line
	Routes []Route
	Simple bool
}

// LayoutDirective is !layout "file"
type LayoutDirective struct {
	Line
	File string
}

// ComponentDirective is !component "file" as Name
type ComponentDirective struct {
	Line
	File string
	Name string
}

// Prop is one declared component parameter
type Prop struct {
	Name    string
	Type    string
	Default string
}

// PropsDirective is !props
type PropsDirective struct {
	Line
	Props []Prop
}

// NoSpaDirective is !no_spa
type NoSpaDirective struct {
	Line
}

// ProvideDirective is !provide key = expr
type ProvideDirective struct {
	Line
	Key  string
	Expr string
}

// InjectDirective is !inject name or !inject local = "key"
type InjectDirective struct {
	Line
	Local string
	Key   string
}

// Find returns the first directive of type T
func Find[T Directive](doc *Document) (T, bool) {
	for _, d := range doc.Directives {
		if t, ok := d.(T); ok {
			return t, true
		}
	}
	var zero T
	return zero, false
}

// All returns every directive of type T
func All[T Directive](doc *Document) []T {
	var out []T
	for _, d := range doc.Directives {
		if t, ok := d.(T); ok {
			out = append(out, t)
		}
	}
	return out
}
