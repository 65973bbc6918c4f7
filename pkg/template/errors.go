package template

import (
	"fmt"
)

// ErrorKind classifies a SyntaxError
type ErrorKind int

const (
	// ErrSeparator is a malformed or duplicated ---html--- line
	ErrSeparator ErrorKind = iota
	// ErrOrphanCode is code found without any separator
	ErrOrphanCode
	// ErrEnforcement is a quoted value where the brace form is required
	ErrEnforcement
	// ErrStructure is a structural rule violation, such as a keyless loop
	// with several roots or an unbalanced tag
	ErrStructure
	// ErrBody is a parse failure in the code section or an expression
	ErrBody
	// ErrDirective is a malformed header directive
	ErrDirective
)

func (k ErrorKind) String() string {
	switch k {
	case ErrSeparator:
		return "separator"
	case ErrOrphanCode:
		return "orphan-code"
	case ErrEnforcement:
		return "enforcement"
	case ErrStructure:
		return "structure"
	case ErrBody:
		return "body"
	case ErrDirective:
		return "directive"
	}
	return "unknown"
}

// SyntaxError is a parse-time failure. Line is 1-based and relative to the
// whole source file.
type SyntaxError struct {
	File string
	Line int
	Col  int
	Msg  string
	Kind ErrorKind
}

func (e *SyntaxError) Error() string {
	if e.Col > 0 {
		return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Col, e.Msg)
	}
	return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Msg)
}

func newError(kind ErrorKind, file string, line, col int, format string, args ...interface{}) *SyntaxError {
	return &SyntaxError{
		File: file,
		Line: line,
		Col:  col,
		Msg:  fmt.Sprintf(format, args...),
		Kind: kind,
	}
}
