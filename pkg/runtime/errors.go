package runtime

import (
	"errors"
	"fmt"
	"strings"

	"go.starlark.net/starlark"
)

var (
	// ErrHandlerNotAllowed is returned for events naming a function that
	// is not a declared handler of the page
	ErrHandlerNotAllowed = errors.New("handler not allowed")
	// ErrHandlerNotFound is returned for an allowed handler the page does
	// not define
	ErrHandlerNotFound = errors.New("handler not found")
	// ErrClosed is returned by operations on a closed page
	ErrClosed = errors.New("page closed")
)

// HandlerError reports a rejected event
type HandlerError struct {
	Name string
	Err  error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("%v: %s", e.Err, e.Name)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

func errNotMapping(v starlark.Value) error {
	return fmt.Errorf("attribute spread needs a mapping, got %s", v.Type())
}

// errorFragments maps common exception names to fragments of the
// messages starlark produces for them
var errorFragments = map[string][]string{
	"ZeroDivisionError": {"division by zero"},
	"KeyError":          {"key", "not in dict"},
	"IndexError":        {"index", "out of range"},
	"AttributeError":    {"has no ."},
	"NameError":         {"undefined", "not defined"},
	"TypeError":         {"unsupported", "want ", "got ", "not callable", "unhashable"},
	"ValueError":        {"invalid", "value"},
}

// ErrorMatches reports whether err is handled by an except branch for typ.
// An empty type or Exception matches everything; otherwise the error
// message must mention typ or one of its usual message fragments.
func ErrorMatches(err error, typ string) bool {
	typ = strings.TrimSpace(typ)
	if typ == "" || typ == "Exception" {
		return true
	}
	msg := err.Error()
	for _, t := range strings.Split(strings.Trim(typ, "()"), ",") {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if t == "Exception" || strings.Contains(msg, t) {
			return true
		}
		for _, frag := range errorFragments[t] {
			if strings.Contains(msg, frag) {
				return true
			}
		}
	}
	return false
}

// ErrorMessage returns the message of an evaluation error without its
// traceback
func ErrorMessage(err error) string {
	return errorMessage(err)
}
