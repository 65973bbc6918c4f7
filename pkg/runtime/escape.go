package runtime

import (
	"strings"

	"github.com/recera/wirepage/pkg/reactive"
	"go.starlark.net/starlark"
)

var escaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")

// Escape encodes & < > and " as HTML entities
func Escape(s string) string {
	return escaper.Replace(s)
}

// ToString converts a plain value to its display text. None renders as
// the empty string.
func ToString(v starlark.Value) string {
	switch x := v.(type) {
	case nil, starlark.NoneType:
		return ""
	case starlark.String:
		return string(x)
	}
	return v.String()
}

// Attrs is an ordered attribute set built while rendering one element
type Attrs struct {
	names  []string
	values map[string]string
}

// NewAttrs creates an empty attribute set
func NewAttrs() *Attrs {
	return &Attrs{values: make(map[string]string)}
}

// Set adds or replaces an attribute. An empty value renders the bare name.
func (a *Attrs) Set(name, value string) {
	if _, ok := a.values[name]; !ok {
		a.names = append(a.names, name)
	}
	a.values[name] = value
}

// Get returns an attribute value
func (a *Attrs) Get(name string) (string, bool) {
	v, ok := a.values[name]
	return v, ok
}

// Delete removes an attribute
func (a *Attrs) Delete(name string) {
	if _, ok := a.values[name]; !ok {
		return
	}
	delete(a.values, name)
	for i, n := range a.names {
		if n == name {
			a.names = append(a.names[:i], a.names[i+1:]...)
			break
		}
	}
}

// SetValue applies a computed attribute value. For aria-* attributes
// True and False render as "true" and "false"; for other attributes True
// renders the bare name and False omits the attribute. None always omits.
func (a *Attrs) SetValue(name string, v starlark.Value) error {
	v, err := reactive.Unwrap(v)
	if err != nil {
		return err
	}
	aria := strings.HasPrefix(strings.ToLower(name), "aria-")
	switch x := v.(type) {
	case starlark.NoneType:
		a.Delete(name)
	case starlark.Bool:
		switch {
		case aria && bool(x):
			a.Set(name, "true")
		case aria:
			a.Set(name, "false")
		case bool(x):
			a.Set(name, "")
		default:
			a.Delete(name)
		}
	default:
		a.Set(name, ToString(v))
	}
	return nil
}

// Merge applies every entry of a mapping as computed attribute values
func (a *Attrs) Merge(v starlark.Value) error {
	v, err := reactive.Unwrap(v)
	if err != nil {
		return err
	}
	m, ok := v.(starlark.IterableMapping)
	if !ok {
		if v == starlark.None {
			return nil
		}
		return errNotMapping(v)
	}
	for _, kv := range m.Items() {
		k, ok := starlark.AsString(kv[0])
		if !ok {
			k = kv[0].String()
		}
		if err := a.SetValue(k, kv[1]); err != nil {
			return err
		}
	}
	return nil
}

// AppendStyle adds a declaration to the style attribute
func (a *Attrs) AppendStyle(decl string) {
	if cur, ok := a.values["style"]; ok && strings.TrimSpace(cur) != "" {
		a.Set("style", cur+"; "+decl)
		return
	}
	a.Set("style", decl)
}

// Len returns the number of attributes
func (a *Attrs) Len() int {
	return len(a.names)
}

// WriteTo writes the attributes as markup, each preceded by a space
func (a *Attrs) WriteTo(b *strings.Builder) {
	for _, name := range a.names {
		b.WriteByte(' ')
		b.WriteString(name)
		if v := a.values[name]; v != "" {
			b.WriteString(`="`)
			b.WriteString(Escape(v))
			b.WriteByte('"')
		}
	}
}

// Plain converts the set into a starlark dict
func (a *Attrs) Plain() *starlark.Dict {
	d := starlark.NewDict(len(a.names))
	for _, name := range a.names {
		_ = d.SetKey(starlark.String(name), starlark.String(a.values[name]))
	}
	return d
}
