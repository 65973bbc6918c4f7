package runtime

import (
	"fmt"
	"math"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/recera/wirepage/pkg/reactive"
	"github.com/recera/wirepage/pkg/template"
	"go.starlark.net/starlark"
)

// FieldExprs are the compiled {expr} constraints of one form field
type FieldExprs struct {
	Required *Expr
	Min      *Expr
	Max      *Expr
}

// BindNative returns the handler behind $bind: it copies the element's
// value (or checked state when checked is set) into the page member.
// Numeric inputs convert the text when it parses as a number.
func BindNative(member string, checked, numeric bool) Native {
	return func(p *Page, thread *starlark.Thread, payload *starlark.Dict) error {
		key := "value"
		if checked {
			key = "checked"
		}
		v, found, err := payload.Get(starlark.String(key))
		if err != nil {
			return err
		}
		if !found {
			v = starlark.None
			if checked {
				v = starlark.False
			}
		}
		if numeric {
			if s, ok := starlark.AsString(v); ok {
				if n, ok := parseNumber(s); ok {
					v = n
				}
			}
		}
		return p.SetField(member, v)
	}
}

// SubmitNative returns the handler behind a validated form: the submitted
// fields are checked against schema, errors are published to the page's
// errors member, and on success handler is called with the cleaned data
// while loading[handler] is set.
func SubmitNative(handler string, schema *template.FormSchema, exprs map[string]FieldExprs) Native {
	return func(p *Page, thread *starlark.Thread, payload *starlark.Dict) error {
		form := starlark.NewDict(0)
		if v, found, _ := payload.Get(starlark.String("formData")); found {
			if d, ok := v.(*starlark.Dict); ok {
				form = d
			}
		}

		cleaned, problems, err := validateForm(p, thread, schema, exprs, form)
		if err != nil {
			return err
		}
		if errs, ok := p.members["errors"].(*reactive.WireDict); ok {
			if err := errs.Set(problems); err != nil {
				return err
			}
		}
		if problems.Len() > 0 {
			return nil
		}

		fn, ok := p.method(handler)
		if !ok {
			return &HandlerError{Name: handler, Err: ErrHandlerNotFound}
		}
		loading, _ := p.members["loading"].(*reactive.WireDict)
		if loading != nil {
			if err := loading.SetKey(starlark.String(handler), starlark.True); err != nil {
				return err
			}
		}
		args := starlark.Tuple{p}
		if fn.NumParams() > 1 {
			args = append(args, cleaned)
		}
		v, err := starlark.Call(thread, fn, args, nil)
		if err == nil {
			if fut, ok := v.(*Future); ok {
				_, err = p.wait(thread, fut)
			}
		}
		if loading != nil {
			if lerr := loading.SetKey(starlark.String(handler), starlark.False); lerr != nil && err == nil {
				err = lerr
			}
		}
		return err
	}
}

var emailForm = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// validateForm checks every field of schema. It returns the cleaned data
// (numbers converted, unknown fields passed through) and the error
// message per failing field.
func validateForm(p *Page, thread *starlark.Thread, schema *template.FormSchema, exprs map[string]FieldExprs, form *starlark.Dict) (*starlark.Dict, *starlark.Dict, error) {
	cleaned := starlark.NewDict(form.Len())
	problems := starlark.NewDict(0)
	for _, kv := range form.Items() {
		if err := cleaned.SetKey(kv[0], kv[1]); err != nil {
			return nil, nil, err
		}
	}

	f := &Frame{Page: p, Out: &strings.Builder{}, thread: thread}
	eval := func(e *Expr) (starlark.Value, error) {
		v, err := f.Eval(e)
		if err != nil {
			return nil, err
		}
		return reactive.Unwrap(v)
	}

	for _, rules := range schema.Fields {
		name := starlark.String(rules.Name)
		v, found, _ := form.Get(name)
		if !found {
			v = starlark.None
		}
		ex := exprs[rules.Name]

		required := rules.Required
		if ex.Required != nil {
			rv, err := eval(ex.Required)
			if err != nil {
				return nil, nil, err
			}
			required = bool(rv.Truth())
		}
		if isEmptyValue(v) {
			if required {
				_ = problems.SetKey(name, starlark.String("This field is required."))
			}
			continue
		}

		lower, upper := rules.Min, rules.Max
		if ex.Min != nil {
			mv, err := eval(ex.Min)
			if err != nil {
				return nil, nil, err
			}
			lower = ToString(mv)
		}
		if ex.Max != nil {
			mv, err := eval(ex.Max)
			if err != nil {
				return nil, nil, err
			}
			upper = ToString(mv)
		}

		msg, value := checkField(rules, v, lower, upper)
		if msg != "" {
			_ = problems.SetKey(name, starlark.String(msg))
			continue
		}
		_ = cleaned.SetKey(name, value)
	}
	return cleaned, problems, nil
}

func isEmptyValue(v starlark.Value) bool {
	switch x := v.(type) {
	case starlark.NoneType:
		return true
	case starlark.String:
		return strings.TrimSpace(string(x)) == ""
	case starlark.Bool:
		return !bool(x)
	case *starlark.List:
		return x.Len() == 0
	}
	return false
}

// checkField validates one non-empty value. It returns an error message,
// or the cleaned value.
func checkField(rules *template.FieldRules, v starlark.Value, lower, upper string) (string, starlark.Value) {
	if rules.Type == "file" {
		return checkFile(rules, v), v
	}

	text := ToString(v)
	length := utf8.RuneCountInString(text)
	if rules.MinLength != nil && length < *rules.MinLength {
		return fmt.Sprintf("Please use at least %d characters.", *rules.MinLength), nil
	}
	if rules.MaxLength != nil && length > *rules.MaxLength {
		return fmt.Sprintf("Please use no more than %d characters.", *rules.MaxLength), nil
	}
	if rules.Pattern != "" {
		if re, err := regexp.Compile(`^(?:` + rules.Pattern + `)$`); err == nil && !re.MatchString(text) {
			if rules.Title != "" {
				return rules.Title, nil
			}
			return "Please match the requested format.", nil
		}
	}

	switch rules.Type {
	case "email":
		if !emailForm.MatchString(text) {
			return "Please enter a valid email address.", nil
		}
	case "url":
		u, err := url.ParseRequestURI(text)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return "Please enter a valid URL.", nil
		}
	case "number", "range":
		n, ok := parseNumber(text)
		if !ok {
			return "Please enter a valid number.", nil
		}
		f, _ := starlark.AsFloat(n)
		if lo, err := strconv.ParseFloat(lower, 64); err == nil && f < lo {
			return fmt.Sprintf("Value must be at least %s.", lower), nil
		}
		if hi, err := strconv.ParseFloat(upper, 64); err == nil && f > hi {
			return fmt.Sprintf("Value must be at most %s.", upper), nil
		}
		if step, err := strconv.ParseFloat(rules.Step, 64); err == nil && step > 0 {
			base, _ := strconv.ParseFloat(lower, 64)
			if q := (f - base) / step; math.Abs(q-math.Round(q)) > 1e-9 {
				return fmt.Sprintf("Please enter a multiple of %s.", rules.Step), nil
			}
		}
		return "", n
	case "date", "time", "datetime-local", "month", "week":
		// ISO forms compare in lexical order
		if lower != "" && text < lower {
			return fmt.Sprintf("Value must be %s or later.", lower), nil
		}
		if upper != "" && text > upper {
			return fmt.Sprintf("Value must be %s or earlier.", upper), nil
		}
	}
	return "", v
}

// checkFile validates uploaded file metadata: a dict with name, type and
// size entries, or a list of them
func checkFile(rules *template.FieldRules, v starlark.Value) string {
	var files []starlark.Value
	if l, ok := v.(*starlark.List); ok {
		for i := 0; i < l.Len(); i++ {
			files = append(files, l.Index(i))
		}
	} else {
		files = []starlark.Value{v}
	}
	for _, file := range files {
		m, ok := file.(starlark.Mapping)
		if !ok {
			continue
		}
		name := mappingString(m, "name")
		mime := mappingString(m, "type")
		if len(rules.AllowedTypes) > 0 && !acceptsFile(rules.AllowedTypes, name, mime) {
			return "File type not allowed."
		}
		if rules.MaxSize > 0 {
			sv, _, _ := m.Get(starlark.String("size"))
			if size, ok := sv.(starlark.Int); ok {
				if n, ok := size.Int64(); ok && n > rules.MaxSize {
					return fmt.Sprintf("File is too large (max %d bytes).", rules.MaxSize)
				}
			}
		}
	}
	return ""
}

func mappingString(m starlark.Mapping, key string) string {
	v, found, _ := m.Get(starlark.String(key))
	if !found {
		return ""
	}
	s, _ := starlark.AsString(v)
	return s
}

// acceptsFile matches the accept attribute forms: .ext, type/* and type/sub
func acceptsFile(allowed []string, name, mime string) bool {
	ext := strings.ToLower(path.Ext(name))
	mime = strings.ToLower(mime)
	for _, a := range allowed {
		a = strings.ToLower(a)
		switch {
		case strings.HasPrefix(a, "."):
			if ext == a {
				return true
			}
		case strings.HasSuffix(a, "/*"):
			if strings.HasPrefix(mime, strings.TrimSuffix(a, "*")) {
				return true
			}
		case a == mime:
			return true
		}
	}
	return false
}

// parseNumber reads an int or float literal
func parseNumber(s string) (starlark.Value, bool) {
	s = strings.TrimSpace(s)
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return starlark.MakeInt64(i), true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return starlark.Float(f), true
	}
	return nil, false
}
