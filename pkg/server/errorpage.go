package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/a-h/templ"
	"github.com/recera/wirepage/pkg/template"
)

// contextLines is the number of source lines shown around a syntax error
const contextLines = 3

// SourceLine is one line of the source excerpt on the error page
type SourceLine struct {
	Number  int
	Text    string
	Current bool
}

// SourceContext returns the lines around line of file. It returns nil when
// the file can not be read.
func SourceContext(file string, line, radius int) []SourceLine {
	data, err := os.ReadFile(file)
	if err != nil || line < 1 {
		return nil
	}
	lines := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	start, end := max(line-radius, 1), min(line+radius, len(lines))
	out := make([]SourceLine, 0, end-start+1)
	for n := start; n <= end; n++ {
		out = append(out, SourceLine{Number: n, Text: lines[n-1], Current: n == line})
	}
	return out
}

const devErrorStyle = `body{font-family:ui-monospace,monospace;margin:2rem;background:#1e1e2e;color:#cdd6f4}` +
	`h1{color:#f38ba8;font-size:1.4rem}.loc{color:#a6adc8}` +
	`pre{background:#181825;padding:1rem;overflow:auto}` +
	`.line{display:block}.line.current{background:#45273a}.num{color:#6c7086;display:inline-block;width:3em}`

// DevErrorPage renders a failure for development. Syntax errors show their
// location with the surrounding source.
func DevErrorPage(code int, cause error) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		title := fmt.Sprintf("%d %s", code, http.StatusText(code))
		var b strings.Builder
		b.WriteString(`<!DOCTYPE html><html><head><meta charset="utf-8"><title>`)
		b.WriteString(templ.EscapeString(title))
		b.WriteString(`</title><style>` + devErrorStyle + `</style></head><body><h1>`)
		b.WriteString(templ.EscapeString(title))
		b.WriteString(`</h1>`)

		var syntax *template.SyntaxError
		switch {
		case errors.As(cause, &syntax):
			fmt.Fprintf(&b, `<p class="loc">%s:%d</p><p>%s</p>`,
				templ.EscapeString(syntax.File), syntax.Line, templ.EscapeString(syntax.Msg))
			if lines := SourceContext(syntax.File, syntax.Line, contextLines); len(lines) > 0 {
				b.WriteString(`<pre>`)
				for _, l := range lines {
					class := "line"
					if l.Current {
						class += " current"
					}
					fmt.Fprintf(&b, `<span class="%s"><span class="num">%d</span>%s</span>`,
						class, l.Number, templ.EscapeString(l.Text))
				}
				b.WriteString(`</pre>`)
			}
		case cause != nil:
			fmt.Fprintf(&b, `<pre>%s</pre>`, templ.EscapeString(cause.Error()))
		}
		b.WriteString(`</body></html>`)
		_, err := io.WriteString(w, b.String())
		return err
	})
}
