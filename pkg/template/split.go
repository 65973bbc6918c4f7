package template

import (
	"regexp"
	"strings"
)

// Separator is the line between the code section and the template
const Separator = "---html---"

// orphanGrace is the number of leading lines where code-looking text is
// tolerated without a separator
const orphanGrace = 3

var codeLine = regexp.MustCompile(`^(def |class |load\(|@[A-Za-z_]|[A-Za-z_][A-Za-z0-9_]*\s*(=[^=]|\+=|-=|\*=|/=))`)

// sections is a source file split at the separator
type sections struct {
	header       []string
	template     string
	templateLine int
	separated    bool
}

func splitSource(file, src string) (*sections, error) {
	src = strings.ReplaceAll(src, "\r\n", "\n")
	lines := strings.Split(src, "\n")

	sepIdx := -1
	for i, line := range lines {
		if strings.TrimSpace(line) != Separator {
			continue
		}
		if sepIdx >= 0 {
			return nil, newError(ErrSeparator, file, i+1, 0,
				"duplicate %s separator (first one is on line %d)", Separator, sepIdx+1)
		}
		sepIdx = i
	}

	limit := len(lines)
	if sepIdx >= 0 {
		limit = sepIdx
	}
	for i := 0; i < limit; i++ {
		if nearSeparator(lines[i]) {
			return nil, newError(ErrSeparator, file, i+1, 0,
				"malformed separator %q: the line must be exactly %s", strings.TrimSpace(lines[i]), Separator)
		}
	}

	if sepIdx < 0 {
		for i, line := range lines {
			if i >= orphanGrace && codeLine.MatchString(line) {
				return nil, newError(ErrOrphanCode, file, i+1, 0,
					"code found without a %s separator", Separator)
			}
		}
		header, rest := leadingDirectives(lines)
		return &sections{
			header:       header,
			template:     strings.Join(lines[rest:], "\n"),
			templateLine: rest + 1,
		}, nil
	}

	return &sections{
		header:       lines[:sepIdx],
		template:     strings.Join(lines[sepIdx+1:], "\n"),
		templateLine: sepIdx + 2,
		separated:    true,
	}, nil
}

// nearSeparator reports lines that look like a mistyped separator
func nearSeparator(line string) bool {
	t := strings.TrimSpace(line)
	if t == "" || t == Separator {
		return false
	}
	if len(t) >= 3 && strings.Trim(t, "-") == "" {
		return true
	}
	if !strings.HasPrefix(t, "-") && !strings.HasSuffix(t, "-") {
		return false
	}
	return strings.EqualFold(strings.Trim(t, "- \t"), "html")
}

// leadingDirectives returns the directive lines at the top of a file that
// has no code section, and the index of the first template line
func leadingDirectives(lines []string) ([]string, int) {
	i := 0
	depth := 0
	for i < len(lines) {
		t := strings.TrimSpace(lines[i])
		switch {
		case depth > 0:
			depth += nesting(t)
		case t == "" || strings.HasPrefix(t, "#"):
		case strings.HasPrefix(t, "!") && !strings.HasPrefix(t, "<!"):
			depth = nesting(t)
		default:
			return lines[:i], i
		}
		i++
	}
	return lines, len(lines)
}
