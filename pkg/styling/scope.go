package styling

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// AttrPrefix starts the attribute that marks elements of a scoped unit
const AttrPrefix = "data-wire-"

// ScopeID derives the short scope id of a source unit
func ScopeID(unit string) string {
	h := sha256.New()
	h.Write([]byte(unit))
	return hex.EncodeToString(h.Sum(nil))[:6]
}

// Attr returns the marker attribute name for a scope id
func Attr(sid string) string {
	return AttrPrefix + sid
}

// Scope rewrites every selector of css to only match elements carrying the
// scope's marker attribute. Rules nested in @media, @supports and similar
// blocks are rewritten too; @keyframes and @font-face bodies are kept.
func Scope(css, sid string) string {
	css = removeComments(css)
	var b strings.Builder
	scopeBlock(&b, css, "["+Attr(sid)+"]")
	return strings.TrimSpace(b.String())
}

// scopeBlock rewrites a sequence of rules
func scopeBlock(b *strings.Builder, css, marker string) {
	i := 0
	for i < len(css) {
		open := strings.IndexByte(css[i:], '{')
		if open < 0 {
			b.WriteString(css[i:])
			return
		}
		open += i
		prelude := css[i:open]
		close := matchingBrace(css, open)
		body := css[open+1 : close]

		head := strings.TrimSpace(prelude)
		switch {
		case strings.HasPrefix(head, "@"):
			b.WriteString(head)
			b.WriteString(" {")
			if nestsRules(head) {
				scopeBlock(b, body, marker)
			} else {
				b.WriteString(body)
			}
			b.WriteString("}\n")
		default:
			b.WriteString(scopeSelectors(head, marker))
			b.WriteString(" {")
			b.WriteString(body)
			b.WriteString("}\n")
		}
		if close >= len(css) {
			return
		}
		i = close + 1
	}
}

// nestsRules reports whether an at-rule contains style rules
func nestsRules(head string) bool {
	for _, at := range []string{"@media", "@supports", "@container", "@layer", "@document"} {
		if strings.HasPrefix(head, at) {
			return true
		}
	}
	return false
}

// matchingBrace returns the index of the brace closing css[open], or
// len(css) when it is unbalanced
func matchingBrace(css string, open int) int {
	depth := 0
	for i := open; i < len(css); i++ {
		switch css[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return len(css)
}

// scopeSelectors rewrites a comma-separated selector list
func scopeSelectors(list, marker string) string {
	parts := splitOutside(list, ',')
	for i, sel := range parts {
		parts[i] = scopeSelector(strings.TrimSpace(sel), marker)
	}
	return strings.Join(parts, ", ")
}

// scopeSelector adds marker to the last compound selector, before its
// pseudo-classes and pseudo-elements
func scopeSelector(sel, marker string) string {
	if sel == "" || strings.Contains(sel, marker) {
		return sel
	}
	start := 0
	depth := 0
	for i := 0; i < len(sel); i++ {
		switch c := sel[i]; {
		case c == '(' || c == '[':
			depth++
		case c == ')' || c == ']':
			depth--
		case depth == 0 && (c == ' ' || c == '>' || c == '+' || c == '~'):
			start = i + 1
		}
	}
	insert := len(sel)
	depth = 0
	for i := start; i < len(sel); i++ {
		c := sel[i]
		if c == '(' || c == '[' {
			depth++
		} else if c == ')' || c == ']' {
			depth--
		} else if c == ':' && depth == 0 {
			insert = i
			break
		}
	}
	return sel[:insert] + marker + sel[insert:]
}

func splitOutside(s string, sep byte) []string {
	var parts []string
	depth, last := 0, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(', '[':
			depth++
		case ')', ']':
			depth--
		case sep:
			if depth == 0 {
				parts = append(parts, s[last:i])
				last = i + 1
			}
		}
	}
	return append(parts, s[last:])
}

// removeComments removes CSS comments from the string
func removeComments(css string) string {
	result := strings.Builder{}
	i := 0
	for i < len(css) {
		if i < len(css)-1 && css[i] == '/' && css[i+1] == '*' {
			// Find end of comment
			i += 2
			for i < len(css)-1 {
				if css[i] == '*' && css[i+1] == '/' {
					i += 2
					break
				}
				i++
			}
		} else {
			result.WriteByte(css[i])
			i++
		}
	}
	return result.String()
}
