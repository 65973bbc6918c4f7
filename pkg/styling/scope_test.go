package styling

import (
	"strings"
	"testing"
)

func TestScopeSelector(t *testing.T) {
	tests := []struct {
		sel      string
		expected string
	}{
		{".card", ".card[data-wire-x]"},
		{".card .title", ".card .title[data-wire-x]"},
		{"a:hover", "a[data-wire-x]:hover"},
		{"p::before", "p[data-wire-x]::before"},
		{"ul > li", "ul > li[data-wire-x]"},
		{"input[type=\"text\"]", "input[type=\"text\"][data-wire-x]"},
		{"li:not(.a b)", "li[data-wire-x]:not(.a b)"},
	}
	for _, tt := range tests {
		t.Run(tt.sel, func(t *testing.T) {
			if got := scopeSelector(tt.sel, "[data-wire-x]"); got != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestScope(t *testing.T) {
	css := `
		/* heading */
		h1, .title { color: red; }
		@media (min-width: 768px) {
			.card { padding: 1rem; }
		}
		@keyframes spin { from { opacity: 0; } to { opacity: 1; } }
	`
	got := Scope(css, "abc123")

	for _, want := range []string{
		"h1[data-wire-abc123], .title[data-wire-abc123] {",
		".card[data-wire-abc123] {",
		"@keyframes spin {",
		"from { opacity: 0; }",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("Expected %q in\n%s", want, got)
		}
	}
	if strings.Contains(got, "heading") {
		t.Error("Expected comments to be removed")
	}
	if strings.Contains(got, "from[data-wire") {
		t.Error("Keyframe selectors should not be scoped")
	}
}

func TestScopeID(t *testing.T) {
	a, b := ScopeID("pages/a.wire"), ScopeID("pages/b.wire")
	if len(a) != 6 {
		t.Errorf("Expected 6 character id, got %q", a)
	}
	if a == b {
		t.Error("Expected different ids for different units")
	}
	if ScopeID("pages/a.wire") != a {
		t.Error("Expected stable ids")
	}
}

func TestCollector(t *testing.T) {
	c := NewCollector()
	if c.Render() != "" {
		t.Error("Expected empty render without styles")
	}
	c.Add("b", ".b{}")
	c.Add("a", ".a{}")
	c.Add("b", ".b2{}")
	c.Add("empty", "")

	if c.Len() != 2 {
		t.Errorf("Expected 2 scopes, got %d", c.Len())
	}
	css := c.CSS()
	if css != ".b2{}\n.a{}\n" {
		t.Errorf("Unexpected css %q", css)
	}
	if !strings.HasPrefix(c.Render(), "<style data-wire-styles>") {
		t.Errorf("Unexpected render %q", c.Render())
	}

	c.Reset()
	if c.Len() != 0 {
		t.Error("Expected reset to clear styles")
	}
}
