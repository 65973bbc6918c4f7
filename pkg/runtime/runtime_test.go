package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/recera/wirepage/pkg/template"
	"go.starlark.net/starlark"
)

func TestEscape(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{`plain`, `plain`},
		{`<b>"x" & y</b>`, `&lt;b&gt;&quot;x&quot; &amp; y&lt;/b&gt;`},
		{`it's`, `it's`},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Escape(tt.in); got != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestToString_None(t *testing.T) {
	if got := ToString(starlark.None); got != "" {
		t.Errorf("Expected empty string for None, got %q", got)
	}
	if got := ToString(starlark.MakeInt(3)); got != "3" {
		t.Errorf("Expected 3, got %q", got)
	}
}

func TestAttrs_SetValue(t *testing.T) {
	a := NewAttrs()
	a.Set("class", "btn")
	_ = a.SetValue("disabled", starlark.True)
	_ = a.SetValue("hidden", starlark.False)
	_ = a.SetValue("aria-expanded", starlark.False)
	_ = a.SetValue("title", starlark.None)
	_ = a.SetValue("data-n", starlark.MakeInt(2))

	var b strings.Builder
	a.WriteTo(&b)
	expected := ` class="btn" disabled aria-expanded="false" data-n="2"`
	if b.String() != expected {
		t.Errorf("Expected %q, got %q", expected, b.String())
	}
}

func TestAttrs_Merge(t *testing.T) {
	d := starlark.NewDict(2)
	_ = d.SetKey(starlark.String("id"), starlark.String(`a"b`))
	_ = d.SetKey(starlark.String("checked"), starlark.True)

	a := NewAttrs()
	if err := a.Merge(d); err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if err := a.Merge(starlark.None); err != nil {
		t.Errorf("Expected None spread to be ignored, got %v", err)
	}
	if err := a.Merge(starlark.MakeInt(1)); err == nil {
		t.Error("Expected error spreading a non-mapping")
	}

	var b strings.Builder
	a.WriteTo(&b)
	if b.String() != ` id="a&quot;b" checked` {
		t.Errorf("Unexpected attributes %q", b.String())
	}
}

func TestAttrs_AppendStyle(t *testing.T) {
	a := NewAttrs()
	a.AppendStyle("display: none")
	if v, _ := a.Get("style"); v != "display: none" {
		t.Errorf("Expected bare declaration, got %q", v)
	}
	a.Set("style", "color: red")
	a.AppendStyle("display: none")
	if v, _ := a.Get("style"); v != "color: red; display: none" {
		t.Errorf("Expected appended declaration, got %q", v)
	}
}

func TestNarrowBody(t *testing.T) {
	tests := []struct {
		name     string
		doc      string
		expected string
	}{
		{"document", `<html><head></head><body class="x"><p>hi</p></body></html>`, `<p>hi</p>`},
		{"fragment", `<div>a</div>`, `<div>a</div>`},
		{"unclosed", `<body><p>x</p>`, `<p>x</p>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := narrowBody(tt.doc); got != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestUpdate_MarshalJSON(t *testing.T) {
	data, err := json.Marshal(Update{Type: UpdateRegions})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"type":"regions","regions":[]}` {
		t.Errorf("Unexpected empty region update %s", data)
	}

	data, _ = json.Marshal(Update{Type: UpdateRegions, Regions: []RegionUpdate{{Region: "r1", HTML: "<b>1</b>"}}})
	if !strings.Contains(string(data), `"region":"r1"`) {
		t.Errorf("Expected region id in %s", data)
	}

	data, _ = Update{Type: UpdateFull, HTML: "<p>"}.MarshalJSON()
	if string(data) != `{"type":"full","html":"<p>"}` {
		t.Errorf("Unexpected full update %s", data)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(Update{Type: UpdateRegions, Regions: []RegionUpdate{{Region: "r1", HTML: "<b>1</b>"}}}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"html":"<b>1</b>"`) {
		t.Errorf("Expected unescaped markup in %s", buf.String())
	}
}

func TestRenderUpdate_UnregisteredRegions(t *testing.T) {
	prog := NewProgram("t.wire", "u")
	prog.Regions["u-r1"] = func(f *Frame) error { return nil }
	p := &Page{prog: prog, chain: []*Program{prog}, s: newSession(nil, nil, false)}
	p.s.markDirty("u-r9")

	u, err := p.renderUpdate(context.Background(), false)
	if err != nil {
		t.Fatalf("renderUpdate failed: %v", err)
	}
	if u.Type != UpdateRegions {
		t.Fatalf("Expected a regions update, got %s", u.Type)
	}
	if len(u.Regions) != 0 {
		t.Errorf("Expected no regions, got %+v", u.Regions)
	}
	if len(p.s.dirty) != 0 {
		t.Errorf("Expected the dirty set to be cleared, got %v", p.s.dirty)
	}
}

func execFunctions(t *testing.T, src string) starlark.StringDict {
	t.Helper()
	thread := &starlark.Thread{Name: "test"}
	globals, err := starlark.ExecFile(thread, "test.star", src, Predeclared())
	if err != nil {
		t.Fatalf("exec failed: %v", err)
	}
	return globals
}

func TestHandlerKwargs(t *testing.T) {
	globals := execFunctions(t, `
def by_name(self, x, y=0):
    pass

def with_event(self, event):
    pass

def with_kwargs(self, **kw):
    pass
`)
	payload := starlark.NewDict(3)
	_ = payload.SetKey(starlark.String("x"), starlark.MakeInt(1))
	args := starlark.NewDict(1)
	_ = args.SetKey(starlark.String("arg-0"), starlark.String("a"))
	_ = payload.SetKey(starlark.String("args"), args)

	kw, err := handlerKwargs(globals["by_name"].(*starlark.Function), payload)
	if err != nil {
		t.Fatal(err)
	}
	if len(kw) != 1 || kw[0][0] != starlark.String("x") {
		t.Errorf("Expected only x to be passed, got %v", kw)
	}

	kw, _ = handlerKwargs(globals["with_event"].(*starlark.Function), payload)
	if len(kw) != 1 {
		t.Fatalf("Expected one kwarg, got %d", len(kw))
	}
	ev, ok := kw[0][1].(*EventData)
	if !ok {
		t.Fatalf("Expected EventData, got %s", kw[0][1].Type())
	}
	if v, _ := ev.Attr("arg0"); v != starlark.String("a") {
		t.Errorf("Expected flattened arg0, got %v", v)
	}
	if v, _ := ev.Attr("missing"); v != starlark.None {
		t.Errorf("Expected None for a missing attribute, got %v", v)
	}

	kw, _ = handlerKwargs(globals["with_kwargs"].(*starlark.Function), payload)
	if len(kw) != 2 {
		t.Errorf("Expected x and arg0, got %v", kw)
	}
}

func TestCheckField(t *testing.T) {
	three := 3
	tests := []struct {
		name  string
		rules *template.FieldRules
		value starlark.Value
		fails bool
	}{
		{"email ok", &template.FieldRules{Type: "email"}, starlark.String("a@b.co"), false},
		{"email bad", &template.FieldRules{Type: "email"}, starlark.String("nope"), true},
		{"url bad", &template.FieldRules{Type: "url"}, starlark.String("example"), true},
		{"too short", &template.FieldRules{MinLength: &three}, starlark.String("ab"), true},
		{"pattern", &template.FieldRules{Pattern: "[0-9]+"}, starlark.String("12a"), true},
		{"number range", &template.FieldRules{Type: "number", Max: "10"}, starlark.String("11"), true},
		{"number ok", &template.FieldRules{Type: "number", Min: "1"}, starlark.String("5"), false},
		{"file type", &template.FieldRules{Type: "file", AllowedTypes: []string{".pdf"}}, fileMeta("a.png", "image/png", 10), true},
		{"file size", &template.FieldRules{Type: "file", AllowedTypes: []string{"image/*"}, MaxSize: 5}, fileMeta("a.png", "image/png", 10), true},
		{"file ok", &template.FieldRules{Type: "file", AllowedTypes: []string{"image/*"}}, fileMeta("a.png", "image/png", 10), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, _ := checkField(tt.rules, tt.value, tt.rules.Min, tt.rules.Max)
			if (msg != "") != tt.fails {
				t.Errorf("Expected failure=%v, got message %q", tt.fails, msg)
			}
		})
	}
}

func TestCheckField_NumberIsConverted(t *testing.T) {
	_, v := checkField(&template.FieldRules{Type: "number"}, starlark.String("42"), "", "")
	if v == nil || v.Type() != "int" || v.String() != "42" {
		t.Errorf("Expected int 42, got %v", v)
	}
}

func fileMeta(name, mime string, size int) *starlark.Dict {
	d := starlark.NewDict(3)
	_ = d.SetKey(starlark.String("name"), starlark.String(name))
	_ = d.SetKey(starlark.String("type"), starlark.String(mime))
	_ = d.SetKey(starlark.String("size"), starlark.MakeInt(size))
	return d
}

func TestFuture_Wait(t *testing.T) {
	globals := execFunctions(t, `
def run():
    return wait(sleep(0.01))
`)
	thread := &starlark.Thread{Name: "test"}
	v, err := starlark.Call(thread, globals["run"], nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if v != starlark.None {
		t.Errorf("Expected None, got %v", v)
	}
}
