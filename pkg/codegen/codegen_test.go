package codegen

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/recera/wirepage/pkg/reactive"
	"github.com/recera/wirepage/pkg/runtime"
	"github.com/recera/wirepage/pkg/styling"
	"github.com/recera/wirepage/pkg/template"
	"go.starlark.net/starlark"
)

func compileSource(t *testing.T, file, src string) *runtime.Program {
	t.Helper()
	doc, err := template.Parse(src, file)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	prog, err := Compile(doc, Options{})
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	return prog
}

func renderSource(t *testing.T, src string) (*runtime.Page, string) {
	t.Helper()
	return renderProgram(t, compileSource(t, "test.wire", src), runtime.Options{})
}

func renderProgram(t *testing.T, prog *runtime.Program, opts runtime.Options) (*runtime.Page, string) {
	t.Helper()
	p, err := runtime.NewPage(prog, opts)
	if err != nil {
		t.Fatalf("NewPage failed: %v", err)
	}
	t.Cleanup(p.Close)
	html, err := p.Render(context.Background(), true)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	return p, html
}

func memberString(t *testing.T, p *runtime.Page, name string) string {
	t.Helper()
	v, ok := p.Member(name)
	if !ok {
		t.Fatalf("Expected member %s", name)
	}
	v, err := reactive.Unwrap(v)
	if err != nil {
		t.Fatalf("Unwrap failed: %v", err)
	}
	return runtime.ToString(v)
}

func TestCounter_UpdatesOnlyItsRegion(t *testing.T) {
	p, html := renderSource(t, "count = wire(0)\n---html---\n<p>{count}</p><button @click={count += 1}>+</button>")

	if !strings.Contains(html, `<p data-wire-region="r1">0</p>`) {
		t.Errorf("Expected the counter region in %q", html)
	}
	if !strings.Contains(html, `<button data-on-click="_handler_1">+</button>`) {
		t.Errorf("Expected the button handler in %q", html)
	}

	u, err := p.HandleEvent(context.Background(), "_handler_1", nil)
	if err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}
	if u.Type != runtime.UpdateRegions {
		t.Fatalf("Expected a regions update, got %s", u.Type)
	}
	if len(u.Regions) != 1 {
		t.Fatalf("Expected 1 region, got %d", len(u.Regions))
	}
	if !strings.Contains(u.Regions[0].HTML, ">1</p>") {
		t.Errorf("Expected the new count, got %q", u.Regions[0].HTML)
	}
	if strings.Contains(u.Regions[0].HTML, "<button") {
		t.Errorf("Expected the button to stay out of the update, got %q", u.Regions[0].HTML)
	}
}

func TestRenderUpdate_NothingDirty(t *testing.T) {
	p, _ := renderSource(t, "count = wire(0)\n---html---\n<p>{count}</p>")
	u, err := p.RenderUpdate(context.Background(), false)
	if err != nil {
		t.Fatalf("RenderUpdate failed: %v", err)
	}
	if u.Type != runtime.UpdateRegions || len(u.Regions) != 0 {
		t.Errorf("Expected an empty regions update, got %+v", u)
	}
}

func TestInterpolation_Escaping(t *testing.T) {
	_, html := renderSource(t, "name = \"<b>\"\n---html---\n<p>{name}</p><div>{$html name}</div>")
	if !strings.Contains(html, "&lt;b&gt;</p>") {
		t.Errorf("Expected escaped text in %q", html)
	}
	if !strings.Contains(html, "<b></div>") {
		t.Errorf("Expected raw markup in %q", html)
	}
}

func TestInterpolation_NoneIsEmpty(t *testing.T) {
	_, html := renderSource(t, "value = None\n---html---\n<p>[{value}]</p>")
	if !strings.Contains(html, ">[]</p>") {
		t.Errorf("Expected None to render empty, got %q", html)
	}
}

func TestFor_Else(t *testing.T) {
	tests := []struct {
		name     string
		items    string
		expected string
	}{
		{"items", "[1, 2]", "<li>1</li><li>2</li>"},
		{"empty", "[]", "<li>none</li>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := fmt.Sprintf("items = %s\n---html---\n<ul>{$for x in items}<li>{x}</li>{$else}<li>none</li>{/for}</ul>", tt.items)
			_, html := renderSource(t, src)
			if !strings.Contains(html, tt.expected) {
				t.Errorf("Expected %q in %q", tt.expected, html)
			}
		})
	}
}

func TestFor_Unpacking(t *testing.T) {
	_, html := renderSource(t, "pairs = [(\"a\", 1), (\"b\", 2)]\n---html---\n<ul><li $for={k, v in pairs}>{k}={v}</li></ul>")
	if !strings.Contains(html, "<li>a=1</li><li>b=2</li>") {
		t.Errorf("Expected unpacked pairs in %q", html)
	}
}

func TestAttributeConditionalChain(t *testing.T) {
	tests := []struct {
		n        int
		expected string
	}{
		{1, "one"},
		{2, "two"},
		{3, "many"},
	}
	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			src := fmt.Sprintf("n = %d\n---html---\n<p $if={n == 1}>one</p>\n<p $elif={n == 2}>two</p>\n<p $else>many</p>", tt.n)
			_, html := renderSource(t, src)
			if !strings.Contains(html, ">"+tt.expected+"</p>") {
				t.Errorf("Expected %s in %q", tt.expected, html)
			}
			if strings.Count(html, "<p") != 1 {
				t.Errorf("Expected exactly one branch, got %q", html)
			}
		})
	}
}

func TestTry_Except(t *testing.T) {
	_, html := renderSource(t, "<div>{$try}<b>{1 // 0}</b>{$except ZeroDivisionError as e}<i>failed</i>{/try}</div>")
	if !strings.Contains(html, "<i>failed</i>") {
		t.Errorf("Expected the except branch in %q", html)
	}
	if strings.Contains(html, "<b>") {
		t.Errorf("Expected the failed body to be discarded, got %q", html)
	}
}

func TestTry_UnmatchedExceptPropagates(t *testing.T) {
	doc, err := template.Parse("<div>{$try}{1 // 0}{$except KeyError}<i>key</i>{/try}</div>", "test.wire")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	prog, err := Compile(doc, Options{})
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	p, err := runtime.NewPage(prog, runtime.Options{})
	if err != nil {
		t.Fatalf("NewPage failed: %v", err)
	}
	defer p.Close()
	if _, err := p.Render(context.Background(), true); err == nil {
		t.Error("Expected the division error to propagate")
	}
}

func TestHandler_LoopArguments(t *testing.T) {
	src := "items = [\"a\", \"b\"]\npicked = wire(\"\")\ndef pick(x):\n    picked = x\n---html---\n<ul>{$for x in items}<li @click={pick(x)}>{x}</li>{/for}</ul>"
	p, html := renderSource(t, src)
	if !strings.Contains(html, `data-arg-0="&quot;a&quot;"`) {
		t.Errorf("Expected the loop value as an argument in %q", html)
	}

	payload := map[string]interface{}{"args": map[string]interface{}{"arg-0": "b"}}
	if _, err := p.HandleEvent(context.Background(), "_handler_1", payload); err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}
	if got := memberString(t, p, "picked"); got != "b" {
		t.Errorf("Expected b, got %q", got)
	}
}

func TestHandler_NotAllowed(t *testing.T) {
	p, _ := renderSource(t, "def secret():\n    pass\n---html---\n<p>x</p>")
	_, err := p.HandleEvent(context.Background(), "secret", nil)
	if !errors.Is(err, runtime.ErrHandlerNotAllowed) {
		t.Errorf("Expected ErrHandlerNotAllowed, got %v", err)
	}
}

func TestBind_Input(t *testing.T) {
	p, html := renderSource(t, "name = wire(\"x\")\n---html---\n<input $bind={name}>")
	if !strings.Contains(html, `value="x"`) || !strings.Contains(html, `data-on-input="_handle_bind_name"`) {
		t.Errorf("Expected a bound input in %q", html)
	}
	if _, err := p.HandleEvent(context.Background(), "_handle_bind_name", map[string]interface{}{"value": "y"}); err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}
	if got := memberString(t, p, "name"); got != "y" {
		t.Errorf("Expected y, got %q", got)
	}
}

func TestScopedStyle(t *testing.T) {
	prog := compileSource(t, "styled.wire", "<style scoped>p { color: red; }</style><p>x</p>")
	if prog.StyleID == "" {
		t.Fatal("Expected a style id")
	}
	_, html := renderProgram(t, prog, runtime.Options{})
	if !strings.Contains(html, "<p "+styling.Attr(prog.StyleID)+">x</p>") {
		t.Errorf("Expected the scope attribute in %q", html)
	}
	if !strings.Contains(html, "<style data-wire-styles>") {
		t.Errorf("Expected the collected styles in %q", html)
	}
}

func TestCompile_ExpressionErrorPosition(t *testing.T) {
	doc, err := template.Parse("<p>{1 +}</p>", "bad.wire")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	_, err = Compile(doc, Options{})
	var se *template.SyntaxError
	if !errors.As(err, &se) {
		t.Fatalf("Expected *SyntaxError, got %T: %v", err, err)
	}
	if se.Line != 1 || se.Kind != template.ErrBody {
		t.Errorf("Expected a body error on line 1, got %s on line %d", se.Kind, se.Line)
	}
}

func TestAwait_RendersPendingFirst(t *testing.T) {
	_, html := renderSource(t, "<div>{$await sleep(5)}<i>loading</i>{$then v}<b>done</b>{/await}</div>")
	if !strings.Contains(html, `style="display: contents;"><i>loading</i></div>`) {
		t.Errorf("Expected the pending branch in %q", html)
	}
}

type programs map[string]*runtime.Program

func (ps programs) ResolveComponent(_ *runtime.Program, name string) (*runtime.Program, error) {
	prog, ok := ps[name]
	if !ok {
		return nil, fmt.Errorf("unknown component %s", name)
	}
	return prog, nil
}

func TestComponent_PropsAndFallthrough(t *testing.T) {
	tag := compileSource(t, "tag.wire", "!props label: str = \"none\"\n---html---\n<span class=\"tag\">{label}</span>")
	page := compileSource(t, "page.wire", "<div><Tag label=\"hi\" id=\"t1\"></Tag></div>")

	_, html := renderProgram(t, page, runtime.Options{Resolver: programs{"Tag": tag}})
	if !strings.Contains(html, `id="t1">hi</span>`) {
		t.Errorf("Expected the prop and the fallthrough attribute in %q", html)
	}
}

func TestComponent_Slots(t *testing.T) {
	card := compileSource(t, "card.wire", "<section><header><slot name=\"title\">untitled</slot></header><slot></slot></section>")
	page := compileSource(t, "page.wire", "<main><Card><h1 slot=\"title\">Hello</h1><p>body</p></Card></main>")

	_, html := renderProgram(t, page, runtime.Options{Resolver: programs{"Card": card}})
	if !strings.Contains(html, "<header><h1>Hello</h1></header>") {
		t.Errorf("Expected the named slot in %q", html)
	}
	if !strings.Contains(html, "<p>body</p>") {
		t.Errorf("Expected the default slot in %q", html)
	}
}

func TestSymbols_AsyncMethods(t *testing.T) {
	doc, err := template.Parse("def a():\n    sleep(1)\ndef b():\n    a()\ndef c():\n    pass\n---html---\n<p></p>", "t.wire")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	syms := newSymbols(starlark.StringDict{})
	syms.collect(doc)
	for name, expected := range map[string]bool{"a": true, "b": true, "c": false} {
		if syms.async[name] != expected {
			t.Errorf("Expected async[%s] = %v", name, expected)
		}
	}
}

func TestHandler_TwoWiresOneRegion(t *testing.T) {
	p, _ := renderSource(t, "a = wire(0)\nb = wire(0)\n\ndef both():\n    a += 1\n    b += 1\n---html---\n<p>{a} {b}</p><button @click={both}>+</button>")

	u, err := p.HandleEvent(context.Background(), "both", nil)
	if err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}
	if len(u.Regions) != 1 {
		t.Fatalf("Expected the shared region once, got %d", len(u.Regions))
	}
	if !strings.Contains(u.Regions[0].HTML, ">1 1</p>") {
		t.Errorf("Expected both new values, got %q", u.Regions[0].HTML)
	}
}

func TestCompile_MethodAndExpression(t *testing.T) {
	_, html := renderSource(t, "def double(n):\n    return n * 2\n---html---\n<p>{double(21)}</p>")
	if !strings.Contains(html, ">42</p>") {
		t.Errorf("Expected the method result in %q", html)
	}
}

func TestDerived_TruthTestPropagatesErrors(t *testing.T) {
	const pair = "a = derived(lambda: b.value + 1)\nb = derived(lambda: a.value + 1)\n"
	tests := []struct {
		name string
		src  string
	}{
		{"if statement", "def f():\n    if a:\n        return \"yes\"\n    return \"no\"\n---html---\n<p>{f()}</p>"},
		{"not", "def f():\n    return \"no\" if not a else \"yes\"\n---html---\n<p>{f()}</p>"},
		{"conditional attribute", "---html---\n<p $if={a}>yes</p>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prog := compileSource(t, "cycle.wire", pair+tt.src)
			p, err := runtime.NewPage(prog, runtime.Options{})
			if err != nil {
				t.Fatalf("NewPage failed: %v", err)
			}
			defer p.Close()
			_, err = p.Render(context.Background(), true)
			if err == nil || !strings.Contains(err.Error(), "circular dependency") {
				t.Errorf("Expected a circular dependency error, got %v", err)
			}
		})
	}
}

func TestKey_SetsID(t *testing.T) {
	_, html := renderSource(t, "choice = wire(\"b\")\n---html---\n<ul>{$for x in [\"a\", \"b\"]}<li $key={x}>{x}</li>{/for}</ul><div $key={choice}>x</div>")
	for _, want := range []string{`id="a">a</li>`, `id="b">b</li>`, `id="b">x</div>`} {
		if !strings.Contains(html, want) {
			t.Errorf("Expected %s in %q", want, html)
		}
	}
}

func TestBind_SelectMarksOption(t *testing.T) {
	src := "choice = wire(\"b\")\n---html---\n<select $bind={choice}><option value=\"a\">A</option><option value=\"b\">B</option><option>c</option></select>"
	p, html := renderSource(t, src)
	if !strings.Contains(html, `<option value="b" selected>B</option>`) {
		t.Errorf("Expected the bound option to be selected in %q", html)
	}
	if strings.Contains(html, `<option value="a" selected`) || strings.Contains(html, `<option selected>c`) {
		t.Errorf("Expected a single selected option in %q", html)
	}
	if strings.Contains(html, `<select value=`) || strings.Contains(html, ` value="b" data-on-change`) {
		t.Errorf("Expected no value attribute on the select in %q", html)
	}

	u, err := p.HandleEvent(context.Background(), "_handle_bind_choice", map[string]interface{}{"value": "c"})
	if err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}
	if len(u.Regions) != 1 {
		t.Fatalf("Expected the select region, got %+v", u)
	}
	if !strings.Contains(u.Regions[0].HTML, "<option selected>c</option>") {
		t.Errorf("Expected the text option to be selected, got %q", u.Regions[0].HTML)
	}
	if strings.Contains(u.Regions[0].HTML, `value="b" selected`) {
		t.Errorf("Expected b to be deselected, got %q", u.Regions[0].HTML)
	}
}

func TestHandler_SeparateRegions(t *testing.T) {
	p, html := renderSource(t, "a = wire(0)\nb = wire(0)\n---html---\n<p>{a}</p><p>{b}</p><button @click={a += 1}>+</button>")
	if !strings.Contains(html, `<p data-wire-region="r1">0</p><p data-wire-region="r2">0</p>`) {
		t.Fatalf("Expected two regions in %q", html)
	}

	for want := 1; want <= 2; want++ {
		u, err := p.HandleEvent(context.Background(), "_handler_1", nil)
		if err != nil {
			t.Fatalf("HandleEvent failed: %v", err)
		}
		if len(u.Regions) != 1 || u.Regions[0].Region != "r1" {
			t.Fatalf("Expected only r1, got %+v", u.Regions)
		}
		if !strings.Contains(u.Regions[0].HTML, fmt.Sprintf(">%d</p>", want)) {
			t.Errorf("Expected %d, got %q", want, u.Regions[0].HTML)
		}
	}
}

func TestHandler_DuplicateEventsMerge(t *testing.T) {
	src := "items = [\"x\"]\nn = wire(0)\ndef pick(v):\n    pass\ndef other():\n    pass\n---html---\n<ul>{$for x in items}<li @click={pick(x)} @click.self={other()}>{x}</li>{/for}</ul>"
	_, html := renderSource(t, src)
	entries := []string{
		`{&quot;handler&quot;:&quot;_handler_1&quot;,&quot;modifiers&quot;:[],&quot;args&quot;:[&quot;arg0&quot;]}`,
		`{&quot;handler&quot;:&quot;_handler_2&quot;,&quot;modifiers&quot;:[&quot;self&quot;],&quot;args&quot;:[]}`,
	}
	if want := `data-on-click="[` + entries[0] + "," + entries[1] + `]"`; !strings.Contains(html, want) {
		t.Errorf("Expected %s in %q", want, html)
	}
	if strings.Contains(html, "data-modifiers-click") {
		t.Errorf("Expected the modifiers to stay on their entries, got %q", html)
	}
}

func TestAwait_PushesThenBranch(t *testing.T) {
	pushed := make(chan struct{}, 1)
	prog := compileSource(t, "await.wire", "<div>{$await sleep(0.01)}<i>loading</i>{$then v}<b>ok</b>{/await}</div>")
	p, html := renderProgram(t, prog, runtime.Options{Push: func() {
		select {
		case pushed <- struct{}{}:
		default:
		}
	}})
	if !strings.Contains(html, "<i>loading</i>") {
		t.Fatalf("Expected the pending branch first, got %q", html)
	}

	select {
	case <-pushed:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected a push once the await settled")
	}
	u, err := p.PushUpdate(context.Background())
	if err != nil {
		t.Fatalf("PushUpdate failed: %v", err)
	}
	if u == nil || len(u.Regions) != 1 {
		t.Fatalf("Expected the await region, got %+v", u)
	}
	if !strings.Contains(u.Regions[0].HTML, "<b>ok</b>") || strings.Contains(u.Regions[0].HTML, "loading") {
		t.Errorf("Expected the then branch, got %q", u.Regions[0].HTML)
	}
}
