package codegen

import (
	"context"
	"fmt"
	"testing"

	"github.com/recera/wirepage/pkg/runtime"
	"github.com/recera/wirepage/pkg/template"
)

func compileBench(b *testing.B, src string) *runtime.Program {
	b.Helper()
	doc, err := template.Parse(src, "bench.wire")
	if err != nil {
		b.Fatalf("Parse failed: %v", err)
	}
	prog, err := Compile(doc, Options{})
	if err != nil {
		b.Fatalf("Compile failed: %v", err)
	}
	return prog
}

func listSource(n int) string {
	return fmt.Sprintf("items = wire(list(range(%d)))\nselected = wire(0)\n\ndef pick(i):\n    selected = i\n---html---\n<p>{selected}</p><ul>{$for i in items}<li @click={pick(i)}>{i}</li>{/for}</ul>", n)
}

// BenchmarkRender1kItems measures a full first render of a long list
func BenchmarkRender1kItems(b *testing.B) {
	prog := compileBench(b, listSource(1000))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		p, err := runtime.NewPage(prog, runtime.Options{})
		if err != nil {
			b.Fatal(err)
		}
		if _, err := p.Render(context.Background(), true); err != nil {
			b.Fatal(err)
		}
		p.Close()
	}
}

// BenchmarkHandleEvent measures a handler that dirties one small region
// next to a long list
func BenchmarkHandleEvent(b *testing.B) {
	prog := compileBench(b, listSource(1000))
	p, err := runtime.NewPage(prog, runtime.Options{})
	if err != nil {
		b.Fatal(err)
	}
	defer p.Close()
	if _, err := p.Render(context.Background(), true); err != nil {
		b.Fatal(err)
	}
	payload := map[string]interface{}{"args": map[string]interface{}{"arg-0": "7"}}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := p.HandleEvent(context.Background(), "_handler_1", payload); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkCompile measures parsing and lowering a page
func BenchmarkCompile(b *testing.B) {
	src := listSource(10)
	for i := 0; i < b.N; i++ {
		doc, err := template.Parse(src, "bench.wire")
		if err != nil {
			b.Fatal(err)
		}
		if _, err := Compile(doc, Options{}); err != nil {
			b.Fatal(err)
		}
	}
}
