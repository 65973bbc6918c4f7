package cache

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	"github.com/recera/wirepage/pkg/template"
)

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func entryFor(t *testing.T, kind Kind, src string, deps ...string) Entry {
	t.Helper()
	hash, err := HashFile(src)
	if err != nil {
		t.Fatal(err)
	}
	e := Entry{Hash: hash, Kind: kind}
	for _, d := range deps {
		h, err := HashFile(d)
		if err != nil {
			t.Fatal(err)
		}
		e.Deps = append(e.Deps, Dep{Path: d, Hash: h})
	}
	return e
}

func TestCache_GetPut(t *testing.T) {
	tmpDir := t.TempDir()
	pages := filepath.Join(tmpDir, "pages")
	src := writeFile(t, filepath.Join(pages, "index.wire"), "<p>hi</p>")

	cache, err := New(Config{Dir: filepath.Join(tmpDir, "build"), PagesDir: pages})
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}

	data := []byte("compiled")
	if err := cache.Put(src, entryFor(t, KindPage, src), data); err != nil {
		t.Fatalf("Failed to put artifact: %v", err)
	}

	entry, retrieved, found := cache.Get(src)
	if !found {
		t.Fatal("Artifact not found in cache")
	}
	if !bytes.Equal(retrieved, data) {
		t.Errorf("Expected %s, got %s", data, retrieved)
	}
	if want := filepath.Join("pages", "index.wirec"); entry.Artifact != want {
		t.Errorf("Expected artifact %s, got %s", want, entry.Artifact)
	}

	stats := cache.GetStats()
	if stats.Hits != 1 {
		t.Errorf("Expected 1 hit, got %d", stats.Hits)
	}

	if _, _, found := cache.Get(filepath.Join(pages, "missing.wire")); found {
		t.Error("Found missing entry")
	}
	stats = cache.GetStats()
	if stats.Misses != 1 {
		t.Errorf("Expected 1 miss, got %d", stats.Misses)
	}
}

func TestCache_Freshness(t *testing.T) {
	tmpDir := t.TempDir()
	page := writeFile(t, filepath.Join(tmpDir, "page.wire"), "page")
	layout := writeFile(t, filepath.Join(tmpDir, "layout.wire"), "layout")

	tests := []struct {
		name   string
		mutate func()
		fresh  bool
	}{
		{
			name:   "unchanged",
			mutate: func() {},
			fresh:  true,
		},
		{
			name:   "source changed",
			mutate: func() { writeFile(t, page, "page v2") },
			fresh:  false,
		},
		{
			name:   "dependency changed",
			mutate: func() { writeFile(t, layout, "layout v2") },
			fresh:  false,
		},
		{
			name:   "dependency removed",
			mutate: func() { os.Remove(layout) },
			fresh:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writeFile(t, page, "page")
			writeFile(t, layout, "layout")
			entry := entryFor(t, KindPage, page, layout)
			tt.mutate()
			if got := IsFresh(page, &entry); got != tt.fresh {
				t.Errorf("Expected fresh=%v, got %v", tt.fresh, got)
			}
		})
	}
}

func TestCache_Persistence(t *testing.T) {
	tmpDir := t.TempDir()
	buildDir := filepath.Join(tmpDir, "build")
	pages := filepath.Join(tmpDir, "pages")
	src := writeFile(t, filepath.Join(pages, "items", "detail.wire"), "detail")
	layout := writeFile(t, filepath.Join(pages, "__layout__.wire"), "layout")

	cache1, err := New(Config{Dir: buildDir, PagesDir: pages})
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	entry := entryFor(t, KindPage, src, layout)
	entry.Routes = []template.Route{{Name: "main", Pattern: "/items/{id:int}"}}
	entry.ImplicitLayout = &layout
	if err := cache1.Put(src, entry, []byte("artifact")); err != nil {
		t.Fatalf("Failed to put artifact: %v", err)
	}
	if err := cache1.Save(); err != nil {
		t.Fatalf("Failed to save manifest: %v", err)
	}

	cache2, err := New(Config{Dir: buildDir})
	if err != nil {
		t.Fatalf("Failed to reopen cache: %v", err)
	}
	got, data, found := cache2.Get(src)
	if !found {
		t.Fatal("Entry not found after reopening")
	}
	if string(data) != "artifact" {
		t.Errorf("Expected artifact, got %s", data)
	}
	if !reflect.DeepEqual(got.Routes, entry.Routes) {
		t.Errorf("Expected routes %v, got %v", entry.Routes, got.Routes)
	}
	if got.ImplicitLayout == nil || *got.ImplicitLayout != layout {
		t.Errorf("Expected implicit layout %s, got %v", layout, got.ImplicitLayout)
	}
}

func TestCache_CorruptManifest(t *testing.T) {
	tmpDir := t.TempDir()
	writeFile(t, filepath.Join(tmpDir, ManifestName), "{not json")

	cache, err := New(Config{Dir: tmpDir})
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	if n := len(cache.Paths()); n != 0 {
		t.Errorf("Expected empty manifest, got %d entries", n)
	}
}

func TestCache_InvalidateByDependency(t *testing.T) {
	tmpDir := t.TempDir()
	pages := filepath.Join(tmpDir, "pages")
	layout := writeFile(t, filepath.Join(pages, "__layout__.wire"), "layout")
	card := writeFile(t, filepath.Join(tmpDir, "components", "card.wire"), "card")
	index := writeFile(t, filepath.Join(pages, "index.wire"), "index")
	about := writeFile(t, filepath.Join(pages, "about.wire"), "about")

	cache, err := New(Config{Dir: filepath.Join(tmpDir, "build"), PagesDir: pages})
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	puts := []struct {
		path string
		kind Kind
		deps []string
	}{
		{layout, KindLayout, nil},
		{card, KindComponent, nil},
		{index, KindPage, []string{layout, card}},
		{about, KindPage, []string{layout}},
	}
	for _, p := range puts {
		if err := cache.Put(p.path, entryFor(t, p.kind, p.path, p.deps...), []byte(p.path)); err != nil {
			t.Fatal(err)
		}
	}

	removed := cache.InvalidateByDependency(card)
	want := []string{card, index}
	if !reflect.DeepEqual(removed, want) {
		t.Errorf("Expected %v, got %v", want, removed)
	}
	if _, ok := cache.Lookup(about); !ok {
		t.Error("Unrelated entry was invalidated")
	}

	removed = cache.InvalidateByDependency(layout)
	if len(removed) != 2 {
		t.Errorf("Expected layout and about to be removed, got %v", removed)
	}
	if n := cache.GetStats().EntryCount; n != 0 {
		t.Errorf("Expected 0 entries, got %d", n)
	}
	if n := cache.GetStats().Invalidations; n != 4 {
		t.Errorf("Expected 4 invalidations, got %d", n)
	}
}

func TestCache_Clear(t *testing.T) {
	tmpDir := t.TempDir()
	pages := filepath.Join(tmpDir, "pages")
	src := writeFile(t, filepath.Join(pages, "index.wire"), "index")

	cache, err := New(Config{Dir: filepath.Join(tmpDir, "build"), PagesDir: pages})
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	if err := cache.Put(src, entryFor(t, KindPage, src), []byte("x")); err != nil {
		t.Fatal(err)
	}
	if err := cache.Clear(); err != nil {
		t.Fatalf("Failed to clear: %v", err)
	}
	if _, _, found := cache.Get(src); found {
		t.Error("Entry survived Clear")
	}
	if _, err := os.Stat(filepath.Join(cache.Dir(), "pages")); !os.IsNotExist(err) {
		t.Errorf("Expected pages artifacts to be removed, got %v", err)
	}
}

func TestArtifactPath(t *testing.T) {
	pages := filepath.Join("/srv", "app", "pages")
	tests := []struct {
		source string
		prefix string
	}{
		{filepath.Join(pages, "blog", "post.wire"), filepath.Join("pages", "blog", "post.wirec")},
		{filepath.Join("/srv", "app", "components", "card.wire"), filepath.Join("components", "card_")},
	}
	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			got := ArtifactPath(pages, tt.source)
			if len(got) < len(tt.prefix) || got[:len(tt.prefix)] != tt.prefix {
				t.Errorf("Expected prefix %s, got %s", tt.prefix, got)
			}
		})
	}

	a := ArtifactPath(pages, filepath.Join("/a", "card.wire"))
	b := ArtifactPath(pages, filepath.Join("/b", "card.wire"))
	if a == b {
		t.Errorf("Expected distinct artifact paths, got %s twice", a)
	}
}

func TestCache_Concurrency(t *testing.T) {
	tmpDir := t.TempDir()
	pages := filepath.Join(tmpDir, "pages")
	var srcs []string
	for _, name := range []string{"a", "b", "c", "d"} {
		srcs = append(srcs, writeFile(t, filepath.Join(pages, name+".wire"), name))
	}

	cache, err := New(Config{Dir: filepath.Join(tmpDir, "build"), PagesDir: pages})
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}

	var wg sync.WaitGroup
	for _, src := range srcs {
		entry := entryFor(t, KindPage, src)
		wg.Add(1)
		go func(src string, entry Entry) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				if err := cache.Put(src, entry, []byte(src)); err != nil {
					t.Errorf("Put failed: %v", err)
					return
				}
				cache.Get(src)
			}
		}(src, entry)
	}
	wg.Wait()

	if n := len(cache.Paths()); n != len(srcs) {
		t.Errorf("Expected %d entries, got %d", len(srcs), n)
	}
}
