package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/fsnotify/fsnotify"
	"github.com/recera/wirepage/cmd/wirepage/internal/config"
	"github.com/recera/wirepage/internal/cache"
	"github.com/recera/wirepage/pkg/router"
	"golang.org/x/tools/txtar"
)

const site = `
-- pages/__layout__.wire --
<html><body><slot></slot></body></html>
-- pages/index.wire --
<p>home</p>
-- pages/items.wire --
!path {"list": "/items", "detail": "/items/{id:int}"}
---html---
<p>items</p>
`

func newProject(t *testing.T, archive string) *project {
	t.Helper()
	dir := t.TempDir()
	for _, f := range txtar.Parse([]byte(archive)).Files {
		path := filepath.Join(dir, f.Name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, f.Data, 0644); err != nil {
			t.Fatal(err)
		}
	}
	return &project{dir: dir, config: config.DefaultConfig()}
}

func TestRunRoutes(t *testing.T) {
	p := newProject(t, site)

	var out bytes.Buffer
	if err := runRoutes(p, &out, true); err != nil {
		t.Fatalf("runRoutes failed: %v", err)
	}
	var table router.Table
	if err := json.Unmarshal(out.Bytes(), &table); err != nil {
		t.Fatalf("Expected JSON output, got %q", out.String())
	}
	var paths []string
	for _, r := range table.Routes {
		paths = append(paths, r.Path)
	}
	want := []string{"/", "/items", "/items/{id:int}"}
	if !reflect.DeepEqual(paths, want) {
		t.Errorf("Expected %v, got %v", want, paths)
	}

	out.Reset()
	if err := runRoutes(p, &out, false); err != nil {
		t.Fatalf("runRoutes failed: %v", err)
	}
	if !strings.Contains(out.String(), "PATH") || !strings.Contains(out.String(), "items.wire") {
		t.Errorf("Expected a route table, got %q", out.String())
	}
}

func TestRunBuild(t *testing.T) {
	p := newProject(t, site)

	if err := runBuild(p); err != nil {
		t.Fatalf("runBuild failed: %v", err)
	}
	out, err := cache.New(cache.Config{Dir: p.outDir()})
	if err != nil {
		t.Fatal(err)
	}
	if n := out.GetStats().EntryCount; n != 3 {
		t.Errorf("Expected 3 artifacts, got %d", n)
	}
	if _, ok := out.Lookup(filepath.Join(p.pagesDir(), "items.wire")); !ok {
		t.Error("Expected an artifact for items.wire")
	}
}

func TestRunCheck(t *testing.T) {
	tests := []struct {
		name    string
		archive string
		wantErr bool
	}{
		{"clean", site, false},
		{"broken", site + "-- pages/broken.wire --\n<p>{1 +}</p>\n", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newProject(t, tt.archive)
			err := runCheck(p)
			if (err != nil) != tt.wantErr {
				t.Errorf("Expected error=%v, got %v", tt.wantErr, err)
			}
			if _, statErr := os.Stat(p.outDir()); !os.IsNotExist(statErr) {
				t.Error("Expected check not to write a build")
			}
		})
	}
}

func TestDevServer_HandleFileChanges(t *testing.T) {
	p := newProject(t, site)
	s, err := newDevServer(p)
	if err != nil {
		t.Fatalf("newDevServer failed: %v", err)
	}
	defer s.server.Close()

	index := filepath.Join(p.pagesDir(), "index.wire")
	layout := filepath.Join(p.pagesDir(), "__layout__.wire")
	if _, err := s.loader.Load(index); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	files := s.handleFileChanges([]fsnotify.Event{{Name: layout, Op: fsnotify.Write}})
	if want := []string{layout, index}; !reflect.DeepEqual(files, want) {
		t.Errorf("Expected %v, got %v", want, files)
	}

	about := filepath.Join(p.pagesDir(), "about.wire")
	if err := os.WriteFile(about, []byte("<p>about</p>"), 0644); err != nil {
		t.Fatal(err)
	}
	s.handleFileChanges([]fsnotify.Event{{Name: about, Op: fsnotify.Create}})
	if _, ok := s.server.Router().Match("/about"); !ok {
		t.Error("Expected the new page to be routed")
	}
}

func TestProject_Paths(t *testing.T) {
	p := &project{dir: "site", config: config.DefaultConfig()}
	if !filepath.IsAbs(p.pagesDir()) || !strings.HasSuffix(p.pagesDir(), filepath.Join("site", "pages")) {
		t.Errorf("Expected an absolute site/pages, got %s", p.pagesDir())
	}
	p.config.OutDir = "/tmp/out"
	if p.outDir() != "/tmp/out" {
		t.Errorf("Expected /tmp/out, got %s", p.outDir())
	}
	if got := p.relative(filepath.Join(p.pagesDir(), "blog", "post.wire")); got != "blog/post.wire" {
		t.Errorf("Expected blog/post.wire, got %s", got)
	}
}
