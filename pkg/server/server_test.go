package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/recera/wirepage/pkg/live"
	"github.com/recera/wirepage/pkg/loader"
	"github.com/recera/wirepage/pkg/runtime"
	"golang.org/x/tools/txtar"
)

const site = `
-- pages/index.wire --
count = wire(0)

def increment():
    count += 1
---html---
<p>{count}</p>
<button @click={increment}>+</button>
-- pages/items.wire --
!path {"list": "/items", "detail": "/items/{id:int}"}
---html---
{$if path["detail"]}<p>item {params["id"] + 1}</p>{$else}<p>all items</p>{/if}
-- pages/broken.wire --
<div>
<p>{1 +}</p>
</div>
`

func writeArchive(t *testing.T, archive string) string {
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
	return dir
}

func newTestServer(t *testing.T, archive string, debug bool) (*Server, *httptest.Server) {
	t.Helper()
	root := writeArchive(t, archive)
	l, err := loader.New(loader.Options{PagesDir: filepath.Join(root, "pages")})
	if err != nil {
		t.Fatalf("loader.New failed: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := New(Options{
		Loader: l,
		Live:   live.NewServer(live.Options{Logger: logger}),
		Logger: logger,
		Debug:  debug,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
	})
	return srv, ts
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, string(body)
}

var sessionMeta = regexp.MustCompile(`"session":"([0-9a-f]+)"`)

func sessionOf(t *testing.T, html string) string {
	t.Helper()
	m := sessionMeta.FindStringSubmatch(html)
	if m == nil {
		t.Fatalf("Expected a session in %q", html)
	}
	return m[1]
}

func TestServer_ServePage(t *testing.T) {
	srv, ts := newTestServer(t, site, false)

	code, html := get(t, ts.URL+"/")
	if code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if !strings.Contains(html, ">0</p>") {
		t.Errorf("Expected the initial count, got %q", html)
	}
	if !strings.Contains(html, runtime.DefaultClientScript) {
		t.Errorf("Expected the client script, got %q", html)
	}
	id := sessionOf(t, html)
	if _, ok := srv.Live().GetSession(id); !ok {
		t.Errorf("Expected session %s to be registered", id)
	}
}

func TestServer_ClientScript(t *testing.T) {
	_, ts := newTestServer(t, site, false)
	code, js := get(t, ts.URL+runtime.DefaultClientScript)
	if code != http.StatusOK || !strings.Contains(js, "data-wire-region") {
		t.Errorf("Expected the client runtime, got %d", code)
	}
}

func TestServer_Routes(t *testing.T) {
	_, ts := newTestServer(t, site, false)

	tests := []struct {
		path     string
		wantCode int
		want     string
	}{
		{"/items", http.StatusOK, "all items"},
		{"/items/41", http.StatusOK, "item 42"},
		{"/items/abc", http.StatusNotFound, "Not Found"},
		{"/nowhere", http.StatusNotFound, "Not Found"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			code, body := get(t, ts.URL+tt.path)
			if code != tt.wantCode {
				t.Errorf("Expected %d, got %d", tt.wantCode, code)
			}
			if !strings.Contains(body, tt.want) {
				t.Errorf("Expected %q in %q", tt.want, body)
			}
		})
	}
}

func TestServer_ErrorPage(t *testing.T) {
	_, ts := newTestServer(t, site+`
-- pages/__error__.wire --
<h1>{error_code}</h1><p>{error_detail}</p>
`, false)

	code, body := get(t, ts.URL+"/missing")
	if code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", code)
	}
	if !strings.Contains(body, ">404</h1>") || !strings.Contains(body, "Not Found") {
		t.Errorf("Expected the error page, got %q", body)
	}
	if sessionMeta.MatchString(body) {
		t.Error("Expected the error page to have no live session")
	}
}

func TestServer_DevErrorPage(t *testing.T) {
	_, ts := newTestServer(t, site, true)

	code, body := get(t, ts.URL+"/broken")
	if code != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", code)
	}
	if !strings.Contains(body, "broken.wire:2") {
		t.Errorf("Expected the error location, got %q", body)
	}
	if !strings.Contains(body, `<span class="line current"><span class="num">2</span>&lt;p&gt;{1 +}&lt;/p&gt;</span>`) {
		t.Errorf("Expected the failing line to be highlighted, got %q", body)
	}
}

func TestServer_ProductionHidesErrors(t *testing.T) {
	_, ts := newTestServer(t, site, false)

	code, body := get(t, ts.URL+"/broken")
	if code != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", code)
	}
	if strings.Contains(body, "broken.wire") {
		t.Errorf("Expected no source location, got %q", body)
	}
}

func TestServer_LiveEvent(t *testing.T) {
	_, ts := newTestServer(t, site, false)
	_, html := get(t, ts.URL+"/")
	id := sessionOf(t, html)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + live.DefaultPrefix + id
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	defer conn.Close()

	read := func() live.Message {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var m live.Message
		if err := conn.ReadJSON(&m); err != nil {
			t.Fatalf("Failed to read: %v", err)
		}
		return m
	}
	if m := read(); m.Kind != live.KindHello {
		t.Fatalf("Expected hello, got %+v", m)
	}

	if err := conn.WriteJSON(live.Message{Kind: live.KindEvent, Seq: 1, Handler: "increment"}); err != nil {
		t.Fatal(err)
	}
	m := read()
	if m.Kind != live.KindUpdate || m.Seq != 1 || m.Update == nil {
		t.Fatalf("Expected an update reply, got %+v", m)
	}
	if m.Update.Type != runtime.UpdateRegions || len(m.Update.Regions) != 1 {
		t.Fatalf("Expected one region, got %+v", m.Update)
	}
	if !strings.Contains(m.Update.Regions[0].HTML, ">1</p>") {
		t.Errorf("Expected the new count, got %q", m.Update.Regions[0].HTML)
	}
}

func TestServer_HTTPEvent(t *testing.T) {
	_, ts := newTestServer(t, site, false)
	_, html := get(t, ts.URL+"/")
	id := sessionOf(t, html)

	post := func(handler string) (int, map[string]interface{}) {
		t.Helper()
		body := strings.NewReader(`{"handler":"` + handler + `"}`)
		resp, err := http.Post(ts.URL+EventPrefix+id, "application/json", body)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		var out map[string]interface{}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatal(err)
		}
		return resp.StatusCode, out
	}

	code, out := post("increment")
	if code != http.StatusOK || out["type"] != runtime.UpdateRegions {
		t.Errorf("Expected a regions update, got %d %v", code, out)
	}
	code, out = post("_private")
	if code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", code)
	}
	if msg, _ := out["error"].(string); !strings.Contains(msg, "not allowed") {
		t.Errorf("Expected a not allowed error, got %v", out)
	}
}

func TestServer_RefreshRoutes(t *testing.T) {
	srv, ts := newTestServer(t, site, false)
	pages := filepath.Dir(srv.Pages()[0].File)

	if code, _ := get(t, ts.URL+"/about"); code != http.StatusNotFound {
		t.Fatalf("Expected 404 before the page exists, got %d", code)
	}
	if err := os.WriteFile(filepath.Join(pages, "about.wire"), []byte("<p>about</p>"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := srv.RefreshRoutes(); err != nil {
		t.Fatalf("RefreshRoutes failed: %v", err)
	}
	if code, body := get(t, ts.URL+"/about"); code != http.StatusOK || !strings.Contains(body, "about") {
		t.Errorf("Expected the new page, got %d %q", code, body)
	}
}

func TestSourceContext(t *testing.T) {
	file := filepath.Join(t.TempDir(), "page.wire")
	if err := os.WriteFile(file, []byte("a\nb\nc\nd\ne\n"), 0644); err != nil {
		t.Fatal(err)
	}
	lines := SourceContext(file, 2, 1)
	if len(lines) != 3 || lines[0].Number != 1 || !lines[1].Current || lines[2].Text != "c" {
		t.Errorf("Expected lines 1-3 with 2 current, got %+v", lines)
	}
	if got := SourceContext(file+".missing", 1, 1); got != nil {
		t.Errorf("Expected nil for a missing file, got %+v", got)
	}
}
