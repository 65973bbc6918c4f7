package echoadapter

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/a-h/templ"
	"github.com/labstack/echo/v4"
	"github.com/recera/wirepage/pkg/live"
	"github.com/recera/wirepage/pkg/loader"
	"github.com/recera/wirepage/pkg/server"
)

func newPageServer(t *testing.T) *server.Server {
	t.Helper()
	pages := filepath.Join(t.TempDir(), "pages")
	if err := os.MkdirAll(pages, 0755); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		"index.wire": "<p>home</p>",
		"items.wire": "<p>items</p>",
	}
	for name, src := range files {
		if err := os.WriteFile(filepath.Join(pages, name), []byte(src), 0644); err != nil {
			t.Fatal(err)
		}
	}
	l, err := loader.New(loader.Options{PagesDir: pages})
	if err != nil {
		t.Fatal(err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := server.New(server.Options{Loader: l, Live: live.NewServer(live.Options{Logger: logger}), Logger: logger})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(srv.Close)
	return srv
}

func serve(e *echo.Echo, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestMount(t *testing.T) {
	e := echo.New()
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	Mount(e, newPageServer(t))

	tests := []struct {
		path     string
		wantCode int
		want     string
	}{
		{"/", http.StatusOK, "<p>home</p>"},
		{"/items", http.StatusOK, "<p>items</p>"},
		{"/health", http.StatusOK, "ok"},
		{"/missing", http.StatusNotFound, "Not Found"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := serve(e, tt.path)
			if rec.Code != tt.wantCode {
				t.Errorf("Expected %d, got %d", tt.wantCode, rec.Code)
			}
			if !strings.Contains(rec.Body.String(), tt.want) {
				t.Errorf("Expected %q in %q", tt.want, rec.Body.String())
			}
		})
	}
}

func TestMountGroup(t *testing.T) {
	e := echo.New()
	MountGroup(e.Group("/app"), "/app", newPageServer(t))

	rec := serve(e, "/app/items")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "<p>items</p>") {
		t.Errorf("Expected the items page, got %d %q", rec.Code, rec.Body.String())
	}
}

func TestRender(t *testing.T) {
	e := echo.New()
	e.GET("/error", func(c echo.Context) error {
		return Render(c, templ.Raw("<b>boom</b>"))
	})

	rec := serve(e, "/error")
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Expected text/html, got %s", ct)
	}
	if rec.Body.String() != "<b>boom</b>" {
		t.Errorf("Expected the component output, got %q", rec.Body.String())
	}
}
