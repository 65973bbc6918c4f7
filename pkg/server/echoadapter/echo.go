// Package echoadapter mounts a page server in an Echo application.
//
//	e := echo.New()
//	echoadapter.Mount(e, srv)
//
// Or below a group that shares middleware:
//
//	g := e.Group("/app", authMiddleware)
//	echoadapter.MountGroup(g, srv)
package echoadapter

import (
	"net/http"

	"github.com/a-h/templ"
	"github.com/labstack/echo/v4"
	"github.com/recera/wirepage/pkg/server"
)

// Mount routes every request not matched by another echo route to srv
func Mount(e *echo.Echo, srv *server.Server) {
	e.Any("/*", echo.WrapHandler(srv))
}

// MountGroup routes the requests below g to srv. The group prefix is
// stripped so page routes stay relative to it.
func MountGroup(g *echo.Group, prefix string, srv *server.Server) {
	g.Any("/*", echo.WrapHandler(stripPrefix(prefix, srv)))
}

// Render writes a templ component to the Echo response
func Render(c echo.Context, component templ.Component) error {
	c.Response().Header().Set("Content-Type", "text/html; charset=utf-8")
	return component.Render(c.Request().Context(), c.Response())
}

func stripPrefix(prefix string, h http.Handler) http.Handler {
	if prefix == "" || prefix == "/" {
		return h
	}
	return http.StripPrefix(prefix, ensureSlash(h))
}

// ensureSlash maps the group root to "/"
func ensureSlash(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" {
			r.URL.Path = "/"
		}
		h.ServeHTTP(w, r)
	})
}
