package server

import (
	_ "embed"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/recera/wirepage/pkg/live"
	"github.com/recera/wirepage/pkg/loader"
	"github.com/recera/wirepage/pkg/router"
	"github.com/recera/wirepage/pkg/runtime"
	"github.com/recera/wirepage/pkg/styling"
	"go.starlark.net/starlark"
)

// EventPrefix is the URL prefix of the HTTP event endpoint, the fallback
// for clients without a websocket. The session id follows it.
const EventPrefix = "/_wire/event/"

//go:embed static/wire.js
var clientJS []byte

// Options configure a Server
type Options struct {
	Loader *loader.Loader
	Live   *live.Server
	Logger *slog.Logger
	// Debug shows the development error page and sends traces to error
	// pages
	Debug        bool
	Spa          *bool
	ClientScript string
}

// Server serves the pages of a loader. Every page response gets its own
// live session that later events and pushes are routed to.
type Server struct {
	opts   Options
	logger *slog.Logger

	mu     sync.RWMutex
	router *router.Router
	pages  []loader.Page
}

// New creates a server and builds its route table
func New(opts Options) (*Server, error) {
	if opts.Loader == nil {
		return nil, errors.New("server: a loader is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Live == nil {
		opts.Live = live.NewServer(live.Options{Logger: opts.Logger})
	}
	s := &Server{opts: opts, logger: opts.Logger}
	if err := s.RefreshRoutes(); err != nil {
		return nil, err
	}
	return s, nil
}

// RefreshRoutes rescans the pages directory. Pages that fail to parse keep
// their implicit route and are logged.
func (s *Server) RefreshRoutes() error {
	r, pages, err := s.opts.Loader.Routes()
	if err != nil {
		return err
	}
	for _, p := range pages {
		if p.Err != nil {
			s.logger.Warn("page has errors", "file", p.File, "error", p.Err)
		}
	}
	s.mu.Lock()
	s.router, s.pages = r, pages
	s.mu.Unlock()
	return nil
}

// Router returns the current route table
func (s *Server) Router() *router.Router {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.router
}

// Pages returns the pages found by the last scan
func (s *Server) Pages() []loader.Page {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pages
}

// Live returns the live server sessions are registered on
func (s *Server) Live() *live.Server {
	return s.opts.Live
}

// Close ends every live session
func (s *Server) Close() {
	s.opts.Live.Close()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == runtime.DefaultClientScript:
		w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
		w.Write(clientJS)
	case strings.HasPrefix(r.URL.Path, s.opts.Live.Prefix()):
		s.opts.Live.HandleWebSocket(w, r)
	case strings.HasPrefix(r.URL.Path, EventPrefix):
		s.serveEvent(w, r)
	case r.Method == http.MethodGet || r.Method == http.MethodHead:
		s.servePage(w, r)
	default:
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	}
}

func (s *Server) servePage(w http.ResponseWriter, r *http.Request) {
	log := s.logger.With("path", r.URL.Path, "method", r.Method)

	m, ok := s.Router().Match(r.URL.Path)
	if !ok {
		s.renderError(w, r, http.StatusNotFound, nil)
		return
	}
	prog, err := s.opts.Loader.Load(m.Route.File)
	if err != nil {
		log.Error("compile failed", "file", m.Route.File, "error", err)
		s.renderError(w, r, http.StatusInternalServerError, err)
		return
	}

	sess := s.opts.Live.NewSession(prog.File)
	log = log.With("session", sess.ID)
	page, err := runtime.NewPage(prog, s.pageOptions(r, m, sess))
	if err != nil {
		s.opts.Live.RemoveSession(sess.ID)
		log.Error("page init failed", "error", err)
		s.renderError(w, r, http.StatusInternalServerError, err)
		return
	}
	sess.Attach(page)

	doc, err := page.Render(r.Context(), true)
	if err != nil {
		s.opts.Live.RemoveSession(sess.ID)
		log.Error("render failed", "error", err)
		s.renderError(w, r, http.StatusInternalServerError, err)
		return
	}
	log.Debug("rendered", "file", prog.File, "route", m.Route.Name)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(doc))
}

func (s *Server) pageOptions(r *http.Request, m *router.Match, sess *live.Session) runtime.Options {
	return runtime.Options{
		Request:      requestOf(r, m, nil),
		Push:         sess.Push,
		Styles:       styling.NewCollector(),
		Resolver:     s.opts.Loader,
		ClientScript: s.opts.ClientScript,
		Spa:          s.opts.Spa,
		Debug:        s.opts.Debug,
		Session:      sess.ID,
	}
}

// requestOf converts the HTTP request. Int parameters become starlark
// ints; every other parameter is a string.
func requestOf(r *http.Request, m *router.Match, failure *runtime.ErrorInfo) *runtime.Request {
	req := &runtime.Request{
		Method:  r.Method,
		URL:     r.URL.String(),
		Path:    r.URL.Path,
		Headers: make(map[string]string, len(r.Header)),
		Params:  make(map[string]starlark.Value),
		Query:   make(map[string]string),
		Error:   failure,
	}
	for k, v := range r.Header {
		if len(v) > 0 {
			req.Headers[strings.ToLower(k)] = v[0]
		}
	}
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			req.Query[k] = v[0]
		}
	}
	if m != nil {
		req.Route = m.Route.Name
		for _, p := range m.Params {
			if n, ok := p.Int(); ok {
				req.Params[p.Name] = starlark.MakeInt64(n)
			} else {
				req.Params[p.Name] = starlark.String(p.Raw)
			}
		}
	}
	return req
}

type eventRequest struct {
	Handler string                 `json:"handler"`
	Payload map[string]interface{} `json:"payload"`
}

// serveEvent runs a handler posted as JSON and answers with the update
func (s *Server) serveEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, EventPrefix)
	sess, ok := s.opts.Live.GetSession(id)
	if !ok || sess.Page() == nil {
		http.Error(w, "Unknown session", http.StatusNotFound)
		return
	}
	var ev eventRequest
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, "Invalid event: "+err.Error(), http.StatusBadRequest)
		return
	}
	u, err := sess.Page().HandleEvent(r.Context(), ev.Handler, ev.Payload)
	if err != nil {
		s.logger.Error("handler failed", "session", id, "handler", ev.Handler, "error", err)
		status := http.StatusInternalServerError
		if errors.Is(err, runtime.ErrHandlerNotAllowed) || errors.Is(err, runtime.ErrHandlerNotFound) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, map[string]string{"error": runtime.ErrorMessage(err)})
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.Encode(v)
}

// renderError answers with the error page of the pages directory. Without
// one, debug servers show the development error page and others a plain
// status text.
func (s *Server) renderError(w http.ResponseWriter, r *http.Request, code int, cause error) {
	info := &runtime.ErrorInfo{Code: code, Detail: http.StatusText(code)}
	if cause != nil {
		info.Detail = runtime.ErrorMessage(cause)
		if s.opts.Debug {
			info.Trace = cause.Error()
		}
	}

	prog, ok, err := s.opts.Loader.ErrorPage()
	if err != nil {
		s.logger.Error("error page does not compile", "error", err)
	}
	if ok {
		doc, err := s.renderErrorPage(r, prog, info)
		if err == nil {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.WriteHeader(code)
			w.Write([]byte(doc))
			return
		}
		s.logger.Error("error page failed", "error", err)
	}

	if s.opts.Debug {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(code)
		if err := DevErrorPage(code, cause).Render(r.Context(), w); err != nil {
			s.logger.Error("dev error page failed", "error", err)
		}
		return
	}
	http.Error(w, http.StatusText(code), code)
}

// renderErrorPage renders the error page without a live session
func (s *Server) renderErrorPage(r *http.Request, prog *runtime.Program, info *runtime.ErrorInfo) (string, error) {
	page, err := runtime.NewPage(prog, runtime.Options{
		Request:      requestOf(r, nil, info),
		Styles:       styling.NewCollector(),
		Resolver:     s.opts.Loader,
		ClientScript: s.opts.ClientScript,
		Spa:          s.opts.Spa,
		Debug:        s.opts.Debug,
	})
	if err != nil {
		return "", err
	}
	defer page.Close()
	return page.Render(r.Context(), true)
}
