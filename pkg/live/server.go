package live

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/recera/wirepage/pkg/runtime"
	"github.com/recera/wirepage/pkg/scheduler"
)

// DefaultPrefix is the URL prefix of the websocket endpoint. The session id
// follows it.
const DefaultPrefix = "/_wire/live/"

const (
	writeWait  = 10 * time.Second
	pongWait   = 300 * time.Second
	pingPeriod = 54 * time.Second
)

// ErrSendBufferFull is returned when a client does not keep up
var ErrSendBufferFull = errors.New("send buffer full")

var debugLog func(args ...interface{})

// SetDebugLog sets the debug logging function
func SetDebugLog(fn func(args ...interface{})) {
	debugLog = fn
}

// Options configure a Server
type Options struct {
	// Codec is used unless the client asks for another with ?codec=
	Codec  Codec
	Prefix string
	Logger *slog.Logger
	// CheckOrigin defaults to accepting every origin
	CheckOrigin func(r *http.Request) bool
}

// Server attaches websocket connections to page sessions
type Server struct {
	upgrader websocket.Upgrader
	opts     Options
	sched    *scheduler.Scheduler
	sessions map[string]*Session
	mu       sync.RWMutex
}

// Session is one page instance and the connection driving it
type Session struct {
	ID string
	// File is the source of the page, used to target reloads
	File string

	server *Server
	fiber  *scheduler.Fiber
	page   Page

	conn      *websocket.Conn
	codec     Codec
	sendChan  chan []byte
	closeChan chan struct{}
	lastSeen  time.Time
	mu        sync.RWMutex
}

// NewServer creates a live server and starts its push scheduler
func NewServer(opts Options) *Server {
	if opts.Codec == nil {
		opts.Codec = JSON
	}
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.CheckOrigin == nil {
		opts.CheckOrigin = func(r *http.Request) bool { return true }
	}
	s := &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin:     opts.CheckOrigin,
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		opts:     opts,
		sched:    scheduler.NewScheduler(),
		sessions: make(map[string]*Session),
	}
	s.sched.SetUpdateApplier(func(f *scheduler.Fiber, u *runtime.Update) {
		sess, ok := f.GetUserData().(*Session)
		if !ok {
			return
		}
		if err := sess.Send(&Message{Kind: KindUpdate, Update: u}); err != nil {
			s.opts.Logger.Warn("push dropped", "session", sess.ID, "error", err)
		}
	})
	s.sched.SetDefaultErrorHandler(func(f *scheduler.Fiber, err interface{}) bool {
		sess, ok := f.GetUserData().(*Session)
		if !ok {
			return false
		}
		s.opts.Logger.Error("push failed", "session", sess.ID, "error", err)
		_ = sess.Send(&Message{Kind: KindError, Error: fmt.Sprint(err)})
		return true
	})
	s.sched.Start()
	return s
}

// Prefix returns the URL prefix the websocket endpoint is mounted on
func (s *Server) Prefix() string {
	return s.opts.Prefix
}

// NewSession registers a session for the page rendered from file. Its Push
// method is the push callback of the page; the page itself is attached
// once created.
func (s *Server) NewSession(file string) *Session {
	now := time.Now()
	sess := &Session{
		ID:        newSessionID(),
		File:      file,
		server:    s,
		codec:     s.opts.Codec,
		sendChan:  make(chan []byte, 256),
		closeChan: make(chan struct{}),
		lastSeen:  now,
	}
	sess.fiber = s.sched.CreateFiber(sess.ID, sess.render)
	sess.fiber.SetUserData(sess)

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	if debugLog != nil {
		debugLog("[Live] new session", sess.ID, file)
	}
	return sess
}

func newSessionID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b[:])
}

// GetSession retrieves a session by ID
func (s *Server) GetSession(sessionID string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, exists := s.sessions[sessionID]
	return session, exists
}

// SessionCount returns the number of registered sessions
func (s *Server) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// RemoveSession closes the session's page and connection
func (s *Server) RemoveSession(sessionID string) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	if ok {
		sess.close()
	}
}

// Sweep removes sessions without a connection that were last seen before
// maxAge ago, such as pages rendered for clients without scripting
func (s *Server) Sweep(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	var stale []string
	s.mu.RLock()
	for id, sess := range s.sessions {
		sess.mu.RLock()
		if sess.conn == nil && sess.lastSeen.Before(cutoff) {
			stale = append(stale, id)
		}
		sess.mu.RUnlock()
	}
	s.mu.RUnlock()
	for _, id := range stale {
		s.RemoveSession(id)
	}
	return len(stale)
}

// Reload asks every connected client showing one of files to reload. With
// no files every client reloads. It returns the number of clients told.
func (s *Server) Reload(files ...string) int {
	want := make(map[string]bool, len(files))
	for _, f := range files {
		want[f] = true
	}
	s.mu.RLock()
	var targets []*Session
	for _, sess := range s.sessions {
		if len(files) == 0 || want[sess.File] {
			targets = append(targets, sess)
		}
	}
	s.mu.RUnlock()

	n := 0
	for _, sess := range targets {
		if !sess.Connected() {
			continue
		}
		if err := sess.Send(&Message{Kind: KindReload, Path: sess.File}); err == nil {
			n++
		}
	}
	return n
}

// Close removes every session and stops the scheduler
func (s *Server) Close() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()
	for _, sess := range sessions {
		sess.close()
	}
	s.sched.Stop()
}

// HandleWebSocket upgrades a request for Prefix+sessionID and attaches the
// connection to the session
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimPrefix(r.URL.Path, s.opts.Prefix)
	if sessionID == "" || sessionID == r.URL.Path {
		http.Error(w, "Session ID required", http.StatusBadRequest)
		return
	}
	sess, ok := s.GetSession(sessionID)
	if !ok {
		http.Error(w, "Unknown session", http.StatusNotFound)
		return
	}
	codec := s.opts.Codec
	if name := r.URL.Query().Get("codec"); name != "" {
		c, err := CodecByName(name)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		codec = c
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.opts.Logger.Warn("websocket upgrade failed", "session", sessionID, "error", err)
		return
	}
	sess.attach(conn, codec)
	go sess.handleConnection(conn)
}

// Attach sets the page the session drives
func (sess *Session) Attach(p Page) {
	sess.mu.Lock()
	sess.page = p
	sess.mu.Unlock()
}

// Page returns the attached page, nil before Attach and after removal
func (sess *Session) Page() Page {
	sess.mu.RLock()
	defer sess.mu.RUnlock()
	return sess.page
}

// Push queues delivery of the page's pending changes. It never blocks.
func (sess *Session) Push() {
	sess.server.sched.MarkDirty(sess.fiber)
}

// Connected reports whether a client is attached
func (sess *Session) Connected() bool {
	sess.mu.RLock()
	defer sess.mu.RUnlock()
	return sess.conn != nil
}

// render is the fiber of the session. Without a client the changes stay
// pending in the page until one connects.
func (sess *Session) render(ctx context.Context) (*runtime.Update, error) {
	sess.mu.RLock()
	page, connected := sess.page, sess.conn != nil
	sess.mu.RUnlock()
	if page == nil || !connected {
		return nil, nil
	}
	return page.PushUpdate(ctx)
}

// attach replaces any previous connection of the session
func (sess *Session) attach(conn *websocket.Conn, codec Codec) {
	sess.mu.Lock()
	if sess.conn != nil {
		sess.conn.Close()
	}
	select {
	case <-sess.closeChan:
		sess.closeChan = make(chan struct{})
	default:
	}
	sess.conn = conn
	sess.codec = codec
	sess.lastSeen = time.Now()
	sess.mu.Unlock()
}

// detach forgets conn unless a newer connection replaced it
func (sess *Session) detach(conn *websocket.Conn) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.conn == conn {
		sess.conn = nil
		sess.lastSeen = time.Now()
	}
}

func (sess *Session) close() {
	sess.server.sched.RemoveFiber(sess.fiber)
	sess.mu.Lock()
	page, conn := sess.page, sess.conn
	sess.page, sess.conn = nil, nil
	select {
	case <-sess.closeChan:
	default:
		close(sess.closeChan)
	}
	sess.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	if page != nil {
		page.Close()
	}
}

// Send encodes m with the session's codec and queues it for the writer
func (sess *Session) Send(m *Message) error {
	sess.mu.RLock()
	codec := sess.codec
	sess.mu.RUnlock()
	data, err := codec.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode %s message: %w", m.Kind, err)
	}
	select {
	case sess.sendChan <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// handleConnection reads messages until the connection fails
func (sess *Session) handleConnection(conn *websocket.Conn) {
	log := sess.server.opts.Logger.With("session", sess.ID)

	sess.mu.RLock()
	closeChan, codec := sess.closeChan, sess.codec
	sess.mu.RUnlock()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	defer func() {
		cancel()
		close(done)
		conn.Close()
		sess.detach(conn)
	}()
	go sess.writer(conn, codec, closeChan, done)

	if err := sess.Send(&Message{Kind: KindHello, Session: sess.ID}); err != nil {
		log.Warn("hello dropped", "error", err)
	}
	// changes made while no client was attached
	sess.Push()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("unexpected close", "error", err)
			}
			return
		}
		var m Message
		if err := codec.Unmarshal(data, &m); err != nil {
			log.Warn("undecodable message", "error", err)
			continue
		}
		sess.handleMessage(ctx, log, &m)
	}
}

func (sess *Session) handleMessage(ctx context.Context, log *slog.Logger, m *Message) {
	if debugLog != nil {
		debugLog("[Live Session", sess.ID+"]", m.Kind, m.Handler)
	}
	switch m.Kind {
	case KindPing:
		_ = sess.Send(&Message{Kind: KindPong, Seq: m.Seq})
	case KindEvent:
		sess.mu.RLock()
		page := sess.page
		sess.mu.RUnlock()
		if page == nil {
			_ = sess.Send(&Message{Kind: KindError, Seq: m.Seq, Error: runtime.ErrClosed.Error()})
			return
		}
		u, err := page.HandleEvent(ctx, m.Handler, m.Payload)
		if err != nil {
			log.Error("handler failed", "handler", m.Handler, "error", err)
			_ = sess.Send(&Message{Kind: KindError, Seq: m.Seq, Error: runtime.ErrorMessage(err)})
			return
		}
		if err := sess.Send(&Message{Kind: KindUpdate, Seq: m.Seq, Update: &u}); err != nil {
			log.Warn("reply dropped", "handler", m.Handler, "error", err)
		}
	default:
		log.Warn("unknown message kind", "kind", m.Kind)
	}
}

// writer owns all writes to conn
func (sess *Session) writer(conn *websocket.Conn, codec Codec, closeChan, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message := <-sess.sendChan:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(codec.FrameType(), message); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closeChan:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-done:
			return
		}
	}
}
