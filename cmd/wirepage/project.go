package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/recera/wirepage/cmd/wirepage/internal/config"
	"github.com/recera/wirepage/pkg/debug"
	"github.com/recera/wirepage/pkg/live"
	"github.com/recera/wirepage/pkg/loader"
	"github.com/recera/wirepage/pkg/server"
	"golang.org/x/sync/errgroup"
)

var (
	projectDir string
	debugFlag  bool
)

const (
	// sessionTTL is how long a rendered page waits for its client to connect
	sessionTTL    = 10 * time.Minute
	sweepInterval = time.Minute
)

// project is a loaded wirepage.yaml with its directories resolved
type project struct {
	dir    string
	config *config.Config
}

func loadProject(dir string) (*project, error) {
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if debugFlag {
		cfg.Debug = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Debug {
		enableDebugLogs()
	}
	return &project{dir: dir, config: cfg}, nil
}

func (p *project) path(rel string) string {
	if !filepath.IsAbs(rel) {
		rel = filepath.Join(p.dir, rel)
	}
	if abs, err := filepath.Abs(rel); err == nil {
		return abs
	}
	return rel
}

func (p *project) pagesDir() string { return p.path(p.config.PagesDir) }
func (p *project) outDir() string   { return p.path(p.config.OutDir) }

func (p *project) relative(file string) string {
	if rel, err := filepath.Rel(p.pagesDir(), file); err == nil {
		return filepath.ToSlash(rel)
	}
	return file
}

// newServer creates the page server and its live transport
func (p *project) newServer(l *loader.Loader, dev bool) (*server.Server, error) {
	codec, err := live.CodecByName(p.config.Codec)
	if err != nil {
		return nil, err
	}
	level := slog.LevelInfo
	if dev || p.config.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	return server.New(server.Options{
		Loader:       l,
		Live:         live.NewServer(live.Options{Codec: codec, Logger: logger}),
		Logger:       logger,
		Debug:        dev || p.config.Debug,
		Spa:          p.config.Spa,
		ClientScript: p.config.ClientScript,
	})
}

func enableDebugLogs() {
	debugFn := func(args ...interface{}) {
		log.Println(append([]interface{}{"🐛"}, args...)...)
	}
	debug.EnableLogging(debugFn)
}

// listen serves srv on addr until ctx is done, sweeping sessions whose
// client never connected. Each task runs alongside the server and stops
// it when it fails.
func listen(ctx context.Context, addr string, srv *server.Server, tasks ...func(context.Context) error) error {
	httpSrv := &http.Server{
		Addr:    addr,
		Handler: srv,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Println("👋 Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := httpSrv.Shutdown(shutdownCtx)
		srv.Close()
		return err
	})
	g.Go(func() error {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if n := srv.Live().Sweep(sessionTTL); n > 0 {
					log.Printf("🧹 Swept %d idle sessions\n", n)
				}
			}
		}
	})
	for _, task := range tasks {
		task := task
		g.Go(func() error { return task(ctx) })
	}
	return g.Wait()
}
