package main

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/recera/wirepage/pkg/loader"
	"github.com/recera/wirepage/pkg/server"
	"github.com/spf13/cobra"
)

// devServer recompiles pages as they change and tells open pages to reload
type devServer struct {
	project *project
	loader  *loader.Loader
	server  *server.Server
	watcher *fsnotify.Watcher
}

func newDevCommand() *cobra.Command {
	var (
		port int
		host string
	)

	cmd := &cobra.Command{
		Use:   "dev",
		Short: "Start the development server",
		Long: `Starts the development server. Pages are compiled on first request,
recompiled when they or their dependencies change, and open pages
reload over their live connection.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProject(projectDir)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				p.config.Port = port
			}
			if cmd.Flags().Changed("host") {
				p.config.Host = host
			}
			return runDev(p)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "Port to listen on")
	cmd.Flags().StringVar(&host, "host", "localhost", "Host to bind to")

	return cmd
}

func runDev(p *project) error {
	log.Println("🚀 Starting wirepage dev server...")

	s, err := newDevServer(p)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()
	s.watcher = watcher

	if err := s.setupWatcher(); err != nil {
		return fmt.Errorf("failed to watch %s: %w", p.dir, err)
	}

	log.Printf("  Found %d routes\n", len(s.server.Router().Routes()))
	log.Printf("✨ Dev server running at http://%s\n", p.config.Addr())
	log.Println("📁 Watching for changes...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return listen(ctx, p.config.Addr(), s.server, s.watchFiles)
}

func newDevServer(p *project) (*devServer, error) {
	l, err := loader.New(loader.Options{PagesDir: p.pagesDir()})
	if err != nil {
		return nil, fmt.Errorf("failed to create loader: %w", err)
	}
	srv, err := p.newServer(l, true)
	if err != nil {
		return nil, fmt.Errorf("failed to create server: %w", err)
	}
	return &devServer{project: p, loader: l, server: srv}, nil
}

func (s *devServer) setupWatcher() error {
	outDir := s.project.outDir()
	for _, root := range []string{s.project.dir, s.project.pagesDir()} {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() {
				return nil
			}
			if abs, _ := filepath.Abs(path); abs == outDir {
				return filepath.SkipDir
			}
			if path != root && s.project.config.Ignored(d.Name()) {
				return filepath.SkipDir
			}
			return s.watcher.Add(path)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *devServer) watchFiles(ctx context.Context) error {
	debounce := time.NewTimer(0)
	<-debounce.C // drain initial timer

	var pendingEvents []fsnotify.Event

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-s.watcher.Events:
			if !ok {
				return nil
			}
			if s.project.config.Ignored(filepath.Base(event.Name)) {
				continue
			}
			// new directories are watched too
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					s.watcher.Add(event.Name)
					continue
				}
			}
			pendingEvents = append(pendingEvents, event)

			// Reset debounce timer
			debounce.Reset(100 * time.Millisecond)

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return nil
			}
			log.Println("Watcher error:", err)

		case <-debounce.C:
			events := pendingEvents
			pendingEvents = nil
			if len(events) > 0 {
				s.handleFileChanges(events)
			}
		}
	}
}

// handleFileChanges drops the compiled units built from the changed files,
// rescans routes when pages come or go, and reloads the affected pages.
// It returns the files whose open pages were told to reload.
func (s *devServer) handleFileChanges(events []fsnotify.Event) []string {
	affected := make(map[string]bool)
	routesChanged := false

	for _, event := range events {
		path, err := filepath.Abs(event.Name)
		if err != nil {
			continue
		}
		invalidated := s.loader.Invalidate(path)
		if len(invalidated) > 0 {
			log.Printf("🗑️  Invalidated %d compiled files due to %s", len(invalidated), filepath.Base(path))
		}
		affected[path] = true
		for _, f := range invalidated {
			affected[f] = true
		}

		if filepath.Ext(path) != loader.Ext {
			continue
		}
		if event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
			routesChanged = true
		} else if _, ok := loader.ImplicitRoute(s.loader.PagesDir(), path); ok {
			// a page's !path directive may have changed
			routesChanged = true
		}
	}

	if routesChanged {
		if err := s.server.RefreshRoutes(); err != nil {
			log.Printf("❌ Failed to scan routes: %v\n", err)
		} else {
			log.Printf("✅ Regenerated routes (%d routes)\n", len(s.server.Router().Routes()))
		}
	}

	files := make([]string, 0, len(affected))
	for f := range affected {
		files = append(files, f)
	}
	sort.Strings(files)
	if n := s.server.Live().Reload(files...); n > 0 {
		log.Printf("🔄 Reloaded %d open pages\n", n)
	}
	return files
}
