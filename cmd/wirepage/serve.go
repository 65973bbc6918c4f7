package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/recera/wirepage/internal/cache"
	"github.com/recera/wirepage/pkg/loader"
	"github.com/spf13/cobra"
)

func newServeCommand() *cobra.Command {
	var (
		port int
		host string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the pages from a production build",
		Long: `Serves the pages compiled by 'wirepage build'. Artifacts whose sources
changed since the build are recompiled on demand.`,
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
			return runServe(p)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "Port to listen on")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "Host to bind to")

	return cmd
}

func runServe(p *project) error {
	out, err := cache.New(cache.Config{Dir: p.outDir(), PagesDir: p.pagesDir()})
	if err != nil {
		return fmt.Errorf("failed to open build directory: %w", err)
	}
	if out.GetStats().EntryCount == 0 {
		return fmt.Errorf("no build found in %s; run 'wirepage build' first", p.outDir())
	}

	l, err := loader.New(loader.Options{PagesDir: p.pagesDir(), Cache: out})
	if err != nil {
		return fmt.Errorf("failed to create loader: %w", err)
	}
	srv, err := p.newServer(l, false)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	log.Printf("📦 Loaded %d artifacts from %s\n", out.GetStats().EntryCount, p.outDir())
	log.Printf("🚀 Serving %d routes at http://%s\n", len(srv.Router().Routes()), p.config.Addr())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return listen(ctx, p.config.Addr(), srv)
}
