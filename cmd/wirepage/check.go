package main

import (
	"fmt"
	"log"
	"os"

	"github.com/recera/wirepage/internal/cache"
	"github.com/recera/wirepage/pkg/loader"
	"github.com/spf13/cobra"
)

func newCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Compile every page and report errors without writing a build",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProject(projectDir)
			if err != nil {
				return err
			}
			return runCheck(p)
		},
	}
}

func runCheck(p *project) error {
	l, err := loader.New(loader.Options{PagesDir: p.pagesDir()})
	if err != nil {
		return fmt.Errorf("failed to create loader: %w", err)
	}
	tmp, err := os.MkdirTemp("", "wirepage-check-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)
	out, err := cache.New(cache.Config{Dir: tmp, PagesDir: l.PagesDir()})
	if err != nil {
		return err
	}

	failed := 0
	summary, err := l.Build(out, func(ev loader.BuildEvent) {
		if ev.Err != nil {
			failed++
			log.Printf("❌ %s: %v\n", p.relative(ev.File), ev.Err)
		}
	})
	if summary == nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d file(s) failed to compile", failed)
	}
	log.Printf("✅ %d pages, %d layouts, %d components compile cleanly\n",
		summary.Pages, summary.Layouts, summary.Components)
	return nil
}
