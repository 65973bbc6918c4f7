package main

import (
	"errors"
	"fmt"
	"log"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/recera/wirepage/cmd/wirepage/internal/ui"
	"github.com/recera/wirepage/internal/cache"
	"github.com/recera/wirepage/pkg/loader"
	"github.com/spf13/cobra"
)

func newBuildCommand() *cobra.Command {
	var (
		outDir string
		tui    bool
	)

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Compile every page into the build directory",
		Long: `Compiles every page with its layouts and components and writes the
artifacts and manifest that 'wirepage serve' runs from.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProject(projectDir)
			if err != nil {
				return err
			}
			if outDir != "" {
				p.config.OutDir = outDir
			}
			if cmd.Flags().Changed("tui") {
				p.config.Build.TUI = tui
			}
			return runBuild(p)
		},
	}

	cmd.Flags().StringVarP(&outDir, "out", "o", "", "Output directory (default from config)")
	cmd.Flags().BoolVar(&tui, "tui", false, "Show the interactive build dashboard")

	return cmd
}

func runBuild(p *project) error {
	start := time.Now()

	l, err := loader.New(loader.Options{PagesDir: p.pagesDir()})
	if err != nil {
		return fmt.Errorf("failed to create loader: %w", err)
	}
	out, err := cache.New(cache.Config{Dir: p.outDir(), PagesDir: l.PagesDir()})
	if err != nil {
		return fmt.Errorf("failed to open build directory: %w", err)
	}

	if p.config.Build.TUI {
		return buildWithDashboard(l, out)
	}

	log.Printf("🔨 Building %s\n", p.pagesDir())
	summary, err := l.Build(out, func(ev loader.BuildEvent) {
		if ev.Err != nil {
			log.Printf("❌ %s: %v\n", p.relative(ev.File), ev.Err)
			return
		}
		log.Printf("  ✓ %s (%s)\n", p.relative(ev.File), ev.Kind)
	})
	if summary == nil {
		return fmt.Errorf("build failed: %w", err)
	}
	if err != nil {
		return fmt.Errorf("build finished with %d error(s)", len(summary.Errors))
	}

	log.Printf("✅ Built %d pages, %d layouts, %d components in %v\n",
		summary.Pages, summary.Layouts, summary.Components, time.Since(start).Round(time.Millisecond))
	log.Printf("📦 Output: %s\n", summary.OutDir)
	return nil
}

// buildWithDashboard runs the build behind the bubbletea dashboard
func buildWithDashboard(l *loader.Loader, out *cache.Cache) error {
	program := tea.NewProgram(ui.NewModel(l.PagesDir()))

	go func() {
		summary, err := l.Build(out, func(ev loader.BuildEvent) {
			program.Send(ui.FileMsg(ev))
		})
		program.Send(ui.DoneMsg{Summary: summary, Err: err})
	}()

	final, err := program.Run()
	if err != nil {
		return fmt.Errorf("dashboard failed: %w", err)
	}
	m := final.(ui.Model)
	if m.Quitting() {
		return errors.New("build cancelled")
	}
	if err := m.Err(); err != nil {
		return fmt.Errorf("build finished with %d error(s)", len(m.Failed()))
	}
	return nil
}
