package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/recera/wirepage/pkg/loader"
	"github.com/spf13/cobra"
)

func newRoutesCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "routes",
		Short: "List the route table",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProject(projectDir)
			if err != nil {
				return err
			}
			return runRoutes(p, cmd.OutOrStdout(), asJSON)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the table as JSON")

	return cmd
}

func runRoutes(p *project, w io.Writer, asJSON bool) error {
	l, err := loader.New(loader.Options{PagesDir: p.pagesDir()})
	if err != nil {
		return fmt.Errorf("failed to create loader: %w", err)
	}
	r, pages, err := l.Routes()
	if err != nil {
		return fmt.Errorf("failed to scan pages: %w", err)
	}
	for _, page := range pages {
		if page.Err != nil {
			fmt.Fprintf(os.Stderr, "⚠️  %s: %v\n", p.relative(page.File), page.Err)
		}
	}

	routes := r.ExportTable()
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(routes)
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("#94a3b8"))).
		Headers("PATH", "NAME", "FILE")
	for _, route := range routes.Routes {
		t.Row(route.Path, route.Name, p.relative(route.File))
	}
	_, err = fmt.Fprintln(w, t.Render())
	return err
}
