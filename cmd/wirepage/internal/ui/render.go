package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Style definitions
var (
	// Colors
	primaryColor = lipgloss.Color("#3b82f6")
	successColor = lipgloss.Color("#10b981")
	errorColor   = lipgloss.Color("#ef4444")
	mutedColor   = lipgloss.Color("#94a3b8")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			MarginBottom(1)

	mutedStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	errorStyle = lipgloss.NewStyle().
			Foreground(errorColor).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(successColor).
			Bold(true)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(1, 2)

	footerStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			MarginTop(1)
)

// maxRows limits the file list to the most recent entries
const maxRows = 12

// View renders the dashboard
func (m Model) View() string {
	if m.quitting && !m.finished {
		return mutedStyle.Render("Build cancelled.") + "\n"
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(Banner))
	b.WriteString("\n")

	if m.finished {
		b.WriteString(m.renderSummary())
	} else {
		b.WriteString(fmt.Sprintf("%s Compiling %s\n\n", m.spinner.View(), m.pagesDir))
		b.WriteString(m.progress.ViewAs(m.Percent()))
		b.WriteString(mutedStyle.Render(fmt.Sprintf("  %d/%d", m.done, m.total)))
		b.WriteString("\n\n")
	}
	b.WriteString(m.renderFiles())

	if !m.finished {
		b.WriteString(footerStyle.Render("q: quit"))
	}
	return boxStyle.Render(b.String()) + "\n"
}

func (m Model) renderFiles() string {
	rows := m.files
	if len(rows) > maxRows {
		rows = rows[len(rows)-maxRows:]
	}
	var b strings.Builder
	for _, f := range rows {
		switch f.Status {
		case FileFailed:
			b.WriteString(errorStyle.Render("✗ "))
			b.WriteString(fmt.Sprintf("%s %s\n", f.Name, mutedStyle.Render(string(f.Kind))))
			b.WriteString(errorStyle.Render("    " + firstLine(f.Err)))
			b.WriteString("\n")
		default:
			b.WriteString(successStyle.Render("✓ "))
			b.WriteString(fmt.Sprintf("%s %s\n", f.Name, mutedStyle.Render(string(f.Kind))))
		}
	}
	return b.String()
}

func (m Model) renderSummary() string {
	var b strings.Builder
	if m.err != nil {
		b.WriteString(errorStyle.Render(fmt.Sprintf("Build finished with %d error(s)", len(m.Failed()))))
	} else {
		b.WriteString(successStyle.Render("Build complete"))
	}
	b.WriteString(mutedStyle.Render(fmt.Sprintf(" in %s", m.elapsed.Round(time.Millisecond))))
	b.WriteString("\n")
	if s := m.summary; s != nil {
		b.WriteString(fmt.Sprintf("%d pages, %d layouts, %d components → %s\n", s.Pages, s.Layouts, s.Components, s.OutDir))
	}
	b.WriteString("\n")
	return b.String()
}

func firstLine(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		return msg[:i]
	}
	return msg
}
