package ui

import (
	"path/filepath"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/recera/wirepage/internal/cache"
	"github.com/recera/wirepage/pkg/loader"
)

// FileStatus is the outcome of compiling one file
type FileStatus int

const (
	FileCompiled FileStatus = iota
	FileFailed
)

// FileResult is one row of the dashboard
type FileResult struct {
	Name   string
	Kind   cache.Kind
	Status FileStatus
	Err    error
}

// Model represents the build dashboard state
type Model struct {
	// Window dimensions
	width  int
	height int

	pagesDir string
	files    []FileResult
	done     int
	total    int

	spinner  spinner.Model
	progress progress.Model
	started  time.Time
	elapsed  time.Duration

	summary  *loader.Summary
	err      error
	finished bool
	quitting bool
}

// KeyMap defines the dashboard shortcuts
type KeyMap struct {
	Quit key.Binding
}

var DefaultKeyMap = KeyMap{
	Quit: key.NewBinding(
		key.WithKeys("ctrl+c", "q"),
		key.WithHelp("q", "quit"),
	),
}

// Messages

// FileMsg reports a compiled file
type FileMsg loader.BuildEvent

// DoneMsg ends the build
type DoneMsg struct {
	Summary *loader.Summary
	Err     error
}

// NewModel creates a dashboard for a build of pagesDir
func NewModel(pagesDir string) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(primaryColor)

	return Model{
		pagesDir: pagesDir,
		spinner:  s,
		progress: progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		started:  time.Now(),
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles messages and updates the model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.progress.Width = msg.Width - 20
		if m.progress.Width > 60 {
			m.progress.Width = 60
		}
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, DefaultKeyMap.Quit) {
			m.quitting = true
			return m, tea.Quit
		}
		return m, nil

	case FileMsg:
		result := FileResult{Name: m.relative(msg.File), Kind: msg.Kind, Err: msg.Err}
		if msg.Err != nil {
			result.Status = FileFailed
		}
		m.files = append(m.files, result)
		m.done, m.total = msg.Done, msg.Total
		return m, nil

	case DoneMsg:
		m.summary = msg.Summary
		m.err = msg.Err
		m.finished = true
		m.elapsed = time.Since(m.started)
		return m, tea.Quit

	case spinner.TickMsg:
		if m.finished {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// Percent returns the share of pages compiled so far
func (m Model) Percent() float64 {
	if m.total == 0 {
		return 0
	}
	return float64(m.done) / float64(m.total)
}

// Failed returns the rows whose compilation failed
func (m Model) Failed() []FileResult {
	var failed []FileResult
	for _, f := range m.files {
		if f.Status == FileFailed {
			failed = append(failed, f)
		}
	}
	return failed
}

// Err returns the build error once the build is done
func (m Model) Err() error {
	return m.err
}

// Quitting reports whether the user left before the build finished
func (m Model) Quitting() bool {
	return m.quitting && !m.finished
}

func (m Model) relative(file string) string {
	if rel, err := filepath.Rel(m.pagesDir, file); err == nil {
		return filepath.ToSlash(rel)
	}
	return file
}
