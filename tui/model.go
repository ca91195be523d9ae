package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/hochfrequenz/heal-dash/internal/domain"
	"github.com/hochfrequenz/heal-dash/internal/inference"
	"github.com/hochfrequenz/heal-dash/internal/runstate"
)

// Model is the TUI application model
type Model struct {
	store        *runstate.Store
	engineStatus func() inference.Status
	updates      <-chan struct{}

	// Data
	snap   runstate.Snapshot
	engine inference.Status

	// UI state
	width    int
	height   int
	cursor   int
	spinner  spinner.Model
	now      func() time.Time
	quitting bool
}

// ModelConfig holds the dependencies of the TUI model
type ModelConfig struct {
	Store *runstate.Store
	// EngineStatus reports the inference coordinator state. Optional.
	EngineStatus func() inference.Status
	// Updates is a store subscription. Without it the model refreshes on
	// its one-second tick only.
	Updates <-chan struct{}
	Now     func() time.Time
}

// NewModel creates a new TUI model
func NewModel(cfg ModelConfig) Model {
	spin := spinner.New()
	spin.Spinner = spinner.MiniDot
	spin.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	m := Model{
		store:        cfg.Store,
		engineStatus: cfg.EngineStatus,
		updates:      cfg.Updates,
		spinner:      spin,
		now:          now,
	}
	m.refresh()
	return m
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		m.spinner.Tick,
		waitForChange(m.updates),
	)
}

// TickMsg triggers a refresh
type TickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// StateChangedMsg is sent when the store notifies a change
type StateChangedMsg struct{}

func waitForChange(updates <-chan struct{}) tea.Cmd {
	if updates == nil {
		return nil
	}
	return func() tea.Msg {
		if _, ok := <-updates; !ok {
			return nil
		}
		return StateChangedMsg{}
	}
}

// refresh pulls a fresh snapshot and clamps the timeline cursor
func (m *Model) refresh() {
	m.snap = m.store.Snapshot()
	if m.engineStatus != nil {
		m.engine = m.engineStatus()
	}
	if n := len(m.snap.Timeline); m.cursor >= n {
		m.cursor = max(n-1, 0)
	}
}

// Snapshot returns the state the model last rendered
func (m Model) Snapshot() runstate.Snapshot {
	return m.snap
}

func (m Model) active() bool {
	switch m.snap.Run.ConnectionStatus {
	case domain.ConnConnecting, domain.ConnStreaming:
		return true
	}
	return false
}
