package tui

import (
	"slices"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "j", "down":
			if m.cursor < len(m.snap.Timeline)-1 {
				m.cursor++
				m.followCursor()
			}
		case "k", "up":
			if m.cursor > 0 {
				m.cursor--
				m.followCursor()
			}
		case "enter":
			m.toggleDrawer()
		case "esc":
			m.store.CloseDrawer()
		case "f":
			m.cycleFile()
		case "r":
			// Only a finished or idle run can be dismissed
			if !m.snap.Run.IsRunning {
				m.store.ResetRun()
				m.cursor = 0
			}
		}
		m.refresh()

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case TickMsg:
		m.refresh()
		return m, tickCmd()

	case StateChangedMsg:
		m.refresh()
		return m, waitForChange(m.updates)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// toggleDrawer opens the drawer on the highlighted iteration, or closes it
// when that iteration is already shown.
func (m *Model) toggleDrawer() {
	if len(m.snap.Timeline) == 0 {
		return
	}
	iter := m.snap.Timeline[m.cursor].Iteration
	ui := m.snap.UI
	if ui.DrawerOpen && ui.SelectedIteration != nil && *ui.SelectedIteration == iter {
		m.store.CloseDrawer()
		return
	}
	m.store.SelectIteration(iter)
}

// followCursor keeps an open drawer on the highlighted iteration
func (m *Model) followCursor() {
	if m.snap.UI.DrawerOpen {
		m.store.SelectIteration(m.snap.Timeline[m.cursor].Iteration)
	}
}

func (m *Model) cycleFile() {
	files := m.snap.Run.Files
	if len(files) == 0 {
		return
	}
	next := 0
	if i := slices.Index(files, m.snap.Run.ActiveFile); i >= 0 {
		next = (i + 1) % len(files)
	}
	m.store.SetActiveFile(files[next])
}
