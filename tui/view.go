package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/hochfrequenz/heal-dash/internal/domain"
	"github.com/hochfrequenz/heal-dash/internal/inference"
	"github.com/hochfrequenz/heal-dash/internal/runstate"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	passedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	failedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	dimmedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("255"))
)

// View renders the TUI
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder
	b.WriteString(headerStyle.Width(m.width).Render(m.renderHeader()))
	b.WriteString("\n")

	if m.snap.UI.ErrorMessage != "" {
		b.WriteString(failedStyle.Render("  " + m.snap.UI.ErrorMessage))
		b.WriteString("\n")
	}

	if m.snap.UI.View == runstate.ViewLanding && m.snap.Run.RunID == "" && len(m.snap.Timeline) == 0 {
		b.WriteString(sectionStyle.Width(m.width - 2).Render(dimmedStyle.Render("No run in progress. Start one with `heal-dash run`.")))
		b.WriteString("\n")
	} else {
		sections := []string{
			m.renderTimeline(),
		}
		if m.snap.UI.DrawerOpen {
			sections = append(sections, m.renderDrawer())
		}
		sections = append(sections, m.renderFixes(), m.renderFiles())
		if m.snap.Run.ConnectionStatus == domain.ConnCompleted {
			sections = append(sections, m.renderScore())
		}
		for _, s := range sections {
			b.WriteString(sectionStyle.Width(m.width - 2).Render(s))
			b.WriteString("\n")
		}
	}

	b.WriteString(m.renderLog())
	b.WriteString("\n")
	if line := m.renderEngine(); line != "" {
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString(statusBarStyle.Width(m.width).Render(" j/k: select  enter: details  esc: close  f: next file  r: reset  q: quit"))

	return b.String()
}

func (m Model) renderHeader() string {
	run := m.snap.Run
	status := string(run.ConnectionStatus)
	if m.active() {
		status = m.spinner.View() + " " + status
	}
	repo := m.snap.Inputs.RepoURL
	if repo == "" {
		repo = "-"
	}
	branch := run.BranchName
	if branch == "" {
		branch = "-"
	}
	return fmt.Sprintf(" heal-dash │ %s │ %s │ %s │ %s ",
		truncate(repo, 48), branch, status, m.snap.Inputs.Mode)
}

func (m Model) renderTimeline() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("CI/CD TIMELINE"))
	b.WriteString("\n")

	if len(m.snap.Timeline) == 0 {
		b.WriteString(dimmedStyle.Render("  Waiting for the first iteration"))
		return b.String()
	}

	for i, e := range m.snap.Timeline {
		marker := "  "
		if i == m.cursor {
			marker = "> "
		}
		line := fmt.Sprintf("%s#%-3d %-7s %s  %s", marker, e.Iteration, e.Status,
			e.Timestamp.Local().Format("15:04:05"), truncate(e.Message, 60))
		if e.Duration != nil {
			line += fmt.Sprintf(" (%.1fs)", *e.Duration)
		}
		switch {
		case i == m.cursor:
			b.WriteString(selectedStyle.Render(line))
		case e.Status == domain.IterationPassed:
			b.WriteString(passedStyle.Render(line))
		default:
			b.WriteString(failedStyle.Render(line))
		}
		b.WriteString("\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func (m Model) renderDrawer() string {
	var b strings.Builder
	sel := m.snap.UI.SelectedIteration
	if sel == nil {
		return titleStyle.Render("ITERATION")
	}
	b.WriteString(titleStyle.Render(fmt.Sprintf("ITERATION %d", *sel)))
	b.WriteString("\n")

	var entry *domain.TimelineEntry
	for i := range m.snap.Timeline {
		if m.snap.Timeline[i].Iteration == *sel {
			entry = &m.snap.Timeline[i]
			break
		}
	}
	if entry == nil {
		b.WriteString(dimmedStyle.Render("  No data for this iteration"))
		return b.String()
	}

	b.WriteString(fmt.Sprintf("  Status:    %s\n", entry.Status))
	b.WriteString(fmt.Sprintf("  Timestamp: %s\n", entry.Timestamp.Local().Format(time.DateTime)))
	if entry.Duration != nil {
		b.WriteString(fmt.Sprintf("  Duration:  %.1fs\n", *entry.Duration))
	}
	b.WriteString(fmt.Sprintf("  Message:   %s\n", entry.Message))
	if entry.RawLog != nil && *entry.RawLog != "" {
		b.WriteString("\n")
		lines := strings.Split(strings.TrimRight(*entry.RawLog, "\n"), "\n")
		const maxLines = 12
		if len(lines) > maxLines {
			lines = lines[len(lines)-maxLines:]
		}
		for _, l := range lines {
			b.WriteString(dimmedStyle.Render("  " + truncate(l, max(m.width-8, 20))))
			b.WriteString("\n")
		}
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func (m Model) renderFixes() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("FIXES (%d)", len(m.snap.Fixes))))
	b.WriteString("\n")

	if len(m.snap.Fixes) == 0 {
		b.WriteString(dimmedStyle.Render("  No fixes applied yet"))
		return b.String()
	}

	for _, f := range m.snap.Fixes {
		icon, style := "✓", passedStyle
		if f.Status == domain.FixFailed {
			icon, style = "✗", failedStyle
		}
		line := fmt.Sprintf("  %s %-30s %5d  %-12s %s", icon,
			truncate(f.File, 30), f.Line, f.BugType, truncate(f.CommitMessage, 40))
		b.WriteString(style.Render(line))
		b.WriteString("\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func (m Model) renderFiles() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("FILES (%d)", len(m.snap.Run.Files))))
	b.WriteString("\n")

	if len(m.snap.Run.Files) == 0 {
		b.WriteString(dimmedStyle.Render("  No source files discovered yet"))
		return b.String()
	}

	for _, f := range m.snap.Run.Files {
		if f == m.snap.Run.ActiveFile {
			b.WriteString(selectedStyle.Render("  ● " + f))
		} else {
			b.WriteString(dimmedStyle.Render("    " + f))
		}
		b.WriteString("\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func (m Model) renderScore() string {
	var b strings.Builder
	s := m.snap.Score
	sum := m.snap.Summary

	b.WriteString(titleStyle.Render("SCORE"))
	b.WriteString("\n")

	style := warningStyle
	switch sum.FinalStatus {
	case domain.FinalPassed:
		style = passedStyle
	case domain.FinalError:
		style = failedStyle
	}
	b.WriteString(style.Render(fmt.Sprintf("  %s  %s points", sum.FinalStatus, formatPoints(s.Total))))
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("  Base %s  +Speed %s  -Commits %s\n",
		formatPoints(s.Base), formatPoints(s.SpeedBonus), formatPoints(s.CommitPenalty)))
	b.WriteString(fmt.Sprintf("  Failures %d  Fixes %d  Commits %d  Iterations %d  Time %s\n",
		sum.TotalFailures, sum.TotalFixes, sum.CommitsCount, sum.IterationsUsed,
		formatDuration(time.Duration(sum.TimeTakenSeconds*float64(time.Second)))))
	if at := m.snap.Run.CompletedAt; at != nil {
		b.WriteString(dimmedStyle.Render("  Completed " + humanize.RelTime(*at, m.now(), "ago", "from now")))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func (m Model) renderLog() string {
	msg := m.snap.Run.LastLog
	if msg == "" {
		msg = "-"
	}
	return dimmedStyle.Render(" log: ") + truncate(msg, max(m.width-7, 20))
}

func (m Model) renderEngine() string {
	if m.engineStatus == nil || m.snap.Inputs.Mode != domain.ModeBrowserInference {
		return ""
	}
	e := m.engine
	line := fmt.Sprintf(" engine: %s %s", e.Engine, e.State)
	switch e.State {
	case inference.EngineLoading:
		line += fmt.Sprintf(" %d%%", e.Progress)
	case inference.EngineReady:
		if e.CurrentTask != "" {
			line += " · " + e.CurrentTask
		}
	case inference.EngineError:
		return failedStyle.Render(line)
	}
	return line
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
}

func formatPoints(v float64) string {
	return humanize.FtoaWithDigits(v, 1)
}
