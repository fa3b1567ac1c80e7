package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/poidh-tools/bountydeck/pkg/core"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57"))

	stateRunning   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	stateCompleted = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	stateFailed    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	stateCancelled = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	stderrStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))

	paneStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1)

	activePaneStyle = paneStyle.
			BorderForeground(lipgloss.Color("205"))

	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// View renders the TUI.
func (a App) View() string {
	if a.width == 0 || a.height == 0 {
		return "loading..."
	}

	// Editor overlay
	if a.mode == ModeEditor && a.editor != nil {
		editorView := a.editor.View(a.width - 4)
		return paneStyle.Width(a.width - 4).Height(a.height - 2).Render(editorView)
	}

	statusBarH := 2
	bottomH := max(a.height/3, 6)
	mainH := a.height - bottomH - statusBarH - 2
	listW := a.width*2/5 - 2
	outputW := a.width - listW - 4
	logsW := a.width/2 - 2
	auditW := a.width - logsW - 4

	bounties := a.renderBounties(listW, mainH)
	bountiesPane := a.paneBox(PaneBounties, " Bounties ", bounties, listW, mainH)

	output := a.renderOutput(outputW, mainH)
	outputPane := a.paneBox(PaneOutput, a.outputTitle(), output, outputW, mainH)

	topRow := lipgloss.JoinHorizontal(lipgloss.Top, bountiesPane, outputPane)

	logs := a.renderLogs(logsW, bottomH)
	logPane := a.paneBox(PaneLogs, a.logTitle(), logs, logsW, bottomH)

	auditView := a.renderAudit(auditW, bottomH)
	auditPane := a.paneBox(PaneAudit, " Audit Trail ", auditView, auditW, bottomH)

	bottomRow := lipgloss.JoinHorizontal(lipgloss.Top, logPane, auditPane)

	statusBar := a.renderStatusBar()

	return lipgloss.JoinVertical(lipgloss.Left, topRow, bottomRow, statusBar)
}

func (a App) paneBox(pane Pane, title, content string, w, h int) string {
	style := paneStyle
	if a.activePane == pane {
		style = activePaneStyle
	}
	return style.Width(w).Height(h).Render(
		titleStyle.Render(title) + "\n" + content,
	)
}

func (a App) renderBounties(w, h int) string {
	bounties := a.filteredBounties()
	if len(bounties) == 0 {
		return dimStyle.Render("no bounties configured")
	}

	var b strings.Builder
	maxVisible := h - 2
	start := 0
	if a.selectedIdx >= maxVisible {
		start = a.selectedIdx - maxVisible + 1
	}

	for i := start; i < len(bounties) && i-start < maxVisible; i++ {
		bounty := bounties[i]
		indicator := a.slotIndicator(bounty.Name)
		name := truncate(bounty.Name, w-6)
		line := fmt.Sprintf(" %s %-*s", indicator, w-6, name)

		if i == a.selectedIdx {
			line = selectedStyle.Width(w).Render(line)
		}
		b.WriteString(line + "\n")
	}

	if a.mode == ModeSearch {
		b.WriteString("\n" + a.search.View())
	}

	return b.String()
}

func (a App) renderOutput(w, h int) string {
	slot := a.selectedSlot()
	if slot == "" {
		return dimStyle.Render("select a bounty")
	}

	var b strings.Builder
	if j, ok := a.jobs[slot]; ok {
		fmt.Fprintf(&b, "%s %s", colorState(j.State), dimStyle.Render(j.Program+" "+strings.Join(j.Args, " ")))
		if j.State.Terminal() && j.ExitCode != nil {
			b.WriteString(dimStyle.Render(fmt.Sprintf(" (exit %d)", *j.ExitCode)))
		}
		if !j.StartedAt.IsZero() {
			fmt.Fprintf(&b, " %s", dimStyle.Render(formatSince(j.StartedAt)))
		}
		b.WriteString("\n")
	} else if bounty := a.selectedBounty(); bounty != nil {
		b.WriteString(dimStyle.Render(bounty.Title) + "\n")
	}

	lines := a.output[slot]
	if len(lines) == 0 {
		b.WriteString(dimStyle.Render("no output yet"))
		return b.String()
	}

	visible := h - 3
	start := 0
	if len(lines) > visible {
		start = len(lines) - visible
	}
	for i := start; i < len(lines); i++ {
		text := truncate(lines[i].Text, w)
		if lines[i].Stream == core.StreamStderr {
			text = stderrStyle.Render(text)
		}
		b.WriteString(text + "\n")
	}
	return b.String()
}

func (a App) outputTitle() string {
	slot := a.selectedSlot()
	if slot == "" {
		return " Output "
	}
	return " Output: " + slot + " "
}

func (a App) renderLogs(w, h int) string {
	if len(a.logLines) == 0 {
		return dimStyle.Render("no bot log output")
	}

	start := 0
	if len(a.logLines) > h-1 {
		start = len(a.logLines) - h + 1
	}

	var b strings.Builder
	for i := start; i < len(a.logLines); i++ {
		b.WriteString(truncate(a.logLines[i], w) + "\n")
	}
	return b.String()
}

func (a App) logTitle() string {
	title := " Bot Log "
	if a.logPaused {
		title += dimStyle.Render("[PAUSED]") + " "
	}
	return title
}

func (a App) renderAudit(w, h int) string {
	if len(a.auditRows) == 0 {
		return dimStyle.Render("no audit entries")
	}

	start := 0
	if len(a.auditRows) > h-1 {
		start = len(a.auditRows) - h + 1
	}

	var b strings.Builder
	for i := start; i < len(a.auditRows); i++ {
		e := a.auditRows[i]
		line := dimStyle.Render(shortTimestamp(e.Timestamp)) + " " + e.Action
		if e.Outcome != "" {
			line += dimStyle.Render(" → " + e.Outcome)
		}
		b.WriteString(truncate(line, w+16) + "\n") // allow for style escapes
	}
	return b.String()
}

func (a App) renderStatusBar() string {
	left := a.statusMsg
	if !a.connected {
		left = "connecting to daemon..."
	}
	right := "j/k:nav tab:pane enter:launch c:cancel /:filter e:env w:wallet q:quit"
	if a.mode == ModeSearch {
		right = "enter:apply esc:cancel"
	}
	if a.mode == ModeEditor {
		right = "tab:next field enter:save esc:cancel"
	}

	gap := a.width - len(left) - len(right)
	if gap < 1 {
		gap = 1
	}
	return helpStyle.Render(left + strings.Repeat(" ", gap) + right)
}

// slotIndicator shows the state of the job occupying the bounty's slot.
func (a App) slotIndicator(slot string) string {
	j, ok := a.jobs[slot]
	if !ok {
		return dimStyle.Render("·")
	}
	switch j.State {
	case core.StateRunning:
		return stateRunning.Render("●")
	case core.StateCompleted:
		if j.Succeeded() {
			return stateCompleted.Render("✔")
		}
		return stateFailed.Render("✖")
	case core.StateFailed:
		return stateFailed.Render("✖")
	case core.StateCancelled:
		return stateCancelled.Render("○")
	default:
		return dimStyle.Render("?")
	}
}

func colorState(s core.JobState) string {
	switch s {
	case core.StateRunning:
		return stateRunning.Render(string(s))
	case core.StateCompleted:
		return stateCompleted.Render(string(s))
	case core.StateFailed:
		return stateFailed.Render(string(s))
	case core.StateCancelled:
		return stateCancelled.Render(string(s))
	default:
		return dimStyle.Render(string(s))
	}
}

func truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// shortTimestamp trims an RFC 3339 timestamp down to its clock part;
// odd worker formats pass through untouched.
func shortTimestamp(ts string) string {
	if t, err := time.Parse(time.RFC3339, ts); err == nil {
		return t.Local().Format("15:04:05")
	}
	if len(ts) > 19 {
		return ts[:19]
	}
	return ts
}

func formatSince(t time.Time) string {
	d := time.Since(t).Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
