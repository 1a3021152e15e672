package watch

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/zika/internal/events"
)

// ActionState aggregates what the event stream has shown for one alias.
type ActionState struct {
	Alias       string
	Runs        int
	Failures    int
	Dropped     int
	Running     bool
	LastOutcome string
	LastRun     time.Time
	LastError   string
}

// updateActionState folds one action.* event into the per-alias state.
func updateActionState(actions map[string]*ActionState, e events.Event) {
	if !strings.HasPrefix(e.Type, "action.") {
		return
	}
	var data events.ActionData
	if err := json.Unmarshal(e.Data, &data); err != nil || data.Alias == "" {
		return
	}

	a, ok := actions[data.Alias]
	if !ok {
		a = &ActionState{Alias: data.Alias}
		actions[data.Alias] = a
	}

	switch e.Type {
	case events.TypeActionStarted:
		a.Running = true
	case events.TypeActionDropped:
		a.Dropped++
	case events.TypeActionCompleted:
		a.Running = false
		a.Runs++
		a.LastOutcome = data.Outcome
		a.LastRun = e.At
		a.LastError = data.Error
		if data.Outcome != "succeeded" {
			a.Failures++
		}
	}
}

func renderActions(actions map[string]*ActionState, theme Theme, width int) string {
	innerWidth := width - 4

	if len(actions) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("ACTIONS"),
			theme.Dim.Render("  No actions seen yet"),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	aliases := make([]string, 0, len(actions))
	for alias := range actions {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)

	lines := []string{theme.Header.Render(fmt.Sprintf("  %-24s %-18s %5s %5s %5s  %s", "ALIAS", "LAST", "RUNS", "FAIL", "DROP", "WHEN"))}
	for _, alias := range aliases {
		lines = append(lines, formatAction(actions[alias], theme))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("ACTIONS"),
		strings.Join(lines, "\n"),
	)
	return theme.Border.Width(innerWidth).Render(content)
}

func formatAction(a *ActionState, theme Theme) string {
	last := a.LastOutcome
	style := outcomeStyle(last, theme)
	if a.Running {
		last, style = "running", theme.StatusRunning
	}
	if last == "" {
		last = "-"
	}

	when := "-"
	if !a.LastRun.IsZero() {
		when = time.Since(a.LastRun).Round(time.Second).String() + " ago"
	}

	return fmt.Sprintf("  %-24s %s %5d %5d %5d  %s",
		truncate(a.Alias, 24),
		style.Render(fmt.Sprintf("%-18s", last)),
		a.Runs, a.Failures, a.Dropped,
		theme.Dim.Render(when),
	)
}

func outcomeStyle(outcome string, theme Theme) lipgloss.Style {
	switch outcome {
	case "succeeded":
		return theme.StatusOK
	case "":
		return theme.StatusQueued
	default:
		return theme.StatusFailed
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
