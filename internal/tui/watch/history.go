package watch

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/zika/internal/history"
)

func newHistoryTable(theme Theme) table.Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Completed", Width: 10},
			{Title: "Alias", Width: 22},
			{Title: "Outcome", Width: 18},
			{Title: "Exit", Width: 5},
			{Title: "Duration", Width: 10},
		}),
		table.WithFocused(true),
		table.WithHeight(8),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderBottom(true).
		Bold(true).
		Foreground(theme.Header.GetForeground())
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57"))
	t.SetStyles(s)
	return t
}

func historyTableRows(entries []history.Entry) []table.Row {
	rows := make([]table.Row, 0, len(entries))
	for _, e := range entries {
		exit := strconv.Itoa(e.ExitCode)
		if e.TimedOut {
			exit = "T/O"
		}
		rows = append(rows, table.Row{
			e.CompletedAt.Local().Format("15:04:05"),
			truncate(e.Alias, 22),
			e.Outcome,
			exit,
			fmt.Sprintf("%dms", e.DurationMS),
		})
	}
	return rows
}

func renderHistory(t table.Model, enabled bool, theme Theme, width int) string {
	innerWidth := width - 4

	body := t.View()
	if !enabled {
		body = theme.Dim.Render("  History is disabled")
	}
	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("HISTORY"),
		body,
	)
	return theme.Border.Width(innerWidth).Render(content)
}
