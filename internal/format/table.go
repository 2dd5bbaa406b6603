package format

import (
	"fmt"
	"strings"

	"charm.land/lipgloss/v2"
	"charm.land/lipgloss/v2/table"

	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/logbook"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/schedule"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/task"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/timeutil"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/tracker"
)

type TableFormatter struct {
	times        *timeutil.Formatter
	headerStyle  lipgloss.Style
	oddRowStyle  lipgloss.Style
	evenRowStyle lipgloss.Style
	borderStyle  lipgloss.Style
}

func NewTableFormatter(times *timeutil.Formatter) *TableFormatter {
	purple := lipgloss.Color("99")
	gray := lipgloss.Color("245")
	lightGray := lipgloss.Color("241")

	return &TableFormatter{
		times: times,
		headerStyle: lipgloss.NewStyle().
			Foreground(purple).
			Bold(true).
			Align(lipgloss.Center).
			Padding(0, 1),
		oddRowStyle: lipgloss.NewStyle().
			Foreground(gray).
			Padding(0, 1),
		evenRowStyle: lipgloss.NewStyle().
			Foreground(lightGray).
			Padding(0, 1),
		borderStyle: lipgloss.NewStyle().
			Foreground(purple),
	}
}

func (f *TableFormatter) newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(f.borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return f.headerStyle
			case row%2 == 0:
				return f.evenRowStyle
			default:
				return f.oddRowStyle
			}
		}).
		Headers(headers...)
}

func (f *TableFormatter) FormatTasks(tasks []task.Task) (string, error) {
	if len(tasks) == 0 {
		return "No tasks found", nil
	}

	t := f.newTable("#", "Name", "Status", "Priority", "Due", "Project")
	for i, item := range tasks {
		t.Row(
			fmt.Sprintf("%d", i+1),
			truncateString(item.Name, 32),
			item.Status,
			item.Priority,
			orDash(item.DueDate),
			truncateString(item.ProjectName, 20),
		)
	}
	return t.String(), nil
}

func (f *TableFormatter) FormatWindows(windows []schedule.TimeWindow) (string, error) {
	if len(windows) == 0 {
		return "No time blocks found", nil
	}

	t := f.newTable("#", "Kind", "Start", "End", "Status", "Label")
	for i, w := range windows {
		label := w.TaskName
		if label == "" {
			label = w.Note
		}
		t.Row(
			fmt.Sprintf("%d", i+1),
			string(w.Kind),
			f.times.FormatShort(w.Start),
			f.times.FormatShort(w.End),
			string(w.Status),
			truncateString(label, 28),
		)
	}
	return t.String(), nil
}

func (f *TableFormatter) FormatTrackings(entries []tracker.Entry) (string, error) {
	if len(entries) == 0 {
		return "No active trackings", nil
	}

	t := f.newTable("#", "Task", "Next fire", "Phase", "Interval")
	for i, e := range entries {
		phase := "scheduled"
		if e.Waiting {
			phase = "waiting"
		}
		t.Row(
			fmt.Sprintf("%d", i+1),
			truncateString(e.TaskName, 32),
			orDash(f.times.Format(e.NextFireAt)),
			phase,
			fmt.Sprintf("%dm", int(e.Interval.Minutes())),
		)
	}
	return t.String(), nil
}

func (f *TableFormatter) FormatLogs(entries []logbook.Entry) (string, error) {
	if len(entries) == 0 {
		return "No log entries found", nil
	}

	t := f.newTable("#", "Name", "Task", "Content")
	for i, e := range entries {
		taskLabel := e.TaskName
		if taskLabel == "" {
			taskLabel = e.TaskID
		}
		t.Row(
			fmt.Sprintf("%d", i+1),
			truncateString(e.Name, 24),
			truncateString(orDash(taskLabel), 24),
			truncateString(firstLine(e.Content), 40),
		)
	}
	return t.String(), nil
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
