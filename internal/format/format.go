// Package format renders domain records for the CLI: tasks, time
// windows, reminder schedules, and work logs in table, json, or yaml
// form.
package format

import (
	"fmt"
	"strings"

	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/logbook"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/schedule"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/task"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/timeutil"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/tracker"
)

type OutputFormat string

const (
	OutputFormatTable OutputFormat = "table"
	OutputFormatJSON  OutputFormat = "json"
	OutputFormatYAML  OutputFormat = "yaml"
)

type Formatter interface {
	FormatTasks([]task.Task) (string, error)
	FormatWindows([]schedule.TimeWindow) (string, error)
	FormatTrackings([]tracker.Entry) (string, error)
	FormatLogs([]logbook.Entry) (string, error)
}

type FormatterFactory struct {
	times *timeutil.Formatter
}

func NewFormatterFactory(times *timeutil.Formatter) *FormatterFactory {
	return &FormatterFactory{times: times}
}

func (f *FormatterFactory) Create(format OutputFormat) (Formatter, error) {
	switch format {
	case OutputFormatTable:
		return NewTableFormatter(f.times), nil
	case OutputFormatJSON:
		return NewJSONFormatter(), nil
	case OutputFormatYAML:
		return NewYAMLFormatter(), nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s (supported: table, json, yaml)", format)
	}
}

func ParseOutputFormat(s string) (OutputFormat, error) {
	format := OutputFormat(strings.ToLower(s))
	switch format {
	case OutputFormatTable, OutputFormatJSON, OutputFormatYAML:
		return format, nil
	default:
		return "", fmt.Errorf("invalid output format: %s (supported: table, json, yaml)", s)
	}
}
