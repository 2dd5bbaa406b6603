package format

import (
	"encoding/json"

	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/logbook"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/schedule"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/task"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/tracker"
)

type JSONFormatter struct{}

func NewJSONFormatter() *JSONFormatter {
	return &JSONFormatter{}
}

func (f *JSONFormatter) FormatTasks(tasks []task.Task) (string, error) {
	return marshalJSON(tasks)
}

func (f *JSONFormatter) FormatWindows(windows []schedule.TimeWindow) (string, error) {
	return marshalJSON(windows)
}

func (f *JSONFormatter) FormatTrackings(entries []tracker.Entry) (string, error) {
	return marshalJSON(entries)
}

func (f *JSONFormatter) FormatLogs(entries []logbook.Entry) (string, error) {
	return marshalJSON(entries)
}

func marshalJSON(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
