package format

import (
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/logbook"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/schedule"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/task"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/tracker"
)

type YAMLFormatter struct{}

func NewYAMLFormatter() *YAMLFormatter {
	return &YAMLFormatter{}
}

func (f *YAMLFormatter) FormatTasks(tasks []task.Task) (string, error) {
	return marshalYAML(tasks)
}

func (f *YAMLFormatter) FormatWindows(windows []schedule.TimeWindow) (string, error) {
	return marshalYAML(windows)
}

func (f *YAMLFormatter) FormatTrackings(entries []tracker.Entry) (string, error) {
	return marshalYAML(entries)
}

func (f *YAMLFormatter) FormatLogs(entries []logbook.Entry) (string, error) {
	return marshalYAML(entries)
}

func marshalYAML(v any) (string, error) {
	data, err := yaml.Marshal(v)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
