package task

import "strings"

// Default field values for locally created tasks.
const (
	DefaultPriority = "Medium"
	DefaultStatus   = "Undecomposed"
)

// Task is one unit of work, either synced from Notion or created locally.
type Task struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Status       string   `json:"status"`
	Priority     string   `json:"priority"`
	Content      string   `json:"content,omitempty"`
	ProjectID    string   `json:"project_id,omitempty"`
	ProjectName  string   `json:"project_name,omitempty"`
	DueDate      string   `json:"due_date,omitempty"`
	SubtaskNames []string `json:"subtask_names,omitempty"`
	PageURL      string   `json:"page_url,omitempty"`
}

// DisplayURL returns the task's page link. Synced tasks carry their page
// URL; for anything else the Notion page-id convention is a reasonable
// guess and harmless when wrong.
func (t Task) DisplayURL() string {
	if t.PageURL != "" {
		return t.PageURL
	}
	if t.ID == "" {
		return ""
	}
	return "https://www.notion.so/" + strings.ReplaceAll(t.ID, "-", "")
}
