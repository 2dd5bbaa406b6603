package notion

import (
	"strings"

	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/logbook"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/task"
)

// Database property names the bot's workspace uses.
const (
	propName     = "Name"
	propPriority = "Priority"
	propStatus   = "Status"
	propProjects = "Projects"
	propDueDate  = "Due Date"
	propSubtasks = "Subtasks"
	propTask     = "Task"
)

func (p Page) title(name string) string {
	prop, ok := p.Properties[name]
	if !ok || len(prop.Title) == 0 {
		return ""
	}
	return plainText(prop.Title)
}

func (p Page) selectName(name string) string {
	if prop, ok := p.Properties[name]; ok && prop.Select != nil {
		return prop.Select.Name
	}
	return ""
}

func (p Page) statusName(name string) string {
	if prop, ok := p.Properties[name]; ok && prop.Status != nil {
		return prop.Status.Name
	}
	return ""
}

func (p Page) relationIDs(name string) []string {
	prop, ok := p.Properties[name]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(prop.Relation))
	for _, rel := range prop.Relation {
		if rel.ID != "" {
			ids = append(ids, rel.ID)
		}
	}
	return ids
}

func (p Page) dateStart(name string) string {
	if prop, ok := p.Properties[name]; ok && prop.Date != nil {
		return prop.Date.Start
	}
	return ""
}

func plainText(spans []RichText) string {
	var sb strings.Builder
	for _, span := range spans {
		if span.PlainText != "" {
			sb.WriteString(span.PlainText)
			continue
		}
		sb.WriteString(span.Text.Content)
	}
	return sb.String()
}

// flattenTask maps a database page onto a task, returning the subtask
// page ids so names can be attached once every task is known.
func flattenTask(p Page) (task.Task, []string) {
	t := task.Task{
		ID:       p.ID,
		Name:     p.title(propName),
		Priority: p.selectName(propPriority),
		Status:   p.statusName(propStatus),
		DueDate:  p.dateStart(propDueDate),
		PageURL:  p.URL,
	}
	if t.Name == "" {
		t.Name = "Untitled"
	}
	if t.Priority == "" {
		t.Priority = "No Priority"
	}
	if t.Status == "" {
		t.Status = "Unknown"
	}
	if projects := p.relationIDs(propProjects); len(projects) > 0 {
		t.ProjectID = projects[0]
	}
	return t, p.relationIDs(propSubtasks)
}

func flattenLog(p Page) logbook.Entry {
	entry := logbook.Entry{
		ID:     p.ID,
		Name:   p.title(propName),
		Status: p.statusName(propStatus),
	}
	if entry.Name == "" {
		entry.Name = "Untitled"
	}
	if entry.Status == "" {
		entry.Status = "Unknown"
	}
	if tasks := p.relationIDs(propTask); len(tasks) > 0 {
		entry.TaskID = tasks[0]
	}
	return entry
}

var headingPrefixes = map[string]string{
	"heading_1": "#",
	"heading_2": "##",
	"heading_3": "###",
}

// BlocksToMarkdown renders page blocks as markdown text. Block types
// outside the workspace's vocabulary are skipped.
func BlocksToMarkdown(blocks []Block) string {
	var sb strings.Builder
	for _, block := range blocks {
		text := annotatedText(block.Content.RichText)
		switch {
		case headingPrefixes[block.Type] != "":
			if text != "" {
				sb.WriteString(headingPrefixes[block.Type] + " " + text + "\n")
			}
		case block.Type == "paragraph":
			sb.WriteString(text + "\n")
		case block.Type == "to_do":
			if text != "" {
				checkbox := "[ ]"
				if block.Content.Checked {
					checkbox = "[x]"
				}
				sb.WriteString("- " + checkbox + " " + text + "\n")
			}
		case block.Type == "bulleted_list_item":
			if text != "" {
				sb.WriteString("- " + text + "\n")
			}
		case block.Type == "numbered_list_item":
			if text != "" {
				sb.WriteString("1. " + text + "\n")
			}
		case block.Type == "code":
			if text != "" {
				sb.WriteString("```" + block.Content.Language + "\n" + text + "\n```\n")
			}
		case block.Type == "quote":
			if text != "" {
				sb.WriteString("> " + text + "\n")
			}
		case block.Type == "divider":
			sb.WriteString("---\n")
		}
	}
	return sb.String()
}

func annotatedText(spans []RichText) string {
	var sb strings.Builder
	for _, span := range spans {
		if span.Type != "" && span.Type != "text" {
			continue
		}
		content := span.Text.Content
		if content == "" {
			content = span.PlainText
		}
		if span.Annotations.Bold {
			content = "**" + content + "**"
		}
		if span.Annotations.Italic {
			content = "*" + content + "*"
		}
		if span.Annotations.Strikethrough {
			content = "~~" + content + "~~"
		}
		if span.Annotations.Code {
			content = "`" + content + "`"
		}
		sb.WriteString(content)
	}
	return sb.String()
}
