package router

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	stderrors "errors"

	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/errors"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/logbook"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/proactivity"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/schedule"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/task"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/timeutil"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/tracker"
)

func (r *Router) handleHelp(ctx context.Context, chatID int64) error {
	lines := []string{
		"Commands:",
		"/help - show this list",
		"/tasks [N] - list open tasks (default 10); update/delete by number for local tasks",
		"/tasks projects [N] - group tasks by project (default 5 per project)",
		"/logs [N] - recent log entries (default 5)",
		"/logs tasks [N] - recent logs grouped by task",
		"/logs delete <number> - delete an entry from the last /logs output",
		"/logs update <number> <text> - rewrite an entry; 'task=NAME' rebinds it",
		"/update - pull the latest tasks and logs from Notion now",
		"/state - show the recorded action/mental state",
		"/next - show when and why I will ping you next",
		"/blocks - list time blocks; add rest|task <start> <end> [label]; cancel <number>",
		"/track <task> [minutes] - start reminder pings for a task (default 25m)",
		"/trackings - list tracked tasks",
		"/untrack [number] - stop tracking",
		"/clear - archive the transcript and drop all timers",
	}
	return r.send(ctx, chatID, strings.Join(lines, "\n"))
}

func (r *Router) handleClear(ctx context.Context, chatID int64) error {
	if r.history != nil {
		if err := r.history.Archive(chatID); err != nil {
			return r.send(ctx, chatID, "Could not archive the transcript: "+err.Error())
		}
	}
	if r.tracker != nil {
		r.tracker.Clear(chatID)
	}
	if r.proactivity != nil {
		r.proactivity.Reset(chatID)
	}
	r.snaps.clear(chatID)
	return r.send(ctx, chatID, "Transcript archived. Starting a fresh session.")
}

func (r *Router) handleTrack(ctx context.Context, chatID int64, args []string) error {
	if r.tracker == nil || r.tasks == nil {
		return r.send(ctx, chatID, "Tracking is not available.")
	}
	if len(args) == 0 {
		return r.send(ctx, chatID, "Usage: /track <task id or name> [minutes]")
	}

	interval := 0
	hintArgs := args
	if n, err := strconv.Atoi(args[len(args)-1]); err == nil && len(args) > 1 {
		interval = n
		hintArgs = args[:len(args)-1]
	}
	hint := strings.Join(hintArgs, " ")

	t, ok := r.tasks.Get(hint)
	if !ok {
		t, ok = r.tasks.FindByName(hint)
	}
	if !ok {
		return r.send(ctx, chatID, "No task matched. Check /tasks for ids and names.")
	}

	r.tracker.StartTracking(ctx, chatID, tracker.TaskRef{ID: t.ID, Name: t.Name, URL: t.DisplayURL()}, interval, true, true)
	return nil
}

func (r *Router) handleUntrack(ctx context.Context, chatID int64, args []string) error {
	if r.tracker == nil {
		return r.send(ctx, chatID, "Tracking is not available.")
	}
	entries := r.tracker.ListActive(chatID)
	if len(entries) == 0 {
		return r.send(ctx, chatID, "Nothing is being tracked right now.")
	}

	hint := strings.Join(args, " ")
	if index, err := strconv.Atoi(hint); err == nil {
		if id, ok := r.snaps.resolve(r.snaps.trackings, chatID, index); ok {
			hint = id
		}
	}
	if hint == "" && len(entries) > 1 {
		return r.send(ctx, chatID, "Several tasks are tracked. Run /trackings and then /untrack <number>.")
	}

	entry, ok := r.tracker.StopTracking(chatID, hint)
	if !ok {
		return r.send(ctx, chatID, "No tracked task matched.")
	}
	return r.send(ctx, chatID, fmt.Sprintf("Stopped tracking %s.", entry.TaskName))
}

func (r *Router) handleTrackings(ctx context.Context, chatID int64) error {
	if r.tracker == nil {
		return r.send(ctx, chatID, "Tracking is not available.")
	}
	entries := r.tracker.ListActive(chatID)
	if len(entries) == 0 {
		r.snaps.set(r.snaps.trackings, chatID, nil)
		return r.send(ctx, chatID, "Nothing is being tracked right now.")
	}

	ids := make([]string, 0, len(entries))
	lines := []string{"Tracked tasks:"}
	for i, entry := range entries {
		ids = append(ids, entry.TaskID)
		status := "timer running"
		if entry.Waiting {
			status = "waiting for feedback"
		}
		lines = append(lines, fmt.Sprintf("%d. %s - %s", i+1, entry.TaskName, status))
	}
	lines = append(lines, "Use /untrack <number> to stop one.")
	r.snaps.set(r.snaps.trackings, chatID, ids)
	return r.send(ctx, chatID, strings.Join(lines, "\n"))
}

var priorityRank = map[string]int{"Urgent": 0, "High": 1, "Medium": 2, "Low": 3}

func sortTasks(tasks []task.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		pi, ok := priorityRank[tasks[i].Priority]
		if !ok {
			pi = 99
		}
		pj, ok := priorityRank[tasks[j].Priority]
		if !ok {
			pj = 99
		}
		if pi != pj {
			return pi < pj
		}
		di, dj := tasks[i].DueDate, tasks[j].DueDate
		if di == "" {
			di = "9999-12-31"
		}
		if dj == "" {
			dj = "9999-12-31"
		}
		if di != dj {
			return di < dj
		}
		return strings.ToLower(tasks[i].Name) < strings.ToLower(tasks[j].Name)
	})
}

func (r *Router) handleTasks(ctx context.Context, chatID int64, args []string) error {
	if r.tasks == nil {
		return r.send(ctx, chatID, "Task data is not available.")
	}
	if len(args) > 0 {
		switch strings.ToLower(args[0]) {
		case "delete":
			return r.handleTaskDelete(ctx, chatID, args[1:])
		case "update":
			return r.handleTaskUpdate(ctx, chatID, args[1:])
		case "projects", "project", "byproject", "group":
			return r.handleTasksGrouped(ctx, chatID, parseLimit(args[1:], 5))
		}
	}

	limit := parseLimit(args, 10)
	tasks := r.tasks.ListActive()
	if len(tasks) == 0 {
		r.snaps.set(r.snaps.tasks, chatID, nil)
		return r.send(ctx, chatID, "No open tasks.")
	}
	sortTasks(tasks)
	if len(tasks) > limit {
		tasks = tasks[:limit]
	}

	ids := make([]string, 0, len(tasks))
	var lines []string
	for i, t := range tasks {
		ids = append(ids, t.ID)
		lines = append(lines, fmt.Sprintf("%d. %s | status: %s | priority: %s | due: %s",
			i+1, t.Name, orUnknown(t.Status), orUnknown(t.Priority), r.formatDue(t.DueDate)))
		if t.ProjectName != "" {
			lines = append(lines, "   project: "+t.ProjectName)
		}
		lines = append(lines, "   "+t.DisplayURL())
	}
	lines = append(lines, "", "Tip: /tasks update <number> status=... or /tasks delete <number> (local tasks only).")
	r.snaps.set(r.snaps.tasks, chatID, ids)
	return r.send(ctx, chatID, strings.Join(lines, "\n"))
}

func (r *Router) handleTasksGrouped(ctx context.Context, chatID int64, perProject int) error {
	tasks := r.tasks.ListActive()
	if len(tasks) == 0 {
		return r.send(ctx, chatID, "No open tasks.")
	}
	sortTasks(tasks)

	type group struct {
		name  string
		tasks []task.Task
	}
	var groups []*group
	seen := map[string]*group{}
	for _, t := range tasks {
		key := strings.TrimSpace(t.ProjectName)
		if key == "" {
			key = "Unsorted"
		}
		g, ok := seen[key]
		if !ok {
			g = &group{name: key}
			seen[key] = g
			groups = append(groups, g)
		}
		g.tasks = append(g.tasks, t)
	}

	lines := []string{"Tasks by project:"}
	for i, g := range groups {
		lines = append(lines, fmt.Sprintf("%d. %s | %d task(s)", i+1, g.name, len(g.tasks)))
		bucket := g.tasks
		if len(bucket) > perProject {
			bucket = bucket[:perProject]
		}
		for _, t := range bucket {
			lines = append(lines, fmt.Sprintf("   - %s | status: %s | due: %s", t.Name, orUnknown(t.Status), r.formatDue(t.DueDate)))
		}
	}
	lines = append(lines, "", "Tip: /tasks projects [N] adjusts how many tasks each project shows.")
	return r.send(ctx, chatID, strings.Join(lines, "\n"))
}

func (r *Router) handleTaskDelete(ctx context.Context, chatID int64, args []string) error {
	if len(r.snaps.get(r.snaps.tasks, chatID)) == 0 {
		return r.send(ctx, chatID, "Run /tasks first so the numbers refer to a list you saw.")
	}
	index, ok := firstNumber(args)
	if !ok {
		return r.send(ctx, chatID, "Usage: /tasks delete <number>")
	}
	id, ok := r.snaps.resolve(r.snaps.tasks, chatID, index)
	if !ok {
		return r.send(ctx, chatID, "That number is out of range; run /tasks again.")
	}
	if !r.tasks.IsCustom(id) {
		return r.send(ctx, chatID, "That task comes from Notion and cannot be deleted here.")
	}
	if !r.tasks.DeleteCustom(id) {
		return r.send(ctx, chatID, "Delete failed; the task no longer exists.")
	}
	r.snaps.remove(r.snaps.tasks, chatID, id)
	return r.send(ctx, chatID, "Local task deleted.")
}

func (r *Router) handleTaskUpdate(ctx context.Context, chatID int64, args []string) error {
	if len(r.snaps.get(r.snaps.tasks, chatID)) == 0 {
		return r.send(ctx, chatID, "Run /tasks first so the numbers refer to a list you saw.")
	}
	if len(args) < 2 {
		return r.send(ctx, chatID, "Usage: /tasks update <number> field=value ...")
	}
	index, err := strconv.Atoi(args[0])
	if err != nil {
		return r.send(ctx, chatID, "Usage: /tasks update <number> field=value ...")
	}
	id, ok := r.snaps.resolve(r.snaps.tasks, chatID, index)
	if !ok {
		return r.send(ctx, chatID, "That number is out of range; run /tasks again.")
	}

	patch, ok := parseTaskPatch(args[1:])
	if !ok {
		return r.send(ctx, chatID, "No recognized fields. Use name/status/priority/due/content/project.")
	}
	if !r.tasks.IsCustom(id) {
		return r.send(ctx, chatID, "That task comes from Notion and cannot be edited here.")
	}
	t, ok := r.tasks.UpdateCustom(id, patch)
	if !ok {
		return r.send(ctx, chatID, "Update failed; the task no longer exists.")
	}
	return r.send(ctx, chatID, fmt.Sprintf("Task updated: %s | status: %s | priority: %s | due: %s",
		t.Name, orUnknown(t.Status), orUnknown(t.Priority), r.formatDue(t.DueDate)))
}

// parseTaskPatch reads key=value pairs where values may span several
// words, running until the next token containing '='.
func parseTaskPatch(tokens []string) (task.Patch, bool) {
	fields := map[string]*string{}
	var currentKey string
	var currentValue []string

	flush := func() {
		if currentKey == "" {
			return
		}
		value := strings.TrimSpace(strings.Join(currentValue, " "))
		switch strings.ToLower(value) {
		case "none", "null", "clear":
			value = ""
		}
		fields[currentKey] = &value
		currentKey = ""
		currentValue = nil
	}

	for _, token := range tokens {
		if key, value, found := strings.Cut(token, "="); found {
			flush()
			currentKey = strings.ToLower(strings.TrimSpace(key))
			currentValue = []string{value}
			continue
		}
		if currentKey != "" {
			currentValue = append(currentValue, token)
		}
	}
	flush()

	var patch task.Patch
	matched := false
	for key, value := range fields {
		switch key {
		case "name":
			patch.Name = value
		case "status":
			patch.Status = value
		case "priority":
			patch.Priority = value
		case "due", "due_date":
			patch.DueDate = value
		case "content":
			patch.Content = value
		case "project", "project_name":
			patch.ProjectName = value
		default:
			continue
		}
		matched = true
	}
	return patch, matched
}

func (r *Router) handleLogs(ctx context.Context, chatID int64, args []string) error {
	if r.logs == nil {
		return r.send(ctx, chatID, "Log data is not available.")
	}
	if len(args) > 0 {
		switch strings.ToLower(args[0]) {
		case "delete":
			return r.handleLogDelete(ctx, chatID, args[1:])
		case "update":
			return r.handleLogUpdate(ctx, chatID, args[1:])
		case "task", "tasks", "bytask":
			return r.handleLogsGrouped(ctx, chatID, parseLimit(args[1:], 5))
		}
	}

	limit := parseLimit(args, 5)
	entries := r.logs.List()
	if len(entries) == 0 {
		return r.send(ctx, chatID, "No log entries yet.")
	}
	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	// Newest first.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}

	ids := make([]string, 0, len(entries))
	var lines []string
	for i, entry := range entries {
		ids = append(ids, entry.ID)
		lines = append(lines, fmt.Sprintf("%d. %s | task: %s", i+1, entry.Name, logTaskLabel(entry)))
		content := nonEmptyLines(entry.Content)
		if len(content) == 0 {
			lines = append(lines, "   - (empty)")
		}
		for _, line := range content {
			lines = append(lines, "   - "+line)
		}
	}
	lines = append(lines, "", "Tip: /logs delete <number> or /logs update <number> <text>.")
	r.snaps.set(r.snaps.logs, chatID, ids)
	return r.send(ctx, chatID, strings.Join(lines, "\n"))
}

func (r *Router) handleLogsGrouped(ctx context.Context, chatID int64, limit int) error {
	entries := r.logs.List()
	if len(entries) == 0 {
		return r.send(ctx, chatID, "No log entries yet.")
	}

	const perTask = 3
	type group struct {
		label   string
		entries []logbook.Entry
	}
	var groups []*group
	seen := map[string]*group{}
	for i := len(entries) - 1; i >= 0; i-- {
		entry := entries[i]
		key := entry.TaskID
		if key == "" {
			key = "local:" + entry.TaskName
		}
		g, ok := seen[key]
		if !ok {
			g = &group{label: logTaskLabel(entry)}
			seen[key] = g
			groups = append(groups, g)
		}
		if len(g.entries) < perTask {
			g.entries = append(g.entries, entry)
		}
	}
	if len(groups) > limit {
		groups = groups[:limit]
	}

	lines := []string{"Logs by task:"}
	for i, g := range groups {
		lines = append(lines, fmt.Sprintf("%d. %s | %d recent entr(y/ies)", i+1, g.label, len(g.entries)))
		for _, entry := range g.entries {
			summary := "(empty)"
			if content := nonEmptyLines(entry.Content); len(content) > 0 {
				summary = content[0]
			}
			lines = append(lines, fmt.Sprintf("   - %s | %s", entry.Name, summary))
		}
	}
	lines = append(lines, "", "Tip: /logs tasks [N] adjusts how many tasks are shown.")
	return r.send(ctx, chatID, strings.Join(lines, "\n"))
}

func (r *Router) handleLogDelete(ctx context.Context, chatID int64, args []string) error {
	if len(r.snaps.get(r.snaps.logs, chatID)) == 0 {
		return r.send(ctx, chatID, "Run /logs first so the numbers refer to a list you saw.")
	}
	index, ok := firstNumber(args)
	if !ok {
		return r.send(ctx, chatID, "Usage: /logs delete <number>")
	}
	id, ok := r.snaps.resolve(r.snaps.logs, chatID, index)
	if !ok {
		return r.send(ctx, chatID, "That number is out of range; run /logs again.")
	}
	entry, found := r.logs.Get(id)
	if !found || !r.logs.Delete(id) {
		return r.send(ctx, chatID, "Delete failed; the entry no longer exists.")
	}
	r.snaps.remove(r.snaps.logs, chatID, id)
	return r.send(ctx, chatID, fmt.Sprintf("Deleted log entry: %s | task: %s", entry.Name, logTaskLabel(entry)))
}

func (r *Router) handleLogUpdate(ctx context.Context, chatID int64, args []string) error {
	if len(r.snaps.get(r.snaps.logs, chatID)) == 0 {
		return r.send(ctx, chatID, "Run /logs first so the numbers refer to a list you saw.")
	}
	if len(args) < 2 {
		return r.send(ctx, chatID, "Usage: /logs update <number> <text>")
	}
	index, err := strconv.Atoi(args[0])
	if err != nil {
		return r.send(ctx, chatID, "Usage: /logs update <number> <text>")
	}
	id, ok := r.snaps.resolve(r.snaps.logs, chatID, index)
	if !ok {
		return r.send(ctx, chatID, "That number is out of range; run /logs again.")
	}

	taskHint, content := extractTaskHint(strings.Join(args[1:], " "))
	patch := logbook.Patch{Content: &content}
	if taskHint != "" {
		patch.TaskName = &taskHint
		if r.tasks != nil {
			if t, found := r.tasks.FindByName(taskHint); found {
				patch.TaskID = &t.ID
				patch.TaskName = &t.Name
			}
		}
	}
	entry, updated := r.logs.Update(id, patch)
	if !updated {
		return r.send(ctx, chatID, "Update failed; the entry no longer exists.")
	}
	return r.send(ctx, chatID, fmt.Sprintf("Log entry updated: %s | task: %s", entry.Name, logTaskLabel(entry)))
}

// extractTaskHint pulls a "task=NAME" marker out of free text, returning
// the task name and the remaining content.
func extractTaskHint(text string) (string, string) {
	fields := strings.Fields(text)
	var rest []string
	hint := ""
	for _, field := range fields {
		if value, found := strings.CutPrefix(field, "task="); found && value != "" {
			hint = value
			continue
		}
		rest = append(rest, field)
	}
	return hint, strings.Join(rest, " ")
}

func (r *Router) handleBlocks(ctx context.Context, chatID int64, args []string) error {
	if r.windows == nil {
		return r.send(ctx, chatID, "Time blocks are not available.")
	}
	if len(args) > 0 {
		switch strings.ToLower(args[0]) {
		case "cancel":
			return r.handleBlockCancel(ctx, chatID, args[1:])
		case "add":
			return r.handleBlockAdd(ctx, chatID, args[1:])
		}
	}

	windows := r.windows.ListWindows(chatID, false)
	if len(windows) == 0 {
		r.snaps.set(r.snaps.blocks, chatID, nil)
		return r.send(ctx, chatID, "No time blocks planned. Try /blocks add rest 13:00 14:00 or /blocks add task 14:00 16:00 <task>.")
	}

	ids := make([]string, 0, len(windows))
	lines := []string{"Time blocks:"}
	for i, w := range windows {
		ids = append(ids, w.ID)
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, r.formatWindow(w)))
	}
	lines = append(lines, "", "Use /blocks cancel <number> to drop one.")
	r.snaps.set(r.snaps.blocks, chatID, ids)
	return r.send(ctx, chatID, strings.Join(lines, "\n"))
}

func (r *Router) handleBlockCancel(ctx context.Context, chatID int64, args []string) error {
	if len(r.snaps.get(r.snaps.blocks, chatID)) == 0 {
		return r.send(ctx, chatID, "Run /blocks first so the numbers refer to a list you saw.")
	}
	index, ok := firstNumber(args)
	if !ok {
		return r.send(ctx, chatID, "Usage: /blocks cancel <number>")
	}
	id, ok := r.snaps.resolve(r.snaps.blocks, chatID, index)
	if !ok {
		return r.send(ctx, chatID, "That number is out of range; run /blocks again.")
	}

	w, found := r.windows.GetWindow(id)
	if !r.windows.CancelWindow(id) {
		return r.send(ctx, chatID, "Cancel failed; the block has expired or no longer exists.")
	}
	if found && w.Kind == schedule.KindTask && r.sessions != nil {
		r.sessions.Cancel(id)
	}
	r.snaps.remove(r.snaps.blocks, chatID, id)
	return r.send(ctx, chatID, fmt.Sprintf("Cancelled block %d.", index))
}

func (r *Router) handleBlockAdd(ctx context.Context, chatID int64, args []string) error {
	if len(args) < 3 {
		return r.send(ctx, chatID, "Usage: /blocks add rest|task <start> <end> [label]")
	}
	kind := schedule.WindowKind(strings.ToLower(args[0]))
	if kind != schedule.KindRest && kind != schedule.KindTask {
		return r.send(ctx, chatID, "The block kind must be rest or task.")
	}

	now := r.clock.Now()
	start, err := r.parseWhen(now, args[1])
	if err != nil {
		return r.send(ctx, chatID, "Could not read the start time. Use 15:04 or 2006-01-02 15:04.")
	}
	end, err := r.parseWhen(now, args[2])
	if err != nil {
		return r.send(ctx, chatID, "Could not read the end time. Use 15:04 or 2006-01-02 15:04.")
	}
	// Clock-only ranges that wrap midnight mean "tomorrow".
	if !end.After(start) && len(args[2]) <= len(timeutil.ClockLayout)+1 {
		end = end.AddDate(0, 0, 1)
	}

	label := strings.Join(args[3:], " ")
	spec := schedule.WindowSpec{ChatID: chatID, Start: start, End: end, Kind: kind}
	switch kind {
	case schedule.KindTask:
		if label == "" {
			return r.send(ctx, chatID, "A task block needs a task name: /blocks add task <start> <end> <task>.")
		}
		t, found := task.Task{}, false
		if r.tasks != nil {
			if t, found = r.tasks.FindByName(label); !found {
				t = r.tasks.EnsureTask(label)
				found = true
			}
		}
		if found {
			spec.TaskID = t.ID
			spec.TaskName = t.Name
		} else {
			spec.TaskName = label
		}
	default:
		spec.Note = label
	}

	w, err := r.windows.AddWindow(spec)
	if err != nil {
		if stderrors.Is(err, errors.ErrInvalidRange) {
			return r.send(ctx, chatID, "The block must end after it starts and cannot be entirely in the past.")
		}
		return r.send(ctx, chatID, "Could not add the block: "+err.Error())
	}

	switch w.Kind {
	case schedule.KindTask:
		if r.sessions != nil {
			r.sessions.Schedule(w, false)
		}
	case schedule.KindRest:
		if r.tracker != nil {
			r.tracker.DeferForRest(chatID, w.Start, w.End)
		}
	}
	return r.send(ctx, chatID, "Added: "+r.formatWindow(w))
}

func (r *Router) handleState(ctx context.Context, chatID int64) error {
	if r.states == nil {
		return r.send(ctx, chatID, "No state recorded yet.")
	}
	now := r.clock.Now()
	st := r.states.State(chatID, r.trackerActive(chatID), r.resting(chatID, now))
	lines := []string{
		"Current state:",
		fmt.Sprintf("- action: %s (updated %s)", st.Action, r.formatTimePtr(st.ActionUpdatedAt)),
		fmt.Sprintf("- mental: %s (updated %s)", st.Mental, r.formatTimePtr(st.MentalUpdatedAt)),
	}
	return r.send(ctx, chatID, strings.Join(lines, "\n"))
}

func (r *Router) handleNext(ctx context.Context, chatID int64) error {
	var lines []string

	if r.proactivity != nil {
		snap := r.proactivity.DescribeNextPrompts(chatID)
		lines = append(lines, "Action state: "+snap.Action.Value)
		lines = append(lines, "  "+r.describeDimension(snap.Action))
		lines = append(lines, "Mental state: "+snap.Mental.Value)
		lines = append(lines, "  "+r.describeDimension(snap.Mental))
		lines = append(lines, "Open question: "+r.describeQuestion(snap.Question))
	} else {
		lines = append(lines, "Action state: off", "Mental state: off", "Open question: off")
	}

	lines = append(lines, "", "Tracking:")
	if r.tracker != nil {
		events := r.tracker.ListNextEvents(chatID)
		if len(events) == 0 {
			lines = append(lines, "  - none")
		}
		for _, ev := range events {
			suffix := ""
			if ev.Waiting {
				suffix = " (waiting for a reply)"
			}
			lines = append(lines, fmt.Sprintf("  - %s -> %s%s", ev.TaskName, r.times.Format(ev.Due), suffix))
		}
	} else {
		lines = append(lines, "  - off")
	}

	lines = append(lines, "", "Time blocks:")
	blocks := r.timeBlockLines(chatID)
	if len(blocks) == 0 {
		lines = append(lines, "  - none planned")
	}
	lines = append(lines, blocks...)

	return r.send(ctx, chatID, strings.Join(lines, "\n"))
}

func (r *Router) handleSync(ctx context.Context, chatID int64) error {
	if r.sync == nil {
		return r.send(ctx, chatID, "Notion sync is not configured.")
	}
	if err := r.send(ctx, chatID, "Pulling the latest tasks and logs from Notion..."); err != nil {
		return err
	}

	progress := func(message string) {
		if err := r.send(ctx, chatID, message); err != nil {
			slog.Warn("Failed to deliver sync progress", "chat_id", chatID, "error", err)
		}
	}
	summary, err := r.sync.Sync(ctx, fmt.Sprintf("command:%d", chatID), true, progress)
	if err != nil {
		return r.send(ctx, chatID, "Sync failed: "+err.Error())
	}
	return r.send(ctx, chatID, "Sync complete: "+summary)
}

func (r *Router) describeDimension(d proactivity.DimensionStatus) string {
	due := r.times.Format(d.Due)
	if due == "" {
		due = "unscheduled"
	}
	if d.Pending {
		return "waiting for an update; I will ask again at " + due
	}
	return "recorded; next check at " + due
}

func (r *Router) describeQuestion(q proactivity.QuestionStatus) string {
	if !q.Pending {
		return "none"
	}
	due := "soon"
	if q.Due != nil {
		due = r.times.Format(*q.Due)
	}
	return fmt.Sprintf("%q - follow-up at %s", q.Question, due)
}

func (r *Router) timeBlockLines(chatID int64) []string {
	if r.windows == nil {
		return nil
	}
	windows := r.windows.ListWindows(chatID, false)
	if len(windows) > 5 {
		windows = windows[:5]
	}
	now := r.clock.Now()
	var lines []string
	for _, w := range windows {
		status := "upcoming"
		if !w.Start.After(now) && !w.End.Before(now) {
			status = "in progress"
		}
		lines = append(lines, fmt.Sprintf("  - %s | %s", r.formatWindow(w), status))
	}
	return lines
}

func (r *Router) formatWindow(w schedule.TimeWindow) string {
	label := w.Note
	if w.Kind == schedule.KindTask {
		label = w.TaskName
		if label == "" {
			label = "task"
		}
		label = "task: " + label
	} else if label == "" {
		label = "rest"
	}
	return fmt.Sprintf("%s ~ %s | %s | %s", r.times.FormatShort(w.Start), r.times.FormatShort(w.End), label, string(w.Status))
}

func (r *Router) parseWhen(anchor time.Time, value string) (time.Time, error) {
	if t, err := r.times.ParseLocal(value); err == nil {
		return t, nil
	}
	return r.times.ClockAt(anchor, value)
}

func (r *Router) formatTimePtr(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return r.times.Format(*t)
}

func (r *Router) formatDue(value string) string {
	if value == "" {
		return "unplanned"
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			if t.Hour() == 0 && t.Minute() == 0 {
				return r.times.ToLocal(t).Format("2006-01-02")
			}
			return r.times.Format(t)
		}
	}
	return value
}

func parseLimit(args []string, fallback int) int {
	for _, arg := range args {
		if n, err := strconv.Atoi(arg); err == nil {
			if n < 1 {
				return 1
			}
			if n > 20 {
				return 20
			}
			return n
		}
	}
	return fallback
}

func firstNumber(args []string) (int, bool) {
	for _, arg := range args {
		if n, err := strconv.Atoi(arg); err == nil {
			return n, true
		}
	}
	return 0, false
}

func orUnknown(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}

func logTaskLabel(entry logbook.Entry) string {
	switch {
	case entry.TaskName != "":
		return entry.TaskName
	case entry.TaskID != "":
		return entry.TaskID
	default:
		return "unlinked"
	}
}

func nonEmptyLines(content string) []string {
	var out []string
	for _, line := range strings.Split(content, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
