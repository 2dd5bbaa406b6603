package tracker

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/state"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}

type fakeRest struct {
	mu        sync.Mutex
	resting   bool
	resume    time.Time
	hasResume bool
}

func (f *fakeRest) IsResting(chatID int64, when time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resting
}

func (f *fakeRest) NextResumeTime(chatID int64, when time.Time) (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resume, f.hasResume
}

type stateCall struct {
	action        string
	trackerActive bool
	resting       bool
}

type fakeStates struct {
	mu    sync.Mutex
	calls []stateCall
}

func (f *fakeStates) Update(chatID int64, action, mental string, trackerActive, resting bool) state.ChatState {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, stateCall{action: action, trackerActive: trackerActive, resting: resting})
	return state.ChatState{}
}

func (f *fakeStates) last(t *testing.T) stateCall {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		t.Fatal("expected at least one state sync call")
	}
	return f.calls[len(f.calls)-1]
}

type fakeMessenger struct {
	mu   sync.Mutex
	msgs []string
}

func (f *fakeMessenger) SendMessage(ctx context.Context, chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, text)
	return nil
}

func (f *fakeMessenger) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.msgs))
	copy(out, f.msgs)
	return out
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached within timeout")
}

var trackerBase = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func testTask(id string) TaskRef {
	return TaskRef{ID: id, Name: "Write report " + id, URL: "https://www.notion.so/" + id}
}

func TestStartTrackingClampsCustomInterval(t *testing.T) {
	clk := &fakeClock{now: trackerBase}
	r := NewRegistry(Options{Clock: clk})

	e := r.StartTracking(context.Background(), 100, testTask("t1"), 2, false, true)
	if e.Interval != 5*time.Minute {
		t.Fatalf("interval below the floor should clamp to 5m, got %v", e.Interval)
	}

	e = r.StartTracking(context.Background(), 100, testTask("t1"), 500, false, true)
	if e.Interval != 180*time.Minute {
		t.Fatalf("interval above the ceiling should clamp to 180m, got %v", e.Interval)
	}

	e = r.StartTracking(context.Background(), 100, testTask("t1"), 0, false, true)
	if e.Interval != DefaultInitialInterval {
		t.Fatalf("zero interval should use the default, got %v", e.Interval)
	}
	if !e.NextFireAt.Equal(trackerBase.Add(DefaultInitialInterval)) {
		t.Fatalf("unexpected next fire time %v", e.NextFireAt)
	}
}

func TestStartTrackingReplacesExistingSchedule(t *testing.T) {
	clk := &fakeClock{now: trackerBase}
	r := NewRegistry(Options{Clock: clk})

	r.StartTracking(context.Background(), 100, testTask("t1"), 30, false, true)
	clk.Set(trackerBase.Add(10 * time.Minute))
	r.StartTracking(context.Background(), 100, testTask("t1"), 60, false, true)

	entries := r.ListActive(100)
	if len(entries) != 1 {
		t.Fatalf("restart for the same task should keep one entry, got %d", len(entries))
	}
	want := trackerBase.Add(10 * time.Minute).Add(60 * time.Minute)
	if !entries[0].NextFireAt.Equal(want) {
		t.Fatalf("next fire = %v, want %v", entries[0].NextFireAt, want)
	}
}

func TestStartTrackingTracksTasksIndependently(t *testing.T) {
	clk := &fakeClock{now: trackerBase}
	r := NewRegistry(Options{Clock: clk})

	r.StartTracking(context.Background(), 100, testTask("t1"), 30, false, true)
	r.StartTracking(context.Background(), 100, testTask("t2"), 60, false, true)
	r.StartTracking(context.Background(), 200, testTask("t1"), 30, false, true)

	if got := len(r.ListActive(100)); got != 2 {
		t.Fatalf("chat 100 should track two tasks, got %d", got)
	}
	if got := len(r.ListActive(200)); got != 1 {
		t.Fatalf("chat 200 should track one task, got %d", got)
	}
}

func TestStartTrackingDefersFirstFireDuringRest(t *testing.T) {
	clk := &fakeClock{now: trackerBase}
	resume := trackerBase.Add(12 * time.Minute)
	rest := &fakeRest{resting: true, resume: resume, hasResume: true}
	r := NewRegistry(Options{Clock: clk, Rest: rest})

	e := r.StartTracking(context.Background(), 100, testTask("t1"), 30, false, true)
	if !e.NextFireAt.Equal(resume) {
		t.Fatalf("first fire should land on the resume time %v, got %v", resume, e.NextFireAt)
	}
	if e.RestResumeAt == nil || !e.RestResumeAt.Equal(resume) {
		t.Fatalf("rest resume marker not recorded: %+v", e.RestResumeAt)
	}
}

func TestStartTrackingKeepsIntervalWhenResumeIsLater(t *testing.T) {
	clk := &fakeClock{now: trackerBase}
	rest := &fakeRest{resting: true, resume: trackerBase.Add(2 * time.Hour), hasResume: true}
	r := NewRegistry(Options{Clock: clk, Rest: rest})

	e := r.StartTracking(context.Background(), 100, testTask("t1"), 30, false, true)
	if !e.NextFireAt.Equal(trackerBase.Add(30 * time.Minute)) {
		t.Fatalf("resume after the interval should not move the first fire, got %v", e.NextFireAt)
	}
	if e.RestResumeAt != nil {
		t.Fatalf("rest resume marker should stay empty, got %v", *e.RestResumeAt)
	}
}

func TestStartTrackingNotifiesAndSyncsState(t *testing.T) {
	clk := &fakeClock{now: trackerBase}
	msgr := &fakeMessenger{}
	states := &fakeStates{}
	r := NewRegistry(Options{Clock: clk, Messenger: msgr, States: states})

	r.StartTracking(context.Background(), 100, testTask("t1"), 30, true, true)

	msgs := msgr.messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0], "Started tracking") {
		t.Fatalf("expected a start notification, got %v", msgs)
	}
	if !strings.Contains(msgs[0], "30 minutes") {
		t.Fatalf("notification should mention the interval, got %q", msgs[0])
	}
	call := states.last(t)
	if call.action != state.ActionInProgress || !call.trackerActive {
		t.Fatalf("start should sync action in_progress with tracker active, got %+v", call)
	}
}

func TestFireMarksWaitingAndSendsReminder(t *testing.T) {
	clk := &fakeClock{now: trackerBase}
	msgr := &fakeMessenger{}
	r := NewRegistry(Options{
		Clock:     clk,
		Initial:   15 * time.Millisecond,
		FollowUp:  10 * time.Minute,
		Messenger: msgr,
	})

	r.StartTracking(context.Background(), 100, testTask("t1"), 0, false, true)

	waitFor(t, 2*time.Second, func() bool { return len(msgr.messages()) >= 1 })
	msg := msgr.messages()[0]
	if !strings.Contains(msg, "Write report t1") || !strings.Contains(msg, "notion.so/t1") {
		t.Fatalf("reminder should name the task and its link, got %q", msg)
	}

	entries := r.ListActive(100)
	if len(entries) != 1 || !entries[0].Waiting {
		t.Fatalf("entry should be waiting after the fire, got %+v", entries)
	}
	if !entries[0].NextFireAt.Equal(trackerBase.Add(10 * time.Minute)) {
		t.Fatalf("follow-up should be armed ten minutes out, got %v", entries[0].NextFireAt)
	}
}

func TestFireSingleShotWhenNoFollowUp(t *testing.T) {
	clk := &fakeClock{now: trackerBase}
	msgr := &fakeMessenger{}
	r := NewRegistry(Options{Clock: clk, Initial: 15 * time.Millisecond, Messenger: msgr})

	r.StartTracking(context.Background(), 100, testTask("t1"), 0, false, true)

	waitFor(t, 2*time.Second, func() bool { return len(msgr.messages()) >= 1 })
	entries := r.ListActive(100)
	if len(entries) != 1 || !entries[0].Waiting {
		t.Fatalf("entry should be waiting, got %+v", entries)
	}
	if !entries[0].NextFireAt.IsZero() {
		t.Fatalf("single-shot fire should leave no further schedule, got %v", entries[0].NextFireAt)
	}

	time.Sleep(60 * time.Millisecond)
	if got := len(msgr.messages()); got != 1 {
		t.Fatalf("no follow-up configured, want exactly one message, got %d", got)
	}
}

func TestFireDuringRestReschedulesSilently(t *testing.T) {
	clk := &fakeClock{now: trackerBase}
	resume := trackerBase.Add(45 * time.Minute)
	rest := &fakeRest{resting: true, resume: resume, hasResume: true}
	msgr := &fakeMessenger{}
	r := NewRegistry(Options{Clock: clk, Initial: 15 * time.Millisecond, FollowUp: 10 * time.Minute, Rest: rest, Messenger: msgr})

	r.StartTracking(context.Background(), 100, testTask("t1"), 0, false, true)

	waitFor(t, 2*time.Second, func() bool {
		entries := r.ListActive(100)
		return len(entries) == 1 && entries[0].RestResumeAt != nil
	})

	entries := r.ListActive(100)
	if !entries[0].NextFireAt.Equal(resume) {
		t.Fatalf("rest should push the fire to the resume time %v, got %v", resume, entries[0].NextFireAt)
	}
	if entries[0].Waiting {
		t.Fatal("a fire absorbed by rest must not mark the entry waiting")
	}
	if got := len(msgr.messages()); got != 0 {
		t.Fatalf("no reminder should be sent during rest, got %d messages", got)
	}
}

func TestConsumeReplySingleWaiting(t *testing.T) {
	clk := &fakeClock{now: trackerBase}
	states := &fakeStates{}
	r := NewRegistry(Options{Clock: clk, FollowUp: 10 * time.Minute, States: states})

	r.RequestFeedback(context.Background(), 100, testTask("t1"), "how is it going?", "", nil)

	prompt, ok := r.ConsumeReply(100, "finished the draft, reviewing tomorrow")
	if !ok {
		t.Fatal("reply should consume the only waiting entry")
	}
	if !strings.Contains(prompt, "Write report t1") || !strings.Contains(prompt, "finished the draft") {
		t.Fatalf("prompt should carry the task name and the user text, got %q", prompt)
	}
	if !strings.Contains(prompt, "notion.so/t1") {
		t.Fatalf("prompt should reference the task link, got %q", prompt)
	}
	if got := len(r.ListActive(100)); got != 0 {
		t.Fatalf("consumed entry should be removed, %d left", got)
	}
	call := states.last(t)
	if call.action != state.ActionUnknown || call.trackerActive {
		t.Fatalf("consume should sync action unknown with no tracker, got %+v", call)
	}
}

func TestConsumeReplyNothingWaiting(t *testing.T) {
	clk := &fakeClock{now: trackerBase}
	r := NewRegistry(Options{Clock: clk})

	r.StartTracking(context.Background(), 100, testTask("t1"), 30, false, true)
	if _, ok := r.ConsumeReply(100, "some unrelated message"); ok {
		t.Fatal("a schedule that has not fired must not consume replies")
	}
	if got := len(r.ListActive(100)); got != 1 {
		t.Fatalf("entry should survive, %d left", got)
	}
}

func TestConsumeReplyMultiWaitingResolvesByID(t *testing.T) {
	clk := &fakeClock{now: trackerBase}
	r := NewRegistry(Options{Clock: clk, FollowUp: 10 * time.Minute})

	r.RequestFeedback(context.Background(), 100, TaskRef{ID: "abc123", Name: "Quarterly report"}, "p1", "", nil)
	r.RequestFeedback(context.Background(), 100, TaskRef{ID: "def456", Name: "Budget review"}, "p2", "", nil)

	if _, ok := r.ConsumeReply(100, "still thinking"); ok {
		t.Fatal("ambiguous reply must not consume any entry")
	}
	if got := len(r.ListActive(100)); got != 2 {
		t.Fatalf("both entries should survive an ambiguous reply, %d left", got)
	}

	prompt, ok := r.ConsumeReply(100, "DEF456: halfway through the numbers")
	if !ok || !strings.Contains(prompt, "Budget review") {
		t.Fatalf("task id in the reply should pick its entry, ok=%v prompt=%q", ok, prompt)
	}

	entries := r.ListActive(100)
	if len(entries) != 1 || entries[0].TaskID != "abc123" {
		t.Fatalf("the other entry should remain, got %+v", entries)
	}
}

func TestConsumeReplyMultiWaitingResolvesByName(t *testing.T) {
	clk := &fakeClock{now: trackerBase}
	states := &fakeStates{}
	r := NewRegistry(Options{Clock: clk, FollowUp: 10 * time.Minute, States: states})

	r.RequestFeedback(context.Background(), 100, TaskRef{ID: "abc123", Name: "Quarterly report"}, "p1", "", nil)
	r.RequestFeedback(context.Background(), 100, TaskRef{ID: "def456", Name: "Budget review"}, "p2", "", nil)

	prompt, ok := r.ConsumeReply(100, "the quarterly REPORT is nearly done")
	if !ok || !strings.Contains(prompt, "Quarterly report") {
		t.Fatalf("task name in the reply should pick its entry, ok=%v prompt=%q", ok, prompt)
	}
	call := states.last(t)
	if !call.trackerActive {
		t.Fatal("state sync should report the tracker still active while another entry remains")
	}
}

func TestStopTrackingHintlessRequiresSingleEntry(t *testing.T) {
	clk := &fakeClock{now: trackerBase}
	r := NewRegistry(Options{Clock: clk})

	r.StartTracking(context.Background(), 100, testTask("t1"), 30, false, true)
	e, ok := r.StopTracking(100, "")
	if !ok || e.TaskID != "t1" {
		t.Fatalf("hintless stop with one entry should succeed, ok=%v entry=%+v", ok, e)
	}

	r.StartTracking(context.Background(), 100, testTask("t1"), 30, false, true)
	r.StartTracking(context.Background(), 100, testTask("t2"), 30, false, true)
	if _, ok := r.StopTracking(100, ""); ok {
		t.Fatal("hintless stop with two entries must refuse")
	}
	if got := len(r.ListActive(100)); got != 2 {
		t.Fatalf("refused stop must not remove entries, %d left", got)
	}
}

func TestStopTrackingPrefersExactIDOverNameSubstring(t *testing.T) {
	clk := &fakeClock{now: trackerBase}
	r := NewRegistry(Options{Clock: clk})

	r.StartTracking(context.Background(), 100, TaskRef{ID: "alpha", Name: "Beta launch"}, 30, false, true)
	r.StartTracking(context.Background(), 100, TaskRef{ID: "zz9", Name: "Alpha testing round"}, 30, false, true)

	e, ok := r.StopTracking(100, "ALPHA")
	if !ok || e.TaskID != "alpha" {
		t.Fatalf("exact id match should win over a name substring, got %+v", e)
	}

	e, ok = r.StopTracking(100, "testing")
	if !ok || e.TaskID != "zz9" {
		t.Fatalf("name substring should match the remaining entry, got %+v", e)
	}
}

func TestDeferForRestPushesFiresInsideWindow(t *testing.T) {
	clk := &fakeClock{now: trackerBase}
	r := NewRegistry(Options{Clock: clk})

	// Next fires at 10:10 and 11:00 against a 10:00..10:30 rest window.
	r.StartTracking(context.Background(), 100, testTask("t1"), 70, false, true)
	r.StartTracking(context.Background(), 100, testTask("t2"), 120, false, true)

	start := trackerBase.Add(time.Hour)
	end := start.Add(30 * time.Minute)
	r.DeferForRest(100, start, end)

	entries := r.ListActive(100)
	byID := map[string]Entry{}
	for _, e := range entries {
		byID[e.TaskID] = e
	}

	if !byID["t1"].NextFireAt.Equal(end) {
		t.Fatalf("fire inside the window should move to its end %v, got %v", end, byID["t1"].NextFireAt)
	}
	if byID["t1"].RestResumeAt == nil || !byID["t1"].RestResumeAt.Equal(end) {
		t.Fatalf("deferred entry should record the resume time, got %+v", byID["t1"].RestResumeAt)
	}
	if !byID["t2"].NextFireAt.Equal(trackerBase.Add(120 * time.Minute)) {
		t.Fatalf("fire beyond the window must stay put, got %v", byID["t2"].NextFireAt)
	}
}

func TestListNextEventsDueOrdered(t *testing.T) {
	clk := &fakeClock{now: trackerBase}
	r := NewRegistry(Options{Clock: clk, FollowUp: 10 * time.Minute})

	r.StartTracking(context.Background(), 100, testTask("t1"), 120, false, true)
	r.StartTracking(context.Background(), 100, testTask("t2"), 70, false, true)
	r.RequestFeedback(context.Background(), 100, testTask("t3"), "ping", "", nil)

	events := r.ListNextEvents(100)
	if len(events) != 3 {
		t.Fatalf("want 3 events, got %d", len(events))
	}
	if events[0].TaskID != "t3" || !events[0].Waiting {
		t.Fatalf("waiting follow-up should be due first, got %+v", events[0])
	}
	if events[1].TaskID != "t2" || events[2].TaskID != "t1" {
		t.Fatalf("events out of due order: %+v", events)
	}
	if !events[1].Due.Equal(trackerBase.Add(70 * time.Minute)) {
		t.Fatalf("unexpected due time %v", events[1].Due)
	}
}

func TestListNextEventsDuringRestReportsResume(t *testing.T) {
	clk := &fakeClock{now: trackerBase}
	rest := &fakeRest{}
	r := NewRegistry(Options{Clock: clk, Rest: rest})

	r.StartTracking(context.Background(), 100, testTask("t1"), 30, false, true)

	resume := trackerBase.Add(50 * time.Minute)
	rest.mu.Lock()
	rest.resting = true
	rest.resume = resume
	rest.hasResume = true
	rest.mu.Unlock()

	events := r.ListNextEvents(100)
	if len(events) != 1 || !events[0].Due.Equal(resume) {
		t.Fatalf("during rest the due time should be the resume time, got %+v", events)
	}
}

func TestClearRemovesAllChatSchedules(t *testing.T) {
	clk := &fakeClock{now: trackerBase}
	states := &fakeStates{}
	r := NewRegistry(Options{Clock: clk, States: states})

	r.StartTracking(context.Background(), 100, testTask("t1"), 30, false, true)
	r.StartTracking(context.Background(), 100, testTask("t2"), 30, false, true)
	r.StartTracking(context.Background(), 200, testTask("t1"), 30, false, true)

	r.Clear(100)
	if got := len(r.ListActive(100)); got != 0 {
		t.Fatalf("clear should remove every schedule of the chat, %d left", got)
	}
	if got := len(r.ListActive(200)); got != 1 {
		t.Fatalf("other chats must be untouched, got %d", got)
	}
	call := states.last(t)
	if call.action != state.ActionUnknown || call.trackerActive {
		t.Fatalf("clear should sync action unknown, got %+v", call)
	}
}

func TestRequestFeedbackCarriesContextAndMetadata(t *testing.T) {
	clk := &fakeClock{now: trackerBase}
	msgr := &fakeMessenger{}
	r := NewRegistry(Options{Clock: clk, FollowUp: 10 * time.Minute, Messenger: msgr})

	r.RequestFeedback(context.Background(), 100, testTask("t1"), "Block ended. How did it go?", "block_follow_up", map[string]string{"window_id": "w1"})

	msgs := msgr.messages()
	if len(msgs) != 1 || msgs[0] != "Block ended. How did it go?" {
		t.Fatalf("prompt should be sent verbatim, got %v", msgs)
	}
	entries := r.ListActive(100)
	if len(entries) != 1 {
		t.Fatalf("want one entry, got %d", len(entries))
	}
	e := entries[0]
	if !e.Waiting || e.Context != "block_follow_up" || e.Metadata["window_id"] != "w1" {
		t.Fatalf("feedback entry missing state: %+v", e)
	}
	if !e.NextFireAt.Equal(trackerBase.Add(10 * time.Minute)) {
		t.Fatalf("follow-up should be armed, got %v", e.NextFireAt)
	}
}

func TestRegistryPersistsAndRestores(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trackers.json")
	clk := &fakeClock{now: trackerBase}

	r1 := NewRegistry(Options{SnapshotPath: path, Clock: clk, FollowUp: 10 * time.Minute})
	r1.StartTracking(context.Background(), 100, testTask("t1"), 30, false, true)
	r1.RequestFeedback(context.Background(), 100, testTask("t2"), "ping", "block_follow_up", map[string]string{"window_id": "w1"})

	r2 := NewRegistry(Options{SnapshotPath: path, Clock: clk, FollowUp: 10 * time.Minute})
	entries := r2.ListActive(100)
	if len(entries) != 2 {
		t.Fatalf("want 2 restored entries, got %d", len(entries))
	}
	byID := map[string]Entry{}
	for _, e := range entries {
		byID[e.TaskID] = e
	}
	if !byID["t1"].NextFireAt.Equal(trackerBase.Add(30 * time.Minute)) {
		t.Fatalf("next fire should survive the restart, got %v", byID["t1"].NextFireAt)
	}
	if !byID["t2"].Waiting || byID["t2"].Metadata["window_id"] != "w1" {
		t.Fatalf("waiting state and metadata should survive, got %+v", byID["t2"])
	}

	r2.Restore()
	if got := len(r2.ListActive(100)); got != 2 {
		t.Fatalf("restore must not drop entries, got %d", got)
	}
}

func TestRegistryToleratesMissingSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trackers.json")
	r := NewRegistry(Options{SnapshotPath: path, Clock: &fakeClock{now: trackerBase}})
	if got := len(r.ListActive(100)); got != 0 {
		t.Fatalf("missing snapshot should load empty, got %d", got)
	}
}

func TestShutdownStopsTimersAndKeepsEntries(t *testing.T) {
	clk := &fakeClock{now: trackerBase}
	msgr := &fakeMessenger{}
	r := NewRegistry(Options{Clock: clk, Initial: 15 * time.Millisecond, FollowUp: 10 * time.Minute, Messenger: msgr})

	r.StartTracking(context.Background(), 100, testTask("t1"), 0, false, true)
	r.Shutdown()

	time.Sleep(60 * time.Millisecond)
	if got := len(msgr.messages()); got != 0 {
		t.Fatalf("no reminder should fire after shutdown, got %d", got)
	}
	entries := r.ListActive(100)
	if len(entries) != 1 {
		t.Fatalf("entries must survive shutdown so Restore can re-arm them, got %+v", entries)
	}
}
