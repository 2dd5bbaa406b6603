package proactivity

import (
	"sync"
	"testing"
	"time"

	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/clock"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/schedule"
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

type markCall struct {
	action bool
	mental bool
}

type fakeStates struct {
	mu    sync.Mutex
	st    state.ChatState
	marks []markCall
}

func (f *fakeStates) State(chatID int64, trackerActive, resting bool) state.ChatState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.st
}

func (f *fakeStates) MarkPrompt(chatID int64, action, mental bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marks = append(f.marks, markCall{action: action, mental: mental})
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) handler() Handler {
	return func(chatID int64, ev Event) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, ev)
	}
}

func (r *eventRecorder) ofType(eventType string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, 0)
	for _, ev := range r.events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
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

var proactivityBase = time.Date(2025, 6, 1, 10, 5, 0, 0, time.UTC)

func ptrTime(t time.Time) *time.Time { return &t }

func settledState(now time.Time) state.ChatState {
	return state.ChatState{
		Action:          state.ActionInProgress,
		Mental:          "focused",
		ActionUpdatedAt: ptrTime(now),
		MentalUpdatedAt: ptrTime(now),
	}
}

func TestStaleDimensionDueMovesToRestEnd(t *testing.T) {
	clk := &fakeClock{now: proactivityBase}
	store := schedule.NewStore("", clk)
	if _, err := store.AddWindow(schedule.WindowSpec{
		ChatID: 1,
		Start:  time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
		End:    time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC),
	}); err != nil {
		t.Fatal(err)
	}

	staleSince := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	states := &fakeStates{st: state.ChatState{
		Action:          state.ActionInProgress,
		Mental:          "focused",
		ActionUpdatedAt: ptrTime(staleSince),
		MentalUpdatedAt: ptrTime(proactivityBase),
	}}
	s := NewScheduler(Options{States: states, Rest: store, Clock: clk, StateStale: time.Hour})

	snap := s.DescribeNextPrompts(1)
	if !snap.Action.Pending {
		t.Fatal("action stale since 09:00 with a one hour threshold should be pending at 10:05")
	}
	wantDue := time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC)
	if !snap.Action.Due.Equal(wantDue) {
		t.Fatalf("due should move to the rest end %v, got %v", wantDue, snap.Action.Due)
	}
	if snap.Mental.Pending {
		t.Fatal("freshly updated mental dimension must not be pending")
	}
	if !snap.Rest.Active || snap.Rest.CurrentEnd == nil || !snap.Rest.CurrentEnd.Equal(wantDue) {
		t.Fatalf("rest status should report the active window, got %+v", snap.Rest)
	}
}

func TestDueInstantInsideFutureRestMovesToThatRestEnd(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)
	clk := &fakeClock{now: now}
	store := schedule.NewStore("", clk)
	if _, err := store.AddWindow(schedule.WindowSpec{
		ChatID: 1,
		Start:  time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
		End:    time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC),
	}); err != nil {
		t.Fatal(err)
	}

	// Threshold lands exactly on the rest start.
	states := &fakeStates{st: state.ChatState{
		Action:          "unknown",
		Mental:          "focused",
		ActionUpdatedAt: ptrTime(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)),
		MentalUpdatedAt: ptrTime(now),
	}}
	s := NewScheduler(Options{States: states, Rest: store, Clock: clk, StateStale: time.Hour})

	snap := s.DescribeNextPrompts(1)
	wantDue := time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC)
	if !snap.Action.Pending || !snap.Action.Due.Equal(wantDue) {
		t.Fatalf("due inside an upcoming rest should move to its end, got %+v", snap.Action)
	}
}

func TestPromptCooldownFloorsDue(t *testing.T) {
	clk := &fakeClock{now: proactivityBase}
	states := &fakeStates{st: state.ChatState{
		Action:           "unknown",
		Mental:           "focused",
		ActionUpdatedAt:  ptrTime(proactivityBase.Add(-2 * time.Hour)),
		ActionPromptedAt: ptrTime(proactivityBase.Add(-time.Minute)),
		MentalUpdatedAt:  ptrTime(proactivityBase),
	}}
	s := NewScheduler(Options{States: states, Clock: clk, StateStale: time.Hour, PromptCooldown: 10 * time.Minute})

	snap := s.DescribeNextPrompts(1)
	wantDue := proactivityBase.Add(9 * time.Minute)
	if !snap.Action.Pending || !snap.Action.Due.Equal(wantDue) {
		t.Fatalf("cooldown should floor the due time at %v, got %+v", wantDue, snap.Action)
	}
}

func TestRecentCancelGraceDelaysDue(t *testing.T) {
	clk := &fakeClock{now: proactivityBase}
	store := schedule.NewStore("", clk)
	w, err := store.AddWindow(schedule.WindowSpec{
		ChatID: 1,
		Start:  proactivityBase.Add(-10 * time.Minute),
		End:    proactivityBase.Add(20 * time.Minute),
	})
	if err != nil {
		t.Fatal(err)
	}
	if !store.CancelWindow(w.ID) {
		t.Fatal("cancel should succeed")
	}

	states := &fakeStates{st: state.ChatState{
		Action:          "unknown",
		Mental:          "focused",
		ActionUpdatedAt: ptrTime(proactivityBase.Add(-2 * time.Hour)),
		MentalUpdatedAt: ptrTime(proactivityBase),
	}}
	s := NewScheduler(Options{States: states, Rest: store, Clock: clk, StateStale: time.Hour})

	snap := s.DescribeNextPrompts(1)
	wantDue := proactivityBase.Add(recentCancelGrace)
	if !snap.Action.Due.Equal(wantDue) {
		t.Fatalf("a just-cancelled rest should delay the due time to %v, got %v", wantDue, snap.Action.Due)
	}
}

func TestStateCheckEmitsOncePerCooldown(t *testing.T) {
	states := state.NewService("", clock.System())
	rec := &eventRecorder{}
	s := NewScheduler(Options{
		States:         states,
		Clock:          clock.System(),
		StateCheck:     30 * time.Millisecond,
		StateStale:     time.Hour,
		PromptCooldown: 200 * time.Millisecond,
		Handler:        rec.handler(),
	})

	s.RecordUserMessage(100, "hello")

	waitFor(t, 3*time.Second, func() bool { return len(rec.ofType(EventStatePrompt)) >= 2 })
	time.Sleep(100 * time.Millisecond)

	events := rec.ofType(EventStatePrompt)
	if len(events) > 5 {
		t.Fatalf("cooldown should gate repeat prompts, got %d events", len(events))
	}
	first := events[0]
	if len(first.Missing) != 2 || first.Missing[0] != "action" || first.Missing[1] != "mental" {
		t.Fatalf("never-updated dimensions should both be missing, got %+v", first.Missing)
	}
	if first.LastAction != "unknown" || first.LastMental != "unknown" {
		t.Fatalf("event should carry the last known values, got %+v", first)
	}
}

func TestStateCheckSkipsWhileResting(t *testing.T) {
	store := schedule.NewStore("", clock.System())
	now := time.Now().UTC()
	if _, err := store.AddWindow(schedule.WindowSpec{
		ChatID: 100,
		Start:  now.Add(-time.Minute),
		End:    now.Add(time.Hour),
	}); err != nil {
		t.Fatal(err)
	}

	states := state.NewService("", clock.System())
	rec := &eventRecorder{}
	s := NewScheduler(Options{
		States:     states,
		Rest:       store,
		Clock:      clock.System(),
		StateCheck: 25 * time.Millisecond,
		Handler:    rec.handler(),
	})

	s.RecordUserMessage(100, "hello")
	time.Sleep(150 * time.Millisecond)

	if got := len(rec.ofType(EventStatePrompt)); got != 0 {
		t.Fatalf("no staleness prompts during rest, got %d", got)
	}
}

func TestQuestionFollowUpRepeatsUntilAnswered(t *testing.T) {
	states := &fakeStates{st: settledState(time.Now().UTC())}
	rec := &eventRecorder{}
	s := NewScheduler(Options{
		States:           states,
		Clock:            clock.System(),
		StateCheck:       time.Hour,
		QuestionFollowUp: 30 * time.Millisecond,
	})
	s.SetEventHandler(rec.handler())

	s.RecordAgentMessage(100, "Did you finish the draft?")

	waitFor(t, 3*time.Second, func() bool { return len(rec.ofType(EventQuestionFollowUp)) >= 2 })
	events := rec.ofType(EventQuestionFollowUp)
	if events[0].Question != "Did you finish the draft?" {
		t.Fatalf("event should carry the question, got %+v", events[0])
	}
}

func TestAgentMessageWithoutQuestionIsIgnored(t *testing.T) {
	states := &fakeStates{st: settledState(time.Now().UTC())}
	rec := &eventRecorder{}
	s := NewScheduler(Options{
		States:           states,
		Clock:            clock.System(),
		QuestionFollowUp: 25 * time.Millisecond,
		Handler:          rec.handler(),
	})

	s.RecordAgentMessage(100, "Noted, keep going.")
	time.Sleep(120 * time.Millisecond)

	if got := len(rec.ofType(EventQuestionFollowUp)); got != 0 {
		t.Fatalf("statement messages must not arm follow-ups, got %d", got)
	}
	if s.DescribeNextPrompts(100).Question.Pending {
		t.Fatal("no question should be pending")
	}
}

func TestUserReplyCancelsPendingQuestion(t *testing.T) {
	states := &fakeStates{st: settledState(time.Now().UTC())}
	rec := &eventRecorder{}
	s := NewScheduler(Options{
		States:           states,
		Clock:            clock.System(),
		StateCheck:       time.Hour,
		QuestionFollowUp: 60 * time.Millisecond,
		Handler:          rec.handler(),
	})

	s.RecordAgentMessage(100, "What's blocking you?")
	s.RecordUserMessage(100, "nothing, all clear")
	time.Sleep(200 * time.Millisecond)

	if got := len(rec.ofType(EventQuestionFollowUp)); got != 0 {
		t.Fatalf("an answered question must not follow up, got %d", got)
	}
	if s.DescribeNextPrompts(100).Question.Pending {
		t.Fatal("question should be cleared by the reply")
	}
}

func TestQuestionTimeoutDuringRestDefersSilently(t *testing.T) {
	store := schedule.NewStore("", clock.System())
	now := time.Now().UTC()
	if _, err := store.AddWindow(schedule.WindowSpec{
		ChatID: 100,
		Start:  now.Add(-time.Minute),
		End:    now.Add(time.Hour),
	}); err != nil {
		t.Fatal(err)
	}

	states := &fakeStates{st: settledState(now)}
	rec := &eventRecorder{}
	s := NewScheduler(Options{
		States:           states,
		Rest:             store,
		Clock:            clock.System(),
		StateCheck:       time.Hour,
		QuestionFollowUp: 30 * time.Millisecond,
		Handler:          rec.handler(),
	})

	s.RecordAgentMessage(100, "Shall we plan tomorrow?")
	asked := s.DescribeNextPrompts(100).Question.AskedAt
	time.Sleep(200 * time.Millisecond)

	if got := len(rec.ofType(EventQuestionFollowUp)); got != 0 {
		t.Fatalf("rest should absorb question follow-ups, got %d", got)
	}
	q := s.DescribeNextPrompts(100).Question
	if !q.Pending {
		t.Fatal("question should stay pending through rest")
	}
	if asked == nil || q.AskedAt == nil || !q.AskedAt.Equal(*asked) {
		t.Fatalf("a deferred follow-up must not refresh asked_at, got %v want %v", q.AskedAt, asked)
	}
}

func TestResetDropsBothChains(t *testing.T) {
	states := &fakeStates{st: state.ChatState{}}
	rec := &eventRecorder{}
	s := NewScheduler(Options{
		States:           states,
		Clock:            clock.System(),
		StateCheck:       30 * time.Millisecond,
		QuestionFollowUp: 30 * time.Millisecond,
		Handler:          rec.handler(),
	})

	s.RecordUserMessage(100, "hello")
	s.RecordAgentMessage(100, "What now?")
	s.Reset(100)
	time.Sleep(150 * time.Millisecond)

	if got := len(rec.events); got != 0 {
		t.Fatalf("reset should cancel every chain, got %d events", got)
	}
	if s.DescribeNextPrompts(100).Question.Pending {
		t.Fatal("reset should drop the pending question")
	}
}

func TestDescribeNextPromptsReportsUpcomingWindow(t *testing.T) {
	clk := &fakeClock{now: proactivityBase}
	store := schedule.NewStore("", clk)
	if _, err := store.AddWindow(schedule.WindowSpec{
		ChatID: 1,
		Start:  proactivityBase.Add(time.Hour),
		End:    proactivityBase.Add(2 * time.Hour),
		Note:   "afternoon walk",
	}); err != nil {
		t.Fatal(err)
	}

	states := &fakeStates{st: settledState(proactivityBase)}
	s := NewScheduler(Options{States: states, Rest: store, Clock: clk})

	snap := s.DescribeNextPrompts(1)
	if snap.Rest.Active {
		t.Fatal("no window covers now")
	}
	if snap.Rest.NextWindowStart == nil || !snap.Rest.NextWindowStart.Equal(proactivityBase.Add(time.Hour)) {
		t.Fatalf("next window start missing, got %+v", snap.Rest)
	}
	if snap.Rest.NextWindowStatus != schedule.StatusApproved {
		t.Fatalf("next window status should be approved, got %q", snap.Rest.NextWindowStatus)
	}
	if snap.Rest.NextResume == nil || !snap.Rest.NextResume.Equal(proactivityBase.Add(2*time.Hour)) {
		t.Fatalf("next resume should be the window end, got %+v", snap.Rest.NextResume)
	}
}

func TestShutdownDisarmsBothChains(t *testing.T) {
	clk := &fakeClock{now: proactivityBase}
	states := &fakeStates{st: state.ChatState{Action: "unknown", Mental: "unknown"}}
	rec := &eventRecorder{}
	s := NewScheduler(Options{
		States:           states,
		Clock:            clk,
		StateCheck:       20 * time.Millisecond,
		StateStale:       time.Hour,
		QuestionFollowUp: 20 * time.Millisecond,
		Handler:          rec.handler(),
	})

	s.RecordUserMessage(1, "hello")
	s.RecordAgentMessage(1, "What are you working on?")
	s.Shutdown()

	time.Sleep(100 * time.Millisecond)
	if got := len(rec.ofType(EventStatePrompt)); got != 0 {
		t.Fatalf("no state prompt should fire after shutdown, got %d", got)
	}
	if got := len(rec.ofType(EventQuestionFollowUp)); got != 0 {
		t.Fatalf("no question follow-up should fire after shutdown, got %d", got)
	}
}
