package proactivity

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/clock"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/schedule"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/state"
)

// Event types delivered to the handler.
const (
	EventStatePrompt      = "state_prompt"
	EventQuestionFollowUp = "question_follow_up"
)

// Default chain cadences.
const (
	DefaultStateCheck       = 5 * time.Minute
	DefaultStateStale       = time.Hour
	DefaultPromptCooldown   = 10 * time.Minute
	DefaultQuestionFollowUp = 10 * time.Minute
)

const minTimerDelay = time.Second

// How long after an active window was cancelled staleness prompts stay
// quiet.
const recentCancelGrace = 2 * time.Minute

// Event is an abstract nudge for the rendering layer. Missing and the
// Last* fields are set for state prompts, Question for question
// follow-ups.
type Event struct {
	Type       string
	Missing    []string
	LastAction string
	LastMental string
	Question   string
}

// Handler renders events into chat messages.
type Handler func(chatID int64, ev Event)

// StateSource is the chat-state surface the scheduler consumes.
type StateSource interface {
	State(chatID int64, trackerActive, resting bool) state.ChatState
	MarkPrompt(chatID int64, action, mental bool)
}

// RestSchedule is the window-store surface the scheduler consumes.
type RestSchedule interface {
	IsResting(chatID int64, when time.Time) bool
	NextResumeTime(chatID int64, when time.Time) (time.Time, bool)
	CurrentWindow(chatID int64, when time.Time, kind schedule.WindowKind) (schedule.TimeWindow, bool)
	NextWindow(chatID int64) (schedule.TimeWindow, bool)
	RecentCancelledAt(chatID int64) (time.Time, bool)
}

// TrackerSource reports whether a chat has reminder schedules.
type TrackerSource interface {
	HasActive(chatID int64) bool
}

type pendingQuestion struct {
	text    string
	askedAt time.Time
	timer   *time.Timer
}

type chatTimers struct {
	stateGen    uint64
	stateTimer  *time.Timer
	questionGen uint64
	question    *pendingQuestion
}

// Options configures a Scheduler. Zero durations fall back to the
// defaults; the config layer applies the minimum floors.
type Options struct {
	States           StateSource
	Rest             RestSchedule
	Tracker          TrackerSource
	Clock            clock.Clock
	StateCheck       time.Duration
	StateStale       time.Duration
	PromptCooldown   time.Duration
	QuestionFollowUp time.Duration
	Handler          Handler
}

// Scheduler runs two per-chat chains. The staleness chain re-checks the
// action and mental dimensions every StateCheck and emits a state prompt
// when a dimension is both pending and past its due time. The question
// chain follows up on the last unanswered question the assistant asked.
// Both chains start on the chat's first recorded user message.
type Scheduler struct {
	mu       sync.Mutex
	clock    clock.Clock
	states   StateSource
	rest     RestSchedule
	tracker  TrackerSource
	check    time.Duration
	stale    time.Duration
	cooldown time.Duration
	followUp time.Duration
	handler  Handler
	chats    map[int64]*chatTimers
}

// DimensionStatus reports one staleness dimension.
type DimensionStatus struct {
	Pending bool      `json:"pending"`
	Due     time.Time `json:"due_time"`
	Value   string    `json:"value"`
}

// QuestionStatus reports the pending question, if any.
type QuestionStatus struct {
	Pending  bool       `json:"pending"`
	Question string     `json:"question,omitempty"`
	AskedAt  *time.Time `json:"asked_at,omitempty"`
	Due      *time.Time `json:"due_time,omitempty"`
}

// RestStatus reports the chat's rest situation.
type RestStatus struct {
	Active           bool                  `json:"active"`
	CurrentEnd       *time.Time            `json:"current_end,omitempty"`
	NextResume       *time.Time            `json:"next_resume,omitempty"`
	NextWindowStart  *time.Time            `json:"next_window_start,omitempty"`
	NextWindowEnd    *time.Time            `json:"next_window_end,omitempty"`
	NextWindowStatus schedule.WindowStatus `json:"next_window_status,omitempty"`
}

// Snapshot is the read-only answer to "when will you nag me next".
type Snapshot struct {
	Action   DimensionStatus `json:"action"`
	Mental   DimensionStatus `json:"mental"`
	Question QuestionStatus  `json:"question"`
	Rest     RestStatus      `json:"rest"`
}

// NewScheduler builds the scheduler. No timers run until chats speak.
func NewScheduler(opts Options) *Scheduler {
	clk := opts.Clock
	if clk == nil {
		clk = clock.System()
	}
	s := &Scheduler{
		clock:    clk,
		states:   opts.States,
		rest:     opts.Rest,
		tracker:  opts.Tracker,
		check:    opts.StateCheck,
		stale:    opts.StateStale,
		cooldown: opts.PromptCooldown,
		followUp: opts.QuestionFollowUp,
		handler:  opts.Handler,
		chats:    make(map[int64]*chatTimers),
	}
	if s.check <= 0 {
		s.check = DefaultStateCheck
	}
	if s.stale <= 0 {
		s.stale = DefaultStateStale
	}
	if s.cooldown <= 0 {
		s.cooldown = DefaultPromptCooldown
	}
	if s.followUp <= 0 {
		s.followUp = DefaultQuestionFollowUp
	}
	return s
}

// SetEventHandler registers the renderer for emitted events.
func (s *Scheduler) SetEventHandler(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// RecordUserMessage clears the pending question and (re)schedules the
// staleness chain for the chat.
func (s *Scheduler) RecordUserMessage(chatID int64, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ct := s.ensureChatLocked(chatID)
	s.clearQuestionLocked(ct)
	s.scheduleStateCheckLocked(chatID, ct)
}

// RecordAgentMessage arms or replaces the pending question when the
// assistant's message asks one.
func (s *Scheduler) RecordAgentMessage(chatID int64, text string) {
	if !strings.ContainsAny(text, "?？") {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ct := s.ensureChatLocked(chatID)
	s.clearQuestionLocked(ct)
	ct.question = &pendingQuestion{text: text, askedAt: s.clock.Now()}
	s.armQuestionLocked(chatID, ct, s.followUp)
}

// Reset drops both chains for the chat.
func (s *Scheduler) Reset(chatID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ct, ok := s.chats[chatID]
	if !ok {
		return
	}
	ct.stateGen++
	if ct.stateTimer != nil {
		ct.stateTimer.Stop()
	}
	s.clearQuestionLocked(ct)
	delete(s.chats, chatID)
}

// Shutdown disarms both chains for every chat. Used at daemon teardown
// so no prompt fires into stores that are already stopping.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ct := range s.chats {
		ct.stateGen++
		if ct.stateTimer != nil {
			ct.stateTimer.Stop()
		}
		s.clearQuestionLocked(ct)
	}
	s.chats = make(map[int64]*chatTimers)
}

// DescribeNextPrompts reports, without side effects on the chains, when
// each prompt would next fire.
func (s *Scheduler) DescribeNextPrompts(chatID int64) Snapshot {
	now := s.clock.Now()
	resting := s.isResting(chatID, now)
	st := s.states.State(chatID, s.hasTracker(chatID), resting)

	var snap Snapshot
	snap.Action.Pending, snap.Action.Due = s.stateDue(chatID, st.Action, st.ActionUpdatedAt, st.ActionPromptedAt, now)
	snap.Action.Value = st.Action
	snap.Mental.Pending, snap.Mental.Due = s.stateDue(chatID, st.Mental, st.MentalUpdatedAt, st.MentalPromptedAt, now)
	snap.Mental.Value = st.Mental

	s.mu.Lock()
	if ct := s.chats[chatID]; ct != nil && ct.question != nil {
		asked := ct.question.askedAt
		due := asked.Add(s.followUp)
		snap.Question = QuestionStatus{Pending: true, Question: ct.question.text, AskedAt: &asked, Due: &due}
	}
	s.mu.Unlock()

	if s.rest != nil {
		if w, ok := s.rest.CurrentWindow(chatID, now, schedule.KindRest); ok {
			end := w.End
			snap.Rest.Active = true
			snap.Rest.CurrentEnd = &end
		}
		if resume, ok := s.rest.NextResumeTime(chatID, now); ok {
			snap.Rest.NextResume = &resume
		}
		if w, ok := s.rest.NextWindow(chatID); ok {
			start, end := w.Start, w.End
			snap.Rest.NextWindowStart = &start
			snap.Rest.NextWindowEnd = &end
			snap.Rest.NextWindowStatus = w.Status
		}
	}
	return snap
}

func (s *Scheduler) ensureChatLocked(chatID int64) *chatTimers {
	ct, ok := s.chats[chatID]
	if !ok {
		ct = &chatTimers{}
		s.chats[chatID] = ct
	}
	return ct
}

// scheduleStateCheckLocked replaces the chat's staleness timer. Caller
// holds the lock.
func (s *Scheduler) scheduleStateCheckLocked(chatID int64, ct *chatTimers) {
	ct.stateGen++
	gen := ct.stateGen
	if ct.stateTimer != nil {
		ct.stateTimer.Stop()
	}
	ct.stateTimer = time.AfterFunc(s.check, func() { s.handleStateCheck(chatID, gen) })
}

func (s *Scheduler) handleStateCheck(chatID int64, gen uint64) {
	s.mu.Lock()
	ct := s.chats[chatID]
	if ct == nil || ct.stateGen != gen {
		s.mu.Unlock()
		return
	}
	s.scheduleStateCheckLocked(chatID, ct)
	handler := s.handler
	s.mu.Unlock()

	now := s.clock.Now()
	if s.isResting(chatID, now) {
		return
	}

	st := s.states.State(chatID, s.hasTracker(chatID), false)
	missing := make([]string, 0, 2)
	if pending, due := s.stateDue(chatID, st.Action, st.ActionUpdatedAt, st.ActionPromptedAt, now); pending && !now.Before(due) {
		missing = append(missing, "action")
	}
	if pending, due := s.stateDue(chatID, st.Mental, st.MentalUpdatedAt, st.MentalPromptedAt, now); pending && !now.Before(due) {
		missing = append(missing, "mental")
	}
	if len(missing) == 0 || handler == nil {
		return
	}

	s.states.MarkPrompt(chatID, contains(missing, "action"), contains(missing, "mental"))
	slog.Debug("State prompt due", "chat_id", chatID, "missing", missing)
	handler(chatID, Event{
		Type:       EventStatePrompt,
		Missing:    missing,
		LastAction: st.Action,
		LastMental: st.Mental,
	})
}

// stateDue reports whether a dimension is pending and when a prompt for
// it is due. The raw staleness threshold is adjusted to the end of any
// rest covering it and floored by the prompt cooldown.
func (s *Scheduler) stateDue(chatID int64, value string, updatedAt, promptedAt *time.Time, now time.Time) (bool, time.Time) {
	threshold := now
	if updatedAt != nil {
		threshold = updatedAt.Add(s.stale)
	}
	due := s.adjustDueForRest(chatID, threshold, now)
	if promptedAt != nil {
		if cooldownDue := promptedAt.Add(s.cooldown); due.Before(cooldownDue) {
			due = cooldownDue
		}
	}
	pending := value == "unknown" || updatedAt == nil || !now.Before(threshold)
	if pending && due.Before(now) {
		due = now
	}
	return pending, due
}

func (s *Scheduler) adjustDueForRest(chatID int64, due, now time.Time) time.Time {
	if s.rest == nil {
		return due
	}
	if w, ok := s.rest.CurrentWindow(chatID, now, schedule.KindRest); ok {
		return w.End
	}
	if w, ok := s.rest.CurrentWindow(chatID, due, schedule.KindRest); ok && w.End.After(due) {
		return w.End
	}
	if stamp, ok := s.rest.RecentCancelledAt(chatID); ok {
		if candidate := stamp.Add(recentCancelGrace); candidate.After(now) {
			return candidate
		}
	}
	return due
}

// armQuestionLocked replaces the question timer. Caller holds the lock
// and guarantees ct.question is set.
func (s *Scheduler) armQuestionLocked(chatID int64, ct *chatTimers, delay time.Duration) {
	ct.questionGen++
	gen := ct.questionGen
	if ct.question.timer != nil {
		ct.question.timer.Stop()
	}
	ct.question.timer = time.AfterFunc(delay, func() { s.handleQuestionTimeout(chatID, gen) })
}

func (s *Scheduler) clearQuestionLocked(ct *chatTimers) {
	ct.questionGen++
	if ct.question != nil && ct.question.timer != nil {
		ct.question.timer.Stop()
	}
	ct.question = nil
}

func (s *Scheduler) handleQuestionTimeout(chatID int64, gen uint64) {
	s.mu.Lock()
	ct := s.chats[chatID]
	if ct == nil || ct.question == nil || ct.questionGen != gen {
		s.mu.Unlock()
		return
	}

	now := s.clock.Now()
	if s.isResting(chatID, now) {
		// Rest absorbs the follow-up: push it to the resume time and keep
		// asked_at so the question does not look freshly re-asked.
		delay := s.followUp
		if resume, ok := s.rest.NextResumeTime(chatID, now); ok {
			delay = resume.Sub(now)
		}
		if delay < minTimerDelay {
			delay = minTimerDelay
		}
		s.armQuestionLocked(chatID, ct, delay)
		s.mu.Unlock()
		return
	}

	ct.question.askedAt = now
	s.armQuestionLocked(chatID, ct, s.followUp)
	text := ct.question.text
	handler := s.handler
	s.mu.Unlock()

	if handler != nil {
		slog.Debug("Question follow-up due", "chat_id", chatID)
		handler(chatID, Event{Type: EventQuestionFollowUp, Question: text})
	}
}

func (s *Scheduler) isResting(chatID int64, when time.Time) bool {
	return s.rest != nil && s.rest.IsResting(chatID, when)
}

func (s *Scheduler) hasTracker(chatID int64) bool {
	return s.tracker != nil && s.tracker.HasActive(chatID)
}

func contains(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}
