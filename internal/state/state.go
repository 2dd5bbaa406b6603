package state

import "time"

// Action values. Free text set via explicit updates is preserved; the
// normalizer only rewrites the three well-known tokens.
const (
	ActionUnknown    = "unknown"
	ActionInProgress = "in_progress"
	ActionResting    = "resting"
)

// MentalUnknown is the default mental dimension value.
const MentalUnknown = "unknown"

// ChatState tracks what a chat's user is doing (action) and how they are
// doing (mental). Each dimension carries its own update and prompt stamps
// so staleness is computed independently.
type ChatState struct {
	Action           string     `json:"action"`
	Mental           string     `json:"mental"`
	ActionUpdatedAt  *time.Time `json:"action_updated_at,omitempty"`
	MentalUpdatedAt  *time.Time `json:"mental_updated_at,omitempty"`
	ActionPromptedAt *time.Time `json:"action_prompted_at,omitempty"`
	MentalPromptedAt *time.Time `json:"mental_prompted_at,omitempty"`
}

func emptyState() ChatState {
	return ChatState{Action: ActionUnknown, Mental: MentalUnknown}
}

// Normalize reconciles the action dimension with the chat's environment:
// whether a reminder tracker is armed and whether a rest window is active.
// Rest wins over everything; a lost tracker degrades in_progress back to
// unknown; a fresh tracker upgrades unknown to in_progress. Free-text
// actions are left alone. Every transition refreshes the update stamp and
// clears the prompt marker, so a transition counts as an update for
// staleness purposes.
func Normalize(st ChatState, trackerActive, resting bool, now time.Time) (ChatState, bool) {
	transition := func(action string) {
		st.Action = action
		t := now
		st.ActionUpdatedAt = &t
		st.ActionPromptedAt = nil
	}

	switch {
	case resting:
		if st.Action != ActionResting {
			transition(ActionResting)
			return st, true
		}
	case st.Action == ActionResting:
		if trackerActive {
			transition(ActionInProgress)
		} else {
			transition(ActionUnknown)
		}
		return st, true
	case st.Action == ActionInProgress && !trackerActive:
		transition(ActionUnknown)
		return st, true
	case trackerActive && st.Action == ActionUnknown:
		transition(ActionInProgress)
		return st, true
	}
	return st, false
}
