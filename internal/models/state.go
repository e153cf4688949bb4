// Package models defines state management structures for GramGate auth flows.
package models

import "time"

// Flow identifies one of the multi-step authentication dialogs.
type Flow string

const (
	// FlowRegistration links a chat user to an Instagram profile.
	FlowRegistration Flow = "registration"
	// FlowLogin authenticates against the Instagram account.
	FlowLogin Flow = "login"
	// FlowReset changes the stored Instagram password via a reset token.
	FlowReset Flow = "password_reset"
)

// Stage identifies the step within a flow awaiting a particular reply.
type Stage string

const (
	StageAwaitingUsername     Stage = "AWAITING_USERNAME"
	StageAwaitingConfirmation Stage = "AWAITING_CONFIRMATION"
	StageAwaitingPassword     Stage = "AWAITING_PASSWORD"
	StageAwaitingToken        Stage = "AWAITING_TOKEN"
	StageAwaitingNewPassword  Stage = "AWAITING_NEW_PASSWORD"
)

// Data keys used in ConversationState.Collected.
const (
	DataKeyInstagramUsername = "instagram_username"
)

// ConversationState is the ephemeral record of a user's current flow, stage
// and collected answers. There is at most one per user id at any time; a new
// flow overwrites any existing state. It is never persisted across restarts.
type ConversationState struct {
	UserID    string            `json:"user_id"`
	Flow      Flow              `json:"flow"`
	Stage     Stage             `json:"stage"`
	Collected map[string]string `json:"collected,omitempty"`
	Attempts  int               `json:"attempts"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Touch records activity so the idle-timeout window restarts.
func (s *ConversationState) Touch(now time.Time) {
	s.UpdatedAt = now
}

// Expired reports whether the state has been idle longer than the window.
func (s *ConversationState) Expired(now time.Time, idleWindow time.Duration) bool {
	if idleWindow <= 0 {
		return false
	}
	return now.Sub(s.UpdatedAt) > idleWindow
}
