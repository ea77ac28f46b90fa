package domain

import "context"

// ConversationStore keeps the bounded, expiring per-user message history.
// All methods degrade silently when the backing cache is unreachable:
// Append and Clear become no-ops and History returns an empty slice.
// Conversation continuity is best-effort, not guaranteed.
type ConversationStore interface {
	Append(ctx context.Context, userID int64, userMessage, assistantMessage string)
	History(ctx context.Context, userID int64) []Message
	Clear(ctx context.Context, userID int64)
}

// SettingsReader is the slice of the preference store the router needs to
// resolve a backend for a user.
type SettingsReader interface {
	Provider(userID int64) string
	Model(userID int64) string
	APIKey(userID int64, provider string) (string, bool)
}

// UsageRecorder is a fire-and-forget telemetry sink. Record must never fail
// or block the caller's response path; failures are logged and swallowed.
type UsageRecorder interface {
	Record(ctx context.Context, userID, chatID int64, action, messageType string, messageLen, responseLen int)
}
