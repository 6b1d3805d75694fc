package domain

import "time"

// Role author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn one text message of a persisted agent conversation.
type Turn struct {
	Role    Role      `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// Thread conversation state of the agent keyed by a stable identifier.
type Thread struct {
	ID    string `json:"id"`
	Turns []Turn `json:"turns"`
}

// Trim keeps at most limit most recent turns. limit <= 0 keeps everything.
func (t *Thread) Trim(limit int) {
	if limit <= 0 || len(t.Turns) <= limit {
		return
	}
	t.Turns = append([]Turn(nil), t.Turns[len(t.Turns)-limit:]...)
}
