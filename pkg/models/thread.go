package models

// Thread is one conversation scope. A thread with an empty ID is a
// client-only placeholder ("new chat") that is promoted to a real thread
// the first time the server returns a thread id for a sent message.
type Thread struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Title     string `json:"title,omitempty"`
	// Created timestamp (ns)
	CreatedTS int64 `json:"created_ts,omitempty"`
	// Last message timestamp (ns)
	LastMessageTS int64 `json:"last_message_ts,omitempty"`
	MessageCount  int   `json:"message_count,omitempty"`
}
