package models

// MessageType classifies a chat turn.
type MessageType string

const (
	MessageUser          MessageType = "user"
	MessageSystem        MessageType = "system"
	MessageAI            MessageType = "ai"
	MessageClarification MessageType = "clarification_request"
	MessageGeneration    MessageType = "generation_result"
)

// MessageStatus is the lifecycle marker of a message.
type MessageStatus string

const (
	StatusPending    MessageStatus = "pending"
	StatusCompleted  MessageStatus = "completed"
	StatusClarifying MessageStatus = "clarifying"
	StatusError      MessageStatus = "error"
)

// LocalIDPrefix marks ids minted client-side for optimistic entries; the
// server replaces them with its own ids once a message is persisted.
const LocalIDPrefix = "temp-"

type Message struct {
	ID       string        `json:"id"`
	ThreadID string        `json:"thread_id"`
	Type     MessageType   `json:"type"`
	Content  string        `json:"content"`
	// TS is the creation timestamp (ns)
	TS     int64         `json:"ts"`
	Status MessageStatus `json:"status,omitempty"`
	// GenerationID back-references the generation job that produced this
	// message, when there is one.
	GenerationID string `json:"generation_id,omitempty"`
	// CorrelationID is minted by the sending client and echoed back by the
	// server so the optimistic copy can be replaced without guessing.
	CorrelationID          string                  `json:"correlation_id,omitempty"`
	ClarificationQuestions []ClarificationQuestion `json:"clarification_questions,omitempty"`
}

// Local reports whether the message id was minted client-side.
func (m Message) Local() bool {
	return len(m.ID) >= len(LocalIDPrefix) && m.ID[:len(LocalIDPrefix)] == LocalIDPrefix
}

// ClarificationQuestion is one question the server needs answered before it
// can generate.
type ClarificationQuestion struct {
	ID       string   `json:"id"`
	Question string   `json:"question"`
	Type     string   `json:"type,omitempty"`
	Options  []string `json:"options,omitempty"`
}
