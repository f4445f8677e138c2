// Package wire normalizes the event stream's wire shapes. The backend has
// emitted two envelope layouts over its history: a flat object carrying a
// "type" field next to the payload fields, and a wrapped object carrying
// "event_type" plus a nested "data" object. Decode accepts both so callers
// never need to know which one arrived.
package wire

import "encoding/json"

// Event names pushed by the backend over the socket.
const (
	EvChatProcessing       = "terraform_chat_processing"
	EvClarificationNeeded  = "terraform_clarification_needed"
	EvGenerationStarting   = "terraform_generation_starting"
	EvGenerationProgress   = "terraform_generation_progress"
	EvGenerationProgressV2 = "generation_progress"
	EvGenerationCompleted  = "terraform_generation_completed"
	EvGenerationFailed     = "terraform_generation_failed"
	EvGenerationTimeout    = "terraform_generation_timeout"
	EvChatError            = "terraform_chat_error"
	EvNewMessage           = "new_message"
)

// Frame types sent by the client.
const (
	FrameAuth                  = "auth"
	FrameSubscribeProject      = "subscribe_project"
	FrameSubscribeConversation = "subscribe_conversation"
)

// Event is one decoded stream event: its canonical type name and the flat
// payload fields. Payload always contains a "type" key equal to Type.
type Event struct {
	Type    string
	Payload map[string]any
}

// Decode normalizes a raw socket payload into an Event. It returns ok=false
// for frames carrying neither "type" nor "event_type"; callers discard those
// silently.
func Decode(raw []byte) (Event, bool) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return Event{}, false
	}
	if t, ok := m["type"].(string); ok && t != "" {
		return Event{Type: t, Payload: m}, true
	}
	t, ok := m["event_type"].(string)
	if !ok || t == "" {
		return Event{}, false
	}
	payload := map[string]any{}
	if data, ok := m["data"].(map[string]any); ok {
		for k, v := range data {
			payload[k] = v
		}
	}
	payload["type"] = t
	return Event{Type: t, Payload: payload}, true
}

// Str extracts a string field from an event payload, tolerating absence.
func (e Event) Str(key string) string {
	s, _ := e.Payload[key].(string)
	return s
}

// Num extracts a numeric field; JSON numbers decode as float64.
func (e Event) Num(key string) float64 {
	f, _ := e.Payload[key].(float64)
	return f
}

// AuthFrame builds the connect-time authentication frame.
func AuthFrame(token string) []byte {
	b, _ := json.Marshal(map[string]any{
		"type": FrameAuth,
		"auth": map[string]string{"token": token},
	})
	return b
}

// SubscribeProjectFrame builds the project channel subscription frame.
func SubscribeProjectFrame(projectID string) []byte {
	b, _ := json.Marshal(map[string]string{
		"type":       FrameSubscribeProject,
		"project_id": projectID,
	})
	return b
}

// SubscribeConversationFrame builds the thread channel subscription frame.
func SubscribeConversationFrame(threadID string) []byte {
	b, _ := json.Marshal(map[string]string{
		"type":      FrameSubscribeConversation,
		"thread_id": threadID,
	})
	return b
}
