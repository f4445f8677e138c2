// Package clarify holds pending question-and-answer state for the moments
// when the server needs more input before it can generate.
package clarify

import (
	"sync"

	"terrachat/pkg/models"
)

// State is the pending clarification, if any. Open is true while questions
// are awaiting answers.
type State struct {
	Open           bool
	Questions      []models.ClarificationQuestion
	ContextSummary string
	ThreadID       string
}

// Gate captures clarification requests and releases them once the answers
// have been accepted by the server. It never clears optimistically; Clear
// is called only after the respond request resolves.
type Gate struct {
	mu  sync.Mutex
	cur State
}

func NewGate() *Gate {
	return &Gate{}
}

// Capture handles clarification_needed: the flow is no longer treated as
// generating even though the job remains nominally open server-side.
func (g *Gate) Capture(threadID, contextSummary string, questions []models.ClarificationQuestion) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cur = State{
		Open:           true,
		Questions:      append([]models.ClarificationQuestion(nil), questions...),
		ContextSummary: contextSummary,
		ThreadID:       threadID,
	}
}

// Clear drops the pending state after answers were submitted successfully.
func (g *Gate) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cur = State{}
}

// Current returns a copy of the pending state.
func (g *Gate) Current() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := g.cur
	out.Questions = append([]models.ClarificationQuestion(nil), g.cur.Questions...)
	return out
}

// Open reports whether a clarification is pending.
func (g *Gate) Open() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cur.Open
}
