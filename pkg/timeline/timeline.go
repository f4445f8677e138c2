// Package timeline holds a conversation's message list. It is append-only
// and insertion-ordered: display order is arrival order, not server
// timestamp order, and no resequencing of out-of-order stream events is
// attempted.
package timeline

import (
	"sync"

	"terrachat/pkg/logger"
	"terrachat/pkg/models"
)

// Store merges three message sources for one visible conversation:
// optimistic local echoes, the persisted history fetch, and live stream
// inserts. It never holds two entries with the same non-empty id.
type Store struct {
	mu   sync.Mutex
	msgs []models.Message
	ids  map[string]struct{}
}

func NewStore() *Store {
	return &Store{ids: map[string]struct{}{}}
}

// Append adds a message at the end. A message whose non-empty id is already
// present is dropped; the stream can deliver the same event twice around a
// reconnect.
func (s *Store) Append(m models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.append(m)
}

// Reconcile replaces the optimistic copy of a user message with its
// server-persisted form. A server message echoing a correlation id matches
// only the pending entry carrying that id; the content-equality heuristic
// applies solely when no correlation id was echoed, so two pending
// messages with identical text cannot steal each other's ack.
func (s *Store) Reconcile(server models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, m := range s.msgs {
		if m.Status != models.StatusPending {
			continue
		}
		var matched bool
		if server.CorrelationID != "" {
			matched = m.CorrelationID == server.CorrelationID
		} else {
			matched = m.Local() && m.Content == server.Content
		}
		if matched {
			delete(s.ids, m.ID)
			s.msgs = append(s.msgs[:i], s.msgs[i+1:]...)
			break
		}
	}
	s.append(server)
}

// ReplaceAll swaps in a thread's persisted history; used when switching
// threads. Order is whatever the server returned.
func (s *Store) ReplaceAll(msgs []models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = s.msgs[:0]
	s.ids = map[string]struct{}{}
	for _, m := range msgs {
		s.append(m)
	}
}

// PrependPage merges an older history page in front of the visible
// messages. Already-visible entries keep their positions; duplicates from
// page overlap are skipped.
func (s *Store) PrependPage(older []models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fresh := make([]models.Message, 0, len(older))
	for _, m := range older {
		if m.ID != "" {
			if _, dup := s.ids[m.ID]; dup {
				continue
			}
			s.ids[m.ID] = struct{}{}
		}
		fresh = append(fresh, m)
	}
	s.msgs = append(fresh, s.msgs...)
}

// PromoteThread stamps a freshly minted thread id onto entries that were
// created against the empty placeholder thread. This is the path that turns
// a "new chat" into a real thread without refetching the list.
func (s *Store) PromoteThread(threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.msgs {
		if s.msgs[i].ThreadID == "" {
			s.msgs[i].ThreadID = threadID
		}
	}
}

// Snapshot returns a copy of the current timeline.
func (s *Store) Snapshot() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

// Len returns the number of visible messages.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

func (s *Store) append(m models.Message) {
	if m.ID != "" {
		if _, dup := s.ids[m.ID]; dup {
			logger.Debug("timeline_duplicate_dropped", "id", m.ID)
			return
		}
		s.ids[m.ID] = struct{}{}
	}
	s.msgs = append(s.msgs, m)
}
