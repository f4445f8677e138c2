// Package chat reconciles a conversation's local state against the
// backend: the HTTP request/response cycle that starts work, and the
// asynchronous event stream that reports progress and completion out of
// band. It owns the message timeline, the generation tracker and the
// clarification gate for one visible conversation.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"terrachat/pkg/clarify"
	"terrachat/pkg/logger"
	"terrachat/pkg/models"
	"terrachat/pkg/progress"
	"terrachat/pkg/rest"
	"terrachat/pkg/stream"
	"terrachat/pkg/telemetry"
	"terrachat/pkg/timeline"
	"terrachat/pkg/wire"
)

// ErrNoPendingClarification is returned when answers are submitted while
// no clarification is open.
var ErrNoPendingClarification = errors.New("no pending clarification")

// Notice is a transient user-facing notification; network and request
// errors surface as notices rather than crashing the view.
type Notice struct {
	Level string // "info" or "error"
	Text  string
}

// Config wires a Session.
type Config struct {
	ProjectID string
	API       *rest.Client
	Stream    *stream.Manager
	// HistoryLimit is the page size for history fetches (default 50).
	HistoryLimit int
	// OnNotice observes transient notifications; may be nil.
	OnNotice func(Notice)
}

// Session drives one conversation. Event handlers run on the stream's read
// goroutine; all mutable state is mutex-guarded via the component stores.
type Session struct {
	cfg Config

	Timeline       *timeline.Store
	Progress       *progress.Tracker
	Clarifications *clarify.Gate

	mu           sync.Mutex
	thread       models.Thread
	processing   bool
	generationID string
	hasMore      bool

	ctx context.Context

	now    func() time.Time
	corrID func() string
}

func NewSession(cfg Config) *Session {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 50
	}
	s := &Session{
		cfg:            cfg,
		Timeline:       timeline.NewStore(),
		Progress:       progress.NewTracker(),
		Clarifications: clarify.NewGate(),
		now:            time.Now,
		corrID:         uuid.NewString,
	}
	for name, h := range s.dispatchTable() {
		cfg.Stream.Register(name, h)
	}
	return s
}

// dispatchTable maps every event the backend is known to emit to its
// handler. Routing an event name not listed here means the vocabulary
// changed and this table is the one place to extend.
func (s *Session) dispatchTable() map[string]stream.Handler {
	return map[string]stream.Handler{
		wire.EvChatProcessing:       s.onProcessing,
		wire.EvNewMessage:           s.onNewMessage,
		wire.EvClarificationNeeded:  s.onClarificationNeeded,
		wire.EvGenerationStarting:   s.onGenerationStarting,
		wire.EvGenerationProgress:   s.onGenerationProgress,
		wire.EvGenerationProgressV2: s.onGenerationProgress,
		wire.EvGenerationCompleted:  s.onGenerationCompleted,
		wire.EvGenerationFailed:     s.onGenerationFailed,
		wire.EvGenerationTimeout:    s.onGenerationTimeout,
		wire.EvChatError:            s.onChatError,
	}
}

// Start connects the event stream and keeps it connected until ctx ends.
func (s *Session) Start(ctx context.Context) {
	s.ctx = ctx
	s.cfg.Stream.Start(ctx)
}

// Thread returns the current conversation scope.
func (s *Session) Thread() models.Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.thread
}

// Processing reports whether the server has acknowledged work in flight.
func (s *Session) Processing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processing
}

// HasMore reports whether the last history fetch left older pages on the
// server.
func (s *Session) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMore
}

// NewChat switches to a client-only placeholder thread; the real thread is
// minted by the server on the first send.
func (s *Session) NewChat(title string) {
	s.mu.Lock()
	s.thread = models.Thread{ProjectID: s.cfg.ProjectID, Title: title}
	s.processing = false
	s.generationID = ""
	s.hasMore = false
	s.mu.Unlock()
	s.Timeline.ReplaceAll(nil)
	s.Clarifications.Clear()
}

// SelectThread switches conversations: subscribes the thread channel and
// replaces the timeline with its persisted history.
func (s *Session) SelectThread(ctx context.Context, th models.Thread) error {
	s.mu.Lock()
	s.thread = th
	s.mu.Unlock()
	s.cfg.Stream.SelectThread(th.ID)
	page, err := s.cfg.API.History(ctx, s.cfg.ProjectID, th.ID, s.cfg.HistoryLimit, "")
	if err != nil {
		s.notify("error", "failed to load history: "+err.Error())
		return err
	}
	s.Timeline.ReplaceAll(page.Messages)
	s.mu.Lock()
	s.hasMore = page.HasMore
	s.mu.Unlock()
	return nil
}

// LoadOlder fetches the page older than the oldest visible message and
// merges it without disturbing what is already on screen.
func (s *Session) LoadOlder(ctx context.Context) error {
	snap := s.Timeline.Snapshot()
	if len(snap) == 0 {
		return nil
	}
	s.mu.Lock()
	th := s.thread.ID
	s.mu.Unlock()
	page, err := s.cfg.API.History(ctx, s.cfg.ProjectID, th, s.cfg.HistoryLimit, snap[0].ID)
	if err != nil {
		s.notify("error", "failed to load older messages: "+err.Error())
		return err
	}
	s.Timeline.PrependPage(page.Messages)
	s.mu.Lock()
	s.hasMore = page.HasMore
	s.mu.Unlock()
	return nil
}

// SendMessage appends an optimistic local echo and posts the message.
// Sending on the empty placeholder thread is the path that creates a
// thread: the minted thread_id is retrofitted onto the local thread and
// the just-sent message rather than refetching anything. A failed send
// leaves the optimistic entry in place; there is no automatic retry.
func (s *Session) SendMessage(ctx context.Context, content string) error {
	corr := s.corrID()
	s.mu.Lock()
	threadID := s.thread.ID
	s.mu.Unlock()

	optimistic := models.Message{
		ID:            fmt.Sprintf("%s%d", models.LocalIDPrefix, s.now().UnixNano()),
		ThreadID:      threadID,
		Type:          models.MessageUser,
		Content:       content,
		TS:            s.now().UnixNano(),
		Status:        models.StatusPending,
		CorrelationID: corr,
	}
	s.Timeline.Append(optimistic)

	resp, err := s.cfg.API.SendMessage(ctx, s.cfg.ProjectID, rest.SendMessageRequest{
		ThreadID:      threadID,
		Content:       content,
		CorrelationID: corr,
	})
	if err != nil {
		telemetry.Sends.WithLabelValues("error").Inc()
		s.notify("error", "failed to send message: "+err.Error())
		return err
	}
	telemetry.Sends.WithLabelValues("ok").Inc()

	s.mu.Lock()
	if s.thread.ID == "" && resp.ThreadID != "" {
		s.thread.ID = resp.ThreadID
		s.thread.CreatedTS = s.now().UnixNano()
		s.mu.Unlock()
		s.Timeline.PromoteThread(resp.ThreadID)
		s.cfg.Stream.SelectThread(resp.ThreadID)
		s.mu.Lock()
	}
	s.thread.LastMessageTS = s.now().UnixNano()
	s.thread.MessageCount++
	s.processing = true
	if resp.GenerationID != "" {
		s.generationID = resp.GenerationID
	}
	s.mu.Unlock()
	return nil
}

// RespondToClarification posts the answer map for the pending questions.
// Gate state clears only after the request resolves; answers are not
// validated client-side.
func (s *Session) RespondToClarification(ctx context.Context, answers map[string]string) error {
	st := s.Clarifications.Current()
	if !st.Open {
		return ErrNoPendingClarification
	}
	if err := s.cfg.API.RespondClarification(ctx, s.cfg.ProjectID, st.ThreadID, answers); err != nil {
		s.notify("error", "failed to submit clarification: "+err.Error())
		return err
	}
	s.Clarifications.Clear()
	s.mu.Lock()
	s.processing = true
	s.mu.Unlock()
	return nil
}

func (s *Session) onProcessing(ev wire.Event) {
	s.mu.Lock()
	s.processing = true
	s.mu.Unlock()
}

func (s *Session) onNewMessage(ev wire.Event) {
	// the message usually rides in a nested object so its own "type"
	// field does not clash with the envelope's; older emitters inline
	// the fields next to the envelope instead
	src := ev.Payload
	if nested, ok := ev.Payload["message"].(map[string]any); ok {
		src = nested
	} else if ev.Str("type") == ev.Type {
		// "type" here is the envelope name, not a message classification
		src = make(map[string]any, len(ev.Payload))
		for k, v := range ev.Payload {
			src[k] = v
		}
		delete(src, "type")
	}
	var m models.Message
	b, _ := json.Marshal(src)
	if err := json.Unmarshal(b, &m); err != nil || m.ID == "" {
		logger.Warn("new_message_malformed", "error", err)
		return
	}
	if m.Type == "" {
		m.Type = models.MessageUser
	}
	if m.Status == "" {
		m.Status = models.StatusCompleted
	}
	if m.Type == models.MessageUser {
		// server-persisted copy of something we echoed optimistically
		s.Timeline.Reconcile(m)
		return
	}
	s.Timeline.Append(m)
	s.mu.Lock()
	if m.Type == models.MessageAI || m.Type == models.MessageGeneration {
		s.processing = false
	}
	s.mu.Unlock()
}

func (s *Session) onClarificationNeeded(ev wire.Event) {
	threadID := ev.Str("thread_id")
	questions := parseQuestions(ev.Payload["questions"])
	s.Clarifications.Capture(threadID, ev.Str("context_summary"), questions)
	s.mu.Lock()
	// the job is still nominally open server-side, but the flow is no
	// longer "generating" from the user's point of view
	s.processing = false
	s.mu.Unlock()
	logger.Info("clarification_needed", "thread", threadID, "questions", len(questions))
}

func (s *Session) onGenerationStarting(ev wire.Event) {
	s.mu.Lock()
	if id := ev.Str("generation_id"); id != "" {
		s.generationID = id
	}
	s.mu.Unlock()
	step := ev.Str("current_step")
	if step == "" {
		step = ev.Str("message")
	}
	s.Progress.Begin(step)
}

func (s *Session) onGenerationProgress(ev wire.Event) {
	pct := ev.Num("progress_percentage")
	if _, flat := ev.Payload["progress_percentage"]; !flat {
		pct = ev.Num("progress")
	}
	s.Progress.Update(pct, ev.Str("current_step"), ev.Str("estimated_completion"))
}

// onGenerationCompleted finishes the job: it fetches the output file list
// and appends one summary message. A failed file fetch degrades to a
// summary-only message instead of failing the whole flow.
func (s *Session) onGenerationCompleted(ev wire.Event) {
	s.mu.Lock()
	genID := ev.Str("generation_id")
	if genID == "" {
		genID = s.generationID
	}
	s.generationID = ""
	s.processing = false
	threadID := s.thread.ID
	s.mu.Unlock()

	s.Progress.Complete()

	summary := ev.Str("summary")
	if summary == "" {
		summary = "Generation completed."
	}
	content := summary
	if genID != "" {
		ctx, cancel := context.WithTimeout(s.baseCtx(), 10*time.Second)
		files, err := s.cfg.API.GenerationFiles(ctx, s.cfg.ProjectID, genID)
		cancel()
		if err != nil {
			logger.Warn("generation_files_fetch_failed", "generation", genID, "error", err)
		} else if len(files) > 0 {
			refs := make([]string, 0, len(files))
			for _, f := range files {
				refs = append(refs, "@"+f.Path)
			}
			content = fmt.Sprintf("%s\n\nGenerated %d file(s):\n%s", summary, len(files), strings.Join(refs, "\n"))
		}
	}
	s.Timeline.Append(models.Message{
		ID:           fmt.Sprintf("gen-%d", s.now().UnixNano()),
		ThreadID:     threadID,
		Type:         models.MessageGeneration,
		Content:      content,
		TS:           s.now().UnixNano(),
		Status:       models.StatusCompleted,
		GenerationID: genID,
	})
}

func (s *Session) onGenerationFailed(ev wire.Event) {
	s.terminal(ev, "generation failed", s.Progress.Fail)
}

func (s *Session) onGenerationTimeout(ev wire.Event) {
	s.terminal(ev, "generation timed out", s.Progress.Timeout)
}

func (s *Session) onChatError(ev wire.Event) {
	msg := ev.Str("error")
	if msg == "" {
		msg = ev.Str("message")
	}
	// timeline and progress state stay as-is; the error is transient
	s.notify("error", msg)
}

func (s *Session) terminal(ev wire.Event, fallback string, clear func()) {
	clear()
	s.mu.Lock()
	s.processing = false
	s.generationID = ""
	threadID := s.thread.ID
	s.mu.Unlock()
	msg := ev.Str("error")
	if msg == "" {
		msg = ev.Str("message")
	}
	if msg == "" {
		msg = fallback
	}
	s.Timeline.Append(models.Message{
		ID:       fmt.Sprintf("sys-%d", s.now().UnixNano()),
		ThreadID: threadID,
		Type:     models.MessageSystem,
		Content:  msg,
		TS:       s.now().UnixNano(),
		Status:   models.StatusError,
	})
	s.notify("error", msg)
}

func (s *Session) notify(level, text string) {
	if text == "" {
		return
	}
	logger.Warn("session_notice", "level", level, "text", text)
	if s.cfg.OnNotice != nil {
		s.cfg.OnNotice(Notice{Level: level, Text: text})
	}
}

func (s *Session) baseCtx() context.Context {
	if s.ctx != nil {
		return s.ctx
	}
	return context.Background()
}

// parseQuestions tolerates both payload shapes the backend has used: a
// bare list of question strings, and a list of structured question
// objects.
func parseQuestions(v any) []models.ClarificationQuestion {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]models.ClarificationQuestion, 0, len(list))
	for i, item := range list {
		switch q := item.(type) {
		case string:
			out = append(out, models.ClarificationQuestion{
				ID:       fmt.Sprintf("q%d", i+1),
				Question: q,
			})
		case map[string]any:
			var cq models.ClarificationQuestion
			b, _ := json.Marshal(q)
			if err := json.Unmarshal(b, &cq); err != nil {
				continue
			}
			if cq.ID == "" {
				cq.ID = fmt.Sprintf("q%d", i+1)
			}
			out = append(out, cq)
		}
	}
	return out
}
