package stub

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"terrachat/pkg/config"
	"terrachat/pkg/logger"
	"terrachat/pkg/models"
	"terrachat/pkg/wire"
)

// Engine plays back a scripted generation run for every message it
// receives: persist the user turn, optionally ask a clarification round,
// then stream progress events and finish with a completion. Events are
// emitted in both envelope shapes the real backend has used so clients
// must handle both.
type Engine struct {
	cfg   config.StubConfig
	store *Store
	hub   *Hub

	// wg tracks in-flight generation runs so Drain can wait them out
	// before the store closes underneath them.
	wg sync.WaitGroup

	mu sync.Mutex
	// pending clarification questions keyed by thread id
	pending map[string][]models.ClarificationQuestion
	// drafts holds the message content a clarification round interrupted
	drafts map[string]string
	files  map[string][]models.GeneratedFile
}

func NewEngine(cfg config.StubConfig, store *Store, hub *Hub) *Engine {
	return &Engine{
		cfg:     cfg,
		store:   store,
		hub:     hub,
		pending: make(map[string][]models.ClarificationQuestion),
		drafts:  make(map[string]string),
		files:   make(map[string][]models.GeneratedFile),
	}
}

// HandleSend persists a user message, minting a thread when the request
// carries none, and kicks off the scripted flow.
func (e *Engine) HandleSend(projectID, threadID, content, correlationID string) (string, string, error) {
	now := time.Now().UnixNano()
	if threadID == "" {
		threadID = "thr-" + uuid.NewString()
		title := content
		if len(title) > 48 {
			title = title[:48]
		}
		if err := e.store.SaveThread(projectID, models.Thread{
			ID:        threadID,
			ProjectID: projectID,
			Title:     title,
			CreatedTS: now,
		}); err != nil {
			return "", "", err
		}
		logger.Info("thread_created", "project", projectID, "thread", threadID)
	}

	msg := models.Message{
		ID:            "msg-" + uuid.NewString(),
		ThreadID:      threadID,
		Type:          models.MessageUser,
		Content:       content,
		TS:            now,
		Status:        models.StatusCompleted,
		CorrelationID: correlationID,
	}
	if err := e.store.SaveMessage(msg); err != nil {
		return "", "", err
	}
	if th, err := e.store.GetThread(projectID, threadID); err == nil {
		th.LastMessageTS = now
		th.MessageCount++
		e.store.SaveThread(projectID, th)
	}

	// echo the persisted copy so the client can retire its optimistic
	// one; the message nests under its own key because the envelope
	// already owns "type"
	e.hub.Broadcast(projectID, threadID, map[string]any{
		"type":      wire.EvNewMessage,
		"thread_id": threadID,
		"message":   msg,
	})
	e.hub.Broadcast(projectID, threadID, map[string]any{
		"type":      wire.EvChatProcessing,
		"thread_id": threadID,
	})

	script := e.cfg.Generation
	e.mu.Lock()
	_, awaiting := e.pending[threadID]
	e.mu.Unlock()
	if script.ClarifyFirst && len(script.Questions) > 0 && !awaiting {
		e.askClarification(projectID, threadID, content, script.Questions)
		return threadID, "", nil
	}

	genID := "gen-" + uuid.NewString()
	e.startGeneration(projectID, threadID, genID)
	return threadID, genID, nil
}

// HandleRespond validates the answers against the pending round and, when
// complete, resumes the interrupted generation.
func (e *Engine) HandleRespond(projectID, threadID string, responses map[string]string) error {
	e.mu.Lock()
	questions, ok := e.pending[threadID]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("no pending clarification for thread %s", threadID)
	}
	for _, q := range questions {
		if responses[q.ID] == "" {
			return fmt.Errorf("question %s is unanswered", q.ID)
		}
	}
	e.mu.Lock()
	delete(e.pending, threadID)
	delete(e.drafts, threadID)
	e.mu.Unlock()
	logger.Info("clarification_resolved", "thread", threadID, "answers", len(responses))

	genID := "gen-" + uuid.NewString()
	e.startGeneration(projectID, threadID, genID)
	return nil
}

func (e *Engine) startGeneration(projectID, threadID, genID string) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runGeneration(projectID, threadID, genID)
	}()
}

// Drain blocks until every in-flight generation run has finished. Call it
// before closing the store.
func (e *Engine) Drain() {
	e.wg.Wait()
}

// Files returns the output of a finished generation.
func (e *Engine) Files(generationID string) ([]models.GeneratedFile, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	f, ok := e.files[generationID]
	return f, ok
}

func (e *Engine) askClarification(projectID, threadID, content string, questions []string) {
	qs := make([]models.ClarificationQuestion, 0, len(questions))
	payload := make([]map[string]any, 0, len(questions))
	for i, q := range questions {
		id := fmt.Sprintf("q%d", i+1)
		qs = append(qs, models.ClarificationQuestion{ID: id, Question: q})
		payload = append(payload, map[string]any{"id": id, "question": q})
	}
	e.mu.Lock()
	e.pending[threadID] = qs
	e.drafts[threadID] = content
	e.mu.Unlock()

	// wrapped envelope shape
	e.hub.Broadcast(projectID, threadID, map[string]any{
		"event_type": wire.EvClarificationNeeded,
		"data": map[string]any{
			"thread_id":       threadID,
			"questions":       payload,
			"context_summary": "Need a few details before generating.",
		},
	})
	logger.Info("clarification_asked", "thread", threadID, "questions", len(qs))
}

// runGeneration streams the scripted progress sequence, alternating the
// envelope shape per step, and records the script's files under the
// generation id before announcing completion.
func (e *Engine) runGeneration(projectID, threadID, genID string) {
	script := e.cfg.Generation
	steps := script.Steps
	if len(steps) == 0 {
		steps = []string{"Analyzing requirements", "Generating resources", "Validating plan"}
	}
	delay := script.StepDelayOr(200 * time.Millisecond)

	e.hub.Broadcast(projectID, threadID, map[string]any{
		"type":          wire.EvGenerationStarting,
		"thread_id":     threadID,
		"generation_id": genID,
		"current_step":  steps[0],
	})

	for i, step := range steps {
		time.Sleep(delay)
		pct := float64(i+1) / float64(len(steps)+1) * 100
		if i%2 == 0 {
			e.hub.Broadcast(projectID, threadID, map[string]any{
				"type":                wire.EvGenerationProgress,
				"thread_id":           threadID,
				"generation_id":       genID,
				"progress_percentage": pct,
				"current_step":        step,
			})
		} else {
			e.hub.Broadcast(projectID, threadID, map[string]any{
				"event_type": wire.EvGenerationProgressV2,
				"data": map[string]any{
					"thread_id":     threadID,
					"generation_id": genID,
					"progress":      pct,
					"current_step":  step,
				},
			})
		}
	}

	paths := script.Files
	if len(paths) == 0 {
		paths = []string{"main.tf", "variables.tf", "outputs.tf"}
	}
	files := make([]models.GeneratedFile, 0, len(paths))
	for _, p := range paths {
		content := fmt.Sprintf("# %s\n# generated by terrachat-stub (%s)\n", p, genID)
		files = append(files, models.GeneratedFile{
			Path:    p,
			Size:    int64(len(content)),
			Content: content,
		})
	}
	e.mu.Lock()
	e.files[genID] = files
	e.mu.Unlock()

	summary := fmt.Sprintf("Generated Terraform configuration (%d files).", len(files))
	now := time.Now().UnixNano()
	if err := e.store.SaveMessage(models.Message{
		ID:           "msg-" + uuid.NewString(),
		ThreadID:     threadID,
		Type:         models.MessageGeneration,
		Content:      summary,
		TS:           now,
		Status:       models.StatusCompleted,
		GenerationID: genID,
	}); err != nil {
		logger.Warn("generation_result_persist_failed", "thread", threadID, "error", err)
	}
	e.hub.Broadcast(projectID, threadID, map[string]any{
		"type":          wire.EvGenerationCompleted,
		"thread_id":     threadID,
		"generation_id": genID,
		"summary":       summary,
	})
	logger.Info("generation_completed", "thread", threadID, "generation", genID)
}
