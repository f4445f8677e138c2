package stub

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
	"golang.org/x/time/rate"

	"terrachat/pkg/config"
	"terrachat/pkg/logger"
	"terrachat/pkg/wire"
)

// limiterPool hands out one token bucket per bearer credential.
type limiterPool struct {
	mu    sync.Mutex
	m     map[string]*rate.Limiter
	rps   float64
	burst int
}

func (p *limiterPool) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.m == nil {
		p.m = make(map[string]*rate.Limiter)
	}
	if l, ok := p.m[key]; ok {
		return l
	}
	rps := p.rps
	if rps <= 0 {
		rps = 5
	}
	burst := p.burst
	if burst <= 0 {
		burst = 10
	}
	l := rate.NewLimiter(rate.Limit(rps), burst)
	p.m[key] = l
	return l
}

func (p *limiterPool) Allow(key string) bool {
	return p.get(key).Allow()
}

// Server is the development stub backend: the REST surface and the event
// socket the client talks to, with a scripted generation pipeline behind
// them.
type Server struct {
	cfg      config.Config
	store    *Store
	hub      *Hub
	engine   *Engine
	limiters *limiterPool
	upgrader websocket.Upgrader

	mu       sync.Mutex
	projects map[string]struct{}
}

func NewServer(cfg config.Config, store *Store) *Server {
	hub := NewHub()
	return &Server{
		cfg:      cfg,
		store:    store,
		hub:      hub,
		engine:   NewEngine(cfg.Stub, store, hub),
		limiters: &limiterPool{rps: cfg.Stub.RateLimit.RPS, burst: cfg.Stub.RateLimit.Burst},
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		projects: make(map[string]struct{}),
	}
}

// Drain waits for in-flight generation runs to finish; call it after the
// listener stops and before closing the store.
func (s *Server) Drain() {
	s.engine.Drain()
}

// ProjectIDs lists the projects that have been written to, for the
// retention sweeper.
func (s *Server) ProjectIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.projects))
	for id := range s.projects {
		out = append(out, id)
	}
	return out
}

func (s *Server) trackProject(id string) {
	s.mu.Lock()
	s.projects[id] = struct{}{}
	s.mu.Unlock()
}

// Routes builds the full handler tree.
func (s *Server) Routes() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.PathPrefix("/docs/").Handler(httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))
	r.Handle("/openapi.yaml", http.FileServer(http.Dir("./docs")))
	r.HandleFunc("/ws", s.handleWS)

	api := r.PathPrefix("/projects/{projectID}").Subrouter()
	api.Use(s.authMiddleware)
	api.HandleFunc("/terraform-chat/messages", s.handleSendMessage).Methods(http.MethodPost)
	api.HandleFunc("/terraform-chat/clarifications/{threadID}/respond", s.handleRespond).Methods(http.MethodPost)
	api.HandleFunc("/terraform-chat/history", s.handleHistory).Methods(http.MethodGet)
	api.HandleFunc("/terraform-chat/threads", s.handleThreads).Methods(http.MethodGet)
	api.HandleFunc("/generations/{generationID}/files", s.handleFiles).Methods(http.MethodGet)
	return r
}

// authMiddleware checks the bearer credential against the configured token
// list (empty list allows anything non-empty) and applies the per-token
// rate limit.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if tok == "" || tok == r.Header.Get("Authorization") {
			logger.Warn("auth_missing_bearer", "path", r.URL.Path, "headers", logger.SafeHeaders(r.Header))
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if len(s.cfg.Stub.Tokens) > 0 && !s.tokenAllowed(tok) {
			writeError(w, http.StatusUnauthorized, "unknown token")
			return
		}
		if !s.limiters.Allow(tok) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Stub.MaxBodyBytes())
		next.ServeHTTP(w, r)
	})
}

func (s *Server) tokenAllowed(tok string) bool {
	for _, t := range s.cfg.Stub.Tokens {
		if t == tok {
			return true
		}
	}
	return false
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	projectID := mux.Vars(r)["projectID"]
	var req struct {
		ThreadID      string `json:"thread_id"`
		Content       string `json:"content"`
		CorrelationID string `json:"correlation_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	s.trackProject(projectID)
	threadID, genID, err := s.engine.HandleSend(projectID, req.ThreadID, req.Content, req.CorrelationID)
	if err != nil {
		logger.Error("send_message_failed", "project", projectID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to persist message")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"thread_id":     threadID,
		"generation_id": genID,
		"status":        "accepted",
	})
}

func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var req struct {
		Responses map[string]string `json:"responses"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.engine.HandleRespond(vars["projectID"], vars["threadID"], req.Responses); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted"})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	threadID := r.URL.Query().Get("thread_id")
	if threadID == "" {
		writeError(w, http.StatusBadRequest, "thread_id is required")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	msgs, hasMore, err := s.store.ListMessages(threadID, limit, r.URL.Query().Get("before"))
	if err != nil {
		logger.Error("history_failed", "thread", threadID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"thread_id": threadID,
		"messages":  msgs,
		"has_more":  hasMore,
	})
}

func (s *Server) handleThreads(w http.ResponseWriter, r *http.Request) {
	projectID := mux.Vars(r)["projectID"]
	threads, err := s.store.ListThreads(projectID)
	if err != nil {
		logger.Error("list_threads_failed", "project", projectID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list threads")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"threads": threads})
}

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	genID := mux.Vars(r)["generationID"]
	files, ok := s.engine.Files(genID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown generation")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": files})
}

// handleWS upgrades the connection and reads client frames: an auth frame
// first, then project/conversation subscriptions. Everything else is
// ignored.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("ws_upgrade_failed", "error", err)
		return
	}
	c := &client{conn: conn}
	s.hub.add(c)
	defer func() {
		s.hub.remove(c)
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame struct {
			Type      string `json:"type"`
			ProjectID string `json:"project_id"`
			ThreadID  string `json:"thread_id"`
			Auth      struct {
				Token string `json:"token"`
			} `json:"auth"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		switch frame.Type {
		case wire.FrameAuth:
			if len(s.cfg.Stub.Tokens) > 0 && !s.tokenAllowed(frame.Auth.Token) {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad token"),
					time.Now().Add(time.Second))
				return
			}
		case wire.FrameSubscribeProject:
			c.mu.Lock()
			c.project = frame.ProjectID
			c.mu.Unlock()
			logger.Debug("ws_subscribed_project", "project", frame.ProjectID)
		case wire.FrameSubscribeConversation:
			c.mu.Lock()
			c.thread = frame.ThreadID
			c.mu.Unlock()
			logger.Debug("ws_subscribed_thread", "thread", frame.ThreadID)
		}
	}
}

// ListenAndServe runs the stub until ctx is cancelled, then drains with a
// short grace period.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("stub_listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
