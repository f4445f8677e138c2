package stub

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"terrachat/pkg/config"
	"terrachat/pkg/models"
)

func newTestServer(t *testing.T, mutate func(*config.Config)) (*Server, *httptest.Server) {
	t.Helper()
	cfg := config.Config{}
	cfg.Stub.DBPath = t.TempDir() + "/db"
	cfg.Stub.Generation.StepDelay = "1ms"
	if mutate != nil {
		mutate(&cfg)
	}
	store, err := OpenStore(cfg.Stub.DBPath)
	require.NoError(t, err)
	s := NewServer(cfg, store)
	// scripted runs must finish before the store goes away
	t.Cleanup(func() {
		s.Drain()
		store.Close()
	})
	ts := httptest.NewServer(s.Routes())
	t.Cleanup(ts.Close)
	return s, ts
}

func doJSON(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, rd)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { res.Body.Close() })
	return res
}

func TestAuthRequired(t *testing.T) {
	_, ts := newTestServer(t, nil)
	res := doJSON(t, http.MethodGet, ts.URL+"/projects/p1/terraform-chat/threads", "", nil)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestUnknownTokenRejected(t *testing.T) {
	_, ts := newTestServer(t, func(c *config.Config) {
		c.Stub.Tokens = []string{"good"}
	})
	res := doJSON(t, http.MethodGet, ts.URL+"/projects/p1/terraform-chat/threads", "bad", nil)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res = doJSON(t, http.MethodGet, ts.URL+"/projects/p1/terraform-chat/threads", "good", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
}

func TestRateLimitPerToken(t *testing.T) {
	_, ts := newTestServer(t, func(c *config.Config) {
		c.Stub.RateLimit.RPS = 1
		c.Stub.RateLimit.Burst = 2
	})
	url := ts.URL + "/projects/p1/terraform-chat/threads"
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, url, "tok", nil).StatusCode)
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, url, "tok", nil).StatusCode)
	require.Equal(t, http.StatusTooManyRequests, doJSON(t, http.MethodGet, url, "tok", nil).StatusCode)

	// a different credential has its own bucket
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, url, "other", nil).StatusCode)
}

func TestSendMintsThreadAndPersists(t *testing.T) {
	_, ts := newTestServer(t, nil)
	res := doJSON(t, http.MethodPost, ts.URL+"/projects/p1/terraform-chat/messages", "tok", map[string]any{
		"content":        "build me a vpc",
		"correlation_id": "c1",
	})
	require.Equal(t, http.StatusAccepted, res.StatusCode)
	var ack struct {
		ThreadID     string `json:"thread_id"`
		GenerationID string `json:"generation_id"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&ack))
	require.NotEmpty(t, ack.ThreadID)
	require.NotEmpty(t, ack.GenerationID)

	res = doJSON(t, http.MethodGet, ts.URL+"/projects/p1/terraform-chat/history?thread_id="+ack.ThreadID, "tok", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var page struct {
		Messages []models.Message `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&page))
	require.NotEmpty(t, page.Messages)
	require.Equal(t, "build me a vpc", page.Messages[0].Content)
	require.Equal(t, "c1", page.Messages[0].CorrelationID)
}

func TestSendRejectsEmptyContent(t *testing.T) {
	_, ts := newTestServer(t, nil)
	res := doJSON(t, http.MethodPost, ts.URL+"/projects/p1/terraform-chat/messages", "tok", map[string]any{
		"content": "   ",
	})
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestRespondValidatesAnswers(t *testing.T) {
	srv, ts := newTestServer(t, func(c *config.Config) {
		c.Stub.Generation.ClarifyFirst = true
		c.Stub.Generation.Questions = []string{"which region?", "which size?"}
	})
	res := doJSON(t, http.MethodPost, ts.URL+"/projects/p1/terraform-chat/messages", "tok", map[string]any{
		"content": "build me a vpc",
	})
	require.Equal(t, http.StatusAccepted, res.StatusCode)
	var ack struct {
		ThreadID     string `json:"thread_id"`
		GenerationID string `json:"generation_id"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&ack))
	require.Empty(t, ack.GenerationID, "clarification round defers the generation")

	respond := ts.URL + "/projects/p1/terraform-chat/clarifications/" + ack.ThreadID + "/respond"

	// partial answers are rejected and the round stays pending
	res = doJSON(t, http.MethodPost, respond, "tok", map[string]any{
		"responses": map[string]string{"q1": "eu-west-1"},
	})
	require.Equal(t, http.StatusBadRequest, res.StatusCode)

	res = doJSON(t, http.MethodPost, respond, "tok", map[string]any{
		"responses": map[string]string{"q1": "eu-west-1", "q2": "small"},
	})
	require.Equal(t, http.StatusAccepted, res.StatusCode)

	// no round left to answer
	res = doJSON(t, http.MethodPost, respond, "tok", map[string]any{
		"responses": map[string]string{"q1": "x", "q2": "y"},
	})
	require.Equal(t, http.StatusBadRequest, res.StatusCode)

	// the resumed generation eventually records its files
	require.Eventually(t, func() bool {
		srv.engine.mu.Lock()
		defer srv.engine.mu.Unlock()
		return len(srv.engine.files) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGenerationFilesEndpoint(t *testing.T) {
	srv, ts := newTestServer(t, func(c *config.Config) {
		c.Stub.Generation.Files = []string{"main.tf", "variables.tf"}
	})
	res := doJSON(t, http.MethodPost, ts.URL+"/projects/p1/terraform-chat/messages", "tok", map[string]any{
		"content": "build me a vpc",
	})
	var ack struct {
		GenerationID string `json:"generation_id"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&ack))

	require.Eventually(t, func() bool {
		_, ok := srv.engine.Files(ack.GenerationID)
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	res = doJSON(t, http.MethodGet, ts.URL+"/projects/p1/generations/"+ack.GenerationID+"/files", "tok", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var out struct {
		Files []models.GeneratedFile `json:"files"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	require.Len(t, out.Files, 2)
	require.Equal(t, "main.tf", out.Files[0].Path)
	require.NotEmpty(t, out.Files[0].Content)

	res = doJSON(t, http.MethodGet, ts.URL+"/projects/p1/generations/nope/files", "tok", nil)
	require.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestDrainLetsStoreCloseUnderLoad(t *testing.T) {
	cfg := config.Config{}
	cfg.Stub.DBPath = t.TempDir() + "/db"
	cfg.Stub.Generation.StepDelay = "20ms"
	cfg.Stub.Generation.Steps = []string{"a", "b", "c"}
	store, err := OpenStore(cfg.Stub.DBPath)
	require.NoError(t, err)
	s := NewServer(cfg, store)
	ts := httptest.NewServer(s.Routes())
	defer ts.Close()

	// kick off a run and close the store mid-flight; Drain must let the
	// run finish persisting before the database goes away
	res := doJSON(t, http.MethodPost, ts.URL+"/projects/p1/terraform-chat/messages", "tok", map[string]any{
		"content": "build me a vpc",
	})
	require.Equal(t, http.StatusAccepted, res.StatusCode)

	s.Drain()
	require.NoError(t, store.Close())

	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()
	require.Len(t, s.engine.files, 1, "the drained run completed")
}

func TestHealthzOpen(t *testing.T) {
	_, ts := newTestServer(t, nil)
	res, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
}

func TestPurgeStale(t *testing.T) {
	s := newTestStore(t)
	old := time.Now().Add(-48 * time.Hour).UnixNano()
	require.NoError(t, s.SaveThread("p1", models.Thread{ID: "stale", ProjectID: "p1", LastMessageTS: old}))
	require.NoError(t, s.SaveThread("p1", models.Thread{ID: "fresh", ProjectID: "p1", LastMessageTS: time.Now().UnixNano()}))

	require.NoError(t, purgeStale(s, []string{"p1"}, 24*time.Hour))

	threads, err := s.ListThreads("p1")
	require.NoError(t, err)
	require.Len(t, threads, 1)
	require.Equal(t, "fresh", threads[0].ID)
}
