package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"terrachat/pkg/models"
	"terrachat/pkg/token"
)

func staticGuard() *token.Guard {
	return token.NewGuard(func(ctx context.Context) (models.TokenData, error) {
		return models.TokenData{AccessToken: "test-token"}, nil
	})
}

func TestSendMessageCarriesBearerToken(t *testing.T) {
	var gotAuth, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		var req SendMessageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "make me a vpc", req.Content)
		_ = json.NewEncoder(w).Encode(SendMessageResponse{ThreadID: "abc123", MessageID: "m1"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, staticGuard())
	out, err := c.SendMessage(context.Background(), "p1", SendMessageRequest{Content: "make me a vpc"})
	require.NoError(t, err)
	require.Equal(t, "abc123", out.ThreadID)
	require.Equal(t, "Bearer test-token", gotAuth)
	require.Equal(t, "/projects/p1/terraform-chat/messages", gotPath)
}

func TestNon2xxIsRequestError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"boom"}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, staticGuard())
	_, err := c.History(context.Background(), "p1", "t1", 50, "")
	var re *RequestError
	require.ErrorAs(t, err, &re)
	require.Equal(t, http.StatusInternalServerError, re.Status)
}

func TestRespondClarificationValidation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/projects/p1/terraform-chat/clarifications/t1/respond", r.URL.Path)
		http.Error(w, `{"error":"missing answer for q2"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, staticGuard())
	err := c.RespondClarification(context.Background(), "p1", "t1", map[string]string{"q1": "eu-west-1"})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestHistoryQueryParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		require.Equal(t, "t1", q.Get("thread_id"))
		require.Equal(t, "25", q.Get("limit"))
		require.Equal(t, "m10", q.Get("before"))
		_ = json.NewEncoder(w).Encode(HistoryPage{ThreadID: "t1", Messages: []models.Message{{ID: "m9"}}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, staticGuard())
	page, err := c.History(context.Background(), "p1", "t1", 25, "m10")
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
}

func TestGenerationFiles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/projects/p1/generations/g7/files", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{"files": []models.GeneratedFile{{Path: "main.tf", Size: 412}}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, staticGuard())
	files, err := c.GenerationFiles(context.Background(), "p1", "g7")
	require.NoError(t, err)
	require.Equal(t, "main.tf", files[0].Path)
}
