// Package rest is the HTTP half of the backend interface: it starts work
// on the server (sending messages, answering clarifications) and fetches
// persisted state (history, generation output). Progress and completion
// arrive out of band over the event stream.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"terrachat/pkg/logger"
	"terrachat/pkg/models"
	"terrachat/pkg/token"
)

// RequestError is a non-2xx HTTP response.
type RequestError struct {
	Status int
	Body   string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request failed: status %d: %s", e.Status, e.Body)
}

// ValidationError is a clarification payload the server rejected.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return "validation failed: " + e.Msg }

// Client calls the project-scoped chat endpoints with a bearer token
// obtained from the guard.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Tokens  *token.Guard
}

func NewClient(baseURL string, guard *token.Guard) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
		Tokens:  guard,
	}
}

// SendMessageRequest starts a chat turn (and possibly a generation job).
type SendMessageRequest struct {
	ThreadID string `json:"thread_id,omitempty"`
	Content  string `json:"content"`
	// CorrelationID is echoed back on the persisted message event so the
	// optimistic copy can be reconciled without content matching.
	CorrelationID string `json:"correlation_id,omitempty"`
}

// SendMessageResponse acknowledges a sent message. ThreadID is always set;
// for a send against the empty placeholder thread it is the freshly minted
// thread id.
type SendMessageResponse struct {
	ThreadID     string `json:"thread_id"`
	MessageID    string `json:"message_id,omitempty"`
	GenerationID string `json:"generation_id,omitempty"`
	Status       string `json:"status,omitempty"`
}

// SendMessage posts a chat message to a project.
func (c *Client) SendMessage(ctx context.Context, projectID string, req SendMessageRequest) (SendMessageResponse, error) {
	var out SendMessageResponse
	p := "/projects/" + url.PathEscape(projectID) + "/terraform-chat/messages"
	if err := c.do(ctx, http.MethodPost, p, nil, req, &out); err != nil {
		return SendMessageResponse{}, err
	}
	return out, nil
}

// RespondClarification posts the answer map for a pending clarification.
// A 400/422 rejection surfaces as *ValidationError.
func (c *Client) RespondClarification(ctx context.Context, projectID, threadID string, responses map[string]string) error {
	p := "/projects/" + url.PathEscape(projectID) + "/terraform-chat/clarifications/" + url.PathEscape(threadID) + "/respond"
	err := c.do(ctx, http.MethodPost, p, nil, map[string]any{"responses": responses}, nil)
	var re *RequestError
	if errors.As(err, &re) && (re.Status == http.StatusBadRequest || re.Status == http.StatusUnprocessableEntity) {
		return &ValidationError{Msg: re.Body}
	}
	return err
}

// HistoryPage is one page of persisted thread history, oldest first within
// the page, as the server returns it.
type HistoryPage struct {
	ThreadID string           `json:"thread_id"`
	Messages []models.Message `json:"messages"`
	HasMore  bool             `json:"has_more,omitempty"`
}

// History fetches persisted messages for a thread. A non-empty before id
// requests the page older than that message ("load more").
func (c *Client) History(ctx context.Context, projectID, threadID string, limit int, before string) (HistoryPage, error) {
	q := url.Values{}
	q.Set("thread_id", threadID)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if before != "" {
		q.Set("before", before)
	}
	var out HistoryPage
	p := "/projects/" + url.PathEscape(projectID) + "/terraform-chat/history"
	if err := c.do(ctx, http.MethodGet, p, q, nil, &out); err != nil {
		return HistoryPage{}, err
	}
	return out, nil
}

// ListThreads fetches the project's conversations.
func (c *Client) ListThreads(ctx context.Context, projectID string) ([]models.Thread, error) {
	var out struct {
		Threads []models.Thread `json:"threads"`
	}
	p := "/projects/" + url.PathEscape(projectID) + "/terraform-chat/threads"
	if err := c.do(ctx, http.MethodGet, p, nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Threads, nil
}

// GenerationFiles fetches the output file list of a completed job.
func (c *Client) GenerationFiles(ctx context.Context, projectID, generationID string) ([]models.GeneratedFile, error) {
	var out struct {
		Files []models.GeneratedFile `json:"files"`
	}
	p := "/projects/" + url.PathEscape(projectID) + "/generations/" + url.PathEscape(generationID) + "/files"
	if err := c.do(ctx, http.MethodGet, p, nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Files, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	tok, err := c.Tokens.GetValidToken(ctx)
	if err != nil {
		return err
	}
	u := c.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		logger.Warn("request_failed", "method", method, "path", path, "status", res.StatusCode)
		return &RequestError{Status: res.StatusCode, Body: string(bytes.TrimSpace(b))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
