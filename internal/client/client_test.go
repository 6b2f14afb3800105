// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/evalchat/internal/model"
	"github.com/jeranaias/evalchat/internal/stream"
)

func chunkJSON(text string) string {
	b, _ := json.Marshal(map[string]any{
		"status_code": 200,
		"message":     "chunk received",
		"data":        text,
	})
	return string(b)
}

func newTestClient(t *testing.T, baseURL string, mutate ...func(*ClientConfig)) *Client {
	t.Helper()
	cfg := DefaultConfig()
	cfg.BaseURL = baseURL
	for _, m := range mutate {
		m(cfg)
	}
	return NewClient(cfg, zerolog.Nop())
}

// streamHandler writes each fragment and flushes, so the client sees them
// as separate reads.
func streamHandler(t *testing.T, fragments ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		require.True(t, ok)
		w.WriteHeader(http.StatusOK)
		for _, f := range fragments {
			io.WriteString(w, f)
			flusher.Flush()
		}
	}
}

// =============================================================================
// SEND TESTS
// =============================================================================

func TestSendMessage_StreamsDeltas(t *testing.T) {
	var gotAuth, gotPath, gotMethod string
	var gotBody sendRequest

	first := chunkJSON("Hel")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		gotMethod = r.Method
		json.NewDecoder(r.Body).Decode(&gotBody)

		streamHandler(t,
			"[CONNECTING]",
			first[:10],
			first[10:]+chunkJSON("lo "),
			chunkJSON(" world")+"\n",
		)(w, r)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	var published []string
	final, err := c.SendMessage(context.Background(), 42, "tok", "hi there", func(text string) {
		published = append(published, text)
	})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/api/v1/sessions/42/messages", gotPath)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "hi there", gotBody.Content)

	assert.Equal(t, []string{"Hel", "Hello ", "Hello  world"}, published)
	assert.Equal(t, "Hello  world", final.Text)
	assert.Equal(t, model.SenderBot, final.Sender)
	assert.True(t, final.Provisional)
	assert.True(t, model.IsLocalID(final.ID))
	assert.False(t, final.IsStreaming)
}

func TestSendMessage_LegacyCompleteMessage(t *testing.T) {
	server := httptest.NewServer(streamHandler(t,
		`{"message":{"assistant_message_content":"All at once","id":981}}`,
	))
	defer server.Close()

	c := newTestClient(t, server.URL)
	final, err := c.SendMessage(context.Background(), 1, "tok", "q", nil)
	require.NoError(t, err)

	assert.Equal(t, "981", final.ID)
	assert.False(t, final.Provisional)
	assert.Equal(t, "All at once", final.Text)
}

func TestSendMessage_UnrecognisedObjectSkipped(t *testing.T) {
	server := httptest.NewServer(streamHandler(t,
		chunkJSON("a")+`{"status_code":200,"message":"keepalive"}`+`{"broken":`,
		`tru}`+chunkJSON("b"),
	))
	defer server.Close()

	c := newTestClient(t, server.URL)
	final, err := c.SendMessage(context.Background(), 1, "tok", "q", nil)
	require.NoError(t, err)
	assert.Equal(t, "ab", final.Text)
}

func TestSendMessage_Unauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"expired"}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.SendMessage(context.Background(), 1, "stale", "q", nil)
	require.Error(t, err)
	assert.True(t, IsCredentialInvalid(err))
	assert.Equal(t, ErrTypeCredentialInvalid, ErrorTypeOf(err))
}

func TestSendMessage_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model backend down", http.StatusBadGateway)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.SendMessage(context.Background(), 1, "tok", "q", nil)

	var ce *ClientError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, ErrTypeStatus, ce.Type)
	assert.Equal(t, http.StatusBadGateway, ce.StatusCode)
	assert.Contains(t, ce.Message, "model backend down")
	assert.False(t, IsCredentialInvalid(err))
}

func TestSendMessage_EmptyBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.SendMessage(context.Background(), 1, "tok", "q", nil)
	assert.True(t, errors.Is(err, ErrReaderUnavailable), "got %v", err)
}

func TestSendMessage_InterruptedStreamKeepsPartial(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Promise more bytes than are sent so the connection ends early.
		w.Header().Set("Content-Length", "100000")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, chunkJSON("partial"))
		w.(http.Flusher).Flush()
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.SendMessage(context.Background(), 1, "tok", "q", nil)

	var se *StreamError
	require.True(t, errors.As(err, &se), "got %v", err)
	assert.Equal(t, "partial", se.Partial)
	assert.Equal(t, ErrTypeConnection, ErrorTypeOf(err))
}

func TestSendMessage_OversizedObjectFailsSend(t *testing.T) {
	// Extra bytes past the limit keep the closing quote out of the read
	// that crosses it.
	unterminated := `{"status_code":200,"message":"chunk received","data":"` + strings.Repeat("x", stream.MaxPendingSize+2*readBufferSize)
	server := httptest.NewServer(streamHandler(t, chunkJSON("ok"), unterminated, `"}`+chunkJSON("lost")))
	defer server.Close()

	var published []string
	c := newTestClient(t, server.URL)
	_, err := c.SendMessage(context.Background(), 1, "tok", "q", func(s string) { published = append(published, s) })

	var se *StreamError
	require.True(t, errors.As(err, &se), "got %v", err)
	assert.Equal(t, "ok", se.Partial)
	assert.ErrorIs(t, err, stream.ErrPendingOverflow)
	assert.Equal(t, ErrTypeInvalidResponse, ErrorTypeOf(err))
	assert.Equal(t, []string{"ok"}, published)
}

func TestSendMessage_CanceledMidStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, chunkJSON("first"))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := newTestClient(t, server.URL)
	_, err := c.SendMessage(ctx, 1, "tok", "q", func(string) { cancel() })
	require.Error(t, err)
	assert.True(t, IsCanceled(err), "got %v", err)
}

func TestSendMessage_Validation(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:1")

	_, err := c.SendMessage(context.Background(), 0, "tok", "q", nil)
	assert.True(t, errors.Is(err, ErrInvalidSessionID))
	assert.False(t, errors.Is(err, ErrMissingCredentials))

	_, err = c.SendMessage(context.Background(), 3, "  ", "q", nil)
	assert.True(t, errors.Is(err, ErrMissingCredentials))
}

func TestSendMessage_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	c := newTestClient(t, url)
	_, err := c.SendMessage(context.Background(), 1, "tok", "q", nil)
	assert.Equal(t, ErrTypeConnection, ErrorTypeOf(err))
}

// =============================================================================
// LISTING TESTS
// =============================================================================

// historyServer serves total messages alternating User/Assistant.
func historyServer(t *testing.T, total int, reportTotal bool, calls *int) *httptest.Server {
	var mu sync.Mutex
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		*calls++
		mu.Unlock()

		assert.Equal(t, http.MethodGet, r.Method)
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		size, _ := strconv.Atoi(r.URL.Query().Get("page_size"))

		var items []map[string]any
		for i := (page - 1) * size; i < page*size && i < total; i++ {
			role := "User"
			if i%2 == 1 {
				role = "Assistant"
			}
			items = append(items, map[string]any{
				"id":         i + 1,
				"role":       role,
				"content":    fmt.Sprintf("m%d", i+1),
				"created_at": "2024-05-01T10:00:00",
				"session_id": 9,
			})
		}
		env := map[string]any{"status_code": 200, "message": "ok", "data": items}
		if reportTotal {
			env["total"] = total
		}
		json.NewEncoder(w).Encode(env)
	}))
}

func TestListMessages_Page(t *testing.T) {
	calls := 0
	server := historyServer(t, 5, true, &calls)
	defer server.Close()

	c := newTestClient(t, server.URL)
	page, err := c.ListMessages(context.Background(), 9, "tok", 2, 2)
	require.NoError(t, err)

	require.Len(t, page.Messages, 2)
	assert.Equal(t, model.FlexibleID("3"), page.Messages[0].ID)
	assert.True(t, page.HasTotal)
	assert.Equal(t, 5, page.Total)
}

func TestListAllMessages_PagesUntilShortPage(t *testing.T) {
	calls := 0
	server := historyServer(t, 5, false, &calls)
	defer server.Close()

	c := newTestClient(t, server.URL, func(cfg *ClientConfig) { cfg.PageSize = 2 })
	msgs, err := c.ListAllMessages(context.Background(), 9, "tok")
	require.NoError(t, err)

	require.Len(t, msgs, 5)
	assert.Equal(t, 3, calls)
	assert.Equal(t, "1", msgs[0].ID)
	assert.Equal(t, model.SenderUser, msgs[0].Sender)
	assert.Equal(t, model.SenderBot, msgs[1].Sender)
	assert.Equal(t, "m5", msgs[4].Text)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), msgs[0].Timestamp.UTC())
}

func TestListAllMessages_StopsAtTotal(t *testing.T) {
	calls := 0
	server := historyServer(t, 4, true, &calls)
	defer server.Close()

	c := newTestClient(t, server.URL, func(cfg *ClientConfig) { cfg.PageSize = 2 })
	msgs, err := c.ListAllMessages(context.Background(), 9, "tok")
	require.NoError(t, err)
	assert.Len(t, msgs, 4)
	assert.Equal(t, 2, calls)
}

func TestListAllMessages_MaxPages(t *testing.T) {
	calls := 0
	server := historyServer(t, 100, false, &calls)
	defer server.Close()

	c := newTestClient(t, server.URL, func(cfg *ClientConfig) {
		cfg.PageSize = 3
		cfg.MaxPages = 2
	})
	msgs, err := c.ListAllMessages(context.Background(), 9, "tok")
	require.NoError(t, err)
	assert.Len(t, msgs, 6)
	assert.Equal(t, 2, calls)
}

func TestListMessages_InvalidResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "<html>gateway</html>")
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.ListMessages(context.Background(), 9, "tok", 1, 10)
	assert.Equal(t, ErrTypeInvalidResponse, ErrorTypeOf(err))
}

func TestListMessages_Unauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.ListAllMessages(context.Background(), 9, "tok")
	assert.True(t, IsCredentialInvalid(err))
}

// =============================================================================
// RATE LIMIT TESTS
// =============================================================================

func TestRateLimiter_WaitBeyondDeadline(t *testing.T) {
	calls := 0
	server := historyServer(t, 1, true, &calls)
	defer server.Close()

	c := newTestClient(t, server.URL, func(cfg *ClientConfig) {
		cfg.RequestsPerSecond = 0.01
		cfg.Burst = 1
	})

	_, err := c.ListMessages(context.Background(), 9, "tok", 1, 10)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.ListMessages(ctx, 9, "tok", 1, 10)
	assert.Equal(t, ErrTypeTimeout, ErrorTypeOf(err))
	assert.Equal(t, 1, calls)
}

func TestStreamError_Message(t *testing.T) {
	err := &StreamError{Partial: "abc", Err: io.ErrUnexpectedEOF}
	assert.Contains(t, err.Error(), "3 chars")
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
}
