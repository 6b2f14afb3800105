// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/evalchat/internal/cache"
	"github.com/jeranaias/evalchat/internal/chat"
	"github.com/jeranaias/evalchat/internal/client"
	"github.com/jeranaias/evalchat/internal/config"
	"github.com/jeranaias/evalchat/internal/model"
)

// isolate points HOME at a temp dir, clears EVALCHAT_* variables and
// returns a config path inside it.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)
	for _, v := range []string{
		"EVALCHAT_SERVER", "EVALCHAT_TOKEN", "EVALCHAT_TOKEN_FILE",
		"EVALCHAT_LOG_LEVEL", "EVALCHAT_LOG_FORMAT", "EVALCHAT_METRICS_ADDR",
	} {
		t.Setenv(v, "")
	}
	return filepath.Join(home, "config.toml")
}

func runCLI(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	root := NewRootCommand(BuildInfo{Version: "test", GitCommit: "abc", BuildDate: "today"})
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func chunk(text string) string {
	b, _ := json.Marshal(map[string]any{"status_code": 200, "message": "chunk", "data": text})
	return string(b)
}

// fakeService serves one session's send and list endpoints.
func fakeService(t *testing.T, status int, listed []map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/sessions/5/messages", r.URL.Path)
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		switch r.Method {
		case http.MethodPost:
			flusher := w.(http.Flusher)
			for _, f := range []string{"[CONNECTING]", chunk("Hel"), chunk("lo "), chunk(" world")} {
				io.WriteString(w, f)
				flusher.Flush()
			}
		case http.MethodGet:
			json.NewEncoder(w).Encode(map[string]any{
				"status_code": 200,
				"message":     "ok",
				"data":        listed,
			})
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

var listedTurn = []map[string]any{
	{"id": 1, "role": "User", "content": "hi", "created_at": "2025-01-02T10:00:00", "session_id": 5},
	{"id": 2, "role": "Assistant", "content": "Hello  world", "created_at": "2025-01-02T10:00:01", "session_id": 5},
}

// =============================================================================
// COMMAND TESTS
// =============================================================================

func TestSend_StreamsReplyToStdout(t *testing.T) {
	cfgPath := isolate(t)
	t.Setenv("EVALCHAT_TOKEN", "tok")
	srv := fakeService(t, http.StatusOK, listedTurn)

	out, _, err := runCLI(t, "", "--config", cfgPath, "--server", srv.URL, "send", "-s", "5", "hi")
	require.NoError(t, err)
	assert.Equal(t, "Hello  world\n", out)
}

func TestSend_ReadsStdin(t *testing.T) {
	cfgPath := isolate(t)
	t.Setenv("EVALCHAT_TOKEN", "tok")
	srv := fakeService(t, http.StatusOK, listedTurn)

	out, _, err := runCLI(t, "hi from a pipe\n", "--config", cfgPath, "--server", srv.URL, "send", "-s", "5")
	require.NoError(t, err)
	assert.Equal(t, "Hello  world\n", out)
}

func TestSend_CredentialRejected(t *testing.T) {
	cfgPath := isolate(t)
	t.Setenv("EVALCHAT_TOKEN", "tok")
	srv := fakeService(t, http.StatusUnauthorized, nil)

	_, _, err := runCLI(t, "", "--config", cfgPath, "--server", srv.URL, "send", "-s", "5", "hi")
	require.Error(t, err)
	assert.True(t, client.IsCredentialInvalid(err))
	assert.Equal(t, ExitAuthError, GetExitCode(err))

	var buf bytes.Buffer
	DisplayError(&buf, err)
	assert.Contains(t, buf.String(), "evalchat token set")
}

func TestSend_RejectedTokenIsCleared(t *testing.T) {
	cfgPath := isolate(t)
	srv := fakeService(t, http.StatusUnauthorized, nil)

	_, _, err := runCLI(t, "stored-token\n", "--config", cfgPath, "token", "set")
	require.NoError(t, err)

	_, _, err = runCLI(t, "", "--config", cfgPath, "--server", srv.URL, "send", "-s", "5", "hi")
	require.Error(t, err)

	out, _, err := runCLI(t, "", "--config", cfgPath, "token", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "no token stored")
}

func TestSend_RequiresSessionAndToken(t *testing.T) {
	cfgPath := isolate(t)

	_, _, err := runCLI(t, "", "--config", cfgPath, "send", "hi")
	assert.Equal(t, ExitUsageError, GetExitCode(err))

	_, _, err = runCLI(t, "", "--config", cfgPath, "send", "-s", "5", "hi")
	assert.ErrorIs(t, err, chat.ErrNoCredential)
	assert.Equal(t, ExitAuthError, GetExitCode(err))
}

func TestHistory_PrintsTranscript(t *testing.T) {
	cfgPath := isolate(t)
	t.Setenv("EVALCHAT_TOKEN", "tok")
	srv := fakeService(t, http.StatusOK, listedTurn)

	out, _, err := runCLI(t, "", "--config", cfgPath, "--server", srv.URL, "history", "-s", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "You:\nhi")
	assert.Contains(t, out, "Assistant:\nHello  world")

	out, _, err = runCLI(t, "", "--config", cfgPath, "--server", srv.URL, "history", "-s", "5", "--last", "1", "--brief")
	require.NoError(t, err)
	assert.Equal(t, "Assistant: Hello  world\n", out)
}

func TestToken_SetShowClear(t *testing.T) {
	cfgPath := isolate(t)

	out, _, err := runCLI(t, "", "--config", cfgPath, "token", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "no token stored")

	out, _, err = runCLI(t, "secret-token\n", "--config", cfgPath, "token", "set")
	require.NoError(t, err)
	assert.Contains(t, out, "token saved")

	out, _, err = runCLI(t, "", "--config", cfgPath, "token", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "sha256:")
	assert.NotContains(t, out, "secret-token")

	_, _, err = runCLI(t, "", "--config", cfgPath, "token", "clear")
	require.NoError(t, err)
	out, _, err = runCLI(t, "", "--config", cfgPath, "token", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "no token stored")

	_, _, err = runCLI(t, "   \n", "--config", cfgPath, "token", "set")
	assert.Equal(t, ExitAuthError, GetExitCode(err))
}

func TestConfig_SetGet(t *testing.T) {
	cfgPath := isolate(t)

	_, _, err := runCLI(t, "", "--config", cfgPath, "config", "set", "server.page_size", "50")
	require.NoError(t, err)

	out, _, err := runCLI(t, "", "--config", cfgPath, "config", "get", "server.page_size")
	require.NoError(t, err)
	assert.Equal(t, "50\n", out)

	out, _, err = runCLI(t, "", "--config", cfgPath, "config", "path")
	require.NoError(t, err)
	assert.Equal(t, cfgPath+"\n", out)

	_, _, err = runCLI(t, "", "--config", cfgPath, "config", "set", "server.page_size", "0")
	assert.Equal(t, ExitConfigError, GetExitCode(err))

	_, _, err = runCLI(t, "", "--config", cfgPath, "config", "get", "server.nope")
	assert.Equal(t, ExitUsageError, GetExitCode(err))
}

func TestGlobalFlags_InvalidServer(t *testing.T) {
	cfgPath := isolate(t)
	_, _, err := runCLI(t, "", "--config", cfgPath, "--server", "ftp://example.com", "config", "show")
	assert.Equal(t, ExitConfigError, GetExitCode(err))
}

func TestVersion(t *testing.T) {
	isolate(t)
	out, _, err := runCLI(t, "", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "evalchat test (commit abc, built today")
}

// =============================================================================
// HELPER TESTS
// =============================================================================

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, ExitSuccess},
		{errors.New("boom"), ExitGeneralError},
		{&ValidationError{Field: "session", Reason: "required"}, ExitUsageError},
		{&ConfigError{Path: "x", Err: errors.New("bad")}, ExitConfigError},
		{fmt.Errorf("wrapped: %w", config.ValidateErrors{{Field: "a", Message: "b"}}), ExitConfigError},
		{client.ErrCredentialInvalid, ExitAuthError},
		{&client.StreamError{Err: &client.ClientError{Type: client.ErrTypeConnection, Message: "reset"}}, ExitNetworkError},
		{client.ErrTimeout, ExitTimeoutError},
		{client.ErrReaderUnavailable, ExitNetworkError},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, GetExitCode(tc.err), "%v", tc.err)
	}
}

func TestMessageText(t *testing.T) {
	text, err := messageText(strings.NewReader("ignored"), []string{"hello", "there"})
	require.NoError(t, err)
	assert.Equal(t, "hello there", text)

	text, err = messageText(strings.NewReader("from stdin\n"), []string{"-"})
	require.NoError(t, err)
	assert.Equal(t, "from stdin\n", text)

	_, err = messageText(strings.NewReader("  \n"), nil)
	assert.Equal(t, ExitUsageError, GetExitCode(err))
}

func TestStreamPrinter_WritesSuffixes(t *testing.T) {
	key := cache.SessionKey{Credential: "tok", SessionID: 5}
	var buf bytes.Buffer
	p := newStreamPrinter(&buf, key)

	snap := func(version uint64, text string, streaming bool) cache.Snapshot {
		return cache.Snapshot{Key: key, Version: version, Messages: []model.Message{
			{Sender: model.SenderUser, Text: "q"},
			{Sender: model.SenderBot, Text: text, IsStreaming: streaming},
		}}
	}

	p.Observe(snap(1, "Hel", true))
	p.Observe(snap(2, "Hello ", true))
	p.Observe(snap(2, "Hello again", true)) // stale version
	p.Observe(cache.Snapshot{Key: cache.SessionKey{Credential: "tok", SessionID: 6}, Version: 3,
		Messages: []model.Message{{Sender: model.SenderBot, Text: "other", IsStreaming: true}}})
	p.Observe(snap(4, "Hello  world", true))
	p.Observe(snap(5, "Hello  world", false))

	assert.Equal(t, "Hello  world", buf.String())
	assert.Equal(t, "Hello  world", p.Printed())
}
