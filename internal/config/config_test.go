// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// isolate points HOME at a temp dir and clears EVALCHAT_* variables.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)
	for _, key := range []string{
		"EVALCHAT_SERVER", "EVALCHAT_TOKEN", "EVALCHAT_TOKEN_FILE",
		"EVALCHAT_LOG_LEVEL", "EVALCHAT_LOG_FORMAT", "EVALCHAT_METRICS_ADDR",
	} {
		t.Setenv(key, "")
	}
	return home
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	home := isolate(t)

	cfg, err := Load(filepath.Join(home, "nope.toml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.BaseURL != "http://127.0.0.1:8000" {
		t.Errorf("BaseURL = %q", cfg.Server.BaseURL)
	}
	if cfg.Server.PageSize != 100 || cfg.Server.MaxPages != 20 {
		t.Errorf("paging defaults = %d/%d", cfg.Server.PageSize, cfg.Server.MaxPages)
	}
	wantToken := filepath.Join(home, ".evalchat", "token")
	if cfg.Auth.TokenFile != wantToken {
		t.Errorf("TokenFile = %q, want %q", cfg.Auth.TokenFile, wantToken)
	}
	if cfg.UI.HistoryFile != filepath.Join(home, ".evalchat", "history") {
		t.Errorf("HistoryFile = %q", cfg.UI.HistoryFile)
	}
}

func TestLoad_FileValuesAndPartialDefaults(t *testing.T) {
	isolate(t)
	path := writeConfig(t, `
[server]
base_url = "https://eval.example.com/"
page_size = 50

[log]
level = "debug"
format = "json"

[ui]
default_session = 7
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.BaseURL != "https://eval.example.com" {
		t.Errorf("trailing slash not trimmed: %q", cfg.Server.BaseURL)
	}
	if cfg.Server.PageSize != 50 {
		t.Errorf("PageSize = %d, want 50", cfg.Server.PageSize)
	}
	if cfg.Server.TimeoutSecs != 30 {
		t.Errorf("TimeoutSecs default lost: %d", cfg.Server.TimeoutSecs)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("log = %+v", cfg.Log)
	}
	if cfg.UI.DefaultSession != 7 {
		t.Errorf("DefaultSession = %d", cfg.UI.DefaultSession)
	}
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	isolate(t)
	path := writeConfig(t, "[server]\nbase_ulr = \"http://x\"\n")

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "server.base_ulr") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestLoad_InvalidValuesReportedTogether(t *testing.T) {
	isolate(t)
	path := writeConfig(t, `
[server]
base_url = "ftp://files"
page_size = 5000

[log]
level = "loud"
`)

	_, err := Load(path)
	var verrs ValidateErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected ValidateErrors, got %v", err)
	}
	if len(verrs) != 3 {
		t.Errorf("got %d validation errors, want 3: %v", len(verrs), verrs)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("EVALCHAT_SERVER", "https://env.example.com")
	t.Setenv("EVALCHAT_TOKEN", "  tok-123 \n")
	t.Setenv("EVALCHAT_LOG_LEVEL", "warn")
	t.Setenv("EVALCHAT_METRICS_ADDR", "127.0.0.1:9464")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.BaseURL != "https://env.example.com" {
		t.Errorf("BaseURL = %q", cfg.Server.BaseURL)
	}
	if cfg.Auth.Token != "tok-123" {
		t.Errorf("Token = %q", cfg.Auth.Token)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Level = %q", cfg.Log.Level)
	}
	if cfg.Metrics.Addr != "127.0.0.1:9464" {
		t.Errorf("Metrics.Addr = %q", cfg.Metrics.Addr)
	}
}

func TestSaveTOML_RoundTripWithoutToken(t *testing.T) {
	isolate(t)
	cfg := Default()
	cfg.Server.BaseURL = "https://saved.example.com"
	cfg.Auth.Token = "secret-token"
	if err := fillDefaults(cfg); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := SaveTOML(cfg, path); err != nil {
		t.Fatalf("SaveTOML failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "secret-token") {
		t.Error("environment token was written to disk")
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load after save failed: %v", err)
	}
	if loaded.Server.BaseURL != "https://saved.example.com" {
		t.Errorf("BaseURL = %q", loaded.Server.BaseURL)
	}
}

func TestGetSet(t *testing.T) {
	cfg := Default()

	if err := cfg.Set("server.page_size", "25"); err != nil {
		t.Fatalf("Set page_size: %v", err)
	}
	if err := cfg.Set("log.sampling", "yes"); err != nil {
		t.Fatalf("Set sampling: %v", err)
	}
	if err := cfg.Set("server.requests_per_second", 2.5); err != nil {
		t.Fatalf("Set rps: %v", err)
	}

	v, err := cfg.Get("server.page_size")
	if err != nil {
		t.Fatal(err)
	}
	if v.(int) != 25 {
		t.Errorf("page_size = %v", v)
	}
	if !cfg.Log.Sampling {
		t.Error("sampling not set")
	}
	if cfg.Server.RequestsPerSecond != 2.5 {
		t.Errorf("rps = %v", cfg.Server.RequestsPerSecond)
	}

	for _, bad := range []string{"", "server", "server.nope", "auth.token", "log.level.x"} {
		if _, err := cfg.Get(bad); err == nil {
			t.Errorf("Get(%q) should fail", bad)
		}
	}
	if err := cfg.Set("server.page_size", "many"); err == nil {
		t.Error("Set with non-integer should fail")
	}
}

func TestGetAllKeysResolvable(t *testing.T) {
	cfg := Default()
	for _, key := range GetAllKeys() {
		if _, err := cfg.Get(key); err != nil {
			t.Errorf("GetAllKeys lists %q but Get fails: %v", key, err)
		}
	}
}

func TestCloneIsIndependent(t *testing.T) {
	cfg := Default()
	clone := cfg.Clone()
	clone.Server.BaseURL = "http://changed"
	if cfg.Server.BaseURL == clone.Server.BaseURL {
		t.Error("Clone shares state with original")
	}
}
