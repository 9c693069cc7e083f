package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/txn2/mcp-lakejobs/pkg/job"
	"github.com/txn2/mcp-lakejobs/pkg/platform"
)

func TestParseFlags(t *testing.T) {
	opts, err := parseFlags([]string{"-config", "c.yaml", "-transport", "http", "-address", ":9000", "-job", "j.json"})
	if err != nil {
		t.Fatalf("parseFlags() error = %v", err)
	}
	if opts.configPath != "c.yaml" || opts.transport != "http" || opts.address != ":9000" || opts.jobPath != "j.json" {
		t.Errorf("unexpected options: %+v", opts)
	}

	if _, err := parseFlags([]string{"-unknown"}); err == nil {
		t.Error("expected error for unknown flag")
	}
}

func TestApplyFlagOverrides(t *testing.T) {
	cfg := &platform.Config{Server: platform.ServerConfig{Transport: "stdio", Address: ":8080"}}

	applyFlagOverrides(cfg, serverOptions{})
	if cfg.Server.Transport != "stdio" || cfg.Server.Address != ":8080" {
		t.Errorf("empty flags changed config: %+v", cfg.Server)
	}

	applyFlagOverrides(cfg, serverOptions{transport: "http", address: ":9090"})
	if cfg.Server.Transport != "http" || cfg.Server.Address != ":9090" {
		t.Errorf("flags not applied: %+v", cfg.Server)
	}
}

func TestSetupLogging(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	if err := setupLogging(platform.ServerConfig{LogLevel: "warn", LogFormat: "json"}, &buf); err != nil {
		t.Fatalf("setupLogging() error = %v", err)
	}

	ctx := context.Background()
	logger := slog.Default()
	logger.InfoContext(ctx, "hidden")
	logger.WarnContext(ctx, "shown", "job_id", "j-1")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info message logged at warn level: %s", out)
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &entry); err != nil {
		t.Fatalf("expected one JSON line, got %q: %v", out, err)
	}
	if entry["msg"] != "shown" || entry["job_id"] != "j-1" {
		t.Errorf("unexpected entry: %v", entry)
	}

	if err := setupLogging(platform.ServerConfig{LogLevel: "loud"}, &buf); err == nil {
		t.Error("expected error for invalid level")
	}
}

type stubRunner struct {
	req  job.Request
	resp *job.Response
	err  error
}

func (s *stubRunner) RunJob(_ context.Context, req job.Request) (*job.Response, error) {
	s.req = req
	return s.resp, s.err
}

func TestRunJobFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "job.yaml")
	content := `
source:
  store: raw
  tables:
    - format: csv
      name: orders
      path: orders.csv
sql: SELECT count(*) AS n FROM orders
sink:
  store: lake
  table: order_counts
  save_mode: overwrite
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	runner := &stubRunner{resp: &job.Response{Success: true, JobID: "job-1", RowsWritten: 1}}
	var out bytes.Buffer
	if err := runJobFile(context.Background(), runner, path, &out); err != nil {
		t.Fatalf("runJobFile() error = %v", err)
	}
	if runner.req.Sink.Table != "order_counts" {
		t.Errorf("sink table = %q", runner.req.Sink.Table)
	}

	var resp job.Response
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON output: %v", err)
	}
	if resp.JobID != "job-1" || resp.RowsWritten != 1 {
		t.Errorf("unexpected response: %+v", resp)
	}

	runner.err = errors.New("boom")
	if err := runJobFile(context.Background(), runner, path, &out); err == nil || !strings.Contains(err.Error(), "running job") {
		t.Errorf("runJobFile() error = %v, want running job error", err)
	}

	if err := runJobFile(context.Background(), runner, filepath.Join(t.TempDir(), "missing.yaml"), &out); err == nil {
		t.Error("expected error for missing job file")
	}
}

func TestCorsMiddleware(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := corsMiddleware(inner)

	t.Run("sets CORS headers", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Origin", "https://example.com")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://example.com" {
			t.Errorf("Allow-Origin = %q, want %q", got, "https://example.com")
		}

		methods := w.Header().Get("Access-Control-Allow-Methods")
		for _, m := range []string{"GET", "POST", "DELETE", "OPTIONS"} {
			if !strings.Contains(methods, m) {
				t.Errorf("Allow-Methods missing %q: %s", m, methods)
			}
		}

		allowHeaders := w.Header().Get("Access-Control-Allow-Headers")
		for _, h := range []string{"Mcp-Session-Id", "Mcp-Protocol-Version", "Last-Event-ID"} {
			if !strings.Contains(allowHeaders, h) {
				t.Errorf("Allow-Headers missing %q: %s", h, allowHeaders)
			}
		}

		if exposeHeaders := w.Header().Get("Access-Control-Expose-Headers"); !strings.Contains(exposeHeaders, "Mcp-Session-Id") {
			t.Errorf("Expose-Headers missing Mcp-Session-Id: %s", exposeHeaders)
		}
	})

	t.Run("handles OPTIONS preflight", func(t *testing.T) {
		called := false
		h := corsMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
		req := httptest.NewRequest("OPTIONS", "/mcp", nil)
		req.Header.Set("Origin", "https://example.com")
		w := httptest.NewRecorder()

		h.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("OPTIONS status = %d, want %d", w.Code, http.StatusOK)
		}
		if called {
			t.Error("preflight reached the wrapped handler")
		}
	})

	t.Run("defaults origin to wildcard", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
			t.Errorf("Allow-Origin = %q, want %q", got, "*")
		}
	})
}

func TestServeHTTP_ShutsDownOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := platform.ServerConfig{Address: "127.0.0.1:0", ShutdownTimeout: time.Second}

	done := make(chan error, 1)
	go func() {
		done <- serveHTTP(ctx, cfg, http.NotFoundHandler())
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("serveHTTP() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serveHTTP did not return after cancel")
	}
}

func TestServeHTTP_ListenError(t *testing.T) {
	cfg := platform.ServerConfig{Address: "invalid-address", ShutdownTimeout: time.Second}
	if err := serveHTTP(context.Background(), cfg, http.NotFoundHandler()); err == nil {
		t.Error("expected listen error")
	}
}
