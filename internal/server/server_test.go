package server

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/txn2/mcp-lakejobs/pkg/platform"
	"github.com/txn2/mcp-lakejobs/pkg/store"
)

func testConfig() *platform.Config {
	cfg, _ := platform.ParseConfig([]byte("stores:\n  raw:\n    path: memory://raw\n"))
	return cfg
}

func TestVersion(t *testing.T) {
	if Version != "dev" {
		t.Errorf("expected Version 'dev', got %q", Version)
	}
}

func TestNew(t *testing.T) {
	t.Run("with valid config", func(t *testing.T) {
		s, p, err := New(testConfig())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if s == nil {
			t.Error("expected non-nil server")
		}
		if p == nil {
			t.Fatal("expected non-nil platform")
		}
		if err := p.Close(); err != nil {
			t.Logf("Close() error (non-fatal): %v", err)
		}
	})

	t.Run("sets build-time version when config version is empty", func(t *testing.T) {
		cfg := testConfig()
		_, p, err := New(cfg)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer func() { _ = p.Close() }()

		if cfg.Server.Version != Version {
			t.Errorf("expected version %q, got %q", Version, cfg.Server.Version)
		}
	})

	t.Run("preserves explicit config version", func(t *testing.T) {
		cfg := testConfig()
		cfg.Server.Version = "custom-v1"
		_, p, err := New(cfg)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer func() { _ = p.Close() }()

		if cfg.Server.Version != "custom-v1" {
			t.Errorf("expected version %q, got %q", "custom-v1", cfg.Server.Version)
		}
	})

	t.Run("with unsupported store scheme", func(t *testing.T) {
		cfg := testConfig()
		cfg.Stores["raw"] = store.Descriptor{Path: "ftp://host/raw"}

		if _, _, err := New(cfg); err == nil {
			t.Error("expected error for unsupported scheme")
		}
	})
}

func TestNewWithConfig(t *testing.T) {
	t.Run("valid config file", func(t *testing.T) {
		dir := t.TempDir()
		configPath := filepath.Join(dir, "config.yaml")
		configContent := `
server:
  name: test-lakejobs
stores:
  raw:
    path: memory://raw
  lake:
    path: memory://lake
`
		if err := os.WriteFile(configPath, []byte(configContent), 0o600); err != nil {
			t.Fatalf("failed to write config file: %v", err)
		}

		s, p, err := NewWithConfig(configPath)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if s == nil {
			t.Error("expected non-nil server")
		}
		if p.Config().Server.Name != "test-lakejobs" {
			t.Errorf("expected name test-lakejobs, got %q", p.Config().Server.Name)
		}
		if err := p.Close(); err != nil {
			t.Logf("Close() error (non-fatal): %v", err)
		}
	})

	t.Run("missing config file", func(t *testing.T) {
		_, _, err := NewWithConfig("/nonexistent/path/config.yaml")
		if err == nil {
			t.Error("expected error for missing config file")
		}
	})

	t.Run("invalid config content", func(t *testing.T) {
		dir := t.TempDir()
		configPath := filepath.Join(dir, "config.yaml")
		configContent := `
server:
  transport: websocket
`
		if err := os.WriteFile(configPath, []byte(configContent), 0o600); err != nil {
			t.Fatalf("failed to write config file: %v", err)
		}

		_, _, err := NewWithConfig(configPath)
		if err == nil {
			t.Error("expected error for invalid config")
		}
	})
}

func TestNew_ServesJobTools(t *testing.T) {
	s, p, err := New(testConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer func() { _ = p.Close() }()

	ctx := context.Background()
	st, ct := mcp.NewInMemoryTransports()
	ss, err := s.Connect(ctx, st, nil)
	if err != nil {
		t.Fatalf("server connect: %v", err)
	}
	defer func() { _ = ss.Close() }()

	client := mcp.NewClient(&mcp.Implementation{Name: "server-test", Version: "1.0"}, nil)
	cs, err := client.Connect(ctx, ct, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	defer func() { _ = cs.Close() }()

	res, err := cs.ListTools(ctx, nil)
	if err != nil {
		t.Fatalf("ListTools() error = %v", err)
	}
	got := map[string]bool{}
	for _, tool := range res.Tools {
		got[tool.Name] = true
	}
	for _, want := range []string{"run_job", "list_stores"} {
		if !got[want] {
			t.Errorf("tool %q not registered, have %v", want, got)
		}
	}
}
