package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const workers = 50

func serve(t *testing.T, h http.Handler, path string) (int, healthResponse) {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, http.NoBody))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp healthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return w.Code, resp
}

func TestChecker_Transitions(t *testing.T) {
	hc := NewChecker()
	assert.Equal(t, "starting", hc.State())
	assert.False(t, hc.IsReady())

	hc.SetReady()
	assert.Equal(t, "ready", hc.State())
	assert.True(t, hc.IsReady())

	hc.SetDraining()
	assert.Equal(t, "draining", hc.State())
	assert.False(t, hc.IsReady())
}

func TestLivenessHandler(t *testing.T) {
	hc := NewChecker()
	hc.AddCheck("database", func(context.Context) error { return errors.New("down") })

	// Liveness ignores both the state and failing checks.
	for _, set := range []func(){func() {}, hc.SetReady, hc.SetDraining} {
		set()
		code, resp := serve(t, hc.LivenessHandler(), "/healthz")
		assert.Equal(t, http.StatusOK, code, hc.State())
		assert.Equal(t, "ok", resp.Status)
	}
}

func TestReadinessHandler(t *testing.T) {
	failing := func(context.Context) error { return errors.New("connection refused") }
	passing := func(context.Context) error { return nil }

	tests := []struct {
		name       string
		ready      bool
		draining   bool
		checks     map[string]CheckFunc
		wantCode   int
		wantStatus string
		wantFailed map[string]string
	}{
		{
			name:       "starting",
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "starting",
		},
		{
			name:       "ready without checks",
			ready:      true,
			wantCode:   http.StatusOK,
			wantStatus: "ready",
		},
		{
			name:       "ready with passing checks",
			ready:      true,
			checks:     map[string]CheckFunc{"database": passing, "run history": passing},
			wantCode:   http.StatusOK,
			wantStatus: "ready",
		},
		{
			name:       "catalog database unreachable",
			ready:      true,
			checks:     map[string]CheckFunc{"database": failing, "run history": passing},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "degraded",
			wantFailed: map[string]string{"database": "connection refused"},
		},
		{
			name:       "draining skips checks",
			ready:      true,
			draining:   true,
			checks:     map[string]CheckFunc{"database": failing},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "draining",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hc := NewChecker()
			for name, fn := range tt.checks {
				hc.AddCheck(name, fn)
			}
			if tt.ready {
				hc.SetReady()
			}
			if tt.draining {
				hc.SetDraining()
			}

			code, resp := serve(t, hc.ReadinessHandler(), "/readyz")
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Equal(t, tt.wantFailed, resp.Failed)
		})
	}
}

func TestCheck_AppliesTimeout(t *testing.T) {
	hc := NewChecker()
	hc.AddCheck("database", func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			return errors.New("no deadline")
		}
		return nil
	})
	assert.Empty(t, hc.Check(context.Background()))
}

func TestCheck_ReplacesCheckByName(t *testing.T) {
	hc := NewChecker()
	hc.AddCheck("database", func(context.Context) error { return errors.New("stale") })
	hc.AddCheck("database", func(context.Context) error { return nil })
	assert.Empty(t, hc.Check(context.Background()))
}

func TestChecker_ConcurrentAccess(t *testing.T) {
	hc := NewChecker()
	hc.AddCheck("database", func(context.Context) error { return nil })

	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				hc.SetReady()
			} else {
				hc.SetDraining()
			}
		}()
		go func() {
			defer wg.Done()
			_ = hc.Check(context.Background())
			_ = hc.State()
		}()
	}
	wg.Wait()

	assert.Contains(t, []string{"ready", "draining"}, hc.State())
}
