package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"cityflow/internal/codec"
	"cityflow/internal/config"
	"cityflow/internal/core"
	"cityflow/internal/resultstore"
	"cityflow/internal/types"
)

// buildTestServer creates a server backed by the embedded store in dir,
// seeded with one metric for 2024-05-01.
func buildTestServer(t *testing.T) *core.Server {
	t.Helper()
	dir := t.TempDir()
	setTestEnv(t, dir)

	seed, err := resultstore.Open(dir, codec.New(), nil)
	if err != nil {
		t.Fatalf("opening seed store: %v", err)
	}
	payload := map[string]any{"total": 1234}
	if err := seed.Put(context.Background(), types.KindMetric, "2024-05-01", string(types.MetricDebitJournalier), payload); err != nil {
		t.Fatalf("seeding store: %v", err)
	}
	if err := seed.Close(); err != nil {
		t.Fatalf("closing seed store: %v", err)
	}

	cfg, err := config.LoadConfig(nil)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	srv, err := buildServer(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("buildServer: %v", err)
	}
	t.Cleanup(func() {
		if err := srv.Shutdown(context.Background()); err != nil {
			t.Errorf("Shutdown: %v", err)
		}
	})

	srv.MountRoutes()
	return srv
}

func get(t *testing.T, srv *core.Server, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("GET %s: failed to unmarshal response %q: %v", path, rec.Body.String(), err)
	}
	return rec, resp
}

// TestHealthEndpoint verifies that the wired server reports the embedded
// result store as healthy.
func TestHealthEndpoint(t *testing.T) {
	srv := buildTestServer(t)

	rec, resp := get(t, srv, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /health: got status %d, want %d; body: %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	if resp["status"] != "ok" {
		t.Errorf("GET /health: got status=%v, want 'ok'", resp["status"])
	}
	if resp["result_store"] != "badger" {
		t.Errorf("GET /health: got result_store=%v, want 'badger'", resp["result_store"])
	}
	components, ok := resp["components"].(map[string]any)
	if !ok {
		t.Fatalf("GET /health: missing components in %v", resp)
	}
	store, ok := components["result_store"].(map[string]any)
	if !ok || store["status"] != "healthy" {
		t.Errorf("GET /health: got result_store component %v, want healthy", components["result_store"])
	}
}

// TestResultRoutes verifies that the results handlers are mounted under /v1
// and read from the configured store.
func TestResultRoutes(t *testing.T) {
	srv := buildTestServer(t)

	rec, resp := get(t, srv, "/v1/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /v1/metrics: got status %d; body: %s", rec.Code, rec.Body.String())
	}
	dates, _ := resp["dates"].([]any)
	if len(dates) != 1 || dates[0] != "2024-05-01" {
		t.Errorf("GET /v1/metrics: got dates %v, want [2024-05-01]", resp["dates"])
	}

	rec, resp = get(t, srv, "/v1/metrics/2024-05-01/debit_journalier")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET metric: got status %d; body: %s", rec.Code, rec.Body.String())
	}
	if resp["metric_name"] != "debit_journalier" {
		t.Errorf("GET metric: got metric_name=%v", resp["metric_name"])
	}

	rec, _ = get(t, srv, "/v1/metrics/2024-05-02/debit_journalier")
	if rec.Code != http.StatusNotFound {
		t.Errorf("GET missing metric: got status %d, want %d", rec.Code, http.StatusNotFound)
	}

	rec, _ = get(t, srv, "/v1/nothing")
	if rec.Code != http.StatusNotFound {
		t.Errorf("GET unknown route: got status %d, want %d", rec.Code, http.StatusNotFound)
	}
}

// TestProbe verifies the adapter passes through name and check result.
func TestProbe(t *testing.T) {
	called := false
	p := probe{name: "database", check: func(context.Context) error {
		called = true
		return nil
	}}
	if p.Name() != "database" {
		t.Errorf("Name: got %q", p.Name())
	}
	if err := p.Check(context.Background()); err != nil || !called {
		t.Errorf("Check: err=%v called=%v", err, called)
	}
}

// TestNewLogger verifies that the logger factory handles various log levels.
func TestNewLogger(t *testing.T) {
	tests := []struct {
		level string
	}{
		{"debug"},
		{"info"},
		{"warn"},
		{"error"},
		{"unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger := newLogger(tt.level)
			if logger == nil {
				t.Fatalf("newLogger(%q) returned nil", tt.level)
			}
		})
	}
}

// setTestEnv sets the minimal environment for a local configuration whose
// results live in dir. It uses t.Setenv to ensure cleanup after the test.
func setTestEnv(t *testing.T, dir string) {
	t.Helper()
	t.Setenv("APP_ENV", "local")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("RESULT_STORE_DIR", dir)
	for _, k := range []string{"DATABASE_URL", "S3_RAW_BUCKET", "SQS_RUN_QUEUE"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}
