//go:build integration

package integration

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
)

// TempDBPath creates a temporary database path for testing
func TempDBPath(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	return filepath.Join(dir, "history.db")
}

// TempConfigPath creates a temporary config file path for testing
func TempConfigPath(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	return filepath.Join(dir, "config.toml")
}

// fakeBackend serves a healing run that passes after a fixed number of
// status polls.
type fakeBackend struct {
	*httptest.Server
	polls     atomic.Int32
	passAfter int32
}

func newFakeBackend(t *testing.T, passAfter int32) *fakeBackend {
	t.Helper()
	fb := &fakeBackend{passAfter: passAfter}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/heal-repository", func(w http.ResponseWriter, r *http.Request) {
		writeBody(w, map[string]string{"run_id": "run-42"})
	})
	mux.HandleFunc("GET /api/status/{id}", func(w http.ResponseWriter, r *http.Request) {
		n := fb.polls.Add(1)
		status := map[string]any{
			"current_step": "ANALYZE",
			"source_files": []string{"app.py", "utils.py"},
			"applied_fixes": []map[string]any{
				{"file": "app.py", "line": 4, "bug_type": "SYNTAX", "commit_message": "[AI-AGENT] Fix missing colon", "status": "Fixed"},
			},
			"cicd_timeline": []map[string]any{
				{"iteration": 1, "status": "failed", "timestamp": "2026-03-01T12:00:00Z", "details": "1 test failing"},
			},
		}
		if n >= fb.passAfter {
			status["status"] = "PASSED"
			status["cicd_timeline"] = append(status["cicd_timeline"].([]map[string]any),
				map[string]any{"iteration": 2, "status": "passed", "timestamp": "2026-03-01T12:01:00Z"})
		}
		writeBody(w, status)
	})
	mux.HandleFunc("GET /api/results/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeBody(w, map[string]any{"final_status": "PASSED", "time_taken_seconds": 95.5, "total_fixes": 1})
	})
	mux.HandleFunc("GET /api/webllm/pending/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	fb.Server = httptest.NewServer(mux)
	t.Cleanup(fb.Close)
	return fb
}

func writeBody(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// createTestConfig writes a config pointing at baseURL with fast polling
func createTestConfig(t *testing.T, baseURL, dbPath string) string {
	t.Helper()
	configPath := TempConfigPath(t)

	config := `[api]
base_url = "` + baseURL + `"
poll_interval = "50ms"
timeout = "5s"

[inference]
provider = "gemini"
model = "gemini-2.5-flash"
poll_interval = "50ms"

[history]
enabled = true
database_path = "` + dbPath + `"

[notifications]
desktop = false

[log]
level = "debug"

[[schedule.job]]
name = "nightly"
cron = "0 2 * * *"
repo_url = "https://github.com/acme/widgets"
team_name = "Rift"
leader_name = "Ana"
mode = "api"
`

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		t.Fatalf("Failed to create config dir: %v", err)
	}
	if err := os.WriteFile(configPath, []byte(config), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return configPath
}
