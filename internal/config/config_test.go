package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Default()

	if cfg.API.BaseURL != "http://localhost:8000/api" {
		t.Errorf("API.BaseURL = %q", cfg.API.BaseURL)
	}
	if cfg.API.PollInterval.Duration != 2*time.Second {
		t.Errorf("API.PollInterval = %v, want 2s", cfg.API.PollInterval)
	}
	if cfg.Web.Addr() != "127.0.0.1:8080" {
		t.Errorf("Web.Addr() = %q", cfg.Web.Addr())
	}
	if cfg.Archive.Enabled() {
		t.Error("archive should be disabled by default")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv(EnvBaseURL, "")
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Inference.Provider != "gemini" {
		t.Errorf("Provider = %q, want gemini", cfg.Inference.Provider)
	}
}

func TestLoad_FromFile(t *testing.T) {
	t.Setenv(EnvBaseURL, "")
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.toml")

	content := `
[api]
base_url = "https://heal.example.com/api"
poll_interval = "500ms"

[inference]
model = "gemini-2.5-pro"
prompt_dirs = ["~/prompts"]

[web]
port = 9000

[[schedule.job]]
name = "nightly"
cron = "0 22 * * *"
repo_url = "https://github.com/acme/widgets"
team_name = "Rift"
leader_name = "Lead"
mode = "webllm"
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.API.BaseURL != "https://heal.example.com/api" {
		t.Errorf("BaseURL = %q", cfg.API.BaseURL)
	}
	if cfg.API.PollInterval.Duration != 500*time.Millisecond {
		t.Errorf("PollInterval = %v, want 500ms", cfg.API.PollInterval)
	}
	if cfg.Inference.Model != "gemini-2.5-pro" {
		t.Errorf("Model = %q", cfg.Inference.Model)
	}
	home, _ := os.UserHomeDir()
	if cfg.Inference.PromptDirs[0] != filepath.Join(home, "prompts") {
		t.Errorf("PromptDirs = %v", cfg.Inference.PromptDirs)
	}
	if cfg.Web.Port != 9000 {
		t.Errorf("Web.Port = %d, want 9000", cfg.Web.Port)
	}
	if cfg.Web.Host != "127.0.0.1" {
		t.Errorf("Web.Host = %q, default should survive", cfg.Web.Host)
	}
	if len(cfg.Schedule.Jobs) != 1 || cfg.Schedule.Jobs[0].Name != "nightly" {
		t.Errorf("Schedule = %+v", cfg.Schedule)
	}
}

func TestLoad_InvalidSchedule(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.toml")
	content := `
[[schedule.job]]
name = "bad"
cron = "whenever"
repo_url = "https://github.com/acme/widgets"
team_name = "t"
leader_name = "l"
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(configPath); err == nil {
		t.Error("invalid cron should fail to load")
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv(EnvBaseURL, "http://override:9999/api")

	cfg, err := Load(filepath.Join(t.TempDir(), "none.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.API.BaseURL != "http://override:9999/api" {
		t.Errorf("BaseURL = %q, want env override", cfg.API.BaseURL)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	if err := os.WriteFile(envFile, []byte("HEAL_TEST_DOTENV=from-file\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("HEAL_TEST_DOTENV", "")
	os.Unsetenv("HEAL_TEST_DOTENV")

	LoadDotEnv(envFile, filepath.Join(dir, "missing.env"))

	if got := os.Getenv("HEAL_TEST_DOTENV"); got != "from-file" {
		t.Errorf("HEAL_TEST_DOTENV = %q, want from-file", got)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	t.Setenv(EnvBaseURL, "")
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg := Default()
	cfg.Web.Port = 7070
	cfg.API.PollInterval = Duration{3 * time.Second}
	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Web.Port != 7070 {
		t.Errorf("Web.Port = %d, want 7070", loaded.Web.Port)
	}
	if loaded.API.PollInterval.Duration != 3*time.Second {
		t.Errorf("PollInterval = %v, want 3s", loaded.API.PollInterval)
	}
}

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()

	tests := []struct {
		input string
		want  string
	}{
		{"~/test", filepath.Join(home, "test")},
		{"/absolute/path", "/absolute/path"},
		{"relative", "relative"},
	}

	for _, tt := range tests {
		got := ExpandPath(tt.input)
		if got != tt.want {
			t.Errorf("ExpandPath(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
