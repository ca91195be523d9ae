package prompts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hochfrequenz/heal-dash/internal/domain"
)

func TestLoaderLoadEmbedded(t *testing.T) {
	loader := NewLoader()

	p, err := loader.Load("error_parse")
	if err != nil {
		t.Fatalf("failed to load error_parse prompt: %v", err)
	}
	if !strings.HasPrefix(p.System, "You are an expert CI/CD error parser.") {
		t.Errorf("unexpected system prompt: %q", p.System)
	}
	if p.TaskType != "error_parse" {
		t.Errorf("expected task_type 'error_parse', got '%s'", p.TaskType)
	}
	if p.Temperature != 0.1 {
		t.Errorf("expected temperature 0.1, got %v", p.Temperature)
	}
	if p.MaxTokens != 4000 {
		t.Errorf("expected max_tokens 4000, got %d", p.MaxTokens)
	}
}

func TestLoaderForTask(t *testing.T) {
	loader := NewLoader()

	tests := []struct {
		taskType   domain.TaskType
		wantID     string
		structured bool
	}{
		{domain.TaskErrorParse, "error_parse", true},
		{domain.TaskFixGenerate, "fix_generate", true},
		{"summarize", "generic", false},
		{"", "generic", false},
	}

	for _, tt := range tests {
		p, structured, err := loader.ForTask(tt.taskType)
		if err != nil {
			t.Fatalf("ForTask(%q): %v", tt.taskType, err)
		}
		if p.ID != tt.wantID {
			t.Errorf("ForTask(%q) id = %q, want %q", tt.taskType, p.ID, tt.wantID)
		}
		if structured != tt.structured {
			t.Errorf("ForTask(%q) structured = %v, want %v", tt.taskType, structured, tt.structured)
		}
	}

	p, _, _ := loader.ForTask("other")
	if p.System != "You are a helpful assistant." {
		t.Errorf("unexpected generic prompt: %q", p.System)
	}
}

func TestLoaderOverride(t *testing.T) {
	tmpDir := t.TempDir()

	custom := "---\nid: fix_generate\nmax_tokens: 1024\n---\nCUSTOM fixer prompt\n"
	if err := os.WriteFile(filepath.Join(tmpDir, "fix_generate.md"), []byte(custom), 0644); err != nil {
		t.Fatalf("failed to write override file: %v", err)
	}

	loader := NewLoader(tmpDir)
	p, err := loader.Load("fix_generate")
	if err != nil {
		t.Fatalf("failed to load: %v", err)
	}
	if p.System != "CUSTOM fixer prompt" {
		t.Errorf("override not applied: %q", p.System)
	}
	if p.MaxTokens != 1024 {
		t.Errorf("expected max_tokens 1024, got %d", p.MaxTokens)
	}
	if p.Temperature != DefaultTemperature {
		t.Errorf("expected default temperature, got %v", p.Temperature)
	}

	// Non-overridden prompts still come from the embedded set
	p, err = loader.Load("error_parse")
	if err != nil {
		t.Fatalf("failed to load: %v", err)
	}
	if !strings.Contains(p.System, "error parser") {
		t.Errorf("expected embedded prompt, got %q", p.System)
	}
}

func TestLoaderExplicitZeroTemperature(t *testing.T) {
	tmpDir := t.TempDir()

	custom := "---\nid: fix_generate\ntemperature: 0\n---\nDeterministic fixer\n"
	if err := os.WriteFile(filepath.Join(tmpDir, "fix_generate.md"), []byte(custom), 0644); err != nil {
		t.Fatalf("failed to write override file: %v", err)
	}

	loader := NewLoader(tmpDir)
	p, err := loader.Load("fix_generate")
	if err != nil {
		t.Fatalf("failed to load: %v", err)
	}
	if p.Temperature != 0 {
		t.Errorf("expected temperature 0, got %v", p.Temperature)
	}
	if p.MaxTokens != DefaultMaxTokens {
		t.Errorf("expected default max_tokens, got %d", p.MaxTokens)
	}
}

func TestLoaderWithoutFrontmatter(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, "generic.md"), []byte("Plain prompt"), 0644); err != nil {
		t.Fatal(err)
	}

	p, err := NewLoader(tmpDir).Load("generic")
	if err != nil {
		t.Fatalf("failed to load: %v", err)
	}
	if p.ID != "generic" || p.System != "Plain prompt" {
		t.Errorf("unexpected prompt: %+v", p)
	}
	if p.MaxTokens != DefaultMaxTokens {
		t.Errorf("expected default max tokens, got %d", p.MaxTokens)
	}
}

func TestLoaderMissing(t *testing.T) {
	if _, err := NewLoader().Load("does_not_exist"); err == nil {
		t.Fatal("expected error for missing prompt")
	}
}

func TestParseFrontmatterMalformed(t *testing.T) {
	meta, body, err := parseFrontmatter([]byte("---\nid: x\nno closing"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if meta != nil {
		t.Error("malformed frontmatter should be treated as body")
	}
	if !strings.HasPrefix(body, "---") {
		t.Errorf("unexpected body: %q", body)
	}
}

func TestList(t *testing.T) {
	metas, err := NewLoader().List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var ids []string
	for _, m := range metas {
		ids = append(ids, m.ID)
	}
	if strings.Join(ids, ",") != "error_parse,fix_generate,generic" {
		t.Errorf("unexpected ids: %v", ids)
	}
}
