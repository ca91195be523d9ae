package prompts

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/hochfrequenz/heal-dash/internal/domain"
	"gopkg.in/yaml.v3"
)

// Default sampling parameters for prompts whose frontmatter omits them
const (
	DefaultTemperature = 0.1
	DefaultMaxTokens   = 4000
)

const genericID = "generic"

// Loader manages system prompts with override support.
type Loader struct {
	overrideDirs []string // Directories to check for overrides (in priority order)
	cache        map[string]*Prompt
	mu           sync.RWMutex
}

// Meta holds the frontmatter of a prompt file.
type Meta struct {
	ID          string  `yaml:"id"`
	TaskType    string  `yaml:"task_type"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// frontmatter is Meta as written in the file; a nil Temperature means the
// key was absent, so an explicit 0 survives defaulting.
type frontmatter struct {
	ID          string   `yaml:"id"`
	TaskType    string   `yaml:"task_type"`
	Temperature *float64 `yaml:"temperature"`
	MaxTokens   int      `yaml:"max_tokens"`
}

// Prompt is a loaded system prompt and its sampling parameters.
type Prompt struct {
	Meta
	System string
}

// NewLoader creates a loader with the given override directories.
// Directories are checked in order; first match wins.
func NewLoader(overrideDirs ...string) *Loader {
	return &Loader{
		overrideDirs: overrideDirs,
		cache:        make(map[string]*Prompt),
	}
}

// DefaultLoader creates a loader with the standard override paths plus any
// extra directories from configuration (checked first):
//  1. extra dirs
//  2. Project-local: .heal-dash/prompts/
//  3. User config: ~/.config/heal-dash/prompts/
func DefaultLoader(extra ...string) *Loader {
	home, _ := os.UserHomeDir()
	dirs := append([]string{}, extra...)
	dirs = append(dirs,
		filepath.Join(".heal-dash", "prompts"),
		filepath.Join(home, ".config", "heal-dash", "prompts"),
	)
	return NewLoader(dirs...)
}

// loadContent loads raw content from override dirs or embedded FS.
func (l *Loader) loadContent(name string) ([]byte, error) {
	for _, dir := range l.overrideDirs {
		if data, err := os.ReadFile(filepath.Join(dir, name)); err == nil {
			return data, nil
		}
	}
	return fs.ReadFile(embeddedFS, "system/"+name)
}

// parseFrontmatter splits content into frontmatter and body.
func parseFrontmatter(content []byte) (*Meta, string, error) {
	str := strings.ReplaceAll(string(content), "\r\n", "\n")

	if !strings.HasPrefix(str, "---\n") {
		return nil, str, nil // No frontmatter
	}

	end := strings.Index(str[4:], "\n---\n")
	if end == -1 {
		return nil, str, nil // Malformed, treat as no frontmatter
	}

	header := str[4 : 4+end]
	body := str[4+end+5:]

	var fm frontmatter
	if err := yaml.Unmarshal([]byte(header), &fm); err != nil {
		return nil, "", fmt.Errorf("parse frontmatter: %w", err)
	}
	meta := &Meta{
		ID:          fm.ID,
		TaskType:    fm.TaskType,
		Temperature: DefaultTemperature,
		MaxTokens:   fm.MaxTokens,
	}
	if fm.Temperature != nil {
		meta.Temperature = *fm.Temperature
	}
	return meta, body, nil
}

// Load returns the prompt stored as <id>.md
func (l *Loader) Load(id string) (*Prompt, error) {
	l.mu.RLock()
	if p, ok := l.cache[id]; ok {
		l.mu.RUnlock()
		return p, nil
	}
	l.mu.RUnlock()

	content, err := l.loadContent(id + ".md")
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", id, err)
	}

	meta, body, err := parseFrontmatter(content)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", id, err)
	}
	if meta == nil {
		meta = &Meta{Temperature: DefaultTemperature}
	}
	if meta.ID == "" {
		meta.ID = id
	}
	if meta.MaxTokens == 0 {
		meta.MaxTokens = DefaultMaxTokens
	}

	p := &Prompt{Meta: *meta, System: strings.TrimSpace(body)}

	l.mu.Lock()
	l.cache[id] = p
	l.mu.Unlock()
	return p, nil
}

// ForTask returns the prompt for a task type and whether the type is a
// known structured task. Unknown types get the generic prompt.
func (l *Loader) ForTask(t domain.TaskType) (*Prompt, bool, error) {
	switch t {
	case domain.TaskErrorParse, domain.TaskFixGenerate:
		p, err := l.Load(string(t))
		return p, true, err
	}
	p, err := l.Load(genericID)
	return p, false, err
}

// List returns the metadata of all embedded prompts, sorted by id.
func (l *Loader) List() ([]Meta, error) {
	entries, err := fs.ReadDir(embeddedFS, "system")
	if err != nil {
		return nil, err
	}

	var result []Meta
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		p, err := l.Load(strings.TrimSuffix(entry.Name(), ".md"))
		if err != nil {
			return nil, err
		}
		result = append(result, p.Meta)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// ClearCache clears the prompt cache (useful for development/testing).
func (l *Loader) ClearCache() {
	l.mu.Lock()
	l.cache = make(map[string]*Prompt)
	l.mu.Unlock()
}
