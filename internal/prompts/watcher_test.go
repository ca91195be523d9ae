package prompts

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

func TestWatcherSkipsMissingDirs(t *testing.T) {
	dir := t.TempDir()
	loader := NewLoader(filepath.Join(dir, "missing"), dir)

	w, err := NewWatcher(loader, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.watcher.Close()

	dirs := w.Dirs()
	if len(dirs) != 1 || dirs[0] != dir {
		t.Errorf("watched dirs = %v, want [%s]", dirs, dir)
	}
}

func TestWatcherClearsCacheOnChange(t *testing.T) {
	dir := t.TempDir()
	override := filepath.Join(dir, "generic.md")
	if err := os.WriteFile(override, []byte("---\nid: generic\n---\nfirst version"), 0644); err != nil {
		t.Fatal(err)
	}

	loader := NewLoader(dir)
	p, err := loader.Load("generic")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.System != "first version" {
		t.Fatalf("System = %q", p.System)
	}

	w, err := NewWatcher(loader, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	w.SetDebounce(10 * time.Millisecond)
	changed := make(chan []string, 1)
	w.OnChange(func(files []string) {
		select {
		case changed <- files:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	if err := os.WriteFile(override, []byte("---\nid: generic\n---\nsecond version"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case files := <-changed:
		if len(files) == 0 || !strings.HasSuffix(files[0], "generic.md") {
			t.Errorf("changed files = %v", files)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for change notification")
	}

	p, err = loader.Load("generic")
	if err != nil {
		t.Fatalf("Load after change: %v", err)
	}
	if p.System != "second version" {
		t.Errorf("System = %q, want reloaded override", p.System)
	}
}

func TestWatcherIgnoresNonPromptFiles(t *testing.T) {
	loader := NewLoader()
	w := &Watcher{loader: loader, debounce: time.Millisecond, pending: make(map[string]struct{}), logger: zerolog.Nop()}

	w.handleEvent(fsnotify.Event{Name: "notes.txt", Op: fsnotify.Write})
	if len(w.pending) != 0 {
		t.Errorf("pending = %v, want empty", w.pending)
	}
}
