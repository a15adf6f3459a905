package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "govorun.yaml")
	writeConfig(t, path, "server:\n  log_level: info\n")

	w, err := NewWatcher(path, nil, WithInterval(time.Hour))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	if got := w.Current().Server.LogLevel; got != LogInfo {
		t.Errorf("initial log_level = %q", got)
	}
}

func TestWatcher_InitialLoadInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "govorun.yaml")
	writeConfig(t, path, "replay:\n  mode: lifo\n")

	if _, err := NewWatcher(path, nil); err == nil {
		t.Fatal("watcher accepted an invalid initial config")
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "govorun.yaml")
	writeConfig(t, path, "server:\n  log_level: info\n")

	var mu sync.Mutex
	var gotOld, gotNew *Config
	w, err := NewWatcher(path, func(old, new *Config) {
		mu.Lock()
		gotOld, gotNew = old, new
		mu.Unlock()
	}, WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	// Ensure a newer mtime even on coarse-grained filesystems.
	time.Sleep(30 * time.Millisecond)
	writeConfig(t, path, "server:\n  log_level: debug\n")
	future := time.Now().Add(time.Second)
	os.Chtimes(path, future, future)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := gotNew != nil
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if gotNew == nil {
		t.Fatal("onChange never fired")
	}
	if gotOld.Server.LogLevel != LogInfo || gotNew.Server.LogLevel != LogDebug {
		t.Errorf("onChange(%q -> %q), want info -> debug", gotOld.Server.LogLevel, gotNew.Server.LogLevel)
	}
	if w.Current().Server.LogLevel != LogDebug {
		t.Errorf("Current not updated after reload")
	}
}

func TestWatcher_KeepsOldConfigOnInvalidEdit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "govorun.yaml")
	writeConfig(t, path, "server:\n  log_level: info\n")

	fired := false
	w, err := NewWatcher(path, func(_, _ *Config) { fired = true }, WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	time.Sleep(30 * time.Millisecond)
	writeConfig(t, path, "replay:\n  mode: lifo\n")
	future := time.Now().Add(time.Second)
	os.Chtimes(path, future, future)

	time.Sleep(200 * time.Millisecond)
	if fired {
		t.Error("onChange fired for an invalid config")
	}
	if got := w.Current().Server.LogLevel; got != LogInfo {
		t.Errorf("Current = %q, want the last valid config retained", got)
	}
}
