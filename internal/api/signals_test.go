package api

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSignalWatcherKillAndPause(t *testing.T) {
	sw, err := NewSignalWatcher(t.TempDir())
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer sw.Close()

	if sw.ShouldStop() {
		t.Fatal("expected no stop signal initially")
	}
	if sw.ShouldPause() {
		t.Fatal("expected no pause signal initially")
	}

	if err := sw.SendKill(); err != nil {
		t.Fatalf("send kill: %v", err)
	}
	if !sw.ShouldStop() {
		t.Error("expected stop signal after kill file")
	}

	if err := sw.SendPause(); err != nil {
		t.Fatalf("send pause: %v", err)
	}
	if !sw.ShouldPause() {
		t.Error("expected pause signal after pause file")
	}

	sw.ClearSignals()
	if sw.ShouldStop() || sw.ShouldPause() {
		t.Error("expected signals cleared")
	}
	if _, err := os.Stat(filepath.Join(sw.ConvoyDir(), "signals", "kill")); !os.IsNotExist(err) {
		t.Error("expected kill file removed")
	}
}

func TestPauseFollowsFilePresence(t *testing.T) {
	sw, err := NewSignalWatcher(t.TempDir())
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer sw.Close()

	if err := sw.SendPause(); err != nil {
		t.Fatalf("send pause: %v", err)
	}
	if !sw.ShouldPause() {
		t.Fatal("expected pause signal while file present")
	}

	// Pause is reversible: removing the file resumes the node.
	if err := sw.ClearPause(); err != nil {
		t.Fatalf("clear pause: %v", err)
	}
	if sw.ShouldPause() {
		t.Error("expected pause signal gone after clear")
	}
	if _, err := os.Stat(filepath.Join(sw.ConvoyDir(), "signals", "pause")); !os.IsNotExist(err) {
		t.Error("expected pause file removed")
	}

	// Clearing an already-clear pause is not an error.
	if err := sw.ClearPause(); err != nil {
		t.Errorf("expected repeated clear to succeed, got %v", err)
	}
}

func TestSignalWatcherStatFallback(t *testing.T) {
	base := t.TempDir()
	sw, err := NewSignalWatcher(base)
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer sw.Close()

	// Write the file out of band; the stat fallback must still see it even
	// if the fsnotify event was missed.
	path := filepath.Join(base, ".convoy", "signals", "kill")
	if err := os.WriteFile(path, []byte("now"), 0644); err != nil {
		t.Fatalf("write signal: %v", err)
	}
	if !sw.ShouldStop() {
		t.Error("expected stat fallback to detect kill file")
	}
}
