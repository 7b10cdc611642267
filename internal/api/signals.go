package api

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// SignalWatcher handles operator signals via the .convoy directory. Signals
// are plain files so an operator (or another process) can stop or pause a
// node with nothing but touch(1).
type SignalWatcher struct {
	convoyDir string

	mu          sync.RWMutex
	stopSignal  bool
	pauseSignal bool

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewSignalWatcher creates a signal watcher rooted at baseDir.
func NewSignalWatcher(baseDir string) (*SignalWatcher, error) {
	convoyDir := filepath.Join(baseDir, ".convoy")

	signalsDir := filepath.Join(convoyDir, "signals")
	if err := os.MkdirAll(signalsDir, 0755); err != nil {
		return nil, err
	}

	sw := &SignalWatcher{
		convoyDir: convoyDir,
		done:      make(chan struct{}),
	}

	// Start file watcher for immediate signals
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		// Continue without watcher - will use polling fallback
		return sw, nil
	}
	sw.watcher = watcher

	if err := watcher.Add(signalsDir); err != nil {
		watcher.Close()
		sw.watcher = nil
		return sw, nil
	}

	go sw.watchSignals()

	return sw, nil
}

// watchSignals monitors the signals directory for kill/pause files.
func (sw *SignalWatcher) watchSignals() {
	for {
		select {
		case <-sw.done:
			return
		case event, ok := <-sw.watcher.Events:
			if !ok {
				return
			}
			sw.mu.Lock()
			base := filepath.Base(event.Name)
			if base == "kill" && (event.Op&fsnotify.Create != 0 || event.Op&fsnotify.Write != 0) {
				sw.stopSignal = true
			} else if base == "pause" && (event.Op&fsnotify.Create != 0 || event.Op&fsnotify.Write != 0) {
				sw.pauseSignal = true
			} else if base == "pause" && event.Op&fsnotify.Remove != 0 {
				sw.pauseSignal = false
			}
			sw.mu.Unlock()
		case <-sw.watcher.Errors:
			// Ignore errors, keep watching
		}
	}
}

// ShouldStop returns true if a stop signal has been received.
func (sw *SignalWatcher) ShouldStop() bool {
	// Also check file directly in case watcher missed it
	killPath := filepath.Join(sw.convoyDir, "signals", "kill")
	if _, err := os.Stat(killPath); err == nil {
		sw.mu.Lock()
		sw.stopSignal = true
		sw.mu.Unlock()
	}

	sw.mu.RLock()
	defer sw.mu.RUnlock()
	return sw.stopSignal
}

// ShouldPause returns true while a pause signal is in effect. Unlike stop,
// pause is reversible: the signal tracks the presence of the pause file, so
// removing it (ClearPause, or rm by hand) resumes the node.
func (sw *SignalWatcher) ShouldPause() bool {
	pausePath := filepath.Join(sw.convoyDir, "signals", "pause")
	_, err := os.Stat(pausePath)

	sw.mu.Lock()
	defer sw.mu.Unlock()
	if err == nil {
		sw.pauseSignal = true
	} else if os.IsNotExist(err) {
		sw.pauseSignal = false
	}
	return sw.pauseSignal
}

// SendKill creates a kill signal file.
func (sw *SignalWatcher) SendKill() error {
	path := filepath.Join(sw.convoyDir, "signals", "kill")
	return os.WriteFile(path, []byte(time.Now().Format(time.RFC3339)), 0644)
}

// SendPause creates a pause signal file.
func (sw *SignalWatcher) SendPause() error {
	path := filepath.Join(sw.convoyDir, "signals", "pause")
	return os.WriteFile(path, []byte(time.Now().Format(time.RFC3339)), 0644)
}

// ClearPause removes the pause signal file so dispatch resumes.
func (sw *SignalWatcher) ClearPause() error {
	sw.mu.Lock()
	sw.pauseSignal = false
	sw.mu.Unlock()

	err := os.Remove(filepath.Join(sw.convoyDir, "signals", "pause"))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ClearSignals removes all signal files and resets signal state.
func (sw *SignalWatcher) ClearSignals() {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	sw.stopSignal = false
	sw.pauseSignal = false

	os.Remove(filepath.Join(sw.convoyDir, "signals", "kill"))
	os.Remove(filepath.Join(sw.convoyDir, "signals", "pause"))
}

// ConvoyDir returns the path to the .convoy directory.
func (sw *SignalWatcher) ConvoyDir() string {
	return sw.convoyDir
}

// Close shuts down the signal watcher.
func (sw *SignalWatcher) Close() {
	close(sw.done)
	if sw.watcher != nil {
		sw.watcher.Close()
	}
}
