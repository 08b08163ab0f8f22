package orchestrator

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// StopFile returns the file whose appearance in dir stops run runID.
func StopFile(dir, runID string) string {
	return filepath.Join(dir, runID+".stop")
}

// RequestStop asks the process running runID to stop admitting tasks.
func RequestStop(dir, runID string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create signals dir: %w", err)
	}
	stamp := []byte(time.Now().UTC().Format(time.RFC3339) + "\n")
	if err := os.WriteFile(StopFile(dir, runID), stamp, 0o644); err != nil {
		return fmt.Errorf("failed to write stop file: %w", err)
	}
	return nil
}

// SignalWatcher cancels a run when its stop file is written. It lets a
// second process stop a run without knowing its pid.
type SignalWatcher struct {
	path    string
	watcher *fsnotify.Watcher
	done    chan struct{}
	once    sync.Once
}

// WatchSignals watches dir for the stop file of runID and calls cancel when
// it appears. A stop file left over from an earlier stop is removed first.
func WatchSignals(dir, runID string, cancel context.CancelFunc) (*SignalWatcher, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create signals dir: %w", err)
	}
	path := StopFile(dir, runID)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to clear stop file: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	s := &SignalWatcher{path: path, watcher: w, done: make(chan struct{})}
	go s.loop(cancel)
	return s, nil
}

func (s *SignalWatcher) loop(cancel context.CancelFunc) {
	defer close(s.done)
	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) == s.path && ev.Has(fsnotify.Create|fsnotify.Write) {
				log.Printf("Stop requested via %s", s.path)
				cancel()
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("WARNING: signal watcher: %v", err)
		}
	}
}

// Close stops watching and removes the stop file.
func (s *SignalWatcher) Close() error {
	var err error
	s.once.Do(func() {
		err = s.watcher.Close()
		<-s.done
		os.Remove(s.path)
	})
	return err
}
