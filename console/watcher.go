// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package console

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bureau-foundation/bureau-console/lib/clock"
)

// backoffPollInterval is the existence check cadence while waiting out
// a reconnect backoff.
const backoffPollInterval = 200 * time.Millisecond

// SocketWatcher waits for a socket path to appear or disappear. It
// watches the parent directory with fsnotify and checks the path on a
// timer as well, so a missed or unavailable notification only delays
// the wakeup to the next poll.
type SocketWatcher struct {
	path         string
	display      string
	clock        clock.Clock
	logger       *slog.Logger
	pollInterval time.Duration
}

// NewSocketWatcher watches socketPath. A zero pollInterval selects
// SocketPollInterval; nil clock and logger select the real clock and a
// discard logger.
func NewSocketWatcher(socketPath string, pollInterval time.Duration, clk clock.Clock, logger *slog.Logger) (*SocketWatcher, error) {
	absolute, err := filepath.Abs(socketPath)
	if err != nil {
		return nil, fmt.Errorf("resolving socket path %s: %w", socketPath, err)
	}
	if pollInterval <= 0 {
		pollInterval = SocketPollInterval
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SocketWatcher{
		path:         filepath.Clean(absolute),
		display:      socketPath,
		clock:        clk,
		logger:       logger,
		pollInterval: pollInterval,
	}, nil
}

// Exists reports whether anything is present at the socket path.
func (w *SocketWatcher) Exists() bool {
	_, err := os.Lstat(w.path)
	return err == nil
}

// WaitForSocket blocks until the socket path exists. It returns false
// when ctx is cancelled first, and an error when the parent directory
// does not exist.
func (w *SocketWatcher) WaitForSocket(ctx context.Context) (bool, error) {
	if w.Exists() {
		return true, nil
	}
	directory, err := w.parentDirectory()
	if err != nil {
		return false, err
	}
	w.logger.Info("Waiting for socket to exist: " + w.display)

	events, stop := w.watch(directory, "waiting for socket")
	defer stop()
	if w.Exists() {
		return true, nil
	}

	ticker := w.clock.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false, nil
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if event.Has(fsnotify.Create) && filepath.Clean(event.Name) == w.path {
				return true, nil
			}
		case <-ticker.C:
			if w.Exists() {
				return true, nil
			}
		}
	}
}

// WaitForBackoffOrDisappear waits out backoff, returning early when the
// socket path goes away so the caller can go back to waiting for a new
// server. It returns false only when ctx is cancelled.
func (w *SocketWatcher) WaitForBackoffOrDisappear(ctx context.Context, backoff time.Duration) bool {
	if backoff <= 0 || !w.Exists() {
		return true
	}
	directory, err := w.parentDirectory()
	if err != nil {
		// The directory holding the socket is gone, so is the socket.
		return true
	}

	deadline := w.clock.After(backoff)
	events, stop := w.watch(directory, "reconnect backoff")
	defer stop()

	ticker := w.clock.NewTicker(min(backoffPollInterval, backoff))
	defer ticker.Stop()
	for {
		if !w.Exists() {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-deadline:
			return true
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if event.Has(fsnotify.Remove|fsnotify.Rename) && filepath.Clean(event.Name) == w.path {
				return true
			}
		case <-ticker.C:
		}
	}
}

func (w *SocketWatcher) parentDirectory() (string, error) {
	directory := filepath.Dir(w.path)
	info, err := os.Stat(directory)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("parent directory does not exist: %s", directory)
	}
	return directory, nil
}

// watch subscribes to directory events. On failure it logs once and
// returns a nil channel, leaving the caller on its poll timer. Watch
// errors reported later close the returned channel the same way.
func (w *SocketWatcher) watch(directory, purpose string) (<-chan fsnotify.Event, func()) {
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		if err = watcher.Add(directory); err != nil {
			watcher.Close()
		}
	}
	if err != nil {
		w.logger.Warn("file watching unavailable, falling back to polling", "purpose", purpose, "error", err)
		return nil, func() {}
	}

	events := make(chan fsnotify.Event)
	done := make(chan struct{})
	go func() {
		defer close(events)
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				select {
				case events <- event:
				case <-done:
					return
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if !errors.Is(err, fsnotify.ErrEventOverflow) {
					w.logger.Warn("file watching failed, falling back to polling", "purpose", purpose, "error", err)
					return
				}
			case <-done:
				return
			}
		}
	}()
	return events, func() {
		close(done)
		watcher.Close()
	}
}
