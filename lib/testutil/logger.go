// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"bytes"
	"log/slog"
	"sync"
	"testing"
)

// Logger returns a debug-level text logger that writes through t.Log,
// so component diagnostics appear only for failing or verbose runs.
// Lines logged by goroutines that outlive the test are discarded.
func Logger(t testing.TB) *slog.Logger {
	writer := &testWriter{t: t}
	t.Cleanup(writer.finish)
	return slog.New(slog.NewTextHandler(writer, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type testWriter struct {
	mu       sync.Mutex
	t        testing.TB
	finished bool
}

func (writer *testWriter) Write(data []byte) (int, error) {
	writer.mu.Lock()
	defer writer.mu.Unlock()
	if !writer.finished {
		writer.t.Log(string(bytes.TrimRight(data, "\n")))
	}
	return len(data), nil
}

func (writer *testWriter) finish() {
	writer.mu.Lock()
	writer.finished = true
	writer.mu.Unlock()
}

// LogBuffer is a concurrency-safe buffer for asserting on log output.
type LogBuffer struct {
	mu     sync.Mutex
	buffer bytes.Buffer
}

func (buffer *LogBuffer) Write(data []byte) (int, error) {
	buffer.mu.Lock()
	defer buffer.mu.Unlock()
	return buffer.buffer.Write(data)
}

// String returns everything written so far.
func (buffer *LogBuffer) String() string {
	buffer.mu.Lock()
	defer buffer.mu.Unlock()
	return buffer.buffer.String()
}
