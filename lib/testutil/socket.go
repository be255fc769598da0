// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// SocketPath returns a path for a Unix socket named name inside a fresh
// directory that is removed when the test ends. The directory lives
// directly under /tmp: sun_path is limited to 108 bytes and t.TempDir
// can exceed that under nested test roots.
func SocketPath(t *testing.T, name string) string {
	t.Helper()
	directory, err := os.MkdirTemp("/tmp", "console-")
	if err != nil {
		t.Fatalf("creating socket directory: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(directory) })
	return filepath.Join(directory, name)
}
