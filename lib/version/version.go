// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build information for the console binaries.
//
// Values are injected at link time:
//
//	go build -ldflags "-X github.com/bureau-foundation/bureau-console/lib/version.GitCommit=$(git rev-parse --short HEAD)"
package version

import (
	"fmt"
	"runtime"
)

var (
	// Version is the release version.
	Version = "0.1.0-dev"

	// GitCommit is the short commit hash of the build.
	GitCommit = "unknown"

	// BuildTime is the UTC build timestamp.
	BuildTime = "unknown"
)

// Info returns "version (commit, time)".
func Info() string {
	return fmt.Sprintf("%s (%s, %s)", Version, GitCommit, BuildTime)
}

// Full adds the Go toolchain and platform to Info.
func Full() string {
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s/%s", Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// Print writes "<binary> <Full>" to stdout for --version.
func Print(binary string) {
	fmt.Printf("%s %s\n", binary, Full())
}
