// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package console

import (
	"fmt"
	"time"
)

const (
	// SocketPollInterval is how often the socket path and stdin are
	// polled when no notification mechanism is available.
	SocketPollInterval = 500 * time.Millisecond

	// InitialRetryBackoff is the wait before the second consecutive
	// reconnect attempt. The first attempt is immediate.
	InitialRetryBackoff = time.Second

	// MaxRetryBackoff caps the reconnect wait.
	MaxRetryBackoff = time.Minute
)

// RetryBackoff returns the wait before reconnect attempt number
// attempt (1-based): nothing for the first attempt, then doubling from
// InitialRetryBackoff up to MaxRetryBackoff.
func RetryBackoff(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	shift := min(attempt-2, 30)
	return min(MaxRetryBackoff, InitialRetryBackoff<<shift)
}

// FormatBackoff renders a wait as whole seconds ("2s") when exact,
// otherwise with one decimal ("1.5s").
func FormatBackoff(backoff time.Duration) string {
	milliseconds := backoff.Milliseconds()
	if milliseconds%1000 == 0 {
		return fmt.Sprintf("%ds", milliseconds/1000)
	}
	return fmt.Sprintf("%.1fs", float64(milliseconds)/1000)
}
