// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"time"
)

// Fataler is the subset of testing.TB the wait helpers need.
type Fataler interface {
	Helper()
	Fatalf(format string, args ...any)
}

// RequireReceive returns the next value from channel, failing the test
// if none arrives within timeout or the channel is closed.
func RequireReceive[T any](t Fataler, channel <-chan T, timeout time.Duration, what string, args ...any) T {
	t.Helper()
	select {
	case value, ok := <-channel:
		if !ok {
			t.Fatalf("channel closed while %s", fmt.Sprintf(what, args...))
		}
		return value
	case <-time.After(timeout):
		t.Fatalf("timed out after %v %s", timeout, fmt.Sprintf(what, args...))
	}
	panic("unreachable")
}

// RequireClosed fails the test unless channel is closed (or yields a
// value) within timeout.
func RequireClosed(t Fataler, channel <-chan struct{}, timeout time.Duration, what string, args ...any) {
	t.Helper()
	select {
	case <-channel:
	case <-time.After(timeout):
		t.Fatalf("timed out after %v %s", timeout, fmt.Sprintf(what, args...))
	}
}

// RequireNoReceive fails the test if channel yields a value within
// window.
func RequireNoReceive[T any](t Fataler, channel <-chan T, window time.Duration, what string, args ...any) {
	t.Helper()
	select {
	case value := <-channel:
		t.Fatalf("unexpected value %v %s", value, fmt.Sprintf(what, args...))
	case <-time.After(window):
	}
}

// Eventually polls condition every 10ms until it returns true, failing
// the test after timeout.
func Eventually(t Fataler, timeout time.Duration, condition func() bool, what string, args ...any) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !condition() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met after %v: %s", timeout, fmt.Sprintf(what, args...))
		}
		time.Sleep(10 * time.Millisecond)
	}
}
