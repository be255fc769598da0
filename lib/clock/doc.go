// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts the passage of time so that components which
// wait (socket watchers, reconnect backoff, polling loops) can be
// tested deterministically.
//
// Production code takes a [Clock] and is handed [Real]. Tests hand it a
// [FakeClock] from [Fake], block until the component has registered its
// timers with [FakeClock.WaitForTimers], then move time forward with
// [FakeClock.Advance].
package clock
