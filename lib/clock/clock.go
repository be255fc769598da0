// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock is the subset of the time package used by waiting components.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives once d has elapsed. A
	// non-positive d yields a channel that is already ready.
	After(d time.Duration) <-chan time.Time

	// NewTicker returns a ticker firing every d. Panics if d <= 0.
	NewTicker(d time.Duration) *Ticker
}

// Ticker delivers periodic ticks on C until stopped. C has capacity
// one; ticks are dropped when the reader falls behind.
type Ticker struct {
	C <-chan time.Time

	stop func()
}

// Stop ends tick delivery. It does not close C.
func (ticker *Ticker) Stop() { ticker.stop() }

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (realClock) NewTicker(d time.Duration) *Ticker {
	ticker := time.NewTicker(d)
	return &Ticker{C: ticker.C, stop: ticker.Stop}
}
