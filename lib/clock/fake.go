// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// FakeClock is a Clock whose time moves only when Advance is called.
// It is safe for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	changed *sync.Cond
	current time.Time
	timers  []*fakeTimer
}

type fakeTimer struct {
	deadline time.Time
	channel  chan time.Time
	interval time.Duration // zero for one-shot timers
	stopped  bool
}

// Fake returns a FakeClock reading initial.
func Fake(initial time.Time) *FakeClock {
	clock := &FakeClock{current: initial}
	clock.changed = sync.NewCond(&clock.mu)
	return clock
}

// Now returns the fake time.
func (clock *FakeClock) Now() time.Time {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	return clock.current
}

// After registers a one-shot timer.
func (clock *FakeClock) After(d time.Duration) <-chan time.Time {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	channel := make(chan time.Time, 1)
	if d <= 0 {
		channel <- clock.current
		return channel
	}
	clock.timers = append(clock.timers, &fakeTimer{deadline: clock.current.Add(d), channel: channel})
	clock.changed.Broadcast()
	return channel
}

// NewTicker registers a periodic timer.
func (clock *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}
	clock.mu.Lock()
	defer clock.mu.Unlock()
	timer := &fakeTimer{deadline: clock.current.Add(d), channel: make(chan time.Time, 1), interval: d}
	clock.timers = append(clock.timers, timer)
	clock.changed.Broadcast()
	return &Ticker{
		C: timer.channel,
		stop: func() {
			clock.mu.Lock()
			defer clock.mu.Unlock()
			timer.stopped = true
			clock.changed.Broadcast()
		},
	}
}

// Advance moves time forward by d and fires every timer whose deadline
// has been reached, in deadline order. Tickers spanning several
// intervals fire once per interval, subject to their channel capacity.
func (clock *FakeClock) Advance(d time.Duration) {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	clock.current = clock.current.Add(d)

	sort.SliceStable(clock.timers, func(i, j int) bool {
		return clock.timers[i].deadline.Before(clock.timers[j].deadline)
	})
	remaining := clock.timers[:0]
	for _, timer := range clock.timers {
		if timer.stopped {
			continue
		}
		for !timer.deadline.After(clock.current) {
			select {
			case timer.channel <- timer.deadline:
			default:
			}
			if timer.interval == 0 {
				timer.stopped = true
				break
			}
			timer.deadline = timer.deadline.Add(timer.interval)
		}
		if !timer.stopped {
			remaining = append(remaining, timer)
		}
	}
	clock.timers = remaining
	clock.changed.Broadcast()
}

// WaitForTimers blocks until at least count timers are pending. Tests
// call it before Advance so that the component under test has reached
// its wait.
func (clock *FakeClock) WaitForTimers(count int) {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	for clock.pendingLocked() < count {
		clock.changed.Wait()
	}
}

// PendingTimers returns the number of registered, unfired timers.
func (clock *FakeClock) PendingTimers() int {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	return clock.pendingLocked()
}

func (clock *FakeClock) pendingLocked() int {
	count := 0
	for _, timer := range clock.timers {
		if !timer.stopped {
			count++
		}
	}
	return count
}
