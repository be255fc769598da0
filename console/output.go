// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package console

import (
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/x/ansi"

	"github.com/bureau-foundation/bureau-console/lib/termcolor"
)

const (
	outputQueueSize    = 1024
	outputDrainTimeout = 2 * time.Second
)

// Output serializes everything the client prints. Lines are written by
// a single goroutine in the order they were queued, to the active line
// reader when one is set (so they appear above the prompt) and to the
// base writer otherwise.
type Output struct {
	base  io.Writer
	level termcolor.ColorLevel

	mu     sync.Mutex
	target io.Writer

	queue     chan string
	closed    chan struct{}
	finished  chan struct{}
	closeOnce sync.Once
}

// NewOutput starts an Output writing to base. At termcolor.None, ANSI
// sequences are stripped from every line.
func NewOutput(base io.Writer, level termcolor.ColorLevel) *Output {
	output := &Output{
		base:     base,
		level:    level,
		queue:    make(chan string, outputQueueSize),
		closed:   make(chan struct{}),
		finished: make(chan struct{}),
	}
	go output.run()
	return output
}

// ColorLevel is the level lines are rendered for.
func (o *Output) ColorLevel() termcolor.ColorLevel { return o.level }

// Println queues line. It waits only while the queue is full, and
// drops the line once the Output is closed.
func (o *Output) Println(line string) {
	select {
	case <-o.closed:
		return
	default:
	}
	select {
	case o.queue <- line:
	case <-o.closed:
	}
}

// SetTarget routes lines to writer until the next call. Nil restores
// the base writer.
func (o *Output) SetTarget(writer io.Writer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.target = writer
}

// Close writes what is already queued, waiting up to two seconds, and
// stops the Output.
func (o *Output) Close() {
	o.closeOnce.Do(func() { close(o.closed) })
	select {
	case <-o.finished:
	case <-time.After(outputDrainTimeout):
	}
}

func (o *Output) run() {
	defer close(o.finished)
	for {
		select {
		case line := <-o.queue:
			o.write(line)
		case <-o.closed:
			for {
				select {
				case line := <-o.queue:
					o.write(line)
				default:
					return
				}
			}
		}
	}
}

func (o *Output) write(line string) {
	if o.level == termcolor.None {
		line = ansi.Strip(line)
	}
	o.mu.Lock()
	writer := o.target
	o.mu.Unlock()
	if writer == nil {
		writer = o.base
	}
	io.WriteString(writer, line+"\n")
}
