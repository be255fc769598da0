// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package console

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/bureau-console/client"
	"github.com/bureau-foundation/bureau-console/lib/clock"
	"github.com/bureau-foundation/bureau-console/protocol"
)

// maxInputLine bounds a single line read in dumb mode.
const maxInputLine = protocol.MaxUncompressedPayloadSize

// Config configures a Client.
type Config struct {
	// SocketPath is the console server's socket. Required.
	SocketPath string

	// IgnoreUnrecoverableHandshake keeps retrying after handshake
	// failures instead of exiting with status 1.
	IgnoreUnrecoverableHandshake bool

	// Output receives everything printed, including forwarded logs.
	// Required. Its color level is announced to the server.
	Output *Output

	// Logger receives lifecycle messages. It should write through
	// Output (see NewLogHandler). Nil discards.
	Logger *slog.Logger

	// NewLineReader opens the line editor used while connected. Nil,
	// or an error from it, selects dumb mode: lines are read from
	// Input without editing.
	NewLineReader func(complete CompleteFunc) (LineReader, error)

	// Input is the dumb-mode line source.
	Input io.Reader

	// ExitOnInputEOF ends the client when Input reaches EOF, as for a
	// terminal. Otherwise EOF stops reading and the session continues
	// until the connection closes.
	ExitOnInputEOF bool

	// Interrupts delivers SIGINT. While waiting for a server it ends
	// the client; while connected it prints the disconnect hint.
	Interrupts <-chan struct{}

	// Transport supplies handshake settings; its SocketPath,
	// ColorLevel and Logger are overwritten.
	Transport client.Config

	// Clock and PollInterval drive the socket watcher. Nil and zero
	// select the real clock and SocketPollInterval.
	Clock        clock.Clock
	PollInterval time.Duration
}

type exitReason int32

const (
	exitNone exitReason = iota
	exitUserEOF
	exitInterruptWhileWaiting
	exitUnrecoverableHandshake
)

// Client is the reconnecting console client: it waits for the server
// socket, runs a session, and reconnects with backoff until the
// operator leaves.
type Client struct {
	socketPath          string
	ignoreUnrecoverable bool
	output              *Output
	logger              *slog.Logger
	newLineReader       func(CompleteFunc) (LineReader, error)
	input               io.Reader
	exitOnInputEOF      bool
	interrupts          <-chan struct{}
	transportConfig     client.Config
	watcher             *SocketWatcher

	active     atomic.Pointer[remoteSession]
	exitReason atomic.Int32

	linesOnce sync.Once
	lines     chan string
}

// New validates config and returns a Client.
func New(config Config) (*Client, error) {
	if config.SocketPath == "" {
		return nil, errors.New("console: socket path is required")
	}
	if config.Output == nil {
		return nil, errors.New("console: output is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	watcher, err := NewSocketWatcher(config.SocketPath, config.PollInterval, config.Clock, logger)
	if err != nil {
		return nil, err
	}
	return &Client{
		socketPath:          config.SocketPath,
		ignoreUnrecoverable: config.IgnoreUnrecoverableHandshake,
		output:              config.Output,
		logger:              logger,
		newLineReader:       config.NewLineReader,
		input:               config.Input,
		exitOnInputEOF:      config.ExitOnInputEOF,
		interrupts:          config.Interrupts,
		transportConfig:     config.Transport,
		watcher:             watcher,
	}, nil
}

// Run connects and reconnects until the operator leaves, an
// unrecoverable handshake failure occurs, or ctx is cancelled, and
// returns the process exit status.
func (c *Client) Run(ctx context.Context) int {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go c.watchInterrupts(ctx, cancel)

	attempt := 0
	for ctx.Err() == nil {
		present, err := c.watcher.WaitForSocket(ctx)
		if err != nil {
			c.logger.Error(err.Error())
			return 1
		}
		if !present || ctx.Err() != nil {
			break
		}

		outcome := c.runSession(ctx)
		switch outcome.Reason {
		case UserEOF:
			c.setExitReason(exitUserEOF)
		case UnrecoverableHandshakeFailure:
			if !c.ignoreUnrecoverable {
				c.setExitReason(exitUnrecoverableHandshake)
			}
		}
		if outcome.DidConnect {
			c.logger.Info("Disconnected from server.")
			attempt = 0
		}
		if outcome.Reason == UnrecoverableHandshakeFailure && c.ignoreUnrecoverable {
			c.logger.Warn("Retrying despite unrecoverable handshake failure because --ignore-unrecoverable-handshake is enabled.")
		}
		if ShouldQuit(outcome, c.ignoreUnrecoverable) || ctx.Err() != nil {
			break
		}

		attempt++
		backoff := RetryBackoff(attempt)
		if backoff > 0 && c.watcher.Exists() {
			c.logger.Info("Reconnecting in " + FormatBackoff(backoff) + "...")
		}
		if !c.watcher.WaitForBackoffOrDisappear(ctx, backoff) {
			break
		}
	}

	switch exitReason(c.exitReason.Load()) {
	case exitUserEOF, exitInterruptWhileWaiting:
		c.logger.Info("Goodbye!")
		return 0
	case exitUnrecoverableHandshake:
		return 1
	default:
		return 0
	}
}

func (c *Client) setExitReason(reason exitReason) {
	c.exitReason.Store(int32(reason))
}

func (c *Client) watchInterrupts(ctx context.Context, cancel context.CancelFunc) {
	if c.interrupts == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-c.interrupts:
			if !ok {
				return
			}
			if session := c.active.Load(); session != nil && session.transport.IsConnected() {
				session.printDisconnectHint(ctx)
				continue
			}
			c.setExitReason(exitInterruptWhileWaiting)
			cancel()
			return
		}
	}
}

// openLineReader returns nil for dumb mode.
func (c *Client) openLineReader(complete CompleteFunc) LineReader {
	if c.newLineReader == nil {
		return nil
	}
	reader, err := c.newLineReader(complete)
	if err != nil {
		c.logger.Warn("line editor unavailable, reading plain lines", "error", err)
		return nil
	}
	return reader
}

// inputLines starts reading Input on first use. One reader serves
// every session, so a line typed while reconnecting is kept.
func (c *Client) inputLines() <-chan string {
	c.linesOnce.Do(func() {
		c.lines = make(chan string)
		if c.input == nil {
			close(c.lines)
			return
		}
		go func() {
			defer close(c.lines)
			scanner := bufio.NewScanner(c.input)
			scanner.Buffer(make([]byte, 0, 4096), maxInputLine)
			for scanner.Scan() {
				c.lines <- scanner.Text()
			}
			if err := scanner.Err(); err != nil {
				c.logger.Error("Error reading stdin: " + err.Error())
			}
		}()
	})
	return c.lines
}
