// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package console

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync/atomic"

	"github.com/bureau-foundation/bureau-console/client"
	"github.com/bureau-foundation/bureau-console/lib/termcolor"
	"github.com/bureau-foundation/bureau-console/protocol"
)

const (
	terminalPrompt        = "> "
	disconnectHintMessage = "Press Ctrl+D to disconnect from console."
)

func promptFor(interactive bool) string {
	if interactive {
		return terminalPrompt
	}
	return ""
}

// remoteSession is one connection's worth of console: it prints what
// the server forwards and sends what the operator types.
type remoteSession struct {
	client    *Client
	transport *client.Transport
	reader    atomic.Pointer[lineReaderBox]

	interactive  atomic.Bool
	suppressHint atomic.Bool
}

// lineReaderBox lets an interface value live in an atomic.Pointer.
type lineReaderBox struct{ LineReader }

func (c *Client) runSession(ctx context.Context) SessionOutcome {
	config := c.transportConfig
	config.SocketPath = c.socketPath
	config.ColorLevel = c.output.ColorLevel()
	config.Logger = c.logger
	transport, err := client.New(config)
	if err != nil {
		c.logger.Error("Connection failed: " + err.Error())
		return SessionOutcome{Reason: GenericConnectionError}
	}
	session := &remoteSession{client: c, transport: transport}
	transport.SetMessageHandler(session.handleMessage)
	transport.SetDisconnectHandler(session.interruptReader)

	c.active.Store(session)
	defer c.active.Store(nil)
	defer transport.Disconnect()
	stop := context.AfterFunc(ctx, transport.Disconnect)
	defer stop()

	if err := transport.Connect(ctx); err != nil {
		if ctx.Err() != nil {
			return SessionOutcome{Reason: ConnectionClosed}
		}
		if client.IsHandshakeFailure(err) {
			c.logger.Error(client.UserFacingMessage(err))
			return SessionOutcome{Reason: UnrecoverableHandshakeFailure}
		}
		c.logger.Debug("connection failure", "error", err)
		c.logger.Error("Connection failed: " + err.Error())
		return SessionOutcome{Reason: GenericConnectionError}
	}
	c.logger.Info("Connected to server via socket: " + c.socketPath)

	if reader := c.openLineReader(session.complete); reader != nil {
		session.reader.Store(&lineReaderBox{reader})
		c.output.SetTarget(reader)
		defer func() {
			c.output.SetTarget(nil)
			session.reader.Store(nil)
			if err := reader.Close(); err != nil {
				c.logger.Debug("closing line reader", "error", err)
			}
		}()
	}

	if err := transport.Send(protocol.NewMessage(&protocol.LogSubscribe{}, "")); err != nil {
		return SessionOutcome{DidConnect: true, Reason: ConnectionClosed}
	}

	var reason DisconnectReason
	if box := session.reader.Load(); box != nil {
		reason = session.acceptInteractive(ctx, box.LineReader)
	} else {
		reason = session.acceptDumb(ctx, c.inputLines())
	}
	return SessionOutcome{DidConnect: true, Reason: reason}
}

func (s *remoteSession) connected(ctx context.Context) bool {
	return ctx.Err() == nil && s.transport.IsConnected()
}

func (s *remoteSession) acceptInteractive(ctx context.Context, reader LineReader) DisconnectReason {
	for {
		if !s.connected(ctx) {
			return ConnectionClosed
		}
		interactive := s.interactive.Load()
		reader.SetEraseLineOnFinish(!interactive)
		prompt := promptFor(interactive)

		line, err := reader.ReadLine(prompt)
		switch {
		case errors.Is(err, ErrInterrupted):
			s.printDisconnectHint(ctx)
			continue
		case errors.Is(err, io.EOF):
			return UserEOF
		case err != nil:
			if !s.connected(ctx) {
				return ConnectionClosed
			}
			// The terminal is unusable; leaving is the only way out.
			s.client.logger.Warn("terminal read failed", "error", err)
			return UserEOF
		}

		command := strings.TrimSpace(line)
		if command == "" {
			continue
		}
		if !s.interactive.Load() {
			s.client.logger.Debug("ignoring input while interactivity is unavailable")
			continue
		}
		s.echoHighlighted(ctx, reader, prompt, line)
		s.sendCommand(command)
	}
}

// acceptDumb sends lines from the shared input reader. The select wakes
// on a line or a disconnect, so no readiness poll of stdin is needed.
func (s *remoteSession) acceptDumb(ctx context.Context, lines <-chan string) DisconnectReason {
	for {
		select {
		case <-ctx.Done():
			return ConnectionClosed
		case <-s.transport.Done():
			return ConnectionClosed
		case line, ok := <-lines:
			if !ok {
				if s.client.exitOnInputEOF {
					return UserEOF
				}
				// Input without a console (a closed pipe, /dev/null)
				// keeps the session alive for its output.
				lines = nil
				continue
			}
			command := strings.TrimSpace(line)
			if command == "" {
				continue
			}
			if !s.interactive.Load() {
				s.client.logger.Debug("ignoring input while interactivity is unavailable")
				continue
			}
			s.sendCommand(command)
		}
	}
}

func (s *remoteSession) sendCommand(command string) {
	if err := s.transport.Send(protocol.NewMessage(&protocol.CommandExecute{Command: command}, "")); err != nil {
		s.client.logger.Debug("command not sent", "error", err)
	}
}

// handleMessage runs on the transport's reader goroutine.
func (s *remoteSession) handleMessage(message protocol.Message) {
	switch payload := message.Payload.(type) {
	case *protocol.LogForward:
		s.client.output.Println(payload.Rendered)
	case *protocol.Error:
		s.client.logger.Error("Error: " + payload.Message)
		if payload.Details != nil {
			s.client.logger.Error("Details: " + *payload.Details)
		}
	case *protocol.InteractivityStatus:
		if s.interactive.Swap(payload.Available) != payload.Available {
			// Restart the read so the prompt reflects the new state.
			// The restart is not an operator interrupt, so it must not
			// print the disconnect hint.
			s.suppressHint.Store(true)
			if !s.interruptReaderActive() {
				s.suppressHint.Store(false)
			}
		}
	default:
		if message.RequestID != "" {
			s.client.logger.Warn("Dropping unsolicited response", "kind", message.Kind, "request_id", message.RequestID)
			return
		}
		s.client.logger.Debug("ignoring message", "kind", message.Kind)
	}
}

func (s *remoteSession) interruptReader() { s.interruptReaderActive() }

func (s *remoteSession) interruptReaderActive() bool {
	box := s.reader.Load()
	if box == nil {
		return false
	}
	return box.Interrupt()
}

func (s *remoteSession) printDisconnectHint(ctx context.Context) {
	if s.suppressHint.Swap(false) {
		return
	}
	if !s.connected(ctx) {
		return
	}
	s.client.logger.Info(disconnectHintMessage)
}

// echoHighlighted redraws the submitted line with the server's
// highlighting. Any failure leaves the plain echo in place.
func (s *remoteSession) echoHighlighted(ctx context.Context, reader LineReader, prompt, line string) {
	if s.client.output.ColorLevel() == termcolor.None || !s.transport.Negotiated(protocol.CapabilitySyntaxHighlight) {
		return
	}
	response, err := s.transport.SendRequest(ctx,
		s.transport.NewRequest(&protocol.SyntaxHighlightRequest{Command: line}),
		protocol.KindSyntaxHighlightResponse, protocol.SyntaxHighlightTimeout)
	if err != nil {
		s.client.logger.Debug("highlighting failed", "error", err)
		return
	}
	highlighted := response.Payload.(*protocol.SyntaxHighlightResponse)
	if highlighted.Highlighted == "" {
		return
	}
	reader.ReplaceLastLine(prompt + highlighted.Highlighted)
}
