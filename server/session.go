// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/bureau-foundation/bureau-console/lib/netutil"
	"github.com/bureau-foundation/bureau-console/lib/termcolor"
	"github.com/bureau-foundation/bureau-console/protocol"
)

// session is one established client connection. The inbound loop runs
// on the connection's goroutine; a writer goroutine drains outbound.
type session struct {
	id         uint64
	server     *Server
	conn       net.Conn
	codec      *protocol.Codec
	logger     *slog.Logger
	colorLevel termcolor.ColorLevel
	negotiated map[string]int

	// logReady is set by LOG_SUBSCRIBE and never cleared.
	logReady atomic.Bool

	outbound  chan protocol.Message
	done      chan struct{}
	closeOnce sync.Once
	writer    sync.WaitGroup
}

func (s *Server) newSession(conn net.Conn, codec *protocol.Codec, result handshakeResult) *session {
	id := s.nextSessionID.Add(1)
	return &session{
		id:         id,
		server:     s,
		conn:       conn,
		codec:      codec,
		logger:     s.logger.With("session_id", id),
		colorLevel: result.colorLevel,
		negotiated: result.selected,
		outbound:   make(chan protocol.Message, s.outboundQueueSize),
		done:       make(chan struct{}),
	}
}

func (sess *session) negotiatedCapability(name string) bool {
	_, ok := sess.negotiated[name]
	return ok
}

// send enqueues message, waiting for queue space until the session
// closes. It reports whether the message was queued.
func (sess *session) send(message protocol.Message) bool {
	select {
	case sess.outbound <- message:
		return true
	case <-sess.done:
		return false
	}
}

// trySend enqueues message without waiting. It reports false when the
// queue is full or the session has closed.
func (sess *session) trySend(message protocol.Message) bool {
	select {
	case <-sess.done:
		return false
	default:
	}
	select {
	case sess.outbound <- message:
		return true
	default:
		return false
	}
}

// close stops the writer and closes the connection, unblocking the
// inbound loop. Safe to call more than once.
func (sess *session) close() {
	sess.closeOnce.Do(func() {
		close(sess.done)
		sess.conn.Close()
	})
}

func (sess *session) writeLoop() {
	defer sess.writer.Done()
	for {
		select {
		case message := <-sess.outbound:
			if err := sess.codec.WriteMessage(message); err != nil {
				if !netutil.IsExpectedCloseError(err) {
					sess.logger.Warn("console write failed", "kind", message.Kind, "error", err)
				}
				sess.close()
				return
			}
		case <-sess.done:
			return
		}
	}
}

// run drives the session until the peer disconnects or the server
// shuts down.
func (sess *session) run(ctx context.Context) {
	sess.writer.Add(1)
	go sess.writeLoop()

	sess.server.register(sess)
	defer func() {
		sess.server.unregister(sess)
		sess.close()
		sess.writer.Wait()
	}()

	sess.logger.Info("console session established",
		"color_level", sess.colorLevel,
		"capabilities", len(sess.negotiated),
	)

	for {
		message, err := sess.codec.ReadMessage()
		if err != nil {
			if netutil.IsExpectedCloseError(err) {
				sess.logger.Info("console session closed")
			} else {
				sess.logger.Warn("console session failed", "error", err)
			}
			return
		}
		sess.server.metrics.messageReceived(message.Kind)
		sess.dispatch(ctx, message)
	}
}

// dispatch applies the session gates to message in order and hands
// surviving messages to the handler registry.
func (sess *session) dispatch(ctx context.Context, message protocol.Message) {
	response := responder{session: sess, requestID: message.RequestID}
	spec, known := message.Spec()
	if !known {
		response.Fail(fmt.Sprintf("Unknown message type: %s", message.Kind))
		return
	}

	if spec.RequiresRequestID && message.RequestID == "" {
		response.Fail(fmt.Sprintf("Missing requestId for message type: %s", message.Kind))
		return
	}

	if message.Kind == protocol.KindPing {
		response.Reply(&protocol.Pong{})
		return
	}

	if spec.Capability != "" && !sess.negotiatedCapability(spec.Capability) {
		response.Fail(fmt.Sprintf("Capability not negotiated: %s", spec.Capability))
		return
	}

	if message.Kind == protocol.KindLogSubscribe {
		if !sess.logReady.Swap(true) {
			sess.logger.Debug("console session subscribed to logs")
		}
		return
	}

	if spec.Direction != protocol.ClientToServer {
		response.Fail(fmt.Sprintf("Invalid message direction: %s", message.Kind))
		return
	}

	if spec.RequiresInteractivity && !sess.server.InteractivityAvailable() {
		response.Fail("Interactivity is currently unavailable")
		return
	}

	handlerCtx := termcolor.WithLevel(ctx, sess.colorLevel)
	if !sess.server.handlers.Handle(handlerCtx, message.Kind, message.Payload, response) {
		response.Fail(fmt.Sprintf("Unknown message type: %s", message.Kind))
	}
}
