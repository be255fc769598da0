// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/bureau-console/lib/netutil"
	"github.com/bureau-foundation/bureau-console/lib/termcolor"
	"github.com/bureau-foundation/bureau-console/protocol"
)

// DefaultOutboundQueueSize bounds the write queue when Config leaves
// it zero.
const DefaultOutboundQueueSize = 256

// Config configures a Transport.
type Config struct {
	// SocketPath is the server's Unix socket. Required.
	SocketPath string

	// ColorLevel is announced in HELLO. Empty selects termcolor.None.
	ColorLevel termcolor.ColorLevel

	// TransportEpochRange is announced in HELLO and checked against
	// WELCOME. Nil selects protocol.ClientTransportEpochRange.
	TransportEpochRange *protocol.VersionRange

	// Capabilities is the advertised capability table. Nil selects
	// protocol.ClientSupportedCapabilities.
	Capabilities map[string]protocol.VersionRange

	// RequiredCapabilities must all be selected for the handshake to
	// succeed. Nil selects protocol.ClientRequiredCapabilities.
	RequiredCapabilities []string

	// OutboundQueueSize bounds the write queue. Zero selects
	// DefaultOutboundQueueSize.
	OutboundQueueSize int

	// CompressThreshold is the serialized size at which frames are
	// gzipped. Zero selects protocol.DefaultCompressThreshold.
	CompressThreshold int

	// HandshakeTimeout bounds the wait for the server's handshake
	// reply. Zero selects protocol.HandshakeTimeout.
	HandshakeTimeout time.Duration

	// Logger receives transport diagnostics. Nil discards them.
	Logger *slog.Logger
}

// Transport is one client connection to a console server. It is used
// for a single connection: after Disconnect, create a new Transport to
// reconnect.
//
// Inbound messages that answer a pending request go to that request's
// caller; everything else goes to the message handler, which runs on
// the reader goroutine and must not wait for responses.
type Transport struct {
	socketPath        string
	offer             offer
	outboundQueueSize int
	compressThreshold int
	handshakeTimeout  time.Duration
	logger            *slog.Logger

	connected   atomic.Bool
	interactive atomic.Bool
	started     atomic.Bool

	mu                sync.Mutex
	conn              net.Conn
	selected          map[string]int
	pending           map[string]chan protocol.Message
	messageHandler    func(protocol.Message)
	disconnectHandler func()

	outbound       chan protocol.Message
	done           chan struct{}
	disconnectOnce sync.Once
}

// New returns an unconnected transport.
func New(config Config) (*Transport, error) {
	if config.SocketPath == "" {
		return nil, errors.New("console transport: socket path is required")
	}
	o := offer{
		epochs:       protocol.ClientTransportEpochRange(),
		colorLevel:   config.ColorLevel,
		capabilities: config.Capabilities,
		required:     config.RequiredCapabilities,
	}
	if config.TransportEpochRange != nil {
		o.epochs = *config.TransportEpochRange
	}
	if !o.epochs.Valid() {
		return nil, fmt.Errorf("console transport: invalid transport epoch range %s", o.epochs)
	}
	if o.colorLevel == "" {
		o.colorLevel = termcolor.None
	}
	if o.capabilities == nil {
		o.capabilities = protocol.ClientSupportedCapabilities()
	}
	if o.required == nil {
		o.required = protocol.ClientRequiredCapabilities()
	}

	t := &Transport{
		socketPath:        config.SocketPath,
		offer:             o,
		outboundQueueSize: config.OutboundQueueSize,
		compressThreshold: config.CompressThreshold,
		handshakeTimeout:  config.HandshakeTimeout,
		logger:            config.Logger,
		pending:           make(map[string]chan protocol.Message),
		done:              make(chan struct{}),
	}
	if t.outboundQueueSize <= 0 {
		t.outboundQueueSize = DefaultOutboundQueueSize
	}
	if t.handshakeTimeout <= 0 {
		t.handshakeTimeout = protocol.HandshakeTimeout
	}
	if t.logger == nil {
		t.logger = slog.New(slog.DiscardHandler)
	}
	t.outbound = make(chan protocol.Message, t.outboundQueueSize)
	return t, nil
}

// SetMessageHandler sets the receiver of inbound messages that do not
// answer a pending request. Set it before Connect to observe the
// initial interactivity status.
func (t *Transport) SetMessageHandler(handler func(protocol.Message)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messageHandler = handler
}

// SetDisconnectHandler sets a callback run once when an established
// connection ends, whichever side ends it.
func (t *Transport) SetDisconnectHandler(handler func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disconnectHandler = handler
}

// Connect dials the socket and performs the handshake. Handshake
// rejections and protocol violations are returned as HandshakeFailure
// errors; anything else is a connection error worth retrying.
func (t *Transport) Connect(ctx context.Context) error {
	if !t.started.CompareAndSwap(false, true) {
		return errors.New("console transport: Connect called twice")
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unix", t.socketPath)
	if err != nil {
		t.Disconnect()
		return fmt.Errorf("connecting to %s: %w", t.socketPath, err)
	}
	codec := protocol.NewCodec(conn, protocol.CodecOptions{
		CompressThreshold: t.compressThreshold,
		Logger:            t.logger,
	})

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	selected, err := t.handshake(ctx, conn, codec)
	if err != nil {
		t.Disconnect()
		return err
	}

	t.mu.Lock()
	t.selected = selected
	t.mu.Unlock()
	t.connected.Store(true)

	// A Disconnect that raced with the handshake already closed done.
	select {
	case <-t.done:
		t.connected.Store(false)
		return ErrDisconnected
	default:
	}

	go t.writeLoop(codec)
	go t.readLoop(codec)
	t.logger.Debug("console handshake complete", "selected", selected)
	return nil
}

func (t *Transport) handshake(ctx context.Context, conn net.Conn, codec *protocol.Codec) (map[string]int, error) {
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Unix(1, 0)) })
	defer stop()
	conn.SetDeadline(time.Now().Add(t.handshakeTimeout))
	defer conn.SetDeadline(time.Time{})

	requestID := uuid.NewString()
	if err := codec.WriteMessage(protocol.NewMessage(t.offer.hello(), requestID)); err != nil {
		return nil, fmt.Errorf("sending hello: %w", err)
	}
	response, err := codec.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("waiting for handshake response: %w", err)
	}
	return t.offer.evaluateResponse(requestID, response)
}

func (t *Transport) writeLoop(codec *protocol.Codec) {
	for {
		select {
		case message := <-t.outbound:
			if err := codec.WriteMessage(message); err != nil {
				if !netutil.IsExpectedCloseError(err) {
					t.logger.Warn("console write failed", "kind", message.Kind, "error", err)
				}
				t.Disconnect()
				return
			}
		case <-t.done:
			return
		}
	}
}

func (t *Transport) readLoop(codec *protocol.Codec) {
	defer t.Disconnect()
	for {
		message, err := codec.ReadMessage()
		if err != nil {
			if netutil.IsExpectedCloseError(err) {
				t.logger.Debug("console connection closed", "error", err)
			} else {
				t.logger.Warn("console read failed", "error", err)
			}
			return
		}

		// Publish interactivity before anything can observe this
		// message, so a request sent in response sees the new state.
		if status, ok := message.Payload.(*protocol.InteractivityStatus); ok {
			t.interactive.Store(status.Available)
		}

		if message.RequestID != "" {
			if waiter := t.takePending(message.RequestID); waiter != nil {
				waiter <- message
				continue
			}
		}

		t.mu.Lock()
		handler := t.messageHandler
		t.mu.Unlock()
		if handler != nil {
			handler(message)
		}
	}
}

func (t *Transport) takePending(requestID string) chan protocol.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	waiter, ok := t.pending[requestID]
	if !ok {
		return nil
	}
	delete(t.pending, requestID)
	return waiter
}

// NewRequest wraps payload in a message with a fresh request id.
func (t *Transport) NewRequest(payload protocol.Payload) protocol.Message {
	return protocol.NewMessage(payload, uuid.NewString())
}

// Send queues message for writing. It waits only while the write
// queue is full.
func (t *Transport) Send(message protocol.Message) error {
	if !t.connected.Load() {
		return ErrDisconnected
	}
	select {
	case t.outbound <- message:
		return nil
	case <-t.done:
		return ErrDisconnected
	}
}

// SendRequest sends message and waits up to timeout for the reply
// with its request id. A message without a request id is given one.
// The reply is returned when its kind is expected; an ERROR reply
// yields *ErrorResponse and any other kind *UnexpectedResponseError.
func (t *Transport) SendRequest(ctx context.Context, message protocol.Message, expected protocol.Kind, timeout time.Duration) (protocol.Message, error) {
	if spec, ok := message.Spec(); ok && spec.RequiresInteractivity && !t.interactive.Load() {
		return protocol.Message{}, ErrInteractivityUnavailable
	}
	if message.RequestID == "" {
		message.RequestID = uuid.NewString()
	}
	requestID := message.RequestID

	waiter := make(chan protocol.Message, 1)
	t.mu.Lock()
	if !t.connected.Load() {
		t.mu.Unlock()
		return protocol.Message{}, ErrDisconnected
	}
	t.pending[requestID] = waiter
	t.mu.Unlock()

	if err := t.Send(message); err != nil {
		t.takePending(requestID)
		return protocol.Message{}, err
	}
	return t.awaitResponse(ctx, requestID, waiter, expected, timeout)
}

// awaitResponse waits for the reply registered under requestID.
func (t *Transport) awaitResponse(ctx context.Context, requestID string, waiter <-chan protocol.Message, expected protocol.Kind, timeout time.Duration) (protocol.Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case response := <-waiter:
		return checkResponse(response, expected)
	case <-t.done:
		// The reply may have been delivered just before the reader hit
		// the end of the connection.
		select {
		case response := <-waiter:
			return checkResponse(response, expected)
		default:
		}
		return protocol.Message{}, ErrDisconnected
	case <-timer.C:
		t.takePending(requestID)
		return protocol.Message{}, ErrTimeout
	case <-ctx.Done():
		t.takePending(requestID)
		return protocol.Message{}, ctx.Err()
	}
}

// checkResponse maps a reply to SendRequest's result.
func checkResponse(response protocol.Message, expected protocol.Kind) (protocol.Message, error) {
	if failure, ok := response.Payload.(*protocol.Error); ok {
		return response, &ErrorResponse{Message: failure.Message, Details: failure.Details}
	}
	if response.Kind != expected {
		return response, &UnexpectedResponseError{Expected: expected, Actual: response.Kind}
	}
	return response, nil
}

// Disconnect closes the connection and fails every pending request
// with ErrDisconnected. The disconnect handler runs if the transport
// had connected. Safe to call more than once and from any goroutine.
func (t *Transport) Disconnect() {
	t.disconnectOnce.Do(func() {
		wasConnected := t.connected.Swap(false)
		close(t.done)

		t.mu.Lock()
		conn := t.conn
		clear(t.pending)
		handler := t.disconnectHandler
		t.mu.Unlock()

		if conn != nil {
			conn.Close()
		}
		if wasConnected && handler != nil {
			handler()
		}
	})
}

// Done is closed once the transport has disconnected.
func (t *Transport) Done() <-chan struct{} { return t.done }

// IsConnected reports whether the handshake completed and the
// connection is still open.
func (t *Transport) IsConnected() bool { return t.connected.Load() }

// InteractivityAvailable reports the last interactivity status the
// server announced. It is false until the first announcement.
func (t *Transport) InteractivityAvailable() bool { return t.interactive.Load() }

// SelectedCapabilities returns the capabilities the server selected.
func (t *Transport) SelectedCapabilities() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	selected := make(map[string]int, len(t.selected))
	for name, version := range t.selected {
		selected[name] = version
	}
	return selected
}

// Negotiated reports whether the server selected capability.
func (t *Transport) Negotiated(capability string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.selected[capability]
	return ok
}
