// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/bureau-foundation/bureau-console/lib/termcolor"
	"github.com/bureau-foundation/bureau-console/lib/testutil"
	"github.com/bureau-foundation/bureau-console/protocol"
)

const testTimeout = 5 * time.Second

// startServer runs a server on a fresh socket until the test ends.
func startServer(t *testing.T, config Config) *Server {
	t.Helper()
	if config.SocketPath == "" {
		config.SocketPath = testutil.SocketPath(t, "console.sock")
	}
	if config.Logger == nil {
		config.Logger = testutil.Logger(t)
	}
	server, err := New(config)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := testutil.RequireReceive(t, done, testTimeout, "waiting for Serve to return"); err != nil {
			t.Errorf("Serve: %v", err)
		}
	})
	select {
	case <-server.Ready():
	case err := <-done:
		t.Fatalf("Serve returned early: %v", err)
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for server to listen")
	}
	return server
}

// rawClient speaks the wire protocol directly, without the client
// package, so tests observe exactly what the server sends.
type rawClient struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
}

func dial(t *testing.T, server *Server) *rawClient {
	t.Helper()
	conn, err := net.Dial("unix", server.SocketPath())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &rawClient{t: t, conn: conn, reader: bufio.NewReader(conn)}
}

func (c *rawClient) write(message protocol.Message) {
	c.t.Helper()
	data, err := protocol.Marshal(message)
	if err != nil {
		c.t.Fatalf("marshal %s: %v", message.Kind, err)
	}
	if err := protocol.WriteFrame(c.conn, data, protocol.CompressionNone); err != nil {
		c.t.Fatalf("write %s: %v", message.Kind, err)
	}
}

func (c *rawClient) readFrame() (protocol.Message, protocol.Compression, error) {
	c.conn.SetReadDeadline(time.Now().Add(testTimeout))
	data, compression, err := protocol.ReadFrameCompression(c.reader)
	if err != nil {
		return protocol.Message{}, 0, err
	}
	message, ok := protocol.Unmarshal(data)
	if !ok {
		c.t.Fatalf("undecodable frame: %q", data)
	}
	return message, compression, nil
}

func (c *rawClient) read() protocol.Message {
	c.t.Helper()
	message, _, err := c.readFrame()
	if err != nil {
		c.t.Fatalf("read: %v", err)
	}
	return message
}

func (c *rawClient) requireClosed() {
	c.t.Helper()
	if message, _, err := c.readFrame(); err == nil {
		c.t.Fatalf("read %s, want closed connection", message.Kind)
	} else if !errors.Is(err, io.EOF) && !strings.Contains(err.Error(), "reset") {
		c.t.Fatalf("read error = %v, want EOF", err)
	}
}

// handshake sends hello and returns the WELCOME. When the session
// negotiated interactivity_status the initial status is consumed and
// returned as well.
func (c *rawClient) handshake(hello *protocol.Hello) (*protocol.Welcome, *protocol.InteractivityStatus) {
	c.t.Helper()
	c.write(protocol.NewMessage(hello, "hello-1"))
	reply := c.read()
	welcome, ok := reply.Payload.(*protocol.Welcome)
	if !ok {
		c.t.Fatalf("handshake reply = %s %+v, want WELCOME", reply.Kind, reply.Payload)
	}
	if reply.RequestID != "hello-1" {
		c.t.Fatalf("welcome request id = %q, want hello-1", reply.RequestID)
	}
	if _, ok := welcome.SelectedCapabilities[protocol.CapabilityInteractivityStatus]; !ok {
		return welcome, nil
	}
	message := c.read()
	status, ok := message.Payload.(*protocol.InteractivityStatus)
	if !ok {
		c.t.Fatalf("message after welcome = %s, want INTERACTIVITY_STATUS", message.Kind)
	}
	return welcome, status
}

func (c *rawClient) ping(requestID string) {
	c.t.Helper()
	c.write(protocol.NewMessage(&protocol.Ping{}, requestID))
	message := c.read()
	if message.Kind != protocol.KindPong || message.RequestID != requestID {
		c.t.Fatalf("reply = %s/%q, want PONG/%q", message.Kind, message.RequestID, requestID)
	}
}

func (c *rawClient) subscribe() {
	c.t.Helper()
	c.write(protocol.NewMessage(&protocol.LogSubscribe{}, ""))
	// Inbound messages are processed in order, so the PONG proves the
	// subscription took effect.
	c.ping("subscribed")
}

func helloAt(level termcolor.ColorLevel) *protocol.Hello {
	hello := validHello()
	hello.ColorLevel = &level
	return hello
}

func TestHandshakeEstablishesSession(t *testing.T) {
	server := startServer(t, Config{})
	client := dial(t, server)
	welcome, status := client.handshake(validHello())
	if welcome.TransportEpoch != protocol.TransportEpoch {
		t.Errorf("transport epoch = %d", welcome.TransportEpoch)
	}
	if len(welcome.SelectedCapabilities) != 6 {
		t.Errorf("selected = %v, want all six baseline capabilities", welcome.SelectedCapabilities)
	}
	if status == nil || status.Available {
		t.Errorf("initial status = %+v, want available=false", status)
	}
	testutil.Eventually(t, testTimeout, func() bool { return server.SessionCount() == 1 }, "session registered")
}

func TestHandshakeRejectClosesConnection(t *testing.T) {
	server := startServer(t, Config{})
	client := dial(t, server)

	hello := validHello()
	supported := protocol.ClientSupportedCapabilities()
	delete(supported, protocol.CapabilityInteractivityStatus)
	hello.Capabilities = protocol.Advertise(supported)
	client.write(protocol.NewMessage(hello, "hello-1"))

	reply := client.read()
	reject, ok := reply.Payload.(*protocol.Reject)
	if !ok {
		t.Fatalf("reply = %s, want REJECT", reply.Kind)
	}
	if reject.Reason != protocol.RejectMissingRequiredCapabilities {
		t.Errorf("reason = %q", reject.Reason)
	}
	if len(reject.MissingRequiredCapabilities) != 1 || reject.MissingRequiredCapabilities[0] != protocol.CapabilityInteractivityStatus {
		t.Errorf("missing = %v", reject.MissingRequiredCapabilities)
	}
	if reject.ExpectedTransportEpoch != nil {
		t.Errorf("expected epoch = %d, want null", *reject.ExpectedTransportEpoch)
	}
	client.requireClosed()
}

func TestPingIsCorrelated(t *testing.T) {
	server := startServer(t, Config{})
	client := dial(t, server)
	client.handshake(validHello())
	client.ping("request-42")
}

func TestSessionGating(t *testing.T) {
	server := startServer(t, Config{})
	client := dial(t, server)
	client.handshake(validHello())

	tests := []struct {
		name      string
		message   protocol.Message
		wantID    string
		wantError string
	}{
		{
			name:      "ping without request id",
			message:   protocol.NewMessage(&protocol.Ping{}, ""),
			wantError: "Missing requestId for message type: PING",
		},
		{
			name:      "completion without request id",
			message:   protocol.NewMessage(&protocol.CompletionRequest{Command: "he", Cursor: 2}, ""),
			wantError: "Missing requestId for message type: COMPLETION_REQUEST",
		},
		{
			name:      "server kind sent by client",
			message:   protocol.NewMessage(&protocol.LogForward{Rendered: "x"}, "r-1"),
			wantID:    "r-1",
			wantError: "Invalid message direction: LOG_FORWARD",
		},
		{
			name:      "ungated server kind sent by client",
			message:   protocol.NewMessage(&protocol.Welcome{}, "r-2"),
			wantID:    "r-2",
			wantError: "Invalid message direction: WELCOME",
		},
		{
			name:      "interactive request while unavailable",
			message:   protocol.NewMessage(&protocol.CompletionRequest{Command: "he", Cursor: 2}, "r-3"),
			wantID:    "r-3",
			wantError: "Interactivity is currently unavailable",
		},
		{
			name:      "command while unavailable",
			message:   protocol.NewMessage(&protocol.CommandExecute{Command: "help"}, ""),
			wantError: "Interactivity is currently unavailable",
		},
		{
			name:      "second hello",
			message:   protocol.NewMessage(validHello(), "r-4"),
			wantID:    "r-4",
			wantError: "Unknown message type: HELLO",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			client.write(test.message)
			reply := client.read()
			failure, ok := reply.Payload.(*protocol.Error)
			if !ok {
				t.Fatalf("reply = %s, want ERROR", reply.Kind)
			}
			if failure.Message != test.wantError {
				t.Errorf("error = %q, want %q", failure.Message, test.wantError)
			}
			if reply.RequestID != test.wantID {
				t.Errorf("request id = %q, want %q", reply.RequestID, test.wantID)
			}
		})
	}
}

func TestCapabilityGate(t *testing.T) {
	server := startServer(t, Config{})
	server.SetInteractivityAvailable(true)
	client := dial(t, server)

	hello := validHello()
	supported := protocol.ClientSupportedCapabilities()
	delete(supported, protocol.CapabilityCompletion)
	hello.Capabilities = protocol.Advertise(supported)
	welcome, status := client.handshake(hello)
	if _, ok := welcome.SelectedCapabilities[protocol.CapabilityCompletion]; ok {
		t.Fatal("completion negotiated without being advertised")
	}
	if status == nil || !status.Available {
		t.Fatalf("initial status = %+v, want available=true", status)
	}

	client.write(protocol.NewMessage(&protocol.CompletionRequest{Command: "he", Cursor: 2}, "r"))
	reply := client.read()
	failure, ok := reply.Payload.(*protocol.Error)
	if !ok || failure.Message != "Capability not negotiated: completion" {
		t.Fatalf("reply = %s %+v, want capability error", reply.Kind, reply.Payload)
	}
}

func TestLogSubscribeRequiresCapability(t *testing.T) {
	server := startServer(t, Config{Capabilities: map[string]protocol.VersionRange{
		protocol.CapabilityCommandExecute:      protocol.Exactly(1),
		protocol.CapabilityInteractivityStatus: protocol.Exactly(1),
	}})
	client := dial(t, server)
	hello := validHello()
	hello.RequiredCapabilities = protocol.Names(protocol.CapabilityCommandExecute)
	client.handshake(hello)

	client.write(protocol.NewMessage(&protocol.LogSubscribe{}, ""))
	reply := client.read()
	failure, ok := reply.Payload.(*protocol.Error)
	if !ok || failure.Message != "Capability not negotiated: log_forward" || reply.RequestID != "" {
		t.Fatalf("reply = %s/%q %+v", reply.Kind, reply.RequestID, reply.Payload)
	}
}

func TestInteractivityChangesReachSessions(t *testing.T) {
	server := startServer(t, Config{})
	client := dial(t, server)
	client.handshake(helloAt(termcolor.Indexed256))

	server.EnableInteractivity(Hooks{
		Completer: CompleterFunc(func(ctx context.Context, command string, cursor int) ([]protocol.Candidate, error) {
			return []protocol.Candidate{{
				Value:   "help",
				Display: string(termcolor.Current(ctx, termcolor.None)),
			}}, nil
		}),
	})
	message := client.read()
	status, ok := message.Payload.(*protocol.InteractivityStatus)
	if !ok || !status.Available || message.RequestID != "" {
		t.Fatalf("message = %s/%q %+v, want unsolicited available=true", message.Kind, message.RequestID, message.Payload)
	}

	client.write(protocol.NewMessage(&protocol.CompletionRequest{Command: "he", Cursor: 2}, "c-1"))
	reply := client.read()
	response, ok := reply.Payload.(*protocol.CompletionResponse)
	if !ok || reply.RequestID != "c-1" {
		t.Fatalf("reply = %s/%q, want COMPLETION_RESPONSE/c-1", reply.Kind, reply.RequestID)
	}
	if len(response.Candidates) != 1 || response.Candidates[0].Display != string(termcolor.Indexed256) {
		t.Errorf("candidates = %+v, want one rendered at INDEXED_256", response.Candidates)
	}

	// Repeating the current value is not announced.
	server.SetInteractivityAvailable(true)
	server.DisableInteractivity()
	message = client.read()
	status, ok = message.Payload.(*protocol.InteractivityStatus)
	if !ok || status.Available {
		t.Fatalf("message = %s %+v, want available=false", message.Kind, message.Payload)
	}
}

func TestInteractivityStatusOnlyForNegotiatedSessions(t *testing.T) {
	server := startServer(t, Config{})
	client := dial(t, server)
	hello := validHello()
	supported := protocol.ClientSupportedCapabilities()
	delete(supported, protocol.CapabilityInteractivityStatus)
	hello.Capabilities = protocol.Advertise(supported)
	hello.RequiredCapabilities = protocol.Names(protocol.CapabilityCommandExecute)
	_, status := client.handshake(hello)
	if status != nil {
		t.Fatalf("status sent to session without interactivity_status: %+v", status)
	}

	server.SetInteractivityAvailable(true)
	// PONG must be the next frame: no status was queued.
	client.ping("after-change")
}

func TestBroadcastLogCompressesLargeLines(t *testing.T) {
	server := startServer(t, Config{})
	client := dial(t, server)
	client.handshake(validHello())
	client.subscribe()

	line := strings.Repeat("abcdefgh", 256)
	if err := server.BroadcastLog(func(termcolor.ColorLevel) string { return line }); err != nil {
		t.Fatalf("BroadcastLog: %v", err)
	}
	message, compression, err := client.readFrame()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if compression != protocol.CompressionGzip {
		t.Errorf("compression = %s, want gzip", compression)
	}
	forward, ok := message.Payload.(*protocol.LogForward)
	if !ok {
		t.Fatalf("message = %s, want LOG_FORWARD", message.Kind)
	}
	if forward.Rendered != line {
		t.Errorf("rendered line differs: got %d bytes, want %d", len(forward.Rendered), len(line))
	}
}

func TestBroadcastRendersOncePerColorLevel(t *testing.T) {
	server := startServer(t, Config{})
	levels := []termcolor.ColorLevel{termcolor.None, termcolor.TrueColor, termcolor.TrueColor}
	clients := make([]*rawClient, len(levels))
	for index, level := range levels {
		clients[index] = dial(t, server)
		clients[index].handshake(helloAt(level))
		clients[index].subscribe()
	}

	var mu sync.Mutex
	rendered := make(map[termcolor.ColorLevel]int)
	err := server.BroadcastLog(func(level termcolor.ColorLevel) string {
		mu.Lock()
		defer mu.Unlock()
		rendered[level]++
		return "line@" + string(level)
	})
	if err != nil {
		t.Fatalf("BroadcastLog: %v", err)
	}

	for index, client := range clients {
		message := client.read()
		forward, ok := message.Payload.(*protocol.LogForward)
		if !ok {
			t.Fatalf("client %d: message = %s, want LOG_FORWARD", index, message.Kind)
		}
		if want := "line@" + string(levels[index]); forward.Rendered != want {
			t.Errorf("client %d: rendered = %q, want %q", index, forward.Rendered, want)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(rendered) != 2 || rendered[termcolor.None] != 1 || rendered[termcolor.TrueColor] != 1 {
		t.Errorf("render calls = %v, want one per distinct level", rendered)
	}
}

func TestBroadcastSkipsUnsubscribedSessions(t *testing.T) {
	server := startServer(t, Config{})
	quiet := dial(t, server)
	quiet.handshake(validHello())
	listener := dial(t, server)
	listener.handshake(validHello())
	listener.subscribe()

	for range 2 {
		if err := server.BroadcastLog(func(termcolor.ColorLevel) string { return "hello" }); err != nil {
			t.Fatalf("BroadcastLog: %v", err)
		}
		if message := listener.read(); message.Kind != protocol.KindLogForward {
			t.Fatalf("listener got %s, want LOG_FORWARD", message.Kind)
		}
	}
	quiet.ping("quiet")
}

func TestBroadcastDropsForSlowSession(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics, err := NewMetrics(registry)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	server := startServer(t, Config{OutboundQueueSize: 4, Metrics: metrics})
	stalled := dial(t, server)
	stalled.handshake(validHello())
	stalled.subscribe()
	reading := dial(t, server)
	reading.handshake(validHello())
	reading.subscribe()

	// Random hex keeps each frame large after gzip, so the stalled
	// peer's socket buffer fills within a few lines.
	const lines = 50
	random := make([]byte, 150*1024)
	for index := range lines {
		if _, err := rand.Read(random); err != nil {
			t.Fatal(err)
		}
		line := hex.EncodeToString(random)
		if err := server.BroadcastLog(func(termcolor.ColorLevel) string { return line }); err != nil {
			t.Fatalf("BroadcastLog %d: %v", index, err)
		}
		message := reading.read()
		forward, ok := message.Payload.(*protocol.LogForward)
		if !ok {
			t.Fatalf("line %d: message = %s, want LOG_FORWARD", index, message.Kind)
		}
		if forward.Rendered != line {
			t.Fatalf("line %d: rendered line differs from the broadcast", index)
		}
	}

	if dropped := promtest.ToFloat64(metrics.FramesDropped.WithLabelValues(dropSlowSession)); dropped == 0 {
		t.Error("no frames dropped for the stalled session")
	}
	if got := server.SessionCount(); got != 2 {
		t.Errorf("SessionCount = %d, want the stalled session kept", got)
	}
}

func TestBroadcastRenderFailureSkipsOnlyThatLevel(t *testing.T) {
	server := startServer(t, Config{})
	plain := dial(t, server)
	plain.handshake(helloAt(termcolor.None))
	plain.subscribe()
	colored := dial(t, server)
	colored.handshake(helloAt(termcolor.TrueColor))
	colored.subscribe()

	for _, line := range []string{"first", "second"} {
		err := server.BroadcastLog(func(level termcolor.ColorLevel) string {
			if line == "first" && level == termcolor.None {
				panic("cannot render")
			}
			return line
		})
		if err != nil {
			t.Fatalf("BroadcastLog %q: %v", line, err)
		}
	}

	for _, want := range []string{"first", "second"} {
		message := colored.read()
		if forward, ok := message.Payload.(*protocol.LogForward); !ok || forward.Rendered != want {
			t.Fatalf("colored session got %s %+v, want LOG_FORWARD %q", message.Kind, message.Payload, want)
		}
	}
	message := plain.read()
	if forward, ok := message.Payload.(*protocol.LogForward); !ok || forward.Rendered != "second" {
		t.Fatalf("plain session got %s %+v, want only the second line", message.Kind, message.Payload)
	}
}

func TestHandshakeTimeoutClosesSilentClient(t *testing.T) {
	server := startServer(t, Config{})
	started := time.Now()
	silent := dial(t, server)
	silent.requireClosed()

	elapsed := time.Since(started)
	if elapsed < protocol.HandshakeTimeout-250*time.Millisecond || elapsed > protocol.HandshakeTimeout+2*time.Second {
		t.Errorf("silent client closed after %v, want about %v", elapsed, protocol.HandshakeTimeout)
	}
}

func TestBroadcastLogRequiresRunningServer(t *testing.T) {
	server, err := New(Config{SocketPath: testutil.SocketPath(t, "console.sock")})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := server.BroadcastLog(func(termcolor.ColorLevel) string { return "x" }); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("BroadcastLog = %v, want ErrNotRunning", err)
	}
}

func TestServeReplacesStaleSocketAndCleansUp(t *testing.T) {
	path := testutil.SocketPath(t, "console.sock")
	if err := os.WriteFile(path, []byte("stale"), 0o600); err != nil {
		t.Fatal(err)
	}
	server, err := New(Config{SocketPath: path, Logger: testutil.Logger(t)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx) }()
	testutil.RequireClosed(t, server.Ready(), testTimeout, "waiting for server to listen")

	client := dial(t, server)
	client.handshake(validHello())

	cancel()
	if err := testutil.RequireReceive(t, done, testTimeout, "waiting for Serve to return"); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	client.requireClosed()
	if server.Running() {
		t.Error("server still reports running")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("socket file left behind: %v", err)
	}
}

func TestMaxConnections(t *testing.T) {
	server := startServer(t, Config{MaxConnections: 1})
	first := dial(t, server)
	first.handshake(validHello())

	second := dial(t, server)
	second.requireClosed()
	first.ping("still-open")
}

func TestMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics, err := NewMetrics(registry)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	if _, err := NewMetrics(registry); err == nil {
		t.Error("registering metrics twice succeeded")
	}
	server := startServer(t, Config{Metrics: metrics})

	accepted := dial(t, server)
	accepted.handshake(validHello())
	accepted.ping("p")

	rejected := dial(t, server)
	rejected.write(protocol.NewMessage(validHello(), ""))
	rejected.read()
	rejected.requireClosed()

	testutil.Eventually(t, testTimeout, func() bool {
		return promtest.ToFloat64(metrics.Handshakes.WithLabelValues(handshakeAccepted)) == 1 &&
			promtest.ToFloat64(metrics.Handshakes.WithLabelValues(handshakeRejected)) == 1
	}, "handshake counters")
	if got := promtest.ToFloat64(metrics.SessionsActive); got != 1 {
		t.Errorf("sessions active = %v, want 1", got)
	}
	if got := promtest.ToFloat64(metrics.MessagesReceived.WithLabelValues(string(protocol.KindPing))); got != 1 {
		t.Errorf("pings received = %v, want 1", got)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New accepted an empty socket path")
	}
	if _, err := New(Config{SocketPath: "x.sock", OutboundQueueSize: -1}); err == nil {
		t.Error("New accepted a negative queue size")
	}
}
