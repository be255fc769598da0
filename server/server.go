// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/bureau-foundation/bureau-console/lib/netutil"
	"github.com/bureau-foundation/bureau-console/lib/termcolor"
	"github.com/bureau-foundation/bureau-console/protocol"
)

// Defaults applied by New for zero Config fields.
const (
	DefaultOutboundQueueSize  = 256
	DefaultBroadcastQueueSize = 1024
)

var (
	// ErrNotRunning is returned by BroadcastLog when Serve is not
	// accepting connections.
	ErrNotRunning = errors.New("console server is not running")

	// ErrBroadcastBacklog is returned by BroadcastLog when the
	// broadcast queue is full and the line was dropped.
	ErrBroadcastBacklog = errors.New("console broadcast queue is full")
)

// Config configures a Server.
type Config struct {
	// SocketPath is the Unix socket the server listens on. Required.
	SocketPath string

	// Logger receives server diagnostics. Nil discards them.
	Logger *slog.Logger

	// Capabilities is the table offered during negotiation. Nil
	// selects protocol.ServerSupportedCapabilities.
	Capabilities map[string]protocol.VersionRange

	// Handlers dispatches gated inbound messages. Nil selects
	// NewDefaultHandlers over the server's hook set.
	Handlers *HandlerRegistry

	// OutboundQueueSize bounds each session's write queue.
	OutboundQueueSize int

	// BroadcastQueueSize bounds pending BroadcastLog calls.
	BroadcastQueueSize int

	// CompressThreshold is the serialized size at which frames are
	// gzipped. Zero selects protocol.DefaultCompressThreshold.
	CompressThreshold int

	// MaxConnections caps concurrent connections, counting those still
	// in handshake. Zero means unlimited.
	MaxConnections int

	// Metrics receives server counters. Nil disables them.
	Metrics *Metrics
}

// Server accepts console clients on a Unix socket.
type Server struct {
	socketPath        string
	logger            *slog.Logger
	capabilities      map[string]protocol.VersionRange
	hooks             *HookSet
	handlers          *HandlerRegistry
	outboundQueueSize int
	compressThreshold int
	maxConnections    int
	metrics           *Metrics
	broadcasts        chan func(termcolor.ColorLevel) string
	activeConnections sync.WaitGroup
	connectionCount   atomic.Int64
	nextSessionID     atomic.Uint64
	running           atomic.Bool
	ready             chan struct{}
	readyOnce         sync.Once
	droppedFrames     atomic.Uint64
	dropLog           rate.Sometimes
	interactive       atomic.Bool
	interactivityMu   sync.Mutex
	sessionsMu        sync.Mutex
	sessions          map[*session]struct{}
}

// New validates config and returns a server ready to Serve.
func New(config Config) (*Server, error) {
	if config.SocketPath == "" {
		return nil, errors.New("console server: socket path is required")
	}
	if config.OutboundQueueSize < 0 || config.BroadcastQueueSize < 0 || config.MaxConnections < 0 {
		return nil, errors.New("console server: queue sizes and connection limit must not be negative")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	capabilities := config.Capabilities
	if capabilities == nil {
		capabilities = protocol.ServerSupportedCapabilities()
	}
	outbound := config.OutboundQueueSize
	if outbound == 0 {
		outbound = DefaultOutboundQueueSize
	}
	broadcast := config.BroadcastQueueSize
	if broadcast == 0 {
		broadcast = DefaultBroadcastQueueSize
	}

	s := &Server{
		socketPath:        config.SocketPath,
		logger:            logger,
		capabilities:      capabilities,
		hooks:             &HookSet{},
		handlers:          config.Handlers,
		outboundQueueSize: outbound,
		compressThreshold: config.CompressThreshold,
		maxConnections:    config.MaxConnections,
		metrics:           config.Metrics,
		broadcasts:        make(chan func(termcolor.ColorLevel) string, broadcast),
		ready:             make(chan struct{}),
		dropLog:           rate.Sometimes{Interval: time.Minute},
		sessions:          make(map[*session]struct{}),
	}
	if s.handlers == nil {
		s.handlers = NewDefaultHandlers(s.hooks)
	}
	return s, nil
}

// SocketPath returns the path the server listens on.
func (s *Server) SocketPath() string { return s.socketPath }

// Hooks returns the hook set behind the default handlers.
func (s *Server) Hooks() *HookSet { return s.hooks }

// Ready is closed once Serve is listening.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Running reports whether Serve is accepting connections.
func (s *Server) Running() bool { return s.running.Load() }

// Serve listens on the socket and serves sessions until ctx is
// cancelled. A stale socket file at the path is removed first; the
// socket file is removed again on return. Serve returns only after
// every session has finished.
func (s *Server) Serve(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", s.socketPath, err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.socketPath, err)
	}
	defer func() {
		listener.Close()
		os.Remove(s.socketPath)
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Unblock Accept when the context is cancelled.
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	var broadcaster sync.WaitGroup
	broadcaster.Add(1)
	go func() {
		defer broadcaster.Done()
		s.runBroadcasts(ctx)
	}()

	s.running.Store(true)
	s.readyOnce.Do(func() { close(s.ready) })
	s.logger.Info("console server listening", "path", s.socketPath)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		if s.maxConnections > 0 && s.connectionCount.Load() >= int64(s.maxConnections) {
			s.logger.Warn("refusing console connection over limit", "limit", s.maxConnections)
			conn.Close()
			continue
		}

		s.connectionCount.Add(1)
		s.activeConnections.Add(1)
		go func() {
			defer s.activeConnections.Done()
			defer s.connectionCount.Add(-1)
			s.handleConnection(ctx, conn)
		}()
	}

	s.running.Store(false)
	cancel()
	s.closeSessions()
	s.activeConnections.Wait()
	broadcaster.Wait()
	s.logger.Info("console server stopped", "path", s.socketPath)
	return nil
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	logger := s.logger
	if pid, uid, err := peerCredentials(conn); err == nil {
		logger = logger.With("peer_pid", pid, "peer_uid", uid)
	}
	logger.Debug("console connection accepted")

	codec := protocol.NewCodec(conn, protocol.CodecOptions{
		CompressThreshold: s.compressThreshold,
		Logger:            logger,
	})

	// Abandon a handshake in progress when the server stops.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	result, err := s.handshake(conn, codec)
	if err != nil {
		switch {
		case errors.Is(err, errHandshakeRejected):
			s.metrics.handshake(handshakeRejected)
		case netutil.IsExpectedCloseError(err), netutil.IsTimeout(err):
			s.metrics.handshake(handshakeFailed)
			logger.Debug("console handshake abandoned", "error", err)
		default:
			s.metrics.handshake(handshakeFailed)
			logger.Warn("console handshake failed", "error", err)
		}
		return
	}
	if err := codec.WriteMessage(result.reply); err != nil {
		s.metrics.handshake(handshakeFailed)
		logger.Warn("writing welcome failed", "error", err)
		return
	}
	s.metrics.handshake(handshakeAccepted)

	sess := s.newSession(conn, codec, result)
	sess.run(ctx)
}

// register adds sess to the registry and queues its initial
// interactivity status. Both happen under the registry lock so a
// concurrent interactivity change is either reflected in the initial
// status or delivered after it.
func (s *Server) register(sess *session) {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	s.sessions[sess] = struct{}{}
	s.metrics.sessionOpened()
	if sess.negotiatedCapability(protocol.CapabilityInteractivityStatus) {
		sess.trySend(interactivityStatus(s.interactive.Load()))
	}
}

func (s *Server) unregister(sess *session) {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	if _, ok := s.sessions[sess]; ok {
		delete(s.sessions, sess)
		s.metrics.sessionClosed()
	}
}

func (s *Server) snapshotSessions() []*session {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	sessions := make([]*session, 0, len(s.sessions))
	for sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	return sessions
}

func (s *Server) closeSessions() {
	for _, sess := range s.snapshotSessions() {
		sess.close()
	}
}

// SessionCount returns the number of established sessions.
func (s *Server) SessionCount() int {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	return len(s.sessions)
}

func interactivityStatus(available bool) protocol.Message {
	return protocol.NewMessage(&protocol.InteractivityStatus{Available: available}, "")
}

// InteractivityAvailable reports whether the host currently accepts
// interactive requests.
func (s *Server) InteractivityAvailable() bool { return s.interactive.Load() }

// SetInteractivityAvailable changes the server-wide interactivity
// flag. When the value changes, every session that negotiated
// interactivity_status is sent the new status. A session whose queue
// is full cannot be told and is disconnected.
func (s *Server) SetInteractivityAvailable(available bool) {
	s.interactivityMu.Lock()
	defer s.interactivityMu.Unlock()

	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	if s.interactive.Swap(available) == available {
		return
	}
	s.logger.Info("console interactivity changed", "available", available)
	status := interactivityStatus(available)
	for sess := range s.sessions {
		if !sess.negotiatedCapability(protocol.CapabilityInteractivityStatus) {
			continue
		}
		if !sess.trySend(status) {
			sess.logger.Warn("console session too far behind for interactivity change, disconnecting")
			sess.close()
		}
	}
}

// EnableInteractivity installs hooks behind the default handlers and
// makes interactivity available.
func (s *Server) EnableInteractivity(hooks Hooks) {
	s.hooks.Install(hooks)
	s.SetInteractivityAvailable(true)
}

// DisableInteractivity makes interactivity unavailable. Installed
// hooks are kept.
func (s *Server) DisableInteractivity() {
	s.SetInteractivityAvailable(false)
}

// BroadcastLog queues a log line for every log-subscribed session.
// render is called at most once per distinct color level among those
// sessions, on the broadcast goroutine. BroadcastLog never blocks.
func (s *Server) BroadcastLog(render func(termcolor.ColorLevel) string) error {
	if !s.running.Load() {
		return ErrNotRunning
	}
	select {
	case s.broadcasts <- render:
		return nil
	default:
		s.metrics.frameDropped(dropBroadcastBacklog)
		s.noteDroppedFrame()
		return ErrBroadcastBacklog
	}
}

func (s *Server) runBroadcasts(ctx context.Context) {
	for {
		select {
		case render := <-s.broadcasts:
			s.fanOut(render)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) fanOut(render func(termcolor.ColorLevel) string) {
	rendered := make(map[termcolor.ColorLevel]string)
	failed := make(map[termcolor.ColorLevel]bool)
	delivered := false
	for _, sess := range s.snapshotSessions() {
		if !sess.logReady.Load() || failed[sess.colorLevel] {
			continue
		}
		line, ok := rendered[sess.colorLevel]
		if !ok {
			var err error
			line, err = safeRender(render, sess.colorLevel)
			if err != nil {
				// Only sessions at this level miss the line.
				s.logger.Error("rendering console log line failed", "color_level", sess.colorLevel, "error", err)
				failed[sess.colorLevel] = true
				continue
			}
			rendered[sess.colorLevel] = line
		}
		if sess.trySend(protocol.NewMessage(&protocol.LogForward{Rendered: line}, "")) {
			delivered = true
			continue
		}
		s.metrics.frameDropped(dropSlowSession)
		s.noteDroppedFrame()
	}
	if delivered {
		s.metrics.logBroadcast()
	}
}

func safeRender(render func(termcolor.ColorLevel) string, level termcolor.ColorLevel) (line string, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("render panicked: %v", recovered)
		}
	}()
	return render(level), nil
}

func (s *Server) noteDroppedFrame() {
	total := s.droppedFrames.Add(1)
	s.dropLog.Do(func() {
		s.logger.Warn("dropping console log frames for slow sessions", "dropped_total", total)
	})
}
