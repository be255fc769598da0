// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package server hosts the console bridge endpoint inside a running
// process.
//
// A [Server] listens on a Unix socket, runs the HELLO/WELCOME
// handshake for every connection, and then drives one session per
// client. Sessions gate inbound messages on request ids, negotiated
// capabilities, message direction and the server-wide interactivity
// flag before dispatching them to a [HandlerRegistry]. The default
// registry routes completion, highlighting, parsing and command
// execution to the host's installed [Hooks].
//
// Log output reaches clients through [Server.BroadcastLog], which
// renders each line once per distinct color level among subscribed
// sessions. [NewForwardingHandler] adapts a process's slog output to
// that broadcast.
//
// The handshake and gating logic are pure functions over decoded
// messages, so most behavior is testable without a socket; the
// connection tests use real Unix sockets under /tmp.
package server
