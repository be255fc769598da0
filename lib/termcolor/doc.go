// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package termcolor models how many colors a terminal can display and
// renders text for a specific level.
//
// A [ColorLevel] is declared by the console client during the handshake
// and bound to every request the server dispatches for that client.
// Server code that renders output (log records, highlighted input)
// reads the level from the request context with [FromContext] and
// produces ANSI sequences suitable for the remote terminal rather than
// the local one. [WithLevel] derives a context carrying a level; the
// previous level is restored simply by using the parent context again.
//
// Rendering goes through lipgloss renderers pinned to the termenv
// profile matching each level, so styles are downsampled the same way
// regardless of which process's terminal the server is attached to.
package termcolor
