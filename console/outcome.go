// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package console

// DisconnectReason is why a remote session ended.
type DisconnectReason int

const (
	// UserEOF means the operator asked to leave (Ctrl-D or end of
	// stdin).
	UserEOF DisconnectReason = iota + 1

	// ConnectionClosed means an established connection went away.
	ConnectionClosed

	// UnrecoverableHandshakeFailure means the server and client cannot
	// agree on a protocol; retrying will fail the same way.
	UnrecoverableHandshakeFailure

	// GenericConnectionError means the connection could not be set up
	// for a reason worth retrying.
	GenericConnectionError
)

func (reason DisconnectReason) String() string {
	switch reason {
	case UserEOF:
		return "user_eof"
	case ConnectionClosed:
		return "connection_closed"
	case UnrecoverableHandshakeFailure:
		return "unrecoverable_handshake_failure"
	case GenericConnectionError:
		return "generic_connection_error"
	default:
		return "unknown"
	}
}

// QuitByDefault reports whether the client exits after a session that
// ended for this reason.
func (reason DisconnectReason) QuitByDefault() bool {
	return reason == UserEOF || reason == UnrecoverableHandshakeFailure
}

// SessionOutcome summarizes one remote session.
type SessionOutcome struct {
	// DidConnect is true when the handshake completed.
	DidConnect bool
	Reason     DisconnectReason
}

// ShouldQuit reports whether the supervisor stops after outcome. With
// ignoreUnrecoverable, handshake failures are retried like any other
// connection error.
func ShouldQuit(outcome SessionOutcome, ignoreUnrecoverable bool) bool {
	if outcome.Reason == UnrecoverableHandshakeFailure && ignoreUnrecoverable {
		return false
	}
	return outcome.Reason.QuitByDefault()
}
