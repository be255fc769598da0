// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bureau-foundation/bureau-console/protocol"
)

var (
	// ErrDisconnected is returned for requests that cannot complete
	// because the transport is not, or no longer, connected.
	ErrDisconnected = errors.New("disconnected from console server")

	// ErrTimeout is returned when no response arrives in time.
	ErrTimeout = errors.New("timed out waiting for response")

	// ErrInteractivityUnavailable is returned, without contacting the
	// server, for interactive requests while the host is not
	// accepting input.
	ErrInteractivityUnavailable = errors.New("Interactivity is currently unavailable")
)

// ErrorResponse is an ERROR reply to a request.
type ErrorResponse struct {
	Message string
	Details *string
}

func (e *ErrorResponse) Error() string {
	if e.Details != nil && *e.Details != "" {
		return e.Message + ": " + *e.Details
	}
	return e.Message
}

// UnexpectedResponseError is a reply of a different kind than the
// request expects.
type UnexpectedResponseError struct {
	Expected protocol.Kind
	Actual   protocol.Kind
}

func (e *UnexpectedResponseError) Error() string {
	return fmt.Sprintf("Unexpected response type: expected %s, got %s", e.Expected, e.Actual)
}

// HandshakeFailure is an unrecoverable handshake outcome: retrying
// against the same server will fail the same way. The implementations
// are InvalidHandshakeResponseError, ProtocolMismatchError,
// MissingRequiredCapabilitiesError and UnknownRejectReasonError.
type HandshakeFailure interface {
	error

	// UserFacingMessage explains the failure to an operator.
	UserFacingMessage() string

	handshakeFailure()
}

// InvalidHandshakeResponseError reports a handshake reply that breaks
// the protocol.
type InvalidHandshakeResponseError struct {
	Reason string
}

func (e *InvalidHandshakeResponseError) Error() string {
	return "invalid handshake response: " + e.Reason
}

func (e *InvalidHandshakeResponseError) UserFacingMessage() string {
	var message strings.Builder
	message.WriteString("Handshake failed: invalid response from server")
	if strings.TrimSpace(e.Reason) != "" {
		message.WriteString(" (" + e.Reason + ")")
	}
	message.WriteString(". Please update client/server to compatible versions.")
	return message.String()
}

// ProtocolMismatchError reports incompatible transport epochs.
// Expected is the server's epoch, Actual the client's.
type ProtocolMismatchError struct {
	Reason   string
	Expected int
	Actual   int
}

func (e *ProtocolMismatchError) Error() string {
	return fmt.Sprintf("transport epoch mismatch: server expects %d, client is %d", e.Expected, e.Actual)
}

func (e *ProtocolMismatchError) UserFacingMessage() string {
	var message strings.Builder
	fmt.Fprintf(&message, "Transport epoch mismatch: server expects epoch %d, client is epoch %d", e.Expected, e.Actual)
	if strings.TrimSpace(e.Reason) != "" {
		message.WriteString(". Reason: " + e.Reason)
	}
	message.WriteString(". Please update client/server to matching versions.")
	return message.String()
}

// MissingRequiredCapabilitiesError reports capabilities the client
// cannot run without that the server did not select. Missing is
// sorted.
type MissingRequiredCapabilitiesError struct {
	Reason  string
	Missing []string
}

func (e *MissingRequiredCapabilitiesError) Error() string {
	return "missing required capabilities: " + strings.Join(e.Missing, ", ")
}

func (e *MissingRequiredCapabilitiesError) UserFacingMessage() string {
	var message strings.Builder
	message.WriteString("Protocol capability mismatch: missing required capabilities ")
	if len(e.Missing) == 0 {
		message.WriteString("<none>")
	} else {
		message.WriteString(strings.Join(e.Missing, ", "))
	}
	if strings.TrimSpace(e.Reason) != "" {
		message.WriteString(". Reason: " + e.Reason)
	}
	message.WriteString(". Please update client/server to compatible versions.")
	return message.String()
}

// UnknownRejectReasonError reports a REJECT this client cannot
// interpret, or one missing the fields its reason requires.
type UnknownRejectReasonError struct {
	Reason  string
	Message string
}

func (e *UnknownRejectReasonError) Error() string {
	if e.Message == "" {
		return "handshake rejected: " + e.Reason
	}
	return "handshake rejected: " + e.Reason + ": " + e.Message
}

func (e *UnknownRejectReasonError) UserFacingMessage() string {
	var message strings.Builder
	message.WriteString("Handshake rejected with reason '" + e.Reason + "'")
	if strings.TrimSpace(e.Message) != "" {
		message.WriteString(": " + e.Message)
	}
	message.WriteString(". Please update client/server to compatible versions.")
	return message.String()
}

func (*InvalidHandshakeResponseError) handshakeFailure()    {}
func (*ProtocolMismatchError) handshakeFailure()            {}
func (*MissingRequiredCapabilitiesError) handshakeFailure() {}
func (*UnknownRejectReasonError) handshakeFailure()         {}

// IsHandshakeFailure reports whether err wraps a HandshakeFailure.
func IsHandshakeFailure(err error) bool {
	var failure HandshakeFailure
	return errors.As(err, &failure)
}

// UserFacingMessage returns the operator-facing explanation of err:
// the failure's own message for handshake failures, otherwise the
// error text.
func UserFacingMessage(err error) string {
	var failure HandshakeFailure
	if errors.As(err, &failure) {
		return failure.UserFacingMessage()
	}
	return err.Error()
}
