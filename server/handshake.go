// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/bureau-foundation/bureau-console/lib/termcolor"
	"github.com/bureau-foundation/bureau-console/protocol"
)

// handshakeResult is the outcome of evaluating a client's first
// message. reply is always set: a WELCOME when accepted, otherwise the
// single REJECT to send before closing.
type handshakeResult struct {
	reply    protocol.Message
	accepted bool

	// Set only when accepted.
	colorLevel termcolor.ColorLevel
	selected   map[string]int
}

// evaluateHello validates message as the opening HELLO and negotiates
// capabilities against supported. Checks run in a fixed order and the
// first failure decides the rejection reason.
func evaluateHello(message protocol.Message, supported map[string]protocol.VersionRange) handshakeResult {
	requestID := message.RequestID
	if requestID == "" {
		return rejection("", protocol.RejectMissingRequestID, "Missing requestId")
	}

	hello, ok := message.Payload.(*protocol.Hello)
	if message.Kind != protocol.KindHello || !ok {
		return rejection(requestID, protocol.RejectExpectedHello, "Expected HELLO")
	}

	if hello.TransportEpochRange == nil || !hello.TransportEpochRange.Valid() {
		return rejection(requestID, protocol.RejectInvalidTransportEpochRange, "Invalid transport epoch range")
	}
	if !hello.TransportEpochRange.Includes(protocol.TransportEpoch) {
		return rejection(requestID, protocol.RejectUnsupportedTransportEpoch, "Unsupported transport epoch")
	}

	if hello.ColorLevel == nil || !hello.ColorLevel.Valid() {
		return rejection(requestID, protocol.RejectMissingColorLevel, "Missing color level")
	}

	if hello.Capabilities == nil || hello.RequiredCapabilities == nil {
		return rejection(requestID, protocol.RejectMissingCapabilityNegotiationData, "Missing capability negotiation data")
	}

	// Every advertised entry must be well formed, including entries
	// this server does not know.
	for name, versionRange := range hello.Capabilities {
		if name == "" || versionRange == nil || !versionRange.Valid() {
			return rejection(requestID, protocol.RejectInvalidCapabilityVersionRange, "Invalid capability version range")
		}
	}

	required := make([]string, 0, len(hello.RequiredCapabilities))
	for _, name := range hello.RequiredCapabilities {
		if name == nil {
			return rejection(requestID, protocol.RejectInvalidRequiredCapabilityDeclaration, "Invalid required capability declaration")
		}
		required = append(required, *name)
	}

	selected := protocol.NegotiateCapabilities(hello.Capabilities, supported)
	if missing := protocol.MissingCapabilities(required, selected); len(missing) > 0 {
		return handshakeResult{reply: protocol.NewMessage(&protocol.Reject{
			Reason:                      protocol.RejectMissingRequiredCapabilities,
			Message:                     "Missing required capabilities",
			MissingRequiredCapabilities: missing,
		}, requestID)}
	}

	return handshakeResult{
		reply: protocol.NewMessage(&protocol.Welcome{
			TransportEpoch:       protocol.TransportEpoch,
			SelectedCapabilities: selected,
		}, requestID),
		accepted:   true,
		colorLevel: *hello.ColorLevel,
		selected:   selected,
	}
}

func rejection(requestID, reason, text string) handshakeResult {
	expected := protocol.TransportEpoch
	return handshakeResult{reply: protocol.NewMessage(&protocol.Reject{
		Reason:                      reason,
		Message:                     text,
		ExpectedTransportEpoch:      &expected,
		MissingRequiredCapabilities: []string{},
	}, requestID)}
}

// errHandshakeRejected is returned by handshake after a REJECT was
// written.
var errHandshakeRejected = errors.New("handshake rejected")

// handshake reads the first message from codec within the handshake
// timeout and answers it. On rejection the REJECT is written, bounded
// by the join timeout, and errHandshakeRejected is returned; the
// caller closes the connection.
func (s *Server) handshake(conn net.Conn, codec *protocol.Codec) (handshakeResult, error) {
	conn.SetReadDeadline(time.Now().Add(protocol.HandshakeTimeout))
	message, err := codec.ReadMessage()
	conn.SetReadDeadline(time.Time{})
	if err != nil {
		return handshakeResult{}, fmt.Errorf("reading hello: %w", err)
	}

	result := evaluateHello(message, s.capabilities)
	if !result.accepted {
		reject := result.reply.Payload.(*protocol.Reject)
		s.logger.Info("rejecting console handshake",
			"reason", reject.Reason,
			"request_id", result.reply.RequestID,
			"missing", reject.MissingRequiredCapabilities,
		)
		conn.SetWriteDeadline(time.Now().Add(protocol.HandshakeJoinTimeout))
		if err := codec.WriteMessage(result.reply); err != nil {
			return handshakeResult{}, fmt.Errorf("writing reject: %w", err)
		}
		return handshakeResult{}, errHandshakeRejected
	}
	return result, nil
}
