// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import "time"

const (
	// TransportEpoch versions the framing, envelope, and handshake
	// structure as a whole. It changes only on breaking changes.
	TransportEpoch = 17

	// MinSupportedTransportEpoch is the oldest epoch this release
	// can speak.
	MinSupportedTransportEpoch = 17

	// MaxCompressedPayloadSize bounds the bytes of a frame payload as
	// they appear on the wire.
	MaxCompressedPayloadSize = 1 << 20

	// MaxUncompressedPayloadSize bounds a payload after
	// decompression.
	MaxUncompressedPayloadSize = 4 << 20

	// DefaultCompressThreshold is the serialized size at or above
	// which writers gzip a frame.
	DefaultCompressThreshold = 1024
)

const (
	// HandshakeTimeout bounds the wait for the first message of a
	// handshake on either side.
	HandshakeTimeout = 2000 * time.Millisecond

	// HandshakeJoinTimeout is the grace period for a handshake that
	// is being abandoned to finish before its connection is closed.
	HandshakeJoinTimeout = 1000 * time.Millisecond

	// SyntaxHighlightTimeout is the recommended wait for a
	// SYNTAX_HIGHLIGHT_RESPONSE.
	SyntaxHighlightTimeout = 1000 * time.Millisecond

	// CompletionTimeout is the recommended wait for a
	// COMPLETION_RESPONSE.
	CompletionTimeout = 5000 * time.Millisecond
)

// ClientTransportEpochRange is the epoch range a client of this release
// advertises.
func ClientTransportEpochRange() VersionRange {
	return Range(MinSupportedTransportEpoch, TransportEpoch)
}

// Handshake rejection reasons carried in REJECT payloads. Servers check
// HELLO messages in the order listed and reject on the first failure.
const (
	RejectMissingRequestID                     = "missing_request_id"
	RejectExpectedHello                        = "expected_hello"
	RejectInvalidTransportEpochRange           = "invalid_transport_epoch_range"
	RejectUnsupportedTransportEpoch            = "unsupported_transport_epoch"
	RejectMissingColorLevel                    = "missing_color_level"
	RejectMissingCapabilityNegotiationData     = "missing_capability_negotiation_data"
	RejectInvalidCapabilityVersionRange        = "invalid_capability_version_range"
	RejectInvalidRequiredCapabilityDeclaration = "invalid_required_capability_declaration"
	RejectMissingRequiredCapabilities          = "missing_required_capabilities"
)
