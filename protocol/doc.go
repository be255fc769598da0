// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package protocol defines the wire protocol between a console server
// embedded in a host process and the console clients that attach to it
// over a Unix socket.
//
// # Framing
//
// Every message travels in a frame:
//
//	[4 bytes length L, big-endian] [1 byte compression] [L-1 bytes payload]
//
// The compression byte is 0 for none and 1 for gzip. L is bounded by
// [MaxCompressedPayloadSize]+1 and the payload, once decompressed, by
// [MaxUncompressedPayloadSize]. [WriteFrame] and [ReadFrame] implement
// the format; [CompressionFor] is the writer's compression policy.
//
// # Envelopes
//
// Frame payloads are JSON envelopes:
//
//	{"type": "PING", "requestId": "…", "data": {}}
//
// [Marshal] and [Unmarshal] convert between envelopes and [Message]
// values. Unmarshal is lenient: a frame that is not an object, names an
// unknown type, or carries data of the wrong shape yields no message
// instead of an error, so peers can add message kinds without breaking
// older implementations.
//
// # Registry
//
// Each [Kind] has a fixed [KindSpec] declaring its direction, the
// capability gating it, whether it requires the server to be
// interactive, and whether it must carry a request id. Payload types
// map one-to-one onto kinds through [Payload.Kind].
//
// # Negotiation
//
// The handshake (HELLO followed by WELCOME or REJECT) negotiates a
// transport epoch and one version per capability. [VersionRange]
// describes what each side supports and [NegotiateCapabilities]
// selects the highest common version of every capability both sides
// know.
//
// [Codec] combines framing and envelopes over a connection.
package protocol
