// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/bureau-foundation/bureau-console/lib/termcolor"
	"github.com/bureau-foundation/bureau-console/protocol"
)

// offer is what a client advertises in HELLO and checks WELCOME
// against.
type offer struct {
	epochs       protocol.VersionRange
	colorLevel   termcolor.ColorLevel
	capabilities map[string]protocol.VersionRange
	required     []string
}

func (o offer) hello() *protocol.Hello {
	epochs := o.epochs
	colorLevel := o.colorLevel
	return &protocol.Hello{
		TransportEpochRange:  &epochs,
		ColorLevel:           &colorLevel,
		Capabilities:         protocol.Advertise(o.capabilities),
		RequiredCapabilities: protocol.Names(o.required...),
	}
}

// evaluateResponse checks the server's answer to the HELLO sent with
// requestID and returns the selected capabilities. Every error it
// returns is a HandshakeFailure.
func (o offer) evaluateResponse(requestID string, response protocol.Message) (map[string]int, error) {
	if response.RequestID != requestID {
		return nil, &InvalidHandshakeResponseError{Reason: "requestId mismatch"}
	}

	if reject, ok := response.Payload.(*protocol.Reject); ok {
		return nil, rejectFailure(reject)
	}

	welcome, ok := response.Payload.(*protocol.Welcome)
	if !ok {
		return nil, &InvalidHandshakeResponseError{Reason: fmt.Sprintf("unexpected response type: %s", response.Kind)}
	}

	if !o.epochs.Includes(welcome.TransportEpoch) {
		return nil, &ProtocolMismatchError{
			Reason:   fmt.Sprintf("Unsupported transport epoch: %d", welcome.TransportEpoch),
			Expected: welcome.TransportEpoch,
			Actual:   protocol.TransportEpoch,
		}
	}

	if welcome.SelectedCapabilities == nil {
		return nil, &InvalidHandshakeResponseError{Reason: "missing selected capabilities"}
	}

	// Iterate in name order so the reported entry is deterministic.
	for _, name := range slices.Sorted(maps.Keys(welcome.SelectedCapabilities)) {
		version := welcome.SelectedCapabilities[name]
		if name == "" || version < 1 {
			return nil, &InvalidHandshakeResponseError{Reason: "Selected capabilities contain invalid entry"}
		}
		supported, known := o.capabilities[name]
		if !known {
			continue
		}
		if !supported.Includes(version) {
			return nil, &InvalidHandshakeResponseError{
				Reason: fmt.Sprintf("Server selected unsupported version %d for capability '%s'", version, name),
			}
		}
	}

	if missing := protocol.MissingCapabilities(o.required, welcome.SelectedCapabilities); len(missing) > 0 {
		return nil, &InvalidHandshakeResponseError{
			Reason: "Missing required capabilities: " + strings.Join(missing, ", "),
		}
	}

	return maps.Clone(welcome.SelectedCapabilities), nil
}

func rejectFailure(reject *protocol.Reject) HandshakeFailure {
	reason := reject.Reason
	if strings.TrimSpace(reason) == "" {
		reason = "<missing>"
	}
	switch reason {
	case protocol.RejectUnsupportedTransportEpoch:
		if reject.ExpectedTransportEpoch == nil {
			return &UnknownRejectReasonError{Reason: reason, Message: reject.Message}
		}
		return &ProtocolMismatchError{
			Reason:   reject.Message,
			Expected: *reject.ExpectedTransportEpoch,
			Actual:   protocol.TransportEpoch,
		}
	case protocol.RejectMissingRequiredCapabilities:
		if len(reject.MissingRequiredCapabilities) == 0 {
			return &UnknownRejectReasonError{Reason: reason, Message: reject.Message}
		}
		missing := slices.Clone(reject.MissingRequiredCapabilities)
		slices.Sort(missing)
		return &MissingRequiredCapabilitiesError{Reason: reject.Message, Missing: slices.Compact(missing)}
	default:
		return &UnknownRejectReasonError{Reason: reason, Message: reject.Message}
	}
}
