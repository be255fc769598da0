// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"fmt"
	"reflect"
)

// Kind is the wire identifier of a message type.
type Kind string

const (
	KindHello                   Kind = "HELLO"
	KindWelcome                 Kind = "WELCOME"
	KindReject                  Kind = "REJECT"
	KindPing                    Kind = "PING"
	KindPong                    Kind = "PONG"
	KindError                   Kind = "ERROR"
	KindInteractivityStatus     Kind = "INTERACTIVITY_STATUS"
	KindCompletionRequest       Kind = "COMPLETION_REQUEST"
	KindCompletionResponse      Kind = "COMPLETION_RESPONSE"
	KindSyntaxHighlightRequest  Kind = "SYNTAX_HIGHLIGHT_REQUEST"
	KindSyntaxHighlightResponse Kind = "SYNTAX_HIGHLIGHT_RESPONSE"
	KindParseRequest            Kind = "PARSE_REQUEST"
	KindParseResponse           Kind = "PARSE_RESPONSE"
	KindCommandExecute          Kind = "COMMAND_EXECUTE"
	KindLogSubscribe            Kind = "LOG_SUBSCRIBE"
	KindLogForward              Kind = "LOG_FORWARD"
)

// Direction is which peer originates a kind.
type Direction int

const (
	ClientToServer Direction = iota + 1
	ServerToClient
)

func (direction Direction) String() string {
	switch direction {
	case ClientToServer:
		return "client-to-server"
	case ServerToClient:
		return "server-to-client"
	default:
		return fmt.Sprintf("Direction(%d)", int(direction))
	}
}

// KindSpec is the fixed description of a message kind.
type KindSpec struct {
	Kind      Kind
	Direction Direction

	// Capability gates the kind; messages of this kind are refused
	// on sessions that did not negotiate it. Empty means ungated.
	Capability string

	// RequiresInteractivity marks kinds the server refuses while
	// the host is not accepting user input.
	RequiresInteractivity bool

	// RequiresRequestID marks kinds that must carry a request id.
	RequiresRequestID bool

	newPayload func() Payload
}

// NewPayload returns a zero payload of the kind's type.
func (spec KindSpec) NewPayload() Payload { return spec.newPayload() }

var kindSpecs = []KindSpec{
	{Kind: KindHello, Direction: ClientToServer, RequiresRequestID: true,
		newPayload: func() Payload { return &Hello{} }},
	{Kind: KindWelcome, Direction: ServerToClient,
		newPayload: func() Payload { return &Welcome{} }},
	{Kind: KindReject, Direction: ServerToClient,
		newPayload: func() Payload { return &Reject{} }},
	{Kind: KindPing, Direction: ClientToServer, RequiresRequestID: true,
		newPayload: func() Payload { return &Ping{} }},
	{Kind: KindPong, Direction: ServerToClient,
		newPayload: func() Payload { return &Pong{} }},
	{Kind: KindError, Direction: ServerToClient,
		newPayload: func() Payload { return &Error{} }},
	{Kind: KindInteractivityStatus, Direction: ServerToClient, Capability: CapabilityInteractivityStatus,
		newPayload: func() Payload { return &InteractivityStatus{} }},
	{Kind: KindCompletionRequest, Direction: ClientToServer, Capability: CapabilityCompletion,
		RequiresInteractivity: true, RequiresRequestID: true,
		newPayload: func() Payload { return &CompletionRequest{} }},
	{Kind: KindCompletionResponse, Direction: ServerToClient, Capability: CapabilityCompletion,
		newPayload: func() Payload { return &CompletionResponse{} }},
	{Kind: KindSyntaxHighlightRequest, Direction: ClientToServer, Capability: CapabilitySyntaxHighlight,
		RequiresInteractivity: true, RequiresRequestID: true,
		newPayload: func() Payload { return &SyntaxHighlightRequest{} }},
	{Kind: KindSyntaxHighlightResponse, Direction: ServerToClient, Capability: CapabilitySyntaxHighlight,
		newPayload: func() Payload { return &SyntaxHighlightResponse{} }},
	{Kind: KindParseRequest, Direction: ClientToServer, Capability: CapabilityParse,
		RequiresInteractivity: true, RequiresRequestID: true,
		newPayload: func() Payload { return &ParseRequest{} }},
	{Kind: KindParseResponse, Direction: ServerToClient, Capability: CapabilityParse,
		newPayload: func() Payload { return &ParseResponse{} }},
	{Kind: KindCommandExecute, Direction: ClientToServer, Capability: CapabilityCommandExecute,
		RequiresInteractivity: true,
		newPayload: func() Payload { return &CommandExecute{} }},
	{Kind: KindLogSubscribe, Direction: ClientToServer, Capability: CapabilityLogForward,
		newPayload: func() Payload { return &LogSubscribe{} }},
	{Kind: KindLogForward, Direction: ServerToClient, Capability: CapabilityLogForward,
		newPayload: func() Payload { return &LogForward{} }},
}

var (
	specsByKind        = make(map[Kind]*KindSpec, len(kindSpecs))
	kindsByPayloadType = make(map[reflect.Type]Kind, len(kindSpecs))
)

func init() {
	for index := range kindSpecs {
		spec := &kindSpecs[index]
		if _, duplicate := specsByKind[spec.Kind]; duplicate {
			panic(fmt.Sprintf("protocol: kind %s registered twice", spec.Kind))
		}
		payload := spec.newPayload()
		if payload.Kind() != spec.Kind {
			panic(fmt.Sprintf("protocol: payload %T reports kind %s, registered as %s", payload, payload.Kind(), spec.Kind))
		}
		payloadType := reflect.TypeOf(payload)
		if existing, duplicate := kindsByPayloadType[payloadType]; duplicate {
			panic(fmt.Sprintf("protocol: payload %s registered for %s and %s", payloadType, existing, spec.Kind))
		}
		specsByKind[spec.Kind] = spec
		kindsByPayloadType[payloadType] = spec.Kind
	}
}

// Lookup returns the spec of kind.
func Lookup(kind Kind) (KindSpec, bool) {
	spec, ok := specsByKind[kind]
	if !ok {
		return KindSpec{}, false
	}
	return *spec, true
}

// Kinds returns every registered kind spec in declaration order.
func Kinds() []KindSpec {
	specs := make([]KindSpec, len(kindSpecs))
	copy(specs, kindSpecs)
	return specs
}

// ServerKindForPayload returns the kind under which a server sends
// payload. It fails for payloads the registry does not know and for
// payloads of client-originated kinds.
func ServerKindForPayload(payload Payload) (Kind, error) {
	if payload == nil {
		return "", fmt.Errorf("Unknown payload type: <nil>")
	}
	kind, ok := kindsByPayloadType[reflect.TypeOf(payload)]
	if !ok {
		return "", fmt.Errorf("Unknown payload type: %T", payload)
	}
	if specsByKind[kind].Direction != ServerToClient {
		return "", fmt.Errorf("Cannot send request payload as response: %s", kind)
	}
	return kind, nil
}
