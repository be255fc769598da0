// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Message is a decoded envelope. RequestID is empty for messages that
// carry none; an empty "requestId" on the wire is treated as absent.
type Message struct {
	Kind      Kind
	RequestID string
	Payload   Payload
}

// NewMessage wraps payload in a message of its kind.
func NewMessage(payload Payload, requestID string) Message {
	return Message{Kind: payload.Kind(), RequestID: requestID, Payload: payload}
}

// Spec returns the registry entry of the message's kind.
func (message Message) Spec() (KindSpec, bool) { return Lookup(message.Kind) }

type envelope struct {
	Type      Kind            `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Data      json.RawMessage `json:"data"`
}

// Marshal serializes message as a JSON envelope.
func Marshal(message Message) ([]byte, error) {
	if message.Payload == nil {
		return nil, fmt.Errorf("marshal %s: nil payload", message.Kind)
	}
	kind := message.Kind
	if kind == "" {
		kind = message.Payload.Kind()
	}
	if kind != message.Payload.Kind() {
		return nil, fmt.Errorf("marshal %s: payload %T belongs to %s", kind, message.Payload, message.Payload.Kind())
	}
	data, err := json.Marshal(message.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	return json.Marshal(envelope{Type: kind, RequestID: message.RequestID, Data: data})
}

var emptyObject = json.RawMessage("{}")

// Unmarshal decodes a JSON envelope. ok is false, and no error is
// reported, when data is not a JSON object, its type is missing or
// unknown, the request id is not a string, or the payload does not fit
// the kind's payload type. A missing or non-object "data" decodes as
// an empty payload.
func Unmarshal(data []byte) (message Message, ok bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return Message{}, false
	}

	var typeName string
	rawType, present := fields["type"]
	if !present || json.Unmarshal(rawType, &typeName) != nil {
		return Message{}, false
	}
	spec, known := Lookup(Kind(typeName))
	if !known {
		return Message{}, false
	}

	var requestID *string
	if rawID, present := fields["requestId"]; present {
		if json.Unmarshal(rawID, &requestID) != nil {
			return Message{}, false
		}
	}

	payloadData := fields["data"]
	if !isObject(payloadData) {
		payloadData = emptyObject
	}
	payload := spec.NewPayload()
	if err := json.Unmarshal(payloadData, payload); err != nil {
		return Message{}, false
	}

	message = Message{Kind: spec.Kind, Payload: payload}
	if requestID != nil {
		message.RequestID = *requestID
	}
	return message, true
}

func isObject(data json.RawMessage) bool {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '{'
}
