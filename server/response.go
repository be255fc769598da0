// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package server

import "github.com/bureau-foundation/bureau-console/protocol"

// ResponseContext answers one inbound message. Replies echo the
// message's request id, or are sent unsolicited when it had none.
type ResponseContext interface {
	// RequestID returns the id of the message being answered, or ""
	// when it carried none.
	RequestID() string

	// Reply sends payload under its server-to-client kind. Payloads of
	// client-originated kinds are refused and logged.
	Reply(payload protocol.Payload)

	// Fail sends an ERROR with message.
	Fail(message string)

	// FailWithDetails sends an ERROR with message and details.
	FailWithDetails(message, details string)
}

type responder struct {
	session   *session
	requestID string
}

func (r responder) RequestID() string { return r.requestID }

func (r responder) Reply(payload protocol.Payload) {
	kind, err := protocol.ServerKindForPayload(payload)
	if err != nil {
		r.session.logger.Error("refusing to send reply", "request_id", r.requestID, "error", err)
		return
	}
	r.session.send(protocol.Message{Kind: kind, RequestID: r.requestID, Payload: payload})
}

func (r responder) Fail(message string) {
	r.session.send(protocol.NewMessage(&protocol.Error{Message: message}, r.requestID))
}

func (r responder) FailWithDetails(message, details string) {
	r.session.send(protocol.NewMessage(&protocol.Error{Message: message, Details: &details}, r.requestID))
}
