// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import "github.com/bureau-foundation/bureau-console/lib/termcolor"

// Payload is the data of one message. Each payload type belongs to
// exactly one kind and is always handled by pointer.
type Payload interface {
	Kind() Kind
}

// Hello opens a handshake. Every field is a pointer or nilable so the
// server can distinguish an absent field from a zero value and reject
// with the matching reason.
type Hello struct {
	TransportEpochRange  *VersionRange            `json:"transportEpochRange"`
	ColorLevel           *termcolor.ColorLevel    `json:"colorLevel"`
	Capabilities         map[string]*VersionRange `json:"capabilities"`
	RequiredCapabilities []*string                `json:"requiredCapabilities"`
}

// Welcome accepts a handshake.
type Welcome struct {
	TransportEpoch       int            `json:"transportEpoch"`
	SelectedCapabilities map[string]int `json:"selectedCapabilities"`
}

// Reject refuses a handshake. Reason is one of the Reject* constants.
type Reject struct {
	Reason                      string   `json:"reason"`
	Message                     string   `json:"message"`
	ExpectedTransportEpoch      *int     `json:"expectedTransportEpoch"`
	MissingRequiredCapabilities []string `json:"missingRequiredCapabilities"`
}

// Ping asks the server for a Pong.
type Ping struct{}

// Pong answers a Ping.
type Pong struct{}

// Error reports a failed request, or an unsolicited failure when the
// message carries no request id.
type Error struct {
	Message string  `json:"message"`
	Details *string `json:"details"`
}

// InteractivityStatus announces whether the host accepts commands.
type InteractivityStatus struct {
	Available bool `json:"available"`
}

// CompletionRequest asks for completions of Command at byte offset
// Cursor.
type CompletionRequest struct {
	Command string `json:"command"`
	Cursor  int    `json:"cursor"`
}

// Candidate is a single completion.
type Candidate struct {
	Value       string  `json:"value"`
	Display     string  `json:"display"`
	Description *string `json:"description"`
}

// CompletionResponse answers a CompletionRequest.
type CompletionResponse struct {
	Candidates []Candidate `json:"candidates"`
}

// SyntaxHighlightRequest asks for Command rendered with highlighting.
type SyntaxHighlightRequest struct {
	Command string `json:"command"`
}

// SyntaxHighlightResponse carries the highlighted rendering.
type SyntaxHighlightResponse struct {
	Command     string `json:"command"`
	Highlighted string `json:"highlighted"`
}

// ParseRequest asks the host to split Command into words.
type ParseRequest struct {
	Command string `json:"command"`
	Cursor  int    `json:"cursor"`
}

// ParseResponse describes the words of a command and which one the
// cursor is in.
type ParseResponse struct {
	Word       string   `json:"word"`
	WordCursor int      `json:"wordCursor"`
	WordIndex  int      `json:"wordIndex"`
	Words      []string `json:"words"`
	Line       string   `json:"line"`
	Cursor     int      `json:"cursor"`
}

// CommandExecute runs a console command on the host.
type CommandExecute struct {
	Command string `json:"command"`
}

// LogSubscribe starts log forwarding for the session.
type LogSubscribe struct{}

// LogForward carries one rendered log line.
type LogForward struct {
	Rendered string `json:"rendered"`
}

func (*Hello) Kind() Kind                   { return KindHello }
func (*Welcome) Kind() Kind                 { return KindWelcome }
func (*Reject) Kind() Kind                  { return KindReject }
func (*Ping) Kind() Kind                    { return KindPing }
func (*Pong) Kind() Kind                    { return KindPong }
func (*Error) Kind() Kind                   { return KindError }
func (*InteractivityStatus) Kind() Kind     { return KindInteractivityStatus }
func (*CompletionRequest) Kind() Kind       { return KindCompletionRequest }
func (*CompletionResponse) Kind() Kind      { return KindCompletionResponse }
func (*SyntaxHighlightRequest) Kind() Kind  { return KindSyntaxHighlightRequest }
func (*SyntaxHighlightResponse) Kind() Kind { return KindSyntaxHighlightResponse }
func (*ParseRequest) Kind() Kind            { return KindParseRequest }
func (*ParseResponse) Kind() Kind           { return KindParseResponse }
func (*CommandExecute) Kind() Kind          { return KindCommandExecute }
func (*LogSubscribe) Kind() Kind            { return KindLogSubscribe }
func (*LogForward) Kind() Kind              { return KindLogForward }

// Names converts capability names into the nilable form HELLO carries.
func Names(names ...string) []*string {
	pointers := make([]*string, len(names))
	for index, name := range names {
		pointers[index] = &name
	}
	return pointers
}

// StringPointer returns a pointer to value, for optional payload
// fields.
func StringPointer(value string) *string { return &value }
