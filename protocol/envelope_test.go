// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"github.com/bureau-foundation/bureau-console/lib/termcolor"
)

func samplePayloads() []Payload {
	level := termcolor.Indexed16
	epochRange := Exactly(TransportEpoch)
	expected := TransportEpoch
	return []Payload{
		&Hello{
			TransportEpochRange:  &epochRange,
			ColorLevel:           &level,
			Capabilities:         Advertise(map[string]VersionRange{CapabilityCompletion: Range(1, 2, 2)}),
			RequiredCapabilities: Names(CapabilityCommandExecute),
		},
		&Welcome{TransportEpoch: TransportEpoch, SelectedCapabilities: map[string]int{CapabilityParse: 1}},
		&Reject{Reason: RejectUnsupportedTransportEpoch, Message: "Unsupported transport epoch", ExpectedTransportEpoch: &expected, MissingRequiredCapabilities: []string{}},
		&Ping{},
		&Pong{},
		&Error{Message: "Nope", Details: StringPointer("Bad ping")},
		&InteractivityStatus{Available: true},
		&CompletionRequest{Command: "sa", Cursor: 2},
		&CompletionResponse{Candidates: []Candidate{
			{Value: "help", Display: "help", Description: StringPointer("show commands")},
			{Value: "stop", Display: "stop"},
		}},
		&SyntaxHighlightRequest{Command: "say hi"},
		&SyntaxHighlightResponse{Command: "say hi", Highlighted: "\x1b[32msay\x1b[0m hi"},
		&ParseRequest{Command: "say hi", Cursor: 5},
		&ParseResponse{Word: "hi", WordCursor: 1, WordIndex: 1, Words: []string{"say", "hi"}, Line: "say hi", Cursor: 5},
		&CommandExecute{Command: "status"},
		&LogSubscribe{},
		&LogForward{Rendered: "[INFO] ready"},
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	payloads := samplePayloads()
	if len(payloads) != len(Kinds()) {
		t.Fatalf("sample covers %d kinds, registry has %d", len(payloads), len(Kinds()))
	}
	for _, payload := range payloads {
		for _, requestID := range []string{"", "3f2c7c1e-5b0e-4a8e-9d0c-3a1b2c3d4e5f"} {
			message := NewMessage(payload, requestID)
			data, err := Marshal(message)
			if err != nil {
				t.Fatalf("Marshal(%s): %v", message.Kind, err)
			}
			decoded, ok := Unmarshal(data)
			if !ok {
				t.Fatalf("Unmarshal(%s) returned no message for %s", message.Kind, data)
			}
			if decoded.Kind != message.Kind || decoded.RequestID != requestID {
				t.Errorf("decoded envelope %s/%q, want %s/%q", decoded.Kind, decoded.RequestID, message.Kind, requestID)
			}
			if !reflect.DeepEqual(decoded.Payload, payload) {
				t.Errorf("%s payload round trip:\n  got  %#v\n  want %#v", message.Kind, decoded.Payload, payload)
			}
		}
	}
}

func TestMarshalOmitsAbsentRequestIDAndKeepsNulls(t *testing.T) {
	data, err := Marshal(NewMessage(&Error{Message: "boom"}, ""))
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(data), `{"type":"ERROR","data":{"message":"boom","details":null}}`; got != want {
		t.Errorf("Marshal = %s, want %s", got, want)
	}

	data, err = Marshal(NewMessage(&Ping{}, "r-1"))
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(data), `{"type":"PING","requestId":"r-1","data":{}}`; got != want {
		t.Errorf("Marshal = %s, want %s", got, want)
	}
}

func TestMarshalRejectsMismatchedKind(t *testing.T) {
	if _, err := Marshal(Message{Kind: KindPing, Payload: &Pong{}}); err == nil {
		t.Error("Marshal accepted a PONG payload under kind PING")
	}
	if _, err := Marshal(Message{Kind: KindPing}); err == nil {
		t.Error("Marshal accepted a nil payload")
	}
}

func TestUnmarshalYieldsNoMessage(t *testing.T) {
	inputs := []string{
		``,
		`not json`,
		`null`,
		`[]`,
		`"HELLO"`,
		`{}`,
		`{"data":{}}`,
		`{"type":null}`,
		`{"type":7}`,
		`{"type":"TELEPORT","data":{}}`,
		`{"type":"PING","requestId":12,"data":{}}`,
		`{"type":"COMPLETION_REQUEST","data":{"cursor":"end"}}`,
		`{"type":"INTERACTIVITY_STATUS","data":{"available":"yes"}}`,
	}
	for _, input := range inputs {
		if message, ok := Unmarshal([]byte(input)); ok {
			t.Errorf("Unmarshal(%s) = %+v, want no message", input, message)
		}
	}
}

func TestUnmarshalLenientShapes(t *testing.T) {
	message, ok := Unmarshal([]byte(`{"type":"PING","requestId":"a","extra":true}`))
	if !ok || message.Kind != KindPing || message.RequestID != "a" {
		t.Fatalf("missing data: %+v, %v", message, ok)
	}

	message, ok = Unmarshal([]byte(`{"type":"COMMAND_EXECUTE","data":"oops"}`))
	if !ok {
		t.Fatal("non-object data should decode as an empty payload")
	}
	if command := message.Payload.(*CommandExecute).Command; command != "" {
		t.Errorf("command = %q, want empty", command)
	}

	message, ok = Unmarshal([]byte(`{"type":"HELLO","requestId":null,"data":{"colorLevel":"TRUE_COLOR","future":1}}`))
	if !ok {
		t.Fatal("HELLO with unknown fields rejected")
	}
	hello := message.Payload.(*Hello)
	if message.RequestID != "" || hello.ColorLevel == nil || *hello.ColorLevel != termcolor.TrueColor {
		t.Errorf("hello = %+v request %q", hello, message.RequestID)
	}
	if hello.TransportEpochRange != nil || hello.Capabilities != nil || hello.RequiredCapabilities != nil {
		t.Errorf("absent HELLO fields decoded as present: %+v", hello)
	}
}

func TestHelloPreservesNullEntries(t *testing.T) {
	message, ok := Unmarshal([]byte(`{"type":"HELLO","requestId":"h","data":{
		"capabilities":{"parse":null},"requiredCapabilities":["parse",null]}}`))
	if !ok {
		t.Fatal("HELLO rejected")
	}
	hello := message.Payload.(*Hello)
	if versionRange, present := hello.Capabilities["parse"]; !present || versionRange != nil {
		t.Errorf("capabilities = %v, want parse -> nil", hello.Capabilities)
	}
	if len(hello.RequiredCapabilities) != 2 || hello.RequiredCapabilities[1] != nil {
		t.Errorf("required = %v, want a trailing nil entry", hello.RequiredCapabilities)
	}
}

func TestEnvelopeFieldNames(t *testing.T) {
	data, err := Marshal(NewMessage(&ParseResponse{Words: []string{"a"}}, "p"))
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	payload := decoded["data"].(map[string]any)
	for _, field := range []string{"word", "wordCursor", "wordIndex", "words", "line", "cursor"} {
		if _, ok := payload[field]; !ok {
			t.Errorf("PARSE_RESPONSE data missing %q: %s", field, data)
		}
	}
	if !strings.Contains(string(data), `"requestId":"p"`) {
		t.Errorf("envelope missing requestId: %s", data)
	}
}
