// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package console

import (
	"testing"

	"github.com/bureau-foundation/bureau-console/protocol"
)

func candidates(values ...string) []protocol.Candidate {
	result := make([]protocol.Candidate, len(values))
	for i, value := range values {
		result[i] = protocol.Candidate{Value: value, Display: value}
	}
	return result
}

func TestApplyCompletion(t *testing.T) {
	tests := []struct {
		name       string
		line       string
		pos, start int
		candidates []protocol.Candidate
		wantLine   string
		wantPos    int
		wantOK     bool
		wantListed bool
	}{
		{
			name: "single candidate at end of line",
			line: "sa", pos: 2, start: 0,
			candidates: candidates("say"),
			wantLine:   "say ", wantPos: 4, wantOK: true,
		},
		{
			name: "single candidate before suffix",
			line: "sa hello", pos: 2, start: 0,
			candidates: candidates("say"),
			wantLine:   "say hello", wantPos: 3, wantOK: true,
		},
		{
			name: "second word",
			line: "interactive o", pos: 13, start: 12,
			candidates: candidates("off"),
			wantLine:   "interactive off ", wantPos: 16, wantOK: true,
		},
		{
			name: "common prefix of several",
			line: "s", pos: 1, start: 0,
			candidates: candidates("status", "stop"),
			wantLine:   "st", wantPos: 2, wantOK: true, wantListed: true,
		},
		{
			name: "several with nothing to add",
			line: "st", pos: 2, start: 0,
			candidates: candidates("status", "stop"),
			wantListed: true,
		},
		{
			name: "no candidates",
			line: "xyz", pos: 3, start: 0,
		},
		{
			name: "word start past cursor",
			line: "say", pos: 1, start: 2,
			candidates: candidates("say"),
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			listed := false
			line, pos, ok := applyCompletion(test.line, test.pos, test.start, test.candidates, func([]protocol.Candidate) { listed = true })
			if ok != test.wantOK || line != test.wantLine || pos != test.wantPos {
				t.Errorf("applyCompletion = (%q, %d, %v), want (%q, %d, %v)", line, pos, ok, test.wantLine, test.wantPos, test.wantOK)
			}
			if listed != test.wantListed {
				t.Errorf("listed = %v, want %v", listed, test.wantListed)
			}
		})
	}
}

func TestCommonPrefixKeepsRunesWhole(t *testing.T) {
	tests := []struct{ a, b, want string }{
		{"status", "stop", "st"},
		{"same", "same", "same"},
		{"", "x", ""},
		{"héllo", "hèllo", "h"},
	}
	for _, test := range tests {
		if got := commonPrefix(test.a, test.b); got != test.want {
			t.Errorf("commonPrefix(%q, %q) = %q, want %q", test.a, test.b, got, test.want)
		}
	}
}
