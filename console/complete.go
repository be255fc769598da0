// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package console

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/bureau-foundation/bureau-console/protocol"
)

// complete asks the server for completions of the word under the
// cursor. It runs on the line reader's goroutine while the reader
// waits.
func (s *remoteSession) complete(line string, pos int) (string, int, bool) {
	if !s.interactive.Load() || !s.transport.Negotiated(protocol.CapabilityCompletion) {
		return "", 0, false
	}
	ctx := context.Background()
	start := s.wordStart(ctx, line, pos)

	response, err := s.transport.SendRequest(ctx,
		s.transport.NewRequest(&protocol.CompletionRequest{Command: line, Cursor: pos}),
		protocol.KindCompletionResponse, protocol.CompletionTimeout)
	if err != nil {
		s.client.logger.Debug("completion failed", "error", err)
		return "", 0, false
	}
	candidates := response.Payload.(*protocol.CompletionResponse).Candidates
	return applyCompletion(line, pos, start, candidates, s.listCandidates)
}

// wordStart locates the beginning of the word being completed, asking
// the server's parser when available and splitting on spaces
// otherwise.
func (s *remoteSession) wordStart(ctx context.Context, line string, pos int) int {
	if s.transport.Negotiated(protocol.CapabilityParse) {
		response, err := s.transport.SendRequest(ctx,
			s.transport.NewRequest(&protocol.ParseRequest{Command: line, Cursor: pos}),
			protocol.KindParseResponse, protocol.CompletionTimeout)
		if err == nil {
			parsed := response.Payload.(*protocol.ParseResponse)
			if start := pos - parsed.WordCursor; parsed.WordCursor >= 0 && start >= 0 && start <= pos {
				return start
			}
		} else {
			s.client.logger.Debug("parse failed", "error", err)
		}
	}
	return strings.LastIndexByte(line[:pos], ' ') + 1
}

func (s *remoteSession) listCandidates(candidates []protocol.Candidate) {
	labels := make([]string, len(candidates))
	for i, candidate := range candidates {
		labels[i] = candidate.Display
		if labels[i] == "" {
			labels[i] = candidate.Value
		}
		if candidate.Description != nil && *candidate.Description != "" {
			labels[i] += " (" + *candidate.Description + ")"
		}
	}
	s.client.output.Println(strings.Join(labels, "  "))
}

// applyCompletion replaces line[start:pos] with the completion. A single
// candidate is inserted whole, followed by a space at the end of the
// line; several are listed and their common prefix inserted.
func applyCompletion(line string, pos, start int, candidates []protocol.Candidate, list func([]protocol.Candidate)) (string, int, bool) {
	if len(candidates) == 0 || start < 0 || start > pos || pos > len(line) {
		return "", 0, false
	}
	typed := line[start:pos]
	suffix := line[pos:]

	if len(candidates) == 1 {
		value := candidates[0].Value
		if suffix == "" {
			value += " "
		}
		return line[:start] + value + suffix, start + len(value), true
	}

	list(candidates)
	prefix := candidates[0].Value
	for _, candidate := range candidates[1:] {
		prefix = commonPrefix(prefix, candidate.Value)
	}
	if len(prefix) <= len(typed) || !strings.HasPrefix(prefix, typed) {
		return "", 0, false
	}
	return line[:start] + prefix + suffix, start + len(prefix), true
}

func commonPrefix(a, b string) string {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			n = i
			break
		}
	}
	// Never split a multi-byte rune.
	for n > 0 && n < len(a) && !utf8.RuneStart(a[n]) {
		n--
	}
	return a[:n]
}
