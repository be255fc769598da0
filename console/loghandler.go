// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package console

import (
	"context"
	"log/slog"
	"strings"

	"github.com/bureau-foundation/bureau-console/lib/termcolor"
)

// LogHandler renders the client's own log records through an Output,
// colored for the Output's level, so they never interleave with
// forwarded server lines or the prompt.
type LogHandler struct {
	output    *Output
	level     slog.Leveler
	formatter termcolor.Formatter
	fields    []termcolor.Field
	groups    []string
}

// NewLogHandler returns a handler writing records at or above level to
// output. Records carry no timestamp: the server's lines have their
// own.
func NewLogHandler(output *Output, level slog.Leveler) *LogHandler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &LogHandler{output: output, level: level, formatter: termcolor.Formatter{}}
}

func (h *LogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *LogHandler) Handle(_ context.Context, record slog.Record) error {
	h.output.Println(h.formatter.Format(h.output.ColorLevel(), record, h.fields, h.groups))
	return nil
}

func (h *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	prefix := strings.Join(h.groups, ".")
	clone := *h
	clone.fields = make([]termcolor.Field, len(h.fields), len(h.fields)+len(attrs))
	copy(clone.fields, h.fields)
	for _, attr := range attrs {
		clone.fields = termcolor.Flatten(clone.fields, prefix, attr)
	}
	return &clone
}

func (h *LogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.groups = append(append([]string(nil), h.groups...), name)
	return &clone
}
