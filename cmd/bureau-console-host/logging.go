// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"
)

// newStderrHandler logs as text when stderr is a terminal and as JSON
// otherwise.
func newStderrHandler(stderr *os.File, level slog.Leveler) slog.Handler {
	return newStreamHandler(stderr, term.IsTerminal(int(stderr.Fd())), level)
}

func newStreamHandler(writer io.Writer, text bool, level slog.Leveler) slog.Handler {
	options := &slog.HandlerOptions{Level: level}
	if text {
		return slog.NewTextHandler(writer, options)
	}
	return slog.NewJSONHandler(writer, options)
}

// fanoutHandler sends each record to every handler enabled for its
// level.
type fanoutHandler []slog.Handler

func (handlers fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (handlers fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	for _, handler := range handlers {
		if handler.Enabled(ctx, record.Level) {
			if err := handler.Handle(ctx, record.Clone()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (handlers fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	derived := make(fanoutHandler, len(handlers))
	for index, handler := range handlers {
		derived[index] = handler.WithAttrs(attrs)
	}
	return derived
}

func (handlers fanoutHandler) WithGroup(name string) slog.Handler {
	derived := make(fanoutHandler, len(handlers))
	for index, handler := range handlers {
		derived[index] = handler.WithGroup(name)
	}
	return derived
}
