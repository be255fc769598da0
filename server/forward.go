// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/bureau-foundation/bureau-console/lib/termcolor"
)

var (
	// ErrForwardingInstalled is returned by NewForwardingHandler when
	// the process already has a forwarding handler.
	ErrForwardingInstalled = errors.New("console forwarding handler is already installed")

	// ErrForwardingUnavailable is returned by AttachForwarding when no
	// forwarding handler has been created.
	ErrForwardingUnavailable = errors.New("forwarding handler is unavailable")
)

// The forwarding sink is process-wide: at most one handler exists and
// it forwards to whichever server is attached.
var (
	forwardingInstalled atomic.Bool
	forwardingTarget    atomic.Pointer[Server]
)

// ForwardingOptions configures NewForwardingHandler.
type ForwardingOptions struct {
	// Level is the minimum level forwarded. Nil forwards Info and
	// above.
	Level slog.Leveler

	// Formatter renders records. Nil selects termcolor.DefaultFormatter.
	Formatter *termcolor.Formatter

	// Logger receives a rate-limited report when forwarding fails. It
	// must not route back into the forwarding handler. Nil discards.
	Logger *slog.Logger
}

type forwardingState struct {
	level     slog.Leveler
	formatter termcolor.Formatter
	logger    *slog.Logger
	failures  atomic.Uint64
	report    rate.Sometimes
	reporting atomic.Bool
}

// ForwardingHandler is an slog.Handler that broadcasts every record to
// the log-subscribed sessions of the attached server, rendered once
// per color level. Records are dropped while no running server is
// attached.
type ForwardingHandler struct {
	state  *forwardingState
	fields []termcolor.Field
	groups []string
}

// NewForwardingHandler creates the process's forwarding handler. Only
// one may be created; later calls return ErrForwardingInstalled.
func NewForwardingHandler(options ForwardingOptions) (*ForwardingHandler, error) {
	if !forwardingInstalled.CompareAndSwap(false, true) {
		return nil, ErrForwardingInstalled
	}
	state := &forwardingState{
		level:     options.Level,
		formatter: termcolor.DefaultFormatter,
		logger:    options.Logger,
		report:    rate.Sometimes{Interval: time.Minute},
	}
	if state.level == nil {
		state.level = slog.LevelInfo
	}
	if options.Formatter != nil {
		state.formatter = *options.Formatter
	}
	if state.logger == nil {
		state.logger = slog.New(slog.DiscardHandler)
	}
	return &ForwardingHandler{state: state}, nil
}

// AttachForwarding directs the forwarding handler at server.
func AttachForwarding(server *Server) error {
	if !forwardingInstalled.Load() {
		return ErrForwardingUnavailable
	}
	forwardingTarget.Store(server)
	return nil
}

// DetachForwarding stops forwarding until the next AttachForwarding.
func DetachForwarding() {
	forwardingTarget.Store(nil)
}

func (h *ForwardingHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.state.level.Level()
}

func (h *ForwardingHandler) Handle(_ context.Context, record slog.Record) error {
	server := forwardingTarget.Load()
	if server == nil || !server.Running() {
		return nil
	}
	record = record.Clone()
	formatter := h.state.formatter
	fields, groups := h.fields, h.groups
	err := server.BroadcastLog(func(level termcolor.ColorLevel) string {
		return formatter.Format(level, record, fields, groups)
	})
	if err != nil {
		h.state.noteFailure(err)
	}
	return nil
}

func (h *ForwardingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	prefix := strings.Join(h.groups, ".")
	fields := make([]termcolor.Field, len(h.fields), len(h.fields)+len(attrs))
	copy(fields, h.fields)
	for _, attr := range attrs {
		fields = termcolor.Flatten(fields, prefix, attr)
	}
	return &ForwardingHandler{state: h.state, fields: fields, groups: h.groups}
}

func (h *ForwardingHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	groups := make([]string, len(h.groups), len(h.groups)+1)
	copy(groups, h.groups)
	return &ForwardingHandler{state: h.state, fields: h.fields, groups: append(groups, name)}
}

// Failures returns the number of records that could not be forwarded.
func (h *ForwardingHandler) Failures() uint64 { return h.state.failures.Load() }

func (state *forwardingState) noteFailure(err error) {
	total := state.failures.Add(1)
	if !state.reporting.CompareAndSwap(false, true) {
		return
	}
	defer state.reporting.Store(false)
	state.report.Do(func() {
		state.logger.Warn("console log forwarding failed", "failures", total, "error", err)
	})
}
