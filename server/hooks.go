// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"sync/atomic"

	"github.com/bureau-foundation/bureau-console/protocol"
)

// Completer proposes completions for command at byte offset cursor.
type Completer interface {
	Complete(ctx context.Context, command string, cursor int) ([]protocol.Candidate, error)
}

// Highlighter renders command with terminal styling. Implementations
// read the requesting session's color level from ctx with
// termcolor.Current.
type Highlighter interface {
	Highlight(ctx context.Context, command string) (string, error)
}

// Parser splits command into words and locates the cursor.
type Parser interface {
	Parse(ctx context.Context, command string, cursor int) (*protocol.ParseResponse, error)
}

// Executor runs a console command.
type Executor interface {
	Execute(ctx context.Context, command string) error
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, command string, cursor int) ([]protocol.Candidate, error)

func (f CompleterFunc) Complete(ctx context.Context, command string, cursor int) ([]protocol.Candidate, error) {
	return f(ctx, command, cursor)
}

// HighlighterFunc adapts a function to Highlighter.
type HighlighterFunc func(ctx context.Context, command string) (string, error)

func (f HighlighterFunc) Highlight(ctx context.Context, command string) (string, error) {
	return f(ctx, command)
}

// ParserFunc adapts a function to Parser.
type ParserFunc func(ctx context.Context, command string, cursor int) (*protocol.ParseResponse, error)

func (f ParserFunc) Parse(ctx context.Context, command string, cursor int) (*protocol.ParseResponse, error) {
	return f(ctx, command, cursor)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, command string) error

func (f ExecutorFunc) Execute(ctx context.Context, command string) error {
	return f(ctx, command)
}

// Hooks is the set of host callbacks behind the default handlers. Nil
// members make the matching requests fail with a "not supported"
// error.
type Hooks struct {
	Completer   Completer
	Highlighter Highlighter
	Parser      Parser
	Executor    Executor
}

// HookSet holds the currently installed Hooks. It is safe for
// concurrent use; handlers read the set on every request, so an
// Install takes effect for the next request on every session.
type HookSet struct {
	current atomic.Pointer[Hooks]
}

// Install replaces the installed hooks.
func (set *HookSet) Install(hooks Hooks) {
	set.current.Store(&hooks)
}

// Current returns the installed hooks, or the zero Hooks if none were
// installed.
func (set *HookSet) Current() Hooks {
	if hooks := set.current.Load(); hooks != nil {
		return *hooks
	}
	return Hooks{}
}
