// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"fmt"
	"sync"

	"github.com/bureau-foundation/bureau-console/protocol"
)

// HandlerFunc processes one gated inbound message. ctx carries the
// session's color level (see termcolor.Current).
type HandlerFunc func(ctx context.Context, payload protocol.Payload, response ResponseContext)

// HandlerRegistry maps message kinds to handlers.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[protocol.Kind]HandlerFunc
}

// NewHandlerRegistry returns an empty registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[protocol.Kind]HandlerFunc)}
}

// Register installs handler for kind. It panics if kind already has a
// handler: registration happens during setup and a duplicate is a
// programming error.
func (registry *HandlerRegistry) Register(kind protocol.Kind, handler HandlerFunc) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if _, exists := registry.handlers[kind]; exists {
		panic(fmt.Sprintf("server: handler for %s registered twice", kind))
	}
	registry.handlers[kind] = handler
}

// Handle dispatches payload to the handler for kind. It reports false
// when no handler is registered.
func (registry *HandlerRegistry) Handle(ctx context.Context, kind protocol.Kind, payload protocol.Payload, response ResponseContext) bool {
	registry.mu.RLock()
	handler, ok := registry.handlers[kind]
	registry.mu.RUnlock()
	if !ok {
		return false
	}
	handler(ctx, payload, response)
	return true
}

// On registers a handler that receives the payload as its concrete
// type. A payload of any other type is answered with an ERROR.
func On[P protocol.Payload](registry *HandlerRegistry, kind protocol.Kind, handler func(ctx context.Context, payload P, response ResponseContext)) {
	registry.Register(kind, func(ctx context.Context, payload protocol.Payload, response ResponseContext) {
		typed, ok := payload.(P)
		if !ok {
			response.Fail(fmt.Sprintf("Invalid payload for message type: %s", kind))
			return
		}
		handler(ctx, typed, response)
	})
}

// NewDefaultHandlers returns a registry that serves the interactive
// request kinds from the hooks currently installed in hooks.
func NewDefaultHandlers(hooks *HookSet) *HandlerRegistry {
	registry := NewHandlerRegistry()

	On(registry, protocol.KindCompletionRequest, func(ctx context.Context, request *protocol.CompletionRequest, response ResponseContext) {
		completer := hooks.Current().Completer
		if completer == nil {
			response.Fail("Completions are not supported")
			return
		}
		candidates, err := completer.Complete(ctx, request.Command, request.Cursor)
		if err != nil {
			response.FailWithDetails("Failed to complete command", err.Error())
			return
		}
		if candidates == nil {
			candidates = []protocol.Candidate{}
		}
		response.Reply(&protocol.CompletionResponse{Candidates: candidates})
	})

	On(registry, protocol.KindSyntaxHighlightRequest, func(ctx context.Context, request *protocol.SyntaxHighlightRequest, response ResponseContext) {
		highlighter := hooks.Current().Highlighter
		if highlighter == nil {
			response.Fail("Syntax highlighting is not supported")
			return
		}
		highlighted, err := highlighter.Highlight(ctx, request.Command)
		if err != nil {
			response.FailWithDetails("Failed to highlight command", err.Error())
			return
		}
		response.Reply(&protocol.SyntaxHighlightResponse{Command: request.Command, Highlighted: highlighted})
	})

	On(registry, protocol.KindParseRequest, func(ctx context.Context, request *protocol.ParseRequest, response ResponseContext) {
		parser := hooks.Current().Parser
		if parser == nil {
			response.Fail("Parsing is not supported")
			return
		}
		parsed, err := parser.Parse(ctx, request.Command, request.Cursor)
		if err != nil {
			response.FailWithDetails("Failed to parse command", err.Error())
			return
		}
		if parsed == nil {
			response.Fail("Failed to parse command")
			return
		}
		if parsed.Words == nil {
			parsed.Words = []string{}
		}
		response.Reply(parsed)
	})

	On(registry, protocol.KindCommandExecute, func(ctx context.Context, request *protocol.CommandExecute, response ResponseContext) {
		executor := hooks.Current().Executor
		if executor == nil {
			response.Fail("Command execution is not supported")
			return
		}
		if err := executor.Execute(ctx, request.Command); err != nil {
			response.FailWithDetails("Failed to execute command", err.Error())
		}
	})

	return registry
}
