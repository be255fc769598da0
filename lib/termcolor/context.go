// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package termcolor

import "context"

type contextKey struct{}

// WithLevel returns a context in which level is the current color
// level. Scoping is lexical: code holding the parent context keeps
// seeing the parent's level.
func WithLevel(ctx context.Context, level ColorLevel) context.Context {
	return context.WithValue(ctx, contextKey{}, level)
}

// FromContext returns the color level bound to ctx, if any.
func FromContext(ctx context.Context) (ColorLevel, bool) {
	if ctx == nil {
		return "", false
	}
	level, ok := ctx.Value(contextKey{}).(ColorLevel)
	return level, ok
}

// Current returns the level bound to ctx, or fallback when none is.
func Current(ctx context.Context, fallback ColorLevel) ColorLevel {
	if level, ok := FromContext(ctx); ok {
		return level
	}
	return fallback
}
