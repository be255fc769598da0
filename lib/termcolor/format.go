// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package termcolor

import (
	"log/slog"
	"strconv"
	"strings"
	"unicode"
)

// Field is a flattened log attribute: groups are folded into the key
// as dot-separated prefixes.
type Field struct {
	Key   string
	Value slog.Value
}

// Flatten appends attr to fields, expanding group values and
// qualifying keys with prefix. Empty attributes are skipped, matching
// the slog handler contract.
func Flatten(fields []Field, prefix string, attr slog.Attr) []Field {
	attr.Value = attr.Value.Resolve()
	if attr.Equal(slog.Attr{}) {
		return fields
	}
	key := attr.Key
	if prefix != "" && key != "" {
		key = prefix + "." + key
	} else if key == "" {
		key = prefix
	}
	if attr.Value.Kind() == slog.KindGroup {
		for _, member := range attr.Value.Group() {
			fields = Flatten(fields, key, member)
		}
		return fields
	}
	return append(fields, Field{Key: key, Value: attr.Value})
}

// Formatter renders log records as single console lines of the form
//
//	[15:04:05 INFO] message key=value
//
// with the level label colored for the target level.
type Formatter struct {
	// TimeFormat is the layout used for the record time. Empty omits
	// the timestamp and its trailing space.
	TimeFormat string
}

// DefaultFormatter prints wall-clock seconds.
var DefaultFormatter = Formatter{TimeFormat: "15:04:05"}

// Format renders record at level. fields carries attributes bound to
// the handler; groups qualifies the record's own attributes.
func (formatter Formatter) Format(level ColorLevel, record slog.Record, fields []Field, groups []string) string {
	var builder strings.Builder

	label := record.Level.String()
	header := label
	if formatter.TimeFormat != "" && !record.Time.IsZero() {
		header = record.Time.Format(formatter.TimeFormat) + " " + label
	}
	builder.WriteString("[")
	if level == None {
		builder.WriteString(header)
	} else {
		color, bold := levelColor(record.Level)
		if stamp, found := strings.CutSuffix(header, label); found && stamp != "" {
			builder.WriteString(stamp)
		}
		builder.WriteString(Paint(level, color, bold, label))
	}
	builder.WriteString("] ")
	builder.WriteString(record.Message)

	prefix := strings.Join(groups, ".")
	recordFields := make([]Field, 0, record.NumAttrs())
	record.Attrs(func(attr slog.Attr) bool {
		recordFields = Flatten(recordFields, prefix, attr)
		return true
	})
	for _, field := range append(append([]Field(nil), fields...), recordFields...) {
		builder.WriteByte(' ')
		builder.WriteString(Faint(level, field.Key+"="))
		builder.WriteString(quoteIfNeeded(field.Value.String()))
	}
	return builder.String()
}

func levelColor(level slog.Level) (color int, bold bool) {
	switch {
	case level >= slog.LevelError:
		return 1, true
	case level >= slog.LevelWarn:
		return 3, true
	case level >= slog.LevelInfo:
		return 2, false
	default:
		return 4, false
	}
}

func quoteIfNeeded(value string) string {
	if value == "" {
		return `""`
	}
	for _, character := range value {
		if unicode.IsSpace(character) || character == '"' || character == '=' || !unicode.IsPrint(character) {
			return strconv.Quote(value)
		}
	}
	return value
}
