// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package termcolor

import (
	"io"

	"github.com/muesli/termenv"
)

// ColorLevel is the color depth of a terminal. The string values are
// the wire identifiers used in the console handshake.
type ColorLevel string

const (
	// None disables all color and text attributes.
	None ColorLevel = "NONE"

	// Indexed8 is the eight base ANSI colors.
	Indexed8 ColorLevel = "INDEXED_8"

	// Indexed16 is the eight base colors plus their bright variants.
	Indexed16 ColorLevel = "INDEXED_16"

	// Indexed256 is the xterm 256-color palette.
	Indexed256 ColorLevel = "INDEXED_256"

	// TrueColor is 24-bit RGB.
	TrueColor ColorLevel = "TRUE_COLOR"
)

// Levels lists every valid level from least to most capable.
var Levels = []ColorLevel{None, Indexed8, Indexed16, Indexed256, TrueColor}

// Valid reports whether level is one of the defined constants.
func (level ColorLevel) Valid() bool {
	switch level {
	case None, Indexed8, Indexed16, Indexed256, TrueColor:
		return true
	}
	return false
}

// String returns the wire identifier.
func (level ColorLevel) String() string { return string(level) }

// Profile returns the termenv profile that renders at this level.
// termenv has no eight-color profile; Indexed8 maps to ANSI and
// callers restrict themselves to the base palette.
func (level ColorLevel) Profile() termenv.Profile {
	switch level {
	case Indexed8, Indexed16:
		return termenv.ANSI
	case Indexed256:
		return termenv.ANSI256
	case TrueColor:
		return termenv.TrueColor
	default:
		return termenv.Ascii
	}
}

// FromProfile converts a termenv profile to the closest level.
func FromProfile(profile termenv.Profile) ColorLevel {
	switch profile {
	case termenv.ANSI:
		return Indexed16
	case termenv.ANSI256:
		return Indexed256
	case termenv.TrueColor:
		return TrueColor
	default:
		return None
	}
}

// Detect determines the color level of the terminal behind writer.
// Non-terminal writers report None unless the environment forces
// color (CLICOLOR_FORCE); NO_COLOR forces None.
func Detect(writer io.Writer) ColorLevel {
	return FromProfile(termenv.NewOutput(writer).EnvColorProfile())
}
