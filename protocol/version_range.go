// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// VersionRange is the set of versions of something (the transport, a
// capability) that a peer supports: every integer from Min to Max
// inclusive that is not listed in Exclude.
type VersionRange struct {
	Min     int   `json:"min"`
	Max     int   `json:"max"`
	Exclude []int `json:"exclude"`
}

// Range returns the range [min, max] without the excluded versions.
// Exclude is never nil, matching what a decoded range holds.
func Range(min, max int, exclude ...int) VersionRange {
	return VersionRange{Min: min, Max: max, Exclude: append([]int{}, exclude...)}
}

// Exactly returns the single-version range [version, version].
func Exactly(version int) VersionRange {
	return Range(version, version)
}

// Valid reports whether the range is well-formed: Min is positive, Max
// is not below Min, and every excluded version lies within the range.
func (r VersionRange) Valid() bool {
	if r.Min <= 0 || r.Max < r.Min {
		return false
	}
	for _, excluded := range r.Exclude {
		if excluded < r.Min || excluded > r.Max {
			return false
		}
	}
	return true
}

// Includes reports whether version is supported. Invalid ranges
// include nothing.
func (r VersionRange) Includes(version int) bool {
	return r.Valid() && version >= r.Min && version <= r.Max && !slices.Contains(r.Exclude, version)
}

// HighestCommonVersion returns the largest version both ranges include.
// ok is false when either range is invalid or they share no version.
func HighestCommonVersion(a, b VersionRange) (version int, ok bool) {
	if !a.Valid() || !b.Valid() {
		return 0, false
	}
	for candidate := min(a.Max, b.Max); candidate >= max(a.Min, b.Min); candidate-- {
		if a.Includes(candidate) && b.Includes(candidate) {
			return candidate, true
		}
	}
	return 0, false
}

// String renders the range as "[min,max]" with any exclusions, for
// logs and error messages.
func (r VersionRange) String() string {
	if len(r.Exclude) == 0 {
		return fmt.Sprintf("[%d,%d]", r.Min, r.Max)
	}
	excluded := make([]string, len(r.Exclude))
	for index, version := range r.Exclude {
		excluded[index] = fmt.Sprint(version)
	}
	return fmt.Sprintf("[%d,%d] excluding %s", r.Min, r.Max, strings.Join(excluded, ","))
}

// MarshalJSON writes an absent exclusion list as [] rather than null.
func (r VersionRange) MarshalJSON() ([]byte, error) {
	type wireRange VersionRange
	wire := wireRange(r)
	if wire.Exclude == nil {
		wire.Exclude = []int{}
	}
	return json.Marshal(wire)
}
