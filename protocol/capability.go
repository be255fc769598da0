// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import "slices"

// Capability names. Each is negotiated independently during the
// handshake and gates the message kinds that depend on it.
const (
	CapabilityCommandExecute      = "command_execute"
	CapabilityLogForward          = "log_forward"
	CapabilityInteractivityStatus = "interactivity_status"
	CapabilityCompletion          = "completion"
	CapabilitySyntaxHighlight     = "syntax_highlight"
	CapabilityParse               = "parse"
)

// baselineCapabilities lists every capability this release knows.
var baselineCapabilities = []string{
	CapabilityCommandExecute,
	CapabilityLogForward,
	CapabilityInteractivityStatus,
	CapabilityCompletion,
	CapabilitySyntaxHighlight,
	CapabilityParse,
}

func baselineRanges() map[string]VersionRange {
	ranges := make(map[string]VersionRange, len(baselineCapabilities))
	for _, name := range baselineCapabilities {
		ranges[name] = Exactly(1)
	}
	return ranges
}

// ClientSupportedCapabilities returns the versions a client of this
// release can use. The map is a fresh copy.
func ClientSupportedCapabilities() map[string]VersionRange { return baselineRanges() }

// ServerSupportedCapabilities returns the versions a server of this
// release can offer. The map is a fresh copy.
func ServerSupportedCapabilities() map[string]VersionRange { return baselineRanges() }

// ClientRequiredCapabilities returns the capabilities without which a
// client refuses to run a session.
func ClientRequiredCapabilities() []string {
	return []string{CapabilityCommandExecute, CapabilityLogForward, CapabilityInteractivityStatus}
}

// NegotiateCapabilities selects, for every capability the client
// advertised and the server supports, the highest version both
// include. Capabilities with no common version are left out. Nil
// client ranges are skipped; callers validate them beforehand.
func NegotiateCapabilities(client map[string]*VersionRange, server map[string]VersionRange) map[string]int {
	selected := make(map[string]int)
	for name, clientRange := range client {
		if clientRange == nil {
			continue
		}
		serverRange, supported := server[name]
		if !supported {
			continue
		}
		if version, ok := HighestCommonVersion(*clientRange, serverRange); ok {
			selected[name] = version
		}
	}
	return selected
}

// MissingCapabilities returns the names in required that have no entry
// in selected, sorted.
func MissingCapabilities(required []string, selected map[string]int) []string {
	var missing []string
	for _, name := range required {
		if _, ok := selected[name]; !ok && !slices.Contains(missing, name) {
			missing = append(missing, name)
		}
	}
	slices.Sort(missing)
	return missing
}

// Advertise converts a capability table into the pointer form carried
// by HELLO.
func Advertise(ranges map[string]VersionRange) map[string]*VersionRange {
	advertised := make(map[string]*VersionRange, len(ranges))
	for name, versionRange := range ranges {
		advertised[name] = &versionRange
	}
	return advertised
}
