// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"maps"
	"math/rand/v2"
	"slices"
	"testing"
)

func TestBaselineCapabilities(t *testing.T) {
	client := ClientSupportedCapabilities()
	server := ServerSupportedCapabilities()
	if len(client) != 6 || len(server) != 6 {
		t.Fatalf("baseline sizes client=%d server=%d, want 6", len(client), len(server))
	}
	selected := NegotiateCapabilities(Advertise(client), server)
	for _, name := range baselineCapabilities {
		if selected[name] != 1 {
			t.Errorf("%s negotiated to %d, want 1", name, selected[name])
		}
	}
	if missing := MissingCapabilities(ClientRequiredCapabilities(), selected); len(missing) != 0 {
		t.Errorf("baseline leaves required capabilities missing: %v", missing)
	}

	client[CapabilityParse] = Exactly(9)
	if ClientSupportedCapabilities()[CapabilityParse].Max != 1 {
		t.Error("mutating a returned table changed the baseline")
	}
}

func TestNegotiateDropsNonOverlapping(t *testing.T) {
	client := Advertise(map[string]VersionRange{
		"completion": Range(1, 3),
		"parse":      Range(4, 5),
		"future":     Exactly(1),
	})
	client["broken"] = nil
	server := map[string]VersionRange{
		"completion": Range(2, 6),
		"parse":      Range(1, 3),
		"broken":     Exactly(1),
	}
	selected := NegotiateCapabilities(client, server)
	want := map[string]int{"completion": 3}
	if !maps.Equal(selected, want) {
		t.Errorf("selected = %v, want %v", selected, want)
	}
}

// For random capability tables the selection equals the highest
// common version over the intersection of names with overlap.
func TestNegotiationLaw(t *testing.T) {
	random := rand.New(rand.NewPCG(3, 4))
	names := []string{"a", "b", "c", "d", "e"}
	randomTable := func() map[string]VersionRange {
		table := make(map[string]VersionRange)
		for _, name := range names {
			if random.IntN(3) == 0 {
				continue
			}
			low := random.IntN(4) + 1
			table[name] = Range(low, low+random.IntN(4))
		}
		return table
	}
	for iteration := 0; iteration < 500; iteration++ {
		client, server := randomTable(), randomTable()
		want := make(map[string]int)
		for name, clientRange := range client {
			serverRange, ok := server[name]
			if !ok {
				continue
			}
			if version, ok := HighestCommonVersion(clientRange, serverRange); ok {
				want[name] = version
			}
		}
		if got := NegotiateCapabilities(Advertise(client), server); !maps.Equal(got, want) {
			t.Fatalf("client %v server %v: selected %v, want %v", client, server, got, want)
		}
	}
}

func TestMissingCapabilitiesSortedAndUnique(t *testing.T) {
	missing := MissingCapabilities(
		[]string{"log_forward", "command_execute", "interactivity_status", "command_execute"},
		map[string]int{"interactivity_status": 1},
	)
	if want := []string{"command_execute", "log_forward"}; !slices.Equal(missing, want) {
		t.Errorf("MissingCapabilities = %v, want %v", missing, want)
	}
}
