package health

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"nmhealth-go/internal/contracts"
	"nmhealth-go/internal/jmx"
)

func roster(states ...string) []jmx.RosterEntry {
	entries := make([]jmx.RosterEntry, len(states))
	for i, state := range states {
		entries[i] = jmx.RosterEntry{
			HostName: fmt.Sprintf("nm%d.example.com", i),
			State:    state,
		}
	}
	return entries
}

func TestCalculate(t *testing.T) {
	tests := []struct {
		name      string
		roster    []jmx.RosterEntry
		wantState contracts.AlertState
		wantLabel string
		wantHosts []string
	}{
		{
			name:      "empty roster",
			roster:    nil,
			wantState: contracts.StateOK,
			wantLabel: "All NodeManagers are healthy",
		},
		{
			name:      "all running",
			roster:    roster(NodeStateRunning, NodeStateRunning),
			wantState: contracts.StateOK,
			wantLabel: "All NodeManagers are healthy",
		},
		{
			name:      "one unhealthy",
			roster:    roster(NodeStateRunning, NodeStateUnhealthy),
			wantState: contracts.StateCritical,
			wantLabel: "1 NodeManager is unhealthy.",
			wantHosts: []string{"nm1.example.com"},
		},
		{
			name:      "two unhealthy",
			roster:    roster(NodeStateUnhealthy, NodeStateRunning, NodeStateUnhealthy),
			wantState: contracts.StateCritical,
			wantLabel: "2 NodeManagers are unhealthy.",
			wantHosts: []string{"nm0.example.com", "nm2.example.com"},
		},
		{
			name:      "lost and lowercase are not unhealthy",
			roster:    roster(NodeStateLost, "unhealthy", "DECOMMISSIONED"),
			wantState: contracts.StateOK,
			wantLabel: "All NodeManagers are healthy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			summary := Calculate(tt.roster)
			assert.Equal(t, tt.wantState, summary.Result.State)
			assert.Equal(t, []string{tt.wantLabel}, summary.Result.Messages)
			assert.Equal(t, tt.wantHosts, summary.UnhealthyHosts)
			assert.Equal(t, len(tt.roster), summary.RosterSize)
		})
	}
}

func TestCalculate_FallsBackToNodeID(t *testing.T) {
	summary := Calculate([]jmx.RosterEntry{{NodeID: "nm7:45454", State: NodeStateUnhealthy}})
	assert.Equal(t, []string{"nm7:45454"}, summary.UnhealthyHosts)
}

func TestClassify_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		count := rapid.IntRange(0, 10000).Draw(t, "count")
		result := Classify(count)

		switch {
		case count == 0:
			assert.Equal(t, contracts.StateOK, result.State)
			assert.Equal(t, OKLabel, result.Label())
		case count == 1:
			assert.Equal(t, contracts.StateCritical, result.State)
			assert.Equal(t, "1 NodeManager is unhealthy.", result.Label())
		default:
			assert.Equal(t, contracts.StateCritical, result.State)
			assert.Equal(t, fmt.Sprintf("%d NodeManagers are unhealthy.", count), result.Label())
		}
		assert.NotEqual(t, contracts.StateWarning, result.State)
		assert.Len(t, result.Messages, 1)
	})
}

func TestCountUnhealthy_Property(t *testing.T) {
	states := []string{NodeStateRunning, NodeStateUnhealthy, NodeStateLost, "NEW", "REBOOTED"}
	rapid.Check(t, func(t *rapid.T) {
		drawn := rapid.SliceOf(rapid.SampledFrom(states)).Draw(t, "states")
		want := 0
		for _, s := range drawn {
			if s == NodeStateUnhealthy {
				want++
			}
		}
		assert.Equal(t, want, CountUnhealthy(roster(drawn...)))
	})
}

func TestRosterRoundTrip_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 200).Draw(t, "n")
		k := rapid.IntRange(0, n).Draw(t, "k")

		entries := make([]jmx.RosterEntry, n)
		for i := range entries {
			state := NodeStateRunning
			if i < k {
				state = NodeStateUnhealthy
			}
			entries[i] = jmx.RosterEntry{
				HostName:         fmt.Sprintf("nm%d", i),
				Rack:             "/default-rack",
				State:            state,
				NumContainers:    rapid.IntRange(0, 64).Draw(t, "containers"),
				LastHealthUpdate: rapid.Int64Range(0, 1<<40).Draw(t, "updated"),
			}
		}

		body, err := jmx.EncodeRoster(entries)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		decoded, err := jmx.DecodeRoster(body)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}

		summary := Calculate(decoded)
		assert.Equal(t, k, summary.UnhealthyCount)
		assert.Equal(t, n, summary.RosterSize)
		assert.Equal(t, Classify(k), summary.Result)
	})
}
