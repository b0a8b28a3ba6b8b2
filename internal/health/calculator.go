package health

import (
	"fmt"

	"nmhealth-go/internal/contracts"
	"nmhealth-go/internal/jmx"
)

// Summary is the outcome of classifying one roster.
type Summary struct {
	Result         contracts.AlertResult
	UnhealthyCount int
	UnhealthyHosts []string
	RosterSize     int
}

// CountUnhealthy returns the number of roster entries whose State is UNHEALTHY.
func CountUnhealthy(roster []jmx.RosterEntry) int {
	count := 0
	for _, node := range roster {
		if IsUnhealthy(node.State) {
			count++
		}
	}
	return count
}

// Classify maps an unhealthy count to an alert result. Roster content only
// ever yields OK or CRITICAL.
func Classify(unhealthyCount int) contracts.AlertResult {
	if unhealthyCount <= 0 {
		return contracts.NewAlertResult(contracts.StateOK, OKLabel)
	}
	return contracts.NewAlertResult(contracts.StateCritical, formatUnhealthyLabel(unhealthyCount))
}

// Calculate counts and classifies a roster, keeping the unhealthy host names
// for diagnostics.
func Calculate(roster []jmx.RosterEntry) Summary {
	var hosts []string
	for _, node := range roster {
		if !IsUnhealthy(node.State) {
			continue
		}
		name := node.HostName
		if name == "" {
			name = node.NodeID
		}
		if name != "" {
			hosts = append(hosts, name)
		}
	}

	count := CountUnhealthy(roster)
	return Summary{
		Result:         Classify(count),
		UnhealthyCount: count,
		UnhealthyHosts: hosts,
		RosterSize:     len(roster),
	}
}

// formatUnhealthyLabel formats the CRITICAL label with singular/plural grammar.
func formatUnhealthyLabel(count int) string {
	if count == 1 {
		return fmt.Sprintf(errorLabelFormat, count, "", "is")
	}
	return fmt.Sprintf(errorLabelFormat, count, "s", "are")
}
