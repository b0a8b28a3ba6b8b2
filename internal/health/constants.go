// Package health classifies a NodeManager roster into an alert state.
package health

// Node states as reported by the ResourceManager.
const (
	NodeStateUnhealthy = "UNHEALTHY"
	NodeStateRunning   = "RUNNING"
	NodeStateLost      = "LOST"
)

// Labels
const (
	OKLabel = "All NodeManagers are healthy"

	// count, plural suffix, verb
	errorLabelFormat = "%d NodeManager%s %s unhealthy."
)

// IsUnhealthy reports whether a roster state marks a failing node. The match
// is exact and case-sensitive.
func IsUnhealthy(state string) bool {
	return state == NodeStateUnhealthy
}
