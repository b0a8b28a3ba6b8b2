// Package truncate shortens alert text for fixed-width output.
package truncate

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const ellipsis = "..."

// Truncator cuts strings to a character limit. A zero limit disables it.
type Truncator struct {
	limit int
}

// NewTruncator creates a new truncator with the specified character limit
func NewTruncator(limit int) *Truncator {
	return &Truncator{limit: limit}
}

// Truncate returns content cut to the limit, ending in "..." when cut.
// Multi-byte characters are never split.
func (t *Truncator) Truncate(content string) string {
	if !t.ShouldTruncate(content) {
		return content
	}

	keep := t.limit - len(ellipsis)
	if keep <= 0 {
		return ellipsis[:t.limit]
	}

	runes := 0
	for i := range content {
		if runes == keep {
			return strings.TrimRight(content[:i], " ") + ellipsis
		}
		runes++
	}
	return content
}

// ShouldTruncate returns true if content should be truncated
func (t *Truncator) ShouldTruncate(content string) bool {
	return t.limit > 0 && utf8.RuneCountInString(content) > t.limit
}

// List joins up to max items with ", " and summarizes the rest, e.g.
// "nm1, nm2 and 3 more". A max of zero or less joins everything.
func List(items []string, max int) string {
	if max <= 0 || len(items) <= max {
		return strings.Join(items, ", ")
	}
	return fmt.Sprintf("%s and %d more", strings.Join(items[:max], ", "), len(items)-max)
}
