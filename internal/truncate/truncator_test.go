package truncate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name    string
		limit   int
		content string
		want    string
	}{
		{name: "within limit", limit: 10, content: "short", want: "short"},
		{name: "exactly limit", limit: 5, content: "exact", want: "exact"},
		{name: "cut", limit: 10, content: "2 NodeManagers are unhealthy.", want: "2 NodeM..."},
		{name: "trailing space trimmed", limit: 8, content: "abcd efgh", want: "abcd..."},
		{name: "multi-byte", limit: 5, content: "ééééééé", want: "éé..."},
		{name: "tiny limit", limit: 2, content: "abcdef", want: ".."},
		{name: "disabled", limit: 0, content: strings.Repeat("x", 500), want: strings.Repeat("x", 500)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewTruncator(tt.limit).Truncate(tt.content))
		})
	}
}

func TestTruncate_NeverExceedsLimit(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		limit := rapid.IntRange(1, 64).Draw(t, "limit")
		content := rapid.String().Draw(t, "content")

		got := NewTruncator(limit).Truncate(content)
		if n := len([]rune(got)); n > limit {
			t.Fatalf("Truncate(%q) with limit %d has %d characters", content, limit, n)
		}
		if len([]rune(content)) <= limit && got != content {
			t.Fatalf("Truncate(%q) changed content within the limit", content)
		}
	})
}

func TestList(t *testing.T) {
	hosts := []string{"nm1", "nm2", "nm3", "nm4", "nm5"}
	assert.Equal(t, "nm1, nm2 and 3 more", List(hosts, 2))
	assert.Equal(t, "nm1, nm2, nm3, nm4, nm5", List(hosts, 5))
	assert.Equal(t, "nm1, nm2, nm3, nm4, nm5", List(hosts, 0))
	assert.Equal(t, "", List(nil, 3))
}
