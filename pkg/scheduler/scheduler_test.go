package scheduler

import (
	"testing"

	"github.com/graftio/ingestify/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestContains(t *testing.T) {
	tests := []struct {
		name     string
		list     []string
		value    string
		expected bool
	}{
		{"present", []string{"text/plain", "application/pdf"}, "text/plain", true},
		{"absent", []string{"text/plain"}, "image/png", false},
		{"empty list", nil, "text/plain", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, contains(tt.list, tt.value))
		})
	}
}

func TestLeastLoadedExecutor(t *testing.T) {
	executors := []*types.Executor{
		{ID: "exec-b", Extractor: "pdf-extractor"},
		{ID: "exec-a", Extractor: "pdf-extractor"},
		{ID: "exec-c", Extractor: "image-extractor"},
	}

	t.Run("picks the least loaded matching executor", func(t *testing.T) {
		load := map[string]int{"exec-a": 3, "exec-b": 1}
		got := leastLoadedExecutor(executors, "pdf-extractor", load)
		assert.Equal(t, "exec-b", got)
	})

	t.Run("breaks ties by id for determinism", func(t *testing.T) {
		load := map[string]int{}
		got := leastLoadedExecutor(executors, "pdf-extractor", load)
		assert.Equal(t, "exec-a", got)
	})

	t.Run("returns empty string when no executor matches the extractor", func(t *testing.T) {
		load := map[string]int{}
		got := leastLoadedExecutor(executors, "audio-extractor", load)
		assert.Equal(t, "", got)
	})

	t.Run("returns empty string with no executors", func(t *testing.T) {
		got := leastLoadedExecutor(nil, "pdf-extractor", map[string]int{})
		assert.Equal(t, "", got)
	})
}
