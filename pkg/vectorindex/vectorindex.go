// Package vectorindex defines the embedding storage and similarity-search
// contract the ingestion coordinator writes "embedding" extractor outputs
// through. A production ANN backend (e.g. an HNSW or IVF-backed service)
// lives behind the Manager interface; MemoryIndexManager here is a
// brute-force, cosine-ranked reference implementation suitable for tests
// and small deployments.
package vectorindex

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/graftio/ingestify/pkg/types"
)

// SearchResult is one ranked match.
type SearchResult struct {
	ContentID string
	Score     float64
}

// Manager is the contract the ingestion coordinator and query RPCs use to
// materialize and search embedding tables.
type Manager interface {
	CreateTable(ctx context.Context, table string, schema types.OutputSchema) error
	AddEmbedding(ctx context.Context, table, contentID string, vector []float32) error
	Search(ctx context.Context, table string, query []float32, k int) ([]SearchResult, error)
}

type entry struct {
	contentID string
	vector    []float32
}

type table struct {
	dim      int
	distance string
	entries  []entry
}

// MemoryIndexManager keeps every table's vectors in process memory and
// ranks Search by brute-force cosine similarity (or negative L2 distance
// for "l2" tables), recomputing over every stored vector on each call.
type MemoryIndexManager struct {
	mu     sync.RWMutex
	tables map[string]*table
}

// NewMemoryIndexManager constructs an empty MemoryIndexManager.
func NewMemoryIndexManager() *MemoryIndexManager {
	return &MemoryIndexManager{tables: make(map[string]*table)}
}

func (m *MemoryIndexManager) CreateTable(ctx context.Context, name string, schema types.OutputSchema) error {
	if schema.Kind != types.OutputKindEmbedding {
		return types.NewError(types.ErrInvalidArgument, "table %q schema is not an embedding schema", name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.tables[name]; exists {
		return nil // idempotent
	}
	distance := schema.Distance
	if distance == "" {
		distance = "cosine"
	}
	m.tables[name] = &table{dim: schema.Dim, distance: distance}
	return nil
}

func (m *MemoryIndexManager) AddEmbedding(ctx context.Context, name, contentID string, vector []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[name]
	if !ok {
		return types.NewError(types.ErrNotFound, "embedding table %q not found", name)
	}
	if t.dim != 0 && len(vector) != t.dim {
		return types.NewError(types.ErrInvalidArgument, "embedding table %q expects dim %d, got %d", name, t.dim, len(vector))
	}
	t.entries = append(t.entries, entry{contentID: contentID, vector: vector})
	return nil
}

func (m *MemoryIndexManager) Search(ctx context.Context, name string, query []float32, k int) ([]SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tables[name]
	if !ok {
		return nil, types.NewError(types.ErrNotFound, "embedding table %q not found", name)
	}

	scored := make([]SearchResult, 0, len(t.entries))
	for _, e := range t.entries {
		var score float64
		switch t.distance {
		case "l2":
			score = -l2Distance(query, e.vector)
		default:
			score = cosineSimilarity(query, e.vector)
		}
		scored = append(scored, SearchResult{ContentID: e.contentID, Score: score})
	}

	// Descending score, with ties broken by ascending content id so two
	// replicas (or two calls against an unchanged table) always agree on
	// result order.
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].ContentID < scored[j].ContentID
	})
	if k > 0 && k < len(scored) {
		scored = scored[:k]
	}
	return scored, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return math.Inf(-1)
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func l2Distance(a, b []float32) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
