// Package store defines the authoritative persistence contract for the
// replicated state machine and a BoltDB-backed implementation: one bbolt
// bucket per collection (namespaces, graphs, policies, indexes, content,
// tasks, executors, state changes, GC tasks), JSON-encoded values.
package store

import "github.com/graftio/ingestify/pkg/types"

// Store defines the interface for state-machine persistence. Every method
// is called from within the FSM's single-writer Apply path except the
// List/Get read methods, which may be called concurrently by readers at a
// snapshot of the last-applied index.
type Store interface {
	// Namespaces
	CreateNamespace(ns *types.Namespace) error
	GetNamespace(name string) (*types.Namespace, error)
	ListNamespaces() ([]*types.Namespace, error)
	UpdateNamespace(ns *types.Namespace) error

	// Extraction graphs
	CreateExtractionGraph(g *types.ExtractionGraph) error
	GetExtractionGraph(namespace, name string) (*types.ExtractionGraph, error)
	ListExtractionGraphs(namespace string) ([]*types.ExtractionGraph, error)

	// Extraction policies
	CreatePolicy(p *types.ExtractionPolicy) error
	GetPolicy(id string) (*types.ExtractionPolicy, error)
	ListPoliciesByGraph(namespace, graph string) ([]*types.ExtractionPolicy, error)

	// Extractors
	UpsertExtractor(e *types.Extractor) error
	GetExtractor(name string) (*types.Extractor, error)
	ListExtractors() ([]*types.Extractor, error)

	// Indexes
	CreateIndex(idx *types.Index) error
	GetIndex(namespace, name string) (*types.Index, error)
	ListIndexes(namespace string) ([]*types.Index, error)

	// Content
	CreateContent(c *types.ContentMetadata) error
	GetContent(id string) (*types.ContentMetadata, error)
	ListContent(filter types.ContentFilter) ([]*types.ContentMetadata, error)
	UpdateContent(c *types.ContentMetadata) error
	ListContentByParent(namespace, parentID string) ([]*types.ContentMetadata, error)
	DeleteContent(id string) error

	// Tasks
	CreateTask(t *types.Task) error
	GetTask(id string) (*types.Task, error)
	UpdateTask(t *types.Task) error
	ListTasks() ([]*types.Task, error)
	ListTasksByExecutor(executorID string) ([]*types.Task, error)
	ListOpenTasksForContentPolicy(contentID, policyID string) ([]*types.Task, error)

	// Executors
	CreateExecutor(e *types.Executor) error
	GetExecutor(id string) (*types.Executor, error)
	DeleteExecutor(id string) error
	ListExecutors() ([]*types.Executor, error)

	// State changes
	AppendStateChange(sc *types.StateChange) error
	NextStateChangeID() (uint64, error)
	ListUnprocessedStateChanges() ([]*types.StateChange, error)
	MarkStateChangesProcessed(ids []uint64, processedAt int64) error

	// Content-policy mappings (pending extraction per content)
	SetContentPendingPolicies(contentID string, policyIDs []string) error
	MarkPolicyAppliedOnContent(contentID, policyID string) (settled bool, err error)
	PendingPoliciesForContent(contentID string) ([]string, error)

	// Garbage collection
	CreateOrUpdateGCTask(t *types.GarbageCollectionTask) error
	GetGCTask(id string) (*types.GarbageCollectionTask, error)
	ListGCTasksForContent(contentID string) ([]*types.GarbageCollectionTask, error)

	// Utility
	Close() error
}
