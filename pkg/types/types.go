// Package types defines the domain model shared by the ingestion coordinator
// and the replicated state machine: namespaces, extraction graphs and
// policies, content metadata, tasks, executors, indexes, and the
// state-change feed that drives the scheduler.
package types

import "time"

// Namespace owns extraction graphs, content, and indexes. Created once and
// never deleted by the core.
type Namespace struct {
	Name                 string            `json:"name"`
	StructuredDataSchema map[string]string `json:"structured_data_schema"`
	CreatedAt            time.Time         `json:"created_at"`
}

// ExtractionGraph is a namespace-scoped DAG of policies.
type ExtractionGraph struct {
	ID        string              `json:"id"`
	Namespace string              `json:"namespace"`
	Name      string              `json:"name"`
	Policies  []*ExtractionPolicy `json:"policies"`
	CreatedAt time.Time           `json:"created_at"`
}

// ExtractionPolicy binds an extractor to an input source. ContentSource is
// either "ingestion" (root) or the name of another policy in the same graph.
// Id is deterministic from (namespace, graph, name) and the policy is
// immutable after creation.
type ExtractionPolicy struct {
	ID                     string            `json:"id"`
	Namespace              string            `json:"namespace"`
	Graph                  string            `json:"graph"`
	Name                   string            `json:"name"`
	Extractor              string            `json:"extractor"`
	InputParams            map[string]any    `json:"input_params"`
	Filters                map[string]string `json:"filters"`
	ContentSource          string            `json:"content_source"`
	OutputIndexNameMapping map[string]string `json:"output_index_name_mapping"`
	CreatedAt              time.Time         `json:"created_at"`
}

// PolicyID derives the deterministic id of a policy from its coordinates.
func PolicyID(namespace, graph, name string) string {
	return deterministicID(namespace, graph, name)
}

// OutputKind distinguishes the tagged union of an extractor output schema.
type OutputKind string

const (
	OutputKindEmbedding  OutputKind = "embedding"
	OutputKindAttributes OutputKind = "attributes"
)

// OutputSchema is a tagged union: either an Embedding schema or an
// Attributes (JSON schema) description.
type OutputSchema struct {
	Kind       OutputKind     `json:"kind"`
	Dim        int            `json:"dim,omitempty"`
	Distance   string         `json:"distance,omitempty"`
	JSONSchema map[string]any `json:"json_schema,omitempty"`
}

// Extractor is a registered capability transforming content into features.
type Extractor struct {
	Name              string                  `json:"name"`
	InputMimeTypes    []string                `json:"input_mime_types"`
	InputParamsSchema map[string]any          `json:"input_params_schema"`
	Outputs           map[string]OutputSchema `json:"outputs"`
}

// Index is the materialized output of one policy-output pair. TableName is
// globally unique and is the physical store key; Name is unique within the
// namespace.
type Index struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	TableName string       `json:"table_name"`
	Namespace string       `json:"namespace"`
	Schema    OutputSchema `json:"schema"`
	PolicyID  string       `json:"policy_id"`
	Extractor string       `json:"extractor"`
	CreatedAt time.Time    `json:"created_at"`
}

// ContentMetadata describes one content record: a bytes blob addressed by
// Id, plus the provenance and extraction bookkeeping needed to drive the
// scheduler. Source is "ingestion" for user uploads and otherwise the id of
// the producing policy. ParentID is empty for roots.
type ContentMetadata struct {
	ID                         string            `json:"id"`
	Namespace                  string            `json:"namespace"`
	FileName                   string            `json:"file_name"`
	StorageURL                 string            `json:"storage_url"`
	ParentID                   string            `json:"parent_id"`
	Mime                       string            `json:"mime"`
	Labels                     map[string]string `json:"labels"`
	Source                     string            `json:"source"`
	SizeBytes                  uint64            `json:"size_bytes"`
	CreatedAt                  time.Time         `json:"created_at"`
	ExtractionPolicyIDsApplied []string          `json:"extraction_policy_ids_applied"`
	Tombstoned                 bool              `json:"tombstoned"`
}

// ContentID derives the deterministic id of a content record from its
// coordinates via deterministicID (hash.go); pkg/contentid supplies the
// random nonce used as fileName when the caller gave none.
func ContentID(namespace, fileName, parentID string) string {
	return deterministicID(namespace, fileName, parentID)
}

// ContentFilter narrows a ListContent query. Namespace is required; every
// other field is optional, matched only when non-empty/non-nil, satisfying
// the list_content(namespace, source, parent_id, labels_eq) query contract.
type ContentFilter struct {
	Namespace string
	Source    string
	ParentID  string
	LabelsEq  map[string]string
}

// Matches reports whether c satisfies every filter field f sets.
func (f ContentFilter) Matches(c *ContentMetadata) bool {
	if c.Namespace != f.Namespace {
		return false
	}
	if f.Source != "" && c.Source != f.Source {
		return false
	}
	if f.ParentID != "" && c.ParentID != f.ParentID {
		return false
	}
	for k, v := range f.LabelsEq {
		if c.Labels[k] != v {
			return false
		}
	}
	return true
}

// TaskID derives the deterministic id of a task from the content/policy
// pair it binds, so that the scheduler re-deriving the same candidate task
// after a crash or a duplicate NewContent delivery proposes the same id and
// CreateTasks' dedup-by-open-task check (pkg/fsm) is reinforced by a stable
// natural key rather than relying on it alone.
func TaskID(namespace, contentID, policyID string) string {
	return deterministicID(namespace, contentID, policyID)
}

// TaskOutcome is the terminal (or pending) result of an extraction task.
type TaskOutcome string

const (
	TaskOutcomeUnknown TaskOutcome = "unknown"
	TaskOutcomeSuccess TaskOutcome = "success"
	TaskOutcomeFailure TaskOutcome = "failure"
)

// Task assigns one content to one policy on one executor. At most one
// non-terminal task exists per (ContentID, PolicyID) pair.
type Task struct {
	ID          string         `json:"id"`
	Namespace   string         `json:"namespace"`
	ContentID   string         `json:"content_id"`
	PolicyID    string         `json:"policy_id"`
	Extractor   string         `json:"extractor"`
	InputParams map[string]any `json:"input_params"`
	Outcome     TaskOutcome    `json:"outcome"`
	ExecutorID  string         `json:"executor_id,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Terminal reports whether the task has reached a final outcome.
func (t *Task) Terminal() bool {
	return t.Outcome == TaskOutcomeSuccess || t.Outcome == TaskOutcomeFailure
}

// Executor is a live extractor-running process. Liveness is tracked by
// heartbeat; stale executors are evicted and their in-flight tasks
// reassigned.
type Executor struct {
	ID            string    `json:"id"`
	Addr          string    `json:"addr"`
	Extractor     string    `json:"extractor"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// ChangeType enumerates the kinds of state change the scheduler consumes.
type ChangeType string

const (
	ChangeNewContent          ChangeType = "NewContent"
	ChangeNewExtractionPolicy ChangeType = "NewExtractionPolicy"
	ChangeExecutorAdded       ChangeType = "ExecutorAdded"
	ChangeExecutorRemoved     ChangeType = "ExecutorRemoved"
	ChangeTaskCompleted       ChangeType = "TaskCompleted"
	ChangeTombstonedContent   ChangeType = "TombstonedContent"
)

// StateChange is an append-only event fed to the scheduler. Ids are
// monotonically increasing within a replica and assigned inside Apply.
type StateChange struct {
	ID          uint64     `json:"id"`
	ObjectID    string     `json:"object_id"`
	ChangeType  ChangeType `json:"change_type"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// GarbageCollectionTask is created when content is tombstoned; it tracks
// the blob and index-table erasure needed before the content row itself can
// be physically removed.
type GarbageCollectionTask struct {
	ID          string   `json:"id"`
	ContentID   string   `json:"content_id"`
	StorageURL  string   `json:"storage_url"`
	IndexTables []string `json:"index_tables"`
	Finished    bool     `json:"finished"`
}

// GCTaskID derives the deterministic id of a garbage-collection task from
// the content it reclaims, so re-tombstoning (or replaying
// CreateOrAssignGarbageCollectionTask) never creates a duplicate task.
func GCTaskID(contentID string) string {
	return deterministicID("gc", contentID)
}
