package types

import "encoding/json"

// CommandOp names one of the exhaustive set of replicated log commands the
// state machine accepts.
type CommandOp string

const (
	OpJoinCluster                       CommandOp = "join_cluster"
	OpRegisterExecutor                  CommandOp = "register_executor"
	OpRemoveExecutor                    CommandOp = "remove_executor"
	OpCreateNamespace                   CommandOp = "create_namespace"
	OpCreateExtractionGraph             CommandOp = "create_extraction_graph"
	OpCreateExtractionPolicy            CommandOp = "create_extraction_policy"
	OpCreateIndex                       CommandOp = "create_index"
	OpCreateContent                     CommandOp = "create_content"
	OpSetContentExtractionPolicyMapping CommandOp = "set_content_extraction_policy_mappings"
	OpMarkExtractionPolicyApplied       CommandOp = "mark_extraction_policy_applied_on_content"
	OpCreateTasks                       CommandOp = "create_tasks"
	OpAssignTask                        CommandOp = "assign_task"
	OpUpdateTask                        CommandOp = "update_task"
	OpTombstoneContent                  CommandOp = "tombstone_content"
	OpCreateOrAssignGCTask              CommandOp = "create_or_assign_gc_task"
	OpUpdateGCTask                      CommandOp = "update_gc_task"
	OpRemoveTombstonedContent           CommandOp = "remove_tombstoned_content"
	OpMarkStateChangesProcessed         CommandOp = "mark_state_changes_processed"
)

// Command is the tagged-union envelope proposed to the Raft log: an op tag
// plus a JSON payload decoded by the FSM based on that tag.
type Command struct {
	Op   CommandOp       `json:"op"`
	Data json.RawMessage `json:"data"`
}

// NewCommand marshals payload into a Command for the given op.
func NewCommand(op CommandOp, payload any) (Command, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Command{}, err
	}
	return Command{Op: op, Data: data}, nil
}

// JoinClusterPayload registers cluster membership.
type JoinClusterPayload struct {
	NodeID          string `json:"node_id"`
	Address         string `json:"address"`
	CoordinatorAddr string `json:"coordinator_addr"`
}

// RegisterExecutorPayload upserts an executor; emits ExecutorAdded if new.
type RegisterExecutorPayload struct {
	Addr       string    `json:"addr"`
	ExecutorID string    `json:"executor_id"`
	Extractor  Extractor `json:"extractor"`
	TsSecs     int64     `json:"ts_secs"`
}

// RemoveExecutorPayload deletes an executor, clears the executor id on its
// open tasks, and emits ExecutorRemoved so the scheduler reassigns them.
type RemoveExecutorPayload struct {
	ExecutorID string `json:"executor_id"`
}

// CreateNamespacePayload is idempotent on Name.
type CreateNamespacePayload struct {
	Name                 string            `json:"name"`
	StructuredDataSchema map[string]string `json:"structured_data_schema"`
}

// CreateExtractionGraphPayload is applied atomically: rejected if any
// policy's ContentSource does not resolve within the graph, or a policy
// name collides.
type CreateExtractionGraphPayload struct {
	Graph                ExtractionGraph    `json:"graph"`
	Policies             []ExtractionPolicy `json:"policies"`
	StructuredDataSchema map[string]string  `json:"structured_data_schema"`
}

// CreateExtractionPolicyPayload attaches a policy to an existing graph,
// merging the structured-data schema additively (fails on type conflict).
type CreateExtractionPolicyPayload struct {
	Policy        ExtractionPolicy  `json:"policy"`
	UpdatedSchema map[string]string `json:"updated_schema,omitempty"`
	NewSchema     map[string]string `json:"new_schema"`
}

// CreateIndexPayload registers the physical index record after the index
// manager has materialized the table.
type CreateIndexPayload struct {
	Index     Index  `json:"index"`
	Namespace string `json:"namespace"`
	ID        string `json:"id"`
}

// CreateContentPayload inserts content rows; emits one NewContent per row
// and is idempotent on ID.
type CreateContentPayload struct {
	ContentMetadata []ContentMetadata `json:"content_metadata"`
}

// SetContentExtractionPolicyMappingPayload records which policies must
// still run for a given content; emits nothing.
type SetContentExtractionPolicyMappingPayload struct {
	ContentID           string   `json:"content_id"`
	ExtractionPolicyIDs []string `json:"extraction_policy_ids"`
}

// MarkExtractionPolicyAppliedPayload removes a policy from a content's
// pending set; if the set becomes empty the content is "settled".
type MarkExtractionPolicyAppliedPayload struct {
	ContentID      string `json:"content_id"`
	PolicyID       string `json:"policy_id"`
	CompletionTime int64  `json:"completion_time"`
}

// CreateTasksPayload is scheduler output.
type CreateTasksPayload struct {
	Tasks []Task `json:"tasks"`
}

// AssignTaskPayload is scheduler output.
type AssignTaskPayload struct {
	Assignments map[string]string `json:"assignments"` // task id -> executor id
}

// UpdateTaskPayload reports executor outcome. On Success the children
// content rows are inserted in the same command so task completion and
// child creation are atomic.
type UpdateTaskPayload struct {
	Task            Task              `json:"task"`
	MarkFinished    bool              `json:"mark_finished"`
	ExecutorID      string            `json:"executor_id,omitempty"`
	ContentMetadata []ContentMetadata `json:"content_metadata"`
}

// TombstoneContentPayload marks content (and transitively its descendants
// by ParentID) tombstoned; emits TombstonedContent.
type TombstoneContentPayload struct {
	Namespace  string   `json:"namespace"`
	ContentIDs []string `json:"content_ids"`
}

// CreateOrAssignGCTaskPayload is GC lifecycle.
type CreateOrAssignGCTaskPayload struct {
	Tasks []GarbageCollectionTask `json:"gc_tasks"`
}

// UpdateGCTaskPayload is GC lifecycle.
type UpdateGCTaskPayload struct {
	Task         GarbageCollectionTask `json:"gc_task"`
	MarkFinished bool                  `json:"mark_finished"`
}

// RemoveTombstonedContentPayload is the final deletion after GC confirms
// blob + index erasure.
type RemoveTombstonedContentPayload struct {
	ContentID string `json:"content_id"`
}

// MarkStateChangesProcessedPayload acknowledges scheduler consumption.
type MarkStateChangesProcessedPayload struct {
	StateChangeIDs []uint64 `json:"state_change_ids"`
}
