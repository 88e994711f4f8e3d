// Package fsm implements the raft.FSM consumed by pkg/cluster: a
// deterministic, single-writer state machine over pkg/store. Every Apply
// call decodes a tagged-union Command, validates it against the current
// store (Apply must be safe to re-derive on every replica independent of
// the proposer), mutates the store, and returns an ApplyResult carrying
// any StateChanges the scheduler should observe.
package fsm

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/graftio/ingestify/pkg/store"
	"github.com/graftio/ingestify/pkg/types"
	"github.com/hashicorp/raft"
)

// ApplyResult is what Apply returns for every committed command: the error
// (if any) plus any StateChanges emitted, so the proposer observes exactly
// which changes a command produced.
type ApplyResult struct {
	StateChanges []types.StateChange
	Err          error
}

// FSM implements raft.FSM over a store.Store.
type FSM struct {
	mu    sync.RWMutex
	store store.Store
}

// New constructs an FSM over the given store.
func New(s store.Store) *FSM {
	return &FSM{store: s}
}

// Apply decodes and dispatches one committed log entry.
func (f *FSM) Apply(log *raft.Log) interface{} {
	var cmd types.Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return ApplyResult{Err: fmt.Errorf("failed to unmarshal command: %w", err)}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	case types.OpJoinCluster:
		// Raft membership changes are driven directly through
		// raft.Raft.AddVoter by pkg/cluster, not through the log; this
		// command exists only so joins are observable in the log for
		// auditing and carries no store mutation.
		return ApplyResult{}

	case types.OpRegisterExecutor:
		return f.applyRegisterExecutor(cmd.Data)

	case types.OpRemoveExecutor:
		return f.applyRemoveExecutor(cmd.Data)

	case types.OpCreateNamespace:
		return f.applyCreateNamespace(cmd.Data)

	case types.OpCreateExtractionGraph:
		return f.applyCreateExtractionGraph(cmd.Data)

	case types.OpCreateExtractionPolicy:
		return f.applyCreateExtractionPolicy(cmd.Data)

	case types.OpCreateIndex:
		return f.applyCreateIndex(cmd.Data)

	case types.OpCreateContent:
		return f.applyCreateContent(cmd.Data)

	case types.OpSetContentExtractionPolicyMapping:
		return f.applySetContentPendingPolicies(cmd.Data)

	case types.OpMarkExtractionPolicyApplied:
		return f.applyMarkExtractionPolicyApplied(cmd.Data)

	case types.OpCreateTasks:
		return f.applyCreateTasks(cmd.Data)

	case types.OpAssignTask:
		return f.applyAssignTask(cmd.Data)

	case types.OpUpdateTask:
		return f.applyUpdateTask(cmd.Data)

	case types.OpTombstoneContent:
		return f.applyTombstoneContent(cmd.Data)

	case types.OpCreateOrAssignGCTask:
		return f.applyCreateOrAssignGCTask(cmd.Data)

	case types.OpUpdateGCTask:
		return f.applyUpdateGCTask(cmd.Data)

	case types.OpRemoveTombstonedContent:
		return f.applyRemoveTombstonedContent(cmd.Data)

	case types.OpMarkStateChangesProcessed:
		return f.applyMarkStateChangesProcessed(cmd.Data)

	default:
		return ApplyResult{Err: fmt.Errorf("unknown command: %s", cmd.Op)}
	}
}

func (f *FSM) emit(changeType types.ChangeType, objectID string) (types.StateChange, error) {
	id, err := f.store.NextStateChangeID()
	if err != nil {
		return types.StateChange{}, err
	}
	sc := types.StateChange{ID: id, ObjectID: objectID, ChangeType: changeType, CreatedAt: time.Now().UTC()}
	if err := f.store.AppendStateChange(&sc); err != nil {
		return types.StateChange{}, err
	}
	return sc, nil
}

func (f *FSM) applyRegisterExecutor(data json.RawMessage) ApplyResult {
	var p types.RegisterExecutorPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return ApplyResult{Err: err}
	}

	_, err := f.store.GetExecutor(p.ExecutorID)
	isNew := types.KindOf(err) == types.ErrNotFound

	if err := f.store.UpsertExtractor(&p.Extractor); err != nil {
		return ApplyResult{Err: err}
	}

	exec := &types.Executor{
		ID:            p.ExecutorID,
		Addr:          p.Addr,
		Extractor:     p.Extractor.Name,
		LastHeartbeat: time.Unix(p.TsSecs, 0).UTC(),
	}
	if err := f.store.CreateExecutor(exec); err != nil {
		return ApplyResult{Err: err}
	}

	if !isNew {
		return ApplyResult{}
	}
	sc, err := f.emit(types.ChangeExecutorAdded, exec.ID)
	if err != nil {
		return ApplyResult{Err: err}
	}
	return ApplyResult{StateChanges: []types.StateChange{sc}}
}

func (f *FSM) applyRemoveExecutor(data json.RawMessage) ApplyResult {
	var p types.RemoveExecutorPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return ApplyResult{Err: err}
	}

	if err := f.store.DeleteExecutor(p.ExecutorID); err != nil {
		return ApplyResult{Err: err}
	}

	open, err := f.store.ListTasksByExecutor(p.ExecutorID)
	if err != nil {
		return ApplyResult{Err: err}
	}
	for _, t := range open {
		t.ExecutorID = ""
		if err := f.store.UpdateTask(t); err != nil {
			return ApplyResult{Err: err}
		}
	}

	sc, err := f.emit(types.ChangeExecutorRemoved, p.ExecutorID)
	if err != nil {
		return ApplyResult{Err: err}
	}
	return ApplyResult{StateChanges: []types.StateChange{sc}}
}

func (f *FSM) applyCreateNamespace(data json.RawMessage) ApplyResult {
	var p types.CreateNamespacePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return ApplyResult{Err: err}
	}
	ns := &types.Namespace{Name: p.Name, StructuredDataSchema: p.StructuredDataSchema, CreatedAt: time.Now().UTC()}
	if err := f.store.CreateNamespace(ns); err != nil {
		return ApplyResult{Err: err}
	}
	return ApplyResult{}
}

// mergeSchema folds additions into existing additively, rejecting a field
// whose type changes underneath an existing mapping.
func mergeSchema(existing, additions map[string]string) (map[string]string, error) {
	merged := make(map[string]string, len(existing)+len(additions))
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range additions {
		if cur, ok := merged[k]; ok && cur != v {
			return nil, types.NewError(types.ErrConflict, "structured data field %q: type %s conflicts with existing type %s", k, v, cur)
		}
		merged[k] = v
	}
	return merged, nil
}

// validatePolicies checks that policy names are unique within the graph,
// that every policy's ContentSource resolves either to "ingestion" or to
// another policy in the same graph, and that following ContentSource edges
// never cycles back to a starting policy.
func validatePolicies(policies []*types.ExtractionPolicy) error {
	byName := make(map[string]*types.ExtractionPolicy, len(policies))
	for _, p := range policies {
		if _, exists := byName[p.Name]; exists {
			return types.NewError(types.ErrInvalidArgument, "policy name %q collides within the extraction graph", p.Name)
		}
		byName[p.Name] = p
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(policies))

	var visit func(name string) error
	visit = func(name string) error {
		switch color[name] {
		case black:
			return nil
		case gray:
			return types.NewError(types.ErrInvalidArgument, "extraction graph contains a cycle through policy %q", name)
		}
		color[name] = gray
		p, ok := byName[name]
		if !ok {
			return types.NewError(types.ErrInvalidArgument, "policy %q references unknown content source", name)
		}
		if p.ContentSource != "ingestion" {
			if err := visit(p.ContentSource); err != nil {
				return err
			}
		}
		color[name] = black
		return nil
	}

	for _, p := range policies {
		if err := visit(p.Name); err != nil {
			return err
		}
	}
	return nil
}

func (f *FSM) applyCreateExtractionGraph(data json.RawMessage) ApplyResult {
	var p types.CreateExtractionGraphPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return ApplyResult{Err: err}
	}

	policyPtrs := make([]*types.ExtractionPolicy, len(p.Policies))
	for i := range p.Policies {
		policyPtrs[i] = &p.Policies[i]
	}
	if err := validatePolicies(policyPtrs); err != nil {
		return ApplyResult{Err: err}
	}

	ns, err := f.store.GetNamespace(p.Graph.Namespace)
	if err != nil {
		return ApplyResult{Err: err}
	}
	merged, err := mergeSchema(ns.StructuredDataSchema, p.StructuredDataSchema)
	if err != nil {
		return ApplyResult{Err: err}
	}
	ns.StructuredDataSchema = merged
	if err := f.store.UpdateNamespace(ns); err != nil {
		return ApplyResult{Err: err}
	}

	graph := p.Graph
	graph.Policies = policyPtrs
	if err := f.store.CreateExtractionGraph(&graph); err != nil {
		return ApplyResult{Err: err}
	}

	var changes []types.StateChange
	for _, policy := range policyPtrs {
		if err := f.store.CreatePolicy(policy); err != nil {
			return ApplyResult{Err: err}
		}
		sc, err := f.emit(types.ChangeNewExtractionPolicy, policy.ID)
		if err != nil {
			return ApplyResult{Err: err}
		}
		changes = append(changes, sc)
	}
	return ApplyResult{StateChanges: changes}
}

func (f *FSM) applyCreateExtractionPolicy(data json.RawMessage) ApplyResult {
	var p types.CreateExtractionPolicyPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return ApplyResult{Err: err}
	}

	graph, err := f.store.GetExtractionGraph(p.Policy.Namespace, p.Policy.Graph)
	if err != nil {
		return ApplyResult{Err: err}
	}
	candidate := append(append([]*types.ExtractionPolicy{}, graph.Policies...), &p.Policy)
	if err := validatePolicies(candidate); err != nil {
		return ApplyResult{Err: err}
	}

	ns, err := f.store.GetNamespace(p.Policy.Namespace)
	if err != nil {
		return ApplyResult{Err: err}
	}
	merged, err := mergeSchema(ns.StructuredDataSchema, p.NewSchema)
	if err != nil {
		return ApplyResult{Err: err}
	}
	ns.StructuredDataSchema = merged
	if err := f.store.UpdateNamespace(ns); err != nil {
		return ApplyResult{Err: err}
	}

	if err := f.store.CreatePolicy(&p.Policy); err != nil {
		return ApplyResult{Err: err}
	}
	graph.Policies = candidate
	if err := f.store.CreateExtractionGraph(graph); err != nil {
		return ApplyResult{Err: err}
	}

	sc, err := f.emit(types.ChangeNewExtractionPolicy, p.Policy.ID)
	if err != nil {
		return ApplyResult{Err: err}
	}
	return ApplyResult{StateChanges: []types.StateChange{sc}}
}

func (f *FSM) applyCreateIndex(data json.RawMessage) ApplyResult {
	var p types.CreateIndexPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return ApplyResult{Err: err}
	}
	if err := f.store.CreateIndex(&p.Index); err != nil {
		return ApplyResult{Err: err}
	}
	return ApplyResult{}
}

func (f *FSM) applyCreateContent(data json.RawMessage) ApplyResult {
	var p types.CreateContentPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return ApplyResult{Err: err}
	}

	var changes []types.StateChange
	for i := range p.ContentMetadata {
		c := &p.ContentMetadata[i]
		_, err := f.store.GetContent(c.ID)
		if types.KindOf(err) != types.ErrNotFound {
			continue // already present: idempotent replay
		}
		if err := f.store.CreateContent(c); err != nil {
			return ApplyResult{Err: err}
		}
		sc, err := f.emit(types.ChangeNewContent, c.ID)
		if err != nil {
			return ApplyResult{Err: err}
		}
		changes = append(changes, sc)
	}
	return ApplyResult{StateChanges: changes}
}

func (f *FSM) applySetContentPendingPolicies(data json.RawMessage) ApplyResult {
	var p types.SetContentExtractionPolicyMappingPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return ApplyResult{Err: err}
	}
	if err := f.store.SetContentPendingPolicies(p.ContentID, p.ExtractionPolicyIDs); err != nil {
		return ApplyResult{Err: err}
	}
	return ApplyResult{}
}

func (f *FSM) applyMarkExtractionPolicyApplied(data json.RawMessage) ApplyResult {
	var p types.MarkExtractionPolicyAppliedPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return ApplyResult{Err: err}
	}
	if err := markPolicyApplied(f.store, p.ContentID, p.PolicyID); err != nil {
		return ApplyResult{Err: err}
	}
	if _, err := f.store.MarkPolicyAppliedOnContent(p.ContentID, p.PolicyID); err != nil {
		return ApplyResult{Err: err}
	}
	return ApplyResult{}
}

// markPolicyApplied records policyID in the content row's applied list,
// independent of the separate pending-policy set used for completion
// detection.
func markPolicyApplied(s store.Store, contentID, policyID string) error {
	c, err := s.GetContent(contentID)
	if err != nil {
		return err
	}
	for _, id := range c.ExtractionPolicyIDsApplied {
		if id == policyID {
			return nil
		}
	}
	c.ExtractionPolicyIDsApplied = append(c.ExtractionPolicyIDsApplied, policyID)
	return s.UpdateContent(c)
}

func (f *FSM) applyCreateTasks(data json.RawMessage) ApplyResult {
	var p types.CreateTasksPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return ApplyResult{Err: err}
	}
	for i := range p.Tasks {
		t := &p.Tasks[i]
		existing, err := f.store.ListOpenTasksForContentPolicy(t.ContentID, t.PolicyID)
		if err != nil {
			return ApplyResult{Err: err}
		}
		if len(existing) > 0 {
			continue
		}
		if err := f.store.CreateTask(t); err != nil {
			return ApplyResult{Err: err}
		}
	}
	return ApplyResult{}
}

func (f *FSM) applyAssignTask(data json.RawMessage) ApplyResult {
	var p types.AssignTaskPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return ApplyResult{Err: err}
	}
	for taskID, executorID := range p.Assignments {
		t, err := f.store.GetTask(taskID)
		if err != nil {
			return ApplyResult{Err: err}
		}
		t.ExecutorID = executorID
		if err := f.store.UpdateTask(t); err != nil {
			return ApplyResult{Err: err}
		}
	}
	return ApplyResult{}
}

func (f *FSM) applyUpdateTask(data json.RawMessage) ApplyResult {
	var p types.UpdateTaskPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return ApplyResult{Err: err}
	}

	task := p.Task
	if err := f.store.UpdateTask(&task); err != nil {
		return ApplyResult{Err: err}
	}

	var changes []types.StateChange
	for i := range p.ContentMetadata {
		c := &p.ContentMetadata[i]
		_, err := f.store.GetContent(c.ID)
		if types.KindOf(err) != types.ErrNotFound {
			continue
		}
		if err := f.store.CreateContent(c); err != nil {
			return ApplyResult{Err: err}
		}
		sc, err := f.emit(types.ChangeNewContent, c.ID)
		if err != nil {
			return ApplyResult{Err: err}
		}
		changes = append(changes, sc)
	}

	if p.MarkFinished {
		if task.Outcome == types.TaskOutcomeSuccess {
			if err := markPolicyApplied(f.store, task.ContentID, task.PolicyID); err != nil {
				return ApplyResult{Err: err}
			}
			if _, err := f.store.MarkPolicyAppliedOnContent(task.ContentID, task.PolicyID); err != nil {
				return ApplyResult{Err: err}
			}
		}
		sc, err := f.emit(types.ChangeTaskCompleted, task.ID)
		if err != nil {
			return ApplyResult{Err: err}
		}
		changes = append(changes, sc)
	}

	return ApplyResult{StateChanges: changes}
}

func (f *FSM) applyTombstoneContent(data json.RawMessage) ApplyResult {
	var p types.TombstoneContentPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return ApplyResult{Err: err}
	}

	var changes []types.StateChange
	queue := append([]string{}, p.ContentIDs...)
	seen := make(map[string]bool)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true

		c, err := f.store.GetContent(id)
		if err != nil {
			return ApplyResult{Err: err}
		}
		if !c.Tombstoned {
			c.Tombstoned = true
			if err := f.store.UpdateContent(c); err != nil {
				return ApplyResult{Err: err}
			}
			sc, err := f.emit(types.ChangeTombstonedContent, c.ID)
			if err != nil {
				return ApplyResult{Err: err}
			}
			changes = append(changes, sc)
		}

		children, err := f.store.ListContentByParent(p.Namespace, id)
		if err != nil {
			return ApplyResult{Err: err}
		}
		for _, child := range children {
			queue = append(queue, child.ID)
		}
	}
	return ApplyResult{StateChanges: changes}
}

func (f *FSM) applyCreateOrAssignGCTask(data json.RawMessage) ApplyResult {
	var p types.CreateOrAssignGCTaskPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return ApplyResult{Err: err}
	}
	for i := range p.Tasks {
		if err := f.store.CreateOrUpdateGCTask(&p.Tasks[i]); err != nil {
			return ApplyResult{Err: err}
		}
	}
	return ApplyResult{}
}

func (f *FSM) applyUpdateGCTask(data json.RawMessage) ApplyResult {
	var p types.UpdateGCTaskPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return ApplyResult{Err: err}
	}
	p.Task.Finished = p.Task.Finished || p.MarkFinished
	if err := f.store.CreateOrUpdateGCTask(&p.Task); err != nil {
		return ApplyResult{Err: err}
	}
	return ApplyResult{}
}

func (f *FSM) applyRemoveTombstonedContent(data json.RawMessage) ApplyResult {
	var p types.RemoveTombstonedContentPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return ApplyResult{Err: err}
	}

	gcTask, err := f.store.GetGCTask(types.GCTaskID(p.ContentID))
	if err != nil {
		return ApplyResult{Err: types.Wrap(types.ErrFailedPrecondition, err, "content %q has no garbage-collection task", p.ContentID)}
	}
	if !gcTask.Finished {
		return ApplyResult{Err: types.NewError(types.ErrFailedPrecondition, "content %q garbage-collection task is not finished", p.ContentID)}
	}

	if err := f.store.DeleteContent(p.ContentID); err != nil {
		return ApplyResult{Err: err}
	}
	return ApplyResult{}
}

func (f *FSM) applyMarkStateChangesProcessed(data json.RawMessage) ApplyResult {
	var p types.MarkStateChangesProcessedPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return ApplyResult{Err: err}
	}
	if err := f.store.MarkStateChangesProcessed(p.StateChangeIDs, time.Now().Unix()); err != nil {
		return ApplyResult{Err: err}
	}
	return ApplyResult{}
}

// Snapshot captures the entire store as a point-in-time JSON document.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	namespaces, err := f.store.ListNamespaces()
	if err != nil {
		return nil, fmt.Errorf("failed to list namespaces: %w", err)
	}
	extractors, err := f.store.ListExtractors()
	if err != nil {
		return nil, fmt.Errorf("failed to list extractors: %w", err)
	}
	executors, err := f.store.ListExecutors()
	if err != nil {
		return nil, fmt.Errorf("failed to list executors: %w", err)
	}
	tasks, err := f.store.ListTasks()
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	unprocessed, err := f.store.ListUnprocessedStateChanges()
	if err != nil {
		return nil, fmt.Errorf("failed to list state changes: %w", err)
	}

	var graphs []*types.ExtractionGraph
	var policies []*types.ExtractionPolicy
	var indexes []*types.Index
	var content []*types.ContentMetadata
	for _, ns := range namespaces {
		gs, err := f.store.ListExtractionGraphs(ns.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to list extraction graphs: %w", err)
		}
		graphs = append(graphs, gs...)
		for _, g := range gs {
			ps, err := f.store.ListPoliciesByGraph(ns.Name, g.Name)
			if err != nil {
				return nil, fmt.Errorf("failed to list policies: %w", err)
			}
			policies = append(policies, ps...)
		}
		idxs, err := f.store.ListIndexes(ns.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to list indexes: %w", err)
		}
		indexes = append(indexes, idxs...)
		cs, err := f.store.ListContent(types.ContentFilter{Namespace: ns.Name})
		if err != nil {
			return nil, fmt.Errorf("failed to list content: %w", err)
		}
		content = append(content, cs...)
	}

	return &Snapshot{
		Namespaces:      namespaces,
		ExtractionGraphs: graphs,
		Policies:        policies,
		Extractors:      extractors,
		Indexes:         indexes,
		Content:         content,
		Tasks:           tasks,
		Executors:       executors,
		StateChanges:    unprocessed,
	}, nil
}

// Restore rebuilds the store from a previously Persist()ed snapshot.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snap Snapshot
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, ns := range snap.Namespaces {
		if err := f.store.CreateNamespace(ns); err != nil {
			return fmt.Errorf("failed to restore namespace: %w", err)
		}
	}
	for _, g := range snap.ExtractionGraphs {
		if err := f.store.CreateExtractionGraph(g); err != nil {
			return fmt.Errorf("failed to restore extraction graph: %w", err)
		}
	}
	for _, p := range snap.Policies {
		if err := f.store.CreatePolicy(p); err != nil {
			return fmt.Errorf("failed to restore policy: %w", err)
		}
	}
	for _, e := range snap.Extractors {
		if err := f.store.UpsertExtractor(e); err != nil {
			return fmt.Errorf("failed to restore extractor: %w", err)
		}
	}
	for _, idx := range snap.Indexes {
		if err := f.store.CreateIndex(idx); err != nil {
			return fmt.Errorf("failed to restore index: %w", err)
		}
	}
	for _, c := range snap.Content {
		if err := f.store.CreateContent(c); err != nil {
			return fmt.Errorf("failed to restore content: %w", err)
		}
	}
	for _, t := range snap.Tasks {
		if err := f.store.CreateTask(t); err != nil {
			return fmt.Errorf("failed to restore task: %w", err)
		}
	}
	for _, e := range snap.Executors {
		if err := f.store.CreateExecutor(e); err != nil {
			return fmt.Errorf("failed to restore executor: %w", err)
		}
	}
	for _, sc := range snap.StateChanges {
		if err := f.store.AppendStateChange(sc); err != nil {
			return fmt.Errorf("failed to restore state change: %w", err)
		}
	}

	return nil
}

// Snapshot is the serialized form of the entire store at a log index.
type Snapshot struct {
	Namespaces       []*types.Namespace
	ExtractionGraphs []*types.ExtractionGraph
	Policies         []*types.ExtractionPolicy
	Extractors       []*types.Extractor
	Indexes          []*types.Index
	Content          []*types.ContentMetadata
	Tasks            []*types.Task
	Executors        []*types.Executor
	StateChanges     []*types.StateChange
}

// Persist writes the snapshot to sink as JSON.
func (s *Snapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s); err != nil {
			return err
		}
		return sink.Close()
	}()
	if err != nil {
		sink.Cancel()
	}
	return err
}

// Release is a no-op: Snapshot holds no resources beyond the in-memory slices.
func (s *Snapshot) Release() {}
