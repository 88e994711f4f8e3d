package fsm

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/graftio/ingestify/pkg/store"
	"github.com/graftio/ingestify/pkg/types"
	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is a minimal in-memory store.Store for exercising Apply's
// semantics without bbolt.
type memStore struct {
	namespaces map[string]*types.Namespace
	graphs     map[string][]*types.ExtractionGraph
	policies   map[string]*types.ExtractionPolicy
	extractors map[string]*types.Extractor
	content    map[string]*types.ContentMetadata
	tasks      map[string]*types.Task
	executors  map[string]*types.Executor
	gcTasks    map[string]*types.GarbageCollectionTask
	changes    []*types.StateChange
	nextSCID   uint64
}

func newMemStore() *memStore {
	return &memStore{
		namespaces: map[string]*types.Namespace{},
		graphs:     map[string][]*types.ExtractionGraph{},
		policies:   map[string]*types.ExtractionPolicy{},
		extractors: map[string]*types.Extractor{},
		content:    map[string]*types.ContentMetadata{},
		tasks:      map[string]*types.Task{},
		executors:  map[string]*types.Executor{},
		gcTasks:    map[string]*types.GarbageCollectionTask{},
	}
}

func (m *memStore) CreateNamespace(ns *types.Namespace) error { m.namespaces[ns.Name] = ns; return nil }
func (m *memStore) GetNamespace(name string) (*types.Namespace, error) {
	if ns, ok := m.namespaces[name]; ok {
		return ns, nil
	}
	return nil, types.NewError(types.ErrNotFound, "namespace %s", name)
}
func (m *memStore) ListNamespaces() ([]*types.Namespace, error) {
	var out []*types.Namespace
	for _, ns := range m.namespaces {
		out = append(out, ns)
	}
	return out, nil
}
func (m *memStore) UpdateNamespace(ns *types.Namespace) error { m.namespaces[ns.Name] = ns; return nil }

func (m *memStore) CreateExtractionGraph(g *types.ExtractionGraph) error {
	list := m.graphs[g.Namespace]
	for i, existing := range list {
		if existing.Name == g.Name {
			list[i] = g
			return nil
		}
	}
	m.graphs[g.Namespace] = append(list, g)
	return nil
}
func (m *memStore) GetExtractionGraph(namespace, name string) (*types.ExtractionGraph, error) {
	for _, g := range m.graphs[namespace] {
		if g.Name == name {
			return g, nil
		}
	}
	return nil, types.NewError(types.ErrNotFound, "graph %s", name)
}
func (m *memStore) ListExtractionGraphs(namespace string) ([]*types.ExtractionGraph, error) {
	return m.graphs[namespace], nil
}

func (m *memStore) CreatePolicy(p *types.ExtractionPolicy) error { m.policies[p.ID] = p; return nil }
func (m *memStore) GetPolicy(id string) (*types.ExtractionPolicy, error) {
	if p, ok := m.policies[id]; ok {
		return p, nil
	}
	return nil, types.NewError(types.ErrNotFound, "policy %s", id)
}
func (m *memStore) ListPoliciesByGraph(namespace, graph string) ([]*types.ExtractionPolicy, error) {
	var out []*types.ExtractionPolicy
	for _, p := range m.policies {
		if p.Namespace == namespace && p.Graph == graph {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memStore) UpsertExtractor(e *types.Extractor) error { m.extractors[e.Name] = e; return nil }
func (m *memStore) GetExtractor(name string) (*types.Extractor, error) {
	if e, ok := m.extractors[name]; ok {
		return e, nil
	}
	return nil, types.NewError(types.ErrNotFound, "extractor %s", name)
}
func (m *memStore) ListExtractors() ([]*types.Extractor, error) {
	var out []*types.Extractor
	for _, e := range m.extractors {
		out = append(out, e)
	}
	return out, nil
}

func (m *memStore) CreateIndex(idx *types.Index) error { return nil }
func (m *memStore) GetIndex(namespace, name string) (*types.Index, error) {
	return nil, types.NewError(types.ErrNotFound, "index %s", name)
}
func (m *memStore) ListIndexes(namespace string) ([]*types.Index, error) { return nil, nil }

func (m *memStore) CreateContent(c *types.ContentMetadata) error { m.content[c.ID] = c; return nil }
func (m *memStore) GetContent(id string) (*types.ContentMetadata, error) {
	if c, ok := m.content[id]; ok {
		return c, nil
	}
	return nil, types.NewError(types.ErrNotFound, "content %s", id)
}
func (m *memStore) ListContent(filter types.ContentFilter) ([]*types.ContentMetadata, error) {
	var out []*types.ContentMetadata
	for _, c := range m.content {
		if filter.Matches(c) {
			out = append(out, c)
		}
	}
	return out, nil
}
func (m *memStore) UpdateContent(c *types.ContentMetadata) error { m.content[c.ID] = c; return nil }
func (m *memStore) ListContentByParent(namespace, parentID string) ([]*types.ContentMetadata, error) {
	var out []*types.ContentMetadata
	for _, c := range m.content {
		if c.Namespace == namespace && c.ParentID == parentID {
			out = append(out, c)
		}
	}
	return out, nil
}
func (m *memStore) DeleteContent(id string) error { delete(m.content, id); return nil }

func (m *memStore) CreateTask(t *types.Task) error { m.tasks[t.ID] = t; return nil }
func (m *memStore) GetTask(id string) (*types.Task, error) {
	if t, ok := m.tasks[id]; ok {
		return t, nil
	}
	return nil, types.NewError(types.ErrNotFound, "task %s", id)
}
func (m *memStore) UpdateTask(t *types.Task) error { m.tasks[t.ID] = t; return nil }
func (m *memStore) ListTasks() ([]*types.Task, error) {
	var out []*types.Task
	for _, t := range m.tasks {
		out = append(out, t)
	}
	return out, nil
}
func (m *memStore) ListTasksByExecutor(executorID string) ([]*types.Task, error) {
	var out []*types.Task
	for _, t := range m.tasks {
		if t.ExecutorID == executorID {
			out = append(out, t)
		}
	}
	return out, nil
}
func (m *memStore) ListOpenTasksForContentPolicy(contentID, policyID string) ([]*types.Task, error) {
	var out []*types.Task
	for _, t := range m.tasks {
		if t.ContentID == contentID && t.PolicyID == policyID && !t.Terminal() {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memStore) CreateExecutor(e *types.Executor) error { m.executors[e.ID] = e; return nil }
func (m *memStore) GetExecutor(id string) (*types.Executor, error) {
	if e, ok := m.executors[id]; ok {
		return e, nil
	}
	return nil, types.NewError(types.ErrNotFound, "executor %s", id)
}
func (m *memStore) DeleteExecutor(id string) error { delete(m.executors, id); return nil }
func (m *memStore) ListExecutors() ([]*types.Executor, error) {
	var out []*types.Executor
	for _, e := range m.executors {
		out = append(out, e)
	}
	return out, nil
}

func (m *memStore) AppendStateChange(sc *types.StateChange) error {
	m.changes = append(m.changes, sc)
	return nil
}
func (m *memStore) NextStateChangeID() (uint64, error) {
	m.nextSCID++
	return m.nextSCID, nil
}
func (m *memStore) ListUnprocessedStateChanges() ([]*types.StateChange, error) {
	var out []*types.StateChange
	for _, sc := range m.changes {
		if sc.ProcessedAt == nil {
			out = append(out, sc)
		}
	}
	return out, nil
}
func (m *memStore) MarkStateChangesProcessed(ids []uint64, processedAt int64) error {
	set := make(map[uint64]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	t := time.Unix(processedAt, 0).UTC()
	for _, sc := range m.changes {
		if set[sc.ID] {
			sc.ProcessedAt = &t
		}
	}
	return nil
}

func (m *memStore) SetContentPendingPolicies(contentID string, policyIDs []string) error { return nil }
func (m *memStore) MarkPolicyAppliedOnContent(contentID, policyID string) (bool, error) {
	return false, nil
}
func (m *memStore) PendingPoliciesForContent(contentID string) ([]string, error) { return nil, nil }

func (m *memStore) CreateOrUpdateGCTask(t *types.GarbageCollectionTask) error {
	m.gcTasks[t.ID] = t
	return nil
}
func (m *memStore) GetGCTask(id string) (*types.GarbageCollectionTask, error) {
	if t, ok := m.gcTasks[id]; ok {
		return t, nil
	}
	return nil, types.NewError(types.ErrNotFound, "gc task %s", id)
}
func (m *memStore) ListGCTasksForContent(contentID string) ([]*types.GarbageCollectionTask, error) {
	var out []*types.GarbageCollectionTask
	for _, t := range m.gcTasks {
		if t.ContentID == contentID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memStore) Close() error { return nil }

var _ store.Store = (*memStore)(nil)

func applyCommand(t *testing.T, f *FSM, op types.CommandOp, payload any) ApplyResult {
	t.Helper()
	cmd, err := types.NewCommand(op, payload)
	require.NoError(t, err)
	data, err := json.Marshal(cmd)
	require.NoError(t, err)
	result := f.Apply(&raft.Log{Data: data})
	ar, ok := result.(ApplyResult)
	require.True(t, ok, "Apply must return fsm.ApplyResult")
	return ar
}

func TestApplyCreateContentIsIdempotent(t *testing.T) {
	st := newMemStore()
	f := New(st)

	content := types.ContentMetadata{ID: "content-1", Namespace: "ns", Source: "ingestion"}

	r1 := applyCommand(t, f, types.OpCreateContent, types.CreateContentPayload{ContentMetadata: []types.ContentMetadata{content}})
	require.NoError(t, r1.Err)
	assert.Len(t, r1.StateChanges, 1)

	r2 := applyCommand(t, f, types.OpCreateContent, types.CreateContentPayload{ContentMetadata: []types.ContentMetadata{content}})
	require.NoError(t, r2.Err)
	assert.Empty(t, r2.StateChanges, "replaying the same content id must not emit a second NewContent change")
}

func TestApplyCreateTasksDedupsOpenTasks(t *testing.T) {
	st := newMemStore()
	f := New(st)

	task := types.Task{ID: "task-1", ContentID: "content-1", PolicyID: "policy-1", Outcome: types.TaskOutcomeUnknown}
	r1 := applyCommand(t, f, types.OpCreateTasks, types.CreateTasksPayload{Tasks: []types.Task{task}})
	require.NoError(t, r1.Err)

	duplicate := types.Task{ID: "task-2", ContentID: "content-1", PolicyID: "policy-1", Outcome: types.TaskOutcomeUnknown}
	r2 := applyCommand(t, f, types.OpCreateTasks, types.CreateTasksPayload{Tasks: []types.Task{duplicate}})
	require.NoError(t, r2.Err)

	tasks, err := st.ListTasks()
	require.NoError(t, err)
	assert.Len(t, tasks, 1, "a second task for the same (content, policy) pair must be skipped while one is open")
}

func TestApplyCreateTasksAllowsNewTaskAfterTerminal(t *testing.T) {
	st := newMemStore()
	f := New(st)

	require.NoError(t, st.CreateTask(&types.Task{ID: "task-1", ContentID: "content-1", PolicyID: "policy-1", Outcome: types.TaskOutcomeSuccess}))

	next := types.Task{ID: "task-2", ContentID: "content-1", PolicyID: "policy-1", Outcome: types.TaskOutcomeUnknown}
	r := applyCommand(t, f, types.OpCreateTasks, types.CreateTasksPayload{Tasks: []types.Task{next}})
	require.NoError(t, r.Err)

	tasks, err := st.ListTasks()
	require.NoError(t, err)
	assert.Len(t, tasks, 2, "a new task is allowed once the prior one reached a terminal outcome")
}

func TestApplyTombstoneContentCascadesToChildren(t *testing.T) {
	st := newMemStore()
	f := New(st)

	require.NoError(t, st.CreateContent(&types.ContentMetadata{ID: "root", Namespace: "ns"}))
	require.NoError(t, st.CreateContent(&types.ContentMetadata{ID: "child-1", Namespace: "ns", ParentID: "root"}))
	require.NoError(t, st.CreateContent(&types.ContentMetadata{ID: "grandchild-1", Namespace: "ns", ParentID: "child-1"}))

	r := applyCommand(t, f, types.OpTombstoneContent, types.TombstoneContentPayload{Namespace: "ns", ContentIDs: []string{"root"}})
	require.NoError(t, r.Err)
	assert.Len(t, r.StateChanges, 3, "tombstoning the root must cascade through every descendant")

	for _, id := range []string{"root", "child-1", "grandchild-1"} {
		c, err := st.GetContent(id)
		require.NoError(t, err)
		assert.True(t, c.Tombstoned, "content %s should be tombstoned", id)
	}
}

func TestApplyTombstoneContentIsIdempotent(t *testing.T) {
	st := newMemStore()
	f := New(st)
	require.NoError(t, st.CreateContent(&types.ContentMetadata{ID: "root", Namespace: "ns"}))

	r1 := applyCommand(t, f, types.OpTombstoneContent, types.TombstoneContentPayload{Namespace: "ns", ContentIDs: []string{"root"}})
	require.NoError(t, r1.Err)
	assert.Len(t, r1.StateChanges, 1)

	r2 := applyCommand(t, f, types.OpTombstoneContent, types.TombstoneContentPayload{Namespace: "ns", ContentIDs: []string{"root"}})
	require.NoError(t, r2.Err)
	assert.Empty(t, r2.StateChanges, "re-tombstoning an already-tombstoned content must not re-emit a change")
}

func TestApplyRemoveTombstonedContentRejectsUnfinishedGCTask(t *testing.T) {
	st := newMemStore()
	f := New(st)
	require.NoError(t, st.CreateContent(&types.ContentMetadata{ID: "content-1", Namespace: "ns", Tombstoned: true}))
	require.NoError(t, st.CreateOrUpdateGCTask(&types.GarbageCollectionTask{
		ID: types.GCTaskID("content-1"), ContentID: "content-1", Finished: false,
	}))

	r := applyCommand(t, f, types.OpRemoveTombstonedContent, types.RemoveTombstonedContentPayload{ContentID: "content-1"})
	require.Error(t, r.Err)
	assert.Equal(t, types.ErrFailedPrecondition, types.KindOf(r.Err))

	_, err := st.GetContent("content-1")
	assert.NoError(t, err, "content must still exist when its gc task is not finished")
}

func TestApplyRemoveTombstonedContentRejectsMissingGCTask(t *testing.T) {
	st := newMemStore()
	f := New(st)
	require.NoError(t, st.CreateContent(&types.ContentMetadata{ID: "content-1", Namespace: "ns", Tombstoned: true}))

	r := applyCommand(t, f, types.OpRemoveTombstonedContent, types.RemoveTombstonedContentPayload{ContentID: "content-1"})
	require.Error(t, r.Err)
	assert.Equal(t, types.ErrFailedPrecondition, types.KindOf(r.Err))
}

func TestApplyRemoveTombstonedContentSucceedsAfterGCFinishes(t *testing.T) {
	st := newMemStore()
	f := New(st)
	require.NoError(t, st.CreateContent(&types.ContentMetadata{ID: "content-1", Namespace: "ns", Tombstoned: true}))
	require.NoError(t, st.CreateOrUpdateGCTask(&types.GarbageCollectionTask{
		ID: types.GCTaskID("content-1"), ContentID: "content-1", Finished: true,
	}))

	r := applyCommand(t, f, types.OpRemoveTombstonedContent, types.RemoveTombstonedContentPayload{ContentID: "content-1"})
	require.NoError(t, r.Err)

	_, err := st.GetContent("content-1")
	assert.Error(t, err, "content must be physically removed once its gc task is finished")
	assert.Equal(t, types.ErrNotFound, types.KindOf(err))
}

func TestApplyRemoveExecutorOrphansItsOpenTasks(t *testing.T) {
	st := newMemStore()
	f := New(st)

	require.NoError(t, st.CreateExecutor(&types.Executor{ID: "exec-1"}))
	require.NoError(t, st.CreateTask(&types.Task{ID: "task-1", ExecutorID: "exec-1", Outcome: types.TaskOutcomeUnknown}))
	require.NoError(t, st.CreateTask(&types.Task{ID: "task-2", ExecutorID: "exec-1", Outcome: types.TaskOutcomeSuccess}))

	r := applyCommand(t, f, types.OpRemoveExecutor, types.RemoveExecutorPayload{ExecutorID: "exec-1"})
	require.NoError(t, r.Err)
	require.Len(t, r.StateChanges, 1)
	assert.Equal(t, types.ChangeExecutorRemoved, r.StateChanges[0].ChangeType)

	t1, err := st.GetTask("task-1")
	require.NoError(t, err)
	assert.Equal(t, "", t1.ExecutorID)

	_, err = st.GetExecutor("exec-1")
	assert.Equal(t, types.ErrNotFound, types.KindOf(err))
}

func TestApplyUpdateTaskMarkFinishedEmitsTaskCompleted(t *testing.T) {
	st := newMemStore()
	f := New(st)
	require.NoError(t, st.CreateContent(&types.ContentMetadata{ID: "content-1", Namespace: "ns"}))

	task := types.Task{ID: "task-1", ContentID: "content-1", PolicyID: "policy-1", Outcome: types.TaskOutcomeSuccess}
	r := applyCommand(t, f, types.OpUpdateTask, types.UpdateTaskPayload{Task: task, MarkFinished: true})
	require.NoError(t, r.Err)
	require.Len(t, r.StateChanges, 1)
	assert.Equal(t, types.ChangeTaskCompleted, r.StateChanges[0].ChangeType)

	c, err := st.GetContent("content-1")
	require.NoError(t, err)
	assert.Contains(t, c.ExtractionPolicyIDsApplied, "policy-1")
}

func TestMergeSchemaRejectsTypeConflict(t *testing.T) {
	_, err := mergeSchema(map[string]string{"title": "string"}, map[string]string{"title": "int"})
	assert.Error(t, err)
	assert.Equal(t, types.ErrConflict, types.KindOf(err))
}

func TestMergeSchemaAllowsAdditiveAndIdempotentFields(t *testing.T) {
	merged, err := mergeSchema(map[string]string{"title": "string"}, map[string]string{"title": "string", "author": "string"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"title": "string", "author": "string"}, merged)
}

func TestValidatePoliciesDetectsCycle(t *testing.T) {
	a := &types.ExtractionPolicy{Name: "a", ContentSource: "b"}
	b := &types.ExtractionPolicy{Name: "b", ContentSource: "a"}
	err := validatePolicies([]*types.ExtractionPolicy{a, b})
	assert.Error(t, err)
	assert.Equal(t, types.ErrInvalidArgument, types.KindOf(err))
}

func TestValidatePoliciesAcceptsChain(t *testing.T) {
	root := &types.ExtractionPolicy{Name: "extract-text", ContentSource: "ingestion"}
	child := &types.ExtractionPolicy{Name: "embed", ContentSource: "extract-text"}
	err := validatePolicies([]*types.ExtractionPolicy{root, child})
	assert.NoError(t, err)
}

func TestValidatePoliciesRejectsDuplicateName(t *testing.T) {
	a := &types.ExtractionPolicy{Name: "extract-text", ContentSource: "ingestion"}
	b := &types.ExtractionPolicy{Name: "extract-text", ContentSource: "ingestion"}
	err := validatePolicies([]*types.ExtractionPolicy{a, b})
	assert.Error(t, err)
	assert.Equal(t, types.ErrInvalidArgument, types.KindOf(err))
}

func TestApplyCreateExtractionGraphRejectsDuplicatePolicyName(t *testing.T) {
	st := newMemStore()
	f := New(st)
	require.NoError(t, st.CreateNamespace(&types.Namespace{Name: "ns"}))

	id := types.PolicyID("ns", "docs", "extract-text")
	payload := types.CreateExtractionGraphPayload{
		Graph: types.ExtractionGraph{Namespace: "ns", Name: "docs"},
		Policies: []types.ExtractionPolicy{
			{ID: id, Namespace: "ns", Graph: "docs", Name: "extract-text", ContentSource: "ingestion"},
			{ID: id, Namespace: "ns", Graph: "docs", Name: "extract-text", ContentSource: "ingestion"},
		},
	}
	r := applyCommand(t, f, types.OpCreateExtractionGraph, payload)
	require.Error(t, r.Err)
	assert.Equal(t, types.ErrInvalidArgument, types.KindOf(r.Err))
	assert.Empty(t, r.StateChanges)

	_, err := st.GetPolicy(id)
	assert.Equal(t, types.ErrNotFound, types.KindOf(err), "a rejected graph must leave no policy behind")
	_, err = st.GetExtractionGraph("ns", "docs")
	assert.Equal(t, types.ErrNotFound, types.KindOf(err), "a rejected graph must not be stored")
}

func TestApplyCreateExtractionPolicyRejectsCollidingName(t *testing.T) {
	st := newMemStore()
	f := New(st)
	require.NoError(t, st.CreateNamespace(&types.Namespace{Name: "ns"}))

	existing := &types.ExtractionPolicy{
		ID: types.PolicyID("ns", "docs", "extract-text"), Namespace: "ns", Graph: "docs",
		Name: "extract-text", ContentSource: "ingestion",
	}
	require.NoError(t, st.CreatePolicy(existing))
	require.NoError(t, st.CreateExtractionGraph(&types.ExtractionGraph{
		Namespace: "ns", Name: "docs", Policies: []*types.ExtractionPolicy{existing},
	}))

	collider := types.ExtractionPolicy{
		ID: types.PolicyID("ns", "docs", "extract-text"), Namespace: "ns", Graph: "docs",
		Name: "extract-text", ContentSource: "ingestion",
	}
	r := applyCommand(t, f, types.OpCreateExtractionPolicy, types.CreateExtractionPolicyPayload{Policy: collider})
	require.Error(t, r.Err)
	assert.Equal(t, types.ErrInvalidArgument, types.KindOf(r.Err))

	got, err := st.GetExtractionGraph("ns", "docs")
	require.NoError(t, err)
	assert.Len(t, got.Policies, 1, "the graph must keep only the original policy after a rejected attach")
}
