package scheduler

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/graftio/ingestify/pkg/events"
	"github.com/graftio/ingestify/pkg/fsm"
	"github.com/graftio/ingestify/pkg/log"
	"github.com/graftio/ingestify/pkg/metrics"
	"github.com/graftio/ingestify/pkg/store"
	"github.com/graftio/ingestify/pkg/types"
	"github.com/rs/zerolog"
)

// Node is the narrow surface the scheduler needs from pkg/cluster.Node:
// read access to the authoritative store plus the typed command proposals
// it drives. Scoped to an interface so the scheduler can be tested against
// a fake without standing up Raft.
type Node interface {
	Store() store.Store
	Subscribe() events.Subscriber
	Unsubscribe(sub events.Subscriber)
	IsLeader() bool
	SetContentPendingPolicies(types.SetContentExtractionPolicyMappingPayload) (fsm.ApplyResult, error)
	CreateTasks(types.CreateTasksPayload) (fsm.ApplyResult, error)
	AssignTask(types.AssignTaskPayload) (fsm.ApplyResult, error)
	RemoveExecutor(types.RemoveExecutorPayload) (fsm.ApplyResult, error)
	CreateOrAssignGCTask(types.CreateOrAssignGCTaskPayload) (fsm.ApplyResult, error)
	MarkStateChangesProcessed(types.MarkStateChangesProcessedPayload) (fsm.ApplyResult, error)
}

// executorStaleAfter is how long an executor can go without a heartbeat
// before the scheduler evicts it and reassigns its open tasks.
const executorStaleAfter = 30 * time.Second

// Scheduler reacts to the state-change feed and to executor liveness.
type Scheduler struct {
	node   Node
	logger zerolog.Logger

	sub    events.Subscriber
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Scheduler over node. Call Start to begin reacting.
func New(node Node) *Scheduler {
	return &Scheduler{
		node:   node,
		logger: log.WithComponent("scheduler"),
		stopCh: make(chan struct{}),
	}
}

// Start subscribes to the state-change feed and begins the liveness-sweep
// ticker, each in its own goroutine.
func (s *Scheduler) Start() {
	s.sub = s.node.Subscribe()
	s.wg.Add(2)
	go s.consumeStateChanges()
	go s.sweepExecutorLiveness()
}

// Stop unsubscribes from the feed and halts the liveness sweep.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
	if s.sub != nil {
		s.node.Unsubscribe(s.sub)
	}
}

func (s *Scheduler) consumeStateChanges() {
	defer s.wg.Done()
	for {
		select {
		case sc, ok := <-s.sub:
			if !ok {
				return
			}
			if !s.node.IsLeader() {
				// Only the leader schedules; a change received after
				// losing leadership is skipped.
				continue
			}
			s.handle(sc)
		case <-s.stopCh:
			return
		}
	}
}

func (s *Scheduler) handle(sc *types.StateChange) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SchedulingCycleDuration)

	var err error
	switch sc.ChangeType {
	case types.ChangeNewContent:
		err = s.onNewContent(sc.ObjectID)
	case types.ChangeExecutorAdded:
		err = s.onExecutorAdded(sc.ObjectID)
	case types.ChangeExecutorRemoved:
		err = s.onExecutorRemoved(sc.ObjectID)
	case types.ChangeTombstonedContent:
		err = s.onTombstonedContent(sc.ObjectID)
	case types.ChangeNewExtractionPolicy, types.ChangeTaskCompleted:
		// Nothing to reconcile directly: a new policy only matters once
		// matching content exists (already handled by onNewContent for
		// content created after the policy), and task completion's
		// children arrive as their own NewContent events.
	}
	if err != nil {
		s.logger.Error().Err(err).Str("state_change_id", fmt.Sprint(sc.ID)).Str("change_type", string(sc.ChangeType)).Msg("failed to process state change")
		return
	}
	if _, err := s.node.MarkStateChangesProcessed(types.MarkStateChangesProcessedPayload{StateChangeIDs: []uint64{sc.ID}}); err != nil {
		s.logger.Error().Err(err).Msg("failed to mark state change processed")
	}
}

// onNewContent finds every policy that should run over newly created
// content, records the pending set, creates one task per match, and
// immediately attempts to assign each to a live executor.
func (s *Scheduler) onNewContent(contentID string) error {
	st := s.node.Store()
	content, err := st.GetContent(contentID)
	if err != nil {
		return fmt.Errorf("failed to load content %s: %w", contentID, err)
	}
	if content.Tombstoned {
		return nil
	}

	candidates, err := s.matchingPolicies(content)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return nil
	}

	policyIDs := make([]string, 0, len(candidates))
	tasks := make([]types.Task, 0, len(candidates))
	for _, p := range candidates {
		policyIDs = append(policyIDs, p.ID)
		tasks = append(tasks, types.Task{
			ID:          types.TaskID(content.Namespace, content.ID, p.ID),
			Namespace:   content.Namespace,
			ContentID:   content.ID,
			PolicyID:    p.ID,
			Extractor:   p.Extractor,
			InputParams: p.InputParams,
			Outcome:     types.TaskOutcomeUnknown,
		})
	}

	if _, err := s.node.SetContentPendingPolicies(types.SetContentExtractionPolicyMappingPayload{
		ContentID:           content.ID,
		ExtractionPolicyIDs: policyIDs,
	}); err != nil {
		return fmt.Errorf("failed to set pending policies for content %s: %w", content.ID, err)
	}

	if _, err := s.node.CreateTasks(types.CreateTasksPayload{Tasks: tasks}); err != nil {
		return fmt.Errorf("failed to create tasks for content %s: %w", content.ID, err)
	}
	metrics.TasksScheduled.Add(float64(len(tasks)))

	return s.assignTasks(tasks)
}

// matchingPolicies resolves the set of policies that should run over
// content: for root (ingestion-sourced) content, every policy whose
// content_source is "ingestion"; for extractor-produced content, every
// policy in the same graph whose content_source names the producing
// policy. Each candidate is further filtered by the extractor's declared
// input mime types and the policy's label-equality filters.
func (s *Scheduler) matchingPolicies(content *types.ContentMetadata) ([]*types.ExtractionPolicy, error) {
	st := s.node.Store()

	var sourceName string
	var namespace, graph string
	if content.Source == "ingestion" {
		sourceName = "ingestion"
	} else {
		producer, err := st.GetPolicy(content.Source)
		if err != nil {
			if types.KindOf(err) == types.ErrNotFound {
				return nil, nil
			}
			return nil, fmt.Errorf("failed to load producing policy %s: %w", content.Source, err)
		}
		sourceName = producer.Name
		namespace = producer.Namespace
		graph = producer.Graph
	}

	var pool []*types.ExtractionPolicy
	if sourceName == "ingestion" {
		graphs, err := st.ListExtractionGraphs(content.Namespace)
		if err != nil {
			return nil, fmt.Errorf("failed to list extraction graphs for namespace %s: %w", content.Namespace, err)
		}
		for _, g := range graphs {
			ps, err := st.ListPoliciesByGraph(content.Namespace, g.Name)
			if err != nil {
				return nil, fmt.Errorf("failed to list policies for graph %s: %w", g.Name, err)
			}
			pool = append(pool, ps...)
		}
	} else {
		ps, err := st.ListPoliciesByGraph(namespace, graph)
		if err != nil {
			return nil, fmt.Errorf("failed to list policies for graph %s: %w", graph, err)
		}
		pool = ps
	}

	var matched []*types.ExtractionPolicy
	for _, p := range pool {
		if p.ContentSource != sourceName {
			continue
		}
		ok, err := s.policyMatches(p, content)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, p)
		}
	}
	return matched, nil
}

func (s *Scheduler) policyMatches(p *types.ExtractionPolicy, content *types.ContentMetadata) (bool, error) {
	extractor, err := s.node.Store().GetExtractor(p.Extractor)
	if err != nil {
		return false, fmt.Errorf("failed to load extractor %s: %w", p.Extractor, err)
	}
	if len(extractor.InputMimeTypes) > 0 && !contains(extractor.InputMimeTypes, content.Mime) {
		return false, nil
	}
	for k, v := range p.Filters {
		if content.Labels[k] != v {
			return false, nil
		}
	}
	return true, nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// assignTasks attempts to assign each task to a live executor registered
// for the task's extractor, least-loaded first.
func (s *Scheduler) assignTasks(tasks []types.Task) error {
	st := s.node.Store()
	executors, err := st.ListExecutors()
	if err != nil {
		return fmt.Errorf("failed to list executors: %w", err)
	}
	allTasks, err := st.ListTasks()
	if err != nil {
		return fmt.Errorf("failed to list tasks: %w", err)
	}

	load := make(map[string]int)
	for _, t := range allTasks {
		if t.ExecutorID != "" && !t.Terminal() {
			load[t.ExecutorID]++
		}
	}

	assignments := make(map[string]string)
	for _, t := range tasks {
		executor := leastLoadedExecutor(executors, t.Extractor, load)
		if executor == "" {
			continue
		}
		assignments[t.ID] = executor
		load[executor]++
	}
	if len(assignments) == 0 {
		return nil
	}
	if _, err := s.node.AssignTask(types.AssignTaskPayload{Assignments: assignments}); err != nil {
		return fmt.Errorf("failed to assign tasks: %w", err)
	}
	return nil
}

func leastLoadedExecutor(executors []*types.Executor, extractor string, load map[string]int) string {
	var best *types.Executor
	bestLoad := int(^uint(0) >> 1)
	// Stable order (by id) so two leaders reconciling the same input pick
	// the same executor.
	candidates := make([]*types.Executor, 0, len(executors))
	for _, e := range executors {
		if e.Extractor == extractor {
			candidates = append(candidates, e)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })
	for _, e := range candidates {
		if load[e.ID] < bestLoad {
			bestLoad = load[e.ID]
			best = e
		}
	}
	if best == nil {
		return ""
	}
	return best.ID
}

// onExecutorAdded retries assignment for any task left unassigned because
// no matching executor previously existed.
func (s *Scheduler) onExecutorAdded(executorID string) error {
	st := s.node.Store()
	executor, err := st.GetExecutor(executorID)
	if err != nil {
		return fmt.Errorf("failed to load executor %s: %w", executorID, err)
	}
	allTasks, err := st.ListTasks()
	if err != nil {
		return fmt.Errorf("failed to list tasks: %w", err)
	}
	var unassigned []types.Task
	for _, t := range allTasks {
		if t.ExecutorID == "" && !t.Terminal() && t.Extractor == executor.Extractor {
			unassigned = append(unassigned, *t)
		}
	}
	if len(unassigned) == 0 {
		return nil
	}
	return s.assignTasks(unassigned)
}

// onExecutorRemoved reassigns the tasks pkg/fsm already unassigned
// (ExecutorID cleared) when the executor was removed.
func (s *Scheduler) onExecutorRemoved(executorID string) error {
	st := s.node.Store()
	allTasks, err := st.ListTasks()
	if err != nil {
		return fmt.Errorf("failed to list tasks: %w", err)
	}
	var orphaned []types.Task
	for _, t := range allTasks {
		if t.ExecutorID == "" && !t.Terminal() {
			orphaned = append(orphaned, *t)
		}
	}
	if len(orphaned) == 0 {
		return nil
	}
	if err := s.assignTasks(orphaned); err != nil {
		return err
	}
	metrics.TasksReassigned.Add(float64(len(orphaned)))
	return nil
}

// onTombstonedContent creates (or updates) the garbage-collection task for
// one tombstoned content row: its blob plus every index table its applied
// policies wrote into.
func (s *Scheduler) onTombstonedContent(contentID string) error {
	st := s.node.Store()
	content, err := st.GetContent(contentID)
	if err != nil {
		return fmt.Errorf("failed to load content %s: %w", contentID, err)
	}

	tableSet := make(map[string]bool)
	for _, policyID := range content.ExtractionPolicyIDsApplied {
		policy, err := st.GetPolicy(policyID)
		if err != nil {
			if types.KindOf(err) == types.ErrNotFound {
				continue
			}
			return fmt.Errorf("failed to load policy %s: %w", policyID, err)
		}
		for _, indexName := range policy.OutputIndexNameMapping {
			idx, err := st.GetIndex(content.Namespace, indexName)
			if err != nil {
				if types.KindOf(err) == types.ErrNotFound {
					continue
				}
				return fmt.Errorf("failed to load index %s: %w", indexName, err)
			}
			tableSet[idx.TableName] = true
		}
	}

	tables := make([]string, 0, len(tableSet))
	for t := range tableSet {
		tables = append(tables, t)
	}
	sort.Strings(tables)

	task := types.GarbageCollectionTask{
		ID:          types.GCTaskID(content.ID),
		ContentID:   content.ID,
		StorageURL:  content.StorageURL,
		IndexTables: tables,
		Finished:    false,
	}
	if _, err := s.node.CreateOrAssignGCTask(types.CreateOrAssignGCTaskPayload{Tasks: []types.GarbageCollectionTask{task}}); err != nil {
		return fmt.Errorf("failed to create GC task for content %s: %w", content.ID, err)
	}
	return nil
}

// sweepExecutorLiveness periodically evicts executors whose last heartbeat
// is older than executorStaleAfter. Eviction is ticker-driven rather than
// event-driven since its input is wall-clock staleness, not a state
// change.
func (s *Scheduler) sweepExecutorLiveness() {
	defer s.wg.Done()
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if s.node.IsLeader() {
				s.evictStaleExecutors()
			}
		case <-s.stopCh:
			return
		}
	}
}

func (s *Scheduler) evictStaleExecutors() {
	executors, err := s.node.Store().ListExecutors()
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list executors during liveness sweep")
		return
	}
	cutoff := time.Now().Add(-executorStaleAfter)
	for _, e := range executors {
		if e.LastHeartbeat.Before(cutoff) {
			if _, err := s.node.RemoveExecutor(types.RemoveExecutorPayload{ExecutorID: e.ID}); err != nil {
				s.logger.Error().Err(err).Str("executor_id", e.ID).Msg("failed to evict stale executor")
			} else {
				s.logger.Info().Str("executor_id", e.ID).Msg("evicted stale executor")
			}
		}
	}
}
