/*
Package scheduler reacts to the replicated state machine's state-change
feed and turns it into task creation, task assignment, and
garbage-collection task creation.

# Architecture

The scheduler is mostly event-driven: it subscribes to the state-change feed pkg/cluster.Node
publishes as Raft commands commit, and reacts to each change as it
arrives. A second, slower ticker only handles executor-liveness eviction,
since that reacts to the passage of time rather than to a state change.

	NewContent          -> match against extraction policies, create tasks,
	                       assign to a live executor
	ExecutorAdded        -> retry assignment for previously unassignable tasks
	ExecutorRemoved       -> reassign the tasks pkg/fsm already orphaned
	TombstonedContent     -> create (or update) a garbage-collection task

Only the Raft leader schedules. The feed carries only the state changes of
commands proposed through the local node, so a follower's feed stays
empty; changes that arrive while the node is not the leader are skipped.

# Node selection

Executors are chosen least-loaded first, by counting each executor's
non-terminal assigned tasks. Ties break on executor id so two leaders
reconciling the same input converge on the same assignment.
*/
package scheduler
