// Package cluster wraps hashicorp/raft into the Node the rest of this
// module proposes commands through: Bootstrap/Join/AddVoter/RemoveServer
// membership management plus one typed proposal helper per command.
package cluster

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/graftio/ingestify/pkg/events"
	"github.com/graftio/ingestify/pkg/fsm"
	"github.com/graftio/ingestify/pkg/log"
	"github.com/graftio/ingestify/pkg/metrics"
	"github.com/graftio/ingestify/pkg/store"
	"github.com/graftio/ingestify/pkg/types"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

// Config configures a Node.
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string
}

// Node owns the Raft instance, the FSM, and the persistent store behind it,
// and is the only path through which this process mutates replicated state.
type Node struct {
	nodeID   string
	bindAddr string
	dataDir  string

	raft        *raft.Raft
	fsm         *fsm.FSM
	store       store.Store
	eventBroker *events.Broker
}

// New constructs a Node over a fresh BoltStore rooted at cfg.DataDir. It
// does not yet participate in a Raft cluster; call Bootstrap or Join.
func New(cfg Config) (*Node, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	st, err := store.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	f := fsm.New(st)

	broker := events.NewBroker()
	broker.Start()

	return &Node{
		nodeID:      cfg.NodeID,
		bindAddr:    cfg.BindAddr,
		dataDir:     cfg.DataDir,
		fsm:         f,
		store:       st,
		eventBroker: broker,
	}, nil
}

func raftConfig(nodeID string) *raft.Config {
	cfg := raft.DefaultConfig()
	cfg.LocalID = raft.ServerID(nodeID)
	// LAN-tuned timeouts: hashicorp/raft's WAN-oriented defaults
	// (1s heartbeat/election, 500ms lease) are conservative for a
	// single-datacenter control plane.
	cfg.HeartbeatTimeout = 500 * time.Millisecond
	cfg.ElectionTimeout = 500 * time.Millisecond
	cfg.CommitTimeout = 50 * time.Millisecond
	cfg.LeaderLeaseTimeout = 250 * time.Millisecond
	return cfg
}

func (n *Node) newRaft() (*raft.Raft, *raft.NetworkTransport, error) {
	config := raftConfig(n.nodeID)

	addr, err := net.ResolveTCPAddr("tcp", n.bindAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve bind address: %w", err)
	}
	transport, err := raft.NewTCPTransport(n.bindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create transport: %w", err)
	}
	snapshotStore, err := raft.NewFileSnapshotStore(n.dataDir, 2, os.Stderr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create snapshot store: %w", err)
	}
	logStore, err := raftboltdb.NewBoltStore(filepath.Join(n.dataDir, "raft-log.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(n.dataDir, "raft-stable.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create stable store: %w", err)
	}

	r, err := raft.NewRaft(config, n.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create raft: %w", err)
	}
	return r, transport, nil
}

// Bootstrap initializes a new single-node cluster with this node as the
// sole voter.
func (n *Node) Bootstrap() error {
	r, transport, err := n.newRaft()
	if err != nil {
		return err
	}
	n.raft = r

	configuration := raft.Configuration{
		Servers: []raft.Server{{ID: raft.ServerID(n.nodeID), Address: transport.LocalAddr()}},
	}
	if err := n.raft.BootstrapCluster(configuration).Error(); err != nil {
		return fmt.Errorf("failed to bootstrap cluster: %w", err)
	}
	log.WithComponent("cluster").Info().Str("node_id", n.nodeID).Msg("bootstrapped single-node cluster")
	return nil
}

// Join starts this node's Raft instance (without bootstrapping a
// configuration) so it can be added as a voter by an existing leader via
// AddVoter.
func (n *Node) Join() error {
	r, _, err := n.newRaft()
	if err != nil {
		return err
	}
	n.raft = r
	log.WithComponent("cluster").Info().Str("node_id", n.nodeID).Msg("raft transport started, awaiting AddVoter from leader")
	return nil
}

// AddVoter adds a new node to the cluster configuration. Must be called on
// the leader.
func (n *Node) AddVoter(nodeID, address string) error {
	if n.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	if !n.IsLeader() {
		return fmt.Errorf("not the leader, current leader: %s", n.LeaderAddr())
	}
	if err := n.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(address), 0, 10*time.Second).Error(); err != nil {
		return fmt.Errorf("failed to add voter: %w", err)
	}
	return nil
}

// RemoveServer removes a node from the cluster configuration. Must be
// called on the leader.
func (n *Node) RemoveServer(nodeID string) error {
	if n.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	if !n.IsLeader() {
		return fmt.Errorf("not the leader")
	}
	if err := n.raft.RemoveServer(raft.ServerID(nodeID), 0, 10*time.Second).Error(); err != nil {
		return fmt.Errorf("failed to remove server: %w", err)
	}
	return nil
}

// IsLeader reports whether this node currently holds Raft leadership.
func (n *Node) IsLeader() bool {
	return n.raft != nil && n.raft.State() == raft.Leader
}

// LeaderAddr returns the bind address of the current leader, or "" if
// unknown.
func (n *Node) LeaderAddr() string {
	if n.raft == nil {
		return ""
	}
	return string(n.raft.Leader())
}

// Store exposes the underlying persistence layer for read-only queries.
// Reads are only consistent with the leader's view; followers may lag by up
// to one Raft round trip.
func (n *Node) Store() store.Store {
	return n.store
}

// Subscribe returns a channel of the state changes produced by commands
// proposed through this node's Propose, intended for the local scheduler
// loop. Entries a follower applies from the log are not published.
func (n *Node) Subscribe() events.Subscriber {
	return n.eventBroker.Subscribe()
}

// Unsubscribe removes a previously returned subscription.
func (n *Node) Unsubscribe(sub events.Subscriber) {
	n.eventBroker.Unsubscribe(sub)
}

// Shutdown stops Raft and closes the store.
func (n *Node) Shutdown() error {
	n.eventBroker.Stop()
	if n.raft != nil {
		if err := n.raft.Shutdown().Error(); err != nil {
			return fmt.Errorf("failed to shut down raft: %w", err)
		}
	}
	return n.store.Close()
}

// Propose submits cmd to the Raft log and blocks until it is applied,
// returning the ApplyResult the FSM produced. No validation runs before the
// command is proposed: the command is checked only inside FSM Apply, and a
// rejection there comes back as ApplyResult.Err, which Propose also returns
// as its error.
func (n *Node) Propose(cmd types.Command) (fsm.ApplyResult, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RaftApplyDuration)

	if n.raft == nil {
		return fsm.ApplyResult{}, types.NewError(types.ErrUnavailable, "raft not initialized")
	}
	if n.raft.State() != raft.Leader {
		return fsm.ApplyResult{}, types.NewError(types.ErrUnavailable, "not the leader, current leader: %s", n.LeaderAddr())
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return fsm.ApplyResult{}, types.Wrap(types.ErrInternal, err, "failed to marshal command")
	}

	future := n.raft.Apply(data, 5*time.Second)
	if err := future.Error(); err != nil {
		return fsm.ApplyResult{}, types.Wrap(types.ErrUnavailable, err, "failed to apply command")
	}

	resp, ok := future.Response().(fsm.ApplyResult)
	if !ok {
		return fsm.ApplyResult{}, types.NewError(types.ErrInternal, "unexpected apply response type %T", future.Response())
	}
	if resp.Err != nil {
		return resp, resp.Err
	}

	for _, sc := range resp.StateChanges {
		sc := sc
		n.eventBroker.Publish(&sc)
	}

	return resp, nil
}

// --- Typed proposal helpers, one per command op. ---

func propose(n *Node, op types.CommandOp, payload any) (fsm.ApplyResult, error) {
	cmd, err := types.NewCommand(op, payload)
	if err != nil {
		return fsm.ApplyResult{}, types.Wrap(types.ErrInternal, err, "failed to encode %s payload", op)
	}
	return n.Propose(cmd)
}

func (n *Node) RegisterExecutor(p types.RegisterExecutorPayload) (fsm.ApplyResult, error) {
	return propose(n, types.OpRegisterExecutor, p)
}

func (n *Node) RemoveExecutor(p types.RemoveExecutorPayload) (fsm.ApplyResult, error) {
	return propose(n, types.OpRemoveExecutor, p)
}

func (n *Node) CreateNamespace(p types.CreateNamespacePayload) (fsm.ApplyResult, error) {
	return propose(n, types.OpCreateNamespace, p)
}

func (n *Node) CreateExtractionGraph(p types.CreateExtractionGraphPayload) (fsm.ApplyResult, error) {
	return propose(n, types.OpCreateExtractionGraph, p)
}

func (n *Node) CreateExtractionPolicy(p types.CreateExtractionPolicyPayload) (fsm.ApplyResult, error) {
	return propose(n, types.OpCreateExtractionPolicy, p)
}

func (n *Node) CreateIndex(p types.CreateIndexPayload) (fsm.ApplyResult, error) {
	return propose(n, types.OpCreateIndex, p)
}

func (n *Node) CreateContent(p types.CreateContentPayload) (fsm.ApplyResult, error) {
	return propose(n, types.OpCreateContent, p)
}

func (n *Node) SetContentPendingPolicies(p types.SetContentExtractionPolicyMappingPayload) (fsm.ApplyResult, error) {
	return propose(n, types.OpSetContentExtractionPolicyMapping, p)
}

func (n *Node) MarkExtractionPolicyApplied(p types.MarkExtractionPolicyAppliedPayload) (fsm.ApplyResult, error) {
	return propose(n, types.OpMarkExtractionPolicyApplied, p)
}

func (n *Node) CreateTasks(p types.CreateTasksPayload) (fsm.ApplyResult, error) {
	return propose(n, types.OpCreateTasks, p)
}

func (n *Node) AssignTask(p types.AssignTaskPayload) (fsm.ApplyResult, error) {
	return propose(n, types.OpAssignTask, p)
}

func (n *Node) UpdateTask(p types.UpdateTaskPayload) (fsm.ApplyResult, error) {
	return propose(n, types.OpUpdateTask, p)
}

func (n *Node) TombstoneContent(p types.TombstoneContentPayload) (fsm.ApplyResult, error) {
	return propose(n, types.OpTombstoneContent, p)
}

func (n *Node) CreateOrAssignGCTask(p types.CreateOrAssignGCTaskPayload) (fsm.ApplyResult, error) {
	return propose(n, types.OpCreateOrAssignGCTask, p)
}

func (n *Node) UpdateGCTask(p types.UpdateGCTaskPayload) (fsm.ApplyResult, error) {
	return propose(n, types.OpUpdateGCTask, p)
}

func (n *Node) RemoveTombstonedContent(p types.RemoveTombstonedContentPayload) (fsm.ApplyResult, error) {
	return propose(n, types.OpRemoveTombstonedContent, p)
}

func (n *Node) MarkStateChangesProcessed(p types.MarkStateChangesProcessedPayload) (fsm.ApplyResult, error) {
	return propose(n, types.OpMarkStateChangesProcessed, p)
}
