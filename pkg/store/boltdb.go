package store

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/graftio/ingestify/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketNamespaces    = []byte("namespaces")
	bucketGraphs        = []byte("extraction_graphs")
	bucketPolicies      = []byte("extraction_policies")
	bucketExtractors    = []byte("extractors")
	bucketIndexes       = []byte("indexes")
	bucketContent       = []byte("content")
	bucketTasks         = []byte("tasks")
	bucketExecutors     = []byte("executors")
	bucketStateChanges  = []byte("state_changes")
	bucketPendingPolicy = []byte("pending_policies")
	bucketGCTasks       = []byte("gc_tasks")
	bucketCounters      = []byte("counters")
)

const counterStateChangeID = "state_change_id"

// BoltStore implements Store using an embedded bbolt database: one bucket
// per collection, JSON-encoded values, keyed by the entity's natural id.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if necessary) a bbolt database under
// dataDir/state.db and ensures every collection bucket exists.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "state.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketNamespaces, bucketGraphs, bucketPolicies, bucketExtractors,
			bucketIndexes, bucketContent, bucketTasks, bucketExecutors,
			bucketStateChanges, bucketPendingPolicy, bucketGCTasks, bucketCounters,
		}
		for _, b := range buckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func put(tx *bolt.Tx, bucket []byte, key string, v any) error {
	b := tx.Bucket(bucket)
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put([]byte(key), data)
}

func get(tx *bolt.Tx, bucket []byte, key string, v any) error {
	b := tx.Bucket(bucket)
	data := b.Get([]byte(key))
	if data == nil {
		return types.NewError(types.ErrNotFound, "%s/%s not found", bucket, key)
	}
	return json.Unmarshal(data, v)
}

// --- Namespaces ---

func (s *BoltStore) CreateNamespace(ns *types.Namespace) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNamespaces)
		if b.Get([]byte(ns.Name)) != nil {
			return nil // idempotent on name
		}
		return put(tx, bucketNamespaces, ns.Name, ns)
	})
}

func (s *BoltStore) GetNamespace(name string) (*types.Namespace, error) {
	var ns types.Namespace
	err := s.db.View(func(tx *bolt.Tx) error { return get(tx, bucketNamespaces, name, &ns) })
	if err != nil {
		return nil, err
	}
	return &ns, nil
}

func (s *BoltStore) ListNamespaces() ([]*types.Namespace, error) {
	var out []*types.Namespace
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNamespaces).ForEach(func(k, v []byte) error {
			var ns types.Namespace
			if err := json.Unmarshal(v, &ns); err != nil {
				return err
			}
			out = append(out, &ns)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) UpdateNamespace(ns *types.Namespace) error {
	return s.db.Update(func(tx *bolt.Tx) error { return put(tx, bucketNamespaces, ns.Name, ns) })
}

// --- Extraction graphs ---

func graphKey(namespace, name string) string { return namespace + "/" + name }

func (s *BoltStore) CreateExtractionGraph(g *types.ExtractionGraph) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketGraphs, graphKey(g.Namespace, g.Name), g)
	})
}

func (s *BoltStore) GetExtractionGraph(namespace, name string) (*types.ExtractionGraph, error) {
	var g types.ExtractionGraph
	err := s.db.View(func(tx *bolt.Tx) error { return get(tx, bucketGraphs, graphKey(namespace, name), &g) })
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *BoltStore) ListExtractionGraphs(namespace string) ([]*types.ExtractionGraph, error) {
	var out []*types.ExtractionGraph
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketGraphs).ForEach(func(k, v []byte) error {
			var g types.ExtractionGraph
			if err := json.Unmarshal(v, &g); err != nil {
				return err
			}
			if g.Namespace == namespace {
				out = append(out, &g)
			}
			return nil
		})
	})
	return out, err
}

// --- Extraction policies ---

func (s *BoltStore) CreatePolicy(p *types.ExtractionPolicy) error {
	return s.db.Update(func(tx *bolt.Tx) error { return put(tx, bucketPolicies, p.ID, p) })
}

func (s *BoltStore) GetPolicy(id string) (*types.ExtractionPolicy, error) {
	var p types.ExtractionPolicy
	err := s.db.View(func(tx *bolt.Tx) error { return get(tx, bucketPolicies, id, &p) })
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *BoltStore) ListPoliciesByGraph(namespace, graph string) ([]*types.ExtractionPolicy, error) {
	var out []*types.ExtractionPolicy
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPolicies).ForEach(func(k, v []byte) error {
			var p types.ExtractionPolicy
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			if p.Namespace == namespace && p.Graph == graph {
				out = append(out, &p)
			}
			return nil
		})
	})
	return out, err
}

// --- Extractors ---

func (s *BoltStore) UpsertExtractor(e *types.Extractor) error {
	return s.db.Update(func(tx *bolt.Tx) error { return put(tx, bucketExtractors, e.Name, e) })
}

func (s *BoltStore) GetExtractor(name string) (*types.Extractor, error) {
	var e types.Extractor
	err := s.db.View(func(tx *bolt.Tx) error { return get(tx, bucketExtractors, name, &e) })
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *BoltStore) ListExtractors() ([]*types.Extractor, error) {
	var out []*types.Extractor
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketExtractors).ForEach(func(k, v []byte) error {
			var e types.Extractor
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			out = append(out, &e)
			return nil
		})
	})
	return out, err
}

// --- Indexes ---

func indexKey(namespace, name string) string { return namespace + "/" + name }

func (s *BoltStore) CreateIndex(idx *types.Index) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketIndexes, indexKey(idx.Namespace, idx.Name), idx)
	})
}

func (s *BoltStore) GetIndex(namespace, name string) (*types.Index, error) {
	var idx types.Index
	err := s.db.View(func(tx *bolt.Tx) error { return get(tx, bucketIndexes, indexKey(namespace, name), &idx) })
	if err != nil {
		return nil, err
	}
	return &idx, nil
}

func (s *BoltStore) ListIndexes(namespace string) ([]*types.Index, error) {
	var out []*types.Index
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIndexes).ForEach(func(k, v []byte) error {
			var idx types.Index
			if err := json.Unmarshal(v, &idx); err != nil {
				return err
			}
			if idx.Namespace == namespace {
				out = append(out, &idx)
			}
			return nil
		})
	})
	return out, err
}

// --- Content ---

func (s *BoltStore) CreateContent(c *types.ContentMetadata) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketContent)
		if b.Get([]byte(c.ID)) != nil {
			return nil // idempotent on id
		}
		return put(tx, bucketContent, c.ID, c)
	})
}

func (s *BoltStore) GetContent(id string) (*types.ContentMetadata, error) {
	var c types.ContentMetadata
	err := s.db.View(func(tx *bolt.Tx) error { return get(tx, bucketContent, id, &c) })
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *BoltStore) ListContent(filter types.ContentFilter) ([]*types.ContentMetadata, error) {
	var out []*types.ContentMetadata
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketContent).ForEach(func(k, v []byte) error {
			var c types.ContentMetadata
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			if filter.Matches(&c) {
				out = append(out, &c)
			}
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) UpdateContent(c *types.ContentMetadata) error {
	return s.db.Update(func(tx *bolt.Tx) error { return put(tx, bucketContent, c.ID, c) })
}

func (s *BoltStore) DeleteContent(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error { return tx.Bucket(bucketContent).Delete([]byte(id)) })
}

func (s *BoltStore) ListContentByParent(namespace, parentID string) ([]*types.ContentMetadata, error) {
	var out []*types.ContentMetadata
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketContent).ForEach(func(k, v []byte) error {
			var c types.ContentMetadata
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			if c.Namespace == namespace && c.ParentID == parentID {
				out = append(out, &c)
			}
			return nil
		})
	})
	return out, err
}

// --- Tasks ---

func (s *BoltStore) CreateTask(t *types.Task) error {
	return s.db.Update(func(tx *bolt.Tx) error { return put(tx, bucketTasks, t.ID, t) })
}

func (s *BoltStore) GetTask(id string) (*types.Task, error) {
	var t types.Task
	err := s.db.View(func(tx *bolt.Tx) error { return get(tx, bucketTasks, id, &t) })
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *BoltStore) UpdateTask(t *types.Task) error {
	return s.db.Update(func(tx *bolt.Tx) error { return put(tx, bucketTasks, t.ID, t) })
}

func (s *BoltStore) ListTasks() ([]*types.Task, error) {
	var out []*types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).ForEach(func(k, v []byte) error {
			var t types.Task
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			out = append(out, &t)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) ListTasksByExecutor(executorID string) ([]*types.Task, error) {
	var out []*types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).ForEach(func(k, v []byte) error {
			var t types.Task
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			if t.ExecutorID == executorID && !t.Terminal() {
				out = append(out, &t)
			}
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) ListOpenTasksForContentPolicy(contentID, policyID string) ([]*types.Task, error) {
	var out []*types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).ForEach(func(k, v []byte) error {
			var t types.Task
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			if t.ContentID == contentID && t.PolicyID == policyID && !t.Terminal() {
				out = append(out, &t)
			}
			return nil
		})
	})
	return out, err
}

// --- Executors ---

func (s *BoltStore) CreateExecutor(e *types.Executor) error {
	return s.db.Update(func(tx *bolt.Tx) error { return put(tx, bucketExecutors, e.ID, e) })
}

func (s *BoltStore) GetExecutor(id string) (*types.Executor, error) {
	var e types.Executor
	err := s.db.View(func(tx *bolt.Tx) error { return get(tx, bucketExecutors, id, &e) })
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *BoltStore) DeleteExecutor(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error { return tx.Bucket(bucketExecutors).Delete([]byte(id)) })
}

func (s *BoltStore) ListExecutors() ([]*types.Executor, error) {
	var out []*types.Executor
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketExecutors).ForEach(func(k, v []byte) error {
			var e types.Executor
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			out = append(out, &e)
			return nil
		})
	})
	return out, err
}

// --- State changes ---

func (s *BoltStore) NextStateChangeID() (uint64, error) {
	var next uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCounters)
		raw := b.Get([]byte(counterStateChangeID))
		var cur uint64
		if raw != nil {
			cur = decodeUint64(raw)
		}
		next = cur + 1
		return b.Put([]byte(counterStateChangeID), encodeUint64(next))
	})
	return next, err
}

func (s *BoltStore) AppendStateChange(sc *types.StateChange) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketStateChanges, stateChangeKey(sc.ID), sc)
	})
}

func stateChangeKey(id uint64) string { return fmt.Sprintf("%020d", id) }

func (s *BoltStore) ListUnprocessedStateChanges() ([]*types.StateChange, error) {
	var out []*types.StateChange
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketStateChanges).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var sc types.StateChange
			if err := json.Unmarshal(v, &sc); err != nil {
				return err
			}
			if sc.ProcessedAt == nil {
				out = append(out, &sc)
			}
		}
		return nil
	})
	return out, err
}

func (s *BoltStore) MarkStateChangesProcessed(ids []uint64, processedAt int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketStateChanges)
		at := time.Unix(processedAt, 0).UTC()
		for _, id := range ids {
			key := []byte(stateChangeKey(id))
			data := b.Get(key)
			if data == nil {
				continue
			}
			var sc types.StateChange
			if err := json.Unmarshal(data, &sc); err != nil {
				return err
			}
			sc.ProcessedAt = &at
			out, err := json.Marshal(&sc)
			if err != nil {
				return err
			}
			if err := b.Put(key, out); err != nil {
				return err
			}
		}
		return nil
	})
}

// --- Pending policy mappings ---

func (s *BoltStore) SetContentPendingPolicies(contentID string, policyIDs []string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketPendingPolicy, contentID, policyIDs)
	})
}

func (s *BoltStore) PendingPoliciesForContent(contentID string) ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPendingPolicy)
		data := b.Get([]byte(contentID))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &ids)
	})
	return ids, err
}

func (s *BoltStore) MarkPolicyAppliedOnContent(contentID, policyID string) (bool, error) {
	var settled bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPendingPolicy)
		data := b.Get([]byte(contentID))
		var ids []string
		if data != nil {
			if err := json.Unmarshal(data, &ids); err != nil {
				return err
			}
		}
		remaining := ids[:0]
		for _, id := range ids {
			if id != policyID {
				remaining = append(remaining, id)
			}
		}
		settled = len(remaining) == 0
		out, err := json.Marshal(remaining)
		if err != nil {
			return err
		}
		return b.Put([]byte(contentID), out)
	})
	return settled, err
}

// --- Garbage collection ---

func (s *BoltStore) CreateOrUpdateGCTask(t *types.GarbageCollectionTask) error {
	return s.db.Update(func(tx *bolt.Tx) error { return put(tx, bucketGCTasks, t.ID, t) })
}

func (s *BoltStore) GetGCTask(id string) (*types.GarbageCollectionTask, error) {
	var t types.GarbageCollectionTask
	err := s.db.View(func(tx *bolt.Tx) error { return get(tx, bucketGCTasks, id, &t) })
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *BoltStore) ListGCTasksForContent(contentID string) ([]*types.GarbageCollectionTask, error) {
	var out []*types.GarbageCollectionTask
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketGCTasks).ForEach(func(k, v []byte) error {
			var t types.GarbageCollectionTask
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			if t.ContentID == contentID {
				out = append(out, &t)
			}
			return nil
		})
	})
	return out, err
}

func encodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}

func decodeUint64(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}
