// Package metadataindex defines the per-namespace attribute table contract
// the ingestion coordinator writes "attributes" extractor outputs through,
// with a bbolt-backed reference implementation following the same
// bucket-per-collection, JSON-record pattern as pkg/store's BoltStore.
package metadataindex

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/graftio/ingestify/pkg/types"
	bolt "go.etcd.io/bbolt"
)

// ExtractedMetadata is one attributes row emitted by an extractor for one
// content.
type ExtractedMetadata struct {
	ContentID string         `json:"content_id"`
	ParentID  string         `json:"parent_id"`
	Extractor string         `json:"extractor"`
	Policy    string         `json:"policy"`
	Namespace string         `json:"namespace"`
	Data      map[string]any `json:"data_json"`
}

// Manager is the contract the ingestion coordinator and query RPCs use to
// materialize and read a namespace's attribute table. Schema evolution is
// handled additively by CreateExtractionPolicy (pkg/fsm), not here.
type Manager interface {
	CreateMetadataTable(namespace string) error
	AddMetadata(namespace string, row ExtractedMetadata) error
	GetMetadata(namespace, contentID string) ([]ExtractedMetadata, error)
}

// BoltMetadataIndex stores every namespace's attribute rows in its own
// bbolt bucket, created on first use by CreateMetadataTable. Rows are keyed
// by "content_id/policy/extractor" so that multiple policies (or the same
// policy's distinct outputs) can each record a row for the same content
// without clobbering one another.
type BoltMetadataIndex struct {
	db *bolt.DB
}

// NewBoltMetadataIndex opens (creating if necessary) a bbolt database under
// dataDir/metadata.db.
func NewBoltMetadataIndex(dataDir string) (*BoltMetadataIndex, error) {
	db, err := bolt.Open(filepath.Join(dataDir, "metadata.db"), 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata index: %w", err)
	}
	return &BoltMetadataIndex{db: db}, nil
}

// Close closes the underlying database.
func (m *BoltMetadataIndex) Close() error {
	return m.db.Close()
}

func bucketName(namespace string) []byte { return []byte(namespace) }

func (m *BoltMetadataIndex) CreateMetadataTable(namespace string) error {
	return m.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName(namespace))
		return err
	})
}

func rowKey(row ExtractedMetadata) string {
	return row.ContentID + "/" + row.Policy + "/" + row.Extractor
}

func (m *BoltMetadataIndex) AddMetadata(namespace string, row ExtractedMetadata) error {
	return m.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName(namespace))
		if b == nil {
			return types.NewError(types.ErrNotFound, "metadata table for namespace %q not found", namespace)
		}
		row.Namespace = namespace
		data, err := json.Marshal(row)
		if err != nil {
			return err
		}
		return b.Put([]byte(rowKey(row)), data)
	})
}

func (m *BoltMetadataIndex) GetMetadata(namespace, contentID string) ([]ExtractedMetadata, error) {
	var out []ExtractedMetadata
	err := m.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName(namespace))
		if b == nil {
			return types.NewError(types.ErrNotFound, "metadata table for namespace %q not found", namespace)
		}
		prefix := []byte(contentID + "/")
		c := b.Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var row ExtractedMetadata
			if err := json.Unmarshal(v, &row); err != nil {
				return err
			}
			out = append(out, row)
		}
		return nil
	})
	return out, err
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}
