// Package ingest implements the stateless Ingestion Coordinator: the
// data-plane entry point that turns raw uploads and executor-reported
// extraction results into blob writes, vector/metadata index writes, and
// ContentMetadata rows proposed to the replicated state machine.
package ingest

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"path/filepath"
	"sync"
	"time"

	"github.com/graftio/ingestify/pkg/blobstore"
	"github.com/graftio/ingestify/pkg/contentid"
	"github.com/graftio/ingestify/pkg/log"
	"github.com/graftio/ingestify/pkg/metadataindex"
	"github.com/graftio/ingestify/pkg/metrics"
	"github.com/graftio/ingestify/pkg/types"
	"github.com/graftio/ingestify/pkg/vectorindex"
)

// CoordinatorClient is the narrow surface the ingestion coordinator needs
// from the replicated state machine, satisfied either by an in-process
// pkg/cluster.Node adapter or by pkg/rpc's leader-seeking gRPC client.
type CoordinatorClient interface {
	CreateContent(ctx context.Context, rows []types.ContentMetadata) error
	UpdateTask(ctx context.Context, task types.Task, markFinished bool, children []types.ContentMetadata) error
	GetIndex(ctx context.Context, namespace, name string) (*types.Index, error)
	UpdateGCTask(ctx context.Context, task types.GarbageCollectionTask, markFinished bool) error
	RemoveTombstonedContent(ctx context.Context, contentID string) error
}

// Coordinator is the Ingestion Coordinator. It holds no replicated state of
// its own; every durable fact it produces is proposed through client. The
// one piece of transient, non-authoritative bookkeeping it keeps is the
// per-task buffer of children written by WriteExtractedContent, so that the
// later FinishExtractedContentWrite call can still pass content_metadata on
// its UpdateTask command even though CreateContent for those children was
// already proposed earlier (UpdateTask's content list and outcome commit
// atomically, a replay-safety net on top of the already-idempotent
// per-child CreateContent).
type Coordinator struct {
	blobs   blobstore.BlobStore
	vectors vectorindex.Manager
	attrs   metadataindex.Manager
	client  CoordinatorClient

	mu            sync.Mutex
	pendingByTask map[string][]types.ContentMetadata
}

// New constructs a Coordinator over its data-plane collaborators.
func New(blobs blobstore.BlobStore, vectors vectorindex.Manager, attrs metadataindex.Manager, client CoordinatorClient) *Coordinator {
	return &Coordinator{
		blobs:         blobs,
		vectors:       vectors,
		attrs:         attrs,
		client:        client,
		pendingByTask: make(map[string][]types.ContentMetadata),
	}
}

// AddTexts ingests a batch of plain Content rows as namespace roots.
func (c *Coordinator) AddTexts(ctx context.Context, namespace string, contentList []Content) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.IngestDuration)

	for _, text := range contentList {
		meta, err := c.writeContent(ctx, namespace, text, nil, "", "ingestion")
		if err != nil {
			return err
		}
		if err := c.client.CreateContent(ctx, []types.ContentMetadata{*meta}); err != nil {
			return fmt.Errorf("unable to write content metadata to coordinator: %w", err)
		}
		metrics.ContentIngestedTotal.WithLabelValues("ingestion").Inc()
	}
	return nil
}

// UploadFile ingests a single named file upload, inferring its MIME type
// from the file extension.
func (c *Coordinator) UploadFile(ctx context.Context, namespace string, data []byte, name string) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.IngestDuration)

	contentType := mime.TypeByExtension(filepath.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	content := Content{ContentType: contentType, Bytes: data, Labels: map[string]string{}}
	meta, err := c.writeContent(ctx, namespace, content, &name, "", "ingestion")
	if err != nil {
		return fmt.Errorf("unable to write content to blob store: %w", err)
	}
	if err := c.client.CreateContent(ctx, []types.ContentMetadata{*meta}); err != nil {
		return fmt.Errorf("unable to write content metadata to coordinator: %w", err)
	}
	metrics.ContentIngestedTotal.WithLabelValues("ingestion").Inc()
	return nil
}

// writeContent computes the deterministic content id, writes the payload to
// the blob store under that id's file name (so a retry with the same
// coordinates reuses the same blob key), and assembles
// the ContentMetadata row. It does not itself propose the row to the
// coordinator: callers batch that, since write_extracted_content must
// write every child's blob before proposing any of them.
func (c *Coordinator) writeContent(ctx context.Context, namespace string, content Content, fileName *string, parentID, source string) (*types.ContentMetadata, error) {
	name := ""
	if fileName != nil {
		name = *fileName
	} else {
		nonce, err := contentid.NewNonce()
		if err != nil {
			return nil, fmt.Errorf("unable to generate content nonce: %w", err)
		}
		name = nonce
	}

	id := types.ContentID(namespace, name, parentID)

	url, size, err := c.blobs.Put(ctx, namespace, name, bytes.NewReader(content.Bytes))
	if err != nil {
		return nil, fmt.Errorf("unable to write to blob store: %w", err)
	}
	metrics.BlobBytesWritten.Add(float64(size))

	return &types.ContentMetadata{
		ID:         id,
		Namespace:  namespace,
		FileName:   name,
		StorageURL: url,
		ParentID:   parentID,
		Mime:       content.ContentType,
		Labels:     content.Labels,
		Source:     source,
		SizeBytes:  size,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// WriteExtractedContent is called once an executor reports the children it
// extracted for one task. Embeddings are buffered per index table across
// every child, then flushed table by table with one AddEmbedding call per
// buffered vector; metadata
// rows are added to the namespace's attribute table as each feature is
// encountered, tagged with the extractor resolved from the task's policy.
// Content rows for every child are proposed to the coordinator only after
// every blob and index write has succeeded. There is no transactional
// boundary across the two: partial failure can leave index writes durable
// with no corresponding content row, left to reconciliation tooling rather
// than a two-phase commit. The written children are also buffered by task id so that
// FinishExtractedContentWrite can still attach them to its UpdateTask
// command.
func (c *Coordinator) WriteExtractedContent(ctx context.Context, ingestMeta BeginExtractedContentIngest, extracted ExtractedContent) error {
	var newContent []types.ContentMetadata
	embeddingsByTable := make(map[string][]struct {
		contentID string
		vector    []float32
	})

	for _, content := range extracted.ContentList {
		meta, err := c.writeContent(ctx, ingestMeta.Namespace, content, nil, ingestMeta.ParentContentID, ingestMeta.ExtractionPolicy)
		if err != nil {
			return err
		}
		newContent = append(newContent, *meta)

		for _, feature := range content.Features {
			table, ok := ingestMeta.OutputToIndexTableMapping[feature.Name]
			if !ok {
				log.WithComponent("ingest").Warn().Str("feature", feature.Name).Msg("unable to find index table name for feature")
				continue
			}

			switch feature.Type {
			case FeatureEmbedding:
				values, err := decodeEmbedding(feature.Data)
				if err != nil {
					return fmt.Errorf("unable to get embedding from extracted data: %w", err)
				}
				embeddingsByTable[table] = append(embeddingsByTable[table], struct {
					contentID string
					vector    []float32
				}{contentID: meta.ID, vector: values})

			case FeatureMetadata:
				data, ok := feature.Data.(map[string]any)
				if !ok {
					return fmt.Errorf("unable to decode metadata feature %q payload", feature.Name)
				}
				row := metadataindex.ExtractedMetadata{
					ContentID: meta.ID,
					ParentID:  ingestMeta.ParentContentID,
					Extractor: ingestMeta.Extractor,
					Policy:    ingestMeta.ExtractionPolicy,
					Namespace: ingestMeta.Namespace,
					Data:      data,
				}
				if err := c.attrs.AddMetadata(ingestMeta.Namespace, row); err != nil {
					return fmt.Errorf("unable to add metadata to index: %w", err)
				}
				metrics.MetadataRowsWritten.WithLabelValues(table).Inc()
			}
		}
	}

	for table, embeddings := range embeddingsByTable {
		for _, e := range embeddings {
			if err := c.vectors.AddEmbedding(ctx, table, e.contentID, e.vector); err != nil {
				return fmt.Errorf("unable to add embedding to vector index: %w", err)
			}
		}
		metrics.VectorEmbeddingsWritten.WithLabelValues(table).Add(float64(len(embeddings)))
	}

	for i := range newContent {
		if err := c.client.CreateContent(ctx, newContent[i:i+1]); err != nil {
			return fmt.Errorf("unable to write content metadata to coordinator: %w", err)
		}
	}
	metrics.ContentIngestedTotal.WithLabelValues(ingestMeta.ExtractionPolicy).Add(float64(len(newContent)))

	c.mu.Lock()
	c.pendingByTask[ingestMeta.TaskID] = append(c.pendingByTask[ingestMeta.TaskID], newContent...)
	c.mu.Unlock()

	return nil
}

func decodeEmbedding(data any) ([]float32, error) {
	raw, ok := data.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("embedding feature payload is not an object")
	}
	values, ok := raw["values"].([]any)
	if !ok {
		return nil, fmt.Errorf("embedding feature payload has no values array")
	}
	out := make([]float32, len(values))
	for i, v := range values {
		f, ok := v.(float64)
		if !ok {
			return nil, fmt.Errorf("embedding value at index %d is not numeric", i)
		}
		out[i] = float32(f)
	}
	return out, nil
}

// FinishExtractedContentWrite reports task completion (or failure) to the
// coordinator. It must be called exactly once per task, after every
// WriteExtractedContent call for that task has returned success. The
// children buffered by those calls are attached to the UpdateTask command
// so task completion and child creation commit atomically, even though
// CreateContent for each child was already proposed (and is a no-op on
// replay).
func (c *Coordinator) FinishExtractedContentWrite(ctx context.Context, ingestMeta BeginExtractedContentIngest) error {
	outcome := types.TaskOutcomeFailure
	if ingestMeta.TaskOutcome == "success" {
		outcome = types.TaskOutcomeSuccess
	}

	c.mu.Lock()
	children := c.pendingByTask[ingestMeta.TaskID]
	delete(c.pendingByTask, ingestMeta.TaskID)
	c.mu.Unlock()

	task := types.Task{
		ID:         ingestMeta.TaskID,
		Namespace:  ingestMeta.Namespace,
		ContentID:  ingestMeta.ParentContentID,
		PolicyID:   ingestMeta.ExtractionPolicyID,
		Extractor:  ingestMeta.Extractor,
		ExecutorID: ingestMeta.ExecutorID,
		Outcome:    outcome,
	}
	if err := c.client.UpdateTask(ctx, task, true, children); err != nil {
		return fmt.Errorf("unable to update task: %w", err)
	}
	return nil
}

// PerformGarbageCollection executes one garbage-collection task: it deletes
// the content's blob, reports the task finished, and proposes the final
// removal of the tombstoned content row. Erasure of the rows in
// task.IndexTables is left to the index backends themselves; the vector and
// metadata contracts here are append-only.
func (c *Coordinator) PerformGarbageCollection(ctx context.Context, task types.GarbageCollectionTask) error {
	if task.StorageURL != "" {
		if err := c.blobs.Delete(ctx, task.StorageURL); err != nil {
			return fmt.Errorf("unable to delete blob for content %s: %w", task.ContentID, err)
		}
	}
	task.Finished = true
	if err := c.client.UpdateGCTask(ctx, task, true); err != nil {
		return fmt.Errorf("unable to mark garbage-collection task finished: %w", err)
	}
	if err := c.client.RemoveTombstonedContent(ctx, task.ContentID); err != nil {
		return fmt.Errorf("unable to remove tombstoned content %s: %w", task.ContentID, err)
	}
	return nil
}
