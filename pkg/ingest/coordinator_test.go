package ingest

import (
	"bytes"
	"context"
	"testing"

	"github.com/graftio/ingestify/pkg/blobstore"
	"github.com/graftio/ingestify/pkg/metadataindex"
	"github.com/graftio/ingestify/pkg/types"
	"github.com/graftio/ingestify/pkg/vectorindex"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient records every proposal the coordinator makes, standing in for
// pkg/rpc.Client/pkg/cluster.Node in tests.
type fakeClient struct {
	created   []types.ContentMetadata
	updated   []updateCall
	indexes   map[string]*types.Index
	gcUpdated []types.GarbageCollectionTask
	removed   []string
}

type updateCall struct {
	task         types.Task
	markFinished bool
	children     []types.ContentMetadata
}

func newFakeClient() *fakeClient {
	return &fakeClient{indexes: map[string]*types.Index{}}
}

func (f *fakeClient) CreateContent(ctx context.Context, rows []types.ContentMetadata) error {
	f.created = append(f.created, rows...)
	return nil
}

func (f *fakeClient) UpdateTask(ctx context.Context, task types.Task, markFinished bool, children []types.ContentMetadata) error {
	f.updated = append(f.updated, updateCall{task: task, markFinished: markFinished, children: children})
	return nil
}

func (f *fakeClient) GetIndex(ctx context.Context, namespace, name string) (*types.Index, error) {
	if idx, ok := f.indexes[namespace+"/"+name]; ok {
		return idx, nil
	}
	return nil, types.NewError(types.ErrNotFound, "index %s", name)
}

func (f *fakeClient) UpdateGCTask(ctx context.Context, task types.GarbageCollectionTask, markFinished bool) error {
	task.Finished = task.Finished || markFinished
	f.gcUpdated = append(f.gcUpdated, task)
	return nil
}

func (f *fakeClient) RemoveTombstonedContent(ctx context.Context, contentID string) error {
	f.removed = append(f.removed, contentID)
	return nil
}

var _ CoordinatorClient = (*fakeClient)(nil)

func newTestCoordinator(t *testing.T) (*Coordinator, *fakeClient) {
	t.Helper()
	blobs, err := blobstore.NewLocalDiskStore(t.TempDir())
	require.NoError(t, err)
	vectors := vectorindex.NewMemoryIndexManager()
	attrs, err := metadataindex.NewBoltMetadataIndex(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { attrs.Close() })

	client := newFakeClient()
	return New(blobs, vectors, attrs, client), client
}

func TestAddTextsProposesRootContent(t *testing.T) {
	c, client := newTestCoordinator(t)

	err := c.AddTexts(context.Background(), "ns", []Content{
		{ContentType: "text/plain", Bytes: []byte("hello"), Labels: map[string]string{"lang": "en"}},
	})
	require.NoError(t, err)

	require.Len(t, client.created, 1)
	assert.Equal(t, "ingestion", client.created[0].Source)
	assert.Equal(t, "ns", client.created[0].Namespace)
	assert.Equal(t, uint64(len("hello")), client.created[0].SizeBytes)
}

func TestUploadFileInfersMimeType(t *testing.T) {
	c, client := newTestCoordinator(t)

	err := c.UploadFile(context.Background(), "ns", []byte("%PDF-1.4 ..."), "document.pdf")
	require.NoError(t, err)

	require.Len(t, client.created, 1)
	assert.Equal(t, "application/pdf", client.created[0].Mime)
	assert.Equal(t, "document.pdf", client.created[0].FileName)
}

func TestUploadFileDefaultsToOctetStreamForUnknownExtension(t *testing.T) {
	c, client := newTestCoordinator(t)

	err := c.UploadFile(context.Background(), "ns", []byte("binary"), "blob.xyz123")
	require.NoError(t, err)

	require.Len(t, client.created, 1)
	assert.Equal(t, "application/octet-stream", client.created[0].Mime)
}

func TestWriteExtractedContentRoutesEmbeddingsAndMetadata(t *testing.T) {
	c, client := newTestCoordinator(t)
	ctx := context.Background()

	require.NoError(t, c.vectors.CreateTable(ctx, "ns_embeddings", types.OutputSchema{Kind: types.OutputKindEmbedding, Dim: 2}))
	require.NoError(t, c.attrs.CreateMetadataTable("ns"))

	ingestMeta := BeginExtractedContentIngest{
		Namespace:           "ns",
		ParentContentID:     "parent-1",
		ExtractionPolicy:    "extract-text",
		ExtractionPolicyID:  "policy-1",
		Extractor:           "text-extractor",
		TaskID:              "task-1",
		ExecutorID:          "exec-1",
		TaskOutcome:         "success",
		OutputToIndexTableMapping: map[string]string{
			"embedding": "ns_embeddings",
			"metadata":  "ns_attrs",
		},
	}
	extracted := ExtractedContent{ContentList: []Content{
		{
			ContentType: "text/plain",
			Bytes:       []byte("chunk one"),
			Labels:      map[string]string{},
			Features: []Feature{
				{Name: "embedding", Type: FeatureEmbedding, Data: map[string]any{"values": []any{1.0, 0.0}}},
				{Name: "metadata", Type: FeatureMetadata, Data: map[string]any{"title": "chunk one"}},
			},
		},
	}}

	require.NoError(t, c.WriteExtractedContent(ctx, ingestMeta, extracted))

	require.Len(t, client.created, 1)
	childID := client.created[0].ID
	assert.Equal(t, "extract-text", client.created[0].Source)
	assert.Equal(t, "parent-1", client.created[0].ParentID)

	results, err := c.vectors.Search(ctx, "ns_embeddings", []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, childID, results[0].ContentID)

	rows, err := c.attrs.GetMetadata("ns", childID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "chunk one", rows[0].Data["title"])

	require.NoError(t, c.FinishExtractedContentWrite(ctx, ingestMeta))
	require.Len(t, client.updated, 1)
	assert.True(t, client.updated[0].markFinished)
	assert.Equal(t, types.TaskOutcomeSuccess, client.updated[0].task.Outcome)
	require.Len(t, client.updated[0].children, 1)
	assert.Equal(t, childID, client.updated[0].children[0].ID)
}

func TestPerformGarbageCollectionDeletesBlobAndReportsCompletion(t *testing.T) {
	c, client := newTestCoordinator(t)
	ctx := context.Background()

	url, _, err := c.blobs.Put(ctx, "ns", "doomed.txt", bytes.NewReader([]byte("bytes")))
	require.NoError(t, err)

	task := types.GarbageCollectionTask{
		ID:         types.GCTaskID("content-1"),
		ContentID:  "content-1",
		StorageURL: url,
	}
	require.NoError(t, c.PerformGarbageCollection(ctx, task))

	_, err = c.blobs.Get(ctx, url)
	assert.Error(t, err, "the blob must be gone after garbage collection")

	require.Len(t, client.gcUpdated, 1)
	assert.True(t, client.gcUpdated[0].Finished)
	assert.Equal(t, []string{"content-1"}, client.removed)
}

func TestFinishExtractedContentWriteMapsFailureOutcome(t *testing.T) {
	c, client := newTestCoordinator(t)
	ingestMeta := BeginExtractedContentIngest{TaskID: "task-1", TaskOutcome: "failure"}

	require.NoError(t, c.FinishExtractedContentWrite(context.Background(), ingestMeta))
	require.Len(t, client.updated, 1)
	assert.Equal(t, types.TaskOutcomeFailure, client.updated[0].task.Outcome)
	assert.Empty(t, client.updated[0].children)
}
