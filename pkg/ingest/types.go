package ingest

// FeatureType tags what an extracted Feature carries.
type FeatureType string

const (
	FeatureEmbedding FeatureType = "embedding"
	FeatureMetadata  FeatureType = "metadata"
)

// Feature is one named output attached to extracted content: a tagged
// union of embedding and metadata payloads.
type Feature struct {
	Name string      `json:"name"`
	Type FeatureType `json:"feature_type"`
	Data any         `json:"data"`
}

// Content is the raw-bytes-plus-labels unit the ingestion API accepts.
type Content struct {
	ContentType string            `json:"content_type"`
	Bytes       []byte            `json:"bytes"`
	Labels      map[string]string `json:"labels"`
	Features    []Feature         `json:"features"`
}

// Embedding is the decoded payload of a FeatureEmbedding feature.
type Embedding struct {
	Values []float32 `json:"values"`
}

// ExtractedContent is the batch an executor reports back for one task.
type ExtractedContent struct {
	ContentList []Content `json:"content_list"`
}

// BeginExtractedContentIngest is the envelope an executor sends ahead of
// (or alongside) ExtractedContent, carrying the task context needed to
// route features to index tables and to report task outcome.
type BeginExtractedContentIngest struct {
	Namespace                 string            `json:"namespace"`
	ParentContentID           string            `json:"parent_content_id"`
	ExtractionPolicy          string            `json:"extraction_policy"`
	ExtractionPolicyID        string            `json:"extraction_policy_id"`
	Extractor                 string            `json:"extractor"`
	TaskID                    string            `json:"task_id"`
	ExecutorID                string            `json:"executor_id"`
	TaskOutcome               string            `json:"task_outcome"` // "success" | "failure"
	OutputToIndexTableMapping map[string]string `json:"output_to_index_table_mapping"`
}
