// Package rpc implements the Coordinator RPC Facade: the
// network boundary executors and external clients use to reach the
// replicated state machine and the data-plane composition (vector search)
// that spans it, the ingestion coordinator, and the index managers.
package rpc

import (
	"context"
	"io"
	"time"

	"github.com/graftio/ingestify/pkg/blobstore"
	"github.com/graftio/ingestify/pkg/cluster"
	"github.com/graftio/ingestify/pkg/log"
	"github.com/graftio/ingestify/pkg/metadataindex"
	"github.com/graftio/ingestify/pkg/metrics"
	"github.com/graftio/ingestify/pkg/types"
	"github.com/graftio/ingestify/pkg/vectorindex"
	"google.golang.org/grpc"
)

// NewGRPCServer constructs a grpc.Server with this facade's JSON codec
// forced (so no peer ever negotiates protobuf wire format against it) and
// srv registered as the sole service.
func NewGRPCServer(srv *Server) *grpc.Server {
	s := grpc.NewServer(grpc.ForceServerCodec(jsonCodec{}))
	s.RegisterService(&ServiceDesc, srv)
	return s
}

// Method names this facade dispatches. Grouped as constants rather than an
// enum type since they only ever flow as Envelope.Method strings.
const (
	MethodRegisterExecutor   = "RegisterExecutor"
	MethodRemoveExecutor     = "RemoveExecutor"
	MethodHeartbeat          = "Heartbeat"
	MethodPullTasks          = "PullTasks"
	MethodCreateNamespace    = "CreateNamespace"
	MethodListNamespace      = "ListNamespace"
	MethodGetNamespace       = "GetNamespace"
	MethodCreateGraph        = "CreateExtractionGraph"
	MethodCreatePolicy       = "CreateExtractionPolicy"
	MethodCreateIndex        = "CreateIndex"
	MethodGetIndex           = "GetIndex"
	MethodListIndexes        = "ListIndexes"
	MethodListExtractors     = "ListExtractors"
	MethodCreateContent      = "CreateContent"
	MethodListContent        = "ListContent"
	MethodGetContentMetadata = "GetContentMetadata"
	MethodUpdateTask         = "UpdateTask"
	MethodTombstoneContent   = "TombstoneContent"
	MethodUpdateGCTask       = "UpdateGarbageCollectionTask"
	MethodRemoveTombstoned   = "RemoveTombstonedContent"
	MethodSearch             = "Search"
	MethodAddVoter           = "AddVoter"
	MethodRemoveServer       = "RemoveServer"
)

// AddVoterRequest is the join half of the two-phase join protocol: the
// joining node has already started Raft via cluster.Node.Join and asks the
// current leader to add it as a voter.
type AddVoterRequest struct {
	NodeID  string `json:"node_id"`
	Address string `json:"address"`
}

// RemoveServerRequest removes a node from the Raft configuration.
type RemoveServerRequest struct {
	NodeID string `json:"node_id"`
}

// ScoredText is one ranked vector-search hit enriched with the text and
// labels of the content it identifies.
type ScoredText struct {
	ContentID string            `json:"content_id"`
	Text      string            `json:"text"`
	Score     float64           `json:"score"`
	Labels    map[string]string `json:"labels"`
}

// SearchRequest names the index to search and the raw query text; the
// server embeds QueryText using the index's own extractor before running
// k-NN.
type SearchRequest struct {
	Namespace string `json:"namespace"`
	IndexName string `json:"index_name"`
	QueryText string `json:"query_text"`
	K         int    `json:"k"`
}

// GetIndexRequest names one namespace-scoped index by its logical name.
type GetIndexRequest struct {
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
}

// GetNamespaceRequest names one namespace by its logical name.
type GetNamespaceRequest struct {
	Name string `json:"name"`
}

// ListIndexesRequest names the namespace whose indexes to list.
type ListIndexesRequest struct {
	Namespace string `json:"namespace"`
}

// ListContentRequest is the filtered content listing query: namespace
// plus optional source, parent_id, and label-equality filters.
type ListContentRequest struct {
	Namespace string            `json:"namespace"`
	Source    string            `json:"source,omitempty"`
	ParentID  string            `json:"parent_id,omitempty"`
	LabelsEq  map[string]string `json:"labels_eq,omitempty"`
}

// GetContentMetadataRequest fetches a batch of content rows by id.
type GetContentMetadataRequest struct {
	IDs []string `json:"ids"`
}

// PullTasksRequest asks for this executor's currently assigned, unfinished
// tasks.
type PullTasksRequest struct {
	ExecutorID string `json:"executor_id"`
}

// Server implements CoordinatorServer over a cluster.Node plus the
// data-plane collaborators a query (as opposed to a command) needs to
// answer: one struct wrapping the node, dispatching every method through
// a single Call entry point.
type Server struct {
	node     *cluster.Node
	blobs    blobstore.BlobStore
	vectors  vectorindex.Manager
	attrs    metadataindex.Manager
	embedder vectorindex.Embedder
}

// NewServer constructs a Server. vectors/attrs/blobs/embedder may be nil on
// a replica that never answers Search (every other method only needs node).
func NewServer(node *cluster.Node, blobs blobstore.BlobStore, vectors vectorindex.Manager, attrs metadataindex.Manager, embedder vectorindex.Embedder) *Server {
	return &Server{node: node, blobs: blobs, vectors: vectors, attrs: attrs, embedder: embedder}
}

// Call dispatches one Envelope by its Method, converting a proposal
// failure due to lost leadership into a response carrying the current
// leader address so the client can redial without a separate discovery
// round trip.
func (s *Server) Call(ctx context.Context, req *Envelope) (*Envelope, error) {
	timer := metrics.NewTimer()
	status := "ok"
	defer func() {
		metrics.RPCRequestsTotal.WithLabelValues(req.Method, status).Inc()
		timer.ObserveDurationVec(metrics.RPCRequestDuration, req.Method)
	}()

	result, err := s.dispatch(ctx, req)
	if err == nil {
		env, encErr := newEnvelope(req.Method, result)
		if encErr != nil {
			status = "error"
			return nil, encErr
		}
		return env, nil
	}

	status = "error"
	kind := string(types.KindOf(err))
	log.WithComponent("rpc").Error().Err(err).Str("method", req.Method).Msg("rpc call failed")
	return &Envelope{
		Method:       req.Method,
		ErrorKind:    kind,
		ErrorMessage: err.Error(),
		Leader:       s.node.LeaderAddr(),
	}, nil
}

func (s *Server) dispatch(ctx context.Context, req *Envelope) (any, error) {
	switch req.Method {
	case MethodRegisterExecutor, MethodHeartbeat:
		p, err := decodePayload[types.RegisterExecutorPayload](req)
		if err != nil {
			return nil, types.Wrap(types.ErrInvalidArgument, err, "failed to decode %s payload", req.Method)
		}
		if p.TsSecs == 0 {
			p.TsSecs = time.Now().Unix()
		}
		if _, err := s.node.RegisterExecutor(p); err != nil {
			return nil, err
		}
		return struct{}{}, nil

	case MethodPullTasks:
		p, err := decodePayload[PullTasksRequest](req)
		if err != nil {
			return nil, types.Wrap(types.ErrInvalidArgument, err, "failed to decode PullTasks payload")
		}
		all, err := s.node.Store().ListTasksByExecutor(p.ExecutorID)
		if err != nil {
			return nil, err
		}
		var open []*types.Task
		for _, t := range all {
			if !t.Terminal() {
				open = append(open, t)
			}
		}
		return open, nil

	case MethodCreateNamespace:
		p, err := decodePayload[types.CreateNamespacePayload](req)
		if err != nil {
			return nil, types.Wrap(types.ErrInvalidArgument, err, "failed to decode CreateNamespace payload")
		}
		if _, err := s.node.CreateNamespace(p); err != nil {
			return nil, err
		}
		return struct{}{}, nil

	case MethodListNamespace:
		return s.node.Store().ListNamespaces()

	case MethodGetNamespace:
		p, err := decodePayload[GetNamespaceRequest](req)
		if err != nil {
			return nil, types.Wrap(types.ErrInvalidArgument, err, "failed to decode GetNamespace payload")
		}
		return s.node.Store().GetNamespace(p.Name)

	case MethodCreateGraph:
		p, err := decodePayload[types.CreateExtractionGraphPayload](req)
		if err != nil {
			return nil, types.Wrap(types.ErrInvalidArgument, err, "failed to decode CreateExtractionGraph payload")
		}
		if _, err := s.node.CreateExtractionGraph(p); err != nil {
			return nil, err
		}
		return struct{}{}, nil

	case MethodCreatePolicy:
		p, err := decodePayload[types.CreateExtractionPolicyPayload](req)
		if err != nil {
			return nil, types.Wrap(types.ErrInvalidArgument, err, "failed to decode CreateExtractionPolicy payload")
		}
		if _, err := s.node.CreateExtractionPolicy(p); err != nil {
			return nil, err
		}
		return struct{}{}, nil

	case MethodCreateIndex:
		p, err := decodePayload[types.CreateIndexPayload](req)
		if err != nil {
			return nil, types.Wrap(types.ErrInvalidArgument, err, "failed to decode CreateIndex payload")
		}
		if s.vectors != nil && p.Index.Schema.Kind == types.OutputKindEmbedding {
			if err := s.vectors.CreateTable(ctx, p.Index.TableName, p.Index.Schema); err != nil {
				return nil, err
			}
		}
		if s.attrs != nil && p.Index.Schema.Kind == types.OutputKindAttributes {
			if err := s.attrs.CreateMetadataTable(p.Namespace); err != nil {
				return nil, err
			}
		}
		if _, err := s.node.CreateIndex(p); err != nil {
			return nil, err
		}
		return struct{}{}, nil

	case MethodGetIndex:
		p, err := decodePayload[GetIndexRequest](req)
		if err != nil {
			return nil, types.Wrap(types.ErrInvalidArgument, err, "failed to decode GetIndex payload")
		}
		return s.node.Store().GetIndex(p.Namespace, p.Name)

	case MethodListIndexes:
		p, err := decodePayload[ListIndexesRequest](req)
		if err != nil {
			return nil, types.Wrap(types.ErrInvalidArgument, err, "failed to decode ListIndexes payload")
		}
		return s.node.Store().ListIndexes(p.Namespace)

	case MethodListExtractors:
		return s.node.Store().ListExtractors()

	case MethodCreateContent:
		p, err := decodePayload[types.CreateContentPayload](req)
		if err != nil {
			return nil, types.Wrap(types.ErrInvalidArgument, err, "failed to decode CreateContent payload")
		}
		if _, err := s.node.CreateContent(p); err != nil {
			return nil, err
		}
		return struct{}{}, nil

	case MethodListContent:
		p, err := decodePayload[ListContentRequest](req)
		if err != nil {
			return nil, types.Wrap(types.ErrInvalidArgument, err, "failed to decode ListContent payload")
		}
		return s.node.Store().ListContent(types.ContentFilter{
			Namespace: p.Namespace,
			Source:    p.Source,
			ParentID:  p.ParentID,
			LabelsEq:  p.LabelsEq,
		})

	case MethodGetContentMetadata:
		p, err := decodePayload[GetContentMetadataRequest](req)
		if err != nil {
			return nil, types.Wrap(types.ErrInvalidArgument, err, "failed to decode GetContentMetadata payload")
		}
		rows := make([]*types.ContentMetadata, 0, len(p.IDs))
		for _, id := range p.IDs {
			c, err := s.node.Store().GetContent(id)
			if err != nil {
				return nil, err
			}
			rows = append(rows, c)
		}
		return rows, nil

	case MethodUpdateTask:
		p, err := decodePayload[types.UpdateTaskPayload](req)
		if err != nil {
			return nil, types.Wrap(types.ErrInvalidArgument, err, "failed to decode UpdateTask payload")
		}
		if _, err := s.node.UpdateTask(p); err != nil {
			return nil, err
		}
		return struct{}{}, nil

	case MethodTombstoneContent:
		p, err := decodePayload[types.TombstoneContentPayload](req)
		if err != nil {
			return nil, types.Wrap(types.ErrInvalidArgument, err, "failed to decode TombstoneContent payload")
		}
		if _, err := s.node.TombstoneContent(p); err != nil {
			return nil, err
		}
		return struct{}{}, nil

	case MethodRemoveExecutor:
		p, err := decodePayload[types.RemoveExecutorPayload](req)
		if err != nil {
			return nil, types.Wrap(types.ErrInvalidArgument, err, "failed to decode RemoveExecutor payload")
		}
		if _, err := s.node.RemoveExecutor(p); err != nil {
			return nil, err
		}
		return struct{}{}, nil

	case MethodUpdateGCTask:
		p, err := decodePayload[types.UpdateGCTaskPayload](req)
		if err != nil {
			return nil, types.Wrap(types.ErrInvalidArgument, err, "failed to decode UpdateGarbageCollectionTask payload")
		}
		if _, err := s.node.UpdateGCTask(p); err != nil {
			return nil, err
		}
		return struct{}{}, nil

	case MethodRemoveTombstoned:
		p, err := decodePayload[types.RemoveTombstonedContentPayload](req)
		if err != nil {
			return nil, types.Wrap(types.ErrInvalidArgument, err, "failed to decode RemoveTombstonedContent payload")
		}
		if _, err := s.node.RemoveTombstonedContent(p); err != nil {
			return nil, err
		}
		return struct{}{}, nil

	case MethodSearch:
		p, err := decodePayload[SearchRequest](req)
		if err != nil {
			return nil, types.Wrap(types.ErrInvalidArgument, err, "failed to decode Search payload")
		}
		return s.search(ctx, p)

	case MethodAddVoter:
		p, err := decodePayload[AddVoterRequest](req)
		if err != nil {
			return nil, types.Wrap(types.ErrInvalidArgument, err, "failed to decode AddVoter payload")
		}
		if err := s.node.AddVoter(p.NodeID, p.Address); err != nil {
			return nil, types.Wrap(types.ErrInternal, err, "failed to add voter")
		}
		return struct{}{}, nil

	case MethodRemoveServer:
		p, err := decodePayload[RemoveServerRequest](req)
		if err != nil {
			return nil, types.Wrap(types.ErrInvalidArgument, err, "failed to decode RemoveServer payload")
		}
		if err := s.node.RemoveServer(p.NodeID); err != nil {
			return nil, types.Wrap(types.ErrInternal, err, "failed to remove server")
		}
		return struct{}{}, nil

	default:
		return nil, types.NewError(types.ErrInvalidArgument, "unknown rpc method %q", req.Method)
	}
}

// search runs the vector query against the named index, then enriches each
// hit with its content's text and labels.
func (s *Server) search(ctx context.Context, req SearchRequest) ([]ScoredText, error) {
	if s.vectors == nil {
		return nil, types.NewError(types.ErrUnavailable, "this replica does not serve vector search")
	}
	if s.embedder == nil {
		return nil, types.NewError(types.ErrUnavailable, "this replica does not serve query embedding")
	}
	idx, err := s.node.Store().GetIndex(req.Namespace, req.IndexName)
	if err != nil {
		return nil, err
	}
	query, err := s.embedder.Embed(ctx, idx.Extractor, req.QueryText)
	if err != nil {
		return nil, types.Wrap(types.ErrInternal, err, "failed to embed query text")
	}
	hits, err := s.vectors.Search(ctx, idx.TableName, query, req.K)
	if err != nil {
		return nil, err
	}

	results := make([]ScoredText, 0, len(hits))
	for _, hit := range hits {
		content, err := s.node.Store().GetContent(hit.ContentID)
		if err != nil {
			continue // content since removed by GC; drop from results
		}
		text := ""
		if s.blobs != nil && content.StorageURL != "" {
			if r, err := s.blobs.Get(ctx, content.StorageURL); err == nil {
				if b, err := io.ReadAll(r); err == nil {
					text = string(b)
				}
				r.Close()
			}
		}
		results = append(results, ScoredText{
			ContentID: hit.ContentID,
			Text:      text,
			Score:     hit.Score,
			Labels:    content.Labels,
		})
	}
	return results, nil
}
