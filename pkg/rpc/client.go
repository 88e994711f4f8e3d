package rpc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/graftio/ingestify/pkg/log"
	"github.com/graftio/ingestify/pkg/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// maxRetries bounds the leader-seeking retry loop: one initial attempt plus
// this many retries, each preceded by a redial when the previous response
// named a leader, with exponential backoff between tries.
const maxRetries = 5

// Client is a leader-seeking RPC client: every call is retried against
// whatever address the server's last Unavailable response named as the
// current leader, so a caller can contact any node and be redirected
// without a separate discovery round trip.
type Client struct {
	mu   sync.Mutex
	addr string
	conn *grpc.ClientConn
}

// NewClient dials addr, the caller's best first guess at the leader
// (typically the last known leader, or any node at startup).
func NewClient(addr string) (*Client, error) {
	c := &Client{}
	if err := c.dial(addr); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) dial(addr string) error {
	conn, err := grpc.Dial(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{})),
	)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn, c.addr = conn, addr
	c.mu.Unlock()
	return nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// call invokes method with payload, decoding the response into T. A
// transport error or an Unavailable response is retried up to maxRetries
// times with exponential backoff, redialing first when the response names
// a leader; retrying stops once ctx is done.
func call[T any](ctx context.Context, c *Client, method string, payload any) (T, error) {
	var zero T
	req, err := newEnvelope(method, payload)
	if err != nil {
		return zero, err
	}

	backoff := 100 * time.Millisecond
	for attempt := 0; ; attempt++ {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		resp := new(Envelope)
		err := conn.Invoke(ctx, "/"+serviceName+"/Call", req, resp)
		if err != nil {
			if attempt < maxRetries && ctx.Err() == nil {
				time.Sleep(backoff)
				backoff *= 2
				continue
			}
			return zero, fmt.Errorf("rpc %s failed: %w", method, err)
		}
		if resp.ErrorKind == "" {
			return decodePayload[T](resp)
		}

		if resp.ErrorKind == string(types.ErrUnavailable) && attempt < maxRetries && ctx.Err() == nil {
			if resp.Leader != "" {
				log.WithComponent("rpc-client").Warn().Str("method", method).Str("leader", resp.Leader).Msg("redialing to current leader")
				if err := c.dial(resp.Leader); err != nil {
					return zero, err
				}
			}
			time.Sleep(backoff)
			backoff *= 2
			continue
		}
		return zero, &types.Error{Kind: types.ErrorKind(resp.ErrorKind), Message: resp.ErrorMessage}
	}
}

// --- Typed per-RPC methods, satisfying pkg/ingest.CoordinatorClient plus
// the executor- and admin-facing calls this facade also serves. ---

func (c *Client) CreateContent(ctx context.Context, rows []types.ContentMetadata) error {
	_, err := call[struct{}](ctx, c, MethodCreateContent, types.CreateContentPayload{ContentMetadata: rows})
	return err
}

func (c *Client) UpdateTask(ctx context.Context, task types.Task, markFinished bool, children []types.ContentMetadata) error {
	_, err := call[struct{}](ctx, c, MethodUpdateTask, types.UpdateTaskPayload{
		Task:            task,
		MarkFinished:    markFinished,
		ContentMetadata: children,
	})
	return err
}

func (c *Client) GetIndex(ctx context.Context, namespace, name string) (*types.Index, error) {
	return call[*types.Index](ctx, c, MethodGetIndex, GetIndexRequest{Namespace: namespace, Name: name})
}

func (c *Client) RegisterExecutor(ctx context.Context, p types.RegisterExecutorPayload) error {
	_, err := call[struct{}](ctx, c, MethodRegisterExecutor, p)
	return err
}

func (c *Client) Heartbeat(ctx context.Context, executorID string, extractor types.Extractor, addr string) error {
	_, err := call[struct{}](ctx, c, MethodHeartbeat, types.RegisterExecutorPayload{
		ExecutorID: executorID,
		Extractor:  extractor,
		Addr:       addr,
		TsSecs:     time.Now().Unix(),
	})
	return err
}

func (c *Client) PullTasks(ctx context.Context, executorID string) ([]*types.Task, error) {
	return call[[]*types.Task](ctx, c, MethodPullTasks, PullTasksRequest{ExecutorID: executorID})
}

func (c *Client) CreateNamespace(ctx context.Context, p types.CreateNamespacePayload) error {
	_, err := call[struct{}](ctx, c, MethodCreateNamespace, p)
	return err
}

func (c *Client) ListNamespace(ctx context.Context) ([]*types.Namespace, error) {
	return call[[]*types.Namespace](ctx, c, MethodListNamespace, struct{}{})
}

func (c *Client) GetNamespace(ctx context.Context, name string) (*types.Namespace, error) {
	return call[*types.Namespace](ctx, c, MethodGetNamespace, GetNamespaceRequest{Name: name})
}

func (c *Client) CreateExtractionGraph(ctx context.Context, p types.CreateExtractionGraphPayload) error {
	_, err := call[struct{}](ctx, c, MethodCreateGraph, p)
	return err
}

func (c *Client) CreateExtractionPolicy(ctx context.Context, p types.CreateExtractionPolicyPayload) error {
	_, err := call[struct{}](ctx, c, MethodCreatePolicy, p)
	return err
}

func (c *Client) CreateIndex(ctx context.Context, p types.CreateIndexPayload) error {
	_, err := call[struct{}](ctx, c, MethodCreateIndex, p)
	return err
}

func (c *Client) ListIndexes(ctx context.Context, namespace string) ([]*types.Index, error) {
	return call[[]*types.Index](ctx, c, MethodListIndexes, ListIndexesRequest{Namespace: namespace})
}

func (c *Client) ListExtractors(ctx context.Context) ([]*types.Extractor, error) {
	return call[[]*types.Extractor](ctx, c, MethodListExtractors, struct{}{})
}

func (c *Client) ListContent(ctx context.Context, req ListContentRequest) ([]*types.ContentMetadata, error) {
	return call[[]*types.ContentMetadata](ctx, c, MethodListContent, req)
}

func (c *Client) GetContentMetadata(ctx context.Context, ids []string) ([]*types.ContentMetadata, error) {
	return call[[]*types.ContentMetadata](ctx, c, MethodGetContentMetadata, GetContentMetadataRequest{IDs: ids})
}

func (c *Client) TombstoneContent(ctx context.Context, p types.TombstoneContentPayload) error {
	_, err := call[struct{}](ctx, c, MethodTombstoneContent, p)
	return err
}

func (c *Client) RemoveExecutor(ctx context.Context, executorID string) error {
	_, err := call[struct{}](ctx, c, MethodRemoveExecutor, types.RemoveExecutorPayload{ExecutorID: executorID})
	return err
}

func (c *Client) UpdateGCTask(ctx context.Context, task types.GarbageCollectionTask, markFinished bool) error {
	_, err := call[struct{}](ctx, c, MethodUpdateGCTask, types.UpdateGCTaskPayload{Task: task, MarkFinished: markFinished})
	return err
}

func (c *Client) RemoveTombstonedContent(ctx context.Context, contentID string) error {
	_, err := call[struct{}](ctx, c, MethodRemoveTombstoned, types.RemoveTombstonedContentPayload{ContentID: contentID})
	return err
}

func (c *Client) Search(ctx context.Context, req SearchRequest) ([]ScoredText, error) {
	return call[[]ScoredText](ctx, c, MethodSearch, req)
}

func (c *Client) AddVoter(ctx context.Context, nodeID, address string) error {
	_, err := call[struct{}](ctx, c, MethodAddVoter, AddVoterRequest{NodeID: nodeID, Address: address})
	return err
}

func (c *Client) RemoveServer(ctx context.Context, nodeID string) error {
	_, err := call[struct{}](ctx, c, MethodRemoveServer, RemoveServerRequest{NodeID: nodeID})
	return err
}
