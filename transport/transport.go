// Package transport implements the RPC surface the reconfig-point protocol
// runs over (§6): dispatchStateToTask, updateBackupKeyGroups,
// acknowledgeReconfig, and declineReconfig, carried as NATS core
// request-reply messages addressed by task id.
//
// This package rides the same nats.go connection used for JetStream KV
// rendezvous elsewhere, extended into core NATS request-reply, rather than
// reaching for a second transport dependency.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/arloliu/spacker/keygroup"
	"github.com/arloliu/spacker/types"
)

// op identifies one of the four RPC operations in a subject name.
type op string

const (
	opDispatchStateToTask   op = "dispatch_state_to_task"
	opUpdateBackupKeyGroups op = "update_backup_key_groups"
	opAcknowledgeReconfig   op = "acknowledge_reconfig"
	opDeclineReconfig       op = "decline_reconfig"
)

func subject(taskID string, o op) string {
	return fmt.Sprintf("spacker.task.%s.%s", taskID, o)
}

// envelope is the common reply shape: empty Error means success.
type envelope struct {
	Error string `json:"error,omitempty"`
}

// DispatchStateToTaskRequest carries one key-group's state payload from a
// source task to its destination (§4.5 step 3).
type DispatchStateToTaskRequest struct {
	ReconfigID int64       `json:"reconfig_id"`
	KeyGroup   keygroup.ID `json:"key_group"`
	Payload    []byte      `json:"payload"`
	// PromoteReplica, when true, means the destination already holds an
	// up-to-date replica for KeyGroup and Payload is empty (§4.7).
	PromoteReplica bool `json:"promote_replica,omitempty"`

	// ChunkIndex and ChunkTotal split one logical payload across several RPCs
	// when chunked transmission is enabled (see ChunkConfig). ChunkTotal==0
	// or 1 means Payload is the whole, unsplit value.
	ChunkIndex int `json:"chunk_index,omitempty"`
	ChunkTotal int `json:"chunk_total,omitempty"`
}

// UpdateBackupKeyGroupsRequest tells a replication target which key-groups
// it is now responsible for standing by for.
type UpdateBackupKeyGroupsRequest struct {
	KeyGroups []keygroup.ID `json:"key_groups"`
}

// AcknowledgeReconfigRequest reports that a key-group has been fully
// ingested and drained at its destination.
type AcknowledgeReconfigRequest struct {
	ReconfigID int64       `json:"reconfig_id"`
	KeyGroup   keygroup.ID `json:"key_group"`
}

// DeclineReconfigRequest aborts a reconfig-point in progress (§4.5 failure semantics).
type DeclineReconfigRequest struct {
	ReconfigID int64  `json:"reconfig_id"`
	Reason     string `json:"reason"`
}

// Handler implements the server side of each RPC at a single task.
type Handler interface {
	OnDispatchStateToTask(ctx context.Context, req DispatchStateToTaskRequest) error
	OnUpdateBackupKeyGroups(ctx context.Context, req UpdateBackupKeyGroupsRequest) error
	OnAcknowledgeReconfig(ctx context.Context, req AcknowledgeReconfigRequest) error
	OnDeclineReconfig(ctx context.Context, req DeclineReconfigRequest) error
}

// ChunkConfig controls Netty-style chunked transmission of state payloads:
// a payload over ChunkSize bytes is split across several
// dispatch_state_to_task RPCs instead of one, so no single NATS message
// carries an oversized byte slice.
type ChunkConfig struct {
	Enabled   bool
	ChunkSize int
}

// Client issues RPCs to a remote task over a shared NATS connection.
type Client struct {
	conn    *nats.Conn
	timeout time.Duration
	chunk   ChunkConfig
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithChunking enables splitting DispatchStateToTask payloads per cfg.
func WithChunking(cfg ChunkConfig) ClientOption {
	return func(c *Client) { c.chunk = cfg }
}

// NewClient creates a Client using conn, bounding every request to timeout.
func NewClient(conn *nats.Conn, timeout time.Duration, opts ...ClientOption) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	c := &Client{conn: conn, timeout: timeout}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// DispatchStateToTask sends a single key-group's state to destination taskID,
// splitting Payload across several RPCs when ChunkConfig.Enabled and Payload
// exceeds ChunkConfig.ChunkSize (§6 "netty" chunked transmission).
func (c *Client) DispatchStateToTask(ctx context.Context, taskID string, req DispatchStateToTaskRequest) error {
	if !c.chunk.Enabled || c.chunk.ChunkSize <= 0 || len(req.Payload) <= c.chunk.ChunkSize {
		return c.call(ctx, taskID, opDispatchStateToTask, req)
	}

	payload := req.Payload
	total := (len(payload) + c.chunk.ChunkSize - 1) / c.chunk.ChunkSize
	for i := 0; i < total; i++ {
		start := i * c.chunk.ChunkSize
		end := min(start+c.chunk.ChunkSize, len(payload))

		chunkReq := req
		chunkReq.Payload = payload[start:end]
		chunkReq.ChunkIndex = i
		chunkReq.ChunkTotal = total

		if err := c.call(ctx, taskID, opDispatchStateToTask, chunkReq); err != nil {
			return fmt.Errorf("transport: chunk %d/%d to task %s: %w", i+1, total, taskID, err)
		}
	}

	return nil
}

// UpdateBackupKeyGroups tells a replication target taskID its new backup set.
func (c *Client) UpdateBackupKeyGroups(ctx context.Context, taskID string, req UpdateBackupKeyGroupsRequest) error {
	return c.call(ctx, taskID, opUpdateBackupKeyGroups, req)
}

// AcknowledgeReconfig notifies the coordinator (addressed as a pseudo-task)
// that a key-group has fully landed at its destination.
func (c *Client) AcknowledgeReconfig(ctx context.Context, coordinatorID string, req AcknowledgeReconfigRequest) error {
	return c.call(ctx, coordinatorID, opAcknowledgeReconfig, req)
}

// DeclineReconfig aborts reconfigID, propagating reason to the coordinator.
func (c *Client) DeclineReconfig(ctx context.Context, coordinatorID string, req DeclineReconfigRequest) error {
	return c.call(ctx, coordinatorID, opDeclineReconfig, req)
}

func (c *Client) call(ctx context.Context, taskID string, o op, req any) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("transport: marshal %s request: %w", o, err)
	}

	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	msg, err := c.conn.RequestWithContext(callCtx, subject(taskID, o), data)
	if err != nil {
		if err == nats.ErrTimeout || err == nats.ErrNoResponders {
			return fmt.Errorf("%w: %s to task %s: %w", types.ErrConnectivity, o, taskID, err)
		}

		return fmt.Errorf("transport: %s to task %s: %w", o, taskID, err)
	}

	var reply envelope
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return fmt.Errorf("transport: decode %s reply: %w", o, err)
	}
	if reply.Error != "" {
		return fmt.Errorf("transport: task %s declined %s: %s", taskID, o, reply.Error)
	}

	return nil
}

// chunkKey identifies one in-flight chunked transfer.
type chunkKey struct {
	reconfigID int64
	keyGroup   keygroup.ID
}

// chunkAssembler reassembles a sequence of chunked DispatchStateToTaskRequest
// RPCs into the original payload before the Handler ever sees it.
type chunkAssembler struct {
	mu      sync.Mutex
	pending map[chunkKey][][]byte
}

func newChunkAssembler() *chunkAssembler {
	return &chunkAssembler{pending: make(map[chunkKey][][]byte)}
}

// add records one chunk and reports the reassembled payload once every chunk
// for its key has arrived.
func (a *chunkAssembler) add(req DispatchStateToTaskRequest) ([]byte, bool) {
	if req.ChunkTotal <= 1 {
		return req.Payload, true
	}

	key := chunkKey{reconfigID: req.ReconfigID, keyGroup: req.KeyGroup}

	a.mu.Lock()
	defer a.mu.Unlock()

	chunks, ok := a.pending[key]
	if !ok {
		chunks = make([][]byte, req.ChunkTotal)
	}
	chunks[req.ChunkIndex] = req.Payload
	a.pending[key] = chunks

	for _, c := range chunks {
		if c == nil {
			return nil, false
		}
	}

	delete(a.pending, key)

	full := make([]byte, 0)
	for _, c := range chunks {
		full = append(full, c...)
	}

	return full, true
}

// Serve subscribes taskID's RPC subjects to h, returning an unsubscribe
// function. ctx bounds the lifetime of handler invocations, not the
// subscriptions themselves.
func Serve(ctx context.Context, conn *nats.Conn, taskID string, h Handler) (func(), error) {
	subs := make([]*nats.Subscription, 0, 4)
	assembler := newChunkAssembler()

	register := func(o op, fn func(context.Context, []byte) error) error {
		sub, err := conn.Subscribe(subject(taskID, o), func(msg *nats.Msg) {
			err := fn(ctx, msg.Data)
			reply := envelope{}
			if err != nil {
				reply.Error = err.Error()
			}
			if data, mErr := json.Marshal(reply); mErr == nil {
				_ = msg.Respond(data)
			}
		})
		if err != nil {
			return err
		}
		subs = append(subs, sub)

		return nil
	}

	unsubAll := func() {
		for _, sub := range subs {
			_ = sub.Unsubscribe()
		}
	}

	if err := register(opDispatchStateToTask, func(ctx context.Context, data []byte) error {
		var req DispatchStateToTaskRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return err
		}

		full, complete := assembler.add(req)
		if !complete {
			return nil
		}
		req.Payload = full
		req.ChunkIndex = 0
		req.ChunkTotal = 0

		return h.OnDispatchStateToTask(ctx, req)
	}); err != nil {
		unsubAll()

		return nil, err
	}

	if err := register(opUpdateBackupKeyGroups, func(ctx context.Context, data []byte) error {
		var req UpdateBackupKeyGroupsRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return err
		}

		return h.OnUpdateBackupKeyGroups(ctx, req)
	}); err != nil {
		unsubAll()

		return nil, err
	}

	if err := register(opAcknowledgeReconfig, func(ctx context.Context, data []byte) error {
		var req AcknowledgeReconfigRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return err
		}

		return h.OnAcknowledgeReconfig(ctx, req)
	}); err != nil {
		unsubAll()

		return nil, err
	}

	if err := register(opDeclineReconfig, func(ctx context.Context, data []byte) error {
		var req DeclineReconfigRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return err
		}

		return h.OnDeclineReconfig(ctx, req)
	}); err != nil {
		unsubAll()

		return nil, err
	}

	return unsubAll, nil
}
