package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/GhostKellz/ghostflow/pkg/api"
)

// Redis is a Store backed by a Redis server. Each execution is a JSON
// string key with hashes for its nodes, logs, and artifacts. Guarded
// writes run under WATCH so concurrent writers never interleave
type Redis struct {
	client *redis.Client
	prefix string
}

const maxWatchRetries = 100

var _ Store = (*Redis)(nil)

// NewRedis creates a Store using the provided client. All keys are
// namespaced by prefix
func NewRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{
		client: client,
		prefix: prefix,
	}
}

// Client returns the underlying Redis client
func (r *Redis) Client() *redis.Client {
	return r.client
}

func (r *Redis) CreateFlowExecution(
	ctx context.Context, e *api.FlowExecution,
) error {
	if err := validateFlowExecution(e); err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	key := r.execKey(e.ID)
	return r.watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil || n > 0 {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, data, 0)
			p.SAdd(ctx, r.executionsKey(), string(e.ID))
			p.SAdd(ctx, r.flowExecutionsKey(e.FlowID), string(e.ID))
			return nil
		})
		return err
	}, key)
}

func (r *Redis) UpdateFlowExecutionStatus(
	ctx context.Context, e *api.FlowExecution,
) error {
	if err := validateFlowExecution(e); err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	key := r.execKey(e.ID)
	return r.watch(ctx, func(tx *redis.Tx) error {
		cur, err := r.readExec(ctx, tx, e.ID)
		if err != nil {
			return err
		}
		write, err := decideFlowUpdate(cur, e)
		if err != nil || !write {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}, key)
}

func (r *Redis) CreateNodeExecution(
	ctx context.Context, n *api.NodeExecution,
) error {
	if err := validateNodeExecution(n); err != nil {
		return err
	}
	return r.putChild(ctx, n.ExecutionID, r.nodesKey(n.ExecutionID),
		string(n.NodeID), n, nil,
	)
}

func (r *Redis) UpdateNodeExecution(
	ctx context.Context, n *api.NodeExecution,
) error {
	if err := validateNodeExecution(n); err != nil {
		return err
	}
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	key := r.execKey(n.ExecutionID)
	nodes := r.nodesKey(n.ExecutionID)
	return r.watch(ctx, func(tx *redis.Tx) error {
		parent, err := r.readExec(ctx, tx, n.ExecutionID)
		if err != nil {
			return err
		}
		raw, err := tx.HGet(ctx, nodes, string(n.NodeID)).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var cur api.NodeExecution
		if err := json.Unmarshal(raw, &cur); err != nil {
			return err
		}
		write, err := decideNodeUpdate(parent, &cur, n)
		if err != nil || !write {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, nodes, string(n.NodeID), data)
			return nil
		})
		return err
	}, key, nodes)
}

func (r *Redis) AppendLog(ctx context.Context, l *api.ExecutionLog) error {
	if err := validateLog(l); err != nil {
		return err
	}
	return r.putChild(ctx, l.ExecutionID, r.logsKey(l.ExecutionID),
		string(l.ID), l, nil,
	)
}

func (r *Redis) PutArtifact(ctx context.Context, a *api.Artifact) error {
	if err := validateArtifact(a); err != nil {
		return err
	}
	return r.putChild(ctx, a.ExecutionID, r.artifactsKey(a.ExecutionID),
		a.Name, a, func(raw []byte) error {
			var cur api.Artifact
			if err := json.Unmarshal(raw, &cur); err != nil {
				return err
			}
			if cur.ID != a.ID {
				return ErrArtifactExists
			}
			return nil
		},
	)
}

func (r *Redis) GetFlowExecution(
	ctx context.Context, id api.ExecutionID,
) (*api.FlowExecution, error) {
	return r.readExec(ctx, r.client, id)
}

func (r *Redis) ListExecutions(
	ctx context.Context, flowID api.FlowID,
) ([]*api.FlowExecution, error) {
	index := r.executionsKey()
	if flowID != "" {
		index = r.flowExecutionsKey(flowID)
	}
	ids, err := r.client.SMembers(ctx, index).Result()
	if err != nil {
		return nil, err
	}
	res := []*api.FlowExecution{}
	if len(ids) == 0 {
		return res, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.execKey(api.ExecutionID(id))
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var e api.FlowExecution
		if err := json.Unmarshal([]byte(s), &e); err != nil {
			return nil, err
		}
		res = append(res, &e)
	}
	sortExecutions(res)
	return res, nil
}

func (r *Redis) GetNodeExecution(
	ctx context.Context, id api.ExecutionID, nodeID api.NodeID,
) (*api.NodeExecution, error) {
	raw, err := r.client.HGet(ctx, r.nodesKey(id), string(nodeID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var res api.NodeExecution
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (r *Redis) ListNodeExecutions(
	ctx context.Context, id api.ExecutionID,
) ([]*api.NodeExecution, error) {
	res, err := listHash[api.NodeExecution](ctx, r, id, r.nodesKey(id))
	if err != nil {
		return nil, err
	}
	sortNodeExecutions(res)
	return res, nil
}

func (r *Redis) ListLogs(
	ctx context.Context, id api.ExecutionID,
) ([]*api.ExecutionLog, error) {
	res, err := listHash[api.ExecutionLog](ctx, r, id, r.logsKey(id))
	if err != nil {
		return nil, err
	}
	sortLogs(res)
	return res, nil
}

func (r *Redis) ListArtifacts(
	ctx context.Context, id api.ExecutionID,
) ([]*api.Artifact, error) {
	res, err := listHash[api.Artifact](ctx, r, id, r.artifactsKey(id))
	if err != nil {
		return nil, err
	}
	sortArtifacts(res)
	return res, nil
}

func (r *Redis) DeleteFlowExecution(
	ctx context.Context, id api.ExecutionID,
) error {
	key := r.execKey(id)
	return r.watch(ctx, func(tx *redis.Tx) error {
		cur, err := r.readExec(ctx, tx, id)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Del(ctx, key, r.nodesKey(id), r.logsKey(id), r.artifactsKey(id))
			p.SRem(ctx, r.executionsKey(), string(id))
			p.SRem(ctx, r.flowExecutionsKey(cur.FlowID), string(id))
			return nil
		})
		return err
	}, key)
}

func (r *Redis) Close() error {
	return r.client.Close()
}

// putChild writes a record into one of an execution's hashes. An existing
// field is a replay and is checked by onExisting when provided
func (r *Redis) putChild(
	ctx context.Context, id api.ExecutionID, hash, field string, rec any,
	onExisting func([]byte) error,
) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	key := r.execKey(id)
	return r.watch(ctx, func(tx *redis.Tx) error {
		parent, err := r.readExec(ctx, tx, id)
		if err != nil {
			return err
		}
		raw, err := tx.HGet(ctx, hash, field).Bytes()
		switch {
		case err == nil:
			if onExisting != nil {
				return onExisting(raw)
			}
			return nil
		case !errors.Is(err, redis.Nil):
			return err
		}
		if err := checkChildWrite(parent); err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSetNX(ctx, hash, field, data)
			return nil
		})
		return err
	}, key, hash)
}

func (r *Redis) readExec(
	ctx context.Context, c redis.Cmdable, id api.ExecutionID,
) (*api.FlowExecution, error) {
	raw, err := c.Get(ctx, r.execKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var res api.FlowExecution
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (r *Redis) watch(
	ctx context.Context, fn func(*redis.Tx) error, keys ...string,
) error {
	for range maxWatchRetries {
		err := r.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return ErrConflict
}

func listHash[T any](
	ctx context.Context, r *Redis, id api.ExecutionID, hash string,
) ([]*T, error) {
	n, err := r.client.Exists(ctx, r.execKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrNotFound
	}
	vals, err := r.client.HVals(ctx, hash).Result()
	if err != nil {
		return nil, err
	}
	res := make([]*T, 0, len(vals))
	for _, v := range vals {
		var rec T
		if err := json.Unmarshal([]byte(v), &rec); err != nil {
			return nil, fmt.Errorf("%s: %w", hash, err)
		}
		res = append(res, &rec)
	}
	return res, nil
}

func (r *Redis) execKey(id api.ExecutionID) string {
	return fmt.Sprintf("%s:exec:%s", r.prefix, id)
}

func (r *Redis) nodesKey(id api.ExecutionID) string {
	return r.execKey(id) + ":nodes"
}

func (r *Redis) logsKey(id api.ExecutionID) string {
	return r.execKey(id) + ":logs"
}

func (r *Redis) artifactsKey(id api.ExecutionID) string {
	return r.execKey(id) + ":artifacts"
}

func (r *Redis) executionsKey() string {
	return r.prefix + ":executions"
}

func (r *Redis) flowExecutionsKey(flowID api.FlowID) string {
	return fmt.Sprintf("%s:flow:%s:executions", r.prefix, flowID)
}
