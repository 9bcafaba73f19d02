package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/GhostKellz/ghostflow/pkg/api"
)

type (
	// Badger is a Store backed by an embedded Badger database. Child
	// records share their execution's key prefix so a cascade delete is a
	// single prefix scan
	Badger struct {
		db *badger.DB
	}

	badgerLogger struct {
		logger *slog.Logger
	}
)

const (
	execPrefix = "exec/"
	flowPrefix = "flow/"

	nodeSegment     = "node/"
	logSegment      = "log/"
	artifactSegment = "artifact/"

	maxConflictRetries = 16
)

var _ Store = (*Badger)(nil)

// OpenBadger opens a Badger database at path, or an in-memory one when
// path is empty
func OpenBadger(path string, logger *slog.Logger) (*Badger, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", path, err)
		}
		opts = badger.DefaultOptions(path)
	}
	if logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return NewBadger(db), nil
}

// NewBadger wraps an already opened Badger database
func NewBadger(db *badger.DB) *Badger {
	return &Badger{db: db}
}

func (b *Badger) CreateFlowExecution(
	_ context.Context, e *api.FlowExecution,
) error {
	if err := validateFlowExecution(e); err != nil {
		return err
	}
	return b.update(func(txn *badger.Txn) error {
		key := execKey(e.ID)
		if _, err := txn.Get(key); err == nil {
			return nil
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := setJSON(txn, key, e); err != nil {
			return err
		}
		return txn.Set(flowIndexKey(e.FlowID, e.ID), nil)
	})
}

func (b *Badger) UpdateFlowExecutionStatus(
	_ context.Context, e *api.FlowExecution,
) error {
	if err := validateFlowExecution(e); err != nil {
		return err
	}
	return b.update(func(txn *badger.Txn) error {
		cur, err := readExec(txn, e.ID)
		if err != nil {
			return err
		}
		write, err := decideFlowUpdate(cur, e)
		if err != nil || !write {
			return err
		}
		return setJSON(txn, execKey(e.ID), e)
	})
}

func (b *Badger) CreateNodeExecution(
	_ context.Context, n *api.NodeExecution,
) error {
	if err := validateNodeExecution(n); err != nil {
		return err
	}
	key := childKey(n.ExecutionID, nodeSegment, string(n.NodeID))
	return b.putChild(n.ExecutionID, key, n, nil)
}

func (b *Badger) UpdateNodeExecution(
	_ context.Context, n *api.NodeExecution,
) error {
	if err := validateNodeExecution(n); err != nil {
		return err
	}
	key := childKey(n.ExecutionID, nodeSegment, string(n.NodeID))
	return b.update(func(txn *badger.Txn) error {
		parent, err := readExec(txn, n.ExecutionID)
		if err != nil {
			return err
		}
		var cur api.NodeExecution
		if err := getJSON(txn, key, &cur); err != nil {
			return err
		}
		write, err := decideNodeUpdate(parent, &cur, n)
		if err != nil || !write {
			return err
		}
		return setJSON(txn, key, n)
	})
}

func (b *Badger) AppendLog(_ context.Context, l *api.ExecutionLog) error {
	if err := validateLog(l); err != nil {
		return err
	}
	key := childKey(l.ExecutionID, logSegment, string(l.ID))
	return b.putChild(l.ExecutionID, key, l, nil)
}

func (b *Badger) PutArtifact(_ context.Context, a *api.Artifact) error {
	if err := validateArtifact(a); err != nil {
		return err
	}
	key := childKey(a.ExecutionID, artifactSegment, a.Name)
	return b.putChild(a.ExecutionID, key, a, func(txn *badger.Txn) error {
		var cur api.Artifact
		if err := getJSON(txn, key, &cur); err != nil {
			return err
		}
		if cur.ID != a.ID {
			return ErrArtifactExists
		}
		return nil
	})
}

func (b *Badger) GetFlowExecution(
	_ context.Context, id api.ExecutionID,
) (*api.FlowExecution, error) {
	var res *api.FlowExecution
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		res, err = readExec(txn, id)
		return err
	})
	return res, err
}

func (b *Badger) ListExecutions(
	_ context.Context, flowID api.FlowID,
) ([]*api.FlowExecution, error) {
	res := []*api.FlowExecution{}
	err := b.db.View(func(txn *badger.Txn) error {
		if flowID == "" {
			return scanExecutions(txn, func(e *api.FlowExecution) {
				res = append(res, e)
			})
		}
		prefix := flowIndexKey(flowID, "")
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			id := api.ExecutionID(it.Item().Key()[len(prefix):])
			e, err := readExec(txn, id)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			res = append(res, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortExecutions(res)
	return res, nil
}

func (b *Badger) GetNodeExecution(
	_ context.Context, id api.ExecutionID, nodeID api.NodeID,
) (*api.NodeExecution, error) {
	var res api.NodeExecution
	err := b.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, childKey(id, nodeSegment, string(nodeID)), &res)
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (b *Badger) ListNodeExecutions(
	_ context.Context, id api.ExecutionID,
) ([]*api.NodeExecution, error) {
	res, err := listChildren[api.NodeExecution](b.db, id, nodeSegment)
	if err != nil {
		return nil, err
	}
	sortNodeExecutions(res)
	return res, nil
}

func (b *Badger) ListLogs(
	_ context.Context, id api.ExecutionID,
) ([]*api.ExecutionLog, error) {
	res, err := listChildren[api.ExecutionLog](b.db, id, logSegment)
	if err != nil {
		return nil, err
	}
	sortLogs(res)
	return res, nil
}

func (b *Badger) ListArtifacts(
	_ context.Context, id api.ExecutionID,
) ([]*api.Artifact, error) {
	res, err := listChildren[api.Artifact](b.db, id, artifactSegment)
	if err != nil {
		return nil, err
	}
	sortArtifacts(res)
	return res, nil
}

func (b *Badger) DeleteFlowExecution(
	_ context.Context, id api.ExecutionID,
) error {
	return b.update(func(txn *badger.Txn) error {
		cur, err := readExec(txn, id)
		if err != nil {
			return err
		}
		var keys [][]byte
		prefix := childKey(id, "", "")
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()
		keys = append(keys, execKey(id), flowIndexKey(cur.FlowID, id))
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *Badger) Close() error {
	return b.db.Close()
}

func (b *Badger) putChild(
	id api.ExecutionID, key []byte, rec any,
	onExisting func(*badger.Txn) error,
) error {
	return b.update(func(txn *badger.Txn) error {
		parent, err := readExec(txn, id)
		if err != nil {
			return err
		}
		if _, err := txn.Get(key); err == nil {
			if onExisting != nil {
				return onExisting(txn)
			}
			return nil
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := checkChildWrite(parent); err != nil {
			return err
		}
		return setJSON(txn, key, rec)
	})
}

func (b *Badger) update(fn func(*badger.Txn) error) error {
	for range maxConflictRetries {
		err := b.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return ErrConflict
}

func listChildren[T any](
	db *badger.DB, id api.ExecutionID, segment string,
) ([]*T, error) {
	var res []*T
	err := db.View(func(txn *badger.Txn) error {
		if _, err := txn.Get(execKey(id)); errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		} else if err != nil {
			return err
		}
		prefix := childKey(id, segment, "")
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var rec T
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			res = append(res, &rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if res == nil {
		res = []*T{}
	}
	return res, nil
}

func scanExecutions(txn *badger.Txn, fn func(*api.FlowExecution)) error {
	prefix := []byte(execPrefix)
	it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		if bytes.IndexByte(item.Key()[len(prefix):], '/') >= 0 {
			continue
		}
		var e api.FlowExecution
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &e)
		}); err != nil {
			return err
		}
		fn(&e)
	}
	return nil
}

func readExec(txn *badger.Txn, id api.ExecutionID) (*api.FlowExecution, error) {
	var res api.FlowExecution
	if err := getJSON(txn, execKey(id), &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func getJSON(txn *badger.Txn, key []byte, out any) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
}

func setJSON(txn *badger.Txn, key []byte, rec any) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

func execKey(id api.ExecutionID) []byte {
	return []byte(execPrefix + string(id))
}

func childKey(id api.ExecutionID, segment, name string) []byte {
	return []byte(execPrefix + string(id) + "/" + segment + name)
}

func flowIndexKey(flowID api.FlowID, id api.ExecutionID) []byte {
	return []byte(flowPrefix + string(flowID) + "/exec/" + string(id))
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
