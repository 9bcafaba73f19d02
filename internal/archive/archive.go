// Package archive moves finished executions out of the execution store
// and into a blob bucket once they reach a configured age
package archive

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/GhostKellz/ghostflow/internal/config"
	"github.com/GhostKellz/ghostflow/pkg/api"
	"github.com/GhostKellz/ghostflow/pkg/log"
)

type (
	// Archiver periodically archives and then deletes finished executions
	Archiver struct {
		source Source
		writer *Writer
		config config.ArchiveConfig
		now    func() time.Time
		mu     sync.Mutex
	}

	// Source exposes the execution records to archive. The engine
	// satisfies it
	Source interface {
		ListExecutions(
			context.Context, api.FlowID,
		) ([]*api.FlowExecution, error)
		ListNodeExecutions(
			context.Context, api.ExecutionID,
		) ([]*api.NodeExecution, error)
		ListLogs(context.Context, api.ExecutionID) ([]*api.ExecutionLog, error)
		ListArtifacts(context.Context, api.ExecutionID) ([]*api.Artifact, error)
		ReadArtifact(
			context.Context, api.ExecutionID, string,
		) (*api.Artifact, []byte, error)
		DeleteExecution(context.Context, api.ExecutionID) error
	}

	// Option customizes an Archiver
	Option func(*Archiver)
)

var (
	ErrSourceRequired = errors.New("execution source is required")
	ErrWriterRequired = errors.New("archive writer is required")
)

// WithClock replaces the clock used to age executions
func WithClock(now func() time.Time) Option {
	return func(a *Archiver) {
		a.now = now
	}
}

// NewArchiver creates an Archiver over src
func NewArchiver(
	src Source, w *Writer, cfg config.ArchiveConfig, opts ...Option,
) (*Archiver, error) {
	if src == nil {
		return nil, ErrSourceRequired
	}
	if w == nil {
		return nil, ErrWriterRequired
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &Archiver{
		source: src,
		writer: w,
		config: cfg,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Run sweeps on every interval until ctx is done
func (a *Archiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.config.SweepIntervalDuration())
	defer ticker.Stop()

	a.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.sweep(ctx)
		}
	}
}

func (a *Archiver) sweep(ctx context.Context) {
	n, err := a.RunOnce(ctx)
	if err != nil && ctx.Err() == nil {
		slog.Warn("Archive sweep failed",
			log.Error(err))
	}
	if n > 0 {
		slog.Info("Executions archived",
			slog.Int("count", n))
	}
}

// RunOnce archives up to one batch of expired executions and returns how
// many were archived. A failure on one execution does not stop the batch
func (a *Archiver) RunOnce(ctx context.Context) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	execs, err := a.source.ListExecutions(ctx, "")
	if err != nil {
		return 0, err
	}

	var errs []error
	count := 0
	for _, ex := range a.selectExpired(execs) {
		if err := a.archive(ctx, ex); err != nil {
			slog.Warn("Failed to archive execution",
				log.ExecutionID(ex.ID),
				log.FlowID(ex.FlowID),
				log.Error(err))
			errs = append(errs, err)
			continue
		}
		count++
	}
	return count, errors.Join(errs...)
}

func (a *Archiver) selectExpired(
	execs []*api.FlowExecution,
) []*api.FlowExecution {
	cutoff := a.now().Add(-a.config.MaxAgeDuration())
	res := make([]*api.FlowExecution, 0, a.config.BatchSize)
	for _, ex := range execs {
		if !ex.Status.IsTerminal() || ex.CompletedAt.After(cutoff) {
			continue
		}
		res = append(res, ex)
		if len(res) >= a.config.BatchSize {
			break
		}
	}
	return res
}

func (a *Archiver) archive(ctx context.Context, ex *api.FlowExecution) error {
	rec, err := a.collect(ctx, ex)
	if err != nil {
		return err
	}
	if err := a.writer.Write(ctx, rec); err != nil {
		return err
	}
	return a.source.DeleteExecution(ctx, ex.ID)
}

func (a *Archiver) collect(
	ctx context.Context, ex *api.FlowExecution,
) (*Record, error) {
	nodes, err := a.source.ListNodeExecutions(ctx, ex.ID)
	if err != nil {
		return nil, err
	}
	logs, err := a.source.ListLogs(ctx, ex.ID)
	if err != nil {
		return nil, err
	}
	arts, err := a.source.ListArtifacts(ctx, ex.ID)
	if err != nil {
		return nil, err
	}

	rec := &Record{
		ArchivedAt: a.now(),
		Execution:  ex,
		Nodes:      nodes,
		Logs:       logs,
	}
	for _, art := range arts {
		_, data, err := a.source.ReadArtifact(ctx, ex.ID, art.Name)
		if err != nil {
			return nil, err
		}
		rec.Artifacts = append(rec.Artifacts, &ArtifactRecord{
			Artifact: art,
			Data:     data,
		})
	}
	return rec, nil
}
