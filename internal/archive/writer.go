package archive

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"gocloud.dev/blob"

	"github.com/GhostKellz/ghostflow/pkg/api"
)

type (
	// Writer stores archive records as JSON objects in a bucket
	Writer struct {
		bucket BucketWriter
		prefix string
	}

	// BucketWriter is the subset of a blob bucket the Writer needs
	BucketWriter interface {
		WriteAll(context.Context, string, []byte, *blob.WriterOptions) error
	}

	// Record is everything kept about a finished execution once it leaves
	// the execution store
	Record struct {
		ArchivedAt time.Time            `json:"archived_at"`
		Execution  *api.FlowExecution   `json:"execution"`
		Nodes      []*api.NodeExecution `json:"nodes"`
		Logs       []*api.ExecutionLog  `json:"logs,omitempty"`
		Artifacts  []*ArtifactRecord    `json:"artifacts,omitempty"`
	}

	// ArtifactRecord pairs an artifact with its content
	ArtifactRecord struct {
		Artifact *api.Artifact `json:"artifact"`
		Data     []byte        `json:"data"`
	}
)

const archiveContentType = "application/json"

var (
	ErrBucketRequired = errors.New("bucket is required")
	ErrRecordRequired = errors.New("archive record is required")
)

// NewWriter creates a Writer placing objects under prefix
func NewWriter(bucket BucketWriter, prefix string) (*Writer, error) {
	if bucket == nil {
		return nil, ErrBucketRequired
	}
	return &Writer{
		bucket: bucket,
		prefix: prefix,
	}, nil
}

// Write stores a record, replacing any earlier object for the same
// execution
func (w *Writer) Write(ctx context.Context, rec *Record) error {
	if rec == nil || rec.Execution == nil {
		return ErrRecordRequired
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	key := Key(w.prefix, rec.Execution)
	if err := w.bucket.WriteAll(ctx, key, data, &blob.WriterOptions{
		ContentType: archiveContentType,
	}); err != nil {
		return fmt.Errorf("write archive %s: %w", key, err)
	}
	return nil
}

// Key returns the object key of an execution's archive
func Key(prefix string, ex *api.FlowExecution) string {
	key := string(ex.FlowID) + "/" + string(ex.ID) + ".json"
	if prefix == "" {
		return key
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix + key
}
