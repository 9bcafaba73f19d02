// Package artifact stores artifact contents in a blob bucket. Objects are
// write-once and carry a SHA-256 checksum recorded on the Artifact
package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"github.com/GhostKellz/ghostflow/pkg/api"

	_ "gocloud.dev/blob/azureblob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
)

// Store writes and reads artifact contents
type Store struct {
	bucket *blob.Bucket
	prefix string
}

const (
	DefaultContentType = "application/octet-stream"

	checksumKey = "sha256"
)

var (
	ErrBucketRequired   = errors.New("bucket is required")
	ErrNameRequired     = errors.New("artifact name is required")
	ErrArtifactExists   = errors.New("artifact already exists")
	ErrArtifactNotFound = errors.New("artifact not found")
	ErrChecksumMismatch = errors.New("artifact checksum mismatch")
)

var artifactNamespace = uuid.MustParse("8f5d1c52-6a3e-4cb6-9e57-0d3f0b8a1e21")

// Open opens the bucket at bucketURL. Supported schemes are mem, file,
// s3, gs, and azblob
func Open(ctx context.Context, bucketURL, prefix string) (*Store, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, err
	}
	return New(bucket, prefix)
}

// New wraps an already opened bucket
func New(bucket *blob.Bucket, prefix string) (*Store, error) {
	if bucket == nil {
		return nil, ErrBucketRequired
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Store{
		bucket: bucket,
		prefix: prefix,
	}, nil
}

// Put writes the contents of a named artifact for an execution. Writing
// the same name with identical contents returns the existing record;
// different contents fail with ErrArtifactExists
func (s *Store) Put(
	ctx context.Context, id api.ExecutionID, nodeID api.NodeID,
	name, contentType string, data []byte,
) (*api.Artifact, error) {
	if name == "" {
		return nil, ErrNameRequired
	}
	if contentType == "" {
		contentType = DefaultContentType
	}

	key := s.keyFor(id, name)
	sum := Checksum(data)
	res := &api.Artifact{
		ID:          ArtifactID(id, name),
		ExecutionID: id,
		NodeID:      nodeID,
		Name:        name,
		ContentType: contentType,
		StoragePath: key,
		Checksum:    sum,
		SizeBytes:   int64(len(data)),
		CreatedAt:   time.Now(),
	}

	attrs, err := s.bucket.Attributes(ctx, key)
	switch {
	case err == nil:
		if attrs.Metadata[checksumKey] != sum {
			return nil, fmt.Errorf("%w: %s", ErrArtifactExists, name)
		}
		res.CreatedAt = attrs.ModTime
		return res, nil
	case gcerrors.Code(err) != gcerrors.NotFound:
		return nil, err
	}

	if err := s.bucket.WriteAll(ctx, key, data, &blob.WriterOptions{
		ContentType: contentType,
		Metadata:    map[string]string{checksumKey: sum},
	}); err != nil {
		return nil, err
	}
	return res, nil
}

// Get reads the contents of an artifact and verifies its checksum
func (s *Store) Get(ctx context.Context, a *api.Artifact) ([]byte, error) {
	data, err := s.bucket.ReadAll(ctx, a.StoragePath)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, a.Name)
		}
		return nil, err
	}
	if a.Checksum != "" && Checksum(data) != a.Checksum {
		return nil, fmt.Errorf("%w: %s", ErrChecksumMismatch, a.Name)
	}
	return data, nil
}

// DeleteExecution removes every artifact object written for an execution
func (s *Store) DeleteExecution(ctx context.Context, id api.ExecutionID) error {
	it := s.bucket.List(&blob.ListOptions{Prefix: s.execPrefix(id)})
	var errs []error
	for {
		obj, err := it.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return err
		}
		err = s.bucket.Delete(ctx, obj.Key)
		if err != nil && gcerrors.Code(err) != gcerrors.NotFound {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Bucket returns the underlying bucket
func (s *Store) Bucket() *blob.Bucket {
	return s.bucket
}

func (s *Store) Close() error {
	return s.bucket.Close()
}

func (s *Store) execPrefix(id api.ExecutionID) string {
	return s.prefix + string(id) + "/"
}

func (s *Store) keyFor(id api.ExecutionID, name string) string {
	return s.execPrefix(id) + name
}

// Checksum returns the hex-encoded SHA-256 of data
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ArtifactID derives a stable ID for a named artifact of an execution, so
// a replayed write produces the same record
func ArtifactID(id api.ExecutionID, name string) api.ArtifactID {
	return api.ArtifactID(
		uuid.NewSHA1(artifactNamespace, []byte(string(id)+"/"+name)).String(),
	)
}
