package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// GCSConfig carries the object coordinates for cloud-hosted snapshots.
type GCSConfig struct {
	Bucket string
	Object string
}

// GCSStore keeps the snapshot in a Cloud Storage object for deployments
// without a persistent disk. Object writes are atomic on the service side,
// which gives the same crash safety as the temp-file rename.
type GCSStore struct {
	client *storage.Client
	bucket string
	object string
}

// NewGCSStore wraps an existing client. The caller owns the client lifecycle.
func NewGCSStore(client *storage.Client, cfg GCSConfig) (*GCSStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	object := cfg.Object
	if object == "" {
		object = "pulseboard_state.json"
	}
	return &GCSStore{client: client, bucket: cfg.Bucket, object: object}, nil
}

// Persist uploads the envelope, replacing the previous object generation.
func (s *GCSStore) Persist(ctx context.Context, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	w := s.client.Bucket(s.bucket).Object(s.object).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		if closeErr := w.Close(); closeErr != nil {
			return fmt.Errorf("write snapshot object: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("write snapshot object: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close snapshot writer: %w", err)
	}
	return nil
}

// Load downloads the last envelope, mapping a missing object to ErrNotFound.
func (s *GCSStore) Load(ctx context.Context) (Snapshot, error) {
	r, err := s.client.Bucket(s.bucket).Object(s.object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return Snapshot{}, ErrNotFound
		}
		return Snapshot{}, fmt.Errorf("open snapshot object: %w", err)
	}
	data, err := io.ReadAll(r)
	if closeErr := r.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot object: %w", err)
	}
	return decodeSnapshot(data)
}
