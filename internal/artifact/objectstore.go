package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
)

const (
	metaName     = "name"
	metaMIMEType = "mime-type"
)

// ObjectStore is a Store backed by a NATS JetStream object store bucket.
type ObjectStore struct {
	bucket jetstream.ObjectStore
}

// NewObjectStore wraps an already bound object store bucket.
func NewObjectStore(bucket jetstream.ObjectStore) *ObjectStore {
	return &ObjectStore{bucket: bucket}
}

// EnsureObjectStore creates the bucket if needed and binds to it.
func EnsureObjectStore(
	ctx context.Context,
	jetStream jetstream.JetStream,
	bucket string,
) (*ObjectStore, error) {
	_, createErr := jetStream.CreateObjectStore(ctx, *newObjectStoreConfig(bucket))
	if createErr != nil && !errors.Is(createErr, jetstream.ErrBucketExists) {
		return nil, fmt.Errorf("failed to create object store '%s': %w", bucket, createErr)
	}

	store, bindErr := jetStream.ObjectStore(ctx, bucket)
	if bindErr != nil {
		return nil, fmt.Errorf("failed to bind to object store '%s': %w", bucket, bindErr)
	}

	return NewObjectStore(store), nil
}

func newObjectStoreConfig(bucket string) *jetstream.ObjectStoreConfig {
	return &jetstream.ObjectStoreConfig{
		Bucket:      bucket,
		Description: "fileconv output artifacts",
		TTL:         0,
		MaxBytes:    -1,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Placement:   nil,
		Compression: false,
		Metadata:    nil,
	}
}

// Put implements Store.
func (store *ObjectStore) Put(ctx context.Context, name, mimeType string, data []byte) (Ref, error) {
	ref := newRef(name, mimeType, len(data))

	meta := jetstream.ObjectMeta{
		Name:        ref.ID,
		Description: name,
		Headers:     nil,
		Metadata: map[string]string{
			metaName:     name,
			metaMIMEType: mimeType,
		},
	}

	_, putErr := store.bucket.Put(ctx, meta, bytes.NewReader(data))
	if putErr != nil {
		return Ref{}, fmt.Errorf("failed to put artifact in object store: %w", putErr)
	}

	return ref, nil
}

// Get implements Store.
func (store *ObjectStore) Get(ctx context.Context, id string) (Artifact, error) {
	info, infoErr := store.bucket.GetInfo(ctx, id)
	if infoErr != nil {
		return Artifact{}, translateObjectErr(id, infoErr)
	}

	data, getErr := store.bucket.GetBytes(ctx, id)
	if getErr != nil {
		return Artifact{}, translateObjectErr(id, getErr)
	}

	return Artifact{
		ID:       id,
		Name:     info.Metadata[metaName],
		MIMEType: info.Metadata[metaMIMEType],
		Data:     data,
	}, nil
}

// Revoke implements Store. Revoking an unknown ID is not an error.
func (store *ObjectStore) Revoke(ctx context.Context, id string) error {
	deleteErr := store.bucket.Delete(ctx, id)
	if deleteErr != nil && !errors.Is(deleteErr, jetstream.ErrObjectNotFound) {
		return fmt.Errorf("failed to delete artifact '%s': %w", id, deleteErr)
	}

	return nil
}

func translateObjectErr(id string, err error) error {
	if errors.Is(err, jetstream.ErrObjectNotFound) {
		return ErrNotFound
	}

	return fmt.Errorf("failed to get artifact '%s' from object store: %w", id, err)
}
