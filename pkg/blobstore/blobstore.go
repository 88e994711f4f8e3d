// Package blobstore defines the content-addressed byte storage contract the
// ingestion coordinator writes raw and extracted content through. Concrete
// production backends (S3, GCS, a distributed object store) live behind
// the BlobStore interface; this package ships the contract plus a
// local-disk reference implementation suitable for single-node deployments
// and tests.
package blobstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// BlobStore stores and retrieves opaque byte payloads addressed by an
// opaque storage URL it assigns at Put time.
type BlobStore interface {
	// Put stores data under the namespace-scoped key (the content's
	// file_name, unique by construction) and returns the storage URL the coordinator should persist in
	// ContentMetadata. Put is idempotent on (namespace, key): writing the
	// same key twice overwrites with identical bytes on a correct retry,
	// never allocates a second blob.
	Put(ctx context.Context, namespace, key string, data io.Reader) (url string, sizeBytes uint64, err error)
	// Get retrieves the bytes previously stored at url.
	Get(ctx context.Context, url string) (io.ReadCloser, error)
	// Delete removes the bytes at url. Deleting a missing url is not an
	// error: garbage collection may run twice against the same content.
	Delete(ctx context.Context, url string) error
}

// LocalDiskStore is a BlobStore backed by a directory on local disk, one
// file per namespace-scoped key so that retries of the same (namespace,
// key) reuse the same path instead of allocating a new blob.
type LocalDiskStore struct {
	root string
}

// NewLocalDiskStore creates (if necessary) root and returns a BlobStore
// rooted there.
func NewLocalDiskStore(root string) (*LocalDiskStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob root: %w", err)
	}
	return &LocalDiskStore{root: root}, nil
}

func (s *LocalDiskStore) Put(ctx context.Context, namespace, key string, data io.Reader) (string, uint64, error) {
	dir := filepath.Join(s.root, namespace)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("failed to create namespace directory: %w", err)
	}
	path := filepath.Join(dir, key)

	f, err := os.Create(path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create blob file: %w", err)
	}
	defer f.Close()

	n, err := io.Copy(f, data)
	if err != nil {
		return "", 0, fmt.Errorf("failed to write blob: %w", err)
	}

	return "file://" + path, uint64(n), nil
}

func (s *LocalDiskStore) Get(ctx context.Context, url string) (io.ReadCloser, error) {
	path, err := pathFromURL(url)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open blob: %w", err)
	}
	return f, nil
}

func (s *LocalDiskStore) Delete(ctx context.Context, url string) error {
	path, err := pathFromURL(url)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

func pathFromURL(url string) (string, error) {
	const prefix = "file://"
	if len(url) <= len(prefix) || url[:len(prefix)] != prefix {
		return "", fmt.Errorf("not a local blob url: %s", url)
	}
	return url[len(prefix):], nil
}
