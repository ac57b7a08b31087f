package minio

import (
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/hupe1980/sigindex/blobstore"
	"github.com/minio/minio-go/v7"
)

// Store implements blobstore.Store and blobstore.Lister for MinIO and
// S3-compatible storage.
type Store struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewStore creates a new MinIO blob store.
// bucket is the MinIO bucket name.
// rootPrefix is prepended to all keys (e.g. "signals/").
func NewStore(client *minio.Client, bucket, rootPrefix string) *Store {
	return &Store{
		client: client,
		bucket: bucket,
		prefix: rootPrefix,
	}
}

func (s *Store) key(h blobstore.Handle) (string, error) {
	name := string(h)
	if name == "" || strings.Contains(name, "/") {
		return "", fmt.Errorf("%w: %q", blobstore.ErrInvalidHandle, name)
	}
	return path.Join(s.prefix, name), nil
}

// Create streams r to a fresh key. The size is unknown, so the client
// switches to multipart uploads once its part buffer fills.
func (s *Store) Create(ctx context.Context, r io.Reader) (blobstore.Handle, error) {
	h := blobstore.Handle(uuid.NewString())
	key, _ := s.key(h)

	_, err := s.client.PutObject(ctx, s.bucket, key, r, -1, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return "", err
	}
	return h, nil
}

// Open opens an existing blob for reading.
func (s *Store) Open(ctx context.Context, h blobstore.Handle) (blobstore.Blob, error) {
	key, err := s.key(h)
	if err != nil {
		return nil, err
	}

	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, mapError(h, err)
	}

	// GetObject is lazy; Stat surfaces a missing key.
	info, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		return nil, mapError(h, err)
	}

	return &minioBlob{Object: obj, size: info.Size}, nil
}

// Exists reports whether the object is present.
func (s *Store) Exists(ctx context.Context, h blobstore.Handle) (bool, error) {
	key, err := s.key(h)
	if err != nil {
		return false, err
	}

	_, err = s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Delete removes a blob.
func (s *Store) Delete(ctx context.Context, h blobstore.Handle) error {
	key, err := s.key(h)
	if err != nil {
		return err
	}

	err = s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
	if err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

// List returns all blobs directly under the store prefix.
func (s *Store) List(ctx context.Context) ([]blobstore.ObjectInfo, error) {
	listPrefix := s.prefix
	if listPrefix != "" && !strings.HasSuffix(listPrefix, "/") {
		listPrefix += "/"
	}

	var infos []blobstore.ObjectInfo
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    listPrefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		name := strings.TrimPrefix(obj.Key, listPrefix)
		if name == "" || strings.Contains(name, "/") {
			continue
		}
		infos = append(infos, blobstore.ObjectInfo{
			Handle:  blobstore.Handle(name),
			Size:    obj.Size,
			Created: obj.LastModified,
		})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Handle < infos[j].Handle })
	return infos, nil
}

func isNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

func mapError(h blobstore.Handle, err error) error {
	if isNotFound(err) {
		return fmt.Errorf("open %s: %w", h, blobstore.ErrNotFound)
	}
	return err
}

// minioBlob implements blobstore.Blob for MinIO.
type minioBlob struct {
	*minio.Object
	size int64
}

func (b *minioBlob) Size() int64 {
	return b.size
}
