package minio

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/hupe1980/sigindex/blobstore"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMinioStore_Integration requires a running MinIO instance.
// Skip if not available.
func TestMinioStore_Integration(t *testing.T) {
	endpoint := "localhost:9000"
	accessKey := "minioadmin"
	secretKey := "minioadmin"
	bucket := "test-sigindex"

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: false,
	})
	if err != nil {
		t.Skipf("MinIO client creation failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Check if MinIO is reachable
	_, err = client.ListBuckets(ctx)
	if err != nil {
		t.Skipf("MinIO not available: %v", err)
	}

	// Ensure bucket exists
	exists, err := client.BucketExists(ctx, bucket)
	require.NoError(t, err)
	if !exists {
		err = client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{})
		require.NoError(t, err)
	}

	store := NewStore(client, bucket, fmt.Sprintf("test-%d/", time.Now().UnixNano()))

	// Create and Open
	data := "hello minio world"
	h, err := store.Create(ctx, strings.NewReader(data))
	require.NoError(t, err)

	blob, err := store.Open(ctx, h)
	require.NoError(t, err)
	require.Equal(t, int64(len(data)), blob.Size())
	got, err := io.ReadAll(blob)
	require.NoError(t, err)
	require.Equal(t, data, string(got))
	require.NoError(t, blob.Close())

	// Exists and List
	ok, err := store.Exists(ctx, h)
	require.NoError(t, err)
	assert.True(t, ok)

	infos, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, h, infos[0].Handle)
	assert.False(t, infos[0].Created.IsZero())

	// Delete
	require.NoError(t, store.Delete(ctx, h))
	require.NoError(t, store.Delete(ctx, h))

	ok, err = store.Exists(ctx, h)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.Open(ctx, h)
	require.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestStore_InvalidHandle(t *testing.T) {
	client, err := minio.New("localhost:9000", &minio.Options{
		Creds: credentials.NewStaticV4("minioadmin", "minioadmin", ""),
	})
	require.NoError(t, err)
	store := NewStore(client, "bucket", "prefix/")

	_, err = store.Open(context.Background(), "")
	assert.ErrorIs(t, err, blobstore.ErrInvalidHandle)
	_, err = store.Exists(context.Background(), "a/b")
	assert.ErrorIs(t, err, blobstore.ErrInvalidHandle)
	assert.ErrorIs(t, store.Delete(context.Background(), "x/y"), blobstore.ErrInvalidHandle)
}
