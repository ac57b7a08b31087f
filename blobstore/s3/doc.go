// Package s3 provides an Amazon S3 implementation of blobstore.Store.
//
// # Usage
//
//	cfg, err := config.LoadDefaultConfig(ctx)
//	client := s3.NewFromConfig(cfg)
//
//	store := s3store.NewStore(client, "my-bucket", "signals/",
//	    s3store.WithUploadConfig(s3store.DefaultUploadConfig()),
//	)
//
// # Features
//
//   - Multipart uploads for large indexes
//   - CRC32C integrity validation on upload
//   - Automatic pagination for listing
//   - Configurable prefix for multi-tenant isolation
//
// Handles are random UUIDs; the object key is prefix + handle.
package s3
