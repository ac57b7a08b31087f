// Package minio stores index blobs in an S3-compatible bucket through the
// MinIO client. It works against MinIO, Ceph, SeaweedFS or Garage and needs
// no AWS SDK.
//
//	client, err := minio.New("localhost:9000", &minio.Options{
//	    Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
//	    Secure: true,
//	})
//	if err != nil {
//	    return err
//	}
//	store := minioblob.NewStore(client, "indexes", "signals/")
//
// Each blob is one object named prefix + a random UUID. Uploads stream
// with an unknown size, so staged indexes are never buffered in memory.
// List reports the object's LastModified as the creation time, which
// reconciliation uses to leave in-flight commits alone.
package minio
