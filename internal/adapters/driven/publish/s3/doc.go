// Package s3 provides a DocumentStore backed by an S3-compatible bucket
// (AWS S3, MinIO) through minio-go.
//
// Uploads go to "<key>.staging", are checked by size and ETag, then copied
// over the final key, so readers never see a partial document.
package s3
