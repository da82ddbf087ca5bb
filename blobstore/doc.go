// Package blobstore provides the storage abstraction for shuffle spill files.
//
// A spill writes a compressed run of partition data into a blob; the final
// merge reads every run back in order. Stores must be safe for concurrent use
// because pipelines of one benchmark run share them.
//
// # Built-in Implementations
//
//   - LocalStore: one or more local directories with round-robin placement
//   - MemoryStore: in-process store for tests and the mem:// URI
//   - minio.Store: MinIO and other S3-compatible servers
//   - s3.Store: Amazon S3 with multipart streaming uploads
//
// The provider package selects an implementation from a URI such as
// file:///tmp/spill, mem://, minio://bucket/prefix or s3://bucket/prefix.
//
//	type Store interface {
//	    Open(ctx, name) (Blob, error)
//	    Create(ctx, name) (WritableBlob, error)
//	    Put(ctx, name, data) error
//	    Delete(ctx, name) error
//	    List(ctx, prefix) ([]string, error)
//	}
package blobstore
