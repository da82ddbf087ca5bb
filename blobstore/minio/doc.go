// Package minio stores spills on MinIO and other S3-compatible servers
// (Ceph, Garage, SeaweedFS) through the MinIO Go client.
//
//	store, err := minio.Dial(ctx, minio.Config{
//	    Endpoint:  "localhost:9000",
//	    AccessKey: "minioadmin",
//	    SecretKey: "minioadmin",
//	}, "spill", "run-1/")
//
// Spills stream into multipart uploads of Config.PartSize; reads are ranged GETs.
package minio
