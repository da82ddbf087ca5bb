// Package s3 stores shuffle spills in Amazon S3.
//
//	store, err := s3.New(ctx, "my-bucket", "spill/", s3.WithRegion("us-east-1"))
//
// Spills stream through a multipart upload and are tagged with SpillTag, so
// a lifecycle rule on that tag can expire objects left behind by a killed
// run. The final merge reads them back with ranged GETs.
package s3
