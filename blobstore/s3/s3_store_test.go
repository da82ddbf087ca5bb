package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/colbench/blobstore"
)

// TestIntegration_SpillRoundTrip needs S3_BUCKET and AWS credentials.
func TestIntegration_SpillRoundTrip(t *testing.T) {
	bucket := os.Getenv("S3_BUCKET")
	if bucket == "" {
		t.Skip("S3_BUCKET not set")
	}

	ctx := context.Background()
	store, err := New(ctx, bucket, fmt.Sprintf("colbench-it/%d/", time.Now().UnixNano()))
	require.NoError(t, err)

	// Larger than one part, so the upload goes multipart.
	block := bytes.Repeat([]byte("partition-block|"), (9<<20)/16)

	w, err := store.Create(ctx, "shuffle-p0-0")
	require.NoError(t, err)
	_, err = w.Write(block)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	names, err := store.List(ctx, "shuffle-")
	require.NoError(t, err)
	assert.Equal(t, []string{"shuffle-p0-0"}, names)

	b, err := store.Open(ctx, "shuffle-p0-0")
	require.NoError(t, err)
	assert.Equal(t, int64(len(block)), b.Size())

	rc, err := b.ReadRange(ctx, 16, 15)
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "partition-block", string(got))

	require.NoError(t, store.Delete(ctx, "shuffle-p0-0"))
	_, err = store.Open(ctx, "shuffle-p0-0")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}
