package s3

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// SpillTag marks spill objects so a bucket lifecycle rule can expire the
// ones a crashed run never deleted.
const SpillTag = "colbench-spill=true"

// UploadConfig configures spill uploads.
type UploadConfig struct {
	// PartSize is the multipart part size; each in-flight part is buffered
	// in memory outside the pipeline budget.
	// If 0, the SDK default (5 MiB).
	PartSize int64

	// Concurrency is the number of parts uploaded at once.
	// If 0, the SDK default.
	Concurrency int

	// EnableChecksum adds CRC32C integrity checks.
	EnableChecksum bool

	// Tagging is the URL-encoded object tag set. Empty disables tagging.
	Tagging string
}

// DefaultUploadConfig keeps at most two 8 MiB parts in flight per spill.
func DefaultUploadConfig() UploadConfig {
	return UploadConfig{
		PartSize:       8 << 20,
		Concurrency:    2,
		EnableChecksum: true,
		Tagging:        SpillTag,
	}
}

func newUploader(client Client, cfg UploadConfig) *manager.Uploader {
	return manager.NewUploader(client, func(u *manager.Uploader) {
		if cfg.PartSize > 0 {
			u.PartSize = cfg.PartSize
		}
		if cfg.Concurrency > 0 {
			u.Concurrency = cfg.Concurrency
		}
	})
}

func (s *Store) putInput(name string, body io.Reader) *s3.PutObjectInput {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
		Body:   body,
	}
	if s.upload.EnableChecksum {
		input.ChecksumAlgorithm = types.ChecksumAlgorithmCrc32c
	}
	if s.upload.Tagging != "" {
		input.Tagging = aws.String(s.upload.Tagging)
	}
	return input
}

var errUploadAborted = errors.New("s3: spill upload aborted")

// upload pipes writes into a background multipart upload. The object
// exists once Close returns nil.
type upload struct {
	pw   *io.PipeWriter
	done chan error

	mu     sync.Mutex
	closed bool
	err    error
}

func startUpload(ctx context.Context, uploader *manager.Uploader, input *s3.PutObjectInput) *upload {
	pr, pw := io.Pipe()
	input.Body = pr

	u := &upload{pw: pw, done: make(chan error, 1)}
	go func() {
		// The uploader aborts the multipart upload itself when the body fails.
		_, err := uploader.Upload(ctx, input)
		_ = pr.CloseWithError(err)
		u.done <- err
	}()
	return u
}

func (u *upload) Write(p []byte) (int, error) {
	u.mu.Lock()
	closed := u.closed
	u.mu.Unlock()
	if closed {
		return 0, io.ErrClosedPipe
	}
	return u.pw.Write(p)
}

func (u *upload) Sync() error { return nil }

func (u *upload) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.closed {
		return u.err
	}
	u.closed = true
	if u.err = u.pw.Close(); u.err != nil {
		return u.err
	}
	u.err = <-u.done
	return u.err
}

// Abort fails the pending upload so no object is committed.
func (u *upload) Abort() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.closed {
		return nil
	}
	u.closed = true
	_ = u.pw.CloseWithError(errUploadAborted)
	<-u.done
	u.err = errUploadAborted
	return nil
}
