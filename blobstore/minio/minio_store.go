package minio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"slices"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hupe1980/colbench/blobstore"
)

// DefaultPartSize is the multipart chunk used for streamed spills. The
// client would otherwise size parts for a 5 TiB object when the length is
// unknown and buffer hundreds of MiB per upload.
const DefaultPartSize = 16 << 20

const spillContentType = "application/octet-stream"

// ErrAborted is the error seen by an upload canceled through Abort.
var ErrAborted = errors.New("minio: spill upload aborted")

// Config describes a MinIO endpoint.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Secure    bool
	Region    string

	// PartSize is the multipart chunk size for streamed spills.
	// If 0, DefaultPartSize.
	PartSize uint64
}

// Store keeps spill blobs under a prefix of one bucket.
type Store struct {
	client   *minio.Client
	bucket   string
	prefix   string
	partSize uint64
}

var _ blobstore.Store = (*Store)(nil)

// NewStore wraps an existing client. rootPrefix is prepended to every key.
func NewStore(client *minio.Client, bucket, rootPrefix string, partSize uint64) *Store {
	if partSize == 0 {
		partSize = DefaultPartSize
	}
	return &Store{
		client:   client,
		bucket:   bucket,
		prefix:   rootPrefix,
		partSize: partSize,
	}
}

// Dial connects to cfg.Endpoint and returns a store on bucket, creating the
// bucket when it does not exist.
func Dial(ctx context.Context, cfg Config, bucket, rootPrefix string) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio: new client: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("minio: bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("minio: make bucket %s: %w", bucket, err)
		}
	}

	return NewStore(client, bucket, rootPrefix, cfg.PartSize), nil
}

// Key returns the object key of a spill blob.
func (s *Store) Key(name string) string {
	return path.Join(s.prefix, name)
}

// Name is the inverse of Key. Keys outside the prefix yield "".
func (s *Store) Name(key string) string {
	rel, ok := strings.CutPrefix(key, s.prefix)
	if !ok {
		return ""
	}
	return strings.TrimPrefix(rel, "/")
}

func (s *Store) putOptions() minio.PutObjectOptions {
	return minio.PutObjectOptions{
		ContentType: spillContentType,
		PartSize:    s.partSize,
	}
}

func isNotFound(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound":
		return true
	}
	return false
}

func (s *Store) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	key := s.Key(name)

	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("minio://%s/%s: %w", s.bucket, key, blobstore.ErrNotFound)
		}
		return nil, err
	}
	return &spillObject{store: s, key: key, size: info.Size}, nil
}

func (s *Store) Put(ctx context.Context, name string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.Key(name), bytes.NewReader(data), int64(len(data)), s.putOptions())
	return err
}

// Create streams the blob through a pipe into a multipart upload. The
// object exists once Close returns without error.
func (s *Store) Create(ctx context.Context, name string) (blobstore.WritableBlob, error) {
	pr, pw := io.Pipe()
	up := &upload{pw: pw, done: make(chan error, 1)}

	go func() {
		_, err := s.client.PutObject(ctx, s.bucket, s.Key(name), pr, -1, s.putOptions())
		_ = pr.CloseWithError(err)
		up.done <- err
	}()

	return up, nil
}

func (s *Store) Delete(ctx context.Context, name string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, s.Key(name), minio.RemoveObjectOptions{}); err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    s.Key(prefix),
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		if name := s.Name(obj.Key); name != "" {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names, nil
}

type spillObject struct {
	store *Store
	key   string
	size  int64
}

func (o *spillObject) Size() int64  { return o.size }
func (o *spillObject) Close() error { return nil }

// ReadRange issues a single ranged GET.
func (o *spillObject) ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error) {
	if off > o.size {
		return nil, io.EOF
	}
	end := min(off+length, o.size) - 1
	if end < off {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}

	opts := minio.GetObjectOptions{}
	if err := opts.SetRange(off, end); err != nil {
		return nil, err
	}
	return o.store.client.GetObject(ctx, o.store.bucket, o.key, opts)
}

func (o *spillObject) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if off >= o.size {
		return 0, io.EOF
	}
	want := min(int64(len(p)), o.size-off)
	if want == 0 {
		return 0, nil
	}

	rc, err := o.ReadRange(ctx, off, want)
	if err != nil {
		return 0, err
	}
	defer func() { _ = rc.Close() }()

	n, err := io.ReadFull(rc, p[:want])
	if err == nil && n < len(p) {
		err = io.EOF
	}
	return n, err
}

type upload struct {
	pw   *io.PipeWriter
	done chan error
	once sync.Once
	err  error
}

func (u *upload) Write(p []byte) (int, error) { return u.pw.Write(p) }
func (u *upload) Sync() error                 { return nil }

func (u *upload) Close() error {
	closed := false
	u.once.Do(func() {
		closed = true
		if err := u.pw.Close(); err != nil {
			u.err = err
			return
		}
		u.err = <-u.done
	})
	if !closed {
		return errors.New("minio: blob already closed")
	}
	return u.err
}

// Abort fails the pending upload so no object is created.
func (u *upload) Abort() error {
	u.once.Do(func() {
		_ = u.pw.CloseWithError(ErrAborted)
		<-u.done
	})
	return nil
}
