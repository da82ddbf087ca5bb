// Package provider opens a blobstore.Store from a URI.
package provider

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/hupe1980/colbench/blobstore"
	"github.com/hupe1980/colbench/blobstore/minio"
	"github.com/hupe1980/colbench/blobstore/s3"
)

// Environment variables read for minio:// URIs.
const (
	EnvMinioEndpoint  = "MINIO_ENDPOINT"
	EnvMinioAccessKey = "MINIO_ACCESS_KEY"
	EnvMinioSecretKey = "MINIO_SECRET_KEY"
)

// Open returns the store named by uri.
//
//	""                          local store over localDirs
//	file:///a,/b                local store over /a and /b
//	mem://                      in-memory store; ?capacity=256MiB
//	minio://bucket/prefix       MinIO; ?endpoint=host:port&secure=true&region=r&part_size=16MiB
//	s3://bucket/prefix          Amazon S3; ?region=r
func Open(ctx context.Context, uri string, localDirs []string) (blobstore.Store, error) {
	if uri == "" {
		return blobstore.NewLocalStore(localDirs), nil
	}

	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("blobstore uri %q: %w", uri, err)
	}

	switch u.Scheme {
	case "file":
		dirs := localDirs
		if p := u.Host + u.Path; p != "" {
			dirs = splitDirs(p)
		}
		return blobstore.NewLocalStore(dirs), nil
	case "mem":
		var opts []blobstore.MemoryOption
		if c := u.Query().Get("capacity"); c != "" {
			n, err := humanize.ParseBytes(c)
			if err != nil {
				return nil, fmt.Errorf("blobstore uri %q: capacity: %w", uri, err)
			}
			opts = append(opts, blobstore.WithCapacity(int64(n)))
		}
		return blobstore.NewMemoryStore(opts...), nil
	case "minio":
		q := u.Query()
		endpoint := q.Get("endpoint")
		if endpoint == "" {
			endpoint = os.Getenv(EnvMinioEndpoint)
		}
		if endpoint == "" {
			endpoint = "localhost:9000"
		}
		secure, _ := strconv.ParseBool(q.Get("secure"))
		var partSize uint64
		if ps := q.Get("part_size"); ps != "" {
			if partSize, err = humanize.ParseBytes(ps); err != nil {
				return nil, fmt.Errorf("blobstore uri %q: part_size: %w", uri, err)
			}
		}

		return minio.Dial(ctx, minio.Config{
			Endpoint:  endpoint,
			AccessKey: os.Getenv(EnvMinioAccessKey),
			SecretKey: os.Getenv(EnvMinioSecretKey),
			Secure:    secure,
			Region:    q.Get("region"),
			PartSize:  partSize,
		}, u.Host, prefix(u))
	case "s3":
		var opts []s3.Option
		if region := u.Query().Get("region"); region != "" {
			opts = append(opts, s3.WithRegion(region))
		}
		return s3.New(ctx, u.Host, prefix(u), opts...)
	default:
		return nil, fmt.Errorf("blobstore uri %q: unsupported scheme %q", uri, u.Scheme)
	}
}

func prefix(u *url.URL) string {
	p := strings.TrimPrefix(u.Path, "/")
	if p != "" && !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

func splitDirs(s string) []string {
	var dirs []string
	for _, d := range strings.Split(s, ",") {
		if d = strings.TrimSpace(d); d != "" {
			dirs = append(dirs, filepath.Clean(d))
		}
	}
	return dirs
}
