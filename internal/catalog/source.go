package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/mohammed-shakir/biq-mapview/internal/core/observability"
)

// Source yields the raw bytes of the published candidate dataset.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
	String() string
}

type SourceOptions struct {
	HTTPClient *http.Client
	S3         *minio.Client
}

// NewSource picks a Source by location scheme: http(s)://, s3://bucket/key,
// file:// or a bare filesystem path.
func NewSource(loc string, opts SourceOptions) (Source, error) {
	loc = strings.TrimSpace(loc)
	if loc == "" {
		return nil, errors.New("candidate source is required")
	}
	u, err := url.Parse(loc)
	if err != nil {
		return nil, fmt.Errorf("parse candidate source: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		c := opts.HTTPClient
		if c == nil {
			c = http.DefaultClient
		}
		return &HTTPSource{url: loc, client: c}, nil
	case "s3":
		if opts.S3 == nil {
			return nil, fmt.Errorf("candidate source %q needs an s3 endpoint (MINIO_ENDPOINT)", loc)
		}
		key := strings.TrimPrefix(u.Path, "/")
		if u.Host == "" || key == "" {
			return nil, fmt.Errorf("s3 source %q must be s3://bucket/key", loc)
		}
		return &S3Source{client: opts.S3, bucket: u.Host, key: key}, nil
	case "file":
		return FileSource(u.Path), nil
	case "":
		return FileSource(loc), nil
	default:
		return nil, fmt.Errorf("unsupported candidate source scheme %q", u.Scheme)
	}
}

type HTTPSource struct {
	url    string
	client *http.Client
}

func (s *HTTPSource) Open(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/geo+json, application/json")

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch candidates: %w", err)
	}
	observability.ObserveUpstreamLatency("candidates", time.Since(start).Seconds())
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("candidates status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return resp.Body, nil
}

func (s *HTTPSource) String() string { return s.url }

type FileSource string

func (s FileSource) Open(_ context.Context) (io.ReadCloser, error) {
	f, err := os.Open(string(s))
	if err != nil {
		return nil, fmt.Errorf("open candidates: %w", err)
	}
	return f, nil
}

func (s FileSource) String() string { return "file://" + string(s) }

type S3Source struct {
	client *minio.Client
	bucket string
	key    string
}

func (s *S3Source) Open(ctx context.Context) (io.ReadCloser, error) {
	start := time.Now()
	obj, err := s.client.GetObject(ctx, s.bucket, s.key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s/%s: %w", s.bucket, s.key, err)
	}
	// GetObject is lazy; Stat surfaces missing objects before parsing.
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, fmt.Errorf("stat object %s/%s: %w", s.bucket, s.key, err)
	}
	observability.ObserveUpstreamLatency("candidates_s3", time.Since(start).Seconds())
	return obj, nil
}

func (s *S3Source) String() string { return "s3://" + s.bucket + "/" + s.key }

// NewS3Client connects to an S3-compatible endpoint.
func NewS3Client(endpoint, accessKey, secretKey string, useSSL bool) (*minio.Client, error) {
	if endpoint == "" {
		return nil, errors.New("s3 endpoint is required")
	}
	c, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return c, nil
}
