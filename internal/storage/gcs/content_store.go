// Package gcs provides a ContentStore backed by Google Cloud Storage.
package gcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// Config captures the parameters required to write artifacts to GCS.
type Config struct {
	Bucket string
	// Prefix is prepended to every object name, e.g. "content".
	Prefix string
}

// ContentStore writes per-job artifacts to a configured GCS bucket as
// <prefix>/<jobID>/<name>.
type ContentStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a GCS-backed content store.
func New(client *storage.Client, cfg Config) (*ContentStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &ContentStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// Put uploads data, replacing any previous object of the same name.
func (s *ContentStore) Put(ctx context.Context, jobID, name string, data []byte) error {
	key, err := s.objectName(jobID, name)
	if err != nil {
		return err
	}
	writer := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	// Artifacts are small; a single multipart request is enough.
	writer.ChunkSize = 0
	writer.ContentType = contentType(name)
	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer for gs://%s/%s: %w", s.bucket, key, err)
	}
	return nil
}

// Get downloads one artifact.
func (s *ContentStore) Get(ctx context.Context, jobID, name string) ([]byte, error) {
	key, err := s.objectName(jobID, name)
	if err != nil {
		return nil, err
	}
	reader, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("open gs://%s/%s: %w", s.bucket, key, err)
	}
	defer func() { _ = reader.Close() }()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read gs://%s/%s: %w", s.bucket, key, err)
	}
	return data, nil
}

// List returns the artifact names under jobID ending with suffix.
func (s *ContentStore) List(ctx context.Context, jobID, suffix string) ([]string, error) {
	dir, err := s.jobPrefix(jobID)
	if err != nil {
		return nil, err
	}
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: dir})
	names := []string{}
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list gs://%s/%s: %w", s.bucket, dir, err)
		}
		name := strings.TrimPrefix(attrs.Name, dir)
		if name == "" || strings.Contains(name, "/") || !strings.HasSuffix(name, suffix) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *ContentStore) jobPrefix(jobID string) (string, error) {
	if strings.TrimSpace(jobID) == "" || strings.Contains(jobID, "/") || jobID == "." || jobID == ".." {
		return "", fmt.Errorf("invalid job id %q", jobID)
	}
	if s.prefix == "" {
		return jobID + "/", nil
	}
	return path.Join(s.prefix, jobID) + "/", nil
}

func (s *ContentStore) objectName(jobID, name string) (string, error) {
	dir, err := s.jobPrefix(jobID)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(name) == "" || strings.Contains(name, "/") {
		return "", fmt.Errorf("invalid artifact name %q", name)
	}
	return dir + name, nil
}

func contentType(name string) string {
	switch path.Ext(name) {
	case ".md":
		return "text/markdown; charset=utf-8"
	case ".json":
		return "application/json"
	case ".html":
		return "text/html; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}
