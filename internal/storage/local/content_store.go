package local

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Config captures the parameters for the local content store.
type Config struct {
	// BaseDir is the root directory holding one sub-directory per job.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// ContentStore writes per-job artifacts to the local filesystem.
type ContentStore struct {
	baseDir string
}

// NewContentStore creates a content store rooted at cfg.BaseDir.
func NewContentStore(cfg Config) (*ContentStore, error) {
	if err := ensureDir(cfg.BaseDir); err != nil {
		return nil, err
	}
	return &ContentStore{baseDir: cfg.BaseDir}, nil
}

// Put writes data to <base>/<jobID>/<name>, replacing any previous artifact.
func (s *ContentStore) Put(ctx context.Context, jobID, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context canceled: %w", err)
	}
	path, err := s.artifactPath(jobID, name)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(path, data); err != nil {
		return fmt.Errorf("write artifact %s: %w", path, err)
	}
	return nil
}

// Get reads one artifact back.
func (s *ContentStore) Get(ctx context.Context, jobID, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context canceled: %w", err)
	}
	path, err := s.artifactPath(jobID, name)
	if err != nil {
		return nil, err
	}
	// #nosec G304 -- path is confined to the content directory by artifactPath.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", path, err)
	}
	return data, nil
}

// List returns the artifact names under jobID ending with suffix. A job with
// no content directory yields an empty list.
func (s *ContentStore) List(ctx context.Context, jobID, suffix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context canceled: %w", err)
	}
	dir, err := within(s.baseDir, jobID)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("list artifacts for %s: %w", jobID, err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, suffix) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *ContentStore) artifactPath(jobID, name string) (string, error) {
	if strings.TrimSpace(jobID) == "" || strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("job id and artifact name are required")
	}
	if strings.ContainsAny(name, `/\`) || strings.ContainsAny(jobID, `/\`) {
		return "", fmt.Errorf("path traversal detected")
	}
	return within(s.baseDir, jobID, name)
}
