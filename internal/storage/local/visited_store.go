package local

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/JakeFAU/crawl-harvester/internal/crawljob"
)

// VisitedStore keeps one JSON list of relative paths per normalized base URL.
type VisitedStore struct {
	dir string
}

// NewVisitedStore creates the snapshot directory if needed.
func NewVisitedStore(dir string) (*VisitedStore, error) {
	if err := ensureDir(dir); err != nil {
		return nil, err
	}
	return &VisitedStore{dir: dir}, nil
}

// Load returns the snapshot for baseURL, or nil when none was collected yet.
func (s *VisitedStore) Load(ctx context.Context, baseURL string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context canceled: %w", err)
	}
	path, err := within(s.dir, crawljob.SnapshotName(baseURL))
	if err != nil {
		return nil, err
	}
	// #nosec G304 -- snapshot names never contain path separators.
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read visited pages %s: %w", path, err)
	}
	var paths []string
	if err := json.Unmarshal(data, &paths); err != nil {
		return nil, fmt.Errorf("decode visited pages %s: %w", path, err)
	}
	return paths, nil
}

// Save replaces the snapshot for baseURL.
func (s *VisitedStore) Save(ctx context.Context, baseURL string, paths []string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context canceled: %w", err)
	}
	path, err := within(s.dir, crawljob.SnapshotName(baseURL))
	if err != nil {
		return err
	}
	if paths == nil {
		paths = []string{}
	}
	payload, err := prettyJSON(paths)
	if err != nil {
		return fmt.Errorf("marshal visited pages: %w", err)
	}
	if err := writeFileAtomic(path, payload); err != nil {
		return fmt.Errorf("write visited pages %s: %w", path, err)
	}
	return nil
}
