package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/JakeFAU/crawl-harvester/internal/crawljob"
)

const reportExt = ".json"

// ReportStore keeps one JSON document per job id under a directory.
type ReportStore struct {
	dir   string
	clock crawljob.Clock
}

// NewReportStore creates the reports directory if needed.
func NewReportStore(dir string, clock crawljob.Clock) (*ReportStore, error) {
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if err := ensureDir(dir); err != nil {
		return nil, err
	}
	return &ReportStore{dir: dir, clock: clock}, nil
}

// Upsert loads the report for id (or starts a fresh one in scraping state),
// applies patch, restamps updated_at and atomically rewrites the file.
func (s *ReportStore) Upsert(ctx context.Context, id string, patch crawljob.Patch) (crawljob.Report, error) {
	if err := ctx.Err(); err != nil {
		return crawljob.Report{}, fmt.Errorf("context canceled: %w", err)
	}
	path, err := s.path(id)
	if err != nil {
		return crawljob.Report{}, err
	}
	now := crawljob.NewTimestamp(s.clock.Now())

	report, err := s.read(path)
	switch {
	case errors.Is(err, crawljob.ErrReportNotFound):
		report = crawljob.Report{ID: id, Status: crawljob.StatusScraping, CreatedAt: now}
	case err != nil:
		return crawljob.Report{}, err
	}

	patch.Apply(&report)
	report.ID = id
	report.UpdatedAt = now

	payload, err := prettyJSON(report)
	if err != nil {
		return crawljob.Report{}, fmt.Errorf("marshal report %s: %w", id, err)
	}
	if err := writeFileAtomic(path, payload); err != nil {
		return crawljob.Report{}, fmt.Errorf("write report %s: %w", id, err)
	}
	return report, nil
}

// Get reads the report for id.
func (s *ReportStore) Get(ctx context.Context, id string) (crawljob.Report, error) {
	if err := ctx.Err(); err != nil {
		return crawljob.Report{}, fmt.Errorf("context canceled: %w", err)
	}
	path, err := s.path(id)
	if err != nil {
		return crawljob.Report{}, err
	}
	return s.read(path)
}

// ListIDs returns the ids of all stored reports in lexical order.
func (s *ReportStore) ListIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context canceled: %w", err)
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, reportExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, reportExt))
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *ReportStore) path(id string) (string, error) {
	if strings.TrimSpace(id) == "" || strings.ContainsAny(id, `/\`) || strings.HasPrefix(id, ".") {
		return "", fmt.Errorf("%w: invalid report id %q", crawljob.ErrMalformedInput, id)
	}
	return within(s.dir, id+reportExt)
}

func (s *ReportStore) read(path string) (crawljob.Report, error) {
	// #nosec G304 -- path is built from a validated id under the reports dir.
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return crawljob.Report{}, crawljob.ErrReportNotFound
		}
		return crawljob.Report{}, fmt.Errorf("read report %s: %w", path, err)
	}
	var report crawljob.Report
	if err := json.Unmarshal(data, &report); err != nil {
		return crawljob.Report{}, fmt.Errorf("decode report %s: %w", path, err)
	}
	return report, nil
}
