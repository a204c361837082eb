// Package memory provides in-memory stores for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/JakeFAU/crawl-harvester/internal/crawljob"
)

// ReportStore provides an in-memory ReportStore with the same merge rules as
// the filesystem store.
type ReportStore struct {
	mu      sync.RWMutex
	reports map[string]crawljob.Report
	clock   crawljob.Clock
}

// NewReportStore constructs a ReportStore.
func NewReportStore(clock crawljob.Clock) *ReportStore {
	return &ReportStore{
		reports: make(map[string]crawljob.Report),
		clock:   clock,
	}
}

// Upsert merges patch into the stored report, creating it in scraping state if absent.
func (s *ReportStore) Upsert(_ context.Context, id string, patch crawljob.Patch) (crawljob.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := crawljob.NewTimestamp(s.clock.Now())
	report, ok := s.reports[id]
	if !ok {
		report = crawljob.Report{ID: id, Status: crawljob.StatusScraping, CreatedAt: now}
	}
	patch.Apply(&report)
	report.ID = id
	report.UpdatedAt = now
	s.reports[id] = report
	return cloneReport(report), nil
}

// Get fetches a report by id.
func (s *ReportStore) Get(_ context.Context, id string) (crawljob.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	report, ok := s.reports[id]
	if !ok {
		return crawljob.Report{}, crawljob.ErrReportNotFound
	}
	return cloneReport(report), nil
}

// ListIDs returns every stored id in lexical order.
func (s *ReportStore) ListIDs(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.reports))
	for id := range s.reports {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func cloneReport(r crawljob.Report) crawljob.Report {
	if r.Params != nil {
		p := r.Params.Clone()
		r.Params = &p
	}
	return r
}
