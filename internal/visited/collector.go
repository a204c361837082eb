// Package visited derives the set of pages already downloaded for a site from
// its completed jobs and persists it for the next submission.
package visited

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-harvester/internal/crawljob"
	"github.com/JakeFAU/crawl-harvester/internal/downloader"
)

// Collector rebuilds visited-page snapshots.
type Collector struct {
	reports crawljob.ReportStore
	content crawljob.ContentStore
	store   crawljob.VisitedStore
	logger  *zap.Logger
}

// NewCollector wires a Collector.
func NewCollector(
	reports crawljob.ReportStore,
	content crawljob.ContentStore,
	store crawljob.VisitedStore,
	logger *zap.Logger,
) (*Collector, error) {
	if reports == nil || content == nil || store == nil {
		return nil, errors.New("report, content and visited stores are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{reports: reports, content: content, store: store, logger: logger.Named("visited")}, nil
}

// Collect unions the relative paths of every item downloaded by completed jobs
// for baseURL, replaces the stored snapshot with the sorted result and
// returns its size.
func (c *Collector) Collect(ctx context.Context, baseURL string) (int, error) {
	crawlURL, err := crawljob.NormalizeURL(baseURL)
	if err != nil {
		return 0, err
	}
	ids, err := c.reports.ListIDs(ctx)
	if err != nil {
		return 0, err
	}

	seen := make(map[string]struct{})
	jobs := 0
	for _, id := range ids {
		report, err := c.reports.Get(ctx, id)
		if err != nil {
			return 0, fmt.Errorf("load report %s: %w", id, err)
		}
		if report.CrawlURL != crawlURL || report.Status != crawljob.StatusCompleted {
			continue
		}
		jobs++
		if err := c.collectJob(ctx, crawlURL, id, seen); err != nil {
			return 0, err
		}
	}

	paths := make([]string, 0, len(seen))
	for p := range seen {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	if err := c.store.Save(ctx, crawlURL, paths); err != nil {
		return 0, fmt.Errorf("save visited pages for %s: %w", crawlURL, err)
	}
	c.logger.Info("visited pages collected",
		zap.String("url", crawlURL),
		zap.Int("jobs", jobs),
		zap.Int("pages", len(paths)),
	)
	return len(paths), nil
}

// Snapshot returns the persisted snapshot for baseURL.
func (c *Collector) Snapshot(ctx context.Context, baseURL string) ([]string, error) {
	crawlURL, err := crawljob.NormalizeURL(baseURL)
	if err != nil {
		return nil, err
	}
	paths, err := c.store.Load(ctx, crawlURL)
	if err != nil {
		return nil, err
	}
	if paths == nil {
		paths = []string{}
	}
	return paths, nil
}

func (c *Collector) collectJob(ctx context.Context, crawlURL, jobID string, seen map[string]struct{}) error {
	names, err := c.content.List(ctx, jobID, downloader.MetadataExt)
	if err != nil {
		return fmt.Errorf("list content for %s: %w", jobID, err)
	}
	for _, name := range names {
		raw, err := c.content.Get(ctx, jobID, name)
		if err != nil {
			return fmt.Errorf("read %s/%s: %w", jobID, name, err)
		}
		var meta struct {
			URL string `json:"url"`
		}
		if err := json.Unmarshal(raw, &meta); err != nil {
			c.logger.Warn("skipping unreadable metadata", zap.String("job_id", jobID), zap.String("name", name), zap.Error(err))
			continue
		}
		rel, ok := relative(crawlURL, meta.URL)
		if !ok {
			c.logger.Debug("metadata url outside site", zap.String("job_id", jobID), zap.String("url", meta.URL))
			continue
		}
		seen[rel] = struct{}{}
	}
	return nil
}

// relative strips crawlURL and the following separator from pageURL. The
// site root has no relative path and is not reported: an empty exclusion
// pattern would match every page of the next crawl.
func relative(crawlURL, pageURL string) (string, bool) {
	pageURL = strings.TrimSpace(pageURL)
	if !strings.HasPrefix(pageURL, crawlURL) {
		return "", false
	}
	rel := strings.TrimPrefix(pageURL[len(crawlURL):], "/")
	return rel, rel != ""
}
