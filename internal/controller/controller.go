// Package controller drives the lifecycle of remote crawl jobs: submission with
// visited-page exclusions, cancellation, status refresh and listing.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-harvester/internal/crawljob"
	"github.com/JakeFAU/crawl-harvester/internal/metrics"
)

// DefaultExclusionCap bounds how many visited paths are appended to a submission.
const DefaultExclusionCap = 122_000

// Config holds controller tunables.
type Config struct {
	// ExclusionCap is the maximum number of visited paths sent with a
	// submission. Zero selects DefaultExclusionCap.
	ExclusionCap int
}

// Controller orchestrates submit, cancel and status refresh against the
// remote service, writing every outcome through the report store.
type Controller struct {
	cfg     Config
	remote  crawljob.RemoteService
	reports crawljob.ReportStore
	visited crawljob.VisitedStore
	logger  *zap.Logger
}

// New wires a Controller. visited may be nil, in which case no exclusions are
// added at submission time.
func New(
	cfg Config,
	remote crawljob.RemoteService,
	reports crawljob.ReportStore,
	visited crawljob.VisitedStore,
	logger *zap.Logger,
) (*Controller, error) {
	if remote == nil {
		return nil, errors.New("remote service is required")
	}
	if reports == nil {
		return nil, errors.New("report store is required")
	}
	if cfg.ExclusionCap <= 0 {
		cfg.ExclusionCap = DefaultExclusionCap
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		cfg:     cfg,
		remote:  remote,
		reports: reports,
		visited: visited,
		logger:  logger.Named("controller"),
	}, nil
}

// Submit starts a crawl of baseURL. The persisted report keeps only the
// caller's exclude paths; the visited paths are sent but never stored.
func (c *Controller) Submit(ctx context.Context, baseURL string, params crawljob.Params) (crawljob.Report, error) {
	crawlURL, err := crawljob.NormalizeURL(baseURL)
	if err != nil {
		metrics.ObserveSubmission("invalid")
		return crawljob.Report{}, err
	}
	if err := params.Validate(); err != nil {
		metrics.ObserveSubmission("invalid")
		return crawljob.Report{}, err
	}

	sent := params.Clone()
	if sent.ExcludePaths == nil {
		sent.ExcludePaths = []string{}
	}
	excluded, err := c.exclusions(ctx, crawlURL)
	if err != nil {
		return crawljob.Report{}, err
	}
	sent.ExcludePaths = append(sent.ExcludePaths, excluded...)

	c.logger.Info("submitting crawl",
		zap.String("url", crawlURL),
		zap.Int("exclude_paths", len(params.ExcludePaths)),
		zap.Int("visited_excluded", len(excluded)),
		zap.Int("limit", params.Limit),
		zap.Int("max_depth", params.MaxDepth),
	)

	res, err := c.remote.CreateCrawl(ctx, crawlURL, sent)
	if err != nil {
		metrics.ObserveSubmission("rejected")
		return crawljob.Report{}, err
	}
	if res.ID == "" {
		metrics.ObserveSubmission("rejected")
		return crawljob.Report{}, &crawljob.RemoteError{
			Kind: crawljob.ErrSubmissionFailed, Op: "submit crawl", URL: crawlURL, Message: "no job id returned",
		}
	}
	metrics.ObserveSubmission("accepted")

	stored := params.Clone()
	if stored.ExcludePaths == nil {
		stored.ExcludePaths = []string{}
	}
	report, err := c.reports.Upsert(ctx, res.ID, crawljob.Patch{
		CrawlURL: &crawlURL,
		Params:   &stored,
	})
	if err != nil {
		return crawljob.Report{}, fmt.Errorf("store report %s: %w", res.ID, err)
	}
	c.logger.Info("crawl submitted", zap.String("job_id", report.ID), zap.String("url", crawlURL))
	return report, nil
}

// exclusions loads the visited snapshot for crawlURL, truncated to the cap.
func (c *Controller) exclusions(ctx context.Context, crawlURL string) ([]string, error) {
	if c.visited == nil {
		return nil, nil
	}
	paths, err := c.visited.Load(ctx, crawlURL)
	if err != nil {
		return nil, fmt.Errorf("load visited pages for %s: %w", crawlURL, err)
	}
	if len(paths) > c.cfg.ExclusionCap {
		c.logger.Warn("visited pages exceed exclusion cap",
			zap.String("url", crawlURL),
			zap.Int("visited", len(paths)),
			zap.Int("cap", c.cfg.ExclusionCap),
		)
		paths = paths[:c.cfg.ExclusionCap]
	}
	return paths, nil
}

// Cancel asks the remote service to stop id and records the outcome, whether
// or not the service accepted the cancellation.
func (c *Controller) Cancel(ctx context.Context, id string) (crawljob.Report, error) {
	res, err := c.remote.CancelCrawl(ctx, id)
	if err != nil {
		return crawljob.Report{}, err
	}
	patch := crawljob.Patch{Success: &res.Success}
	if res.Status != "" {
		status := res.Status
		patch.Status = &status
	}
	if res.Error != "" {
		msg := res.Error
		patch.Error = &msg
	}
	report, err := c.reports.Upsert(ctx, id, patch)
	if err != nil {
		return crawljob.Report{}, fmt.Errorf("store report %s: %w", id, err)
	}
	if res.Success {
		c.logger.Info("crawl cancelled", zap.String("job_id", id), zap.String("status", string(report.Status)))
	} else {
		c.logger.Warn("crawl cancellation refused", zap.String("job_id", id), zap.String("error", res.Error))
	}
	return report, nil
}

// RefreshStatus merges the remote view of id into its report. The download
// cursor is never part of the merge.
func (c *Controller) RefreshStatus(ctx context.Context, id string) (crawljob.Report, error) {
	res, err := c.remote.CrawlStatus(ctx, id)
	if err != nil {
		return crawljob.Report{}, err
	}
	report, err := c.reports.Upsert(ctx, id, res.Patch())
	if err != nil {
		return crawljob.Report{}, fmt.Errorf("store report %s: %w", id, err)
	}
	c.logger.Debug("status refreshed",
		zap.String("job_id", id),
		zap.String("status", string(report.Status)),
		zap.Int("expected", report.ExpectedItems()),
		zap.Int("downloaded_files", report.DownloadedFiles),
	)
	return report, nil
}

// Report returns the stored report for id without contacting the remote service.
func (c *Controller) Report(ctx context.Context, id string) (crawljob.Report, error) {
	return c.reports.Get(ctx, id)
}

// List returns every stored report, newest first. With refresh set, reports
// that are not yet terminal are refreshed from the remote service first.
func (c *Controller) List(ctx context.Context, refresh bool) ([]crawljob.Report, error) {
	ids, err := c.reports.ListIDs(ctx)
	if err != nil {
		return nil, err
	}
	reports := make([]crawljob.Report, 0, len(ids))
	for _, id := range ids {
		report, err := c.reports.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load report %s: %w", id, err)
		}
		if refresh && !report.Status.Terminal() {
			report, err = c.RefreshStatus(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("refresh %s: %w", id, err)
			}
		}
		reports = append(reports, report)
	}
	sort.SliceStable(reports, func(i, j int) bool {
		if !reports[i].CreatedAt.Equal(reports[j].CreatedAt.Time) {
			return reports[i].CreatedAt.After(reports[j].CreatedAt.Time)
		}
		return reports[i].ID < reports[j].ID
	})
	return reports, nil
}
