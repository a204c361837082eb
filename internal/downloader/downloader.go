// Package downloader pages through the result set of a completed crawl job and
// writes every item to the content store, persisting a resume cursor after
// each page.
package downloader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-harvester/internal/crawljob"
	"github.com/JakeFAU/crawl-harvester/internal/progress"
)

// Artifact suffixes written per content item.
const (
	TextExt     = ".md"
	MetadataExt = ".json"
	MarkupExt   = ".html"
)

// Refresher merges the remote status of a job into its stored report.
type Refresher interface {
	RefreshStatus(ctx context.Context, id string) (crawljob.Report, error)
}

// Extractor turns one result item into its artifact set.
type Extractor interface {
	Extract(crawlURL string, item crawljob.ResultItem) (crawljob.ContentItem, error)
}

// Config holds downloader options.
type Config struct {
	// Topic receives a completion notification when non-empty.
	Topic string
}

// Deps groups the downloader's collaborators. Events and Publisher are optional.
type Deps struct {
	Remote    crawljob.RemoteService
	Refresher Refresher
	Reports   crawljob.ReportStore
	Content   crawljob.ContentStore
	Extractor Extractor
	Events    progress.Emitter
	Publisher crawljob.Publisher
	Clock     crawljob.Clock
	Logger    *zap.Logger
}

// Downloader materializes completed jobs into the content store.
type Downloader struct {
	cfg       Config
	remote    crawljob.RemoteService
	refresher Refresher
	reports   crawljob.ReportStore
	content   crawljob.ContentStore
	extractor Extractor
	events    progress.Emitter
	publisher crawljob.Publisher
	clock     crawljob.Clock
	logger    *zap.Logger
}

// Result summarizes one download run.
type Result struct {
	RunID           uuid.UUID
	JobID           string
	Pages           int
	Written         int
	Skipped         int
	DownloadedFiles int
	Total           int
}

// Completion is the payload published when a download run finishes.
type Completion struct {
	JobID           string    `json:"job_id"`
	CrawlURL        string    `json:"crawl_url"`
	DownloadedFiles int       `json:"downloaded_files"`
	FinishedAt      time.Time `json:"finished_at"`
}

// New validates deps and returns a Downloader.
func New(cfg Config, deps Deps) (*Downloader, error) {
	switch {
	case deps.Remote == nil:
		return nil, errors.New("remote service is required")
	case deps.Refresher == nil:
		return nil, errors.New("status refresher is required")
	case deps.Reports == nil:
		return nil, errors.New("report store is required")
	case deps.Content == nil:
		return nil, errors.New("content store is required")
	case deps.Extractor == nil:
		return nil, errors.New("extractor is required")
	case deps.Clock == nil:
		return nil, errors.New("clock is required")
	}
	if deps.Events == nil {
		deps.Events = progress.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Downloader{
		cfg:       cfg,
		remote:    deps.Remote,
		refresher: deps.Refresher,
		reports:   deps.Reports,
		content:   deps.Content,
		extractor: deps.Extractor,
		events:    deps.Events,
		publisher: deps.Publisher,
		clock:     deps.Clock,
		logger:    deps.Logger.Named("downloader"),
	}, nil
}

// Download refreshes jobID's status and, once it is completed, fetches every
// result page from the persisted cursor onward. A failed page leaves the
// cursor at the last fully written page so a later call resumes there.
func (d *Downloader) Download(ctx context.Context, jobID string) (Result, error) {
	report, err := d.refresher.RefreshStatus(ctx, jobID)
	if err != nil {
		return Result{}, fmt.Errorf("refresh status: %w", err)
	}
	if report.Status != crawljob.StatusCompleted {
		return Result{}, &crawljob.NotReadyError{JobID: jobID, Status: report.Status}
	}

	run := Result{
		RunID:           uuid.New(),
		JobID:           jobID,
		DownloadedFiles: report.DownloadedFiles,
		Total:           report.ExpectedItems(),
	}
	logger := d.logger.With(zap.String("job_id", jobID), zap.String("run_id", run.RunID.String()))
	started := time.Now()
	d.emit(ctx, run, progress.Event{Stage: progress.StageDownloadStart})
	logger.Info("download started",
		zap.Int("skip", report.DownloadedFiles),
		zap.Int("total", run.Total),
		zap.String("url", report.CrawlURL),
	)

	cursor := d.remote.FirstPage(jobID, report.DownloadedFiles)
	for !cursor.Done() {
		pageStarted := time.Now()
		page, err := d.remote.FetchPage(ctx, jobID, cursor)
		if err != nil {
			return d.fail(ctx, run, started, logger, err)
		}
		run.Pages++

		written, skipped, err := d.writePage(ctx, report, run, page.Items, logger)
		if err != nil {
			return d.fail(ctx, run, started, logger, err)
		}
		if written > 0 {
			next := run.DownloadedFiles + written
			if _, err := d.reports.Upsert(ctx, jobID, crawljob.Patch{DownloadedFiles: &next}); err != nil {
				return d.fail(ctx, run, started, logger, fmt.Errorf("persist cursor: %w", err))
			}
			run.DownloadedFiles = next
		}
		run.Written += written
		run.Skipped += skipped

		d.emit(ctx, run, progress.Event{
			Stage:   progress.StagePageDone,
			Page:    run.Pages,
			Items:   written,
			Skipped: skipped,
			Dur:     time.Since(pageStarted),
		})

		if !page.Next.Done() && page.Next.Token() == cursor.Token() {
			return d.fail(ctx, run, started, logger, &crawljob.RemoteError{
				Kind: crawljob.ErrTransferFailed, Op: "fetch page", JobID: jobID, Message: "continuation did not advance",
			})
		}
		cursor = page.Next
	}

	d.emit(ctx, run, progress.Event{Stage: progress.StageDownloadDone, Dur: time.Since(started)})
	logger.Info("download finished",
		zap.Int("pages", run.Pages),
		zap.Int("written", run.Written),
		zap.Int("skipped", run.Skipped),
		zap.Int("downloaded_files", run.DownloadedFiles),
	)
	d.notify(ctx, report.CrawlURL, run, logger)
	return run, nil
}

// writePage stores every extractable item of one page. Skipped items are
// reported but do not count toward the cursor.
func (d *Downloader) writePage(
	ctx context.Context,
	report crawljob.Report,
	run Result,
	items []crawljob.ResultItem,
	logger *zap.Logger,
) (int, int, error) {
	written, skipped := 0, 0
	for _, item := range items {
		content, err := d.extractor.Extract(report.CrawlURL, item)
		if errors.Is(err, crawljob.ErrExtractionSkip) {
			skipped++
			logger.Warn("skipping result item", zap.Error(err))
			d.emit(ctx, run, progress.Event{Stage: progress.StageItemSkipped, URL: content.URL, Note: err.Error()})
			continue
		}
		if err != nil {
			return written, skipped, fmt.Errorf("extract item: %w", err)
		}
		if err := d.writeItem(ctx, report.ID, content); err != nil {
			return written, skipped, err
		}
		written++
	}
	return written, skipped, nil
}

func (d *Downloader) writeItem(ctx context.Context, jobID string, item crawljob.ContentItem) error {
	if err := d.content.Put(ctx, jobID, item.Stem+TextExt, []byte(item.Text)); err != nil {
		return fmt.Errorf("write text for %s: %w", item.URL, err)
	}
	meta, err := prettyJSON(item.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata for %s: %w", item.URL, err)
	}
	if err := d.content.Put(ctx, jobID, item.Stem+MetadataExt, meta); err != nil {
		return fmt.Errorf("write metadata for %s: %w", item.URL, err)
	}
	if item.RawHTML != "" {
		if err := d.content.Put(ctx, jobID, item.Stem+MarkupExt, []byte(item.RawHTML)); err != nil {
			return fmt.Errorf("write markup for %s: %w", item.URL, err)
		}
	}
	return nil
}

func (d *Downloader) fail(
	ctx context.Context,
	run Result,
	started time.Time,
	logger *zap.Logger,
	err error,
) (Result, error) {
	d.emit(ctx, run, progress.Event{Stage: progress.StageDownloadError, Dur: time.Since(started), Note: err.Error()})
	logger.Error("download aborted",
		zap.Int("pages", run.Pages),
		zap.Int("downloaded_files", run.DownloadedFiles),
		zap.Error(err),
	)
	return run, err
}

func (d *Downloader) emit(ctx context.Context, run Result, evt progress.Event) {
	evt.RunID = run.RunID
	evt.JobID = run.JobID
	evt.TS = d.clock.Now()
	evt.Done = run.DownloadedFiles
	evt.Total = run.Total
	d.events.Emit(ctx, evt)
}

// notify publishes the completion record. The download is already persisted,
// so a publish failure is only logged.
func (d *Downloader) notify(ctx context.Context, crawlURL string, run Result, logger *zap.Logger) {
	if d.publisher == nil || d.cfg.Topic == "" {
		return
	}
	msg := Completion{
		JobID:           run.JobID,
		CrawlURL:        crawlURL,
		DownloadedFiles: run.DownloadedFiles,
		FinishedAt:      d.clock.Now().UTC(),
	}
	id, err := d.publisher.Publish(ctx, d.cfg.Topic, msg)
	if err != nil {
		logger.Warn("completion publish failed", zap.String("topic", d.cfg.Topic), zap.Error(err))
		return
	}
	logger.Debug("completion published", zap.String("topic", d.cfg.Topic), zap.String("message_id", id))
}

func prettyJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
