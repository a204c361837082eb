package crawljob

import (
	"context"
	"time"
)

// RemoteService is the boundary to the external crawl service.
type RemoteService interface {
	CreateCrawl(ctx context.Context, baseURL string, params Params) (SubmitResult, error)
	CancelCrawl(ctx context.Context, jobID string) (CancelResult, error)
	CrawlStatus(ctx context.Context, jobID string) (StatusResult, error)
	// FirstPage returns the cursor for the result set of jobID starting at skip.
	FirstPage(jobID string, skip int) Cursor
	FetchPage(ctx context.Context, jobID string, cursor Cursor) (ResultPage, error)
}

// ReportStore persists one report per job id.
type ReportStore interface {
	// Upsert merges patch into the stored report (creating it if absent) and
	// returns the merged record as written.
	Upsert(ctx context.Context, id string, patch Patch) (Report, error)
	Get(ctx context.Context, id string) (Report, error)
	ListIDs(ctx context.Context) ([]string, error)
}

// ContentStore holds the per-job artifact files.
type ContentStore interface {
	Put(ctx context.Context, jobID, name string, data []byte) error
	Get(ctx context.Context, jobID, name string) ([]byte, error)
	// List returns artifact names under jobID ending with suffix.
	List(ctx context.Context, jobID, suffix string) ([]string, error)
}

// VisitedStore persists visited-page snapshots keyed by normalized base URL.
type VisitedStore interface {
	Load(ctx context.Context, baseURL string) ([]string, error)
	Save(ctx context.Context, baseURL string, paths []string) error
}

// Publisher pushes completion notifications.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
