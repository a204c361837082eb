// Package crawljob defines the report, parameter and content types shared by the
// controller, downloader, visited-page index and their storage backends.
package crawljob

import (
	"encoding/json"
	"time"
)

// Status mirrors the remote service's crawl status vocabulary. Unknown values
// are carried through verbatim.
type Status string

// Known crawl statuses.
const (
	StatusSubmitting Status = "submitting"
	StatusScraping   Status = "scraping"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further remote progress is expected.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusFailed:
		return true
	default:
		return false
	}
}

// TimeLayout is the second-precision layout used for report timestamps.
const TimeLayout = "2006-01-02T15:04:05"

// Timestamp is a second-precision time that encodes as TimeLayout.
type Timestamp struct {
	time.Time
}

// NewTimestamp truncates t to whole seconds.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.Truncate(time.Second)}
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(t.Format(TimeLayout))
}

// UnmarshalJSON implements json.Unmarshaler. RFC 3339 values are accepted too.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == "" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := time.ParseInLocation(TimeLayout, raw, time.Local)
	if err != nil {
		parsed, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			return err
		}
	}
	t.Time = parsed
	return nil
}

// ScrapeOptions controls how the remote service renders each page.
type ScrapeOptions struct {
	Formats     []string `json:"formats"`
	IncludeTags []string `json:"includeTags"`
	ExcludeTags []string `json:"excludeTags"`
	WaitFor     int      `json:"waitFor"`
	ParsePDF    bool     `json:"parsePDF"`
}

// Params is the crawl configuration submitted with a job.
type Params struct {
	ExcludePaths       []string      `json:"excludePaths"`
	IncludePaths       []string      `json:"includePaths"`
	MaxDepth           int           `json:"maxDepth"`
	IgnoreSitemap      bool          `json:"ignoreSitemap"`
	Limit              int           `json:"limit"`
	AllowBackwardLinks bool          `json:"allowBackwardLinks"`
	AllowExternalLinks bool          `json:"allowExternalLinks"`
	ScrapeOptions      ScrapeOptions `json:"scrapeOptions"`
}

// Clone returns a deep copy of p.
func (p Params) Clone() Params {
	cp := p
	cp.ExcludePaths = cloneStrings(p.ExcludePaths)
	cp.IncludePaths = cloneStrings(p.IncludePaths)
	cp.ScrapeOptions.Formats = cloneStrings(p.ScrapeOptions.Formats)
	cp.ScrapeOptions.IncludeTags = cloneStrings(p.ScrapeOptions.IncludeTags)
	cp.ScrapeOptions.ExcludeTags = cloneStrings(p.ScrapeOptions.ExcludeTags)
	return cp
}

// Report is the locally persisted lifecycle record of one remote crawl job.
type Report struct {
	ID              string    `json:"id"`
	Status          Status    `json:"status"`
	CrawlURL        string    `json:"crawl_url,omitempty"`
	Params          *Params   `json:"params,omitempty"`
	Total           *int      `json:"total,omitempty"`
	Completed       *int      `json:"completed,omitempty"`
	CreditsUsed     *int      `json:"creditsUsed,omitempty"`
	ExpiresAt       string    `json:"expiresAt,omitempty"`
	Error           string    `json:"error,omitempty"`
	Success         *bool     `json:"success,omitempty"`
	DownloadedFiles int       `json:"downloaded_files"`
	CreatedAt       Timestamp `json:"created_at"`
	UpdatedAt       Timestamp `json:"updated_at"`
}

// ExpectedItems is the best known count of result items for progress display.
func (r Report) ExpectedItems() int {
	if r.Completed != nil {
		return *r.Completed
	}
	if r.Total != nil {
		return *r.Total
	}
	return 0
}

// Patch is the whitelisted set of report fields a caller may merge. Nil fields
// are left untouched; set fields replace the stored value wholesale.
type Patch struct {
	Status          *Status
	CrawlURL        *string
	Params          *Params
	Total           *int
	Completed       *int
	CreditsUsed     *int
	ExpiresAt       *string
	Error           *string
	Success         *bool
	DownloadedFiles *int
}

// Apply merges p into r field by field.
func (p Patch) Apply(r *Report) {
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.CrawlURL != nil {
		r.CrawlURL = *p.CrawlURL
	}
	if p.Params != nil {
		cp := p.Params.Clone()
		r.Params = &cp
	}
	if p.Total != nil {
		r.Total = intPtr(*p.Total)
	}
	if p.Completed != nil {
		r.Completed = intPtr(*p.Completed)
	}
	if p.CreditsUsed != nil {
		r.CreditsUsed = intPtr(*p.CreditsUsed)
	}
	if p.ExpiresAt != nil {
		r.ExpiresAt = *p.ExpiresAt
	}
	if p.Error != nil {
		r.Error = *p.Error
	}
	if p.Success != nil {
		v := *p.Success
		r.Success = &v
	}
	if p.DownloadedFiles != nil {
		r.DownloadedFiles = *p.DownloadedFiles
	}
}

// SubmitResult is the remote answer to a crawl submission.
type SubmitResult struct {
	Success bool
	ID      string
	URL     string
	Error   string
}

// CancelResult is the remote answer to a cancellation request.
type CancelResult struct {
	Success bool
	Status  Status
	Error   string
}

// StatusResult is the remote view of a job's progress.
type StatusResult struct {
	Status      Status
	Total       *int
	Completed   *int
	CreditsUsed *int
	ExpiresAt   string
	Error       string
	Next        Cursor
}

// Patch converts the remote status into a report patch. Local-only fields
// such as DownloadedFiles are never part of it, and an empty status keeps
// the last known one.
func (s StatusResult) Patch() Patch {
	ok := true
	p := Patch{
		Total:       s.Total,
		Completed:   s.Completed,
		CreditsUsed: s.CreditsUsed,
		Success:     &ok,
	}
	if s.Status != "" {
		status := s.Status
		p.Status = &status
	}
	if s.ExpiresAt != "" {
		expires := s.ExpiresAt
		p.ExpiresAt = &expires
	}
	if s.Error != "" {
		msg := s.Error
		p.Error = &msg
	}
	return p
}

// Cursor is an opaque continuation token for the paginated result set. The
// zero value means there are no further pages.
type Cursor struct {
	token string
}

// NewCursor wraps a remote-issued continuation token.
func NewCursor(token string) Cursor {
	return Cursor{token: token}
}

// Token returns the raw continuation token for the issuing client.
func (c Cursor) Token() string {
	return c.token
}

// Done reports whether no further page is available.
func (c Cursor) Done() bool {
	return c.token == ""
}

// ResultItem is one crawled page as delivered by the remote service.
type ResultItem struct {
	Markdown *string        `json:"markdown,omitempty"`
	HTML     string         `json:"html,omitempty"`
	RawHTML  string         `json:"rawHtml,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ResultPage is one page of a job's paginated result set.
type ResultPage struct {
	Items []ResultItem
	Next  Cursor
}

// ContentItem is the extracted artifact set for one result item.
type ContentItem struct {
	URL      string
	RelPath  string
	Stem     string
	Text     string
	RawHTML  string
	Metadata Metadata
}

// Metadata is the structured record written next to each text artifact.
type Metadata struct {
	URL            string   `json:"url"`
	Source         string   `json:"source,omitempty"`
	SourceType     string   `json:"source_type,omitempty"`
	Topics         *string  `json:"topics,omitempty"`
	CreatedDate    *string  `json:"created_date,omitempty"`
	Title          *string  `json:"title,omitempty"`
	ArticleSummary *string  `json:"article_summary,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	ArticleText    string   `json:"article_text,omitempty"`
}

func cloneStrings(src []string) []string {
	if src == nil {
		return nil
	}
	dst := make([]string, len(src))
	copy(dst, src)
	return dst
}

func intPtr(v int) *int {
	return &v
}
