// Package fake provides an in-memory crawljob.RemoteService for tests and
// local dry runs.
package fake

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/JakeFAU/crawl-harvester/internal/crawljob"
)

// Submission records one CreateCrawl call.
type Submission struct {
	URL    string
	Params crawljob.Params
}

type resultSet struct {
	// offset is the index of items[0] in the full result set.
	offset int
	items  []crawljob.ResultItem
}

// Service is a programmable RemoteService. The zero value is not usable; call New.
type Service struct {
	mu sync.Mutex

	pageSize    int
	nextID      int
	submitErr   error
	submissions []Submission
	statuses    map[string]crawljob.StatusResult
	cancels     map[string]crawljob.CancelResult
	results     map[string]resultSet
	fetchErr    map[string]error
	fetched     map[string][]int
}

var _ crawljob.RemoteService = (*Service)(nil)

// New returns a Service serving pageSize items per page.
func New(pageSize int) *Service {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Service{
		pageSize: pageSize,
		statuses: make(map[string]crawljob.StatusResult),
		cancels:  make(map[string]crawljob.CancelResult),
		results:  make(map[string]resultSet),
		fetchErr: make(map[string]error),
		fetched:  make(map[string][]int),
	}
}

// FailSubmissions makes every CreateCrawl return err (nil restores success).
func (s *Service) FailSubmissions(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitErr = err
}

// SetStatus programs the CrawlStatus answer for id.
func (s *Service) SetStatus(id string, status crawljob.StatusResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[id] = status
}

// SetCancel programs the CancelCrawl answer for id.
func (s *Service) SetCancel(id string, res crawljob.CancelResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancels[id] = res
}

// SetItems makes items available for id starting at offset. Requests for an
// offset below it fail as a transfer error.
func (s *Service) SetItems(id string, offset int, items []crawljob.ResultItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[id] = resultSet{offset: offset, items: items}
}

// FailFetches makes every FetchPage for id return err (nil restores success).
func (s *Service) FailFetches(id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.fetchErr, id)
		return
	}
	s.fetchErr[id] = err
}

// Submissions returns the recorded CreateCrawl calls.
func (s *Service) Submissions() []Submission {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Submission, len(s.submissions))
	copy(out, s.submissions)
	return out
}

// FetchedOffsets returns the skip offsets requested for id, in order.
func (s *Service) FetchedOffsets(id string) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.fetched[id]...)
}

// CreateCrawl records the submission and assigns a sequential job id.
func (s *Service) CreateCrawl(ctx context.Context, baseURL string, params crawljob.Params) (crawljob.SubmitResult, error) {
	if err := ctx.Err(); err != nil {
		return crawljob.SubmitResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.submitErr != nil {
		return crawljob.SubmitResult{Error: s.submitErr.Error()}, &crawljob.RemoteError{
			Kind: crawljob.ErrSubmissionFailed, Op: "submit crawl", URL: baseURL, Err: s.submitErr,
		}
	}
	s.submissions = append(s.submissions, Submission{URL: baseURL, Params: params.Clone()})
	s.nextID++
	id := fmt.Sprintf("job-%d", s.nextID)
	s.statuses[id] = crawljob.StatusResult{Status: crawljob.StatusScraping}
	return crawljob.SubmitResult{Success: true, ID: id, URL: baseURL}, nil
}

// CancelCrawl returns the programmed answer, defaulting to a successful cancel.
func (s *Service) CancelCrawl(ctx context.Context, jobID string) (crawljob.CancelResult, error) {
	if err := ctx.Err(); err != nil {
		return crawljob.CancelResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if res, ok := s.cancels[jobID]; ok {
		return res, nil
	}
	return crawljob.CancelResult{Success: true, Status: crawljob.StatusCancelled}, nil
}

// CrawlStatus returns the programmed status for jobID.
func (s *Service) CrawlStatus(ctx context.Context, jobID string) (crawljob.StatusResult, error) {
	if err := ctx.Err(); err != nil {
		return crawljob.StatusResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.statuses[jobID]
	if !ok {
		return crawljob.StatusResult{}, &crawljob.RemoteError{
			Op: "crawl status", JobID: jobID, StatusCode: 404, Message: "job not found",
		}
	}
	return res, nil
}

// FirstPage encodes jobID and skip into an opaque token.
func (s *Service) FirstPage(jobID string, skip int) crawljob.Cursor {
	return crawljob.NewCursor(token(jobID, skip))
}

// FetchPage serves one page of the programmed result set.
func (s *Service) FetchPage(ctx context.Context, jobID string, cursor crawljob.Cursor) (crawljob.ResultPage, error) {
	if err := ctx.Err(); err != nil {
		return crawljob.ResultPage{}, err
	}
	if cursor.Done() {
		return crawljob.ResultPage{}, nil
	}
	skip, err := parseToken(jobID, cursor.Token())
	if err != nil {
		return crawljob.ResultPage{}, transferErr(jobID, 0, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetched[jobID] = append(s.fetched[jobID], skip)
	if err := s.fetchErr[jobID]; err != nil {
		return crawljob.ResultPage{}, transferErr(jobID, 502, err)
	}
	set, ok := s.results[jobID]
	if !ok {
		return crawljob.ResultPage{}, transferErr(jobID, 404, fmt.Errorf("no results for job"))
	}
	if skip < set.offset {
		return crawljob.ResultPage{}, transferErr(jobID, 410, fmt.Errorf("offset %d already expired", skip))
	}
	start := min(skip-set.offset, len(set.items))
	end := min(start+s.pageSize, len(set.items))
	page := crawljob.ResultPage{Items: append([]crawljob.ResultItem(nil), set.items[start:end]...)}
	if end < len(set.items) {
		page.Next = crawljob.NewCursor(token(jobID, set.offset+end))
	}
	return page, nil
}

func token(jobID string, skip int) string {
	return jobID + "?skip=" + strconv.Itoa(skip)
}

func parseToken(jobID, raw string) (int, error) {
	prefix := jobID + "?skip="
	if !strings.HasPrefix(raw, prefix) {
		return 0, fmt.Errorf("continuation %q does not belong to job %s", raw, jobID)
	}
	return strconv.Atoi(strings.TrimPrefix(raw, prefix))
}

func transferErr(jobID string, code int, err error) error {
	return &crawljob.RemoteError{
		Kind: crawljob.ErrTransferFailed, Op: "fetch page", JobID: jobID, StatusCode: code, Err: err,
	}
}
