// Package firecrawl implements crawljob.RemoteService against the Firecrawl
// v1 crawl API using a Colly collector as the HTTP transport.
package firecrawl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-harvester/internal/crawljob"
	"github.com/JakeFAU/crawl-harvester/internal/metrics"
)

const (
	defaultTimeout = 2 * time.Minute
	crawlPath      = "/v1/crawl"
	maxErrorBody   = 512
	maxRedirects   = 10
)

// Config is the immutable client configuration. It is copied at construction.
type Config struct {
	APIURL    string
	APIKey    string
	Timeout   time.Duration
	UserAgent string
	// Transport overrides the HTTP transport (tests use the httptest TLS client).
	Transport http.RoundTripper
}

// Waiter paces outgoing requests.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Client talks to one crawl service endpoint.
type Client struct {
	cfg           Config
	base          *url.URL
	limiter       Waiter
	logger        *zap.Logger
	baseCollector *colly.Collector
}

var _ crawljob.RemoteService = (*Client)(nil)

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New validates cfg and builds a Client. limiter and logger may be nil.
func New(cfg Config, limiter Waiter, logger *zap.Logger) (*Client, error) {
	base, err := parseBase(cfg.APIURL)
	if err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		colly.MaxBodySize(0),
		colly.IgnoreRobotsTxt(),
	)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	transport := cfg.Transport
	if transport == nil {
		transport = newHTTPTransport()
	}
	c.WithTransport(transport)
	c.SetRequestTimeout(cfg.Timeout)
	c.SetRedirectHandler(redirectGuard(base))

	return &Client{
		cfg:           cfg,
		base:          base,
		limiter:       limiter,
		logger:        logger.Named("remote"),
		baseCollector: c,
	}, nil
}

func parseBase(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(raw), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse api url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("api url must be an absolute http(s) url, got %q", raw)
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

// redirectGuard refuses redirects that leave the api host or drop TLS.
func redirectGuard(base *url.URL) func(*http.Request, []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		if !strings.EqualFold(req.URL.Host, base.Host) {
			return fmt.Errorf("redirect to foreign host %q refused", req.URL.Host)
		}
		if base.Scheme == "https" && req.URL.Scheme != "https" {
			return fmt.Errorf("redirect downgrade to %q refused", req.URL.Scheme)
		}
		return nil
	}
}

type crawlRequest struct {
	URL string `json:"url"`
	crawljob.Params
}

type submitResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
	URL     string `json:"url"`
	Error   string `json:"error"`
}

// CreateCrawl starts an asynchronous crawl of baseURL.
func (c *Client) CreateCrawl(ctx context.Context, baseURL string, params crawljob.Params) (crawljob.SubmitResult, error) {
	target := c.endpoint(crawlPath, nil)
	payload, err := json.Marshal(crawlRequest{URL: baseURL, Params: params})
	if err != nil {
		return crawljob.SubmitResult{}, fmt.Errorf("encode crawl request: %w", err)
	}
	res, err := c.do(ctx, "submit", http.MethodPost, target, payload)
	if err != nil {
		return crawljob.SubmitResult{}, &crawljob.RemoteError{
			Kind: crawljob.ErrSubmissionFailed, Op: "submit crawl", URL: baseURL, Err: err,
		}
	}
	var body submitResponse
	decodeErr := json.Unmarshal(res.body, &body)
	if !res.ok() || decodeErr != nil || !body.Success || body.ID == "" {
		msg := body.Error
		if msg == "" {
			msg = errorMessage(res.body)
		}
		return crawljob.SubmitResult{Success: false, Error: msg}, &crawljob.RemoteError{
			Kind:       crawljob.ErrSubmissionFailed,
			Op:         "submit crawl",
			URL:        baseURL,
			StatusCode: res.status,
			Message:    msg,
			Err:        decodeErr,
		}
	}
	return crawljob.SubmitResult{Success: true, ID: body.ID, URL: body.URL}, nil
}

type cancelResponse struct {
	Success *bool  `json:"success"`
	Status  string `json:"status"`
	Error   string `json:"error"`
}

// CancelCrawl asks the service to stop jobID. A refusal is reported in the
// result, not as an error; only transport failures return an error.
func (c *Client) CancelCrawl(ctx context.Context, jobID string) (crawljob.CancelResult, error) {
	target := c.endpoint(jobPath(jobID), nil)
	res, err := c.do(ctx, "cancel", http.MethodDelete, target, nil)
	if err != nil {
		return crawljob.CancelResult{}, &crawljob.RemoteError{Op: "cancel crawl", JobID: jobID, URL: target, Err: err}
	}
	var body cancelResponse
	_ = json.Unmarshal(res.body, &body)
	if !res.ok() || (body.Success != nil && !*body.Success) {
		msg := body.Error
		if msg == "" {
			msg = errorMessage(res.body)
		}
		return crawljob.CancelResult{Success: false, Status: crawljob.Status(body.Status), Error: msg}, nil
	}
	status := crawljob.Status(body.Status)
	if status == "" {
		status = crawljob.StatusCancelled
	}
	return crawljob.CancelResult{Success: true, Status: status}, nil
}

type statusResponse struct {
	Success     *bool                 `json:"success"`
	Status      string                `json:"status"`
	Total       *int                  `json:"total"`
	Completed   *int                  `json:"completed"`
	CreditsUsed *int                  `json:"creditsUsed"`
	ExpiresAt   string                `json:"expiresAt"`
	Error       string                `json:"error"`
	Next        *string               `json:"next"`
	Data        []crawljob.ResultItem `json:"data"`
}

// CrawlStatus fetches the current state of jobID. Unknown status values are
// passed through verbatim.
func (c *Client) CrawlStatus(ctx context.Context, jobID string) (crawljob.StatusResult, error) {
	target := c.endpoint(jobPath(jobID), nil)
	res, err := c.do(ctx, "status", http.MethodGet, target, nil)
	if err != nil {
		return crawljob.StatusResult{}, &crawljob.RemoteError{Op: "crawl status", JobID: jobID, URL: target, Err: err}
	}
	var body statusResponse
	decodeErr := json.Unmarshal(res.body, &body)
	if !res.ok() || decodeErr != nil || (body.Success != nil && !*body.Success) {
		msg := body.Error
		if msg == "" {
			msg = errorMessage(res.body)
		}
		return crawljob.StatusResult{}, &crawljob.RemoteError{
			Op: "crawl status", JobID: jobID, URL: target, StatusCode: res.status, Message: msg, Err: decodeErr,
		}
	}
	out := crawljob.StatusResult{
		Status:      crawljob.Status(body.Status),
		Total:       body.Total,
		Completed:   body.Completed,
		CreditsUsed: body.CreditsUsed,
		ExpiresAt:   body.ExpiresAt,
		Error:       body.Error,
	}
	if body.Next != nil && *body.Next != "" {
		next, err := c.rebase(jobID, *body.Next)
		if err != nil {
			c.logger.Warn("ignoring status continuation", zap.String("job_id", jobID), zap.Error(err))
		} else {
			out.Next = crawljob.NewCursor(next)
		}
	}
	return out, nil
}

// FirstPage returns the cursor for the result set of jobID starting at skip.
func (c *Client) FirstPage(jobID string, skip int) crawljob.Cursor {
	query := url.Values{}
	query.Set("skip", strconv.Itoa(max(skip, 0)))
	return crawljob.NewCursor(c.endpoint(jobPath(jobID), query))
}

// FetchPage downloads the result page cursor points at. Any failure is a
// transfer failure so the caller can resume from its persisted offset.
func (c *Client) FetchPage(ctx context.Context, jobID string, cursor crawljob.Cursor) (crawljob.ResultPage, error) {
	if cursor.Done() {
		return crawljob.ResultPage{}, nil
	}
	target, err := c.rebase(jobID, cursor.Token())
	if err != nil {
		return crawljob.ResultPage{}, &crawljob.RemoteError{
			Kind: crawljob.ErrTransferFailed, Op: "fetch page", JobID: jobID, Err: err,
		}
	}
	res, err := c.do(ctx, "page", http.MethodGet, target, nil)
	if err != nil {
		return crawljob.ResultPage{}, &crawljob.RemoteError{
			Kind: crawljob.ErrTransferFailed, Op: "fetch page", JobID: jobID, URL: target, Err: err,
		}
	}
	var body statusResponse
	decodeErr := json.Unmarshal(res.body, &body)
	if !res.ok() || decodeErr != nil || (body.Success != nil && !*body.Success) {
		msg := body.Error
		if msg == "" {
			msg = errorMessage(res.body)
		}
		return crawljob.ResultPage{}, &crawljob.RemoteError{
			Kind:       crawljob.ErrTransferFailed,
			Op:         "fetch page",
			JobID:      jobID,
			URL:        target,
			StatusCode: res.status,
			Message:    msg,
			Err:        decodeErr,
		}
	}
	page := crawljob.ResultPage{Items: body.Data}
	if body.Next != nil && *body.Next != "" {
		next, err := c.rebase(jobID, *body.Next)
		if err != nil {
			return crawljob.ResultPage{}, &crawljob.RemoteError{
				Kind: crawljob.ErrTransferFailed, Op: "fetch page", JobID: jobID, URL: target, Err: err,
			}
		}
		page.Next = crawljob.NewCursor(next)
	}
	return page, nil
}

// rebase pins a continuation URL onto the configured api origin. A token for
// another host or job is refused; a plain-http token from a TLS api is
// upgraded back to https.
func (c *Client) rebase(jobID, raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse continuation: %w", err)
	}
	if u.Host != "" && !strings.EqualFold(u.Host, c.base.Host) && !sameHostDefaultPort(u, c.base) {
		return "", fmt.Errorf("continuation host %q does not match api host %q", u.Host, c.base.Host)
	}
	want := c.base.Path + jobPath(jobID)
	if u.Path != want {
		return "", fmt.Errorf("continuation path %q does not belong to job %s", u.Path, jobID)
	}
	out := *c.base
	out.Path = u.Path
	out.RawPath = u.RawPath
	out.RawQuery = u.RawQuery
	return out.String(), nil
}

// sameHostDefaultPort treats "host" and "host:443" (or ":80") as equal.
func sameHostDefaultPort(a, b *url.URL) bool {
	if !strings.EqualFold(a.Hostname(), b.Hostname()) {
		return false
	}
	port := func(u *url.URL, scheme string) string {
		if p := u.Port(); p != "" {
			return p
		}
		if scheme == "http" {
			return "80"
		}
		return "443"
	}
	return port(a, b.Scheme) == port(b, b.Scheme)
}

func (c *Client) endpoint(p string, query url.Values) string {
	u := *c.base
	u.Path = c.base.Path + p
	u.RawQuery = query.Encode()
	return u.String()
}

func jobPath(jobID string) string {
	return crawlPath + "/" + url.PathEscape(jobID)
}

type response struct {
	status int
	body   []byte
}

func (r response) ok() bool {
	return r.status >= 200 && r.status < 300
}

func (c *Client) do(ctx context.Context, op, method, target string, payload []byte) (response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, target); err != nil {
			return response{}, err
		}
	}
	var (
		res      response
		fetchErr error
	)
	collector := c.baseCollector.Clone()
	c.configureCollectorHooks(collector, &res, &fetchErr)

	hdr := http.Header{}
	hdr.Set("Accept", "application/json")
	if payload != nil {
		hdr.Set("Content-Type", "application/json")
	}
	if c.cfg.APIKey != "" {
		hdr.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	start := time.Now()
	err := c.runCollector(ctx, collector, method, target, body, hdr, &fetchErr)
	dur := time.Since(start)
	metrics.ObserveRemoteRequest(op, res.status, dur)
	if err != nil {
		c.logger.Debug("remote request failed",
			zap.String("op", op), zap.String("url", target), zap.Duration("dur", dur), zap.Error(err))
		return response{}, err
	}
	c.logger.Debug("remote request",
		zap.String("op", op), zap.String("url", target), zap.Int("http_status", res.status), zap.Duration("dur", dur))
	return res, nil
}

func (c *Client) configureCollectorHooks(hooks collectorHooks, res *response, fetchErr *error) {
	hooks.OnResponse(func(r *colly.Response) {
		*res = response{
			status: r.StatusCode,
			body:   append([]byte(nil), r.Body...),
		}
	})
	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			*res = response{status: r.StatusCode, body: append([]byte(nil), r.Body...)}
		}
		*fetchErr = err
	})
}

func (c *Client) runCollector(
	ctx context.Context,
	collector *colly.Collector,
	method, target string,
	body io.Reader,
	hdr http.Header,
	fetchErr *error,
) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Request(method, target, body, nil, hdr)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("request canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("response failed: %w", *fetchErr)
		}
		return nil
	}
}

// errorMessage extracts a human-readable reason from an error body.
func errorMessage(body []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	text := strings.TrimSpace(string(body))
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody] + "..."
	}
	return text
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
