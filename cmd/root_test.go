package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/JakeFAU/crawl-harvester/internal/app"
	"github.com/JakeFAU/crawl-harvester/internal/config"
	"github.com/JakeFAU/crawl-harvester/internal/crawljob"
)

// crawlAPI is an httptest stand-in for the remote crawl service with one
// completed job holding two pages.
type crawlAPI struct {
	mu          sync.Mutex
	submissions []map[string]any
	cancelled   []string
}

func (c *crawlAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/crawl", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		c.mu.Lock()
		c.submissions = append(c.submissions, body)
		c.mu.Unlock()
		writeBody(w, map[string]any{"success": true, "id": "job-1", "url": "https://api.example.com/v1/crawl/job-1"})
	})
	mux.HandleFunc("GET /v1/crawl/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "job-1" {
			http.Error(w, `{"error":"job not found"}`, http.StatusNotFound)
			return
		}
		data := []map[string]any{}
		if r.URL.Query().Get("skip") == "0" {
			data = []map[string]any{
				{"markdown": "# A", "metadata": map[string]any{"sourceURL": "https://example.com/a", "title": "A"}},
				{"markdown": "# B", "metadata": map[string]any{"sourceURL": "https://example.com/b", "title": "B"}},
			}
		}
		writeBody(w, map[string]any{"status": "completed", "total": 2, "completed": 2, "creditsUsed": 2, "data": data})
	})
	mux.HandleFunc("DELETE /v1/crawl/{id}", func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		c.cancelled = append(c.cancelled, r.PathValue("id"))
		c.mu.Unlock()
		writeBody(w, map[string]any{"success": true, "status": "cancelled"})
	})
	return mux
}

func (c *crawlAPI) submitted() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]map[string]any(nil), c.submissions...)
}

func writeBody(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

type cliEnv struct {
	api     *crawlAPI
	factory appFactory
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	api := &crawlAPI{}
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	cfg := config.Config{
		Remote: config.RemoteConfig{APIURL: srv.URL, TimeoutSeconds: 5, Burst: 1},
		Paths: config.PathsConfig{
			ReportsDir:      filepath.Join(dir, "reports"),
			ContentsDir:     filepath.Join(dir, "content"),
			VisitedPagesDir: filepath.Join(dir, "visited"),
		},
		Content: config.ContentConfig{Backend: "local"},
		Visited: config.VisitedConfig{Backend: "file", ExclusionCap: 1000},
		Crawl:   config.CrawlConfig{MaxDepth: 2, Limit: 50, Formats: []string{"markdown"}, WaitForMs: 1000},
	}
	require.NoError(t, cfg.Validate())

	logger := zaptest.NewLogger(t)
	factory := func(ctx context.Context, _ string) (*app.App, error) {
		return app.New(ctx, cfg, logger, prometheus.NewRegistry())
	}
	return &cliEnv{api: api, factory: factory}
}

func (e *cliEnv) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root, opts := newRootCmd(e.factory)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	require.NoError(t, opts.close())
	return out.String(), err
}

func TestSubmitDownloadCollectList(t *testing.T) {
	t.Parallel()

	env := newCLIEnv(t)

	out, err := env.run(t, "", "submit", "https://Example.com/news", "-y", "--ep", `["tag/.*"]`, "-l", "10")
	require.NoError(t, err)
	var report crawljob.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "job-1", report.ID)
	assert.Equal(t, crawljob.StatusScraping, report.Status)
	assert.Equal(t, "https://example.com", report.CrawlURL)

	subs := env.api.submitted()
	require.Len(t, subs, 1)
	assert.Equal(t, "https://example.com", subs[0]["url"])
	assert.Equal(t, []any{"tag/.*"}, subs[0]["excludePaths"])
	assert.InDelta(t, 10, subs[0]["limit"], 0)
	assert.InDelta(t, 2, subs[0]["maxDepth"], 0)
	assert.Equal(t, true, subs[0]["ignoreSitemap"])

	out, err = env.run(t, "", "ls", "--refresh=false")
	require.NoError(t, err)
	assert.Contains(t, tableRow(t, out, "job-1"), "scraping")

	// list refreshes non-terminal jobs unless told not to.
	out, err = env.run(t, "", "list")
	require.NoError(t, err)
	assert.Contains(t, tableRow(t, out, "job-1"), "completed")

	out, err = env.run(t, "", "status", "job-1")
	require.NoError(t, err)
	assert.Contains(t, out, `"status": "completed"`)

	out, err = env.run(t, "", "download", "job-1")
	require.NoError(t, err)
	assert.Equal(t, "job-1: downloaded 2/2 (pages 1, written 2, skipped 0)\n", out)

	out, err = env.run(t, "", "visited-pages", "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, "collected 2 visited pages for https://example.com\n", out)

	out, err = env.run(t, "", "ls")
	require.NoError(t, err)
	header := tableRow(t, out, "ID")
	assert.Contains(t, header, "STATUS")
	assert.Contains(t, header, "COMPLETED/TOTAL")
	row := tableRow(t, out, "job-1")
	assert.Contains(t, row, "completed")
	assert.Contains(t, row, "2/2")

	// The visited snapshot is sent as exclusions on the next submission.
	_, err = env.run(t, "", "crawl", "https://example.com", "--yes")
	require.NoError(t, err)
	subs = env.api.submitted()
	require.Len(t, subs, 2)
	assert.Equal(t, []any{"a", "b"}, subs[1]["excludePaths"])
}

// tableRow returns the first rendered table line containing needle.
func tableRow(t *testing.T, out, needle string) string {
	t.Helper()
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, needle) {
			return line
		}
	}
	require.Failf(t, "row not found", "no line containing %q in:\n%s", needle, out)
	return ""
}

func TestSubmitRejectsMalformedFlags(t *testing.T) {
	t.Parallel()

	env := newCLIEnv(t)
	cases := [][]string{
		{"submit", "https://example.com", "-y", "--exclude-paths", "blog"},
		{"submit", "https://example.com", "-y", "-f", `["pdf"]`},
		{"submit", "https://example.com", "-y", "-d", "-1"},
		{"submit", "example.com", "-y"},
	}
	for _, args := range cases {
		_, err := env.run(t, "", args...)
		require.ErrorIs(t, err, crawljob.ErrMalformedInput, "args %v", args)
	}
	assert.Empty(t, env.api.submitted())
}

func TestSubmitConfirmation(t *testing.T) {
	t.Parallel()

	env := newCLIEnv(t)

	out, err := env.run(t, "n\n", "submit", "https://example.com")
	require.NoError(t, err)
	assert.Contains(t, out, "Submit crawl? [y/N]: ")
	assert.Contains(t, out, "aborted")
	assert.Empty(t, env.api.submitted())

	_, err = env.run(t, "yes\n", "submit", "https://example.com")
	require.NoError(t, err)
	assert.Len(t, env.api.submitted(), 1)
}

func TestCancel(t *testing.T) {
	t.Parallel()

	env := newCLIEnv(t)
	_, err := env.run(t, "", "submit", "https://example.com", "-y")
	require.NoError(t, err)

	out, err := env.run(t, "", "cancel", "job-1")
	require.NoError(t, err)
	assert.Contains(t, out, `"status": "cancelled"`)
	assert.Contains(t, out, `"success": true`)
	env.api.mu.Lock()
	defer env.api.mu.Unlock()
	assert.Equal(t, []string{"job-1"}, env.api.cancelled)
}

func TestCommandErrors(t *testing.T) {
	t.Parallel()

	env := newCLIEnv(t)

	_, err := env.run(t, "", "status")
	require.Error(t, err)

	_, err = env.run(t, "", "download", "job-2")
	require.Error(t, err)

	failing := func(context.Context, string) (*app.App, error) { return nil, fmt.Errorf("no config") }
	root, opts := newRootCmd(failing)
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"list"})
	err = root.ExecuteContext(context.Background())
	require.ErrorContains(t, err, "failed to initialize application services")
	require.NoError(t, opts.close())
}

func TestResolveAppRequiresApp(t *testing.T) {
	t.Parallel()

	_, err := resolveApp(context.Background())
	require.Error(t, err)
}

func TestBuildParamsDefaults(t *testing.T) {
	t.Parallel()

	defaults := config.CrawlConfig{MaxDepth: 3, Limit: 100, Formats: []string{"markdown", "html"}, WaitForMs: 500}

	cmd := newSubmitCmd()
	require.NoError(t, cmd.ParseFlags(nil))
	params, err := buildParams(cmd.Flags(), submitFlags{}, defaults)
	require.NoError(t, err)
	assert.Equal(t, 3, params.MaxDepth)
	assert.Equal(t, 100, params.Limit)
	assert.Equal(t, []string{"markdown", "html"}, params.ScrapeOptions.Formats)
	assert.Equal(t, 500, params.ScrapeOptions.WaitFor)
	assert.Equal(t, []string{}, params.ExcludePaths)
	assert.True(t, params.IgnoreSitemap)
	assert.False(t, params.AllowExternalLinks)

	cmd = newSubmitCmd()
	require.NoError(t, cmd.ParseFlags([]string{"-d", "0", "-w", "0", "--it", `["article"]`, "-f", `["rawHtml"]`}))
	params, err = buildParams(cmd.Flags(), flagValues(t, cmd), defaults)
	require.NoError(t, err)
	assert.Equal(t, 0, params.MaxDepth)
	assert.Equal(t, 0, params.ScrapeOptions.WaitFor)
	assert.Equal(t, []string{"article"}, params.ScrapeOptions.IncludeTags)
	assert.Equal(t, []string{"rawHtml"}, params.ScrapeOptions.Formats)
}

func flagValues(t *testing.T, cmd *cobra.Command) submitFlags {
	t.Helper()
	flags := cmd.Flags()
	var f submitFlags
	var err error
	f.includeTags, err = flags.GetString("include-tags")
	require.NoError(t, err)
	f.formats, err = flags.GetString("formats")
	require.NoError(t, err)
	f.maxDepth, err = flags.GetInt("max-depth")
	require.NoError(t, err)
	f.waitFor, err = flags.GetInt("wait-for")
	require.NoError(t, err)
	return f
}

func TestServeShutsDownOnCancel(t *testing.T) {
	t.Parallel()

	env := newCLIEnv(t)
	a, err := env.factory(context.Background(), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, a, ln) }()

	client := &http.Client{Timeout: 2 * time.Second}
	require.Eventually(t, func() bool {
		resp, err := client.Get("http://" + ln.Addr().String() + "/readyz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
