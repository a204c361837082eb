package visited

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-harvester/internal/crawljob"
	"github.com/JakeFAU/crawl-harvester/internal/storage/local"
	"github.com/JakeFAU/crawl-harvester/internal/storage/memory"
)

type fixedClock struct{}

func (fixedClock) Now() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }

func seedJob(
	t *testing.T,
	reports *memory.ReportStore,
	content *local.ContentStore,
	id, crawlURL string,
	status crawljob.Status,
	paths ...string,
) {
	t.Helper()
	ctx := context.Background()
	_, err := reports.Upsert(ctx, id, crawljob.Patch{CrawlURL: &crawlURL, Status: &status})
	require.NoError(t, err)
	for _, p := range paths {
		meta := fmt.Sprintf(`{"url": %q, "article_text": "body"}`, crawlURL+"/"+p)
		stem := crawljob.StemFor(p)
		require.NoError(t, content.Put(ctx, id, stem+".json", []byte(meta)))
		require.NoError(t, content.Put(ctx, id, stem+".md", []byte("body")))
	}
}

func TestCollectUnionsCompletedJobs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	reports := memory.NewReportStore(fixedClock{})
	content, err := local.NewContentStore(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	snapshots, err := local.NewVisitedStore(t.TempDir())
	require.NoError(t, err)

	seedJob(t, reports, content, "job-1", "https://example.com", crawljob.StatusCompleted, "a", "b")
	seedJob(t, reports, content, "job-2", "https://example.com", crawljob.StatusCompleted, "b", "c")
	seedJob(t, reports, content, "job-3", "https://example.com", crawljob.StatusScraping, "d")
	seedJob(t, reports, content, "job-4", "https://other.example.com", crawljob.StatusCompleted, "e")
	require.NoError(t, content.Put(ctx, "job-1", "broken.json", []byte("{")))

	c, err := NewCollector(reports, content, snapshots, nil)
	require.NoError(t, err)

	n, err := c.Collect(ctx, "https://example.com/news/1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got, err := c.Snapshot(ctx, "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestCollectNestedPathsAndEmptySnapshot(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	reports := memory.NewReportStore(fixedClock{})
	content, err := local.NewContentStore(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	snapshots, err := local.NewVisitedStore(t.TempDir())
	require.NoError(t, err)
	c, err := NewCollector(reports, content, snapshots, nil)
	require.NoError(t, err)

	got, err := c.Snapshot(ctx, "https://example.com")
	require.NoError(t, err)
	assert.Empty(t, got)

	seedJob(t, reports, content, "job-1", "https://example.com", crawljob.StatusCompleted, "news/2024/item/")
	n, err := c.Collect(ctx, "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err = c.Snapshot(ctx, "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"news/2024/item/"}, got)
}

func TestCollectRejectsRelativeURL(t *testing.T) {
	t.Parallel()

	c, err := NewCollector(memory.NewReportStore(fixedClock{}), mustContent(t), mustVisited(t), nil)
	require.NoError(t, err)
	_, err = c.Collect(context.Background(), "example.com")
	require.ErrorIs(t, err, crawljob.ErrMalformedInput)
}

func TestRelative(t *testing.T) {
	t.Parallel()

	rel, ok := relative("https://example.com", " https://example.com/a/b ")
	assert.True(t, ok)
	assert.Equal(t, "a/b", rel)

	_, ok = relative("https://example.com", "https://cdn.example.org/a")
	assert.False(t, ok)

	_, ok = relative("https://example.com", "https://example.com/")
	assert.False(t, ok)

	_, ok = relative("https://example.com", "https://example.com")
	assert.False(t, ok)
}

func TestCollectSkipsSiteRoot(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	reports := memory.NewReportStore(fixedClock{})
	content := mustContent(t)
	c, err := NewCollector(reports, content, mustVisited(t), nil)
	require.NoError(t, err)

	seedJob(t, reports, content, "job-1", "https://example.com", crawljob.StatusCompleted, "a")
	require.NoError(t, content.Put(ctx, "job-1", "index.json", []byte(`{"url": "https://example.com/"}`)))

	n, err := c.Collect(ctx, "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := c.Snapshot(ctx, "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, got)
}

func mustContent(t *testing.T) *local.ContentStore {
	t.Helper()
	s, err := local.NewContentStore(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	return s
}

func mustVisited(t *testing.T) *local.VisitedStore {
	t.Helper()
	s, err := local.NewVisitedStore(t.TempDir())
	require.NoError(t, err)
	return s
}
