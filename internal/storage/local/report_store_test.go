// Package local_test tests the filesystem stores.
package local_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-harvester/internal/crawljob"
	"github.com/JakeFAU/crawl-harvester/internal/storage/local"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newReportStore(t *testing.T) (*local.ReportStore, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "reports")
	store, err := local.NewReportStore(dir, &stepClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.Local)})
	require.NoError(t, err)
	return store, dir
}

func TestReportStoreUpsertCreatesFreshReport(t *testing.T) {
	t.Parallel()

	store, dir := newReportStore(t)
	crawlURL := "https://example.com"
	report, err := store.Upsert(context.Background(), "job-1", crawljob.Patch{CrawlURL: &crawlURL})
	require.NoError(t, err)

	assert.Equal(t, "job-1", report.ID)
	assert.Equal(t, crawljob.StatusScraping, report.Status)
	assert.Equal(t, crawlURL, report.CrawlURL)
	assert.False(t, report.CreatedAt.IsZero())
	assert.Equal(t, report.CreatedAt, report.UpdatedAt)

	// #nosec G304 -- test reads from the controlled temp directory.
	raw, err := os.ReadFile(filepath.Join(dir, "job-1.json"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"downloaded_files": 0`)
	assert.Contains(t, string(raw), `"crawl_url": "https://example.com"`)
}

func TestReportStoreUpsertIsIdempotentExceptUpdatedAt(t *testing.T) {
	t.Parallel()

	store, _ := newReportStore(t)
	ctx := context.Background()
	status := crawljob.StatusCompleted
	total := 3
	patch := crawljob.Patch{Status: &status, Total: &total}

	first, err := store.Upsert(ctx, "job-2", patch)
	require.NoError(t, err)
	second, err := store.Upsert(ctx, "job-2", patch)
	require.NoError(t, err)

	assert.True(t, second.UpdatedAt.After(first.UpdatedAt.Time))
	assert.True(t, first.CreatedAt.Equal(second.CreatedAt.Time))
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.Total, second.Total)
	assert.Equal(t, first.DownloadedFiles, second.DownloadedFiles)
}

func TestReportStoreMergePreservesCursorAndCreatedAt(t *testing.T) {
	t.Parallel()

	store, _ := newReportStore(t)
	ctx := context.Background()
	downloaded := 42
	created, err := store.Upsert(ctx, "job-3", crawljob.Patch{DownloadedFiles: &downloaded})
	require.NoError(t, err)

	completed := 100
	merged, err := store.Upsert(ctx, "job-3", crawljob.StatusResult{
		Status:    crawljob.StatusCompleted,
		Completed: &completed,
	}.Patch())
	require.NoError(t, err)

	assert.Equal(t, 42, merged.DownloadedFiles)
	assert.True(t, created.CreatedAt.Equal(merged.CreatedAt.Time))
	assert.Equal(t, crawljob.StatusCompleted, merged.Status)

	loaded, err := store.Get(ctx, "job-3")
	require.NoError(t, err)
	assert.Equal(t, merged.DownloadedFiles, loaded.DownloadedFiles)
	assert.True(t, merged.CreatedAt.Equal(loaded.CreatedAt.Time))
}

func TestReportStoreGetMissing(t *testing.T) {
	t.Parallel()

	store, _ := newReportStore(t)
	_, err := store.Get(context.Background(), "nope")
	require.ErrorIs(t, err, crawljob.ErrReportNotFound)
}

func TestReportStoreRejectsTraversalIDs(t *testing.T) {
	t.Parallel()

	store, _ := newReportStore(t)
	_, err := store.Upsert(context.Background(), "../escape", crawljob.Patch{})
	require.ErrorIs(t, err, crawljob.ErrMalformedInput)
}

func TestReportStoreListIDs(t *testing.T) {
	t.Parallel()

	store, dir := newReportStore(t)
	ctx := context.Background()
	for _, id := range []string{"b", "a", "c"} {
		_, err := store.Upsert(ctx, id, crawljob.Patch{})
		require.NoError(t, err)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))

	ids, err := store.ListIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestReportStoreToleratesUnknownFields(t *testing.T) {
	t.Parallel()

	store, dir := newReportStore(t)
	legacy := `{"id":"old","status":"completed","crawl_url":"https://example.com",
"data":[{"markdown":"huge"}],"next":"http://x","downloaded_files":5,
"created_at":"2024-03-01T10:00:00","updated_at":"2024-03-01T10:00:00"}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "old.json"), []byte(legacy), 0o600))

	report, err := store.Upsert(context.Background(), "old", crawljob.Patch{})
	require.NoError(t, err)
	assert.Equal(t, 5, report.DownloadedFiles)
	assert.Equal(t, 2024, report.CreatedAt.Year())

	// #nosec G304 -- test reads from the controlled temp directory.
	raw, err := os.ReadFile(filepath.Join(dir, "old.json"))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), `"data"`)
	assert.NotContains(t, string(raw), `"next"`)
}
