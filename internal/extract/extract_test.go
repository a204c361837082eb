package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-harvester/internal/crawljob"
)

const articleHTML = `<html><body>
<a class="main__rubric"> Politics </a>
<a class="main__date">12 March 2024, 10:15</a>
<h1 class="main__news-title">  Parliament adopts budget </h1>
<p class="main__news-lead">The vote passed on the second reading.</p>
<div class="page-main__tags">
  <a class="page-main__option">budget</a>
  <a class="page-main__option"> parliament </a>
</div>
</body></html>`

func strPtr(s string) *string { return &s }

func TestExtractLandmarks(t *testing.T) {
	t.Parallel()

	e := New("tatarinform", "mass_media")
	item := crawljob.ResultItem{
		Markdown: strPtr("# Parliament adopts budget"),
		RawHTML:  articleHTML,
		Metadata: map[string]any{
			"sourceURL": " https://example.com/news/2024/budget/ ",
			"title":     "ignored because the landmark wins",
		},
	}

	got, err := e.Extract("https://example.com", item)
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/news/2024/budget/", got.URL)
	assert.Equal(t, "news/2024/budget", got.RelPath)
	assert.Equal(t, "news::2024::budget", got.Stem)
	assert.Equal(t, articleHTML, got.RawHTML)

	meta := got.Metadata
	assert.Equal(t, "tatarinform", meta.Source)
	assert.Equal(t, "mass_media", meta.SourceType)
	require.NotNil(t, meta.Topics)
	assert.Equal(t, "Politics", *meta.Topics)
	require.NotNil(t, meta.CreatedDate)
	assert.Equal(t, "12 March 2024, 10:15", *meta.CreatedDate)
	require.NotNil(t, meta.Title)
	assert.Equal(t, "Parliament adopts budget", *meta.Title)
	require.NotNil(t, meta.ArticleSummary)
	assert.Equal(t, "The vote passed on the second reading.", *meta.ArticleSummary)
	assert.Equal(t, []string{"budget", "parliament"}, meta.Tags)
	assert.Equal(t, "# Parliament adopts budget", meta.ArticleText)
}

func TestExtractFallsBackToMetadata(t *testing.T) {
	t.Parallel()

	e := New("", "")
	item := crawljob.ResultItem{
		Markdown: strPtr("body"),
		RawHTML:  "<html><body><p>plain page</p></body></html>",
		Metadata: map[string]any{
			"ogUrl":         "https://example.com/about",
			"ogTitle":       "About us",
			"description":   "",
			"ogDescription": []any{"", "Who we are"},
		},
	}

	got, err := e.Extract("https://example.com", item)
	require.NoError(t, err)
	assert.Equal(t, "about", got.Stem)
	require.NotNil(t, got.Metadata.Title)
	assert.Equal(t, "About us", *got.Metadata.Title)
	require.NotNil(t, got.Metadata.ArticleSummary)
	assert.Equal(t, "Who we are", *got.Metadata.ArticleSummary)
	assert.Nil(t, got.Metadata.Topics)
	assert.Nil(t, got.Metadata.CreatedDate)
	assert.Nil(t, got.Metadata.Tags)
}

func TestExtractWithoutMarkup(t *testing.T) {
	t.Parallel()

	got, err := New("s", "t").Extract("https://example.com", crawljob.ResultItem{
		Markdown: strPtr("text"),
		Metadata: map[string]any{"sourceURL": "https://example.com/"},
	})
	require.NoError(t, err)
	assert.Equal(t, "", got.RelPath)
	assert.Equal(t, "index", got.Stem)
	assert.Empty(t, got.RawHTML)
	assert.Nil(t, got.Metadata.Title)
}

func TestExtractSkips(t *testing.T) {
	t.Parallel()

	e := New("", "")
	tests := []struct {
		name string
		item crawljob.ResultItem
	}{
		{
			name: "missing markdown",
			item: crawljob.ResultItem{Metadata: map[string]any{"sourceURL": "https://example.com/a"}},
		},
		{
			name: "empty markdown",
			item: crawljob.ResultItem{
				Markdown: strPtr(""),
				Metadata: map[string]any{"sourceURL": "https://example.com/a"},
			},
		},
		{
			name: "missing url",
			item: crawljob.ResultItem{Markdown: strPtr("body")},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := e.Extract("https://example.com", tt.item)
			require.ErrorIs(t, err, crawljob.ErrExtractionSkip)
		})
	}
}
