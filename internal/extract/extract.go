// Package extract turns remote result items into content artifacts, reading
// article landmarks out of the raw markup when it is available.
package extract

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/crawl-harvester/internal/crawljob"
)

// Landmark selectors for the structured metadata fields.
const (
	SelectorTopic   = "a.main__rubric"
	SelectorDate    = "a.main__date"
	SelectorTitle   = "h1.main__news-title"
	SelectorSummary = "p.main__news-lead"
	SelectorTagBox  = "div.page-main__tags"
	SelectorTag     = "a.page-main__option"
)

// Extractor labels every metadata record with a fixed source.
type Extractor struct {
	Source     string
	SourceType string
}

// New returns an Extractor writing the given labels.
func New(source, sourceType string) *Extractor {
	return &Extractor{Source: source, SourceType: sourceType}
}

// Extract builds the artifact set for item, which was crawled under crawlURL.
// Items without a text body yield an error matching crawljob.ErrExtractionSkip.
func (e *Extractor) Extract(crawlURL string, item crawljob.ResultItem) (crawljob.ContentItem, error) {
	pageURL := canonicalURL(item.Metadata)
	if pageURL == "" {
		return crawljob.ContentItem{}, fmt.Errorf("%w: item has no source url", crawljob.ErrExtractionSkip)
	}
	if item.Markdown == nil || *item.Markdown == "" {
		return crawljob.ContentItem{}, fmt.Errorf("%w: no markdown on page %s", crawljob.ErrExtractionSkip, pageURL)
	}

	rel := crawljob.RelativePath(crawlURL, pageURL)
	meta := crawljob.Metadata{
		URL:         pageURL,
		Source:      e.Source,
		SourceType:  e.SourceType,
		ArticleText: *item.Markdown,
	}

	if item.RawHTML != "" {
		applyLandmarks(&meta, item.RawHTML)
	}
	if meta.Title == nil {
		meta.Title = firstMeta(item.Metadata, "title", "ogTitle")
	}
	if meta.ArticleSummary == nil {
		meta.ArticleSummary = firstMeta(item.Metadata, "description", "ogDescription")
	}

	return crawljob.ContentItem{
		URL:      pageURL,
		RelPath:  rel,
		Stem:     crawljob.StemFor(rel),
		Text:     *item.Markdown,
		RawHTML:  item.RawHTML,
		Metadata: meta,
	}, nil
}

// applyLandmarks fills the fields found in rawHTML. Missing landmarks leave
// the field nil.
func applyLandmarks(meta *crawljob.Metadata, rawHTML string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return
	}
	meta.Topics = landmark(doc, SelectorTopic)
	meta.CreatedDate = landmark(doc, SelectorDate)
	meta.Title = landmark(doc, SelectorTitle)
	meta.ArticleSummary = landmark(doc, SelectorSummary)

	box := doc.Find(SelectorTagBox).First()
	if box.Length() == 0 {
		return
	}
	tags := []string{}
	box.Find(SelectorTag).Each(func(_ int, s *goquery.Selection) {
		tags = append(tags, strings.TrimSpace(s.Text()))
	})
	meta.Tags = tags
}

func landmark(doc *goquery.Document, selector string) *string {
	sel := doc.Find(selector).First()
	if sel.Length() == 0 {
		return nil
	}
	text := strings.TrimSpace(sel.Text())
	return &text
}

func canonicalURL(meta map[string]any) string {
	if v := firstMeta(meta, "sourceURL", "ogUrl"); v != nil {
		return strings.TrimSpace(*v)
	}
	return ""
}

// firstMeta returns the first non-empty value among keys. The remote service
// sometimes sends lists for repeated meta tags; the first entry wins.
func firstMeta(meta map[string]any, keys ...string) *string {
	for _, key := range keys {
		if s := metaString(meta[key]); s != "" {
			return &s
		}
	}
	return nil
}

func metaString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case []any:
		for _, entry := range val {
			if s, ok := entry.(string); ok && s != "" {
				return s
			}
		}
	case []string:
		for _, s := range val {
			if s != "" {
				return s
			}
		}
	}
	return ""
}
