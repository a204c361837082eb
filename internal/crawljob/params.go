package crawljob

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// SupportedFormats enumerates the output formats the remote service accepts.
var SupportedFormats = []string{"markdown", "html", "rawHtml", "links", "screenshot"}

// ParseStringList decodes a JSON array of strings supplied on the command line.
func ParseStringList(name, raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return []string{}, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("%w: %s must be a JSON array of strings, got %q: %v", ErrMalformedInput, name, raw, err)
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

// Validate checks the enumerated and numeric fields of p.
func (p Params) Validate() error {
	if p.MaxDepth < 0 {
		return fmt.Errorf("%w: maxDepth must be >= 0", ErrMalformedInput)
	}
	if p.Limit <= 0 {
		return fmt.Errorf("%w: limit must be > 0", ErrMalformedInput)
	}
	if p.ScrapeOptions.WaitFor < 0 {
		return fmt.Errorf("%w: waitFor must be >= 0", ErrMalformedInput)
	}
	if len(p.ScrapeOptions.Formats) == 0 {
		return fmt.Errorf("%w: at least one format is required", ErrMalformedInput)
	}
	for _, f := range p.ScrapeOptions.Formats {
		if !slices.Contains(SupportedFormats, f) {
			return fmt.Errorf("%w: unsupported format %q (supported: %s)",
				ErrMalformedInput, f, strings.Join(SupportedFormats, " "))
		}
	}
	for _, pattern := range slices.Concat(p.ExcludePaths, p.IncludePaths) {
		if strings.TrimSpace(pattern) == "" {
			return fmt.Errorf("%w: path patterns must not be empty", ErrMalformedInput)
		}
	}
	return nil
}

// NewParams fills the fixed crawl flags the harvester always sends.
func NewParams(maxDepth, limit int, scrape ScrapeOptions) Params {
	return Params{
		ExcludePaths:       []string{},
		IncludePaths:       []string{},
		MaxDepth:           maxDepth,
		IgnoreSitemap:      true,
		Limit:              limit,
		AllowBackwardLinks: false,
		AllowExternalLinks: false,
		ScrapeOptions:      scrape,
	}
}
