package crawljob

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"
)

// PathDelimiter replaces "/" in relative paths so content stays in a flat namespace.
const PathDelimiter = "::"

// maxStemBytes keeps stems plus the longest artifact suffix under common
// filesystem name limits.
const maxStemBytes = 240

// NormalizeURL reduces rawURL to scheme and host only.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("%w: parse url %q: %v", ErrMalformedInput, rawURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: url %q must include scheme and host", ErrMalformedInput, rawURL)
	}
	out := url.URL{Scheme: strings.ToLower(u.Scheme), Host: strings.ToLower(u.Host)}
	return out.String(), nil
}

// RelativePath strips baseURL from pageURL and trims surrounding slashes.
func RelativePath(baseURL, pageURL string) string {
	rel := strings.TrimPrefix(strings.TrimSpace(pageURL), baseURL)
	return strings.Trim(rel, "/")
}

// StemFor turns a relative path into a flat file stem.
func StemFor(relPath string) string {
	stem := strings.ReplaceAll(relPath, "/", PathDelimiter)
	if stem == "" {
		stem = "index"
	}
	if len(stem) > maxStemBytes {
		sum := sha256.Sum256([]byte(relPath))
		cut := maxStemBytes - 17
		for cut > 0 && !utf8.RuneStart(stem[cut]) {
			cut--
		}
		stem = stem[:cut] + "-" + hex.EncodeToString(sum[:8])
	}
	return stem
}

// SnapshotName is the storage key for a base URL's visited-page snapshot.
func SnapshotName(normalizedURL string) string {
	return strings.ReplaceAll(normalizedURL, "/", "#")
}
