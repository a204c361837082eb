package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if remoteRequestsTotal == nil || remoteRequestDurationSeconds == nil ||
		httpRequestsTotal == nil || httpRequestDurationSeconds == nil || jobsSubmittedTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveRemoteRequest(t *testing.T) {
	before := testutil.ToFloat64(remoteCounter("status", "200"))
	ObserveRemoteRequest("status", 200, 20*time.Millisecond)
	ObserveRemoteRequest("status", 0, time.Millisecond)

	if got := testutil.ToFloat64(remoteCounter("status", "200")) - before; got != 1 {
		t.Errorf("expected one status/200 observation, got %f", got)
	}
	if got := testutil.ToFloat64(remoteCounter("status", "error")); got < 1 {
		t.Errorf("expected transport failures under code=error, got %f", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	ObserveSubmission("accepted")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "harvester_jobs_submitted_total") {
		t.Fatal("expected submission counter in exposition")
	}
}

func remoteCounter(op, code string) prometheus.Counter {
	Init()
	return remoteRequestsTotal.WithLabelValues(op, code)
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
