package progress

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// TestHubDeliversInOrder verifies every sink sees each event before Emit returns.
func TestHubDeliversInOrder(t *testing.T) {
	t.Parallel()

	first, second := newStubSink(), newStubSink()
	hub := NewHub(Config{}, first, nil, second)

	hub.Emit(context.Background(), sampleEvent(StageDownloadStart))
	page := sampleEvent(StagePageDone)
	page.Page = 1
	hub.Emit(context.Background(), page)

	require.Equal(t, []Stage{StageDownloadStart, StagePageDone}, first.Stages())
	require.Equal(t, first.Stages(), second.Stages())
}

// TestHubDropsInvalidEvents keeps malformed events away from sinks.
func TestHubDropsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{}, sink)

	hub.Emit(context.Background(), Event{Stage: StageDownloadStart})
	page := sampleEvent(StagePageDone)
	hub.Emit(context.Background(), page)

	require.Empty(t, sink.Stages())
}

// TestHubSinkErrorsAreNotFatal ensures one failing sink does not starve the rest.
func TestHubSinkErrorsAreNotFatal(t *testing.T) {
	t.Parallel()

	failing := newStubSink()
	failing.consumeErr = errors.New("boom")
	healthy := newStubSink()
	hub := NewHub(Config{}, failing, healthy)

	hub.Emit(context.Background(), sampleEvent(StageDownloadDone))
	require.Len(t, healthy.Stages(), 1)
}

// TestHubEmitAfterCancel still reports terminal events for canceled runs.
func TestHubEmitAfterCancel(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{SinkTimeout: time.Second}, sink)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	hub.Emit(ctx, sampleEvent(StageDownloadError))
	require.Equal(t, []Stage{StageDownloadError}, sink.Stages())
	require.NoError(t, sink.lastCtxErr)
}

// TestHubCloseIdempotent ensures sinks close once and later events are ignored.
func TestHubCloseIdempotent(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{}, sink)
	require.NoError(t, hub.Close(context.Background()))
	require.NoError(t, hub.Close(context.Background()))
	require.Equal(t, 1, sink.closed)

	hub.Emit(context.Background(), sampleEvent(StageDownloadStart))
	hub.Add(newStubSink())
	require.Empty(t, sink.Stages())
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, sampleEvent(StageDownloadStart).Validate())

	skipped := sampleEvent(StageItemSkipped)
	require.Error(t, skipped.Validate())
	skipped.URL = "https://example.com/a"
	require.NoError(t, skipped.Validate())

	unknown := sampleEvent(Stage("BOGUS"))
	require.Error(t, unknown.Validate())

	negative := sampleEvent(StageDownloadDone)
	negative.Dur = -time.Second
	require.Error(t, negative.Validate())

	require.True(t, sampleEvent(StageDownloadError).Terminal())
	require.False(t, sampleEvent(StageDownloadStart).Terminal())
}

func sampleEvent(stage Stage) Event {
	return Event{
		RunID: uuid.New(),
		JobID: "job-1",
		TS:    time.Now(),
		Stage: stage,
	}
}

type stubSink struct {
	mu         sync.Mutex
	stages     []Stage
	consumeErr error
	lastCtxErr error
	closed     int
}

func newStubSink() *stubSink {
	return &stubSink{}
}

func (s *stubSink) Consume(ctx context.Context, evt Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stages = append(s.stages, evt.Stage)
	s.lastCtxErr = ctx.Err()
	return s.consumeErr
}

func (s *stubSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *stubSink) Stages() []Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Stage(nil), s.stages...)
}
