package progress

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultSinkTimeout = 10 * time.Second

// Config controls how the Hub calls its sinks.
//   - SinkTimeout: per-sink timeout for each event (default 10s).
//   - Logger: optional structured logger used for warnings.
type Config struct {
	SinkTimeout time.Duration
	Logger      *zap.Logger
}

// Hub delivers each event to every registered sink in registration order
// before Emit returns. Sink failures are logged and never reach the caller.
type Hub struct {
	cfg    Config
	logger *zap.Logger

	mu     sync.Mutex
	sinks  []Sink
	closed bool
}

// NewHub initializes a Hub with the supplied sinks.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{cfg: cfg, logger: logger}
	for _, sink := range sinks {
		if sink != nil {
			h.sinks = append(h.sinks, sink)
		}
	}
	return h
}

// Add registers another sink. Sinks added after Close are ignored.
func (h *Hub) Add(sink Sink) {
	if h == nil || sink == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.sinks = append(h.sinks, sink)
}

// Emit validates evt and hands it to every sink.
func (h *Hub) Emit(ctx context.Context, evt Event) {
	if h == nil {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	sinks := append([]Sink(nil), h.sinks...)
	h.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	// A canceled download still reports its error event.
	base := context.WithoutCancel(ctx)
	for _, sink := range sinks {
		sinkCtx, cancel := context.WithTimeout(base, h.cfg.SinkTimeout)
		if err := sink.Consume(sinkCtx, evt); err != nil {
			h.logger.Warn("progress sink consume failed",
				zap.String("stage", string(evt.Stage)),
				zap.String("job_id", evt.JobID),
				zap.Error(err))
		}
		cancel()
	}
}

// Close closes every sink once. Later calls are no-ops.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	sinks := h.sinks
	h.sinks = nil
	h.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	var errs []error
	for _, sink := range sinks {
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
