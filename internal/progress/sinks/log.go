package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-harvester/internal/progress"
)

// LogSink emits structured logs for each progress event.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs evt using structured fields. Skips and errors log at Warn.
func (s *LogSink) Consume(_ context.Context, evt progress.Event) error {
	fields := []zap.Field{
		zap.String("run_id", evt.RunID.String()),
		zap.String("job_id", evt.JobID),
		zap.String("stage", string(evt.Stage)),
	}
	switch evt.Stage {
	case progress.StageItemSkipped:
		s.logger.Warn("item skipped", append(fields,
			zap.String("url", evt.URL),
			zap.String("reason", evt.Note))...)
	case progress.StageDownloadError:
		s.logger.Warn("download failed", append(fields,
			zap.Int("downloaded_files", evt.Done),
			zap.Duration("dur", evt.Dur),
			zap.String("error", evt.Note))...)
	case progress.StagePageDone:
		s.logger.Info("page downloaded", append(fields,
			zap.Int("page", evt.Page),
			zap.Int("items", evt.Items),
			zap.Int("skipped", evt.Skipped),
			zap.Int("downloaded_files", evt.Done),
			zap.Int("total", evt.Total),
			zap.Duration("dur", evt.Dur))...)
	default:
		s.logger.Info("download progress", append(fields,
			zap.Int("downloaded_files", evt.Done),
			zap.Int("total", evt.Total),
			zap.Duration("dur", evt.Dur))...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
