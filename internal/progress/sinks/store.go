package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-harvester/internal/progress"
	"github.com/JakeFAU/crawl-harvester/internal/store"
)

// StoreSink persists download runs via a store.ProgressRepository.
type StoreSink struct {
	repo   store.ProgressRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.ProgressRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume forwards run lifecycle and page deltas to the repository. Skipped
// items are already counted by the page event that follows them.
func (s *StoreSink) Consume(ctx context.Context, evt progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	switch evt.Stage {
	case progress.StageDownloadStart:
		if err := s.repo.StartRun(ctx, evt.RunID, evt.JobID, evt.Done, evt.TS); err != nil {
			return fmt.Errorf("start run: %w", err)
		}
	case progress.StagePageDone:
		if err := s.repo.RecordPage(ctx, evt.RunID, int64(evt.Items), int64(evt.Skipped), evt.TS); err != nil {
			return fmt.Errorf("record page: %w", err)
		}
	case progress.StageDownloadDone:
		if err := s.repo.CompleteRun(ctx, evt.RunID, evt.TS, store.RunSuccess, int64(evt.Done), nil); err != nil {
			return fmt.Errorf("complete run: %w", err)
		}
	case progress.StageDownloadError:
		var note *string
		if evt.Note != "" {
			note = &evt.Note
		}
		if err := s.repo.CompleteRun(ctx, evt.RunID, evt.TS, store.RunError, int64(evt.Done), note); err != nil {
			return fmt.Errorf("complete run: %w", err)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
