// Package progress defines the events a download run emits and the hub that
// fans them out to sinks such as logs, Prometheus, Postgres or a terminal
// spinner.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageDownloadStart Stage = "DOWNLOAD_START"
	StagePageDone      Stage = "PAGE_DONE"
	StageItemSkipped   Stage = "ITEM_SKIPPED"
	StageDownloadDone  Stage = "DOWNLOAD_DONE"
	StageDownloadError Stage = "DOWNLOAD_ERROR"
)

// Event captures a single milestone of one download run.
type Event struct {
	// RunID identifies one invocation of the downloader for a job.
	RunID uuid.UUID
	// JobID is the remote crawl job id.
	JobID string
	// TS is the timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// URL is set for skipped items.
	URL string
	// Page is the 1-based result page number for page events.
	Page int
	// Items is the number of items written by the page.
	Items int
	// Skipped is the number of items skipped by the page.
	Skipped int
	// Done is the persisted cursor after the event.
	Done int
	// Total is the number of items the remote service reported.
	Total int
	// Dur is the wall time of the page fetch or the whole run.
	Dur time.Duration
	// Note carries error text or the skip reason.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == uuid.Nil {
		return errors.New("run id is required")
	}
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageDownloadStart, StageDownloadDone, StageDownloadError:
	case StagePageDone:
		if e.Page <= 0 {
			return errors.New("page done requires a page number")
		}
	case StageItemSkipped:
		if e.URL == "" && e.Note == "" {
			return errors.New("item skipped requires url or note")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	if e.Items < 0 || e.Skipped < 0 || e.Done < 0 {
		return errors.New("counters must be >= 0")
	}
	return nil
}

// Terminal reports whether e closes its run.
func (e Event) Terminal() bool {
	return e.Stage == StageDownloadDone || e.Stage == StageDownloadError
}
