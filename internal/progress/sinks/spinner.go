package sinks

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/briandowns/spinner"

	"github.com/JakeFAU/crawl-harvester/internal/progress"
)

// SpinnerSink renders a one-line "downloaded N/M" indicator on a terminal.
type SpinnerSink struct {
	spin *spinner.Spinner
}

// NewSpinnerSink builds a spinner writing to w.
func NewSpinnerSink(w io.Writer) *SpinnerSink {
	s := spinner.New(spinner.CharSets[9], 100*time.Millisecond, spinner.WithWriter(w))
	return &SpinnerSink{spin: s}
}

// Consume updates the spinner suffix and starts or stops it on run boundaries.
func (s *SpinnerSink) Consume(_ context.Context, evt progress.Event) error {
	switch evt.Stage {
	case progress.StageDownloadStart:
		s.setSuffix(fmt.Sprintf(" %s: downloaded %d/%d", evt.JobID, evt.Done, evt.Total))
		s.spin.Start()
	case progress.StagePageDone:
		s.setSuffix(fmt.Sprintf(" %s: downloaded %d/%d", evt.JobID, evt.Done, evt.Total))
	case progress.StageDownloadDone:
		s.setFinal(fmt.Sprintf("%s: downloaded %d/%d\n", evt.JobID, evt.Done, evt.Total))
		s.spin.Stop()
	case progress.StageDownloadError:
		s.setFinal(fmt.Sprintf("%s: stopped at %d/%d: %s\n", evt.JobID, evt.Done, evt.Total, evt.Note))
		s.spin.Stop()
	}
	return nil
}

// Suffix returns the text currently shown next to the spinner.
func (s *SpinnerSink) Suffix() string {
	s.spin.Lock()
	defer s.spin.Unlock()
	return s.spin.Suffix
}

// FinalMessage returns the line printed when the spinner stops.
func (s *SpinnerSink) FinalMessage() string {
	s.spin.Lock()
	defer s.spin.Unlock()
	return s.spin.FinalMSG
}

func (s *SpinnerSink) setSuffix(text string) {
	s.spin.Lock()
	s.spin.Suffix = text
	s.spin.Unlock()
}

func (s *SpinnerSink) setFinal(text string) {
	s.spin.Lock()
	s.spin.FinalMSG = text
	s.spin.Unlock()
}

// Close stops the spinner if a run never reached a terminal event.
func (s *SpinnerSink) Close(context.Context) error {
	s.spin.Stop()
	return nil
}
