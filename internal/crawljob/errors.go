package crawljob

import (
	"errors"
	"fmt"
)

// Error taxonomy. Callers match with errors.Is.
var (
	// ErrSubmissionFailed means the remote service rejected or failed to start a job.
	ErrSubmissionFailed = errors.New("submission failed")
	// ErrNotReady means a download was requested before the job completed.
	ErrNotReady = errors.New("job not ready")
	// ErrTransferFailed means a result page fetch returned a non-success response.
	ErrTransferFailed = errors.New("transfer failed")
	// ErrMalformedInput means user-supplied parameters failed validation.
	ErrMalformedInput = errors.New("malformed input")
	// ErrExtractionSkip means a single result item lacked a text body.
	ErrExtractionSkip = errors.New("extraction skipped")
	// ErrReportNotFound means no report is stored for the id.
	ErrReportNotFound = errors.New("report not found")
	// ErrRemote is the fallback kind for remote calls outside the taxonomy.
	ErrRemote = errors.New("remote call failed")
)

// RemoteError carries enough context to retry a failed remote call by hand.
type RemoteError struct {
	Kind       error
	Op         string
	JobID      string
	URL        string
	StatusCode int
	Message    string
	Err        error
}

func (e *RemoteError) Error() string {
	msg := e.Op
	if e.JobID != "" {
		msg += fmt.Sprintf(" job=%s", e.JobID)
	}
	if e.URL != "" {
		msg += fmt.Sprintf(" url=%s", e.URL)
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" http_status=%d", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the taxonomy kind and the underlying cause.
func (e *RemoteError) Unwrap() []error {
	kind := e.Kind
	if kind == nil {
		kind = ErrRemote
	}
	if e.Err == nil {
		return []error{kind}
	}
	return []error{kind, e.Err}
}

// NotReadyError reports the status a job was in when a download was refused.
type NotReadyError struct {
	JobID  string
	Status Status
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("job %q is not completed, current status is %q", e.JobID, e.Status)
}

// Unwrap lets errors.Is match ErrNotReady.
func (e *NotReadyError) Unwrap() error {
	return ErrNotReady
}
