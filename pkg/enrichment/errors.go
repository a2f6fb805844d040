package enrichment

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoInput is returned when the process input is absent.
	ErrNoInput = errors.New("no input provided: apolloLink, noOfLeads and fileName are required")

	// ErrTerminal matches FailedError and CancelledError via errors.Is.
	ErrTerminal = errors.New("enrichment reached a terminal state")
)

// SubmissionError means no job identifier was obtained. Nothing was polled.
type SubmissionError struct {
	// Body is the raw submission response, kept for diagnostics.
	Body string
	Err  error
}

func (e *SubmissionError) Error() string {
	if e == nil {
		return "submit enrichment request"
	}
	if e.Err != nil {
		return "submit enrichment request: " + e.Err.Error()
	}
	return fmt.Sprintf("failed to get record_id from enrichment request (response=%s)", strings.TrimSpace(e.Body))
}

func (e *SubmissionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// FailedError reports a job the service marked as failed.
type FailedError struct {
	JobID   JobID
	Message string
}

func (e *FailedError) Error() string {
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = "Unknown error"
	}
	return "enrichment failed: " + msg
}

func (e *FailedError) Is(target error) bool { return target == ErrTerminal }

// CancelledError reports a job the service marked as cancelled.
type CancelledError struct {
	JobID  JobID
	Reason string
}

func (e *CancelledError) Error() string {
	reason := strings.TrimSpace(e.Reason)
	if reason == "" {
		reason = "Unknown reason"
	}
	return "enrichment cancelled: " + reason
}

func (e *CancelledError) Is(target error) bool { return target == ErrTerminal }

// TimeoutError means the attempt budget ran out before a terminal status.
type TimeoutError struct {
	JobID    JobID
	Attempts int
	// ElapsedMinutes is estimated from the budget and the poll interval.
	ElapsedMinutes int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout: no completion status received after %d attempts (%d minutes)", e.Attempts, e.ElapsedMinutes)
}

// TransientError wraps a per-attempt failure the poller absorbs and retries.
type TransientError struct {
	// Kind is a short classification for logs: timeout, http <code> or other.
	Kind string
	Err  error
}

func (e *TransientError) Error() string {
	if e == nil || e.Err == nil {
		return "transient error"
	}
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
