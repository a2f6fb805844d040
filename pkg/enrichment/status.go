package enrichment

import "strings"

// Status is the classified form of a snapshot's status field.
type Status string

const (
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusInProgress Status = "inprogress"
	StatusInQueue    Status = "inqueue"

	// StatusUnknown covers any status string this monitor does not recognize.
	// Polling continues so new service states never abort a run.
	StatusUnknown Status = "unknown"
	// StatusNoData means the snapshot carried no status at all.
	StatusNoData Status = "no-data"
)

// Classify maps a raw status value onto a Status. Comparison ignores case and
// surrounding whitespace.
func Classify(raw string) Status {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch Status(s) {
	case "":
		return StatusNoData
	case StatusCompleted, StatusFailed, StatusCancelled, StatusInProgress, StatusInQueue:
		return Status(s)
	default:
		return StatusUnknown
	}
}

// Terminal reports whether polling must stop once this status is observed.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}
