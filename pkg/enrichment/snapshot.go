package enrichment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Text is a JSON scalar that the service sends either as a string or as a number.
// Numbers and booleans keep their literal form.
type Text string

func (t *Text) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*t = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = Text(s)
		return nil
	}
	*t = Text(b)
	return nil
}

// String returns the trimmed value.
func (t Text) String() string {
	return strings.TrimSpace(string(t))
}

// Or returns the value, or fallback when it is blank.
func (t Text) Or(fallback string) string {
	if s := t.String(); s != "" {
		return s
	}
	return fallback
}

// Snapshot is the decoded body of one status query.
type Snapshot struct {
	Status             Text `json:"enrichment_status"`
	EnrichedRecords    Text `json:"enriched_records"`
	ErrorMessage       Text `json:"error_message"`
	CancellationReason Text `json:"cancellation_reason"`
	ProgressPercentage Text `json:"progress_percentage"`
	QueuePosition      Text `json:"queue_position"`
	SpreadsheetURL     Text `json:"spreadsheet_url"`
	CreditsInvolved    Text `json:"credits_involved"`
	FileName           Text `json:"file_name"`
	RecordID           Text `json:"record_id"`

	// Echoed request details and timestamps, used only for notifications.
	RequestedLeadsCount Text `json:"requested_leads_count"`
	ApolloLink          Text `json:"apollo_link"`
	FailureTime         Text `json:"failure_time"`
	CancelledTime       Text `json:"cancelled_time"`

	// Raw is the service payload exactly as received.
	Raw json.RawMessage `json:"-"`
}

func (s *Snapshot) UnmarshalJSON(b []byte) error {
	type plain Snapshot
	var aux struct {
		plain
		LegacyStatus Text `json:"status"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	*s = Snapshot(aux.plain)
	if s.Status.String() == "" {
		s.Status = aux.LegacyStatus
	}
	s.Raw = append(json.RawMessage(nil), bytes.TrimSpace(b)...)
	return nil
}

// MarshalJSON emits the payload as received so persisted results keep every
// field the service returned.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	if len(s.Raw) > 0 {
		return s.Raw, nil
	}
	type plain Snapshot
	return json.Marshal(plain(s))
}

// DecodeSnapshot normalizes a status response body. The service answers with
// either one object or a one-element array holding that object. ok is false when
// the body carries no snapshot at all (empty, null or an empty array).
func DecodeSnapshot(body []byte) (snap Snapshot, ok bool, err error) {
	body = bytes.TrimSpace(body)
	if isEmptyJSON(body) {
		return Snapshot{}, false, nil
	}
	if body[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(body, &items); err != nil {
			return Snapshot{}, false, fmt.Errorf("decode status array: %w", err)
		}
		if len(items) == 0 {
			return Snapshot{}, false, nil
		}
		body = bytes.TrimSpace(items[0])
		if isEmptyJSON(body) {
			return Snapshot{}, false, nil
		}
	}
	if body[0] != '{' {
		return Snapshot{}, false, fmt.Errorf("decode status: unexpected payload starting with %q", body[0])
	}
	if err := json.Unmarshal(body, &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("decode status: %w", err)
	}
	return snap, true, nil
}

func isEmptyJSON(b []byte) bool {
	return len(b) == 0 || bytes.Equal(b, []byte("null"))
}
