package enrichment

import (
	"context"
	"strconv"
	"strings"
)

const (
	// RecordsPerUnit is the billing quantum: one unit per started thousand records.
	RecordsPerUnit = 1000
	// UsageEventName is the event name charged for enriched records.
	UsageEventName = "ENRICHED_RECORDS"
	// OutputKey is the output slot the final result is stored under.
	OutputKey = "OUTPUT"
)

// UsageEvent is one charge against the billing sink.
type UsageEvent struct {
	EventName string `json:"eventName"`
	Count     int    `json:"count"`
}

// Units converts an enriched record count into billable units, rounding up.
func Units(enrichedRecords int) int {
	if enrichedRecords <= 0 {
		return 0
	}
	return (enrichedRecords + RecordsPerUnit - 1) / RecordsPerUnit
}

// ParseRecordCount reads a record count the way the service reports it. Leading
// digits are taken ("1200", "1200.0" and "1200 rows" all give 1200); anything
// else, including an absent value, counts as 0.
func ParseRecordCount(v Text) int {
	s := v.String()
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	start := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == start {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimPrefix(s[:end], "+"))
	if err != nil {
		return 0
	}
	return n
}

// Charge emits exactly one usage event for a positive record count and nothing
// otherwise. charged reports whether the sink was called.
func Charge(ctx context.Context, sink UsageSink, enrichedRecords int) (ev UsageEvent, charged bool, err error) {
	if enrichedRecords <= 0 {
		return UsageEvent{}, false, nil
	}
	ev = UsageEvent{EventName: UsageEventName, Count: Units(enrichedRecords)}
	if err := sink.Charge(ctx, ev); err != nil {
		return ev, false, err
	}
	return ev, true, nil
}
