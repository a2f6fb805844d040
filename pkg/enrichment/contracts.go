package enrichment

import "context"

// Submitter starts one enrichment job.
type Submitter interface {
	Submit(ctx context.Context, req Request) (JobID, error)
}

// StatusChecker issues one status query. ok is false when the service answered
// without a snapshot.
type StatusChecker interface {
	CheckStatus(ctx context.Context, id JobID) (snap Snapshot, ok bool, err error)
}

// Notifier announces terminal failures. Callers treat delivery as best-effort:
// a returned error is logged and never changes the outcome of a run.
type Notifier interface {
	NotifyFailed(ctx context.Context, req Request, snap Snapshot) error
	NotifyCancelled(ctx context.Context, req Request, snap Snapshot) error
}

// OutputStore persists a value into a named output slot.
type OutputStore interface {
	SetValue(ctx context.Context, key string, value []byte) error
}

// UsageSink records one billable usage event.
type UsageSink interface {
	Charge(ctx context.Context, ev UsageEvent) error
}

// NoopNotifier drops every notification.
type NoopNotifier struct{}

func (NoopNotifier) NotifyFailed(context.Context, Request, Snapshot) error    { return nil }
func (NoopNotifier) NotifyCancelled(context.Context, Request, Snapshot) error { return nil }
