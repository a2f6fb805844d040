// Package poller drives a submitted enrichment job to a terminal state.
package poller

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/ternarybob/arbor"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/shpitdev/searchleads-enrichment-monitor/pkg/enrichment"
	"github.com/shpitdev/searchleads-enrichment-monitor/pkg/redact"
)

const instrumentationName = "github.com/shpitdev/searchleads-enrichment-monitor/pkg/enrichment/poller"

const (
	DefaultMaxRetries     = 17280
	DefaultInterval       = 10 * time.Second
	DefaultRequestTimeout = 30 * time.Second
)

type Options struct {
	// MaxRetries is the attempt budget. Every status query counts against it.
	MaxRetries int
	// Interval is the fixed delay slept after every non-terminal attempt.
	Interval time.Duration
	// RequestTimeout bounds each status query.
	RequestTimeout time.Duration

	// Delay replaces the constant Interval policy. Tests use backoff.ZeroBackOff.
	Delay backoff.BackOff
}

func (o Options) withDefaults() Options {
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	if o.Delay == nil {
		o.Delay = backoff.NewConstantBackOff(o.Interval)
	}
	return o
}

// Poller queries job status until the job completes, fails, is cancelled or
// the attempt budget runs out. A Poller is not safe for concurrent use.
type Poller struct {
	checker  enrichment.StatusChecker
	notifier enrichment.Notifier
	logger   arbor.ILogger
	opts     Options

	tracer   trace.Tracer
	attempts metric.Int64Counter
	now      func() time.Time
}

func New(checker enrichment.StatusChecker, notifier enrichment.Notifier, logger arbor.ILogger, opts Options) *Poller {
	if notifier == nil {
		notifier = enrichment.NoopNotifier{}
	}
	if logger == nil {
		logger = arbor.NewLogger()
	}
	attempts, err := otel.Meter(instrumentationName).Int64Counter(
		"enrichment.poll.attempts",
		metric.WithDescription("Status queries issued while polling an enrichment job"),
	)
	if err != nil {
		attempts = noop.Int64Counter{}
	}
	return &Poller{
		checker:  checker,
		notifier: notifier,
		logger:   logger,
		opts:     opts.withDefaults(),
		tracer:   otel.Tracer(instrumentationName),
		attempts: attempts,
		now:      time.Now,
	}
}

// Poll blocks until the job identified by id reaches a terminal state.
//
// Only *enrichment.FailedError, *enrichment.CancelledError and
// *enrichment.TimeoutError are returned, plus the context error if ctx ends.
// Network failures, empty bodies and unrecognized statuses are logged and
// retried after the fixed delay.
func (p *Poller) Poll(ctx context.Context, id enrichment.JobID, req enrichment.Request) (enrichment.Result, error) {
	ctx, span := p.tracer.Start(ctx, "enrichment.Poll", trace.WithAttributes(
		attribute.String("record_id", string(id)),
		attribute.Int("max_retries", p.opts.MaxRetries),
	))
	defer span.End()

	state := enrichment.PollState{StartedAt: p.now()}
	delay := p.opts.Delay
	delay.Reset()

	p.logger.Info().Str("record_id", string(id)).Int("max_retries", p.opts.MaxRetries).Msg("starting status monitoring")

	for state.Attempt < p.opts.MaxRetries {
		res, done, err := p.attempt(ctx, id, req, state)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return enrichment.Result{}, err
		}
		if done {
			span.SetAttributes(attribute.Int("attempts", res.Attempts))
			return res, nil
		}

		wait := delay.NextBackOff()
		if wait == backoff.Stop {
			break
		}
		if err := sleep(ctx, wait); err != nil {
			return enrichment.Result{}, err
		}
		state.Attempt++
	}

	terr := &enrichment.TimeoutError{
		JobID:          id,
		Attempts:       state.Attempt,
		ElapsedMinutes: int(math.Round(float64(p.opts.MaxRetries) * p.opts.Interval.Minutes())),
	}
	p.logger.Error().
		Str("record_id", string(id)).
		Str("elapsed", p.now().Sub(state.StartedAt).Round(time.Second).String()).
		Msg("polling timeout reached: " + terr.Error())
	span.RecordError(terr)
	span.SetStatus(codes.Error, terr.Error())
	return enrichment.Result{}, terr
}

// attempt runs one iteration. done reports a completed job; err is either a
// terminal error or the parent context's error.
func (p *Poller) attempt(ctx context.Context, id enrichment.JobID, req enrichment.Request, state enrichment.PollState) (res enrichment.Result, done bool, err error) {
	progress := fmt.Sprintf("%d/%d", state.Attempt+1, p.opts.MaxRetries)

	snap, ok, qerr := p.query(ctx, id)
	if qerr != nil {
		if ctx.Err() != nil {
			return enrichment.Result{}, false, ctx.Err()
		}
		terr := transient(qerr)
		p.record(ctx, "error")
		p.logger.Warn().
			Str("attempt", progress).
			Str("kind", terr.Kind).
			Str("error", redact.Secrets(terr.Error())).
			Msg("error during status check; retrying")
		return enrichment.Result{}, false, nil
	}
	if !ok {
		p.record(ctx, "no_data")
		p.logger.Warn().Str("attempt", progress).Msg("no data received in status response")
		return enrichment.Result{}, false, nil
	}

	if state.Attempt == 0 {
		p.logger.Debug().Str("response", redact.Secrets(string(snap.Raw))).Msg("raw status response")
	}

	status := enrichment.Classify(snap.Status.String())
	p.record(ctx, string(status))
	p.logger.Info().Str("status", snap.Status.String()).Str("attempt", progress).Msg("status")

	switch status {
	case enrichment.StatusCompleted:
		p.logger.Info().Str("record_id", string(id)).Msg("enrichment completed; stopping polling")
		return enrichment.Result{
			Snapshot:    snap,
			Attempts:    state.Attempt + 1,
			CompletedAt: p.now(),
		}, true, nil

	case enrichment.StatusFailed:
		p.logger.Error().Str("record_id", string(id)).Msg("enrichment failed; sending notification")
		p.notify(ctx, "failed", func(ctx context.Context) error {
			return p.notifier.NotifyFailed(ctx, req, snap)
		})
		return enrichment.Result{}, false, &enrichment.FailedError{JobID: id, Message: snap.ErrorMessage.String()}

	case enrichment.StatusCancelled:
		p.logger.Warn().Str("record_id", string(id)).Msg("enrichment cancelled; sending notification")
		p.notify(ctx, "cancelled", func(ctx context.Context) error {
			return p.notifier.NotifyCancelled(ctx, req, snap)
		})
		return enrichment.Result{}, false, &enrichment.CancelledError{JobID: id, Reason: snap.CancellationReason.String()}

	case enrichment.StatusInProgress, enrichment.StatusInQueue:
		p.logger.Info().Str("status", snap.Status.String()).Msg("continuing to poll")
		if v := snap.ProgressPercentage.String(); v != "" {
			p.logger.Info().Str("record_id", string(id)).Msg("progress: " + v + "%")
		}
		if v := snap.QueuePosition.String(); v != "" {
			p.logger.Info().Str("record_id", string(id)).Msg("queue position: " + v)
		}

	case enrichment.StatusNoData:
		p.logger.Warn().Str("attempt", progress).Msg("status response has no status field")

	default:
		p.logger.Warn().Str("status", snap.Status.String()).Msg("unknown status received; continuing to poll")
	}
	return enrichment.Result{}, false, nil
}

func (p *Poller) query(ctx context.Context, id enrichment.JobID) (enrichment.Snapshot, bool, error) {
	qctx, cancel := context.WithTimeout(ctx, p.opts.RequestTimeout)
	defer cancel()

	qctx, span := p.tracer.Start(qctx, "enrichment.CheckStatus")
	defer span.End()

	snap, ok, err := p.checker.CheckStatus(qctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return snap, ok, err
}

// notify delivers a notification without letting its outcome escape.
func (p *Poller) notify(ctx context.Context, kind string, send func(context.Context) error) {
	if err := send(ctx); err != nil {
		p.logger.Warn().
			Str("kind", kind).
			Str("error", redact.Secrets(err.Error())).
			Msg("notification delivery failed")
	}
}

func (p *Poller) record(ctx context.Context, outcome string) {
	p.attempts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

type httpStatusError interface {
	HTTPStatus() int
}

func transient(err error) *enrichment.TransientError {
	var te *enrichment.TransientError
	if errors.As(err, &te) {
		return te
	}
	return &enrichment.TransientError{Kind: transientKind(err), Err: err}
}

func transientKind(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return "timeout"
	}
	var he httpStatusError
	if errors.As(err, &he) {
		return fmt.Sprintf("http %d", he.HTTPStatus())
	}
	return "other"
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
