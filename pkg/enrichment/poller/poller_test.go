package poller_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/shpitdev/searchleads-enrichment-monitor/pkg/enrichment"
	"github.com/shpitdev/searchleads-enrichment-monitor/pkg/enrichment/poller"
)

// step is one scripted answer to a status query.
type step struct {
	body string
	err  error
}

type scriptedChecker struct {
	mu    sync.Mutex
	steps []step
	// repeat answers every query past the script with the last step.
	repeat bool
	calls  int
}

func (c *scriptedChecker) CheckStatus(_ context.Context, _ enrichment.JobID) (enrichment.Snapshot, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.calls
	c.calls++
	if idx >= len(c.steps) {
		if !c.repeat || len(c.steps) == 0 {
			panic("unexpected status query past end of script")
		}
		idx = len(c.steps) - 1
	}
	s := c.steps[idx]
	if s.err != nil {
		return enrichment.Snapshot{}, false, s.err
	}
	return enrichment.DecodeSnapshot([]byte(s.body))
}

func (c *scriptedChecker) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type call struct {
	kind string
	req  enrichment.Request
	snap enrichment.Snapshot
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []call
	err   error
}

func (n *fakeNotifier) NotifyFailed(_ context.Context, req enrichment.Request, snap enrichment.Snapshot) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, call{kind: "failed", req: req, snap: snap})
	return n.err
}

func (n *fakeNotifier) NotifyCancelled(_ context.Context, req enrichment.Request, snap enrichment.Snapshot) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, call{kind: "cancelled", req: req, snap: snap})
	return n.err
}

var testRequest = enrichment.Request{
	ApolloLink: "https://app.apollo.io/#/people?page=1",
	NoOfLeads:  1000,
	FileName:   "leads-q3",
}

func newPoller(checker enrichment.StatusChecker, notifier enrichment.Notifier, maxRetries int) *poller.Poller {
	return poller.New(checker, notifier, arbor.NewLogger(), poller.Options{
		MaxRetries:     maxRetries,
		Interval:       10 * time.Second,
		RequestTimeout: time.Second,
		Delay:          &backoff.ZeroBackOff{},
	})
}

func TestPoll_CompletesCaseInsensitively(t *testing.T) {
	t.Parallel()

	for _, status := range []string{"completed", "Completed", "COMPLETED"} {
		t.Run(status, func(t *testing.T) {
			t.Parallel()
			checker := &scriptedChecker{steps: []step{{body: `{"enrichment_status":"` + status + `","enriched_records":"10"}`}}}
			res, err := newPoller(checker, &fakeNotifier{}, 5).Poll(context.Background(), "rec-1", testRequest)
			require.NoError(t, err)
			assert.Equal(t, "10", res.EnrichedRecords.String())
			assert.Equal(t, 1, checker.Calls())
		})
	}
}

func TestPoll_StopsImmediatelyOnCompletion(t *testing.T) {
	t.Parallel()

	checker := &scriptedChecker{steps: []step{
		{body: `{"enrichment_status":"inqueue","queue_position":3}`},
		{body: `{"enrichment_status":"InProgress","progress_percentage":55}`},
		{body: `{"enrichment_status":"Completed","enriched_records":1200,"spreadsheet_url":"https://sheets.example/x"}`},
	}}

	res, err := newPoller(checker, &fakeNotifier{}, 100).Poll(context.Background(), "rec-1", testRequest)
	require.NoError(t, err)

	assert.Equal(t, 3, checker.Calls(), "no query may follow completion")
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, "https://sheets.example/x", res.SpreadsheetURL.String())
	assert.JSONEq(t, `{"enrichment_status":"Completed","enriched_records":1200,"spreadsheet_url":"https://sheets.example/x"}`, string(res.Raw))
}

func TestPoll_TimesOutAfterExactlyMaxRetries(t *testing.T) {
	t.Parallel()

	checker := &scriptedChecker{
		steps:  []step{{body: `{"enrichment_status":"inprogress"}`}},
		repeat: true,
	}

	_, err := newPoller(checker, &fakeNotifier{}, 7).Poll(context.Background(), "rec-1", testRequest)

	var terr *enrichment.TimeoutError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, 7, terr.Attempts)
	assert.Equal(t, 1, terr.ElapsedMinutes) // 7 * 10s rounds to one minute
	assert.Equal(t, 7, checker.Calls())
}

func TestPoll_UnknownAndEmptyStatusesKeepPolling(t *testing.T) {
	t.Parallel()

	checker := &scriptedChecker{steps: []step{
		{body: `{"enrichment_status":"paused"}`},
		{body: `[]`},
		{body: `null`},
		{body: `{}`},
		{body: `[{"enrichment_status":"completed"}]`},
	}}

	res, err := newPoller(checker, &fakeNotifier{}, 10).Poll(context.Background(), "rec-1", testRequest)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Attempts)
	assert.Equal(t, 5, checker.Calls())
}

func TestPoll_NoDataCountsAgainstBudget(t *testing.T) {
	t.Parallel()

	checker := &scriptedChecker{steps: []step{{body: ``}}, repeat: true}

	_, err := newPoller(checker, &fakeNotifier{}, 3).Poll(context.Background(), "rec-1", testRequest)
	var terr *enrichment.TimeoutError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, 3, checker.Calls())
}

func TestPoll_FailedNotifiesOnceThenErrors(t *testing.T) {
	t.Parallel()

	checker := &scriptedChecker{steps: []step{
		{body: `{"enrichment_status":"inprogress"}`},
		{body: `{"enrichment_status":"Failed","error_message":"apollo link expired","record_id":"rec-9"}`},
	}}
	notifier := &fakeNotifier{}

	_, err := newPoller(checker, notifier, 10).Poll(context.Background(), "rec-9", testRequest)

	var ferr *enrichment.FailedError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, "apollo link expired", ferr.Message)
	assert.ErrorIs(t, err, enrichment.ErrTerminal)

	require.Len(t, notifier.calls, 1)
	assert.Equal(t, "failed", notifier.calls[0].kind)
	assert.Equal(t, testRequest, notifier.calls[0].req)
	assert.Equal(t, "rec-9", notifier.calls[0].snap.RecordID.String())
	assert.Equal(t, 2, checker.Calls())
}

func TestPoll_FailedErrorSurvivesNotifierFailure(t *testing.T) {
	t.Parallel()

	checker := &scriptedChecker{steps: []step{{body: `{"enrichment_status":"failed"}`}}}
	notifier := &fakeNotifier{err: errors.New("webhook unreachable")}

	_, err := newPoller(checker, notifier, 10).Poll(context.Background(), "rec-1", testRequest)

	var ferr *enrichment.FailedError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, "enrichment failed: Unknown error", err.Error())
	assert.Len(t, notifier.calls, 1)
}

func TestPoll_CancelledNotifiesThenErrors(t *testing.T) {
	t.Parallel()

	checker := &scriptedChecker{steps: []step{{body: `[{"enrichment_status":"CANCELLED","cancellation_reason":"user request"}]`}}}
	notifier := &fakeNotifier{err: errors.New("rate limited")}

	_, err := newPoller(checker, notifier, 10).Poll(context.Background(), "rec-1", testRequest)

	var cerr *enrichment.CancelledError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "user request", cerr.Reason)
	require.Len(t, notifier.calls, 1)
	assert.Equal(t, "cancelled", notifier.calls[0].kind)
}

type statusErr struct{ code int }

func (e statusErr) Error() string   { return "status endpoint unavailable" }
func (e statusErr) HTTPStatus() int { return e.code }

func TestPoll_NetworkErrorThenCompleted(t *testing.T) {
	t.Parallel()

	checker := &scriptedChecker{steps: []step{
		{err: context.DeadlineExceeded},
		{body: `{"enrichment_status":"completed","enriched_records":"2500"}`},
	}}

	res, err := newPoller(checker, &fakeNotifier{}, 10).Poll(context.Background(), "rec-1", testRequest)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 2500, enrichment.ParseRecordCount(res.EnrichedRecords))
}

func TestPoll_HTTPErrorsNeverAbort(t *testing.T) {
	t.Parallel()

	checker := &scriptedChecker{steps: []step{
		{err: statusErr{code: 502}},
		{err: errors.New("connection reset by peer")},
		{body: `{"enrichment_status":`},
	}, repeat: true}

	_, err := newPoller(checker, &fakeNotifier{}, 4).Poll(context.Background(), "rec-1", testRequest)
	var terr *enrichment.TimeoutError
	require.ErrorAs(t, err, &terr, "transient failures must only end in exhaustion")
	assert.Equal(t, 4, checker.Calls())
}

func TestPoll_SleepsFixedIntervalBetweenAttempts(t *testing.T) {
	t.Parallel()

	checker := &scriptedChecker{steps: []step{
		{err: errors.New("boom")},
		{body: `{"enrichment_status":"inqueue"}`},
		{body: `{"enrichment_status":"completed"}`},
	}}

	p := poller.New(checker, nil, arbor.NewLogger(), poller.Options{
		MaxRetries:     10,
		Interval:       20 * time.Millisecond,
		RequestTimeout: time.Second,
	})

	start := time.Now()
	_, err := p.Poll(context.Background(), "rec-1", testRequest)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestPoll_ContextCancelStopsLoop(t *testing.T) {
	t.Parallel()

	checker := &scriptedChecker{steps: []step{{body: `{"enrichment_status":"inprogress"}`}}, repeat: true}
	p := poller.New(checker, nil, arbor.NewLogger(), poller.Options{
		MaxRetries: 1000,
		Interval:   time.Hour,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := p.Poll(ctx, "rec-1", testRequest)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, checker.Calls())
}
