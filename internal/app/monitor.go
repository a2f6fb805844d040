// Package app wires one enrichment run: submit, poll, charge, persist.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/shpitdev/searchleads-enrichment-monitor/pkg/enrichment"
	"github.com/shpitdev/searchleads-enrichment-monitor/pkg/enrichment/poller"
	"github.com/shpitdev/searchleads-enrichment-monitor/pkg/redact"
)

// Deps are the collaborators of one run. Notifier may be nil.
type Deps struct {
	Submitter enrichment.Submitter
	Checker   enrichment.StatusChecker
	Notifier  enrichment.Notifier
	Output    enrichment.OutputStore
	Usage     enrichment.UsageSink
	Logger    arbor.ILogger

	Poll poller.Options
}

// Outcome summarizes a completed run.
type Outcome struct {
	RunID           string            `json:"runId"`
	JobID           enrichment.JobID  `json:"recordId"`
	Result          enrichment.Result `json:"result"`
	EnrichedRecords int               `json:"enrichedRecords"`
	Units           int               `json:"units"`
}

func (d Deps) validate() error {
	switch {
	case d.Submitter == nil:
		return fmt.Errorf("submitter is required")
	case d.Checker == nil:
		return fmt.Errorf("status checker is required")
	case d.Output == nil:
		return fmt.Errorf("output store is required")
	case d.Usage == nil:
		return fmt.Errorf("usage sink is required")
	}
	return nil
}

// Run submits req and blocks until the job reaches a terminal state. On
// completion the usage event is charged and the final snapshot is stored under
// enrichment.OutputKey. Nothing is persisted when an error is returned.
func Run(ctx context.Context, deps Deps, req enrichment.Request) (Outcome, error) {
	if err := deps.validate(); err != nil {
		return Outcome{}, err
	}
	if err := req.Validate(); err != nil {
		return Outcome{}, err
	}

	runID := uuid.NewString()
	base := deps.Logger
	if base == nil {
		base = arbor.NewLogger()
	}
	logger := base.WithCorrelationId(runID)
	runStart := time.Now()

	logger.Info().
		Str("run", runID).
		Str("file_name", req.FileName).
		Int("no_of_leads", req.NoOfLeads).
		Msg("submitting enrichment request")

	id, err := deps.Submitter.Submit(ctx, req)
	if err != nil {
		logger.Error().Str("error", redact.Secrets(err.Error())).Msg("submission failed")
		return Outcome{}, err
	}
	logger.Info().Str("record_id", string(id)).Msg("enrichment request submitted")

	p := poller.New(deps.Checker, deps.Notifier, logger, deps.Poll)
	res, err := p.Poll(ctx, id, req)
	if err != nil {
		logger.Error().Str("record_id", string(id)).Str("error", redact.Secrets(err.Error())).Msg("enrichment did not complete")
		return Outcome{}, err
	}

	records := enrichment.ParseRecordCount(res.EnrichedRecords)
	ev, charged, err := enrichment.Charge(ctx, deps.Usage, records)
	if err != nil {
		return Outcome{}, fmt.Errorf("charge usage: %w", err)
	}
	if charged {
		logger.Info().Str("event", ev.EventName).Int("count", ev.Count).Msg("usage charged")
	} else {
		logger.Info().Msg("no enriched records; usage not charged")
	}

	out, err := json.Marshal(res.Snapshot)
	if err != nil {
		return Outcome{}, fmt.Errorf("encode result: %w", err)
	}
	if err := deps.Output.SetValue(ctx, enrichment.OutputKey, out); err != nil {
		return Outcome{}, fmt.Errorf("store result: %w", err)
	}

	outcome := Outcome{
		RunID:           runID,
		JobID:           id,
		Result:          res,
		EnrichedRecords: records,
		Units:           ev.Count,
	}
	logSummary(logger, outcome, time.Since(runStart))
	return outcome, nil
}

func logSummary(logger arbor.ILogger, o Outcome, elapsed time.Duration) {
	logger.Info().Msg("enrichment summary")
	logger.Info().Msg("  status: " + o.Result.Status.Or("completed"))
	logger.Info().Msg("  file name: " + o.Result.FileName.Or("n/a"))
	logger.Info().Msg("  records enriched: " + strconv.Itoa(o.EnrichedRecords))
	logger.Info().Msg("  credits used: " + o.Result.CreditsInvolved.Or("n/a"))
	logger.Info().Msg("  spreadsheet: " + o.Result.SpreadsheetURL.Or("n/a"))
	logger.Info().Msg("  units charged: " + strconv.Itoa(o.Units))
	logger.Info().
		Int("attempts", o.Result.Attempts).
		Str("duration", elapsed.Round(time.Millisecond).String()).
		Msg("run complete")
}
