// Package discord posts enrichment failure and cancellation notices to a
// Discord webhook.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/shpitdev/searchleads-enrichment-monitor/pkg/enrichment"
	"github.com/shpitdev/searchleads-enrichment-monitor/pkg/redact"
)

var _ enrichment.Notifier = (*Notifier)(nil)

const (
	colorFailed    = 0xFF0000
	colorCancelled = 0xFFA500

	footerText = "SearchLeads Enrichment Service"
)

type Config struct {
	WebhookURL string

	// Timeout bounds one delivery. Defaults to 10s.
	Timeout time.Duration
	// RateLimitRPS caps deliveries per second. Set to <=0 to disable.
	RateLimitRPS float64

	HTTPClient *http.Client
}

// Notifier delivers webhook messages.
type Notifier struct {
	webhookURL string
	timeout    time.Duration
	limiter    *rate.Limiter
	http       *http.Client
	logger     arbor.ILogger
	now        func() time.Time
}

func New(cfg Config, logger arbor.ILogger) (*Notifier, error) {
	u := strings.TrimSpace(cfg.WebhookURL)
	if u == "" {
		return nil, fmt.Errorf("discord webhook URL is required")
	}
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		return nil, fmt.Errorf("discord webhook URL must be http(s)")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	if logger == nil {
		logger = arbor.NewLogger()
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), 1)
	}

	return &Notifier{
		webhookURL: u,
		timeout:    cfg.Timeout,
		limiter:    limiter,
		http:       hc,
		logger:     logger,
		now:        time.Now,
	}, nil
}

func (n *Notifier) NotifyFailed(ctx context.Context, req enrichment.Request, snap enrichment.Snapshot) error {
	return n.send(ctx, kindFailed, req, snap)
}

func (n *Notifier) NotifyCancelled(ctx context.Context, req enrichment.Request, snap enrichment.Snapshot) error {
	return n.send(ctx, kindCancelled, req, snap)
}

type kind int

const (
	kindFailed kind = iota
	kindCancelled
)

type payload struct {
	Content string  `json:"content"`
	Embeds  []embed `json:"embeds"`
}

type embed struct {
	Title     string  `json:"title"`
	Color     int     `json:"color"`
	Fields    []field `json:"fields"`
	Timestamp string  `json:"timestamp"`
	Footer    footer  `json:"footer"`
}

type field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type footer struct {
	Text string `json:"text"`
}

// buildPayload lays out one message. Snapshot values win over request values;
// blanks fall back to placeholder text.
func buildPayload(k kind, req enrichment.Request, snap enrichment.Snapshot, now time.Time) payload {
	ts := now.UTC().Format(time.RFC3339)

	leads := "Unknown"
	if req.NoOfLeads != 0 {
		leads = strconv.Itoa(req.NoOfLeads)
	}

	content, title, color := "⚠️ **Enrichment Request Failed**", "🚨 Enrichment Request Failed", colorFailed
	reasonName, timeName := "Error Message", "Failure Time"
	reason := snap.ErrorMessage.Or(snap.CancellationReason.Or("No details provided"))
	when := snap.FailureTime.Or(snap.CancelledTime.Or(ts))
	if k == kindCancelled {
		content, title, color = "🛑 **Enrichment Request Cancelled**", "⏹️ Enrichment Request Cancelled", colorCancelled
		reasonName, timeName = "Cancellation Reason", "Cancelled Time"
	}

	return payload{
		Content: content,
		Embeds: []embed{{
			Title: title,
			Color: color,
			Fields: []field{
				{Name: "Record ID", Value: snap.RecordID.Or("Unknown"), Inline: true},
				{Name: "File Name", Value: snap.FileName.Or(orDefault(req.FileName, "Unknown")), Inline: true},
				{Name: "Requested Leads", Value: snap.RequestedLeadsCount.Or(leads), Inline: true},
				{Name: reasonName, Value: reason},
				{Name: "Apollo Link", Value: snap.ApolloLink.Or(orDefault(req.ApolloLink, "Not provided"))},
				{Name: timeName, Value: when, Inline: true},
			},
			Timestamp: ts,
			Footer:    footer{Text: footerText},
		}},
	}
}

func orDefault(v, fallback string) string {
	if s := strings.TrimSpace(v); s != "" {
		return s
	}
	return fallback
}

func (n *Notifier) send(ctx context.Context, k kind, req enrichment.Request, snap enrichment.Snapshot) error {
	label := "failed"
	if k == kindCancelled {
		label = "cancelled"
	}
	n.logger.Info().Str("kind", label).Msg("sending discord notification")

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	if n.limiter != nil {
		if err := n.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("discord notification: %w", err)
		}
	}

	body, err := json.Marshal(buildPayload(k, req, snap, n.now()))
	if err != nil {
		return err
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("discord notification: %s", redact.Secrets(err.Error()))
	}
	hreq.Header.Set("Content-Type", "application/json")

	resp, err := n.http.Do(hreq)
	if err != nil {
		return fmt.Errorf("discord notification: %s", redact.Secrets(err.Error()))
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("discord notification: status=%d body=%s", resp.StatusCode, redact.Truncate(string(b), 256))
	}

	n.logger.Info().Str("kind", label).Msg("discord notification sent")
	return nil
}
