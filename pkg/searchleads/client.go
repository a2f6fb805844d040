// Package searchleads is the HTTP client for the SearchLeads enrichment API:
// job submission and job status.
package searchleads

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/shpitdev/searchleads-enrichment-monitor/pkg/enrichment"
)

var (
	_ enrichment.Submitter     = (*Client)(nil)
	_ enrichment.StatusChecker = (*Client)(nil)
)

// Config holds the injected endpoints and credentials.
type Config struct {
	SubmitURL string
	StatusURL string
	APIKey    string

	// DefaultCAPath is optional and, when provided, is used as the TLS trust store.
	DefaultCAPath string
	// HTTPClient overrides the client built from DefaultCAPath.
	HTTPClient *http.Client
}

// Client talks to the submission and status endpoints.
type Client struct {
	submitURL *url.URL
	statusURL *url.URL
	apiKey    string
	http      *http.Client
	tracer    trace.Tracer
}

// NewClient validates the endpoints and builds a client.
func NewClient(cfg Config) (*Client, error) {
	submitURL, err := parseEndpoint(cfg.SubmitURL, "submission")
	if err != nil {
		return nil, err
	}
	statusURL, err := parseEndpoint(cfg.StatusURL, "status")
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("searchleads api key is required")
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc, err = newHTTPClient(cfg.DefaultCAPath)
		if err != nil {
			return nil, err
		}
	}

	return &Client{
		submitURL: submitURL,
		statusURL: statusURL,
		apiKey:    strings.TrimSpace(cfg.APIKey),
		http:      hc,
		tracer:    otel.Tracer("github.com/shpitdev/searchleads-enrichment-monitor/pkg/searchleads"),
	}, nil
}

func parseEndpoint(raw string, name string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%s endpoint URL is required", name)
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse %s endpoint URL: %w", name, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%s endpoint URL must include a host (got %q)", name, raw)
	}
	u.Fragment = ""
	return u, nil
}

func newHTTPClient(defaultCAPath string) (*http.Client, error) {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if strings.TrimSpace(defaultCAPath) != "" {
		b, err := os.ReadFile(strings.TrimSpace(defaultCAPath))
		if err != nil {
			return nil, fmt.Errorf("read DEFAULT_CA_PATH file: %w", err)
		}
		pool := x509.NewCertPool()
		if ok := pool.AppendCertsFromPEM(b); !ok {
			return nil, fmt.Errorf("parse DEFAULT_CA_PATH PEM: no certs found")
		}
		tr.TLSClientConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	}
	// Per-call deadlines come from the caller's context; this only caps runaway calls.
	return &http.Client{
		Transport: tr,
		Timeout:   2 * time.Minute,
	}, nil
}

type submitResponse struct {
	RecordID enrichment.Text `json:"record_id"`
}

// Submit starts one enrichment job and returns its record id. It never retries.
func (c *Client) Submit(ctx context.Context, in enrichment.Request) (enrichment.JobID, error) {
	ctx, span := c.tracer.Start(ctx, "searchleads.Submit", trace.WithAttributes(
		attribute.String("file_name", in.FileName),
		attribute.Int("no_of_leads", in.NoOfLeads),
	))
	defer span.End()

	body, err := json.Marshal(in)
	if err != nil {
		return "", &enrichment.SubmissionError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.submitURL.String(), bytes.NewReader(body))
	if err != nil {
		return "", &enrichment.SubmissionError{Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	b, err := c.do(req, "submit")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "submit failed")
		return "", &enrichment.SubmissionError{Body: string(b), Err: err}
	}

	var out submitResponse
	if err := json.Unmarshal(b, &out); err != nil || out.RecordID.String() == "" {
		span.SetStatus(codes.Error, "no record_id")
		return "", &enrichment.SubmissionError{Body: strings.TrimSpace(string(b))}
	}
	id := enrichment.JobID(out.RecordID.String())
	span.SetAttributes(attribute.String("record_id", string(id)))
	return id, nil
}

type statusRequest struct {
	RecordID string `json:"record_id"`
}

// CheckStatus issues one status query. Non-2xx answers become *HTTPError.
func (c *Client) CheckStatus(ctx context.Context, id enrichment.JobID) (enrichment.Snapshot, bool, error) {
	body, err := json.Marshal(statusRequest{RecordID: string(id)})
	if err != nil {
		return enrichment.Snapshot{}, false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.statusURL.String(), bytes.NewReader(body))
	if err != nil {
		return enrichment.Snapshot{}, false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	b, err := c.do(req, "status")
	if err != nil {
		return enrichment.Snapshot{}, false, err
	}
	return enrichment.DecodeSnapshot(b)
}

// do sends req and returns the body. A non-2xx response returns the body along
// with an *HTTPError.
func (c *Client) do(req *http.Request, op string) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		return b, newHTTPError(op, resp, b)
	}
	return b, nil
}
