// Package keepalive runs the compute-module job loop: fetch a job from the
// runtime, hand it to a handler, post the result back.
package keepalive

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
	"path"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/ternarybob/arbor"

	"github.com/shpitdev/searchleads-enrichment-monitor/pkg/redact"
)

type jobEnvelope struct {
	ComputeModuleJobV1 Job `json:"computeModuleJobV1"`
}

// Job is one compute-module job handed out by the runtime.
type Job struct {
	JobID     string          `json:"jobId"`
	QueryType string          `json:"queryType"`
	Query     json.RawMessage `json:"query"`
}

// Handler runs one job. A non-nil error is still posted back as the result.
type Handler func(context.Context, Job) ([]byte, error)

type Config struct {
	GetJobURI       string
	PostResultURI   string
	ModuleAuthToken string
	DefaultCAPath   string

	// HTTPClient overrides the client built from DefaultCAPath.
	HTTPClient *http.Client

	// IdleWait is slept when no job is queued. Defaults to 500ms.
	IdleWait time.Duration
	// PostRetries bounds result redelivery. Defaults to 5.
	PostRetries uint64
	// PostRetryInterval is the delay between redeliveries. Defaults to 1s.
	PostRetryInterval time.Duration
}

// LoadConfigFromEnv reads the runtime-injected endpoints. ok is false when the
// process is not running as a compute module.
func LoadConfigFromEnv() (Config, bool, error) {
	getJob, err := normalizeLocalhostURI(os.Getenv("GET_JOB_URI"))
	if err != nil {
		return Config{}, false, fmt.Errorf("invalid GET_JOB_URI: %w", err)
	}
	postRes, err := normalizeLocalhostURI(os.Getenv("POST_RESULT_URI"))
	if err != nil {
		return Config{}, false, fmt.Errorf("invalid POST_RESULT_URI: %w", err)
	}
	if getJob == "" || postRes == "" {
		return Config{}, false, nil
	}

	modTok, err := readValueOrFile(os.Getenv("MODULE_AUTH_TOKEN"), "MODULE_AUTH_TOKEN")
	if err != nil {
		return Config{}, false, err
	}
	if modTok == "" {
		return Config{}, false, fmt.Errorf("MODULE_AUTH_TOKEN is required when GET_JOB_URI/POST_RESULT_URI are set")
	}

	caPath := strings.TrimSpace(os.Getenv("DEFAULT_CA_PATH"))
	if caPath == "" {
		return Config{}, false, fmt.Errorf("DEFAULT_CA_PATH is required when GET_JOB_URI/POST_RESULT_URI are set")
	}

	return Config{
		GetJobURI:       getJob,
		PostResultURI:   postRes,
		ModuleAuthToken: modTok,
		DefaultCAPath:   caPath,
	}, true, nil
}

func normalizeLocalhostURI(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	// The runtime sidecar often binds only to IPv4 loopback.
	host := strings.TrimSpace(u.Hostname())
	if host == "localhost" || host == "::1" {
		if port := strings.TrimSpace(u.Port()); port != "" {
			u.Host = "127.0.0.1:" + port
		} else {
			u.Host = "127.0.0.1"
		}
	}
	return u.String(), nil
}

// Client polls the runtime for jobs.
type Client struct {
	cfg    Config
	http   *http.Client
	logger arbor.ILogger
}

func New(cfg Config, logger arbor.ILogger) (*Client, error) {
	if strings.TrimSpace(cfg.GetJobURI) == "" || strings.TrimSpace(cfg.PostResultURI) == "" {
		return nil, fmt.Errorf("GET_JOB_URI and POST_RESULT_URI are required")
	}
	if cfg.IdleWait <= 0 {
		cfg.IdleWait = 500 * time.Millisecond
	}
	if cfg.PostRetries == 0 {
		cfg.PostRetries = 5
	}
	if cfg.PostRetryInterval <= 0 {
		cfg.PostRetryInterval = time.Second
	}
	if logger == nil {
		logger = arbor.NewLogger()
	}

	hc := cfg.HTTPClient
	if hc == nil {
		var err error
		hc, err = newHTTPClient(cfg.DefaultCAPath)
		if err != nil {
			return nil, err
		}
	}
	return &Client{cfg: cfg, http: hc, logger: logger}, nil
}

func newHTTPClient(caPath string) (*http.Client, error) {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if strings.TrimSpace(caPath) != "" {
		b, err := os.ReadFile(strings.TrimSpace(caPath))
		if err != nil {
			return nil, fmt.Errorf("read DEFAULT_CA_PATH: %w", err)
		}
		pool := x509.NewCertPool()
		if ok := pool.AppendCertsFromPEM(b); !ok {
			return nil, fmt.Errorf("parse DEFAULT_CA_PATH PEM: no certs found")
		}
		tr.TLSClientConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	}
	return &http.Client{Transport: tr, Timeout: 30 * time.Second}, nil
}

// Run handles jobs one at a time until ctx ends.
func (c *Client) Run(ctx context.Context, handle Handler) error {
	c.logger.Info().Str("get_job_uri", c.cfg.GetJobURI).Msg("compute module client enabled")

	fetchBackoff := backoff.NewExponentialBackOff()
	fetchBackoff.InitialInterval = 500 * time.Millisecond
	fetchBackoff.MaxInterval = 5 * time.Second
	fetchBackoff.MaxElapsedTime = 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		handled, err := c.RunOnce(ctx, handle)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn().Str("error", redact.Secrets(err.Error())).Msg("compute module client: get job failed")
			if err := sleep(ctx, fetchBackoff.NextBackOff()); err != nil {
				return err
			}
			continue
		}
		fetchBackoff.Reset()
		if !handled {
			if err := sleep(ctx, c.cfg.IdleWait); err != nil {
				return err
			}
		}
	}
}

// RunOnce fetches at most one job and handles it. handled is false when the
// runtime had nothing queued. Only fetch failures are returned.
func (c *Client) RunOnce(ctx context.Context, handle Handler) (handled bool, err error) {
	job, ok, err := c.nextJob(ctx)
	if err != nil || !ok {
		return false, err
	}

	jobID := strings.TrimSpace(job.JobID)
	if jobID == "" {
		c.logger.Warn().Msg("compute module client: received job without jobId; skipping")
		return false, nil
	}

	c.logger.Info().Str("job_id", jobID).Str("query_type", strings.TrimSpace(job.QueryType)).Msg("compute module client: received job")
	result, jobErr := handle(ctx, job)
	if jobErr != nil {
		c.logger.Error().Str("job_id", jobID).Str("error", redact.Secrets(jobErr.Error())).Msg("compute module client: job failed")
		if len(result) == 0 {
			result = []byte(redact.Secrets(jobErr.Error()))
		}
	} else if len(result) == 0 {
		result = []byte("ok")
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.cfg.PostRetryInterval), c.cfg.PostRetries),
		ctx,
	)
	op := func() error {
		err := c.postResult(ctx, jobID, result)
		if err != nil {
			c.logger.Warn().Str("job_id", jobID).Str("error", redact.Secrets(err.Error())).Msg("compute module client: post result failed")
		}
		return err
	}
	if err := backoff.Retry(op, policy); err != nil {
		c.logger.Error().Str("job_id", jobID).Msg("compute module client: giving up on result delivery")
	}
	return true, nil
}

func (c *Client) nextJob(ctx context.Context) (Job, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.GetJobURI, nil)
	if err != nil {
		return Job{}, false, err
	}
	req.Header.Set("Module-Auth-Token", c.cfg.ModuleAuthToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Job{}, false, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNoContent {
		return Job{}, false, nil
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return Job{}, false, err
	}
	if resp.StatusCode/100 != 2 {
		return Job{}, false, fmt.Errorf("GET job: status=%d body=%s", resp.StatusCode, redact.Truncate(string(b), 256))
	}

	var env jobEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Job{}, false, fmt.Errorf("parse GET job response: %w (body=%s)", err, redact.Truncate(string(b), 256))
	}
	return env.ComputeModuleJobV1, true, nil
}

func (c *Client) postResult(ctx context.Context, jobID string, result []byte) error {
	base := strings.TrimRight(strings.TrimSpace(c.cfg.PostResultURI), "/")
	u := base + "/" + path.Clean("/" + jobID)[1:]

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(result))
	if err != nil {
		return err
	}
	req.Header.Set("Module-Auth-Token", c.cfg.ModuleAuthToken)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("POST result: status=%d body=%s", resp.StatusCode, redact.Truncate(string(b), 256))
	}
	return nil
}

func readValueOrFile(v string, varName string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", nil
	}
	if strings.ContainsAny(v, "\r\n") {
		return v, nil
	}
	if fi, err := os.Stat(v); err == nil && !fi.IsDir() {
		b, err := os.ReadFile(v)
		if err != nil {
			return "", fmt.Errorf("read %s file: %w", varName, err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	return v, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
