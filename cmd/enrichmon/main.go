package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/shpitdev/searchleads-enrichment-monitor/internal/app"
	"github.com/shpitdev/searchleads-enrichment-monitor/internal/version"
	"github.com/shpitdev/searchleads-enrichment-monitor/pkg/enrichment"
	"github.com/shpitdev/searchleads-enrichment-monitor/pkg/keepalive"
	"github.com/shpitdev/searchleads-enrichment-monitor/pkg/redact"
	"github.com/shpitdev/searchleads-enrichment-monitor/pkg/searchleads"
	"github.com/shpitdev/searchleads-enrichment-monitor/pkg/store/local"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}

	var code int
	switch os.Args[1] {
	case "help", "-h", "--help":
		usage(os.Stdout)
	case "version", "--version":
		_, _ = fmt.Fprintln(os.Stdout, version.Current)
	case "run":
		code = runOnce(ctx, os.Args[2:])
	case "module":
		code = runModule(ctx, os.Args[2:])
	default:
		_, _ = fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		usage(os.Stderr)
		code = 2
	}
	stop()
	os.Exit(code)
}

// parseRunFlags binds the shared flags on top of env-derived defaults.
func parseRunFlags(fs *flag.FlagSet, args []string) (runConfig, error) {
	cfg, err := loadRunConfigFromEnv()
	if err != nil {
		return runConfig{}, err
	}
	fs.DurationVar(&cfg.Poll.Interval, "poll-interval", cfg.Poll.Interval, "Fixed delay between status queries (env: POLL_INTERVAL)")
	fs.IntVar(&cfg.Poll.MaxRetries, "max-retries", cfg.Poll.MaxRetries, "Status query budget before timing out (env: POLL_MAX_RETRIES)")
	fs.DurationVar(&cfg.Poll.RequestTimeout, "request-timeout", cfg.Poll.RequestTimeout, "Per status query timeout (env: REQUEST_TIMEOUT)")
	fs.Float64Var(&cfg.NotifyRPS, "notify-rate-limit-rps", cfg.NotifyRPS, "Webhook delivery rate limit (RPS), 0 disables (env: NOTIFY_RATE_LIMIT_RPS)")
	fs.StringVar(&cfg.OutputStore, "store", cfg.OutputStore, "Output store: local or badger (env: OUTPUT_STORE)")
	fs.StringVar(&cfg.OutputDir, "output-dir", cfg.OutputDir, "Directory for the local store (env: OUTPUT_DIR)")
	fs.StringVar(&cfg.BadgerPath, "badger-path", cfg.BadgerPath, "Database directory for the badger store (env: BADGER_PATH)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (env: LOG_LEVEL)")
	if err := fs.Parse(args); err != nil {
		return runConfig{}, err
	}
	return cfg, cfg.validate()
}

func runOnce(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	inputPath := fs.String("input", defaultString("INPUT", ""), "JSON input file with apolloLink, noOfLeads and fileName (env: INPUT)")
	cfg, err := parseRunFlags(fs, args)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", redact.Secrets(err.Error()))
		return 2
	}

	req, err := local.ReadInput(*inputPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "input error: %s\n", redact.Secrets(err.Error()))
		return 2
	}

	env, err := searchleads.LoadEnv()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "searchleads env error: %s\n", redact.Secrets(err.Error()))
		return 2
	}

	logger := newLogger(cfg.LogLevel)
	deps, closeStore, err := buildDeps(cfg, env, logger)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", redact.Secrets(err.Error()))
		return 2
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Warn().Err(err).Msg("failed to close store")
		}
	}()

	if _, err := app.Run(ctx, deps, req); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "run failed: %s\n", redact.Secrets(err.Error()))
		return 1
	}
	return 0
}

func runModule(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("module", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	cfg, err := parseRunFlags(fs, args)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", redact.Secrets(err.Error()))
		return 2
	}

	kaCfg, ok, err := keepalive.LoadConfigFromEnv()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "compute module env error: %s\n", redact.Secrets(err.Error()))
		return 2
	}
	if !ok {
		_, _ = fmt.Fprintln(os.Stderr, "module requires GET_JOB_URI and POST_RESULT_URI")
		return 2
	}

	env, err := searchleads.LoadEnv()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "searchleads env error: %s\n", redact.Secrets(err.Error()))
		return 2
	}

	logger := newLogger(cfg.LogLevel)
	deps, closeStore, err := buildDeps(cfg, env, logger)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", redact.Secrets(err.Error()))
		return 2
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Warn().Err(err).Msg("failed to close store")
		}
	}()

	client, err := keepalive.New(kaCfg, logger)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "compute module config error: %s\n", redact.Secrets(err.Error()))
		return 2
	}

	err = client.Run(ctx, jobHandler(deps, logger))
	if err != nil && ctx.Err() == nil {
		_, _ = fmt.Fprintf(os.Stderr, "module failed: %s\n", redact.Secrets(err.Error()))
		return 1
	}
	return 0
}

// jobHandler treats each job query as one enrichment request.
func jobHandler(deps app.Deps, logger arbor.ILogger) keepalive.Handler {
	return func(ctx context.Context, job keepalive.Job) ([]byte, error) {
		start := time.Now()
		req, err := enrichment.DecodeRequest(job.Query)
		if err != nil {
			return nil, err
		}
		out, err := app.Run(ctx, deps, req)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("job_id", job.JobID).Str("duration", time.Since(start).Round(time.Millisecond).String()).Msg("job complete")
		return json.Marshal(out)
	}
}

func usage(w *os.File) {
	_, _ = fmt.Fprintf(w, `enrichmon: submit a SearchLeads enrichment job and monitor it to completion

Usage:
  enrichmon <command> [flags]

Commands:
  run      Submit the request in --input and poll until a terminal state
  module   Compute-module mode: take requests from GET_JOB_URI, post results to POST_RESULT_URI
  version  Print the version

Examples:
  enrichmon run --input request.json
  enrichmon run --input request.json --store badger --badger-path ./data

Environment (SearchLeads):
  SEARCHLEADS_API_URL            Submission endpoint
  SEARCHLEADS_STATUS_URL         Status endpoint
  SEARCHLEADS_API_KEY            API key, or a file path containing it
  SEARCHLEADS_SERVICE_DISCOVERY  Optional YAML file with submit_api/status_api/notify_webhook
  DISCORD_WEBHOOK_URL            Optional webhook for failure/cancellation notices
  DEFAULT_CA_PATH                Optional PEM bundle to trust for TLS

Environment (polling and output):
  POLL_INTERVAL          Delay between status queries (default 10s)
  POLL_MAX_RETRIES       Status query budget (default 17280)
  REQUEST_TIMEOUT        Per status query timeout (default 30s)
  NOTIFY_RATE_LIMIT_RPS  Webhook delivery rate limit (default 1)
  OUTPUT_STORE           local or badger (default local)
  OUTPUT_DIR             Local store directory (default ./output)
  BADGER_PATH            Badger store directory (default ./data/enrichmon)
  LOG_LEVEL              debug, info, warn or error (default info)

`)
}
