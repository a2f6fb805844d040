package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arbor/models"

	"github.com/shpitdev/searchleads-enrichment-monitor/internal/app"
	"github.com/shpitdev/searchleads-enrichment-monitor/pkg/enrichment"
	"github.com/shpitdev/searchleads-enrichment-monitor/pkg/enrichment/poller"
	"github.com/shpitdev/searchleads-enrichment-monitor/pkg/notify/discord"
	"github.com/shpitdev/searchleads-enrichment-monitor/pkg/searchleads"
	"github.com/shpitdev/searchleads-enrichment-monitor/pkg/store/badger"
	"github.com/shpitdev/searchleads-enrichment-monitor/pkg/store/local"
)

const (
	storeLocal  = "local"
	storeBadger = "badger"
)

type runConfig struct {
	Poll        poller.Options
	NotifyRPS   float64
	OutputStore string
	OutputDir   string
	BadgerPath  string
	LogLevel    string
}

func loadRunConfigFromEnv() (runConfig, error) {
	interval, err := envDuration("POLL_INTERVAL", poller.DefaultInterval)
	if err != nil {
		return runConfig{}, err
	}
	maxRetries, err := envInt("POLL_MAX_RETRIES", poller.DefaultMaxRetries)
	if err != nil {
		return runConfig{}, err
	}
	requestTimeout, err := envDuration("REQUEST_TIMEOUT", poller.DefaultRequestTimeout)
	if err != nil {
		return runConfig{}, err
	}
	notifyRPS, err := envFloat("NOTIFY_RATE_LIMIT_RPS", 1)
	if err != nil {
		return runConfig{}, err
	}

	return runConfig{
		Poll: poller.Options{
			MaxRetries:     maxRetries,
			Interval:       interval,
			RequestTimeout: requestTimeout,
		},
		NotifyRPS:   notifyRPS,
		OutputStore: strings.ToLower(defaultString("OUTPUT_STORE", storeLocal)),
		OutputDir:   defaultString("OUTPUT_DIR", "./output"),
		BadgerPath:  defaultString("BADGER_PATH", "./data/enrichmon"),
		LogLevel:    defaultString("LOG_LEVEL", "info"),
	}, nil
}

func (c runConfig) validate() error {
	if c.Poll.MaxRetries <= 0 {
		return fmt.Errorf("POLL_MAX_RETRIES must be > 0")
	}
	if c.Poll.Interval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be > 0")
	}
	if c.Poll.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be > 0")
	}
	switch c.OutputStore {
	case storeLocal, storeBadger:
	default:
		return fmt.Errorf("invalid OUTPUT_STORE=%q (want %s or %s)", c.OutputStore, storeLocal, storeBadger)
	}
	return nil
}

func newLogger(level string) arbor.ILogger {
	return arbor.NewLogger().WithConsoleWriter(models.WriterConfiguration{
		Type:             models.LogWriterTypeConsole,
		TimeFormat:       "15:04:05",
		TextOutput:       true,
		DisableTimestamp: false,
	}).WithLevelFromString(level)
}

// buildDeps wires the API client, the notifier and the configured store. The
// returned close func releases the store.
func buildDeps(cfg runConfig, env searchleads.Env, logger arbor.ILogger) (app.Deps, func() error, error) {
	client, err := searchleads.NewClient(env.Config())
	if err != nil {
		return app.Deps{}, nil, err
	}

	var notifier enrichment.Notifier = enrichment.NoopNotifier{}
	if u := strings.TrimSpace(env.Services.NotifyWebhook); u != "" {
		n, err := discord.New(discord.Config{WebhookURL: u, RateLimitRPS: cfg.NotifyRPS}, logger)
		if err != nil {
			return app.Deps{}, nil, err
		}
		notifier = n
	} else {
		logger.Warn().Msg("DISCORD_WEBHOOK_URL not set; failure notifications disabled")
	}

	deps := app.Deps{
		Submitter: client,
		Checker:   client,
		Notifier:  notifier,
		Logger:    logger,
		Poll:      cfg.Poll,
	}

	switch cfg.OutputStore {
	case storeBadger:
		s, err := badger.Open(cfg.BadgerPath, logger)
		if err != nil {
			return app.Deps{}, nil, err
		}
		deps.Output, deps.Usage = s, s
		return deps, s.Close, nil
	default:
		s, err := local.New(cfg.OutputDir)
		if err != nil {
			return app.Deps{}, nil, err
		}
		deps.Output, deps.Usage = s, s
		return deps, func() error { return nil }, nil
	}
}

func defaultString(envVar string, fallback string) string {
	v := strings.TrimSpace(os.Getenv(envVar))
	if v == "" {
		return fallback
	}
	return v
}

func envInt(varName string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback, nil
	}
	out, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}

func envFloat(varName string, fallback float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback, nil
	}
	out, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}

func envDuration(varName string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback, nil
	}
	out, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}
