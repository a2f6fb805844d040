package searchleads

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// serviceDiscovery maps each service id to a single-element list holding its URL.
//
// Example (YAML):
//
//	submit_api:
//	  - https://apis.searchleads.co/api/enrichment/submit
//	status_api:
//	  - https://apis.searchleads.co/api/enrichment/status
//	notify_webhook:
//	  - https://discord.com/api/webhooks/<id>/<token>
type serviceDiscovery map[string][]string

// Services are the resolved endpoint URLs.
type Services struct {
	SubmitAPI     string
	StatusAPI     string
	NotifyWebhook string
}

func loadServicesFromDiscoveryFile(path string) (Services, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Services{}, fmt.Errorf("SEARCHLEADS_SERVICE_DISCOVERY is required")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Services{}, fmt.Errorf("read SEARCHLEADS_SERVICE_DISCOVERY file: %w", err)
	}

	var raw serviceDiscovery
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return Services{}, fmt.Errorf("parse SEARCHLEADS_SERVICE_DISCOVERY YAML: %w", err)
	}

	getOne := func(key string) string {
		vals := raw[key]
		if len(vals) == 0 {
			return ""
		}
		return strings.TrimSpace(vals[0])
	}

	return Services{
		SubmitAPI:     getOne("submit_api"),
		StatusAPI:     getOne("status_api"),
		NotifyWebhook: getOne("notify_webhook"),
	}, nil
}
