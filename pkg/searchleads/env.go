package searchleads

import (
	"fmt"
	"os"
	"strings"
)

// Env is the runtime configuration read from the process environment.
type Env struct {
	Services Services
	APIKey   string
	// DefaultCAPath is the path to a PEM bundle that should be trusted for TLS.
	DefaultCAPath string
}

// Config returns the client configuration for this environment.
func (e Env) Config() Config {
	return Config{
		SubmitURL:     e.Services.SubmitAPI,
		StatusURL:     e.Services.StatusAPI,
		APIKey:        e.APIKey,
		DefaultCAPath: e.DefaultCAPath,
	}
}

// LoadEnv reads the API endpoints and key.
//
// Endpoints come from SEARCHLEADS_SERVICE_DISCOVERY (YAML file) when set,
// otherwise from SEARCHLEADS_API_URL and SEARCHLEADS_STATUS_URL. Explicit URL
// variables override discovered ones. SEARCHLEADS_API_KEY may hold the key or a
// path to a file containing it.
func LoadEnv() (Env, error) {
	services, err := loadServicesFromEnv()
	if err != nil {
		return Env{}, err
	}

	apiKey, err := readValueOrFile(os.Getenv("SEARCHLEADS_API_KEY"), "SEARCHLEADS_API_KEY")
	if err != nil {
		return Env{}, err
	}
	if apiKey == "" {
		return Env{}, fmt.Errorf("SEARCHLEADS_API_KEY is required")
	}

	return Env{
		Services:      services,
		APIKey:        apiKey,
		DefaultCAPath: strings.TrimSpace(os.Getenv("DEFAULT_CA_PATH")),
	}, nil
}

func loadServicesFromEnv() (Services, error) {
	var services Services
	if p := strings.TrimSpace(os.Getenv("SEARCHLEADS_SERVICE_DISCOVERY")); p != "" {
		var err error
		services, err = loadServicesFromDiscoveryFile(p)
		if err != nil {
			return Services{}, err
		}
	}

	if v := strings.TrimSpace(os.Getenv("SEARCHLEADS_API_URL")); v != "" {
		services.SubmitAPI = v
	}
	if v := strings.TrimSpace(os.Getenv("SEARCHLEADS_STATUS_URL")); v != "" {
		services.StatusAPI = v
	}
	if v := strings.TrimSpace(os.Getenv("DISCORD_WEBHOOK_URL")); v != "" {
		services.NotifyWebhook = v
	}

	if services.SubmitAPI == "" {
		return Services{}, fmt.Errorf("SEARCHLEADS_API_URL or SEARCHLEADS_SERVICE_DISCOVERY is required")
	}
	if services.StatusAPI == "" {
		return Services{}, fmt.Errorf("SEARCHLEADS_STATUS_URL or SEARCHLEADS_SERVICE_DISCOVERY is required")
	}
	return services, nil
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
