package searchleads

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/shpitdev/searchleads-enrichment-monitor/pkg/redact"
)

// errorEnvelope is the error body shape the API returns on most failures.
type errorEnvelope struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// HTTPError is a sanitized summary of a non-2xx API response.
//
// Do not put raw response bodies here: they can carry lead PII.
type HTTPError struct {
	Op         string
	StatusCode int
	Status     string
	Code       string
	Message    string

	// Snippet is a redacted, truncated hint for bodies without an error envelope.
	Snippet string
}

func (e *HTTPError) Error() string {
	if e == nil {
		return "searchleads http error"
	}
	parts := []string{
		fmt.Sprintf("searchleads api error: op=%s status=%s", strings.TrimSpace(e.Op), strings.TrimSpace(e.Status)),
	}
	if strings.TrimSpace(e.Code) != "" {
		parts = append(parts, "code="+strings.TrimSpace(e.Code))
	}
	if strings.TrimSpace(e.Message) != "" {
		parts = append(parts, "message="+strings.TrimSpace(e.Message))
	}
	if strings.TrimSpace(e.Snippet) != "" {
		parts = append(parts, "body="+strings.TrimSpace(e.Snippet))
	}
	return strings.Join(parts, " ")
}

// HTTPStatus lets callers classify the failure without importing this package.
func (e *HTTPError) HTTPStatus() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

func newHTTPError(op string, resp *http.Response, body []byte) error {
	h := &HTTPError{Op: op}
	if resp != nil {
		h.StatusCode = resp.StatusCode
		h.Status = resp.Status
	}

	var env errorEnvelope
	if len(body) > 0 && json.Unmarshal(body, &env) == nil {
		msg := strings.TrimSpace(env.Message)
		if msg == "" {
			msg = strings.TrimSpace(env.Error)
		}
		h.Message = redact.Truncate(msg, 256)
		h.Code = strings.TrimSpace(env.Code)
		if h.Message != "" || h.Code != "" {
			return h
		}
	}

	h.Snippet = redact.Truncate(string(body), 256)
	return h
}
