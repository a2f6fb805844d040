// Package mocksearchleads serves a scripted stand-in for the SearchLeads
// submission and status endpoints, plus a webhook sink.
package mocksearchleads

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Call records a request made to the mock service.
type Call struct {
	Method string
	Path   string
	// RecordID is set for status queries.
	RecordID string
}

// Step is one scripted status answer. The last step of a script repeats.
type Step struct {
	Status string
	// Fields are merged into the status object (enriched_records, error_message, ...).
	Fields map[string]any
	// HTTPStatus, when >= 400, answers with an error body instead of a snapshot.
	HTTPStatus int
	// AsArray wraps the snapshot in a one-element array.
	AsArray bool
	// Empty answers with [] (no data).
	Empty bool
}

// Webhook records one message delivered to the webhook sink.
type Webhook struct {
	Path string
	Body []byte
}

type record struct {
	req   submitReq
	steps []Step
	next  int
}

// Server implements the minimal SearchLeads API surface the monitor uses.
type Server struct {
	mu       sync.Mutex
	calls    []Call
	webhooks []Webhook
	records  map[string]*record
	script   []Step
	nextID   int

	expectedAuthorization string
	rejectSubmit          int
}

// New constructs a server whose jobs complete on the first status query
// unless a script is set.
func New() *Server {
	return &Server{
		records: make(map[string]*record),
		script:  []Step{{Status: "completed", Fields: map[string]any{"enriched_records": 0}}},
		nextID:  1,
	}
}

// RequireBearerToken enforces that submissions carry the token.
// If token is empty, authorization is not enforced.
func (s *Server) RequireBearerToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token = strings.TrimSpace(token)
	if token == "" {
		s.expectedAuthorization = ""
		return
	}
	s.expectedAuthorization = "Bearer " + token
}

// SetScript sets the status sequence given to every job submitted afterwards.
func (s *Server) SetScript(steps ...Step) {
	if len(steps) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = append([]Step(nil), steps...)
}

// RejectSubmissions answers every submission with code. Zero restores normal
// behavior.
func (s *Server) RejectSubmissions(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectSubmit = code
}

// Handler returns an http.Handler that serves the mock API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook/enrichment-request", s.handleSubmit)
	mux.HandleFunc("/webhook/enrichment-status", s.handleStatus)
	mux.HandleFunc("/api/webhooks/", s.handleNotify)
	return mux
}

// Calls returns a snapshot of calls made to the server.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// Webhooks returns a snapshot of notifications delivered to the server.
func (s *Server) Webhooks() []Webhook {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Webhook, len(s.webhooks))
	copy(out, s.webhooks)
	return out
}

func (s *Server) recordCall(r *http.Request, recordID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Method: r.Method, Path: r.URL.Path, RecordID: recordID})
}

func (s *Server) authorize(w http.ResponseWriter, r *http.Request) bool {
	s.mu.Lock()
	expected := s.expectedAuthorization
	s.mu.Unlock()

	if expected == "" {
		return true
	}
	if r.Header.Get("Authorization") != expected {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized", "code": "AUTH"})
		return false
	}
	return true
}

type submitReq struct {
	ApolloLink string `json:"apolloLink"`
	NoOfLeads  int    `json:"noOfLeads"`
	FileName   string `json:"fileName"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	s.recordCall(r, "")
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorize(w, r) {
		return
	}

	s.mu.Lock()
	reject := s.rejectSubmit
	s.mu.Unlock()
	if reject != 0 {
		writeJSON(w, reject, map[string]string{"error": "submission rejected", "code": "REJECTED"})
		return
	}

	var req submitReq
	b, _ := io.ReadAll(r.Body)
	if err := json.Unmarshal(b, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.ApolloLink) == "" || req.NoOfLeads == 0 || strings.TrimSpace(req.FileName) == "" {
		// The real service answers 200 without a record id here.
		writeJSON(w, http.StatusOK, map[string]string{"message": "apolloLink, noOfLeads and fileName are required"})
		return
	}

	s.mu.Lock()
	id := fmt.Sprintf("rec-%06d", s.nextID)
	s.nextID++
	s.records[id] = &record{req: req, steps: append([]Step(nil), s.script...)}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"record_id": id, "message": "enrichment request accepted"})
}

type statusReq struct {
	RecordID string `json:"record_id"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.recordCall(r, "")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req statusReq
	b, _ := io.ReadAll(r.Body)
	_ = json.Unmarshal(b, &req)
	s.recordCall(r, req.RecordID)

	s.mu.Lock()
	rec, ok := s.records[req.RecordID]
	var step Step
	if ok {
		step = rec.steps[rec.next]
		if rec.next < len(rec.steps)-1 {
			rec.next++
		}
	}
	s.mu.Unlock()

	if !ok {
		// Unknown ids look like "no data yet" on the real service.
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	if step.HTTPStatus >= 400 {
		writeJSON(w, step.HTTPStatus, map[string]string{"error": http.StatusText(step.HTTPStatus)})
		return
	}
	if step.Empty {
		writeJSON(w, http.StatusOK, []any{})
		return
	}

	snap := map[string]any{
		"record_id":             req.RecordID,
		"file_name":             rec.req.FileName,
		"apollo_link":           rec.req.ApolloLink,
		"requested_leads_count": rec.req.NoOfLeads,
		"enrichment_status":     step.Status,
	}
	for k, v := range step.Fields {
		snap[k] = v
	}
	switch strings.ToLower(step.Status) {
	case "failed":
		if _, ok := snap["failure_time"]; !ok {
			snap["failure_time"] = time.Now().UTC().Format(time.RFC3339)
		}
	case "cancelled":
		if _, ok := snap["cancelled_time"]; !ok {
			snap["cancelled_time"] = time.Now().UTC().Format(time.RFC3339)
		}
	}

	if step.AsArray {
		writeJSON(w, http.StatusOK, []any{snap})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	s.recordCall(r, "")
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	b, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.webhooks = append(s.webhooks, Webhook{Path: r.URL.Path, Body: b})
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// ParseScript turns "inqueue,inprogress,completed" into steps. "empty" yields a
// no-data answer and "array:<status>" wraps the snapshot in an array.
// records is reported as enriched_records on completed steps.
func ParseScript(script string, records int) []Step {
	var steps []Step
	for _, p := range strings.Split(script, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		st := Step{}
		if p == "empty" {
			st.Empty = true
			steps = append(steps, st)
			continue
		}
		if rest, ok := strings.CutPrefix(p, "array:"); ok {
			st.AsArray = true
			p = rest
		}
		st.Status = p
		switch strings.ToLower(p) {
		case "completed":
			st.Fields = map[string]any{
				"enriched_records": records,
				"credits_involved": records,
				"spreadsheet_url":  "https://docs.google.com/spreadsheets/d/mock",
			}
		case "inprogress":
			st.Fields = map[string]any{"progress_percentage": 50}
		case "inqueue":
			st.Fields = map[string]any{"queue_position": 1}
		case "failed":
			st.Fields = map[string]any{"error_message": "mock failure"}
		case "cancelled":
			st.Fields = map[string]any{"cancellation_reason": "mock cancellation"}
		}
		steps = append(steps, st)
	}
	return steps
}
