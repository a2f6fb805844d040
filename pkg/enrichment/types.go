// Package enrichment holds the domain types shared by the submitter, the status
// poller and the output sinks of one enrichment run.
package enrichment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// Request is the immutable input of one run.
type Request struct {
	ApolloLink string `json:"apolloLink" validate:"required"`
	NoOfLeads  int    `json:"noOfLeads" validate:"required"`
	FileName   string `json:"fileName" validate:"required"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func requestValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Validate checks that every field of the request is present. Anything beyond
// presence is left to the enrichment service.
func (r Request) Validate() error {
	err := requestValidator().Struct(r)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	missing := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		missing = append(missing, fe.Field())
	}
	return fmt.Errorf("invalid input: missing %s", strings.Join(missing, ", "))
}

// DecodeRequest parses the process input. An empty document is reported as
// ErrNoInput.
func DecodeRequest(b []byte) (Request, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return Request{}, ErrNoInput
	}
	var req Request
	if err := json.Unmarshal(b, &req); err != nil {
		return Request{}, fmt.Errorf("parse input: %w", err)
	}
	if err := req.Validate(); err != nil {
		return Request{}, err
	}
	return req, nil
}

// JobID identifies a submitted job for every later status query.
type JobID string

// Result is the snapshot captured when the job reached the completed state.
type Result struct {
	Snapshot

	// Attempts is the number of status queries issued, including the one that
	// observed completion.
	Attempts    int
	CompletedAt time.Time
}

// PollState is owned by a single poll loop.
type PollState struct {
	Attempt   int
	StartedAt time.Time
}
