package local_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shpitdev/searchleads-enrichment-monitor/pkg/enrichment"
	"github.com/shpitdev/searchleads-enrichment-monitor/pkg/store/local"
)

func TestStore_SetValueReplaces(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := local.New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	if err := s.SetValue(ctx, enrichment.OutputKey, []byte(`{"v":1}`)); err != nil {
		t.Fatalf("SetValue: %v", err)
	}
	if err := s.SetValue(ctx, enrichment.OutputKey, []byte(`{"v":2}`)); err != nil {
		t.Fatalf("SetValue: %v", err)
	}

	b, err := os.ReadFile(filepath.Join(dir, "OUTPUT.json"))
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(b) != `{"v":2}` {
		t.Fatalf("unexpected output: %s", b)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the output file, got %d entries", len(entries))
	}

	got, err := s.GetValue(ctx, enrichment.OutputKey)
	if err != nil || string(got) != `{"v":2}` {
		t.Fatalf("GetValue = %s, %v", got, err)
	}
}

func TestStore_RejectsPathKeys(t *testing.T) {
	t.Parallel()

	s, err := local.New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, key := range []string{"", "..", "a/b", `a\b`} {
		if err := s.SetValue(context.Background(), key, []byte("x")); err == nil {
			t.Fatalf("expected error for key %q", key)
		}
	}
}

func TestStore_ChargeAppendsLines(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := local.New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, n := range []int{2, 3} {
		ev := enrichment.UsageEvent{EventName: enrichment.UsageEventName, Count: n}
		if err := s.Charge(context.Background(), ev); err != nil {
			t.Fatalf("Charge: %v", err)
		}
	}

	f, err := os.Open(filepath.Join(dir, "usage.jsonl"))
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	defer f.Close()

	var got []enrichment.UsageEvent
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var ev enrichment.UsageEvent
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			t.Fatalf("decode line %q: %v", sc.Text(), err)
		}
		got = append(got, ev)
	}
	if len(got) != 2 || got[0].Count != 2 || got[1].Count != 3 || got[1].EventName != "ENRICHED_RECORDS" {
		t.Fatalf("unexpected ledger: %#v", got)
	}
}

func TestReadInput(t *testing.T) {
	t.Parallel()

	t.Run("decodes request", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "input.json")
		in := `{"apolloLink":"https://app.apollo.io/#/people","noOfLeads":250,"fileName":"q3"}`
		if err := os.WriteFile(path, []byte(in), 0o600); err != nil {
			t.Fatalf("write input: %v", err)
		}
		req, err := local.ReadInput(path)
		if err != nil {
			t.Fatalf("ReadInput: %v", err)
		}
		if req.NoOfLeads != 250 || req.FileName != "q3" {
			t.Fatalf("unexpected request: %#v", req)
		}
	})

	t.Run("missing path is no input", func(t *testing.T) {
		if _, err := local.ReadInput(""); !errors.Is(err, enrichment.ErrNoInput) {
			t.Fatalf("expected ErrNoInput, got %v", err)
		}
	})

	t.Run("incomplete request names fields", func(t *testing.T) {
		_, err := local.ReadRequest(strings.NewReader(`{"fileName":"q3"}`))
		if err == nil || !strings.Contains(err.Error(), "apolloLink") || !strings.Contains(err.Error(), "noOfLeads") {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}
