package mocksearchleads_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shpitdev/searchleads-enrichment-monitor/pkg/enrichment"
	"github.com/shpitdev/searchleads-enrichment-monitor/pkg/mocksearchleads"
	"github.com/shpitdev/searchleads-enrichment-monitor/pkg/searchleads"
)

var req = enrichment.Request{ApolloLink: "https://app.apollo.io/#/people", NoOfLeads: 100, FileName: "mock"}

func newClient(t *testing.T, ts *httptest.Server, key string) *searchleads.Client {
	t.Helper()
	c, err := searchleads.NewClient(searchleads.Config{
		SubmitURL:  ts.URL + "/webhook/enrichment-request",
		StatusURL:  ts.URL + "/webhook/enrichment-status",
		APIKey:     key,
		HTTPClient: ts.Client(),
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestMockSearchLeads_ScriptedStatuses(t *testing.T) {
	t.Parallel()

	srv := mocksearchleads.New()
	srv.SetScript(mocksearchleads.ParseScript("empty,inqueue,array:inprogress,completed", 1500)...)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	c := newClient(t, ts, "k")
	ctx := context.Background()

	id, err := c.Submit(ctx, req)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	var statuses []string
	for i := 0; i < 5; i++ {
		snap, ok, err := c.CheckStatus(ctx, id)
		if err != nil {
			t.Fatalf("status %d: %v", i, err)
		}
		if !ok {
			statuses = append(statuses, "<none>")
			continue
		}
		statuses = append(statuses, snap.Status.String())
		if snap.RecordID.String() != string(id) || snap.FileName.String() != "mock" {
			t.Fatalf("snapshot missing job fields: %+v", snap)
		}
	}

	want := []string{"<none>", "inqueue", "inprogress", "completed", "completed"}
	for i := range want {
		if statuses[i] != want[i] {
			t.Fatalf("statuses = %v, want %v", statuses, want)
		}
	}

	var statusCalls int
	for _, call := range srv.Calls() {
		if call.RecordID == string(id) {
			statusCalls++
		}
	}
	if statusCalls != 5 {
		t.Fatalf("expected 5 status calls for %s, got %d", id, statusCalls)
	}
}

func TestMockSearchLeads_RequiresBearerOnSubmit(t *testing.T) {
	t.Parallel()

	srv := mocksearchleads.New()
	srv.RequireBearerToken("secret")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	if _, err := newClient(t, ts, "wrong").Submit(context.Background(), req); err == nil {
		t.Fatalf("expected unauthorized submission to fail")
	}
	if _, err := newClient(t, ts, "secret").Submit(context.Background(), req); err != nil {
		t.Fatalf("submit with token: %v", err)
	}
}

func TestMockSearchLeads_MissingFieldsHaveNoRecordID(t *testing.T) {
	t.Parallel()

	srv := mocksearchleads.New()
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	_, err := newClient(t, ts, "k").Submit(context.Background(), enrichment.Request{FileName: "x"})
	if err == nil {
		t.Fatalf("expected submission error")
	}
}

func TestMockSearchLeads_RecordsWebhooks(t *testing.T) {
	t.Parallel()

	srv := mocksearchleads.New()
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	body := []byte(`{"content":"hi"}`)
	resp, err := ts.Client().Post(ts.URL+"/api/webhooks/1/token", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post webhook: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}

	got := srv.Webhooks()
	if len(got) != 1 || !bytes.Equal(got[0].Body, body) {
		t.Fatalf("unexpected webhooks: %#v", got)
	}
}
