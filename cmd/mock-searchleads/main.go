package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/shpitdev/searchleads-enrichment-monitor/pkg/mocksearchleads"
)

func main() {
	addr := defaultString("MOCK_SEARCHLEADS_ADDR", ":8080")
	token := defaultString("MOCK_SEARCHLEADS_TOKEN", "")
	script := defaultString("MOCK_SEARCHLEADS_SCRIPT", "inqueue,inprogress,completed")
	records := defaultInt("MOCK_SEARCHLEADS_RECORDS", 1200)

	fs := flag.NewFlagSet("mock-searchleads", flag.ExitOnError)
	fs.StringVar(&addr, "addr", addr, "Listen address")
	fs.StringVar(&token, "token", token, "Bearer token required on submissions (empty disables the check)")
	fs.StringVar(&script, "script", script, "Comma-separated status sequence per job (also supports env: MOCK_SEARCHLEADS_SCRIPT)")
	fs.IntVar(&records, "records", records, "enriched_records reported on completion")
	_ = fs.Parse(os.Args[1:])

	srv := mocksearchleads.New()
	srv.RequireBearerToken(token)
	srv.SetScript(mocksearchleads.ParseScript(script, records)...)

	_, _ = fmt.Fprintf(os.Stdout, "mock-searchleads listening on %s (script=%s)\n", addr, script)
	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func defaultString(envVar string, fallback string) string {
	v := strings.TrimSpace(os.Getenv(envVar))
	if v == "" {
		return fallback
	}
	return v
}

func defaultInt(envVar string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(envVar))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
