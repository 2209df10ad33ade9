package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shiran1989/magshimim-cyber-homework/pkg/attack"
)

func fakeAPI(t *testing.T) *httptest.Server {
	t.Helper()
	patterns := []attack.AttackPattern{
		{ID: "T1053", ExternalID: "T1053", Name: "Scheduled Task", PhaseName: "persistence", Platforms: []string{"Windows"}},
		{ID: "T1547", ExternalID: "T1547", Name: "Boot Autostart", PhaseName: "persistence", Platforms: []string{"Linux"}},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /dashboard-data", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(attack.SearchResponse{Results: patterns, Total: 2, Limit: 10000})
	})
	mux.HandleFunc("POST /attack-patterns/search", func(w http.ResponseWriter, r *http.Request) {
		var req attack.SearchRequest
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(attack.SearchResponse{Results: patterns[:1], Total: 1, Limit: req.Limit})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("attackctl %v: %v", args, err)
	}
	return out.String()
}

func TestGraphCommand(t *testing.T) {
	srv := fakeAPI(t)

	out := run(t, "--api", srv.URL, "graph", "--unordered")
	if !strings.HasPrefix(out, "digraph") {
		t.Fatalf("expected DOT output, got %q", out)
	}
	if !strings.Contains(out, `"T1053" -> "T1547"`) || strings.Contains(out, `"T1547" -> "T1053"`) {
		t.Fatalf("expected a single phase edge:\n%s", out)
	}
}

func TestSearchCommand(t *testing.T) {
	srv := fakeAPI(t)

	out := run(t, "--api", srv.URL, "search", "task", "--limit", "5")
	if !strings.Contains(out, "Scheduled Task") || !strings.Contains(out, "1 of 1") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}
