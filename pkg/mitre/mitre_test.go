package mitre

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/shiran1989/magshimim-cyber-homework/pkg/attack"
)

const techniqueBundle = `{
  "type": "bundle",
  "id": "bundle--1",
  "objects": [
    {
      "type": "attack-pattern",
      "id": "attack-pattern--%[1]s",
      "name": "Technique %[1]s",
      "description": "Adversaries may abuse %[1]s.",
      "x_mitre_platforms": ["Windows", "Linux"],
      "x_mitre_detection": "Monitor process creation.",
      "kill_chain_phases": [
        {"kill_chain_name": "mitre-attack", "phase_name": "execution"},
        {"kill_chain_name": "mitre-attack", "phase_name": "persistence"}
      ],
      "external_references": [
        {"source_name": "mitre-attack", "external_id": "%[1]s", "url": "https://attack.mitre.org/techniques/%[1]s"}
      ],
      "created": "2020-02-11T18:23:26.059Z",
      "modified": "2023-04-14T13:07:47.337Z",
      "x_mitre_version": "1.2"
    },
    {"type": "relationship", "id": "relationship--1"}
  ]
}`

func TestProcessDefaults(t *testing.T) {
	p := Process(Object{Type: typeAttackPattern, ID: "attack-pattern--x"})

	if p.ID != "attack-pattern--x" || p.ExternalID != attack.NotAvailable {
		t.Fatalf("unexpected ids %q / %q", p.ID, p.ExternalID)
	}
	if len(p.Platforms) != 1 || p.Platforms[0] != attack.NotAvailable {
		t.Fatalf("expected NA platform, got %v", p.Platforms)
	}
	if p.Detection != attack.NotAvailable || p.PhaseName != attack.NotAvailable {
		t.Fatalf("expected NA detection and phase, got %q / %q", p.Detection, p.PhaseName)
	}
	if p.CreatedAt != attack.UnknownDate || p.ModifiedAt != attack.UnknownDate {
		t.Fatalf("expected unknown dates, got %q / %q", p.CreatedAt, p.ModifiedAt)
	}
	if p.Name != missing || p.Description != missing {
		t.Fatalf("expected placeholders, got %q / %q", p.Name, p.Description)
	}
}

func TestProcessEmptyDetection(t *testing.T) {
	empty := ""
	p := Process(Object{Type: typeAttackPattern, ID: "x", Detection: &empty})
	if p.Detection != attack.NotAvailable {
		t.Fatalf("expected NA, got %q", p.Detection)
	}
}

func TestLoadBundle(t *testing.T) {
	patterns, err := LoadBundle(strings.NewReader(fmt.Sprintf(techniqueBundle, "T1059")))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(patterns) != 1 {
		t.Fatalf("expected 1 pattern, got %d", len(patterns))
	}

	p := patterns[0]
	if p.ID != "T1059" || p.ExternalID != "T1059" {
		t.Fatalf("expected technique id, got %q / %q", p.ID, p.ExternalID)
	}
	if p.PhaseName != "execution" {
		t.Fatalf("expected first phase, got %q", p.PhaseName)
	}
	if p.MitreURL() != "https://attack.mitre.org/techniques/T1059" {
		t.Fatalf("unexpected url %q", p.MitreURL())
	}
	if p.CreatedAt != "2020-02-11T18:23:26.059Z" || p.Version != "1.2" {
		t.Fatalf("unexpected metadata %+v", p)
	}
}

func TestConvertDropsDuplicateIDs(t *testing.T) {
	ref := []attack.ExternalReference{{SourceName: sourceMitreAttack, ExternalID: "T1"}}
	first, second := "first", "second"
	patterns := Convert([]Object{
		{Type: typeAttackPattern, ID: "a", Name: &first, ExternalReferences: ref},
		{Type: typeAttackPattern, ID: "b", Name: &second, ExternalReferences: ref},
	})
	if len(patterns) != 1 || patterns[0].Name != "first" {
		t.Fatalf("expected first occurrence only, got %+v", patterns)
	}
}

func newGitHub(t *testing.T, ids []string, failing string) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/contents", func(w http.ResponseWriter, r *http.Request) {
		files := []FileInfo{{Name: "README.md", DownloadURL: srv.URL + "/raw/README.md"}}
		for _, id := range ids {
			files = append(files, FileInfo{Name: id + ".json", DownloadURL: srv.URL + "/raw/" + id + ".json", Type: "file"})
		}
		_ = json.NewEncoder(w).Encode(files)
	})
	mux.HandleFunc("/raw/{file}", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSuffix(r.PathValue("file"), ".json")
		if id == failing {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, techniqueBundle, id)
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type memoryWriter struct {
	patterns []attack.AttackPattern
}

func (m *memoryWriter) ReplacePatterns(_ context.Context, patterns []attack.AttackPattern) (int, error) {
	m.patterns = patterns
	return len(patterns), nil
}

func TestIngestFromGitHub(t *testing.T) {
	srv := newGitHub(t, []string{"T1001", "T1002", "T1003"}, "T1002")
	fetcher := NewFetcher(WithContentsURL(srv.URL+"/contents"), WithParallel(2), WithRate(0))

	w := &memoryWriter{}
	report, err := Ingest(context.Background(), fetcher, w, "bundle--test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if report.FilesListed != 3 || report.FilesFailed != 1 {
		t.Fatalf("unexpected file counts %+v", report)
	}
	if report.Stored != 2 || len(w.patterns) != 2 {
		t.Fatalf("expected 2 stored patterns, got %d", report.Stored)
	}
	if w.patterns[0].ID != "T1001" || w.patterns[1].ID != "T1003" {
		t.Fatalf("expected listing order, got %s, %s", w.patterns[0].ID, w.patterns[1].ID)
	}

	archived, err := LoadBundle(strings.NewReader(string(report.Bundle)))
	if err != nil {
		t.Fatalf("archived bundle is not readable: %v", err)
	}
	if len(archived) != 2 {
		t.Fatalf("expected 2 archived patterns, got %d", len(archived))
	}
}

func TestIngestFallsBackToSample(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "rate limited", http.StatusForbidden)
	}))
	defer srv.Close()

	w := &memoryWriter{}
	report, err := Ingest(context.Background(), NewFetcher(WithContentsURL(srv.URL)), w, "bundle--test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !report.Fallback || report.Stored != 1 || w.patterns[0].ID != "T1001" {
		t.Fatalf("expected sample data, got %+v", report)
	}
	if len(report.Bundle) != 0 {
		t.Fatal("sample data must not be archived")
	}
	if n := hits.Load(); n != downloadTries {
		t.Fatalf("expected %d listing attempts, got %d", downloadTries, n)
	}
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "enterprise-attack.json")
	if err := os.WriteFile(path, []byte(fmt.Sprintf(techniqueBundle, "T1547")), 0o600); err != nil {
		t.Fatalf("write bundle: %v", err)
	}

	w := &memoryWriter{}
	report, err := Ingest(context.Background(), FileSource{Path: path}, w, "bundle--file")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Stored != 1 || w.patterns[0].ID != "T1547" {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.Source != "file://"+path {
		t.Fatalf("unexpected source %q", report.Source)
	}
}
