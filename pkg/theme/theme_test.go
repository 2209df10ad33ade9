package theme

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPhaseColor(t *testing.T) {
	p := Default()
	tests := []struct {
		phase string
		want  string
	}{
		{"Initial Access", "#e91e63"},
		{"initial-access", "#e91e63"},
		{"Command and Control", "#8bc34a"},
		{"impact", "#ffeb3b"},
		{"NA", "#1976d2"},
	}
	for _, tt := range tests {
		if got := p.PhaseColor(tt.phase); got != tt.want {
			t.Errorf("PhaseColor(%q) = %q, want %q", tt.phase, got, tt.want)
		}
	}
}

func TestPlatformColor(t *testing.T) {
	p := Default()
	tests := []struct {
		platform string
		want     string
	}{
		{"Windows", "#0078d4"},
		{"Mac OS X", "#000000"},
		{"Network Devices", "#6c757d"},
		{"VMware ESXi", "#00d4aa"},
		{"Containers", "#0d7377"},
		{"IaaS", "#1976d2"},
	}
	for _, tt := range tests {
		if got := p.PlatformColor(tt.platform); got != tt.want {
			t.Errorf("PlatformColor(%q) = %q, want %q", tt.platform, got, tt.want)
		}
	}
}

func TestRelationshipAndRiskColor(t *testing.T) {
	p := Default()
	if got := p.RelationshipColor("keyword"); got != "#f57c00" {
		t.Fatalf("unexpected keyword color %q", got)
	}
	if got := p.RelationshipColor("other"); got != "#9e9e9e" {
		t.Fatalf("unexpected default color %q", got)
	}
	if got := p.RiskColor("Critical"); got != "#d32f2f" {
		t.Fatalf("unexpected critical color %q", got)
	}
}

func TestChartColorsCycle(t *testing.T) {
	colors := Default().ChartColors(14)
	if len(colors) != 14 {
		t.Fatalf("expected 14 colors, got %d", len(colors))
	}
	if colors[0] != "#e91e63" || colors[12] != "#e91e63" || colors[13] != "#9c27b0" {
		t.Fatalf("colors do not cycle: %v", colors)
	}
}

func TestContrastText(t *testing.T) {
	tests := []struct {
		bg   string
		want string
	}{
		{"#ffeb3b", "#000"},
		{"#000000", "#fff"},
		{"#fff", "#000"},
		{"#3f51b5", "#fff"},
		{"not-a-color", "#000"},
	}
	for _, tt := range tests {
		if got := ContrastText(tt.bg); got != tt.want {
			t.Errorf("ContrastText(%q) = %q, want %q", tt.bg, got, tt.want)
		}
	}
}

func TestLoadOverridesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "palette.yaml")
	if err := os.WriteFile(path, []byte("phase:\n  execution: \"#123456\"\n"), 0o600); err != nil {
		t.Fatalf("write palette: %v", err)
	}

	p, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := p.PhaseColor("Execution"); got != "#123456" {
		t.Fatalf("override not applied, got %q", got)
	}
	if got := p.PhaseColor("Impact"); got != "#ffeb3b" {
		t.Fatalf("default lost, got %q", got)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadIgnoresEmptyColors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "palette.yaml")
	if err := os.WriteFile(path, []byte("phase:\n  execution: \"\"\nrisk:\n  info: \"  \"\n"), 0o600); err != nil {
		t.Fatalf("write palette: %v", err)
	}

	p, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := p.PhaseColor("execution"); got != "#9c27b0" {
		t.Fatalf("empty override replaced default, got %q", got)
	}
	if got := p.RiskColor("info"); got != "#1976d2" {
		t.Fatalf("blank override replaced default, got %q", got)
	}
	if colors := p.ChartColors(8); len(colors) != 8 {
		t.Fatalf("expected 8 colors, got %d", len(colors))
	}
}

func TestChartColorsFillMissingPhases(t *testing.T) {
	p := &Palette{
		Risk:  map[string]string{"info": "#1976d2"},
		Phase: map[string]string{"initial-access": "#e91e63"},
	}
	colors := p.ChartColors(8)
	if len(colors) != 8 {
		t.Fatalf("expected 8 colors, got %d", len(colors))
	}
	if colors[0] != "#e91e63" || colors[1] != "#1976d2" || colors[7] != "#1976d2" {
		t.Fatalf("unexpected colors %v", colors)
	}
}
