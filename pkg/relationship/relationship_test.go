package relationship

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/shiran1989/magshimim-cyber-homework/pkg/attack"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func pattern(id, phase string, platforms []string, description string) attack.AttackPattern {
	return attack.AttackPattern{
		ID:          id,
		Name:        "Pattern " + id,
		Description: description,
		Platforms:   platforms,
		PhaseName:   phase,
	}
}

func TestScore(t *testing.T) {
	tests := []struct {
		name     string
		a, b     attack.AttackPattern
		strength float64
		typ      Type
	}{
		{
			name:     "phase only",
			a:        pattern("a", "Execution", []string{"Windows"}, "alpha"),
			b:        pattern("b", "Execution", []string{"Linux"}, "bravo"),
			strength: 0.4,
			typ:      TypePhase,
		},
		{
			name:     "phase and platform",
			a:        pattern("a", "Execution", []string{"Windows", "Linux"}, ""),
			b:        pattern("b", "Execution", []string{"Windows"}, ""),
			strength: 0.55,
			typ:      TypePlatform,
		},
		{
			name:     "keyword overwrites platform tag",
			a:        pattern("a", "Execution", []string{"Windows", "Linux"}, "adversaries execute payloads"),
			b:        pattern("b", "Execution", []string{"Windows"}, "payloads are staged"),
			strength: 0.4 + 0.15 + 0.2/3,
			typ:      TypeKeyword,
		},
		{
			name:     "NA phase never matches",
			a:        pattern("a", attack.NotAvailable, []string{attack.NotAvailable}, ""),
			b:        pattern("b", attack.NotAvailable, []string{attack.NotAvailable}, ""),
			strength: 0,
			typ:      TypePhase,
		},
		{
			name:     "short tokens ignored",
			a:        pattern("a", "Discovery", nil, "the and for"),
			b:        pattern("b", "Impact", nil, "the and for"),
			strength: 0,
			typ:      TypePhase,
		},
		{
			name:     "duplicate tokens counted",
			a:        pattern("a", "Discovery", nil, "files files"),
			b:        pattern("b", "Impact", nil, "files"),
			strength: 0.2,
			typ:      TypeKeyword,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			strength, typ := Score(tt.a, tt.b)
			if !approx(strength, tt.strength) {
				t.Fatalf("expected strength %v, got %v", tt.strength, strength)
			}
			if typ != tt.typ {
				t.Fatalf("expected type %q, got %q", tt.typ, typ)
			}
		})
	}
}

func TestComputePhaseOnlyEdge(t *testing.T) {
	g := Compute([]attack.AttackPattern{
		pattern("a", "Persistence", []string{"Windows"}, "alpha"),
		pattern("b", "Persistence", []string{"macOS"}, "bravo"),
	})

	if len(g.Edges) != 2 {
		t.Fatalf("expected both directions, got %d edges", len(g.Edges))
	}
	for _, e := range g.Edges {
		if !approx(e.Strength, 0.4) || e.Type != TypePhase {
			t.Fatalf("unexpected edge %+v", e)
		}
	}
	if g.Edges[0].Source != "a" || g.Edges[1].Source != "b" {
		t.Fatalf("unexpected edge order %+v", g.Edges)
	}
}

func TestComputeDisjointPatterns(t *testing.T) {
	g := Compute([]attack.AttackPattern{
		pattern("a", "Execution", []string{"Windows"}, "spawns command interpreter"),
		pattern("b", "Exfiltration", []string{"Linux"}, "uploads archive remotely"),
	})

	if len(g.Edges) != 0 {
		t.Fatalf("expected no edges, got %+v", g.Edges)
	}
	if len(g.Nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(g.Nodes))
	}
}

func TestComputeThresholdIsExclusive(t *testing.T) {
	g := Compute([]attack.AttackPattern{
		pattern("a", "Execution", []string{"Windows"}, ""),
		pattern("b", "Impact", []string{"Windows"}, ""),
	})

	if len(g.Edges) != 0 {
		t.Fatalf("strength of exactly 0.3 must not link, got %+v", g.Edges)
	}
}

func TestComputeSkipsSameID(t *testing.T) {
	p := pattern("dup", "Execution", []string{"Windows"}, "identical text here")
	g := Compute([]attack.AttackPattern{p, p})

	if len(g.Edges) != 0 {
		t.Fatalf("expected no self edges, got %+v", g.Edges)
	}
}

func TestComputeUnorderedPairs(t *testing.T) {
	patterns := []attack.AttackPattern{
		pattern("a", "Execution", []string{"Windows"}, ""),
		pattern("b", "Execution", []string{"Windows"}, ""),
		pattern("c", "Execution", nil, ""),
	}

	ordered := Compute(patterns)
	unordered := Compute(patterns, WithUnorderedPairs())

	if len(ordered.Edges) != 6 {
		t.Fatalf("expected 6 ordered edges, got %d", len(ordered.Edges))
	}
	if len(unordered.Edges) != 3 {
		t.Fatalf("expected 3 unordered edges, got %d", len(unordered.Edges))
	}
	for _, e := range unordered.Edges {
		if e.Source >= e.Target {
			t.Fatalf("expected canonical pair, got %+v", e)
		}
	}
}

func TestComputeNodeGrid(t *testing.T) {
	var patterns []attack.AttackPattern
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		patterns = append(patterns, pattern(id, "Impact", nil, ""))
	}

	g := Compute(patterns)

	tests := []struct {
		index int
		x, y  int
	}{
		{0, 100, 100},
		{4, 900, 100},
		{5, 100, 250},
		{6, 300, 250},
	}
	for _, tt := range tests {
		n := g.Nodes[tt.index]
		if n.X != tt.x || n.Y != tt.y {
			t.Errorf("node %d: expected (%d,%d), got (%d,%d)", tt.index, tt.x, tt.y, n.X, n.Y)
		}
		if n.Level != 12 {
			t.Errorf("node %d: expected level 12, got %d", tt.index, n.Level)
		}
	}
}

func TestPhaseLevel(t *testing.T) {
	tests := []struct {
		phase string
		level int
	}{
		{"Initial Access", 1},
		{"initial-access", 1},
		{"Command and Control", 10},
		{"command-and-control", 10},
		{"Impact", 12},
		{"NA", 0},
		{"", 0},
	}
	for _, tt := range tests {
		if got := PhaseLevel(tt.phase); got != tt.level {
			t.Errorf("PhaseLevel(%q) = %d, want %d", tt.phase, got, tt.level)
		}
	}
}

func TestTokenizeKeepsEmptyTokens(t *testing.T) {
	got := tokenize("Hello, World!")
	want := []string{"hello", "world", ""}
	if len(got) != len(want) {
		t.Fatalf("expected %q, got %q", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %q, got %q", want, got)
		}
	}
}

func TestFilter(t *testing.T) {
	patterns := []attack.AttackPattern{
		pattern("a", "Execution", nil, "Runs PowerShell"),
		pattern("b", "Discovery", nil, "Lists files"),
	}

	if got := Filter(patterns, "  "); len(got) != 2 {
		t.Fatalf("blank query should keep all, got %d", len(got))
	}
	if got := Filter(patterns, "powershell"); len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("unexpected description match %+v", got)
	}
	if got := Filter(patterns, "DISCOVERY"); len(got) != 1 || got[0].ID != "b" {
		t.Fatalf("unexpected phase match %+v", got)
	}
}

func TestRelated(t *testing.T) {
	g := Compute([]attack.AttackPattern{
		pattern("a", "Execution", []string{"Windows", "Linux"}, ""),
		pattern("b", "Execution", []string{"Windows"}, ""),
		pattern("c", "Execution", nil, ""),
		pattern("d", "Impact", nil, ""),
	})

	related := g.Related("a")
	if len(related) != 2 {
		t.Fatalf("expected 2 related patterns, got %+v", related)
	}
	if related[0].Node.ID != "b" || !approx(related[0].Strength, 0.55) {
		t.Fatalf("expected b first, got %+v", related[0])
	}
	if related[1].Node.ID != "c" || !approx(related[1].Strength, 0.4) {
		t.Fatalf("expected c second, got %+v", related[1])
	}
	if got := g.Related("d"); len(got) != 0 {
		t.Fatalf("expected no neighbours for d, got %+v", got)
	}
}

func TestExportDOT(t *testing.T) {
	g := Compute([]attack.AttackPattern{
		pattern("a", "Execution", nil, ""),
		pattern("b", "Execution", nil, ""),
	})
	g.Nodes[0].Name = `Say "hi"`

	var buf bytes.Buffer
	err := g.ExportDOT(&buf, func(Type) string { return "#1976d2" })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := buf.String()
	if !strings.HasPrefix(out, "digraph AttackPatterns {") {
		t.Fatalf("missing header: %s", out)
	}
	if !strings.Contains(out, `"a" -> "b" [label="phase 0.40", color="#1976d2"`) {
		t.Fatalf("missing edge: %s", out)
	}
	if !strings.Contains(out, `Say \"hi\"`) {
		t.Fatalf("label not escaped: %s", out)
	}
}
