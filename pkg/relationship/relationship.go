// Package relationship derives a similarity graph between attack patterns.
//
// Two patterns are linked when they share a primary phase, platforms or
// description keywords. The score is a weighted sum of the three partial
// scores; only pairs above Threshold become edges. Node positions come from a
// fixed five-column grid and are meant for rendering only.
package relationship

import (
	"regexp"
	"slices"
	"strings"

	"github.com/shiran1989/magshimim-cyber-homework/pkg/attack"
)

// Type tags an edge with the heuristic that fired last for the pair.
type Type string

const (
	TypePhase    Type = "phase"
	TypePlatform Type = "platform"
	TypeKeyword  Type = "keyword"
)

const (
	PhaseWeight    = 0.4
	PlatformWeight = 0.3
	KeywordWeight  = 0.2

	// Threshold is exclusive: a pair scoring exactly 0.3 is not linked.
	Threshold = 0.3

	// minKeywordLen is exclusive as well; "data" (4) counts, "the" does not.
	minKeywordLen = 3

	gridColumns = 5
	gridOrigin  = 100
	columnWidth = 200
	rowHeight   = 150
)

var nonWord = regexp.MustCompile(`\W+`)

// Node is the graph view of a single pattern.
type Node struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Phase     string   `json:"phase"`
	Platforms []string `json:"platforms"`
	X         int      `json:"x"`
	Y         int      `json:"y"`
	Level     int      `json:"level"`
}

type Edge struct {
	Source   string  `json:"source"`
	Target   string  `json:"target"`
	Type     Type    `json:"type"`
	Strength float64 `json:"strength"`
}

type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

type options struct {
	unordered bool
}

// Option tweaks Compute.
type Option func(*options)

// WithUnorderedPairs scores each unordered pair once (i < j) instead of
// emitting both A->B and B->A. The scores of the two directions can differ
// because shared platforms and keywords are counted over the source pattern.
func WithUnorderedPairs() Option {
	return func(o *options) {
		o.unordered = true
	}
}

// Compute builds the relationship graph of patterns. The result depends only
// on the input and its order.
func Compute(patterns []attack.AttackPattern, opts ...Option) Graph {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	g := Graph{
		Nodes: make([]Node, 0, len(patterns)),
		Edges: []Edge{},
	}
	for i, p := range patterns {
		g.Nodes = append(g.Nodes, Node{
			ID:        p.ID,
			Name:      p.Name,
			Phase:     p.PhaseName,
			Platforms: p.Platforms,
			X:         (i%gridColumns)*columnWidth + gridOrigin,
			Y:         (i/gridColumns)*rowHeight + gridOrigin,
			Level:     PhaseLevel(p.PhaseName),
		})
	}

	tokens := make([][]string, len(patterns))
	for i, p := range patterns {
		tokens[i] = tokenize(p.Description)
	}

	for i := range patterns {
		start := 0
		if o.unordered {
			start = i + 1
		}
		for j := start; j < len(patterns); j++ {
			if patterns[i].ID == patterns[j].ID {
				continue
			}
			strength, typ := score(patterns[i], patterns[j], tokens[i], tokens[j])
			if strength > Threshold {
				g.Edges = append(g.Edges, Edge{
					Source:   patterns[i].ID,
					Target:   patterns[j].ID,
					Type:     typ,
					Strength: strength,
				})
			}
		}
	}

	return g
}

// Score returns the strength and type of the directed pair (a, b). The type
// is the last heuristic that contributed, in phase, platform, keyword order,
// regardless of which one contributed most.
func Score(a, b attack.AttackPattern) (float64, Type) {
	return score(a, b, tokenize(a.Description), tokenize(b.Description))
}

func score(a, b attack.AttackPattern, wordsA, wordsB []string) (float64, Type) {
	strength := 0.0
	typ := TypePhase

	if a.PhaseName == b.PhaseName && a.PhaseName != attack.NotAvailable {
		strength += PhaseWeight
		typ = TypePhase
	}

	common := 0
	for _, platform := range a.Platforms {
		if platform != attack.NotAvailable && slices.Contains(b.Platforms, platform) {
			common++
		}
	}
	if common > 0 {
		strength += PlatformWeight * float64(common) / float64(max(len(a.Platforms), len(b.Platforms)))
		typ = TypePlatform
	}

	shared := 0
	if len(wordsA) > 0 && len(wordsB) > 0 {
		set := make(map[string]struct{}, len(wordsB))
		for _, w := range wordsB {
			set[w] = struct{}{}
		}
		for _, w := range wordsA {
			if len(w) <= minKeywordLen {
				continue
			}
			if _, ok := set[w]; ok {
				shared++
			}
		}
	}
	if shared > 0 {
		strength += KeywordWeight * float64(shared) / float64(max(len(wordsA), len(wordsB)))
		typ = TypeKeyword
	}

	return strength, typ
}

// tokenize lower-cases s and splits it on runs of non-word characters. Empty
// leading and trailing tokens are kept so that token counts match a plain
// split of the text.
func tokenize(s string) []string {
	return nonWord.Split(strings.ToLower(s), -1)
}

var phaseLevels = map[string]int{
	"initial-access":       1,
	"execution":            2,
	"persistence":          3,
	"privilege-escalation": 4,
	"defense-evasion":      5,
	"credential-access":    6,
	"discovery":            7,
	"lateral-movement":     8,
	"collection":           9,
	"command-and-control":  10,
	"exfiltration":         11,
	"impact":               12,
}

// PhaseLevel ranks a kill-chain phase from 1 (Initial Access) to 12 (Impact).
// Display names and ATT&CK slugs are both accepted; anything else is 0.
func PhaseLevel(phase string) int {
	return phaseLevels[NormalizePhase(phase)]
}

// NormalizePhase maps "Command and Control" and "command-and-control" to the
// same slug.
func NormalizePhase(phase string) string {
	return strings.Join(strings.Fields(strings.ToLower(phase)), "-")
}

// Filter keeps the patterns whose name, description or phase contains query,
// case-insensitively. A blank query keeps everything.
func Filter(patterns []attack.AttackPattern, query string) []attack.AttackPattern {
	q := strings.ToLower(query)
	if strings.TrimSpace(q) == "" {
		return patterns
	}
	out := make([]attack.AttackPattern, 0, len(patterns))
	for _, p := range patterns {
		if strings.Contains(strings.ToLower(p.Name), q) ||
			strings.Contains(strings.ToLower(p.Description), q) ||
			strings.Contains(strings.ToLower(p.PhaseName), q) {
			out = append(out, p)
		}
	}
	return out
}
