// Package stats summarises a pattern catalog for the dashboard overview.
package stats

import (
	"fmt"
	"sort"
	"time"

	"github.com/shiran1989/magshimim-cyber-homework/pkg/attack"
)

const (
	UnknownPhase = "Unknown"
	RecentCount  = 5
)

// fallbackCreated stands in for patterns without a creation date.
var fallbackCreated = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

type Share struct {
	Name       string `json:"name"`
	Count      int    `json:"count"`
	Percentage string `json:"percentage"`
}

type Dashboard struct {
	TotalPatterns        int                    `json:"total_patterns"`
	PhaseDistribution    []Share                `json:"phase_distribution"`
	PlatformDistribution []Share                `json:"platform_distribution"`
	RecentPatterns       []attack.AttackPattern `json:"recent_patterns"`
}

// Compute counts phases and platforms in first-seen order. Percentages are
// relative to the number of patterns, so platform shares can add up to more
// than 100.
func Compute(patterns []attack.AttackPattern) Dashboard {
	d := Dashboard{
		TotalPatterns:        len(patterns),
		PhaseDistribution:    []Share{},
		PlatformDistribution: []Share{},
		RecentPatterns:       []attack.AttackPattern{},
	}
	if len(patterns) == 0 {
		return d
	}

	phases := newCounter()
	platforms := newCounter()
	for _, p := range patterns {
		phase := p.PhaseName
		if phase == "" {
			phase = UnknownPhase
		}
		phases.add(phase)
		for _, platform := range p.Platforms {
			if platform != attack.NotAvailable {
				platforms.add(platform)
			}
		}
	}

	d.PhaseDistribution = phases.shares(len(patterns))
	d.PlatformDistribution = platforms.shares(len(patterns))
	d.RecentPatterns = Recent(patterns, RecentCount)
	return d
}

// Recent returns up to n patterns, newest created_at first.
func Recent(patterns []attack.AttackPattern, n int) []attack.AttackPattern {
	sorted := make([]attack.AttackPattern, len(patterns))
	copy(sorted, patterns)
	sort.SliceStable(sorted, func(i, j int) bool {
		return CreatedAt(sorted[i]).After(CreatedAt(sorted[j]))
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

// CreatedAt parses the creation timestamp. "N/A" maps to 2020-01-01 and
// unparseable values to the zero time.
func CreatedAt(p attack.AttackPattern) time.Time {
	if p.CreatedAt == attack.UnknownDate {
		return fallbackCreated
	}
	for _, layout := range []string{time.RFC3339Nano, time.DateTime, time.DateOnly} {
		if t, err := time.Parse(layout, p.CreatedAt); err == nil {
			return t
		}
	}
	return time.Time{}
}

// Percentage formats count/total with one decimal.
func Percentage(count, total int) string {
	if total == 0 {
		return "0.0"
	}
	return fmt.Sprintf("%.1f", float64(count)/float64(total)*100)
}

type counter struct {
	order  []string
	counts map[string]int
}

func newCounter() *counter {
	return &counter{counts: make(map[string]int)}
}

func (c *counter) add(key string) {
	if _, ok := c.counts[key]; !ok {
		c.order = append(c.order, key)
	}
	c.counts[key]++
}

func (c *counter) shares(total int) []Share {
	out := make([]Share, 0, len(c.order))
	for _, key := range c.order {
		out = append(out, Share{
			Name:       key,
			Count:      c.counts[key],
			Percentage: Percentage(c.counts[key], total),
		})
	}
	return out
}
