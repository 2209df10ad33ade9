// Package theme resolves dashboard colors for phases, platforms, risk levels
// and relationship types.
package theme

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultPalette []byte

// PhaseOrder lists the tactic slugs in kill-chain order. Chart colors cycle
// through it.
var PhaseOrder = []string{
	"initial-access",
	"execution",
	"persistence",
	"privilege-escalation",
	"defense-evasion",
	"credential-access",
	"discovery",
	"lateral-movement",
	"collection",
	"command-and-control",
	"exfiltration",
	"impact",
}

var platformAliases = map[string]string{
	"windows":         "windows",
	"linux":           "linux",
	"macos":           "macos",
	"mac os":          "macos",
	"mac os x":        "macos",
	"network":         "network",
	"network devices": "network",
	"containers":      "containers",
	"container":       "containers",
	"esxi":            "esxi",
	"vmware esxi":     "esxi",
}

type Palette struct {
	Risk         map[string]string `yaml:"risk" json:"risk"`
	Phase        map[string]string `yaml:"phase" json:"phase"`
	Platform     map[string]string `yaml:"platform" json:"platform"`
	Relationship map[string]string `yaml:"relationship" json:"relationship"`
}

// Default returns the built-in palette.
func Default() *Palette {
	p, err := Parse(defaultPalette)
	if err != nil {
		panic(fmt.Sprintf("theme: invalid embedded palette: %v", err))
	}
	return p
}

// Parse decodes a YAML palette.
func Parse(data []byte) (*Palette, error) {
	var p Palette
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse palette: %w", err)
	}
	return &p, nil
}

// Load reads a palette file and lays it over the default one; keys missing
// from the file keep their default color. An empty path returns the default.
func Load(path string) (*Palette, error) {
	p := Default()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read palette %s: %w", path, err)
	}
	override, err := Parse(data)
	if err != nil {
		return nil, err
	}
	merge(p.Risk, override.Risk)
	merge(p.Phase, override.Phase)
	merge(p.Platform, override.Platform)
	merge(p.Relationship, override.Relationship)
	return p, nil
}

// merge copies non-empty colors from src; an empty value keeps the default.
func merge(dst, src map[string]string) {
	for k, v := range src {
		if strings.TrimSpace(v) == "" {
			continue
		}
		dst[k] = v
	}
}

func (p *Palette) info() string {
	return p.Risk["info"]
}

// PhaseColor accepts display names ("Initial Access") and slugs. Unknown
// phases get the info color.
func (p *Palette) PhaseColor(phase string) string {
	slug := strings.Join(strings.Fields(strings.ToLower(phase)), "-")
	if c, ok := p.Phase[slug]; ok {
		return c
	}
	return p.info()
}

func (p *Palette) PlatformColor(platform string) string {
	if key, ok := platformAliases[strings.ToLower(platform)]; ok {
		if c, ok := p.Platform[key]; ok {
			return c
		}
	}
	return p.info()
}

// RiskColor returns the color of critical, high, medium, low or info.
func (p *Palette) RiskColor(level string) string {
	if c, ok := p.Risk[strings.ToLower(level)]; ok {
		return c
	}
	return p.info()
}

func (p *Palette) RelationshipColor(typ string) string {
	if c, ok := p.Relationship[typ]; ok {
		return c
	}
	return p.Relationship["default"]
}

// ChartColors returns exactly n colors cycling through the phase colors.
// A phase without a color falls back to the info color.
func (p *Palette) ChartColors(n int) []string {
	out := make([]string, 0, max(n, 0))
	for i := 0; i < n; i++ {
		c := p.Phase[PhaseOrder[i%len(PhaseOrder)]]
		if c == "" {
			c = p.info()
		}
		out = append(out, c)
	}
	return out
}

// ContrastText picks black or white text for a "#rrggbb" or "#rgb"
// background using the YIQ brightness formula.
func ContrastText(hex string) string {
	r, g, b, ok := parseHex(hex)
	if !ok {
		return "#000"
	}
	brightness := (r*299 + g*587 + b*114) / 1000
	if brightness > 128 {
		return "#000"
	}
	return "#fff"
}

func parseHex(hex string) (r, g, b int, ok bool) {
	hex = strings.TrimPrefix(hex, "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return 0, 0, 0, false
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return 0, 0, 0, false
	}
	return int(v >> 16 & 0xff), int(v >> 8 & 0xff), int(v & 0xff), true
}
