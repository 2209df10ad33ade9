package mitre

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/shiran1989/magshimim-cyber-homework/internal/util"
	"github.com/shiran1989/magshimim-cyber-homework/pkg/attack"
	"github.com/shiran1989/magshimim-cyber-homework/pkg/store"
)

const (
	typeAttackPattern = "attack-pattern"
	sourceMitreAttack = "mitre-attack"

	// placeholder used for fields missing from the STIX object
	missing = "N/A"
)

// Bundle is a STIX 2 bundle as published in mitre/cti.
type Bundle struct {
	Type    string   `json:"type"`
	ID      string   `json:"id,omitempty"`
	Objects []Object `json:"objects"`
}

// Object holds the STIX properties the catalog keeps. Objects of other types
// decode into it too and are skipped.
type Object struct {
	Type               string                     `json:"type"`
	ID                 string                     `json:"id"`
	Name               *string                    `json:"name,omitempty"`
	Description        *string                    `json:"description,omitempty"`
	Platforms          []string                   `json:"x_mitre_platforms,omitempty"`
	Detection          *string                    `json:"x_mitre_detection,omitempty"`
	KillChainPhases    []attack.KillChainPhase    `json:"kill_chain_phases,omitempty"`
	ExternalReferences []attack.ExternalReference `json:"external_references,omitempty"`
	Created            string                     `json:"created,omitempty"`
	Modified           string                     `json:"modified,omitempty"`
	Domains            []string                   `json:"x_mitre_domains,omitempty"`
	DataSources        []string                   `json:"x_mitre_data_sources,omitempty"`
	Version            string                     `json:"x_mitre_version,omitempty"`
	IsSubtechnique     bool                       `json:"x_mitre_is_subtechnique,omitempty"`
	Deprecated         bool                       `json:"x_mitre_deprecated,omitempty"`
	Revoked            bool                       `json:"revoked,omitempty"`
	AttackSpecVersion  string                     `json:"x_mitre_attack_spec_version,omitempty"`
}

// DecodeBundle parses one bundle and returns its attack-pattern objects.
func DecodeBundle(r io.Reader) ([]Object, error) {
	var b Bundle
	if err := json.NewDecoder(r).Decode(&b); err != nil {
		return nil, fmt.Errorf("failed to decode STIX bundle: %w", err)
	}
	out := make([]Object, 0, len(b.Objects))
	for _, obj := range b.Objects {
		if obj.Type == typeAttackPattern {
			out = append(out, obj)
		}
	}
	return out, nil
}

// LoadBundle reads a bundle, e.g. a local copy of enterprise-attack.json, and
// converts its attack patterns.
func LoadBundle(r io.Reader) ([]attack.AttackPattern, error) {
	objects, err := DecodeBundle(r)
	if err != nil {
		return nil, err
	}
	return Convert(objects), nil
}

// Convert turns STIX objects into catalog patterns, dropping later duplicates
// of the same technique id.
func Convert(objects []Object) []attack.AttackPattern {
	seen := make(map[string]struct{}, len(objects))
	out := make([]attack.AttackPattern, 0, len(objects))
	for _, obj := range objects {
		p := Process(obj)
		if _, ok := seen[p.ID]; ok {
			continue
		}
		seen[p.ID] = struct{}{}
		out = append(out, p)
	}
	return out
}

// Process maps a STIX attack-pattern to a catalog pattern. The pattern id is
// the ATT&CK technique id (T1059.001); objects without one keep their STIX id.
// Missing platforms and detection become "NA", and the primary phase is the
// first kill-chain phase.
func Process(obj Object) attack.AttackPattern {
	externalID := ""
	for _, ref := range obj.ExternalReferences {
		if ref.SourceName == sourceMitreAttack {
			externalID = ref.ExternalID
			break
		}
	}
	id := externalID
	if id == "" {
		id = obj.ID
	}
	if externalID == "" {
		externalID = attack.NotAvailable
	}

	platforms := store.DedupeStrings(util.SanitizePostgresTexts(obj.Platforms))
	if len(platforms) == 0 {
		platforms = []string{attack.NotAvailable}
	}

	detection := util.SanitizePostgresText(valueOr(obj.Detection, attack.NotAvailable))
	if detection == "" {
		detection = attack.NotAvailable
	}

	phases := make([]attack.KillChainPhase, 0, len(obj.KillChainPhases))
	for _, kc := range obj.KillChainPhases {
		if kc.PhaseName == "" {
			kc.PhaseName = missing
		}
		phases = append(phases, kc)
	}
	phase := attack.NotAvailable
	if len(phases) > 0 {
		phase = phases[0].PhaseName
	}

	refs := obj.ExternalReferences
	if refs == nil {
		refs = []attack.ExternalReference{}
	}

	return attack.AttackPattern{
		ID:                 id,
		Name:               util.SanitizePostgresText(valueOr(obj.Name, missing)),
		Description:        util.SanitizePostgresText(valueOr(obj.Description, missing)),
		Platforms:          platforms,
		Detection:          detection,
		PhaseName:          phase,
		ExternalID:         externalID,
		KillChainPhases:    phases,
		ExternalReferences: refs,
		CreatedAt:          stringOr(obj.Created, attack.UnknownDate),
		ModifiedAt:         stringOr(obj.Modified, attack.UnknownDate),
		Domains:            store.DedupeStrings(obj.Domains),
		DataSources:        store.DedupeStrings(obj.DataSources),
		Version:            stringOr(obj.Version, missing),
		IsSubtechnique:     obj.IsSubtechnique,
		Deprecated:         obj.Deprecated || obj.Revoked,
		AttackSpecVersion:  stringOr(obj.AttackSpecVersion, missing),
	}
}

// SamplePatterns is served when the MITRE repository cannot be listed.
func SamplePatterns() []attack.AttackPattern {
	return []attack.AttackPattern{
		{
			ID:                 "T1001",
			Name:               "Data Exfiltration",
			Description:        "Adversaries may steal data from compromised systems",
			Platforms:          []string{"Windows", "Linux"},
			Detection:          "Monitor network traffic for unusual data transfers",
			PhaseName:          "Exfiltration",
			ExternalID:         "T1001",
			KillChainPhases:    []attack.KillChainPhase{{PhaseName: "Exfiltration"}},
			ExternalReferences: []attack.ExternalReference{{ExternalID: "T1001"}},
			CreatedAt:          "2020-01-01T00:00:00.000Z",
			ModifiedAt:         "2020-01-01T00:00:00.000Z",
		},
	}
}

// EncodeBundle writes objects back as a single STIX bundle.
func EncodeBundle(w io.Writer, id string, objects []Object) error {
	enc := json.NewEncoder(w)
	return enc.Encode(Bundle{Type: "bundle", ID: id, Objects: objects})
}

func valueOr(s *string, def string) string {
	if s == nil {
		return def
	}
	return *s
}

func stringOr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
