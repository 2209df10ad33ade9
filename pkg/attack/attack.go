// Package attack holds the wire and domain types shared by the API server, the
// data client and the dashboard.
//
// Field names follow the REST contract of the catalog API, which in turn keeps
// the STIX property names used by MITRE (x_mitre_platforms, kill_chain_phases).
package attack

// NotAvailable marks a missing phase, platform or detection text. Relationship
// scoring never treats two NotAvailable values as a match.
const NotAvailable = "NA"

// UnknownDate is the placeholder stored for missing creation/modification times.
const UnknownDate = "N/A"

// AttackPattern is one cataloged ATT&CK technique.
type AttackPattern struct {
	ID                 string              `json:"id"`
	Name               string              `json:"name"`
	Description        string              `json:"description"`
	Platforms          []string            `json:"x_mitre_platforms"`
	Detection          string              `json:"x_mitre_detection"`
	PhaseName          string              `json:"phase_name"`
	ExternalID         string              `json:"external_id"`
	KillChainPhases    []KillChainPhase    `json:"kill_chain_phases"`
	ExternalReferences []ExternalReference `json:"external_references"`
	CreatedAt          string              `json:"created_at"`
	ModifiedAt         string              `json:"modified_at"`

	Domains           []string `json:"x_mitre_domains,omitempty"`
	DataSources       []string `json:"x_mitre_data_sources,omitempty"`
	Version           string   `json:"x_mitre_version,omitempty"`
	IsSubtechnique    bool     `json:"x_mitre_is_subtechnique,omitempty"`
	Deprecated        bool     `json:"x_mitre_deprecated,omitempty"`
	AttackSpecVersion string   `json:"x_mitre_attack_spec_version,omitempty"`
}

// KillChainPhase is a single tactic the pattern belongs to.
type KillChainPhase struct {
	KillChainName string `json:"kill_chain_name,omitempty"`
	PhaseName     string `json:"phase_name"`
}

// ExternalReference links the pattern to an outside catalog entry.
type ExternalReference struct {
	SourceName  string `json:"source_name"`
	ExternalID  string `json:"external_id,omitempty"`
	URL         string `json:"url,omitempty"`
	Description string `json:"description,omitempty"`
}

// MitreURL returns the attack.mitre.org link of the pattern, if present.
func (p AttackPattern) MitreURL() string {
	for _, ref := range p.ExternalReferences {
		if ref.SourceName == "mitre-attack" && ref.URL != "" {
			return ref.URL
		}
	}
	return ""
}

// HasPlatform reports whether the pattern lists platform exactly.
func (p AttackPattern) HasPlatform(platform string) bool {
	for _, pl := range p.Platforms {
		if pl == platform {
			return true
		}
	}
	return false
}

type SearchRequest struct {
	Query  string `json:"query"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// SearchResponse is the paginated envelope returned by list, search and
// dashboard-data.
type SearchResponse struct {
	Results []AttackPattern `json:"results"`
	Total   int             `json:"total"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

// Bucket is one row of an aggregate distribution. The JSON name keeps the
// aggregation key spelling of the API.
type Bucket struct {
	ID    string `json:"_id"`
	Count int    `json:"count"`
}

type StatsResponse struct {
	TotalPatterns        int      `json:"total_patterns"`
	PhaseDistribution    []Bucket `json:"phase_distribution"`
	PlatformDistribution []Bucket `json:"platform_distribution"`
}

type Health struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// ErrorBody is the JSON body of every non-2xx API response.
type ErrorBody struct {
	Detail string `json:"detail"`
	Status int    `json:"status,omitempty"`
}
