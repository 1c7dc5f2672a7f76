// Package incident holds the canonical incident record, the report
// candidates that feed it, and the pure rules that fold one into the other.
package incident

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrMalformedCandidate marks a candidate that cannot enter matching.
	// Callers log and drop it; it is never retried.
	ErrMalformedCandidate = errors.New("malformed candidate")
	// ErrEmptySources is a merge invariant violation. A merge that would leave
	// an incident without sources aborts without writing anything.
	ErrEmptySources = errors.New("incident would have no sources")
)

type AssetType string

const (
	AssetAirport    AssetType = "airport"
	AssetMilitary   AssetType = "military"
	AssetHarbor     AssetType = "harbor"
	AssetPowerplant AssetType = "powerplant"
	AssetBridge     AssetType = "bridge"
	AssetOther      AssetType = "other"
	AssetUnknown    AssetType = "unknown"
)

const (
	minTrustWeight    = 1
	maxTrustWeight    = 4
	countryCodeLength = 2
)

var knownAssetTypes = map[AssetType]struct{}{
	AssetAirport:    {},
	AssetMilitary:   {},
	AssetHarbor:     {},
	AssetPowerplant: {},
	AssetBridge:     {},
	AssetOther:      {},
	AssetUnknown:    {},
}

// ParseAssetType maps free text onto a known asset type. Unrecognised values
// become AssetUnknown.
func ParseAssetType(raw string) AssetType {
	candidate := AssetType(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := knownAssetTypes[candidate]; ok {
		return candidate
	}
	return AssetUnknown
}

// Specific reports whether the asset type says something about the target.
func (a AssetType) Specific() bool {
	return a != "" && a != AssetOther && a != AssetUnknown
}

// Location is the reported place of an incident. Either coordinate may be
// missing; both must be present for geographic comparisons.
type Location struct {
	Latitude  *float64 `json:"lat,omitempty"`
	Longitude *float64 `json:"lon,omitempty"`
	Name      string   `json:"name,omitempty"`
}

func (l Location) HasCoordinates() bool {
	return l.Latitude != nil && l.Longitude != nil
}

type Source struct {
	URL         string     `json:"source_url"`
	Name        string     `json:"source_name"`
	Type        string     `json:"source_type"`
	TrustWeight int        `json:"trust_weight"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	Quote       string     `json:"source_quote,omitempty"`
	Language    string     `json:"language,omitempty"`
}

// Candidate is an unconsolidated report produced by a feed adapter.
type Candidate struct {
	Title      string    `json:"title"`
	Narrative  string    `json:"narrative"`
	OccurredAt time.Time `json:"occurred_at"`
	Location   Location  `json:"location"`
	AssetType  AssetType `json:"asset_type"`
	Country    string    `json:"country"`
	Sources    []Source  `json:"sources"`
}

// ReportedAt is the most recent publication time among the candidate's
// sources, falling back to the occurrence time.
func (c Candidate) ReportedAt() time.Time {
	latest := c.OccurredAt.UTC()
	for _, source := range c.Sources {
		if source.PublishedAt != nil && source.PublishedAt.After(latest) {
			latest = source.PublishedAt.UTC()
		}
	}
	return latest
}

// Validate rejects candidates the matcher cannot reason about.
func (c Candidate) Validate() error {
	var problems []string
	if len(strings.TrimSpace(c.Country)) != countryCodeLength {
		problems = append(problems, "country must be a two-letter code")
	}
	if c.OccurredAt.IsZero() {
		problems = append(problems, "occurred_at is required")
	}
	if strings.TrimSpace(c.Title) == "" {
		problems = append(problems, "title is required")
	}
	if len(c.Sources) == 0 {
		problems = append(problems, "at least one source is required")
	}
	for i, source := range c.Sources {
		if strings.TrimSpace(source.URL) == "" {
			problems = append(problems, fmt.Sprintf("sources[%d].source_url is required", i))
		}
		if source.TrustWeight < minTrustWeight || source.TrustWeight > maxTrustWeight {
			problems = append(problems, fmt.Sprintf("sources[%d].trust_weight must be within 1..4", i))
		}
	}
	if (c.Location.Latitude == nil) != (c.Location.Longitude == nil) {
		problems = append(problems, "location needs both lat and lon or neither")
	}
	if c.Location.Latitude != nil && (*c.Location.Latitude < -90 || *c.Location.Latitude > 90) {
		problems = append(problems, "location.lat out of range")
	}
	if c.Location.Longitude != nil && (*c.Location.Longitude < -180 || *c.Location.Longitude > 180) {
		problems = append(problems, "location.lon out of range")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrMalformedCandidate, strings.Join(problems, "; "))
	}
	return nil
}

// Incident is the canonical, persisted record of one real-world event.
type Incident struct {
	ID            uuid.UUID  `json:"incident_id"`
	Title         string     `json:"title"`
	Narrative     string     `json:"narrative"`
	OccurredAt    time.Time  `json:"occurred_at"`
	Location      Location   `json:"location"`
	AssetType     AssetType  `json:"asset_type"`
	Country       string     `json:"country"`
	EvidenceScore Evidence   `json:"evidence_score"`
	Sources       []Source   `json:"sources"`
	MergedFrom    int        `json:"merged_from"`
	ContentHashes []string   `json:"-"`
	TitleAt       time.Time  `json:"-"`
	NarrativeAt   time.Time  `json:"-"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	Embedding     []float32  `json:"-"`
	LastMergedAt  *time.Time `json:"last_merged_at,omitempty"`
}

func (i Incident) SourceCount() int {
	return len(i.Sources)
}

// HasContentHash reports whether a candidate with the given hash was already
// folded into the incident.
func (i Incident) HasContentHash(hash string) bool {
	if hash == "" {
		return false
	}
	for _, existing := range i.ContentHashes {
		if existing == hash {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers can mutate without aliasing.
func (i Incident) Clone() Incident {
	out := i
	out.Sources = append([]Source(nil), i.Sources...)
	out.ContentHashes = append([]string(nil), i.ContentHashes...)
	out.Embedding = append([]float32(nil), i.Embedding...)
	out.Location = i.Location.clone()
	if i.LastMergedAt != nil {
		at := *i.LastMergedAt
		out.LastMergedAt = &at
	}
	return out
}

func (l Location) clone() Location {
	out := Location{Name: l.Name}
	if l.Latitude != nil {
		lat := *l.Latitude
		out.Latitude = &lat
	}
	if l.Longitude != nil {
		lon := *l.Longitude
		out.Longitude = &lon
	}
	return out
}

// NormalizeCountry returns the upper-case two-letter form of a country code.
func NormalizeCountry(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}
