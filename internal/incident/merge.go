package incident

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// DefaultMinWords is the shortest title or narrative, in words, that may
// replace a canonical one.
const DefaultMinWords = 3

type MergeOptions struct {
	MinWords int
}

func normalizeMergeOptions(opts MergeOptions) MergeOptions {
	normalized := opts
	if normalized.MinWords <= 0 {
		normalized.MinWords = DefaultMinWords
	}
	return normalized
}

// MergeResult describes what a fold changed.
type MergeResult struct {
	AddedSources     int
	TitleChanged     bool
	NarrativeChanged bool
	GapFilled        []string
	ScoreBefore      Evidence
	ScoreAfter       Evidence
}

// Contributed reports whether the candidate brought at least one new source.
func (r MergeResult) Contributed() bool {
	return r.AddedSources > 0
}

// NewIncident seeds a canonical record from a single candidate.
func NewIncident(c Candidate, id uuid.UUID, contentHash string, now time.Time) (Incident, error) {
	sources := UnionSources(nil, c.Sources)
	if len(sources) == 0 {
		return Incident{}, fmt.Errorf("create incident: %w", ErrEmptySources)
	}
	if id == uuid.Nil {
		id = uuid.New()
	}

	reportedAt := c.ReportedAt()
	created := Incident{
		ID:            id,
		Title:         strings.TrimSpace(c.Title),
		Narrative:     strings.TrimSpace(c.Narrative),
		OccurredAt:    c.OccurredAt.UTC(),
		Location:      c.Location.clone(),
		AssetType:     ParseAssetType(string(c.AssetType)),
		Country:       NormalizeCountry(c.Country),
		EvidenceScore: Score(sources),
		Sources:       sources,
		MergedFrom:    1,
		TitleAt:       reportedAt,
		NarrativeAt:   reportedAt,
		CreatedAt:     now.UTC(),
		UpdatedAt:     now.UTC(),
	}
	if contentHash != "" {
		created.ContentHashes = []string{contentHash}
	}
	return created, nil
}

// Merge folds a candidate into an existing incident and returns the new
// record. The input is never modified, so a failed merge leaves no trace.
//
// Identity fields (occurred_at, coordinates, country) keep the first writer's
// values. Asset type and location name are only filled when still unknown.
func Merge(existing Incident, c Candidate, contentHash string, opts MergeOptions, now time.Time) (Incident, MergeResult, error) {
	opts = normalizeMergeOptions(opts)
	merged := existing.Clone()
	result := MergeResult{ScoreBefore: existing.EvidenceScore}

	merged.Sources = UnionSources(existing.Sources, c.Sources)
	if len(merged.Sources) == 0 {
		return existing, MergeResult{}, fmt.Errorf("merge into incident %s: %w", existing.ID, ErrEmptySources)
	}
	result.AddedSources = countNewURLs(existing.Sources, merged.Sources)

	reportedAt := c.ReportedAt()
	if text, at, changed := pickText(merged.Title, merged.TitleAt, c.Title, reportedAt, opts.MinWords); changed {
		merged.Title, merged.TitleAt = text, at
		result.TitleChanged = true
	}
	if text, at, changed := pickText(merged.Narrative, merged.NarrativeAt, c.Narrative, reportedAt, opts.MinWords); changed {
		merged.Narrative, merged.NarrativeAt = text, at
		result.NarrativeChanged = true
	}

	if offered := ParseAssetType(string(c.AssetType)); !merged.AssetType.Specific() && offered.Specific() {
		merged.AssetType = offered
		result.GapFilled = append(result.GapFilled, "asset_type")
	}
	if strings.TrimSpace(merged.Location.Name) == "" && strings.TrimSpace(c.Location.Name) != "" {
		merged.Location.Name = strings.TrimSpace(c.Location.Name)
		result.GapFilled = append(result.GapFilled, "location_name")
	}

	if contentHash != "" && !merged.HasContentHash(contentHash) {
		merged.ContentHashes = append(merged.ContentHashes, contentHash)
	}

	merged.EvidenceScore = Score(merged.Sources)
	result.ScoreAfter = merged.EvidenceScore

	if result.Contributed() {
		merged.MergedFrom++
		at := now.UTC()
		merged.LastMergedAt = &at
	}
	if result.Contributed() || result.TitleChanged || result.NarrativeChanged || len(result.GapFilled) > 0 {
		merged.UpdatedAt = now.UTC()
	}
	return merged, result, nil
}

// UnionSources returns base plus every source in extra whose canonical URL is
// not yet present. A URL seen twice keeps the higher trust weight and fills
// blank descriptive metadata. The outlet name stays as first seen: it is the
// source's corroboration identity, and changing it could merge two outlets
// into one and lower the score.
func UnionSources(base, extra []Source) []Source {
	out := make([]Source, 0, len(base)+len(extra))
	index := make(map[string]int, len(base)+len(extra))
	for _, group := range [][]Source{base, extra} {
		for _, source := range group {
			key := CanonicalURL(source.URL)
			if key == "" {
				continue
			}
			if at, ok := index[key]; ok {
				out[at] = combineSource(out[at], source)
				continue
			}
			index[key] = len(out)
			out = append(out, copySource(source))
		}
	}
	return out
}

func combineSource(kept, other Source) Source {
	if other.TrustWeight > kept.TrustWeight {
		kept.TrustWeight = other.TrustWeight
	}
	if strings.TrimSpace(kept.Type) == "" {
		kept.Type = other.Type
	}
	if strings.TrimSpace(kept.Quote) == "" {
		kept.Quote = other.Quote
	}
	if strings.TrimSpace(kept.Language) == "" {
		kept.Language = other.Language
	}
	if kept.PublishedAt == nil && other.PublishedAt != nil {
		at := other.PublishedAt.UTC()
		kept.PublishedAt = &at
	}
	return kept
}

func copySource(source Source) Source {
	out := source
	if source.PublishedAt != nil {
		at := source.PublishedAt.UTC()
		out.PublishedAt = &at
	}
	return out
}

func countNewURLs(before, after []Source) int {
	seen := make(map[string]struct{}, len(before))
	for _, source := range before {
		seen[CanonicalURL(source.URL)] = struct{}{}
	}
	added := 0
	for _, source := range after {
		if _, ok := seen[CanonicalURL(source.URL)]; !ok {
			added++
		}
	}
	return added
}

// pickText chooses between the canonical text and an offered one. Texts with
// at least minWords words beat shorter ones; among those the longer wins and
// equal lengths go to the more recent report.
func pickText(current string, currentAt time.Time, offered string, offeredAt time.Time, minWords int) (string, time.Time, bool) {
	offered = strings.TrimSpace(offered)
	if offered == "" || offered == current {
		return current, currentAt, false
	}
	if strings.TrimSpace(current) == "" {
		return offered, offeredAt, true
	}

	currentEligible := len(strings.Fields(current)) >= minWords
	offeredEligible := len(strings.Fields(offered)) >= minWords
	if currentEligible != offeredEligible {
		if offeredEligible {
			return offered, offeredAt, true
		}
		return current, currentAt, false
	}

	currentLen := utf8.RuneCountInString(current)
	offeredLen := utf8.RuneCountInString(offered)
	switch {
	case offeredLen > currentLen:
		return offered, offeredAt, true
	case offeredLen == currentLen && offeredAt.After(currentAt):
		return offered, offeredAt, true
	default:
		return current, currentAt, false
	}
}
