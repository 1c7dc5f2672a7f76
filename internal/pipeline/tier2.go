package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"dronewatch.eu/core/internal/incident"
	"dronewatch.eu/core/internal/reader"
	"dronewatch.eu/core/internal/store"
)

const (
	BandConfirmed = "confirmed"
	BandAmbiguous = "ambiguous"
	BandBelow     = "below"

	embeddingDateLayout = "2006-01-02"
)

// SemanticResult is the outcome of the embedding tier.
type SemanticResult struct {
	Outcome     TierOutcome
	Band        string
	Best        *store.Neighbor
	RunnerUp    *store.Neighbor
	Unavailable bool
}

// EmbeddingText is what gets embedded for a candidate: what, where and when
// come first (folded title, place, asset type spelled out in every language
// the synonym table knows, day of occurrence), then a short narrative excerpt.
func (s *Service) EmbeddingText(c incident.Candidate) string {
	parts := make([]string, 0, 6)
	if title := s.normalizer.Text(c.Title); title != "" {
		parts = append(parts, title)
	}
	if name := strings.TrimSpace(c.Location.Name); name != "" {
		parts = append(parts, name)
	}
	parts = append(parts, incident.NormalizeCountry(c.Country))
	asset := incident.ParseAssetType(string(c.AssetType))
	if asset.Specific() {
		synonyms := s.normalizer.Options().Synonyms.Synonyms(string(asset))
		parts = append(parts, string(asset)+": "+strings.Join(synonyms, ", "))
	}
	if !c.OccurredAt.IsZero() {
		parts = append(parts, c.OccurredAt.UTC().Format(embeddingDateLayout))
	}
	if excerpt, _ := reader.TruncateText(c.Narrative, s.opts.NarrativeExcerptChars); excerpt != "" {
		parts = append(parts, excerpt)
	}
	return strings.Join(parts, "\n")
}

// embed calls the embedding capability under its own deadline. A nil vector
// with nil error means the capability is not configured.
func (s *Service) embed(ctx context.Context, text string) ([]float32, error) {
	if s.embedder == nil {
		return nil, nil
	}
	callCtx, cancel := context.WithTimeout(ctx, s.opts.EmbeddingTimeout)
	defer cancel()

	started := time.Now()
	vector, err := s.embedder.Embed(callCtx, text)
	s.metrics.CapabilityLatency("embedding", s.embedder.Name(), time.Since(started))
	if err != nil {
		s.metrics.CapabilityFailure("embedding", s.embedder.Name())
		return nil, fmt.Errorf("embed with %s: %w", s.embedder.Name(), err)
	}
	return vector, nil
}

// MatchTier2 searches stored incident embeddings in the semantic window and
// radius and classifies the nearest one. Store failures are returned; a
// missing vector makes the tier abstain.
func (s *Service) MatchTier2(ctx context.Context, c incident.Candidate, vector []float32) (SemanticResult, error) {
	if len(vector) == 0 {
		return SemanticResult{Outcome: TierAbstained, Band: BandBelow, Unavailable: true}, nil
	}

	neighbors, err := s.store.Nearest(ctx, store.NeighborQuery{
		Vector:   vector,
		Country:  incident.NormalizeCountry(c.Country),
		From:     c.OccurredAt.Add(-s.opts.SemanticWindow),
		To:       c.OccurredAt.Add(s.opts.SemanticWindow),
		Center:   c.Location,
		RadiusKm: s.opts.SemanticRadiusKm,
		Limit:    s.opts.NeighborLimit,
	})
	if err != nil {
		return SemanticResult{}, fmt.Errorf("semantic neighbor search: %w", err)
	}
	return s.classifySemantic(neighbors), nil
}

func (s *Service) classifySemantic(neighbors []store.Neighbor) SemanticResult {
	if len(neighbors) == 0 {
		return SemanticResult{Outcome: TierAbstained, Band: BandBelow}
	}

	best := neighbors[0]
	result := SemanticResult{Best: &best}
	if len(neighbors) > 1 {
		runnerUp := neighbors[1]
		result.RunnerUp = &runnerUp
	}

	switch {
	case best.Similarity >= s.opts.SemanticHigh:
		result.Band = BandConfirmed
	case best.Similarity >= s.opts.SemanticLow:
		result.Band = BandAmbiguous
	default:
		result.Band = BandBelow
		result.Outcome = TierAbstained
		return result
	}

	if result.RunnerUp != nil &&
		result.RunnerUp.Incident.ID != best.Incident.ID &&
		result.RunnerUp.Similarity >= s.opts.SemanticLow &&
		best.Similarity-result.RunnerUp.Similarity <= s.opts.TieEpsilon {
		result.Outcome = TierTied
		return result
	}
	result.Outcome = TierMatched
	return result
}
