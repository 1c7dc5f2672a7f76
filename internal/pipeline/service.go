// Package pipeline decides, for each incoming candidate report, whether it
// describes an incident already on record and folds it in, or whether it
// opens a new incident. Matching runs cheapest first: content hash and
// fuzzy title, then embedding similarity, then a reasoning model for the
// ambiguous band.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"dronewatch.eu/core/internal/embedding"
	"dronewatch.eu/core/internal/globaltime"
	"dronewatch.eu/core/internal/incident"
	"dronewatch.eu/core/internal/langdetect"
	"dronewatch.eu/core/internal/lease"
	"dronewatch.eu/core/internal/metrics"
	"dronewatch.eu/core/internal/normalize"
	"dronewatch.eu/core/internal/reader"
	"dronewatch.eu/core/internal/store"
)

type Service struct {
	store       store.Store
	normalizer  *normalize.Normalizer
	embedder    embedding.Provider
	adjudicator *Adjudicator
	locker      lease.Locker
	metrics     metrics.Recorder
	logger      zerolog.Logger
	opts        Options
}

// Dependencies wires a Service. Embedder and Adjudicator may be nil, which
// disables Tier 2 and Tier 3 respectively.
type Dependencies struct {
	Store       store.Store
	Normalizer  *normalize.Normalizer
	Embedder    embedding.Provider
	Adjudicator *Adjudicator
	Locker      lease.Locker
	Metrics     metrics.Recorder
	Logger      zerolog.Logger
}

// Decision is what happened to one candidate.
type Decision struct {
	Outcome         string     `json:"outcome"`
	Tier            string     `json:"tier"`
	IncidentID      uuid.UUID  `json:"incident_id"`
	BestCandidateID *uuid.UUID `json:"best_candidate_id,omitempty"`
	Similarity      *float64   `json:"similarity,omitempty"`
	Confidence      *float64   `json:"confidence,omitempty"`
	Rationale       string     `json:"rationale,omitempty"`
	SpacetimeKey    string     `json:"spacetime_key"`
	ContentHash     string     `json:"content_hash"`
	EvidenceScore   int        `json:"evidence_score"`
	SourceCount     int        `json:"source_count"`
}

func NewService(deps Dependencies, opts Options) (*Service, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("pipeline store is required")
	}
	if deps.Normalizer == nil {
		deps.Normalizer = normalize.New(normalize.Options{})
	}
	if deps.Locker == nil {
		deps.Locker = lease.NewLocal()
	}
	if deps.Metrics == nil {
		deps.Metrics = (*metrics.Metrics)(nil)
	}
	return &Service{
		store:       deps.Store,
		normalizer:  deps.Normalizer,
		embedder:    deps.Embedder,
		adjudicator: deps.Adjudicator,
		locker:      deps.Locker,
		metrics:     deps.Metrics,
		logger:      deps.Logger,
		opts:        normalizeOptions(opts),
	}, nil
}

func (s *Service) Options() Options {
	return s.opts
}

func (s *Service) Normalizer() *normalize.Normalizer {
	return s.normalizer
}

// Ingest runs one candidate through the matching tiers and either folds it
// into an existing incident or creates a new one. The decision for a lock
// region is serialised, so two near-identical candidates arriving together
// cannot both become new incidents.
//
// Malformed candidates return an error wrapping incident.ErrMalformedCandidate.
// Capability failures never surface here; the affected tier abstains.
func (s *Service) Ingest(ctx context.Context, c incident.Candidate) (Decision, error) {
	c = s.prepare(c)
	if err := c.Validate(); err != nil {
		s.reject(ctx, c, err)
		return Decision{Outcome: store.OutcomeRejected, Tier: TierNone}, err
	}

	key := s.normalizer.Spacetime(c).String()
	contentHash := s.normalizer.ContentHash(c)
	lockKey := s.normalizer.LockKey(c)

	waitStarted := time.Now()
	release, err := s.locker.Acquire(ctx, lockKey)
	if err != nil {
		return Decision{}, fmt.Errorf("acquire lock %s: %w", lockKey, err)
	}
	defer release()
	s.metrics.LockWait(time.Since(waitStarted))

	decision, err := s.decide(ctx, c, key, contentHash)
	if err != nil {
		return Decision{}, err
	}
	s.metrics.Decision(decision.Outcome, decision.Tier)
	s.logger.Info().
		Str("outcome", decision.Outcome).
		Str("tier", decision.Tier).
		Str("incident_id", decision.IncidentID.String()).
		Str("spacetime_key", key).
		Int("evidence_score", decision.EvidenceScore).
		Int("source_count", decision.SourceCount).
		Msg("candidate decided")
	return decision, nil
}

func (s *Service) decide(ctx context.Context, c incident.Candidate, key, contentHash string) (Decision, error) {
	peers, err := s.store.Peers(ctx, store.PeerQuery{
		Country: c.Country,
		From:    c.OccurredAt.Add(-s.opts.SemanticWindow),
		To:      c.OccurredAt.Add(s.opts.SemanticWindow),
		Limit:   s.opts.PeerLimit,
	})
	if err != nil {
		return Decision{}, fmt.Errorf("load peers: %w", err)
	}

	match, tied, outcome := s.MatchTier1(c, contentHash, peers)
	switch outcome {
	case TierMatched:
		return s.fold(ctx, c, key, contentHash, match, nil)
	case TierTied:
		return s.createTied(ctx, c, key, contentHash, TierFuzzy, tied[0].ID, nil, nil)
	}

	vector, err := s.embed(ctx, s.EmbeddingText(c))
	if err != nil {
		s.logger.Warn().Err(err).Str("spacetime_key", key).Msg("embedding unavailable, semantic tier abstains")
		vector = nil
	}

	semantic, err := s.MatchTier2(ctx, c, vector)
	if err != nil {
		return Decision{}, err
	}
	switch semantic.Outcome {
	case TierTied:
		similarity := semantic.Best.Similarity
		return s.createTied(ctx, c, key, contentHash, TierSemantic, semantic.Best.Incident.ID, &similarity, vector)
	case TierMatched:
		best := semantic.Best
		if semantic.Band == BandConfirmed {
			return s.fold(ctx, c, key, contentHash, Match{
				Incident:   best.Incident,
				Tier:       TierSemantic,
				Similarity: best.Similarity,
				Details:    semanticDetails(*best),
			}, vector)
		}
		if resolved, ok := s.resolveAmbiguous(ctx, c, *best); ok {
			return s.fold(ctx, c, key, contentHash, resolved, vector)
		}
		similarity := best.Similarity
		bestID := best.Incident.ID
		return s.create(ctx, c, key, contentHash, vector, TierSemantic, &bestID, &similarity, "ambiguous match not confirmed")
	}

	var bestID *uuid.UUID
	var similarity *float64
	if semantic.Best != nil {
		id := semantic.Best.Incident.ID
		score := semantic.Best.Similarity
		bestID, similarity = &id, &score
	}
	return s.create(ctx, c, key, contentHash, vector, TierNone, bestID, similarity, "")
}

// resolveAmbiguous settles a similarity in the ambiguous band. With a
// reasoning capability the verdict decides; without one the band collapses
// to the single floor threshold.
func (s *Service) resolveAmbiguous(ctx context.Context, c incident.Candidate, best store.Neighbor) (Match, bool) {
	if s.adjudicator == nil {
		if best.Similarity < s.opts.SemanticFloor {
			return Match{}, false
		}
		details := semanticDetails(best)
		details["signal"] = "semantic_floor"
		return Match{
			Incident:   best.Incident,
			Tier:       TierSemantic,
			Similarity: best.Similarity,
			Details:    details,
		}, true
	}

	verdict, ok := s.adjudicator.Adjudicate(ctx, c, best.Incident, best.Similarity)
	if !ok {
		s.logger.Warn().
			Str("incident_id", best.Incident.ID.String()).
			Float64("similarity", best.Similarity).
			Msg("adjudication unavailable, keeping candidate separate")
		return Match{}, false
	}
	if !verdict.Same || verdict.Confidence < s.opts.AdjudicatorConfidence {
		s.logger.Debug().
			Str("incident_id", best.Incident.ID.String()).
			Bool("same_incident", verdict.Same).
			Float64("confidence", verdict.Confidence).
			Msg("adjudicator did not confirm match")
		return Match{}, false
	}

	confidence := verdict.Confidence
	details := semanticDetails(best)
	details["provider"] = verdict.Provider
	return Match{
		Incident:   best.Incident,
		Tier:       TierAdjudicated,
		Similarity: best.Similarity,
		Confidence: &confidence,
		Rationale:  verdict.Rationale,
		Details:    details,
	}, true
}

func (s *Service) fold(ctx context.Context, c incident.Candidate, key, contentHash string, match Match, vector []float32) (Decision, error) {
	now := globaltime.UTC()
	similarity := match.Similarity
	fold := store.Fold{
		ID:           uuid.New(),
		IncidentID:   match.Incident.ID,
		ContentHash:  contentHash,
		SpacetimeKey: key,
		Tier:         match.Tier,
		Similarity:   &similarity,
		Confidence:   match.Confidence,
		Rationale:    match.Rationale,
		Details:      match.Details,
		SourceURLs:   store.SourceURLs(c.Sources),
		FoldedAt:     now,
	}

	merged, err := s.store.Update(ctx, match.Incident.ID, fold, func(existing incident.Incident) (incident.Incident, error) {
		next, _, err := incident.Merge(existing, c, contentHash, s.opts.Merge, now)
		return next, err
	})
	if err != nil {
		if errors.Is(err, incident.ErrEmptySources) {
			s.logger.Error().Err(err).Str("incident_id", match.Incident.ID.String()).Msg("merge aborted")
		}
		return Decision{}, fmt.Errorf("fold into incident %s: %w", match.Incident.ID, err)
	}

	if len(vector) > 0 && len(merged.Embedding) == 0 {
		if err := s.store.SetEmbedding(ctx, merged.ID, vector); err != nil {
			s.logger.Warn().Err(err).Str("incident_id", merged.ID.String()).Msg("backfill incident embedding")
		}
	}

	decision := Decision{
		Outcome:       store.OutcomeMerged,
		Tier:          match.Tier,
		IncidentID:    merged.ID,
		Similarity:    &similarity,
		Confidence:    match.Confidence,
		Rationale:     match.Rationale,
		SpacetimeKey:  key,
		ContentHash:   contentHash,
		EvidenceScore: int(merged.EvidenceScore),
		SourceCount:   merged.SourceCount(),
	}
	s.record(ctx, decision, "")
	return decision, nil
}

func (s *Service) create(ctx context.Context, c incident.Candidate, key, contentHash string, vector []float32, tier string, bestID *uuid.UUID, similarity *float64, reason string) (Decision, error) {
	now := globaltime.UTC()
	created, err := incident.NewIncident(c, uuid.New(), contentHash, now)
	if err != nil {
		return Decision{}, err
	}
	created.Embedding = vector

	fold := store.Fold{
		ID:           uuid.New(),
		IncidentID:   created.ID,
		ContentHash:  contentHash,
		SpacetimeKey: key,
		Tier:         TierNone,
		SourceURLs:   store.SourceURLs(c.Sources),
		FoldedAt:     now,
	}
	if err := s.store.Create(ctx, created, fold); err != nil {
		return Decision{}, fmt.Errorf("create incident: %w", err)
	}

	decision := Decision{
		Outcome:         store.OutcomeNewIncident,
		Tier:            tier,
		IncidentID:      created.ID,
		BestCandidateID: bestID,
		Similarity:      similarity,
		SpacetimeKey:    key,
		ContentHash:     contentHash,
		EvidenceScore:   int(created.EvidenceScore),
		SourceCount:     created.SourceCount(),
	}
	s.record(ctx, decision, reason)
	return decision, nil
}

// createTied opens a new incident when two existing incidents match the
// candidate equally well. Picking either would be a guess.
func (s *Service) createTied(ctx context.Context, c incident.Candidate, key, contentHash, tier string, bestID uuid.UUID, similarity *float64, vector []float32) (Decision, error) {
	decision, err := s.create(ctx, c, key, contentHash, vector, tier, &bestID, similarity, "tie between existing incidents")
	if err != nil {
		return Decision{}, err
	}
	decision.Outcome = store.OutcomeTie
	return decision, nil
}

func (s *Service) reject(ctx context.Context, c incident.Candidate, cause error) {
	s.metrics.Rejected("malformed")
	s.logger.Warn().Err(cause).Str("title", c.Title).Str("country", c.Country).Msg("candidate rejected")
	event := store.DecisionEvent{
		ID:        uuid.New(),
		Outcome:   store.OutcomeRejected,
		Tier:      TierNone,
		Reason:    cause.Error(),
		CreatedAt: globaltime.UTC(),
	}
	if err := s.store.RecordDecision(ctx, event); err != nil {
		s.logger.Warn().Err(err).Msg("record rejected decision")
	}
}

// record appends the decision to the audit log. A failed audit write is
// logged and does not undo the decision.
func (s *Service) record(ctx context.Context, decision Decision, reason string) {
	incidentID := decision.IncidentID
	event := store.DecisionEvent{
		ID:              uuid.New(),
		Outcome:         decision.Outcome,
		Tier:            decision.Tier,
		IncidentID:      &incidentID,
		BestCandidateID: decision.BestCandidateID,
		Similarity:      decision.Similarity,
		Confidence:      decision.Confidence,
		ContentHash:     decision.ContentHash,
		SpacetimeKey:    decision.SpacetimeKey,
		Reason:          reason,
		CreatedAt:       globaltime.UTC(),
	}
	if err := s.store.RecordDecision(ctx, event); err != nil {
		s.logger.Warn().Err(err).Str("incident_id", incidentID.String()).Msg("record decision")
	}
}

// prepare trims input, reduces HTML narratives to text and fills in the
// language of each source.
func (s *Service) prepare(c incident.Candidate) incident.Candidate {
	prepared := c
	prepared.Title = strings.TrimSpace(c.Title)
	prepared.Country = incident.NormalizeCountry(c.Country)
	prepared.AssetType = incident.ParseAssetType(string(c.AssetType))
	prepared.Location.Name = strings.TrimSpace(c.Location.Name)
	if !c.OccurredAt.IsZero() {
		prepared.OccurredAt = c.OccurredAt.UTC()
	}

	pageURL := ""
	if len(c.Sources) > 0 {
		pageURL = c.Sources[0].URL
	}
	prepared.Narrative = reader.PlainText(c.Narrative, pageURL)

	prepared.Sources = make([]incident.Source, len(c.Sources))
	for i, source := range c.Sources {
		source.URL = strings.TrimSpace(source.URL)
		source.Name = strings.TrimSpace(source.Name)
		text := strings.TrimSpace(source.Quote)
		if text == "" {
			text = prepared.Title + " " + prepared.Narrative
		}
		source.Language = langdetect.Resolve(source.Language, text)
		prepared.Sources[i] = source
	}
	return prepared
}

func semanticDetails(neighbor store.Neighbor) map[string]any {
	details := map[string]any{
		"signal": "embedding_cosine",
		"cosine": round4(neighbor.Similarity),
	}
	if neighbor.DistanceKm != nil {
		details["distance_km"] = round4(*neighbor.DistanceKm)
	}
	return details
}
