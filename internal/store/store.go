// Package store defines persistence for incidents and the audit trail of
// matching decisions. The postgres implementation lives in internal/db; an
// in-memory one is provided here.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"dronewatch.eu/core/internal/incident"
)

var ErrNotFound = errors.New("incident not found")

const (
	OutcomeNewIncident = "new_incident"
	OutcomeMerged      = "merged"
	OutcomeRejected    = "rejected"
	OutcomeTie         = "tie"
)

// Fold records one candidate folded into an incident and how it matched.
type Fold struct {
	ID           uuid.UUID      `json:"fold_id"`
	IncidentID   uuid.UUID      `json:"incident_id"`
	ContentHash  string         `json:"content_hash"`
	SpacetimeKey string         `json:"spacetime_key"`
	Tier         string         `json:"tier"`
	Similarity   *float64       `json:"similarity,omitempty"`
	Confidence   *float64       `json:"confidence,omitempty"`
	Rationale    string         `json:"rationale,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	SourceURLs   []string       `json:"source_urls"`
	FoldedAt     time.Time      `json:"folded_at"`
}

// DecisionEvent is one row of the matching audit log.
type DecisionEvent struct {
	ID              uuid.UUID  `json:"event_id"`
	Outcome         string     `json:"outcome"`
	Tier            string     `json:"tier"`
	IncidentID      *uuid.UUID `json:"incident_id,omitempty"`
	BestCandidateID *uuid.UUID `json:"best_candidate_id,omitempty"`
	Similarity      *float64   `json:"similarity,omitempty"`
	Confidence      *float64   `json:"confidence,omitempty"`
	ContentHash     string     `json:"content_hash"`
	SpacetimeKey    string     `json:"spacetime_key"`
	Reason          string     `json:"reason,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

type PeerQuery struct {
	Country string
	From    time.Time
	To      time.Time
	Limit   int
}

// NeighborQuery searches stored embeddings. Peers without coordinates are
// kept; a zero RadiusKm or an unlocated Center disables the radius filter.
type NeighborQuery struct {
	Vector   []float32
	Country  string
	From     time.Time
	To       time.Time
	Center   incident.Location
	RadiusKm float64
	Limit    int
}

type Neighbor struct {
	Incident   incident.Incident
	Similarity float64
	DistanceKm *float64
}

type ListFilter struct {
	Country     string
	MinEvidence int
	From        *time.Time
	To          *time.Time
	Page        int
	PageSize    int
}

type Stats struct {
	Incidents  int64            `json:"incidents"`
	Sources    int64            `json:"sources"`
	Folds      int64            `json:"folds"`
	ByEvidence map[string]int64 `json:"by_evidence"`
	Decisions  map[string]int64 `json:"decisions"`
	LastUpdate *time.Time       `json:"last_update,omitempty"`
}

const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// IngestRun is the ledger entry of one ingest, consolidate or consume session.
type IngestRun struct {
	ID           uuid.UUID
	Origin       string
	Mode         string
	Status       string
	StartedAt    time.Time
	FinishedAt   *time.Time
	Processed    int
	NewIncidents int
	Merged       int
	Rejected     int
	Failed       int
	Error        string
}

// ApplyFunc derives the new version of an incident from the stored one.
type ApplyFunc func(existing incident.Incident) (incident.Incident, error)

// Store is what the matching pipeline needs.
type Store interface {
	Peers(ctx context.Context, q PeerQuery) ([]incident.Incident, error)
	Nearest(ctx context.Context, q NeighborQuery) ([]Neighbor, error)
	Get(ctx context.Context, id uuid.UUID) (incident.Incident, error)
	Create(ctx context.Context, inc incident.Incident, fold Fold) error
	// Update applies fn to the stored incident atomically. Nothing is written
	// when fn fails.
	Update(ctx context.Context, id uuid.UUID, fold Fold, fn ApplyFunc) (incident.Incident, error)
	SetEmbedding(ctx context.Context, id uuid.UUID, vector []float32) error
	RecordDecision(ctx context.Context, event DecisionEvent) error
}

// Reader serves the read API.
type Reader interface {
	Get(ctx context.Context, id uuid.UUID) (incident.Incident, error)
	List(ctx context.Context, filter ListFilter) ([]incident.Incident, int64, error)
	Folds(ctx context.Context, id uuid.UUID) ([]Fold, error)
	Stats(ctx context.Context) (Stats, error)
	Ping(ctx context.Context) error
}

type RunLedger interface {
	StartRun(ctx context.Context, run IngestRun) (IngestRun, error)
	FinishRun(ctx context.Context, run IngestRun) error
}

// Backend is a complete store implementation.
type Backend interface {
	Store
	Reader
	RunLedger
	Close() error
}

// SourceURLs lists the canonical URLs of a candidate's sources.
func SourceURLs(sources []incident.Source) []string {
	urls := make([]string, 0, len(sources))
	for _, source := range sources {
		if canonical := incident.CanonicalURL(source.URL); canonical != "" {
			urls = append(urls, canonical)
		}
	}
	return urls
}
