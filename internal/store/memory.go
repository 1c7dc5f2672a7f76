package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"dronewatch.eu/core/internal/globaltime"
	"dronewatch.eu/core/internal/incident"
	"dronewatch.eu/core/internal/normalize"
)

// Memory keeps everything in process. Vector search is a linear scan, which
// is fine for the window sizes a single region produces.
type Memory struct {
	mu        sync.RWMutex
	incidents map[uuid.UUID]incident.Incident
	order     []uuid.UUID
	folds     map[uuid.UUID][]Fold
	events    []DecisionEvent
	runs      map[uuid.UUID]IngestRun
}

func NewMemory() *Memory {
	return &Memory{
		incidents: make(map[uuid.UUID]incident.Incident),
		folds:     make(map[uuid.UUID][]Fold),
		runs:      make(map[uuid.UUID]IngestRun),
	}
}

func (m *Memory) Peers(ctx context.Context, q PeerQuery) ([]incident.Incident, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]incident.Incident, 0)
	for _, id := range m.order {
		inc := m.incidents[id]
		if !matchesWindow(inc, q.Country, q.From, q.To) {
			continue
		}
		out = append(out, inc.Clone())
	}
	// Most recently updated first, like the Postgres backend.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *Memory) Nearest(ctx context.Context, q NeighborQuery) ([]Neighbor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Neighbor, 0)
	for _, id := range m.order {
		inc := m.incidents[id]
		// Vectors from another embedding model are not comparable.
		if len(inc.Embedding) == 0 || len(inc.Embedding) != len(q.Vector) || !matchesWindow(inc, q.Country, q.From, q.To) {
			continue
		}
		var distance *float64
		if km, ok := normalize.DistanceKm(q.Center, inc.Location); ok {
			if q.RadiusKm > 0 && km > q.RadiusKm {
				continue
			}
			distance = &km
		}
		similarity, err := Cosine(q.Vector, inc.Embedding)
		if err != nil {
			return nil, fmt.Errorf("compare incident %s: %w", id, err)
		}
		out = append(out, Neighbor{Incident: inc.Clone(), Similarity: similarity, DistanceKm: distance})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Similarity > out[j].Similarity
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *Memory) Get(ctx context.Context, id uuid.UUID) (incident.Incident, error) {
	if err := ctx.Err(); err != nil {
		return incident.Incident{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	inc, ok := m.incidents[id]
	if !ok {
		return incident.Incident{}, fmt.Errorf("get incident %s: %w", id, ErrNotFound)
	}
	return inc.Clone(), nil
}

func (m *Memory) Create(ctx context.Context, inc incident.Incident, fold Fold) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(inc.Sources) == 0 {
		return fmt.Errorf("create incident %s: %w", inc.ID, incident.ErrEmptySources)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.incidents[inc.ID]; exists {
		return fmt.Errorf("create incident %s: already exists", inc.ID)
	}
	m.incidents[inc.ID] = inc.Clone()
	m.order = append(m.order, inc.ID)
	m.appendFoldLocked(inc.ID, fold)
	return nil
}

func (m *Memory) Update(ctx context.Context, id uuid.UUID, fold Fold, fn ApplyFunc) (incident.Incident, error) {
	if err := ctx.Err(); err != nil {
		return incident.Incident{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.incidents[id]
	if !ok {
		return incident.Incident{}, fmt.Errorf("update incident %s: %w", id, ErrNotFound)
	}
	updated, err := fn(existing.Clone())
	if err != nil {
		return incident.Incident{}, err
	}
	if len(updated.Sources) == 0 {
		return incident.Incident{}, fmt.Errorf("update incident %s: %w", id, incident.ErrEmptySources)
	}
	updated.ID = id
	if len(updated.Embedding) == 0 {
		updated.Embedding = existing.Embedding
	}
	m.incidents[id] = updated.Clone()
	m.appendFoldLocked(id, fold)
	return updated, nil
}

func (m *Memory) appendFoldLocked(id uuid.UUID, fold Fold) {
	if fold.ID == uuid.Nil {
		fold.ID = uuid.New()
	}
	if fold.FoldedAt.IsZero() {
		fold.FoldedAt = globaltime.UTC()
	}
	fold.IncidentID = id
	m.folds[id] = append(m.folds[id], fold)
}

func (m *Memory) SetEmbedding(ctx context.Context, id uuid.UUID, vector []float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	inc, ok := m.incidents[id]
	if !ok {
		return fmt.Errorf("set embedding %s: %w", id, ErrNotFound)
	}
	inc.Embedding = append([]float32(nil), vector...)
	m.incidents[id] = inc
	return nil
}

func (m *Memory) RecordDecision(ctx context.Context, event DecisionEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = globaltime.UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

// Decisions returns a copy of the audit log.
func (m *Memory) Decisions() []DecisionEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]DecisionEvent(nil), m.events...)
}

func (m *Memory) List(ctx context.Context, filter ListFilter) ([]incident.Incident, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]incident.Incident, 0)
	for _, id := range m.order {
		inc := m.incidents[id]
		if filter.Country != "" && inc.Country != incident.NormalizeCountry(filter.Country) {
			continue
		}
		if int(inc.EvidenceScore) < filter.MinEvidence {
			continue
		}
		if filter.From != nil && inc.OccurredAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && inc.OccurredAt.After(*filter.To) {
			continue
		}
		matched = append(matched, inc.Clone())
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].OccurredAt.After(matched[j].OccurredAt)
	})

	total := int64(len(matched))
	page, pageSize := max(filter.Page, 1), filter.PageSize
	if pageSize <= 0 {
		return matched, total, nil
	}
	start := (page - 1) * pageSize
	if start >= len(matched) {
		return []incident.Incident{}, total, nil
	}
	end := min(start+pageSize, len(matched))
	return matched[start:end], total, nil
}

func (m *Memory) Folds(ctx context.Context, id uuid.UUID) ([]Fold, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.incidents[id]; !ok {
		return nil, fmt.Errorf("folds for %s: %w", id, ErrNotFound)
	}
	return append([]Fold(nil), m.folds[id]...), nil
}

func (m *Memory) Stats(ctx context.Context) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		ByEvidence: make(map[string]int64),
		Decisions:  make(map[string]int64),
	}
	for _, inc := range m.incidents {
		stats.Incidents++
		stats.Sources += int64(len(inc.Sources))
		stats.Folds += int64(len(m.folds[inc.ID]))
		stats.ByEvidence[inc.EvidenceScore.Label()]++
		if stats.LastUpdate == nil || inc.UpdatedAt.After(*stats.LastUpdate) {
			at := inc.UpdatedAt
			stats.LastUpdate = &at
		}
	}
	for _, event := range m.events {
		stats.Decisions[event.Outcome+":"+event.Tier]++
	}
	return stats, nil
}

func (m *Memory) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (m *Memory) StartRun(ctx context.Context, run IngestRun) (IngestRun, error) {
	if err := ctx.Err(); err != nil {
		return IngestRun{}, err
	}
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = globaltime.UTC()
	}
	run.Status = RunStatusRunning
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = run
	return run, nil
}

func (m *Memory) FinishRun(ctx context.Context, run IngestRun) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.ID]; !ok {
		return fmt.Errorf("finish run %s: unknown run", run.ID)
	}
	if run.FinishedAt == nil {
		at := globaltime.UTC()
		run.FinishedAt = &at
	}
	m.runs[run.ID] = run
	return nil
}

// Run returns a recorded ingest run.
func (m *Memory) Run(id uuid.UUID) (IngestRun, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	return run, ok
}

func (m *Memory) Close() error {
	return nil
}

func matchesWindow(inc incident.Incident, country string, from, to time.Time) bool {
	if country != "" && inc.Country != incident.NormalizeCountry(country) {
		return false
	}
	if !from.IsZero() && inc.OccurredAt.Before(from) {
		return false
	}
	if !to.IsZero() && inc.OccurredAt.After(to) {
		return false
	}
	return true
}

// Cosine is the cosine similarity of two equal-length vectors.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vector dimensions differ: %d vs %d", len(a), len(b))
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}
