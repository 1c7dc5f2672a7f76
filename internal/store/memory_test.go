package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"dronewatch.eu/core/internal/incident"
)

func ptr(v float64) *float64 { return &v }

func seedIncident(t *testing.T, m *Memory, country string, lat, lon float64, at time.Time, vector []float32) incident.Incident {
	t.Helper()
	inc := incident.Incident{
		ID:            uuid.New(),
		Title:         "seed",
		OccurredAt:    at,
		Location:      incident.Location{Latitude: ptr(lat), Longitude: ptr(lon)},
		Country:       country,
		Sources:       []incident.Source{{URL: "https://example.com/" + uuid.NewString(), TrustWeight: 2}},
		EvidenceScore: incident.EvidenceReported,
		MergedFrom:    1,
		UpdatedAt:     at,
	}
	if err := m.Create(context.Background(), inc, Fold{Tier: "seed"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if vector != nil {
		if err := m.SetEmbedding(context.Background(), inc.ID, vector); err != nil {
			t.Fatalf("SetEmbedding() error = %v", err)
		}
	}
	return inc
}

func TestMemoryNearestFiltersWindowAndRadius(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	base := time.Date(2025, 9, 22, 20, 0, 0, 0, time.UTC)
	near := seedIncident(t, m, "DK", 55.618, 12.6476, base, []float32{1, 0, 0})
	seedIncident(t, m, "DK", 57.0928, 9.8492, base, []float32{1, 0, 0})            // outside 50 km
	seedIncident(t, m, "DK", 55.62, 12.65, base.Add(-72*time.Hour), []float32{1, 0, 0}) // outside 48h
	seedIncident(t, m, "SE", 55.62, 12.65, base, []float32{1, 0, 0})               // other country
	weaker := seedIncident(t, m, "DK", 55.7, 12.6, base, []float32{0.6, 0.8, 0})

	neighbors, err := m.Nearest(context.Background(), NeighborQuery{
		Vector:   []float32{1, 0, 0},
		Country:  "DK",
		From:     base.Add(-48 * time.Hour),
		To:       base.Add(48 * time.Hour),
		Center:   incident.Location{Latitude: ptr(55.6), Longitude: ptr(12.6)},
		RadiusKm: 50,
		Limit:    10,
	})
	if err != nil {
		t.Fatalf("Nearest() error = %v", err)
	}
	if len(neighbors) != 2 {
		t.Fatalf("Nearest() returned %d neighbors, want 2", len(neighbors))
	}
	if neighbors[0].Incident.ID != near.ID || neighbors[1].Incident.ID != weaker.ID {
		t.Fatalf("unexpected neighbor order: %s, %s", neighbors[0].Incident.ID, neighbors[1].Incident.ID)
	}
	if neighbors[0].Similarity < 0.999 {
		t.Fatalf("similarity = %f, want ~1", neighbors[0].Similarity)
	}
	if neighbors[0].DistanceKm == nil {
		t.Fatalf("expected distance for located neighbor")
	}
}

func TestMemoryUpdateIsAtomic(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	inc := seedIncident(t, m, "DK", 55.6, 12.6, time.Now().UTC(), nil)

	_, err := m.Update(context.Background(), inc.ID, Fold{Tier: "exact"}, func(existing incident.Incident) (incident.Incident, error) {
		return incident.Incident{}, incident.ErrEmptySources
	})
	if !errors.Is(err, incident.ErrEmptySources) {
		t.Fatalf("Update() error = %v, want ErrEmptySources", err)
	}

	stored, err := m.Get(context.Background(), inc.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(stored.Sources) != 1 {
		t.Fatalf("failed update changed sources: %d", len(stored.Sources))
	}
	folds, err := m.Folds(context.Background(), inc.ID)
	if err != nil {
		t.Fatalf("Folds() error = %v", err)
	}
	if len(folds) != 1 {
		t.Fatalf("failed update recorded a fold: %d", len(folds))
	}
}

func TestMemoryListPaginates(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	base := time.Date(2025, 9, 22, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		seedIncident(t, m, "NO", 60, 11, base.Add(time.Duration(i)*time.Hour), nil)
	}

	items, total, err := m.List(context.Background(), ListFilter{Country: "no", Page: 2, PageSize: 2})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if total != 5 || len(items) != 2 {
		t.Fatalf("List() total=%d len=%d", total, len(items))
	}
	if !items[0].OccurredAt.Equal(base.Add(2 * time.Hour)) {
		t.Fatalf("unexpected page ordering: %s", items[0].OccurredAt)
	}
}

func TestMemoryGetMissing(t *testing.T) {
	t.Parallel()

	_, err := NewMemory().Get(context.Background(), uuid.New())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestCosine(t *testing.T) {
	t.Parallel()

	if _, err := Cosine([]float32{1}, []float32{1, 2}); err == nil {
		t.Fatalf("expected dimension mismatch error")
	}
	got, err := Cosine([]float32{1, 0}, []float32{0, 1})
	if err != nil || got != 0 {
		t.Fatalf("Cosine(orthogonal) = %f, %v", got, err)
	}
}

func TestMemoryNearestSkipsOtherDimensions(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	base := time.Date(2025, 9, 22, 20, 0, 0, 0, time.UTC)
	seedIncident(t, m, "DK", 55.618, 12.6476, base, []float32{1, 0})
	same := seedIncident(t, m, "DK", 55.618, 12.6476, base, []float32{1, 0, 0})
	seedIncident(t, m, "DK", 55.618, 12.6476, base, nil)

	neighbors, err := m.Nearest(context.Background(), NeighborQuery{
		Vector:  []float32{1, 0, 0},
		Country: "DK",
		Limit:   10,
	})
	if err != nil {
		t.Fatalf("Nearest() error = %v", err)
	}
	if len(neighbors) != 1 || neighbors[0].Incident.ID != same.ID {
		t.Fatalf("Nearest() = %d neighbors, want only the 3-dimensional one", len(neighbors))
	}
}

func TestMemoryPeersNewestFirst(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	base := time.Date(2025, 9, 22, 20, 0, 0, 0, time.UTC)
	seedIncident(t, m, "DK", 55.6, 12.6, base, nil)
	newest := seedIncident(t, m, "DK", 55.6, 12.6, base.Add(2*time.Hour), nil)
	middle := seedIncident(t, m, "DK", 55.6, 12.6, base.Add(time.Hour), nil)

	peers, err := m.Peers(context.Background(), PeerQuery{Country: "DK", Limit: 2})
	if err != nil {
		t.Fatalf("Peers() error = %v", err)
	}
	if len(peers) != 2 {
		t.Fatalf("Peers() returned %d, want 2", len(peers))
	}
	if peers[0].ID != newest.ID || peers[1].ID != middle.ID {
		t.Fatalf("Peers() order = %s, %s; want newest first", peers[0].ID, peers[1].ID)
	}
}
