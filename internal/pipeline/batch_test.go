package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dronewatch.eu/core/internal/incident"
	"dronewatch.eu/core/internal/store"
)

func TestConsolidate_GroupsBySpacetimeKey(t *testing.T) {
	t.Parallel()

	service, memory := newTestService(t, Dependencies{}, Options{BatchWorkers: 2})
	ctx := context.Background()

	kastrupA := kastrupCandidate("Drone closes Kastrup Airport", "https://dr.example.dk/a", "DR", 2)
	kastrupB := kastrupCandidate("Copenhagen flights halted by drones over the runway", "https://tv2.example.dk/b", "TV2", 2)
	kastrupB.OccurredAt = baseTime.Add(20 * time.Minute)
	kastrupC := kastrupCandidate("Police statement on Kastrup drones", "https://politi.example.dk/c", "Politi", 4)
	kastrupC.OccurredAt = baseTime.Add(40 * time.Minute)

	aalborg := kastrupCandidate("Drone closes Aalborg Airport", "https://dr.example.dk/aalborg", "DR", 2)
	aalborg.Location = located("Aalborg Airport", 57.0928, 9.8492)

	malformed := kastrupCandidate("", "https://bad.example/x", "Bad", 2)

	unlocated := kastrupCandidate("Drone reported somewhere in Jutland", "https://local.example.dk/y", "Local", 1)
	unlocated.Location = incident.Location{Name: "Jutland"}

	result, err := service.Consolidate(ctx, []incident.Candidate{kastrupA, aalborg, kastrupB, malformed, kastrupC, unlocated})
	require.NoError(t, err)

	assert.Equal(t, 6, result.Processed)
	assert.Equal(t, 2, result.Groups)
	assert.Equal(t, 3, result.NewIncidents)
	assert.Equal(t, 2, result.Merged)
	assert.Equal(t, 1, result.Rejected)
	assert.Zero(t, result.Failed)
	assert.Equal(t, 3, countIncidents(t, memory))

	incidents, _, err := memory.List(ctx, store.ListFilter{Country: "DK", MinEvidence: int(incident.EvidenceOfficial)})
	require.NoError(t, err)
	require.Len(t, incidents, 1)
	kastrup := incidents[0]
	assert.Equal(t, 3, kastrup.SourceCount())
	assert.Equal(t, 3, kastrup.MergedFrom)
	assert.Equal(t, "Copenhagen flights halted by drones over the runway", kastrup.Title)

	folds, err := memory.Folds(ctx, kastrup.ID)
	require.NoError(t, err)
	require.Len(t, folds, 3)
	assert.Equal(t, TierSpacetime, folds[1].Tier)
	assert.Equal(t, TierSpacetime, folds[2].Tier)
}

func TestConsolidate_MatchesExistingIncidents(t *testing.T) {
	t.Parallel()

	service, memory := newTestService(t, Dependencies{}, Options{})
	ctx := context.Background()

	seeded, err := service.Ingest(ctx, kastrupCandidate("Drone closes Kastrup Airport", "https://dr.example.dk/a", "DR", 2))
	require.NoError(t, err)

	result, err := service.Consolidate(ctx, []incident.Candidate{
		kastrupCandidate("Drone closes Kastrup Airport", "https://tv2.example.dk/b", "TV2", 2),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Merged)

	stored, err := memory.Get(ctx, seeded.IncidentID)
	require.NoError(t, err)
	assert.Equal(t, incident.EvidenceVerified, stored.EvidenceScore)
}

func TestConsolidate_CancelledContext(t *testing.T) {
	t.Parallel()

	service, _ := newTestService(t, Dependencies{}, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := service.Consolidate(ctx, []incident.Candidate{
		kastrupCandidate("Drone closes Kastrup Airport", "https://dr.example.dk/a", "DR", 2),
	})
	require.Error(t, err)
}
