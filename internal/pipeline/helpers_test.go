package pipeline

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"dronewatch.eu/core/internal/incident"
	"dronewatch.eu/core/internal/normalize"
	"dronewatch.eu/core/internal/store"
)

var baseTime = time.Date(2025, 9, 22, 20, 30, 0, 0, time.UTC)

type markedVector struct {
	marker string
	vector []float32
}

// stubEmbedder returns the vector of the first marker found in the text.
type stubEmbedder struct {
	mu       sync.Mutex
	calls    int
	vectors  []markedVector
	fallback []float32
	err      error
	delay    time.Duration
}

func (s *stubEmbedder) Name() string { return "stub" }

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.delay):
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	lower := strings.ToLower(text)
	for _, mv := range s.vectors {
		if strings.Contains(lower, mv.marker) {
			return append([]float32(nil), mv.vector...), nil
		}
	}
	return append([]float32(nil), s.fallback...), nil
}

func (s *stubEmbedder) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubReasoner struct {
	name    string
	mu      sync.Mutex
	calls   int
	prompts []string
	output  string
	err     error
	delay   time.Duration
}

func (s *stubReasoner) Name() string { return s.name }

func (s *stubReasoner) Complete(ctx context.Context, prompt string) (string, error) {
	s.mu.Lock()
	s.calls++
	s.prompts = append(s.prompts, prompt)
	s.mu.Unlock()

	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(s.delay):
		}
	}
	if s.err != nil {
		return "", s.err
	}
	return s.output, nil
}

func (s *stubReasoner) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func floatPtr(v float64) *float64 {
	return &v
}

func located(name string, lat, lon float64) incident.Location {
	return incident.Location{Latitude: floatPtr(lat), Longitude: floatPtr(lon), Name: name}
}

func source(url, name string, trust int) incident.Source {
	return incident.Source{URL: url, Name: name, Type: "media", TrustWeight: trust, Language: "en"}
}

func kastrupCandidate(title, url, outlet string, trust int) incident.Candidate {
	return incident.Candidate{
		Title:      title,
		Narrative:  "Air traffic at Copenhagen Airport was halted after several drones were observed near the runways.",
		OccurredAt: baseTime,
		Location:   located("Copenhagen Airport", 55.618, 12.6476),
		AssetType:  incident.AssetAirport,
		Country:    "DK",
		Sources:    []incident.Source{source(url, outlet, trust)},
	}
}

func newTestService(t *testing.T, deps Dependencies, opts Options) (*Service, *store.Memory) {
	t.Helper()

	memory := store.NewMemory()
	if deps.Store == nil {
		deps.Store = memory
	} else if m, ok := deps.Store.(*store.Memory); ok {
		memory = m
	}
	if deps.Normalizer == nil {
		deps.Normalizer = normalize.New(normalize.Options{})
	}
	deps.Logger = zerolog.Nop()
	service, err := NewService(deps, opts)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return service, memory
}

func newTestAdjudicator(t *testing.T, primary, secondary *stubReasoner, timeout time.Duration) *Adjudicator {
	t.Helper()

	opts := AdjudicatorOptions{Timeout: timeout, Logger: zerolog.Nop()}
	if primary != nil {
		opts.Primary = primary
	}
	if secondary != nil {
		opts.Secondary = secondary
	}
	adjudicator, err := NewAdjudicator(opts)
	if err != nil {
		t.Fatalf("new adjudicator: %v", err)
	}
	return adjudicator
}

func countIncidents(t *testing.T, memory *store.Memory) int {
	t.Helper()

	_, total, err := memory.List(context.Background(), store.ListFilter{PageSize: 100})
	if err != nil {
		t.Fatalf("list incidents: %v", err)
	}
	return int(total)
}
