package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"dronewatch.eu/core/internal/incident"
	"dronewatch.eu/core/internal/metrics"
	"dronewatch.eu/core/internal/store"
)

type apiEnvelope struct {
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

func seedIncident(t *testing.T, memory *store.Memory, title, country string, occurredAt time.Time, trust int) incident.Incident {
	t.Helper()

	lat, lon := 55.618, 12.6476
	candidate := incident.Candidate{
		Title:      title,
		OccurredAt: occurredAt,
		Location:   incident.Location{Latitude: &lat, Longitude: &lon, Name: "Copenhagen Airport"},
		AssetType:  incident.AssetAirport,
		Country:    country,
		Sources: []incident.Source{{
			URL:         "https://example.com/" + uuid.NewString(),
			Name:        "Example",
			TrustWeight: trust,
		}},
	}
	inc, err := incident.NewIncident(candidate, uuid.New(), "hash-"+title, occurredAt)
	if err != nil {
		t.Fatalf("new incident: %v", err)
	}
	if err := memory.Create(context.Background(), inc, store.Fold{Tier: "none", SourceURLs: store.SourceURLs(candidate.Sources)}); err != nil {
		t.Fatalf("create incident: %v", err)
	}
	return inc
}

func newTestServer(memory store.Reader, opts Options) http.Handler {
	return NewServer(memory, zerolog.Nop(), opts).Handler()
}

func doGet(t *testing.T, handler http.Handler, target string) (*httptest.ResponseRecorder, apiEnvelope) {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var env apiEnvelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode response %s: %v", rec.Body.String(), err)
		}
	}
	return rec, env
}

func TestHandleHealth(t *testing.T) {
	t.Parallel()

	rec, env := doGet(t, newTestServer(store.NewMemory(), Options{}), "/api/v1/health")
	if rec.Code != http.StatusOK || env.Status != "success" {
		t.Fatalf("unexpected health response %d %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(string(env.Data), `"service":"dronewatch"`) {
		t.Fatalf("expected service name in %s", env.Data)
	}
}

type downReader struct {
	store.Reader
}

func (downReader) Ping(context.Context) error {
	return errors.New("connection refused")
}

func TestHandleHealthStoreDown(t *testing.T) {
	t.Parallel()

	rec, env := doGet(t, newTestServer(downReader{Reader: store.NewMemory()}, Options{}), "/api/v1/health")
	if rec.Code != http.StatusServiceUnavailable || env.Status != "error" {
		t.Fatalf("expected 503 error, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestHandleIncidentsFilters(t *testing.T) {
	t.Parallel()

	memory := store.NewMemory()
	base := time.Date(2025, 9, 22, 20, 30, 0, 0, time.UTC)
	seedIncident(t, memory, "Kastrup closure", "DK", base, 4)
	seedIncident(t, memory, "Aalborg sighting", "DK", base.Add(48*time.Hour), 1)
	seedIncident(t, memory, "Gardermoen closure", "NO", base.Add(24*time.Hour), 3)
	handler := newTestServer(memory, Options{})

	type listData struct {
		Items []struct {
			Title         string `json:"title"`
			Country       string `json:"country"`
			EvidenceScore int    `json:"evidence_score"`
			EvidenceLabel string `json:"evidence_label"`
			SourceCount   int    `json:"source_count"`
		} `json:"items"`
		Pagination struct {
			TotalItems int64 `json:"total_items"`
			TotalPages int   `json:"total_pages"`
		} `json:"pagination"`
	}

	rec, env := doGet(t, handler, "/api/v1/incidents?country=dk")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	var data listData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if data.Pagination.TotalItems != 2 || len(data.Items) != 2 {
		t.Fatalf("expected 2 DK incidents, got %+v", data)
	}
	if data.Items[0].Title != "Aalborg sighting" {
		t.Fatalf("expected newest first, got %q", data.Items[0].Title)
	}
	if data.Items[1].EvidenceScore != 4 || data.Items[1].EvidenceLabel == "" || data.Items[1].SourceCount != 1 {
		t.Fatalf("unexpected Kastrup view %+v", data.Items[1])
	}

	_, env = doGet(t, handler, "/api/v1/incidents?min_evidence=2&page_size=1")
	data = listData{}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if data.Pagination.TotalItems != 2 || data.Pagination.TotalPages != 2 || len(data.Items) != 1 {
		t.Fatalf("unexpected pagination %+v", data)
	}

	_, env = doGet(t, handler, "/api/v1/incidents?from=2025-09-23&to=2025-09-23")
	data = listData{}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if len(data.Items) != 1 || data.Items[0].Country != "NO" {
		t.Fatalf("expected only Gardermoen, got %+v", data.Items)
	}
}

func TestHandleIncidentsValidation(t *testing.T) {
	t.Parallel()

	handler := newTestServer(store.NewMemory(), Options{})
	for _, target := range []string{
		"/api/v1/incidents?min_evidence=5",
		"/api/v1/incidents?country=DNK",
		"/api/v1/incidents?page=0",
		"/api/v1/incidents?from=yesterday",
		"/api/v1/incidents?from=2025-09-24&to=2025-09-22",
	} {
		rec, env := doGet(t, handler, target)
		if rec.Code != http.StatusBadRequest || env.Status != "fail" {
			t.Fatalf("%s: expected 400 fail, got %d %s", target, rec.Code, rec.Body.String())
		}
	}
}

func TestHandleIncidentDetail(t *testing.T) {
	t.Parallel()

	memory := store.NewMemory()
	inc := seedIncident(t, memory, "Kastrup closure", "DK", time.Date(2025, 9, 22, 20, 30, 0, 0, time.UTC), 3)
	handler := newTestServer(memory, Options{})

	rec, env := doGet(t, handler, "/api/v1/incidents/"+inc.ID.String())
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	var detail struct {
		Incident struct {
			ID      string `json:"incident_id"`
			Sources []struct {
				URL string `json:"source_url"`
			} `json:"sources"`
		} `json:"incident"`
		Folds []struct {
			Tier string `json:"tier"`
		} `json:"folds"`
	}
	if err := json.Unmarshal(env.Data, &detail); err != nil {
		t.Fatalf("decode detail: %v", err)
	}
	if detail.Incident.ID != inc.ID.String() || len(detail.Incident.Sources) != 1 {
		t.Fatalf("unexpected incident %+v", detail.Incident)
	}
	if len(detail.Folds) != 1 || detail.Folds[0].Tier != "none" {
		t.Fatalf("unexpected folds %+v", detail.Folds)
	}

	rec, env = doGet(t, handler, "/api/v1/incidents/"+uuid.NewString())
	if rec.Code != http.StatusNotFound || env.Status != "fail" {
		t.Fatalf("expected 404, got %d %s", rec.Code, rec.Body.String())
	}
	rec, _ = doGet(t, handler, "/api/v1/incidents/not-a-uuid")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleStats(t *testing.T) {
	t.Parallel()

	memory := store.NewMemory()
	seedIncident(t, memory, "Kastrup closure", "DK", time.Date(2025, 9, 22, 20, 30, 0, 0, time.UTC), 4)
	rec, env := doGet(t, newTestServer(memory, Options{}), "/api/v1/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	var stats store.Stats
	if err := json.Unmarshal(env.Data, &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Incidents != 1 || stats.Sources != 1 || stats.Folds != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	m := metrics.New()
	m.Decision(store.OutcomeMerged, "exact")

	rec, _ := doGet(t, newTestServer(store.NewMemory(), Options{Metrics: m.Handler()}), "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "dronewatch_") {
		t.Fatalf("expected dronewatch metrics, got %s", rec.Body.String())
	}

	rec, _ = doGet(t, newTestServer(store.NewMemory(), Options{}), "/metrics")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected metrics to be unmounted, got %d", rec.Code)
	}
}

func TestUnknownAPIRouteUsesJSend(t *testing.T) {
	t.Parallel()

	rec, env := doGet(t, newTestServer(store.NewMemory(), Options{}), "/api/v1/nope")
	if rec.Code != http.StatusNotFound || env.Status != "fail" {
		t.Fatalf("expected jsend 404, got %d %s", rec.Code, rec.Body.String())
	}
}
