package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPProviderEmbedDialect(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embed" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Texts) != 1 || req.Texts[0] != "drone airport" {
			t.Errorf("unexpected texts %v", req.Texts)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": [][]float64{{0.1, 0.2, 0.3}}})
	}))
	defer server.Close()

	provider := NewHTTPProvider(HTTPOptions{Endpoint: server.URL, Dimensions: 3})
	vector, err := provider.Embed(context.Background(), "drone airport")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(vector) != 3 || vector[2] != float32(0.3) {
		t.Fatalf("unexpected vector %v", vector)
	}
}

func TestHTTPProviderOpenAIDialect(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if len(req.Input) != 1 || req.Model != "bge-m3" {
			t.Errorf("unexpected request %+v", req)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"index": 0, "embedding": []float64{1, 0}}},
		})
	}))
	defer server.Close()

	provider := NewHTTPProvider(HTTPOptions{Endpoint: server.URL + "/v1/embeddings", Model: "bge-m3"})
	vector, err := provider.Embed(context.Background(), "x")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(vector) != 2 {
		t.Fatalf("unexpected vector %v", vector)
	}
}

func TestHTTPProviderFailuresAreUnavailable(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := NewHTTPProvider(HTTPOptions{Endpoint: server.URL}).Embed(context.Background(), "x")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Embed() error = %v, want ErrUnavailable", err)
	}
}

func TestHTTPProviderDimensionMismatch(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": [][]float64{{1, 2}}})
	}))
	defer server.Close()

	_, err := NewHTTPProvider(HTTPOptions{Endpoint: server.URL, Dimensions: 3}).Embed(context.Background(), "x")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Embed() error = %v, want ErrUnavailable", err)
	}
}

func TestRegistryResolvesDefault(t *testing.T) {
	t.Parallel()

	registry := NewRegistry(" HTTP ")
	if err := registry.Register(NewHTTPProvider(HTTPOptions{})); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	provider, err := registry.Provider("")
	if err != nil || provider.Name() != "http" {
		t.Fatalf("Provider(\"\") = %v, %v", provider, err)
	}
	if _, err := registry.Provider("gemini"); err == nil {
		t.Fatalf("expected unknown provider error")
	}
}

func TestNormalizeEndpoint(t *testing.T) {
	t.Parallel()

	if got := normalizeEndpoint(""); got != DefaultHTTPEndpoint {
		t.Fatalf("normalizeEndpoint(\"\") = %q", got)
	}
	if got := normalizeEndpoint("http://embedder:8844"); got != "http://embedder:8844/embed" {
		t.Fatalf("normalizeEndpoint() = %q", got)
	}
}
