// Package embedding turns incident text into vectors for semantic matching.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
)

// ErrUnavailable wraps every provider failure the matcher should treat as
// transient.
var ErrUnavailable = errors.New("embedding capability unavailable")

type Provider interface {
	Name() string
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Registry stores embedding providers and resolves the configured one.
type Registry struct {
	providers       map[string]Provider
	defaultProvider string
}

func NewRegistry(defaultProvider string) *Registry {
	return &Registry{
		providers:       make(map[string]Provider),
		defaultProvider: normalizeProviderName(defaultProvider),
	}
}

func (r *Registry) Register(provider Provider) error {
	if r == nil {
		return fmt.Errorf("registry is nil")
	}
	if provider == nil {
		return fmt.Errorf("provider is nil")
	}
	name := normalizeProviderName(provider.Name())
	if name == "" {
		return fmt.Errorf("provider name is required")
	}
	r.providers[name] = provider
	return nil
}

// Provider resolves a provider by name. Empty names use the default.
func (r *Registry) Provider(name string) (Provider, error) {
	if r == nil {
		return nil, fmt.Errorf("registry is nil")
	}
	resolved := normalizeProviderName(name)
	if resolved == "" {
		resolved = r.defaultProvider
	}
	provider, ok := r.providers[resolved]
	if !ok {
		return nil, fmt.Errorf("embedding provider %q is not registered (available: %s)", resolved, strings.Join(r.ProviderNames(), ", "))
	}
	return provider, nil
}

func (r *Registry) ProviderNames() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalizeProviderName(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func toFloat32(values []float64) ([]float32, error) {
	out := make([]float32, len(values))
	for i, value := range values {
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return nil, fmt.Errorf("vector has non-finite value at index %d", i)
		}
		out[i] = float32(value)
	}
	return out, nil
}

func checkVector(values []float32, dimensions int) error {
	if len(values) == 0 {
		return fmt.Errorf("empty vector")
	}
	if dimensions > 0 && len(values) != dimensions {
		return fmt.Errorf("expected %d dimensions, got %d", dimensions, len(values))
	}
	for i, value := range values {
		v := float64(value)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("vector has non-finite value at index %d", i)
		}
	}
	return nil
}
