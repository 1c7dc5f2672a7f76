// Package reasoning wraps the language models that adjudicate ambiguous
// matches. Providers only move text; prompt and verdict parsing live with
// the matcher.
package reasoning

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrUnavailable = errors.New("reasoning capability unavailable")

const (
	DefaultMaxTokens  = 400
	systemInstruction = "You compare two reports of drone incidents and answer only with a JSON object."
)

type Provider interface {
	Name() string
	Complete(ctx context.Context, prompt string) (string, error)
}

// Registry stores reasoning providers by name.
type Registry struct {
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
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

// Provider resolves a provider by name. "none" and "" resolve to nil
// without error so a disabled slot is not a configuration failure.
func (r *Registry) Provider(name string) (Provider, error) {
	if r == nil {
		return nil, fmt.Errorf("registry is nil")
	}
	resolved := normalizeProviderName(name)
	if resolved == "" || resolved == "none" {
		return nil, nil
	}
	provider, ok := r.providers[resolved]
	if !ok {
		return nil, fmt.Errorf("reasoning provider %q is not registered (available: %s)", resolved, strings.Join(r.ProviderNames(), ", "))
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
