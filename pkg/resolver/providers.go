package resolver

import (
	"context"

	"github.com/aegisgov/decision-engine/pkg/domain"
)

// ProviderFunc adapts a function to the domain.ContextProvider interface.
type ProviderFunc struct {
	ProviderName string
	Fn           func(ctx context.Context, req domain.EvaluationRequest) (map[string]any, error)
}

// Name implements domain.ContextProvider.
func (p ProviderFunc) Name() string { return p.ProviderName }

// Fetch implements domain.ContextProvider.
func (p ProviderFunc) Fetch(ctx context.Context, req domain.EvaluationRequest) (map[string]any, error) {
	return p.Fn(ctx, req)
}

// StaticProvider returns the same facts for every request. Intended for
// deployment-constant context (environment, region) and for tests.
type StaticProvider struct {
	ProviderName string
	Fields       map[string]any
}

// Name implements domain.ContextProvider.
func (p StaticProvider) Name() string { return p.ProviderName }

// Fetch implements domain.ContextProvider.
func (p StaticProvider) Fetch(context.Context, domain.EvaluationRequest) (map[string]any, error) {
	out := make(map[string]any, len(p.Fields))
	for k, v := range p.Fields {
		out[k] = v
	}
	return out, nil
}
