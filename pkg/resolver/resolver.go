// Package resolver gathers request-time facts from the configured context
// providers. Providers run concurrently; partial failures are tolerated and
// surfaced through the completeness flag rather than aborting resolution.
package resolver

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/aegisgov/decision-engine/pkg/domain"
)

const (
	defaultProviderTimeout = 500 * time.Millisecond
	defaultCeiling         = 2 * time.Second
)

// Config controls resolution timeouts.
type Config struct {
	// ProviderTimeout bounds each individual provider fetch.
	ProviderTimeout time.Duration
	// Ceiling is the hard overall limit; when exceeded, whatever partial
	// context has arrived is returned with Complete=false.
	Ceiling time.Duration
}

// Resolver fans an evaluation request out to zero or more context providers
// and merges their partial contexts.
type Resolver struct {
	providers []domain.ContextProvider
	cfg       Config
	log       zerolog.Logger
}

// New constructs a Resolver over the given providers.
func New(providers []domain.ContextProvider, cfg Config, log zerolog.Logger) *Resolver {
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = defaultProviderTimeout
	}
	if cfg.Ceiling <= 0 {
		cfg.Ceiling = defaultCeiling
	}
	return &Resolver{providers: providers, cfg: cfg, log: log}
}

type fetchResult struct {
	provider string
	fields   map[string]any
	err      error
}

// Resolve runs all providers concurrently and merges results in provider
// registration order so the merged map is deterministic. A provider that
// ignores cancellation and overruns its timeout is abandoned, not awaited.
func (r *Resolver) Resolve(ctx context.Context, req domain.EvaluationRequest) domain.EnrichedContext {
	enriched := domain.EnrichedContext{
		Fields:   map[string]any{},
		Complete: true,
	}
	for k, v := range req.Context.Fields {
		enriched.Fields[k] = v
	}
	if len(r.providers) == 0 {
		return enriched
	}

	ceilingCtx, cancel := context.WithTimeout(ctx, r.cfg.Ceiling)
	defer cancel()

	results := make(chan fetchResult, len(r.providers))
	for _, provider := range r.providers {
		go func(p domain.ContextProvider) {
			fetchCtx, fetchCancel := context.WithTimeout(ceilingCtx, r.cfg.ProviderTimeout)
			defer fetchCancel()

			done := make(chan fetchResult, 1)
			go func() {
				fields, err := p.Fetch(fetchCtx, req)
				done <- fetchResult{provider: p.Name(), fields: fields, err: err}
			}()

			select {
			case res := <-done:
				results <- res
			case <-fetchCtx.Done():
				results <- fetchResult{provider: p.Name(), err: fmt.Errorf("provider %s: %w", p.Name(), fetchCtx.Err())}
			}
		}(provider)
	}

	// Collect until every provider reports or the ceiling expires. Results
	// are buffered per provider and merged in registration order afterwards
	// so concurrent completion order never changes the merged map.
	collected := make(map[string]map[string]any, len(r.providers))
	failed := make(map[string]struct{})
	pending := len(r.providers)
	for pending > 0 {
		select {
		case res := <-results:
			pending--
			if res.err != nil {
				failed[res.provider] = struct{}{}
				r.log.Warn().Str("provider", res.provider).Err(res.err).Msg("context provider failed")
				continue
			}
			collected[res.provider] = res.fields
		case <-ceilingCtx.Done():
			pending = 0
			enriched.Complete = false
			enriched.FailedProviders = append(enriched.FailedProviders, r.unreportedProviders(collected, failed)...)
			r.log.Warn().Dur("ceiling", r.cfg.Ceiling).Msg("context resolution hit ceiling; returning partial context")
		}
	}

	for _, provider := range r.providers {
		fields, ok := collected[provider.Name()]
		if !ok {
			continue
		}
		for k, v := range fields {
			enriched.Fields[k] = v
		}
	}

	for name := range failed {
		enriched.FailedProviders = append(enriched.FailedProviders, name)
	}
	if len(enriched.FailedProviders) > 0 {
		sort.Strings(enriched.FailedProviders)
		enriched.Complete = false
	}

	return enriched
}

func (r *Resolver) unreportedProviders(collected map[string]map[string]any, failed map[string]struct{}) []string {
	var missing []string
	for _, provider := range r.providers {
		name := provider.Name()
		if _, ok := collected[name]; ok {
			continue
		}
		if _, ok := failed[name]; ok {
			continue
		}
		missing = append(missing, name)
	}
	return missing
}
