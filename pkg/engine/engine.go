// Package engine orchestrates the decision pipeline: cache check, context
// resolution, policy fetch, evaluation, cache store, and the asynchronous
// audit handoff. It owns timeouts, circuit breaking on the policy
// repository, and the configured fail-open/fail-closed behaviour.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aegisgov/decision-engine/internal/resilience"
	"github.com/aegisgov/decision-engine/pkg/audit"
	"github.com/aegisgov/decision-engine/pkg/cache"
	"github.com/aegisgov/decision-engine/pkg/domain"
	"github.com/aegisgov/decision-engine/pkg/policy"
	"github.com/aegisgov/decision-engine/pkg/resolver"
	"github.com/aegisgov/decision-engine/pkg/telemetry"
)

const (
	defaultBatchConcurrency = 8
	defaultExplainBuffer    = 1024
)

// Config controls facade behaviour.
type Config struct {
	// RequestTimeout bounds each Evaluate call end to end. Zero disables
	// the engine-side bound; a caller-supplied deadline always applies.
	RequestTimeout time.Duration
	// BatchConcurrency limits how many batch entries evaluate in parallel.
	BatchConcurrency int
	// FingerprintContextFields names the context fields that participate in
	// the cache fingerprint.
	FingerprintContextFields []string
	// ExplainBuffer bounds the in-memory decision log backing Explain.
	ExplainBuffer int
	// CacheReviewDecisions opts REVIEW outcomes into the cache. Off by
	// default: a review verdict should be re-examined per request.
	CacheReviewDecisions bool
	// Retry controls policy repository fetch retries.
	Retry resilience.RetryConfig
}

// Options wires the engine's collaborators.
type Options struct {
	Repository   domain.PolicyRepository
	Resolver     *resolver.Resolver
	Evaluator    *policy.Evaluator
	Cache        *cache.DecisionCache // nil degrades to always-miss
	Audit        *audit.Writer        // nil disables auditing
	FailStrategy FailStrategy
	Breaker      *resilience.Breaker // nil disables circuit breaking
	Log          zerolog.Logger
}

// Stats are the engine's running counters.
type Stats struct {
	Evaluations int64 `json:"evaluations"`
	CacheHits   int64 `json:"cache_hits"`
	CacheMisses int64 `json:"cache_misses"`
	Allowed     int64 `json:"allowed"`
	Denied      int64 `json:"denied"`
	Review      int64 `json:"review"`
	Degraded    int64 `json:"degraded"`
}

// Engine is the decision engine facade.
type Engine struct {
	cfg       Config
	repo      domain.PolicyRepository
	resolver  *resolver.Resolver
	evaluator *policy.Evaluator
	cache     *cache.DecisionCache
	audit     *audit.Writer
	fail      FailStrategy
	breaker   *resilience.Breaker
	log       zerolog.Logger
	decisions *decisionLog

	evaluations atomic.Int64
	cacheHits   atomic.Int64
	cacheMisses atomic.Int64
	allowed     atomic.Int64
	denied      atomic.Int64
	review      atomic.Int64
	degraded    atomic.Int64
}

// New validates the wiring and subscribes the cache to repository version
// changes when the repository supports push invalidation.
func New(cfg Config, opts Options) (*Engine, error) {
	if opts.Repository == nil {
		return nil, errors.New("engine requires a policy repository")
	}
	if opts.Resolver == nil {
		return nil, errors.New("engine requires a context resolver")
	}
	if opts.Evaluator == nil {
		return nil, errors.New("engine requires an evaluator")
	}
	if opts.FailStrategy == nil {
		return nil, errors.New("engine requires an explicit fail strategy")
	}
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = defaultBatchConcurrency
	}
	if cfg.ExplainBuffer <= 0 {
		cfg.ExplainBuffer = defaultExplainBuffer
	}

	e := &Engine{
		cfg:       cfg,
		repo:      opts.Repository,
		resolver:  opts.Resolver,
		evaluator: opts.Evaluator,
		cache:     opts.Cache,
		audit:     opts.Audit,
		fail:      opts.FailStrategy,
		breaker:   opts.Breaker,
		log:       opts.Log,
		decisions: newDecisionLog(cfg.ExplainBuffer),
	}

	if watcher, ok := opts.Repository.(domain.VersionWatcher); ok && e.cache != nil {
		watcher.Subscribe(func(version string) {
			e.cache.InvalidateAll()
			e.log.Info().Str("version", version).Msg("policy set changed; decision cache invalidated")
		})
	}

	return e, nil
}

// Evaluate resolves, evaluates, caches, and audits a single request.
func (e *Engine) Evaluate(ctx context.Context, req domain.EvaluationRequest) (domain.Decision, error) {
	start := time.Now()
	if err := validateRequest(req); err != nil {
		return domain.Decision{}, err
	}

	if e.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.RequestTimeout)
		defer cancel()
	}

	e.evaluations.Add(1)
	fingerprint := Fingerprint(req, e.cfg.FingerprintContextFields)

	if e.cache != nil {
		if version, err := e.repo.Version(ctx); err == nil {
			if cached, ok := e.cache.Get(fingerprint, version, time.Now()); ok {
				e.cacheHits.Add(1)
				cached.Cached = true
				cached.CacheAge = time.Since(cached.EvaluatedAt)
				cached.EvalDurationMS = time.Since(start).Milliseconds()
				telemetry.RecordDecision(ctx, telemetry.DecisionMetrics{
					Outcome:  cached.Outcome,
					Cached:   true,
					Degraded: cached.Degraded,
					Duration: time.Since(start),
				})
				return cached, nil
			}
		}
	}
	e.cacheMisses.Add(1)

	var decision domain.Decision
	var err error
	miss := func() (domain.Decision, error) {
		return e.evaluateMiss(ctx, req, fingerprint, start)
	}
	if e.cache != nil {
		decision, _, err = e.cache.Coalesce(fingerprint, miss)
	} else {
		decision, err = miss()
	}
	if err != nil {
		return domain.Decision{}, e.mapError(ctx, err)
	}
	return decision, nil
}

// evaluateMiss is the single-flight body: fetch policies, resolve context,
// evaluate, cache, audit. All coalesced callers share its result.
func (e *Engine) evaluateMiss(ctx context.Context, req domain.EvaluationRequest, fingerprint string, start time.Time) (domain.Decision, error) {
	var policies []domain.Policy
	var version string
	fetch := func(ctx context.Context) error {
		var err error
		policies, version, err = e.repo.ActivePolicies(ctx, scopeHint(req))
		return err
	}

	var fetchErr error
	if e.breaker != nil {
		fetchErr = e.breaker.Execute(ctx, func(ctx context.Context) error {
			return resilience.Retry(ctx, e.cfg.Retry, fetch)
		})
	} else {
		fetchErr = resilience.Retry(ctx, e.cfg.Retry, fetch)
	}
	if fetchErr != nil {
		if isDeadline(ctx, fetchErr) {
			return domain.Decision{}, fetchErr
		}
		e.log.Warn().Err(fetchErr).Str("strategy", e.fail.Name()).Msg("policy repository unavailable; applying fail strategy")
		decision := e.fail.OnRepositoryFailure(req, fmt.Errorf("%w: %v", domain.ErrRepositoryUnavailable, fetchErr))
		e.finalize(ctx, &decision, "", start)
		return decision, nil
	}

	enriched := e.resolver.Resolve(ctx, req)

	decision, err := e.evaluator.Evaluate(ctx, req, enriched, policies)
	if err != nil {
		return domain.Decision{}, err
	}
	e.finalize(ctx, &decision, version, start)

	if e.cache != nil && (decision.Outcome != domain.OutcomeReview || e.cfg.CacheReviewDecisions) {
		e.cache.Put(fingerprint, decision, version, time.Now())
	}
	return decision, nil
}

// finalize stamps identity, version and timing, records the decision for
// Explain, updates counters, and enqueues the audit write.
func (e *Engine) finalize(ctx context.Context, decision *domain.Decision, version string, start time.Time) {
	decision.DecisionID = uuid.NewString()
	if decision.EvaluatedAt.IsZero() {
		decision.EvaluatedAt = time.Now().UTC()
	}
	decision.PolicySetVersion = version
	decision.EvalDurationMS = time.Since(start).Milliseconds()

	switch decision.Outcome {
	case domain.OutcomeAllow:
		e.allowed.Add(1)
	case domain.OutcomeDeny:
		e.denied.Add(1)
	case domain.OutcomeReview:
		e.review.Add(1)
	}
	if decision.Degraded {
		e.degraded.Add(1)
	}

	e.decisions.record(*decision)
	if e.audit != nil {
		e.audit.Enqueue(*decision)
	}
	telemetry.RecordDecision(ctx, telemetry.DecisionMetrics{
		Outcome:  decision.Outcome,
		Degraded: decision.Degraded,
		Duration: time.Since(start),
	})
}

// BatchResult pairs a decision with the error that replaced it. Exactly one
// of the two is meaningful per entry.
type BatchResult struct {
	Decision domain.Decision
	Err      error
}

// BatchEvaluate evaluates each request independently with bounded
// concurrency. One entry's failure never aborts the batch.
func (e *Engine) BatchEvaluate(ctx context.Context, reqs []domain.EvaluationRequest) []BatchResult {
	results := make([]BatchResult, len(reqs))

	g := new(errgroup.Group)
	g.SetLimit(e.cfg.BatchConcurrency)
	for i, req := range reqs {
		g.Go(func() error {
			decision, err := e.Evaluate(ctx, req)
			results[i] = BatchResult{Decision: decision, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Simulate runs the identical algorithm against a caller-supplied policy
// set. It never reads or writes the cache, never audits, and never records
// the decision for Explain: pure what-if.
func (e *Engine) Simulate(ctx context.Context, req domain.EvaluationRequest, candidate []domain.Policy) (domain.Decision, error) {
	start := time.Now()
	if err := validateRequest(req); err != nil {
		return domain.Decision{}, err
	}

	if e.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.RequestTimeout)
		defer cancel()
	}

	enriched := e.resolver.Resolve(ctx, req)
	decision, err := e.evaluator.Evaluate(ctx, req, enriched, candidate)
	if err != nil {
		return domain.Decision{}, e.mapError(ctx, err)
	}
	decision.DecisionID = uuid.NewString()
	decision.PolicySetVersion = "simulation"
	decision.EvalDurationMS = time.Since(start).Milliseconds()
	return decision, nil
}

// Explain returns the full trace for a recent decision.
func (e *Engine) Explain(decisionID string) (domain.Decision, error) {
	decision, ok := e.decisions.get(decisionID)
	if !ok {
		return domain.Decision{}, domain.ErrDecisionNotFound
	}
	return decision, nil
}

// HealthReport describes per-dependency health plus an overall rollup.
type HealthReport struct {
	Status           string            `json:"status"`
	PolicySetVersion string            `json:"policy_set_version,omitempty"`
	Dependencies     map[string]string `json:"dependencies"`
}

// Health probes the engine's dependencies. The policy repository is the only
// hard dependency; audit backlog or a disabled cache degrade rather than fail.
func (e *Engine) Health(ctx context.Context) HealthReport {
	report := HealthReport{Status: "healthy", Dependencies: map[string]string{}}

	version, err := e.repo.Version(ctx)
	if err != nil {
		report.Status = "degraded"
		report.Dependencies["policy_repository"] = "unavailable: " + err.Error()
	} else {
		report.PolicySetVersion = version
		report.Dependencies["policy_repository"] = "ok"
	}

	if e.cache != nil {
		report.Dependencies["decision_cache"] = "ok"
	} else {
		report.Dependencies["decision_cache"] = "disabled"
	}

	if e.audit != nil {
		written, dropped := e.audit.Stats()
		if dropped > 0 {
			report.Status = "degraded"
			report.Dependencies["audit"] = fmt.Sprintf("dropping (written %d, dropped %d)", written, dropped)
		} else {
			report.Dependencies["audit"] = "ok"
		}
	} else {
		report.Dependencies["audit"] = "disabled"
	}

	return report
}

// Stats returns the engine's running counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Evaluations: e.evaluations.Load(),
		CacheHits:   e.cacheHits.Load(),
		CacheMisses: e.cacheMisses.Load(),
		Allowed:     e.allowed.Load(),
		Denied:      e.denied.Load(),
		Review:      e.review.Load(),
		Degraded:    e.degraded.Load(),
	}
}

func (e *Engine) mapError(ctx context.Context, err error) error {
	if isDeadline(ctx, err) {
		return fmt.Errorf("%w: %v", domain.ErrDeadlineExceeded, err)
	}
	return err
}

func isDeadline(ctx context.Context, err error) bool {
	return errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, domain.ErrDeadlineExceeded) ||
		errors.Is(ctx.Err(), context.DeadlineExceeded)
}

func validateRequest(req domain.EvaluationRequest) error {
	if req.Action == "" {
		return fmt.Errorf("%w: action is required", domain.ErrInvalidRequest)
	}
	if req.User.ID == "" && req.User.Email == "" {
		return fmt.Errorf("%w: user identity is required", domain.ErrInvalidRequest)
	}
	return nil
}

func scopeHint(req domain.EvaluationRequest) domain.ScopeHint {
	return domain.ScopeHint{
		Department:   req.User.Department,
		ResourceType: req.Resource.Type,
		RiskTier:     req.Context.RiskTier,
	}
}
