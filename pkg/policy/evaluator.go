package policy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aegisgov/decision-engine/pkg/domain"
)

const (
	defaultPredicateTimeout = 250 * time.Millisecond
	defaultScorerTimeout    = 500 * time.Millisecond
	defaultDecisionTTL      = 300
)

// EvaluatorConfig controls evaluation behaviour. DefaultDecision is
// required: the engine never falls back to an implicit allow or deny when no
// policy matches.
type EvaluatorConfig struct {
	// DefaultDecision is returned when no policy matches or every matching
	// policy yields NotApplicable. Must be set explicitly.
	DefaultDecision domain.Outcome
	// PredicateTimeout bounds each individual predicate evaluation.
	PredicateTimeout time.Duration
	// ScorerTimeout bounds the risk scorer call.
	ScorerTimeout time.Duration
	// DefaultTTLSeconds is the decision cache TTL when no matched policy
	// supplies its own hint.
	DefaultTTLSeconds int
}

// Evaluator applies the layered-policy algorithm: scope filtering, priority
// ordering, per-policy predicate evaluation, and Deny > Review > Allow
// conflict resolution.
type Evaluator struct {
	cfg    EvaluatorConfig
	scorer domain.RiskScorer
}

// NewEvaluator constructs an Evaluator. scorer may be nil, in which case
// decisions carry a zero risk score.
func NewEvaluator(cfg EvaluatorConfig, scorer domain.RiskScorer) (*Evaluator, error) {
	if !cfg.DefaultDecision.Valid() {
		return nil, fmt.Errorf("evaluator requires an explicit default decision, got %q", cfg.DefaultDecision)
	}
	if cfg.PredicateTimeout <= 0 {
		cfg.PredicateTimeout = defaultPredicateTimeout
	}
	if cfg.ScorerTimeout <= 0 {
		cfg.ScorerTimeout = defaultScorerTimeout
	}
	if cfg.DefaultTTLSeconds <= 0 {
		cfg.DefaultTTLSeconds = defaultDecisionTTL
	}
	return &Evaluator{cfg: cfg, scorer: scorer}, nil
}

// Evaluate runs the request against the supplied policy set and returns the
// resolved decision. The decision's identity fields (DecisionID, version,
// timings) are stamped by the caller.
//
// Every applicable policy is evaluated so the matched_policies trace is
// complete for explainability; the outcome itself follows strict
// Deny > Review > Allow precedence regardless of priority among
// different-outcome policies.
func (e *Evaluator) Evaluate(ctx context.Context, req domain.EvaluationRequest, ectx domain.EnrichedContext, policies []domain.Policy) (domain.Decision, error) {
	now := req.Context.Timestamp
	if now.IsZero() {
		now = time.Now().UTC()
	}

	applicable := make([]domain.Policy, 0, len(policies))
	for _, p := range policies {
		if p.Status != domain.StatusActive {
			continue
		}
		if !p.EffectiveAt(now) {
			continue
		}
		if !p.Scope.Matches(req) {
			continue
		}
		applicable = append(applicable, p)
	}
	domain.SortPolicies(applicable)

	decision := domain.Decision{
		MatchedPolicies: []domain.PolicyMatch{},
		ContextComplete: ectx.Complete,
		EvaluatedAt:     time.Now().UTC(),
	}
	if !ectx.Complete {
		decision.Degraded = true
		decision.DegradedReasons = append(decision.DegradedReasons, "context resolution incomplete")
	}

	input := domain.PredicateInput{Request: req, Context: ectx}

	var firstDeny, firstReview, firstAllow *domain.PolicyMatch
	ttl := 0
	for _, p := range applicable {
		if err := ctx.Err(); err != nil {
			return domain.Decision{}, fmt.Errorf("%w: %v", domain.ErrDeadlineExceeded, err)
		}

		outcome, err := e.evaluatePredicate(ctx, p, input)
		if err != nil {
			// A single bad policy must never abort evaluation of the others.
			decision.PredicateErrors = append(decision.PredicateErrors, domain.PredicateError{
				PolicyID: p.ID,
				Error:    err.Error(),
			})
			decision.Degraded = true
			decision.DegradedReasons = append(decision.DegradedReasons,
				fmt.Sprintf("policy %s excluded: predicate error", p.ID))
			continue
		}
		if outcome == domain.PolicyNotApplicable {
			continue
		}

		match := domain.PolicyMatch{PolicyID: p.ID, Priority: p.Priority, Outcome: outcome}
		decision.MatchedPolicies = append(decision.MatchedPolicies, match)
		if p.TTLSeconds > 0 && (ttl == 0 || p.TTLSeconds < ttl) {
			ttl = p.TTLSeconds
		}

		idx := len(decision.MatchedPolicies) - 1
		switch outcome {
		case domain.PolicyDeny:
			if firstDeny == nil {
				firstDeny = &decision.MatchedPolicies[idx]
			}
		case domain.PolicyReview:
			if firstReview == nil {
				firstReview = &decision.MatchedPolicies[idx]
			}
		case domain.PolicyAllow:
			if firstAllow == nil {
				firstAllow = &decision.MatchedPolicies[idx]
			}
		}
	}

	switch {
	case firstDeny != nil:
		decision.Outcome = domain.OutcomeDeny
		decision.Reason = fmt.Sprintf("denied by policy %s", firstDeny.PolicyID)
	case firstReview != nil:
		decision.Outcome = domain.OutcomeReview
		decision.Reason = fmt.Sprintf("flagged for review by policy %s", firstReview.PolicyID)
	case firstAllow != nil:
		decision.Outcome = domain.OutcomeAllow
		decision.Reason = fmt.Sprintf("allowed by policy %s", firstAllow.PolicyID)
	default:
		decision.Outcome = e.cfg.DefaultDecision
		decision.Reason = fmt.Sprintf("no applicable policy; default decision %s applied", e.cfg.DefaultDecision)
	}

	if ttl == 0 {
		ttl = e.cfg.DefaultTTLSeconds
	}
	decision.TTLSeconds = ttl

	e.applyRiskScore(ctx, req, &decision)

	return decision, nil
}

// evaluatePredicate runs a single predicate under the per-policy timeout.
// A predicate that ignores cancellation and overruns is abandoned, not
// awaited.
func (e *Evaluator) evaluatePredicate(ctx context.Context, p domain.Policy, in domain.PredicateInput) (domain.PolicyOutcome, error) {
	if p.Predicate == nil {
		return domain.PolicyNotApplicable, errors.New("policy has no predicate")
	}

	predicateCtx, cancel := context.WithTimeout(ctx, e.cfg.PredicateTimeout)
	defer cancel()

	type result struct {
		outcome domain.PolicyOutcome
		err     error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{domain.PolicyNotApplicable, fmt.Errorf("predicate panic: %v", r)}
			}
		}()
		outcome, err := p.Predicate.Evaluate(predicateCtx, in)
		ch <- result{outcome, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return domain.PolicyNotApplicable, r.err
		}
		return r.outcome, nil
	case <-predicateCtx.Done():
		return domain.PolicyNotApplicable, fmt.Errorf("%w: policy %s exceeded %s", domain.ErrPredicateTimeout, p.ID, e.cfg.PredicateTimeout)
	}
}

// applyRiskScore invokes the injected scorer under its own timeout. Scorer
// failure degrades to score 0 without failing the evaluation.
func (e *Evaluator) applyRiskScore(ctx context.Context, req domain.EvaluationRequest, decision *domain.Decision) {
	if e.scorer == nil {
		return
	}

	scoreCtx, cancel := context.WithTimeout(ctx, e.cfg.ScorerTimeout)
	defer cancel()

	type result struct {
		score int
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		score, err := e.scorer.Score(scoreCtx, req, decision.MatchedPolicies)
		ch <- result{score, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			decision.Degraded = true
			decision.DegradedReasons = append(decision.DegradedReasons, "risk scorer failed")
			return
		}
		decision.RiskScore = clampScore(r.score)
		decision.Confidence = float64(100-decision.RiskScore) / 100
	case <-scoreCtx.Done():
		decision.Degraded = true
		decision.DegradedReasons = append(decision.DegradedReasons, "risk scorer timed out")
	}
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
