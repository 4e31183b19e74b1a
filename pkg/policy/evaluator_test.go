package policy

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/aegisgov/decision-engine/pkg/domain"
)

func newTestEvaluator(t *testing.T, def domain.Outcome) *Evaluator {
	t.Helper()
	ev, err := NewEvaluator(EvaluatorConfig{DefaultDecision: def}, nil)
	require.NoError(t, err)
	return ev
}

func activePolicy(id string, priority int, outcome domain.PolicyOutcome) domain.Policy {
	return domain.Policy{
		ID:        id,
		Name:      id,
		Priority:  priority,
		Status:    domain.StatusActive,
		Predicate: Static(outcome),
	}
}

func financeRequest() domain.EvaluationRequest {
	return domain.EvaluationRequest{
		User:   domain.User{ID: "u-1", Email: "dana@example.com", Department: "finance"},
		Action: "upload",
		Resource: domain.Resource{
			Type:     "document",
			Category: "customer_data",
			Service:  "chatgpt",
		},
	}
}

func completeContext() domain.EnrichedContext {
	return domain.EnrichedContext{Fields: map[string]any{}, Complete: true}
}

func TestEvaluator_RequiresExplicitDefault(t *testing.T) {
	_, err := NewEvaluator(EvaluatorConfig{}, nil)
	require.Error(t, err)

	_, err = NewEvaluator(EvaluatorConfig{DefaultDecision: "maybe"}, nil)
	require.Error(t, err)
}

func TestEvaluator_DenyWinsOverHigherPriorityAllow(t *testing.T) {
	ev := newTestEvaluator(t, domain.OutcomeDeny)

	// The deny policy outranks the allow here, but precedence must hold
	// even when it does not (see the inverted case below).
	policies := []domain.Policy{
		activePolicy("P1", 10, domain.PolicyDeny),
		activePolicy("P2", 5, domain.PolicyAllow),
	}

	decision, err := ev.Evaluate(context.Background(), financeRequest(), completeContext(), policies)
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeDeny, decision.Outcome)
	assert.Equal(t, "denied by policy P1", decision.Reason)
	require.Len(t, decision.MatchedPolicies, 2)
	assert.Equal(t, "P1", decision.MatchedPolicies[0].PolicyID)
	assert.Equal(t, domain.PolicyDeny, decision.MatchedPolicies[0].Outcome)
	assert.Equal(t, "P2", decision.MatchedPolicies[1].PolicyID)
	assert.Equal(t, domain.PolicyAllow, decision.MatchedPolicies[1].Outcome)
}

func TestEvaluator_DenyWinsEvenAtLowerPriority(t *testing.T) {
	ev := newTestEvaluator(t, domain.OutcomeDeny)

	policies := []domain.Policy{
		activePolicy("allow-high", 100, domain.PolicyAllow),
		activePolicy("deny-low", 1, domain.PolicyDeny),
	}

	decision, err := ev.Evaluate(context.Background(), financeRequest(), completeContext(), policies)
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeDeny, decision.Outcome)
	assert.Equal(t, "denied by policy deny-low", decision.Reason)
}

func TestEvaluator_ReviewWinsOverAllow(t *testing.T) {
	ev := newTestEvaluator(t, domain.OutcomeDeny)

	policies := []domain.Policy{
		activePolicy("allow-1", 50, domain.PolicyAllow),
		activePolicy("review-1", 10, domain.PolicyReview),
	}

	decision, err := ev.Evaluate(context.Background(), financeRequest(), completeContext(), policies)
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeReview, decision.Outcome)
	assert.Equal(t, "flagged for review by policy review-1", decision.Reason)
}

func TestEvaluator_DefaultAppliedWhenNothingMatches(t *testing.T) {
	ev := newTestEvaluator(t, domain.OutcomeDeny)

	policies := []domain.Policy{
		activePolicy("na-1", 10, domain.PolicyNotApplicable),
	}

	decision, err := ev.Evaluate(context.Background(), financeRequest(), completeContext(), policies)
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeDeny, decision.Outcome)
	assert.Contains(t, decision.Reason, "default decision DENY applied")
	assert.Empty(t, decision.MatchedPolicies)
	assert.NotNil(t, decision.MatchedPolicies, "trace must serialise as [] not null")
}

func TestEvaluator_ScopeFiltering(t *testing.T) {
	ev := newTestEvaluator(t, domain.OutcomeAllow)

	engineering := activePolicy("eng-only", 10, domain.PolicyDeny)
	engineering.Scope = domain.Scope{Departments: []string{"engineering"}}

	decision, err := ev.Evaluate(context.Background(), financeRequest(), completeContext(), []domain.Policy{engineering})
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeAllow, decision.Outcome)
	assert.Empty(t, decision.MatchedPolicies)
}

func TestEvaluator_SkipsDraftArchivedAndExpired(t *testing.T) {
	ev := newTestEvaluator(t, domain.OutcomeAllow)

	draft := activePolicy("draft-1", 10, domain.PolicyDeny)
	draft.Status = domain.StatusDraft
	archived := activePolicy("archived-1", 10, domain.PolicyDeny)
	archived.Status = domain.StatusArchived
	expired := activePolicy("expired-1", 10, domain.PolicyDeny)
	expired.EffectiveUntil = time.Now().Add(-time.Hour)
	future := activePolicy("future-1", 10, domain.PolicyDeny)
	future.EffectiveFrom = time.Now().Add(time.Hour)

	decision, err := ev.Evaluate(context.Background(), financeRequest(), completeContext(),
		[]domain.Policy{draft, archived, expired, future})
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeAllow, decision.Outcome)
	assert.Empty(t, decision.MatchedPolicies)
}

func TestEvaluator_PredicateErrorExcludesPolicyOnly(t *testing.T) {
	ev := newTestEvaluator(t, domain.OutcomeDeny)

	broken := domain.Policy{
		ID:       "broken-1",
		Priority: 100,
		Status:   domain.StatusActive,
		Predicate: domain.PredicateFunc(func(context.Context, domain.PredicateInput) (domain.PolicyOutcome, error) {
			return domain.PolicyNotApplicable, errors.New("backend exploded")
		}),
	}
	policies := []domain.Policy{broken, activePolicy("allow-1", 10, domain.PolicyAllow)}

	decision, err := ev.Evaluate(context.Background(), financeRequest(), completeContext(), policies)
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeAllow, decision.Outcome)
	assert.True(t, decision.Degraded)
	require.Len(t, decision.PredicateErrors, 1)
	assert.Equal(t, "broken-1", decision.PredicateErrors[0].PolicyID)
}

func TestEvaluator_PredicatePanicIsRecovered(t *testing.T) {
	ev := newTestEvaluator(t, domain.OutcomeAllow)

	panicky := domain.Policy{
		ID:       "panic-1",
		Priority: 10,
		Status:   domain.StatusActive,
		Predicate: domain.PredicateFunc(func(context.Context, domain.PredicateInput) (domain.PolicyOutcome, error) {
			panic("boom")
		}),
	}

	decision, err := ev.Evaluate(context.Background(), financeRequest(), completeContext(), []domain.Policy{panicky})
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeAllow, decision.Outcome)
	require.Len(t, decision.PredicateErrors, 1)
	assert.Contains(t, decision.PredicateErrors[0].Error, "predicate panic")
}

func TestEvaluator_SlowPredicateIsAbandoned(t *testing.T) {
	ev, err := NewEvaluator(EvaluatorConfig{
		DefaultDecision:  domain.OutcomeDeny,
		PredicateTimeout: 20 * time.Millisecond,
	}, nil)
	require.NoError(t, err)

	slow := domain.Policy{
		ID:       "slow-1",
		Priority: 100,
		Status:   domain.StatusActive,
		Predicate: domain.PredicateFunc(func(context.Context, domain.PredicateInput) (domain.PolicyOutcome, error) {
			// Ignores cancellation on purpose.
			time.Sleep(500 * time.Millisecond)
			return domain.PolicyDeny, nil
		}),
	}
	policies := []domain.Policy{slow, activePolicy("allow-1", 10, domain.PolicyAllow)}

	start := time.Now()
	decision, err := ev.Evaluate(context.Background(), financeRequest(), completeContext(), policies)
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 300*time.Millisecond, "slow predicate must not be awaited")
	assert.Equal(t, domain.OutcomeAllow, decision.Outcome)
	require.Len(t, decision.PredicateErrors, 1)
	assert.Equal(t, "slow-1", decision.PredicateErrors[0].PolicyID)
	assert.True(t, decision.Degraded)
}

func TestEvaluator_IncompleteContextMarksDegraded(t *testing.T) {
	ev := newTestEvaluator(t, domain.OutcomeDeny)

	partial := domain.EnrichedContext{
		Fields:          map[string]any{},
		Complete:        false,
		FailedProviders: []string{"cmdb"},
	}
	decision, err := ev.Evaluate(context.Background(), financeRequest(), partial,
		[]domain.Policy{activePolicy("allow-1", 10, domain.PolicyAllow)})
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeAllow, decision.Outcome)
	assert.True(t, decision.Degraded)
	assert.False(t, decision.ContextComplete)
	assert.Contains(t, decision.DegradedReasons, "context resolution incomplete")
}

func TestEvaluator_TTLTakesSmallestMatchedHint(t *testing.T) {
	ev := newTestEvaluator(t, domain.OutcomeDeny)

	p1 := activePolicy("p1", 10, domain.PolicyAllow)
	p1.TTLSeconds = 600
	p2 := activePolicy("p2", 5, domain.PolicyAllow)
	p2.TTLSeconds = 60

	decision, err := ev.Evaluate(context.Background(), financeRequest(), completeContext(), []domain.Policy{p1, p2})
	require.NoError(t, err)
	assert.Equal(t, 60, decision.TTLSeconds)

	// No hints: fall back to the evaluator default.
	decision, err = ev.Evaluate(context.Background(), financeRequest(), completeContext(),
		[]domain.Policy{activePolicy("p3", 1, domain.PolicyAllow)})
	require.NoError(t, err)
	assert.Equal(t, defaultDecisionTTL, decision.TTLSeconds)
}

func TestEvaluator_ScorerFailureDegradesToZero(t *testing.T) {
	scorer := scorerFunc(func(context.Context, domain.EvaluationRequest, []domain.PolicyMatch) (int, error) {
		return 0, errors.New("scorer down")
	})
	ev, err := NewEvaluator(EvaluatorConfig{DefaultDecision: domain.OutcomeDeny}, scorer)
	require.NoError(t, err)

	decision, err := ev.Evaluate(context.Background(), financeRequest(), completeContext(),
		[]domain.Policy{activePolicy("allow-1", 10, domain.PolicyAllow)})
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeAllow, decision.Outcome)
	assert.Equal(t, 0, decision.RiskScore)
	assert.True(t, decision.Degraded)
	assert.Contains(t, decision.DegradedReasons, "risk scorer failed")
}

func TestEvaluator_ScorerResultClampedAndConfidenceDerived(t *testing.T) {
	scorer := scorerFunc(func(context.Context, domain.EvaluationRequest, []domain.PolicyMatch) (int, error) {
		return 250, nil
	})
	ev, err := NewEvaluator(EvaluatorConfig{DefaultDecision: domain.OutcomeDeny}, scorer)
	require.NoError(t, err)

	decision, err := ev.Evaluate(context.Background(), financeRequest(), completeContext(),
		[]domain.Policy{activePolicy("allow-1", 10, domain.PolicyAllow)})
	require.NoError(t, err)

	assert.Equal(t, 100, decision.RiskScore)
	assert.InDelta(t, 0.0, decision.Confidence, 0.0001)
}

type scorerFunc func(ctx context.Context, req domain.EvaluationRequest, matches []domain.PolicyMatch) (int, error)

func (f scorerFunc) Score(ctx context.Context, req domain.EvaluationRequest, matches []domain.PolicyMatch) (int, error) {
	return f(ctx, req, matches)
}

// Evaluation must be a pure function of (request, context, policy set).
func TestEvaluator_Determinism(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		outcomes := []domain.PolicyOutcome{
			domain.PolicyAllow, domain.PolicyDeny, domain.PolicyReview, domain.PolicyNotApplicable,
		}

		n := rapid.IntRange(0, 8).Draw(t, "policies")
		policies := make([]domain.Policy, n)
		for i := range policies {
			policies[i] = activePolicy(
				fmt.Sprintf("p-%d", i),
				rapid.IntRange(-5, 5).Draw(t, fmt.Sprintf("priority-%d", i)),
				rapid.SampledFrom(outcomes).Draw(t, fmt.Sprintf("outcome-%d", i)),
			)
		}

		ev, err := NewEvaluator(EvaluatorConfig{DefaultDecision: domain.OutcomeDeny}, nil)
		require.NoError(t, err)

		req := financeRequest()
		first, err := ev.Evaluate(context.Background(), req, completeContext(), policies)
		require.NoError(t, err)
		second, err := ev.Evaluate(context.Background(), req, completeContext(), policies)
		require.NoError(t, err)

		assert.Equal(t, first.Outcome, second.Outcome)
		assert.Equal(t, first.Reason, second.Reason)
		assert.Equal(t, first.MatchedPolicies, second.MatchedPolicies)

		// The trace is ordered by (priority DESC, id ASC).
		for i := 1; i < len(first.MatchedPolicies); i++ {
			prev, cur := first.MatchedPolicies[i-1], first.MatchedPolicies[i]
			if prev.Priority == cur.Priority {
				assert.Less(t, prev.PolicyID, cur.PolicyID)
			} else {
				assert.Greater(t, prev.Priority, cur.Priority)
			}
		}

		// Deny > Review > Allow precedence over the matched trace.
		hasOutcome := func(o domain.PolicyOutcome) bool {
			for _, m := range first.MatchedPolicies {
				if m.Outcome == o {
					return true
				}
			}
			return false
		}
		switch {
		case hasOutcome(domain.PolicyDeny):
			assert.Equal(t, domain.OutcomeDeny, first.Outcome)
		case hasOutcome(domain.PolicyReview):
			assert.Equal(t, domain.OutcomeReview, first.Outcome)
		case hasOutcome(domain.PolicyAllow):
			assert.Equal(t, domain.OutcomeAllow, first.Outcome)
		default:
			assert.Equal(t, domain.OutcomeDeny, first.Outcome)
		}
	})
}
