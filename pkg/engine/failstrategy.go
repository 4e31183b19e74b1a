package engine

import (
	"fmt"
	"strings"

	"github.com/aegisgov/decision-engine/pkg/domain"
)

// FailStrategy decides what the engine returns when the policy repository is
// unreachable. Injected at construction so the behaviour is an explicit
// deployment-time choice, never a silent default.
type FailStrategy interface {
	Name() string
	OnRepositoryFailure(req domain.EvaluationRequest, cause error) domain.Decision
}

// NewFailStrategy maps a configuration token to a strategy. Accepted values
// are "closed" (fail-closed) and "open" (fail-open).
func NewFailStrategy(mode string) (FailStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "closed", "fail_closed", "fail-closed":
		return FailClosed{}, nil
	case "open", "fail_open", "fail-open":
		return FailOpen{}, nil
	default:
		return nil, fmt.Errorf("fail mode must be explicitly configured as open or closed, got %q", mode)
	}
}

// FailClosed denies when policies cannot be fetched. The reason string is
// distinct from a policy-driven denial so enforcement points can tell
// "explicit denial" from "system unavailable, defaulted".
type FailClosed struct{}

// Name implements FailStrategy.
func (FailClosed) Name() string { return "fail_closed" }

// OnRepositoryFailure implements FailStrategy.
func (FailClosed) OnRepositoryFailure(_ domain.EvaluationRequest, cause error) domain.Decision {
	return domain.Decision{
		Outcome:         domain.OutcomeDeny,
		Reason:          "policy evaluation unavailable",
		MatchedPolicies: []domain.PolicyMatch{},
		Degraded:        true,
		DegradedReasons: []string{fmt.Sprintf("policy repository unavailable: %v", cause)},
	}
}

// FailOpen allows when policies cannot be fetched. The decision is loudly
// flagged as degraded.
type FailOpen struct{}

// Name implements FailStrategy.
func (FailOpen) Name() string { return "fail_open" }

// OnRepositoryFailure implements FailStrategy.
func (FailOpen) OnRepositoryFailure(_ domain.EvaluationRequest, cause error) domain.Decision {
	return domain.Decision{
		Outcome:         domain.OutcomeAllow,
		Reason:          "policy evaluation unavailable; fail-open configured",
		MatchedPolicies: []domain.PolicyMatch{},
		Degraded:        true,
		DegradedReasons: []string{fmt.Sprintf("policy repository unavailable: %v", cause)},
	}
}
