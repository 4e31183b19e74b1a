package domain

import (
	"context"
	"sort"
	"time"
)

// PolicyStatus tracks the lifecycle of a policy. Only active policies
// participate in evaluation; the engine never mutates policy state.
type PolicyStatus string

const (
	// StatusDraft marks a policy that has been authored but not published.
	StatusDraft PolicyStatus = "draft"
	// StatusActive marks a published policy eligible for evaluation.
	StatusActive PolicyStatus = "active"
	// StatusArchived marks a policy removed by delete or rollback.
	StatusArchived PolicyStatus = "archived"
)

// PolicyOutcome is the result a single policy predicate contributes.
type PolicyOutcome string

const (
	// PolicyAllow indicates the policy permits the request.
	PolicyAllow PolicyOutcome = "allow"
	// PolicyDeny indicates the policy prohibits the request.
	PolicyDeny PolicyOutcome = "deny"
	// PolicyReview indicates the policy requires human review.
	PolicyReview PolicyOutcome = "review"
	// PolicyNotApplicable indicates the policy has no opinion on the request.
	PolicyNotApplicable PolicyOutcome = "not_applicable"
)

// PredicateInput carries everything a predicate may inspect. Predicates must
// be pure: same input, same outcome, no side effects.
type PredicateInput struct {
	Request EvaluationRequest
	Context EnrichedContext
}

// Predicate is the pluggable decision logic of a single policy. It must be
// deterministic and honour ctx cancellation; a predicate that overruns its
// per-policy timeout is abandoned and treated as NotApplicable.
type Predicate interface {
	Evaluate(ctx context.Context, in PredicateInput) (PolicyOutcome, error)
}

// PredicateFunc adapts a plain function to the Predicate interface.
type PredicateFunc func(ctx context.Context, in PredicateInput) (PolicyOutcome, error)

// Evaluate implements Predicate.
func (f PredicateFunc) Evaluate(ctx context.Context, in PredicateInput) (PolicyOutcome, error) {
	return f(ctx, in)
}

// Scope filters which requests a policy applies to. An empty dimension
// matches everything; a non-empty dimension must contain the corresponding
// request attribute.
type Scope struct {
	Departments   []string `json:"departments,omitempty" yaml:"departments,omitempty"`
	Users         []string `json:"users,omitempty" yaml:"users,omitempty"`
	Groups        []string `json:"groups,omitempty" yaml:"groups,omitempty"`
	ResourceTypes []string `json:"resource_types,omitempty" yaml:"resource_types,omitempty"`
	RiskTiers     []string `json:"risk_tiers,omitempty" yaml:"risk_tiers,omitempty"`
}

// Matches reports whether the request falls inside every scope dimension.
func (s Scope) Matches(req EvaluationRequest) bool {
	if !dimensionMatches(s.Departments, req.User.Department) {
		return false
	}
	if len(s.Users) > 0 && !containsString(s.Users, req.User.ID) && !containsString(s.Users, req.User.Email) {
		return false
	}
	if len(s.Groups) > 0 && !intersects(s.Groups, req.User.Groups) {
		return false
	}
	if !dimensionMatches(s.ResourceTypes, req.Resource.Type) {
		return false
	}
	if !dimensionMatches(s.RiskTiers, req.Context.RiskTier) {
		return false
	}
	return true
}

func dimensionMatches(dimension []string, value string) bool {
	if len(dimension) == 0 {
		return true
	}
	return containsString(dimension, value)
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

func intersects(a, b []string) bool {
	for _, v := range b {
		if containsString(a, v) {
			return true
		}
	}
	return false
}

// Policy is a single governance rule: a predicate plus the metadata that
// controls when and to whom it applies.
type Policy struct {
	ID       string       `json:"id" yaml:"id"`
	Name     string       `json:"name" yaml:"name"`
	Priority int          `json:"priority" yaml:"priority"`
	Status   PolicyStatus `json:"status" yaml:"status"`
	Scope    Scope        `json:"scope" yaml:"scope"`

	Predicate Predicate `json:"-" yaml:"-"`

	// EffectiveFrom / EffectiveUntil bound when the policy is live. A zero
	// EffectiveUntil means no expiry.
	EffectiveFrom  time.Time `json:"effective_from,omitempty" yaml:"effective_from,omitempty"`
	EffectiveUntil time.Time `json:"effective_until,omitempty" yaml:"effective_until,omitempty"`

	// TTLSeconds hints how long decisions this policy contributed to may be
	// cached. Zero defers to the engine default.
	TTLSeconds int `json:"ttl_seconds,omitempty" yaml:"ttl_seconds,omitempty"`
}

// EffectiveAt reports whether the policy is inside its effectiveness window.
func (p Policy) EffectiveAt(t time.Time) bool {
	if !p.EffectiveFrom.IsZero() && t.Before(p.EffectiveFrom) {
		return false
	}
	if !p.EffectiveUntil.IsZero() && !t.Before(p.EffectiveUntil) {
		return false
	}
	return true
}

// SortPolicies orders policies by (priority DESC, id ASC). Ties on priority
// are broken lexicographically by ID so evaluation order is deterministic.
func SortPolicies(policies []Policy) {
	sort.Slice(policies, func(i, j int) bool {
		if policies[i].Priority != policies[j].Priority {
			return policies[i].Priority > policies[j].Priority
		}
		return policies[i].ID < policies[j].ID
	})
}
