// Package repository provides read-only, versioned policy stores behind the
// domain.PolicyRepository contract: an in-memory store for embedding and
// tests, and a YAML file store with hot reload for standalone deployments.
package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aegisgov/decision-engine/pkg/domain"
	"github.com/aegisgov/decision-engine/pkg/policy"
)

// PredicateSpec is the serialisable form of a predicate. Exactly one of the
// three types is expected:
//
//   - "static": always yields Outcome
//   - "rule":   yields Outcome when every condition holds
//   - "rego":   compiled Rego module; outcome comes from the module
type PredicateSpec struct {
	Type       string             `json:"type" yaml:"type"`
	Outcome    string             `json:"outcome,omitempty" yaml:"outcome,omitempty"`
	Conditions []policy.Condition `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Module     string             `json:"module,omitempty" yaml:"module,omitempty"`
	Entrypoint string             `json:"entrypoint,omitempty" yaml:"entrypoint,omitempty"`
}

// PolicySpec is the serialisable form of a policy as stored in YAML files
// and accepted by the simulate API.
type PolicySpec struct {
	ID             string        `json:"id" yaml:"id"`
	Name           string        `json:"name" yaml:"name"`
	Priority       int           `json:"priority" yaml:"priority"`
	Status         string        `json:"status" yaml:"status"`
	Scope          domain.Scope  `json:"scope" yaml:"scope"`
	EffectiveFrom  time.Time     `json:"effective_from,omitempty" yaml:"effective_from,omitempty"`
	EffectiveUntil time.Time     `json:"effective_until,omitempty" yaml:"effective_until,omitempty"`
	TTLSeconds     int           `json:"ttl_seconds,omitempty" yaml:"ttl_seconds,omitempty"`
	Predicate      PredicateSpec `json:"predicate" yaml:"predicate"`
}

// Compile validates the spec and builds the runtime policy, compiling the
// predicate eagerly so malformed policies are rejected at publish time.
func (s PolicySpec) Compile(ctx context.Context) (domain.Policy, error) {
	if strings.TrimSpace(s.ID) == "" {
		return domain.Policy{}, fmt.Errorf("policy spec requires an id")
	}

	status := domain.PolicyStatus(strings.ToLower(strings.TrimSpace(s.Status)))
	switch status {
	case domain.StatusDraft, domain.StatusActive, domain.StatusArchived:
	case "":
		status = domain.StatusDraft
	default:
		return domain.Policy{}, fmt.Errorf("policy %s: unknown status %q", s.ID, s.Status)
	}

	predicate, err := s.Predicate.compile(ctx, s.ID)
	if err != nil {
		return domain.Policy{}, fmt.Errorf("policy %s: %w", s.ID, err)
	}

	return domain.Policy{
		ID:             s.ID,
		Name:           s.Name,
		Priority:       s.Priority,
		Status:         status,
		Scope:          s.Scope,
		Predicate:      predicate,
		EffectiveFrom:  s.EffectiveFrom,
		EffectiveUntil: s.EffectiveUntil,
		TTLSeconds:     s.TTLSeconds,
	}, nil
}

// CompileAll compiles a list of specs, rejecting duplicate IDs.
func CompileAll(ctx context.Context, specs []PolicySpec) ([]domain.Policy, error) {
	seen := make(map[string]struct{}, len(specs))
	policies := make([]domain.Policy, 0, len(specs))
	for _, spec := range specs {
		if _, dup := seen[spec.ID]; dup {
			return nil, fmt.Errorf("duplicate policy id %q", spec.ID)
		}
		seen[spec.ID] = struct{}{}

		compiled, err := spec.Compile(ctx)
		if err != nil {
			return nil, err
		}
		policies = append(policies, compiled)
	}
	return policies, nil
}

func (p PredicateSpec) compile(ctx context.Context, policyID string) (domain.Predicate, error) {
	switch strings.ToLower(strings.TrimSpace(p.Type)) {
	case "static":
		outcome, err := parsePolicyOutcome(p.Outcome)
		if err != nil {
			return nil, err
		}
		return policy.Static(outcome), nil
	case "rule":
		outcome, err := parsePolicyOutcome(p.Outcome)
		if err != nil {
			return nil, err
		}
		return policy.NewRulePredicate(outcome, p.Conditions)
	case "rego":
		return policy.NewRegoPredicate(ctx, policyID, p.Module, p.Entrypoint)
	default:
		return nil, fmt.Errorf("unknown predicate type %q", p.Type)
	}
}

func parsePolicyOutcome(text string) (domain.PolicyOutcome, error) {
	switch domain.PolicyOutcome(strings.ToLower(strings.TrimSpace(text))) {
	case domain.PolicyAllow:
		return domain.PolicyAllow, nil
	case domain.PolicyDeny:
		return domain.PolicyDeny, nil
	case domain.PolicyReview:
		return domain.PolicyReview, nil
	default:
		return "", fmt.Errorf("unknown predicate outcome %q", text)
	}
}
