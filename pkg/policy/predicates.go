package policy

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/aegisgov/decision-engine/pkg/domain"
)

// Static returns a predicate that always yields the given outcome. Useful
// for catch-all policies and tests.
func Static(outcome domain.PolicyOutcome) domain.Predicate {
	return domain.PredicateFunc(func(context.Context, domain.PredicateInput) (domain.PolicyOutcome, error) {
		return outcome, nil
	})
}

// Condition compares one request or context field against expected values.
// All comparisons are string-based; non-string facts are formatted before
// comparison.
type Condition struct {
	// Field is a dotted path into the predicate input, e.g.
	// "user.department", "resource.category", "context.fields.asset_tier".
	Field string `json:"field" yaml:"field"`
	// Equals matches when the field formats to exactly this value.
	Equals string `json:"equals,omitempty" yaml:"equals,omitempty"`
	// In matches when the field formats to any of these values. For
	// "user.groups" the condition holds when any group is listed.
	In []string `json:"in,omitempty" yaml:"in,omitempty"`
	// Exists matches on field presence (or absence when false). Only
	// meaningful for map-backed paths such as resolved context fields.
	Exists *bool `json:"exists,omitempty" yaml:"exists,omitempty"`
}

// RulePredicate is a declarative predicate: it yields Outcome when every
// condition holds and NotApplicable otherwise. It is the lightweight
// alternative to a full Rego module for simple attribute policies.
type RulePredicate struct {
	Outcome    domain.PolicyOutcome
	Conditions []Condition
}

// NewRulePredicate validates and constructs a RulePredicate.
func NewRulePredicate(outcome domain.PolicyOutcome, conditions []Condition) (*RulePredicate, error) {
	switch outcome {
	case domain.PolicyAllow, domain.PolicyDeny, domain.PolicyReview:
	default:
		return nil, fmt.Errorf("rule predicate outcome must be allow, deny, or review; got %q", outcome)
	}
	for _, c := range conditions {
		if strings.TrimSpace(c.Field) == "" {
			return nil, fmt.Errorf("rule predicate condition requires a field")
		}
	}
	return &RulePredicate{Outcome: outcome, Conditions: conditions}, nil
}

// Evaluate implements domain.Predicate.
func (r *RulePredicate) Evaluate(_ context.Context, in domain.PredicateInput) (domain.PolicyOutcome, error) {
	for _, c := range r.Conditions {
		ok, err := c.matches(in)
		if err != nil {
			return domain.PolicyNotApplicable, err
		}
		if !ok {
			return domain.PolicyNotApplicable, nil
		}
	}
	return r.Outcome, nil
}

func (c Condition) matches(in domain.PredicateInput) (bool, error) {
	values, present, err := lookupField(in, c.Field)
	if err != nil {
		return false, err
	}

	if c.Exists != nil {
		if *c.Exists != present {
			return false, nil
		}
		if c.Equals == "" && len(c.In) == 0 {
			return true, nil
		}
	}
	if !present {
		return false, nil
	}

	if c.Equals != "" {
		return containsValue(values, c.Equals), nil
	}
	if len(c.In) > 0 {
		for _, candidate := range c.In {
			if containsValue(values, candidate) {
				return true, nil
			}
		}
		return false, nil
	}
	// Presence-only condition.
	return true, nil
}

func containsValue(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

// lookupField resolves a dotted path against the predicate input. Multi-value
// fields (user.groups) return every value; map-backed paths report presence.
func lookupField(in domain.PredicateInput, field string) (values []string, present bool, err error) {
	req := in.Request
	switch field {
	case "action":
		return []string{req.Action}, req.Action != "", nil
	case "user.id":
		return []string{req.User.ID}, req.User.ID != "", nil
	case "user.email":
		return []string{req.User.Email}, req.User.Email != "", nil
	case "user.department":
		return []string{req.User.Department}, req.User.Department != "", nil
	case "user.groups":
		return req.User.Groups, len(req.User.Groups) > 0, nil
	case "user.training_completed":
		return []string{strconv.FormatBool(req.User.TrainingCompleted)}, true, nil
	case "resource.id":
		return []string{req.Resource.ID}, req.Resource.ID != "", nil
	case "resource.type":
		return []string{req.Resource.Type}, req.Resource.Type != "", nil
	case "resource.url":
		return []string{req.Resource.URL}, req.Resource.URL != "", nil
	case "resource.service":
		return []string{req.Resource.Service}, req.Resource.Service != "", nil
	case "resource.category":
		return []string{req.Resource.Category}, req.Resource.Category != "", nil
	case "context.source":
		return []string{req.Context.Source}, req.Context.Source != "", nil
	case "context.risk_tier":
		return []string{req.Context.RiskTier}, req.Context.RiskTier != "", nil
	}

	if key, ok := strings.CutPrefix(field, "user.attributes."); ok {
		return formatFact(req.User.Attributes[key])
	}
	if key, ok := strings.CutPrefix(field, "resource.labels."); ok {
		v, found := req.Resource.Labels[key]
		return []string{v}, found, nil
	}
	if key, ok := strings.CutPrefix(field, "context.fields."); ok {
		v, found := in.Context.Field(key)
		if !found {
			return nil, false, nil
		}
		return formatFact(v)
	}

	return nil, false, fmt.Errorf("unknown condition field %q", field)
}

func formatFact(v any) ([]string, bool, error) {
	if v == nil {
		return nil, false, nil
	}
	switch typed := v.(type) {
	case string:
		return []string{typed}, true, nil
	case bool:
		return []string{strconv.FormatBool(typed)}, true, nil
	case []string:
		return typed, len(typed) > 0, nil
	default:
		return []string{fmt.Sprintf("%v", typed)}, true, nil
	}
}
