package policy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	//nolint:staticcheck // OPA v1 migration pending
	"github.com/open-policy-agent/opa/ast"
	//nolint:staticcheck // OPA v1 migration pending
	"github.com/open-policy-agent/opa/rego"

	"github.com/aegisgov/decision-engine/pkg/domain"
)

const defaultRegoEntrypoint = "policy/decision"

// RegoPredicate wraps a compiled Rego module behind the Predicate contract.
// The module's decision document must produce one of "allow", "deny",
// "review", or "not_applicable" at the entrypoint, either as a bare string
// or as an object with a "decision" key.
type RegoPredicate struct {
	name     string
	prepared rego.PreparedEvalQuery
}

// NewRegoPredicate parses and compiles the module at construction so syntax
// errors surface at publish time, not evaluation time.
func NewRegoPredicate(ctx context.Context, name, module, entrypoint string) (*RegoPredicate, error) {
	if strings.TrimSpace(module) == "" {
		return nil, errors.New("rego predicate requires a module")
	}
	entry := strings.TrimSpace(entrypoint)
	if entry == "" {
		entry = defaultRegoEntrypoint
	}

	parsed, err := ast.ParseModuleWithOpts(name, module, ast.ParserOptions{RegoVersion: ast.RegoV1})
	if err != nil {
		return nil, fmt.Errorf("parse rego module %q: %w", name, err)
	}

	query := "data." + strings.ReplaceAll(entry, "/", ".")
	prepared, err := rego.New(
		rego.Query(query),
		rego.ParsedModule(parsed),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile rego module %q: %w", name, err)
	}

	return &RegoPredicate{name: name, prepared: prepared}, nil
}

// Evaluate implements domain.Predicate.
func (p *RegoPredicate) Evaluate(ctx context.Context, in domain.PredicateInput) (domain.PolicyOutcome, error) {
	payload := map[string]any{
		"request_id": in.Request.RequestID,
		"action":     in.Request.Action,
		"user": map[string]any{
			"id":                 in.Request.User.ID,
			"email":              in.Request.User.Email,
			"department":         in.Request.User.Department,
			"groups":             append([]string(nil), in.Request.User.Groups...),
			"training_completed": in.Request.User.TrainingCompleted,
			"attributes":         in.Request.User.Attributes,
		},
		"resource": map[string]any{
			"id":       in.Request.Resource.ID,
			"type":     in.Request.Resource.Type,
			"url":      in.Request.Resource.URL,
			"service":  in.Request.Resource.Service,
			"category": in.Request.Resource.Category,
			"labels":   in.Request.Resource.Labels,
		},
		"context": map[string]any{
			"source":    in.Request.Context.Source,
			"risk_tier": in.Request.Context.RiskTier,
			"complete":  in.Context.Complete,
			"fields":    in.Context.Fields,
		},
	}

	results, err := p.prepared.Eval(ctx, rego.EvalInput(payload))
	if err != nil {
		return domain.PolicyNotApplicable, fmt.Errorf("rego eval %q: %w", p.name, err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return domain.PolicyNotApplicable, nil
	}

	return parseRegoOutcome(p.name, results[0].Expressions[0].Value)
}

func parseRegoOutcome(name string, value any) (domain.PolicyOutcome, error) {
	switch typed := value.(type) {
	case string:
		return mapRegoOutcome(name, typed)
	case map[string]any:
		raw, ok := typed["decision"]
		if !ok {
			return domain.PolicyNotApplicable, nil
		}
		text, ok := raw.(string)
		if !ok {
			return domain.PolicyNotApplicable, fmt.Errorf("rego module %q: decision must be a string, got %T", name, raw)
		}
		return mapRegoOutcome(name, text)
	default:
		return domain.PolicyNotApplicable, fmt.Errorf("rego module %q: unexpected result type %T", name, value)
	}
}

func mapRegoOutcome(name, text string) (domain.PolicyOutcome, error) {
	switch domain.PolicyOutcome(strings.ToLower(strings.TrimSpace(text))) {
	case domain.PolicyAllow:
		return domain.PolicyAllow, nil
	case domain.PolicyDeny:
		return domain.PolicyDeny, nil
	case domain.PolicyReview:
		return domain.PolicyReview, nil
	case domain.PolicyNotApplicable, "":
		return domain.PolicyNotApplicable, nil
	default:
		return domain.PolicyNotApplicable, fmt.Errorf("rego module %q: unknown decision %q", name, text)
	}
}
