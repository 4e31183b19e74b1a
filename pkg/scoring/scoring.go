// Package scoring provides risk scorer implementations behind the
// domain.RiskScorer contract. The engine treats scoring as pluggable: a
// deployment may inject an ML-backed scorer, the weighted heuristic scorer
// here, or nothing at all.
package scoring

import (
	"context"

	"github.com/aegisgov/decision-engine/pkg/domain"
)

// NoopScorer always returns zero risk.
type NoopScorer struct{}

// Score implements domain.RiskScorer.
func (NoopScorer) Score(context.Context, domain.EvaluationRequest, []domain.PolicyMatch) (int, error) {
	return 0, nil
}

// Factor is one weighted risk signal. Score is the factor's severity
// (0-100) and Confidence its weight (0.0-1.0) in the final average.
type Factor struct {
	Name       string
	Score      int
	Confidence float64
	Applies    func(req domain.EvaluationRequest, matches []domain.PolicyMatch) bool
}

// WeightedScorer computes a confidence-weighted average of the applicable
// factors, clamped to 0-100. An empty factor hit list scores zero.
type WeightedScorer struct {
	Factors []Factor
}

// NewWeightedScorer returns a scorer with the default governance factors.
func NewWeightedScorer() *WeightedScorer {
	return &WeightedScorer{Factors: DefaultFactors()}
}

// Score implements domain.RiskScorer.
func (s *WeightedScorer) Score(_ context.Context, req domain.EvaluationRequest, matches []domain.PolicyMatch) (int, error) {
	var total, weight float64
	for _, f := range s.Factors {
		if f.Applies == nil || !f.Applies(req, matches) {
			continue
		}
		total += float64(f.Score) * f.Confidence
		weight += f.Confidence
	}
	if weight == 0 {
		return 0, nil
	}
	score := int(total / weight)
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score, nil
}

// DefaultFactors covers the common governance signals: prohibition matches,
// review matches, untrained users, and unclassified resources.
func DefaultFactors() []Factor {
	return []Factor{
		{
			Name:       "policy_denied",
			Score:      90,
			Confidence: 1.0,
			Applies: func(_ domain.EvaluationRequest, matches []domain.PolicyMatch) bool {
				return hasOutcome(matches, domain.PolicyDeny)
			},
		},
		{
			Name:       "policy_review",
			Score:      60,
			Confidence: 0.8,
			Applies: func(_ domain.EvaluationRequest, matches []domain.PolicyMatch) bool {
				return hasOutcome(matches, domain.PolicyReview)
			},
		},
		{
			Name:       "training_incomplete",
			Score:      40,
			Confidence: 0.6,
			Applies: func(req domain.EvaluationRequest, _ []domain.PolicyMatch) bool {
				return !req.User.TrainingCompleted
			},
		},
		{
			Name:       "unclassified_resource",
			Score:      30,
			Confidence: 0.5,
			Applies: func(req domain.EvaluationRequest, _ []domain.PolicyMatch) bool {
				return req.Resource.Category == ""
			},
		},
	}
}

func hasOutcome(matches []domain.PolicyMatch, outcome domain.PolicyOutcome) bool {
	for _, m := range matches {
		if m.Outcome == outcome {
			return true
		}
	}
	return false
}
