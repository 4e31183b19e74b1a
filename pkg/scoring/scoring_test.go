package scoring

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/aegisgov/decision-engine/pkg/domain"
)

func TestNoopScorer(t *testing.T) {
	score, err := NoopScorer{}.Score(context.Background(), domain.EvaluationRequest{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, score)
}

func TestWeightedScorer_NoApplicableFactorsScoresZero(t *testing.T) {
	s := NewWeightedScorer()
	req := domain.EvaluationRequest{
		User:     domain.User{TrainingCompleted: true},
		Resource: domain.Resource{Category: "public"},
	}

	score, err := s.Score(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, score)
}

func TestWeightedScorer_DenyMatchDominates(t *testing.T) {
	s := NewWeightedScorer()
	req := domain.EvaluationRequest{
		User:     domain.User{TrainingCompleted: true},
		Resource: domain.Resource{Category: "customer_data"},
	}
	matches := []domain.PolicyMatch{{PolicyID: "p-1", Outcome: domain.PolicyDeny}}

	score, err := s.Score(context.Background(), req, matches)
	require.NoError(t, err)
	assert.Equal(t, 90, score)
}

func TestWeightedScorer_BlendsFactors(t *testing.T) {
	s := NewWeightedScorer()
	req := domain.EvaluationRequest{
		User:     domain.User{TrainingCompleted: false},
		Resource: domain.Resource{Category: "customer_data"},
	}
	matches := []domain.PolicyMatch{{PolicyID: "p-1", Outcome: domain.PolicyReview}}

	// review (60 * 0.8) + training (40 * 0.6) over weight 1.4.
	score, err := s.Score(context.Background(), req, matches)
	require.NoError(t, err)
	assert.Equal(t, 51, score)
}

func TestWeightedScorer_AlwaysInRange(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := &WeightedScorer{Factors: []Factor{
			{
				Name:       "wild",
				Score:      rapid.IntRange(-500, 500).Draw(t, "score"),
				Confidence: rapid.Float64Range(0.1, 1.0).Draw(t, "confidence"),
				Applies:    func(domain.EvaluationRequest, []domain.PolicyMatch) bool { return true },
			},
		}}

		score, err := s.Score(context.Background(), domain.EvaluationRequest{}, nil)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, score, 0)
		assert.LessOrEqual(t, score, 100)
	})
}
