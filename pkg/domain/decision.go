package domain

import "time"

// Outcome is the final verdict of an evaluation. Wire representation uses
// the uppercase tokens for cross-system consistency.
type Outcome string

const (
	// OutcomeAllow permits the request.
	OutcomeAllow Outcome = "ALLOW"
	// OutcomeDeny prohibits the request.
	OutcomeDeny Outcome = "DENY"
	// OutcomeReview routes the request to human review.
	OutcomeReview Outcome = "REVIEW"
)

// Valid reports whether o is one of the three recognised outcomes.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeAllow, OutcomeDeny, OutcomeReview:
		return true
	}
	return false
}

// PolicyMatch records one policy's contribution to a decision, in
// evaluation order. Only non-NotApplicable results are recorded.
type PolicyMatch struct {
	PolicyID string        `json:"policy_id"`
	Priority int           `json:"priority"`
	Outcome  PolicyOutcome `json:"outcome"`
}

// PredicateError records a predicate that errored or timed out. The policy
// is excluded from the decision but the failure is surfaced for
// policy-author attention.
type PredicateError struct {
	PolicyID string `json:"policy_id"`
	Error    string `json:"error"`
}

// Decision is the auditable result of evaluating one request against the
// active policy set. Outcome is fully determined by MatchedPolicies via the
// Deny > Review > Allow precedence rule; it is never set independently
// except by the configured fail strategy on repository failure.
type Decision struct {
	DecisionID string  `json:"decision_id"`
	Outcome    Outcome `json:"decision"`
	Reason     string  `json:"reason"`

	// Confidence is optional, 0.0-1.0, derived from the risk scorer.
	Confidence float64 `json:"confidence,omitempty"`
	// RiskScore is optional, 0-100, from the pluggable scorer.
	RiskScore int `json:"risk_score"`

	MatchedPolicies []PolicyMatch    `json:"matched_policies"`
	PredicateErrors []PredicateError `json:"predicate_errors,omitempty"`

	// Degraded is true when the decision was produced under partial failure:
	// incomplete context, predicate errors, scorer failure, or a fail-open/
	// fail-closed default applied because the policy repository was down.
	Degraded        bool     `json:"degraded,omitempty"`
	DegradedReasons []string `json:"degraded_reasons,omitempty"`
	ContextComplete bool     `json:"context_complete"`

	TTLSeconds       int       `json:"ttl_seconds"`
	EvaluatedAt      time.Time `json:"evaluated_at"`
	PolicySetVersion string    `json:"policy_set_version,omitempty"`

	// Cached and CacheAge describe freshness on a cache hit. DecisionID and
	// EvaluatedAt are preserved from the original evaluation.
	Cached   bool          `json:"cached"`
	CacheAge time.Duration `json:"cache_age,omitempty"`

	EvalDurationMS int64 `json:"evaluation_duration_ms"`
}

// Clone returns a deep copy so cached decisions never share mutable state
// with callers.
func (d Decision) Clone() Decision {
	clone := d
	if len(d.MatchedPolicies) > 0 {
		clone.MatchedPolicies = append([]PolicyMatch(nil), d.MatchedPolicies...)
	}
	if len(d.PredicateErrors) > 0 {
		clone.PredicateErrors = append([]PredicateError(nil), d.PredicateErrors...)
	}
	if len(d.DegradedReasons) > 0 {
		clone.DegradedReasons = append([]string(nil), d.DegradedReasons...)
	}
	return clone
}
