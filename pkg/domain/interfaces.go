package domain

import "context"

// ScopeHint narrows the policy set a repository returns. All fields are
// optional; repositories may ignore the hint entirely and return the full
// active set.
type ScopeHint struct {
	Department   string
	ResourceType string
	RiskTier     string
}

// PolicyRepository is the read-only interface over the versioned policy
// store. ActivePolicies returns only policies with status active that are
// inside their effectiveness window, along with an opaque version token that
// changes on every publish, rollback, or archive.
type PolicyRepository interface {
	ActivePolicies(ctx context.Context, hint ScopeHint) ([]Policy, string, error)

	// Version returns the current policy set version without materialising
	// the policy list. Used by the cache to validate entry staleness.
	Version(ctx context.Context) (string, error)
}

// VersionWatcher is an optional push-based invalidation hook a repository
// may implement. The callback fires after every version change.
type VersionWatcher interface {
	Subscribe(fn func(version string))
}

// ContextProvider fetches request-time facts from one external source
// (IAM, CMDB, data classification). Each provider is individually optional
// and individually timed out; a failed provider contributes no fields.
type ContextProvider interface {
	Name() string
	Fetch(ctx context.Context, req EvaluationRequest) (map[string]any, error)
}

// RiskScorer produces a numeric 0-100 risk value for a request given the
// policies that matched it. Implementations must return within the deadline
// on ctx; failures are treated as score 0 without failing the evaluation.
type RiskScorer interface {
	Score(ctx context.Context, req EvaluationRequest, matches []PolicyMatch) (int, error)
}

// AuditSink is the append-only write path for decisions. Called
// asynchronously; at-least-once delivery is acceptable since downstream
// dedupes on decision_id.
type AuditSink interface {
	Write(ctx context.Context, decision Decision) error
}
