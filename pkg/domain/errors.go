package domain

import "errors"

// Common engine errors.
var (
	// ErrRepositoryUnavailable indicates the active policy set could not be
	// fetched at all. Fatal for the request; the facade applies its
	// configured fail-open/fail-closed strategy.
	ErrRepositoryUnavailable = errors.New("policy repository unavailable")
	// ErrCacheUnavailable indicates the decision cache backend is down. The
	// engine degrades to always-miss rather than failing.
	ErrCacheUnavailable = errors.New("decision cache unavailable")
	// ErrDeadlineExceeded indicates the overall evaluation exceeded the
	// caller's deadline. Distinct from a policy-driven DENY: callers must
	// not conflate "we don't know" with "denied".
	ErrDeadlineExceeded = errors.New("evaluation deadline exceeded")
	// ErrPredicateTimeout indicates a single predicate overran its
	// per-policy timeout. Recoverable; the policy is treated as
	// NotApplicable.
	ErrPredicateTimeout = errors.New("predicate timeout")
	// ErrDecisionNotFound indicates Explain was asked about an unknown or
	// already-evicted decision.
	ErrDecisionNotFound = errors.New("decision not found")
	// ErrInvalidRequest indicates a structurally invalid evaluation request.
	ErrInvalidRequest = errors.New("invalid evaluation request")
)

// DomainError wraps errors with a stable machine-readable code and optional
// structured details.
//
//nolint:revive // Name is intentionally verbose to distinguish domain-layer errors
type DomainError struct {
	Err     error
	Code    string
	Message string
	Details map[string]any
}

func (e *DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err.Error()
}

func (e *DomainError) Unwrap() error {
	return e.Err
}
