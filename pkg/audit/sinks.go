package audit

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/aegisgov/decision-engine/pkg/domain"
)

// MemorySink retains decisions in memory. Intended for tests and local
// development.
type MemorySink struct {
	mu        sync.Mutex
	decisions []domain.Decision
}

// NewMemorySink constructs an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Write implements domain.AuditSink.
func (s *MemorySink) Write(_ context.Context, decision domain.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions = append(s.decisions, decision.Clone())
	return nil
}

// Decisions returns a copy of everything written so far, in write order.
func (s *MemorySink) Decisions() []domain.Decision {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Decision, len(s.decisions))
	for i, d := range s.decisions {
		out[i] = d.Clone()
	}
	return out
}

// LogSink emits each decision as a structured log record. Useful when a
// downstream log pipeline is the audit trail.
type LogSink struct {
	Log zerolog.Logger
}

// Write implements domain.AuditSink.
func (s LogSink) Write(_ context.Context, decision domain.Decision) error {
	s.Log.Info().
		Str("decision_id", decision.DecisionID).
		Str("outcome", string(decision.Outcome)).
		Str("reason", decision.Reason).
		Int("risk_score", decision.RiskScore).
		Int("matched_policies", len(decision.MatchedPolicies)).
		Bool("degraded", decision.Degraded).
		Str("policy_set_version", decision.PolicySetVersion).
		Time("evaluated_at", decision.EvaluatedAt).
		Msg("decision")
	return nil
}
