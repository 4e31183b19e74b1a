package domain

import "time"

// User identifies the requesting principal plus the attributes policies
// commonly scope on.
type User struct {
	ID                string         `json:"id,omitempty"`
	Email             string         `json:"email"`
	Department        string         `json:"department,omitempty"`
	Groups            []string       `json:"groups,omitempty"`
	TrainingCompleted bool           `json:"training_completed,omitempty"`
	Attributes        map[string]any `json:"attributes,omitempty"`
}

// Resource describes the target of the requested action.
type Resource struct {
	ID       string            `json:"id,omitempty"`
	Type     string            `json:"type"`
	URL      string            `json:"url,omitempty"`
	Service  string            `json:"service,omitempty"`
	Category string            `json:"category,omitempty"`
	Labels   map[string]string `json:"labels,omitempty"`
}

// RequestContext carries request-time environmental facts supplied by the
// caller. Additional facts are gathered by the context resolver.
type RequestContext struct {
	Timestamp time.Time      `json:"timestamp,omitempty"`
	Source    string         `json:"source,omitempty"`
	RiskTier  string         `json:"risk_tier,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// EvaluationRequest is the immutable input to a policy evaluation. RequestID
// is caller-supplied for idempotent tracing.
type EvaluationRequest struct {
	RequestID string         `json:"request_id,omitempty"`
	User      User           `json:"user"`
	Action    string         `json:"action"`
	Resource  Resource       `json:"resource"`
	Context   RequestContext `json:"context"`
}

// EnrichedContext is the output of context resolution: the caller-supplied
// fields merged with whatever the configured providers returned.
type EnrichedContext struct {
	// Fields is the merged fact map keyed by provider-qualified names.
	Fields map[string]any `json:"fields,omitempty"`
	// Complete is false when any provider failed or resolution hit its
	// ceiling before all providers answered. Policies that care must treat
	// unknown conservatively; the engine only records the flag.
	Complete bool `json:"complete"`
	// FailedProviders names the providers that contributed nothing.
	FailedProviders []string `json:"failed_providers,omitempty"`
}

// Field returns a resolved context field, falling back to the zero value.
func (c EnrichedContext) Field(key string) (any, bool) {
	v, ok := c.Fields[key]
	return v, ok
}
