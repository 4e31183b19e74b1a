package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aegisgov/decision-engine/pkg/domain"
)

// MemoryRepository holds the active policy set in memory as an immutable
// snapshot. Publish replaces the snapshot wholesale and bumps the version
// token, firing any subscribed invalidation hooks.
type MemoryRepository struct {
	mu          sync.RWMutex
	policies    []domain.Policy
	version     string
	generation  int64
	subscribers []func(version string)
}

// NewMemoryRepository starts empty at generation zero.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{version: "v0"}
}

// Publish replaces the policy set and bumps the version. Every publish,
// rollback, or archive flows through here, so the version token changes on
// any mutation of the set.
func (r *MemoryRepository) Publish(policies []domain.Policy) string {
	r.mu.Lock()
	r.generation++
	r.policies = append([]domain.Policy(nil), policies...)
	r.version = fmt.Sprintf("v%d-%s", r.generation, shortToken())
	version := r.version
	subscribers := append(([]func(string))(nil), r.subscribers...)
	r.mu.Unlock()

	for _, fn := range subscribers {
		fn(version)
	}
	return version
}

// ActivePolicies implements domain.PolicyRepository. Only active policies
// inside their effectiveness window are returned, pre-sorted by
// (priority DESC, id ASC). The hint is advisory; policies outside the hinted
// dimensions are filtered by scope matching during evaluation anyway, so the
// memory store returns the full active set.
func (r *MemoryRepository) ActivePolicies(_ context.Context, _ domain.ScopeHint) ([]domain.Policy, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := time.Now().UTC()
	active := make([]domain.Policy, 0, len(r.policies))
	for _, p := range r.policies {
		if p.Status != domain.StatusActive {
			continue
		}
		if !p.EffectiveAt(now) {
			continue
		}
		active = append(active, p)
	}
	domain.SortPolicies(active)
	return active, r.version, nil
}

// Version implements domain.PolicyRepository.
func (r *MemoryRepository) Version(context.Context) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version, nil
}

// Subscribe implements domain.VersionWatcher. The callback fires after every
// version change, outside the repository lock.
func (r *MemoryRepository) Subscribe(fn func(version string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribers = append(r.subscribers, fn)
}

func shortToken() string {
	return uuid.NewString()[:8]
}
