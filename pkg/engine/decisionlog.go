package engine

import (
	"container/list"
	"sync"

	"github.com/aegisgov/decision-engine/pkg/domain"
)

// decisionLog is a bounded in-memory record of recent decisions backing the
// Explain operation. Oldest entries are evicted first.
type decisionLog struct {
	mu      sync.Mutex
	max     int
	order   *list.List
	entries map[string]domain.Decision
}

func newDecisionLog(capacity int) *decisionLog {
	return &decisionLog{
		max:     capacity,
		order:   list.New(),
		entries: make(map[string]domain.Decision, capacity),
	}
}

func (l *decisionLog) record(decision domain.Decision) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.entries[decision.DecisionID]; ok {
		return
	}
	l.entries[decision.DecisionID] = decision.Clone()
	l.order.PushFront(decision.DecisionID)

	if l.order.Len() <= l.max {
		return
	}
	if tail := l.order.Back(); tail != nil {
		l.order.Remove(tail)
		delete(l.entries, tail.Value.(string))
	}
}

func (l *decisionLog) get(decisionID string) (domain.Decision, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	decision, ok := l.entries[decisionID]
	if !ok {
		return domain.Decision{}, false
	}
	return decision.Clone(), true
}
