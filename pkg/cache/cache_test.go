package cache

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegisgov/decision-engine/pkg/domain"
)

func allowDecision(id string, ttl int) domain.Decision {
	return domain.Decision{
		DecisionID:      id,
		Outcome:         domain.OutcomeAllow,
		Reason:          "allowed by policy p-1",
		TTLSeconds:      ttl,
		EvaluatedAt:     time.Now().UTC(),
		MatchedPolicies: []domain.PolicyMatch{{PolicyID: "p-1", Priority: 10, Outcome: domain.PolicyAllow}},
	}
}

func TestCache_HitWithinTTLAndVersion(t *testing.T) {
	c := New(16)
	now := time.Now()

	c.Put("fp-1", allowDecision("d-1", 60), "v1", now)

	got, ok := c.Get("fp-1", "v1", now.Add(30*time.Second))
	require.True(t, ok)
	assert.Equal(t, "d-1", got.DecisionID)
	assert.Equal(t, domain.OutcomeAllow, got.Outcome)
}

func TestCache_ExpiredEntryIsEvicted(t *testing.T) {
	c := New(16)
	now := time.Now()

	c.Put("fp-1", allowDecision("d-1", 60), "v1", now)

	_, ok := c.Get("fp-1", "v1", now.Add(61*time.Second))
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestCache_StaleVersionIsAMiss(t *testing.T) {
	c := New(16)
	now := time.Now()

	c.Put("fp-1", allowDecision("d-1", 300), "v1", now)

	// Same fingerprint, but the policy set moved on.
	_, ok := c.Get("fp-1", "v2", now.Add(time.Second))
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestCache_ZeroTTLIsNeverStored(t *testing.T) {
	c := New(16)
	c.Put("fp-1", allowDecision("d-1", 0), "v1", time.Now())
	assert.Equal(t, 0, c.Len())
}

func TestCache_LRUEvictionUnderPressure(t *testing.T) {
	c := New(2)
	now := time.Now()

	c.Put("fp-1", allowDecision("d-1", 300), "v1", now)
	c.Put("fp-2", allowDecision("d-2", 300), "v1", now)

	// Touch fp-1 so fp-2 becomes least recently used.
	_, ok := c.Get("fp-1", "v1", now)
	require.True(t, ok)

	c.Put("fp-3", allowDecision("d-3", 300), "v1", now)
	assert.Equal(t, 2, c.Len())

	_, ok = c.Get("fp-2", "v1", now)
	assert.False(t, ok, "least recently used entry should have been evicted")
	_, ok = c.Get("fp-1", "v1", now)
	assert.True(t, ok)
	_, ok = c.Get("fp-3", "v1", now)
	assert.True(t, ok)
}

func TestCache_InvalidateAllDropsEverything(t *testing.T) {
	c := New(16)
	now := time.Now()
	for i := 0; i < 5; i++ {
		c.Put(fmt.Sprintf("fp-%d", i), allowDecision(fmt.Sprintf("d-%d", i), 300), "v1", now)
	}
	require.Equal(t, 5, c.Len())

	c.InvalidateAll()
	assert.Equal(t, 0, c.Len())
	_, ok := c.Get("fp-0", "v1", now)
	assert.False(t, ok)
}

func TestCache_GetReturnsACopy(t *testing.T) {
	c := New(16)
	now := time.Now()
	c.Put("fp-1", allowDecision("d-1", 300), "v1", now)

	first, ok := c.Get("fp-1", "v1", now)
	require.True(t, ok)
	first.MatchedPolicies[0].PolicyID = "mutated"
	first.Reason = "mutated"

	second, ok := c.Get("fp-1", "v1", now)
	require.True(t, ok)
	assert.Equal(t, "p-1", second.MatchedPolicies[0].PolicyID)
	assert.Equal(t, "allowed by policy p-1", second.Reason)
}

func TestCache_CoalesceRunsBodyOnce(t *testing.T) {
	c := New(16)

	var calls atomic.Int64
	release := make(chan struct{})
	body := func() (domain.Decision, error) {
		calls.Add(1)
		<-release
		return allowDecision("d-shared", 300), nil
	}

	const workers = 16
	decisions := make([]domain.Decision, workers)
	errs := make([]error, workers)
	var started, finished sync.WaitGroup
	started.Add(workers)
	finished.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer finished.Done()
			started.Done()
			decisions[i], _, errs[i] = c.Coalesce("fp-1", body)
		}(i)
	}

	started.Wait()
	time.Sleep(20 * time.Millisecond) // let every worker reach the flight
	close(release)
	finished.Wait()

	assert.Equal(t, int64(1), calls.Load(), "concurrent identical fingerprints must trigger one evaluation")
	for i, d := range decisions {
		require.NoError(t, errs[i])
		assert.Equal(t, "d-shared", d.DecisionID)
	}
}

func TestCache_CoalesceKeysAreIndependent(t *testing.T) {
	c := New(16)

	var calls atomic.Int64
	run := func(fp string) {
		_, _, err := c.Coalesce(fp, func() (domain.Decision, error) {
			calls.Add(1)
			return allowDecision(fp, 300), nil
		})
		require.NoError(t, err)
	}

	run("fp-a")
	run("fp-b")
	assert.Equal(t, int64(2), calls.Load())
}
