// ABOUTME: Tests for the per-case purchase budget
// ABOUTME: Covers the hard ceiling, release accounting, and concurrent authorization

package escalate

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBudget_CeilingEnforced(t *testing.T) {
	b := NewBudget(0.25)

	require.NoError(t, b.Authorize(0.10))
	require.NoError(t, b.Authorize(0.15))
	assert.ErrorIs(t, b.Authorize(0.10), ErrBudgetExhausted)
	assert.InDelta(t, 0.25, b.Spent(), 1e-9)
	assert.InDelta(t, 0, b.Remaining(), 1e-9)
}

func TestBudget_ReleaseReturnsHeadroom(t *testing.T) {
	b := NewBudget(0.20)

	require.NoError(t, b.Authorize(0.15))
	// Signal turned out cached, the full reservation comes back
	b.Release(0.15)
	assert.InDelta(t, 0, b.Spent(), 1e-9)
	require.NoError(t, b.Authorize(0.20))
}

func TestBudget_FloatRoundingAtBoundary(t *testing.T) {
	b := NewBudget(0.30)

	// Three authorizations that sum to the ceiling exactly despite
	// binary float representation
	require.NoError(t, b.Authorize(0.10))
	require.NoError(t, b.Authorize(0.10))
	require.NoError(t, b.Authorize(0.10))
	assert.ErrorIs(t, b.Authorize(0.01), ErrBudgetExhausted)
}

func TestBudget_ConcurrentAuthorizeNeverExceedsCeiling(t *testing.T) {
	b := NewBudget(1.00)

	var wg sync.WaitGroup
	granted := make([]bool, 40)
	for i := range granted {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			granted[i] = b.Authorize(0.10) == nil
		}(i)
	}
	wg.Wait()

	count := 0
	for _, ok := range granted {
		if ok {
			count++
		}
	}
	assert.Equal(t, 10, count)
	assert.LessOrEqual(t, b.Spent(), 1.00+1e-9)
}
