// ABOUTME: Per-case purchase budget with a hard ceiling
// ABOUTME: Authorize reserves funds before a purchase; Release returns unspent reservation

package escalate

import (
	"errors"
	"fmt"
	"sync"
)

// ErrBudgetExhausted is returned when a purchase would exceed the ceiling.
var ErrBudgetExhausted = errors.New("purchase budget exhausted")

// Budget tracks signal spend for one case. Funds are reserved with
// Authorize before any money moves, so the ceiling can never be exceeded
// even with concurrent purchasers.
type Budget struct {
	mu      sync.Mutex
	ceiling float64
	spent   float64
}

// NewBudget creates a budget with the given ceiling.
func NewBudget(ceiling float64) *Budget {
	return &Budget{ceiling: ceiling}
}

// Authorize reserves price against the remaining budget. It must be called
// before the purchase; the caller releases any unspent part afterwards.
func (b *Budget) Authorize(price float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.spent+price > b.ceiling+1e-9 {
		return fmt.Errorf("%w: %.2f spent of %.2f ceiling, %.2f requested",
			ErrBudgetExhausted, b.spent, b.ceiling, price)
	}
	b.spent += price
	return nil
}

// Release returns an unspent reservation, e.g. when the signal turned out
// to be cached or the purchase settled at a negotiated discount.
func (b *Budget) Release(amount float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.spent -= amount
	if b.spent < 0 {
		b.spent = 0
	}
}

// Spent returns the amount currently committed.
func (b *Budget) Spent() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.spent
}

// Remaining returns the uncommitted headroom.
func (b *Budget) Remaining() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ceiling - b.spent
}
