// ABOUTME: Tests for the negotiation evaluator
// ABOUTME: Covers band boundaries, judgement delegation, and fail-closed behavior

package negotiate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latchline/fraudgate/internal/judge"
)

const quantitativePitch = "We will purchase 500 velocity signals per month for 12 months, committing $50 of monthly spend."

// fixedJudgement returns a canned evaluation result or error.
type fixedJudgement struct {
	judge.Judgement
	result *judge.EvalResult
	err    error
}

func (f *fixedJudgement) Evaluate(ctx context.Context, req judge.EvalRequest) (*judge.EvalResult, error) {
	return f.result, f.err
}

func TestEvaluate_TooSteepAlwaysRejected(t *testing.T) {
	// Even a judgement that would accept anything never sees a 50% ask
	e := NewEvaluator(&fixedJudgement{result: &judge.EvalResult{Accepted: true}})

	out := e.Evaluate(context.Background(), "velocity", 0.10, 0.05, quantitativePitch)
	assert.False(t, out.Accepted)
	assert.Equal(t, "discount too steep", out.Reasoning)
	assert.Equal(t, 0.10, out.FinalPrice)
	assert.InDelta(t, 0.5, out.DiscountPct, 1e-9)
}

func TestEvaluate_TooShallowAlwaysRejected(t *testing.T) {
	e := NewEvaluator(&fixedJudgement{result: &judge.EvalResult{Accepted: true}})

	out := e.Evaluate(context.Background(), "velocity", 0.10, 0.09, quantitativePitch)
	assert.False(t, out.Accepted)
	assert.Equal(t, "not worth negotiating, pay full price or widen the ask", out.Reasoning)
	assert.Equal(t, 0.10, out.FinalPrice)
}

func TestEvaluate_InBandVaguePitchRejected(t *testing.T) {
	e := NewEvaluator(judge.NewHeuristic())

	out := e.Evaluate(context.Background(), "velocity", 0.10, 0.07,
		"we would really appreciate a better deal on this signal, thanks so much")
	assert.False(t, out.Accepted)
	assert.Equal(t, 0.10, out.FinalPrice)
}

func TestEvaluate_InBandQuantitativePitchAccepted(t *testing.T) {
	e := NewEvaluator(judge.NewHeuristic())

	out := e.Evaluate(context.Background(), "velocity", 0.10, 0.07, quantitativePitch)
	assert.True(t, out.Accepted)
	assert.Equal(t, 0.07, out.FinalPrice)
	assert.InDelta(t, 0.3, out.DiscountPct, 1e-9)
}

func TestEvaluate_JudgementErrorFailsClosed(t *testing.T) {
	e := NewEvaluator(&fixedJudgement{err: errors.New("model timeout")})

	out := e.Evaluate(context.Background(), "velocity", 0.10, 0.07, quantitativePitch)
	assert.False(t, out.Accepted)
	assert.Equal(t, 0.10, out.FinalPrice)
	assert.Contains(t, out.Reasoning, "judgement unavailable")
}

func TestEvaluate_NonsensePrices(t *testing.T) {
	e := NewEvaluator(judge.NewHeuristic())

	for _, proposed := range []float64{0, -0.05, 0.10, 0.20} {
		out := e.Evaluate(context.Background(), "velocity", 0.10, proposed, quantitativePitch)
		assert.False(t, out.Accepted, "proposed %v must be rejected", proposed)
		assert.Equal(t, 0.10, out.FinalPrice)
	}
}

func TestEvaluate_OutcomeAlwaysComplete(t *testing.T) {
	e := NewEvaluator(judge.NewHeuristic())

	out := e.Evaluate(context.Background(), "velocity", 0.10, 0.05, "no")
	require.NotNil(t, out)
	assert.Equal(t, 0.10, out.CatalogPrice)
	assert.Equal(t, 0.05, out.ProposedPrice)
	assert.InDelta(t, 0.05, out.Discount, 1e-9)
	assert.NotEmpty(t, out.Reasoning)
}
