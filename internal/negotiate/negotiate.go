// ABOUTME: Negotiation evaluator combining a deterministic discount band with a judgement call
// ABOUTME: Fails closed to full price when the judgement capability errors

package negotiate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/latchline/fraudgate/internal/judge"
)

// Discount band boundaries. Proposals below 60% of the catalog price are
// too steep; proposals above 80% are not worth negotiating.
const (
	MaxDiscount = 0.40
	MinDiscount = 0.20
)

// Outcome is the full negotiation result, attached to the payment record
// for audit regardless of acceptance.
type Outcome struct {
	Accepted      bool    `json:"accepted"`
	Reasoning     string  `json:"reasoning"`
	CatalogPrice  float64 `json:"catalogPrice"`
	ProposedPrice float64 `json:"proposedPrice"`
	Discount      float64 `json:"discount"`
	DiscountPct   float64 `json:"discountPct"`
	FinalPrice    float64 `json:"finalPrice"`
}

// Evaluator gates negotiated prices through the discount band and, within
// the band, a pluggable judgement call on the pitch.
type Evaluator struct {
	judgement judge.Judgement
	logger    *slog.Logger
}

// NewEvaluator creates a negotiation evaluator backed by the given judgement.
func NewEvaluator(judgement judge.Judgement) *Evaluator {
	return &Evaluator{
		judgement: judgement,
		logger:    slog.Default().With("component", "negotiate"),
	}
}

// Evaluate applies the deterministic band, then delegates the in-band call
// to the judgement capability. A judgement failure resolves to rejected:
// the caller pays full price.
func (e *Evaluator) Evaluate(ctx context.Context, signalType string, catalogPrice, proposedPrice float64, pitch string) *Outcome {
	discount := catalogPrice - proposedPrice
	discountPct := discount / catalogPrice

	out := &Outcome{
		CatalogPrice:  catalogPrice,
		ProposedPrice: proposedPrice,
		Discount:      discount,
		DiscountPct:   discountPct,
		FinalPrice:    catalogPrice,
	}

	if proposedPrice <= 0 || proposedPrice >= catalogPrice {
		out.Reasoning = "proposed price must be positive and below the catalog price"
		return out
	}

	if discountPct > MaxDiscount {
		out.Reasoning = "discount too steep"
		return out
	}
	if discountPct < MinDiscount {
		out.Reasoning = "not worth negotiating, pay full price or widen the ask"
		return out
	}

	res, err := e.judgement.Evaluate(ctx, judge.EvalRequest{
		Pitch:         pitch,
		SignalType:    signalType,
		CatalogPrice:  catalogPrice,
		ProposedPrice: proposedPrice,
	})
	if err != nil {
		e.logger.Warn("judgement failed, rejecting negotiation", "signal_type", signalType, "error", err)
		out.Reasoning = fmt.Sprintf("judgement unavailable, defaulting to full price: %v", err)
		return out
	}

	out.Accepted = res.Accepted
	out.Reasoning = res.Reasoning
	if res.Accepted {
		out.FinalPrice = proposedPrice
	}
	return out
}
