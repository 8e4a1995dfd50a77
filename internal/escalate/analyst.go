// ABOUTME: Tiered analyst agents that buy signals within budget and score the case
// ABOUTME: L1 shops velocity and geolocation; L2 adds history, device, and merchant depth

package escalate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/latchline/fraudgate/internal/risk"
	"github.com/latchline/fraudgate/internal/store"
)

// Evidence is the signal data accumulated across analyst tiers. Later
// tiers see earlier purchases and never re-buy a type already present.
type Evidence struct {
	Signals   map[string]map[string]any
	Costs     map[string]float64
	Notes     []string
	Purchases []Purchase
}

// Purchase records one signal acquisition in the order it happened, so
// the orchestrator can write an audit step per purchase.
type Purchase struct {
	SignalType string
	AgentName  string
	Cost       float64
	Cached     bool
	Duration   time.Duration
}

// NewEvidence creates an empty evidence set.
func NewEvidence() *Evidence {
	return &Evidence{
		Signals: make(map[string]map[string]any),
		Costs:   make(map[string]float64),
	}
}

// TotalCost sums what the evidence set actually paid.
func (e *Evidence) TotalCost() float64 {
	var total float64
	for _, c := range e.Costs {
		total += c
	}
	return total
}

// Types returns the signal types present, sorted for stable output.
func (e *Evidence) Types() []string {
	types := make([]string, 0, len(e.Signals))
	for t := range e.Signals {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Opinion is one analyst's non-final read on a case.
type Opinion struct {
	AgentName   string   `json:"agentName"`
	Action      string   `json:"action"`
	Confidence  float64  `json:"confidence"`
	Reasoning   string   `json:"reasoning"`
	RiskFactors []string `json:"riskFactors"`
	SignalsUsed []string `json:"signalsUsed"`
}

// Analyst is one escalation tier. Analyze may buy signals through the
// client, authorized against the per-case budget, and must leave anything
// it bought in the shared evidence for later tiers.
type Analyst interface {
	Name() string
	Analyze(ctx context.Context, c *store.Case, ev *Evidence, budget *Budget) (*Opinion, error)
}

// TierAnalyst is the stock analyst: it shops a fixed list of signal types
// and scores the assembled features with the anomaly model.
type TierAnalyst struct {
	name   string
	wants  []string
	client SignalClient
	score  risk.Scorer
	logger *slog.Logger
}

// NewL1 creates the first-line analyst. It buys the cheap behavioral
// signals that resolve most cases.
func NewL1(client SignalClient) *TierAnalyst {
	return newTier("sentinel-l1", []string{"velocity", "geolocation"}, client)
}

// NewL2 creates the deep-dive analyst with the expensive signal set.
func NewL2(client SignalClient) *TierAnalyst {
	return newTier("sentinel-l2", []string{"account_history", "device_fingerprint", "merchant_risk"}, client)
}

func newTier(name string, wants []string, client SignalClient) *TierAnalyst {
	return &TierAnalyst{
		name:   name,
		wants:  wants,
		client: client,
		score:  risk.Score,
		logger: slog.Default().With("component", "analyst", "agent", name),
	}
}

// Name implements Analyst.
func (a *TierAnalyst) Name() string { return a.name }

// Analyze implements Analyst. Signal purchases are value-of-information
// gated: a type whose price no longer fits the remaining budget is skipped
// with a note, and the analyst reasons from what it has.
func (a *TierAnalyst) Analyze(ctx context.Context, c *store.Case, ev *Evidence, budget *Budget) (*Opinion, error) {
	for _, signalType := range a.wants {
		if _, ok := ev.Signals[signalType]; ok {
			continue
		}

		price, err := a.client.Quote(signalType)
		if err != nil {
			return nil, fmt.Errorf("quoting %s: %w", signalType, err)
		}
		if err := budget.Authorize(price); err != nil {
			note := fmt.Sprintf("skipped %s: %v", signalType, err)
			ev.Notes = append(ev.Notes, note)
			a.logger.Warn("signal purchase skipped", "case_id", c.ID, "signal_type", signalType,
				"price", price, "remaining", budget.Remaining())
			continue
		}

		start := time.Now()
		result, err := a.client.Fetch(ctx, signalType, c.SubjectID, c.ID, a.name)
		if err != nil {
			// Money that settled before the failure stays spent; only
			// the unsettled remainder of the reservation comes back
			var ferr *FetchError
			var settled float64
			if errors.As(err, &ferr) {
				settled = ferr.Settled
			}
			budget.Release(price - settled)
			return nil, fmt.Errorf("fetching %s: %w", signalType, err)
		}
		// Return the reservation headroom a cache hit or discount left
		budget.Release(price - result.Cost)

		ev.Signals[signalType] = result.Data
		ev.Costs[signalType] = result.Cost
		ev.Purchases = append(ev.Purchases, Purchase{
			SignalType: signalType,
			AgentName:  a.name,
			Cost:       result.Cost,
			Cached:     result.Cached,
			Duration:   time.Since(start),
		})
		a.logger.Info("signal acquired", "case_id", c.ID, "signal_type", signalType,
			"cost", result.Cost, "cached", result.Cached)
	}

	assessment := a.score(assembleFeatures(c, ev))

	action := store.ActionApprove
	if assessment.IsAnomaly {
		action = store.ActionDeny
	}
	reasoning := assessment.Explanation
	if len(ev.Notes) > 0 {
		reasoning += " Evidence gaps: " + strings.Join(ev.Notes, "; ") + "."
	}
	return &Opinion{
		AgentName:   a.name,
		Action:      action,
		Confidence:  assessment.Confidence,
		Reasoning:   reasoning,
		RiskFactors: assessment.RiskFactors,
		SignalsUsed: ev.Types(),
	}, nil
}

// assembleFeatures maps raw signal payloads onto the model feature vector.
// Missing signals leave their features at neutral defaults.
func assembleFeatures(c *store.Case, ev *Evidence) risk.Features {
	f := risk.Features{
		Amount:     c.Amount,
		Confidence: 0.5,
		TotalCost:  ev.TotalCost(),
	}

	hour := c.CreatedAt.UTC().Hour()
	f.UnusualHour = hour < 6 || hour >= 23

	if history, ok := ev.Signals["account_history"]; ok {
		f.AccountAgeDays = int(num(history["account_age_days"]))
		f.NewAccount = f.AccountAgeDays < 30
	}
	if geo, ok := ev.Signals["geolocation"]; ok {
		country, _ := geo["country"].(string)
		f.InternationalTransfer = country != "" && country != "US"
		f.Confidence = clamp01(1 - num(geo["vpn_likelihood"]))
	}
	f.RiskFlagCount = countRiskFlags(ev)
	return f
}

// countRiskFlags tallies the per-signal red flags the analysts treat as
// individually weak but jointly meaningful.
func countRiskFlags(ev *Evidence) int {
	flags := 0
	if v, ok := ev.Signals["velocity"]; ok {
		if num(v["burst_score"]) > 0.8 {
			flags++
		}
		if num(v["tx_count_1h"]) > 5 {
			flags++
		}
	}
	if g, ok := ev.Signals["geolocation"]; ok {
		if b, _ := g["high_risk_region"].(bool); b {
			flags++
		}
		if num(g["vpn_likelihood"]) > 0.7 {
			flags++
		}
	}
	if h, ok := ev.Signals["account_history"]; ok {
		if num(h["chargeback_count"]) > 1 {
			flags++
		}
		if num(h["prior_flags"]) > 2 {
			flags++
		}
		if b, _ := h["dormant_reactivated"].(bool); b {
			flags++
		}
	}
	if d, ok := ev.Signals["device_fingerprint"]; ok {
		if num(d["emulator_likelihood"]) > 0.7 {
			flags++
		}
		if num(d["fingerprint_reuse_count"]) > 3 {
			flags++
		}
	}
	if m, ok := ev.Signals["merchant_risk"]; ok {
		if num(m["risk_tier"]) >= 4 {
			flags++
		}
		if num(m["dispute_rate"]) > 0.05 {
			flags++
		}
	}
	return flags
}

// num coerces JSON-decoded numbers; anything else counts as zero.
func num(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
