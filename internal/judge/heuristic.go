// ABOUTME: Deterministic Judgement implementation built on signal heuristics
// ABOUTME: Default for deployments without a hosted model and for tests

package judge

import (
	"context"
	"fmt"
	"math"
	"strings"
	"unicode"
)

// Heuristic is a deterministic Judgement. Pitch evaluation rewards
// quantitative, specific asks; debate arguments are assembled from the
// purchased signal payloads and prior decisions.
type Heuristic struct{}

// NewHeuristic returns the default deterministic judgement.
func NewHeuristic() *Heuristic {
	return &Heuristic{}
}

// minPitchLength is the substance floor for a negotiation pitch.
const minPitchLength = 40

// Evaluate accepts a pitch only when it is specific and quantitative:
// at least two numeric tokens and enough substance to assess.
func (h *Heuristic) Evaluate(ctx context.Context, req EvalRequest) (*EvalResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pitch := strings.TrimSpace(req.Pitch)
	if len(pitch) < minPitchLength {
		return &EvalResult{
			Accepted:  false,
			Reasoning: "pitch too thin to justify a discount; state concrete volumes or terms",
		}, nil
	}

	numbers := countNumericTokens(pitch)
	if numbers < 2 {
		return &EvalResult{
			Accepted:  false,
			Reasoning: "pitch is not quantitative; cite expected volume, duration, or spend",
		}, nil
	}

	return &EvalResult{
		Accepted: true,
		Reasoning: fmt.Sprintf("quantitative pitch (%d figures) supports %.0f%% discount on %s",
			numbers, (req.CatalogPrice-req.ProposedPrice)/req.CatalogPrice*100, req.SignalType),
	}, nil
}

// countNumericTokens counts whitespace-separated tokens containing digits.
func countNumericTokens(s string) int {
	count := 0
	for _, tok := range strings.Fields(s) {
		if strings.ContainsFunc(tok, unicode.IsDigit) {
			count++
		}
	}
	return count
}

// Argue builds a side's argument from the case evidence.
func (h *Heuristic) Argue(ctx context.Context, role Role, cctx CaseContext) (*Argument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var points []string
	switch role {
	case RoleProsecution:
		points = prosecutionPoints(cctx)
	case RoleDefense:
		points = defensePoints(cctx)
	default:
		return nil, fmt.Errorf("%w: unknown role %q", ErrMalformedOutput, role)
	}

	confidence := clamp01(0.45 + 0.08*float64(len(points)))
	stance := "the transaction should be denied"
	if role == RoleDefense {
		stance = "the transaction should be approved"
	}

	reasoning := fmt.Sprintf("Based on %d observation(s) from the purchased signals, %s.", len(points), stance)
	if len(points) == 0 {
		reasoning = fmt.Sprintf("No supporting evidence found in the purchased signals; %s only weakly.", stance)
	}

	return &Argument{
		Role:       role,
		Confidence: confidence,
		Reasoning:  reasoning,
		KeyPoints:  points,
		Factors:    points,
	}, nil
}

// prosecutionPoints extracts risk observations arguing for DENY.
func prosecutionPoints(cctx CaseContext) []string {
	var points []string
	if cctx.Amount > 5000 {
		points = append(points, fmt.Sprintf("high transaction amount ($%.2f)", cctx.Amount))
	}
	if v, ok := cctx.Signals["velocity"]; ok {
		if num(v["burst_score"]) > 0.6 {
			points = append(points, fmt.Sprintf("velocity burst score %.2f", num(v["burst_score"])))
		}
		if num(v["tx_count_1h"]) >= 5 {
			points = append(points, fmt.Sprintf("%d transactions in the last hour", int(num(v["tx_count_1h"]))))
		}
	}
	if g, ok := cctx.Signals["geolocation"]; ok {
		if num(g["vpn_likelihood"]) > 0.6 {
			points = append(points, fmt.Sprintf("VPN likelihood %.2f", num(g["vpn_likelihood"])))
		}
		if b, _ := g["high_risk_region"].(bool); b {
			points = append(points, "origin in high-risk region")
		}
		if num(g["distance_from_home_km"]) > 5000 {
			points = append(points, fmt.Sprintf("%.0f km from home location", num(g["distance_from_home_km"])))
		}
	}
	if a, ok := cctx.Signals["account_history"]; ok {
		if num(a["chargeback_count"]) > 0 {
			points = append(points, fmt.Sprintf("%d prior chargeback(s)", int(num(a["chargeback_count"]))))
		}
		if num(a["account_age_days"]) < 30 {
			points = append(points, "account younger than 30 days")
		}
		if num(a["prior_flags"]) > 2 {
			points = append(points, fmt.Sprintf("%d prior risk flags", int(num(a["prior_flags"]))))
		}
	}
	if d, ok := cctx.Signals["device_fingerprint"]; ok {
		if num(d["emulator_likelihood"]) > 0.6 {
			points = append(points, fmt.Sprintf("emulator likelihood %.2f", num(d["emulator_likelihood"])))
		}
		if num(d["fingerprint_reuse_count"]) > 3 {
			points = append(points, fmt.Sprintf("device fingerprint reused %d times", int(num(d["fingerprint_reuse_count"]))))
		}
	}
	if m, ok := cctx.Signals["merchant_risk"]; ok {
		if num(m["risk_tier"]) >= 4 {
			points = append(points, fmt.Sprintf("counterparty in risk tier %d", int(num(m["risk_tier"]))))
		}
		if num(m["dispute_rate"]) > 0.05 {
			points = append(points, fmt.Sprintf("merchant dispute rate %.1f%%", num(m["dispute_rate"])*100))
		}
	}
	for _, d := range cctx.Decisions {
		if d.Action == "DENY" || d.Action == "ESCALATE" {
			points = append(points, fmt.Sprintf("%s flagged the case (%s, confidence %.2f)", d.AgentName, d.Action, d.Confidence))
		}
	}
	return points
}

// defensePoints extracts mitigating observations arguing for APPROVE.
func defensePoints(cctx CaseContext) []string {
	var points []string
	if cctx.Amount <= 1000 {
		points = append(points, fmt.Sprintf("modest transaction amount ($%.2f)", cctx.Amount))
	}
	if v, ok := cctx.Signals["velocity"]; ok {
		if num(v["burst_score"]) <= 0.3 {
			points = append(points, "no velocity burst observed")
		}
	}
	if g, ok := cctx.Signals["geolocation"]; ok {
		if num(g["vpn_likelihood"]) <= 0.3 {
			points = append(points, "low VPN likelihood")
		}
		if num(g["distance_from_home_km"]) < 500 {
			points = append(points, "transaction near home location")
		}
	}
	if a, ok := cctx.Signals["account_history"]; ok {
		if num(a["account_age_days"]) >= 365 {
			points = append(points, fmt.Sprintf("tenured account (%d days)", int(num(a["account_age_days"]))))
		}
		if num(a["chargeback_count"]) == 0 {
			points = append(points, "no prior chargebacks")
		}
	}
	if d, ok := cctx.Signals["device_fingerprint"]; ok {
		if num(d["emulator_likelihood"]) <= 0.3 && num(d["device_age_days"]) >= 180 {
			points = append(points, "established physical device")
		}
	}
	if m, ok := cctx.Signals["merchant_risk"]; ok {
		if num(m["risk_tier"]) <= 2 {
			points = append(points, "reputable counterparty merchant")
		}
	}
	for _, d := range cctx.Decisions {
		if d.Action == "APPROVE" {
			points = append(points, fmt.Sprintf("%s approved the case (confidence %.2f)", d.AgentName, d.Confidence))
		}
	}
	return points
}

// Arbitrate weighs both arguments and rules. Ties break toward DENY:
// unresolved doubt on an escalated case is not an approval.
func (h *Heuristic) Arbitrate(ctx context.Context, cctx CaseContext, prosecution, defense *Argument) (*Verdict, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if prosecution == nil || defense == nil {
		return nil, fmt.Errorf("%w: missing argument", ErrMalformedOutput)
	}

	prosStrength := clamp01(prosecution.Confidence + 0.02*float64(len(prosecution.KeyPoints)))
	defStrength := clamp01(defense.Confidence + 0.02*float64(len(defense.KeyPoints)))

	decision := "APPROVE"
	winner := defense
	if prosStrength >= defStrength {
		decision = "DENY"
		winner = prosecution
	}

	margin := math.Abs(prosStrength - defStrength)
	verdict := &Verdict{
		Decision:            decision,
		Confidence:          clamp01(0.5 + margin),
		DefenseStrength:     defStrength,
		ProsecutionStrength: prosStrength,
		DecidingFactors:     winner.KeyPoints,
		Reasoning: fmt.Sprintf("Prosecution strength %.2f vs defense strength %.2f; ruling %s on %d deciding factor(s).",
			prosStrength, defStrength, decision, len(winner.KeyPoints)),
	}
	return verdict, nil
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func num(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}
