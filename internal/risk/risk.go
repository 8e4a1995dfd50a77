// ABOUTME: Deterministic risk feature generation and anomaly scoring
// ABOUTME: Generator produces per-type signal payloads; Scorer turns features into a verdict-ready score

package risk

import (
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"strings"
)

// Generator produces the risk data payload for a purchased signal.
// It must be deterministic in (signalType, subjectID, caseID) so that
// concurrent purchase losers and cached reads observe identical data.
type Generator func(signalType, subjectID, caseID string) (map[string]any, error)

// Scorer converts assembled features into an anomaly assessment.
type Scorer func(f Features) Assessment

// Features mirrors the feature vector of the trained anomaly model.
type Features struct {
	Amount                float64
	AccountAgeDays        int
	Confidence            float64
	TotalCost             float64
	NewAccount            bool
	InternationalTransfer bool
	UnusualHour           bool
	RiskFlagCount         int
}

// Assessment is the scored view of a transaction.
type Assessment struct {
	AnomalyScore float64 // 0-1, higher = more anomalous
	IsAnomaly    bool    // score above 0.5
	Confidence   float64 // distance from threshold, 0-1
	Explanation  string
	RiskFactors  []string
}

// Generate is the default deterministic Generator.
func Generate(signalType, subjectID, caseID string) (map[string]any, error) {
	rng := rand.New(rand.NewSource(seed(signalType, subjectID, caseID)))

	switch signalType {
	case "velocity":
		return map[string]any{
			"tx_count_1h":   rng.Intn(8),
			"tx_count_24h":  rng.Intn(40),
			"tx_count_7d":   20 + rng.Intn(180),
			"avg_amount_7d": round2(50 + rng.Float64()*2000),
			"burst_score":   round2(rng.Float64()),
		}, nil
	case "geolocation":
		countries := []string{"US", "GB", "DE", "NG", "BR", "VN", "RO"}
		return map[string]any{
			"country":               countries[rng.Intn(len(countries))],
			"vpn_likelihood":        round2(rng.Float64()),
			"distance_from_home_km": round2(rng.Float64() * 9000),
			"high_risk_region":      rng.Float64() > 0.8,
		}, nil
	case "account_history":
		return map[string]any{
			"account_age_days":    rng.Intn(2000),
			"chargeback_count":    rng.Intn(4),
			"prior_flags":         rng.Intn(5),
			"dormant_reactivated": rng.Float64() > 0.85,
		}, nil
	case "device_fingerprint":
		return map[string]any{
			"device_age_days":         rng.Intn(900),
			"emulator_likelihood":     round2(rng.Float64()),
			"fingerprint_reuse_count": rng.Intn(6),
		}, nil
	case "merchant_risk":
		categories := []string{"retail", "travel", "gambling", "crypto", "electronics"}
		return map[string]any{
			"merchant_category": categories[rng.Intn(len(categories))],
			"risk_tier":         1 + rng.Intn(5),
			"dispute_rate":      round2(rng.Float64() * 0.1),
		}, nil
	default:
		return nil, fmt.Errorf("no generator for signal type %q", signalType)
	}
}

// seed derives a stable 64-bit seed from the purchase key.
func seed(signalType, subjectID, caseID string) int64 {
	h := fnv.New64a()
	h.Write([]byte(subjectID))
	h.Write([]byte{0})
	h.Write([]byte(caseID))
	h.Write([]byte{0})
	h.Write([]byte(signalType))
	return int64(h.Sum64())
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Score is the default Scorer. The decision score is a weighted sum of
// normalized features squashed through a sigmoid, with 0.5 as the anomaly
// threshold and confidence measured as distance from that threshold.
func Score(f Features) Assessment {
	decision := 0.0

	// Amount dominates; normalize against a $10k reference.
	decision += math.Min(f.Amount/10000, 1.5) * 1.2
	if f.NewAccount {
		decision += 0.8
	} else if f.AccountAgeDays > 0 {
		decision -= math.Min(float64(f.AccountAgeDays)/1000, 0.6)
	}
	if f.InternationalTransfer {
		decision += 0.6
	}
	if f.UnusualHour {
		decision += 0.4
	}
	decision += float64(f.RiskFlagCount) * 0.35
	decision -= (f.Confidence - 0.5) * 0.5
	decision -= 0.9 // bias toward normal

	score := sigmoid(decision)
	assessment := Assessment{
		AnomalyScore: round4(score),
		IsAnomaly:    score > 0.5,
		Confidence:   round4(math.Abs(score-0.5) * 2),
		RiskFactors:  riskFactors(f),
	}
	assessment.Explanation = explain(assessment)
	return assessment
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

// riskFactors lists the human-readable reasons a transaction looks risky.
func riskFactors(f Features) []string {
	var factors []string
	if f.Amount > 5000 {
		factors = append(factors, fmt.Sprintf("high amount ($%.2f)", f.Amount))
	}
	if f.NewAccount {
		factors = append(factors, "new account")
	}
	if f.InternationalTransfer {
		factors = append(factors, "international transfer")
	}
	if f.UnusualHour {
		factors = append(factors, "unusual hour")
	}
	if f.RiskFlagCount > 2 {
		factors = append(factors, fmt.Sprintf("multiple risk flags (%d)", f.RiskFlagCount))
	}
	return factors
}

func explain(a Assessment) string {
	if a.IsAnomaly {
		if len(a.RiskFactors) > 0 {
			return fmt.Sprintf("Anomaly detected (score: %.2f). Risk factors: %s",
				a.AnomalyScore, strings.Join(a.RiskFactors, ", "))
		}
		return fmt.Sprintf("Anomaly detected (score: %.2f). Transaction pattern deviates significantly from normal behavior.", a.AnomalyScore)
	}
	return fmt.Sprintf("Normal transaction (score: %.2f). No significant anomalies detected.", a.AnomalyScore)
}
