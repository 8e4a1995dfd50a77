// ABOUTME: Tests for risk feature generation and anomaly scoring
// ABOUTME: Covers determinism, per-type payload shape, and score behavior

package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate_Deterministic(t *testing.T) {
	a, err := Generate("velocity", "user-42", "case-1")
	require.NoError(t, err)
	b, err := Generate("velocity", "user-42", "case-1")
	require.NoError(t, err)
	assert.Equal(t, a, b, "identical inputs must yield identical payloads")

	c, err := Generate("velocity", "user-42", "case-2")
	require.NoError(t, err)
	assert.NotEqual(t, a, c, "different cases should yield different payloads")
}

func TestGenerate_AllCatalogTypes(t *testing.T) {
	types := []string{"velocity", "geolocation", "account_history", "device_fingerprint", "merchant_risk"}
	for _, typ := range types {
		t.Run(typ, func(t *testing.T) {
			data, err := Generate(typ, "user-42", "case-1")
			require.NoError(t, err)
			assert.NotEmpty(t, data)
		})
	}
}

func TestGenerate_UnknownType(t *testing.T) {
	_, err := Generate("astrology", "user-42", "case-1")
	assert.Error(t, err)
}

func TestScore_LowRisk(t *testing.T) {
	a := Score(Features{
		Amount:         45.00,
		AccountAgeDays: 1200,
		Confidence:     0.9,
	})

	assert.False(t, a.IsAnomaly)
	assert.Less(t, a.AnomalyScore, 0.5)
	assert.Empty(t, a.RiskFactors)
	assert.Contains(t, a.Explanation, "Normal transaction")
}

func TestScore_HighRisk(t *testing.T) {
	a := Score(Features{
		Amount:                9500.00,
		NewAccount:            true,
		InternationalTransfer: true,
		UnusualHour:           true,
		RiskFlagCount:         4,
	})

	assert.True(t, a.IsAnomaly)
	assert.Greater(t, a.AnomalyScore, 0.5)
	assert.Contains(t, a.RiskFactors, "new account")
	assert.Contains(t, a.RiskFactors, "international transfer")
	assert.Contains(t, a.RiskFactors, "unusual hour")
	assert.Contains(t, a.RiskFactors, "multiple risk flags (4)")
	assert.Contains(t, a.Explanation, "Anomaly detected")
}

func TestScore_BoundsAndConfidence(t *testing.T) {
	cases := []Features{
		{},
		{Amount: 100000, RiskFlagCount: 10, NewAccount: true},
		{Amount: 1, AccountAgeDays: 5000, Confidence: 1},
	}
	for _, f := range cases {
		a := Score(f)
		assert.GreaterOrEqual(t, a.AnomalyScore, 0.0)
		assert.LessOrEqual(t, a.AnomalyScore, 1.0)
		assert.GreaterOrEqual(t, a.Confidence, 0.0)
		assert.LessOrEqual(t, a.Confidence, 1.0)
		assert.Equal(t, a.IsAnomaly, a.AnomalyScore > 0.5)
	}
}
