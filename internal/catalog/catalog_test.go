// ABOUTME: Tests for signal catalog loading and validation
// ABOUTME: Covers YAML parsing, duplicate detection, and price lookup

package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Valid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	content := `
signals:
  - type: velocity
    price: 0.10
    currency: USD
    description: "Transaction velocity counters"
    capabilities: [burst-detection]
  - type: geolocation
    price: 0.15
    currency: USD
    description: "Geo and VPN likelihood"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	c, err := Load(path)
	require.NoError(t, err)

	price, err := c.Price("velocity")
	require.NoError(t, err)
	assert.Equal(t, 0.10, price)

	entry, err := c.Get("geolocation")
	require.NoError(t, err)
	assert.Equal(t, "USD", entry.Currency)

	assert.Equal(t, []string{"velocity", "geolocation"}, c.Types())
}

func TestLoad_UnknownType(t *testing.T) {
	c := Default()

	_, err := c.Price("astrology")
	assert.ErrorIs(t, err, ErrUnknownSignalType)
}

func TestNew_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		entries []Entry
	}{
		{"empty", nil},
		{"missing type", []Entry{{Price: 0.1, Currency: "USD"}}},
		{"zero price", []Entry{{Type: "velocity", Price: 0, Currency: "USD"}}},
		{"negative price", []Entry{{Type: "velocity", Price: -1, Currency: "USD"}}},
		{"missing currency", []Entry{{Type: "velocity", Price: 0.1}}},
		{"duplicate", []Entry{
			{Type: "velocity", Price: 0.1, Currency: "USD"},
			{Type: "velocity", Price: 0.2, Currency: "USD"},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.entries)
			assert.Error(t, err)
		})
	}
}

func TestDefault(t *testing.T) {
	c := Default()

	price, err := c.Price("velocity")
	require.NoError(t, err)
	assert.Equal(t, 0.10, price)

	assert.Len(t, c.Types(), 5)
}
