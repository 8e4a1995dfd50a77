// ABOUTME: Signal catalog loaded from static YAML configuration
// ABOUTME: Maps signal types to prices, currency, and capability metadata

package catalog

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrUnknownSignalType is returned when a signal type is not in the catalog
var ErrUnknownSignalType = errors.New("unknown signal type")

// Entry describes one purchasable signal type
type Entry struct {
	Type         string   `yaml:"type"`
	Price        float64  `yaml:"price"`
	Currency     string   `yaml:"currency"`
	Description  string   `yaml:"description"`
	Capabilities []string `yaml:"capabilities"`
}

// Catalog is the static price/capability table for paywalled signals
type Catalog struct {
	entries map[string]Entry
	order   []string
}

type catalogFile struct {
	Signals []Entry `yaml:"signals"`
}

// Load reads a signal catalog from a YAML file and validates it.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog file: %w", err)
	}

	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing catalog file: %w", err)
	}

	return New(f.Signals)
}

// New builds a catalog from entries, validating prices and uniqueness.
func New(entries []Entry) (*Catalog, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("catalog has no signal entries")
	}

	c := &Catalog{entries: make(map[string]Entry, len(entries))}
	for _, e := range entries {
		if e.Type == "" {
			return nil, fmt.Errorf("catalog entry missing type")
		}
		if e.Price <= 0 {
			return nil, fmt.Errorf("catalog entry %q has non-positive price %v", e.Type, e.Price)
		}
		if e.Currency == "" {
			return nil, fmt.Errorf("catalog entry %q missing currency", e.Type)
		}
		if _, dup := c.entries[e.Type]; dup {
			return nil, fmt.Errorf("duplicate catalog entry %q", e.Type)
		}
		c.entries[e.Type] = e
		c.order = append(c.order, e.Type)
	}
	return c, nil
}

// Default returns the built-in catalog used when no catalog file is configured.
func Default() *Catalog {
	c, err := New([]Entry{
		{Type: "velocity", Price: 0.10, Currency: "USD",
			Description: "Transaction velocity counters over 1h/24h/7d windows",
			Capabilities: []string{"burst-detection", "rate-windows"}},
		{Type: "geolocation", Price: 0.15, Currency: "USD",
			Description: "IP and device geolocation with VPN likelihood",
			Capabilities: []string{"geo-distance", "vpn-detection"}},
		{Type: "account_history", Price: 0.20, Currency: "USD",
			Description: "Account age, chargebacks, and prior flags",
			Capabilities: []string{"chargeback-history", "account-age"}},
		{Type: "device_fingerprint", Price: 0.25, Currency: "USD",
			Description: "Device fingerprint reuse and emulator likelihood",
			Capabilities: []string{"fingerprint-reuse", "emulator-detection"}},
		{Type: "merchant_risk", Price: 0.30, Currency: "USD",
			Description: "Counterparty merchant risk tier and dispute rate",
			Capabilities: []string{"merchant-tier", "dispute-rate"}},
	})
	if err != nil {
		panic(err) // built-in entries are static
	}
	return c
}

// Get returns the catalog entry for a signal type.
func (c *Catalog) Get(signalType string) (Entry, error) {
	e, ok := c.entries[signalType]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrUnknownSignalType, signalType)
	}
	return e, nil
}

// Price returns the catalog price for a signal type.
func (c *Catalog) Price(signalType string) (float64, error) {
	e, err := c.Get(signalType)
	if err != nil {
		return 0, err
	}
	return e.Price, nil
}

// Types returns all signal types in catalog order.
func (c *Catalog) Types() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}
