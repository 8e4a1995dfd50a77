// ABOUTME: SignalClient abstraction analysts use to buy paywalled signals
// ABOUTME: LocalClient walks the full 402-pay-retry cycle against the in-process paywall

package escalate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/latchline/fraudgate/internal/catalog"
	"github.com/latchline/fraudgate/internal/ledger"
	"github.com/latchline/fraudgate/internal/paywall"
)

// SignalResult is a fetched signal with what this call actually paid.
// Cost is zero for cache hits.
type SignalResult struct {
	SignalID string
	Data     map[string]any
	Cost     float64
	Cached   bool
}

// SignalClient is how analysts read paywalled signals. Quote returns the
// catalog price so budget authorization can happen before any purchase.
type SignalClient interface {
	Quote(signalType string) (float64, error)
	Fetch(ctx context.Context, signalType, subjectID, caseID, agentName string) (*SignalResult, error)
}

// FetchError is a failed fetch where money already moved. Settled is the
// amount charged before the failure; it stays counted against the case
// budget even though no signal came back.
type FetchError struct {
	Settled float64
	Err     error
}

func (e *FetchError) Error() string { return e.Err.Error() }

func (e *FetchError) Unwrap() error { return e.Err }

// LocalClient is the in-process SignalClient. It speaks to the paywall
// service exactly like an external buyer: an unproofed read, then on 402 a
// ledger payment at the quoted amount, then a proofed retry.
type LocalClient struct {
	service *paywall.Service
	ledger  *ledger.Ledger
	catalog *catalog.Catalog
}

// NewLocalClient creates the in-process signal client.
func NewLocalClient(service *paywall.Service, led *ledger.Ledger, cat *catalog.Catalog) *LocalClient {
	return &LocalClient{service: service, ledger: led, catalog: cat}
}

// Quote implements SignalClient.
func (c *LocalClient) Quote(signalType string) (float64, error) {
	return c.catalog.Price(signalType)
}

// Fetch implements SignalClient.
func (c *LocalClient) Fetch(ctx context.Context, signalType, subjectID, caseID, agentName string) (*SignalResult, error) {
	req := paywall.AcquireRequest{
		SignalType: signalType,
		SubjectID:  subjectID,
		CaseID:     caseID,
		AgentName:  agentName,
	}

	result, err := c.service.Acquire(ctx, req)
	if err == nil {
		// Cache hit, nothing was paid
		return decodeResult(result, 0)
	}

	var paymentErr *paywall.PaymentRequiredError
	if !errors.As(err, &paymentErr) {
		return nil, err
	}

	payment, err := c.ledger.Create(ctx, ledger.CreateRequest{
		Amount:     paymentErr.Amount,
		SignalType: signalType,
		CaseID:     caseID,
		AgentName:  agentName,
	})
	if err != nil {
		return nil, fmt.Errorf("paying for %s signal: %w", signalType, err)
	}

	// From here on the payment has settled; failures must report the
	// charge so callers keep it against their budget.
	req.Proof = payment.Proof
	result, err = c.service.Acquire(ctx, req)
	if err != nil {
		return nil, &FetchError{Settled: payment.Amount,
			Err: fmt.Errorf("retrying %s signal with proof: %w", signalType, err)}
	}
	res, err := decodeResult(result, payment.Amount)
	if err != nil {
		return nil, &FetchError{Settled: payment.Amount, Err: err}
	}
	return res, nil
}

func decodeResult(result *paywall.Result, paid float64) (*SignalResult, error) {
	var data map[string]any
	if err := json.Unmarshal([]byte(result.Signal.DataJSON), &data); err != nil {
		return nil, fmt.Errorf("decoding signal data: %w", err)
	}
	return &SignalResult{
		SignalID: result.Signal.ID,
		Data:     data,
		Cost:     paid,
		Cached:   result.Cached && paid == 0,
	}, nil
}
