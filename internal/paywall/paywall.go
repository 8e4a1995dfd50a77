// ABOUTME: Paywall gateway orchestrating the 402-pay-retry-200 cycle per signal type
// ABOUTME: Enforces purchase idempotency via insert-detect-conflict-read-winner on the store

package paywall

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/latchline/fraudgate/internal/catalog"
	"github.com/latchline/fraudgate/internal/ledger"
	"github.com/latchline/fraudgate/internal/negotiate"
	"github.com/latchline/fraudgate/internal/risk"
	"github.com/latchline/fraudgate/internal/store"
)

// Validation errors, reported immediately with no side effects.
var (
	ErrMissingSubjectID = errors.New("subjectId is required")
	ErrMissingCaseID    = errors.New("caseId is required")
)

// PaymentRequiredError signals the 402 half of the handshake. Reason is
// empty for a plain quote and set when a supplied proof was rejected.
type PaymentRequiredError struct {
	Amount     float64
	Currency   string
	SignalType string
	Reason     string
}

func (e *PaymentRequiredError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("payment required for %s (%s)", e.SignalType, e.Reason)
	}
	return fmt.Sprintf("payment required for %s", e.SignalType)
}

// AcquireRequest is one read attempt against a paywalled signal endpoint.
type AcquireRequest struct {
	SignalType    string
	SubjectID     string
	CaseID        string
	Proof         string
	AgentName     string
	ProposedPrice float64
	Pitch         string
}

// Result is a served signal. Cached is true when no new payload was
// generated for this call (pre-existing signal or lost purchase race).
// Degraded is true when the payload could not be cached but is returned
// anyway because the caller already paid.
type Result struct {
	Signal      *store.Signal
	Cached      bool
	Degraded    bool
	Negotiation *negotiate.Outcome
}

// Service orchestrates signal purchases over the store, ledger, and
// negotiation evaluator.
type Service struct {
	store      store.Store
	catalog    *catalog.Catalog
	ledger     *ledger.Ledger
	negotiator *negotiate.Evaluator
	generate   risk.Generator
	signalTTL  time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// NewService creates a paywall service.
func NewService(st store.Store, cat *catalog.Catalog, led *ledger.Ledger, neg *negotiate.Evaluator, gen risk.Generator, signalTTL time.Duration) *Service {
	return &Service{
		store:      st,
		catalog:    cat,
		ledger:     led,
		negotiator: neg,
		generate:   gen,
		signalTTL:  signalTTL,
		logger:     slog.Default().With("component", "paywall"),
		now:        time.Now,
	}
}

// Acquire runs the paywall handshake for one signal type.
//
// The sequence is: validate, serve cached, demand payment, verify proof,
// price via negotiation, generate, insert. A concurrent insert loser
// discards its generated payload and serves the winner's record; any other
// cache failure degrades gracefully because the caller already paid.
func (s *Service) Acquire(ctx context.Context, req AcquireRequest) (*Result, error) {
	if req.SubjectID == "" {
		return nil, ErrMissingSubjectID
	}
	if req.CaseID == "" {
		return nil, ErrMissingCaseID
	}

	entry, err := s.catalog.Get(req.SignalType)
	if err != nil {
		return nil, err
	}

	// Cached signal is served to anyone at no new charge
	existing, err := s.store.GetSignal(ctx, req.CaseID, req.SignalType)
	if err == nil {
		s.warnIfStale(ctx, existing)
		return &Result{Signal: existing, Cached: true}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("checking signal cache: %w", err)
	}

	if req.Proof == "" {
		return nil, &PaymentRequiredError{
			Amount:     entry.Price,
			Currency:   entry.Currency,
			SignalType: req.SignalType,
		}
	}

	payment, err := s.ledger.Verify(ctx, req.Proof, req.SignalType)
	if err != nil {
		return nil, &PaymentRequiredError{
			Amount:     entry.Price,
			Currency:   entry.Currency,
			SignalType: req.SignalType,
			Reason:     ledger.Reason(err),
		}
	}

	if err := s.ledger.MarkRetried(ctx, payment.ID); err != nil {
		s.logger.Warn("failed to stamp payment retry", "payment_id", payment.ID, "error", err)
	}

	actualCost := entry.Price
	var outcome *negotiate.Outcome
	if req.ProposedPrice > 0 && req.Pitch != "" {
		outcome = s.negotiator.Evaluate(ctx, req.SignalType, entry.Price, req.ProposedPrice, req.Pitch)
		actualCost = outcome.FinalPrice
		if outcomeJSON, err := json.Marshal(outcome); err == nil {
			if err := s.ledger.AttachNegotiation(ctx, payment.ID, string(outcomeJSON)); err != nil {
				s.logger.Warn("failed to attach negotiation outcome", "payment_id", payment.ID, "error", err)
			}
		}
	}

	// A discounted payment only covers the signal if the negotiation held up
	if payment.Amount+1e-6 < actualCost {
		return nil, &PaymentRequiredError{
			Amount:     actualCost,
			Currency:   entry.Currency,
			SignalType: req.SignalType,
			Reason:     "insufficient payment",
		}
	}

	purchaser := req.AgentName
	if purchaser == "" {
		purchaser = payment.AgentName
	}

	data, err := s.generate(req.SignalType, req.SubjectID, req.CaseID)
	if err != nil {
		return nil, fmt.Errorf("generating signal data: %w", err)
	}
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encoding signal data: %w", err)
	}

	now := s.now().UTC()
	sig := &store.Signal{
		ID:          uuid.New().String(),
		CaseID:      req.CaseID,
		SignalType:  req.SignalType,
		DataJSON:    string(dataJSON),
		Cost:        actualCost,
		PurchasedBy: purchaser,
		PurchasedAt: now,
		ExpiresAt:   now.Add(s.signalTTL),
	}

	insertErr := s.store.InsertSignal(ctx, sig)
	switch {
	case insertErr == nil:
		s.completePayment(ctx, payment.ID)
		return &Result{Signal: sig, Negotiation: outcome}, nil

	case errors.Is(insertErr, store.ErrDuplicateSignal):
		// Lost the purchase race: discard our payload, serve the winner.
		// The losing payment stays recorded for audit.
		winner, err := s.store.GetSignal(ctx, req.CaseID, req.SignalType)
		if err != nil {
			s.logger.Error("lost insert race but winner unreadable", "case_id", req.CaseID,
				"signal_type", req.SignalType, "error", err)
			s.completePayment(ctx, payment.ID)
			return &Result{Signal: sig, Degraded: true, Negotiation: outcome}, nil
		}
		s.logger.Info("purchase race resolved to winner", "case_id", req.CaseID,
			"signal_type", req.SignalType, "winner_id", winner.ID, "losing_payment", payment.ID)
		s.completePayment(ctx, payment.ID)
		return &Result{Signal: winner, Cached: true, Negotiation: outcome}, nil

	default:
		// Caching failed after the caller paid: return the data anyway,
		// flagged as uncached
		s.logger.Error("failed to cache paid signal, serving degraded", "case_id", req.CaseID,
			"signal_type", req.SignalType, "error", insertErr)
		s.completePayment(ctx, payment.ID)
		return &Result{Signal: sig, Degraded: true, Negotiation: outcome}, nil
	}
}

func (s *Service) completePayment(ctx context.Context, paymentID string) {
	if err := s.ledger.MarkCompleted(ctx, paymentID); err != nil {
		s.logger.Warn("failed to stamp payment completion", "payment_id", paymentID, "error", err)
	}
}

// warnIfStale logs when an expired signal is served for a still-active
// case. Expiry never blocks serving: re-charging for the same key would
// break the at-most-one-purchase invariant, and terminal cases keep their
// signals for audit export.
func (s *Service) warnIfStale(ctx context.Context, sig *store.Signal) {
	if !sig.Expired(s.now().UTC()) {
		return
	}
	c, err := s.store.GetCase(ctx, sig.CaseID)
	if err != nil || c.Terminal() {
		return
	}
	s.logger.Warn("serving expired signal for active case",
		"case_id", sig.CaseID, "signal_type", sig.SignalType, "expired_at", sig.ExpiresAt)
}
