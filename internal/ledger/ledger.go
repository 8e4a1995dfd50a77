// ABOUTME: Payment ledger creating settled payments and issuing proof tokens
// ABOUTME: Proofs are HS256 JWTs verified against the payment record with distinct failure reasons

package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/latchline/fraudgate/internal/catalog"
	"github.com/latchline/fraudgate/internal/negotiate"
	"github.com/latchline/fraudgate/internal/store"
)

// Validation and settlement errors
var (
	ErrInvalidAmount    = errors.New("amount does not match catalog price")
	ErrMissingCaseID    = errors.New("caseId is required")
	ErrSettlementFailed = errors.New("settlement failed")
)

// Proof verification errors. Each maps to a distinct user-facing reason.
var (
	ErrProofNotFound     = errors.New("payment proof not found")
	ErrProofTypeMismatch = errors.New("payment proof signal type mismatch")
	ErrProofExpired      = errors.New("payment proof expired")
)

// Reason returns the user-facing reason string for a verification error.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrProofNotFound):
		return "not found"
	case errors.Is(err, ErrProofTypeMismatch):
		return "type mismatch"
	case errors.Is(err, ErrProofExpired):
		return "expired"
	default:
		return "invalid"
	}
}

// SettlementRequest describes a funds transfer handed to the executor.
type SettlementRequest struct {
	Amount     float64
	Currency   string
	SignalType string
	CaseID     string
	AgentName  string
}

// SettlementResult carries the external settlement reference.
type SettlementResult struct {
	Reference string
}

// SettlementExecutor is the injected external funds-transfer capability.
// The ledger never issues a proof unless Settle reports success.
type SettlementExecutor interface {
	Settle(ctx context.Context, req SettlementRequest) (*SettlementResult, error)
}

// LocalExecutor settles instantly with a generated reference. Used in
// development and tests; production injects a real payment rail.
type LocalExecutor struct{}

// Settle implements SettlementExecutor.
func (LocalExecutor) Settle(ctx context.Context, req SettlementRequest) (*SettlementResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &SettlementResult{Reference: "local-" + uuid.New().String()}, nil
}

// CreateRequest is a payment creation request.
type CreateRequest struct {
	Amount     float64
	SignalType string
	CaseID     string
	AgentName  string
}

// Ledger creates payments and verifies proofs.
type Ledger struct {
	store     store.Store
	catalog   *catalog.Catalog
	executor  SettlementExecutor
	secret    []byte
	proofTTL  time.Duration
	tolerance float64
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a payment ledger.
func New(st store.Store, cat *catalog.Catalog, executor SettlementExecutor, secret []byte, proofTTL time.Duration, tolerance float64) *Ledger {
	return &Ledger{
		store:     st,
		catalog:   cat,
		executor:  executor,
		secret:    secret,
		proofTTL:  proofTTL,
		tolerance: tolerance,
		logger:    slog.Default().With("component", "ledger"),
		now:       time.Now,
	}
}

// Create validates the request against the catalog, settles funds through
// the executor, and persists the payment with a fresh proof token. It fails
// closed: no proof exists unless settlement succeeded and the record was
// written.
func (l *Ledger) Create(ctx context.Context, req CreateRequest) (*store.Payment, error) {
	if req.CaseID == "" {
		return nil, ErrMissingCaseID
	}

	entry, err := l.catalog.Get(req.SignalType)
	if err != nil {
		return nil, err
	}

	if !l.amountAcceptable(req.Amount, entry.Price) {
		return nil, fmt.Errorf("%w: got %.4f, catalog price %.4f", ErrInvalidAmount, req.Amount, entry.Price)
	}

	settlement, err := l.executor.Settle(ctx, SettlementRequest{
		Amount:     req.Amount,
		Currency:   entry.Currency,
		SignalType: req.SignalType,
		CaseID:     req.CaseID,
		AgentName:  req.AgentName,
	})
	if err != nil {
		l.logger.Error("settlement failed", "signal_type", req.SignalType, "case_id", req.CaseID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrSettlementFailed, err)
	}

	now := l.now().UTC()
	paymentID := uuid.New().String()
	proof, err := l.signProof(paymentID, req.SignalType, now)
	if err != nil {
		return nil, fmt.Errorf("signing proof: %w", err)
	}

	payment := &store.Payment{
		ID:            paymentID,
		Proof:         proof,
		CaseID:        req.CaseID,
		SignalType:    req.SignalType,
		AgentName:     req.AgentName,
		Amount:        req.Amount,
		SettlementRef: settlement.Reference,
		CreatedAt:     now,
	}
	if err := l.store.CreatePayment(ctx, payment); err != nil {
		// Settlement went through but the proof is unusable: Verify reads
		// the payment row and will report "not found".
		return nil, fmt.Errorf("persisting payment after settlement %s: %w", settlement.Reference, err)
	}

	l.logger.Info("payment created",
		"payment_id", paymentID, "signal_type", req.SignalType,
		"case_id", req.CaseID, "amount", req.Amount, "settlement_ref", settlement.Reference)
	return payment, nil
}

// amountAcceptable accepts the catalog price (within rounding tolerance)
// or a price inside the negotiable discount band. Whether a discounted
// payment actually covers the signal is decided by the gateway when it
// evaluates the pitch against the proofed request.
func (l *Ledger) amountAcceptable(amount, price float64) bool {
	if math.Abs(amount-price) <= l.tolerance {
		return true
	}
	lower := price * (1 - negotiate.MaxDiscount)
	upper := price * (1 - negotiate.MinDiscount)
	return amount >= lower-l.tolerance && amount <= upper+l.tolerance
}

// proof claim names
const (
	claimPaymentID  = "sub"
	claimSignalType = "sig"
)

func (l *Ledger) signProof(paymentID, signalType string, now time.Time) (string, error) {
	claims := jwt.MapClaims{
		claimPaymentID:  paymentID,
		claimSignalType: signalType,
		"iat":           now.Unix(),
		"exp":           now.Add(l.proofTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(l.secret)
}

// Verify checks that a proof exists, matches the expected signal type, and
// is within its validity window. Violations return distinct errors that
// Reason() maps to user-facing strings.
func (l *Ledger) Verify(ctx context.Context, proof, expectedSignalType string) (*store.Payment, error) {
	token, err := jwt.Parse(proof, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return l.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return l.now() }))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrProofExpired
		}
		// Garbage or foreign tokens do not name a payment we know
		return nil, fmt.Errorf("%w: %v", ErrProofNotFound, err)
	}
	if !token.Valid {
		return nil, ErrProofNotFound
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrProofNotFound
	}
	paymentID, _ := claims[claimPaymentID].(string)
	signalType, _ := claims[claimSignalType].(string)
	if paymentID == "" {
		return nil, ErrProofNotFound
	}
	if signalType != expectedSignalType {
		return nil, fmt.Errorf("%w: proof covers %q", ErrProofTypeMismatch, signalType)
	}

	payment, err := l.store.GetPayment(ctx, paymentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrProofNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading payment: %w", err)
	}
	if payment.SignalType != expectedSignalType {
		return nil, fmt.Errorf("%w: payment covers %q", ErrProofTypeMismatch, payment.SignalType)
	}
	return payment, nil
}

// AttachNegotiation records a negotiation outcome on the payment for audit.
func (l *Ledger) AttachNegotiation(ctx context.Context, paymentID, outcomeJSON string) error {
	return l.store.AttachNegotiation(ctx, paymentID, outcomeJSON)
}

// MarkRetried appends the retry-with-proof timestamp.
func (l *Ledger) MarkRetried(ctx context.Context, paymentID string) error {
	return l.store.MarkPaymentRetried(ctx, paymentID, l.now().UTC())
}

// MarkCompleted appends the success-response timestamp.
func (l *Ledger) MarkCompleted(ctx context.Context, paymentID string) error {
	return l.store.MarkPaymentCompleted(ctx, paymentID, l.now().UTC())
}
