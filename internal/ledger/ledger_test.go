// ABOUTME: Tests for the payment ledger
// ABOUTME: Covers amount validation, fail-closed settlement, and proof verification reasons

package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latchline/fraudgate/internal/catalog"
	"github.com/latchline/fraudgate/internal/store"
)

const testSecret = "test-secret-0123456789abcdef"

// failingExecutor always refuses to settle.
type failingExecutor struct{}

func (failingExecutor) Settle(ctx context.Context, req SettlementRequest) (*SettlementResult, error) {
	return nil, errors.New("card declined")
}

func setupLedger(t *testing.T, executor SettlementExecutor) (*Ledger, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	if executor == nil {
		executor = LocalExecutor{}
	}
	l := New(st, catalog.Default(), executor, []byte(testSecret), time.Hour, 1e-6)
	return l, st
}

func TestCreate_CatalogPrice(t *testing.T) {
	l, st := setupLedger(t, nil)
	ctx := context.Background()

	p, err := l.Create(ctx, CreateRequest{
		Amount: 0.10, SignalType: "velocity", CaseID: "C1", AgentName: "sentinel-l1",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.NotEmpty(t, p.Proof)
	assert.NotEmpty(t, p.SettlementRef)

	// Persisted with full audit metadata
	stored, err := st.GetPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.10, stored.Amount)
	assert.Equal(t, "velocity", stored.SignalType)
	assert.Equal(t, p.Proof, stored.Proof)
}

func TestCreate_InvalidSignalType(t *testing.T) {
	l, _ := setupLedger(t, nil)

	_, err := l.Create(context.Background(), CreateRequest{
		Amount: 0.10, SignalType: "astrology", CaseID: "C1",
	})
	assert.ErrorIs(t, err, catalog.ErrUnknownSignalType)
}

func TestCreate_InvalidAmount(t *testing.T) {
	l, _ := setupLedger(t, nil)
	ctx := context.Background()

	// Far above catalog price
	_, err := l.Create(ctx, CreateRequest{Amount: 1.00, SignalType: "velocity", CaseID: "C1"})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	// Below the negotiable band
	_, err = l.Create(ctx, CreateRequest{Amount: 0.05, SignalType: "velocity", CaseID: "C1"})
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestCreate_NegotiableBandAmountAccepted(t *testing.T) {
	l, _ := setupLedger(t, nil)

	// 30% discount is inside the negotiable band; the gateway decides later
	// whether the pitch justifies it
	p, err := l.Create(context.Background(), CreateRequest{
		Amount: 0.07, SignalType: "velocity", CaseID: "C1",
	})
	require.NoError(t, err)
	assert.Equal(t, 0.07, p.Amount)
}

func TestCreate_RoundingTolerance(t *testing.T) {
	l, _ := setupLedger(t, nil)

	_, err := l.Create(context.Background(), CreateRequest{
		Amount: 0.1000000001, SignalType: "velocity", CaseID: "C1",
	})
	assert.NoError(t, err)
}

func TestCreate_MissingCase(t *testing.T) {
	l, _ := setupLedger(t, nil)

	_, err := l.Create(context.Background(), CreateRequest{Amount: 0.10, SignalType: "velocity"})
	assert.ErrorIs(t, err, ErrMissingCaseID)
}

func TestCreate_SettlementFailureIssuesNoProof(t *testing.T) {
	l, st := setupLedger(t, failingExecutor{})
	ctx := context.Background()

	_, err := l.Create(ctx, CreateRequest{Amount: 0.10, SignalType: "velocity", CaseID: "C1"})
	assert.ErrorIs(t, err, ErrSettlementFailed)

	// Fail closed: nothing was recorded
	payments, err := st.ListPayments(ctx, "C1")
	require.NoError(t, err)
	assert.Empty(t, payments)
}

func TestVerify_Valid(t *testing.T) {
	l, _ := setupLedger(t, nil)
	ctx := context.Background()

	p, err := l.Create(ctx, CreateRequest{Amount: 0.10, SignalType: "velocity", CaseID: "C1"})
	require.NoError(t, err)

	verified, err := l.Verify(ctx, p.Proof, "velocity")
	require.NoError(t, err)
	assert.Equal(t, p.ID, verified.ID)
}

func TestVerify_TypeMismatch(t *testing.T) {
	l, _ := setupLedger(t, nil)
	ctx := context.Background()

	p, err := l.Create(ctx, CreateRequest{Amount: 0.10, SignalType: "velocity", CaseID: "C1"})
	require.NoError(t, err)

	_, err = l.Verify(ctx, p.Proof, "geolocation")
	assert.ErrorIs(t, err, ErrProofTypeMismatch)
	assert.Equal(t, "type mismatch", Reason(err))
}

func TestVerify_Expired(t *testing.T) {
	l, _ := setupLedger(t, nil)
	ctx := context.Background()

	p, err := l.Create(ctx, CreateRequest{Amount: 0.10, SignalType: "velocity", CaseID: "C1"})
	require.NoError(t, err)

	// Advance the ledger clock past the proof TTL
	l.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	_, err = l.Verify(ctx, p.Proof, "velocity")
	assert.ErrorIs(t, err, ErrProofExpired)
	assert.Equal(t, "expired", Reason(err))
}

func TestVerify_GarbageProof(t *testing.T) {
	l, _ := setupLedger(t, nil)

	_, err := l.Verify(context.Background(), "not-a-proof", "velocity")
	assert.ErrorIs(t, err, ErrProofNotFound)
	assert.Equal(t, "not found", Reason(err))
}

func TestVerify_ForeignSignature(t *testing.T) {
	l, _ := setupLedger(t, nil)
	ctx := context.Background()

	p, err := l.Create(ctx, CreateRequest{Amount: 0.10, SignalType: "velocity", CaseID: "C1"})
	require.NoError(t, err)

	other := New(l.store, catalog.Default(), LocalExecutor{}, []byte("another-secret-0123456789"), time.Hour, 1e-6)
	_, err = other.Verify(ctx, p.Proof, "velocity")
	assert.ErrorIs(t, err, ErrProofNotFound)
}

func TestLedger_TimestampAppends(t *testing.T) {
	l, st := setupLedger(t, nil)
	ctx := context.Background()

	p, err := l.Create(ctx, CreateRequest{Amount: 0.10, SignalType: "velocity", CaseID: "C1"})
	require.NoError(t, err)

	require.NoError(t, l.MarkRetried(ctx, p.ID))
	require.NoError(t, l.MarkCompleted(ctx, p.ID))

	stored, err := st.GetPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.RetriedAt)
	assert.NotNil(t, stored.CompletedAt)
}
