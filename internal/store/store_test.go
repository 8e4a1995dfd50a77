// ABOUTME: Tests for the SQLite store implementation
// ABOUTME: Covers case lifecycle, signal uniqueness, payment audit trail, decisions

package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

func testCase(id string) *Case {
	now := time.Now().UTC().Truncate(time.Second)
	return &Case{
		ID:             id,
		SubjectID:      "user-42",
		CounterpartyID: "merchant-7",
		Amount:         1250.00,
		Currency:       "USD",
		Status:         CaseProcessing,
		Stage:          "CREATED",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestStore_CreateCase(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateCase(ctx, testCase("case-1")))

	retrieved, err := store.GetCase(ctx, "case-1")
	require.NoError(t, err)
	assert.Equal(t, "case-1", retrieved.ID)
	assert.Equal(t, CaseProcessing, retrieved.Status)
	assert.Equal(t, "CREATED", retrieved.Stage)
	assert.False(t, retrieved.Terminal())
}

func TestStore_CreateCase_Duplicate(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateCase(ctx, testCase("case-1")))
	err := store.CreateCase(ctx, testCase("case-1"))
	assert.ErrorIs(t, err, ErrDuplicateCase)
}

func TestStore_GetCase_NotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetCase(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_UpdateCase(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	c := testCase("case-1")
	require.NoError(t, store.CreateCase(ctx, c))

	c.Status = CaseCompleted
	c.Stage = "COMPLETED"
	c.FinalDecision = ActionApprove
	c.TotalCost = 0.25
	require.NoError(t, store.UpdateCase(ctx, c))

	retrieved, err := store.GetCase(ctx, "case-1")
	require.NoError(t, err)
	assert.Equal(t, CaseCompleted, retrieved.Status)
	assert.Equal(t, ActionApprove, retrieved.FinalDecision)
	assert.Equal(t, 0.25, retrieved.TotalCost)
	assert.True(t, retrieved.Terminal())
}

func TestStore_UpdateCase_NotFound(t *testing.T) {
	store := setupTestStore(t)

	err := store.UpdateCase(context.Background(), testCase("ghost"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_AppendStep_MonotonicNumbers(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateCase(ctx, testCase("case-1")))

	n, err := store.NextStepNumber(ctx, "case-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	for i := 1; i <= 3; i++ {
		step := &AgentStep{
			ID:         uuid.New().String(),
			CaseID:     "case-1",
			StepNumber: i,
			AgentName:  "sentinel-l1",
			Action:     "analysis",
			CreatedAt:  time.Now().UTC(),
		}
		require.NoError(t, store.AppendStep(ctx, step))
	}

	n, err = store.NextStepNumber(ctx, "case-1")
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	steps, err := store.ListSteps(ctx, "case-1")
	require.NoError(t, err)
	require.Len(t, steps, 3)
	for i, st := range steps {
		assert.Equal(t, i+1, st.StepNumber)
	}
}

func TestStore_AppendStep_DuplicateNumber(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateCase(ctx, testCase("case-1")))

	step := &AgentStep{
		ID:         uuid.New().String(),
		CaseID:     "case-1",
		StepNumber: 1,
		AgentName:  "sentinel-l1",
		Action:     "analysis",
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, store.AppendStep(ctx, step))

	step.ID = uuid.New().String()
	err := store.AppendStep(ctx, step)
	assert.ErrorIs(t, err, ErrDuplicateStep)
}

func testSignal(caseID, signalType string) *Signal {
	now := time.Now().UTC().Truncate(time.Second)
	return &Signal{
		ID:          uuid.New().String(),
		CaseID:      caseID,
		SignalType:  signalType,
		DataJSON:    `{"tx_count_24h": 14}`,
		Cost:        0.10,
		PurchasedBy: "sentinel-l1",
		PurchasedAt: now,
		ExpiresAt:   now.Add(24 * time.Hour),
	}
}

func TestStore_InsertSignal_DuplicateKey(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertSignal(ctx, testSignal("case-1", "velocity")))

	// Same key loses, different type or case wins
	err := store.InsertSignal(ctx, testSignal("case-1", "velocity"))
	assert.ErrorIs(t, err, ErrDuplicateSignal)
	require.NoError(t, store.InsertSignal(ctx, testSignal("case-1", "geolocation")))
	require.NoError(t, store.InsertSignal(ctx, testSignal("case-2", "velocity")))
}

func TestStore_InsertSignal_ConcurrentRace(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	const attempts = 10
	var wg sync.WaitGroup
	results := make([]error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sig := testSignal("case-race", "velocity")
			sig.DataJSON = fmt.Sprintf(`{"attempt": %d}`, i)
			results[i] = store.InsertSignal(ctx, sig)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range results {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, ErrDuplicateSignal)
		}
	}
	assert.Equal(t, 1, winners, "exactly one concurrent insert must win")

	// All readers observe the single winning record
	sig, err := store.GetSignal(ctx, "case-race", "velocity")
	require.NoError(t, err)
	signals, err := store.ListSignals(ctx, "case-race")
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, sig.ID, signals[0].ID)
}

func TestStore_Payment_AuditTrail(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	created := time.Now().UTC().Truncate(time.Second)
	p := &Payment{
		ID:            "pay-1",
		Proof:         "proof-token-1",
		CaseID:        "case-1",
		SignalType:    "velocity",
		AgentName:     "sentinel-l1",
		Amount:        0.10,
		SettlementRef: "settle-abc",
		CreatedAt:     created,
	}
	require.NoError(t, store.CreatePayment(ctx, p))

	retrieved, err := store.GetPaymentByProof(ctx, "proof-token-1")
	require.NoError(t, err)
	assert.Equal(t, "pay-1", retrieved.ID)
	assert.Nil(t, retrieved.RetriedAt)
	assert.Nil(t, retrieved.CompletedAt)

	retried := created.Add(time.Second)
	completed := created.Add(2 * time.Second)
	require.NoError(t, store.MarkPaymentRetried(ctx, "pay-1", retried))
	require.NoError(t, store.MarkPaymentCompleted(ctx, "pay-1", completed))
	require.NoError(t, store.AttachNegotiation(ctx, "pay-1", `{"accepted": false}`))

	retrieved, err = store.GetPayment(ctx, "pay-1")
	require.NoError(t, err)
	require.NotNil(t, retrieved.RetriedAt)
	require.NotNil(t, retrieved.CompletedAt)
	assert.Equal(t, retried, retrieved.RetriedAt.UTC())
	assert.Equal(t, completed, retrieved.CompletedAt.UTC())
	assert.Equal(t, `{"accepted": false}`, retrieved.NegotiationJSON)
	// Amount and proof are untouched by the appends
	assert.Equal(t, 0.10, retrieved.Amount)
	assert.Equal(t, "proof-token-1", retrieved.Proof)
}

func TestStore_Payment_DuplicateProof(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	p := &Payment{
		ID: "pay-1", Proof: "proof-1", CaseID: "case-1", SignalType: "velocity",
		Amount: 0.10, SettlementRef: "s1", CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.CreatePayment(ctx, p))

	p2 := &Payment{
		ID: "pay-2", Proof: "proof-1", CaseID: "case-1", SignalType: "velocity",
		Amount: 0.10, SettlementRef: "s2", CreatedAt: time.Now().UTC(),
	}
	assert.ErrorIs(t, store.CreatePayment(ctx, p2), ErrDuplicatePayment)
}

func testDecision(caseID, agent string, isFinal bool) *Decision {
	return &Decision{
		ID:         uuid.New().String(),
		CaseID:     caseID,
		AgentName:  agent,
		Action:     ActionApprove,
		Confidence: 0.8,
		Reasoning:  "looks ordinary",
		IsFinal:    isFinal,
		CreatedAt:  time.Now().UTC(),
	}
}

func TestStore_InsertDecision_UniquePerAgent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateCase(ctx, testCase("case-1")))
	require.NoError(t, store.InsertDecision(ctx, testDecision("case-1", "sentinel-l1", false)))

	err := store.InsertDecision(ctx, testDecision("case-1", "sentinel-l1", false))
	assert.ErrorIs(t, err, ErrDuplicateDecision)

	// Different agent is fine
	require.NoError(t, store.InsertDecision(ctx, testDecision("case-1", "sentinel-l2", false)))
}

func TestStore_InsertDecision_SingleFinal(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateCase(ctx, testCase("case-1")))
	require.NoError(t, store.InsertDecision(ctx, testDecision("case-1", "arbiter", true)))

	err := store.InsertDecision(ctx, testDecision("case-1", "other-arbiter", true))
	assert.ErrorIs(t, err, ErrDuplicateFinal)

	final, err := store.GetFinalDecision(ctx, "case-1")
	require.NoError(t, err)
	assert.Equal(t, "arbiter", final.AgentName)
	assert.True(t, final.IsFinal)

	decisions, err := store.ListDecisions(ctx, "case-1")
	require.NoError(t, err)
	finals := 0
	for _, d := range decisions {
		if d.IsFinal {
			finals++
		}
	}
	assert.Equal(t, 1, finals)
}

func TestStore_GetFinalDecision_NoneRecorded(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetFinalDecision(context.Background(), "case-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ListCases(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		c := testCase(fmt.Sprintf("case-%d", i))
		require.NoError(t, store.CreateCase(ctx, c))
	}

	cases, err := store.ListCases(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, cases, 3)

	cases, err = store.ListCases(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, cases, 2)
}

func TestStore_Signal_ExpiryAdvisory(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	sig := testSignal("case-1", "velocity")
	sig.ExpiresAt = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, store.InsertSignal(ctx, sig))

	// Expired signals are still readable: expiry never deletes audit data
	retrieved, err := store.GetSignal(ctx, "case-1", "velocity")
	require.NoError(t, err)
	assert.True(t, retrieved.Expired(time.Now().UTC()))
}
