// ABOUTME: Tests for the assembled gateway server
// ABOUTME: Submits cases over HTTP and polls them through to a final verdict

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latchline/fraudgate/internal/config"
)

const testSecret = "test-secret-0123456789abcdef"

func setupGateway(t *testing.T) (*Gateway, *httptest.Server) {
	t.Helper()
	cfg := &config.Config{}
	cfg.Server.HTTPAddr = "127.0.0.1:0"
	cfg.Database.Path = filepath.Join(t.TempDir(), "test.db")
	cfg.Auth.ProofSecret = testSecret
	cfg.Paywall.ProofTTL = time.Hour
	cfg.Paywall.SignalTTL = 24 * time.Hour
	cfg.Paywall.PriceTolerance = 1e-6
	cfg.Escalation.BudgetCeiling = 1.00
	cfg.Escalation.MaxRetries = 2
	cfg.Escalation.RetryBackoff = time.Millisecond
	cfg.Escalation.AgentTimeout = 10 * time.Second

	g, err := New(cfg)
	require.NoError(t, err)

	srv := httptest.NewServer(g.httpServer.Handler)
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		g.Shutdown(ctx)
	})
	return g, srv
}

func submitCase(t *testing.T, srv *httptest.Server, req CreateCaseRequest) CaseResponse {
	t.Helper()
	raw, err := json.Marshal(req)
	require.NoError(t, err)
	resp, err := srv.Client().Post(srv.URL+"/api/cases", "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var created CaseResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	require.NotEmpty(t, created.ID)
	return created
}

// waitForTerminal polls the case until it leaves PROCESSING.
func waitForTerminal(t *testing.T, srv *httptest.Server, caseID string) CaseDetailResponse {
	t.Helper()
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := srv.Client().Get(srv.URL + "/api/cases/" + caseID)
		require.NoError(t, err)
		var detail CaseDetailResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&detail))
		resp.Body.Close()
		if detail.Case.Status != "PROCESSING" {
			return detail
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("case never reached a terminal status")
	return CaseDetailResponse{}
}

func TestGateway_CaseLifecycle(t *testing.T) {
	_, srv := setupGateway(t)

	created := submitCase(t, srv, CreateCaseRequest{
		Amount: 1250, Currency: "USD", SubjectID: "user-123", CounterpartyID: "merchant-9",
	})
	assert.Equal(t, "PROCESSING", created.Status)
	assert.Equal(t, "CREATED", created.Stage)

	detail := waitForTerminal(t, srv, created.ID)
	require.Equal(t, "COMPLETED", detail.Case.Status)
	assert.Equal(t, "COMPLETED", detail.Case.Stage)
	assert.Contains(t, []string{"APPROVE", "DENY"}, detail.Case.FinalDecision)

	// Full audit trail is exposed: a step per signal purchase plus the
	// analyses, debate arguments, and arbitration
	assert.Len(t, detail.Steps, 10)
	assert.Len(t, detail.Decisions, 3)
	assert.Len(t, detail.Signals, 5)
	assert.NotEmpty(t, detail.Payments)
	assert.Greater(t, detail.Case.TotalCost, 0.0)

	// Verdict endpoint agrees with the case record
	resp, err := srv.Client().Get(srv.URL + "/api/cases/" + created.ID + "/verdict")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var verdict VerdictResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&verdict))
	assert.Equal(t, detail.Case.FinalDecision, verdict.Decision)
	assert.NotEmpty(t, verdict.Reasoning)
}

func TestGateway_CaseValidation(t *testing.T) {
	_, srv := setupGateway(t)

	cases := []CreateCaseRequest{
		{Amount: 100, CounterpartyID: "m"},
		{Amount: 100, SubjectID: "s"},
		{SubjectID: "s", CounterpartyID: "m"},
		{Amount: -5, SubjectID: "s", CounterpartyID: "m"},
	}
	for _, tc := range cases {
		raw, err := json.Marshal(tc)
		require.NoError(t, err)
		resp, err := srv.Client().Post(srv.URL+"/api/cases", "application/json", bytes.NewReader(raw))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	}
}

func TestGateway_ListCases(t *testing.T) {
	_, srv := setupGateway(t)

	first := submitCase(t, srv, CreateCaseRequest{
		Amount: 40, Currency: "USD", SubjectID: "user-a", CounterpartyID: "merchant-a",
	})
	second := submitCase(t, srv, CreateCaseRequest{
		Amount: 60, Currency: "USD", SubjectID: "user-b", CounterpartyID: "merchant-b",
	})
	waitForTerminal(t, srv, first.ID)
	waitForTerminal(t, srv, second.ID)

	resp, err := srv.Client().Get(srv.URL + "/api/cases")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var listed []CaseResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listed))
	require.Len(t, listed, 2)

	ids := []string{listed[0].ID, listed[1].ID}
	assert.Contains(t, ids, first.ID)
	assert.Contains(t, ids, second.ID)

	resp, err = srv.Client().Get(srv.URL + "/api/cases?limit=zero")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGateway_UnknownCase(t *testing.T) {
	_, srv := setupGateway(t)

	resp, err := srv.Client().Get(srv.URL + "/api/cases/no-such-case")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = srv.Client().Get(srv.URL + "/api/cases/no-such-case/verdict")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGateway_Health(t *testing.T) {
	_, srv := setupGateway(t)

	resp, err := srv.Client().Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGateway_PaywallRoutesMounted(t *testing.T) {
	_, srv := setupGateway(t)

	resp, err := srv.Client().Get(srv.URL + "/signals/velocity?subjectId=S1&caseId=C1")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
}
