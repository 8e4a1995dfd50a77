// ABOUTME: Case API handlers: submit a case, inspect its record, read the verdict
// ABOUTME: Submissions return 202 and the escalation pipeline runs in the background

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/latchline/fraudgate/internal/escalate"
	"github.com/latchline/fraudgate/internal/store"
)

// CreateCaseRequest is the POST /api/cases body.
type CreateCaseRequest struct {
	Amount         float64 `json:"amount"`
	Currency       string  `json:"currency"`
	SubjectID      string  `json:"subjectId"`
	CounterpartyID string  `json:"counterpartyId"`
}

// CaseResponse is the JSON view of a case.
type CaseResponse struct {
	ID             string  `json:"id"`
	SubjectID      string  `json:"subjectId"`
	CounterpartyID string  `json:"counterpartyId"`
	Amount         float64 `json:"amount"`
	Currency       string  `json:"currency"`
	Status         string  `json:"status"`
	Stage          string  `json:"stage"`
	TotalCost      float64 `json:"totalCost"`
	FinalDecision  string  `json:"finalDecision,omitempty"`
	Reasoning      string  `json:"reasoning,omitempty"`
	CreatedAt      string  `json:"createdAt"`
	UpdatedAt      string  `json:"updatedAt"`
}

// StepResponse is the JSON view of one audit step.
type StepResponse struct {
	StepNumber int             `json:"stepNumber"`
	AgentName  string          `json:"agentName"`
	Action     string          `json:"action"`
	Input      json.RawMessage `json:"input"`
	Output     json.RawMessage `json:"output"`
	DurationMS int64           `json:"durationMs"`
	CreatedAt  string          `json:"createdAt"`
}

// DecisionResponse is the JSON view of one agent decision.
type DecisionResponse struct {
	AgentName   string          `json:"agentName"`
	Action      string          `json:"action"`
	Confidence  float64         `json:"confidence"`
	Reasoning   string          `json:"reasoning"`
	RiskFactors json.RawMessage `json:"riskFactors"`
	SignalsUsed json.RawMessage `json:"signalsUsed"`
	IsFinal     bool            `json:"isFinal"`
	CreatedAt   string          `json:"createdAt"`
}

// SignalSummary is the JSON view of a purchased signal.
type SignalSummary struct {
	SignalType  string          `json:"signalType"`
	Data        json.RawMessage `json:"data"`
	Cost        float64         `json:"cost"`
	PurchasedBy string          `json:"purchasedBy"`
	PurchasedAt string          `json:"purchasedAt"`
	ExpiresAt   string          `json:"expiresAt"`
}

// PaymentSummary is the JSON view of a payment audit record.
type PaymentSummary struct {
	PaymentID     string  `json:"paymentId"`
	SignalType    string  `json:"signalType"`
	AgentName     string  `json:"agentName,omitempty"`
	Amount        float64 `json:"amount"`
	SettlementRef string  `json:"settlementReference"`
	CreatedAt     string  `json:"createdAt"`
	RetriedAt     string  `json:"retriedAt,omitempty"`
	CompletedAt   string  `json:"completedAt,omitempty"`
}

// CaseDetailResponse is the full case record for GET /api/cases/{id}.
type CaseDetailResponse struct {
	Case      CaseResponse       `json:"case"`
	Steps     []StepResponse     `json:"steps"`
	Decisions []DecisionResponse `json:"decisions"`
	Signals   []SignalSummary    `json:"signals"`
	Payments  []PaymentSummary   `json:"payments"`
}

// VerdictResponse is the GET /api/cases/{id}/verdict body.
type VerdictResponse struct {
	CaseID      string          `json:"caseId"`
	Decision    string          `json:"decision"`
	Confidence  float64         `json:"confidence"`
	Reasoning   string          `json:"reasoning"`
	RiskFactors json.RawMessage `json:"riskFactors"`
	TotalCost   float64         `json:"totalCost"`
	DecidedAt   string          `json:"decidedAt"`
}

func (g *Gateway) registerCaseRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/cases", g.handleCreateCase)
	mux.HandleFunc("GET /api/cases", g.handleListCases)
	mux.HandleFunc("GET /api/cases/{id}", g.handleGetCase)
	mux.HandleFunc("GET /api/cases/{id}/verdict", g.handleGetVerdict)
}

// handleListCases handles GET /api/cases, newest first. The optional
// limit query parameter defaults to 100.
func (g *Gateway) handleListCases(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			g.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	cases, err := g.store.ListCases(r.Context(), limit)
	if err != nil {
		g.logger.Error("case listing failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]CaseResponse, 0, len(cases))
	for _, c := range cases {
		resp = append(resp, caseResponse(c))
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// handleCreateCase handles POST /api/cases. The case is persisted at
// CREATED and the escalation pipeline runs in the background; the 202
// response carries the case id to poll.
func (g *Gateway) handleCreateCase(w http.ResponseWriter, r *http.Request) {
	var req CreateCaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.SubjectID == "" || req.CounterpartyID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "subjectId and counterpartyId are required")
		return
	}
	if req.Amount <= 0 {
		g.sendJSONError(w, http.StatusBadRequest, "amount must be positive")
		return
	}
	if req.Currency == "" {
		req.Currency = "USD"
	}

	now := time.Now().UTC()
	c := &store.Case{
		ID:             uuid.New().String(),
		SubjectID:      req.SubjectID,
		CounterpartyID: req.CounterpartyID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Status:         store.CaseProcessing,
		Stage:          string(escalate.StageCreated),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := g.store.CreateCase(r.Context(), c); err != nil {
		g.logger.Error("case creation failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.runs.Add(1)
	go func() {
		defer g.runs.Done()
		// Detached from the request: the pipeline outlives the 202
		if err := g.orchestrator.Run(context.Background(), c.ID); err != nil {
			slog.Default().Error("escalation run failed", "case_id", c.ID, "error", err)
		}
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(caseResponse(c))
}

// handleGetCase handles GET /api/cases/{id}: the case with its full audit
// trail of steps, decisions, signals, and payments.
func (g *Gateway) handleGetCase(w http.ResponseWriter, r *http.Request) {
	caseID := r.PathValue("id")
	ctx := r.Context()

	c, err := g.store.GetCase(ctx, caseID)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "case not found")
		return
	}
	if err != nil {
		g.logger.Error("case lookup failed", "case_id", caseID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	steps, err := g.store.ListSteps(ctx, caseID)
	if err != nil {
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	decisions, err := g.store.ListDecisions(ctx, caseID)
	if err != nil {
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	signals, err := g.store.ListSignals(ctx, caseID)
	if err != nil {
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	payments, err := g.store.ListPayments(ctx, caseID)
	if err != nil {
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := CaseDetailResponse{
		Case:      caseResponse(c),
		Steps:     make([]StepResponse, 0, len(steps)),
		Decisions: make([]DecisionResponse, 0, len(decisions)),
		Signals:   make([]SignalSummary, 0, len(signals)),
		Payments:  make([]PaymentSummary, 0, len(payments)),
	}
	for _, s := range steps {
		resp.Steps = append(resp.Steps, StepResponse{
			StepNumber: s.StepNumber,
			AgentName:  s.AgentName,
			Action:     s.Action,
			Input:      rawJSON(s.InputJSON),
			Output:     rawJSON(s.OutputJSON),
			DurationMS: s.DurationMS,
			CreatedAt:  s.CreatedAt.Format(time.RFC3339Nano),
		})
	}
	for _, d := range decisions {
		resp.Decisions = append(resp.Decisions, DecisionResponse{
			AgentName:   d.AgentName,
			Action:      d.Action,
			Confidence:  d.Confidence,
			Reasoning:   d.Reasoning,
			RiskFactors: rawJSON(d.RiskFactorsJSON),
			SignalsUsed: rawJSON(d.SignalsUsedJSON),
			IsFinal:     d.IsFinal,
			CreatedAt:   d.CreatedAt.Format(time.RFC3339Nano),
		})
	}
	for _, s := range signals {
		resp.Signals = append(resp.Signals, SignalSummary{
			SignalType:  s.SignalType,
			Data:        rawJSON(s.DataJSON),
			Cost:        s.Cost,
			PurchasedBy: s.PurchasedBy,
			PurchasedAt: s.PurchasedAt.Format(time.RFC3339Nano),
			ExpiresAt:   s.ExpiresAt.Format(time.RFC3339Nano),
		})
	}
	for _, p := range payments {
		summary := PaymentSummary{
			PaymentID:     p.ID,
			SignalType:    p.SignalType,
			AgentName:     p.AgentName,
			Amount:        p.Amount,
			SettlementRef: p.SettlementRef,
			CreatedAt:     p.CreatedAt.Format(time.RFC3339Nano),
		}
		if p.RetriedAt != nil {
			summary.RetriedAt = p.RetriedAt.Format(time.RFC3339Nano)
		}
		if p.CompletedAt != nil {
			summary.CompletedAt = p.CompletedAt.Format(time.RFC3339Nano)
		}
		resp.Payments = append(resp.Payments, summary)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// handleGetVerdict handles GET /api/cases/{id}/verdict. A case still in
// the pipeline answers 409; a failed case has no verdict and answers 409
// with its failure reasoning.
func (g *Gateway) handleGetVerdict(w http.ResponseWriter, r *http.Request) {
	caseID := r.PathValue("id")
	ctx := r.Context()

	c, err := g.store.GetCase(ctx, caseID)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "case not found")
		return
	}
	if err != nil {
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if c.Status == store.CaseFailed {
		g.sendJSONError(w, http.StatusConflict, "case failed: "+c.Reasoning)
		return
	}
	if c.Status != store.CaseCompleted {
		g.sendJSONError(w, http.StatusConflict, "case still processing")
		return
	}

	final, err := g.store.GetFinalDecision(ctx, caseID)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusConflict, "case completed without a final decision")
		return
	}
	if err != nil {
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := VerdictResponse{
		CaseID:      caseID,
		Decision:    final.Action,
		Confidence:  final.Confidence,
		Reasoning:   final.Reasoning,
		RiskFactors: rawJSON(final.RiskFactorsJSON),
		TotalCost:   c.TotalCost,
		DecidedAt:   final.CreatedAt.Format(time.RFC3339Nano),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func caseResponse(c *store.Case) CaseResponse {
	return CaseResponse{
		ID:             c.ID,
		SubjectID:      c.SubjectID,
		CounterpartyID: c.CounterpartyID,
		Amount:         c.Amount,
		Currency:       c.Currency,
		Status:         string(c.Status),
		Stage:          c.Stage,
		TotalCost:      c.TotalCost,
		FinalDecision:  c.FinalDecision,
		Reasoning:      c.Reasoning,
		CreatedAt:      c.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:      c.UpdatedAt.Format(time.RFC3339Nano),
	}
}

// rawJSON passes stored JSON through without re-encoding; empty columns
// become JSON null.
func rawJSON(s string) json.RawMessage {
	if s == "" {
		return json.RawMessage("null")
	}
	return json.RawMessage(s)
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
