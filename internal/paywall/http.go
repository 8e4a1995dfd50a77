// ABOUTME: HTTP surface for the paywall: GET /signals/{type} and POST /payments
// ABOUTME: Maps service errors to 400/402/500 JSON bodies with payment instructions

package paywall

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/latchline/fraudgate/internal/catalog"
	"github.com/latchline/fraudgate/internal/ledger"
	"github.com/latchline/fraudgate/internal/negotiate"
)

// PaymentInstructions tells a 402 recipient how to pay.
type PaymentInstructions struct {
	Method string         `json:"method"`
	URL    string         `json:"url"`
	Body   map[string]any `json:"body"`
}

// PaymentRequiredResponse is the 402 body.
type PaymentRequiredResponse struct {
	Error        string              `json:"error"`
	Reason       string              `json:"reason,omitempty"`
	Amount       float64             `json:"amount"`
	Currency     string              `json:"currency"`
	SignalType   string              `json:"signalType"`
	Instructions PaymentInstructions `json:"paymentInstructions"`
}

// SignalResponse is the 200 body for a served signal. Cost is the catalog
// list price; ActualCost is what the serving purchase actually charged,
// lower after an accepted negotiation.
type SignalResponse struct {
	Success     bool               `json:"success"`
	Cached      bool               `json:"cached"`
	Degraded    bool               `json:"degraded,omitempty"`
	SignalID    string             `json:"signalId"`
	SignalType  string             `json:"signalType"`
	CaseID      string             `json:"caseId"`
	SubjectID   string             `json:"subjectId"`
	Data        json.RawMessage    `json:"data"`
	Cost        float64            `json:"cost"`
	ActualCost  float64            `json:"actualCost"`
	PurchasedBy string             `json:"purchasedBy,omitempty"`
	PurchasedAt string             `json:"purchasedAt"`
	ExpiresAt   string             `json:"expiresAt"`
	Negotiation *negotiate.Outcome `json:"negotiationOutcome,omitempty"`
}

// CreatePaymentRequest is the POST /payments body.
type CreatePaymentRequest struct {
	Amount     float64 `json:"amount"`
	SignalType string  `json:"signalType"`
	CaseID     string  `json:"caseId"`
	AgentName  string  `json:"agentName"`
}

// CreatePaymentResponse is the 200 body for a created payment.
type CreatePaymentResponse struct {
	PaymentID     string `json:"paymentId"`
	PaymentProof  string `json:"paymentProof"`
	SettlementRef string `json:"settlementReference"`
	NextSteps     string `json:"nextSteps"`
}

// Handler exposes the paywall over HTTP.
type Handler struct {
	service *Service
	ledger  *ledger.Ledger
	logger  *slog.Logger
}

// NewHandler creates the paywall HTTP handler.
func NewHandler(service *Service, led *ledger.Ledger) *Handler {
	return &Handler{
		service: service,
		ledger:  led,
		logger:  slog.Default().With("component", "paywall-http"),
	}
}

// Register mounts the paywall routes on the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /signals/{type}", h.handleGetSignal)
	mux.HandleFunc("POST /payments", h.handleCreatePayment)
}

// handleGetSignal handles GET /signals/{type} requests.
// Without X-Payment-Proof it responds 402 with payment instructions; with a
// valid proof it serves the signal, honoring any negotiation parameters.
func (h *Handler) handleGetSignal(w http.ResponseWriter, r *http.Request) {
	signalType := r.PathValue("type")
	q := r.URL.Query()

	req := AcquireRequest{
		SignalType: signalType,
		SubjectID:  q.Get("subjectId"),
		CaseID:     q.Get("caseId"),
		Proof:      r.Header.Get("X-Payment-Proof"),
		AgentName:  r.Header.Get("X-Agent-Name"),
		Pitch:      q.Get("negotiationPitch"),
	}
	if raw := q.Get("proposedPrice"); raw != "" {
		price, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			h.sendJSONError(w, http.StatusBadRequest, "proposedPrice must be a number")
			return
		}
		req.ProposedPrice = price
	}

	result, err := h.service.Acquire(r.Context(), req)
	if err != nil {
		var paymentErr *PaymentRequiredError
		switch {
		case errors.As(err, &paymentErr):
			h.sendPaymentRequired(w, paymentErr)
		case errors.Is(err, ErrMissingSubjectID), errors.Is(err, ErrMissingCaseID),
			errors.Is(err, catalog.ErrUnknownSignalType):
			h.sendJSONError(w, http.StatusBadRequest, err.Error())
		default:
			h.logger.Error("signal acquisition failed", "signal_type", signalType,
				"case_id", req.CaseID, "error", err)
			h.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	sig := result.Signal
	listPrice := sig.Cost
	if entry, err := h.service.catalog.Get(sig.SignalType); err == nil {
		listPrice = entry.Price
	}
	resp := SignalResponse{
		Success:     true,
		Cached:      result.Cached,
		Degraded:    result.Degraded,
		SignalID:    sig.ID,
		SignalType:  sig.SignalType,
		CaseID:      sig.CaseID,
		SubjectID:   req.SubjectID,
		Data:        json.RawMessage(sig.DataJSON),
		Cost:        listPrice,
		ActualCost:  sig.Cost,
		PurchasedBy: sig.PurchasedBy,
		PurchasedAt: sig.PurchasedAt.Format(time.RFC3339Nano),
		ExpiresAt:   sig.ExpiresAt.Format(time.RFC3339Nano),
		Negotiation: result.Negotiation,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// handleCreatePayment handles POST /payments requests.
func (h *Handler) handleCreatePayment(w http.ResponseWriter, r *http.Request) {
	var body CreatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	payment, err := h.ledger.Create(r.Context(), ledger.CreateRequest{
		Amount:     body.Amount,
		SignalType: body.SignalType,
		CaseID:     body.CaseID,
		AgentName:  body.AgentName,
	})
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, ledger.ErrMissingCaseID),
			errors.Is(err, catalog.ErrUnknownSignalType):
			h.sendJSONError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, ledger.ErrSettlementFailed):
			h.sendJSONError(w, http.StatusInternalServerError, "settlement failed")
		default:
			h.logger.Error("payment creation failed", "signal_type", body.SignalType,
				"case_id", body.CaseID, "error", err)
			h.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	resp := CreatePaymentResponse{
		PaymentID:     payment.ID,
		PaymentProof:  payment.Proof,
		SettlementRef: payment.SettlementRef,
		NextSteps: fmt.Sprintf("retry GET /signals/%s with header X-Payment-Proof: %s",
			payment.SignalType, payment.Proof),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (h *Handler) sendPaymentRequired(w http.ResponseWriter, e *PaymentRequiredError) {
	resp := PaymentRequiredResponse{
		Error:      "payment required",
		Reason:     e.Reason,
		Amount:     e.Amount,
		Currency:   e.Currency,
		SignalType: e.SignalType,
		Instructions: PaymentInstructions{
			Method: http.MethodPost,
			URL:    "/payments",
			Body: map[string]any{
				"amount":     e.Amount,
				"signalType": e.SignalType,
				"caseId":     "<caseId>",
			},
		},
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)
	json.NewEncoder(w).Encode(resp)
}

// sendJSONError writes a JSON error response.
func (h *Handler) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
