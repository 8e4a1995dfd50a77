// ABOUTME: Store interface and data types for fraudgate persistence
// ABOUTME: Defines Case, AgentStep, Signal, Payment, Decision and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateCase is returned when trying to create a case that already exists
var ErrDuplicateCase = errors.New("case already exists")

// ErrDuplicateSignal is returned when a signal already exists for (case, signal type).
// Callers racing on the same key must treat this as "lost the insert" and read the
// winner's record instead of erroring.
var ErrDuplicateSignal = errors.New("signal already exists for case and type")

// ErrDuplicateStep is returned when a step number is reused within a case
var ErrDuplicateStep = errors.New("step number already recorded for case")

// ErrDuplicateDecision is returned when an agent already decided on a case
var ErrDuplicateDecision = errors.New("decision already exists for case and agent")

// ErrDuplicateFinal is returned when a second final decision is attempted for a case
var ErrDuplicateFinal = errors.New("final decision already recorded for case")

// ErrDuplicatePayment is returned when a payment id or proof collides
var ErrDuplicatePayment = errors.New("payment already exists")

// CaseStatus is the coarse lifecycle status of a case
type CaseStatus string

// Case statuses. A case is terminal once COMPLETED or FAILED; no agent writes
// are accepted afterwards.
const (
	CaseProcessing CaseStatus = "PROCESSING"
	CaseCompleted  CaseStatus = "COMPLETED"
	CaseFailed     CaseStatus = "FAILED"
)

// Decision actions
const (
	ActionApprove  = "APPROVE"
	ActionDeny     = "DENY"
	ActionEscalate = "ESCALATE"
)

// Case represents a transaction under fraud review
type Case struct {
	ID             string
	SubjectID      string
	CounterpartyID string
	Amount         float64
	Currency       string
	Status         CaseStatus
	Stage          string // fine-grained escalation stage, owned by the orchestrator
	TotalCost      float64
	FinalDecision  string // APPROVE or DENY once the tribunal rules, empty before
	Reasoning      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Terminal reports whether the case can no longer be mutated by agents.
func (c *Case) Terminal() bool {
	return c.Status == CaseCompleted || c.Status == CaseFailed
}

// AgentStep is one append-only audit record of an agent side effect.
// StepNumber is strictly increasing per case and never reused.
type AgentStep struct {
	ID         string
	CaseID     string
	StepNumber int
	AgentName  string
	Action     string
	InputJSON  string
	OutputJSON string
	DurationMS int64
	CreatedAt  time.Time
}

// Signal is a purchased risk feature bundle, unique per (case, signal type).
// At most one signal per key is ever paid for; expiry is advisory metadata
// and never triggers deletion (audit export reads signals after completion).
type Signal struct {
	ID          string
	CaseID      string
	SignalType  string
	DataJSON    string
	Cost        float64
	PurchasedBy string
	PurchasedAt time.Time
	ExpiresAt   time.Time
}

// Expired reports whether the advisory expiry window has elapsed.
func (s *Signal) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Payment is the settled purchase record behind a proof token.
// Created once; only the retry/completion timestamps and the negotiation
// outcome are appended later, never the amount or proof.
type Payment struct {
	ID              string
	Proof           string
	CaseID          string
	SignalType      string
	AgentName       string
	Amount          float64
	SettlementRef   string
	NegotiationJSON string // empty until a negotiation outcome is attached
	CreatedAt       time.Time
	RetriedAt       *time.Time // gateway retry with proof
	CompletedAt     *time.Time // signal served
}

// Decision is one agent's terminal opinion on a case, unique per (case, agent).
// Exactly one decision per case may carry IsFinal, set by the tribunal arbiter.
type Decision struct {
	ID              string
	CaseID          string
	AgentName       string
	Action          string
	Confidence      float64
	Reasoning       string
	RiskFactorsJSON string
	SignalsUsedJSON string
	IsFinal         bool
	CreatedAt       time.Time
}

// Store defines the persistence interface for fraudgate entities
type Store interface {
	// Cases (mutated only by the orchestrator)
	CreateCase(ctx context.Context, c *Case) error
	GetCase(ctx context.Context, id string) (*Case, error)
	UpdateCase(ctx context.Context, c *Case) error
	ListCases(ctx context.Context, limit int) ([]*Case, error)

	// Agent steps (append-only audit trail)
	AppendStep(ctx context.Context, step *AgentStep) error
	NextStepNumber(ctx context.Context, caseID string) (int, error)
	ListSteps(ctx context.Context, caseID string) ([]*AgentStep, error)

	// Signals (unique per case+type, insert-detect-conflict-read-winner)
	InsertSignal(ctx context.Context, sig *Signal) error
	GetSignal(ctx context.Context, caseID, signalType string) (*Signal, error)
	ListSignals(ctx context.Context, caseID string) ([]*Signal, error)

	// Payments (unique id, indexed proof; amount and proof immutable)
	CreatePayment(ctx context.Context, p *Payment) error
	GetPayment(ctx context.Context, id string) (*Payment, error)
	GetPaymentByProof(ctx context.Context, proof string) (*Payment, error)
	MarkPaymentRetried(ctx context.Context, id string, at time.Time) error
	MarkPaymentCompleted(ctx context.Context, id string, at time.Time) error
	AttachNegotiation(ctx context.Context, id string, outcomeJSON string) error
	ListPayments(ctx context.Context, caseID string) ([]*Payment, error)

	// Decisions (unique per case+agent, at most one final per case)
	InsertDecision(ctx context.Context, d *Decision) error
	ListDecisions(ctx context.Context, caseID string) ([]*Decision, error)
	GetFinalDecision(ctx context.Context, caseID string) (*Decision, error)

	// Close releases any resources held by the store
	Close() error
}
