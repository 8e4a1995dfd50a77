// ABOUTME: Judgement capability interface for qualitative calls the pipeline delegates
// ABOUTME: Covers negotiation pitch evaluation, debate arguments, and arbitration

package judge

import (
	"context"
	"errors"
)

// ErrMalformedOutput is returned when a judgement produces output the
// pipeline cannot act on. Callers must fail closed, never default a verdict.
var ErrMalformedOutput = errors.New("malformed judgement output")

// Role identifies a debate side.
type Role string

// Debate roles
const (
	RoleProsecution Role = "prosecution" // argues DENY
	RoleDefense     Role = "defense"     // argues APPROVE
)

// EvalRequest carries a negotiation pitch and its pricing context.
type EvalRequest struct {
	Pitch         string
	SignalType    string
	CatalogPrice  float64
	ProposedPrice float64
}

// EvalResult is the judgement call on a negotiation pitch.
type EvalResult struct {
	Accepted  bool
	Reasoning string
}

// PriorDecision summarizes an earlier agent opinion for debate context.
type PriorDecision struct {
	AgentName  string
	Action     string
	Confidence float64
	Reasoning  string
}

// CaseContext is the accumulated evidence handed to debate roles.
// Signals maps signal type to its decoded data payload.
type CaseContext struct {
	CaseID         string
	SubjectID      string
	CounterpartyID string
	Amount         float64
	Currency       string
	Signals        map[string]map[string]any
	Decisions      []PriorDecision
}

// Argument is one side's position in the debate.
type Argument struct {
	Role       Role
	Confidence float64
	Reasoning  string
	KeyPoints  []string
	Factors    []string // side-specific risk or mitigating factors
}

// Verdict is the arbiter's resolution of the debate.
type Verdict struct {
	Decision            string // APPROVE or DENY
	Confidence          float64
	Reasoning           string
	DefenseStrength     float64
	ProsecutionStrength float64
	DecidingFactors     []string
}

// Judgement is the injected qualitative reasoning capability.
// Implementations may call out to hosted models; tests and the default
// deployment use the deterministic Heuristic.
type Judgement interface {
	// Evaluate judges a negotiation pitch. Errors must be treated by the
	// caller as a rejection (fail closed to full price).
	Evaluate(ctx context.Context, req EvalRequest) (*EvalResult, error)

	// Argue produces one side's debate argument from the case context.
	Argue(ctx context.Context, role Role, cctx CaseContext) (*Argument, error)

	// Arbitrate weighs both arguments and renders the final verdict.
	Arbitrate(ctx context.Context, cctx CaseContext, prosecution, defense *Argument) (*Verdict, error)
}
