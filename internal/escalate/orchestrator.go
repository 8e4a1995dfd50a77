// ABOUTME: Escalation orchestrator driving a case through analyst tiers to the tribunal
// ABOUTME: Records one AgentStep per side effect and fails the case on exhausted retries

package escalate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/latchline/fraudgate/internal/judge"
	"github.com/latchline/fraudgate/internal/store"
)

// ArbiterName is the agent name recorded on the final decision.
const ArbiterName = "tribunal-arbiter"

// Deliberator resolves a fully-escalated case into a final verdict.
// It returns the verdict plus both debate arguments for the audit trail.
type Deliberator interface {
	Deliberate(ctx context.Context, cctx judge.CaseContext) (*judge.Verdict, []*judge.Argument, error)
}

// Options tunes the orchestrator.
type Options struct {
	BudgetCeiling float64
	MaxRetries    int
	RetryBackoff  time.Duration
	AgentTimeout  time.Duration
}

func (o *Options) applyDefaults() {
	if o.BudgetCeiling <= 0 {
		o.BudgetCeiling = 1.00
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 500 * time.Millisecond
	}
	if o.AgentTimeout <= 0 {
		o.AgentTimeout = 30 * time.Second
	}
}

// Orchestrator runs the escalation pipeline for one case at a time.
type Orchestrator struct {
	store    store.Store
	analysts []Analyst
	tribunal Deliberator
	opts     Options
	logger   *slog.Logger
}

// NewOrchestrator creates an orchestrator over the given analyst tiers.
// Analysts run in slice order; every case ends at the tribunal.
func NewOrchestrator(st store.Store, analysts []Analyst, trib Deliberator, opts Options) *Orchestrator {
	opts.applyDefaults()
	return &Orchestrator{
		store:    st,
		analysts: analysts,
		tribunal: trib,
		opts:     opts,
		logger:   slog.Default().With("component", "escalate"),
	}
}

type tierStages struct {
	analyzing, approved, escalated Stage
}

var tierPlan = []tierStages{
	{StageL1Analyzing, StageL1Approved, StageL1Escalated},
	{StageL2Analyzing, StageL2Approved, StageL2Escalated},
}

// Run drives the case from CREATED to a terminal stage. Any pipeline
// error, including context cancellation and exhausted retries, marks the
// case FAILED with the cause captured in its reasoning.
func (o *Orchestrator) Run(ctx context.Context, caseID string) error {
	c, err := o.store.GetCase(ctx, caseID)
	if err != nil {
		return fmt.Errorf("loading case: %w", err)
	}
	if c.Terminal() {
		return fmt.Errorf("case %s is already %s", caseID, c.Status)
	}
	if Stage(c.Stage) != StageCreated {
		return fmt.Errorf("case %s is mid-pipeline at %s", caseID, c.Stage)
	}

	budget := NewBudget(o.opts.BudgetCeiling)
	ev := NewEvidence()
	var priors []judge.PriorDecision

	for i, analyst := range o.analysts {
		if i >= len(tierPlan) {
			break
		}
		plan := tierPlan[i]
		if err := o.advance(ctx, c, plan.analyzing); err != nil {
			return o.fail(ctx, c, err)
		}

		start := time.Now()
		purchasedBefore := len(ev.Purchases)
		var opinion *Opinion
		err := o.withRetries(ctx, func(actx context.Context) error {
			var aerr error
			opinion, aerr = analyst.Analyze(actx, c, ev, budget)
			return aerr
		})
		if err != nil {
			return o.fail(ctx, c, fmt.Errorf("%s analysis: %w", analyst.Name(), err))
		}
		c.TotalCost = budget.Spent()

		// One step per purchase, then one for the analysis itself
		for _, p := range ev.Purchases[purchasedBefore:] {
			pin := map[string]any{"caseId": c.ID, "signalType": p.SignalType}
			pout := map[string]any{"signalType": p.SignalType, "cost": p.Cost, "cached": p.Cached}
			if err := o.recordStep(ctx, c.ID, p.AgentName, "PURCHASE_SIGNAL", pin, pout, p.Duration); err != nil {
				return o.fail(ctx, c, err)
			}
		}
		input := map[string]any{"caseId": c.ID, "amount": c.Amount, "evidence": ev.Types()}
		if err := o.recordStep(ctx, c.ID, analyst.Name(), "ANALYZE", input, opinion, time.Since(start)); err != nil {
			return o.fail(ctx, c, err)
		}
		if err := o.recordDecision(ctx, c.ID, analyst.Name(), opinion.Action, opinion.Confidence,
			opinion.Reasoning, opinion.RiskFactors, opinion.SignalsUsed, false); err != nil {
			return o.fail(ctx, c, err)
		}
		priors = append(priors, judge.PriorDecision{
			AgentName:  analyst.Name(),
			Action:     opinion.Action,
			Confidence: opinion.Confidence,
			Reasoning:  opinion.Reasoning,
		})

		next := plan.approved
		if opinion.Action == store.ActionDeny {
			next = plan.escalated
		}
		if err := o.advance(ctx, c, next); err != nil {
			return o.fail(ctx, c, err)
		}
	}

	if err := o.advance(ctx, c, StageDebate); err != nil {
		return o.fail(ctx, c, err)
	}

	cctx := judge.CaseContext{
		CaseID:         c.ID,
		SubjectID:      c.SubjectID,
		CounterpartyID: c.CounterpartyID,
		Amount:         c.Amount,
		Currency:       c.Currency,
		Signals:        ev.Signals,
		Decisions:      priors,
	}

	start := time.Now()
	var verdict *judge.Verdict
	var arguments []*judge.Argument
	err = o.withRetries(ctx, func(actx context.Context) error {
		var derr error
		verdict, arguments, derr = o.tribunal.Deliberate(actx, cctx)
		return derr
	})
	if err != nil {
		return o.fail(ctx, c, fmt.Errorf("tribunal deliberation: %w", err))
	}
	elapsed := time.Since(start)

	debateInput := map[string]any{"caseId": c.ID, "evidence": ev.Types(), "priorDecisions": len(priors)}
	for _, arg := range arguments {
		agent := "tribunal-" + string(arg.Role)
		if err := o.recordStep(ctx, c.ID, agent, "ARGUE", debateInput, arg, elapsed); err != nil {
			return o.fail(ctx, c, err)
		}
	}
	if err := o.recordStep(ctx, c.ID, ArbiterName, "ARBITRATE", debateInput, verdict, elapsed); err != nil {
		return o.fail(ctx, c, err)
	}
	if err := o.recordDecision(ctx, c.ID, ArbiterName, verdict.Decision, verdict.Confidence,
		verdict.Reasoning, verdict.DecidingFactors, ev.Types(), true); err != nil {
		return o.fail(ctx, c, fmt.Errorf("persisting final decision: %w", err))
	}

	if err := o.advance(ctx, c, StageFinalDecision); err != nil {
		return o.fail(ctx, c, err)
	}

	c.FinalDecision = verdict.Decision
	c.Reasoning = verdict.Reasoning
	c.TotalCost = budget.Spent()
	c.Status = store.CaseCompleted
	if err := o.advance(ctx, c, StageCompleted); err != nil {
		return o.fail(ctx, c, err)
	}

	o.logger.Info("case completed", "case_id", c.ID, "decision", verdict.Decision,
		"confidence", verdict.Confidence, "total_cost", c.TotalCost)
	return nil
}

// advance moves the case to the next stage through the transition table
// and persists it.
func (o *Orchestrator) advance(ctx context.Context, c *store.Case, to Stage) error {
	from := Stage(c.Stage)
	if !canTransition(from, to) {
		return &ErrInvalidTransition{From: from, To: to}
	}
	c.Stage = string(to)
	if err := o.store.UpdateCase(ctx, c); err != nil {
		return fmt.Errorf("persisting stage %s: %w", to, err)
	}
	o.logger.Debug("stage advanced", "case_id", c.ID, "from", from, "to", to)
	return nil
}

// fail marks the case FAILED with the cause and returns it.
func (o *Orchestrator) fail(ctx context.Context, c *store.Case, cause error) error {
	c.Status = store.CaseFailed
	c.Stage = string(StageFailed)
	c.Reasoning = cause.Error()
	if err := o.store.UpdateCase(ctx, c); err != nil {
		o.logger.Error("failed to mark case failed", "case_id", c.ID, "error", err)
	}
	o.logger.Error("case failed", "case_id", c.ID, "error", cause)
	return cause
}

// withRetries runs fn up to MaxRetries times with linear backoff and a
// per-attempt timeout. Malformed judgement output is not retried: the
// pipeline must fail rather than guess.
func (o *Orchestrator) withRetries(ctx context.Context, fn func(context.Context) error) error {
	var last error
	for attempt := 1; attempt <= o.opts.MaxRetries; attempt++ {
		actx, cancel := context.WithTimeout(ctx, o.opts.AgentTimeout)
		err := fn(actx)
		cancel()
		if err == nil {
			return nil
		}
		if errors.Is(err, judge.ErrMalformedOutput) {
			return err
		}
		last = err
		o.logger.Warn("agent attempt failed", "attempt", attempt, "max", o.opts.MaxRetries, "error", err)

		if attempt < o.opts.MaxRetries {
			select {
			case <-time.After(o.opts.RetryBackoff * time.Duration(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("after %d attempts: %w", o.opts.MaxRetries, last)
}

func (o *Orchestrator) recordStep(ctx context.Context, caseID, agentName, action string, input, output any, elapsed time.Duration) error {
	stepNumber, err := o.store.NextStepNumber(ctx, caseID)
	if err != nil {
		return fmt.Errorf("allocating step number: %w", err)
	}
	inputJSON, _ := json.Marshal(input)
	outputJSON, _ := json.Marshal(output)
	step := &store.AgentStep{
		ID:         uuid.New().String(),
		CaseID:     caseID,
		StepNumber: stepNumber,
		AgentName:  agentName,
		Action:     action,
		InputJSON:  string(inputJSON),
		OutputJSON: string(outputJSON),
		DurationMS: elapsed.Milliseconds(),
		CreatedAt:  time.Now().UTC(),
	}
	if err := o.store.AppendStep(ctx, step); err != nil {
		return fmt.Errorf("recording %s step: %w", action, err)
	}
	return nil
}

func (o *Orchestrator) recordDecision(ctx context.Context, caseID, agentName, action string, confidence float64, reasoning string, riskFactors, signalsUsed []string, isFinal bool) error {
	factorsJSON, _ := json.Marshal(riskFactors)
	signalsJSON, _ := json.Marshal(signalsUsed)
	return o.store.InsertDecision(ctx, &store.Decision{
		ID:              uuid.New().String(),
		CaseID:          caseID,
		AgentName:       agentName,
		Action:          action,
		Confidence:      confidence,
		Reasoning:       reasoning,
		RiskFactorsJSON: string(factorsJSON),
		SignalsUsedJSON: string(signalsJSON),
		IsFinal:         isFinal,
		CreatedAt:       time.Now().UTC(),
	})
}
