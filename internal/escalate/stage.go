// ABOUTME: Escalation stage machine with an explicit transition table
// ABOUTME: The orchestrator only moves a case forward through canTransition

package escalate

import "fmt"

// Stage is the fine-grained position of a case in the escalation pipeline.
// The coarse store.CaseStatus stays PROCESSING until a terminal stage.
type Stage string

// Pipeline stages. Every case passes both analyst tiers and the debate;
// an analyst APPROVE or DENY opinion selects the corresponding branch
// stage but never short-circuits the tribunal.
const (
	StageCreated       Stage = "CREATED"
	StageL1Analyzing   Stage = "L1_ANALYZING"
	StageL1Approved    Stage = "L1_APPROVED"
	StageL1Escalated   Stage = "L1_ESCALATED"
	StageL2Analyzing   Stage = "L2_ANALYZING"
	StageL2Approved    Stage = "L2_APPROVED"
	StageL2Escalated   Stage = "L2_ESCALATED"
	StageDebate        Stage = "DEBATE"
	StageFinalDecision Stage = "FINAL_DECISION"
	StageCompleted     Stage = "COMPLETED"
	StageFailed        Stage = "FAILED"
)

// transitions is the full forward transition table. FAILED is reachable
// from every non-terminal stage and is handled in canTransition.
var transitions = map[Stage][]Stage{
	StageCreated:       {StageL1Analyzing},
	StageL1Analyzing:   {StageL1Approved, StageL1Escalated},
	StageL1Approved:    {StageL2Analyzing},
	StageL1Escalated:   {StageL2Analyzing},
	StageL2Analyzing:   {StageL2Approved, StageL2Escalated},
	StageL2Approved:    {StageDebate},
	StageL2Escalated:   {StageDebate},
	StageDebate:        {StageFinalDecision},
	StageFinalDecision: {StageCompleted},
}

// Terminal reports whether the stage admits no further transitions.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageFailed
}

// canTransition reports whether from may move to to.
func canTransition(from, to Stage) bool {
	if from.Terminal() {
		return false
	}
	if to == StageFailed {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ErrInvalidTransition wraps a rejected stage move.
type ErrInvalidTransition struct {
	From, To Stage
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid stage transition %s -> %s", e.From, e.To)
}
