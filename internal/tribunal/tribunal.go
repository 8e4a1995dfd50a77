// ABOUTME: Adversarial debate tribunal resolving escalated cases
// ABOUTME: Prosecution and defense argue from existing evidence; the arbiter renders the verdict

package tribunal

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/latchline/fraudgate/internal/judge"
	"github.com/latchline/fraudgate/internal/store"
)

// Tribunal stages the debate. Neither side may buy new signals: both
// argue strictly from the evidence the analyst tiers assembled.
type Tribunal struct {
	judgement judge.Judgement
	logger    *slog.Logger
}

// New creates a tribunal over the given judgement capability.
func New(judgement judge.Judgement) *Tribunal {
	return &Tribunal{
		judgement: judgement,
		logger:    slog.Default().With("component", "tribunal"),
	}
}

// Deliberate runs prosecution, defense, and arbitration in sequence and
// returns the validated verdict with both arguments for the audit trail.
// Malformed output from any role is an error; the pipeline never converts
// a broken debate into a default verdict.
func (t *Tribunal) Deliberate(ctx context.Context, cctx judge.CaseContext) (*judge.Verdict, []*judge.Argument, error) {
	prosecution, err := t.argue(ctx, judge.RoleProsecution, cctx)
	if err != nil {
		return nil, nil, err
	}
	defense, err := t.argue(ctx, judge.RoleDefense, cctx)
	if err != nil {
		return nil, nil, err
	}

	verdict, err := t.judgement.Arbitrate(ctx, cctx, prosecution, defense)
	if err != nil {
		return nil, nil, fmt.Errorf("arbitration: %w", err)
	}
	if err := validateVerdict(verdict); err != nil {
		return nil, nil, err
	}

	t.logger.Info("verdict rendered", "case_id", cctx.CaseID, "decision", verdict.Decision,
		"confidence", verdict.Confidence,
		"prosecution_strength", verdict.ProsecutionStrength,
		"defense_strength", verdict.DefenseStrength)
	return verdict, []*judge.Argument{prosecution, defense}, nil
}

func (t *Tribunal) argue(ctx context.Context, role judge.Role, cctx judge.CaseContext) (*judge.Argument, error) {
	arg, err := t.judgement.Argue(ctx, role, cctx)
	if err != nil {
		return nil, fmt.Errorf("%s argument: %w", role, err)
	}
	if err := validateArgument(role, arg); err != nil {
		return nil, err
	}
	return arg, nil
}

func validateArgument(role judge.Role, arg *judge.Argument) error {
	if arg == nil || arg.Reasoning == "" {
		return fmt.Errorf("%w: %s produced no reasoning", judge.ErrMalformedOutput, role)
	}
	if arg.Role != role {
		return fmt.Errorf("%w: %s argument labeled %s", judge.ErrMalformedOutput, role, arg.Role)
	}
	if arg.Confidence < 0 || arg.Confidence > 1 {
		return fmt.Errorf("%w: %s confidence %.4f outside [0,1]", judge.ErrMalformedOutput, role, arg.Confidence)
	}
	return nil
}

func validateVerdict(v *judge.Verdict) error {
	if v == nil || v.Reasoning == "" {
		return fmt.Errorf("%w: verdict has no reasoning", judge.ErrMalformedOutput)
	}
	if v.Decision != store.ActionApprove && v.Decision != store.ActionDeny {
		return fmt.Errorf("%w: verdict decision %q", judge.ErrMalformedOutput, v.Decision)
	}
	for name, val := range map[string]float64{
		"confidence":           v.Confidence,
		"defense strength":     v.DefenseStrength,
		"prosecution strength": v.ProsecutionStrength,
	} {
		if val < 0 || val > 1 {
			return fmt.Errorf("%w: verdict %s %.4f outside [0,1]", judge.ErrMalformedOutput, name, val)
		}
	}
	return nil
}
