package acq

import "context"

// Decision is a user's answer to an acquisition prompt.
type Decision int

const (
	// DecisionContinue accepts the frame and continues.
	DecisionContinue Decision = iota
	// DecisionSweep requests another cleaning sweep.
	DecisionSweep
	// DecisionAbort pauses the run. Equivalent to an immediate pause.
	DecisionAbort
)

// Prompter solicits a decision from the operator. Ask blocks until the
// operator answers or the context is cancelled; cancellation is treated
// as abort. A UI implements this with a dialog, tests with a channel or
// fixed answer.
type Prompter interface {
	Ask(ctx context.Context, question string) (Decision, error)
}

// FixedPrompter always answers with the same decision. Used in
// unattended mode and in tests.
type FixedPrompter struct {
	Answer Decision
}

func (p FixedPrompter) Ask(ctx context.Context, question string) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return DecisionAbort, err
	}
	return p.Answer, nil
}

// ChanPrompter forwards questions to a channel pair. The orchestrator
// blocks on the answer; closing the answer channel or cancelling the
// context aborts.
type ChanPrompter struct {
	Questions chan<- string
	Answers   <-chan Decision
}

func (p ChanPrompter) Ask(ctx context.Context, question string) (Decision, error) {
	select {
	case p.Questions <- question:
	case <-ctx.Done():
		return DecisionAbort, ctx.Err()
	}
	select {
	case d, ok := <-p.Answers:
		if !ok {
			return DecisionAbort, nil
		}
		return d, nil
	case <-ctx.Done():
		return DecisionAbort, ctx.Err()
	}
}
