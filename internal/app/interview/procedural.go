package interview

import (
	"context"
	"fmt"

	"github.com/PabloGalante/mockinterview/internal/domain"
)

// proceduralExecutor is the flat fallback. It re-derives each step from the
// stored phase and counters and shares nothing with the graph but the
// transition table, the route decision and the step helpers.
type proceduralExecutor struct{}

func (proceduralExecutor) name() string { return "procedural" }

func (proceduralExecutor) execute(ctx context.Context, r *run) error {
	switch r.s.Phase {
	case domain.PhaseIdle:
		if err := r.move(SignalStart); err != nil {
			return err
		}
		r.greet(ctx)
		if err := r.move(SignalNext); err != nil {
			return err
		}
		return askAndWait(ctx, r)

	case domain.PhaseWaitAnswer:
		r.consumed = true
		switch {
		case r.in.Answer != "":
			if err := r.move(SignalAnswer); err != nil {
				return err
			}
			if err := r.processAnswer(); err != nil {
				return err
			}
			if err := r.move(SignalNext); err != nil {
				return err
			}
			r.evaluate(ctx)
			if err := r.move(SignalNext); err != nil {
				return err
			}
		case r.in.Terminate:
			if err := r.move(SignalTerminate); err != nil {
				return err
			}
		default:
			return domain.ErrAnswerRequired
		}

		sig := Route(factsOf(r.s, r.e.settings.FollowUpCap))
		if err := r.move(sig); err != nil {
			return err
		}
		switch sig {
		case SignalComplete:
			r.close(ctx)
			return nil
		case SignalFollowUp:
			if err := r.askFollowUp(ctx); err != nil {
				return err
			}
			return r.move(SignalNext)
		default:
			return askAndWait(ctx, r)
		}
	}
	return fmt.Errorf("%w: cannot advance from %s", domain.ErrInvalidTransition, r.s.Phase)
}

// askAndWait asks the next main question from generate_question.
func askAndWait(ctx context.Context, r *run) error {
	if err := r.askQuestion(ctx); err != nil {
		return err
	}
	return r.move(SignalNext)
}
