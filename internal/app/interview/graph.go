package interview

import (
	"context"
	"fmt"

	"github.com/PabloGalante/mockinterview/internal/domain"
)

// maxSteps bounds one graph walk. The longest advance visits seven phases.
const maxSteps = 16

// node runs one phase and returns the signal to leave it, or "" to yield.
type node func(ctx context.Context, r *run) (Signal, error)

// executor runs one advance on a run.
type executor interface {
	name() string
	execute(ctx context.Context, r *run) error
}

// graphExecutor walks a declarative node table from the session's phase
// until a node yields.
type graphExecutor struct {
	nodes map[domain.Phase]node
	// fault, when set, is consulted on every phase entry. Tests use it to
	// break the graph at a chosen point.
	fault func(domain.Phase) error
}

func newGraphExecutor() *graphExecutor {
	g := &graphExecutor{}
	g.nodes = map[domain.Phase]node{
		domain.PhaseIdle: func(context.Context, *run) (Signal, error) {
			return SignalStart, nil
		},
		domain.PhaseGreeting: func(ctx context.Context, r *run) (Signal, error) {
			r.greet(ctx)
			return SignalNext, nil
		},
		domain.PhaseGenerateQuestion: func(ctx context.Context, r *run) (Signal, error) {
			if err := r.askQuestion(ctx); err != nil {
				return "", err
			}
			return SignalNext, nil
		},
		domain.PhaseFollowUp: func(ctx context.Context, r *run) (Signal, error) {
			if err := r.askFollowUp(ctx); err != nil {
				return "", err
			}
			return SignalNext, nil
		},
		domain.PhaseWaitAnswer: func(_ context.Context, r *run) (Signal, error) {
			if r.consumed {
				return "", nil
			}
			r.consumed = true
			switch {
			case r.in.Answer != "":
				return SignalAnswer, nil
			case r.in.Terminate:
				return SignalTerminate, nil
			default:
				return "", domain.ErrAnswerRequired
			}
		},
		domain.PhaseProcessAnswer: func(_ context.Context, r *run) (Signal, error) {
			if err := r.processAnswer(); err != nil {
				return "", err
			}
			return SignalNext, nil
		},
		domain.PhaseEvaluate: func(ctx context.Context, r *run) (Signal, error) {
			r.evaluate(ctx)
			return SignalNext, nil
		},
		domain.PhaseRouteNext: func(_ context.Context, r *run) (Signal, error) {
			return Route(factsOf(r.s, r.e.settings.FollowUpCap)), nil
		},
		domain.PhaseComplete: func(ctx context.Context, r *run) (Signal, error) {
			r.close(ctx)
			return "", nil
		},
	}
	return g
}

func (g *graphExecutor) name() string { return "graph" }

func (g *graphExecutor) execute(ctx context.Context, r *run) error {
	for step := 0; step < maxSteps; step++ {
		n, ok := g.nodes[r.s.Phase]
		if !ok {
			return fmt.Errorf("%w: no node for %s", domain.ErrInvalidTransition, r.s.Phase)
		}
		sig, err := n(ctx, r)
		if err != nil {
			return fmt.Errorf("node %s: %w", r.s.Phase, err)
		}
		if sig == "" {
			return nil
		}
		if err := r.move(sig); err != nil {
			return err
		}
		if g.fault != nil {
			if err := g.fault(r.s.Phase); err != nil {
				return fmt.Errorf("entering %s: %w", r.s.Phase, err)
			}
		}
	}
	return fmt.Errorf("graph did not yield after %d steps", maxSteps)
}
