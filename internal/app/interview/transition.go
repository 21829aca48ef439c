// Package interview drives an interview session through its phases. Both
// executors go through Transition and Route, so they cannot disagree about
// where a session may go next.
package interview

import (
	"fmt"

	"github.com/PabloGalante/mockinterview/internal/domain"
)

// Signal is the input that moves a session out of its current phase.
type Signal string

const (
	SignalStart        Signal = "start"
	SignalNext         Signal = "next"
	SignalAnswer       Signal = "answer"
	SignalTerminate    Signal = "terminate"
	SignalComplete     Signal = "complete"
	SignalFollowUp     Signal = "follow_up"
	SignalNextQuestion Signal = "next_question"
	SignalFail         Signal = "fail"
)

var transitions = map[domain.Phase]map[Signal]domain.Phase{
	domain.PhaseIdle: {
		SignalStart: domain.PhaseGreeting,
	},
	domain.PhaseGreeting: {
		SignalNext: domain.PhaseGenerateQuestion,
	},
	domain.PhaseGenerateQuestion: {
		SignalNext: domain.PhaseWaitAnswer,
	},
	domain.PhaseFollowUp: {
		SignalNext: domain.PhaseWaitAnswer,
	},
	domain.PhaseWaitAnswer: {
		SignalAnswer:    domain.PhaseProcessAnswer,
		SignalTerminate: domain.PhaseRouteNext,
	},
	domain.PhaseProcessAnswer: {
		SignalNext: domain.PhaseEvaluate,
	},
	domain.PhaseEvaluate: {
		SignalNext: domain.PhaseRouteNext,
	},
	domain.PhaseRouteNext: {
		SignalComplete:     domain.PhaseComplete,
		SignalFollowUp:     domain.PhaseFollowUp,
		SignalNextQuestion: domain.PhaseGenerateQuestion,
	},
}

// Transition returns the phase reached from phase on sig. Any non-terminal
// phase may fail into error; terminal phases accept nothing.
func Transition(phase domain.Phase, sig Signal) (domain.Phase, error) {
	if phase.IsTerminal() {
		return phase, fmt.Errorf("%w: %s is terminal", domain.ErrTerminalPhase, phase)
	}
	if sig == SignalFail {
		return domain.PhaseError, nil
	}
	if next, ok := transitions[phase][sig]; ok {
		return next, nil
	}
	return phase, fmt.Errorf("%w: %s on %s", domain.ErrInvalidTransition, sig, phase)
}

// RouteFacts is everything route_next looks at.
type RouteFacts struct {
	QuestionIndex        int
	MaxQuestions         int
	TerminationRequested bool
	FollowUpRecommended  bool
	FollowUpCount        int
	FollowUpCap          int
	Mode                 domain.AdaptiveMode
}

// Route decides what follows route_next. First match wins: finishing,
// then a follow-up, then a new question. Encouraging mode suppresses
// follow-ups whatever the evaluation says.
func Route(f RouteFacts) Signal {
	if f.TerminationRequested || f.QuestionIndex >= f.MaxQuestions {
		return SignalComplete
	}
	if f.FollowUpRecommended && f.FollowUpCount < f.FollowUpCap && f.Mode != domain.ModeEncouraging {
		return SignalFollowUp
	}
	return SignalNextQuestion
}

func factsOf(s *domain.Session, followUpCap int) RouteFacts {
	return RouteFacts{
		QuestionIndex:        s.QuestionIndex,
		MaxQuestions:         s.MaxQuestions,
		TerminationRequested: s.TerminationRequested,
		FollowUpRecommended:  s.FollowUpRequired,
		FollowUpCount:        s.FollowUpCount(),
		FollowUpCap:          followUpCap,
		Mode:                 s.Mode,
	}
}
