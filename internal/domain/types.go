package domain

import "time"

type SessionID string
type CandidateID string
type TaskID string

type Role string

const (
	RoleCandidate   Role = "candidate"
	RoleInterviewer Role = "interviewer"
)

// Phase is a named state of the interview progression.
type Phase string

const (
	PhaseIdle             Phase = "idle"
	PhaseGreeting         Phase = "greeting"
	PhaseGenerateQuestion Phase = "generate_question"
	PhaseWaitAnswer       Phase = "wait_answer"
	PhaseProcessAnswer    Phase = "process_answer"
	PhaseEvaluate         Phase = "evaluate"
	PhaseRouteNext        Phase = "route_next"
	PhaseFollowUp         Phase = "follow_up"
	PhaseComplete         Phase = "complete"
	PhaseError            Phase = "error"
)

// IsTerminal reports whether no further advance is accepted.
func (p Phase) IsTerminal() bool {
	return p == PhaseComplete || p == PhaseError
}

// Valid reports whether p is one of the known phases.
func (p Phase) Valid() bool {
	switch p {
	case PhaseIdle, PhaseGreeting, PhaseGenerateQuestion, PhaseWaitAnswer,
		PhaseProcessAnswer, PhaseEvaluate, PhaseRouteNext, PhaseFollowUp,
		PhaseComplete, PhaseError:
		return true
	}
	return false
}

// AdaptiveMode biases the next-phase decision from recent affect.
type AdaptiveMode string

const (
	ModeNormal      AdaptiveMode = "normal"
	ModeEncouraging AdaptiveMode = "encouraging" // negative affect, no follow-ups
	ModeChallenging AdaptiveMode = "challenging" // confident affect, harder questions
)

// UtteranceKind tags what an utterance is in the interview flow.
type UtteranceKind string

const (
	KindGreeting UtteranceKind = "greeting"
	KindQuestion UtteranceKind = "question"
	KindFollowUp UtteranceKind = "follow_up"
	KindAnswer   UtteranceKind = "answer"
	KindClosing  UtteranceKind = "closing"
	KindFallback UtteranceKind = "fallback"
)

// Intervention is the Turn Coordinator's recommendation, ordered by urgency.
type Intervention int

const (
	InterventionNone Intervention = iota
	InterventionGentlePrompt
	InterventionHardTimeout
)

func (i Intervention) String() string {
	switch i {
	case InterventionGentlePrompt:
		return "gentle_prompt"
	case InterventionHardTimeout:
		return "hard_timeout"
	default:
		return "no_action"
	}
}

func (i Intervention) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

func (i *Intervention) UnmarshalText(b []byte) error {
	switch string(b) {
	case "gentle_prompt":
		*i = InterventionGentlePrompt
	case "hard_timeout":
		*i = InterventionHardTimeout
	default:
		*i = InterventionNone
	}
	return nil
}

type Timestamp = time.Time
