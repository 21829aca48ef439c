package domain

import "errors"

// Precondition violations. These indicate caller bugs and are returned
// synchronously; every other failure is recovered.
var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionExists     = errors.New("session already exists")
	ErrTerminalPhase     = errors.New("session is in a terminal phase")
	ErrAnswerRequired    = errors.New("an answer is required in the current phase")
	ErrUnexpectedAnswer  = errors.New("an answer is not expected in the current phase")
	ErrAdvanceInProgress = errors.New("another advance is in progress for this session")
	ErrInvalidTransition = errors.New("invalid phase transition")
)

// Storage and task errors.
var (
	ErrVersionConflict = errors.New("session version conflict")
	ErrTaskNotFound    = errors.New("task not found")
	ErrUnknownTask     = errors.New("unknown task operation")
)
