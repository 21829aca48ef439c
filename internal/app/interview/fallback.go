package interview

import (
	"fmt"

	"github.com/PabloGalante/mockinterview/internal/domain"
)

var fallbackQuestions = []string{
	"Tell me about a project you are proud of and the part you personally owned.",
	"Describe a technical decision you made that you would make differently today, and why.",
	"Walk me through how you would debug a production issue you could not reproduce locally.",
	"Tell me about a time you disagreed with a teammate on an approach. How did you resolve it?",
	"How do you decide when a piece of work is good enough to ship?",
	"Describe a system you designed. What were the main trade-offs?",
	"Tell me about a time you had to learn something new quickly to deliver.",
}

// Boilerplate is the line used for phase when the generator is unavailable.
func Boilerplate(phase domain.Phase, s *domain.Session) string {
	switch phase {
	case domain.PhaseGreeting:
		if s.Position != "" {
			return fmt.Sprintf("Hello and welcome. Thanks for interviewing for the %s role today. We'll go through a few questions together.", s.Position)
		}
		return "Hello and welcome. Thanks for joining today. We'll go through a few questions together."
	case domain.PhaseGenerateQuestion:
		i := s.QuestionIndex - 1
		if i < 0 {
			i = 0
		}
		q := fallbackQuestions[i%len(fallbackQuestions)]
		if s.Mode == domain.ModeEncouraging {
			return "Take your time with this one. " + q
		}
		return q
	case domain.PhaseFollowUp:
		return "Could you walk me through a concrete example of that, including what you did and what the outcome was?"
	case domain.PhaseComplete:
		return "That concludes our interview. Thank you for your time. Your report will be ready shortly."
	default:
		return "Sorry, something went wrong on our side. Let's pause here. Your answers so far have been saved."
	}
}
