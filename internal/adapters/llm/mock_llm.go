package llm

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"

	"github.com/PabloGalante/mockinterview/internal/domain"
)

// MockLLM is a deterministic stand-in for Gemini used in local mode.
type MockLLM struct {
	dims int
}

func NewMockLLM() *MockLLM {
	return &MockLLM{dims: 64}
}

var mockQuestions = []string{
	"Tell me about the most complex system you have worked on and your part in it.",
	"How do you approach testing code that talks to external services?",
	"Describe a time you had to make a decision with incomplete information.",
	"What would you change first in the last codebase you worked on, and why?",
	"How do you keep a service reliable when one of its dependencies is slow?",
}

func (m *MockLLM) GenerateNext(_ context.Context, req domain.GenerateRequest) (string, error) {
	var prefix string
	if req.Mode == domain.ModeEncouraging {
		prefix = "You're doing fine, take your time. "
	}

	switch req.Hint {
	case domain.PhaseGreeting:
		if req.Position != "" {
			return fmt.Sprintf("Hi, I'm your interviewer for the %s position. We'll go through %d questions.", req.Position, req.MaxQuestions), nil
		}
		return fmt.Sprintf("Hi, I'm your interviewer today. We'll go through %d questions.", req.MaxQuestions), nil
	case domain.PhaseGenerateQuestion:
		i := req.QuestionIndex - 1
		if i < 0 {
			i = 0
		}
		q := mockQuestions[i%len(mockQuestions)]
		if req.Mode == domain.ModeChallenging {
			q += " What trade-offs did you weigh?"
		}
		return prefix + q, nil
	case domain.PhaseFollowUp:
		return prefix + "Can you give me a specific example of that, with the outcome?", nil
	case domain.PhaseComplete:
		return "Thanks for your time today. That's all the questions I have.", nil
	default:
		return "Let's continue.", nil
	}
}

// Score rates answers by length and by whether they mention a concrete
// example, which is enough to exercise follow-ups locally.
func (m *MockLLM) Score(_ context.Context, req domain.ScoreRequest) (domain.Evaluation, error) {
	words := len(strings.Fields(req.Answer))
	lower := strings.ToLower(req.Answer)
	concrete := strings.Contains(lower, "for example") || strings.Contains(lower, "for instance") || strings.ContainsAny(req.Answer, "0123456789")

	base := 1 + words/15
	if base > 4 {
		base = 4
	}
	spec := base
	if concrete {
		spec++
	}

	ev := domain.Evaluation{
		Specificity:         spec,
		Logic:               base,
		Technical:           base,
		Structure:           base,
		Communication:       base + 1,
		FollowUpRecommended: words < 20 && !concrete,
	}
	ev.Normalize()

	switch {
	case ev.FollowUpRecommended:
		ev.Feedback = "The answer is short; add a concrete example and its outcome."
		ev.Improvements = []string{"concrete examples"}
	default:
		ev.Feedback = "Clear answer with enough detail."
		ev.Strengths = []string{"clear structure"}
	}
	return ev, nil
}

// Embed hashes word tokens into a unit vector.
func (m *MockLLM) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, m.dims)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		vec[h.Sum32()%uint32(m.dims)]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v * v)
	}
	if norm == 0 {
		return vec, nil
	}
	n := float32(math.Sqrt(norm))
	for i := range vec {
		vec[i] /= n
	}
	return vec, nil
}
