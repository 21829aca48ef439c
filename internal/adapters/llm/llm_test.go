package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/mockinterview/internal/domain"
)

func TestParseEvaluation(t *testing.T) {
	reply := "```json\n" + `{
		"specificity": 4, "logic": 5, "technical": 3, "structure": 9, "communication": 0,
		"feedback": " Good use of an example. ",
		"strengths": ["examples", ""],
		"improvements": ["structure"],
		"follow_up_recommended": true
	}` + "\n```"

	ev, err := ParseEvaluation(reply)
	require.NoError(t, err)
	assert.Equal(t, 4, ev.Specificity)
	assert.Equal(t, 5, ev.Structure, "clamped down")
	assert.Equal(t, 1, ev.Communication, "clamped up")
	assert.Equal(t, 18, ev.Total)
	assert.Equal(t, "Good use of an example.", ev.Feedback)
	assert.Equal(t, []string{"examples"}, ev.Strengths)
	assert.True(t, ev.FollowUpRecommended)
	assert.False(t, ev.Default)
}

func TestParseEvaluation_Rejects(t *testing.T) {
	for name, reply := range map[string]string{
		"prose":         "The candidate did well.",
		"array":         `[1,2,3]`,
		"missing field": `{"specificity":3,"logic":3,"technical":3,"structure":3}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseEvaluation(reply)
			assert.ErrorIs(t, err, ErrMalformedEvaluation)
		})
	}
}

func TestBuildGeneratePrompt(t *testing.T) {
	req := domain.GenerateRequest{
		Position:      "Backend Engineer",
		Hint:          domain.PhaseFollowUp,
		Mode:          domain.ModeEncouraging,
		QuestionIndex: 2,
		MaxQuestions:  5,
		LastFeedback:  "no concrete example",
		Context:       []string{" Built a billing pipeline in Go "},
		History: []domain.Utterance{
			{Speaker: domain.RoleInterviewer, Text: "Tell me about billing."},
			{Speaker: domain.RoleCandidate, Text: "I worked on it."},
		},
	}

	p := BuildGeneratePrompt(req)
	assert.Contains(t, p.System, "Mode: encouraging")
	assert.Contains(t, p.User, "Position: Backend Engineer")
	assert.Contains(t, p.User, "Main question 2 of 5.")
	assert.Contains(t, p.User, "- Built a billing pipeline in Go\n")
	assert.Contains(t, p.User, "candidate: I worked on it.")
	assert.Contains(t, p.User, "no concrete example")
}

func TestFormatHistoryKeepsRecentWindow(t *testing.T) {
	var history []domain.Utterance
	for i := 0; i < historyWindow+5; i++ {
		history = append(history, domain.Utterance{Speaker: domain.RoleCandidate, Text: "line"})
	}
	assert.Len(t, strings.Split(formatHistory(history), "\n"), historyWindow)
}

func TestBuildScoringPrompt(t *testing.T) {
	p := BuildScoringPrompt(domain.ScoreRequest{Question: "Why Go?", Answer: "Simplicity.", FollowUp: 1, QuestionIndex: 3})
	assert.Contains(t, p.System, "follow_up_recommended")
	assert.Contains(t, p.User, "follow-up 1 on main question 3")
	assert.Contains(t, p.User, "Answer:\nSimplicity.")
}

func TestMockLLM(t *testing.T) {
	m := NewMockLLM()
	ctx := context.Background()

	q, err := m.GenerateNext(ctx, domain.GenerateRequest{Hint: domain.PhaseGenerateQuestion, QuestionIndex: 1, Mode: domain.ModeEncouraging})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(q, "You're doing fine"))
	assert.Contains(t, q, mockQuestions[0])

	short, err := m.Score(ctx, domain.ScoreRequest{Answer: "I did it."})
	require.NoError(t, err)
	assert.True(t, short.FollowUpRecommended)

	long, err := m.Score(ctx, domain.ScoreRequest{Answer: "For example, we cut p99 latency from 900ms to 120ms by batching writes and moving the hot path off the shared lock, which took two sprints."})
	require.NoError(t, err)
	assert.False(t, long.FollowUpRecommended)
	assert.Greater(t, long.Total, short.Total)

	a, err := m.Embed(ctx, "redis streams")
	require.NoError(t, err)
	b, err := m.Embed(ctx, "redis streams")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

// geminiStub serves generateContent with a fixed text reply and records the
// last request body.
type geminiStub struct {
	mu    sync.Mutex
	reply string
	last  map[string]any
}

func (s *geminiStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	s.mu.Lock()
	_ = json.Unmarshal(body, &s.last)
	reply := s.reply
	s.mu.Unlock()

	if !strings.Contains(r.URL.Path, ":generateContent") {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"candidates": []any{map[string]any{
			"content": map[string]any{
				"role":  "model",
				"parts": []any{map[string]any{"text": reply}},
			},
			"finishReason": "STOP",
		}},
	})
}

func TestGeminiClient_AgainstStub(t *testing.T) {
	stub := &geminiStub{reply: "  What is your favourite data structure?  "}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	ctx := context.Background()
	g, err := NewGeminiClient(ctx, Options{APIKey: "test-key", BaseURL: srv.URL, ChatModel: "chat-model"})
	require.NoError(t, err)

	text, err := g.GenerateNext(ctx, domain.GenerateRequest{Hint: domain.PhaseGenerateQuestion, QuestionIndex: 1, MaxQuestions: 3})
	require.NoError(t, err)
	assert.Equal(t, "What is your favourite data structure?", text)

	stub.mu.Lock()
	stub.reply = `{"specificity":2,"logic":3,"technical":3,"structure":2,"communication":4,"feedback":"ok","follow_up_recommended":true}`
	stub.mu.Unlock()

	ev, err := g.Score(ctx, domain.ScoreRequest{Question: "q", Answer: "a"})
	require.NoError(t, err)
	assert.Equal(t, 14, ev.Total)
	assert.True(t, ev.FollowUpRecommended)
}

func TestNewGeminiClient_RequiresCredentials(t *testing.T) {
	_, err := NewGeminiClient(context.Background(), Options{})
	assert.Error(t, err)

	_, err = NewGeminiClient(context.Background(), Options{Project: "p"})
	assert.Error(t, err)
}
