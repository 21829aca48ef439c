package interview

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PabloGalante/mockinterview/internal/adapters/storage/memory"
	"github.com/PabloGalante/mockinterview/internal/domain"
)

var errServiceDown = errors.New("service unavailable")

// fakeGenerator answers "<phase> #<question index>" and counts calls.
type fakeGenerator struct {
	mu    sync.Mutex
	calls map[domain.Phase]int
	fail  bool
	panic bool
	last  domain.GenerateRequest
}

func (g *fakeGenerator) GenerateNext(_ context.Context, req domain.GenerateRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.calls == nil {
		g.calls = make(map[domain.Phase]int)
	}
	g.calls[req.Hint]++
	g.last = req
	if g.panic {
		panic("generator exploded")
	}
	if g.fail {
		return "", errServiceDown
	}
	return fmt.Sprintf("%s #%d (%s)", req.Hint, req.QuestionIndex, req.Mode), nil
}

func (g *fakeGenerator) total() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.calls {
		n += c
	}
	return n
}

// fakeScorer recommends a follow-up for answers containing "vague".
type fakeScorer struct {
	mu      sync.Mutex
	calls   int
	fail    bool
	always  bool // always recommend a follow-up
	hang    bool
	entered chan struct{}
	release chan struct{}
}

func (s *fakeScorer) Score(ctx context.Context, req domain.ScoreRequest) (domain.Evaluation, error) {
	s.mu.Lock()
	s.calls++
	entered, release := s.entered, s.release
	s.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if release != nil {
		<-release
	}
	if s.hang {
		<-ctx.Done()
		return domain.Evaluation{}, ctx.Err()
	}
	if s.fail {
		return domain.Evaluation{}, errServiceDown
	}

	vague := strings.Contains(req.Answer, "vague")
	score := 4
	if vague {
		score = 2
	}
	return domain.Evaluation{
		Specificity:         score,
		Logic:               score,
		Technical:           score,
		Structure:           score,
		Communication:       score,
		Feedback:            "feedback for " + req.Answer,
		Strengths:           []string{"clear structure"},
		Improvements:        []string{"more detail"},
		FollowUpRecommended: vague || s.always,
	}, nil
}

func (s *fakeScorer) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// fakeSampler reads affect from the answer text.
type fakeSampler struct {
	mu    sync.Mutex
	calls int
	fail  bool
	delay time.Duration
	fixed *domain.Emotion
}

func (s *fakeSampler) Sample(ctx context.Context, req domain.SampleRequest) (domain.EmotionSignal, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return domain.EmotionSignal{}, ctx.Err()
		}
	}
	if s.fail {
		return domain.EmotionSignal{}, errServiceDown
	}

	dominant := domain.EmotionNeutral
	switch {
	case s.fixed != nil:
		dominant = *s.fixed
	case strings.Contains(req.Text, "nervous"):
		dominant = domain.EmotionFear
	case strings.Contains(req.Text, "great"):
		dominant = domain.EmotionHappy
	}
	return signal(dominant, 0.9), nil
}

func (s *fakeSampler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func signal(dominant domain.Emotion, p float64) domain.EmotionSignal {
	scores := make(map[domain.Emotion]float64, len(domain.Emotions))
	rest := (1 - p) / float64(len(domain.Emotions)-1)
	for _, em := range domain.Emotions {
		scores[em] = rest
	}
	scores[dominant] = p
	return domain.EmotionSignal{Scores: scores, Dominant: dominant}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev domain.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) ofType(t domain.EventType) []domain.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.Event
	for _, ev := range p.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type fakeReports struct {
	mu  sync.Mutex
	ids []domain.SessionID
	err error
}

func (f *fakeReports) ScheduleReport(_ context.Context, id domain.SessionID) (domain.TaskID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.ids = append(f.ids, id)
	return domain.TaskID("report-" + string(id)), nil
}

type harness struct {
	store     *memory.SessionStore
	timeline  *memory.EmotionTimeline
	generator *fakeGenerator
	scorer    *fakeScorer
	sampler   *fakeSampler
	events    *recordingPublisher
	reports   *fakeReports
	settings  Settings
}

func newHarness() *harness {
	s := DefaultSettings()
	s.MaxQuestions = 3
	s.EvaluateSoftDeadline = 2 * time.Second
	return &harness{
		store:     memory.NewSessionStore(),
		timeline:  memory.NewEmotionTimeline(0),
		generator: &fakeGenerator{},
		scorer:    &fakeScorer{},
		sampler:   &fakeSampler{},
		events:    &recordingPublisher{},
		reports:   &fakeReports{},
		settings:  s,
	}
}

func (h *harness) deps() Deps {
	return Deps{
		Store:     h.store,
		Scorer:    h.scorer,
		Sampler:   h.sampler,
		Generator: h.generator,
		Timeline:  h.timeline,
		Events:    h.events,
		Reports:   h.reports,
	}
}

func (h *harness) orchestrator(opts ...Option) *Orchestrator {
	return New(h.deps(), h.settings, opts...)
}

// seed stores a session waiting for the answer to question idx.
func (h *harness) seed(id domain.SessionID, idx, maxQuestions int, followUps int, mode domain.AdaptiveMode) *domain.Session {
	topic := topicFor(idx)
	s := &domain.Session{
		ID:            id,
		Phase:         domain.PhaseWaitAnswer,
		QuestionIndex: idx,
		MaxQuestions:  maxQuestions,
		CurrentTopic:  topic,
		FollowUps:     map[string]int{topic: followUps},
		Mode:          mode,
		ReportStatus:  domain.ReportNone,
		History: []domain.Utterance{{
			Speaker:       domain.RoleInterviewer,
			Kind:          domain.KindQuestion,
			Text:          "seeded question",
			Topic:         topic,
			QuestionIndex: idx,
			ReplyTo:       -1,
		}},
	}
	if err := h.store.Create(context.Background(), s); err != nil {
		panic(err)
	}
	return s
}
