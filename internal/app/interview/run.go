package interview

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PabloGalante/mockinterview/internal/domain"
	"github.com/PabloGalante/mockinterview/internal/observability"
)

const maxDegradations = 50

// memo caches external-service results for one advance. An executor that
// takes over after a failure replays these instead of calling out again.
type memo struct {
	utterances map[domain.Phase]string
	genReasons map[domain.Phase]string
	context    []string
	ctxReason  string
	ctxLoaded  bool
	score      *scoreResult
	sample     *sampleResult
}

func newMemo() *memo {
	return &memo{
		utterances: make(map[domain.Phase]string),
		genReasons: make(map[domain.Phase]string),
	}
}

// run is one executor's attempt at an advance. It owns a private copy of the
// session and collects side effects that are applied only after the new
// state is stored.
type run struct {
	e    *engine
	s    *domain.Session
	in   AdvanceInput
	memo *memo

	// consumed is true once the input answer (or termination) has been used.
	consumed bool

	trace    []domain.Phase
	reply    *domain.Utterance
	events   []domain.Event
	emotions []domain.EmotionSignal
	report   bool
}

func (e *engine) newRun(original *domain.Session, in AdvanceInput, m *memo) *run {
	s := original.Clone()
	if s.FollowUps == nil {
		s.FollowUps = make(map[string]int)
	}
	if in.Terminate {
		s.TerminationRequested = true
	}
	if in.Turn != nil {
		s.TurnStats = append(s.TurnStats, *in.Turn)
	}
	return &run{
		e:        e,
		s:        s,
		in:       in,
		memo:     m,
		consumed: original.Phase != domain.PhaseWaitAnswer,
	}
}

// move applies sig through the transition table and records the phase.
func (r *run) move(sig Signal) error {
	next, err := Transition(r.s.Phase, sig)
	if err != nil {
		return err
	}
	r.s.Phase = next
	r.trace = append(r.trace, next)
	return nil
}

func (r *run) emit(t domain.EventType, payload map[string]any) {
	r.events = append(r.events, domain.Event{
		Type:      t,
		Source:    "orchestrator",
		SessionID: r.s.ID,
		Payload:   payload,
	})
}

// degrade notes a recovered external-service failure on the session and
// announces it.
func (r *run) degrade(part, reason string) {
	note := part + ": " + reason
	r.s.Degradations = append(r.s.Degradations, note)
	if n := len(r.s.Degradations); n > maxDegradations {
		r.s.Degradations = r.s.Degradations[n-maxDegradations:]
	}
	r.emit(domain.EventSystemError, map[string]any{
		"kind":  "external_service",
		"part":  part,
		"error": reason,
		"phase": string(r.s.Phase),
	})
}

func (r *run) greet(ctx context.Context) {
	r.say(ctx, domain.PhaseGreeting, domain.KindGreeting)
}

func (r *run) askQuestion(ctx context.Context) error {
	s := r.s
	if s.QuestionIndex >= s.MaxQuestions {
		return fmt.Errorf("%w: question %d of %d already asked", domain.ErrInvalidTransition, s.QuestionIndex, s.MaxQuestions)
	}
	s.QuestionIndex++
	s.CurrentTopic = topicFor(s.QuestionIndex)
	s.FollowUpRequired = false
	r.say(ctx, domain.PhaseGenerateQuestion, domain.KindQuestion)
	return nil
}

func (r *run) askFollowUp(ctx context.Context) error {
	s := r.s
	if s.FollowUpCount() >= r.e.settings.FollowUpCap {
		return fmt.Errorf("%w: follow-up cap reached for %s", domain.ErrInvalidTransition, s.CurrentTopic)
	}
	s.FollowUps[s.CurrentTopic]++
	s.FollowUpRequired = false
	r.say(ctx, domain.PhaseFollowUp, domain.KindFollowUp)
	return nil
}

// processAnswer records the answer against the most recent outstanding question.
func (r *run) processAnswer() error {
	s := r.s
	q := s.LastQuestion()
	if q < 0 {
		return fmt.Errorf("%w: no outstanding question", domain.ErrInvalidTransition)
	}
	s.History = append(s.History, domain.Utterance{
		Speaker:       domain.RoleCandidate,
		Kind:          domain.KindAnswer,
		Text:          r.in.Answer,
		Topic:         s.CurrentTopic,
		QuestionIndex: s.QuestionIndex,
		ReplyTo:       q,
		CreatedAt:     r.e.now().UTC(),
	})
	return nil
}

func (r *run) close(ctx context.Context) {
	r.say(ctx, domain.PhaseComplete, domain.KindClosing)
	if r.e.deps.Reports != nil {
		r.s.ReportStatus = domain.ReportPending
		r.report = true
	}

	var sum int
	for _, ev := range r.s.Evaluations {
		sum += ev.Total
	}
	avg := 0.0
	if n := len(r.s.Evaluations); n > 0 {
		avg = float64(sum) / float64(n)
	}
	r.emit(domain.EventInterviewCompleted, map[string]any{
		"questions":     r.s.QuestionIndex,
		"answers":       len(r.s.Evaluations),
		"average_total": avg,
		"terminated":    r.s.TerminationRequested,
	})
}

// say appends the interviewer line for phase, generating it once per advance.
func (r *run) say(ctx context.Context, phase domain.Phase, kind domain.UtteranceKind) {
	text, ok := r.memo.utterances[phase]
	if !ok {
		text = r.generate(ctx, phase)
		r.memo.utterances[phase] = text
	}
	if phase == domain.PhaseGenerateQuestion && r.memo.ctxReason != "" {
		r.degrade("retriever", r.memo.ctxReason)
	}
	if reason := r.memo.genReasons[phase]; reason != "" {
		r.degrade("generator", reason)
	}

	s := r.s
	u := domain.Utterance{
		Speaker:       domain.RoleInterviewer,
		Kind:          kind,
		Text:          text,
		Topic:         s.CurrentTopic,
		QuestionIndex: s.QuestionIndex,
		ReplyTo:       -1,
		CreatedAt:     r.e.now().UTC(),
	}
	s.History = append(s.History, u)
	r.reply = &u
}

func (r *run) generate(ctx context.Context, phase domain.Phase) string {
	s := r.s
	gen := r.e.deps.Generator
	if gen == nil {
		return Boilerplate(phase, s)
	}

	req := domain.GenerateRequest{
		SessionID:     s.ID,
		Position:      s.Position,
		Hint:          phase,
		Mode:          s.Mode,
		Topic:         s.CurrentTopic,
		QuestionIndex: s.QuestionIndex,
		MaxQuestions:  s.MaxQuestions,
		History:       s.History,
	}
	if n := len(s.Evaluations); n > 0 {
		req.LastFeedback = s.Evaluations[n-1].Feedback
	}
	if phase == domain.PhaseGenerateQuestion {
		req.Context = r.retrieve(ctx)
	}

	callCtx, cancel := context.WithTimeout(ctx, r.e.settings.CallTimeout)
	defer cancel()

	text, err := gen.GenerateNext(callCtx, req)
	text = strings.TrimSpace(text)
	switch {
	case err != nil:
		r.memo.genReasons[phase] = err.Error()
	case text == "":
		r.memo.genReasons[phase] = "empty completion"
	default:
		return text
	}
	observability.LoggerFromContext(ctx).Warn("generator unavailable, using boilerplate",
		"phase", phase,
		"error", r.memo.genReasons[phase])
	return Boilerplate(phase, s)
}

// retrieve loads resume excerpts for the next question. Failures leave the
// context empty.
func (r *run) retrieve(ctx context.Context) []string {
	m := r.memo
	if m.ctxLoaded {
		return m.context
	}
	m.ctxLoaded = true

	ret := r.e.deps.Retriever
	if ret == nil || r.s.CandidateID == "" {
		return nil
	}

	query := r.s.Position
	for i := len(r.s.History) - 1; i >= 0; i-- {
		if r.s.History[i].Speaker == domain.RoleCandidate {
			query = strings.TrimSpace(query + " " + r.s.History[i].Text)
			break
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, r.e.settings.CallTimeout)
	defer cancel()

	docs, err := ret.Retrieve(callCtx, r.s.CandidateID, query, r.e.settings.RetrievalLimit)
	if err != nil {
		m.ctxReason = err.Error()
		return nil
	}
	m.context = docs
	return docs
}

func topicFor(questionIndex int) string {
	return fmt.Sprintf("q%d", questionIndex)
}

// engine bundles what every run needs.
type engine struct {
	deps     Deps
	settings Settings
	modes    ModeTracker
	now      func() time.Time
}
