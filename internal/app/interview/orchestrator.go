package interview

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/PabloGalante/mockinterview/internal/app/eventbus"
	"github.com/PabloGalante/mockinterview/internal/domain"
	"github.com/PabloGalante/mockinterview/internal/observability"
)

// ReportScheduler starts report generation without waiting for it.
type ReportScheduler interface {
	ScheduleReport(ctx context.Context, id domain.SessionID) (domain.TaskID, error)
}

// Deps are the orchestrator's collaborators. Only Store is required; a nil
// service falls back to neutral results or boilerplate lines.
type Deps struct {
	Store     domain.SessionStore
	Scorer    domain.AnswerScorer
	Sampler   domain.EmotionSampler
	Generator domain.UtteranceGenerator
	Retriever domain.ContextRetriever
	Timeline  domain.EmotionTimeline
	Events    domain.EventPublisher
	Reports   ReportScheduler
}

// Settings are the orchestrator's operational constants.
type Settings struct {
	MaxQuestions         int
	FollowUpCap          int
	EvaluateSoftDeadline time.Duration
	CallTimeout          time.Duration
	ModeMinRun           int
	ModeMinConfidence    float64
	RetrievalLimit       int
}

func DefaultSettings() Settings {
	return Settings{
		MaxQuestions:         5,
		FollowUpCap:          2,
		EvaluateSoftDeadline: 8 * time.Second,
		CallTimeout:          20 * time.Second,
		ModeMinRun:           2,
		ModeMinConfidence:    0.35,
		RetrievalLimit:       3,
	}
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.MaxQuestions <= 0 {
		s.MaxQuestions = d.MaxQuestions
	}
	if s.FollowUpCap < 0 {
		s.FollowUpCap = 0
	}
	if s.EvaluateSoftDeadline <= 0 {
		s.EvaluateSoftDeadline = d.EvaluateSoftDeadline
	}
	if s.CallTimeout <= 0 {
		s.CallTimeout = d.CallTimeout
	}
	if s.ModeMinRun < 1 {
		s.ModeMinRun = d.ModeMinRun
	}
	if s.RetrievalLimit <= 0 {
		s.RetrievalLimit = d.RetrievalLimit
	}
	return s
}

// StartInput opens a new interview.
type StartInput struct {
	CandidateID  domain.CandidateID
	Position     string
	MaxQuestions int // 0 means the configured default
}

// AdvanceInput is one step of the interview driven by the caller.
type AdvanceInput struct {
	Answer    string
	Frame     []byte            // optional emotion sampling window
	Turn      *domain.TurnStats // stats of the turn that produced Answer
	Terminate bool
}

// Result is what the caller shows the candidate.
type Result struct {
	SessionID  domain.SessionID     `json:"session_id"`
	Utterance  string               `json:"utterance"`
	Kind       domain.UtteranceKind `json:"kind"`
	Phase      domain.Phase         `json:"phase"`
	IsTerminal bool                 `json:"is_terminal"`
	Phases     []domain.Phase       `json:"phases"`
	Executor   string               `json:"executor"`
	Mode       domain.AdaptiveMode  `json:"mode"`

	// QuestionIndex is the question the candidate is now answering.
	QuestionIndex int `json:"question_index"`
}

// Orchestrator is the single entry point that moves sessions between phases.
type Orchestrator struct {
	engine     *engine
	graph      *graphExecutor
	procedural proceduralExecutor

	inflight sync.Map // domain.SessionID -> struct{}
}

type Option func(*Orchestrator)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.engine.now = now }
}

// WithGraphFault makes the graph executor consult fault on every phase it
// enters; a non-nil error aborts the graph walk.
func WithGraphFault(fault func(domain.Phase) error) Option {
	return func(o *Orchestrator) { o.graph.fault = fault }
}

func New(deps Deps, settings Settings, opts ...Option) *Orchestrator {
	settings = settings.withDefaults()
	o := &Orchestrator{
		engine: &engine{
			deps:     deps,
			settings: settings,
			modes:    ModeTracker{MinRun: settings.ModeMinRun, MinConfidence: settings.ModeMinConfidence},
			now:      time.Now,
		},
		graph: newGraphExecutor(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start creates a session and advances it to the opening question.
func (o *Orchestrator) Start(ctx context.Context, in StartInput) (*Result, error) {
	now := o.engine.now().UTC()
	maxQuestions := in.MaxQuestions
	if maxQuestions <= 0 {
		maxQuestions = o.engine.settings.MaxQuestions
	}

	s := &domain.Session{
		ID:           domain.SessionID(uuid.NewString()),
		CandidateID:  in.CandidateID,
		Position:     strings.TrimSpace(in.Position),
		CreatedAt:    now,
		UpdatedAt:    now,
		Phase:        domain.PhaseIdle,
		History:      []domain.Utterance{},
		MaxQuestions: maxQuestions,
		FollowUps:    make(map[string]int),
		Mode:         domain.ModeNormal,
		Evaluations:  []domain.Evaluation{},
		ReportStatus: domain.ReportNone,
	}

	ctx = observability.WithSessionID(ctx, string(s.ID))
	log := observability.LoggerFromContext(ctx)
	log.Info("starting new interview",
		"candidate_id", in.CandidateID,
		"position", s.Position,
		"max_questions", maxQuestions)

	if err := o.engine.deps.Store.Create(ctx, s); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	o.publish(ctx, domain.Event{
		Type:      domain.EventInterviewStarted,
		Source:    "orchestrator",
		SessionID: s.ID,
		Payload: map[string]any{
			"candidate_id":  string(s.CandidateID),
			"position":      s.Position,
			"max_questions": s.MaxQuestions,
		},
	})

	return o.Advance(ctx, s.ID, AdvanceInput{})
}

// Get returns the stored session.
func (o *Orchestrator) Get(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	return o.engine.deps.Store.Get(ctx, id)
}

// Advance moves a session forward by one caller-driven step. Only
// precondition violations are returned as errors; service and executor
// failures degrade into a best-available response.
func (o *Orchestrator) Advance(ctx context.Context, id domain.SessionID, in AdvanceInput) (*Result, error) {
	ctx = observability.WithSessionID(ctx, string(id))
	log := observability.LoggerFromContext(ctx)

	if _, busy := o.inflight.LoadOrStore(id, struct{}{}); busy {
		observability.AdvancesTotal.WithLabelValues("none", "rejected").Inc()
		return nil, domain.ErrAdvanceInProgress
	}
	defer o.inflight.Delete(id)

	store := o.engine.deps.Store
	s, err := store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	in.Answer = strings.TrimSpace(in.Answer)
	if err := checkAdvance(s, in); err != nil {
		observability.AdvancesTotal.WithLabelValues("none", "rejected").Inc()
		return nil, err
	}

	r, executor := o.execute(ctx, s, in)

	r.s.UpdatedAt = o.engine.now().UTC()
	if err := store.Update(ctx, r.s); err != nil {
		if errors.Is(err, domain.ErrVersionConflict) {
			observability.AdvancesTotal.WithLabelValues(executor, "rejected").Inc()
			return nil, fmt.Errorf("%w: %v", domain.ErrAdvanceInProgress, err)
		}
		return nil, fmt.Errorf("store session: %w", err)
	}
	outcome := "ok"
	if executor != o.graph.name() {
		outcome = "fallback"
	}
	if r.s.Phase == domain.PhaseError {
		outcome = "error"
	}
	observability.AdvancesTotal.WithLabelValues(executor, outcome).Inc()

	o.applyEffects(ctx, s.Phase, r)

	res := &Result{
		SessionID:  r.s.ID,
		Phase:      r.s.Phase,
		IsTerminal: r.s.Phase.IsTerminal(),
		Phases:     r.trace,
		Executor:   executor,
		Mode:       r.s.Mode,

		QuestionIndex: r.s.QuestionIndex,
	}
	if r.reply != nil {
		res.Utterance = r.reply.Text
		res.Kind = r.reply.Kind
	}

	log.Info("interview advanced",
		"from", s.Phase,
		"to", r.s.Phase,
		"executor", executor,
		"question_index", r.s.QuestionIndex)
	return res, nil
}

func checkAdvance(s *domain.Session, in AdvanceInput) error {
	switch s.Phase {
	case domain.PhaseComplete, domain.PhaseError:
		return fmt.Errorf("%w: %s", domain.ErrTerminalPhase, s.Phase)
	case domain.PhaseIdle:
		if in.Answer != "" {
			return domain.ErrUnexpectedAnswer
		}
		if in.Terminate {
			return fmt.Errorf("%w: no question asked yet", domain.ErrInvalidTransition)
		}
		return nil
	case domain.PhaseWaitAnswer:
		if in.Answer == "" && !in.Terminate {
			return domain.ErrAnswerRequired
		}
		return nil
	default:
		return fmt.Errorf("%w: session at rest in %s", domain.ErrInvalidTransition, s.Phase)
	}
}

// execute tries the graph, then the procedural fallback, then settles the
// session in the error phase. It never fails.
func (o *Orchestrator) execute(ctx context.Context, original *domain.Session, in AdvanceInput) (*run, string) {
	log := observability.LoggerFromContext(ctx)
	m := newMemo()

	r := o.engine.newRun(original, in, m)
	err := safely(ctx, o.graph, r)
	if err == nil {
		return r, o.graph.name()
	}

	observability.ExecutorFallbacksTotal.Inc()
	log.Error("graph executor failed, falling back to procedural", "error", err)

	fallback := map[string]any{
		"kind":  "executor_fallback",
		"error": err.Error(),
		"phase": string(original.Phase),
	}
	fb := o.engine.newRun(original, in, m)
	fb.emit(domain.EventSystemError, fallback)
	fbErr := safely(ctx, o.procedural, fb)
	if fbErr == nil {
		return fb, o.procedural.name()
	}

	log.Error("procedural executor failed, settling in error phase", "error", fbErr)

	er := o.engine.newRun(original, in, m)
	er.emit(domain.EventSystemError, fallback)
	er.settleError(err, fbErr)
	return er, "none"
}

func safely(ctx context.Context, ex executor, r *run) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%s executor panicked: %v", ex.name(), rec)
		}
	}()
	return ex.execute(ctx, r)
}

// settleError moves the session to error with a safe line for the candidate,
// keeping any answer that arrived with the request.
func (r *run) settleError(graphErr, fallbackErr error) {
	s := r.s
	if s.Phase == domain.PhaseWaitAnswer && r.in.Answer != "" {
		_ = r.processAnswer()
	}
	if err := r.move(SignalFail); err != nil {
		s.Phase = domain.PhaseError
		r.trace = append(r.trace, domain.PhaseError)
	}

	u := domain.Utterance{
		Speaker:       domain.RoleInterviewer,
		Kind:          domain.KindFallback,
		Text:          Boilerplate(domain.PhaseError, s),
		Topic:         s.CurrentTopic,
		QuestionIndex: s.QuestionIndex,
		ReplyTo:       -1,
		CreatedAt:     r.e.now().UTC(),
	}
	s.History = append(s.History, u)
	r.reply = &u

	r.emit(domain.EventSystemError, map[string]any{
		"kind":           "executor_failure",
		"graph_error":    graphErr.Error(),
		"fallback_error": fallbackErr.Error(),
	})
}

// applyEffects runs the side effects of a stored advance: timeline writes,
// events and the report task.
func (o *Orchestrator) applyEffects(ctx context.Context, from domain.Phase, r *run) {
	log := observability.LoggerFromContext(ctx)
	deps := o.engine.deps

	if deps.Timeline != nil {
		for _, sig := range r.emotions {
			if err := deps.Timeline.Append(ctx, r.s.ID, sig); err != nil {
				log.Warn("emotion timeline append failed", "error", err)
			}
		}
	}

	phases := make([]string, 0, len(r.trace))
	for _, p := range r.trace {
		phases = append(phases, string(p))
	}
	o.publish(ctx, domain.Event{
		Type:      domain.EventPhaseChanged,
		Source:    "orchestrator",
		SessionID: r.s.ID,
		Payload: map[string]any{
			"from":   string(from),
			"to":     string(r.s.Phase),
			"phases": phases,
		},
	})
	for _, ev := range r.events {
		o.publish(ctx, ev)
	}

	if r.report {
		o.scheduleReport(ctx, r.s.ID)
	}
}

func (o *Orchestrator) scheduleReport(ctx context.Context, id domain.SessionID) {
	log := observability.LoggerFromContext(ctx)

	taskID, err := o.engine.deps.Reports.ScheduleReport(ctx, id)
	if err != nil {
		log.Error("report scheduling failed", "error", err)
		o.publish(ctx, domain.Event{
			Type:      domain.EventSystemError,
			Source:    "orchestrator",
			SessionID: id,
			Payload: map[string]any{
				"kind":      "task_submission",
				"operation": "generate_report",
				"error":     err.Error(),
			},
		})
		o.markReport(ctx, id, func(s *domain.Session) bool {
			if s.ReportStatus != domain.ReportPending {
				return false
			}
			s.ReportStatus = domain.ReportUnavailable
			return true
		})
		return
	}

	o.markReport(ctx, id, func(s *domain.Session) bool {
		if s.ReportTaskID != "" {
			return false
		}
		s.ReportTaskID = taskID
		return true
	})
}

func (o *Orchestrator) markReport(ctx context.Context, id domain.SessionID, fn func(*domain.Session) bool) {
	if _, err := mutate(ctx, o.engine.deps.Store, o.engine.now, id, fn); err != nil {
		observability.LoggerFromContext(ctx).Warn("report status not stored", "error", err)
	}
}

// HandleSystemError marks a session's report unavailable when its report
// task ran out of retries.
func (o *Orchestrator) HandleSystemError(ctx context.Context, ev domain.Event) error {
	if ev.SessionID == "" {
		return nil
	}
	op, _ := ev.Payload["operation"].(string)
	if op != "generate_report" {
		return nil
	}

	ctx = observability.WithSessionID(ctx, string(ev.SessionID))
	_, err := mutate(ctx, o.engine.deps.Store, o.engine.now, ev.SessionID, func(s *domain.Session) bool {
		if s.ReportStatus == domain.ReportReady || s.ReportStatus == domain.ReportUnavailable {
			return false
		}
		s.ReportStatus = domain.ReportUnavailable
		return true
	})
	if errors.Is(err, domain.ErrSessionNotFound) {
		return nil
	}
	if err == nil {
		observability.LoggerFromContext(ctx).Warn("report marked unavailable", "task_id", ev.Payload["task_id"])
	}
	return err
}

// Subscribe wires the orchestrator's event handlers onto bus.
func (o *Orchestrator) Subscribe(bus *eventbus.Bus) (unsubscribe func()) {
	return bus.Subscribe(domain.EventSystemError, o.HandleSystemError)
}

func (o *Orchestrator) publish(ctx context.Context, ev domain.Event) {
	if o.engine.deps.Events != nil {
		o.engine.deps.Events.Publish(ctx, ev)
	}
}

// mutate applies fn to the stored session and retries on version conflicts.
// fn returns false to leave the session untouched.
func mutate(ctx context.Context, store domain.SessionStore, now func() time.Time, id domain.SessionID, fn func(*domain.Session) bool) (*domain.Session, error) {
	const attempts = 5
	for i := 0; i < attempts; i++ {
		s, err := store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if !fn(s) {
			return s, nil
		}
		s.UpdatedAt = now().UTC()
		err = store.Update(ctx, s)
		if err == nil {
			return s, nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) {
			return nil, err
		}
	}
	return nil, domain.ErrVersionConflict
}
