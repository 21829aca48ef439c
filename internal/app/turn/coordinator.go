// Package turn decides, while a candidate is answering, whether the
// interviewer should interject. It only advises: nothing here blocks answer
// submission or mutates the interview session.
package turn

import (
	"context"
	"sync"
	"time"

	"github.com/PabloGalante/mockinterview/internal/domain"
	"github.com/PabloGalante/mockinterview/internal/observability"
)

// Thresholds configure when silence or a long answer warrants a prompt.
type Thresholds struct {
	GentleSilence    time.Duration
	HardSilence      time.Duration
	SoftTurnDuration time.Duration
	MaxTurnDuration  time.Duration
}

// ActivityKind tags what kind of "still speaking" pulse arrived.
type ActivityKind string

const (
	ActivityVoice  ActivityKind = "voice"
	ActivityTyping ActivityKind = "typing"
	ActivityFrame  ActivityKind = "frame"
)

// Decide maps elapsed silence and turn duration to a recommendation.
func Decide(silence, elapsed time.Duration, th Thresholds) domain.Intervention {
	switch {
	case th.HardSilence > 0 && silence >= th.HardSilence,
		th.MaxTurnDuration > 0 && elapsed >= th.MaxTurnDuration:
		return domain.InterventionHardTimeout
	case th.GentleSilence > 0 && silence >= th.GentleSilence,
		th.SoftTurnDuration > 0 && elapsed >= th.SoftTurnDuration:
		return domain.InterventionGentlePrompt
	default:
		return domain.InterventionNone
	}
}

type turnState struct {
	questionIndex  int
	started        time.Time
	lastActivity   time.Time
	pulses         int
	longestSilence time.Duration
	current        domain.Intervention
	highest        domain.Intervention
	interventions  int
}

func (t *turnState) noteSilence(now time.Time) {
	if s := now.Sub(t.lastActivity); s > t.longestSilence {
		t.longestSilence = s
	}
}

func (t *turnState) stats(now time.Time) domain.TurnStats {
	return domain.TurnStats{
		QuestionIndex:  t.questionIndex,
		Duration:       now.Sub(t.started),
		Interventions:  t.interventions,
		ActivityPulses: t.pulses,
		LongestSilence: t.longestSilence,
		Highest:        t.highest,
	}
}

// Coordinator tracks one open turn per session.
type Coordinator struct {
	th     Thresholds
	events domain.EventPublisher
	now    func() time.Time

	mu    sync.Mutex
	turns map[domain.SessionID]*turnState
}

func NewCoordinator(th Thresholds, events domain.EventPublisher) *Coordinator {
	return &Coordinator{
		th:     th,
		events: events,
		now:    time.Now,
		turns:  make(map[domain.SessionID]*turnState),
	}
}

// StartTurn opens a fresh turn for id, discarding any unfinished one.
func (c *Coordinator) StartTurn(ctx context.Context, id domain.SessionID, questionIndex int) {
	now := c.now()

	c.mu.Lock()
	c.turns[id] = &turnState{
		questionIndex: questionIndex,
		started:       now,
		lastActivity:  now,
	}
	c.mu.Unlock()

	observability.LoggerFromContext(ctx).Debug("turn started",
		"session_id", id,
		"question_index", questionIndex)
}

// SignalActivity resets the silence timer. It reports false when no turn is
// open. Fresh activity withdraws a gentle prompt caused by silence. A prompt
// caused by turn length stays, since talking does not shorten the turn, and
// a hard timeout is never withdrawn.
func (c *Coordinator) SignalActivity(_ context.Context, id domain.SessionID, _ ActivityKind) bool {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.turns[id]
	if !ok {
		return false
	}
	t.noteSilence(now)
	t.lastActivity = now
	t.pulses++
	if t.current == domain.InterventionHardTimeout {
		return true
	}
	if floor := Decide(0, now.Sub(t.started), c.th); floor < t.current {
		t.current = floor
	}
	return true
}

// CheckIntervention returns the current recommendation. Without new activity
// repeated calls never de-escalate, and hard_timeout holds until the turn
// ends. Sessions with no open turn get no_action.
func (c *Coordinator) CheckIntervention(ctx context.Context, id domain.SessionID) domain.Intervention {
	now := c.now()

	c.mu.Lock()
	t, ok := c.turns[id]
	if !ok {
		c.mu.Unlock()
		return domain.InterventionNone
	}

	decided := Decide(now.Sub(t.lastActivity), now.Sub(t.started), c.th)
	if decided < t.current {
		decided = t.current
	}
	escalated := decided > t.current
	t.current = decided
	if decided > t.highest {
		t.highest = decided
	}
	if escalated {
		t.interventions++
	}
	questionIndex := t.questionIndex
	c.mu.Unlock()

	if escalated {
		c.announce(ctx, id, questionIndex, decided)
	}
	return decided
}

// Recommendation is the outward name for CheckIntervention.
func (c *Coordinator) Recommendation(ctx context.Context, id domain.SessionID) domain.Intervention {
	return c.CheckIntervention(ctx, id)
}

// EndTurn closes the turn and returns its statistics. ok is false when no
// turn was open, in which case the zero stats mean no intervention was
// offered.
func (c *Coordinator) EndTurn(_ context.Context, id domain.SessionID) (stats domain.TurnStats, ok bool) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.turns[id]
	if !ok {
		return domain.TurnStats{}, false
	}
	delete(c.turns, id)
	t.noteSilence(now)
	return t.stats(now), true
}

// Peek returns what EndTurn would return now but leaves the turn open.
func (c *Coordinator) Peek(_ context.Context, id domain.SessionID) (domain.TurnStats, bool) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.turns[id]
	if !ok {
		return domain.TurnStats{}, false
	}
	snapshot := *t
	snapshot.noteSilence(now)
	return snapshot.stats(now), true
}

// Forget drops any open turn without producing stats.
func (c *Coordinator) Forget(id domain.SessionID) {
	c.mu.Lock()
	delete(c.turns, id)
	c.mu.Unlock()
}

// Active lists sessions with an open turn.
func (c *Coordinator) Active() []domain.SessionID {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]domain.SessionID, 0, len(c.turns))
	for id := range c.turns {
		ids = append(ids, id)
	}
	return ids
}

// Run checks every open turn on each tick so escalations reach real-time
// clients while the candidate is still answering.
func (c *Coordinator) Run(ctx context.Context, every time.Duration) error {
	if every <= 0 {
		every = time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, id := range c.Active() {
				c.CheckIntervention(ctx, id)
			}
		}
	}
}

func (c *Coordinator) announce(ctx context.Context, id domain.SessionID, questionIndex int, level domain.Intervention) {
	observability.InterventionsTotal.WithLabelValues(level.String()).Inc()
	observability.LoggerFromContext(ctx).Info("turn intervention",
		"session_id", id,
		"question_index", questionIndex,
		"level", level.String())

	if c.events == nil {
		return
	}
	c.events.Publish(ctx, domain.Event{
		Type:      domain.EventTurnIntervention,
		Source:    "turn_coordinator",
		SessionID: id,
		Payload: map[string]any{
			"level":          level.String(),
			"question_index": questionIndex,
		},
	})
}
