package turn

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/PabloGalante/mockinterview/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
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

func (p *recordingPublisher) levels() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, ev := range p.events {
		out = append(out, ev.Payload["level"].(string))
	}
	return out
}

var testThresholds = Thresholds{
	GentleSilence:    8 * time.Second,
	HardSilence:      20 * time.Second,
	SoftTurnDuration: 2 * time.Minute,
	MaxTurnDuration:  3 * time.Minute,
}

func newTestCoordinator() (*Coordinator, *fakeClock, *recordingPublisher) {
	clock := newFakeClock()
	pub := &recordingPublisher{}
	c := NewCoordinator(testThresholds, pub)
	c.now = clock.Now
	return c, clock, pub
}

func TestDecide(t *testing.T) {
	cases := []struct {
		name             string
		silence, elapsed time.Duration
		want             domain.Intervention
	}{
		{"fresh turn", 0, 0, domain.InterventionNone},
		{"short pause", 5 * time.Second, 30 * time.Second, domain.InterventionNone},
		{"gentle silence", 8 * time.Second, 30 * time.Second, domain.InterventionGentlePrompt},
		{"rambling", 0, 2*time.Minute + time.Second, domain.InterventionGentlePrompt},
		{"hard silence", 21 * time.Second, 30 * time.Second, domain.InterventionHardTimeout},
		{"max duration", 0, 3 * time.Minute, domain.InterventionHardTimeout},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Decide(tc.silence, tc.elapsed, testThresholds))
		})
	}
}

func TestCheckIntervention_EscalatesMonotonically(t *testing.T) {
	c, clock, pub := newTestCoordinator()
	ctx := context.Background()
	c.StartTurn(ctx, "s1", 1)

	var prev domain.Intervention
	for i := 0; i < 30; i++ {
		got := c.CheckIntervention(ctx, "s1")
		assert.GreaterOrEqual(t, got, prev, "regressed at step %d", i)
		prev = got
		clock.Advance(time.Second)
	}
	assert.Equal(t, domain.InterventionHardTimeout, prev)
	assert.Equal(t, []string{"gentle_prompt", "hard_timeout"}, pub.levels())
}

func TestCheckIntervention_RepeatedCallsAreIdempotent(t *testing.T) {
	c, clock, pub := newTestCoordinator()
	ctx := context.Background()
	c.StartTurn(ctx, "s1", 1)

	clock.Advance(10 * time.Second)
	for i := 0; i < 5; i++ {
		assert.Equal(t, domain.InterventionGentlePrompt, c.CheckIntervention(ctx, "s1"))
	}
	assert.Len(t, pub.levels(), 1, "one escalation, one event")
}

func TestActivityWithdrawsGentleButNotHard(t *testing.T) {
	c, clock, _ := newTestCoordinator()
	ctx := context.Background()
	c.StartTurn(ctx, "s1", 1)

	clock.Advance(9 * time.Second)
	require.Equal(t, domain.InterventionGentlePrompt, c.CheckIntervention(ctx, "s1"))

	require.True(t, c.SignalActivity(ctx, "s1", ActivityVoice))
	assert.Equal(t, domain.InterventionNone, c.CheckIntervention(ctx, "s1"))

	clock.Advance(25 * time.Second)
	require.Equal(t, domain.InterventionHardTimeout, c.CheckIntervention(ctx, "s1"))

	c.SignalActivity(ctx, "s1", ActivityVoice)
	assert.Equal(t, domain.InterventionHardTimeout, c.CheckIntervention(ctx, "s1"))
}

func TestLongAnswerPromptSurvivesActivity(t *testing.T) {
	c, clock, pub := newTestCoordinator()
	ctx := context.Background()
	c.StartTurn(ctx, "s1", 2)

	for i := 0; i < 150; i++ {
		clock.Advance(time.Second)
		c.SignalActivity(ctx, "s1", ActivityVoice)
		c.CheckIntervention(ctx, "s1")
	}
	assert.Equal(t, domain.InterventionGentlePrompt, c.CheckIntervention(ctx, "s1"))

	stats, ok := c.EndTurn(ctx, "s1")
	require.True(t, ok)
	assert.Equal(t, 1, stats.Interventions)
	assert.Equal(t, domain.InterventionGentlePrompt, stats.Highest)
	assert.Equal(t, []string{"gentle_prompt"}, pub.levels())
}

func TestEndTurnStats(t *testing.T) {
	c, clock, _ := newTestCoordinator()
	ctx := context.Background()
	c.StartTurn(ctx, "s1", 3)

	clock.Advance(12 * time.Second)
	c.CheckIntervention(ctx, "s1")
	c.SignalActivity(ctx, "s1", ActivityVoice)
	for i := 0; i < 100; i++ {
		clock.Advance(100 * time.Millisecond)
		c.SignalActivity(ctx, "s1", ActivityVoice)
	}
	clock.Advance(3 * time.Second)

	stats, ok := c.EndTurn(ctx, "s1")
	require.True(t, ok)
	assert.Equal(t, 3, stats.QuestionIndex)
	assert.Equal(t, 25*time.Second, stats.Duration)
	assert.Equal(t, 1, stats.Interventions)
	assert.Equal(t, 101, stats.ActivityPulses)
	assert.Equal(t, 12*time.Second, stats.LongestSilence)
	assert.Equal(t, domain.InterventionGentlePrompt, stats.Highest)

	_, ok = c.EndTurn(ctx, "s1")
	assert.False(t, ok)
}

func TestPeekLeavesTurnOpen(t *testing.T) {
	c, clock, _ := newTestCoordinator()
	ctx := context.Background()
	c.StartTurn(ctx, "s1", 2)
	clock.Advance(5 * time.Second)

	peeked, ok := c.Peek(ctx, "s1")
	require.True(t, ok)
	assert.Equal(t, 5*time.Second, peeked.Duration)
	assert.Equal(t, 5*time.Second, peeked.LongestSilence)
	assert.Equal(t, []domain.SessionID{"s1"}, c.Active())

	clock.Advance(time.Second)
	c.SignalActivity(ctx, "s1", ActivityTyping)
	clock.Advance(time.Second)
	ended, ok := c.EndTurn(ctx, "s1")
	require.True(t, ok)
	assert.Equal(t, 7*time.Second, ended.Duration)
	assert.Equal(t, 6*time.Second, ended.LongestSilence, "peeking does not record silence")
	assert.Equal(t, 1, ended.ActivityPulses)
}

func TestMissingTurnDegradesToNoAction(t *testing.T) {
	c, _, pub := newTestCoordinator()
	ctx := context.Background()

	assert.Equal(t, domain.InterventionNone, c.Recommendation(ctx, "ghost"))
	assert.False(t, c.SignalActivity(ctx, "ghost", ActivityTyping))
	stats, ok := c.EndTurn(ctx, "ghost")
	assert.False(t, ok)
	assert.Zero(t, stats)
	assert.Empty(t, pub.levels())
}

func TestStartTurnResetsPreviousTurn(t *testing.T) {
	c, clock, _ := newTestCoordinator()
	ctx := context.Background()
	c.StartTurn(ctx, "s1", 1)
	clock.Advance(30 * time.Second)
	require.Equal(t, domain.InterventionHardTimeout, c.CheckIntervention(ctx, "s1"))

	c.StartTurn(ctx, "s1", 2)
	assert.Equal(t, domain.InterventionNone, c.CheckIntervention(ctx, "s1"))
}

func TestRunEscalatesOpenTurns(t *testing.T) {
	defer goleak.VerifyNone(t)

	c, clock, pub := newTestCoordinator()
	ctx, cancel := context.WithCancel(context.Background())
	c.StartTurn(ctx, "s1", 1)
	clock.Advance(time.Minute)

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, 5*time.Millisecond) }()

	require.Eventually(t, func() bool {
		return len(pub.levels()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"hard_timeout"}, pub.levels())

	cancel()
	require.NoError(t, <-done)
}
