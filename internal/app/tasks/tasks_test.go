package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/PabloGalante/mockinterview/internal/domain"
)

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

func testRoutes(policy domain.RetryPolicy) map[string]Route {
	return map[string]Route{
		"echo": {Queue: "fast", Policy: policy},
		"slow": {Queue: "slow", Policy: policy},
	}
}

// startWorker runs w on lanes and returns a stop func that waits for it.
func startWorker(t *testing.T, w *Worker, lanes ...string) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, lanes...) }()
	return func() {
		cancel()
		require.NoError(t, <-done)
	}
}

func awaitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestSubmitAndAwaitSuccess(t *testing.T) {
	broker := NewMemoryBroker(time.Hour)
	client := NewClient(broker, testRoutes(domain.RetryPolicy{MaxAttempts: 1}), 10*time.Millisecond)
	w := NewWorker(broker, nil, WithPopWait(20*time.Millisecond))
	w.Handle("echo", func(_ context.Context, args json.RawMessage) (any, error) {
		var in map[string]string
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, Permanent(err)
		}
		return map[string]string{"echo": in["word"]}, nil
	})
	stop := startWorker(t, w, "fast")
	defer stop()

	id, err := client.Submit(context.Background(), "echo", map[string]string{"word": "hello"})
	require.NoError(t, err)

	rec, err := client.Await(awaitCtx(t), id)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskSuccess, rec.State)
	assert.Equal(t, "fast", rec.Queue)
	assert.Equal(t, 1, rec.Attempts)

	var out map[string]string
	require.NoError(t, Outcome(rec, &out))
	assert.Equal(t, "hello", out["echo"])
}

func TestSubmitUnknownOperation(t *testing.T) {
	client := NewClient(NewMemoryBroker(time.Hour), DefaultRoutes(), 0)

	_, err := client.Submit(context.Background(), "does_not_exist", nil)
	assert.ErrorIs(t, err, domain.ErrUnknownTask)

	// An explicit lane makes any operation routable.
	_, err = client.Submit(context.Background(), "does_not_exist", nil, WithQueue("misc"))
	assert.NoError(t, err)
}

func TestStatusUnknownTask(t *testing.T) {
	client := NewClient(NewMemoryBroker(time.Hour), DefaultRoutes(), 0)
	_, err := client.Status(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrTaskNotFound)
}

func TestRetryUntilSuccess(t *testing.T) {
	broker := NewMemoryBroker(time.Hour)
	client := NewClient(broker, testRoutes(domain.RetryPolicy{MaxAttempts: 3}), 10*time.Millisecond)
	w := NewWorker(broker, nil, WithPopWait(20*time.Millisecond))

	var calls atomic.Int32
	w.Handle("echo", func(context.Context, json.RawMessage) (any, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("scorer unavailable")
		}
		return "ok", nil
	})
	stop := startWorker(t, w, "fast")
	defer stop()

	id, err := client.Submit(context.Background(), "echo", nil)
	require.NoError(t, err)

	rec, err := client.Await(awaitCtx(t), id)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskSuccess, rec.State)
	assert.Equal(t, 3, rec.Attempts)
}

func TestRetryBudgetExhaustedPublishesSystemError(t *testing.T) {
	broker := NewMemoryBroker(time.Hour)
	client := NewClient(broker, testRoutes(domain.RetryPolicy{MaxAttempts: 2}), 10*time.Millisecond)
	pub := &recordingPublisher{}
	w := NewWorker(broker, pub, WithPopWait(20*time.Millisecond))
	w.Handle("echo", func(context.Context, json.RawMessage) (any, error) {
		return nil, errors.New("always broken")
	})
	stop := startWorker(t, w, "fast")
	defer stop()

	id, err := client.Submit(context.Background(), "echo", map[string]string{"session_id": "s-42"})
	require.NoError(t, err)

	rec, err := client.Await(awaitCtx(t), id)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskFailure, rec.State)
	assert.Equal(t, 2, rec.Attempts)

	var failed *FailedError
	require.ErrorAs(t, Outcome(rec, nil), &failed)
	assert.Contains(t, failed.Reason, "always broken")

	events := pub.ofType(domain.EventSystemError)
	require.Len(t, events, 1)
	assert.Equal(t, domain.SessionID("s-42"), events[0].SessionID)
	assert.Equal(t, string(id), events[0].Payload["task_id"])
	assert.Equal(t, "echo", events[0].Payload["operation"])
}

func TestPermanentErrorSkipsRetries(t *testing.T) {
	broker := NewMemoryBroker(time.Hour)
	client := NewClient(broker, testRoutes(domain.RetryPolicy{MaxAttempts: 5}), 10*time.Millisecond)
	w := NewWorker(broker, nil, WithPopWait(20*time.Millisecond))
	w.Handle("echo", func(context.Context, json.RawMessage) (any, error) {
		return nil, Permanent(errors.New("bad arguments"))
	})
	stop := startWorker(t, w, "fast")
	defer stop()

	id, err := client.Submit(context.Background(), "echo", nil)
	require.NoError(t, err)

	rec, err := client.Await(awaitCtx(t), id)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskFailure, rec.State)
	assert.Equal(t, 1, rec.Attempts)
}

func TestSoftLimitIsRetryable(t *testing.T) {
	broker := NewMemoryBroker(time.Hour)
	policy := domain.RetryPolicy{MaxAttempts: 2, SoftTimeLimit: 20 * time.Millisecond, HardTimeLimit: time.Second}
	client := NewClient(broker, testRoutes(policy), 10*time.Millisecond)
	w := NewWorker(broker, nil, WithPopWait(20*time.Millisecond))

	var calls atomic.Int32
	w.Handle("echo", func(ctx context.Context, _ json.RawMessage) (any, error) {
		if calls.Add(1) == 1 {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return "second time lucky", nil
	})
	stop := startWorker(t, w, "fast")
	defer stop()

	id, err := client.Submit(context.Background(), "echo", nil)
	require.NoError(t, err)

	rec, err := client.Await(awaitCtx(t), id)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskSuccess, rec.State)
	assert.Equal(t, 2, rec.Attempts)
}

func TestHardLimitIsTerminal(t *testing.T) {
	broker := NewMemoryBroker(time.Hour)
	policy := domain.RetryPolicy{MaxAttempts: 3, SoftTimeLimit: 10 * time.Millisecond, HardTimeLimit: 40 * time.Millisecond}
	client := NewClient(broker, testRoutes(policy), 10*time.Millisecond)
	pub := &recordingPublisher{}
	w := NewWorker(broker, pub, WithPopWait(20*time.Millisecond))

	release := make(chan struct{})
	defer close(release)
	w.Handle("echo", func(context.Context, json.RawMessage) (any, error) {
		<-release // ignores its context
		return "too late", nil
	})
	stop := startWorker(t, w, "fast")
	defer stop()

	id, err := client.Submit(context.Background(), "echo", nil)
	require.NoError(t, err)

	rec, err := client.Await(awaitCtx(t), id)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskFailure, rec.State)
	assert.Equal(t, 1, rec.Attempts, "hard limit must not be retried")
	assert.Contains(t, rec.Error, ErrHardTimeLimit.Error())
	assert.Len(t, pub.ofType(domain.EventSystemError), 1)
}

func TestSlowLaneDoesNotStarveFastLane(t *testing.T) {
	broker := NewMemoryBroker(time.Hour)
	client := NewClient(broker, testRoutes(domain.RetryPolicy{MaxAttempts: 1}), 10*time.Millisecond)
	w := NewWorker(broker, nil, WithConcurrency(1), WithPopWait(20*time.Millisecond))

	release := make(chan struct{})
	w.Handle("slow", func(ctx context.Context, _ json.RawMessage) (any, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return "slow done", nil
	})
	w.Handle("echo", func(context.Context, json.RawMessage) (any, error) {
		return "fast done", nil
	})
	stop := startWorker(t, w, "fast", "slow")
	defer stop()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := client.Submit(ctx, "slow", nil)
		require.NoError(t, err)
	}
	fastID, err := client.Submit(ctx, "echo", nil)
	require.NoError(t, err)

	rec, err := client.Await(awaitCtx(t), fastID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskSuccess, rec.State)
	close(release)
}

func TestMemoryBrokerExpiresFinishedRecords(t *testing.T) {
	broker := NewMemoryBroker(time.Minute)
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	broker.now = func() time.Time { return now }

	ctx := context.Background()
	rec := &domain.TaskRecord{ID: "t1", Operation: "echo", Queue: "fast", State: domain.TaskSuccess}
	require.NoError(t, broker.Save(ctx, rec))

	_, err := broker.Load(ctx, "t1")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = broker.Load(ctx, "t1")
	assert.ErrorIs(t, err, domain.ErrTaskNotFound)
}

func TestLanesOf(t *testing.T) {
	assert.Equal(t,
		[]string{LaneEmotion, LaneMaintenance, LaneMedia, LaneReports, LaneScoring},
		LanesOf(DefaultRoutes()))
}

func TestSchedulerSubmitsOnInterval(t *testing.T) {
	defer goleak.VerifyNone(t)

	broker := NewMemoryBroker(time.Hour)
	client := NewClient(broker, DefaultRoutes(), 0)
	sched := NewScheduler(client,
		Job{Operation: OpCleanupSessions, Every: 10 * time.Millisecond},
		Job{Operation: OpAggregateStats, Every: 10 * time.Millisecond},
		Job{Operation: "disabled", Every: 0},
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()

	seen := map[string]bool{}
	deadline := time.After(2 * time.Second)
	for !(seen[OpCleanupSessions] && seen[OpAggregateStats]) {
		select {
		case <-deadline:
			t.Fatal("scheduler did not submit both jobs")
		default:
		}
		rec, err := broker.Pop(context.Background(), LaneMaintenance, 50*time.Millisecond)
		require.NoError(t, err)
		if rec != nil {
			seen[rec.Operation] = true
		}
	}

	cancel()
	require.NoError(t, <-done)
}
