package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/PabloGalante/mockinterview/internal/domain"
	"github.com/PabloGalante/mockinterview/internal/observability"
)

// HandlerFunc executes one attempt of an operation. ctx expires at the soft
// time limit; handlers must return promptly once it does.
type HandlerFunc func(ctx context.Context, args json.RawMessage) (any, error)

// ErrHardTimeLimit marks an attempt abandoned at the hard limit.
var ErrHardTimeLimit = errors.New("hard time limit exceeded")

type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Unwrap() error { return p.err }

// Permanent wraps err so the worker fails the task without retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// Worker pulls tasks from its lanes and runs the registered handlers.
type Worker struct {
	broker      Broker
	events      domain.EventPublisher
	concurrency int
	popWait     time.Duration
	now         func() time.Time

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

type WorkerOption func(*Worker)

// WithConcurrency sets the number of goroutines per lane.
func WithConcurrency(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

// WithPopWait sets how long one dequeue blocks before re-checking ctx.
func WithPopWait(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.popWait = d
		}
	}
}

func NewWorker(broker Broker, events domain.EventPublisher, opts ...WorkerOption) *Worker {
	w := &Worker{
		broker:      broker,
		events:      events,
		concurrency: 2,
		popWait:     time.Second,
		now:         time.Now,
		handlers:    make(map[string]HandlerFunc),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Handle registers the handler for op, replacing any previous one.
func (w *Worker) Handle(op string, h HandlerFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[op] = h
}

func (w *Worker) handler(op string) (HandlerFunc, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	h, ok := w.handlers[op]
	return h, ok
}

// Run serves the given lanes until ctx is cancelled.
func (w *Worker) Run(ctx context.Context, lanes ...string) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, lane := range lanes {
		for i := 0; i < w.concurrency; i++ {
			lane := lane
			g.Go(func() error {
				return w.loop(ctx, lane)
			})
		}
	}

	observability.LoggerFromContext(ctx).Info("task worker started",
		"lanes", lanes,
		"concurrency", w.concurrency)
	return g.Wait()
}

func (w *Worker) loop(ctx context.Context, lane string) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		rec, err := w.broker.Pop(ctx, lane, w.popWait)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			observability.LoggerFromContext(ctx).Warn("task dequeue failed", "queue", lane, "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(w.popWait):
			}
			continue
		}
		if rec == nil {
			continue
		}
		w.execute(ctx, rec)
	}
}

// execute runs one attempt and moves the record to its next state.
func (w *Worker) execute(ctx context.Context, rec *domain.TaskRecord) {
	log := observability.LoggerFromContext(ctx).With(
		"task_id", rec.ID,
		"operation", rec.Operation,
		"queue", rec.Queue,
	)

	// Record writes outlive worker shutdown so a task is never left running.
	storeCtx := context.WithoutCancel(ctx)

	h, ok := w.handler(rec.Operation)
	if !ok {
		w.fail(storeCtx, rec, fmt.Errorf("%w: %s", domain.ErrUnknownTask, rec.Operation))
		return
	}

	rec.State = domain.TaskRunning
	rec.Attempts++
	rec.UpdatedAt = w.now().UTC()
	if err := w.broker.Save(storeCtx, rec); err != nil {
		log.Warn("task state not saved", "error", err)
	}

	start := time.Now()
	result, err := w.attempt(ctx, rec, h)
	observability.TaskDuration.WithLabelValues(rec.Queue, rec.Operation).Observe(time.Since(start).Seconds())

	if err == nil {
		raw, mErr := json.Marshal(result)
		if mErr != nil {
			w.fail(storeCtx, rec, Permanent(fmt.Errorf("encode result: %w", mErr)))
			return
		}
		rec.State = domain.TaskSuccess
		rec.Result = raw
		rec.Error = ""
		rec.UpdatedAt = w.now().UTC()
		if sErr := w.broker.Save(storeCtx, rec); sErr != nil {
			log.Error("task result not saved", "error", sErr)
		}
		observability.TasksTotal.WithLabelValues(rec.Queue, rec.Operation, "success").Inc()
		log.Info("task succeeded", "attempts", rec.Attempts)
		return
	}

	if ctx.Err() != nil && !errors.Is(err, ErrHardTimeLimit) {
		// Shutdown interrupted the attempt; hand it back to the lane.
		rec.State = domain.TaskPending
		rec.Attempts--
		rec.UpdatedAt = w.now().UTC()
		if pErr := w.broker.Push(storeCtx, rec); pErr != nil {
			log.Error("task not requeued on shutdown", "error", pErr)
		}
		return
	}

	var perm permanentError
	if errors.Is(err, ErrHardTimeLimit) || errors.As(err, &perm) || rec.Attempts >= rec.Policy.MaxAttempts {
		w.fail(storeCtx, rec, err)
		return
	}

	rec.State = domain.TaskRetrying
	rec.Error = err.Error()
	rec.UpdatedAt = w.now().UTC()
	observability.TasksTotal.WithLabelValues(rec.Queue, rec.Operation, "retry").Inc()
	log.Warn("task attempt failed, retrying",
		"attempt", rec.Attempts,
		"max_attempts", rec.Policy.MaxAttempts,
		"error", err)

	if rec.Policy.Backoff > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(rec.Policy.Backoff):
		}
	}
	if pErr := w.broker.Push(storeCtx, rec); pErr != nil {
		w.fail(storeCtx, rec, fmt.Errorf("requeue: %w", pErr))
	}
}

// attempt bounds the handler by the soft limit (its context) and the hard
// limit (how long the worker waits for it).
func (w *Worker) attempt(ctx context.Context, rec *domain.TaskRecord, h HandlerFunc) (result any, err error) {
	runCtx := ctx
	if soft := rec.Policy.SoftTimeLimit; soft > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, soft)
		defer cancel()
	}

	type outcome struct {
		v   any
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("handler panicked: %v", r)}
			}
		}()
		v, err := h(runCtx, rec.Args)
		done <- outcome{v: v, err: err}
	}()

	var hard <-chan time.Time
	if rec.Policy.HardTimeLimit > 0 {
		t := time.NewTimer(rec.Policy.HardTimeLimit)
		defer t.Stop()
		hard = t.C
	}

	select {
	case o := <-done:
		return o.v, o.err
	case <-hard:
		return nil, fmt.Errorf("%w after %s", ErrHardTimeLimit, rec.Policy.HardTimeLimit)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// fail records a terminal failure and announces it as system.error.
func (w *Worker) fail(ctx context.Context, rec *domain.TaskRecord, cause error) {
	rec.State = domain.TaskFailure
	rec.Error = cause.Error()
	rec.UpdatedAt = w.now().UTC()

	log := observability.LoggerFromContext(ctx).With("task_id", rec.ID, "operation", rec.Operation)
	if err := w.broker.Save(ctx, rec); err != nil {
		log.Error("task failure not saved", "error", err)
	}
	observability.TasksTotal.WithLabelValues(rec.Queue, rec.Operation, "failure").Inc()
	log.Error("task failed", "attempts", rec.Attempts, "error", cause)

	if w.events == nil {
		return
	}
	sessionID := domain.SessionID(gjson.GetBytes(rec.Args, "session_id").String())
	w.events.Publish(ctx, domain.Event{
		Type:      domain.EventSystemError,
		Source:    "task_worker",
		SessionID: sessionID,
		Payload: map[string]any{
			"kind":      "task_failure",
			"task_id":   string(rec.ID),
			"operation": rec.Operation,
			"queue":     rec.Queue,
			"attempts":  rec.Attempts,
			"error":     rec.Error,
		},
	})
}
