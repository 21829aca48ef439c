package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/PabloGalante/mockinterview/internal/domain"
	"github.com/PabloGalante/mockinterview/internal/observability"
)

// Operations known to the fabric.
const (
	OpScoreAnswer     = "score_answer"
	OpSampleEmotion   = "sample_emotion"
	OpGenerateReport  = "generate_report"
	OpCleanupSessions = "cleanup_sessions"
	OpAggregateStats  = "aggregate_stats"
	OpTranscodeMedia  = "transcode_media"
)

// Lanes. A slow lane never starves a fast one because every lane has its
// own workers.
const (
	LaneScoring     = "scoring"
	LaneEmotion     = "emotion"
	LaneReports     = "reports"
	LaneMaintenance = "maintenance"
	LaneMedia       = "media"
)

// Route binds an operation to a lane and a default retry policy.
type Route struct {
	Queue  string
	Policy domain.RetryPolicy
}

// DefaultRoutes is the routing table used by both binaries.
func DefaultRoutes() map[string]Route {
	return map[string]Route{
		OpScoreAnswer: {Queue: LaneScoring, Policy: domain.RetryPolicy{
			MaxAttempts: 3, SoftTimeLimit: 20 * time.Second, HardTimeLimit: 30 * time.Second, Backoff: time.Second,
		}},
		OpSampleEmotion: {Queue: LaneEmotion, Policy: domain.RetryPolicy{
			MaxAttempts: 2, SoftTimeLimit: 5 * time.Second, HardTimeLimit: 10 * time.Second, Backoff: 500 * time.Millisecond,
		}},
		OpGenerateReport: {Queue: LaneReports, Policy: domain.RetryPolicy{
			MaxAttempts: 3, SoftTimeLimit: 60 * time.Second, HardTimeLimit: 90 * time.Second, Backoff: 2 * time.Second,
		}},
		OpCleanupSessions: {Queue: LaneMaintenance, Policy: domain.RetryPolicy{
			MaxAttempts: 1, SoftTimeLimit: 2 * time.Minute, HardTimeLimit: 3 * time.Minute,
		}},
		OpAggregateStats: {Queue: LaneMaintenance, Policy: domain.RetryPolicy{
			MaxAttempts: 1, SoftTimeLimit: time.Minute, HardTimeLimit: 2 * time.Minute,
		}},
		OpTranscodeMedia: {Queue: LaneMedia, Policy: domain.RetryPolicy{
			MaxAttempts: 2, SoftTimeLimit: 10 * time.Minute, HardTimeLimit: 15 * time.Minute, Backoff: 5 * time.Second,
		}},
	}
}

// LanesOf returns the distinct lanes of a routing table, sorted.
func LanesOf(routes map[string]Route) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, r := range routes {
		if _, ok := seen[r.Queue]; ok {
			continue
		}
		seen[r.Queue] = struct{}{}
		out = append(out, r.Queue)
	}
	sort.Strings(out)
	return out
}

// Client submits tasks and reads their status.
type Client struct {
	broker Broker
	routes map[string]Route
	poll   time.Duration
	now    func() time.Time
}

func NewClient(broker Broker, routes map[string]Route, poll time.Duration) *Client {
	if poll <= 0 {
		poll = 200 * time.Millisecond
	}
	return &Client{broker: broker, routes: routes, poll: poll, now: time.Now}
}

// SubmitOption overrides the routed lane or policy for one submission.
type SubmitOption func(*domain.TaskRecord)

func WithQueue(queue string) SubmitOption {
	return func(r *domain.TaskRecord) { r.Queue = queue }
}

func WithPolicy(p domain.RetryPolicy) SubmitOption {
	return func(r *domain.TaskRecord) { r.Policy = p }
}

// Submit enqueues op with JSON-encoded args and returns at once.
func (c *Client) Submit(ctx context.Context, op string, args any, opts ...SubmitOption) (domain.TaskID, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("encode %s args: %w", op, err)
	}

	now := c.now().UTC()
	rec := &domain.TaskRecord{
		ID:          domain.TaskID(uuid.NewString()),
		Operation:   op,
		Args:        raw,
		State:       domain.TaskPending,
		SubmittedAt: now,
		UpdatedAt:   now,
	}
	if route, ok := c.routes[op]; ok {
		rec.Queue = route.Queue
		rec.Policy = route.Policy
	}
	for _, opt := range opts {
		opt(rec)
	}
	if rec.Queue == "" {
		return "", fmt.Errorf("%w: %s", domain.ErrUnknownTask, op)
	}
	if rec.Policy.MaxAttempts < 1 {
		rec.Policy.MaxAttempts = 1
	}

	if err := c.broker.Push(ctx, rec); err != nil {
		return "", fmt.Errorf("submit %s: %w", op, err)
	}

	observability.LoggerFromContext(ctx).Debug("task submitted",
		"task_id", rec.ID,
		"operation", op,
		"queue", rec.Queue)
	return rec.ID, nil
}

// Status returns the current record. Running and retrying tasks are still
// pending from the caller's point of view.
func (c *Client) Status(ctx context.Context, id domain.TaskID) (*domain.TaskRecord, error) {
	return c.broker.Load(ctx, id)
}

// Await polls until the task finishes or ctx ends.
func (c *Client) Await(ctx context.Context, id domain.TaskID) (*domain.TaskRecord, error) {
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()

	for {
		rec, err := c.broker.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		if rec.State.Done() {
			return rec, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// FailedError is the failure(error) outcome of a task.
type FailedError struct {
	ID        domain.TaskID
	Operation string
	Reason    string
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("task %s (%s) failed: %s", e.ID, e.Operation, e.Reason)
}

// Outcome decodes a finished record into out, or returns *FailedError.
func Outcome(rec *domain.TaskRecord, out any) error {
	switch rec.State {
	case domain.TaskSuccess:
		if out == nil || len(rec.Result) == 0 {
			return nil
		}
		return json.Unmarshal(rec.Result, out)
	case domain.TaskFailure:
		return &FailedError{ID: rec.ID, Operation: rec.Operation, Reason: rec.Error}
	default:
		return fmt.Errorf("task %s still %s", rec.ID, rec.State)
	}
}
