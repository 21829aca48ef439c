package domain

import (
	"encoding/json"
	"time"
)

// TaskState is the lifecycle state of a deferred unit of work.
type TaskState string

const (
	TaskPending  TaskState = "pending"
	TaskRunning  TaskState = "running"
	TaskRetrying TaskState = "retrying"
	TaskSuccess  TaskState = "success"
	TaskFailure  TaskState = "failure"
)

// Done reports whether the state is final.
func (s TaskState) Done() bool {
	return s == TaskSuccess || s == TaskFailure
}

// RetryPolicy bounds how a task is retried.
type RetryPolicy struct {
	MaxAttempts   int           `json:"max_attempts"`
	SoftTimeLimit time.Duration `json:"soft_time_limit"`
	HardTimeLimit time.Duration `json:"hard_time_limit"`
	Backoff       time.Duration `json:"backoff"`
}

// TaskRecord is one unit of work submitted to the task fabric.
type TaskRecord struct {
	ID          TaskID          `json:"id"`
	Operation   string          `json:"operation"`
	Args        json.RawMessage `json:"args,omitempty"`
	Queue       string          `json:"queue"`
	Policy      RetryPolicy     `json:"policy"`
	State       TaskState       `json:"state"`
	Attempts    int             `json:"attempts"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	SubmittedAt time.Time       `json:"submitted_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Clone returns a copy that does not share argument or result buffers.
func (t *TaskRecord) Clone() *TaskRecord {
	if t == nil {
		return nil
	}
	c := *t
	c.Args = append(json.RawMessage(nil), t.Args...)
	c.Result = append(json.RawMessage(nil), t.Result...)
	return &c
}
