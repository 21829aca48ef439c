// Package offload moves scoring, sampling and report generation onto the
// task fabric. The remote adapters satisfy the same ports as the direct
// services, so the orchestrator cannot tell where the work ran.
package offload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/PabloGalante/mockinterview/internal/app/interview"
	"github.com/PabloGalante/mockinterview/internal/app/tasks"
	"github.com/PabloGalante/mockinterview/internal/domain"
	"github.com/PabloGalante/mockinterview/internal/observability"
)

type scoreArgs struct {
	SessionID     domain.SessionID   `json:"session_id"`
	Position      string             `json:"position,omitempty"`
	Question      string             `json:"question"`
	Answer        string             `json:"answer"`
	QuestionIndex int                `json:"question_index"`
	FollowUp      int                `json:"follow_up"`
	History       []domain.Utterance `json:"history,omitempty"`
}

type sampleArgs struct {
	SessionID domain.SessionID `json:"session_id"`
	Frame     []byte           `json:"frame,omitempty"`
	Text      string           `json:"text,omitempty"`
}

type sessionArgs struct {
	SessionID domain.SessionID `json:"session_id"`
}

// RemoteScorer scores answers on the scoring lane.
type RemoteScorer struct {
	client *tasks.Client
}

func NewRemoteScorer(client *tasks.Client) *RemoteScorer {
	return &RemoteScorer{client: client}
}

// Score submits score_answer and waits for it within ctx.
func (r *RemoteScorer) Score(ctx context.Context, req domain.ScoreRequest) (domain.Evaluation, error) {
	var ev domain.Evaluation
	err := submitAndWait(ctx, r.client, tasks.OpScoreAnswer, scoreArgs{
		SessionID:     req.SessionID,
		Position:      req.Position,
		Question:      req.Question,
		Answer:        req.Answer,
		QuestionIndex: req.QuestionIndex,
		FollowUp:      req.FollowUp,
		History:       req.History,
	}, &ev)
	return ev, err
}

// RemoteSampler samples emotion on the emotion lane.
type RemoteSampler struct {
	client *tasks.Client
}

func NewRemoteSampler(client *tasks.Client) *RemoteSampler {
	return &RemoteSampler{client: client}
}

func (r *RemoteSampler) Sample(ctx context.Context, req domain.SampleRequest) (domain.EmotionSignal, error) {
	var sig domain.EmotionSignal
	err := submitAndWait(ctx, r.client, tasks.OpSampleEmotion, sampleArgs{
		SessionID: req.SessionID,
		Frame:     req.Frame,
		Text:      req.Text,
	}, &sig)
	return sig, err
}

func submitAndWait(ctx context.Context, client *tasks.Client, op string, args, out any) error {
	id, err := client.Submit(ctx, op, args)
	if err != nil {
		return err
	}
	rec, err := client.Await(ctx, id)
	if err != nil {
		return fmt.Errorf("await %s %s: %w", op, id, err)
	}
	return tasks.Outcome(rec, out)
}

// ReportTrigger schedules generate_report without waiting for it.
type ReportTrigger struct {
	client *tasks.Client
}

func NewReportTrigger(client *tasks.Client) *ReportTrigger {
	return &ReportTrigger{client: client}
}

func (t *ReportTrigger) ScheduleReport(ctx context.Context, id domain.SessionID) (domain.TaskID, error) {
	return t.client.Submit(ctx, tasks.OpGenerateReport, sessionArgs{SessionID: id})
}

// Lanes are the lanes Register serves. The media lane belongs to other
// services and is left alone.
func Lanes() []string {
	return []string{tasks.LaneScoring, tasks.LaneEmotion, tasks.LaneReports, tasks.LaneMaintenance}
}

// MaintenanceJobs are the periodic submissions served by the janitor.
func MaintenanceJobs(cleanupEvery, statsEvery time.Duration) []tasks.Job {
	return []tasks.Job{
		{Operation: tasks.OpCleanupSessions, Every: cleanupEvery},
		{Operation: tasks.OpAggregateStats, Every: statsEvery},
	}
}

// Handlers are the services the worker runs. Nil entries are not served.
type Handlers struct {
	Scorer  domain.AnswerScorer
	Sampler domain.EmotionSampler
	Reports *interview.ReportService
	Janitor *interview.Janitor
}

// Register binds every available handler onto w.
func Register(w *tasks.Worker, h Handlers) {
	if h.Scorer != nil {
		w.Handle(tasks.OpScoreAnswer, func(ctx context.Context, raw json.RawMessage) (any, error) {
			var a scoreArgs
			if err := decode(raw, &a); err != nil {
				return nil, err
			}
			return h.Scorer.Score(ctx, domain.ScoreRequest{
				SessionID:     a.SessionID,
				Position:      a.Position,
				Question:      a.Question,
				Answer:        a.Answer,
				QuestionIndex: a.QuestionIndex,
				FollowUp:      a.FollowUp,
				History:       a.History,
			})
		})
	}

	if h.Sampler != nil {
		w.Handle(tasks.OpSampleEmotion, func(ctx context.Context, raw json.RawMessage) (any, error) {
			var a sampleArgs
			if err := decode(raw, &a); err != nil {
				return nil, err
			}
			return h.Sampler.Sample(ctx, domain.SampleRequest{
				SessionID: a.SessionID,
				Frame:     a.Frame,
				Text:      a.Text,
			})
		})
	}

	if h.Reports != nil {
		w.Handle(tasks.OpGenerateReport, func(ctx context.Context, raw json.RawMessage) (any, error) {
			var a sessionArgs
			if err := decode(raw, &a); err != nil {
				return nil, err
			}
			if a.SessionID == "" {
				return nil, tasks.Permanent(errors.New("session_id is required"))
			}
			rep, err := h.Reports.Generate(ctx, a.SessionID)
			if errors.Is(err, domain.ErrSessionNotFound) || errors.Is(err, domain.ErrInvalidTransition) {
				return nil, tasks.Permanent(err)
			}
			return rep, err
		})
	}

	if h.Janitor != nil {
		w.Handle(tasks.OpCleanupSessions, func(ctx context.Context, _ json.RawMessage) (any, error) {
			n, err := h.Janitor.Archive(ctx)
			return map[string]int{"archived": n}, err
		})
		w.Handle(tasks.OpAggregateStats, func(ctx context.Context, _ json.RawMessage) (any, error) {
			return h.Janitor.Aggregate(ctx)
		})
	}

	observability.Logger().Debug("task handlers registered",
		"scorer", h.Scorer != nil,
		"sampler", h.Sampler != nil,
		"reports", h.Reports != nil,
		"janitor", h.Janitor != nil)
}

// decode rejects malformed arguments permanently; retrying cannot fix them.
func decode(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return tasks.Permanent(fmt.Errorf("decode args: %w", err))
	}
	return nil
}
