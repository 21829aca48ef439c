package interview

import (
	"context"
	"fmt"
	"time"

	"github.com/PabloGalante/mockinterview/internal/domain"
	"github.com/PabloGalante/mockinterview/internal/observability"
)

type scoreResult struct {
	eval   domain.Evaluation
	reason string
}

type sampleResult struct {
	sig    domain.EmotionSignal
	reason string
}

// evaluate scores the answer and samples affect, then folds both into the
// session: the evaluation, the follow-up flag and the adaptive mode.
func (r *run) evaluate(ctx context.Context) {
	s := r.s
	m := r.memo
	if m.score == nil || m.sample == nil {
		score, sample := r.e.join(ctx, r.scoreRequest(), domain.SampleRequest{
			SessionID: s.ID,
			Frame:     r.in.Frame,
			Text:      r.in.Answer,
		})
		m.score, m.sample = &score, &sample
	}

	ev := m.score.eval
	ev.QuestionIndex = s.QuestionIndex
	ev.FollowUp = s.FollowUpCount()
	ev.Normalize()
	if ev.Default {
		ev.FollowUpRecommended = false
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = r.e.now().UTC()
	}
	s.Evaluations = append(s.Evaluations, ev)
	s.FollowUpRequired = ev.FollowUpRecommended

	r.emit(domain.EventEvaluationCompleted, map[string]any{
		"question_index":        ev.QuestionIndex,
		"follow_up":             ev.FollowUp,
		"total":                 ev.Total,
		"default":               ev.Default,
		"follow_up_recommended": ev.FollowUpRecommended,
		"feedback":              ev.Feedback,
	})
	if m.score.reason != "" {
		r.degrade("scorer", m.score.reason)
	}

	sig := m.sample.sig.Clone()
	s.LastEmotion = &sig
	if m.sample.reason != "" {
		r.degrade("sampler", m.sample.reason)
	}
	if !sig.Default {
		r.emotions = append(r.emotions, sig)
	}

	prev := s.Mode
	if r.e.modes.Observe(s, sig) {
		observability.LoggerFromContext(ctx).Info("adaptive mode changed",
			"session_id", s.ID,
			"from", prev,
			"to", s.Mode)
		if s.Mode == domain.ModeEncouraging {
			r.emit(domain.EventEmotionAlert, map[string]any{
				"mode":     string(s.Mode),
				"previous": string(prev),
				"dominant": string(sig.Dominant),
				"score":    sig.DominantScore(),
			})
		}
	}
}

func (r *run) scoreRequest() domain.ScoreRequest {
	s := r.s
	req := domain.ScoreRequest{
		SessionID:     s.ID,
		Position:      s.Position,
		Answer:        r.in.Answer,
		QuestionIndex: s.QuestionIndex,
		FollowUp:      s.FollowUpCount(),
		History:       s.History,
	}
	if q := s.LastQuestion(); q >= 0 {
		req.Question = s.History[q].Text
	}
	return req
}

// join runs scoring and sampling concurrently and waits for both, up to the
// soft deadline. A part that errors or misses the deadline is replaced by its
// neutral default; a fast part never cancels a slow one.
func (e *engine) join(ctx context.Context, sreq domain.ScoreRequest, ereq domain.SampleRequest) (scoreResult, sampleResult) {
	start := time.Now()
	defer func() {
		observability.EvaluateDuration.Observe(time.Since(start).Seconds())
	}()

	ctx, cancel := context.WithTimeout(ctx, e.settings.EvaluateSoftDeadline)
	defer cancel()

	scoreCh := make(chan scoreResult, 1)
	sampleCh := make(chan sampleResult, 1)

	if scorer := e.deps.Scorer; scorer != nil {
		go func() {
			defer func() {
				if rec := recover(); rec != nil {
					scoreCh <- scoreResult{reason: fmt.Sprintf("scorer panicked: %v", rec)}
				}
			}()
			ev, err := scorer.Score(ctx, sreq)
			if err != nil {
				scoreCh <- scoreResult{reason: err.Error()}
				return
			}
			scoreCh <- scoreResult{eval: ev}
		}()
	} else {
		scoreCh <- scoreResult{eval: domain.NeutralEvaluation(e.now().UTC())}
	}

	if sampler := e.deps.Sampler; sampler != nil {
		go func() {
			defer func() {
				if rec := recover(); rec != nil {
					sampleCh <- sampleResult{reason: fmt.Sprintf("sampler panicked: %v", rec)}
				}
			}()
			sig, err := sampler.Sample(ctx, ereq)
			if err != nil {
				sampleCh <- sampleResult{reason: err.Error()}
				return
			}
			sampleCh <- sampleResult{sig: sig}
		}()
	} else {
		sampleCh <- sampleResult{sig: domain.NeutralEmotion(e.now().UTC())}
	}

	var score *scoreResult
	var sample *sampleResult
wait:
	for score == nil || sample == nil {
		select {
		case v := <-scoreCh:
			score = &v
		case v := <-sampleCh:
			sample = &v
		case <-ctx.Done():
			break wait
		}
	}

	log := observability.LoggerFromContext(ctx)
	if score == nil {
		score = &scoreResult{reason: "soft deadline exceeded"}
		observability.EvaluateDegradedTotal.WithLabelValues("score", "deadline").Inc()
		log.Warn("scoring missed the evaluate deadline", "deadline", e.settings.EvaluateSoftDeadline)
	} else if score.reason != "" {
		observability.EvaluateDegradedTotal.WithLabelValues("score", "error").Inc()
		log.Warn("scoring failed", "error", score.reason)
	}
	if score.reason != "" {
		score.eval = domain.NeutralEvaluation(e.now().UTC())
	}

	if sample == nil {
		sample = &sampleResult{reason: "soft deadline exceeded"}
		observability.EvaluateDegradedTotal.WithLabelValues("emotion", "deadline").Inc()
		log.Warn("emotion sampling missed the evaluate deadline", "deadline", e.settings.EvaluateSoftDeadline)
	} else if sample.reason != "" {
		observability.EvaluateDegradedTotal.WithLabelValues("emotion", "error").Inc()
		log.Warn("emotion sampling failed", "error", sample.reason)
	}
	if sample.reason != "" {
		sample.sig = domain.NeutralEmotion(e.now().UTC())
	}

	if sample.sig.Scores == nil {
		sample.sig = domain.NeutralEmotion(e.now().UTC())
	}
	return *score, *sample
}
