package interview

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/PabloGalante/mockinterview/internal/domain"
	"github.com/PabloGalante/mockinterview/internal/observability"
)

const reportListLimit = 5

// ReportService assembles the end-of-interview report. It runs on the
// reports lane, out of the request path.
type ReportService struct {
	store     domain.SessionStore
	timeline  domain.EmotionTimeline
	generator domain.UtteranceGenerator
	events    domain.EventPublisher
	now       func() time.Time
}

func NewReportService(store domain.SessionStore, timeline domain.EmotionTimeline, generator domain.UtteranceGenerator, events domain.EventPublisher) *ReportService {
	return &ReportService{
		store:     store,
		timeline:  timeline,
		generator: generator,
		events:    events,
		now:       time.Now,
	}
}

// Generate builds, stores and announces the report for a finished session.
func (rs *ReportService) Generate(ctx context.Context, id domain.SessionID) (*domain.Report, error) {
	ctx = observability.WithSessionID(ctx, string(id))
	log := observability.LoggerFromContext(ctx)

	s, err := rs.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.Phase.IsTerminal() {
		return nil, fmt.Errorf("%w: report requested in %s", domain.ErrInvalidTransition, s.Phase)
	}

	var signals []domain.EmotionSignal
	if rs.timeline != nil {
		signals, err = rs.timeline.Range(ctx, id, 0)
		if err != nil {
			log.Warn("emotion timeline unavailable, report uses last signal only", "error", err)
			signals = nil
		}
	}
	if len(signals) == 0 && s.LastEmotion != nil && !s.LastEmotion.Default {
		signals = []domain.EmotionSignal{*s.LastEmotion}
	}

	rep := BuildReport(s, signals, rs.now().UTC())
	rep.Narrative = rs.narrative(ctx, s, rep)

	if _, err := mutate(ctx, rs.store, rs.now, id, func(cur *domain.Session) bool {
		cur.Report = rep
		cur.ReportStatus = domain.ReportReady
		return true
	}); err != nil {
		return nil, fmt.Errorf("store report: %w", err)
	}

	log.Info("report generated",
		"answers", rep.Answers,
		"average_total", rep.AverageTotal)

	if rs.events != nil {
		rs.events.Publish(ctx, domain.Event{
			Type:      domain.EventReportGenerated,
			Source:    "report_service",
			SessionID: id,
			Payload: map[string]any{
				"questions":     rep.Questions,
				"answers":       rep.Answers,
				"average_total": rep.AverageTotal,
				"interventions": rep.Interventions,
			},
		})
	}
	return rep, nil
}

func (rs *ReportService) narrative(ctx context.Context, s *domain.Session, rep *domain.Report) string {
	fallback := fallbackNarrative(rep)
	if rs.generator == nil {
		return fallback
	}

	summary := []string{
		fmt.Sprintf("answers: %d, average score %.1f/25", rep.Answers, rep.AverageTotal),
		"strengths: " + strings.Join(rep.Strengths, "; "),
		"improvements: " + strings.Join(rep.Improvements, "; "),
	}
	text, err := rs.generator.GenerateNext(ctx, domain.GenerateRequest{
		SessionID:     s.ID,
		Position:      s.Position,
		Hint:          domain.PhaseComplete,
		Mode:          s.Mode,
		QuestionIndex: s.QuestionIndex,
		MaxQuestions:  s.MaxQuestions,
		History:       s.History,
		Context:       summary,
	})
	if err != nil || strings.TrimSpace(text) == "" {
		observability.LoggerFromContext(ctx).Warn("report narrative unavailable, using summary", "error", err)
		return fallback
	}
	return strings.TrimSpace(text)
}

func fallbackNarrative(rep *domain.Report) string {
	if rep.Answers == 0 {
		return "The interview ended before any answers were scored."
	}
	return fmt.Sprintf("You answered %d question(s) with an average score of %.1f out of 25.", rep.Answers, rep.AverageTotal)
}

// BuildReport computes the numeric part of a report.
func BuildReport(s *domain.Session, signals []domain.EmotionSignal, now time.Time) *domain.Report {
	rep := &domain.Report{
		SessionID:    s.ID,
		CreatedAt:    now,
		Questions:    s.QuestionIndex,
		Answers:      len(s.Evaluations),
		EmotionShare: make(map[domain.Emotion]float64),
	}

	var sum int
	strengths := map[string]int{}
	improvements := map[string]int{}
	for i, ev := range s.Evaluations {
		sum += ev.Total
		if i == 0 || ev.Total > rep.BestTotal {
			rep.BestTotal = ev.Total
		}
		if i == 0 || ev.Total < rep.WorstTotal {
			rep.WorstTotal = ev.Total
		}
		if ev.Default {
			rep.DefaultScores++
		}
		for _, st := range ev.Strengths {
			strengths[st]++
		}
		for _, im := range ev.Improvements {
			improvements[im]++
		}
	}
	if rep.Answers > 0 {
		rep.AverageTotal = float64(sum) / float64(rep.Answers)
	}
	rep.Strengths = topItems(strengths, reportListLimit)
	rep.Improvements = topItems(improvements, reportListLimit)

	for _, n := range s.FollowUps {
		rep.FollowUpsAsked += n
	}
	for _, ts := range s.TurnStats {
		rep.Interventions += ts.Interventions
	}

	var counted int
	for _, sig := range signals {
		if sig.Default || sig.Dominant == "" {
			continue
		}
		rep.EmotionShare[sig.Dominant]++
		counted++
	}
	for em := range rep.EmotionShare {
		rep.EmotionShare[em] /= float64(counted)
	}
	return rep
}

// topItems returns the most frequent keys, ties broken alphabetically.
func topItems(counts map[string]int, limit int) []string {
	items := make([]string, 0, len(counts))
	for k := range counts {
		if strings.TrimSpace(k) != "" {
			items = append(items, k)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if counts[items[i]] != counts[items[j]] {
			return counts[items[i]] > counts[items[j]]
		}
		return items[i] < items[j]
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items
}
