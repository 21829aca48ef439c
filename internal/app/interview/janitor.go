package interview

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PabloGalante/mockinterview/internal/domain"
	"github.com/PabloGalante/mockinterview/internal/observability"
)

// Janitor runs the periodic maintenance operations.
type Janitor struct {
	store   domain.SessionStore
	archive domain.SessionArchive
	events  domain.EventPublisher
	now     func() time.Time
}

func NewJanitor(store domain.SessionStore, archive domain.SessionArchive, events domain.EventPublisher) *Janitor {
	return &Janitor{store: store, archive: archive, events: events, now: time.Now}
}

// Archive copies finished sessions into the archive and flags them, so a
// session is archived at most once. It returns how many were archived.
func (j *Janitor) Archive(ctx context.Context) (int, error) {
	log := observability.LoggerFromContext(ctx).With("operation", "cleanup_sessions")
	if j.archive == nil {
		return 0, nil
	}

	ids, err := j.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}

	var archived int
	var errs []error
	for _, id := range ids {
		s, err := j.store.Get(ctx, id)
		if errors.Is(err, domain.ErrSessionNotFound) {
			continue // expired between list and get
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !s.Phase.IsTerminal() || s.Archived {
			continue
		}
		// A pending report would be lost from the archive copy.
		if s.ReportStatus == domain.ReportPending {
			continue
		}

		s.Archived = true
		if err := j.archive.Archive(ctx, s); err != nil {
			errs = append(errs, fmt.Errorf("archive %s: %w", id, err))
			continue
		}
		if _, err := mutate(ctx, j.store, j.now, id, func(cur *domain.Session) bool {
			if cur.Archived {
				return false
			}
			cur.Archived = true
			return true
		}); err != nil {
			errs = append(errs, fmt.Errorf("flag %s: %w", id, err))
			continue
		}
		archived++
	}

	log.Info("sessions archived", "archived", archived, "scanned", len(ids))
	return archived, errors.Join(errs...)
}

// Stats is the aggregate published by Aggregate.
type Stats struct {
	Sessions           int            `json:"sessions"`
	ByPhase            map[string]int `json:"by_phase"`
	ByMode             map[string]int `json:"by_mode"`
	Evaluations        int            `json:"evaluations"`
	DefaultEvaluations int            `json:"default_evaluations"`
	AverageTotal       float64        `json:"average_total"`
	ReportsReady       int            `json:"reports_ready"`
	ReportsUnavailable int            `json:"reports_unavailable"`
}

// Aggregate computes fleet-wide statistics and publishes stats.aggregated.
func (j *Janitor) Aggregate(ctx context.Context) (*Stats, error) {
	ids, err := j.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	st := &Stats{ByPhase: map[string]int{}, ByMode: map[string]int{}}
	var sum int
	for _, id := range ids {
		s, err := j.store.Get(ctx, id)
		if err != nil {
			continue
		}
		st.Sessions++
		st.ByPhase[string(s.Phase)]++
		st.ByMode[string(s.Mode)]++
		for _, ev := range s.Evaluations {
			st.Evaluations++
			sum += ev.Total
			if ev.Default {
				st.DefaultEvaluations++
			}
		}
		switch s.ReportStatus {
		case domain.ReportReady:
			st.ReportsReady++
		case domain.ReportUnavailable:
			st.ReportsUnavailable++
		}
	}
	if st.Evaluations > 0 {
		st.AverageTotal = float64(sum) / float64(st.Evaluations)
	}

	if j.events != nil {
		byPhase := make(map[string]any, len(st.ByPhase))
		for k, v := range st.ByPhase {
			byPhase[k] = v
		}
		j.events.Publish(ctx, domain.Event{
			Type:   domain.EventStatsAggregated,
			Source: "janitor",
			Payload: map[string]any{
				"sessions":            st.Sessions,
				"by_phase":            byPhase,
				"evaluations":         st.Evaluations,
				"default_evaluations": st.DefaultEvaluations,
				"average_total":       st.AverageTotal,
			},
		})
	}
	return st, nil
}
