package interview

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/mockinterview/internal/domain"
)

var errInjected = errors.New("injected graph fault")

// outcome is everything the candidate and the store can observe from a
// scripted interview, minus which executor produced it.
type outcome struct {
	Phases     [][]domain.Phase
	Replies    []string
	Kinds      []domain.UtteranceKind
	History    []string
	Totals     []int
	FollowUps  map[string]int
	Mode       domain.AdaptiveMode
	Final      domain.Phase
	Signals    int
	Generated  int
	Scored     int
	Sampled    int
	Executors  map[string]int
	EntryCount int
}

type script struct {
	name    string
	max     int
	answers []AdvanceInput
}

var scripts = []script{
	{name: "straight", max: 3, answers: []AdvanceInput{
		{Answer: "a solid answer"}, {Answer: "another solid answer"}, {Answer: "the last one"},
	}},
	{name: "follow-ups to the cap", max: 2, answers: []AdvanceInput{
		{Answer: "vague"}, {Answer: "vague again"}, {Answer: "still vague"},
		{Answer: "vague"}, {Answer: "precise"},
	}},
	{name: "distress switches mode", max: 3, answers: []AdvanceInput{
		{Answer: "nervous and vague"}, {Answer: "nervous, vague"}, {Answer: "great now"},
		{Answer: "great, vague"}, {Answer: "great"},
	}},
	{name: "early termination", max: 4, answers: []AdvanceInput{
		{Answer: "vague"}, {Terminate: true},
	}},
}

// play runs sc against a fresh harness. entryFault, when non-nil, decides
// per phase entry (counted across the whole script) whether the graph fails.
func play(t *testing.T, sc script, entryFault func(n int) bool) outcome {
	t.Helper()
	h := newHarness()
	h.settings.MaxQuestions = sc.max

	var entries int
	fault := func(domain.Phase) error {
		entries++
		if entryFault != nil && entryFault(entries) {
			return errInjected
		}
		return nil
	}
	o := h.orchestrator(WithGraphFault(fault))
	ctx := context.Background()

	out := outcome{Executors: map[string]int{}}
	record := func(res *Result) {
		out.Phases = append(out.Phases, res.Phases)
		out.Replies = append(out.Replies, res.Utterance)
		out.Kinds = append(out.Kinds, res.Kind)
		out.Executors[res.Executor]++
	}

	res, err := o.Start(ctx, StartInput{CandidateID: "c1", Position: "Platform Engineer"})
	require.NoError(t, err)
	record(res)
	id := res.SessionID

	for _, in := range sc.answers {
		if res.IsTerminal {
			break
		}
		res, err = o.Advance(ctx, id, in)
		require.NoError(t, err)
		record(res)
	}

	s, err := o.Get(ctx, id)
	require.NoError(t, err)
	for _, u := range s.History {
		out.History = append(out.History, string(u.Kind)+": "+u.Text)
	}
	for _, ev := range s.Evaluations {
		out.Totals = append(out.Totals, ev.Total)
	}
	out.FollowUps = s.FollowUps
	out.Mode = s.Mode
	out.Final = s.Phase

	signals, err := h.timeline.Range(ctx, id, 0)
	require.NoError(t, err)
	out.Signals = len(signals)
	out.Generated = h.generator.total()
	out.Scored = h.scorer.count()
	out.Sampled = h.sampler.count()
	out.EntryCount = entries
	return out
}

func sameObservable(t *testing.T, want, got outcome, msgAndArgs ...any) {
	t.Helper()
	assert.Equal(t, want.Phases, got.Phases, msgAndArgs...)
	assert.Equal(t, want.Replies, got.Replies, msgAndArgs...)
	assert.Equal(t, want.Kinds, got.Kinds, msgAndArgs...)
	assert.Equal(t, want.History, got.History, msgAndArgs...)
	assert.Equal(t, want.Totals, got.Totals, msgAndArgs...)
	assert.Equal(t, want.FollowUps, got.FollowUps, msgAndArgs...)
	assert.Equal(t, want.Mode, got.Mode, msgAndArgs...)
	assert.Equal(t, want.Final, got.Final, msgAndArgs...)
	assert.Equal(t, want.Signals, got.Signals, msgAndArgs...)
	// the fallback replays service results instead of calling again
	assert.Equal(t, want.Generated, got.Generated, msgAndArgs...)
	assert.Equal(t, want.Scored, got.Scored, msgAndArgs...)
	assert.Equal(t, want.Sampled, got.Sampled, msgAndArgs...)
}

func TestExecutors_FaultAtEveryPhaseEntryMatchesGraph(t *testing.T) {
	for _, sc := range scripts {
		t.Run(sc.name, func(t *testing.T) {
			baseline := play(t, sc, nil)
			require.Equal(t, map[string]int{"graph": len(baseline.Phases)}, baseline.Executors)
			require.Positive(t, baseline.EntryCount)

			for k := 1; k <= baseline.EntryCount; k++ {
				k := k
				got := play(t, sc, func(n int) bool { return n == k })
				assert.Equal(t, 1, got.Executors["procedural"], "fault at entry %d", k)
				sameObservable(t, baseline, got, "fault at entry %d", k)
			}
		})
	}
}

func TestExecutors_ProceduralAloneMatchesGraph(t *testing.T) {
	for _, sc := range scripts {
		t.Run(sc.name, func(t *testing.T) {
			baseline := play(t, sc, nil)
			got := play(t, sc, func(int) bool { return true })
			assert.Equal(t, map[string]int{"procedural": len(got.Phases)}, got.Executors)
			sameObservable(t, baseline, got)
		})
	}
}

func TestExecutors_FallbackIsAnnounced(t *testing.T) {
	h := newHarness()
	o := h.orchestrator(WithGraphFault(func(p domain.Phase) error {
		if p == domain.PhaseGenerateQuestion {
			return errInjected
		}
		return nil
	}))

	res, err := o.Start(context.Background(), StartInput{})
	require.NoError(t, err)
	assert.Equal(t, "procedural", res.Executor)
	assert.Equal(t, domain.PhaseWaitAnswer, res.Phase)

	var found bool
	for _, ev := range h.events.ofType(domain.EventSystemError) {
		if ev.Payload["kind"] == "executor_fallback" {
			found = true
			assert.Equal(t, string(domain.PhaseIdle), ev.Payload["phase"])
			assert.Contains(t, fmt.Sprint(ev.Payload["error"]), errInjected.Error())
		}
	}
	assert.True(t, found)
}

func TestGraph_RejectsUnknownPhase(t *testing.T) {
	h := newHarness()
	e := &engine{deps: h.deps(), settings: h.settings.withDefaults(), now: time.Now}
	r := e.newRun(&domain.Session{ID: "s1", Phase: "bogus"}, AdvanceInput{}, newMemo())

	err := newGraphExecutor().execute(context.Background(), r)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	err = proceduralExecutor{}.execute(context.Background(), r)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}
