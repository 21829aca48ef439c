package memory

import (
	"context"
	"sync"

	"github.com/PabloGalante/mockinterview/internal/domain"
)

// EmotionTimeline keeps emotion signals per session, capped at maxLen.
type EmotionTimeline struct {
	mu      sync.RWMutex
	signals map[domain.SessionID][]domain.EmotionSignal
	maxLen  int
}

func NewEmotionTimeline(maxLen int) *EmotionTimeline {
	return &EmotionTimeline{
		signals: make(map[domain.SessionID][]domain.EmotionSignal),
		maxLen:  maxLen,
	}
}

func (t *EmotionTimeline) Append(_ context.Context, id domain.SessionID, sig domain.EmotionSignal) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	sigs := append(t.signals[id], sig.Clone())
	if t.maxLen > 0 && len(sigs) > t.maxLen {
		sigs = sigs[len(sigs)-t.maxLen:]
	}
	t.signals[id] = sigs
	return nil
}

func (t *EmotionTimeline) Range(_ context.Context, id domain.SessionID, limit int) ([]domain.EmotionSignal, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	sigs := t.signals[id]
	if limit > 0 && len(sigs) > limit {
		sigs = sigs[len(sigs)-limit:]
	}
	out := make([]domain.EmotionSignal, len(sigs))
	for i, s := range sigs {
		out[i] = s.Clone()
	}
	return out, nil
}
