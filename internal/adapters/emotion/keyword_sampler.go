package emotion

import (
	"context"
	"strings"
	"time"

	"github.com/PabloGalante/mockinterview/internal/domain"
)

var keywords = map[domain.Emotion][]string{
	domain.EmotionHappy:    {"great", "enjoy", "love", "excited", "proud", "happy"},
	domain.EmotionSad:      {"sorry", "unfortunately", "sad", "failed", "disappointed"},
	domain.EmotionFear:     {"nervous", "anxious", "afraid", "worried", "not sure", "i don't know"},
	domain.EmotionAngry:    {"annoying", "frustrated", "angry", "hate"},
	domain.EmotionSurprise: {"surprised", "unexpected", "wow"},
	domain.EmotionDisgust:  {"awful", "terrible", "gross"},
}

// KeywordSampler reads affect from the answer transcript. It is the local
// mode stand-in for the recognition service.
type KeywordSampler struct {
	now func() time.Time
}

func NewKeywordSampler() *KeywordSampler {
	return &KeywordSampler{now: time.Now}
}

func (k *KeywordSampler) Sample(_ context.Context, req domain.SampleRequest) (domain.EmotionSignal, error) {
	text := strings.ToLower(req.Text)

	hits := map[domain.Emotion]float64{domain.EmotionNeutral: 1}
	var total float64 = 1
	for em, words := range keywords {
		for _, w := range words {
			if n := strings.Count(text, w); n > 0 {
				hits[em] += float64(2 * n)
				total += float64(2 * n)
			}
		}
	}

	sig := domain.EmotionSignal{Scores: make(map[domain.Emotion]float64, len(domain.Emotions)), At: k.now().UTC()}
	for _, em := range domain.Emotions {
		sig.Scores[em] = hits[em] / total
		if sig.Dominant == "" || sig.Scores[em] > sig.Scores[sig.Dominant] {
			sig.Dominant = em
		}
	}
	return sig, nil
}
