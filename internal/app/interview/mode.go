package interview

import "github.com/PabloGalante/mockinterview/internal/domain"

// Classify maps a signal's dominant category to the mode it argues for.
// Low-confidence signals argue for normal.
func Classify(sig domain.EmotionSignal, minConfidence float64) domain.AdaptiveMode {
	if sig.DominantScore() < minConfidence {
		return domain.ModeNormal
	}
	switch sig.Dominant {
	case domain.EmotionSad, domain.EmotionFear, domain.EmotionAngry, domain.EmotionDisgust:
		return domain.ModeEncouraging
	case domain.EmotionHappy:
		return domain.ModeChallenging
	default:
		return domain.ModeNormal
	}
}

// ModeTracker applies minimum-run-length hysteresis: the session mode moves
// only after MinRun consecutive signals classify the same way, and a signal
// agreeing with the current mode cancels any pending change. Substituted
// signals are ignored.
type ModeTracker struct {
	MinRun        int
	MinConfidence float64
}

// Observe folds sig into the session's mode state and reports whether the
// mode changed.
func (m ModeTracker) Observe(s *domain.Session, sig domain.EmotionSignal) bool {
	if sig.Default {
		return false
	}
	if s.Mode == "" {
		s.Mode = domain.ModeNormal
	}

	c := Classify(sig, m.MinConfidence)
	if c == s.Mode {
		s.ModeCandidate = ""
		s.ModeRun = 0
		return false
	}

	if c == s.ModeCandidate {
		s.ModeRun++
	} else {
		s.ModeCandidate = c
		s.ModeRun = 1
	}

	minRun := m.MinRun
	if minRun < 1 {
		minRun = 1
	}
	if s.ModeRun < minRun {
		return false
	}
	s.Mode = c
	s.ModeCandidate = ""
	s.ModeRun = 0
	return true
}
