package domain

import "time"

// Utterance is one speaker-tagged line of the interview conversation.
type Utterance struct {
	Speaker       Role          `json:"speaker"`
	Kind          UtteranceKind `json:"kind"`
	Text          string        `json:"text"`
	Topic         string        `json:"topic,omitempty"`
	QuestionIndex int           `json:"question_index"`
	// ReplyTo is the history index of the question an answer resolves, -1 otherwise.
	ReplyTo   int       `json:"reply_to"`
	CreatedAt Timestamp `json:"created_at"`
}

// Session is one candidate's interview attempt.
//
// Invariants: FollowUps[topic] <= configured cap, QuestionIndex <= MaxQuestions,
// Phase only changes through the transition table.
type Session struct {
	ID          SessionID   `json:"id"`
	CandidateID CandidateID `json:"candidate_id"`
	Position    string      `json:"position,omitempty"`
	CreatedAt   Timestamp   `json:"created_at"`
	UpdatedAt   Timestamp   `json:"updated_at"`

	// Version is incremented by the store on every update (optimistic locking).
	Version int64 `json:"version"`

	Phase            Phase          `json:"phase"`
	History          []Utterance    `json:"history"`
	QuestionIndex    int            `json:"question_index"`
	MaxQuestions     int            `json:"max_questions"`
	CurrentTopic     string         `json:"current_topic,omitempty"`
	FollowUps        map[string]int `json:"follow_ups"`
	FollowUpRequired bool           `json:"follow_up_required"`

	Mode          AdaptiveMode   `json:"mode"`
	ModeCandidate AdaptiveMode   `json:"mode_candidate,omitempty"`
	ModeRun       int            `json:"mode_run"`
	LastEmotion   *EmotionSignal `json:"last_emotion,omitempty"`

	Evaluations []Evaluation `json:"evaluations"`
	TurnStats   []TurnStats  `json:"turn_stats,omitempty"`

	TerminationRequested bool `json:"termination_requested"`

	ReportStatus ReportStatus `json:"report_status"`
	ReportTaskID TaskID       `json:"report_task_id,omitempty"`
	Report       *Report      `json:"report,omitempty"`
	Archived     bool         `json:"archived"`

	// Degradations records recovered failures for operator introspection.
	Degradations []string `json:"degradations,omitempty"`
}

// FollowUpCount returns the follow-ups already asked for the current topic.
func (s *Session) FollowUpCount() int {
	if s.FollowUps == nil {
		return 0
	}
	return s.FollowUps[s.CurrentTopic]
}

// LastQuestion returns the history index of the most recent interviewer
// question or follow-up, or -1.
func (s *Session) LastQuestion() int {
	for i := len(s.History) - 1; i >= 0; i-- {
		u := s.History[i]
		if u.Speaker == RoleInterviewer && (u.Kind == KindQuestion || u.Kind == KindFollowUp) {
			return i
		}
	}
	return -1
}

// LastUtterance returns the last interviewer line, if any.
func (s *Session) LastUtterance() (Utterance, bool) {
	for i := len(s.History) - 1; i >= 0; i-- {
		if s.History[i].Speaker == RoleInterviewer {
			return s.History[i], true
		}
	}
	return Utterance{}, false
}

// Clone returns a deep copy so executors can work on a private state.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.History = append([]Utterance(nil), s.History...)
	c.Evaluations = append([]Evaluation(nil), s.Evaluations...)
	c.TurnStats = append([]TurnStats(nil), s.TurnStats...)
	c.Degradations = append([]string(nil), s.Degradations...)
	c.FollowUps = make(map[string]int, len(s.FollowUps))
	for k, v := range s.FollowUps {
		c.FollowUps[k] = v
	}
	if s.LastEmotion != nil {
		e := s.LastEmotion.Clone()
		c.LastEmotion = &e
	}
	if s.Report != nil {
		r := *s.Report
		c.Report = &r
	}
	return &c
}

// Evaluation is the scored assessment of one answer. Immutable once created.
type Evaluation struct {
	QuestionIndex int `json:"question_index"`
	FollowUp      int `json:"follow_up"`

	Specificity   int `json:"specificity"`
	Logic         int `json:"logic"`
	Technical     int `json:"technical"`
	Structure     int `json:"structure"`
	Communication int `json:"communication"`
	Total         int `json:"total"`

	Feedback            string   `json:"feedback"`
	Strengths           []string `json:"strengths,omitempty"`
	Improvements        []string `json:"improvements,omitempty"`
	FollowUpRecommended bool     `json:"follow_up_recommended"`

	// Default is true when the scorer was unavailable and a neutral result was substituted.
	Default   bool      `json:"default"`
	CreatedAt Timestamp `json:"created_at"`
}

const (
	MinSubScore = 1
	MaxSubScore = 5
)

// Normalize clamps sub-scores to [1,5] and recomputes Total.
func (e *Evaluation) Normalize() {
	clamp := func(v int) int {
		if v < MinSubScore {
			return MinSubScore
		}
		if v > MaxSubScore {
			return MaxSubScore
		}
		return v
	}
	e.Specificity = clamp(e.Specificity)
	e.Logic = clamp(e.Logic)
	e.Technical = clamp(e.Technical)
	e.Structure = clamp(e.Structure)
	e.Communication = clamp(e.Communication)
	e.Total = e.Specificity + e.Logic + e.Technical + e.Structure + e.Communication
}

// NeutralEvaluation is substituted when scoring is unavailable.
func NeutralEvaluation(now time.Time) Evaluation {
	e := Evaluation{
		Specificity:   3,
		Logic:         3,
		Technical:     3,
		Structure:     3,
		Communication: 3,
		Feedback:      "Evaluation unavailable for this answer.",
		Default:       true,
		CreatedAt:     now,
	}
	e.Normalize()
	return e
}

// Emotion is one of the fixed emotion categories.
type Emotion string

const (
	EmotionHappy    Emotion = "happy"
	EmotionSad      Emotion = "sad"
	EmotionAngry    Emotion = "angry"
	EmotionFear     Emotion = "fear"
	EmotionSurprise Emotion = "surprise"
	EmotionDisgust  Emotion = "disgust"
	EmotionNeutral  Emotion = "neutral"
)

// Emotions lists the closed category set in a stable order.
var Emotions = []Emotion{
	EmotionHappy, EmotionSad, EmotionAngry, EmotionFear,
	EmotionSurprise, EmotionDisgust, EmotionNeutral,
}

// EmotionSignal is a probability distribution over Emotions for one sampling interval.
type EmotionSignal struct {
	Scores   map[Emotion]float64 `json:"scores"`
	Dominant Emotion             `json:"dominant"`
	Default  bool                `json:"default"`
	At       Timestamp           `json:"at"`
}

// Clone returns a copy with its own score map.
func (e EmotionSignal) Clone() EmotionSignal {
	c := e
	c.Scores = make(map[Emotion]float64, len(e.Scores))
	for k, v := range e.Scores {
		c.Scores[k] = v
	}
	return c
}

// DominantScore returns the probability assigned to the dominant category.
func (e EmotionSignal) DominantScore() float64 {
	return e.Scores[e.Dominant]
}

// NeutralEmotion is substituted when sampling is unavailable.
func NeutralEmotion(now time.Time) EmotionSignal {
	scores := make(map[Emotion]float64, len(Emotions))
	for _, em := range Emotions {
		scores[em] = 0
	}
	scores[EmotionNeutral] = 1
	return EmotionSignal{Scores: scores, Dominant: EmotionNeutral, Default: true, At: now}
}

// TurnStats summarises one candidate answer turn.
type TurnStats struct {
	QuestionIndex  int           `json:"question_index"`
	Duration       time.Duration `json:"duration"`
	Interventions  int           `json:"interventions"`
	ActivityPulses int           `json:"activity_pulses"`
	LongestSilence time.Duration `json:"longest_silence"`
	Highest        Intervention  `json:"highest"`
}
