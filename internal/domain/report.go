package domain

// ReportStatus tracks the asynchronous report attached to a finished session.
type ReportStatus string

const (
	ReportNone        ReportStatus = "none"
	ReportPending     ReportStatus = "pending"
	ReportReady       ReportStatus = "ready"
	ReportUnavailable ReportStatus = "unavailable"
)

// Report is the end-of-interview summary assembled by the report task.
type Report struct {
	SessionID SessionID `json:"session_id"`
	CreatedAt Timestamp `json:"created_at"`

	Questions      int     `json:"questions"`
	Answers        int     `json:"answers"`
	AverageTotal   float64 `json:"average_total"`
	BestTotal      int     `json:"best_total"`
	WorstTotal     int     `json:"worst_total"`
	DefaultScores  int     `json:"default_scores"`
	FollowUpsAsked int     `json:"follow_ups_asked"`

	// EmotionShare is the fraction of samples in which each category dominated.
	EmotionShare map[Emotion]float64 `json:"emotion_share"`

	Interventions int    `json:"interventions"`
	Narrative     string `json:"narrative"`

	Strengths    []string `json:"strengths,omitempty"`
	Improvements []string `json:"improvements,omitempty"`
}
