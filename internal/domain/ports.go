package domain

import "context"

// ScoreRequest carries the question/answer pair to be scored.
type ScoreRequest struct {
	SessionID     SessionID
	Position      string
	Question      string
	Answer        string
	QuestionIndex int
	FollowUp      int
	History       []Utterance
}

// AnswerScorer produces an Evaluation for one answer.
type AnswerScorer interface {
	Score(ctx context.Context, req ScoreRequest) (Evaluation, error)
}

// SampleRequest is the window handed to the emotion sampler.
type SampleRequest struct {
	SessionID SessionID
	Frame     []byte // optional still frame or audio window
	Text      string // transcript of the answer window
}

// EmotionSampler produces one EmotionSignal per sampling window.
type EmotionSampler interface {
	Sample(ctx context.Context, req SampleRequest) (EmotionSignal, error)
}

// GenerateRequest gives the generator what it needs for the next interviewer line.
type GenerateRequest struct {
	SessionID     SessionID
	Position      string
	Hint          Phase
	Mode          AdaptiveMode
	Topic         string
	QuestionIndex int
	MaxQuestions  int
	History       []Utterance
	Context       []string // retrieved resume excerpts
	LastFeedback  string
}

// UtteranceGenerator is the opaque text-completion service.
type UtteranceGenerator interface {
	GenerateNext(ctx context.Context, req GenerateRequest) (string, error)
}

// Embedder turns text into a vector for similarity search.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ContextRetriever returns the nearest resume excerpts for a query.
type ContextRetriever interface {
	Retrieve(ctx context.Context, candidate CandidateID, query string, limit int) ([]string, error)
}

// RealtimeTransport pushes a message to every client watching a session.
// Delivery is best effort; it returns how many clients accepted the message.
type RealtimeTransport interface {
	SendToSession(sessionID SessionID, payload []byte) int
}

// EventPublisher is the slice of the event bus producers depend on.
type EventPublisher interface {
	Publish(ctx context.Context, ev Event)
}

// SessionStore defines session's persistence.
type SessionStore interface {
	// Create stores a new session with Version 1.
	Create(ctx context.Context, s *Session) error
	// Get returns ErrSessionNotFound when the id is unknown.
	Get(ctx context.Context, id SessionID) (*Session, error)
	// Update fails with ErrVersionConflict when s.Version is stale and
	// increments s.Version on success.
	Update(ctx context.Context, s *Session) error
	List(ctx context.Context) ([]SessionID, error)
	Close() error
}

// SessionArchive keeps finished sessions for later reporting.
type SessionArchive interface {
	Archive(ctx context.Context, s *Session) error
	GetArchived(ctx context.Context, id SessionID) (*Session, error)
	ListArchivedByCandidate(ctx context.Context, candidate CandidateID, limit int) ([]*Session, error)
}

// EmotionTimeline is the time-series store for emotion signals.
type EmotionTimeline interface {
	Append(ctx context.Context, id SessionID, sig EmotionSignal) error
	// Range returns the signals in arrival order; limit <= 0 returns all.
	Range(ctx context.Context, id SessionID, limit int) ([]EmotionSignal, error)
}
