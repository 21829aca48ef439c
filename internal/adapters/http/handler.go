package httpadapter

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PabloGalante/mockinterview/internal/adapters/realtime"
	"github.com/PabloGalante/mockinterview/internal/app/eventbus"
	"github.com/PabloGalante/mockinterview/internal/app/interview"
	"github.com/PabloGalante/mockinterview/internal/app/tasks"
	"github.com/PabloGalante/mockinterview/internal/app/turn"
	"github.com/PabloGalante/mockinterview/internal/domain"
	"github.com/PabloGalante/mockinterview/internal/observability"
)

const defaultRecentEvents = 50

// Deps wires the HTTP surface. Realtime, Tasks and Metrics are optional.
type Deps struct {
	Interviews *interview.Orchestrator
	Turns      *turn.Coordinator
	Events     *eventbus.Bus
	Tasks      *tasks.Client
	Realtime   *realtime.Hub
	Metrics    http.Handler
}

type Server struct {
	interviews *interview.Orchestrator
	turns      *turn.Coordinator
	events     *eventbus.Bus
	tasks      *tasks.Client
	realtime   *realtime.Hub
}

func NewServer(d Deps) http.Handler {
	s := &Server{
		interviews: d.Interviews,
		turns:      d.Turns,
		events:     d.Events,
		tasks:      d.Tasks,
		realtime:   d.Realtime,
	}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", handleHealthz)

	mux.HandleFunc("POST /interviews", s.handleStart)
	mux.HandleFunc("GET /interviews/{id}", s.handleGet)
	mux.HandleFunc("POST /interviews/{id}/answers", s.handleAnswer)
	mux.HandleFunc("POST /interviews/{id}/activity", s.handleActivity)
	mux.HandleFunc("GET /interviews/{id}/turn", s.handleTurn)
	mux.HandleFunc("GET /interviews/{id}/ws", s.handleWebSocket)

	mux.HandleFunc("GET /tasks/{id}", s.handleTask)
	mux.HandleFunc("GET /events/recent", s.handleRecentEvents)

	if d.Metrics != nil {
		mux.Handle("GET /metrics", d.Metrics)
	}

	return chainMiddlewares(mux, withRecover, withLogging, withCORS, withRequestID)
}

// ─────────────────────────────────────────────
// DTOs (request/response)
// ─────────────────────────────────────────────

type startRequest struct {
	CandidateID  string `json:"candidate_id"`
	Position     string `json:"position,omitempty"`
	MaxQuestions int    `json:"max_questions,omitempty"`
}

type startResponse struct {
	Session sessionResponse   `json:"session"`
	Result  *interview.Result `json:"result"`
}

type answerRequest struct {
	Answer    string `json:"answer"`
	Frame     []byte `json:"frame,omitempty"` // base64 in JSON
	Terminate bool   `json:"terminate,omitempty"`
}

type activityRequest struct {
	Kind string `json:"kind"`
}

type activityResponse struct {
	Accepted bool `json:"accepted"`
}

type turnResponse struct {
	SessionID      string              `json:"session_id"`
	Recommendation domain.Intervention `json:"recommendation"`
}

type sessionResponse struct {
	ID            string              `json:"id"`
	CandidateID   string              `json:"candidate_id"`
	Position      string              `json:"position,omitempty"`
	Phase         domain.Phase        `json:"phase"`
	IsTerminal    bool                `json:"is_terminal"`
	QuestionIndex int                 `json:"question_index"`
	MaxQuestions  int                 `json:"max_questions"`
	Mode          domain.AdaptiveMode `json:"mode"`
	History       []domain.Utterance  `json:"history"`
	Evaluations   []domain.Evaluation `json:"evaluations"`
	ReportStatus  domain.ReportStatus `json:"report_status"`
	ReportTaskID  string              `json:"report_task_id,omitempty"`
	Report        *domain.Report      `json:"report,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

type taskResponse struct {
	ID        string           `json:"id"`
	Operation string           `json:"operation"`
	Queue     string           `json:"queue"`
	State     domain.TaskState `json:"state"`
	Attempts  int              `json:"attempts"`
	Result    json.RawMessage  `json:"result,omitempty"`
	Error     string           `json:"error,omitempty"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// ─────────────────────────────────────────────
// Concrete handlers
// ─────────────────────────────────────────────

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.CandidateID) == "" {
		badRequest(w, "candidate_id is required")
		return
	}
	if req.MaxQuestions < 0 {
		badRequest(w, "max_questions must not be negative")
		return
	}

	res, err := s.interviews.Start(r.Context(), interview.StartInput{
		CandidateID:  domain.CandidateID(req.CandidateID),
		Position:     req.Position,
		MaxQuestions: req.MaxQuestions,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.followTurn(r, res)

	session, err := s.interviews.Get(r.Context(), res.SessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, startResponse{
		Session: toSessionResponse(session),
		Result:  res,
	})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	session, err := s.interviews.Get(r.Context(), sessionID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(session))
}

// handleAnswer advances the interview with the candidate's answer. The open
// turn is closed only once the advance has been accepted.
func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)

	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}

	in := interview.AdvanceInput{
		Answer:    req.Answer,
		Frame:     req.Frame,
		Terminate: req.Terminate,
	}
	if s.turns != nil {
		if stats, ok := s.turns.Peek(r.Context(), id); ok {
			in.Turn = &stats
		}
	}

	res, err := s.interviews.Advance(r.Context(), id, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if s.turns != nil {
		s.turns.EndTurn(r.Context(), id)
	}
	s.followTurn(r, res)

	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	if s.turns == nil {
		writeJSON(w, http.StatusOK, activityResponse{})
		return
	}

	var req activityRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "invalid JSON body")
			return
		}
	}
	kind := turn.ActivityKind(strings.ToLower(strings.TrimSpace(req.Kind)))
	if kind == "" {
		kind = turn.ActivityVoice
	}

	accepted := s.turns.SignalActivity(r.Context(), sessionID(r), kind)
	writeJSON(w, http.StatusOK, activityResponse{Accepted: accepted})
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	rec := domain.InterventionNone
	if s.turns != nil {
		rec = s.turns.Recommendation(r.Context(), id)
	}
	writeJSON(w, http.StatusOK, turnResponse{SessionID: string(id), Recommendation: rec})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.realtime == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "real-time transport disabled"})
		return
	}
	id := sessionID(r)
	if _, err := s.interviews.Get(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	s.realtime.Serve(w, r, id)
}

func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		http.NotFound(w, r)
		return
	}
	rec, err := s.tasks.Status(r.Context(), domain.TaskID(r.PathValue("id")))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, taskResponse{
		ID:        string(rec.ID),
		Operation: rec.Operation,
		Queue:     rec.Queue,
		State:     rec.State,
		Attempts:  rec.Attempts,
		Result:    rec.Result,
		Error:     rec.Error,
		UpdatedAt: rec.UpdatedAt,
	})
}

func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecentEvents
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			badRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	events := []domain.Event{}
	if s.events != nil {
		if recent := s.events.Recent(limit); recent != nil {
			events = recent
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// followTurn keeps the coordinator in step with the interview: a new turn
// opens whenever the candidate is expected to answer.
func (s *Server) followTurn(r *http.Request, res *interview.Result) {
	if s.turns == nil {
		return
	}
	switch {
	case res.IsTerminal:
		s.turns.Forget(res.SessionID)
	case res.Phase == domain.PhaseWaitAnswer:
		s.turns.StartTurn(r.Context(), res.SessionID, res.QuestionIndex)
	}
}

// ─────────────────────────────────────────────
// Interview Helpers
// ─────────────────────────────────────────────

func sessionID(r *http.Request) domain.SessionID {
	return domain.SessionID(r.PathValue("id"))
}

func toSessionResponse(s *domain.Session) sessionResponse {
	return sessionResponse{
		ID:            string(s.ID),
		CandidateID:   string(s.CandidateID),
		Position:      s.Position,
		Phase:         s.Phase,
		IsTerminal:    s.Phase.IsTerminal(),
		QuestionIndex: s.QuestionIndex,
		MaxQuestions:  s.MaxQuestions,
		Mode:          s.Mode,
		History:       s.History,
		Evaluations:   s.Evaluations,
		ReportStatus:  s.ReportStatus,
		ReportTaskID:  string(s.ReportTaskID),
		Report:        s.Report,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
}

// ─────────────────────────────────────────────
// HTTP Helpers
// ─────────────────────────────────────────────

// statusOf maps precondition violations to client errors.
func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAnswerRequired), errors.Is(err, domain.ErrUnexpectedAnswer):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrTerminalPhase),
		errors.Is(err, domain.ErrAdvanceInProgress),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrSessionExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		observability.LoggerFromContext(r.Context()).Error("request failed",
			"path", r.URL.Path,
			"error", err)
		internalError(w)
		return
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{
		"error": msg,
	})
}

func internalError(w http.ResponseWriter) {
	writeJSON(w, http.StatusInternalServerError, map[string]string{
		"error": "internal server error",
	})
}
