package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Iron-Ham/maestro/internal/errors"
	"github.com/Iron-Ham/maestro/internal/orchestrator"
	"github.com/Iron-Ham/maestro/internal/session"
)

type startSessionRequest struct {
	Subject  string `json:"subject"`
	Pipeline string `json:"pipeline"`
}

type submitInputRequest struct {
	Payload map[string]string `json:"payload"`
}

type outcomeResponse struct {
	Kind       string                      `json:"kind"`
	NextPhase  int                         `json:"next_phase"`
	Reason     string                      `json:"reason,omitempty"`
	Request    *session.HumanLoopRequest   `json:"request,omitempty"`
	Checkpoint *session.HandoverCheckpoint `json:"checkpoint,omitempty"`
}

type errorResponse struct {
	Error    string   `json:"error"`
	Problems []string `json:"problems,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, errors.NewValidationError("invalid request body").WithCause(err))
		return
	}

	sess, err := s.orch.StartSession(r.Context(), req.Subject, req.Pipeline)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.orch.ListSessions(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if sessions == nil {
		sessions = []*session.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.orch.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleGetArchive(w http.ResponseWriter, r *http.Request) {
	archive, err := s.orch.GetArchive(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, archive)
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	outcome, err := s.orch.Advance(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil && outcome == nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOutcomeResponse(outcome))
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	outcome, err := s.orch.Run(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil && outcome == nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOutcomeResponse(outcome))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	sess, err := s.orch.Cancel(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := s.orch.HumanLoop().Poll(r.Context(), chi.URLParam(r, "requestID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleSubmitInput(w http.ResponseWriter, r *http.Request) {
	var body submitInputRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, errors.NewValidationError("invalid request body").WithCause(err))
		return
	}

	req, err := s.orch.SubmitHumanInput(r.Context(), chi.URLParam(r, "requestID"), body.Payload)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	sess, err := s.orch.Resume(r.Context(), chi.URLParam(r, "checkpointID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func toOutcomeResponse(o *orchestrator.Outcome) outcomeResponse {
	return outcomeResponse{
		Kind:       string(o.Kind),
		NextPhase:  o.NextPhase,
		Reason:     o.Reason,
		Request:    o.Request,
		Checkpoint: o.Checkpoint,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors to HTTP statuses. Rejected submissions carry
// their per-key problems so operators can correct and resubmit. Internal
// faults are logged; expected rejections are only reported to the caller.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	resp := errorResponse{Error: err.Error()}

	var humanErr *errors.HumanInputError
	if errors.As(err, &humanErr) {
		resp.Problems = humanErr.Problems
		writeJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}

	status := statusFor(err)
	if status >= http.StatusInternalServerError && errors.GetSeverity(err) >= errors.SeverityError {
		s.logger.Error("request failed", "status", status, "error", err)
	}
	writeJSON(w, status, resp)
}

func statusFor(err error) int {
	var notFound *errors.NotFoundError
	switch {
	case errors.Is(err, errors.ErrSessionNotFound),
		errors.Is(err, errors.ErrArchiveNotFound),
		errors.Is(err, errors.ErrCheckpointNotFound),
		errors.Is(err, errors.ErrRequestNotFound),
		errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.Is(err, errors.ErrSessionBusy),
		errors.Is(err, errors.ErrDuplicateResume),
		errors.Is(err, errors.ErrRequestFulfilled):
		return http.StatusConflict
	case errors.Is(err, errors.ErrRequestExpired):
		return http.StatusGone
	case errors.IsValidation(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
