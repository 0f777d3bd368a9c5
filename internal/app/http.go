package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/mockinterview/internal/catalog"
	"github.com/MrWong99/mockinterview/internal/interview"
	"github.com/MrWong99/mockinterview/internal/observe"
)

const (
	maxBodyBytes       = 1 << 20
	defaultLatestLimit = 20
	feedbackFanOut     = 8
)

// errBadRequest marks client errors detected before any state changed.
var errBadRequest = errors.New("bad request")

func (a *App) routes() http.Handler {
	mux := http.NewServeMux()

	// ── Sessions ─────────────────────────────────────────────────────────
	mux.HandleFunc("POST /v1/sessions", a.createSession)
	mux.HandleFunc("GET /v1/sessions/{id}", a.getSession)
	mux.HandleFunc("POST /v1/sessions/{id}/start", a.startSession)
	mux.HandleFunc("POST /v1/sessions/{id}/stop", a.stopSession)
	mux.HandleFunc("POST /v1/sessions/{id}/retry", a.retrySession)
	mux.HandleFunc("DELETE /v1/sessions/{id}", a.deleteSession)
	mux.HandleFunc("GET /v1/sessions/{id}/audio", a.sessionAudio)

	// ── Interviews ───────────────────────────────────────────────────────
	mux.HandleFunc("POST /v1/interviews", a.generateInterview)
	mux.HandleFunc("GET /v1/interviews/latest", a.latestInterviews)
	mux.HandleFunc("GET /v1/interviews/{id}", a.getInterview)
	mux.HandleFunc("GET /v1/interviews/{id}/feedback", a.getFeedback)
	mux.HandleFunc("GET /v1/users/{userID}/interviews", a.userInterviews)

	// ── Operations ───────────────────────────────────────────────────────
	a.health.Register(mux)
	mux.Handle("GET /metrics", observe.MetricsHandler())

	return observe.Middleware(a.metrics)(mux)
}

// ── Sessions ────────────────────────────────────────────────────────────────

type createSessionRequest struct {
	Mode        interview.Mode `json:"mode"`
	UserID      string         `json:"userId"`
	UserName    string         `json:"userName"`
	InterviewID string         `json:"interviewId"`
}

func (a *App) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	agents := a.agents.Load()
	p := interview.Params{
		Mode:     req.Mode,
		UserID:   req.UserID,
		UserName: req.UserName,
	}
	switch req.Mode {
	case interview.ModeGenerate:
		p.WorkflowID = agents.generateWorkflow
	case interview.ModeInterview:
		if req.InterviewID == "" {
			writeError(w, r, fmt.Errorf("%w: interviewId is required", errBadRequest))
			return
		}
		iv, err := a.catalog.Get(r.Context(), req.InterviewID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		p.InterviewID = iv.ID
		p.Questions = iv.Questions
		p.Interviewer = agents.interviewer
	}
	if err := p.Validate(); err != nil {
		writeError(w, r, fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}

	snap, err := a.sessions.Start(r.Context(), p)
	if snap.ID == "" {
		writeError(w, r, err)
		return
	}
	writeSession(w, r, http.StatusCreated, snap, err)
}

func (a *App) getSession(w http.ResponseWriter, r *http.Request) {
	snap, err := a.sessions.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *App) startSession(w http.ResponseWriter, r *http.Request) {
	snap, err := a.sessions.StartAgain(r.Context(), r.PathValue("id"))
	if snap.ID == "" {
		writeError(w, r, err)
		return
	}
	writeSession(w, r, http.StatusOK, snap, err)
}

func (a *App) stopSession(w http.ResponseWriter, r *http.Request) {
	snap, err := a.sessions.Stop(r.PathValue("id"))
	if snap.ID == "" {
		writeError(w, r, err)
		return
	}
	writeSession(w, r, http.StatusAccepted, snap, err)
}

func (a *App) retrySession(w http.ResponseWriter, r *http.Request) {
	snap, err := a.sessions.Retry(r.Context(), r.PathValue("id"))
	if snap.ID == "" {
		writeError(w, r, err)
		return
	}
	writeSession(w, r, http.StatusOK, snap, err)
}

func (a *App) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := a.sessions.Close(r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// sessionResponse carries the snapshot alongside the error of an operation
// that changed state and then failed, such as a rejected call start.
type sessionResponse struct {
	Session interview.Snapshot `json:"session"`
	Error   string             `json:"error"`
}

func writeSession(w http.ResponseWriter, r *http.Request, okStatus int, snap interview.Snapshot, err error) {
	if err == nil {
		writeJSON(w, okStatus, snap)
		return
	}
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		// The engine rejected or failed the request.
		status = http.StatusBadGateway
	}
	observe.Logger(observe.WithSessionID(r.Context(), snap.ID)).Warn("session operation failed", "err", err)
	writeJSON(w, status, sessionResponse{Session: snap, Error: err.Error()})
}

// ── Interviews ──────────────────────────────────────────────────────────────

func (a *App) generateInterview(w http.ResponseWriter, r *http.Request) {
	var req catalog.GenerateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}
	iv, err := a.generator.Generate(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, iv)
}

func (a *App) getInterview(w http.ResponseWriter, r *http.Request) {
	iv, err := a.catalog.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, iv)
}

func (a *App) latestInterviews(w http.ResponseWriter, r *http.Request) {
	limit := defaultLatestLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeError(w, r, fmt.Errorf("%w: limit must be a positive integer", errBadRequest))
			return
		}
		limit = n
	}
	ivs, err := a.catalog.Latest(r.Context(), r.URL.Query().Get("user_id"), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(ivs))
}

func (a *App) getFeedback(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, r, fmt.Errorf("%w: user_id is required", errBadRequest))
		return
	}
	rec, err := a.feedback.Latest(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rec == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "feedback not found"})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// feedbackSummary is the part of a feedback record shown in interview lists.
type feedbackSummary struct {
	ID              string    `json:"id"`
	TotalScore      int       `json:"totalScore"`
	FinalAssessment string    `json:"finalAssessment"`
	CreatedAt       time.Time `json:"createdAt"`
}

type interviewWithFeedback struct {
	catalog.Interview
	Feedback *feedbackSummary `json:"feedback,omitempty"`
}

// userInterviews lists the user's interviews with their current feedback,
// looked up concurrently.
func (a *App) userInterviews(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	ivs, err := a.catalog.ListByUser(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]interviewWithFeedback, len(ivs))
	g, gctx := errgroup.WithContext(r.Context())
	g.SetLimit(feedbackFanOut)
	for i, iv := range ivs {
		out[i].Interview = iv
		g.Go(func() error {
			rec, err := a.feedback.Latest(gctx, iv.ID, userID)
			if err != nil {
				return fmt.Errorf("feedback for %s: %w", iv.ID, err)
			}
			if rec != nil {
				out[i].Feedback = &feedbackSummary{
					ID:              rec.ID,
					TotalScore:      rec.Result.TotalScore,
					FinalAssessment: rec.Result.FinalAssessment,
					CreatedAt:       rec.CreatedAt,
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// ── Helpers ─────────────────────────────────────────────────────────────────

type errorBody struct {
	Error string `json:"error"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, catalog.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, interview.ErrIllegalTransition), errors.Is(err, interview.ErrNoCall):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		observe.Logger(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: decode body: %w", errBadRequest, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode response", "err", err)
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
