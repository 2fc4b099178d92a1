package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/example/session-timer/internal/application"
	"github.com/example/session-timer/internal/backup"
	"github.com/example/session-timer/internal/session"
)

type sessionService interface {
	List(filter application.ListFilter) []session.Session
	Get(id string) (session.Session, error)
	CheckIn(ctx context.Context, input application.CheckInInput) (session.Session, error)
	EditTime(ctx context.Context, id string, duration int) (session.Session, error)
	Extend(ctx context.Context, id string) (application.ExtensionResult, error)
	CheckOut(ctx context.Context, id string) (session.Session, error)
	Finish(ctx context.Context, id string) (session.Session, error)
	Delete(ctx context.Context, id string) error
	Reading(s session.Session) session.Reading
	Stats() application.Stats
}

// SessionHandler serves the session collection.
type SessionHandler struct {
	service   sessionService
	logger    *slog.Logger
	responder responder
}

func NewSessionHandler(service sessionService) *SessionHandler {
	return NewSessionHandlerWithLogger(service, nil)
}

func NewSessionHandlerWithLogger(service sessionService, logger *slog.Logger) *SessionHandler {
	base := defaultLogger(logger)
	return &SessionHandler{
		service:   service,
		logger:    base,
		responder: newResponder(base),
	}
}

func (h *SessionHandler) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "SessionHandler", operation, attrs...)
}

// sessionDTO is the wire form of a session plus values derived from the
// current instant for display.
type sessionDTO struct {
	backup.Customer
	Display displayDTO `json:"display"`
}

type displayDTO struct {
	Remaining   string  `json:"remaining"`
	RemainingMs int64   `json:"remainingMs"`
	Progress    float64 `json:"progress"`
	NearingEnd  bool    `json:"nearingEnd"`
}

type checkInRequest struct {
	Name     string  `json:"name"`
	Duration int     `json:"duration"`
	Photo    *string `json:"photo"`
}

type editTimeRequest struct {
	Duration int `json:"duration"`
}

type extensionResponse struct {
	Granted           bool        `json:"granted"`
	Message           string      `json:"message,omitempty"`
	RetryAfterMinutes int         `json:"retryAfterMinutes,omitempty"`
	Session           *sessionDTO `json:"session,omitempty"`
}

type timeOptionsResponse struct {
	Options []int `json:"options"`
	Default int   `json:"default"`
}

func (h *SessionHandler) toDTO(s session.Session) sessionDTO {
	dto := sessionDTO{Customer: backup.FromSession(s)}
	if s.Status != session.StatusCheckedIn {
		return dto
	}
	reading := h.service.Reading(s)
	dto.Display = displayDTO{
		Remaining:   session.FormatRemaining(reading.Remaining),
		RemainingMs: reading.Remaining.Milliseconds(),
		Progress:    reading.Progress,
		NearingEnd:  reading.NearingEnd,
	}
	return dto
}

func (h *SessionHandler) toDTOs(sessions []session.Session) []sessionDTO {
	out := make([]sessionDTO, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, h.toDTO(s))
	}
	return out
}

// List returns the collection in display order. The q and status query
// parameters narrow it down.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	query := r.URL.Query()
	filter := application.ListFilter{Query: query.Get("q")}
	if raw := strings.TrimSpace(query.Get("status")); raw != "" {
		status := session.Status(raw)
		if !status.Valid() {
			h.responder.writeError(ctx, w, http.StatusBadRequest, errInvalidStatus)
			return
		}
		filter.Status = status
	}

	sessions := h.service.List(filter)
	h.loggerWith(ctx, "List").DebugContext(ctx, "sessions listed", "count", len(sessions))
	h.responder.writeJSON(ctx, w, http.StatusOK, h.toDTOs(sessions))
}

// Get returns one session.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	id, ok := SessionIDFromContext(ctx)
	if !ok || id == "" {
		h.responder.writeError(ctx, w, http.StatusBadRequest, errInvalidSessionID)
		return
	}

	s, err := h.service.Get(id)
	if err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}
	h.responder.writeJSON(ctx, w, http.StatusOK, h.toDTO(s))
}

// Create checks a new customer in.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	var req checkInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.loggerWith(ctx, "Create").WarnContext(ctx, "failed to decode request", "error", err, "error_kind", "bad_request")
		h.responder.writeError(ctx, w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	created, err := h.service.CheckIn(ctx, application.CheckInInput{
		Name:     req.Name,
		Duration: req.Duration,
		Photo:    req.Photo,
	})
	if err != nil {
		h.loggerWith(ctx, "Create").ErrorContext(ctx, "failed to check in", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	h.loggerWith(ctx, "Create", "session_id", created.ID).InfoContext(ctx, "customer checked in")
	h.responder.writeJSON(ctx, w, http.StatusCreated, h.toDTO(created))
}

// EditTime restarts a session with a new duration.
func (h *SessionHandler) EditTime(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	id, ok := SessionIDFromContext(ctx)
	if !ok || id == "" {
		h.responder.writeError(ctx, w, http.StatusBadRequest, errInvalidSessionID)
		return
	}

	var req editTimeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.loggerWith(ctx, "EditTime", "session_id", id).WarnContext(ctx, "failed to decode request", "error", err, "error_kind", "bad_request")
		h.responder.writeError(ctx, w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	updated, err := h.service.EditTime(ctx, id, req.Duration)
	if err != nil {
		h.loggerWith(ctx, "EditTime", "session_id", id).ErrorContext(ctx, "failed to edit time", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	h.responder.writeJSON(ctx, w, http.StatusOK, h.toDTO(updated))
}

// Extend grants an extension or answers 409 Conflict with the wait left.
func (h *SessionHandler) Extend(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	id, ok := SessionIDFromContext(ctx)
	if !ok || id == "" {
		h.responder.writeError(ctx, w, http.StatusBadRequest, errInvalidSessionID)
		return
	}

	result, err := h.service.Extend(ctx, id)
	if err != nil {
		h.loggerWith(ctx, "Extend", "session_id", id).ErrorContext(ctx, "failed to extend", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	dto := h.toDTO(result.Session)
	if !result.Granted {
		h.loggerWith(ctx, "Extend", "session_id", id).InfoContext(ctx, "extension denied", "retry_after_minutes", result.RetryAfterMinutes)
		h.responder.writeJSON(ctx, w, http.StatusConflict, extensionResponse{
			Granted:           false,
			Message:           result.Message(),
			RetryAfterMinutes: result.RetryAfterMinutes,
			Session:           &dto,
		})
		return
	}

	h.responder.writeJSON(ctx, w, http.StatusOK, extensionResponse{Granted: true, Session: &dto})
}

// CheckOut ends a session at the customer's request.
func (h *SessionHandler) CheckOut(w http.ResponseWriter, r *http.Request) {
	h.close(w, r, "CheckOut", h.serviceCheckOut)
}

// Finish ends a session whose time has run out.
func (h *SessionHandler) Finish(w http.ResponseWriter, r *http.Request) {
	h.close(w, r, "Finish", h.serviceFinish)
}

func (h *SessionHandler) serviceCheckOut(ctx context.Context, id string) (session.Session, error) {
	return h.service.CheckOut(ctx, id)
}

func (h *SessionHandler) serviceFinish(ctx context.Context, id string) (session.Session, error) {
	return h.service.Finish(ctx, id)
}

func (h *SessionHandler) close(w http.ResponseWriter, r *http.Request, operation string, action func(context.Context, string) (session.Session, error)) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	id, ok := SessionIDFromContext(ctx)
	if !ok || id == "" {
		h.responder.writeError(ctx, w, http.StatusBadRequest, errInvalidSessionID)
		return
	}

	updated, err := action(ctx, id)
	if err != nil {
		h.loggerWith(ctx, operation, "session_id", id).ErrorContext(ctx, "failed to close session", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	h.responder.writeJSON(ctx, w, http.StatusOK, h.toDTO(updated))
}

// Delete removes a session.
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	id, ok := SessionIDFromContext(ctx)
	if !ok || id == "" {
		h.responder.writeError(ctx, w, http.StatusBadRequest, errInvalidSessionID)
		return
	}

	if err := h.service.Delete(ctx, id); err != nil {
		h.loggerWith(ctx, "Delete", "session_id", id).ErrorContext(ctx, "failed to delete session", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	h.loggerWith(ctx, "Delete", "session_id", id).InfoContext(ctx, "session deleted")
	w.WriteHeader(http.StatusNoContent)
}

// Stats returns the counters shown on the dashboard.
func (h *SessionHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, h.service.Stats())
}

// TimeOptions returns the durations offered at check-in.
func (h *SessionHandler) TimeOptions(w http.ResponseWriter, r *http.Request) {
	h.responder.writeJSON(r.Context(), w, http.StatusOK, timeOptionsResponse{
		Options: append([]int(nil), session.DurationOptions...),
		Default: session.DefaultDuration,
	})
}

// Healthz reports liveness.
func Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}
