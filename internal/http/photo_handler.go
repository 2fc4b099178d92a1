package http

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/example/session-timer/internal/application"
	"github.com/example/session-timer/internal/backup"
	"github.com/example/session-timer/internal/photo"
	"github.com/example/session-timer/internal/session"
)

type photoService interface {
	Upload(ctx context.Context, id string, image io.Reader) (session.Session, error)
	Remove(ctx context.Context, id string) (session.Session, error)
}

// PhotoHandler attaches uploaded photos to sessions.
type PhotoHandler struct {
	service   photoService
	sessions  *SessionHandler
	logger    *slog.Logger
	responder responder
}

// NewPhotoHandler builds a photo handler. Responses are rendered through
// sessions so they carry the same display fields as the session endpoints.
func NewPhotoHandler(service photoService, sessions *SessionHandler) *PhotoHandler {
	return NewPhotoHandlerWithLogger(service, sessions, nil)
}

func NewPhotoHandlerWithLogger(service photoService, sessions *SessionHandler, logger *slog.Logger) *PhotoHandler {
	base := defaultLogger(logger)
	return &PhotoHandler{
		service:   service,
		sessions:  sessions,
		logger:    base,
		responder: newResponder(base),
	}
}

func (h *PhotoHandler) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "PhotoHandler", operation, attrs...)
}

func (h *PhotoHandler) render(s session.Session) any {
	if h.sessions == nil || h.sessions.service == nil {
		return sessionDTO{Customer: backup.FromSession(s)}
	}
	return h.sessions.toDTO(s)
}

// Upload reads the multipart "photo" field and stores it for the session.
func (h *PhotoHandler) Upload(w http.ResponseWriter, r *http.Request) {
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

	r.Body = http.MaxBytesReader(w, r.Body, photo.MaxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(photo.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.responder.writeJSON(ctx, w, http.StatusRequestEntityTooLarge, errorResponse{Message: "The photo is too large."})
			return
		}
		h.loggerWith(ctx, "Upload", "session_id", id).WarnContext(ctx, "failed to parse upload", "error", err, "error_kind", "bad_request")
		h.responder.writeError(ctx, w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	file, _, err := r.FormFile("photo")
	if err != nil {
		h.responder.writeError(ctx, w, http.StatusBadRequest, errMissingPhoto)
		return
	}
	defer file.Close()

	updated, err := h.service.Upload(ctx, id, file)
	if err != nil {
		h.loggerWith(ctx, "Upload", "session_id", id).ErrorContext(ctx, "failed to upload photo", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	h.responder.writeJSON(ctx, w, http.StatusOK, h.render(updated))
}

// Remove deletes the session's photo.
func (h *PhotoHandler) Remove(w http.ResponseWriter, r *http.Request) {
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

	updated, err := h.service.Remove(ctx, id)
	if err != nil {
		h.loggerWith(ctx, "Remove", "session_id", id).ErrorContext(ctx, "failed to remove photo", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	h.responder.writeJSON(ctx, w, http.StatusOK, h.render(updated))
}
