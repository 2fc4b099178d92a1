package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/example/session-timer/internal/application"
	"github.com/example/session-timer/internal/backup"
)

// MaxImportBytes caps the size of an uploaded backup.
const MaxImportBytes = 10 << 20

type backupService interface {
	Export(ctx context.Context) (backup.Snapshot, error)
	ExportCSV(ctx context.Context, w io.Writer) error
	Import(ctx context.Context, data []byte) (application.ImportSummary, error)
}

// BackupHandler exports and imports snapshots.
type BackupHandler struct {
	service   backupService
	logger    *slog.Logger
	responder responder
}

func NewBackupHandler(service backupService) *BackupHandler {
	return NewBackupHandlerWithLogger(service, nil)
}

func NewBackupHandlerWithLogger(service backupService, logger *slog.Logger) *BackupHandler {
	base := defaultLogger(logger)
	return &BackupHandler{service: service, logger: base, responder: newResponder(base)}
}

func (h *BackupHandler) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "BackupHandler", operation, attrs...)
}

// Export downloads the JSON snapshot.
func (h *BackupHandler) Export(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	snap, err := h.service.Export(ctx)
	if err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	w.Header().Set("Content-Disposition", attachment("customers-backup", snap.ExportDate, "json"))
	h.responder.writeJSON(ctx, w, http.StatusOK, snap)
}

// ExportCSV downloads the collection as CSV.
func (h *BackupHandler) ExportCSV(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	var buf strings.Builder
	if err := h.service.ExportCSV(ctx, &buf); err != nil {
		h.loggerWith(ctx, "ExportCSV").ErrorContext(ctx, "failed to export csv", "error", err)
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="customers.csv"`)
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, buf.String())
}

// Import replaces the collection with an uploaded snapshot. The snapshot may
// be the raw request body or a multipart "file" field.
func (h *BackupHandler) Import(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, MaxImportBytes)
	data, err := readImport(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			h.responder.writeJSON(ctx, w, http.StatusRequestEntityTooLarge, errorResponse{Message: "The backup file is too large."})
		case errors.Is(err, errMissingBackup):
			h.responder.writeError(ctx, w, http.StatusBadRequest, errMissingBackup)
		default:
			h.loggerWith(ctx, "Import").WarnContext(ctx, "failed to read backup", "error", err, "error_kind", "bad_request")
			h.responder.writeError(ctx, w, http.StatusBadRequest, errBadRequestBody)
		}
		return
	}

	summary, err := h.service.Import(ctx, data)
	if err != nil {
		h.loggerWith(ctx, "Import").ErrorContext(ctx, "failed to import backup", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	h.responder.writeJSON(ctx, w, http.StatusOK, summary)
}

func readImport(r *http.Request) ([]byte, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, err
		}
		if len(strings.TrimSpace(string(data))) == 0 {
			return nil, errMissingBackup
		}
		return data, nil
	}

	if err := r.ParseMultipartForm(MaxImportBytes); err != nil {
		return nil, err
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, errMissingBackup
	}
	defer file.Close()
	return io.ReadAll(file)
}

func attachment(prefix, stamp, ext string) string {
	day := stamp
	if len(day) >= 10 {
		day = day[:10]
	}
	if day == "" {
		return fmt.Sprintf(`attachment; filename="%s.%s"`, prefix, ext)
	}
	return fmt.Sprintf(`attachment; filename="%s-%s.%s"`, prefix, day, ext)
}
