package http

import (
	"log/slog"
	"net/http"

	"github.com/example/session-timer/internal/application"
	"github.com/example/session-timer/internal/backup"
)

type recordLister interface {
	List(query string) []application.CustomerRecord
}

// RecordHandler serves the customer record rollup.
type RecordHandler struct {
	records   recordLister
	logger    *slog.Logger
	responder responder
}

func NewRecordHandler(records recordLister) *RecordHandler {
	return NewRecordHandlerWithLogger(records, nil)
}

func NewRecordHandlerWithLogger(records recordLister, logger *slog.Logger) *RecordHandler {
	base := defaultLogger(logger)
	return &RecordHandler{records: records, logger: base, responder: newResponder(base)}
}

// List returns the records whose name matches the q parameter.
func (h *RecordHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.records == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	records := h.records.List(r.URL.Query().Get("q"))
	out := make([]backup.Record, 0, len(records))
	for _, rec := range records {
		total := rec.TotalVisits
		out = append(out, backup.Record{
			ID:          rec.ID,
			Name:        rec.Name,
			Photo:       rec.Photo,
			TotalVisits: &total,
			LastVisit:   rec.LastVisit,
			Status:      string(rec.Status),
			History:     backup.FromVisits(rec.History),
		})
	}

	handlerLogger(ctx, h.logger, "RecordHandler", "List").DebugContext(ctx, "records listed", "count", len(out))
	h.responder.writeJSON(ctx, w, http.StatusOK, out)
}
