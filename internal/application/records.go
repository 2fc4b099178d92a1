package application

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"github.com/example/session-timer/internal/backup"
	"github.com/example/session-timer/internal/cache"
	"github.com/example/session-timer/internal/session"
)

// RecordBook keeps the customer record rollup. It lives in the local cache
// under its own key, independent of the session snapshot.
type RecordBook struct {
	cache  LocalCache
	logger *slog.Logger

	mu      sync.Mutex
	records []CustomerRecord
}

// NewRecordBook constructs an empty record book backed by c. A nil cache
// keeps records in memory only.
func NewRecordBook(c LocalCache) *RecordBook {
	return NewRecordBookWithLogger(c, nil)
}

// NewRecordBookWithLogger constructs a record book with a specified logger.
func NewRecordBookWithLogger(c LocalCache, logger *slog.Logger) *RecordBook {
	return &RecordBook{cache: c, logger: defaultLogger(logger)}
}

func (b *RecordBook) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, b.logger, "RecordBook", operation, attrs...)
}

// Load reads the records from the cache. A missing or unreadable entry leaves
// the book empty.
func (b *RecordBook) Load(ctx context.Context) {
	if b.cache == nil {
		return
	}
	logger := b.loggerWith(ctx, "Load")

	data, ok, err := b.cache.Get(ctx, cache.KeyCustomerRecords)
	if err != nil {
		logger.WarnContext(ctx, "failed to read customer records", "error", err)
		return
	}
	if !ok {
		return
	}

	var wire []backup.Record
	if err := json.Unmarshal(data, &wire); err != nil {
		logger.WarnContext(ctx, "discarding unreadable customer records", "error", err)
		return
	}

	b.mu.Lock()
	b.records = recordsFromWire(wire)
	b.mu.Unlock()
}

// RecordVisit folds a finished visit of s into the customer's record. The
// visit is put first in the history.
func (b *RecordBook) RecordVisit(ctx context.Context, s session.Session, visit session.VisitRecord) {
	b.mu.Lock()
	idx := b.indexOf(s.ID)
	if idx < 0 {
		b.records = append(b.records, CustomerRecord{
			ID:          s.ID,
			Name:        s.Name,
			Photo:       clonePhoto(s.Photo),
			TotalVisits: 1,
			LastVisit:   visit.CheckOut,
			Status:      RecordActive,
			History:     []session.VisitRecord{visit},
		})
	} else {
		r := &b.records[idx]
		r.Name = s.Name
		r.Photo = clonePhoto(s.Photo)
		r.TotalVisits++
		r.LastVisit = visit.CheckOut
		r.Status = RecordActive
		r.History = append([]session.VisitRecord{visit}, r.History...)
	}
	b.mu.Unlock()

	b.persist(ctx)
}

// MarkInactive flags the record of a deleted session.
func (b *RecordBook) MarkInactive(ctx context.Context, id string) {
	b.mu.Lock()
	idx := b.indexOf(id)
	if idx >= 0 {
		b.records[idx].Status = RecordInactive
	}
	b.mu.Unlock()

	if idx >= 0 {
		b.persist(ctx)
	}
}

// List returns the records whose name contains query, case-insensitively.
func (b *RecordBook) List(query string) []CustomerRecord {
	query = strings.ToLower(strings.TrimSpace(query))

	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]CustomerRecord, 0, len(b.records))
	for _, r := range b.records {
		if query != "" && !strings.Contains(strings.ToLower(r.Name), query) {
			continue
		}
		out = append(out, r.clone())
	}
	return out
}

// Get returns the record with id.
func (b *RecordBook) Get(id string) (CustomerRecord, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := b.indexOf(id)
	if idx < 0 {
		return CustomerRecord{}, false
	}
	return b.records[idx].clone(), true
}

// Counts returns the number of records and how many of them are inactive.
func (b *RecordBook) Counts() (total, inactive int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, r := range b.records {
		if r.Status == RecordInactive {
			inactive++
		}
	}
	return len(b.records), inactive
}

// Replace swaps every record.
func (b *RecordBook) Replace(ctx context.Context, records []CustomerRecord) {
	next := make([]CustomerRecord, 0, len(records))
	for _, r := range records {
		next = append(next, r.clone())
	}

	b.mu.Lock()
	b.records = next
	b.mu.Unlock()

	b.persist(ctx)
}

// Save writes the records to the cache.
func (b *RecordBook) Save(ctx context.Context) error {
	if b.cache == nil {
		return nil
	}
	data, err := json.Marshal(b.Wire())
	if err != nil {
		return err
	}
	return b.cache.Set(ctx, cache.KeyCustomerRecords, data)
}

func (b *RecordBook) persist(ctx context.Context) {
	if err := b.Save(ctx); err != nil {
		b.loggerWith(ctx, "Save").WarnContext(ctx, "failed to save customer records", "error", err)
	}
}

// Wire returns the records in snapshot form.
func (b *RecordBook) Wire() []backup.Record {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]backup.Record, 0, len(b.records))
	for _, r := range b.records {
		out = append(out, recordToWire(r))
	}
	return out
}

func (b *RecordBook) indexOf(id string) int {
	for i := range b.records {
		if b.records[i].ID == id {
			return i
		}
	}
	return -1
}

func recordToWire(r CustomerRecord) backup.Record {
	total := r.TotalVisits
	return backup.Record{
		ID:          r.ID,
		Name:        r.Name,
		Photo:       clonePhoto(r.Photo),
		TotalVisits: &total,
		LastVisit:   r.LastVisit,
		Status:      string(r.Status),
		History:     backup.FromVisits(r.History),
	}
}

func recordsFromWire(wire []backup.Record) []CustomerRecord {
	out := make([]CustomerRecord, 0, len(wire))
	for _, w := range wire {
		r := CustomerRecord{
			ID:        w.ID,
			Name:      w.Name,
			Photo:     clonePhoto(w.Photo),
			LastVisit: w.LastVisit,
			Status:    RecordStatus(w.Status),
			History:   backup.ToVisits(w.History),
		}
		if w.TotalVisits != nil {
			r.TotalVisits = *w.TotalVisits
		}
		if r.Status == "" {
			r.Status = RecordActive
		}
		out = append(out, r)
	}
	return out
}

func clonePhoto(photo *string) *string {
	if photo == nil {
		return nil
	}
	value := *photo
	return &value
}
