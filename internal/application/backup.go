package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/example/session-timer/internal/backup"
)

// BackupService exports and imports full snapshots of the collection and the
// customer records.
type BackupService struct {
	manager *CollectionManager
	logger  *slog.Logger
}

// NewBackupService constructs a backup service over manager.
func NewBackupService(manager *CollectionManager) *BackupService {
	return NewBackupServiceWithLogger(manager, nil)
}

// NewBackupServiceWithLogger constructs a backup service with a specified logger.
func NewBackupServiceWithLogger(manager *CollectionManager, logger *slog.Logger) *BackupService {
	return &BackupService{manager: manager, logger: defaultLogger(logger)}
}

func (s *BackupService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "BackupService", operation, attrs...)
}

// Export captures the current state.
func (s *BackupService) Export(ctx context.Context) (backup.Snapshot, error) {
	if s == nil || s.manager == nil {
		return backup.Snapshot{}, fmt.Errorf("BackupService is not configured")
	}

	sessions := s.manager.List(ListFilter{})
	snap := backup.New(sessions, s.manager.Records().Wire(), s.manager.Now())
	s.loggerWith(ctx, "Export").InfoContext(ctx, "snapshot exported",
		"customers", snap.Metadata.TotalCustomers,
		"records", snap.Metadata.TotalRecords,
	)
	return snap, nil
}

// ExportCSV writes the current collection as CSV.
func (s *BackupService) ExportCSV(ctx context.Context, w io.Writer) error {
	if s == nil || s.manager == nil {
		return fmt.Errorf("BackupService is not configured")
	}
	return backup.WriteCSV(w, s.manager.List(ListFilter{}))
}

// Import validates data and, only if the whole document is valid, replaces
// the collection and the records with its contents.
func (s *BackupService) Import(ctx context.Context, data []byte) (summary ImportSummary, err error) {
	if s == nil || s.manager == nil {
		err = fmt.Errorf("BackupService is not configured")
		return
	}

	logger := s.loggerWith(ctx, "Import", "bytes", len(data))
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to import snapshot", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "snapshot imported", "customers", summary.Customers, "records", summary.Records)
	}()

	snap, err := backup.Parse(data)
	if err != nil {
		var parseErr *backup.ValidationError
		if errors.As(err, &parseErr) {
			err = &ValidationError{FieldErrors: parseErr.Fields}
		}
		return
	}

	sessions := snap.Sessions()
	if err = s.manager.ReplaceAll(ctx, sessions); err != nil {
		return
	}
	records := recordsFromWire(snap.Records)
	s.manager.Records().Replace(ctx, records)

	summary = ImportSummary{Customers: len(sessions), Records: len(records)}
	return
}
