package application

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/example/session-timer/internal/session"
)

// PhotoStore keeps customer photos and hands back the reference stored on a
// session.
type PhotoStore interface {
	Save(ctx context.Context, sessionID string, image io.Reader) (string, error)
	Remove(ctx context.Context, url string) error
}

// PhotoService attaches photos to sessions.
type PhotoService struct {
	manager *CollectionManager
	store   PhotoStore
	logger  *slog.Logger
}

// NewPhotoService constructs a photo service.
func NewPhotoService(manager *CollectionManager, store PhotoStore) *PhotoService {
	return NewPhotoServiceWithLogger(manager, store, nil)
}

// NewPhotoServiceWithLogger constructs a photo service with a specified logger.
func NewPhotoServiceWithLogger(manager *CollectionManager, store PhotoStore, logger *slog.Logger) *PhotoService {
	return &PhotoService{manager: manager, store: store, logger: defaultLogger(logger)}
}

func (s *PhotoService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "PhotoService", operation, attrs...)
}

// Upload stores image and points the session at it. A previous photo is
// removed once the new one is in place.
func (s *PhotoService) Upload(ctx context.Context, id string, image io.Reader) (updated session.Session, err error) {
	if s == nil || s.manager == nil || s.store == nil {
		err = fmt.Errorf("PhotoService is not configured")
		return
	}

	logger := s.loggerWith(ctx, "Upload", "session_id", id)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to upload photo", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "photo uploaded", "photo", *updated.Photo)
	}()

	current, err := s.manager.Get(id)
	if err != nil {
		return
	}

	url, err := s.store.Save(ctx, id, image)
	if err != nil {
		err = fmt.Errorf("saving photo: %w", err)
		return
	}

	updated, err = s.manager.SetPhoto(ctx, id, &url)
	if err != nil {
		if rmErr := s.store.Remove(ctx, url); rmErr != nil {
			logger.WarnContext(ctx, "failed to remove orphaned photo", "photo", url, "error", rmErr)
		}
		return
	}

	if current.Photo != nil && *current.Photo != url {
		if rmErr := s.store.Remove(ctx, *current.Photo); rmErr != nil {
			logger.WarnContext(ctx, "failed to remove replaced photo", "photo", *current.Photo, "error", rmErr)
		}
	}
	return
}

// Remove deletes the session's photo and clears the reference.
func (s *PhotoService) Remove(ctx context.Context, id string) (updated session.Session, err error) {
	if s == nil || s.manager == nil || s.store == nil {
		err = fmt.Errorf("PhotoService is not configured")
		return
	}

	logger := s.loggerWith(ctx, "Remove", "session_id", id)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to remove photo", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "photo removed")
	}()

	current, err := s.manager.Get(id)
	if err != nil {
		return
	}
	if current.Photo == nil {
		err = fmt.Errorf("session %s has no photo: %w", id, ErrNotFound)
		return
	}

	if err = s.store.Remove(ctx, *current.Photo); err != nil {
		err = fmt.Errorf("removing photo: %w", err)
		return
	}

	updated, err = s.manager.SetPhoto(ctx, id, nil)
	return
}
