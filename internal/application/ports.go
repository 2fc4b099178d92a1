package application

import (
	"context"

	"github.com/example/session-timer/internal/persistence"
	"github.com/example/session-timer/internal/session"
)

// SessionGateway captures the persistence operations the collection needs.
type SessionGateway interface {
	List(ctx context.Context) ([]session.Session, error)
	Create(ctx context.Context, draft persistence.Draft) (session.Session, error)
	Update(ctx context.Context, id string, patch persistence.Patch) (session.Session, error)
	Delete(ctx context.Context, id string) error
	ReplaceAll(ctx context.Context, sessions []session.Session) error
}

// LocalCache is the key/value store snapshots are mirrored into.
type LocalCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
}

// Recorder receives operational measurements.
type Recorder interface {
	ObserveMutation(event, outcome string)
	ObserveScan(expired, flagged int)
	ObserveExtension(granted bool)
	ObserveReload(source string, ok bool)
	SetSessions(status string, n int)
}

type nopRecorder struct{}

func (nopRecorder) ObserveMutation(string, string) {}
func (nopRecorder) ObserveScan(int, int)           {}
func (nopRecorder) ObserveExtension(bool)          {}
func (nopRecorder) ObserveReload(string, bool)     {}
func (nopRecorder) SetSessions(string, int)        {}
