// Package firestore implements the session gateway on Google Cloud Firestore.
// Each session is one document in a collection, with its visit history kept
// as an array field on the document.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/example/session-timer/internal/persistence"
	"github.com/example/session-timer/internal/session"
)

// DefaultCollection is the collection sessions are stored in unless
// overridden.
const DefaultCollection = "customers"

// maxTransactionWrites bounds ReplaceAll to what a single transaction accepts.
const maxTransactionWrites = 500

// Config contains configuration for the Firestore store.
type Config struct {
	ProjectID       string
	CredentialsFile string
	Collection      string

	now         func() time.Time
	idGenerator func() string
}

// Option configures a Store.
type Option func(*Config)

// WithProjectID sets the GCP project ID.
func WithProjectID(projectID string) Option {
	return func(c *Config) { c.ProjectID = projectID }
}

// WithCredentialsFile sets the path to service account credentials.
func WithCredentialsFile(path string) Option {
	return func(c *Config) { c.CredentialsFile = path }
}

// WithCollection overrides the collection name.
func WithCollection(name string) Option {
	return func(c *Config) {
		if name != "" {
			c.Collection = name
		}
	}
}

// WithClock overrides the time source used to stamp new sessions.
func WithClock(now func() time.Time) Option {
	return func(c *Config) {
		if now != nil {
			c.now = now
		}
	}
}

// WithIDGenerator overrides document identifier generation.
func WithIDGenerator(next func() string) Option {
	return func(c *Config) {
		if next != nil {
			c.idGenerator = next
		}
	}
}

// Store implements persistence.Gateway on Firestore.
type Store struct {
	client *firestore.Client
	coll   *firestore.CollectionRef
	cfg    Config
}

// New connects to Firestore. Application Default Credentials are used unless
// a credentials file is configured. The emulator is honoured through the
// FIRESTORE_EMULATOR_HOST environment variable.
func New(ctx context.Context, opts ...Option) (*Store, error) {
	cfg := Config{Collection: DefaultCollection, now: time.Now, idGenerator: uuid.NewString}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("firestore: project ID is required")
	}

	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := firestore.NewClient(ctx, cfg.ProjectID, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("firestore: create client: %w", err)
	}
	return &Store{client: client, coll: client.Collection(cfg.Collection), cfg: cfg}, nil
}

// Close releases the client.
func (s *Store) Close() error {
	return s.client.Close()
}

// List returns every session in display order.
func (s *Store) List(ctx context.Context) ([]session.Session, error) {
	iter := s.coll.Documents(ctx)
	defer iter.Stop()

	var out []session.Session
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore: list sessions: %w", mapError(err))
		}
		item, err := decode(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}

	session.Sort(out)
	return out, nil
}

// Create stores a new checked-in session built from draft.
func (s *Store) Create(ctx context.Context, draft persistence.Draft) (session.Session, error) {
	if draft.Duration <= 0 || draft.Name == "" {
		return session.Session{}, persistence.ErrConstraintViolation
	}

	created := session.CheckIn(s.cfg.idGenerator(), draft.Name, draft.Duration, s.cfg.now())
	if draft.Photo != nil {
		photo := *draft.Photo
		created.Photo = &photo
	}

	if _, err := s.coll.Doc(created.ID).Create(ctx, toDocument(created)); err != nil {
		return session.Session{}, fmt.Errorf("firestore: create session: %w", mapError(err))
	}
	return created, nil
}

// Update merges patch into the stored document inside a transaction. The
// history is read and rewritten rather than array-unioned so identical
// visits are kept.
func (s *Store) Update(ctx context.Context, id string, patch persistence.Patch) (session.Session, error) {
	ref := s.coll.Doc(id)
	var updated session.Session

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return mapError(err)
		}
		current, err := decode(snap)
		if err != nil {
			return err
		}

		updated = current.Clone()
		patch.Apply(&updated)
		return tx.Set(ref, toDocument(updated))
	})
	if err != nil {
		return session.Session{}, fmt.Errorf("firestore: update session %s: %w", id, mapError(err))
	}
	return updated, nil
}

// Delete removes a session document.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.coll.Doc(id).Delete(ctx, firestore.Exists); err != nil {
		return fmt.Errorf("firestore: delete session %s: %w", id, mapError(err))
	}
	return nil
}

// ReplaceAll swaps the collection in one transaction.
func (s *Store) ReplaceAll(ctx context.Context, sessions []session.Session) error {
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		existing, err := tx.Documents(s.coll).GetAll()
		if err != nil {
			return mapError(err)
		}
		if len(existing)+len(sessions) > maxTransactionWrites {
			return fmt.Errorf("%w: replacing %d documents with %d exceeds the transaction limit",
				persistence.ErrConstraintViolation, len(existing), len(sessions))
		}

		keep := make(map[string]bool, len(sessions))
		for _, item := range sessions {
			keep[item.ID] = true
		}
		for _, snap := range existing {
			if keep[snap.Ref.ID] {
				continue
			}
			if err := tx.Delete(snap.Ref); err != nil {
				return err
			}
		}
		for _, item := range sessions {
			if err := tx.Set(s.coll.Doc(item.ID), toDocument(item)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("firestore: replace sessions: %w", mapError(err))
	}
	return nil
}

func decode(snap *firestore.DocumentSnapshot) (session.Session, error) {
	var doc document
	if err := snap.DataTo(&doc); err != nil {
		return session.Session{}, fmt.Errorf("firestore: decode %s: %w", snap.Ref.ID, err)
	}
	return doc.toSession(snap.Ref.ID), nil
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, persistence.ErrNotFound) || errors.Is(err, persistence.ErrConstraintViolation) {
		return err
	}
	switch status.Code(err) {
	case codes.NotFound:
		return persistence.ErrNotFound
	case codes.AlreadyExists, codes.FailedPrecondition, codes.InvalidArgument:
		return fmt.Errorf("%w: %v", persistence.ErrConstraintViolation, err)
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted:
		return fmt.Errorf("%w: %v", persistence.ErrUnavailable, err)
	}
	return err
}
