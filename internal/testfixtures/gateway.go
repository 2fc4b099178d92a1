package testfixtures

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/session-timer/internal/persistence"
	"github.com/example/session-timer/internal/session"
)

// ErrInjected is the failure FlakyGateway reports for scripted operations.
var ErrInjected = errors.New("testfixtures: injected gateway failure")

// FlakyGateway wraps a gateway and fails the operations it is told to fail.
type FlakyGateway struct {
	Inner persistence.Gateway

	mu     sync.Mutex
	fails  map[string]int
	calls  map[string]int
	blocks map[string]*gate
}

type gate struct {
	entered chan struct{}
	release chan struct{}
}

// NewFlakyGateway wraps inner.
func NewFlakyGateway(inner persistence.Gateway) *FlakyGateway {
	return &FlakyGateway{
		Inner:  inner,
		fails:  make(map[string]int),
		calls:  make(map[string]int),
		blocks: make(map[string]*gate),
	}
}

// FailNext makes the next n calls to operation ("List", "Create", "Update",
// "Delete" or "ReplaceAll") return ErrInjected.
func (g *FlakyGateway) FailNext(operation string, n int) {
	g.mu.Lock()
	g.fails[operation] += n
	g.mu.Unlock()
}

// BlockNext holds the next call to operation before it reaches the inner
// gateway. entered is closed once the call is held; the call proceeds after
// release is invoked.
func (g *FlakyGateway) BlockNext(operation string) (entered <-chan struct{}, release func()) {
	b := &gate{entered: make(chan struct{}), release: make(chan struct{})}
	g.mu.Lock()
	g.blocks[operation] = b
	g.mu.Unlock()

	var once sync.Once
	return b.entered, func() { once.Do(func() { close(b.release) }) }
}

// Calls reports how many times operation was invoked.
func (g *FlakyGateway) Calls(operation string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[operation]
}

func (g *FlakyGateway) trip(operation string) error {
	g.mu.Lock()
	g.calls[operation]++
	b := g.blocks[operation]
	delete(g.blocks, operation)
	failed := g.fails[operation] > 0
	if failed {
		g.fails[operation]--
	}
	g.mu.Unlock()

	if b != nil {
		close(b.entered)
		<-b.release
	}
	if failed {
		return ErrInjected
	}
	return nil
}

func (g *FlakyGateway) List(ctx context.Context) ([]session.Session, error) {
	if err := g.trip("List"); err != nil {
		return nil, err
	}
	return g.Inner.List(ctx)
}

func (g *FlakyGateway) Create(ctx context.Context, draft persistence.Draft) (session.Session, error) {
	if err := g.trip("Create"); err != nil {
		return session.Session{}, err
	}
	return g.Inner.Create(ctx, draft)
}

func (g *FlakyGateway) Update(ctx context.Context, id string, patch persistence.Patch) (session.Session, error) {
	if err := g.trip("Update"); err != nil {
		return session.Session{}, err
	}
	return g.Inner.Update(ctx, id, patch)
}

func (g *FlakyGateway) Delete(ctx context.Context, id string) error {
	if err := g.trip("Delete"); err != nil {
		return err
	}
	return g.Inner.Delete(ctx, id)
}

func (g *FlakyGateway) ReplaceAll(ctx context.Context, sessions []session.Session) error {
	if err := g.trip("ReplaceAll"); err != nil {
		return err
	}
	return g.Inner.ReplaceAll(ctx, sessions)
}

// GatewayFactory builds a fresh, empty gateway whose creation timestamps come
// from clock.
type GatewayFactory func(t *testing.T, clock *Clock) persistence.Gateway

// RunGatewayContract exercises the behaviour every gateway implementation
// shares.
func RunGatewayContract(t *testing.T, factory GatewayFactory) {
	t.Helper()
	ctx := context.Background()

	t.Run("create assigns id and interval", func(t *testing.T) {
		clock := NewClock(time.Time{})
		gw := factory(t, clock)

		created, err := gw.Create(ctx, persistence.Draft{Name: "Ada", Duration: 30})
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if created.ID == "" {
			t.Fatalf("expected an identifier to be assigned")
		}
		if created.Status != session.StatusCheckedIn {
			t.Fatalf("expected checked-in, got %s", created.Status)
		}
		if !created.Interval.StartTime.Equal(session.Instant(clock.Now())) {
			t.Fatalf("expected start %s, got %s", clock.Now(), created.Interval.StartTime)
		}
		if got := created.Interval.EndTime.Sub(created.Interval.StartTime); got != 30*time.Minute {
			t.Fatalf("expected 30m interval, got %s", got)
		}

		listed, err := gw.List(ctx)
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(listed) != 1 || listed[0].ID != created.ID || listed[0].Name != "Ada" {
			t.Fatalf("unexpected listing: %+v", listed)
		}
	})

	t.Run("update merges fields and appends history", func(t *testing.T) {
		clock := NewClock(time.Time{})
		gw := factory(t, clock)

		created, err := gw.Create(ctx, persistence.Draft{Name: "Grace", Duration: 60})
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}

		checkedOut := created.Clone()
		session.CheckOut(&checkedOut, clock.AdvanceMinutes(20))
		patch := persistence.Diff(created, checkedOut)

		updated, err := gw.Update(ctx, created.ID, patch)
		if err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		if updated.Status != session.StatusCheckedOut || updated.Name != "Grace" {
			t.Fatalf("unexpected updated session: %+v", updated)
		}
		if len(updated.History) != 1 || !updated.History[0].CompletedSession {
			t.Fatalf("expected one completed visit, got %+v", updated.History)
		}

		photo := "/uploads/customers/grace.jpg"
		updated, err = gw.Update(ctx, created.ID, persistence.Patch{
			Photo:         &photo,
			AppendHistory: []session.VisitRecord{{CheckIn: "a", CheckOut: "b", Duration: 5, TimeEnded: true}},
		})
		if err != nil {
			t.Fatalf("second Update failed: %v", err)
		}
		if len(updated.History) != 2 || updated.History[1].CheckIn != "a" {
			t.Fatalf("expected history to be appended, got %+v", updated.History)
		}
		if updated.Photo == nil || *updated.Photo != photo {
			t.Fatalf("expected photo to be set, got %v", updated.Photo)
		}

		listed, err := gw.List(ctx)
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(listed) != 1 || len(listed[0].History) != 2 || !listed[0].Interval.EndTime.Equal(checkedOut.Interval.EndTime) {
			t.Fatalf("unexpected persisted state: %+v", listed)
		}

		updated, err = gw.Update(ctx, created.ID, persistence.Patch{ClearPhoto: true})
		if err != nil {
			t.Fatalf("third Update failed: %v", err)
		}
		if updated.Photo != nil {
			t.Fatalf("expected photo to be cleared")
		}
	})

	t.Run("update and delete of unknown id report not found", func(t *testing.T) {
		gw := factory(t, NewClock(time.Time{}))

		name := "x"
		if _, err := gw.Update(ctx, "missing", persistence.Patch{Name: &name}); !errors.Is(err, persistence.ErrNotFound) {
			t.Fatalf("expected ErrNotFound from Update, got %v", err)
		}
		if err := gw.Delete(ctx, "missing"); !errors.Is(err, persistence.ErrNotFound) {
			t.Fatalf("expected ErrNotFound from Delete, got %v", err)
		}
	})

	t.Run("delete removes the session", func(t *testing.T) {
		gw := factory(t, NewClock(time.Time{}))

		created, err := gw.Create(ctx, persistence.Draft{Name: "Linus", Duration: 90})
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if err := gw.Delete(ctx, created.ID); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		listed, err := gw.List(ctx)
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(listed) != 0 {
			t.Fatalf("expected empty collection, got %d", len(listed))
		}
	})

	t.Run("replace all swaps the collection", func(t *testing.T) {
		clock := NewClock(time.Time{})
		gw := factory(t, clock)

		if _, err := gw.Create(ctx, persistence.Draft{Name: "Old", Duration: 30}); err != nil {
			t.Fatalf("Create failed: %v", err)
		}

		active := NewSessionFixture(WithSessionID("import-1"), WithSessionStart(clock.Now()), WithSessionExtendedAt(10*time.Minute)).Session()
		done := NewSessionFixture(WithSessionID("import-2"), WithSessionStart(clock.Now()), WithSessionPhoto("/uploads/customers/x.jpg"), WithSessionCheckedOutAfter(5*time.Minute)).Session()

		if err := gw.ReplaceAll(ctx, []session.Session{active, done}); err != nil {
			t.Fatalf("ReplaceAll failed: %v", err)
		}

		listed, err := gw.List(ctx)
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(listed) != 2 {
			t.Fatalf("expected 2 sessions, got %d", len(listed))
		}
		byID := map[string]session.Session{}
		for _, s := range listed {
			byID[s.ID] = s
		}
		got, ok := byID["import-1"]
		if !ok || got.Interval.ExtensionCount != 1 || got.Interval.LastExtensionTime == nil || !got.Interval.HasExtended {
			t.Fatalf("unexpected imported active session: %+v", got)
		}
		got, ok = byID["import-2"]
		if !ok || got.Status != session.StatusCheckedOut || len(got.History) != 1 || got.Photo == nil {
			t.Fatalf("unexpected imported finished session: %+v", got)
		}
	})
}
