package application

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/example/session-timer/internal/backup"
	"github.com/example/session-timer/internal/cache"
	"github.com/example/session-timer/internal/session"
	"github.com/example/session-timer/internal/testfixtures"
)

func requireValidationField(t *testing.T, err error, field string) {
	t.Helper()
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, ok := vErr.FieldErrors[field]; !ok {
		t.Fatalf("expected field %q in %v", field, vErr.FieldErrors)
	}
}

func ids(sessions []session.Session) []string {
	out := make([]string, len(sessions))
	for i, s := range sessions {
		out[i] = s.ID
	}
	return out
}

func TestCollectionManager_Scenario(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, withThreshold(5*time.Minute))
	t0 := h.clock.Now()

	created, err := h.manager.CheckIn(ctx, CheckInInput{Name: "Alice", Duration: 30})
	if err != nil {
		t.Fatalf("CheckIn failed: %v", err)
	}
	if created.Interval.Duration != 30 {
		t.Fatalf("expected duration 30, got %d", created.Interval.Duration)
	}
	if !created.Interval.EndTime.Equal(t0.Add(1800 * time.Second)) {
		t.Fatalf("expected end %s, got %s", t0.Add(30*time.Minute), created.Interval.EndTime)
	}

	h.clock.Advance(1795 * time.Second)
	result, err := h.manager.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(result.Flagged) != 1 || result.Flagged[0] != created.ID {
		t.Fatalf("expected %s to be flagged, got %+v", created.ID, result)
	}
	flagged, err := h.manager.Get(created.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !flagged.Interval.IsNearingEnd {
		t.Fatalf("expected nearing end flag to be set")
	}

	ext, err := h.manager.Extend(ctx, created.ID)
	if err != nil {
		t.Fatalf("Extend failed: %v", err)
	}
	if !ext.Granted {
		t.Fatalf("expected extension to be granted, got %+v", ext)
	}
	iv := ext.Session.Interval
	if want := t0.Add(1795*time.Second + 1800*time.Second); !iv.EndTime.Equal(want) {
		t.Fatalf("expected end %s, got %s", want, iv.EndTime)
	}
	if iv.Duration != 60 || iv.ExtensionCount != 1 || !iv.HasExtended || iv.IsNearingEnd {
		t.Fatalf("unexpected interval after extension: %+v", iv)
	}

	done, err := h.manager.CheckOut(ctx, created.ID)
	if err != nil {
		t.Fatalf("CheckOut failed: %v", err)
	}
	if done.Status != session.StatusCheckedOut || len(done.History) != 1 {
		t.Fatalf("unexpected session after checkout: %+v", done)
	}
	visit := done.History[0]
	if !visit.CompletedSession || visit.TimeEnded || visit.ExtensionsUsed != 1 || !visit.WasExtended {
		t.Fatalf("unexpected visit record: %+v", visit)
	}

	stored, err := h.store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(stored) != 1 || stored[0].Status != session.StatusCheckedOut || len(stored[0].History) != 1 {
		t.Fatalf("expected checkout to be persisted, got %+v", stored)
	}

	record, ok := h.manager.Records().Get(created.ID)
	if !ok || record.TotalVisits != 1 || record.Status != RecordActive || record.LastVisit != visit.CheckOut {
		t.Fatalf("unexpected customer record: %+v", record)
	}
}

func TestCollectionManager_NearingEndTracksClock(t *testing.T) {
	ctx := context.Background()
	threshold := 5 * time.Minute
	h := newHarness(t, withThreshold(threshold))

	for _, d := range []int{12, 30} {
		if _, err := h.manager.CheckIn(ctx, CheckInInput{Name: "n", Duration: d}); err != nil {
			t.Fatalf("CheckIn failed: %v", err)
		}
	}

	for step := 0; step < 40; step++ {
		h.clock.AdvanceMinutes(1)
		if _, err := h.manager.Scan(ctx); err != nil {
			t.Fatalf("Scan failed at step %d: %v", step, err)
		}
		now := h.clock.Now()
		for _, s := range h.manager.List(ListFilter{}) {
			if s.Status == session.StatusCheckedOut {
				if s.Interval.IsNearingEnd {
					t.Fatalf("checked-out session %s still flagged", s.ID)
				}
				continue
			}
			remaining := s.Interval.EndTime.Sub(now)
			want := remaining > 0 && remaining <= threshold
			if s.Interval.IsNearingEnd != want {
				t.Fatalf("step %d: session %s flag %v, remaining %s", step, s.ID, s.Interval.IsNearingEnd, remaining)
			}
		}
	}
}

func TestCollectionManager_CheckInValidation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.manager.CheckIn(ctx, CheckInInput{Name: "   ", Duration: -5})
	requireValidationField(t, err, "name")
	requireValidationField(t, err, "duration")

	_, err = h.manager.CheckIn(ctx, CheckInInput{Name: "Bob", Duration: MaxDuration + 1})
	requireValidationField(t, err, "duration")

	if calls := h.gateway.Calls("Create"); calls != 0 {
		t.Fatalf("expected no gateway calls, got %d", calls)
	}
	if got := h.manager.List(ListFilter{}); len(got) != 0 {
		t.Fatalf("expected empty collection, got %d", len(got))
	}
}

func TestCollectionManager_CheckInDefaultsDuration(t *testing.T) {
	h := newHarness(t)

	created, err := h.manager.CheckIn(context.Background(), CheckInInput{Name: "  Bob  "})
	if err != nil {
		t.Fatalf("CheckIn failed: %v", err)
	}
	if created.Name != "Bob" || created.Interval.Duration != session.DefaultDuration {
		t.Fatalf("unexpected session: %+v", created)
	}
	if created.ID != "customer-1" {
		t.Fatalf("expected gateway id, got %s", created.ID)
	}
	if got := h.metrics.gauge(string(session.StatusCheckedIn)); got != 1 {
		t.Fatalf("expected checked-in gauge 1, got %d", got)
	}
}

func TestCollectionManager_CheckInFailureDiscardsProvisional(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.gateway.FailNext("Create", 1)

	_, err := h.manager.CheckIn(ctx, CheckInInput{Name: "Ada", Duration: 30})
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if got := h.manager.List(ListFilter{}); len(got) != 0 {
		t.Fatalf("expected provisional session to be discarded, got %v", ids(got))
	}
	if h.gateway.Calls("List") != 1 {
		t.Fatalf("expected one reload, got %d", h.gateway.Calls("List"))
	}
	if h.metrics.mutation("check-in/failed") != 1 {
		t.Fatalf("expected failed mutation to be recorded")
	}
}

type checkInOutcome struct {
	created session.Session
	err     error
}

// checkInHeld starts a check-in whose gateway Create is held until release is
// called.
func checkInHeld(t *testing.T, h *harness, input CheckInInput) (<-chan checkInOutcome, func()) {
	t.Helper()
	entered, release := h.gateway.BlockNext("Create")
	t.Cleanup(release)

	done := make(chan checkInOutcome, 1)
	go func() {
		created, err := h.manager.CheckIn(context.Background(), input)
		done <- checkInOutcome{created: created, err: err}
	}()

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("check-in never reached the gateway")
	}
	return done, release
}

func awaitCheckIn(t *testing.T, done <-chan checkInOutcome) session.Session {
	t.Helper()
	select {
	case out := <-done:
		if out.err != nil {
			t.Fatalf("CheckIn failed: %v", out.err)
		}
		return out.created
	case <-time.After(5 * time.Second):
		t.Fatal("check-in did not finish")
	}
	return session.Session{}
}

func requireSingle(t *testing.T, sessions []session.Session, id string) {
	t.Helper()
	count := 0
	for _, s := range sessions {
		if strings.HasPrefix(s.ID, "pending-") {
			t.Fatalf("unexpected provisional session in %v", ids(sessions))
		}
		if s.ID == id {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected %s exactly once, got %v", id, ids(sessions))
	}
}

func TestCollectionManager_ScanDuringPendingCheckIn(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	done, release := checkInHeld(t, h, CheckInInput{Name: "Ada", Duration: 10})

	result, err := h.manager.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(result.Flagged) != 0 || len(result.Expired) != 0 {
		t.Fatalf("expected pending check-in to be left alone, got %+v", result)
	}
	if got := h.gateway.Calls("Update"); got != 0 {
		t.Fatalf("expected no gateway writes, got %d", got)
	}
	if got := h.gateway.Calls("List"); got != 0 {
		t.Fatalf("expected no reload, got %d", got)
	}

	data, ok, err := h.cache.Get(ctx, cache.KeySessions)
	if err != nil {
		t.Fatalf("cache Get failed: %v", err)
	}
	if ok {
		cached, err := backup.DecodeCustomers(data)
		if err != nil {
			t.Fatalf("DecodeCustomers failed: %v", err)
		}
		if len(cached) != 0 {
			t.Fatalf("expected pending check-in to stay out of the cache, got %v", ids(cached))
		}
	}

	release()
	created := awaitCheckIn(t, done)
	requireSingle(t, h.manager.List(ListFilter{}), created.ID)

	h.clock.AdvanceMinutes(10)
	result, err = h.manager.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(result.Expired) != 1 || result.Expired[0] != created.ID {
		t.Fatalf("expected %s to expire, got %+v", created.ID, result)
	}
}

func TestCollectionManager_ReloadDuringPendingCheckIn(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	other, err := h.manager.CheckIn(ctx, CheckInInput{Name: "Grace", Duration: 30})
	if err != nil {
		t.Fatalf("CheckIn failed: %v", err)
	}

	done, release := checkInHeld(t, h, CheckInInput{Name: "Ada", Duration: 30})

	pending := ""
	for _, s := range h.manager.List(ListFilter{}) {
		if strings.HasPrefix(s.ID, "pending-") {
			pending = s.ID
		}
	}
	if pending == "" {
		t.Fatal("expected the check-in to be visible while pending")
	}
	_, err = h.manager.Extend(ctx, pending)
	requireValidationField(t, err, "id")

	h.gateway.FailNext("Update", 1)
	if _, err := h.manager.EditTime(ctx, other.ID, 45); !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if h.gateway.Calls("List") != 1 {
		t.Fatalf("expected one reload, got %d", h.gateway.Calls("List"))
	}
	if _, err := h.manager.Get(pending); err != nil {
		t.Fatalf("expected pending check-in to survive the reload: %v", err)
	}

	release()
	created := awaitCheckIn(t, done)
	sessions := h.manager.List(ListFilter{})
	requireSingle(t, sessions, created.ID)
	requireSingle(t, sessions, other.ID)
}

func TestCollectionManager_FailedUpdateReloads(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	created, err := h.manager.CheckIn(ctx, CheckInInput{Name: "Ada", Duration: 30})
	if err != nil {
		t.Fatalf("CheckIn failed: %v", err)
	}

	h.gateway.FailNext("Update", 1)
	if _, err := h.manager.CheckOut(ctx, created.ID); !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}

	got, err := h.manager.Get(created.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != session.StatusCheckedIn || len(got.History) != 0 {
		t.Fatalf("expected tentative checkout to be discarded, got %+v", got)
	}
	if _, ok := h.manager.Records().Get(created.ID); ok {
		t.Fatalf("expected no customer record for a discarded checkout")
	}
}

func TestCollectionManager_RestoresWhenReloadFails(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	created, err := h.manager.CheckIn(ctx, CheckInInput{Name: "Ada", Duration: 30})
	if err != nil {
		t.Fatalf("CheckIn failed: %v", err)
	}

	h.gateway.FailNext("Update", 1)
	h.gateway.FailNext("List", 1)
	if _, err := h.manager.EditTime(ctx, created.ID, 90); !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}

	got, err := h.manager.Get(created.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Interval.Duration != 30 {
		t.Fatalf("expected previous duration to be restored, got %d", got.Interval.Duration)
	}
}

func TestCollectionManager_SortOrder(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	t0 := h.clock.Now()

	a := testfixtures.NewSessionFixture(testfixtures.WithSessionID("A"), testfixtures.WithSessionDuration(30), testfixtures.WithSessionStart(t0.Add(-25*time.Minute))).Session()
	b := testfixtures.NewSessionFixture(testfixtures.WithSessionID("B"), testfixtures.WithSessionDuration(30), testfixtures.WithSessionStart(t0.Add(-29*time.Minute))).Session()
	c := testfixtures.NewSessionFixture(testfixtures.WithSessionID("C"), testfixtures.WithSessionStart(t0.Add(-2*time.Hour)), testfixtures.WithSessionCheckedOutAfter(10*time.Minute)).Session()

	if err := h.manager.ReplaceAll(ctx, []session.Session{c, a, b}); err != nil {
		t.Fatalf("ReplaceAll failed: %v", err)
	}

	got := ids(h.manager.List(ListFilter{}))
	want := []string{"B", "A", "C"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, got)
		}
	}
}

func TestCollectionManager_AutomaticExpiry(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	t0 := h.clock.Now()

	ended := testfixtures.NewSessionFixture(
		testfixtures.WithSessionID("ended"),
		testfixtures.WithSessionDuration(30),
		testfixtures.WithSessionStart(t0.Add(-40*time.Minute)),
	).Session()
	if err := h.manager.ReplaceAll(ctx, []session.Session{ended}); err != nil {
		t.Fatalf("ReplaceAll failed: %v", err)
	}

	result, err := h.manager.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(result.Expired) != 1 || result.Expired[0] != "ended" {
		t.Fatalf("expected session to expire, got %+v", result)
	}

	got, err := h.manager.Get("ended")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != session.StatusCheckedOut || got.Interval.IsNearingEnd {
		t.Fatalf("unexpected expired session: %+v", got)
	}
	if len(got.History) != 1 || !got.History[0].TimeEnded || got.History[0].CompletedSession {
		t.Fatalf("expected one time-ended visit, got %+v", got.History)
	}
	if !got.Interval.EndTime.Equal(ended.Interval.EndTime) {
		t.Fatalf("expected end time to be kept, got %s", got.Interval.EndTime)
	}

	updates := h.gateway.Calls("Update")
	result, err = h.manager.Scan(ctx)
	if err != nil {
		t.Fatalf("second Scan failed: %v", err)
	}
	if len(result.Expired) != 0 {
		t.Fatalf("expected second scan to change nothing, got %+v", result)
	}

	again, err := h.manager.Finish(ctx, "ended")
	if err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	if len(again.History) != 1 {
		t.Fatalf("expected finish to be a no-op, got %d visits", len(again.History))
	}
	if h.gateway.Calls("Update") != updates {
		t.Fatalf("expected no further writes, got %d", h.gateway.Calls("Update")-updates)
	}

	record, ok := h.manager.Records().Get("ended")
	if !ok || record.TotalVisits != 1 || !record.History[0].TimeEnded {
		t.Fatalf("unexpected record: %+v", record)
	}
}

func TestCollectionManager_FinishBeforeEndIsNoop(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	created, err := h.manager.CheckIn(ctx, CheckInInput{Name: "Ada", Duration: 30})
	if err != nil {
		t.Fatalf("CheckIn failed: %v", err)
	}
	h.clock.AdvanceMinutes(10)

	got, err := h.manager.Finish(ctx, created.ID)
	if err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	if got.Status != session.StatusCheckedIn {
		t.Fatalf("expected session to stay checked in, got %s", got.Status)
	}

	h.clock.AdvanceMinutes(20)
	got, err = h.manager.Finish(ctx, created.ID)
	if err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	if got.Status != session.StatusCheckedOut || len(got.History) != 1 {
		t.Fatalf("expected session to end, got %+v", got)
	}
}

func TestCollectionManager_ExtensionCooldown(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	created, err := h.manager.CheckIn(ctx, CheckInInput{Name: "Ada", Duration: 30})
	if err != nil {
		t.Fatalf("CheckIn failed: %v", err)
	}

	for i := 1; i <= session.MaxExtensions; i++ {
		h.clock.AdvanceMinutes(1)
		res, err := h.manager.Extend(ctx, created.ID)
		if err != nil {
			t.Fatalf("Extend %d failed: %v", i, err)
		}
		if !res.Granted || res.Session.Interval.ExtensionCount != i {
			t.Fatalf("expected extension %d to be granted, got %+v", i, res)
		}
	}

	h.clock.AdvanceMinutes(1)
	writes := h.gateway.Calls("Update")
	denied, err := h.manager.Extend(ctx, created.ID)
	if err != nil {
		t.Fatalf("Extend failed: %v", err)
	}
	if denied.Granted || denied.RetryAfterMinutes != 59 {
		t.Fatalf("expected denial with 59 minutes to wait, got %+v", denied)
	}
	if !strings.Contains(denied.Message(), "59 minutes") {
		t.Fatalf("unexpected message %q", denied.Message())
	}
	if denied.Session.Interval.ExtensionCount != session.MaxExtensions {
		t.Fatalf("expected count to stay at %d, got %d", session.MaxExtensions, denied.Session.Interval.ExtensionCount)
	}
	if h.gateway.Calls("Update") != writes {
		t.Fatalf("expected a denial not to be written")
	}

	h.clock.AdvanceMinutes(60)
	granted, err := h.manager.Extend(ctx, created.ID)
	if err != nil {
		t.Fatalf("Extend failed: %v", err)
	}
	if !granted.Granted || granted.Session.Interval.ExtensionCount != 1 {
		t.Fatalf("expected count to restart after cooldown, got %+v", granted)
	}
}

func TestCollectionManager_ExtendRequiresCheckedIn(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	created, err := h.manager.CheckIn(ctx, CheckInInput{Name: "Ada", Duration: 30})
	if err != nil {
		t.Fatalf("CheckIn failed: %v", err)
	}
	if _, err := h.manager.CheckOut(ctx, created.ID); err != nil {
		t.Fatalf("CheckOut failed: %v", err)
	}

	_, err = h.manager.Extend(ctx, created.ID)
	requireValidationField(t, err, "status")

	again, err := h.manager.CheckOut(ctx, created.ID)
	if err != nil {
		t.Fatalf("second CheckOut failed: %v", err)
	}
	if len(again.History) != 1 {
		t.Fatalf("expected repeated checkout to be a no-op, got %d visits", len(again.History))
	}
}

func TestCollectionManager_EditTimeRechecksIn(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	created, err := h.manager.CheckIn(ctx, CheckInInput{Name: "Ada", Duration: 30})
	if err != nil {
		t.Fatalf("CheckIn failed: %v", err)
	}
	if _, err := h.manager.Extend(ctx, created.ID); err != nil {
		t.Fatalf("Extend failed: %v", err)
	}
	if _, err := h.manager.CheckOut(ctx, created.ID); err != nil {
		t.Fatalf("CheckOut failed: %v", err)
	}

	now := h.clock.AdvanceMinutes(5)
	edited, err := h.manager.EditTime(ctx, created.ID, 90)
	if err != nil {
		t.Fatalf("EditTime failed: %v", err)
	}
	iv := edited.Interval
	if edited.Status != session.StatusCheckedIn || iv.Duration != 90 || iv.ExtensionCount != 0 || iv.HasExtended || iv.LastExtensionTime != nil {
		t.Fatalf("unexpected session after edit: %+v", edited)
	}
	if !iv.StartTime.Equal(now) || !iv.EndTime.Equal(now.Add(90*time.Minute)) {
		t.Fatalf("expected interval anchored at %s, got %+v", now, iv)
	}
	if len(edited.History) != 1 {
		t.Fatalf("expected history to be kept, got %d", len(edited.History))
	}

	_, err = h.manager.EditTime(ctx, created.ID, 0)
	requireValidationField(t, err, "duration")
}

func TestCollectionManager_Delete(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	keep, err := h.manager.CheckIn(ctx, CheckInInput{Name: "Keep", Duration: 30})
	if err != nil {
		t.Fatalf("CheckIn failed: %v", err)
	}
	gone, err := h.manager.CheckIn(ctx, CheckInInput{Name: "Gone", Duration: 30})
	if err != nil {
		t.Fatalf("CheckIn failed: %v", err)
	}
	if _, err := h.manager.CheckOut(ctx, gone.ID); err != nil {
		t.Fatalf("CheckOut failed: %v", err)
	}

	if err := h.manager.Delete(ctx, gone.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	listed := h.manager.List(ListFilter{})
	if len(listed) != 1 || listed[0].ID != keep.ID {
		t.Fatalf("expected only %s to remain, got %v", keep.ID, ids(listed))
	}
	stored, _ := h.store.List(ctx)
	if len(stored) != 1 {
		t.Fatalf("expected delete to be persisted, got %d stored", len(stored))
	}

	_, err = h.manager.EditTime(ctx, gone.ID, 30)
	requireValidationField(t, err, "id")
	requireValidationField(t, h.manager.Delete(ctx, gone.ID), "id")

	record, ok := h.manager.Records().Get(gone.ID)
	if !ok || record.Status != RecordInactive {
		t.Fatalf("expected record to be inactive, got %+v", record)
	}
	if stats := h.manager.Stats(); stats.InactiveRecords != 1 {
		t.Fatalf("expected one inactive record, got %+v", stats)
	}
}

func TestCollectionManager_DeleteFailureRestoresSession(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	created, err := h.manager.CheckIn(ctx, CheckInInput{Name: "Ada", Duration: 30})
	if err != nil {
		t.Fatalf("CheckIn failed: %v", err)
	}

	h.gateway.FailNext("Delete", 1)
	if err := h.manager.Delete(ctx, created.ID); !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if _, err := h.manager.Get(created.ID); err != nil {
		t.Fatalf("expected session to be back after reload, got %v", err)
	}
}

// A session deleted elsewhere while a write to it is in flight: the write
// fails as an unknown session and the reload converges on the deletion.
func TestCollectionManager_UpdateAfterRemoteDelete(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	created, err := h.manager.CheckIn(ctx, CheckInInput{Name: "Ada", Duration: 30})
	if err != nil {
		t.Fatalf("CheckIn failed: %v", err)
	}
	if err := h.store.Delete(ctx, created.ID); err != nil {
		t.Fatalf("store Delete failed: %v", err)
	}

	_, err = h.manager.CheckOut(ctx, created.ID)
	requireValidationField(t, err, "id")

	if _, err := h.manager.Get(created.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected session to be gone after reload, got %v", err)
	}
}

func TestCollectionManager_ScanWriteFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	created, err := h.manager.CheckIn(ctx, CheckInInput{Name: "Ada", Duration: 30})
	if err != nil {
		t.Fatalf("CheckIn failed: %v", err)
	}
	h.clock.AdvanceMinutes(31)

	h.gateway.FailNext("Update", 1)
	if _, err := h.manager.Scan(ctx); !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	got, err := h.manager.Get(created.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != session.StatusCheckedIn {
		t.Fatalf("expected failed expiry to be discarded, got %s", got.Status)
	}

	result, err := h.manager.Scan(ctx)
	if err != nil {
		t.Fatalf("retry Scan failed: %v", err)
	}
	if len(result.Expired) != 1 {
		t.Fatalf("expected retry to expire the session, got %+v", result)
	}
}

func TestCollectionManager_ScanWithoutChangesWritesNothing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	if _, err := h.manager.CheckIn(ctx, CheckInInput{Name: "Ada", Duration: 60}); err != nil {
		t.Fatalf("CheckIn failed: %v", err)
	}
	h.clock.AdvanceMinutes(1)

	result, err := h.manager.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(result.Expired)+len(result.Flagged) != 0 {
		t.Fatalf("expected nothing to change, got %+v", result)
	}
	if h.gateway.Calls("Update") != 0 {
		t.Fatalf("expected no writes, got %d", h.gateway.Calls("Update"))
	}
}

func TestCollectionManager_MirrorsToCache(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	created, err := h.manager.CheckIn(ctx, CheckInInput{Name: "Ada", Duration: 30})
	if err != nil {
		t.Fatalf("CheckIn failed: %v", err)
	}

	data, ok, err := h.cache.Get(ctx, cache.KeySessions)
	if err != nil || !ok {
		t.Fatalf("expected cached sessions, ok=%v err=%v", ok, err)
	}
	cached, err := backup.DecodeCustomers(data)
	if err != nil {
		t.Fatalf("DecodeCustomers failed: %v", err)
	}
	if len(cached) != 1 || cached[0].ID != created.ID {
		t.Fatalf("expected confirmed session in cache, got %v", ids(cached))
	}
}

func TestCollectionManager_Load(t *testing.T) {
	ctx := context.Background()

	t.Run("remote is authoritative", func(t *testing.T) {
		h := newHarness(t)
		remote, err := h.store.Create(ctx, testDraft("Remote"))
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		stale, _ := backup.EncodeCustomers([]session.Session{testfixtures.NewSessionFixture(testfixtures.WithSessionID("cached")).Session()})
		if err := h.cache.Set(ctx, cache.KeySessions, stale); err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		if err := h.manager.Load(ctx); err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		got := ids(h.manager.List(ListFilter{}))
		if len(got) != 1 || got[0] != remote.ID {
			t.Fatalf("expected remote sessions only, got %v", got)
		}
	})

	t.Run("cache is read when remote fails", func(t *testing.T) {
		h := newHarness(t)
		now := h.clock.Now()
		active := testfixtures.NewSessionFixture(testfixtures.WithSessionID("active"), testfixtures.WithSessionStart(now.Add(-10*time.Minute))).Session()
		recent := testfixtures.NewSessionFixture(testfixtures.WithSessionID("recent"), testfixtures.WithSessionStart(now.Add(-3*time.Hour)), testfixtures.WithSessionCheckedOutAfter(time.Hour)).Session()
		old := testfixtures.NewSessionFixture(testfixtures.WithSessionID("old"), testfixtures.WithSessionStart(now.Add(-30*time.Hour)), testfixtures.WithSessionCheckedOutAfter(time.Hour)).Session()
		data, err := backup.EncodeCustomers([]session.Session{active, recent, old})
		if err != nil {
			t.Fatalf("EncodeCustomers failed: %v", err)
		}
		if err := h.cache.Set(ctx, cache.KeySessions, data); err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		h.gateway.FailNext("List", 1)
		if err := h.manager.Load(ctx); err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		got := ids(h.manager.List(ListFilter{}))
		if len(got) != 2 || got[0] != "active" || got[1] != "recent" {
			t.Fatalf("expected stale session to be pruned, got %v", got)
		}
	})

	t.Run("fails without remote or cache", func(t *testing.T) {
		h := newHarness(t)
		h.gateway.FailNext("List", 1)
		if err := h.manager.Load(ctx); !errors.Is(err, ErrPersistence) {
			t.Fatalf("expected ErrPersistence, got %v", err)
		}
	})
}

func TestCollectionManager_ListFilterAndStats(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	alice, _ := h.manager.CheckIn(ctx, CheckInInput{Name: "Alice", Duration: 60})
	if _, err := h.manager.CheckIn(ctx, CheckInInput{Name: "alicia", Duration: 10}); err != nil {
		t.Fatalf("CheckIn failed: %v", err)
	}
	if _, err := h.manager.CheckIn(ctx, CheckInInput{Name: "Bob", Duration: 60}); err != nil {
		t.Fatalf("CheckIn failed: %v", err)
	}
	if _, err := h.manager.CheckOut(ctx, alice.ID); err != nil {
		t.Fatalf("CheckOut failed: %v", err)
	}

	if got := h.manager.List(ListFilter{Query: "ALI"}); len(got) != 2 {
		t.Fatalf("expected 2 matches, got %v", ids(got))
	}
	checkedOut := h.manager.List(ListFilter{Status: session.StatusCheckedOut})
	if len(checkedOut) != 1 || checkedOut[0].ID != alice.ID {
		t.Fatalf("expected only %s, got %v", alice.ID, ids(checkedOut))
	}

	stats := h.manager.Stats()
	want := Stats{Total: 3, Active: 2, NearingEnd: 1, CheckedOut: 1, Records: 1}
	if stats != want {
		t.Fatalf("expected %+v, got %+v", want, stats)
	}
}
