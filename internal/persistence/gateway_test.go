package persistence

import (
	"testing"
	"time"

	"github.com/example/session-timer/internal/session"
)

var base = time.Date(2024, time.May, 1, 12, 0, 0, 0, time.UTC)

func TestDiffAndApply(t *testing.T) {
	before := session.CheckIn("s-1", "Ada", 30, base)

	t.Run("unchanged session yields empty patch", func(t *testing.T) {
		if p := Diff(before, before.Clone()); !p.Empty() {
			t.Fatalf("expected empty patch, got %+v", p)
		}
	})

	t.Run("checkout diff reproduces the change", func(t *testing.T) {
		after := before.Clone()
		if _, err := session.Extend(&after, session.DefaultExtensionPolicy(), base.Add(10*time.Minute)); err != nil {
			t.Fatalf("Extend failed: %v", err)
		}
		session.CheckOut(&after, base.Add(20*time.Minute))

		p := Diff(before, after)
		if p.Status == nil || *p.Status != session.StatusCheckedOut {
			t.Fatalf("expected status in patch, got %+v", p)
		}
		if p.Name != nil || p.CheckInTime != nil {
			t.Fatalf("unexpected unchanged fields in patch: %+v", p)
		}
		if len(p.AppendHistory) != 1 {
			t.Fatalf("expected one appended visit, got %d", len(p.AppendHistory))
		}

		replayed := before.Clone()
		p.Apply(&replayed)
		if replayed.Status != after.Status || len(replayed.History) != 1 {
			t.Fatalf("unexpected replayed session: %+v", replayed)
		}
		if !intervalEqual(replayed.Interval, after.Interval) {
			t.Fatalf("expected interval %+v, got %+v", after.Interval, replayed.Interval)
		}
	})

	t.Run("photo removal sets clear flag", func(t *testing.T) {
		photo := "/uploads/customers/a.jpg"
		withPhoto := before.Clone()
		withPhoto.Photo = &photo

		p := Diff(withPhoto, before)
		if !p.ClearPhoto || p.Photo != nil {
			t.Fatalf("expected clear photo patch, got %+v", p)
		}
		p.Apply(&withPhoto)
		if withPhoto.Photo != nil {
			t.Fatalf("expected photo to be cleared")
		}
	})
}
