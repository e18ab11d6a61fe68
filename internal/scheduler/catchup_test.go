package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/nfrelink/telegram-scheduler-bot/internal/storage"
)

func TestCatchUpAssignsSpacedStamps(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	// 3 hourly runs missed.
	lastRun := now.Add(-3*time.Hour - time.Minute)

	st := newFakeStore()
	st.addSchedule(activeSchedule(1, `{"type":"interval","hours":1}`, &lastRun))
	for i := int64(0); i < 5; i++ {
		st.push(1, storage.QueuedPost{ID: 10 + i, MediaType: "photo"})
	}

	e := testEngine(st, &fakeDeliverer{}, &fakeNotifier{}, now)
	e.CatchUp(context.Background())

	stamped := 0
	for i := int64(0); i < 5; i++ {
		p, _ := st.post(10 + i)
		if p.ScheduledFor == nil {
			continue
		}
		want := now.Add(time.Duration(stamped) * 10 * time.Second)
		if !p.ScheduledFor.Equal(want) {
			t.Fatalf("post %d scheduled_for = %v, want %v", p.ID, p.ScheduledFor, want)
		}
		stamped++
	}
	if stamped != 3 {
		t.Fatalf("stamped %d posts, want 3 (one per missed run)", stamped)
	}
}

func TestCatchUpCapsAtTwentyRuns(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	// Arbitrarily far in the past: thousands of missed 1-minute runs.
	lastRun := now.AddDate(-1, 0, 0)

	st := newFakeStore()
	st.addSchedule(activeSchedule(1, `{"type":"interval","minutes":1}`, &lastRun))
	for i := int64(0); i < 30; i++ {
		st.push(1, storage.QueuedPost{ID: 100 + i, MediaType: "photo"})
	}

	e := testEngine(st, &fakeDeliverer{}, &fakeNotifier{}, now)
	e.CatchUp(context.Background())

	stamped := 0
	for i := int64(0); i < 30; i++ {
		if p, _ := st.post(100 + i); p.ScheduledFor != nil {
			stamped++
		}
	}
	if stamped != catchUpMaxRunsPerSched {
		t.Fatalf("stamped %d posts, want cap %d", stamped, catchUpMaxRunsPerSched)
	}
}

func TestCatchUpLimitedByAvailablePosts(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	lastRun := now.Add(-10 * time.Hour)

	st := newFakeStore()
	st.addSchedule(activeSchedule(1, `{"type":"interval","hours":1}`, &lastRun))
	st.push(1, storage.QueuedPost{ID: 10, MediaType: "photo"})
	st.push(1, storage.QueuedPost{ID: 11, MediaType: "photo"})

	e := testEngine(st, &fakeDeliverer{}, &fakeNotifier{}, now)
	e.CatchUp(context.Background())

	for _, id := range []int64{10, 11} {
		if p, _ := st.post(id); p.ScheduledFor == nil {
			t.Fatalf("post %d not stamped", id)
		}
	}
}

func TestCatchUpSkipsUpToDateSchedules(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	lastRun := now.Add(-10 * time.Minute)

	st := newFakeStore()
	st.addSchedule(activeSchedule(1, `{"type":"interval","hours":1}`, &lastRun))
	st.push(1, storage.QueuedPost{ID: 10, MediaType: "photo"})

	e := testEngine(st, &fakeDeliverer{}, &fakeNotifier{}, now)
	e.CatchUp(context.Background())

	if p, _ := st.post(10); p.ScheduledFor != nil {
		t.Fatalf("post stamped for an up-to-date schedule: %v", p.ScheduledFor)
	}
}

func TestCatchUpSkipsAlreadyStampedPosts(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	lastRun := now.Add(-5 * time.Hour)
	existing := now.Add(30 * time.Second)

	st := newFakeStore()
	st.addSchedule(activeSchedule(1, `{"type":"interval","hours":1}`, &lastRun))
	st.push(1, storage.QueuedPost{ID: 10, MediaType: "photo", ScheduledFor: &existing})
	st.push(1, storage.QueuedPost{ID: 11, MediaType: "photo"})

	e := testEngine(st, &fakeDeliverer{}, &fakeNotifier{}, now)
	e.CatchUp(context.Background())

	p, _ := st.post(10)
	if p.ScheduledFor == nil || !p.ScheduledFor.Equal(existing) {
		t.Fatalf("existing stamp overwritten: %v", p.ScheduledFor)
	}
	p, _ = st.post(11)
	if p.ScheduledFor == nil || !p.ScheduledFor.Equal(now) {
		t.Fatalf("unscheduled post stamp = %v, want %v", p.ScheduledFor, now)
	}
}

func TestCatchUpIsolatesScheduleFailures(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	lastRun := now.Add(-3 * time.Hour)

	st := newFakeStore()
	st.addSchedule(activeSchedule(1, `{"type":"nope"}`, &lastRun))
	st.addSchedule(activeSchedule(2, `{"type":"interval","hours":1}`, &lastRun))
	st.push(2, storage.QueuedPost{ID: 20, MediaType: "photo"})

	e := testEngine(st, &fakeDeliverer{}, &fakeNotifier{}, now)
	e.CatchUp(context.Background())

	if p, _ := st.post(20); p.ScheduledFor == nil {
		t.Fatal("valid schedule not caught up after sibling failure")
	}
}
