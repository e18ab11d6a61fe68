package janitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeStore struct {
	mu          sync.Mutex
	codeSweeps  int
	statsSweeps int
	cutoff      time.Time
	codeErr     error
}

func (f *fakeStore) CleanupExpiredCodes(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codeSweeps++
	return 2, f.codeErr
}

func (f *fakeStore) PruneDailyStats(ctx context.Context, olderThan time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statsSweeps++
	f.cutoff = olderThan
	return 1, nil
}

func (f *fakeStore) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.codeSweeps, f.statsSweeps
}

func waitForSweep(t *testing.T, st *fakeStore) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if codes, stats := st.counts(); codes >= 1 && stats >= 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("sweep did not run")
}

func TestStartRunsImmediateSweep(t *testing.T) {
	t.Parallel()

	st := &fakeStore{}
	j := New(st, zerolog.Nop())
	if err := j.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer j.Stop()

	waitForSweep(t, st)

	st.mu.Lock()
	cutoff := st.cutoff
	st.mu.Unlock()
	want := time.Now().Add(-statsRetention)
	if d := want.Sub(cutoff); d < -time.Minute || d > time.Minute {
		t.Fatalf("prune cutoff = %v, want about %v", cutoff, want)
	}
}

func TestSweepContinuesAfterCodeError(t *testing.T) {
	t.Parallel()

	st := &fakeStore{codeErr: errors.New("locked")}
	j := New(st, zerolog.Nop())
	if err := j.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer j.Stop()

	waitForSweep(t, st)

	if _, stats := st.counts(); stats == 0 {
		t.Fatal("stats pruning skipped after code cleanup error")
	}
}
