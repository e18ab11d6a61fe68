package scheduler

import (
	"context"
	"time"

	"github.com/nfrelink/telegram-scheduler-bot/internal/recurrence"
	"github.com/nfrelink/telegram-scheduler-bot/internal/storage"
)

// CatchUp runs once before the loop starts ticking. For every active schedule
// it counts how many recurrence instants elapsed while the process was down
// and pre-stamps that many unscheduled queue items with near-future
// scheduled_for instants, spaced so catch-up deliveries do not burst.
//
// Per-schedule failures are logged and skipped; catch-up never aborts for
// sibling schedules.
func (e *Engine) CatchUp(ctx context.Context) {
	now := e.now().UTC()

	schedules, err := e.store.ListActiveSchedules(ctx)
	if err != nil {
		e.log.Error().Err(err).Msg("catch-up skipped: listing active schedules failed")
		return
	}

	total := 0
	for _, sc := range schedules {
		if ctx.Err() != nil {
			return
		}
		n, err := e.catchUpSchedule(ctx, sc, now)
		if err != nil {
			e.log.Error().Err(err).Int64("schedule_id", sc.ID).Msg("catch-up failed for schedule")
			continue
		}
		total += n
	}

	if total > 0 {
		e.log.Info().Int("posts", total).Msg("catch-up scheduled missed posts")
	}
}

func (e *Engine) catchUpSchedule(ctx context.Context, sc storage.ActiveSchedule, now time.Time) (int, error) {
	rule, err := recurrence.Decode(sc.Pattern)
	if err != nil {
		// The loop's first tick will pause it and tell the owner.
		e.log.Warn().Err(err).Int64("schedule_id", sc.ID).Msg("catch-up skipped: invalid pattern")
		return 0, nil
	}

	var base time.Time
	switch {
	case sc.LastRunAt != nil:
		base = *sc.LastRunAt
	case !sc.CreatedAt.IsZero():
		base = sc.CreatedAt
	default:
		return 0, nil
	}

	loc := e.location(sc)

	missed := 0
	cursor := base
	// The iteration cap is a defensive bound against pathological rules that
	// advance the cursor too slowly.
	for i := 0; i < catchUpMaxIterations; i++ {
		next, err := recurrence.NextRun(rule, loc, cursor)
		if err != nil {
			return 0, err
		}
		if next.After(now) {
			break
		}
		missed++
		cursor = next
		if missed >= catchUpMaxRunsPerSched {
			break
		}
	}
	if missed == 0 {
		return 0, nil
	}

	candidates, err := e.store.UnscheduledQueuedPosts(ctx, sc.ID, missed)
	if err != nil {
		return 0, err
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	updates := make([]storage.ScheduledForUpdate, 0, len(candidates))
	for i, post := range candidates {
		updates = append(updates, storage.ScheduledForUpdate{
			PostID: post.ID,
			At:     now.Add(time.Duration(i) * catchUpSpacing),
		})
	}
	if err := e.store.BulkSetScheduledFor(ctx, updates); err != nil {
		return 0, err
	}

	e.log.Info().Int64("schedule_id", sc.ID).Int("posts", len(updates)).Msg("catch-up scheduled posts")
	return len(updates), nil
}
