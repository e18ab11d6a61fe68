// Package scheduler runs the delivery engine: a single loop that scans active
// schedules, evaluates due-ness against their recurrence rules, dispatches
// queued posts through the Telegram adapter, and applies retry/backoff and
// empty-queue transitions.
//
// Exactly one engine instance must run against a given database file. The
// loop owns all engine state; nothing here is shared with command handlers
// except through the store.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/nfrelink/telegram-scheduler-bot/internal/recurrence"
	"github.com/nfrelink/telegram-scheduler-bot/internal/storage"
)

// Engine is the scheduling loop. Create with New, run with Run.
type Engine struct {
	log      zerolog.Logger
	store    Store
	deliver  Deliverer
	notifier Notifier
	limiter  *RateLimiter

	defaultTZ string

	// checkInterval is nanoseconds; atomic so config reload can adjust it
	// while the loop sleeps.
	checkInterval atomic.Int64

	// now is swapped out by tests.
	now func() time.Time
}

// New creates an engine. CheckInterval is clamped to >= 1s.
func New(cfg Config, store Store, deliver Deliverer, notifier Notifier, log zerolog.Logger) *Engine {
	interval := cfg.CheckInterval
	if interval < time.Second {
		interval = time.Second
	}
	e := &Engine{
		log:       log,
		store:     store,
		deliver:   deliver,
		notifier:  notifier,
		limiter:   NewRateLimiter(cfg.MinDeliveryInterval),
		defaultTZ: cfg.DefaultTimezone,
		now:       time.Now,
	}
	e.checkInterval.Store(int64(interval))
	return e
}

// SetCheckInterval adjusts the tick period (config reload). Takes effect at
// the next sleep.
func (e *Engine) SetCheckInterval(d time.Duration) {
	if d < time.Second {
		d = time.Second
	}
	e.checkInterval.Store(int64(d))
}

// Run executes startup catch-up and then ticks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Info().Dur("check_interval", e.interval()).Msg("scheduler started")
	e.CatchUp(ctx)

	for {
		e.tick(ctx)

		sleep := e.sleepDuration(ctx)
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			e.log.Info().Msg("scheduler stopped")
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (e *Engine) interval() time.Duration {
	return time.Duration(e.checkInterval.Load())
}

// tick processes every active schedule once. A store outage on the scan
// itself aborts the tick; it is retried on the next interval.
func (e *Engine) tick(ctx context.Context) {
	now := e.now().UTC()

	schedules, err := e.store.ListActiveSchedules(ctx)
	if err != nil {
		e.log.Error().Err(err).Msg("tick aborted: listing active schedules failed")
		return
	}

	for _, sc := range schedules {
		if ctx.Err() != nil {
			return
		}
		e.processOne(ctx, sc, now)
	}
}

// processOne isolates a single schedule: errors (and panics) are logged and
// never abort the tick for sibling schedules.
func (e *Engine) processOne(ctx context.Context, sc storage.ActiveSchedule, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Int64("schedule_id", sc.ID).Any("panic", r).
				Str("stack", string(debug.Stack())).Msg("panic processing schedule")
		}
	}()

	if err := e.processSchedule(ctx, sc, now); err != nil {
		e.log.Error().Err(err).Int64("schedule_id", sc.ID).Msg("error processing schedule")
	}
}

func (e *Engine) processSchedule(ctx context.Context, sc storage.ActiveSchedule, now time.Time) error {
	rule, err := recurrence.Decode(sc.Pattern)
	if err != nil {
		return e.pauseInvalid(ctx, sc, err)
	}

	head, err := e.store.HeadQueuedPost(ctx, sc.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return e.handleEmptyQueue(ctx, sc)
	}
	if err != nil {
		return fmt.Errorf("head queue item: %w", err)
	}

	// An explicit scheduled_for stamp (catch-up or retry backoff) overrides
	// the recurrence rule in both directions.
	if head.ScheduledFor != nil {
		if head.ScheduledFor.After(now) {
			return nil
		}
	} else {
		next, err := recurrence.NextRun(rule, e.location(sc), e.baseAfter(sc, now))
		if err != nil {
			// Unresolvable rule (e.g. exhausted weekly search): treat like an
			// invalid pattern.
			return e.pauseInvalid(ctx, sc, err)
		}
		if now.Before(next) {
			return nil
		}
	}

	if err := e.limiter.Wait(ctx, sc.TelegramChannelID); err != nil {
		return err
	}

	if err := e.deliver.Deliver(ctx, sc.TelegramChannelID, head); err != nil {
		e.log.Warn().Err(err).Int64("schedule_id", sc.ID).Int64("post_id", head.ID).
			Str("channel", sc.ChannelName).Msg("delivery failed")
		return e.handleFailure(ctx, sc, head, now)
	}

	if err := e.store.IncrementDailyCounters(ctx, now, 1, 0); err != nil {
		e.log.Warn().Err(err).Msg("incrementing sent counter failed")
	}
	if err := e.store.DeleteQueuedPost(ctx, head.ID); err != nil {
		return fmt.Errorf("delete delivered post: %w", err)
	}
	if err := e.store.TouchScheduleLastRun(ctx, sc.ID); err != nil {
		return fmt.Errorf("touch last_run: %w", err)
	}
	e.log.Info().Int64("schedule_id", sc.ID).Int64("post_id", head.ID).
		Str("channel", sc.ChannelName).Msg("post delivered")
	return nil
}

// baseAfter picks the reference instant for the next-run computation.
func (e *Engine) baseAfter(sc storage.ActiveSchedule, now time.Time) time.Time {
	if sc.LastRunAt != nil {
		return *sc.LastRunAt
	}
	if !sc.CreatedAt.IsZero() {
		return sc.CreatedAt
	}
	return now
}

// location resolves the schedule timezone, degrading to UTC with a warning
// rather than failing the schedule.
func (e *Engine) location(sc storage.ActiveSchedule) *time.Location {
	name := sc.Timezone
	if name == "" {
		name = e.defaultTZ
	}
	loc, err := recurrence.LoadLocation(name)
	if err != nil {
		e.log.Warn().Str("timezone", name).Int64("schedule_id", sc.ID).
			Msg("unknown timezone; falling back to UTC")
		return time.UTC
	}
	return loc
}

func (e *Engine) pauseInvalid(ctx context.Context, sc storage.ActiveSchedule, cause error) error {
	if err := e.store.SetScheduleState(ctx, sc.ID, storage.StatePaused); err != nil {
		return fmt.Errorf("pause schedule: %w", err)
	}
	e.log.Warn().Err(cause).Int64("schedule_id", sc.ID).Msg("paused schedule: invalid pattern")
	e.notify(ctx, sc.OwnerUserID, fmt.Sprintf(
		"Schedule %q for channel %q was paused because its pattern is invalid.\n"+
			"Reason: %v\n"+
			"Fix it with /editschedule %d or delete it with /deleteschedule %d.",
		sc.Name, sc.ChannelName, cause, sc.ID, sc.ID))
	return nil
}

// handleEmptyQueue moves the schedule to empty_paused. The state transition
// itself deduplicates the notification: empty_paused schedules leave the scan
// set, so the owner hears about it exactly once.
func (e *Engine) handleEmptyQueue(ctx context.Context, sc storage.ActiveSchedule) error {
	if err := e.store.SetScheduleState(ctx, sc.ID, storage.StateEmptyPaused); err != nil {
		return fmt.Errorf("pause empty schedule: %w", err)
	}
	e.log.Info().Int64("schedule_id", sc.ID).Msg("queue empty; schedule paused")
	e.notify(ctx, sc.OwnerUserID, fmt.Sprintf(
		"Schedule %q for channel %q was paused because its queue is empty.\n"+
			"Select it with /use %d, upload posts, then /resume %d.",
		sc.Name, sc.ChannelName, sc.ID, sc.ID))
	return nil
}

func (e *Engine) handleFailure(ctx context.Context, sc storage.ActiveSchedule, post storage.QueuedPost, now time.Time) error {
	if err := e.store.IncrementDailyCounters(ctx, now, 0, 1); err != nil {
		e.log.Warn().Err(err).Msg("incrementing failure counter failed")
	}

	retry := post.RetryCount + 1
	if retry <= MaxRetries {
		// 2, 4, 8 minutes for attempts 1-3. The post stays at the head of the
		// queue until it succeeds or the budget runs out.
		delay := time.Duration(1<<uint(retry)) * time.Minute
		retryAt := now.Add(delay)
		if err := e.store.SetPostRetry(ctx, post.ID, retry, retryAt); err != nil {
			return fmt.Errorf("record retry: %w", err)
		}
		e.log.Warn().Int64("post_id", post.ID).Int("retry", retry).Int("max", MaxRetries).
			Time("retry_at", retryAt).Msg("post delivery rescheduled")
		return nil
	}

	// Budget exhausted. Pause the schedule and leave the post in place; the
	// owner decides whether to delete it or resume and retry.
	if err := e.store.SetPostRetry(ctx, post.ID, retry, now); err != nil {
		return fmt.Errorf("record final retry: %w", err)
	}
	if err := e.store.SetScheduleState(ctx, sc.ID, storage.StatePaused); err != nil {
		return fmt.Errorf("pause failing schedule: %w", err)
	}
	e.log.Warn().Int64("schedule_id", sc.ID).Int64("post_id", post.ID).
		Msg("paused schedule: retry budget exhausted")
	e.notify(ctx, sc.OwnerUserID, fmt.Sprintf(
		"Posting failed for schedule %q (channel %q) after %d attempts.\n"+
			"Post ID: %d\n"+
			"The schedule has been paused.\n"+
			"Use /deletepost %d to remove the post, then /resume %d.",
		sc.Name, sc.ChannelName, MaxRetries, post.ID, post.ID, sc.ID))
	return nil
}

func (e *Engine) notify(ctx context.Context, userID int64, text string) {
	if err := e.notifier.Notify(ctx, userID, text); err != nil {
		e.log.Error().Err(err).Int64("user_id", userID).Msg("owner notification failed")
	}
}

// sleepDuration picks the end-of-tick sleep: the default interval, shortened
// when a queued post has an imminent scheduled_for stamp, floored at 1s.
func (e *Engine) sleepDuration(ctx context.Context) time.Duration {
	def := e.interval()

	earliest, err := e.store.EarliestScheduledFor(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return def
	}
	if err != nil {
		e.log.Warn().Err(err).Msg("reading earliest scheduled_for failed")
		return def
	}

	delta := earliest.Sub(e.now().UTC())
	if delta <= 0 {
		return time.Second
	}
	if delta < time.Second {
		delta = time.Second
	}
	if delta > def {
		return def
	}
	return delta
}
