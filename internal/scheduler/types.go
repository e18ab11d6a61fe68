package scheduler

import (
	"context"
	"time"

	"github.com/nfrelink/telegram-scheduler-bot/internal/storage"
)

// MaxRetries is the delivery retry budget per post. After the
// (MaxRetries+1)-th consecutive failure the owning schedule is paused.
const MaxRetries = 3

const (
	catchUpSpacing         = 10 * time.Second
	catchUpMaxRunsPerSched = 20
	catchUpMaxIterations   = 5000
)

// Config controls the engine loop.
type Config struct {
	// CheckInterval is the default tick period. Clamped to >= 1s.
	CheckInterval time.Duration
	// MinDeliveryInterval spaces consecutive sends to the same channel.
	MinDeliveryInterval time.Duration
	// DefaultTimezone applies to schedules with an empty timezone field.
	DefaultTimezone string
}

// Store is the persistence surface the engine needs. *storage.Store
// implements it; tests substitute fakes.
type Store interface {
	ListActiveSchedules(ctx context.Context) ([]storage.ActiveSchedule, error)
	HeadQueuedPost(ctx context.Context, scheduleID int64) (storage.QueuedPost, error)
	UnscheduledQueuedPosts(ctx context.Context, scheduleID int64, limit int) ([]storage.QueuedPost, error)
	DeleteQueuedPost(ctx context.Context, postID int64) error
	SetPostRetry(ctx context.Context, postID int64, retryCount int, scheduledFor time.Time) error
	BulkSetScheduledFor(ctx context.Context, updates []storage.ScheduledForUpdate) error
	SetScheduleState(ctx context.Context, id int64, state storage.ScheduleState) error
	TouchScheduleLastRun(ctx context.Context, id int64) error
	EarliestScheduledFor(ctx context.Context) (time.Time, error)
	IncrementDailyCounters(ctx context.Context, day time.Time, sentDelta, failedDelta int) error
}

// Deliverer sends a queued post to a Telegram channel. Any error counts as a
// delivery failure; the engine does not distinguish retryable from fatal.
type Deliverer interface {
	Deliver(ctx context.Context, telegramChannelID string, post storage.QueuedPost) error
}

// Notifier messages the owning user. Best-effort: the engine logs and
// swallows errors, they never affect scheduling.
type Notifier interface {
	Notify(ctx context.Context, userID int64, text string) error
}
