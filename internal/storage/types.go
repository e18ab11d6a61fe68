package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// ScheduleState is the lifecycle state of a schedule.
type ScheduleState string

const (
	// StateActive schedules are scanned by the engine every tick.
	StateActive ScheduleState = "active"
	// StatePaused schedules are never processed. Set by operators, by rule
	// validation failures, and by retry exhaustion.
	StatePaused ScheduleState = "paused"
	// StateEmptyPaused is set by the engine when a schedule's queue runs dry.
	// It is distinct from StatePaused so the owner is notified exactly once.
	StateEmptyPaused ScheduleState = "empty_paused"
)

// Config configures the sqlite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// User is a Telegram user known to the bot.
type User struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
	IsAdmin   bool
}

// Channel is a verified posting destination owned by one user.
type Channel struct {
	ID         int64
	UserID     int64
	ChannelID  string // Telegram chat ID, e.g. "@name" or "-100123..."
	Name       string
	IsActive   bool
	VerifiedAt time.Time
}

// Schedule is a recurrence definition attached to a channel.
// Pattern holds the raw rule JSON; decode with recurrence.Decode.
type Schedule struct {
	ID        int64
	ChannelID int64
	Name      string
	Pattern   []byte
	Timezone  string
	State     ScheduleState
	CreatedAt time.Time
	UpdatedAt time.Time
	LastRunAt *time.Time
}

// ActiveSchedule is a schedule joined with its channel and owner,
// as loaded by ListActiveSchedules.
type ActiveSchedule struct {
	Schedule
	TelegramChannelID string
	ChannelName       string
	OwnerUserID       int64
}

// QueuedPost is one item in a schedule's FIFO queue.
//
// Positions are dense and zero-based within a schedule; DeleteQueuedPost
// compacts them.
type QueuedPost struct {
	ID               int64
	ScheduleID       int64
	FileID           string
	FilePath         string
	MediaType        string // "photo", "video", "document", "media_group"
	Caption          string
	CaptionParseMode string
	CaptionEntities  string // JSON, may be empty
	MediaGroupData   string // JSON, may be empty
	Position         int
	RetryCount       int
	ScheduledFor     *time.Time
	CreatedAt        time.Time
}

// ScheduledForUpdate pairs a post with its new dispatch instant for
// BulkSetScheduledFor.
type ScheduledForUpdate struct {
	PostID int64
	At     time.Time
}

// SystemStats is a snapshot for the admin /stats command.
type SystemStats struct {
	TotalUsers      int
	ActiveChannels  int
	ActiveSchedules int
	QueuedPosts     int
	RetryingPosts   int
}

// DeliveryStats aggregates daily delivery counters over a day range.
type DeliveryStats struct {
	PostsSent    int
	SendFailures int
}
