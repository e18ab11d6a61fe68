package storage

import (
	"context"
	"database/sql"
	"errors"
)

const scheduleColumns = `id, channel_id, name, pattern, timezone, state, created_at, updated_at, last_run_at`

// CreateSchedule creates a schedule. New schedules start paused; the owner
// activates them with /resume once the queue has content.
func (s *Store) CreateSchedule(ctx context.Context, channelID int64, name string, pattern []byte, timezone string) (int64, error) {
	if timezone == "" {
		timezone = "UTC"
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO schedules (channel_id, name, pattern, timezone, state) VALUES (?, ?, ?, ?, ?)`,
		channelID, name, string(pattern), timezone, string(StatePaused),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetSchedule returns a schedule by ID.
func (s *Store) GetSchedule(ctx context.Context, id int64) (Schedule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE id = ?`, id)
	return scanSchedule(row)
}

// GetScheduleWithOwner returns a schedule joined with channel and owner info.
func (s *Store) GetScheduleWithOwner(ctx context.Context, id int64) (ActiveSchedule, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT s.id, s.channel_id, s.name, s.pattern, s.timezone, s.state,
		        s.created_at, s.updated_at, s.last_run_at,
		        c.channel_id, c.channel_name, c.user_id
		 FROM schedules s
		 JOIN channels c ON s.channel_id = c.id
		 WHERE s.id = ?`, id,
	)
	return scanActiveSchedule(row)
}

// ChannelSchedules lists all schedules for a channel.
func (s *Store) ChannelSchedules(ctx context.Context, channelID int64) ([]Schedule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+scheduleColumns+` FROM schedules WHERE channel_id = ? ORDER BY name`, channelID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Schedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// ListActiveSchedules returns all active schedules on active channels, joined
// with the Telegram channel ID and owning user. This is the engine's per-tick
// scan set.
func (s *Store) ListActiveSchedules(ctx context.Context) ([]ActiveSchedule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.id, s.channel_id, s.name, s.pattern, s.timezone, s.state,
		        s.created_at, s.updated_at, s.last_run_at,
		        c.channel_id, c.channel_name, c.user_id
		 FROM schedules s
		 JOIN channels c ON s.channel_id = c.id
		 WHERE s.state = ? AND c.is_active = TRUE`,
		string(StateActive),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ActiveSchedule
	for rows.Next() {
		sc, err := scanActiveSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// SetScheduleState transitions a schedule's lifecycle state.
func (s *Store) SetScheduleState(ctx context.Context, id int64, state ScheduleState) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE schedules SET state = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		string(state), id,
	)
	return err
}

// SetSchedulePattern replaces the rule JSON.
func (s *Store) SetSchedulePattern(ctx context.Context, id int64, pattern []byte) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE schedules SET pattern = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		string(pattern), id,
	)
	return err
}

// SetScheduleTimezone replaces the IANA timezone name.
func (s *Store) SetScheduleTimezone(ctx context.Context, id int64, timezone string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE schedules SET timezone = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		timezone, id,
	)
	return err
}

// TouchScheduleLastRun stamps last_run_at with the current instant.
func (s *Store) TouchScheduleLastRun(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE schedules SET last_run_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		id,
	)
	return err
}

// DeleteSchedule removes a schedule; queued posts cascade.
func (s *Store) DeleteSchedule(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	return err
}

func scanSchedule(row rowScanner) (Schedule, error) {
	var (
		sc        Schedule
		pattern   string
		state     string
		created   string
		updated   string
		lastRunAt sql.NullString
	)
	err := row.Scan(&sc.ID, &sc.ChannelID, &sc.Name, &pattern, &sc.Timezone, &state, &created, &updated, &lastRunAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Schedule{}, ErrNotFound
	}
	if err != nil {
		return Schedule{}, err
	}
	sc.Pattern = []byte(pattern)
	sc.State = ScheduleState(state)
	if t, err := parseDBTime(created); err == nil {
		sc.CreatedAt = t
	}
	if t, err := parseDBTime(updated); err == nil {
		sc.UpdatedAt = t
	}
	lr, err := scanNullableTime(lastRunAt)
	if err != nil {
		return Schedule{}, err
	}
	sc.LastRunAt = lr
	return sc, nil
}

func scanActiveSchedule(row rowScanner) (ActiveSchedule, error) {
	var (
		sc        ActiveSchedule
		pattern   string
		state     string
		created   string
		updated   string
		lastRunAt sql.NullString
	)
	err := row.Scan(
		&sc.ID, &sc.ChannelID, &sc.Name, &pattern, &sc.Timezone, &state,
		&created, &updated, &lastRunAt,
		&sc.TelegramChannelID, &sc.ChannelName, &sc.OwnerUserID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return ActiveSchedule{}, ErrNotFound
	}
	if err != nil {
		return ActiveSchedule{}, err
	}
	sc.Pattern = []byte(pattern)
	sc.State = ScheduleState(state)
	if t, err := parseDBTime(created); err == nil {
		sc.CreatedAt = t
	}
	if t, err := parseDBTime(updated); err == nil {
		sc.UpdatedAt = t
	}
	lr, err := scanNullableTime(lastRunAt)
	if err != nil {
		return ActiveSchedule{}, err
	}
	sc.LastRunAt = lr
	return sc, nil
}
