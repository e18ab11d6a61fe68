package storage

import (
	"context"
	"time"
)

const dayLayout = "2006-01-02"

// IncrementDailyCounters bumps the aggregated delivery counters for a UTC day.
func (s *Store) IncrementDailyCounters(ctx context.Context, day time.Time, sentDelta, failedDelta int) error {
	if sentDelta == 0 && failedDelta == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO delivery_stats_daily (day, posts_sent, send_failures)
		 VALUES (?, ?, ?)
		 ON CONFLICT(day) DO UPDATE SET
		     posts_sent = posts_sent + excluded.posts_sent,
		     send_failures = send_failures + excluded.send_failures,
		     updated_at = CURRENT_TIMESTAMP`,
		day.UTC().Format(dayLayout), sentDelta, failedDelta,
	)
	return err
}

// DeliveryStatsSince sums daily counters for days >= since (inclusive, UTC).
func (s *Store) DeliveryStatsSince(ctx context.Context, since time.Time) (DeliveryStats, error) {
	var st DeliveryStats
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(posts_sent), 0), COALESCE(SUM(send_failures), 0)
		 FROM delivery_stats_daily WHERE day >= ?`,
		since.UTC().Format(dayLayout),
	).Scan(&st.PostsSent, &st.SendFailures)
	return st, err
}

// PruneDailyStats deletes counter rows older than the retention window.
func (s *Store) PruneDailyStats(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM delivery_stats_daily WHERE day < ?`,
		olderThan.UTC().Format(dayLayout),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SystemStats gathers counters for the admin /stats command.
func (s *Store) SystemStats(ctx context.Context) (SystemStats, error) {
	var st SystemStats
	queries := []struct {
		sql  string
		dest *int
	}{
		{`SELECT COUNT(*) FROM users`, &st.TotalUsers},
		{`SELECT COUNT(*) FROM channels WHERE is_active = TRUE`, &st.ActiveChannels},
		{`SELECT COUNT(*) FROM schedules WHERE state = 'active'`, &st.ActiveSchedules},
		{`SELECT COUNT(*) FROM queued_posts`, &st.QueuedPosts},
		{`SELECT COUNT(*) FROM queued_posts WHERE retry_count > 0`, &st.RetryingPosts},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.sql).Scan(q.dest); err != nil {
			return SystemStats{}, err
		}
	}
	return st, nil
}

// ScheduleStateCounts counts schedules per lifecycle state.
func (s *Store) ScheduleStateCounts(ctx context.Context) (map[ScheduleState]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM schedules GROUP BY state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[ScheduleState]int{StateActive: 0, StatePaused: 0, StateEmptyPaused: 0}
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		out[ScheduleState(state)] = n
	}
	return out, rows.Err()
}
