package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

const postColumns = `id, schedule_id, file_id, file_path, media_type, caption,
	caption_parse_mode, caption_entities, media_group_data, position, retry_count,
	scheduled_for, created_at`

// NewPost carries the payload fields for enqueueing.
type NewPost struct {
	FileID           string
	FilePath         string
	MediaType        string
	Caption          string
	CaptionParseMode string
	CaptionEntities  string
	MediaGroupData   string
}

// AddQueuedPost appends one post at the tail of a schedule's queue.
func (s *Store) AddQueuedPost(ctx context.Context, scheduleID int64, p NewPost) error {
	return s.AddQueuedPostsBulk(ctx, scheduleID, []NewPost{p})
}

// AddQueuedPostsBulk appends posts at consecutive tail positions in one
// transaction, so a partially failed bulk upload never leaves position gaps.
func (s *Store) AddQueuedPostsBulk(ctx context.Context, scheduleID int64, posts []NewPost) error {
	if len(posts) == 0 {
		return nil
	}
	return s.tx(ctx, func(tx *sql.Tx) error {
		var next int
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(position), -1) + 1 FROM queued_posts WHERE schedule_id = ?`,
			scheduleID,
		).Scan(&next); err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO queued_posts
			     (schedule_id, file_id, file_path, media_type, caption,
			      caption_parse_mode, caption_entities, media_group_data, position)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i, p := range posts {
			if _, err := stmt.ExecContext(ctx,
				scheduleID, nullStr(p.FileID), nullStr(p.FilePath), p.MediaType,
				nullStr(p.Caption), nullStr(p.CaptionParseMode), nullStr(p.CaptionEntities),
				nullStr(p.MediaGroupData), next+i,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

// HeadQueuedPost returns the post at the lowest position, or ErrNotFound for
// an empty queue.
func (s *Store) HeadQueuedPost(ctx context.Context, scheduleID int64) (QueuedPost, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+postColumns+` FROM queued_posts
		 WHERE schedule_id = ? ORDER BY position ASC LIMIT 1`,
		scheduleID,
	)
	return scanPost(row)
}

// QueuedPosts lists a schedule's queue in FIFO order.
func (s *Store) QueuedPosts(ctx context.Context, scheduleID int64, limit, offset int) ([]QueuedPost, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+postColumns+` FROM queued_posts
		 WHERE schedule_id = ? ORDER BY position ASC LIMIT ? OFFSET ?`,
		scheduleID, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPosts(rows)
}

// UnscheduledQueuedPosts lists posts without a scheduled_for stamp, FIFO.
// Used by startup catch-up.
func (s *Store) UnscheduledQueuedPosts(ctx context.Context, scheduleID int64, limit int) ([]QueuedPost, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+postColumns+` FROM queued_posts
		 WHERE schedule_id = ? AND scheduled_for IS NULL
		 ORDER BY position ASC LIMIT ?`,
		scheduleID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPosts(rows)
}

// QueueCount counts posts in a schedule's queue.
func (s *Store) QueueCount(ctx context.Context, scheduleID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM queued_posts WHERE schedule_id = ?`, scheduleID,
	).Scan(&n)
	return n, err
}

// DeleteQueuedPost removes a post and compacts the remaining positions so they
// stay a dense 0..n-1 sequence. Both statements run in one transaction.
func (s *Store) DeleteQueuedPost(ctx context.Context, postID int64) error {
	return s.tx(ctx, func(tx *sql.Tx) error {
		var scheduleID int64
		var position int
		err := tx.QueryRowContext(ctx,
			`SELECT schedule_id, position FROM queued_posts WHERE id = ?`, postID,
		).Scan(&scheduleID, &position)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM queued_posts WHERE id = ?`, postID); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE queued_posts SET position = position - 1
			 WHERE schedule_id = ? AND position > ?`,
			scheduleID, position,
		)
		return err
	})
}

// QueuedPostWithOwner returns a post plus its owning user, for permission
// checks in queue-management commands.
func (s *Store) QueuedPostWithOwner(ctx context.Context, postID int64) (QueuedPost, int64, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT qp.id, qp.schedule_id, qp.file_id, qp.file_path, qp.media_type, qp.caption,
		        qp.caption_parse_mode, qp.caption_entities, qp.media_group_data, qp.position,
		        qp.retry_count, qp.scheduled_for, qp.created_at,
		        c.user_id
		 FROM queued_posts qp
		 JOIN schedules s ON qp.schedule_id = s.id
		 JOIN channels c ON s.channel_id = c.id
		 WHERE qp.id = ?`, postID,
	)

	var p QueuedPost
	var fileID, filePath, caption, parseMode, entities, groupData, scheduledFor sql.NullString
	var created string
	var ownerID int64
	err := row.Scan(
		&p.ID, &p.ScheduleID, &fileID, &filePath, &p.MediaType, &caption,
		&parseMode, &entities, &groupData, &p.Position, &p.RetryCount,
		&scheduledFor, &created, &ownerID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return QueuedPost{}, 0, ErrNotFound
	}
	if err != nil {
		return QueuedPost{}, 0, err
	}
	fillPostStrings(&p, fileID, filePath, caption, parseMode, entities, groupData)
	if t, err := parseDBTime(created); err == nil {
		p.CreatedAt = t
	}
	sf, err := scanNullableTime(scheduledFor)
	if err != nil {
		return QueuedPost{}, 0, err
	}
	p.ScheduledFor = sf
	return p, ownerID, nil
}

// SetPostRetry records a failed attempt: the new retry count and the backoff
// dispatch instant.
func (s *Store) SetPostRetry(ctx context.Context, postID int64, retryCount int, scheduledFor time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE queued_posts SET retry_count = ?, scheduled_for = ? WHERE id = ?`,
		retryCount, toDBTime(scheduledFor), postID,
	)
	return err
}

// ClearPostRetry resets retry state and the scheduled_for stamp.
func (s *Store) ClearPostRetry(ctx context.Context, postID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE queued_posts SET retry_count = 0, scheduled_for = NULL WHERE id = ?`,
		postID,
	)
	return err
}

// BulkSetScheduledFor assigns dispatch instants to many posts in a single
// transaction (startup catch-up).
func (s *Store) BulkSetScheduledFor(ctx context.Context, updates []ScheduledForUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	return s.tx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `UPDATE queued_posts SET scheduled_for = ? WHERE id = ?`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, u := range updates {
			if _, err := stmt.ExecContext(ctx, toDBTime(u.At), u.PostID); err != nil {
				return err
			}
		}
		return nil
	})
}

// EarliestScheduledFor returns the soonest scheduled_for stamp across all
// queues, or ErrNotFound if none is set. The engine uses it to shorten its
// end-of-tick sleep.
func (s *Store) EarliestScheduledFor(ctx context.Context) (time.Time, error) {
	var v sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT MIN(scheduled_for) FROM queued_posts WHERE scheduled_for IS NOT NULL`,
	).Scan(&v)
	if err != nil {
		return time.Time{}, err
	}
	t, err := scanNullableTime(v)
	if err != nil {
		return time.Time{}, err
	}
	if t == nil {
		return time.Time{}, ErrNotFound
	}
	return *t, nil
}

func scanPost(row rowScanner) (QueuedPost, error) {
	var p QueuedPost
	var fileID, filePath, caption, parseMode, entities, groupData, scheduledFor sql.NullString
	var created string
	err := row.Scan(
		&p.ID, &p.ScheduleID, &fileID, &filePath, &p.MediaType, &caption,
		&parseMode, &entities, &groupData, &p.Position, &p.RetryCount,
		&scheduledFor, &created,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return QueuedPost{}, ErrNotFound
	}
	if err != nil {
		return QueuedPost{}, err
	}
	fillPostStrings(&p, fileID, filePath, caption, parseMode, entities, groupData)
	if t, err := parseDBTime(created); err == nil {
		p.CreatedAt = t
	}
	sf, err := scanNullableTime(scheduledFor)
	if err != nil {
		return QueuedPost{}, err
	}
	p.ScheduledFor = sf
	return p, nil
}

func fillPostStrings(p *QueuedPost, fileID, filePath, caption, parseMode, entities, groupData sql.NullString) {
	p.FileID = fileID.String
	p.FilePath = filePath.String
	p.Caption = caption.String
	p.CaptionParseMode = parseMode.String
	p.CaptionEntities = entities.String
	p.MediaGroupData = groupData.String
}

func collectPosts(rows *sql.Rows) ([]QueuedPost, error) {
	var out []QueuedPost
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
