package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// UpsertUser records a user and bumps last_active_at.
func (s *Store) UpsertUser(ctx context.Context, u User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, first_name, last_name)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		     username = excluded.username,
		     first_name = excluded.first_name,
		     last_name = excluded.last_name,
		     last_active_at = CURRENT_TIMESTAMP`,
		u.ID, nullStr(u.Username), nullStr(u.FirstName), nullStr(u.LastName),
	)
	return err
}

// GetUser returns a user by Telegram ID.
func (s *Store) GetUser(ctx context.Context, id int64) (User, error) {
	var u User
	var username, first, last sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, first_name, last_name, is_admin FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &username, &first, &last, &u.IsAdmin)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	u.Username = username.String
	u.FirstName = first.String
	u.LastName = last.String
	return u, nil
}

// SetAdmin flips the admin flag for a user.
func (s *Store) SetAdmin(ctx context.Context, userID int64, admin bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET is_admin = ? WHERE id = ?`, admin, userID)
	return err
}

// CreateChannel registers a verified channel for a user.
func (s *Store) CreateChannel(ctx context.Context, userID int64, telegramChannelID, name string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO channels (user_id, channel_id, channel_name) VALUES (?, ?, ?)`,
		userID, telegramChannelID, name,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// UserChannels lists a user's active channels.
func (s *Store) UserChannels(ctx context.Context, userID int64) ([]Channel, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, channel_id, channel_name, is_active, verified_at
		 FROM channels WHERE user_id = ? AND is_active = TRUE ORDER BY channel_name`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Channel
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ChannelByID returns a channel by its database ID.
func (s *Store) ChannelByID(ctx context.Context, id int64) (Channel, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, channel_id, channel_name, is_active, verified_at
		 FROM channels WHERE id = ?`, id,
	)
	return scanChannel(row)
}

// ChannelByTelegramID returns a channel by its Telegram chat ID.
func (s *Store) ChannelByTelegramID(ctx context.Context, telegramChannelID string) (Channel, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, channel_id, channel_name, is_active, verified_at
		 FROM channels WHERE channel_id = ?`, telegramChannelID,
	)
	return scanChannel(row)
}

// DeleteChannel removes a channel; schedules and queued posts cascade.
func (s *Store) DeleteChannel(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM channels WHERE id = ?`, id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChannel(row rowScanner) (Channel, error) {
	var (
		c  Channel
		at string
	)
	err := row.Scan(&c.ID, &c.UserID, &c.ChannelID, &c.Name, &c.IsActive, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return Channel{}, ErrNotFound
	}
	if err != nil {
		return Channel{}, err
	}
	if t, err := parseDBTime(at); err == nil {
		c.VerifiedAt = t
	}
	return c, nil
}

// SelectSchedule stores the user's selected schedule for media uploads.
func (s *Store) SelectSchedule(ctx context.Context, userID, scheduleID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_context (user_id, selected_schedule_id)
		 VALUES (?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		     selected_schedule_id = excluded.selected_schedule_id,
		     updated_at = CURRENT_TIMESTAMP`,
		userID, scheduleID,
	)
	return err
}

// SelectedSchedule returns the user's selected schedule ID, or ErrNotFound.
func (s *Store) SelectedSchedule(ctx context.Context, userID int64) (int64, error) {
	var id sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT selected_schedule_id FROM user_context WHERE user_id = ?`, userID,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !id.Valid) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return id.Int64, nil
}

// ClearSelection drops the user's selection context.
func (s *Store) ClearSelection(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM user_context WHERE user_id = ?`, userID)
	return err
}

const verificationCodeLifetime = 10 * time.Minute

// CreateVerificationCode issues a fresh ownership verification code for
// (user, channel), invalidating any previous ones.
func (s *Store) CreateVerificationCode(ctx context.Context, userID int64, telegramChannelID string) (string, error) {
	code := uuid.NewString()
	expires := toDBTime(time.Now().Add(verificationCodeLifetime))

	err := s.tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE verification_codes SET used = TRUE WHERE user_id = ? AND channel_id = ?`,
			userID, telegramChannelID,
		); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO verification_codes (user_id, channel_id, code, expires_at) VALUES (?, ?, ?, ?)`,
			userID, telegramChannelID, code, expires,
		)
		return err
	})
	if err != nil {
		return "", err
	}
	return code, nil
}

// ConsumeVerificationCode validates and burns a code for the given channel,
// returning the user who requested it.
func (s *Store) ConsumeVerificationCode(ctx context.Context, code, telegramChannelID string) (int64, error) {
	var userID int64
	err := s.tx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT user_id FROM verification_codes
			 WHERE code = ? AND channel_id = ? AND used = FALSE AND expires_at > ?`,
			code, telegramChannelID, toDBTime(time.Now()),
		)
		if err := row.Scan(&userID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		_, err := tx.ExecContext(ctx, `UPDATE verification_codes SET used = TRUE WHERE code = ?`, code)
		return err
	})
	if err != nil {
		return 0, err
	}
	return userID, nil
}

// CleanupExpiredCodes removes used and expired verification codes.
func (s *Store) CleanupExpiredCodes(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM verification_codes WHERE used = TRUE OR expires_at <= ?`,
		toDBTime(time.Now()),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
