package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-pkgz/repeater/v2"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	logx "announcebot/pkg/logx"
)

//go:embed migrations.sql
var migrationsSQL string

// errCritical terminates the retry loop.
var errCritical = errors.New("critical")

type criticalError struct{ err error }

func (e *criticalError) Error() string        { return e.err.Error() }
func (e *criticalError) Unwrap() error        { return e.err }
func (e *criticalError) Is(target error) bool { return target == errCritical }

type sqliteStore struct {
	db  *sqlx.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// single writer; also keeps ":memory:" on one connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}
	if _, err := db.Exec(migrationsSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &sqliteStore{db: db, log: log}, nil
}

// retry runs fn with backoff while SQLite reports lock contention.
func (s *sqliteStore) retry(ctx context.Context, op string, fn func() error) error {
	err := repeater.NewBackoff(5, 50*time.Millisecond, repeater.WithMaxDelay(2*time.Second)).
		Do(ctx, func() error {
			err := fn()
			if err != nil && !isLockError(err) {
				return &criticalError{err: err}
			}
			return err
		}, errCritical)
	if err == nil {
		return nil
	}
	var ce *criticalError
	if errors.As(err, &ce) {
		err = ce.err
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isLockError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) GetSchedule(ctx context.Context) (ScheduleRecord, bool, error) {
	var rec ScheduleRecord
	err := s.db.GetContext(ctx, &rec,
		`SELECT daily_time, daily_message, weekly_day, weekly_time, weekly_message, updated_at
		 FROM schedule WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return ScheduleRecord{}, false, nil
	}
	if err != nil {
		return ScheduleRecord{}, false, fmt.Errorf("get schedule: %w", err)
	}
	return rec, true, nil
}

func (s *sqliteStore) PatchSchedule(ctx context.Context, seed ScheduleRecord, patch SchedulePatch) error {
	return s.retry(ctx, "patch schedule", func() error {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback() //nolint:errcheck

		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO schedule(id, daily_time, daily_message, weekly_day, weekly_time, weekly_message, updated_at)
			 VALUES(1, ?, ?, ?, ?, ?, ?)`,
			seed.DailyTime, seed.DailyMessage, seed.WeeklyDay, seed.WeeklyTime, seed.WeeklyMessage, now); err != nil {
			return err
		}

		sets := []string{"updated_at = ?"}
		args := []any{now}
		add := func(col string, v any) {
			sets = append(sets, col+" = ?")
			args = append(args, v)
		}
		if patch.DailyTime != nil {
			add("daily_time", *patch.DailyTime)
		}
		if patch.DailyMessage != nil {
			add("daily_message", *patch.DailyMessage)
		}
		if patch.WeeklyDay != nil {
			add("weekly_day", *patch.WeeklyDay)
		}
		if patch.WeeklyTime != nil {
			add("weekly_time", *patch.WeeklyTime)
		}
		if patch.WeeklyMessage != nil {
			add("weekly_message", *patch.WeeklyMessage)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE schedule SET `+strings.Join(sets, ", ")+` WHERE id = 1`, args...); err != nil {
			return err
		}
		return tx.Commit()
	})
}

func (s *sqliteStore) UpsertRecipient(ctx context.Context, r Recipient) (bool, error) {
	var created bool
	err := s.retry(ctx, "upsert recipient", func() error {
		now := time.Now().UTC()
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		res, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO recipients(user_id, chat_id, username, first_name, last_name, created_at, last_active)
			 VALUES(?, ?, ?, ?, ?, ?, ?)`,
			r.UserID, r.ChatID, r.Username, r.FirstName, r.LastName, r.CreatedAt, now)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		created = n > 0
		if created {
			return nil
		}
		_, err = s.db.ExecContext(ctx,
			`UPDATE recipients SET chat_id = ?, username = ?, first_name = ?, last_name = ?, last_active = ?
			 WHERE user_id = ?`,
			r.ChatID, r.Username, r.FirstName, r.LastName, now, r.UserID)
		return err
	})
	return created, err
}

func (s *sqliteStore) RemoveRecipient(ctx context.Context, userID int64) (bool, error) {
	return s.deleteByUser(ctx, "remove recipient", `DELETE FROM recipients WHERE user_id = ?`, userID)
}

func (s *sqliteStore) GetRecipient(ctx context.Context, userID int64) (Recipient, bool, error) {
	var r Recipient
	err := s.db.GetContext(ctx, &r, `SELECT * FROM recipients WHERE user_id = ?`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return Recipient{}, false, nil
	}
	if err != nil {
		return Recipient{}, false, fmt.Errorf("get recipient: %w", err)
	}
	return r, true, nil
}

func (s *sqliteStore) ListRecipients(ctx context.Context) ([]Recipient, error) {
	var out []Recipient
	if err := s.db.SelectContext(ctx, &out, `SELECT * FROM recipients ORDER BY user_id`); err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	return out, nil
}

func (s *sqliteStore) CountRecipients(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM recipients`); err != nil {
		return 0, fmt.Errorf("count recipients: %w", err)
	}
	return n, nil
}

func (s *sqliteStore) AddAdmin(ctx context.Context, a Admin) (bool, error) {
	var created bool
	err := s.retry(ctx, "add admin", func() error {
		if a.AddedAt.IsZero() {
			a.AddedAt = time.Now().UTC()
		}
		res, err := s.db.NamedExecContext(ctx,
			`INSERT OR IGNORE INTO admins(user_id, added_by, added_by_username, added_at)
			 VALUES(:user_id, :added_by, :added_by_username, :added_at)`, a)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		created = n > 0
		return nil
	})
	return created, err
}

func (s *sqliteStore) RemoveAdmin(ctx context.Context, userID int64) (bool, error) {
	return s.deleteByUser(ctx, "remove admin", `DELETE FROM admins WHERE user_id = ?`, userID)
}

func (s *sqliteStore) IsAdmin(ctx context.Context, userID int64) (bool, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM admins WHERE user_id = ?`, userID); err != nil {
		return false, fmt.Errorf("is admin: %w", err)
	}
	return n > 0, nil
}

func (s *sqliteStore) ListAdmins(ctx context.Context) ([]Admin, error) {
	var out []Admin
	if err := s.db.SelectContext(ctx, &out, `SELECT * FROM admins ORDER BY added_at, user_id`); err != nil {
		return nil, fmt.Errorf("list admins: %w", err)
	}
	return out, nil
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	return s.retry(ctx, "append audit", func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO audit(at, actor_id, actor_username, action, target, ok, fail, err, took_ms)
			 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.At, e.ActorID, nullStr(e.ActorUsername), e.Action, nullStr(e.Target),
			e.OK, e.Fail, nullStr(e.Error), e.TookMS)
		return err
	})
}

func (s *sqliteStore) deleteByUser(ctx context.Context, op, query string, userID int64) (bool, error) {
	var removed bool
	err := s.retry(ctx, op, func() error {
		res, err := s.db.ExecContext(ctx, query, userID)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		removed = n > 0
		return nil
	})
	return removed, err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
