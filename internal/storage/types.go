package storage

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values:
//   - "sqlite" (default): SQLite database file
//   - "file": JSON state snapshot plus audit JSONL
//   - "memory": process-local, nothing survives a restart
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// ScheduleRecord is the persisted singleton schedule row.
type ScheduleRecord struct {
	DailyTime     string    `json:"daily_time" db:"daily_time"`
	DailyMessage  string    `json:"daily_message" db:"daily_message"`
	WeeklyDay     int       `json:"weekly_day" db:"weekly_day"`
	WeeklyTime    string    `json:"weekly_time" db:"weekly_time"`
	WeeklyMessage string    `json:"weekly_message" db:"weekly_message"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// SchedulePatch names the fields to overwrite. Nil fields are left alone.
type SchedulePatch struct {
	DailyTime     *string
	DailyMessage  *string
	WeeklyDay     *int
	WeeklyTime    *string
	WeeklyMessage *string
}

func (p SchedulePatch) IsEmpty() bool {
	return p.DailyTime == nil && p.DailyMessage == nil && p.WeeklyDay == nil &&
		p.WeeklyTime == nil && p.WeeklyMessage == nil
}

func (p SchedulePatch) apply(r *ScheduleRecord) {
	if p.DailyTime != nil {
		r.DailyTime = *p.DailyTime
	}
	if p.DailyMessage != nil {
		r.DailyMessage = *p.DailyMessage
	}
	if p.WeeklyDay != nil {
		r.WeeklyDay = *p.WeeklyDay
	}
	if p.WeeklyTime != nil {
		r.WeeklyTime = *p.WeeklyTime
	}
	if p.WeeklyMessage != nil {
		r.WeeklyMessage = *p.WeeklyMessage
	}
}

// Recipient is a user who receives broadcasts.
type Recipient struct {
	UserID     int64     `json:"user_id" db:"user_id"`
	ChatID     int64     `json:"chat_id" db:"chat_id"`
	Username   string    `json:"username,omitempty" db:"username"`
	FirstName  string    `json:"first_name,omitempty" db:"first_name"`
	LastName   string    `json:"last_name,omitempty" db:"last_name"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	LastActive time.Time `json:"last_active" db:"last_active"`
}

// Admin is a stored admin grant. Owners from the config are not stored.
type Admin struct {
	UserID          int64     `json:"user_id" db:"user_id"`
	AddedBy         int64     `json:"added_by" db:"added_by"`
	AddedByUsername string    `json:"added_by_username,omitempty" db:"added_by_username"`
	AddedAt         time.Time `json:"added_at" db:"added_at"`
}

// AuditEntry records an operator action or a scheduled fire.
type AuditEntry struct {
	At            time.Time `json:"at"`
	ActorID       int64     `json:"actor_id,omitempty"`
	ActorUsername string    `json:"actor_username,omitempty"`
	Action        string    `json:"action"`
	Target        string    `json:"target,omitempty"`
	OK            int       `json:"ok,omitempty"`
	Fail          int       `json:"fail,omitempty"`
	Error         string    `json:"error,omitempty"`
	TookMS        int64     `json:"took_ms,omitempty"`
}

type ScheduleStore interface {
	// GetSchedule returns the stored singleton; found is false when none exists.
	GetSchedule(ctx context.Context) (rec ScheduleRecord, found bool, err error)
	// PatchSchedule inserts seed when no row exists, then applies patch,
	// as one atomic write.
	PatchSchedule(ctx context.Context, seed ScheduleRecord, patch SchedulePatch) error
}

type RecipientStore interface {
	// UpsertRecipient inserts r or refreshes the profile and LastActive of an
	// existing row. created reports whether the row is new.
	UpsertRecipient(ctx context.Context, r Recipient) (created bool, err error)
	RemoveRecipient(ctx context.Context, userID int64) (removed bool, err error)
	GetRecipient(ctx context.Context, userID int64) (Recipient, bool, error)
	// ListRecipients returns a snapshot ordered by user id.
	ListRecipients(ctx context.Context) ([]Recipient, error)
	CountRecipients(ctx context.Context) (int, error)
}

type AdminStore interface {
	// AddAdmin is idempotent; created is false when userID already was an admin.
	AddAdmin(ctx context.Context, a Admin) (created bool, err error)
	RemoveAdmin(ctx context.Context, userID int64) (removed bool, err error)
	IsAdmin(ctx context.Context, userID int64) (bool, error)
	// ListAdmins returns admins ordered by AddedAt.
	ListAdmins(ctx context.Context) ([]Admin, error)
}

// Store is the persistence API used by the bot.
type Store interface {
	ScheduleStore
	RecipientStore
	AdminStore
	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}
