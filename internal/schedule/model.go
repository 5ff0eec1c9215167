package schedule

import (
	"errors"
	"fmt"
	"strings"

	"announcebot/internal/storage"
)

// Kind selects which announcement a change targets.
type Kind int

const (
	KindDaily Kind = iota + 1
	KindWeekly
)

func (k Kind) String() string {
	switch k {
	case KindDaily:
		return "daily"
	case KindWeekly:
		return "weekly"
	default:
		return "unknown"
	}
}

// Title is the capitalised form used in prompts ("Daily").
func (k Kind) Title() string {
	switch k {
	case KindDaily:
		return "Daily"
	case KindWeekly:
		return "Weekly"
	default:
		return "Unknown"
	}
}

// JobName is the registry name of the trigger for this kind.
func (k Kind) JobName() string { return k.String() + "_announcement" }

// Config is the schedule singleton. Times are canonical "HH:MM".
type Config struct {
	DailyTime     string
	DailyMessage  string
	WeeklyDay     int // 0=Sunday..6=Saturday
	WeeklyTime    string
	WeeklyMessage string
}

// Defaults returns the built-in schedule used until an operator saves one.
func Defaults() Config {
	return Config{
		DailyTime:     "09:00",
		DailyMessage:  "Daily community reminder!",
		WeeklyDay:     1,
		WeeklyTime:    "10:00",
		WeeklyMessage: "Weekly community update!",
	}
}

// Message returns the stored message for k.
func (c Config) Message(k Kind) string {
	if k == KindWeekly {
		return c.WeeklyMessage
	}
	return c.DailyMessage
}

func (c Config) record() storage.ScheduleRecord {
	return storage.ScheduleRecord{
		DailyTime:     c.DailyTime,
		DailyMessage:  c.DailyMessage,
		WeeklyDay:     c.WeeklyDay,
		WeeklyTime:    c.WeeklyTime,
		WeeklyMessage: c.WeeklyMessage,
	}
}

func fromRecord(r storage.ScheduleRecord) Config {
	return Config{
		DailyTime:     r.DailyTime,
		DailyMessage:  r.DailyMessage,
		WeeklyDay:     r.WeeklyDay,
		WeeklyTime:    r.WeeklyTime,
		WeeklyMessage: r.WeeklyMessage,
	}
}

var dayNames = [7]string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}

// DayName maps 0..6 to "Sunday".."Saturday".
func DayName(day int) string {
	if day < 0 || day > 6 {
		return fmt.Sprintf("day %d", day)
	}
	return dayNames[day]
}

// Update is a confirmed change to one announcement kind.
type Update struct {
	Kind    Kind
	Message string
	Time    string // canonical HH:MM
	Day     int    // weekly only
}

var (
	ErrUnknownKind  = errors.New("unknown schedule kind")
	ErrEmptyMessage = errors.New("announcement message is empty")
	ErrInvalidDay   = errors.New("weekday must be between 0 and 6")
)

func (u Update) Validate() error {
	if u.Kind != KindDaily && u.Kind != KindWeekly {
		return ErrUnknownKind
	}
	if strings.TrimSpace(u.Message) == "" {
		return ErrEmptyMessage
	}
	if _, err := ParseClock(u.Time); err != nil {
		return err
	}
	if u.Kind == KindWeekly && (u.Day < 0 || u.Day > 6) {
		return ErrInvalidDay
	}
	return nil
}

// patch touches only the fields of u.Kind.
func (u Update) patch() storage.SchedulePatch {
	msg, at := u.Message, u.Time
	if u.Kind == KindDaily {
		return storage.SchedulePatch{DailyTime: &at, DailyMessage: &msg}
	}
	day := u.Day
	return storage.SchedulePatch{WeeklyTime: &at, WeeklyDay: &day, WeeklyMessage: &msg}
}
