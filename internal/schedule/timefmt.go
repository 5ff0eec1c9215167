package schedule

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var ErrInvalidTime = errors.New("invalid time format")

var (
	reTwelveHour = regexp.MustCompile(`(?i)^(\d{1,2}):(\d{2})\s*(AM|PM)$`)
	reClock      = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)
)

// Clock is a minute-resolution time of day.
type Clock struct {
	Hour   int
	Minute int
}

func (c Clock) Canonical() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

// Display renders the 12-hour form, e.g. "9:05 AM", "12:00 PM".
func (c Clock) Display() string {
	period := "AM"
	if c.Hour >= 12 {
		period = "PM"
	}
	h := c.Hour % 12
	if h == 0 {
		h = 12
	}
	return fmt.Sprintf("%d:%02d %s", h, c.Minute, period)
}

// ParseTime accepts "H:MM AM|PM" (any case, optional space) or 24-hour
// "H:MM"/"HH:MM" and returns the clock it names.
func ParseTime(s string) (Clock, error) {
	s = strings.TrimSpace(s)
	if m := reTwelveHour.FindStringSubmatch(s); m != nil {
		h, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if h < 1 || h > 12 || mm > 59 {
			return Clock{}, ErrInvalidTime
		}
		pm := strings.EqualFold(m[3], "PM")
		switch {
		case pm && h < 12:
			h += 12
		case !pm && h == 12:
			h = 0
		}
		return Clock{Hour: h, Minute: mm}, nil
	}
	return ParseClock(s)
}

// ParseClock accepts only the 24-hour form.
func ParseClock(s string) (Clock, error) {
	m := reClock.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return Clock{}, ErrInvalidTime
	}
	h, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	if h > 23 || mm > 59 {
		return Clock{}, ErrInvalidTime
	}
	return Clock{Hour: h, Minute: mm}, nil
}

// ToCanonical converts any accepted input form to "HH:MM".
func ToCanonical(s string) (string, error) {
	c, err := ParseTime(s)
	if err != nil {
		return "", err
	}
	return c.Canonical(), nil
}

// ToDisplay converts a 24-hour time to the 12-hour display form. Unparseable
// input is returned as-is.
func ToDisplay(s string) string {
	c, err := ParseClock(s)
	if err != nil {
		return s
	}
	return c.Display()
}
