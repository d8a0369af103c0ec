// Package schedule holds the clinic's wall-clock arithmetic: naive local
// dates and times, appointment end-time calculation and interval overlap.
package schedule

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const minutesPerDay = 24 * 60

// EndOfDay is 24:00, the latest an appointment or window may end.
const EndOfDay = Clock(minutesPerDay)

var (
	ErrInvalidClock    = errors.New("time must be in HH:MM format")
	ErrInvalidDate     = errors.New("date must be in YYYY-MM-DD format")
	ErrCrossesMidnight = errors.New("appointment would end after midnight")
	ErrInvalidDuration = errors.New("duration must be greater than zero")
)

// Clock is a wall-clock time of day in minutes since midnight. It carries no
// zone; it is interpreted in the clinic's configured location.
type Clock int

// ParseClock accepts HH:MM or HH:MM:SS (the form Postgres TIME columns return).
// 24:00 is accepted as the end of the day, as Postgres TIME allows.
func ParseClock(s string) (Clock, error) {
	s = strings.TrimSpace(s)
	if s == "24:00" || s == "24:00:00" {
		return EndOfDay, nil
	}
	layouts := []string{"15:04", "15:04:05"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Clock(t.Hour()*60 + t.Minute()), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
}

func MustClock(s string) Clock {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

func (c Clock) Hour() int   { return int(c) / 60 }
func (c Clock) Minute() int { return int(c) % 60 }

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour(), c.Minute())
}

// EndTime returns c + duration minutes. An appointment may end at 24:00 but
// never spans two dates.
func (c Clock) EndTime(durationMinutes int) (Clock, error) {
	if durationMinutes <= 0 {
		return 0, ErrInvalidDuration
	}
	end := int(c) + durationMinutes
	if end > minutesPerDay {
		return 0, ErrCrossesMidnight
	}
	return Clock(end), nil
}

func (c Clock) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *Clock) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseClock(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Value stores the clock in a TIME column.
func (c Clock) Value() (driver.Value, error) {
	return c.String() + ":00", nil
}

func (c *Clock) Scan(src interface{}) error {
	switch v := src.(type) {
	case string:
		return c.scanString(v)
	case []byte:
		return c.scanString(string(v))
	case time.Time:
		*c = Clock(v.Hour()*60 + v.Minute())
		return nil
	case nil:
		*c = 0
		return nil
	default:
		return fmt.Errorf("cannot scan %T into schedule.Clock", src)
	}
}

func (c *Clock) scanString(s string) error {
	parsed, err := ParseClock(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
