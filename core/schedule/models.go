package schedule

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/trezcool/cadenza/core"
)

// Weekday is a day of the week; JSON encoded as its lowercase english name.
type Weekday time.Weekday

var weekdayNames = map[string]Weekday{
	"sunday":    Weekday(time.Sunday),
	"monday":    Weekday(time.Monday),
	"tuesday":   Weekday(time.Tuesday),
	"wednesday": Weekday(time.Wednesday),
	"thursday":  Weekday(time.Thursday),
	"friday":    Weekday(time.Friday),
	"saturday":  Weekday(time.Saturday),
}

func ParseWeekday(s string) (Weekday, error) {
	if wd, ok := weekdayNames[core.CleanString(s, true /* lower */)]; ok {
		return wd, nil
	}
	return 0, fmt.Errorf("invalid weekday %q", s)
}

func (wd Weekday) IsValid() bool  { return wd >= 0 && wd <= 6 }
func (wd Weekday) String() string { return strings.ToLower(time.Weekday(wd).String()) }

func (wd Weekday) MarshalJSON() ([]byte, error) {
	return json.Marshal(wd.String())
}

func (wd *Weekday) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var n int
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("invalid weekday %s", data)
		}
		*wd = Weekday(n)
		return nil
	}
	parsed, err := ParseWeekday(s)
	if err != nil {
		return err
	}
	*wd = parsed
	return nil
}

// UnmarshalParam binds query params, given as a name or a number.
func (wd *Weekday) UnmarshalParam(param string) error {
	if n, err := strconv.Atoi(param); err == nil {
		*wd = Weekday(n)
		return nil
	}
	parsed, err := ParseWeekday(param)
	if err != nil {
		return err
	}
	*wd = parsed
	return nil
}

// Clock is a time of the day, in minutes since midnight. encoded as "HH:MM".
type Clock int

func NewClock(hour, min int) Clock { return Clock(hour*60 + min) }

func ParseClock(s string) (Clock, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return NewClock(t.Hour(), t.Minute()), nil
		}
	}
	return 0, fmt.Errorf("invalid time %q: expected HH:MM", s)
}

func (c Clock) Hour() int      { return int(c) / 60 }
func (c Clock) Minute() int    { return int(c) % 60 }
func (c Clock) IsValid() bool  { return c >= 0 && c < 24*60 }
func (c Clock) String() string { return fmt.Sprintf("%02d:%02d", c.Hour(), c.Minute()) }

func (c Clock) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *Clock) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("invalid time %s: expected HH:MM", data)
	}
	parsed, err := ParseClock(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

func (c Clock) Value() (driver.Value, error) {
	return c.String() + ":00", nil
}

func (c *Clock) Scan(src interface{}) error {
	switch v := src.(type) {
	case time.Time:
		*c = NewClock(v.Hour(), v.Minute())
		return nil
	case []byte:
		return c.scanString(string(v))
	case string:
		return c.scanString(v)
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

type Frequency string

const (
	Weekly   Frequency = "weekly"
	Biweekly Frequency = "biweekly"
)

func (f Frequency) IsValid() bool { return f == Weekly || f == Biweekly }

// Parity is the parity of the ISO-8601 week number a lesson takes place on.
type Parity string

const (
	AllWeeks  Parity = "all"
	OddWeeks  Parity = "odd"
	EvenWeeks Parity = "even"
)

func (p Parity) IsValid() bool { return p == AllWeeks || p == OddWeeks || p == EvenWeeks }

// Matches reports whether the week of date has parity p.
func (p Parity) Matches(date core.Date) bool {
	if p == AllWeeks {
		return true
	}
	_, week := date.ISOWeek()
	if week%2 == 1 {
		return p == OddWeeks
	}
	return p == EvenWeeks
}

// compatible reports whether 2 parities can share a week.
func (p Parity) compatible(other Parity) bool {
	return p == AllWeeks || other == AllWeeks || p == other
}

// Schedule describes when a recurring course takes place.
type Schedule struct {
	Weekday   Weekday   `json:"weekday" db:"weekday" validate:"enum"`
	Start     Clock     `json:"start_time" db:"start_time" validate:"enum"`
	End       Clock     `json:"end_time" db:"end_time" validate:"enum"`
	Frequency Frequency `json:"frequency" db:"frequency" validate:"enum"`
	Parity    Parity    `json:"parity" db:"parity" validate:"enum"`
}

var (
	errEndBeforeStart    = fmt.Errorf("end time must be after start time")
	errWeeklyParity      = fmt.Errorf("weekly courses take place every week; parity must be %q", AllWeeks)
	errBiweeklyParity    = fmt.Errorf("biweekly courses must take place on %q or %q weeks", OddWeeks, EvenWeeks)
	errScheduleEnumValue = fmt.Errorf("invalid value")
)

// Validate checks the schedule's consistency.
func (s Schedule) Validate() error {
	switch {
	case !s.Weekday.IsValid():
		return core.NewFieldError("weekday", errScheduleEnumValue)
	case !s.Frequency.IsValid():
		return core.NewFieldError("frequency", errScheduleEnumValue)
	case !s.Parity.IsValid():
		return core.NewFieldError("parity", errScheduleEnumValue)
	case s.End <= s.Start:
		return core.NewFieldError("end_time", errEndBeforeStart)
	case s.Frequency == Weekly && s.Parity != AllWeeks:
		return core.NewFieldError("parity", errWeeklyParity)
	case s.Frequency == Biweekly && s.Parity == AllWeeks:
		return core.NewFieldError("parity", errBiweeklyParity)
	}
	return nil
}

// Duration returns the length of a lesson.
func (s Schedule) Duration() time.Duration {
	return time.Duration(s.End-s.Start) * time.Minute
}

// Occurs reports whether a lesson takes place on date.
func (s Schedule) Occurs(date core.Date) bool {
	return Weekday(date.Weekday()) == s.Weekday && s.Parity.Matches(date)
}

// LessonDates returns all the dates in [from, to] on which a lesson takes place.
func (s Schedule) LessonDates(from, to core.Date) []core.Date {
	if from.IsZero() || to.Before(from) {
		return nil
	}
	// first matching weekday
	offset := (int(s.Weekday) - int(from.Weekday()) + 7) % 7
	var dates []core.Date
	for d := from.AddDays(offset); !d.After(to); d = d.AddDays(7) {
		if s.Parity.Matches(d) {
			dates = append(dates, d)
		}
	}
	return dates
}

// Overlaps reports whether 2 schedules can have lessons at the same time:
// same weekday, intersecting times (touching ones don't) and compatible week parities.
func (s Schedule) Overlaps(other Schedule) bool {
	return s.Weekday == other.Weekday &&
		s.Start < other.End && other.Start < s.End &&
		s.Parity.compatible(other.Parity)
}

func (s Schedule) String() string {
	str := fmt.Sprintf("%s %s-%s", s.Weekday, s.Start, s.End)
	if s.Parity != AllWeeks {
		str += fmt.Sprintf(" (%s weeks)", s.Parity)
	}
	return str
}
