package appointment

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeOfDay is a wall-clock time expressed in minutes after local midnight.
// 1440 (24:00) is a valid closing time.
type TimeOfDay int

const EndOfDay TimeOfDay = 24 * 60

// ParseTimeOfDay accepts exactly "HH:MM" in 24h format, including "24:00".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	hh, mm, ok := strings.Cut(s, ":")
	if !ok || len(hh) != 2 || len(mm) != 2 || !digits(hh) || !digits(mm) {
		return 0, fmt.Errorf("%w: time of day %q is not HH:MM", ErrValidation, s)
	}
	h, _ := strconv.Atoi(hh)
	m, _ := strconv.Atoi(mm)
	t := TimeOfDay(h*60 + m)
	if m > 59 || t > EndOfDay {
		return 0, fmt.Errorf("%w: time of day %q out of range", ErrValidation, s)
	}
	return t, nil
}

// ParseDayWindow parses "HH:MM-HH:MM".
func ParseDayWindow(s string) (DayWindow, error) {
	from, to, ok := strings.Cut(s, "-")
	if !ok {
		return DayWindow{}, fmt.Errorf("%w: window %q is not HH:MM-HH:MM", ErrValidation, s)
	}
	open, err := ParseTimeOfDay(from)
	if err != nil {
		return DayWindow{}, err
	}
	close, err := ParseTimeOfDay(to)
	if err != nil {
		return DayWindow{}, err
	}
	if open > close {
		return DayWindow{}, fmt.Errorf("%w: window %q opens after it closes", ErrValidation, s)
	}
	return DayWindow{Open: open, Close: close}, nil
}

func digits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// On returns the absolute instant at wall-clock t on the calendar day of date
// in loc. Days with a DST shift are shorter or longer than 24h, so t is never
// an offset from midnight. 24:00 normalises to the next midnight.
func (t TimeOfDay) On(date time.Time, loc *time.Location) time.Time {
	y, mo, d := date.In(loc).Date()
	return time.Date(y, mo, d, int(t)/60, int(t)%60, 0, 0, loc)
}

// DayWindow is the open/close range for one weekday. Open == Close means closed.
type DayWindow struct {
	Open  TimeOfDay
	Close TimeOfDay
}

func (w DayWindow) Closed() bool {
	return w.Open == w.Close
}

// AvailabilityTemplate is a provider's recurring weekly availability,
// indexed by time.Weekday (Sunday = 0).
type AvailabilityTemplate struct {
	Days         [7]DayWindow
	SlotDuration time.Duration
	SlotGap      time.Duration
	Location     *time.Location
}

// WindowFor returns the open window for the weekday, or false when the provider is closed.
func (a AvailabilityTemplate) WindowFor(day time.Weekday) (DayWindow, bool) {
	if day < time.Sunday || day > time.Saturday {
		return DayWindow{}, false
	}
	w := a.Days[day]
	if w.Closed() {
		return DayWindow{}, false
	}
	return w, true
}

// SlotStep is the distance between consecutive slot starts.
func (a AvailabilityTemplate) SlotStep() time.Duration {
	return a.SlotDuration + a.SlotGap
}

func (a AvailabilityTemplate) Loc() *time.Location {
	if a.Location == nil {
		return time.UTC
	}
	return a.Location
}

// Bounds returns the absolute open and close instants for the calendar day
// containing date, evaluated in the provider's location.
func (a AvailabilityTemplate) Bounds(date time.Time) (open, close time.Time, ok bool) {
	loc := a.Loc()
	w, ok := a.WindowFor(date.In(loc).Weekday())
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	return w.Open.On(date, loc), w.Close.On(date, loc), true
}

func (a AvailabilityTemplate) Validate() error {
	if a.SlotDuration <= 0 {
		return fmt.Errorf("%w: slot duration must be positive", ErrValidation)
	}
	if a.SlotGap < 0 {
		return fmt.Errorf("%w: slot gap must not be negative", ErrValidation)
	}
	for day, w := range a.Days {
		if w.Open < 0 || w.Close > EndOfDay {
			return fmt.Errorf("%w: %s window %s-%s out of range", ErrValidation, time.Weekday(day), w.Open, w.Close)
		}
		if w.Open > w.Close {
			return fmt.Errorf("%w: %s opens after it closes", ErrValidation, time.Weekday(day))
		}
	}
	return nil
}
