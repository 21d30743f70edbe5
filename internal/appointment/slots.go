package appointment

import (
	"sort"
	"time"
)

// GenerateSlots derives the ordered slot list for one calendar date.
// It is a pure function of its inputs: closed days yield nil, a trailing
// partial slot is dropped, and past dates are generated like any other.
// active may contain appointments of any day; only intersecting ones matter.
func GenerateSlots(tpl AvailabilityTemplate, date time.Time, active []Appointment) []Slot {
	open, close, ok := tpl.Bounds(date)
	if !ok || tpl.SlotDuration <= 0 {
		return nil
	}

	step := tpl.SlotStep()
	if step <= 0 {
		return nil
	}
	busy := occupied(active)

	var out []Slot
	for cur := open; !cur.Add(tpl.SlotDuration).After(close); cur = cur.Add(step) {
		end := cur.Add(tpl.SlotDuration)
		out = append(out, Slot{
			Start:     cur,
			End:       end,
			Available: !intersectsAny(cur, end, busy),
		})
	}
	return out
}

type interval struct {
	start time.Time
	end   time.Time
}

// occupied returns the active intervals sorted by start.
func occupied(appts []Appointment) []interval {
	out := make([]interval, 0, len(appts))
	for _, a := range appts {
		if !a.Status.Active() {
			continue
		}
		out = append(out, interval{start: a.ScheduledAt, end: a.End()})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].start.Before(out[j].start)
	})
	return out
}

func intersectsAny(start, end time.Time, busy []interval) bool {
	for _, b := range busy {
		if !b.start.Before(end) {
			// sorted by start; nothing later can intersect
			return false
		}
		if Overlaps(start, end, b.start, b.end) {
			return true
		}
	}
	return false
}

// DayRange returns [start of date, start of next date) in loc.
func DayRange(date time.Time, loc *time.Location) (time.Time, time.Time) {
	y, m, d := date.In(loc).Date()
	from := time.Date(y, m, d, 0, 0, 0, 0, loc)
	return from, from.AddDate(0, 0, 1)
}
