package appointment

import (
	"sort"

	"github.com/google/uuid"
)

type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// Reorder moves target to newIndex within list (which must already be in
// priority order), clamping the index to the list bounds, and renumbers the
// whole list 1..N. It returns the full new order and only the assignments
// whose value changed. ok is false when target is not in list.
func Reorder(list []Appointment, target uuid.UUID, newIndex int) (ordered []PriorityAssignment, changed []PriorityAssignment, ok bool) {
	from := -1
	for i, a := range list {
		if a.ID == target {
			from = i
			break
		}
	}
	if from < 0 {
		return nil, nil, false
	}

	rest := make([]Appointment, 0, len(list)-1)
	rest = append(rest, list[:from]...)
	rest = append(rest, list[from+1:]...)

	if newIndex < 0 {
		newIndex = 0
	}
	if newIndex > len(rest) {
		newIndex = len(rest)
	}

	moved := make([]Appointment, 0, len(list))
	moved = append(moved, rest[:newIndex]...)
	moved = append(moved, list[from])
	moved = append(moved, rest[newIndex:]...)

	ordered, changed = Renumber(moved)
	return ordered, changed, true
}

// Renumber assigns 1..N in slice order and reports which rows changed.
func Renumber(list []Appointment) (ordered []PriorityAssignment, changed []PriorityAssignment) {
	ordered = make([]PriorityAssignment, 0, len(list))
	for i, a := range list {
		pa := PriorityAssignment{AppointmentID: a.ID, Priority: i + 1}
		ordered = append(ordered, pa)
		if a.Priority != pa.Priority {
			changed = append(changed, pa)
		}
	}
	return ordered, changed
}

// indexOf returns the position of id in list, or -1.
func indexOf(list []Appointment, id uuid.UUID) int {
	for i, a := range list {
		if a.ID == id {
			return i
		}
	}
	return -1
}

// sortByPriority orders by priority, breaking ties by scheduled time and id so
// that a damaged sequence still renumbers deterministically.
func sortByPriority(list []Appointment) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Priority != list[j].Priority {
			return list[i].Priority < list[j].Priority
		}
		if !list[i].ScheduledAt.Equal(list[j].ScheduledAt) {
			return list[i].ScheduledAt.Before(list[j].ScheduledAt)
		}
		return list[i].ID.String() < list[j].ID.String()
	})
}

func sortChronologically(list []Appointment) {
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].ScheduledAt.Equal(list[j].ScheduledAt) {
			return list[i].ScheduledAt.Before(list[j].ScheduledAt)
		}
		return list[i].ID.String() < list[j].ID.String()
	})
}
