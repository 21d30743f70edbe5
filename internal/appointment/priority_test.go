package appointment

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func prioritized(n int) []Appointment {
	list := make([]Appointment, n)
	for i := range list {
		list[i] = Appointment{
			ID:          uuid.New(),
			ScheduledAt: monday(9, 0).Add(time.Duration(i) * 30 * time.Minute),
			Status:      StatusScheduled,
			Priority:    i + 1,
		}
	}
	return list
}

func ids(assignments []PriorityAssignment) []uuid.UUID {
	out := make([]uuid.UUID, len(assignments))
	for i, a := range assignments {
		out[i] = a.AppointmentID
	}
	return out
}

func TestReorderMovesLastToFront(t *testing.T) {
	list := prioritized(3)

	ordered, changed, ok := Reorder(list, list[2].ID, 0)

	require.True(t, ok)
	assert.Equal(t, []uuid.UUID{list[2].ID, list[0].ID, list[1].ID}, ids(ordered))
	for i, a := range ordered {
		assert.Equal(t, i+1, a.Priority)
	}
	assert.Len(t, changed, 3)
}

func TestReorderClampsIndex(t *testing.T) {
	list := prioritized(4)

	ordered, _, ok := Reorder(list, list[1].ID, 99)
	require.True(t, ok)
	assert.Equal(t, list[1].ID, ordered[3].AppointmentID)

	ordered, _, ok = Reorder(list, list[2].ID, -5)
	require.True(t, ok)
	assert.Equal(t, list[2].ID, ordered[0].AppointmentID)
}

func TestReorderSamePositionChangesNothing(t *testing.T) {
	list := prioritized(3)

	ordered, changed, ok := Reorder(list, list[1].ID, 1)

	require.True(t, ok)
	assert.Empty(t, changed)
	assert.Equal(t, []uuid.UUID{list[0].ID, list[1].ID, list[2].ID}, ids(ordered))
}

func TestReorderUnknownTarget(t *testing.T) {
	_, _, ok := Reorder(prioritized(2), uuid.New(), 0)
	assert.False(t, ok)
}

func TestRenumberCompactsGaps(t *testing.T) {
	list := prioritized(3)
	list[1].Priority = 5
	list[2].Priority = 9

	ordered, changed := Renumber(list)

	assert.Equal(t, []PriorityAssignment{
		{AppointmentID: list[0].ID, Priority: 1},
		{AppointmentID: list[1].ID, Priority: 2},
		{AppointmentID: list[2].ID, Priority: 3},
	}, ordered)
	assert.Len(t, changed, 2)
}

func TestPriorityAndChronologicalOrderAreIndependent(t *testing.T) {
	list := prioritized(3)
	// latest appointment is the most important
	list[0].Priority, list[2].Priority = 3, 1

	byPriority := append([]Appointment(nil), list...)
	sortByPriority(byPriority)
	byTime := append([]Appointment(nil), list...)
	sortChronologically(byTime)

	assert.Equal(t, list[2].ID, byPriority[0].ID)
	assert.Equal(t, list[0].ID, byTime[0].ID)
}
