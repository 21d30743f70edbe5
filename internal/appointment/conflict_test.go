package appointment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

type stubAgenda []Appointment

func (s stubAgenda) ListActiveForProvider(_ context.Context, _ uuid.UUID, from, to time.Time) ([]Appointment, error) {
	var out []Appointment
	for _, a := range s {
		if Overlaps(a.ScheduledAt, a.End(), from, to) {
			out = append(out, a)
		}
	}
	return out, nil
}

func TestConflictDetectorValidate(t *testing.T) {
	provider := &Provider{ID: uuid.New(), Availability: morningTemplate()}
	booked := Appointment{ID: uuid.New(), ScheduledAt: monday(10, 0), Duration: 30 * time.Minute, Status: StatusScheduled}
	cancelled := Appointment{ID: uuid.New(), ScheduledAt: monday(9, 0), Duration: 30 * time.Minute, Status: StatusCancelled}
	agenda := stubAgenda{booked, cancelled}

	d := NewConflictDetector(testNow)
	ctx := context.Background()

	cases := []struct {
		name     string
		start    time.Time
		duration time.Duration
		exclude  uuid.UUID
		want     error
	}{
		{name: "free slot", start: monday(11, 0), duration: 30 * time.Minute},
		{name: "ends exactly at close", start: monday(11, 30), duration: 30 * time.Minute},
		{name: "one minute past close", start: monday(11, 31), duration: 30 * time.Minute, want: ErrOutsideAvailability},
		{name: "before open", start: monday(8, 45), duration: 30 * time.Minute, want: ErrOutsideAvailability},
		{name: "closed day", start: monday(10, 0).AddDate(0, 0, 1), duration: 30 * time.Minute, want: ErrOutsideAvailability},
		{name: "exact overlap", start: monday(10, 0), duration: 30 * time.Minute, want: ErrSlotTaken},
		{name: "partial overlap", start: monday(9, 45), duration: 30 * time.Minute, want: ErrSlotTaken},
		{name: "touches previous end", start: monday(10, 30), duration: 30 * time.Minute},
		{name: "touches next start", start: monday(9, 30), duration: 30 * time.Minute},
		{name: "cancelled ignored", start: monday(9, 0), duration: 30 * time.Minute},
		{name: "self excluded", start: monday(10, 0), duration: 30 * time.Minute, exclude: booked.ID},
		{name: "past", start: testNow().Add(-time.Hour), duration: 30 * time.Minute, want: ErrPastDateTime},
		{name: "now is past", start: testNow(), duration: 30 * time.Minute, want: ErrPastDateTime},
		{name: "zero duration", start: monday(11, 0), duration: 0, want: ErrValidation},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := d.Validate(ctx, agenda, provider, tc.start, tc.duration, tc.exclude)
			if tc.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestConflictDetectorCheckOrder(t *testing.T) {
	provider := &Provider{ID: uuid.New(), Availability: morningTemplate()}
	d := NewConflictDetector(testNow)

	// in the past and on a closed day: past wins
	past := time.Date(2029, 12, 25, 10, 0, 0, 0, time.UTC)
	err := d.Validate(context.Background(), stubAgenda{}, provider, past, 30*time.Minute, uuid.Nil)
	assert.ErrorIs(t, err, ErrPastDateTime)

	// outside hours and overlapping: availability wins
	late := Appointment{ID: uuid.New(), ScheduledAt: monday(11, 30), Duration: time.Hour, Status: StatusScheduled}
	err = d.Validate(context.Background(), stubAgenda{late}, provider, monday(11, 45), 30*time.Minute, uuid.Nil)
	assert.ErrorIs(t, err, ErrOutsideAvailability)
}
