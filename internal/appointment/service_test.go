package appointment

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/hackgods/hospital-scheduling/internal/config"
	redisclient "github.com/hackgods/hospital-scheduling/internal/redis"
)

func TestBookMarksSlotTaken(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	slots, err := f.svc.Slots(ctx, f.provider.ID, monday(0, 0))
	require.NoError(t, err)
	require.Len(t, slots, 6)
	assert.True(t, availability(slots)["10:00"])

	appt := f.book(t, 0, monday(10, 0))
	assert.Equal(t, StatusScheduled, appt.Status)
	assert.Equal(t, 30*time.Minute, appt.Duration)
	assert.Equal(t, 1, appt.Priority)

	slots, err = f.svc.Slots(ctx, f.provider.ID, monday(0, 0))
	require.NoError(t, err)
	assert.False(t, availability(slots)["10:00"])

	_, err = f.svc.Book(ctx, BookRequest{
		PatientID:  f.patients[1].ID,
		ProviderID: f.provider.ID,
		ServiceID:  f.consult.ID,
		Start:      monday(10, 0),
	})
	assert.ErrorIs(t, err, ErrSlotTaken)
	reason, ok := ReasonOf(err)
	assert.True(t, ok)
	assert.Equal(t, ReasonSlotTaken, reason)
}

func TestBookSameTimeAtAnotherProvider(t *testing.T) {
	f := newFixture(t)
	f.book(t, 0, monday(10, 0))

	_, err := f.svc.Book(t.Context(), BookRequest{
		PatientID:  f.patients[1].ID,
		ProviderID: f.other.ID,
		ServiceID:  f.consult.ID,
		Start:      monday(10, 0),
	})
	assert.NoError(t, err)
}

func TestBookUsesServiceDuration(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	appt, err := f.svc.Book(ctx, BookRequest{
		PatientID:  f.patients[0].ID,
		ProviderID: f.provider.ID,
		ServiceID:  f.long.ID,
		Start:      monday(10, 0),
	})
	require.NoError(t, err)
	assert.Equal(t, monday(11, 0), appt.End())

	slots, err := f.svc.Slots(ctx, f.provider.ID, monday(0, 0))
	require.NoError(t, err)
	got := availability(slots)
	assert.False(t, got["10:30"])
	assert.True(t, got["11:00"])

	// an hour-long service at 11:30 would run past closing
	_, err = f.svc.Book(ctx, BookRequest{
		PatientID:  f.patients[1].ID,
		ProviderID: f.provider.ID,
		ServiceID:  f.long.ID,
		Start:      monday(11, 30),
	})
	assert.ErrorIs(t, err, ErrOutsideAvailability)
}

func TestBookRejections(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		name string
		req  BookRequest
		want error
	}{
		{
			name: "past",
			req:  BookRequest{PatientID: f.patients[0].ID, ProviderID: f.provider.ID, ServiceID: f.consult.ID, Start: testNow().Add(-time.Hour)},
			want: ErrPastDateTime,
		},
		{
			name: "outside hours",
			req:  BookRequest{PatientID: f.patients[0].ID, ProviderID: f.provider.ID, ServiceID: f.consult.ID, Start: monday(13, 0)},
			want: ErrOutsideAvailability,
		},
		{
			name: "unknown provider",
			req:  BookRequest{PatientID: f.patients[0].ID, ProviderID: uuid.New(), ServiceID: f.consult.ID, Start: monday(10, 0)},
			want: ErrProviderNotFound,
		},
		{
			name: "unknown patient",
			req:  BookRequest{PatientID: uuid.New(), ProviderID: f.provider.ID, ServiceID: f.consult.ID, Start: monday(10, 0)},
			want: ErrPatientNotFound,
		},
		{
			name: "unknown service",
			req:  BookRequest{PatientID: f.patients[0].ID, ProviderID: f.provider.ID, ServiceID: uuid.New(), Start: monday(10, 0)},
			want: ErrServiceNotFound,
		},
		{
			name: "missing datetime",
			req:  BookRequest{PatientID: f.patients[0].ID, ProviderID: f.provider.ID, ServiceID: f.consult.ID},
			want: ErrValidation,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Book(t.Context(), tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	assert.Empty(t, f.repo.Events(), "rejected bookings must not emit events")
}

func TestRescheduleExcludesOwnInterval(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	appt := f.book(t, 0, monday(10, 0))

	moved, err := f.svc.Reschedule(ctx, appt.ID, monday(9, 0), nil)
	require.NoError(t, err)
	assert.Equal(t, monday(9, 0), moved.ScheduledAt)

	slots, err := f.svc.Slots(ctx, f.provider.ID, monday(0, 0))
	require.NoError(t, err)
	got := availability(slots)
	assert.True(t, got["10:00"])
	assert.False(t, got["09:00"])

	// overlapping its own old interval is fine too
	_, err = f.svc.Reschedule(ctx, appt.ID, monday(9, 15), nil)
	assert.NoError(t, err)
}

func TestRescheduleIntoTakenSlot(t *testing.T) {
	f := newFixture(t)
	f.book(t, 0, monday(10, 0))
	second := f.book(t, 1, monday(11, 0))

	_, err := f.svc.Reschedule(t.Context(), second.ID, monday(10, 0), nil)
	assert.ErrorIs(t, err, ErrSlotTaken)

	current, err := f.repo.GetAppointmentByID(t.Context(), second.ID)
	require.NoError(t, err)
	assert.Equal(t, monday(11, 0), current.ScheduledAt, "failed reschedule leaves the appointment untouched")
}

func TestRescheduleChangingService(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t, 0, monday(10, 0))
	f.book(t, 1, monday(11, 0))

	// a 60 minute service from 10:00 would run into the 11:00 booking
	_, err := f.svc.Reschedule(t.Context(), appt.ID, monday(10, 30), &f.long.ID)
	assert.ErrorIs(t, err, ErrSlotTaken)

	moved, err := f.svc.Reschedule(t.Context(), appt.ID, monday(9, 0), &f.long.ID)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, moved.Duration)
	assert.Equal(t, f.long.ID, moved.ServiceID)
}

func TestStatusTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	appt := f.book(t, 0, monday(10, 0))

	confirmed, err := f.svc.Transition(ctx, appt.ID, StatusConfirmed)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, confirmed.Status)

	_, err = f.svc.Transition(ctx, appt.ID, StatusScheduled)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	completed, err := f.svc.Transition(ctx, appt.ID, StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, completed.Status)

	_, err = f.svc.Transition(ctx, appt.ID, StatusCancelled)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.svc.Reschedule(ctx, appt.ID, monday(11, 0), nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.svc.Transition(ctx, appt.ID, Status("archived"))
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCancelFreesSlotAndCompactsPriorities(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	first := f.book(t, 0, monday(9, 0))
	second := f.book(t, 0, monday(10, 0))
	third := f.book(t, 0, monday(11, 0))
	assert.Equal(t, []int{1, 2, 3}, []int{first.Priority, second.Priority, third.Priority})

	cancelled, err := f.svc.Transition(ctx, second.ID, StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)

	list, err := f.svc.ListAppointmentsByPatient(ctx, f.patients[0].ID, OrderPriority, 0, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, 1, list[0].Priority)
	assert.Equal(t, third.ID, list[1].ID)
	assert.Equal(t, 2, list[1].Priority)

	slots, err := f.svc.Slots(ctx, f.provider.ID, monday(0, 0))
	require.NoError(t, err)
	assert.True(t, availability(slots)["10:00"])

	fourth := f.book(t, 0, monday(10, 0))
	assert.Equal(t, 3, fourth.Priority)
}

func TestMoveToReordersPatientList(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	a := f.book(t, 0, monday(9, 0))
	b := f.book(t, 0, monday(10, 0))
	c := f.book(t, 0, monday(11, 0))

	ordered, err := f.svc.MoveTo(ctx, f.patients[0].ID, c.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, []PriorityAssignment{
		{AppointmentID: c.ID, Priority: 1},
		{AppointmentID: a.ID, Priority: 2},
		{AppointmentID: b.ID, Priority: 3},
	}, ordered)

	byPriority, err := f.svc.ListAppointmentsByPatient(ctx, f.patients[0].ID, OrderPriority, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{c.ID, a.ID, b.ID}, appointmentIDs(byPriority))

	byTime, err := f.svc.ListAppointmentsByPatient(ctx, f.patients[0].ID, OrderChronological, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{a.ID, b.ID, c.ID}, appointmentIDs(byTime))

	events := f.repo.Events()
	last := events[len(events)-1]
	assert.Equal(t, EventAppointmentReprioritized, last.EventType)
}

func TestSwapAdjacent(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	a := f.book(t, 0, monday(9, 0))
	b := f.book(t, 0, monday(10, 0))

	ordered, err := f.svc.SwapAdjacent(ctx, f.patients[0].ID, b.ID, DirectionUp)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{b.ID, a.ID}, ids(ordered))

	eventsBefore := len(f.repo.Events())

	// already first: no-op
	ordered, err = f.svc.SwapAdjacent(ctx, f.patients[0].ID, b.ID, DirectionUp)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{b.ID, a.ID}, ids(ordered))
	assert.Len(t, f.repo.Events(), eventsBefore)

	_, err = f.svc.SwapAdjacent(ctx, f.patients[0].ID, b.ID, Direction("sideways"))
	assert.ErrorIs(t, err, ErrValidation)
}

func TestReprioritizeRejections(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	mine := f.book(t, 0, monday(9, 0))
	theirs := f.book(t, 1, monday(10, 0))

	_, err := f.svc.MoveTo(ctx, f.patients[0].ID, theirs.ID, 0)
	assert.ErrorIs(t, err, ErrAccessDenied)

	_, err = f.svc.MoveTo(ctx, f.patients[0].ID, uuid.New(), 0)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.Transition(ctx, mine.ID, StatusCancelled)
	require.NoError(t, err)
	_, err = f.svc.MoveTo(ctx, f.patients[0].ID, mine.ID, 0)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestListAppointmentsByPatientPaging(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	f.book(t, 0, monday(9, 0))
	f.book(t, 0, monday(10, 0))
	f.book(t, 0, monday(11, 0))

	page, err := f.svc.ListAppointmentsByPatient(ctx, f.patients[0].ID, OrderPriority, 2, 1)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, 2, page[0].Priority)

	_, err = f.svc.ListAppointmentsByPatient(ctx, f.patients[0].ID, ListOrder("alphabetical"), 0, 0)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestConcurrentIdenticalBookingsHaveOneWinner(t *testing.T) {
	f := newFixture(t)
	const n = 20

	patients := make([]uuid.UUID, n)
	for i := range patients {
		p := Patient{ID: uuid.New(), Name: "racer"}
		f.repo.AddPatient(p)
		patients[i] = p.ID
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = f.svc.Book(context.Background(), BookRequest{
				PatientID:  patients[i],
				ProviderID: f.provider.ID,
				ServiceID:  f.consult.ID,
				Start:      monday(10, 0),
			})
		}(i)
	}
	close(start)
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, ErrSlotTaken)
	}
	assert.Equal(t, 1, wins)
}

func TestConcurrentOverlappingBookingsNeverOverlap(t *testing.T) {
	f := newFixture(t)
	starts := []time.Time{monday(9, 0), monday(9, 30), monday(10, 0), monday(10, 30), monday(11, 0)}

	var wg sync.WaitGroup
	for round := 0; round < 4; round++ {
		for _, at := range starts {
			wg.Add(1)
			go func(at time.Time, patient int) {
				defer wg.Done()
				_, _ = f.svc.Book(context.Background(), BookRequest{
					PatientID:  f.patients[patient].ID,
					ProviderID: f.provider.ID,
					ServiceID:  f.long.ID,
					Start:      at,
				})
			}(at, round%len(f.patients))
		}
	}
	wg.Wait()

	active, err := f.repo.ListActiveForProvider(t.Context(), f.provider.ID, monday(0, 0), monday(23, 0))
	require.NoError(t, err)
	require.NotEmpty(t, active)
	for i := 0; i < len(active); i++ {
		for j := i + 1; j < len(active); j++ {
			assert.False(t, Overlaps(active[i].ScheduledAt, active[i].End(), active[j].ScheduledAt, active[j].End()),
				"%s and %s overlap", active[i].ScheduledAt, active[j].ScheduledAt)
		}
	}

	for _, p := range f.patients {
		list, err := f.svc.ListAppointmentsByPatient(t.Context(), p.ID, OrderPriority, 0, 0)
		require.NoError(t, err)
		for i, a := range list {
			assert.Equal(t, i+1, a.Priority)
		}
	}
}

func TestBookWithRedisProviderLock(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	f := newFixture(t)
	locker := redisclient.NewRedisProviderLocker(rdb, 5*time.Second, 2*time.Second)
	svc := NewService(f.repo, locker, config.Config{TxRetries: 1}, nil, nil).WithClock(testNow)

	var wg sync.WaitGroup
	errs := make([]error, len(f.patients))
	for i := range f.patients {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Book(context.Background(), BookRequest{
				PatientID:  f.patients[i].ID,
				ProviderID: f.provider.ID,
				ServiceID:  f.consult.ID,
				Start:      monday(11, 0),
			})
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, ErrSlotTaken)
		}
	}
	assert.Equal(t, 1, wins)
	assert.False(t, mr.Exists("lock:provider:"+f.provider.ID.String()), "lock released")
}

// flakyRepository fails the first transactions with a retryable error.
type flakyRepository struct {
	*MemoryRepository
	failures int
	calls    int
}

func (r *flakyRepository) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	r.calls++
	if r.calls <= r.failures {
		return errors.Join(ErrRetryable, errors.New("serialization failure"))
	}
	return r.MemoryRepository.WithinTx(ctx, fn)
}

func TestBookRetriesTransientFailures(t *testing.T) {
	f := newFixture(t)
	repo := &flakyRepository{MemoryRepository: f.repo, failures: 2}
	svc := NewService(repo, nil, config.Config{TxRetries: 3}, nil, nil).WithClock(testNow)

	_, err := svc.Book(t.Context(), BookRequest{
		PatientID:  f.patients[0].ID,
		ProviderID: f.provider.ID,
		ServiceID:  f.consult.ID,
		Start:      monday(9, 0),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, repo.calls)

	repo.calls, repo.failures = 0, 10
	_, err = svc.Book(t.Context(), BookRequest{
		PatientID:  f.patients[0].ID,
		ProviderID: f.provider.ID,
		ServiceID:  f.consult.ID,
		Start:      monday(10, 0),
	})
	assert.ErrorIs(t, err, ErrRetryable)
	reason, _ := ReasonOf(err)
	assert.Equal(t, ReasonUnavailable, reason)
	assert.Equal(t, 4, repo.calls)
}

func TestActorAuthorization(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t, 0, monday(10, 0))

	patient := WithActor(t.Context(), Actor{ID: f.patients[0].ID, Role: RolePatient})
	stranger := WithActor(t.Context(), Actor{ID: f.patients[1].ID, Role: RolePatient})
	provider := WithActor(t.Context(), Actor{ID: f.provider.ID, Role: RoleProvider})
	otherProvider := WithActor(t.Context(), Actor{ID: f.other.ID, Role: RoleProvider})
	admin := WithActor(t.Context(), Actor{ID: uuid.New(), Role: RoleAdmin})

	_, err := f.svc.Book(stranger, BookRequest{
		PatientID: f.patients[0].ID, ProviderID: f.provider.ID, ServiceID: f.consult.ID, Start: monday(11, 0),
	})
	assert.ErrorIs(t, err, ErrAccessDenied)

	_, err = f.svc.GetAppointment(stranger, appt.ID)
	assert.ErrorIs(t, err, ErrAccessDenied)
	_, err = f.svc.GetAppointment(patient, appt.ID)
	assert.NoError(t, err)
	_, err = f.svc.GetAppointment(provider, appt.ID)
	assert.NoError(t, err)

	_, err = f.svc.Transition(patient, appt.ID, StatusConfirmed)
	assert.ErrorIs(t, err, ErrAccessDenied, "patients do not confirm")
	_, err = f.svc.Transition(otherProvider, appt.ID, StatusConfirmed)
	assert.ErrorIs(t, err, ErrAccessDenied)
	_, err = f.svc.Transition(provider, appt.ID, StatusConfirmed)
	assert.NoError(t, err)

	_, err = f.svc.Reschedule(patient, appt.ID, monday(9, 0), nil)
	assert.NoError(t, err)

	_, err = f.svc.ListAppointmentsByPatient(stranger, f.patients[0].ID, OrderPriority, 0, 0)
	assert.ErrorIs(t, err, ErrAccessDenied)
	_, err = f.svc.ListAppointmentsByPatient(admin, f.patients[0].ID, OrderPriority, 0, 0)
	assert.NoError(t, err)

	_, err = f.svc.Transition(patient, appt.ID, StatusCancelled)
	assert.NoError(t, err)
}

func TestEventsAreWrittenWithTheChange(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	appt := f.book(t, 0, monday(10, 0))

	_, err := f.svc.Update(ctx, UpdateRequest{
		AppointmentID: appt.ID,
		Start:         ptr(monday(11, 0)),
		Status:        ptr(StatusConfirmed),
	})
	require.NoError(t, err)

	var types []string
	for _, ev := range f.repo.Events() {
		types = append(types, ev.EventType)
	}
	assert.Equal(t, []string{EventAppointmentBooked, EventAppointmentRescheduled, EventAppointmentConfirmed}, types)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(f.repo.Events()[1].Payload, &payload))
	assert.Equal(t, appt.ID.String(), payload["appointment_id"])
	assert.Contains(t, payload, "previous_scheduled_at")

	pending, err := f.repo.FetchUnpublished(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 3)
	ok, err := f.repo.MarkPublished(ctx, pending[0].ID)
	require.NoError(t, err)
	assert.True(t, ok)
	pending, err = f.repo.FetchUnpublished(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestCheckAvailability(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t, 0, monday(10, 0))

	assert.NoError(t, f.svc.CheckAvailability(t.Context(), f.provider.ID, monday(9, 0), 0, uuid.Nil))
	assert.ErrorIs(t, f.svc.CheckAvailability(t.Context(), f.provider.ID, monday(10, 0), 0, uuid.Nil), ErrSlotTaken)
	assert.NoError(t, f.svc.CheckAvailability(t.Context(), f.provider.ID, monday(10, 0), 0, appt.ID))
	assert.ErrorIs(t, f.svc.CheckAvailability(t.Context(), uuid.New(), monday(10, 0), 0, uuid.Nil), ErrNotFound)
}

func appointmentIDs(list []Appointment) []uuid.UUID {
	out := make([]uuid.UUID, len(list))
	for i, a := range list {
		out[i] = a.ID
	}
	return out
}

func ptr[T any](v T) *T { return &v }

func TestRandomOperationsKeepPrioritiesDense(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	rng := rand.New(rand.NewPCG(7, 11))

	providers := []uuid.UUID{f.provider.ID, f.other.ID}
	var starts []time.Time
	for m := 9 * 60; m < 12*60; m += 30 {
		starts = append(starts, monday(m/60, m%60))
	}

	assertDense := func(step int, patientID uuid.UUID) []Appointment {
		list, err := f.svc.ListAppointmentsByPatient(ctx, patientID, OrderPriority, 100, 0)
		require.NoError(t, err)
		for i, a := range list {
			require.Equalf(t, i+1, a.Priority, "step %d: priorities %v", step, priorities(list))
		}
		return list
	}

	for step := 0; step < 300; step++ {
		patientID := f.patients[rng.IntN(2)].ID
		list := assertDense(step, patientID)

		op := rng.IntN(4)
		if len(list) == 0 {
			op = 0
		}
		switch op {
		case 0:
			_, err := f.svc.Book(ctx, BookRequest{
				PatientID:  patientID,
				ProviderID: providers[rng.IntN(len(providers))],
				ServiceID:  f.consult.ID,
				Start:      starts[rng.IntN(len(starts))],
			})
			if err != nil {
				require.ErrorIs(t, err, ErrSlotTaken)
			}
		case 1:
			_, err := f.svc.Transition(ctx, list[rng.IntN(len(list))].ID, StatusCancelled)
			require.NoError(t, err)
		case 2:
			_, err := f.svc.MoveTo(ctx, patientID, list[rng.IntN(len(list))].ID, rng.IntN(len(list)+2)-1)
			require.NoError(t, err)
		case 3:
			dir := DirectionUp
			if rng.IntN(2) == 0 {
				dir = DirectionDown
			}
			_, err := f.svc.SwapAdjacent(ctx, patientID, list[rng.IntN(len(list))].ID, dir)
			require.NoError(t, err)
		}

		assertDense(step, patientID)
	}
}

func priorities(list []Appointment) []int {
	out := make([]int, len(list))
	for i, a := range list {
		out[i] = a.Priority
	}
	return out
}

func TestServiceRecordsSpans(t *testing.T) {
	f := newFixture(t)
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	f.svc.WithTracerProvider(tp)

	f.book(t, 0, monday(10, 0))
	_, err := f.svc.Book(t.Context(), BookRequest{
		PatientID:  f.patients[1].ID,
		ProviderID: f.provider.ID,
		ServiceID:  f.consult.ID,
		Start:      monday(10, 0),
	})
	require.ErrorIs(t, err, ErrSlotTaken)

	ended := rec.Ended()
	require.Len(t, ended, 2)
	for _, span := range ended {
		assert.Equal(t, "appointment.Book", span.Name())
	}
	assert.Equal(t, codes.Unset, ended[0].Status().Code)
	assert.Equal(t, codes.Error, ended[1].Status().Code)
	assert.Equal(t, string(ReasonSlotTaken), ended[1].Status().Description)
	require.NotEmpty(t, ended[1].Events())
	assert.Equal(t, "exception", ended[1].Events()[0].Name)
}
