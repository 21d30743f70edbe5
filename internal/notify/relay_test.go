package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/hackgods/hospital-scheduling/internal/appointment"
	"github.com/hackgods/hospital-scheduling/internal/metrics"
)

type fakeStore struct {
	mu        sync.Mutex
	events    []appointment.EventLog
	published map[int64]bool
	fetchErr  error
}

func (s *fakeStore) FetchUnpublished(_ context.Context, limit int32) ([]appointment.EventLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	var out []appointment.EventLog
	for _, ev := range s.events {
		if !s.published[ev.ID] && int32(len(out)) < limit {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *fakeStore) MarkPublished(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.published[id] {
		return false, nil
	}
	s.published[id] = true
	return true, nil
}

type fakePublisher struct {
	mu       sync.Mutex
	sent     []Message
	failKeys map[string]bool
}

func (p *fakePublisher) Publish(_ context.Context, msg Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failKeys[msg.RoutingKey] {
		return errors.New("broker unavailable")
	}
	p.sent = append(p.sent, msg)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func newStore(types ...string) *fakeStore {
	s := &fakeStore{published: make(map[int64]bool)}
	for i, typ := range types {
		s.events = append(s.events, appointment.EventLog{
			ID:        int64(i + 1),
			EventType: typ,
			Payload:   []byte(`{}`),
			CreatedAt: time.Now(),
		})
	}
	return s
}

func TestRelayDrainPublishesInOrder(t *testing.T) {
	store := newStore(appointment.EventAppointmentBooked, appointment.EventAppointmentCancelled)
	pub := &fakePublisher{}
	relay := NewRelay(store, pub, zaptest.NewLogger(t), metrics.New(prometheus.NewRegistry()))

	assert.Equal(t, 2, relay.Drain(context.Background()))
	require.Len(t, pub.sent, 2)
	assert.Equal(t, appointment.EventAppointmentBooked, pub.sent[0].RoutingKey)
	assert.Equal(t, "1", pub.sent[0].MessageID)
	assert.Equal(t, appointment.EventAppointmentCancelled, pub.sent[1].RoutingKey)

	assert.Equal(t, 0, relay.Drain(context.Background()), "nothing left")
}

func TestRelayKeepsFailedEventsForNextDrain(t *testing.T) {
	store := newStore(appointment.EventAppointmentBooked, appointment.EventAppointmentConfirmed)
	pub := &fakePublisher{failKeys: map[string]bool{appointment.EventAppointmentConfirmed: true}}
	relay := NewRelay(store, pub, zaptest.NewLogger(t), nil)

	assert.Equal(t, 1, relay.Drain(context.Background()))
	assert.False(t, store.published[2])

	pub.failKeys = nil
	assert.Equal(t, 1, relay.Drain(context.Background()))
	assert.True(t, store.published[2])
}

func TestRelayBatchSize(t *testing.T) {
	store := newStore("a", "b", "c")
	pub := &fakePublisher{}
	relay := NewRelay(store, pub, nil, nil).WithBatchSize(2)

	assert.Equal(t, 2, relay.Drain(context.Background()))
	assert.Equal(t, 1, relay.Drain(context.Background()))
}

func TestRelayFetchError(t *testing.T) {
	store := newStore("a")
	store.fetchErr = errors.New("db down")
	relay := NewRelay(store, &fakePublisher{}, zaptest.NewLogger(t), nil)

	assert.Equal(t, 0, relay.Drain(context.Background()))
}

func TestRelayStartStopsWithContext(t *testing.T) {
	store := newStore(appointment.EventAppointmentBooked)
	pub := &fakePublisher{}
	relay := NewRelay(store, pub, zaptest.NewLogger(t), nil).WithInterval(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		relay.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		pub.mu.Lock()
		defer pub.mu.Unlock()
		return len(pub.sent) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}

func TestLogPublisher(t *testing.T) {
	pub := NewLogPublisher(zaptest.NewLogger(t))
	assert.NoError(t, pub.Publish(context.Background(), Message{RoutingKey: "appointment.booked", Body: []byte(`{}`)}))
	assert.NoError(t, pub.Close())
}

func TestPgEventStoreFlow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPgEventStore(mock)
	apptID := uuid.New()
	now := time.Now().UTC()

	rows := pgxmock.NewRows([]string{"id", "event_type", "appointment_id", "payload", "created_at"}).
		AddRow(int64(7), appointment.EventAppointmentBooked, &apptID, []byte(`{"status":"scheduled"}`), now)
	mock.ExpectQuery("FROM event_logs").WithArgs(int32(10)).WillReturnRows(rows)

	events, err := store.FetchUnpublished(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, int64(7), events[0].ID)
	require.NotNil(t, events[0].AppointmentID)
	assert.Equal(t, apptID, *events[0].AppointmentID)

	mock.ExpectExec("UPDATE event_logs").WithArgs(int64(7)).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	ok, err := store.MarkPublished(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectExec("UPDATE event_logs").WithArgs(int64(7)).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	ok, err = store.MarkPublished(context.Background(), 7)
	require.NoError(t, err)
	assert.False(t, ok, "already published by another relay")

	require.NoError(t, mock.ExpectationsWereMet())
}
