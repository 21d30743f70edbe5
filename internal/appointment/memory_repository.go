package appointment

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-process Repository. Transactions run one at a
// time under a single mutex against a copy of the appointment table, which is
// swapped in only when the transaction function succeeds.
type MemoryRepository struct {
	mu           sync.RWMutex
	providers    map[uuid.UUID]Provider
	patients     map[uuid.UUID]Patient
	services     map[uuid.UUID]MedicalService
	appointments map[uuid.UUID]Appointment
	events       []EventLog
	nextEventID  int64
	now          func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		providers:    make(map[uuid.UUID]Provider),
		patients:     make(map[uuid.UUID]Patient),
		services:     make(map[uuid.UUID]MedicalService),
		appointments: make(map[uuid.UUID]Appointment),
		now:          time.Now,
	}
}

func (r *MemoryRepository) AddProvider(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID] = p
}

func (r *MemoryRepository) AddPatient(p Patient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patients[p.ID] = p
}

func (r *MemoryRepository) AddService(s MedicalService) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[s.ID] = s
}

func (r *MemoryRepository) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (r *MemoryRepository) GetProviderByID(_ context.Context, id uuid.UUID) (*Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	if !ok {
		return nil, ErrProviderNotFound
	}
	return &p, nil
}

func (r *MemoryRepository) GetServiceByID(_ context.Context, id uuid.UUID) (*MedicalService, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.services[id]
	if !ok {
		return nil, ErrServiceNotFound
	}
	return &s, nil
}

func (r *MemoryRepository) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *MemoryRepository) ListActiveForProvider(_ context.Context, providerID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return activeForProvider(r.appointments, providerID, from, to), nil
}

func (r *MemoryRepository) ListByPatient(_ context.Context, patientID uuid.UUID, order ListOrder, limit, offset int) ([]Appointment, error) {
	r.mu.RLock()
	list := activeForPatient(r.appointments, patientID)
	r.mu.RUnlock()

	if order == OrderChronological {
		sortChronologically(list)
	} else {
		sortByPriority(list)
	}
	if offset >= len(list) {
		return nil, nil
	}
	list = list[offset:]
	if limit > 0 && limit < len(list) {
		list = list[:limit]
	}
	return list, nil
}

// Events returns a copy of the event log.
func (r *MemoryRepository) Events() []EventLog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]EventLog(nil), r.events...)
}

func (r *MemoryRepository) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx := &memoryTx{
		repo:         r,
		appointments: make(map[uuid.UUID]Appointment, len(r.appointments)),
		nextEventID:  r.nextEventID,
	}
	for id, a := range r.appointments {
		tx.appointments[id] = a
	}

	if err := fn(ctx, tx); err != nil {
		return err
	}

	r.appointments = tx.appointments
	r.events = append(r.events, tx.events...)
	r.nextEventID = tx.nextEventID
	return nil
}

// FetchUnpublished and MarkPublished let the notification relay drain the
// in-memory event log the same way it drains event_logs in Postgres.
func (r *MemoryRepository) FetchUnpublished(_ context.Context, limit int32) ([]EventLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []EventLog
	for _, ev := range r.events {
		if ev.PublishedAt != nil {
			continue
		}
		out = append(out, ev)
		if int32(len(out)) >= limit {
			break
		}
	}
	return out, nil
}

func (r *MemoryRepository) MarkPublished(_ context.Context, id int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.events {
		if r.events[i].ID == id && r.events[i].PublishedAt == nil {
			now := r.now()
			r.events[i].PublishedAt = &now
			return true, nil
		}
	}
	return false, nil
}

type memoryTx struct {
	repo         *MemoryRepository
	appointments map[uuid.UUID]Appointment
	events       []EventLog
	nextEventID  int64
}

// Locks are implicit: the whole transaction holds the repository mutex.
func (t *memoryTx) LockProvider(_ context.Context, id uuid.UUID) (*Provider, error) {
	p, ok := t.repo.providers[id]
	if !ok {
		return nil, ErrProviderNotFound
	}
	return &p, nil
}

func (t *memoryTx) LockPatient(_ context.Context, id uuid.UUID) (*Patient, error) {
	p, ok := t.repo.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (t *memoryTx) GetAppointmentForUpdate(_ context.Context, id uuid.UUID) (*Appointment, error) {
	a, ok := t.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (t *memoryTx) ListActiveForProvider(_ context.Context, providerID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	return activeForProvider(t.appointments, providerID, from, to), nil
}

func (t *memoryTx) ListActiveForPatient(_ context.Context, patientID uuid.UUID) ([]Appointment, error) {
	list := activeForPatient(t.appointments, patientID)
	sortByPriority(list)
	return list, nil
}

func (t *memoryTx) InsertAppointment(_ context.Context, a Appointment) (*Appointment, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	// mirrors the partial unique index on (provider_id, scheduled_at)
	for _, other := range t.appointments {
		if other.ProviderID == a.ProviderID && other.Status.Active() && other.ScheduledAt.Equal(a.ScheduledAt) {
			return nil, ErrSlotTaken
		}
	}
	now := t.repo.now()
	a.CreatedAt, a.UpdatedAt = now, now
	t.appointments[a.ID] = a
	return &a, nil
}

func (t *memoryTx) UpdateAppointment(_ context.Context, a Appointment) (*Appointment, error) {
	cur, ok := t.appointments[a.ID]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if a.Status.Active() {
		for id, other := range t.appointments {
			if id != a.ID && other.ProviderID == a.ProviderID && other.Status.Active() && other.ScheduledAt.Equal(a.ScheduledAt) {
				return nil, ErrSlotTaken
			}
		}
	}
	cur.ServiceID = a.ServiceID
	cur.ScheduledAt = a.ScheduledAt
	cur.Duration = a.Duration
	cur.Status = a.Status
	cur.Notes = a.Notes
	cur.UpdatedAt = t.repo.now()
	t.appointments[a.ID] = cur
	return &cur, nil
}

func (t *memoryTx) UpdatePriorities(_ context.Context, changes []PriorityAssignment) error {
	for _, c := range changes {
		a, ok := t.appointments[c.AppointmentID]
		if !ok {
			return ErrAppointmentNotFound
		}
		a.Priority = c.Priority
		a.UpdatedAt = t.repo.now()
		t.appointments[c.AppointmentID] = a
	}
	return nil
}

func (t *memoryTx) InsertEvent(_ context.Context, ev EventLog) error {
	t.nextEventID++
	ev.ID = t.nextEventID
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = t.repo.now()
	}
	t.events = append(t.events, ev)
	return nil
}

func activeForProvider(all map[uuid.UUID]Appointment, providerID uuid.UUID, from, to time.Time) []Appointment {
	var out []Appointment
	for _, a := range all {
		if a.ProviderID != providerID || !a.Status.Active() {
			continue
		}
		if Overlaps(a.ScheduledAt, a.End(), from, to) {
			out = append(out, a)
		}
	}
	sortChronologically(out)
	return out
}

func activeForPatient(all map[uuid.UUID]Appointment, patientID uuid.UUID) []Appointment {
	var out []Appointment
	for _, a := range all {
		if a.PatientID == patientID && a.Status.Active() {
			out = append(out, a)
		}
	}
	return out
}
