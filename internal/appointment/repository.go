package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type ListOrder string

const (
	OrderPriority      ListOrder = "priority"
	OrderChronological ListOrder = "chronological"
)

// AgendaReader is what slot generation and conflict detection need to see.
type AgendaReader interface {
	// ListActiveForProvider returns non-cancelled appointments of the provider
	// whose occupied interval intersects [from, to), ordered by scheduled_at.
	ListActiveForProvider(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]Appointment, error)
}

// Tx is a single atomic unit of reads and writes. Nothing written through a
// Tx is visible to others until the surrounding WithinTx returns nil.
type Tx interface {
	AgendaReader

	// Row locks. Writers of one provider's agenda serialise on LockProvider;
	// writers of one patient's priority sequence serialise on LockPatient.
	// When both are needed the provider is locked first.
	LockProvider(ctx context.Context, id uuid.UUID) (*Provider, error)
	LockPatient(ctx context.Context, id uuid.UUID) (*Patient, error)

	GetAppointmentForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// ListActiveForPatient returns the patient's non-cancelled appointments ordered by priority.
	ListActiveForPatient(ctx context.Context, patientID uuid.UUID) ([]Appointment, error)

	InsertAppointment(ctx context.Context, a Appointment) (*Appointment, error)
	// UpdateAppointment persists schedule, service, duration, status and notes.
	UpdateAppointment(ctx context.Context, a Appointment) (*Appointment, error)
	UpdatePriorities(ctx context.Context, changes []PriorityAssignment) error

	InsertEvent(ctx context.Context, ev EventLog) error
}

// Repository contains all storage interactions needed by the service.
type Repository interface {
	AgendaReader

	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetProviderByID(ctx context.Context, id uuid.UUID) (*Provider, error)
	GetServiceByID(ctx context.Context, id uuid.UUID) (*MedicalService, error)
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	ListByPatient(ctx context.Context, patientID uuid.UUID, order ListOrder, limit, offset int) ([]Appointment, error)

	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
