package appointment

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Active reports whether an appointment in this status occupies provider time
// and takes part in the patient's priority sequence.
func (s Status) Active() bool {
	return s != StatusCancelled
}

func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusConfirmed, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// transitions lists the allowed status moves. Completed and cancelled are terminal.
var transitions = map[Status][]Status{
	StatusScheduled: {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether an appointment may move from s to next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition or reschedule is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Provider struct {
	ID           uuid.UUID
	Name         string
	Specialty    *string
	Availability AvailabilityTemplate
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// MedicalService is a bookable consultation type.
type MedicalService struct {
	ID       uuid.UUID
	Name     string
	Duration time.Duration // zero means "use the provider's slot duration"
}

// DurationFor returns the occupied span of a booking for this service at provider p.
func (s MedicalService) DurationFor(p Provider) time.Duration {
	if s.Duration > 0 {
		return s.Duration
	}
	return p.Availability.SlotDuration
}

type Appointment struct {
	ID          uuid.UUID
	ProviderID  uuid.UUID
	PatientID   uuid.UUID
	ServiceID   uuid.UUID
	ScheduledAt time.Time
	Duration    time.Duration
	Status      Status
	Priority    int
	Notes       *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// End is the exclusive end of the occupied interval.
func (a Appointment) End() time.Time {
	return a.ScheduledAt.Add(a.Duration)
}

// Overlaps applies the half-open intersection rule; touching endpoints do not conflict.
func Overlaps(startA, endA, startB, endB time.Time) bool {
	return startA.Before(endB) && startB.Before(endA)
}

// Slot is a derived candidate start time. It is never persisted.
type Slot struct {
	Start     time.Time
	End       time.Time
	Available bool
}

// PriorityAssignment is one row of a renumbered priority list.
type PriorityAssignment struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	Priority      int       `json:"priority"`
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
	PublishedAt   *time.Time
}
