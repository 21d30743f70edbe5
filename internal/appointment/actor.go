package appointment

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

type Role string

const (
	RolePatient  Role = "patient"
	RoleProvider Role = "provider"
	RoleAdmin    Role = "admin"
)

func (r Role) Valid() bool {
	return r == RolePatient || r == RoleProvider || r == RoleAdmin
}

// Actor is the authenticated caller supplied by the identity layer.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

type actorKey struct{}

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFrom returns the caller stored in ctx. Calls without an actor come
// from trusted in-process code (seeding, load simulation) and are not checked.
func ActorFrom(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(Actor)
	return a, ok
}

func denied(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrAccessDenied, fmt.Sprintf(format, args...))
}

func authorizeBooking(ctx context.Context, patientID, providerID uuid.UUID) error {
	a, ok := ActorFrom(ctx)
	if !ok || a.Role == RoleAdmin {
		return nil
	}
	switch {
	case a.Role == RolePatient && a.ID == patientID:
		return nil
	case a.Role == RoleProvider && a.ID == providerID:
		return nil
	}
	return denied("caller may not book for this patient and provider")
}

// authorizeChange checks a PATCH on appt. Patients may move or cancel their own
// appointments; confirming and completing is provider-side.
func authorizeChange(ctx context.Context, appt *Appointment, status *Status) error {
	a, ok := ActorFrom(ctx)
	if !ok || a.Role == RoleAdmin {
		return nil
	}
	switch a.Role {
	case RoleProvider:
		if a.ID == appt.ProviderID {
			return nil
		}
	case RolePatient:
		if a.ID != appt.PatientID {
			break
		}
		if status == nil || *status == StatusCancelled {
			return nil
		}
		return denied("patients may only cancel, not mark an appointment %s", *status)
	}
	return denied("caller does not own appointment %s", appt.ID)
}

func authorizeRead(ctx context.Context, appt *Appointment) error {
	a, ok := ActorFrom(ctx)
	if !ok || a.Role == RoleAdmin {
		return nil
	}
	if (a.Role == RolePatient && a.ID == appt.PatientID) || (a.Role == RoleProvider && a.ID == appt.ProviderID) {
		return nil
	}
	return denied("caller does not own appointment %s", appt.ID)
}

func authorizePatient(ctx context.Context, patientID uuid.UUID) error {
	a, ok := ActorFrom(ctx)
	if !ok || a.Role == RoleAdmin {
		return nil
	}
	if a.Role == RolePatient && a.ID == patientID {
		return nil
	}
	return denied("caller may not manage appointments of patient %s", patientID)
}
