package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/hospital-scheduling/internal/appointment"
)

type BookAppointmentRequest struct {
	PatientID  string  `json:"patient_id" validate:"required,uuid"`
	ProviderID string  `json:"provider_id" validate:"required,uuid"`
	ServiceID  string  `json:"service_id" validate:"required,uuid"`
	Datetime   string  `json:"datetime" validate:"required"`
	Notes      *string `json:"notes,omitempty" validate:"omitempty,max=2000"`
}

// UpdateAppointmentRequest is a partial update; omitted fields are kept.
type UpdateAppointmentRequest struct {
	Datetime  *string `json:"datetime,omitempty" validate:"omitempty,min=1"`
	ServiceID *string `json:"service_id,omitempty" validate:"omitempty,uuid"`
	Status    *string `json:"status,omitempty" validate:"omitempty,oneof=scheduled confirmed completed cancelled"`
	Notes     *string `json:"notes,omitempty" validate:"omitempty,max=2000"`
}

type MovePriorityRequest struct {
	AppointmentID string `json:"appointment_id" validate:"required,uuid"`
	NewIndex      *int   `json:"new_index" validate:"required"`
}

type SwapPriorityRequest struct {
	AppointmentID string `json:"appointment_id" validate:"required,uuid"`
	Direction     string `json:"direction" validate:"required,oneof=up down"`
}

type AvailabilityCheckRequest struct {
	ProviderID           string `json:"provider_id" validate:"required,uuid"`
	Datetime             string `json:"datetime" validate:"required"`
	DurationMinutes      int    `json:"duration_minutes,omitempty" validate:"omitempty,min=1,max=1440"`
	ExcludeAppointmentID string `json:"exclude_appointment_id,omitempty" validate:"omitempty,uuid"`
}

type AppointmentResponse struct {
	ID              uuid.UUID `json:"id"`
	ProviderID      uuid.UUID `json:"provider_id"`
	PatientID       uuid.UUID `json:"patient_id"`
	ServiceID       uuid.UUID `json:"service_id"`
	ScheduledAt     time.Time `json:"scheduled_at"`
	EndsAt          time.Time `json:"ends_at"`
	DurationMinutes int       `json:"duration_minutes"`
	Status          string    `json:"status"`
	Priority        int       `json:"priority"`
	Notes           *string   `json:"notes,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type AppointmentListResponse struct {
	PatientID    uuid.UUID             `json:"patient_id"`
	Order        string                `json:"order"`
	Limit        int                   `json:"limit"`
	Offset       int                   `json:"offset"`
	Appointments []AppointmentResponse `json:"appointments"`
}

type SlotResponse struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Available bool      `json:"available"`
}

type SlotsResponse struct {
	ProviderID uuid.UUID      `json:"provider_id"`
	Date       string         `json:"date"`
	Slots      []SlotResponse `json:"slots"`
}

type PriorityResponse struct {
	PatientID  uuid.UUID                        `json:"patient_id"`
	Priorities []appointment.PriorityAssignment `json:"priorities"`
}

type AvailabilityResponse struct {
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
	Details   string `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:              a.ID,
		ProviderID:      a.ProviderID,
		PatientID:       a.PatientID,
		ServiceID:       a.ServiceID,
		ScheduledAt:     a.ScheduledAt,
		EndsAt:          a.End(),
		DurationMinutes: int(a.Duration / time.Minute),
		Status:          string(a.Status),
		Priority:        a.Priority,
		Notes:           a.Notes,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}
