package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/hackgods/hospital-scheduling/internal/config"
	"github.com/hackgods/hospital-scheduling/internal/metrics"
	redisclient "github.com/hackgods/hospital-scheduling/internal/redis"
)

const (
	EventAppointmentBooked        = "appointment.booked"
	EventAppointmentRescheduled   = "appointment.rescheduled"
	EventAppointmentConfirmed     = "appointment.confirmed"
	EventAppointmentCompleted     = "appointment.completed"
	EventAppointmentCancelled     = "appointment.cancelled"
	EventAppointmentReprioritized = "appointment.reprioritized"
)

const tracerName = "github.com/hackgods/hospital-scheduling/internal/appointment"

type Service struct {
	repo     Repository
	locker   redisclient.Locker
	cfg      config.Config
	logger   *zap.Logger
	metrics  *metrics.SchedulingMetrics
	detector *ConflictDetector
	tracer   trace.Tracer
	now      func() time.Time
}

// NewService wires the engine. locker and m may be nil.
func NewService(repo Repository, locker redisclient.Locker, cfg config.Config, logger *zap.Logger, m *metrics.SchedulingMetrics) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:     repo,
		locker:   locker,
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		detector: NewConflictDetector(time.Now),
		tracer:   otel.Tracer(tracerName),
		now:      time.Now,
	}
}

// WithTracerProvider takes spans from tp instead of the global provider.
func (s *Service) WithTracerProvider(tp trace.TracerProvider) *Service {
	s.tracer = tp.Tracer(tracerName)
	return s
}

// WithClock replaces the validation clock. Used by tests and the simulator.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	s.detector = NewConflictDetector(now)
	return s
}

type BookRequest struct {
	PatientID  uuid.UUID
	ProviderID uuid.UUID
	ServiceID  uuid.UUID
	Start      time.Time
	Notes      *string
}

// UpdateRequest is a partial change of one appointment. Any combination of
// fields may be set; all of them are applied in one transaction.
type UpdateRequest struct {
	AppointmentID uuid.UUID
	Start         *time.Time
	ServiceID     *uuid.UUID
	Status        *Status
	Notes         *string
}

func (r UpdateRequest) reschedules() bool {
	return r.Start != nil || r.ServiceID != nil
}

// Book validates and creates a scheduled appointment. The conflict check and
// the insert share one transaction with the provider row locked, so two
// concurrent requests for overlapping time cannot both succeed.
func (s *Service) Book(ctx context.Context, req BookRequest) (_ *Appointment, err error) {
	ctx, span := s.tracer.Start(ctx, "appointment.Book", trace.WithAttributes(
		attribute.String("provider_id", req.ProviderID.String()),
		attribute.String("patient_id", req.PatientID.String()),
	))
	defer func(start time.Time) { s.finish(span, "book", start, err) }(time.Now())

	if req.PatientID == uuid.Nil || req.ProviderID == uuid.Nil || req.ServiceID == uuid.Nil {
		return nil, validationf("patient_id, provider_id and service_id are required")
	}
	if req.Start.IsZero() {
		return nil, validationf("datetime is required")
	}
	if err := authorizeBooking(ctx, req.PatientID, req.ProviderID); err != nil {
		return nil, err
	}

	svc, err := s.repo.GetServiceByID(ctx, req.ServiceID)
	if err != nil {
		return nil, fmt.Errorf("load service: %w", err)
	}

	var created *Appointment

	err = s.atomically(ctx, req.ProviderID, func(ctx context.Context, tx Tx) error {
		provider, err := tx.LockProvider(ctx, req.ProviderID)
		if err != nil {
			return fmt.Errorf("lock provider: %w", err)
		}
		if _, err := tx.LockPatient(ctx, req.PatientID); err != nil {
			return fmt.Errorf("lock patient: %w", err)
		}

		duration := svc.DurationFor(*provider)
		if err := s.detector.Validate(ctx, tx, provider, req.Start, duration, uuid.Nil); err != nil {
			return err
		}

		existing, err := tx.ListActiveForPatient(ctx, req.PatientID)
		if err != nil {
			return fmt.Errorf("load patient appointments: %w", err)
		}
		priority := 1
		for _, a := range existing {
			if a.Priority >= priority {
				priority = a.Priority + 1
			}
		}

		appt, err := tx.InsertAppointment(ctx, Appointment{
			ID:          uuid.New(),
			ProviderID:  req.ProviderID,
			PatientID:   req.PatientID,
			ServiceID:   req.ServiceID,
			ScheduledAt: req.Start,
			Duration:    duration,
			Status:      StatusScheduled,
			Priority:    priority,
			Notes:       req.Notes,
		})
		if err != nil {
			return fmt.Errorf("insert appointment: %w", err)
		}
		created = appt

		return s.logEvent(ctx, tx, appt.ID, EventAppointmentBooked, eventPayload(appt, nil))
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("appointment booked",
		zap.String("appointment_id", created.ID.String()),
		zap.String("provider_id", created.ProviderID.String()),
		zap.Time("scheduled_at", created.ScheduledAt),
		zap.Int("priority", created.Priority),
	)
	return created, nil
}

// Reschedule moves an appointment to newStart and optionally to another
// service. The appointment's own interval is excluded from the conflict check.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, newStart time.Time, newServiceID *uuid.UUID) (*Appointment, error) {
	return s.Update(ctx, UpdateRequest{AppointmentID: id, Start: &newStart, ServiceID: newServiceID})
}

// Transition applies a status change. It never re-runs conflict detection.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, status Status) (*Appointment, error) {
	return s.Update(ctx, UpdateRequest{AppointmentID: id, Status: &status})
}

func (s *Service) Update(ctx context.Context, req UpdateRequest) (_ *Appointment, err error) {
	ctx, span := s.tracer.Start(ctx, "appointment.Update", trace.WithAttributes(
		attribute.String("appointment_id", req.AppointmentID.String()),
	))
	op := "update"
	switch {
	case req.reschedules():
		op = "reschedule"
	case req.Status != nil:
		op = "transition"
	}
	defer func(start time.Time) { s.finish(span, op, start, err) }(time.Now())

	if req.AppointmentID == uuid.Nil {
		return nil, validationf("appointment id is required")
	}
	if !req.reschedules() && req.Status == nil && req.Notes == nil {
		return nil, validationf("nothing to update")
	}
	if req.Start != nil && req.Start.IsZero() {
		return nil, validationf("datetime must not be empty")
	}
	if req.ServiceID != nil && *req.ServiceID == uuid.Nil {
		return nil, validationf("service_id must not be empty")
	}
	if req.Status != nil && !req.Status.Valid() {
		return nil, validationf("unknown status %q", *req.Status)
	}

	current, err := s.repo.GetAppointmentByID(ctx, req.AppointmentID)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if err := authorizeChange(ctx, current, req.Status); err != nil {
		return nil, err
	}

	var svc *MedicalService
	if req.ServiceID != nil {
		if svc, err = s.repo.GetServiceByID(ctx, *req.ServiceID); err != nil {
			return nil, fmt.Errorf("load service: %w", err)
		}
	}

	var updated *Appointment

	err = s.atomically(ctx, current.ProviderID, func(ctx context.Context, tx Tx) error {
		provider, err := tx.LockProvider(ctx, current.ProviderID)
		if err != nil {
			return fmt.Errorf("lock provider: %w", err)
		}
		appt, err := tx.GetAppointmentForUpdate(ctx, req.AppointmentID)
		if err != nil {
			return fmt.Errorf("load appointment: %w", err)
		}

		var events []string
		previous := appt.ScheduledAt

		if req.reschedules() {
			if appt.Status.Terminal() {
				return fmt.Errorf("%w: cannot reschedule a %s appointment", ErrInvalidTransition, appt.Status)
			}
			start, duration := appt.ScheduledAt, appt.Duration
			if req.Start != nil {
				start = *req.Start
			}
			if svc != nil {
				duration = svc.DurationFor(*provider)
				appt.ServiceID = svc.ID
			}
			if err := s.detector.Validate(ctx, tx, provider, start, duration, appt.ID); err != nil {
				return err
			}
			appt.ScheduledAt, appt.Duration = start, duration
			events = append(events, EventAppointmentRescheduled)
		}

		if req.Status != nil {
			if !appt.Status.CanTransition(*req.Status) {
				return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, appt.Status, *req.Status)
			}
			appt.Status = *req.Status
			events = append(events, statusEvent(appt.Status))
		}

		if req.Notes != nil {
			appt.Notes = req.Notes
		}

		saved, err := tx.UpdateAppointment(ctx, *appt)
		if err != nil {
			return fmt.Errorf("update appointment: %w", err)
		}
		updated = saved

		if saved.Status == StatusCancelled {
			if err := s.compactPriorities(ctx, tx, saved.PatientID); err != nil {
				return err
			}
		}

		var prev *time.Time
		if !previous.Equal(saved.ScheduledAt) {
			prev = &previous
		}
		for _, ev := range events {
			if err := s.logEvent(ctx, tx, saved.ID, ev, eventPayload(saved, prev)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("appointment updated",
		zap.String("appointment_id", updated.ID.String()),
		zap.String("operation", op),
		zap.String("status", string(updated.Status)),
		zap.Time("scheduled_at", updated.ScheduledAt),
	)
	return updated, nil
}

// compactPriorities renumbers a patient's remaining active appointments 1..N
// in their existing relative order.
func (s *Service) compactPriorities(ctx context.Context, tx Tx, patientID uuid.UUID) error {
	if _, err := tx.LockPatient(ctx, patientID); err != nil {
		return fmt.Errorf("lock patient: %w", err)
	}
	active, err := tx.ListActiveForPatient(ctx, patientID)
	if err != nil {
		return fmt.Errorf("load patient appointments: %w", err)
	}
	sortByPriority(active)
	_, changed := Renumber(active)
	if len(changed) == 0 {
		return nil
	}
	if err := tx.UpdatePriorities(ctx, changed); err != nil {
		return fmt.Errorf("update priorities: %w", err)
	}
	return nil
}

// MoveTo places the appointment at newIndex (0-based, clamped) in the
// patient's priority order and renumbers the list.
func (s *Service) MoveTo(ctx context.Context, patientID, appointmentID uuid.UUID, newIndex int) ([]PriorityAssignment, error) {
	return s.reprioritize(ctx, "priority_move", patientID, appointmentID, func(int) int { return newIndex })
}

// SwapAdjacent moves the appointment one position up or down. At either end
// of the list it is a no-op that still returns the current order.
func (s *Service) SwapAdjacent(ctx context.Context, patientID, appointmentID uuid.UUID, dir Direction) ([]PriorityAssignment, error) {
	var delta int
	switch dir {
	case DirectionUp:
		delta = -1
	case DirectionDown:
		delta = 1
	default:
		return nil, validationf("direction must be %q or %q", DirectionUp, DirectionDown)
	}
	return s.reprioritize(ctx, "priority_swap", patientID, appointmentID, func(cur int) int { return cur + delta })
}

func (s *Service) reprioritize(ctx context.Context, op string, patientID, appointmentID uuid.UUID, target func(current int) int) (_ []PriorityAssignment, err error) {
	ctx, span := s.tracer.Start(ctx, "appointment.Reprioritize", trace.WithAttributes(
		attribute.String("patient_id", patientID.String()),
		attribute.String("appointment_id", appointmentID.String()),
	))
	defer func(start time.Time) { s.finish(span, op, start, err) }(time.Now())

	if patientID == uuid.Nil || appointmentID == uuid.Nil {
		return nil, validationf("patient_id and appointment_id are required")
	}
	if err := authorizePatient(ctx, patientID); err != nil {
		return nil, err
	}

	appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if appt.PatientID != patientID {
		return nil, denied("appointment %s belongs to another patient", appointmentID)
	}
	if !appt.Status.Active() {
		return nil, fmt.Errorf("%w: cancelled appointments have no priority", ErrInvalidTransition)
	}

	var ordered []PriorityAssignment

	err = s.atomically(ctx, uuid.Nil, func(ctx context.Context, tx Tx) error {
		if _, err := tx.LockPatient(ctx, patientID); err != nil {
			return fmt.Errorf("lock patient: %w", err)
		}
		list, err := tx.ListActiveForPatient(ctx, patientID)
		if err != nil {
			return fmt.Errorf("load patient appointments: %w", err)
		}
		sortByPriority(list)

		cur := indexOf(list, appointmentID)
		if cur < 0 {
			return ErrAppointmentNotFound
		}
		result, changed, _ := Reorder(list, appointmentID, target(cur))
		ordered = result

		if len(changed) == 0 {
			return nil
		}
		if err := tx.UpdatePriorities(ctx, changed); err != nil {
			return fmt.Errorf("update priorities: %w", err)
		}
		return s.logEvent(ctx, tx, appointmentID, EventAppointmentReprioritized, map[string]any{
			"patient_id": patientID.String(),
			"priorities": ordered,
		})
	})
	if err != nil {
		return nil, err
	}
	return ordered, nil
}

// Slots returns the slot list for the provider on the calendar date given by
// date's year, month and day, interpreted in the provider's timezone.
func (s *Service) Slots(ctx context.Context, providerID uuid.UUID, date time.Time) (_ []Slot, err error) {
	ctx, span := s.tracer.Start(ctx, "appointment.Slots", trace.WithAttributes(
		attribute.String("provider_id", providerID.String()),
		attribute.String("date", date.Format(time.DateOnly)),
	))
	defer func(start time.Time) { s.finish(span, "slots", start, err) }(time.Now())

	if providerID == uuid.Nil {
		return nil, validationf("provider_id is required")
	}
	provider, err := s.repo.GetProviderByID(ctx, providerID)
	if err != nil {
		return nil, fmt.Errorf("load provider: %w", err)
	}

	loc := provider.Availability.Loc()
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, loc)
	from, to := DayRange(day, loc)

	active, err := s.repo.ListActiveForProvider(ctx, providerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load provider agenda: %w", err)
	}
	return GenerateSlots(provider.Availability, day, active), nil
}

// CheckAvailability runs the conflict detector outside of any write, for
// callers that want to pre-validate a candidate before asking to book it.
func (s *Service) CheckAvailability(ctx context.Context, providerID uuid.UUID, start time.Time, duration time.Duration, exclude uuid.UUID) error {
	provider, err := s.repo.GetProviderByID(ctx, providerID)
	if err != nil {
		return fmt.Errorf("load provider: %w", err)
	}
	if duration == 0 {
		duration = provider.Availability.SlotDuration
	}
	return s.detector.Validate(ctx, s.repo, provider, start, duration, exclude)
}

// GetAppointment retrieves an appointment the caller is allowed to see.
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	if err := authorizeRead(ctx, appt); err != nil {
		return nil, err
	}
	return appt, nil
}

// ListAppointmentsByPatient returns the patient's active appointments sorted
// either by manual priority or by scheduled time.
func (s *Service) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, order ListOrder, limit, offset int) ([]Appointment, error) {
	if order == "" {
		order = OrderPriority
	}
	if order != OrderPriority && order != OrderChronological {
		return nil, validationf("order must be %q or %q", OrderPriority, OrderChronological)
	}
	if err := authorizePatient(ctx, patientID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20 // default
	}
	if limit > 100 {
		limit = 100 // max
	}
	if offset < 0 {
		offset = 0
	}

	appointments, err := s.repo.ListByPatient(ctx, patientID, order, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return appointments, nil
}

// atomically runs fn in one storage transaction, under the provider lock when
// providerID is set and a locker is configured. Transient storage failures
// rerun the whole unit, validation included.
func (s *Service) atomically(ctx context.Context, providerID uuid.UUID, fn func(ctx context.Context, tx Tx) error) error {
	run := func(ctx context.Context) error {
		return s.repo.WithinTx(ctx, fn)
	}

	var err error
	for attempt := 0; ; attempt++ {
		if providerID != uuid.Nil && s.locker != nil {
			err = s.locker.WithProviderLock(ctx, providerID, run)
			if errors.Is(err, redisclient.ErrLockNotAcquired) {
				err = fmt.Errorf("%w: %v", ErrRetryable, err)
			}
		} else {
			err = run(ctx)
		}

		if !errors.Is(err, ErrRetryable) || attempt >= s.cfg.TxRetries {
			return err
		}

		s.logger.Warn("retrying transaction after transient failure",
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		backoff := time.NewTimer(time.Duration(attempt+1) * 10 * time.Millisecond)
		select {
		case <-ctx.Done():
			backoff.Stop()
			return err
		case <-backoff.C:
		}
	}
}

func (s *Service) finish(span trace.Span, op string, start time.Time, err error) {
	defer span.End()

	outcome := "ok"
	if err != nil {
		if reason, ok := ReasonOf(err); ok {
			outcome = string(reason)
			s.metrics.ObserveRejection(outcome)
			s.logger.Debug("scheduling request rejected",
				zap.String("operation", op),
				zap.String("reason", outcome),
				zap.Error(err),
			)
		} else {
			outcome = "error"
			s.logger.Error("scheduling request failed", zap.String("operation", op), zap.Error(err))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	s.metrics.ObserveOperation(op, outcome, time.Since(start).Seconds())
}

// logEvent writes the outbox row inside the caller's transaction, so the
// notification exists if and only if the change committed.
func (s *Service) logEvent(ctx context.Context, tx Tx, appointmentID uuid.UUID, eventType string, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := tx.InsertEvent(ctx, ev); err != nil {
		return fmt.Errorf("insert event %s: %w", eventType, err)
	}
	return nil
}

func statusEvent(st Status) string {
	switch st {
	case StatusConfirmed:
		return EventAppointmentConfirmed
	case StatusCompleted:
		return EventAppointmentCompleted
	case StatusCancelled:
		return EventAppointmentCancelled
	}
	return "appointment." + string(st)
}

func eventPayload(a *Appointment, previous *time.Time) map[string]any {
	p := map[string]any{
		"appointment_id":   a.ID.String(),
		"provider_id":      a.ProviderID.String(),
		"patient_id":       a.PatientID.String(),
		"service_id":       a.ServiceID.String(),
		"scheduled_at":     a.ScheduledAt,
		"duration_minutes": int(a.Duration / time.Minute),
		"status":           a.Status,
		"priority":         a.Priority,
	}
	if previous != nil {
		p["previous_scheduled_at"] = *previous
	}
	return p
}
