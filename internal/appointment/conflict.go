package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ConflictDetector decides whether a candidate booking is legal for a provider.
type ConflictDetector struct {
	now func() time.Time
}

func NewConflictDetector(now func() time.Time) *ConflictDetector {
	if now == nil {
		now = time.Now
	}
	return &ConflictDetector{now: now}
}

// Validate runs the checks in order and returns the first failure:
// ErrPastDateTime, ErrOutsideAvailability, then ErrSlotTaken.
// exclude is ignored in the overlap check (the appointment being rescheduled);
// pass uuid.Nil for a new booking. The agenda must be read through the same
// transaction that performs the subsequent write.
func (d *ConflictDetector) Validate(ctx context.Context, agenda AgendaReader, provider *Provider, start time.Time, duration time.Duration, exclude uuid.UUID) error {
	if duration <= 0 {
		return validationf("duration must be positive")
	}

	if !start.After(d.now()) {
		return fmt.Errorf("%w: %s", ErrPastDateTime, start.Format(time.RFC3339))
	}

	if err := withinAvailability(provider.Availability, start, duration); err != nil {
		return err
	}

	end := start.Add(duration)
	existing, err := agenda.ListActiveForProvider(ctx, provider.ID, start, end)
	if err != nil {
		return fmt.Errorf("load provider agenda: %w", err)
	}
	for _, a := range existing {
		if a.ID == exclude || !a.Status.Active() {
			continue
		}
		if Overlaps(start, end, a.ScheduledAt, a.End()) {
			return fmt.Errorf("%w: provider is booked from %s to %s",
				ErrSlotTaken, a.ScheduledAt.Format(time.RFC3339), a.End().Format(time.RFC3339))
		}
	}
	return nil
}

func withinAvailability(tpl AvailabilityTemplate, start time.Time, duration time.Duration) error {
	open, close, ok := tpl.Bounds(start)
	if !ok {
		return fmt.Errorf("%w: provider does not work on %s", ErrOutsideAvailability, start.In(tpl.Loc()).Weekday())
	}
	end := start.Add(duration)
	if start.Before(open) || end.After(close) {
		return fmt.Errorf("%w: %s-%s is outside %s-%s",
			ErrOutsideAvailability,
			start.In(tpl.Loc()).Format("15:04"), end.In(tpl.Loc()).Format("15:04"),
			open.Format("15:04"), close.Format("15:04"))
	}
	return nil
}
