package appointment

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/hospital-scheduling/internal/config"
)

// 2030-01-07 is a Monday.
func monday(hour, minute int) time.Time {
	return time.Date(2030, 1, 7, hour, minute, 0, 0, time.UTC)
}

var testNow = func() time.Time { return time.Date(2030, 1, 1, 8, 0, 0, 0, time.UTC) }

// morningTemplate is open Monday 09:00-12:00 with 30 minute slots.
func morningTemplate() AvailabilityTemplate {
	tpl := AvailabilityTemplate{SlotDuration: 30 * time.Minute}
	tpl.Days[time.Monday] = DayWindow{Open: 9 * 60, Close: 12 * 60}
	return tpl
}

type fixture struct {
	svc      *Service
	repo     *MemoryRepository
	provider Provider
	other    Provider
	patients []Patient
	consult  MedicalService
	long     MedicalService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo := NewMemoryRepository()
	f := &fixture{
		repo:     repo,
		provider: Provider{ID: uuid.New(), Name: "Dr. Grey", Availability: morningTemplate()},
		other:    Provider{ID: uuid.New(), Name: "Dr. Shepherd", Availability: morningTemplate()},
		consult:  MedicalService{ID: uuid.New(), Name: "Consultation"},
		long:     MedicalService{ID: uuid.New(), Name: "Extended consultation", Duration: time.Hour},
	}
	repo.AddProvider(f.provider)
	repo.AddProvider(f.other)
	repo.AddService(f.consult)
	repo.AddService(f.long)
	for i := 0; i < 3; i++ {
		p := Patient{ID: uuid.New(), Name: "patient"}
		repo.AddPatient(p)
		f.patients = append(f.patients, p)
	}

	f.svc = NewService(repo, nil, config.Config{TxRetries: 3}, nil, nil).WithClock(testNow)
	return f
}

func (f *fixture) book(t *testing.T, patient int, at time.Time) *Appointment {
	t.Helper()
	appt, err := f.svc.Book(t.Context(), BookRequest{
		PatientID:  f.patients[patient].ID,
		ProviderID: f.provider.ID,
		ServiceID:  f.consult.ID,
		Start:      at,
	})
	if err != nil {
		t.Fatalf("book %s: %v", at.Format(time.Kitchen), err)
	}
	return appt
}

func availability(slots []Slot) map[string]bool {
	out := make(map[string]bool, len(slots))
	for _, s := range slots {
		out[s.Start.Format("15:04")] = s.Available
	}
	return out
}
