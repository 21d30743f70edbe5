package main

import (
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/hospital-scheduling/internal/appointment"
)

const demoHours = "09:00-17:00"

// seedDemoData fills the in-memory store so the API is usable without a
// database. Providers work demoHours on weekdays.
func seedDemoData(repo *appointment.MemoryRepository, loc *time.Location, logger *zap.Logger) {
	weekday, err := appointment.ParseDayWindow(demoHours)
	if err != nil {
		logger.Fatal("demo hours", zap.Error(err))
	}
	tpl := appointment.AvailabilityTemplate{
		SlotDuration: 30 * time.Minute,
		SlotGap:      0,
		Location:     loc,
	}
	for d := time.Monday; d <= time.Friday; d++ {
		tpl.Days[d] = weekday
	}

	now := time.Now()
	for i := 0; i < 3; i++ {
		specialty := gofakeit.RandomString([]string{"Cardiology", "Dermatology", "General Practice", "Pediatrics"})
		p := appointment.Provider{
			ID:           uuid.New(),
			Name:         "Dr. " + gofakeit.Name(),
			Specialty:    &specialty,
			Availability: tpl,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		repo.AddProvider(p)
		logger.Info("demo provider", zap.String("id", p.ID.String()), zap.String("name", p.Name))
	}

	for i := 0; i < 5; i++ {
		email := gofakeit.Email()
		p := appointment.Patient{ID: uuid.New(), Name: gofakeit.Name(), Email: &email, CreatedAt: now, UpdatedAt: now}
		repo.AddPatient(p)
		logger.Info("demo patient", zap.String("id", p.ID.String()), zap.String("name", p.Name))
	}

	for _, s := range []appointment.MedicalService{
		{ID: uuid.New(), Name: "Consultation"},
		{ID: uuid.New(), Name: "Extended consultation", Duration: 60 * time.Minute},
	} {
		repo.AddService(s)
		logger.Info("demo service", zap.String("id", s.ID.String()), zap.String("name", s.Name))
	}
}
