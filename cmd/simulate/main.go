package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hackgods/hospital-scheduling/internal/appointment"
	"github.com/hackgods/hospital-scheduling/internal/auth"
	"github.com/hackgods/hospital-scheduling/internal/config"
	"github.com/hackgods/hospital-scheduling/internal/db"
	"github.com/hackgods/hospital-scheduling/internal/logging"
)

type SimConfig struct {
	APIBaseURL    string
	Duration      time.Duration
	Workers       int
	BookingRatio  float64
	PriorityRatio float64
	CancelRatio   float64
	ReadRatio     float64
	StormRounds   int
	StormWidth    int
	PatientLimit  int
	ProviderLimit int
	PostgresDSN   string
	JWTSecret     string
}

type DataPool struct {
	Patients  []uuid.UUID
	Providers []uuid.UUID
	Services  []uuid.UUID

	mu           sync.RWMutex
	appointments map[uuid.UUID]uuid.UUID // appointment -> patient
}

func (dp *DataPool) AddAppointment(id, patientID uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments[id] = patientID
}

func (dp *DataPool) RemoveAppointment(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	delete(dp.appointments, id)
}

func (dp *DataPool) RandomAppointment(rng *rand.Rand) (id, patientID uuid.UUID, ok bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return uuid.Nil, uuid.Nil, false
	}
	n := rng.Intn(len(dp.appointments))
	for id, patientID := range dp.appointments {
		if n == 0 {
			return id, patientID, true
		}
		n--
	}
	return uuid.Nil, uuid.Nil, false
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case success:
		atomic.AddInt64(&om.Success, 1)
	case conflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	latencies := append([]time.Duration(nil), om.Latencies...)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0, 0
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	pct := func(p int) time.Duration {
		idx := len(latencies) * p / 100
		if idx >= len(latencies) {
			idx = len(latencies) - 1
		}
		return latencies[idx]
	}

	return sum / time.Duration(len(latencies)), latencies[0], latencies[len(latencies)-1], pct(50), pct(95)
}

type Metrics struct {
	Slots        OperationMetrics
	Booking      OperationMetrics
	Storm        OperationMetrics
	Reprioritize OperationMetrics
	Cancel       OperationMetrics
	ReadByID     OperationMetrics
	ListPatient  OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	token   string
	logger  *zap.Logger
	metrics Metrics

	stormViolations int64
}

func main() {
	cfg := loadConfig()
	logger := logging.Must("dev", "info")
	defer func() { _ = logger.Sync() }()

	if err := validateConfig(cfg); err != nil {
		logger.Fatal("invalid config", zap.Error(err))
	}

	logger.Info("simulator starting",
		zap.Duration("duration", cfg.Duration),
		zap.Int("workers", cfg.Workers),
		zap.Int("storm_rounds", cfg.StormRounds),
		zap.Int("storm_width", cfg.StormWidth),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, 4)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		logger.Fatal("load data pool", zap.Error(err))
	}
	logger.Info("data loaded",
		zap.Int("patients", len(dataPool.Patients)),
		zap.Int("providers", len(dataPool.Providers)),
		zap.Int("services", len(dataPool.Services)),
	)

	// the simulator acts as an admin so it can book for any patient
	token, err := auth.NewTokens(cfg.JWTSecret).Issue(appointment.Actor{ID: uuid.New(), Role: appointment.RoleAdmin}, cfg.Duration+time.Hour)
	if err != nil {
		logger.Fatal("issue token", zap.Error(err))
	}

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		token:  token,
		logger: logger,
	}

	sim.RunStorms()
	sim.Run()
	sim.PrintReport()

	verifyCtx, cancelVerify := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelVerify()
	if err := verifyInvariants(verifyCtx, pgPool); err != nil {
		logger.Fatal("invariant check failed", zap.Error(err))
	}
	if sim.stormViolations > 0 {
		logger.Fatal("booking storm admitted more than one winner", zap.Int64("rounds", sim.stormViolations))
	}
	logger.Info("invariants hold: no overlapping active appointments, priorities dense")
}

func loadConfig() SimConfig {
	baseCfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load base config: %v", err))
	}

	cfg := SimConfig{
		APIBaseURL:    getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:      getDuration("SIM_DURATION", 30*time.Second),
		Workers:       getInt("SIM_WORKERS", 10),
		BookingRatio:  getFloat("SIM_BOOKING_RATIO", 0.5),
		PriorityRatio: getFloat("SIM_PRIORITY_RATIO", 0.1),
		CancelRatio:   getFloat("SIM_CANCEL_RATIO", 0.1),
		ReadRatio:     getFloat("SIM_READ_RATIO", 0.3),
		StormRounds:   getInt("SIM_STORM_ROUNDS", 5),
		StormWidth:    getInt("SIM_STORM_WIDTH", 20),
		PatientLimit:  getInt("SIM_PATIENT_LIMIT", 4000),
		ProviderLimit: getInt("SIM_PROVIDER_LIMIT", 100),
		PostgresDSN:   baseCfg.PostgresDSN,
		JWTSecret:     baseCfg.JWTSecret,
	}

	total := cfg.BookingRatio + cfg.PriorityRatio + cfg.CancelRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.PriorityRatio /= total
		cfg.CancelRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.PostgresDSN == "" {
		return errors.New("POSTGRES_DSN is required (set in .env or environment)")
	}
	if cfg.Workers <= 0 {
		return errors.New("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return errors.New("SIM_DURATION must be > 0")
	}
	return nil
}

func loadIDs(ctx context.Context, pool *pgxpool.Pool, query string, limit int) ([]uuid.UUID, error) {
	rows, err := pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	var err error
	dp := &DataPool{appointments: make(map[uuid.UUID]uuid.UUID)}

	if dp.Patients, err = loadIDs(ctx, pool, `SELECT id FROM patients LIMIT $1`, cfg.PatientLimit); err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	if dp.Providers, err = loadIDs(ctx, pool, `SELECT id FROM providers LIMIT $1`, cfg.ProviderLimit); err != nil {
		return nil, fmt.Errorf("load providers: %w", err)
	}
	if dp.Services, err = loadIDs(ctx, pool, `SELECT id FROM services LIMIT $1`, 100); err != nil {
		return nil, fmt.Errorf("load services: %w", err)
	}

	switch {
	case len(dp.Patients) == 0:
		return nil, errors.New("no patients loaded, run seed first")
	case len(dp.Providers) == 0:
		return nil, errors.New("no providers loaded, run seed first")
	case len(dp.Services) == 0:
		return nil, errors.New("no services loaded, run seed first")
	}
	return dp, nil
}

type slotsResponse struct {
	Slots []struct {
		Start     time.Time `json:"start"`
		Available bool      `json:"available"`
	} `json:"slots"`
}

type appointmentResponse struct {
	ID        uuid.UUID `json:"id"`
	PatientID uuid.UUID `json:"patient_id"`
}

func (s *Simulator) do(ctx context.Context, method, path string, body any, out any) (int, error) {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

// nextWeekday returns a random date 1-14 days ahead that is not a weekend.
func nextWeekday(rng *rand.Rand) time.Time {
	for {
		d := time.Now().AddDate(0, 0, 1+rng.Intn(14))
		if d.Weekday() != time.Saturday && d.Weekday() != time.Sunday {
			return d
		}
	}
}

// pickSlot fetches the provider's slots and picks one free start time.
func (s *Simulator) pickSlot(ctx context.Context, rng *rand.Rand, providerID uuid.UUID) (time.Time, bool) {
	date := nextWeekday(rng).Format(time.DateOnly)

	var slots slotsResponse
	start := time.Now()
	status, err := s.do(ctx, http.MethodGet, "/slots?provider_id="+providerID.String()+"&date="+date, nil, &slots)
	s.metrics.Slots.Record(time.Since(start), err == nil && status == http.StatusOK, false)
	if err != nil || status != http.StatusOK {
		return time.Time{}, false
	}

	var free []time.Time
	for _, slot := range slots.Slots {
		if slot.Available {
			free = append(free, slot.Start)
		}
	}
	if len(free) == 0 {
		return time.Time{}, false
	}
	return free[rng.Intn(len(free))], true
}

func (s *Simulator) book(ctx context.Context, patientID, providerID, serviceID uuid.UUID, at time.Time) (int, *appointmentResponse, error) {
	var out appointmentResponse
	status, err := s.do(ctx, http.MethodPost, "/appointments", map[string]string{
		"patient_id":  patientID.String(),
		"provider_id": providerID.String(),
		"service_id":  serviceID.String(),
		"datetime":    at.Format(time.RFC3339),
	}, &out)
	return status, &out, err
}

// RunStorms fires StormWidth identical bookings at once, StormRounds times.
// Exactly one per round may win.
func (s *Simulator) RunStorms() {
	if s.config.StormRounds <= 0 || s.config.StormWidth <= 1 {
		return
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	ctx := context.Background()

	for round := 0; round < s.config.StormRounds; round++ {
		providerID := s.pool.Providers[rng.Intn(len(s.pool.Providers))]
		serviceID := s.pool.Services[rng.Intn(len(s.pool.Services))]
		at, ok := s.pickSlot(ctx, rng, providerID)
		if !ok {
			continue
		}

		var wins int64
		var wg sync.WaitGroup
		gate := make(chan struct{})
		for i := 0; i < s.config.StormWidth; i++ {
			patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-gate
				start := time.Now()
				status, appt, err := s.book(ctx, patientID, providerID, serviceID, at)
				success := err == nil && status == http.StatusCreated
				if success {
					atomic.AddInt64(&wins, 1)
					s.pool.AddAppointment(appt.ID, patientID)
				}
				s.metrics.Storm.Record(time.Since(start), success, status == http.StatusConflict || status == http.StatusUnprocessableEntity)
			}()
		}
		close(gate)
		wg.Wait()

		if wins > 1 {
			atomic.AddInt64(&s.stormViolations, 1)
		}
		s.logger.Info("storm round finished",
			zap.Int("round", round+1),
			zap.String("provider_id", providerID.String()),
			zap.Time("at", at),
			zap.Int64("winners", wins),
		)
	}
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.logger.Info("starting mixed load", zap.Duration("duration", s.config.Duration), zap.Int("workers", s.config.Workers))

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.logger.Info("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
	c := s.config

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		r := rng.Float64()
		switch {
		case r < c.BookingRatio:
			s.doBooking(ctx, rng)
		case r < c.BookingRatio+c.PriorityRatio:
			s.doReprioritize(ctx, rng)
		case r < c.BookingRatio+c.PriorityRatio+c.CancelRatio:
			s.doCancel(ctx, rng)
		default:
			if rng.Intn(2) == 0 {
				s.doReadByID(ctx, rng)
			} else {
				s.doListByPatient(ctx, rng)
			}
		}
	}
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	providerID := s.pool.Providers[rng.Intn(len(s.pool.Providers))]
	at, ok := s.pickSlot(ctx, rng, providerID)
	if !ok {
		return
	}
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
	serviceID := s.pool.Services[rng.Intn(len(s.pool.Services))]

	start := time.Now()
	status, appt, err := s.book(ctx, patientID, providerID, serviceID, at)
	success := err == nil && status == http.StatusCreated
	if success {
		s.pool.AddAppointment(appt.ID, patientID)
	}
	// a slot can be taken between listing and booking, or a long service can spill past closing
	s.metrics.Booking.Record(time.Since(start), success, status == http.StatusConflict || status == http.StatusUnprocessableEntity)
}

func (s *Simulator) doReprioritize(ctx context.Context, rng *rand.Rand) {
	id, patientID, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	dir := "up"
	if rng.Intn(2) == 0 {
		dir = "down"
	}

	start := time.Now()
	status, err := s.do(ctx, http.MethodPost, "/patients/"+patientID.String()+"/appointments/priority/swap",
		map[string]string{"appointment_id": id.String(), "direction": dir}, nil)
	s.metrics.Reprioritize.Record(time.Since(start), err == nil && status == http.StatusOK, status == http.StatusConflict)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	id, _, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}

	start := time.Now()
	status, err := s.do(ctx, http.MethodPatch, "/appointments/"+id.String(), map[string]string{"status": "cancelled"}, nil)
	success := err == nil && status == http.StatusOK
	if success || status == http.StatusConflict {
		s.pool.RemoveAppointment(id)
	}
	s.metrics.Cancel.Record(time.Since(start), success, status == http.StatusConflict)
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	id, _, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}

	start := time.Now()
	status, err := s.do(ctx, http.MethodGet, "/appointments/"+id.String(), nil, nil)
	s.metrics.ReadByID.Record(time.Since(start), err == nil && status == http.StatusOK, false)
}

func (s *Simulator) doListByPatient(ctx context.Context, rng *rand.Rand) {
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
	order := "priority"
	if rng.Intn(2) == 0 {
		order = "chronological"
	}

	start := time.Now()
	status, err := s.do(ctx, http.MethodGet,
		fmt.Sprintf("/patients/%s/appointments?order=%s&limit=20", patientID, order), nil, nil)
	s.metrics.ListPatient.Record(time.Since(start), err == nil && status == http.StatusOK, false)
}

// verifyInvariants checks the database directly: no provider has two active
// appointments whose intervals intersect, and every patient's active
// priorities are exactly 1..N.
func verifyInvariants(ctx context.Context, pool *pgxpool.Pool) error {
	var overlaps int
	err := pool.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments a
		JOIN appointments b ON a.provider_id = b.provider_id AND a.id < b.id
		WHERE a.status <> 'cancelled' AND b.status <> 'cancelled'
		  AND a.scheduled_at < b.scheduled_at + make_interval(mins => b.duration_minutes)
		  AND b.scheduled_at < a.scheduled_at + make_interval(mins => a.duration_minutes)
	`).Scan(&overlaps)
	if err != nil {
		return fmt.Errorf("overlap query: %w", err)
	}
	if overlaps > 0 {
		return fmt.Errorf("%d overlapping appointment pairs", overlaps)
	}

	var sparse int
	err = pool.QueryRow(ctx, `
		SELECT count(*)
		FROM (
			SELECT count(*) AS n, max(priority) AS hi, count(DISTINCT priority) AS distinct_n
			FROM appointments
			WHERE status <> 'cancelled'
			GROUP BY patient_id
		) p
		WHERE p.n <> p.hi OR p.n <> p.distinct_n
	`).Scan(&sparse)
	if err != nil {
		return fmt.Errorf("priority query: %w", err)
	}
	if sparse > 0 {
		return fmt.Errorf("%d patients with non-dense priorities", sparse)
	}
	return nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Storm rounds with more than one winner: %d\n", atomic.LoadInt64(&s.stormViolations))
	fmt.Println()

	printOperationReport("Slots", &s.metrics.Slots)
	printOperationReport("Booking storm", &s.metrics.Storm)
	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Reprioritize", &s.metrics.Reprioritize)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
	printOperationReport("List by patient", &s.metrics.ListPatient)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Rejected: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
