package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/scheduling-engine/internal/civil"
	"github.com/hackgods/scheduling-engine/internal/config"
	"github.com/hackgods/scheduling-engine/internal/db"
	"github.com/hackgods/scheduling-engine/internal/logging"
	"github.com/hackgods/scheduling-engine/internal/resource"
)

type SimConfig struct {
	APIBaseURL      string
	Duration        time.Duration
	Workers         int
	BookingRatio    float64
	CancelRatio     float64
	RescheduleRatio float64
	TokenRatio      float64
	ReadRatio       float64
	PatientLimit    int
	ResourceLimit   int
	Days            int
	PostgresDSN     string
	Timezone        *time.Location
}

type DataPool struct {
	Patients     []uuid.UUID
	Resources    []resource.Ref
	Slots        []string
	mu           sync.RWMutex
	appointments []uuid.UUID // Thread-safe list of created appointment IDs
}

func (dp *DataPool) AddAppointment(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *DataPool) GetRandomAppointment(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return uuid.Nil, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
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
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	latencies := slices.Clone(om.Latencies)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0, 0
	}
	slices.Sort(latencies)

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]
	return avg, min, max, p50, p95
}

func percentileIndex(n, p int) int {
	idx := n * p / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

type Metrics struct {
	Booking       OperationMetrics
	Cancel        OperationMetrics
	Reschedule    OperationMetrics
	Token         OperationMetrics
	ReadByID      OperationMetrics
	ListByPatient OperationMetrics
	SlotsForDay   OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	log     zerolog.Logger
}

func main() {
	logger := logging.New(os.Getenv("APP_ENV"), os.Getenv("LOG_LEVEL"))
	logger.Info().Msg("simulator starting")

	cfg, err := loadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	logger.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Float64("booking", cfg.BookingRatio).
		Float64("cancel", cfg.CancelRatio).
		Float64("reschedule", cfg.RescheduleRatio).
		Float64("token", cfg.TokenRatio).
		Float64("read", cfg.ReadRatio).
		Msg("simulation config")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, config.Config{PostgresDSN: cfg.PostgresDSN, DBMaxConns: 4, DBMinConns: 1})
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pgPool.Close()

	sim := &Simulator{
		config: cfg,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		log: logger,
	}

	sim.pool, err = loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("load data pool")
	}
	if err := sim.discoverSlots(ctx); err != nil {
		logger.Fatal().Err(err).Msg("discover slots")
	}

	logger.Info().
		Int("patients", len(sim.pool.Patients)).
		Int("resources", len(sim.pool.Resources)).
		Int("slots", len(sim.pool.Slots)).
		Msg("data pool loaded")

	if err := sim.Run(); err != nil {
		logger.Fatal().Err(err).Msg("simulation failed")
	}

	sim.PrintReport()
}

func loadConfig() (SimConfig, error) {
	baseCfg, err := config.Load(true)
	if err != nil {
		return SimConfig{}, fmt.Errorf("load base config: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("SIM")
	v.AutomaticEnv()
	v.SetDefault("API_BASE_URL", "http://localhost:8080")
	v.SetDefault("DURATION", "30s")
	v.SetDefault("WORKERS", 10)
	v.SetDefault("BOOKING_RATIO", 0.5)
	v.SetDefault("CANCEL_RATIO", 0.05)
	v.SetDefault("RESCHEDULE_RATIO", 0.05)
	v.SetDefault("TOKEN_RATIO", 0.1)
	v.SetDefault("READ_RATIO", 0.3)
	v.SetDefault("PATIENT_LIMIT", 4000)
	v.SetDefault("RESOURCE_LIMIT", 50)
	v.SetDefault("DAYS", 7)

	cfg := SimConfig{
		APIBaseURL:      strings.TrimRight(v.GetString("API_BASE_URL"), "/"),
		Duration:        v.GetDuration("DURATION"),
		Workers:         v.GetInt("WORKERS"),
		BookingRatio:    v.GetFloat64("BOOKING_RATIO"),
		CancelRatio:     v.GetFloat64("CANCEL_RATIO"),
		RescheduleRatio: v.GetFloat64("RESCHEDULE_RATIO"),
		TokenRatio:      v.GetFloat64("TOKEN_RATIO"),
		ReadRatio:       v.GetFloat64("READ_RATIO"),
		PatientLimit:    v.GetInt("PATIENT_LIMIT"),
		ResourceLimit:   v.GetInt("RESOURCE_LIMIT"),
		Days:            v.GetInt("DAYS"),
		PostgresDSN:     baseCfg.PostgresDSN,
		Timezone:        baseCfg.Timezone,
	}

	// Normalize ratios
	total := cfg.BookingRatio + cfg.CancelRatio + cfg.RescheduleRatio + cfg.TokenRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.CancelRatio /= total
		cfg.RescheduleRatio /= total
		cfg.TokenRatio /= total
		cfg.ReadRatio /= total
	}

	if cfg.Workers <= 0 {
		return SimConfig{}, errors.New("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return SimConfig{}, errors.New("SIM_DURATION must be > 0")
	}
	return cfg, nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{}

	// Load patients
	rows, err := pool.Query(ctx, `SELECT id FROM patients LIMIT $1`, cfg.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		dataPool.Patients = append(dataPool.Patients, id)
	}
	rows.Close()

	// Load resources that currently have a schedule
	rows, err = pool.Query(ctx, `
		SELECT DISTINCT resource_type, resource_id FROM schedules
		WHERE valid_to > now()
		LIMIT $1
	`, cfg.ResourceLimit)
	if err != nil {
		return nil, fmt.Errorf("load resources: %w", err)
	}
	for rows.Next() {
		var ref resource.Ref
		if err := rows.Scan(&ref.Type, &ref.ID); err != nil {
			rows.Close()
			return nil, err
		}
		dataPool.Resources = append(dataPool.Resources, ref)
	}
	rows.Close()

	if len(dataPool.Patients) == 0 {
		return nil, errors.New("no patients loaded")
	}
	if len(dataPool.Resources) == 0 {
		return nil, errors.New("no scheduled resources loaded")
	}
	return dataPool, nil
}

type slotView struct {
	ID            string `json:"id"`
	TokensPerSlot int    `json:"tokens_per_slot"`
	Allocated     int    `json:"allocated"`
}

// discoverSlots asks the API for the upcoming slots of every resource and
// keeps the ones with capacity left.
func (s *Simulator) discoverSlots(ctx context.Context) error {
	today := civil.DateOf(time.Now().In(s.config.Timezone))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, ref := range s.pool.Resources {
		for d := 0; d < s.config.Days; d++ {
			day := today.AddDays(d)
			g.Go(func() error {
				status, body, err := s.call(gctx, http.MethodPost, "/slots/get_slots_for_day", map[string]any{
					"resource_type": ref.Type,
					"resource_id":   ref.ID,
					"day":           day.String(),
				})
				if err != nil {
					return err
				}
				if status != http.StatusOK {
					return fmt.Errorf("get_slots_for_day %s %s: status %d", ref, day, status)
				}
				var list struct {
					Results []slotView `json:"results"`
				}
				if err := json.Unmarshal(body, &list); err != nil {
					return fmt.Errorf("decode slots: %w", err)
				}
				mu.Lock()
				defer mu.Unlock()
				for _, sl := range list.Results {
					if sl.Allocated < sl.TokensPerSlot {
						s.pool.Slots = append(s.pool.Slots, sl.ID)
					}
				}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if len(s.pool.Slots) == 0 {
		return errors.New("no bookable slots found")
	}
	return nil
}

func (s *Simulator) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.log.Info().Dur("duration", s.config.Duration).Int("workers", s.config.Workers).Msg("starting simulation")

	var g errgroup.Group
	for i := 0; i < s.config.Workers; i++ {
		workerID := i
		g.Go(func() error {
			s.worker(ctx, workerID)
			return nil
		})
	}

	err := g.Wait()
	s.log.Info().Msg("simulation complete")
	return err
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
	c := s.config

	for {
		select {
		case <-ctx.Done():
			return
		default:
			// Select operation based on ratios
			r := rng.Float64()
			switch {
			case r < c.BookingRatio:
				s.doBooking(ctx, rng)
			case r < c.BookingRatio+c.CancelRatio:
				s.doCancel(ctx, rng)
			case r < c.BookingRatio+c.CancelRatio+c.RescheduleRatio:
				s.doReschedule(ctx, rng)
			case r < c.BookingRatio+c.CancelRatio+c.RescheduleRatio+c.TokenRatio:
				s.doToken(ctx, rng)
			default:
				// Read operations - distribute evenly
				switch rng.Intn(3) {
				case 0:
					s.doReadByID(ctx, rng)
				case 1:
					s.doListByPatient(ctx, rng)
				case 2:
					s.doSlotsForDay(ctx, rng)
				}
			}
		}
	}
}

// call sends a JSON request and returns the status and body.
func (s *Simulator) call(ctx context.Context, method, path string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	return resp.StatusCode, respBody, err
}

// timed runs one request and records it. 409 counts as a conflict; any
// status in ok counts as success.
func (s *Simulator) timed(ctx context.Context, om *OperationMetrics, method, path string, body any, ok ...int) []byte {
	start := time.Now()
	status, respBody, err := s.call(ctx, method, path, body)
	latency := time.Since(start)

	if err != nil {
		if ctx.Err() == nil {
			om.Record(latency, false, false)
		}
		return nil
	}
	success := slices.Contains(ok, status)
	om.Record(latency, success, status == http.StatusConflict)
	if !success {
		return nil
	}
	return respBody
}

func (s *Simulator) randomSlot(rng *rand.Rand) string {
	return s.pool.Slots[rng.Intn(len(s.pool.Slots))]
}

func (s *Simulator) randomPatient(rng *rand.Rand) uuid.UUID {
	return s.pool.Patients[rng.Intn(len(s.pool.Patients))]
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	body := s.timed(ctx, &s.metrics.Booking, http.MethodPost,
		"/slots/"+s.randomSlot(rng)+"/create_appointment",
		map[string]any{"patient_id": s.randomPatient(rng), "note": "simulated"},
		http.StatusCreated)
	if body == nil {
		return
	}

	// Parse response to get appointment ID
	var appt struct {
		ID uuid.UUID `json:"id"`
	}
	if err := json.Unmarshal(body, &appt); err == nil && appt.ID != uuid.Nil {
		s.pool.AddAppointment(appt.ID)
	}
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	apptID, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}
	s.timed(ctx, &s.metrics.Cancel, http.MethodPost,
		fmt.Sprintf("/appointments/%s/cancel", apptID),
		map[string]any{"note": "simulated cancellation"},
		http.StatusOK)
}

func (s *Simulator) doReschedule(ctx context.Context, rng *rand.Rand) {
	apptID, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}
	body := s.timed(ctx, &s.metrics.Reschedule, http.MethodPost,
		fmt.Sprintf("/appointments/%s/reschedule", apptID),
		map[string]any{"new_slot": s.randomSlot(rng)},
		http.StatusOK)
	if body == nil {
		return
	}

	var res struct {
		Current struct {
			ID uuid.UUID `json:"id"`
		} `json:"current"`
	}
	if err := json.Unmarshal(body, &res); err == nil && res.Current.ID != uuid.Nil {
		s.pool.AddAppointment(res.Current.ID)
	}
}

func (s *Simulator) doToken(ctx context.Context, rng *rand.Rand) {
	apptID, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}
	s.timed(ctx, &s.metrics.Token, http.MethodPost,
		fmt.Sprintf("/appointments/%s/generate_token", apptID), nil,
		http.StatusCreated)
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	apptID, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}
	s.timed(ctx, &s.metrics.ReadByID, http.MethodGet,
		fmt.Sprintf("/appointments/%s", apptID), nil,
		http.StatusOK)
}

func (s *Simulator) doListByPatient(ctx context.Context, rng *rand.Rand) {
	s.timed(ctx, &s.metrics.ListByPatient, http.MethodGet,
		fmt.Sprintf("/appointments?patient=%s&limit=20&offset=0", s.randomPatient(rng)), nil,
		http.StatusOK)
}

func (s *Simulator) doSlotsForDay(ctx context.Context, rng *rand.Rand) {
	ref := s.pool.Resources[rng.Intn(len(s.pool.Resources))]
	day := civil.DateOf(time.Now().In(s.config.Timezone)).AddDays(rng.Intn(max(s.config.Days, 1)))
	s.timed(ctx, &s.metrics.SlotsForDay, http.MethodPost, "/slots/get_slots_for_day", map[string]any{
		"resource_type": ref.Type,
		"resource_id":   ref.ID,
		"day":           day.String(),
	}, http.StatusOK)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Reschedule", &s.metrics.Reschedule)
	printOperationReport("Generate token", &s.metrics.Token)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
	printOperationReport("List by Patient", &s.metrics.ListByPatient)
	printOperationReport("Slots for Day", &s.metrics.SlotsForDay)
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
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}
