package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logging"
)

// simulate drives concurrent traffic at a running api-server: staff bookings,
// patient self-service bookings, approvals and heatmap reads. Conflicts are
// expected and counted separately from errors.
type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	BookRatio    float64
	SelfRatio    float64
	ApproveRatio float64
	Rooms        int
	Days         int
	PostgresDSN  string
}

var reasons = []string{"Check-up", "Follow-up", "Lab results", "Vaccination", "Consultation"}

type DataPool struct {
	Doctors  []uuid.UUID
	Patients []uuid.UUID

	mu      sync.Mutex
	pending []uuid.UUID
	booked  []uuid.UUID
}

func (dp *DataPool) addPending(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.pending = append(dp.pending, id)
}

func (dp *DataPool) addBooked(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.booked = append(dp.booked, id)
}

// takePending removes and returns a pending appointment so two workers never
// approve the same one.
func (dp *DataPool) takePending(faker *gofakeit.Faker) (uuid.UUID, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.pending) == 0 {
		return uuid.Nil, false
	}
	i := faker.Number(0, len(dp.pending)-1)
	id := dp.pending[i]
	dp.pending = append(dp.pending[:i], dp.pending[i+1:]...)
	return id, true
}

func (dp *DataPool) randomBooked(faker *gofakeit.Faker) (uuid.UUID, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.booked) == 0 {
		return uuid.Nil, false
	}
	return dp.booked[faker.Number(0, len(dp.booked)-1)], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	mu        sync.Mutex
	Latencies []time.Duration
}

func (om *OperationMetrics) Record(latency time.Duration, status int) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case status >= 200 && status < 300:
		atomic.AddInt64(&om.Success, 1)
	case status == http.StatusConflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95, max time.Duration) {
	om.mu.Lock()
	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	n := len(latencies)
	return sum / time.Duration(n), latencies[n*50/100], latencies[min(n*95/100, n-1)], latencies[n-1]
}

type Metrics struct {
	Book    OperationMetrics
	Self    OperationMetrics
	Approve OperationMetrics
	Read    OperationMetrics
	Heatmap OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	log     zerolog.Logger
}

func main() {
	logger := logging.New(logging.Options{Env: "dev", Level: "info", Service: "simulate"})

	cfg, err := loadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	logger.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Float64("book", cfg.BookRatio).
		Float64("self", cfg.SelfRatio).
		Float64("approve", cfg.ApproveRatio).
		Msg("simulator starting")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 2})
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool)
	if err != nil {
		logger.Fatal().Err(err).Msg("load data pool")
	}
	logger.Info().Int("doctors", len(dataPool.Doctors)).Int("patients", len(dataPool.Patients)).Msg("data loaded")

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    logger,
	}
	sim.Run()
	sim.PrintReport()
}

func loadConfig() (SimConfig, error) {
	base, err := config.Load()
	if err != nil {
		return SimConfig{}, err
	}

	cfg := SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		BookRatio:    getFloat("SIM_BOOK_RATIO", 0.35),
		SelfRatio:    getFloat("SIM_SELF_RATIO", 0.2),
		ApproveRatio: getFloat("SIM_APPROVE_RATIO", 0.15),
		Rooms:        getInt("SIM_ROOMS", 8),
		Days:         getInt("SIM_DAYS", 5),
		PostgresDSN:  base.PostgresDSN,
	}
	if cfg.Workers <= 0 {
		return SimConfig{}, fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return SimConfig{}, fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.Rooms <= 0 || cfg.Days <= 0 {
		return SimConfig{}, fmt.Errorf("SIM_ROOMS and SIM_DAYS must be > 0")
	}
	return cfg, nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool) (*DataPool, error) {
	dp := &DataPool{}

	var err error
	if dp.Doctors, err = loadIDs(ctx, pool, `SELECT id FROM doctors`); err != nil {
		return nil, fmt.Errorf("load doctors: %w", err)
	}
	if dp.Patients, err = loadIDs(ctx, pool, `SELECT id FROM patients LIMIT 5000`); err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	if len(dp.Doctors) == 0 || len(dp.Patients) == 0 {
		return nil, fmt.Errorf("no doctors or patients loaded, run seed first")
	}
	return dp, nil
}

func loadIDs(ctx context.Context, pool *pgxpool.Pool, sql string) ([]uuid.UUID, error) {
	rows, err := pool.Query(ctx, sql)
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

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, gofakeit.New(uint64(workerID)+1))
		}(i)
	}
	wg.Wait()
	s.log.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, faker *gofakeit.Faker) {
	book := s.config.BookRatio
	self := book + s.config.SelfRatio
	approve := self + s.config.ApproveRatio

	for ctx.Err() == nil {
		r := faker.Float64()
		switch {
		case r < book:
			s.doBook(ctx, faker, false)
		case r < self:
			s.doBook(ctx, faker, true)
		case r < approve:
			s.doApprove(ctx, faker)
		case faker.Bool():
			s.doRead(ctx, faker)
		default:
			s.doHeatmap(ctx, faker)
		}
	}
}

// randomWindow picks a 30 minute slot on one of the next Days working hours.
func (s *Simulator) randomWindow(faker *gofakeit.Faker) (time.Time, time.Time) {
	day := time.Now().UTC().Truncate(24*time.Hour).AddDate(0, 0, faker.Number(1, s.config.Days))
	start := day.Add(8*time.Hour + time.Duration(faker.Number(0, 19))*30*time.Minute)
	return start, start.Add(30 * time.Minute)
}

func (s *Simulator) doBook(ctx context.Context, faker *gofakeit.Faker, selfService bool) {
	patientID := s.pool.Patients[faker.Number(0, len(s.pool.Patients)-1)]
	start, end := s.randomWindow(faker)

	body := map[string]any{
		"patient_id": patientID,
		"doctor_id":  s.pool.Doctors[faker.Number(0, len(s.pool.Doctors)-1)],
		"start_time": start,
		"end_time":   end,
		"reason":     reasons[faker.Number(0, len(reasons)-1)],
	}
	headers := map[string]string{"X-Actor-Role": "staff"}
	metrics := &s.metrics.Book
	if selfService {
		headers = map[string]string{"X-Actor-Role": "patient", "X-Patient-ID": patientID.String()}
		metrics = &s.metrics.Self
	} else {
		body["room_number"] = faker.Number(1, s.config.Rooms)
	}

	var resp struct {
		ID     uuid.UUID `json:"id"`
		Status string    `json:"status"`
	}
	status := s.call(ctx, metrics, http.MethodPost, "/appointments", headers, body, &resp)
	if status != http.StatusCreated || resp.ID == uuid.Nil {
		return
	}
	if resp.Status == "PendingApproval" {
		s.pool.addPending(resp.ID)
	} else {
		s.pool.addBooked(resp.ID)
	}
}

func (s *Simulator) doApprove(ctx context.Context, faker *gofakeit.Faker) {
	id, ok := s.pool.takePending(faker)
	if !ok {
		return
	}
	body := map[string]any{"room_number": faker.Number(1, s.config.Rooms)}
	status := s.call(ctx, &s.metrics.Approve, http.MethodPost, "/appointments/"+id.String()+"/approve",
		map[string]string{"X-Actor-Role": "staff"}, body, nil)
	if status == http.StatusOK {
		s.pool.addBooked(id)
	}
}

func (s *Simulator) doRead(ctx context.Context, faker *gofakeit.Faker) {
	id, ok := s.pool.randomBooked(faker)
	if !ok {
		return
	}
	s.call(ctx, &s.metrics.Read, http.MethodGet, "/appointments/"+id.String(),
		map[string]string{"X-Actor-Role": "staff"}, nil, nil)
}

func (s *Simulator) doHeatmap(ctx context.Context, faker *gofakeit.Faker) {
	start, _ := s.randomWindow(faker)
	path := "/heatmap?date=" + start.Format("2006-01-02")
	if faker.Bool() {
		path += "&doctor_id=" + s.pool.Doctors[faker.Number(0, len(s.pool.Doctors)-1)].String()
	}
	s.call(ctx, &s.metrics.Heatmap, http.MethodGet, path, map[string]string{"X-Actor-Role": "staff"}, nil, nil)
}

// call performs one request, records it and returns the status code (0 on
// transport errors).
func (s *Simulator) call(ctx context.Context, om *OperationMetrics, method, path string, headers map[string]string, body any, out any) int {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, &buf)
	if err != nil {
		return 0
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		if ctx.Err() == nil {
			om.Record(latency, 0)
		}
		return 0
	}
	defer resp.Body.Close()

	om.Record(latency, resp.StatusCode)
	if out != nil && resp.StatusCode < 300 {
		_ = json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n\n", s.config.Workers)

	printOperationReport("Staff booking", &s.metrics.Book)
	printOperationReport("Self-service booking", &s.metrics.Self)
	printOperationReport("Approve", &s.metrics.Approve)
	printOperationReport("Read by ID", &s.metrics.Read)
	printOperationReport("Heatmap", &s.metrics.Heatmap)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}
	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)
	avg, p50, p95, max := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s p50=%s p95=%s max=%s\n\n",
		avg.Round(time.Millisecond), p50.Round(time.Millisecond), p95.Round(time.Millisecond), max.Round(time.Millisecond))
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
