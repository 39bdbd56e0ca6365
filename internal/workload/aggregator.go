package workload

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
)

const DefaultCacheTTL = 5 * time.Minute

// Source is the read-only view of the appointment store the aggregator needs.
type Source interface {
	AppointmentsForDate(ctx context.Context, day time.Time) ([]appointment.Appointment, error)
	AppointmentsForDoctor(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]appointment.Appointment, error)
	ListDoctors(ctx context.Context) ([]appointment.Doctor, error)
}

type Row struct {
	Scope             string     `json:"scope"`
	DoctorID          *uuid.UUID `json:"doctor_id,omitempty"`
	DoctorName        string     `json:"doctor_name,omitempty"`
	Buckets           []Bucket   `json:"buckets"`
	TotalAppointments int        `json:"total_appointments"`
	UtilizationPct    float64    `json:"utilization_pct"`
	PeakLabel         string     `json:"peak_label,omitempty"`
	NextAvailable     string     `json:"next_available,omitempty"`
}

type Heatmap struct {
	Date          string    `json:"date"`
	BucketMinutes int       `json:"bucket_minutes"`
	StartHour     int       `json:"start_hour"`
	EndHour       int       `json:"end_hour"`
	Rows          []Row     `json:"rows"`
	GeneratedAt   time.Time `json:"generated_at"`
}

// AggregationError wraps a failed read. It is never masked by stale data.
type AggregationError struct {
	Op  string
	Err error
}

func (e *AggregationError) Error() string {
	return fmt.Sprintf("workload aggregation failed (%s): %v", e.Op, e.Err)
}

func (e *AggregationError) Unwrap() error { return e.Err }

type Aggregator struct {
	source Source
	cache  Cache
	ttl    time.Duration
	now    func() time.Time
	log    zerolog.Logger
}

type Option func(*Aggregator)

func WithTTL(ttl time.Duration) Option {
	return func(a *Aggregator) {
		if ttl > 0 {
			a.ttl = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(a *Aggregator) { a.log = logger.With().Str("component", "workload").Logger() }
}

func NewAggregator(source Source, cache Cache, opts ...Option) *Aggregator {
	a := &Aggregator{
		source: source,
		cache:  cache,
		ttl:    DefaultCacheTTL,
		now:    time.Now,
		log:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.cache == nil {
		a.cache = NewMemoryCache(a.now)
	}
	return a
}

// GetHeatmap returns the load grid for req, served from cache when a result
// for the same key is younger than the TTL.
func (a *Aggregator) GetHeatmap(ctx context.Context, req Request) (*Heatmap, error) {
	req = req.Normalize()
	key := keyFor(req)

	if hm, ok := a.cache.Get(ctx, key); ok {
		return hm, nil
	}

	var (
		hm  *Heatmap
		err error
	)
	if req.DoctorID == uuid.Nil {
		hm, err = a.clinicHeatmap(ctx, req)
	} else {
		hm, err = a.doctorHeatmap(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	a.cache.Set(ctx, key, hm, a.ttl)
	a.log.Debug().Str("key", key.String()).Int("rows", len(hm.Rows)).Msg("heatmap computed")
	return hm, nil
}

func (a *Aggregator) clinicHeatmap(ctx context.Context, req Request) (*Heatmap, error) {
	appts, err := a.source.AppointmentsForDate(ctx, req.Date)
	if err != nil {
		return nil, &AggregationError{Op: "appointments for date", Err: err}
	}
	doctors, err := a.source.ListDoctors(ctx)
	if err != nil {
		return nil, &AggregationError{Op: "list doctors", Err: err}
	}
	appts = countable(appts)

	w := req.window()
	now := a.now()

	clinic := Row{Scope: "clinic", Buckets: w.buckets()}
	perBucket := make([]map[uuid.UUID]struct{}, len(clinic.Buckets))
	activeToday := make(map[uuid.UUID]struct{})
	for _, ap := range appts {
		activeToday[ap.DoctorID] = struct{}{}
		from, to, ok := w.indexRange(ap.StartTime, ap.EndTime, len(clinic.Buckets))
		if !ok {
			continue
		}
		for i := from; i < to; i++ {
			clinic.Buckets[i].Load++
			if perBucket[i] == nil {
				perBucket[i] = make(map[uuid.UUID]struct{})
			}
			perBucket[i][ap.DoctorID] = struct{}{}
		}
	}

	for i := range clinic.Buckets {
		capacity := len(perBucket[i])
		if capacity == 0 {
			capacity = len(activeToday)
		}
		if capacity == 0 {
			capacity = len(doctors)
		}
		clinic.Buckets[i].Capacity = capacity
	}
	finishRow(&clinic, now, false)

	rows := []Row{clinic}
	seen := make(map[uuid.UUID]struct{}, len(doctors))
	for _, d := range doctors {
		seen[d.ID] = struct{}{}
		rows = append(rows, doctorRow(w, d, appts, now))
	}
	// appointments for doctors missing from the roster still get a row
	for _, ap := range appts {
		if _, ok := seen[ap.DoctorID]; ok {
			continue
		}
		seen[ap.DoctorID] = struct{}{}
		rows = append(rows, doctorRow(w, appointment.Doctor{ID: ap.DoctorID}, appts, now))
	}

	return a.heatmap(req, rows), nil
}

func (a *Aggregator) doctorHeatmap(ctx context.Context, req Request) (*Heatmap, error) {
	w := req.window()
	appts, err := a.source.AppointmentsForDoctor(ctx, req.DoctorID, w.Start, w.End)
	if err != nil {
		return nil, &AggregationError{Op: "appointments for doctor", Err: err}
	}
	doctors, err := a.source.ListDoctors(ctx)
	if err != nil {
		return nil, &AggregationError{Op: "list doctors", Err: err}
	}

	doctor := appointment.Doctor{ID: req.DoctorID}
	for _, d := range doctors {
		if d.ID == req.DoctorID {
			doctor = d
			break
		}
	}

	row := doctorRow(w, doctor, countable(appts), a.now())
	return a.heatmap(req, []Row{row}), nil
}

func (a *Aggregator) heatmap(req Request, rows []Row) *Heatmap {
	return &Heatmap{
		Date:          req.Date.Format("2006-01-02"),
		BucketMinutes: req.BucketMinutes,
		StartHour:     req.StartHour,
		EndHour:       req.EndHour,
		Rows:          rows,
		GeneratedAt:   a.now(),
	}
}

// doctorRow builds a single doctor's row; capacity is one appointment per
// bucket.
func doctorRow(w window, d appointment.Doctor, appts []appointment.Appointment, now time.Time) Row {
	id := d.ID
	row := Row{Scope: "doctor", DoctorID: &id, DoctorName: d.Name, Buckets: w.buckets()}
	for _, ap := range appts {
		if ap.DoctorID != d.ID {
			continue
		}
		from, to, ok := w.indexRange(ap.StartTime, ap.EndTime, len(row.Buckets))
		if !ok {
			continue
		}
		for i := from; i < to; i++ {
			row.Buckets[i].Load++
		}
	}
	for i := range row.Buckets {
		row.Buckets[i].Capacity = 1
	}
	finishRow(&row, now, true)
	return row
}

// finishRow fills ratios, intensities and the row aggregates.
func finishRow(row *Row, now time.Time, withNextAvailable bool) {
	totalLoad, totalCapacity := 0, 0
	peak := -1
	for i := range row.Buckets {
		b := &row.Buckets[i]
		if b.Capacity > 0 {
			b.LoadRatio = float64(b.Load) / float64(b.Capacity)
		}
		b.Intensity = Intensity(b.LoadRatio)
		totalLoad += b.Load
		totalCapacity += b.Capacity
		if peak < 0 || b.Load > row.Buckets[peak].Load {
			peak = i
		}
	}

	row.TotalAppointments = totalLoad
	if totalCapacity > 0 {
		row.UtilizationPct = math.Round(float64(totalLoad)/float64(totalCapacity)*1000) / 10
	}
	if peak >= 0 {
		row.PeakLabel = row.Buckets[peak].Label
	}

	if !withNextAvailable {
		return
	}
	// a bucket that has started but not ended still has bookable time left
	row.NextAvailable = FullyBooked
	for _, b := range row.Buckets {
		if b.Load == 0 && b.End.After(now) {
			row.NextAvailable = b.Label
			break
		}
	}
}

// countable drops appointments that never occupied anyone's time.
func countable(appts []appointment.Appointment) []appointment.Appointment {
	out := make([]appointment.Appointment, 0, len(appts))
	for _, ap := range appts {
		if ap.Status == appointment.StatusCancelled {
			continue
		}
		out = append(out, ap)
	}
	return out
}
