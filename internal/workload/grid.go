package workload

import (
	"math"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultBucketMinutes = 30
	DefaultStartHour     = 8
	DefaultEndHour       = 18
	FullyBooked          = "Fully booked"
)

// Request selects a heatmap. A nil DoctorID means the whole clinic.
type Request struct {
	DoctorID      uuid.UUID
	Date          time.Time
	BucketMinutes int
	StartHour     int
	EndHour       int
}

// Normalize clamps the request into a valid grid: bucket sizes other than
// 15, 30 or 60 fall back to 30, hours are clamped to [0,23] and an empty or
// inverted range becomes one hour wide (capped at 23).
func (r Request) Normalize() Request {
	switch r.BucketMinutes {
	case 15, 30, 60:
	default:
		r.BucketMinutes = DefaultBucketMinutes
	}
	r.StartHour = clamp(r.StartHour, 0, 23)
	r.EndHour = clamp(r.EndHour, 0, 23)
	if r.EndHour <= r.StartHour {
		r.EndHour = min(r.StartHour+1, 23)
	}
	r.Date = time.Date(r.Date.Year(), r.Date.Month(), r.Date.Day(), 0, 0, 0, 0, r.Date.Location())
	return r
}

// window bounds are wall-clock hours on Date, so a daylight saving change
// earlier in the day does not shift the grid.
func (r Request) window() window {
	y, m, d := r.Date.Date()
	loc := r.Date.Location()
	return window{
		Start:         time.Date(y, m, d, r.StartHour, 0, 0, 0, loc),
		End:           time.Date(y, m, d, r.EndHour, 0, 0, 0, loc),
		BucketMinutes: r.BucketMinutes,
	}
}

type Bucket struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Label     string    `json:"label"`
	Load      int       `json:"load"`
	Capacity  int       `json:"capacity"`
	LoadRatio float64   `json:"load_ratio"`
	Intensity int       `json:"intensity"`
}

type window struct {
	Start         time.Time
	End           time.Time
	BucketMinutes int
}

func (w window) step() time.Duration {
	return time.Duration(w.BucketMinutes) * time.Minute
}

// buckets returns the empty grid covering [Start, End).
func (w window) buckets() []Bucket {
	var out []Bucket
	for start := w.Start; start.Before(w.End); start = start.Add(w.step()) {
		end := start.Add(w.step())
		if end.After(w.End) {
			end = w.End
		}
		out = append(out, Bucket{Start: start, End: end, Label: start.Format("15:04")})
	}
	return out
}

// indexRange maps [start, end) onto bucket indexes [from, to) after clipping
// to the window. ok is false when the interval misses the window entirely.
func (w window) indexRange(start, end time.Time, count int) (from, to int, ok bool) {
	if !start.Before(w.End) || !end.After(w.Start) {
		return 0, 0, false
	}
	if start.Before(w.Start) {
		start = w.Start
	}
	if end.After(w.End) {
		end = w.End
	}

	size := float64(w.BucketMinutes)
	from = int(math.Floor(start.Sub(w.Start).Minutes() / size))
	to = int(math.Ceil(end.Sub(w.Start).Minutes() / size))
	from = clamp(from, 0, count)
	to = clamp(to, 0, count)
	return from, to, from < to
}

// Intensity buckets a load ratio into severity bands 0-4.
func Intensity(ratio float64) int {
	switch {
	case ratio <= 0:
		return 0
	case ratio <= 0.25:
		return 1
	case ratio <= 0.5:
		return 2
	case ratio <= 0.75:
		return 3
	default:
		return 4
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
