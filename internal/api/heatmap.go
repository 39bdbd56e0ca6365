package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/workload"
)

// heatmapHandler serves GET /heatmap?date=YYYY-MM-DD&doctor_id=&bucket_minutes=&start_hour=&end_hour=.
// Out-of-range grid parameters are normalized rather than rejected.
func heatmapHandler(svc HeatmapService, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		day := time.Now().In(loc)
		if raw := q.Get("date"); raw != "" {
			parsed, err := time.ParseInLocation("2006-01-02", raw, loc)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
				return
			}
			day = parsed
		}

		req := workload.Request{
			Date:          day,
			BucketMinutes: intParam(q.Get("bucket_minutes"), workload.DefaultBucketMinutes),
			StartHour:     intParam(q.Get("start_hour"), workload.DefaultStartHour),
			EndHour:       intParam(q.Get("end_hour"), workload.DefaultEndHour),
		}
		if raw := q.Get("doctor_id"); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
				return
			}
			req.DoctorID = id
		}

		hm, err := svc.GetHeatmap(r.Context(), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, hm)
	}
}

func intParam(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
