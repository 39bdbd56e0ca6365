package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/workload"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// writeServiceError maps scheduling errors onto HTTP responses. Anything
// unrecognised is a 500.
func writeServiceError(w http.ResponseWriter, err error) {
	var (
		verr  *appointment.ValidationError
		cerr  *appointment.ConflictError
		berr  *appointment.BatchShapeError
		aggrr *workload.AggregationError
	)

	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: "validation_failed", Details: verr.Error(), Fields: verr.Fields})
	case errors.As(err, &cerr):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "scheduling_conflict", Details: cerr.Error(), Fields: cerr.FieldErrors()})
	case errors.As(err, &berr):
		writeError(w, http.StatusBadRequest, "invalid_batch", berr.Error())
	case errors.Is(err, appointment.ErrUnknownStatus):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:   "validation_failed",
			Details: err.Error(),
			Fields:  []appointment.FieldError{{Field: "status", Message: err.Error()}},
		})
	case errors.Is(err, appointment.ErrNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, appointment.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, appointment.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, appointment.ErrConcurrentModification):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "concurrent_modification", Details: err.Error(), Retry: true})
	case errors.Is(err, appointment.ErrScheduleBusy):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "schedule_busy", Details: err.Error(), Retry: true})
	case errors.Is(err, appointment.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.As(err, &aggrr):
		writeError(w, http.StatusInternalServerError, "heatmap_unavailable", aggrr.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
