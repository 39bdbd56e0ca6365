package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
)

type CreateAppointmentRequest struct {
	PatientID  string    `json:"patient_id"`
	DoctorID   string    `json:"doctor_id"`
	RoomNumber *int      `json:"room_number,omitempty"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	Status     string    `json:"status,omitempty"`
	Reason     string    `json:"reason,omitempty"`
}

// UpdateAppointmentRequest is a partial edit: absent fields stay unchanged.
type UpdateAppointmentRequest struct {
	PatientID  *string    `json:"patient_id,omitempty"`
	DoctorID   *string    `json:"doctor_id,omitempty"`
	RoomNumber *int       `json:"room_number,omitempty"`
	ClearRoom  bool       `json:"clear_room,omitempty"`
	StartTime  *time.Time `json:"start_time,omitempty"`
	EndTime    *time.Time `json:"end_time,omitempty"`
	Reason     *string    `json:"reason,omitempty"`
}

type RescheduleRequest struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

type StatusRequest struct {
	Status string `json:"status"`
}

type ApproveRequest struct {
	RoomNumber int `json:"room_number"`
}

type BulkApproveRequest struct {
	IDs         []string `json:"ids"`
	RoomNumbers []int    `json:"room_numbers"`
}

type BulkDeclineRequest struct {
	IDs []string `json:"ids"`
}

type AppointmentResponse struct {
	ID         uuid.UUID `json:"id"`
	PatientID  uuid.UUID `json:"patient_id"`
	DoctorID   uuid.UUID `json:"doctor_id"`
	RoomNumber *int      `json:"room_number,omitempty"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	Status     string    `json:"status"`
	Reason     string    `json:"reason,omitempty"`
	Version    int64     `json:"version"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:         a.ID,
		PatientID:  a.PatientID,
		DoctorID:   a.DoctorID,
		RoomNumber: a.RoomNumber,
		StartTime:  a.StartTime,
		EndTime:    a.EndTime,
		Status:     a.Status.String(),
		Reason:     a.Reason,
		Version:    a.Version,
		CreatedAt:  a.CreatedAt,
		UpdatedAt:  a.UpdatedAt,
	}
}

type ErrorResponse struct {
	Error   string                   `json:"error"`
	Details string                   `json:"details,omitempty"`
	Fields  []appointment.FieldError `json:"fields,omitempty"`
	Retry   bool                     `json:"retry,omitempty"`
}
