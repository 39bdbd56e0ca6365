package appointment

import (
	"time"

	"github.com/google/uuid"
)

type Patient struct {
	ID    uuid.UUID
	Name  string
	Email *string
}

type Doctor struct {
	ID        uuid.UUID
	Name      string
	Specialty *string
}

type Appointment struct {
	ID         uuid.UUID
	PatientID  uuid.UUID
	DoctorID   uuid.UUID
	RoomNumber *int
	StartTime  time.Time
	EndTime    time.Time
	Status     Status
	Reason     string
	Version    int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NewAppointment is the booking request accepted by CreateAppointment.
// An empty Status means Scheduled (or PendingApproval for patient self-service).
type NewAppointment struct {
	PatientID  uuid.UUID
	DoctorID   uuid.UUID
	RoomNumber *int
	StartTime  time.Time
	EndTime    time.Time
	Status     string
	Reason     string
}

// Changes carries the fields an edit may touch. Nil means unchanged.
type Changes struct {
	PatientID  *uuid.UUID
	DoctorID   *uuid.UUID
	RoomNumber *int
	ClearRoom  bool
	StartTime  *time.Time
	EndTime    *time.Time
	Reason     *string
}

func (c Changes) validate() error {
	if c.ClearRoom && c.RoomNumber != nil {
		return &ValidationError{Fields: []FieldError{{Field: "room_number", Message: "cannot be set together with clear_room"}}}
	}
	return nil
}

func (c Changes) apply(a *Appointment) {
	if c.PatientID != nil {
		a.PatientID = *c.PatientID
	}
	if c.DoctorID != nil {
		a.DoctorID = *c.DoctorID
	}
	if c.ClearRoom {
		a.RoomNumber = nil
	}
	if c.RoomNumber != nil {
		room := *c.RoomNumber
		a.RoomNumber = &room
	}
	if c.StartTime != nil {
		a.StartTime = *c.StartTime
	}
	if c.EndTime != nil {
		a.EndTime = *c.EndTime
	}
	if c.Reason != nil {
		a.Reason = *c.Reason
	}
}

func (a Appointment) candidate() Candidate {
	return Candidate{
		SelfID:     a.ID,
		PatientID:  a.PatientID,
		DoctorID:   a.DoctorID,
		RoomNumber: a.RoomNumber,
		Start:      a.StartTime,
		End:        a.EndTime,
	}
}

// EventLog is an outbox row. Rows are written in the same transaction as the
// mutation they describe and dispatched after commit. ClaimedUntil is the
// lease of whoever is currently delivering the row.
type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
	DispatchedAt  *time.Time
	ClaimedUntil  *time.Time
	Attempts      int
	LastError     *string
}
