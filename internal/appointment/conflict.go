package appointment

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

type ConflictKind uint8

const (
	ConflictPatient ConflictKind = iota + 1
	ConflictDoctor
	ConflictRoom
)

func (k ConflictKind) String() string {
	switch k {
	case ConflictPatient:
		return "patient"
	case ConflictDoctor:
		return "doctor"
	case ConflictRoom:
		return "room"
	}
	return "unknown"
}

// Field is the request field a conflict of this kind is reported against.
func (k ConflictKind) Field() string {
	switch k {
	case ConflictPatient:
		return "patient_id"
	case ConflictDoctor:
		return "doctor_id"
	case ConflictRoom:
		return "room_number"
	}
	return ""
}

type Conflict struct {
	Kind           ConflictKind
	AppointmentIDs []uuid.UUID
}

func (c Conflict) Message() string {
	switch c.Kind {
	case ConflictPatient:
		return "patient already has an appointment in this time window"
	case ConflictDoctor:
		return "doctor is already booked in this time window"
	case ConflictRoom:
		return "room is already occupied in this time window"
	}
	return "conflicting appointment"
}

// Scope identifies one participant whose calendar is checked.
type Scope struct {
	Kind ConflictKind
	ID   uuid.UUID
	Room int
}

func (s Scope) String() string {
	if s.Kind == ConflictRoom {
		return "room:" + strconv.Itoa(s.Room)
	}
	return s.Kind.String() + ":" + s.ID.String()
}

// Candidate is a proposed window. SelfID is uuid.Nil on create and the
// appointment's own id on edit, so an appointment never collides with itself.
type Candidate struct {
	SelfID     uuid.UUID
	PatientID  uuid.UUID
	DoctorID   uuid.UUID
	RoomNumber *int
	Start      time.Time
	End        time.Time
}

func (c Candidate) scopes() []Scope {
	scopes := []Scope{
		{Kind: ConflictPatient, ID: c.PatientID},
		{Kind: ConflictDoctor, ID: c.DoctorID},
	}
	if c.RoomNumber != nil {
		scopes = append(scopes, Scope{Kind: ConflictRoom, Room: *c.RoomNumber})
	}
	return scopes
}

type OverlapQuery struct {
	Scope            Scope
	ExcludeID        uuid.UUID
	Start            time.Time
	End              time.Time
	ExcludedStatuses []Status
}

// OverlapQuerier returns ids of stored appointments matching an OverlapQuery.
type OverlapQuerier interface {
	QueryOverlapping(ctx context.Context, q OverlapQuery) ([]uuid.UUID, error)
}

// Detector finds collisions between a candidate window and stored,
// still-blocking appointments. It never writes.
type Detector struct {
	store OverlapQuerier
}

func NewDetector(store OverlapQuerier) *Detector {
	return &Detector{store: store}
}

func (d *Detector) FindConflicts(ctx context.Context, c Candidate) ([]Conflict, error) {
	return d.FindConflictsIn(ctx, c)
}

// FindConflictsIn checks only the given kinds; no kinds means all of them.
func (d *Detector) FindConflictsIn(ctx context.Context, c Candidate, kinds ...ConflictKind) ([]Conflict, error) {
	var conflicts []Conflict
	for _, scope := range c.scopes() {
		if len(kinds) > 0 && !containsKind(kinds, scope.Kind) {
			continue
		}
		ids, err := d.store.QueryOverlapping(ctx, OverlapQuery{
			Scope:            scope,
			ExcludeID:        c.SelfID,
			Start:            c.Start,
			End:              c.End,
			ExcludedStatuses: NonBlockingStatuses(),
		})
		if err != nil {
			return nil, fmt.Errorf("query %s overlaps: %w", scope.Kind, err)
		}
		if len(ids) > 0 {
			conflicts = append(conflicts, Conflict{Kind: scope.Kind, AppointmentIDs: ids})
		}
	}
	return conflicts, nil
}

// Overlaps is the half-open interval test used everywhere: abutting windows
// do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && aEnd.After(bStart)
}

func containsKind(kinds []ConflictKind, k ConflictKind) bool {
	for _, x := range kinds {
		if x == k {
			return true
		}
	}
	return false
}
