package appointment

import "github.com/google/uuid"

// Capability is a bit set of what an Actor may do. Callers build it from
// whatever identity system fronts the service.
type Capability uint8

const (
	CapBookOwn Capability = 1 << iota
	CapBookAny
	CapEdit
	CapApprove
	CapManageStatus
)

const CapStaff = CapBookOwn | CapBookAny | CapEdit | CapApprove | CapManageStatus

type Actor struct {
	UserID    uuid.UUID
	PatientID *uuid.UUID
	Caps      Capability
}

func StaffActor(userID uuid.UUID) Actor {
	return Actor{UserID: userID, Caps: CapStaff}
}

func PatientActor(userID, patientID uuid.UUID) Actor {
	pid := patientID
	return Actor{UserID: userID, PatientID: &pid, Caps: CapBookOwn}
}

func (a Actor) Can(c Capability) bool {
	return a.Caps&c == c
}

// canBookFor reports whether the actor may book on behalf of patientID.
func (a Actor) canBookFor(patientID uuid.UUID) bool {
	if a.Can(CapBookAny) {
		return true
	}
	return a.Can(CapBookOwn) && a.PatientID != nil && *a.PatientID == patientID
}

// selfService is true for actors that can only book for themselves; their
// bookings wait for staff approval.
func (a Actor) selfService() bool {
	return !a.Can(CapBookAny)
}
