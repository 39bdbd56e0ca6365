package appointment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
)

type Service struct {
	repo       Repository
	directory  Directory
	locker     redisclient.Locker
	dispatcher *Dispatcher
	log        zerolog.Logger
	now        func() time.Time
}

func NewService(repo Repository, directory Directory, locker redisclient.Locker, dispatcher *Dispatcher, logger zerolog.Logger) *Service {
	return &Service{
		repo:       repo,
		directory:  directory,
		locker:     locker,
		dispatcher: dispatcher,
		log:        logger.With().Str("component", "scheduling").Logger(),
		now:        time.Now,
	}
}

// CreateAppointment validates and books a new appointment.
// Patient self-service bookings always start in PendingApproval.
func (s *Service) CreateAppointment(ctx context.Context, actor Actor, req NewAppointment) (*Appointment, error) {
	if !actor.canBookFor(req.PatientID) {
		return nil, ErrForbidden
	}

	status, err := s.initialStatus(actor, req.Status)
	if err != nil {
		return nil, err
	}

	appt := &Appointment{
		PatientID:  req.PatientID,
		DoctorID:   req.DoctorID,
		RoomNumber: req.RoomNumber,
		StartTime:  req.StartTime,
		EndTime:    req.EndTime,
		Status:     status,
		Reason:     req.Reason,
	}
	if err := validateAppointment(appt); err != nil {
		return nil, err
	}
	if err := s.checkParticipants(ctx, appt); err != nil {
		return nil, err
	}

	var events []EventLog
	err = s.withScopeLock(ctx, appt.candidate(), func(ctx context.Context) error {
		return s.repo.InTx(ctx, func(ctx context.Context, tx Store) error {
			if err := checkConflicts(ctx, tx, appt.candidate()); err != nil {
				return err
			}
			if err := tx.Insert(ctx, appt); err != nil {
				return err
			}
			ev, err := s.record(ctx, tx, notificationEvent(EventAppointmentCreated, *appt, s.now()))
			if err != nil {
				return err
			}
			events = append(events, ev)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("appointment_id", appt.ID.String()).
		Str("doctor_id", appt.DoctorID.String()).
		Str("status", appt.Status.String()).
		Msg("appointment created")

	s.dispatcher.Dispatch(ctx, events)
	return appt, nil
}

// EditAppointment applies changes to an existing appointment, re-validating
// the window and re-running conflict detection against everything but itself.
func (s *Service) EditAppointment(ctx context.Context, actor Actor, id uuid.UUID, changes Changes) (*Appointment, error) {
	if !actor.Can(CapEdit) {
		return nil, ErrForbidden
	}
	if err := changes.validate(); err != nil {
		return nil, err
	}

	existing, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	updated := *existing
	changes.apply(&updated)

	if err := validateAppointment(&updated); err != nil {
		return nil, err
	}
	if updated.PatientID != existing.PatientID || updated.DoctorID != existing.DoctorID {
		if err := s.checkParticipants(ctx, &updated); err != nil {
			return nil, err
		}
	}

	var events []EventLog
	err = s.withScopeLock(ctx, updated.candidate(), func(ctx context.Context) error {
		return s.repo.InTx(ctx, func(ctx context.Context, tx Store) error {
			if updated.Status.Blocking() {
				if err := checkConflicts(ctx, tx, updated.candidate()); err != nil {
					return err
				}
			}
			if err := tx.Update(ctx, &updated); err != nil {
				return err
			}
			ev, err := s.record(ctx, tx, notificationEvent(EventAppointmentUpdated, updated, s.now()))
			if err != nil {
				return err
			}
			events = append(events, ev)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("appointment_id", id.String()).Msg("appointment edited")
	s.dispatcher.Dispatch(ctx, events)
	return &updated, nil
}

// RescheduleAppointment moves an appointment to a new window.
func (s *Service) RescheduleAppointment(ctx context.Context, actor Actor, id uuid.UUID, start, end time.Time) (*Appointment, error) {
	return s.EditAppointment(ctx, actor, id, Changes{StartTime: &start, EndTime: &end})
}

// UpdateStatus moves an appointment along the state machine. Promoting a
// pending appointment this way requires a room to be assigned already;
// ApprovePending assigns one.
func (s *Service) UpdateStatus(ctx context.Context, actor Actor, id uuid.UUID, to Status) (*Appointment, error) {
	if !actor.Can(CapManageStatus) {
		return nil, ErrForbidden
	}
	if !to.Valid() {
		return nil, &ValidationError{Fields: []FieldError{{Field: "status", Message: "unknown status"}}}
	}
	return s.transition(ctx, id, to, nil)
}

// ApprovePending schedules a pending appointment into roomNumber and emails
// the patient. Email failure does not undo the approval.
func (s *Service) ApprovePending(ctx context.Context, actor Actor, id uuid.UUID, roomNumber int) (*Appointment, error) {
	if !actor.Can(CapApprove) {
		return nil, ErrForbidden
	}
	if roomNumber < 1 {
		return nil, &ValidationError{Fields: []FieldError{{Field: "room_number", Message: "must be at least 1"}}}
	}

	existing, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if existing.Status != StatusPendingApproval {
		return nil, fmt.Errorf("%w: %s is not pending approval", ErrInvalidStatusTransition, existing.Status)
	}
	return s.transition(ctx, id, StatusScheduled, &roomNumber)
}

// DeclinePending cancels a pending appointment. The room is left untouched.
func (s *Service) DeclinePending(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	if !actor.Can(CapApprove) {
		return nil, ErrForbidden
	}

	existing, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if existing.Status != StatusPendingApproval {
		return nil, fmt.Errorf("%w: %s is not pending approval", ErrInvalidStatusTransition, existing.Status)
	}
	return s.transition(ctx, id, StatusCancelled, nil)
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return appt, nil
}

// transition applies a status change and, when room is set, a room
// assignment. Approvals re-check only the room scope: patient and doctor were
// already held by the pending booking.
func (s *Service) transition(ctx context.Context, id uuid.UUID, to Status, room *int) (*Appointment, error) {
	existing, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if existing.Status == to && room == nil {
		return existing, nil
	}
	if !CanTransition(existing.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, existing.Status, to)
	}

	updated := *existing
	updated.Status = to
	if room != nil {
		r := *room
		updated.RoomNumber = &r
	}

	promoting := existing.Status == StatusPendingApproval && to == StatusScheduled
	if promoting && updated.RoomNumber == nil {
		return nil, &ValidationError{Fields: []FieldError{{Field: "room_number", Message: "a room must be assigned before scheduling"}}}
	}

	var patient *Patient
	if promoting {
		patient, err = s.directory.GetPatientByID(ctx, updated.PatientID)
		if err != nil {
			s.log.Warn().Err(err).Str("patient_id", updated.PatientID.String()).Msg("patient lookup failed, approval email skipped")
		}
	}

	var keys []string
	if promoting {
		keys = []string{roomKey(*updated.RoomNumber)}
	}

	var events []EventLog
	err = s.locker.WithScopeLock(ctx, keys, func(ctx context.Context) error {
		return s.repo.InTx(ctx, func(ctx context.Context, tx Store) error {
			if promoting {
				conflicts, err := NewDetector(tx).FindConflictsIn(ctx, updated.candidate(), ConflictRoom)
				if err != nil {
					return err
				}
				if len(conflicts) > 0 {
					return &ConflictError{Conflicts: conflicts}
				}
			}
			if err := tx.Update(ctx, &updated); err != nil {
				return err
			}

			ev, err := s.record(ctx, tx, notificationEvent(EventStatusChanged, updated, s.now()))
			if err != nil {
				return err
			}
			events = append(events, ev)

			if promoting && patient != nil && patient.Email != nil && *patient.Email != "" {
				mail, err := approvalEmailEvent(*patient, updated, s.now())
				if err != nil {
					return err
				}
				ev, err := s.record(ctx, tx, mail)
				if err != nil {
					return err
				}
				events = append(events, ev)
			}
			return nil
		})
	})
	if err != nil {
		return nil, lockError(err)
	}

	s.log.Info().
		Str("appointment_id", id.String()).
		Str("from", existing.Status.String()).
		Str("to", to.String()).
		Msg("appointment status changed")

	s.dispatcher.Dispatch(ctx, events)
	return &updated, nil
}

func (s *Service) initialStatus(actor Actor, text string) (Status, error) {
	if actor.selfService() {
		return StatusPendingApproval, nil
	}
	if text == "" {
		return StatusScheduled, nil
	}
	status, err := ParseStatus(text)
	if err != nil {
		return 0, &ValidationError{Fields: []FieldError{{Field: "status", Message: err.Error()}}}
	}
	if status != StatusScheduled && status != StatusPendingApproval {
		return 0, &ValidationError{Fields: []FieldError{{Field: "status", Message: "new appointments must be Scheduled or PendingApproval"}}}
	}
	return status, nil
}

func (s *Service) checkParticipants(ctx context.Context, a *Appointment) error {
	verr := &ValidationError{}
	if _, err := s.directory.GetPatientByID(ctx, a.PatientID); err != nil {
		if !errors.Is(err, ErrPatientNotFound) {
			return fmt.Errorf("load patient: %w", err)
		}
		verr.add("patient_id", "patient does not exist")
	}
	if _, err := s.directory.GetDoctorByID(ctx, a.DoctorID); err != nil {
		if !errors.Is(err, ErrDoctorNotFound) {
			return fmt.Errorf("load doctor: %w", err)
		}
		verr.add("doctor_id", "doctor does not exist")
	}
	return verr.orNil()
}

func (s *Service) record(ctx context.Context, tx Store, ev EventLog) (EventLog, error) {
	id, err := tx.InsertEvent(ctx, ev)
	if err != nil {
		return EventLog{}, err
	}
	ev.ID = id
	return ev, nil
}

func (s *Service) withScopeLock(ctx context.Context, c Candidate, fn func(ctx context.Context) error) error {
	keys := make([]string, 0, 3)
	for _, scope := range c.scopes() {
		keys = append(keys, scope.String())
	}
	return lockError(s.locker.WithScopeLock(ctx, keys, fn))
}

func lockError(err error) error {
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return ErrScheduleBusy
	}
	return err
}

func checkConflicts(ctx context.Context, tx Store, c Candidate) error {
	conflicts, err := NewDetector(tx).FindConflicts(ctx, c)
	if err != nil {
		return err
	}
	if len(conflicts) > 0 {
		return &ConflictError{Conflicts: conflicts}
	}
	return nil
}

func validateAppointment(a *Appointment) error {
	verr := &ValidationError{}
	if a.PatientID == uuid.Nil {
		verr.add("patient_id", "is required")
	}
	if a.DoctorID == uuid.Nil {
		verr.add("doctor_id", "is required")
	}
	if a.StartTime.IsZero() {
		verr.add("start_time", "is required")
	}
	if a.EndTime.IsZero() {
		verr.add("end_time", "is required")
	}
	if !a.StartTime.IsZero() && !a.EndTime.IsZero() && !a.StartTime.Before(a.EndTime) {
		verr.add("end_time", "must be after start_time")
	}
	if a.RoomNumber != nil && *a.RoomNumber < 1 {
		verr.add("room_number", "must be at least 1")
	}
	return verr.orNil()
}

func roomKey(room int) string {
	return "room:" + strconv.Itoa(room)
}
