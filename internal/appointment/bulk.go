package appointment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// BulkResult summarises a bulk approval or decline. Ids that do not resolve
// to a PendingApproval appointment are dropped without error.
type BulkResult struct {
	Requested     int      `json:"requested"`
	Approved      int      `json:"approved"`
	Declined      int      `json:"declined"`
	EmailFailures int      `json:"email_failures"`
	Warnings      []string `json:"warnings,omitempty"`
}

type bulkItem struct {
	appt    Appointment
	patient *Patient
}

// BulkApprove schedules every pending appointment in ids into the room at the
// same index. All matched rows commit together; emails go out afterwards and
// their failures are only counted.
func (s *Service) BulkApprove(ctx context.Context, actor Actor, ids []uuid.UUID, roomNumbers []int) (BulkResult, error) {
	if !actor.Can(CapApprove) {
		return BulkResult{}, ErrForbidden
	}
	if len(ids) != len(roomNumbers) {
		return BulkResult{}, &BatchShapeError{Reason: fmt.Sprintf("got %d ids and %d room numbers", len(ids), len(roomNumbers))}
	}
	for i, room := range roomNumbers {
		if room < 1 {
			return BulkResult{}, &BatchShapeError{Reason: fmt.Sprintf("room number at index %d must be at least 1", i)}
		}
	}

	result := BulkResult{Requested: len(ids)}
	if len(ids) == 0 {
		return result, nil
	}

	rooms := make(map[uuid.UUID]int, len(ids))
	keys := make([]string, 0, len(ids))
	for i, id := range ids {
		if _, dup := rooms[id]; dup {
			continue
		}
		rooms[id] = roomNumbers[i]
		keys = append(keys, roomKey(roomNumbers[i]))
	}

	var events []EventLog
	err := s.locker.WithScopeLock(ctx, keys, func(ctx context.Context) error {
		return s.repo.InTx(ctx, func(ctx context.Context, tx Store) error {
			rows, err := tx.FindByIDs(ctx, uniqueIDs(ids))
			if err != nil {
				return err
			}

			items := make([]bulkItem, 0, len(rows))
			for _, a := range rows {
				if a.Status != StatusPendingApproval {
					continue
				}
				room := rooms[a.ID]
				a.Status = StatusScheduled
				a.RoomNumber = &room
				items = append(items, bulkItem{appt: a})
			}

			if err := checkBatchRooms(ctx, tx, items); err != nil {
				return err
			}

			for i := range items {
				p, err := s.directory.GetPatientByID(ctx, items[i].appt.PatientID)
				switch {
				case err == nil:
					items[i].patient = p
				case errors.Is(err, ErrPatientNotFound):
				default:
					return fmt.Errorf("load patient: %w", err)
				}
			}

			for i := range items {
				a := &items[i].appt
				if err := tx.Update(ctx, a); err != nil {
					return fmt.Errorf("approve %s: %w", a.ID, err)
				}
				ev, err := s.record(ctx, tx, notificationEvent(EventStatusChanged, *a, s.now()))
				if err != nil {
					return err
				}
				events = append(events, ev)

				p := items[i].patient
				if p == nil || p.Email == nil || *p.Email == "" {
					continue
				}
				mail, err := approvalEmailEvent(*p, *a, s.now())
				if err != nil {
					return err
				}
				ev, err = s.record(ctx, tx, mail)
				if err != nil {
					return err
				}
				events = append(events, ev)
			}
			result.Approved = len(items)
			return nil
		})
	})
	if err != nil {
		return BulkResult{Requested: len(ids)}, lockError(err)
	}

	report := s.dispatcher.Dispatch(ctx, events)
	result.EmailFailures = report.EmailFailures
	result.Warnings = report.Warnings

	s.log.Info().
		Int("requested", result.Requested).
		Int("approved", result.Approved).
		Int("email_failures", result.EmailFailures).
		Msg("bulk approve committed")

	return result, nil
}

// BulkDecline cancels every pending appointment in ids in one transaction.
// It has no notification side effect: no outbox rows, no email.
func (s *Service) BulkDecline(ctx context.Context, actor Actor, ids []uuid.UUID) (BulkResult, error) {
	if !actor.Can(CapApprove) {
		return BulkResult{}, ErrForbidden
	}

	result := BulkResult{Requested: len(ids)}
	if len(ids) == 0 {
		return result, nil
	}

	err := s.repo.InTx(ctx, func(ctx context.Context, tx Store) error {
		rows, err := tx.FindByIDs(ctx, uniqueIDs(ids))
		if err != nil {
			return err
		}

		declined := 0
		for _, a := range rows {
			if a.Status != StatusPendingApproval {
				continue
			}
			a.Status = StatusCancelled
			if err := tx.Update(ctx, &a); err != nil {
				return fmt.Errorf("decline %s: %w", a.ID, err)
			}
			declined++
		}
		result.Declined = declined
		return nil
	})
	if err != nil {
		return BulkResult{Requested: len(ids)}, err
	}

	s.log.Info().
		Int("requested", result.Requested).
		Int("declined", result.Declined).
		Msg("bulk decline committed")

	return result, nil
}

// checkBatchRooms rejects the batch if any new room assignment collides with
// a stored appointment outside the batch or with another batch member.
func checkBatchRooms(ctx context.Context, tx Store, items []bulkItem) error {
	inBatch := make(map[uuid.UUID]struct{}, len(items))
	for _, it := range items {
		inBatch[it.appt.ID] = struct{}{}
	}

	detector := NewDetector(tx)
	var conflicts []Conflict
	for i, it := range items {
		found, err := detector.FindConflictsIn(ctx, it.appt.candidate(), ConflictRoom)
		if err != nil {
			return err
		}

		var ids []uuid.UUID
		for _, c := range found {
			for _, other := range c.AppointmentIDs {
				if _, ok := inBatch[other]; !ok {
					ids = append(ids, other)
				}
			}
		}
		for _, other := range items[:i] {
			if *other.appt.RoomNumber == *it.appt.RoomNumber &&
				Overlaps(other.appt.StartTime, other.appt.EndTime, it.appt.StartTime, it.appt.EndTime) {
				ids = append(ids, other.appt.ID)
			}
		}
		if len(ids) > 0 {
			conflicts = append(conflicts, Conflict{Kind: ConflictRoom, AppointmentIDs: append([]uuid.UUID{it.appt.ID}, ids...)})
		}
	}

	if len(conflicts) > 0 {
		return &ConflictError{Conflicts: conflicts}
	}
	return nil
}

func uniqueIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
