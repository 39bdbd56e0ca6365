package appointment

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func (e *testEnv) pending(t *testing.T, email string, hour int) Appointment {
	t.Helper()
	patient := e.store.addPatient("Pending Patient", email)
	return e.store.put(Appointment{
		PatientID: patient,
		DoctorID:  e.store.addDoctor("Dr. Bulk"),
		StartTime: at(hour, 0),
		EndTime:   at(hour+1, 0),
		Status:    StatusPendingApproval,
	})
}

func TestBulkApprove_ShapeMismatchTouchesNothing(t *testing.T) {
	env := setupTestService(t)
	a := env.pending(t, "a@example.com", 9)
	b := env.pending(t, "b@example.com", 10)

	_, err := env.svc.BulkApprove(context.Background(), env.staff, []uuid.UUID{a.ID, b.ID}, []int{1})

	var berr *BatchShapeError
	require.True(t, errors.As(err, &berr))
	assert.Zero(t, env.store.updates)
	assert.Equal(t, StatusPendingApproval, env.store.get(a.ID).Status)
	assert.Equal(t, StatusPendingApproval, env.store.get(b.ID).Status)
}

func TestBulkApprove_InvalidRoomTouchesNothing(t *testing.T) {
	env := setupTestService(t)
	a := env.pending(t, "a@example.com", 9)

	_, err := env.svc.BulkApprove(context.Background(), env.staff, []uuid.UUID{a.ID}, []int{0})

	var berr *BatchShapeError
	require.True(t, errors.As(err, &berr))
	assert.Zero(t, env.store.updates)
}

func TestBulkApprove_CountsEmailFailures(t *testing.T) {
	env := setupTestService(t)
	a := env.pending(t, "a@example.com", 9)
	b := env.pending(t, "broken@example.com", 10)
	c := env.pending(t, "c@example.com", 11)

	env.mailer.On("Send", mock.Anything, "broken@example.com", mock.Anything, mock.Anything).
		Return(errors.New("mailbox unavailable")).Once()
	env.mailer.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	result, err := env.svc.BulkApprove(context.Background(), env.staff,
		[]uuid.UUID{a.ID, b.ID, c.ID}, []int{1, 2, 3})
	require.NoError(t, err)

	assert.Equal(t, 3, result.Requested)
	assert.Equal(t, 3, result.Approved)
	assert.Equal(t, 1, result.EmailFailures)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "mailbox unavailable")

	for i, id := range []uuid.UUID{a.ID, b.ID, c.ID} {
		got := env.store.get(id)
		assert.Equal(t, StatusScheduled, got.Status)
		assert.Equal(t, i+1, *got.RoomNumber)
	}
	env.mailer.AssertNumberOfCalls(t, "Send", 3)
}

func TestBulkApprove_SkipsIDsThatAreNotPending(t *testing.T) {
	env := setupTestService(t)
	env.mailer.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	a := env.pending(t, "a@example.com", 9)
	done := env.store.put(Appointment{
		PatientID: uuid.New(), DoctorID: uuid.New(),
		StartTime: at(13, 0), EndTime: at(14, 0), Status: StatusCompleted,
	})

	result, err := env.svc.BulkApprove(context.Background(), env.staff,
		[]uuid.UUID{a.ID, done.ID, uuid.New()}, []int{1, 2, 3})
	require.NoError(t, err)

	assert.Equal(t, 3, result.Requested)
	assert.Equal(t, 1, result.Approved)
	assert.Equal(t, StatusCompleted, env.store.get(done.ID).Status)
}

func TestBulkApprove_RoomConflictInsideBatchRejectsAll(t *testing.T) {
	env := setupTestService(t)
	a := env.pending(t, "a@example.com", 9)
	b := env.pending(t, "b@example.com", 9)

	_, err := env.svc.BulkApprove(context.Background(), env.staff, []uuid.UUID{a.ID, b.ID}, []int{4, 4})

	var cerr *ConflictError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, ConflictRoom, cerr.Conflicts[0].Kind)
	assert.Equal(t, StatusPendingApproval, env.store.get(a.ID).Status)
	assert.Equal(t, StatusPendingApproval, env.store.get(b.ID).Status)
	env.mailer.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestBulkApprove_RoomConflictWithStoredRejectsAll(t *testing.T) {
	env := setupTestService(t)
	env.store.put(Appointment{
		PatientID: uuid.New(), DoctorID: uuid.New(), RoomNumber: roomPtr(6),
		StartTime: at(10, 30), EndTime: at(11, 0), Status: StatusScheduled,
	})
	a := env.pending(t, "a@example.com", 8)
	b := env.pending(t, "b@example.com", 10)

	_, err := env.svc.BulkApprove(context.Background(), env.staff, []uuid.UUID{a.ID, b.ID}, []int{6, 6})

	var cerr *ConflictError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, StatusPendingApproval, env.store.get(a.ID).Status)
	assert.Empty(t, env.store.eventsOfType(EventStatusChanged))
}

func TestBulkApprove_UpdateFailureRollsBack(t *testing.T) {
	env := setupTestService(t)
	a := env.pending(t, "a@example.com", 9)
	b := env.pending(t, "b@example.com", 10)
	env.store.failUpdate = func(ap *Appointment) error {
		if ap.ID == b.ID {
			return ErrConcurrentModification
		}
		return nil
	}

	_, err := env.svc.BulkApprove(context.Background(), env.staff, []uuid.UUID{a.ID, b.ID}, []int{1, 2})
	assert.ErrorIs(t, err, ErrConcurrentModification)
	assert.Equal(t, StatusPendingApproval, env.store.get(a.ID).Status)
	assert.Empty(t, env.store.eventsOfType(EventApprovalEmail))
}

func TestBulkApprove_Forbidden(t *testing.T) {
	env := setupTestService(t)

	_, err := env.svc.BulkApprove(context.Background(), PatientActor(uuid.New(), env.patient), nil, nil)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestBulkDecline(t *testing.T) {
	env := setupTestService(t)
	a := env.pending(t, "a@example.com", 9)
	b := env.pending(t, "b@example.com", 10)
	scheduled := env.book(t, at(15, 0), at(16, 0), nil)

	result, err := env.svc.BulkDecline(context.Background(), env.staff, []uuid.UUID{a.ID, b.ID, scheduled.ID})
	require.NoError(t, err)

	assert.Equal(t, 3, result.Requested)
	assert.Equal(t, 2, result.Declined)
	assert.Equal(t, StatusCancelled, env.store.get(a.ID).Status)
	assert.Equal(t, StatusCancelled, env.store.get(b.ID).Status)
	assert.Equal(t, StatusScheduled, env.store.get(scheduled.ID).Status)
	assert.Empty(t, env.store.eventsOfType(EventStatusChanged))
	// only the booking above notified
	env.notifier.AssertNumberOfCalls(t, "Notify", 1)
	env.mailer.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestBulkDecline_Empty(t *testing.T) {
	env := setupTestService(t)

	result, err := env.svc.BulkDecline(context.Background(), env.staff, nil)
	require.NoError(t, err)
	assert.Equal(t, BulkResult{}, result)
}
