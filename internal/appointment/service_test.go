package appointment

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
)

type testEnv struct {
	svc      *Service
	store    *memStore
	notifier *MockNotifier
	mailer   *MockMailer
	staff    Actor
	patient  uuid.UUID
	doctor   uuid.UUID
}

// Test setup helper
func setupTestService(t *testing.T) *testEnv {
	t.Helper()

	store := newMemStore()
	notifier := &MockNotifier{}
	mailer := &MockMailer{}
	notifier.On("Notify", mock.Anything, mock.Anything).Return(nil).Maybe()

	dispatcher := NewDispatcher(store, notifier, mailer, zerolog.Nop())
	svc := NewService(store, store, redisclient.NoopLocker{}, dispatcher, zerolog.Nop())
	svc.now = func() time.Time { return day.Add(-24 * time.Hour) }

	return &testEnv{
		svc:      svc,
		store:    store,
		notifier: notifier,
		mailer:   mailer,
		staff:    StaffActor(uuid.New()),
		patient:  store.addPatient("Ada Lovelace", "ada@example.com"),
		doctor:   store.addDoctor("Dr. Grace Hopper"),
	}
}

func (e *testEnv) book(t *testing.T, start, end time.Time, room *int) *Appointment {
	t.Helper()
	a, err := e.svc.CreateAppointment(context.Background(), e.staff, NewAppointment{
		PatientID:  e.patient,
		DoctorID:   e.doctor,
		RoomNumber: room,
		StartTime:  start,
		EndTime:    end,
	})
	require.NoError(t, err)
	return a
}

type busyLocker struct{}

func (busyLocker) WithScopeLock(context.Context, []string, func(context.Context) error) error {
	return redisclient.ErrLockNotAcquired
}

func TestCreateAppointment_Success(t *testing.T) {
	env := setupTestService(t)

	a := env.book(t, at(9, 0), at(10, 0), roomPtr(3))

	assert.NotEqual(t, uuid.Nil, a.ID)
	assert.Equal(t, StatusScheduled, a.Status)
	assert.Equal(t, int64(1), a.Version)
	assert.Equal(t, 3, *a.RoomNumber)

	created := env.store.eventsOfType(EventAppointmentCreated)
	require.Len(t, created, 1)
	assert.NotNil(t, created[0].DispatchedAt)
	env.notifier.AssertCalled(t, "Notify", mock.Anything, mock.MatchedBy(func(n Notification) bool {
		return n.EventType == EventAppointmentCreated && n.AppointmentID == a.ID &&
			assert.ObjectsAreEqual(liveViews, n.Views)
	}))
}

func TestCreateAppointment_AbuttingWindowsDoNotConflict(t *testing.T) {
	env := setupTestService(t)

	env.book(t, at(9, 0), at(10, 0), roomPtr(1))
	env.book(t, at(10, 0), at(11, 0), roomPtr(1))

	assert.Len(t, env.store.appts, 2)
}

func TestCreateAppointment_ConflictReportsEveryScope(t *testing.T) {
	env := setupTestService(t)
	env.book(t, at(9, 0), at(10, 0), roomPtr(2))

	_, err := env.svc.CreateAppointment(context.Background(), env.staff, NewAppointment{
		PatientID:  env.patient,
		DoctorID:   env.doctor,
		RoomNumber: roomPtr(2),
		StartTime:  at(9, 30),
		EndTime:    at(10, 30),
	})

	var cerr *ConflictError
	require.True(t, errors.As(err, &cerr))
	fields := make([]string, 0, len(cerr.FieldErrors()))
	for _, f := range cerr.FieldErrors() {
		fields = append(fields, f.Field)
	}
	assert.Equal(t, []string{"patient_id", "doctor_id", "room_number"}, fields)
	assert.Len(t, env.store.appts, 1)
	assert.Len(t, env.store.eventsOfType(EventAppointmentCreated), 1)
}

func TestCreateAppointment_InvalidWindow(t *testing.T) {
	env := setupTestService(t)

	_, err := env.svc.CreateAppointment(context.Background(), env.staff, NewAppointment{
		PatientID: env.patient,
		DoctorID:  env.doctor,
		StartTime: at(10, 0),
		EndTime:   at(10, 0),
	})

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	require.Len(t, verr.Fields, 1)
	assert.Equal(t, "end_time", verr.Fields[0].Field)
	assert.Empty(t, env.store.appts)
}

func TestCreateAppointment_UnknownParticipants(t *testing.T) {
	env := setupTestService(t)

	_, err := env.svc.CreateAppointment(context.Background(), env.staff, NewAppointment{
		PatientID: uuid.New(),
		DoctorID:  uuid.New(),
		StartTime: at(9, 0),
		EndTime:   at(9, 30),
	})

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, []FieldError{
		{Field: "patient_id", Message: "patient does not exist"},
		{Field: "doctor_id", Message: "doctor does not exist"},
	}, verr.Fields)
}

func TestCreateAppointment_UnknownStatusRejected(t *testing.T) {
	env := setupTestService(t)

	_, err := env.svc.CreateAppointment(context.Background(), env.staff, NewAppointment{
		PatientID: env.patient,
		DoctorID:  env.doctor,
		StartTime: at(9, 0),
		EndTime:   at(9, 30),
		Status:    "rescheduled",
	})

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "status", verr.Fields[0].Field)
}

func TestCreateAppointment_LegacySynonymAccepted(t *testing.T) {
	env := setupTestService(t)

	a, err := env.svc.CreateAppointment(context.Background(), env.staff, NewAppointment{
		PatientID: env.patient,
		DoctorID:  env.doctor,
		StartTime: at(9, 0),
		EndTime:   at(9, 30),
		Status:    "Confirmed",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, a.Status)
}

func TestCreateAppointment_PatientSelfServiceIsPending(t *testing.T) {
	env := setupTestService(t)
	actor := PatientActor(uuid.New(), env.patient)

	a, err := env.svc.CreateAppointment(context.Background(), actor, NewAppointment{
		PatientID: env.patient,
		DoctorID:  env.doctor,
		StartTime: at(9, 0),
		EndTime:   at(9, 30),
		Status:    "Scheduled",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPendingApproval, a.Status)
}

func TestCreateAppointment_PatientCannotBookForOthers(t *testing.T) {
	env := setupTestService(t)
	actor := PatientActor(uuid.New(), uuid.New())

	_, err := env.svc.CreateAppointment(context.Background(), actor, NewAppointment{
		PatientID: env.patient,
		DoctorID:  env.doctor,
		StartTime: at(9, 0),
		EndTime:   at(9, 30),
	})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestCreateAppointment_LockBusy(t *testing.T) {
	env := setupTestService(t)
	env.svc.locker = busyLocker{}

	_, err := env.svc.CreateAppointment(context.Background(), env.staff, NewAppointment{
		PatientID: env.patient,
		DoctorID:  env.doctor,
		StartTime: at(9, 0),
		EndTime:   at(9, 30),
	})
	assert.ErrorIs(t, err, ErrScheduleBusy)
	assert.Empty(t, env.store.appts)
}

func TestEditAppointment_ExcludesItself(t *testing.T) {
	env := setupTestService(t)
	a := env.book(t, at(9, 0), at(10, 0), roomPtr(1))

	start, end := at(9, 30), at(10, 30)
	updated, err := env.svc.RescheduleAppointment(context.Background(), env.staff, a.ID, start, end)
	require.NoError(t, err)

	assert.Equal(t, start, updated.StartTime)
	assert.Equal(t, int64(2), updated.Version)
	assert.Len(t, env.store.eventsOfType(EventAppointmentUpdated), 1)
}

func TestEditAppointment_ConflictWithOther(t *testing.T) {
	env := setupTestService(t)
	env.book(t, at(9, 0), at(10, 0), nil)
	second := env.book(t, at(11, 0), at(12, 0), nil)

	start := at(9, 45)
	_, err := env.svc.EditAppointment(context.Background(), env.staff, second.ID, Changes{StartTime: &start})

	var cerr *ConflictError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, at(11, 0), env.store.get(second.ID).StartTime)
}

func TestEditAppointment_InvalidWindow(t *testing.T) {
	env := setupTestService(t)
	a := env.book(t, at(9, 0), at(10, 0), nil)

	end := at(8, 0)
	_, err := env.svc.EditAppointment(context.Background(), env.staff, a.ID, Changes{EndTime: &end})

	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestEditAppointment_ClearRoomWithRoomNumber(t *testing.T) {
	env := setupTestService(t)
	a := env.book(t, at(9, 0), at(10, 0), roomPtr(2))

	_, err := env.svc.EditAppointment(context.Background(), env.staff, a.ID, Changes{ClearRoom: true, RoomNumber: roomPtr(5)})

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	require.Len(t, verr.Fields, 1)
	assert.Equal(t, "room_number", verr.Fields[0].Field)
	assert.Equal(t, 2, *env.store.get(a.ID).RoomNumber)
	assert.Empty(t, env.store.eventsOfType(EventAppointmentUpdated))
}

func TestEditAppointment_ClearRoom(t *testing.T) {
	env := setupTestService(t)
	a := env.book(t, at(9, 0), at(10, 0), roomPtr(2))

	edited, err := env.svc.EditAppointment(context.Background(), env.staff, a.ID, Changes{ClearRoom: true})
	require.NoError(t, err)
	assert.Nil(t, edited.RoomNumber)
	assert.Nil(t, env.store.get(a.ID).RoomNumber)
}

func TestEditAppointment_NotFound(t *testing.T) {
	env := setupTestService(t)

	reason := "follow-up"
	_, err := env.svc.EditAppointment(context.Background(), env.staff, uuid.New(), Changes{Reason: &reason})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEditAppointment_RowDeletedAfterLoad(t *testing.T) {
	env := setupTestService(t)
	a := env.book(t, at(9, 0), at(10, 0), nil)
	env.store.beforeTx = func(s *memStore) {
		s.mu.Lock()
		delete(s.appts, a.ID)
		s.mu.Unlock()
	}

	reason := "moved"
	_, err := env.svc.EditAppointment(context.Background(), env.staff, a.ID, Changes{Reason: &reason})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrConcurrentModification)
	assert.Empty(t, env.store.eventsOfType(EventAppointmentUpdated))
	_, ok := env.store.appts[a.ID]
	assert.False(t, ok)
}

func TestEditAppointment_ConcurrentModification(t *testing.T) {
	env := setupTestService(t)
	a := env.book(t, at(9, 0), at(10, 0), nil)
	env.store.failUpdate = func(*Appointment) error { return ErrConcurrentModification }

	reason := "changed"
	_, err := env.svc.EditAppointment(context.Background(), env.staff, a.ID, Changes{Reason: &reason})
	assert.ErrorIs(t, err, ErrConcurrentModification)
	assert.Empty(t, env.store.eventsOfType(EventAppointmentUpdated))
}

func TestEditAppointment_PatientForbidden(t *testing.T) {
	env := setupTestService(t)
	a := env.book(t, at(9, 0), at(10, 0), nil)

	reason := "x"
	_, err := env.svc.EditAppointment(context.Background(), PatientActor(uuid.New(), env.patient), a.ID, Changes{Reason: &reason})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestUpdateStatus_Transitions(t *testing.T) {
	env := setupTestService(t)
	a := env.book(t, at(9, 0), at(10, 0), nil)

	done, err := env.svc.UpdateStatus(context.Background(), env.staff, a.ID, StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)

	_, err = env.svc.UpdateStatus(context.Background(), env.staff, a.ID, StatusScheduled)
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)
	assert.Equal(t, StatusCompleted, env.store.get(a.ID).Status)
}

func TestUpdateStatus_SameStatusIsNoop(t *testing.T) {
	env := setupTestService(t)
	a := env.book(t, at(9, 0), at(10, 0), nil)

	same, err := env.svc.UpdateStatus(context.Background(), env.staff, a.ID, StatusScheduled)
	require.NoError(t, err)
	assert.Equal(t, a.Version, same.Version)
	assert.Zero(t, env.store.updates)
}

func TestUpdateStatus_PromotionNeedsRoom(t *testing.T) {
	env := setupTestService(t)
	pending := env.store.put(Appointment{
		PatientID: env.patient, DoctorID: env.doctor,
		StartTime: at(9, 0), EndTime: at(10, 0), Status: StatusPendingApproval,
	})

	_, err := env.svc.UpdateStatus(context.Background(), env.staff, pending.ID, StatusScheduled)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "room_number", verr.Fields[0].Field)
}

func TestApprovePending_SendsEmail(t *testing.T) {
	env := setupTestService(t)
	pending := env.store.put(Appointment{
		PatientID: env.patient, DoctorID: env.doctor,
		StartTime: at(9, 0), EndTime: at(10, 0), Status: StatusPendingApproval,
	})
	env.mailer.On("Send", mock.Anything, "ada@example.com", "Your appointment has been approved",
		mock.MatchedBy(func(body string) bool { return strings.Contains(body, "room <strong>5</strong>") })).
		Return(nil).Once()

	approved, err := env.svc.ApprovePending(context.Background(), env.staff, pending.ID, 5)
	require.NoError(t, err)

	assert.Equal(t, StatusScheduled, approved.Status)
	assert.Equal(t, 5, *approved.RoomNumber)
	env.mailer.AssertExpectations(t)
}

func TestApprovePending_EmailFailureStillCommits(t *testing.T) {
	env := setupTestService(t)
	pending := env.store.put(Appointment{
		PatientID: env.patient, DoctorID: env.doctor,
		StartTime: at(9, 0), EndTime: at(10, 0), Status: StatusPendingApproval,
	})
	env.mailer.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("smtp: connection refused")).Once()

	approved, err := env.svc.ApprovePending(context.Background(), env.staff, pending.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, approved.Status)
	assert.Equal(t, StatusScheduled, env.store.get(pending.ID).Status)

	emails := env.store.eventsOfType(EventApprovalEmail)
	require.Len(t, emails, 1)
	assert.Nil(t, emails[0].DispatchedAt)
	require.NotNil(t, emails[0].LastError)
	assert.Contains(t, *emails[0].LastError, "connection refused")
}

func TestApprovePending_NoEmailOnFile(t *testing.T) {
	env := setupTestService(t)
	patient := env.store.addPatient("No Mail", "")
	pending := env.store.put(Appointment{
		PatientID: patient, DoctorID: env.doctor,
		StartTime: at(9, 0), EndTime: at(10, 0), Status: StatusPendingApproval,
	})

	_, err := env.svc.ApprovePending(context.Background(), env.staff, pending.ID, 1)
	require.NoError(t, err)
	env.mailer.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, env.store.eventsOfType(EventApprovalEmail))
}

func TestApprovePending_RoomConflict(t *testing.T) {
	env := setupTestService(t)
	env.store.put(Appointment{
		PatientID: uuid.New(), DoctorID: uuid.New(), RoomNumber: roomPtr(5),
		StartTime: at(9, 30), EndTime: at(10, 30), Status: StatusScheduled,
	})
	pending := env.store.put(Appointment{
		PatientID: env.patient, DoctorID: env.doctor,
		StartTime: at(9, 0), EndTime: at(10, 0), Status: StatusPendingApproval,
	})

	_, err := env.svc.ApprovePending(context.Background(), env.staff, pending.ID, 5)

	var cerr *ConflictError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, ConflictRoom, cerr.Conflicts[0].Kind)
	assert.Equal(t, StatusPendingApproval, env.store.get(pending.ID).Status)
	env.mailer.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestApprovePending_NotPending(t *testing.T) {
	env := setupTestService(t)
	a := env.book(t, at(9, 0), at(10, 0), nil)

	_, err := env.svc.ApprovePending(context.Background(), env.staff, a.ID, 1)
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)
}

func TestApprovePending_RoomMustBePositive(t *testing.T) {
	env := setupTestService(t)

	_, err := env.svc.ApprovePending(context.Background(), env.staff, uuid.New(), 0)
	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestApprovePending_PatientForbidden(t *testing.T) {
	env := setupTestService(t)

	_, err := env.svc.ApprovePending(context.Background(), PatientActor(uuid.New(), env.patient), uuid.New(), 1)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestDeclinePending(t *testing.T) {
	env := setupTestService(t)
	pending := env.store.put(Appointment{
		PatientID: env.patient, DoctorID: env.doctor, RoomNumber: roomPtr(4),
		StartTime: at(9, 0), EndTime: at(10, 0), Status: StatusPendingApproval,
	})

	declined, err := env.svc.DeclinePending(context.Background(), env.staff, pending.ID)
	require.NoError(t, err)

	assert.Equal(t, StatusCancelled, declined.Status)
	assert.Equal(t, 4, *declined.RoomNumber)
	env.mailer.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Len(t, env.store.eventsOfType(EventStatusChanged), 1)
}

func TestGetAppointment_NotFound(t *testing.T) {
	env := setupTestService(t)

	_, err := env.svc.GetAppointment(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}
