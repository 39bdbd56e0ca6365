package appointment

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// memStore is a map-backed Repository, Directory and Outbox. InTx snapshots
// state and restores it when fn fails.
type memStore struct {
	mu        sync.Mutex
	appts     map[uuid.UUID]Appointment
	patients  map[uuid.UUID]Patient
	doctors   map[uuid.UUID]Doctor
	events    []EventLog
	nextEvent int64

	// failUpdate, when set, is consulted before every Update
	failUpdate func(a *Appointment) error
	updates    int

	// beforeTx, when set, runs once at the start of the next InTx, as a
	// concurrent writer committing between the service's load and its write
	beforeTx func(s *memStore)

	// clock for outbox leases
	now func() time.Time
}

func newMemStore() *memStore {
	return &memStore{
		appts:    make(map[uuid.UUID]Appointment),
		patients: make(map[uuid.UUID]Patient),
		doctors:  make(map[uuid.UUID]Doctor),
		now:      time.Now,
	}
}

func (s *memStore) addPatient(name, email string) uuid.UUID {
	p := Patient{ID: uuid.New(), Name: name}
	if email != "" {
		p.Email = &email
	}
	s.patients[p.ID] = p
	return p.ID
}

func (s *memStore) addDoctor(name string) uuid.UUID {
	d := Doctor{ID: uuid.New(), Name: name}
	s.doctors[d.ID] = d
	return d.ID
}

// put stores a appointment as-is, bypassing the service.
func (s *memStore) put(a Appointment) Appointment {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Version == 0 {
		a.Version = 1
	}
	s.appts[a.ID] = a
	return a
}

func (s *memStore) get(id uuid.UUID) Appointment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appts[id]
}

func (s *memStore) eventsOfType(eventType string) []EventLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []EventLog
	for _, ev := range s.events {
		if ev.EventType == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func (s *memStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	if hook := s.beforeTx; hook != nil {
		s.beforeTx = nil
		hook(s)
	}

	s.mu.Lock()
	apptSnap := make(map[uuid.UUID]Appointment, len(s.appts))
	for k, v := range s.appts {
		apptSnap[k] = v
	}
	eventSnap := append([]EventLog(nil), s.events...)
	s.mu.Unlock()

	if err := fn(ctx, s); err != nil {
		s.mu.Lock()
		s.appts = apptSnap
		s.events = eventSnap
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *memStore) QueryOverlapping(_ context.Context, q OverlapQuery) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []uuid.UUID
	for _, a := range s.appts {
		if a.ID == q.ExcludeID {
			continue
		}
		excluded := false
		for _, st := range q.ExcludedStatuses {
			if a.Status == st {
				excluded = true
			}
		}
		if excluded {
			continue
		}
		switch q.Scope.Kind {
		case ConflictPatient:
			if a.PatientID != q.Scope.ID {
				continue
			}
		case ConflictDoctor:
			if a.DoctorID != q.Scope.ID {
				continue
			}
		case ConflictRoom:
			if a.RoomNumber == nil || *a.RoomNumber != q.Scope.Room {
				continue
			}
		}
		if Overlaps(a.StartTime, a.EndTime, q.Start, q.End) {
			ids = append(ids, a.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids, nil
}

func (s *memStore) FindByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (s *memStore) FindByIDs(_ context.Context, ids []uuid.UUID) ([]Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Appointment
	for _, id := range ids {
		if a, ok := s.appts[id]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *memStore) Insert(_ context.Context, a *Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.Version = 1
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	s.appts[a.ID] = *a
	return nil
}

func (s *memStore) Update(_ context.Context, a *Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpdate != nil {
		if err := s.failUpdate(a); err != nil {
			return err
		}
	}
	current, ok := s.appts[a.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Version != a.Version {
		return ErrConcurrentModification
	}
	a.Version++
	a.UpdatedAt = time.Now()
	s.appts[a.ID] = *a
	s.updates++
	return nil
}

func (s *memStore) InsertEvent(_ context.Context, ev EventLog) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextEvent++
	ev.ID = s.nextEvent
	lease := s.now().Add(InlineDispatchLease)
	ev.ClaimedUntil = &lease
	s.events = append(s.events, ev)
	return ev.ID, nil
}

func (s *memStore) ClaimPendingEvents(_ context.Context, limit int, lease time.Duration) ([]EventLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var out []EventLog
	for i := range s.events {
		ev := &s.events[i]
		if ev.DispatchedAt != nil || len(out) >= limit {
			continue
		}
		if ev.ClaimedUntil != nil && ev.ClaimedUntil.After(now) {
			continue
		}
		until := now.Add(lease)
		ev.ClaimedUntil = &until
		out = append(out, *ev)
	}
	return out, nil
}

func (s *memStore) event(id int64) EventLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.events {
		if ev.ID == id {
			return ev
		}
	}
	return EventLog{}
}

func (s *memStore) MarkEventDispatched(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.events {
		if s.events[i].ID == id {
			now := time.Now()
			s.events[i].DispatchedAt = &now
			s.events[i].Attempts++
			return nil
		}
	}
	return errors.New("no such event")
}

func (s *memStore) MarkEventFailed(_ context.Context, id int64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.events {
		if s.events[i].ID == id {
			s.events[i].Attempts++
			s.events[i].LastError = &reason
			s.events[i].ClaimedUntil = nil
			return nil
		}
	}
	return errors.New("no such event")
}

func (s *memStore) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (s *memStore) GetDoctorByID(_ context.Context, id uuid.UUID) (*Doctor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return &d, nil
}

// MockNotifier is a testify mock of Notifier
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, n Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

// MockMailer is a testify mock of Mailer
type MockMailer struct {
	mock.Mock
}

func (m *MockMailer) Send(ctx context.Context, to, subject, htmlBody string) error {
	args := m.Called(ctx, to, subject, htmlBody)
	return args.Error(0)
}
