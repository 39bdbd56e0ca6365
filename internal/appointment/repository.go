package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store is the set of reads and writes the service performs, either directly
// or inside a transaction.
type Store interface {
	OverlapQuerier

	FindByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// FindByIDs returns the rows that exist; missing ids are skipped. Inside a
	// transaction the rows are locked for update.
	FindByIDs(ctx context.Context, ids []uuid.UUID) ([]Appointment, error)

	// Insert assigns ID, Version and timestamps.
	Insert(ctx context.Context, a *Appointment) error
	// Update writes a if its Version still matches the stored row, then bumps
	// a.Version. Returns ErrNotFound if the row is gone and
	// ErrConcurrentModification if the version moved.
	Update(ctx context.Context, a *Appointment) error

	InsertEvent(ctx context.Context, ev EventLog) (int64, error)
}

// Repository is a Store that can also open transactions. fn receives a Store
// bound to the transaction; returning an error rolls it back.
type Repository interface {
	Store
	InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}

// Directory resolves externally owned reference entities.
type Directory interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
}

// InlineDispatchLease reserves a freshly inserted event for the request that
// wrote it. The outbox worker only picks the row up once the lease lapses.
const InlineDispatchLease = 2 * time.Minute

// Outbox is the read side of the event log used by the dispatcher.
type Outbox interface {
	// ClaimPendingEvents leases up to limit undelivered rows whose previous
	// lease has expired. A claimed row is invisible to other claimers until
	// lease passes.
	ClaimPendingEvents(ctx context.Context, limit int, lease time.Duration) ([]EventLog, error)
	MarkEventDispatched(ctx context.Context, id int64) error
	MarkEventFailed(ctx context.Context, id int64, reason string) error
}
