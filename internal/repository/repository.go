// Package repository implements persistence for members, offerings and
// enrollments.
//
// Three stores satisfy the same contract: Postgres (pgx, production), SQLite
// (single node / local development) and Memory (tests). All admission writes
// happen inside WithTx after Tx.LockOffering has taken the offering's
// exclusive lock, so the active-seat count read under that lock cannot go
// stale before the insert or reactivation commits.
package repository

import (
	"context"
	"errors"

	"github.com/Shivanand-hulikatti/course-enrollment/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrTransient marks failures that may succeed on retry: lock wait timeouts,
// deadlock or serialization aborts, dropped connections. It is never a
// business outcome.
var ErrTransient = errors.New("transient store failure")

// ErrDuplicate is returned when a uniqueness constraint rejects a write.
var ErrDuplicate = errors.New("duplicate row")

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// Tx is a unit of work holding zero or more offering locks. Locks are
// released when the transaction commits or rolls back.
type Tx interface {
	// LockOffering loads the offering and takes its exclusive lock, blocking
	// until the lock is free or the lock timeout elapses (ErrTransient).
	LockOffering(ctx context.Context, offeringID int64) (*model.Offering, error)

	// FindEnrollment returns the row for (offering, member) in any status.
	FindEnrollment(ctx context.Context, offeringID, memberID int64) (*model.Enrollment, error)

	GetEnrollment(ctx context.Context, enrollmentID int64) (*model.Enrollment, error)

	// CountActive counts ACTIVE rows for the offering as seen by this transaction.
	CountActive(ctx context.Context, offeringID int64) (int, error)

	// InsertEnrollment persists a new row and sets e.ID.
	InsertEnrollment(ctx context.Context, e *model.Enrollment) error

	// UpdateEnrollment persists status and timestamps of an existing row.
	UpdateEnrollment(ctx context.Context, e *model.Enrollment) error
}

// EnrollmentStore is the transactional record store used by the admission engine.
type EnrollmentStore interface {
	// WithTx runs fn in a transaction. A nil return commits; any error rolls
	// back and is returned unchanged unless the store classifies it as
	// ErrTransient.
	WithTx(ctx context.Context, fn func(Tx) error) error

	GetEnrollment(ctx context.Context, enrollmentID int64) (*model.Enrollment, error)

	// ListActiveByMember returns the member's ACTIVE rows ordered by
	// creation time, then id.
	ListActiveByMember(ctx context.Context, memberID int64) ([]model.Enrollment, error)
}

// MemberStore reads members. Members are owned by the identity service;
// CreateMember exists for seeding and tests.
type MemberStore interface {
	CreateMember(ctx context.Context, m *model.Member) error
	GetMember(ctx context.Context, memberID int64) (*model.Member, error)
	MemberExists(ctx context.Context, memberID int64) (bool, error)
}

// OfferingStore is the catalog side of persistence.
type OfferingStore interface {
	CreateOffering(ctx context.Context, o *model.Offering) error
	GetOffering(ctx context.Context, offeringID int64) (*model.Offering, error)
	ListOfferings(ctx context.Context, q model.OfferingQuery) (*model.OfferingPage, error)
}

// Store is everything the service layer needs.
type Store interface {
	EnrollmentStore
	MemberStore
	OfferingStore
	Close() error
}
