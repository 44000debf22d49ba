package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Shivanand-hulikatti/course-enrollment/internal/model"
	"github.com/Shivanand-hulikatti/course-enrollment/internal/repository"
)

// Lifecycle owns every write to an enrollment row. Callers must already hold
// the owning offering's lock through tx.
type Lifecycle struct {
	now func() time.Time
}

// NewLifecycle returns a Lifecycle using now as its clock. A nil clock means
// wall-clock UTC.
func NewLifecycle(now func() time.Time) *Lifecycle {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Lifecycle{now: now}
}

// Create inserts a new ACTIVE row for (offering, member).
func (l *Lifecycle) Create(ctx context.Context, tx repository.Tx, offeringID, memberID int64) (*model.Enrollment, error) {
	e := model.NewEnrollment(offeringID, memberID, l.now())
	if err := tx.InsertEnrollment(ctx, e); err != nil {
		return nil, fmt.Errorf("create enrollment: %w", err)
	}
	return e, nil
}

// Reactivate flips a CANCELED row back to ACTIVE, keeping its id.
func (l *Lifecycle) Reactivate(ctx context.Context, tx repository.Tx, existing *model.Enrollment) (*model.Enrollment, error) {
	e := existing.Clone()
	if err := e.Reactivate(l.now()); err != nil {
		return nil, err
	}
	if err := tx.UpdateEnrollment(ctx, e); err != nil {
		return nil, fmt.Errorf("reactivate enrollment %d: %w", e.ID, err)
	}
	return e, nil
}

// Cancel flips an ACTIVE row to CANCELED.
func (l *Lifecycle) Cancel(ctx context.Context, tx repository.Tx, existing *model.Enrollment) (*model.Enrollment, error) {
	e := existing.Clone()
	if err := e.Cancel(l.now()); err != nil {
		return nil, err
	}
	if err := tx.UpdateEnrollment(ctx, e); err != nil {
		return nil, fmt.Errorf("cancel enrollment %d: %w", e.ID, err)
	}
	return e, nil
}
