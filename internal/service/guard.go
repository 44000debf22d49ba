package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Shivanand-hulikatti/course-enrollment/internal/model"
	"github.com/Shivanand-hulikatti/course-enrollment/internal/repository"
)

// Guard decides a single admission. Everything it reads and writes goes
// through tx after tx.LockOffering, so two admissions on the same offering are
// strictly serialized and the active count it compares against capacity is
// never stale.
type Guard struct {
	lifecycle *Lifecycle
}

func NewGuard(lifecycle *Lifecycle) *Guard {
	return &Guard{lifecycle: lifecycle}
}

// TryAdmit admits memberID into offeringID or returns a business failure of
// kind OFFERING_NOT_FOUND, ALREADY_ENROLLED_ACTIVE or COURSE_FULL. Failures
// write nothing. The locked offering is returned alongside the enrollment.
func (g *Guard) TryAdmit(ctx context.Context, tx repository.Tx, offeringID, memberID int64) (*model.Enrollment, *model.Offering, error) {
	offering, err := tx.LockOffering(ctx, offeringID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, model.OfferingNotFound(offeringID)
		}
		return nil, nil, err
	}

	existing, err := tx.FindEnrollment(ctx, offeringID, memberID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		existing = nil
	case err != nil:
		return nil, nil, err
	case existing.IsActive():
		return nil, offering, model.AlreadyActive(offeringID)
	}

	active, err := tx.CountActive(ctx, offeringID)
	if err != nil {
		return nil, nil, err
	}
	if active >= offering.Capacity {
		return nil, offering, model.CourseFull(offeringID, offering.Capacity)
	}

	var admitted *model.Enrollment
	if existing == nil {
		admitted, err = g.lifecycle.Create(ctx, tx, offeringID, memberID)
	} else {
		admitted, err = g.lifecycle.Reactivate(ctx, tx, existing)
	}
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			// Only reachable if the row appeared without the offering lock.
			return nil, offering, model.AlreadyActive(offeringID)
		}
		return nil, nil, fmt.Errorf("admit member %d to offering %d: %w", memberID, offeringID, err)
	}
	return admitted, offering, nil
}
