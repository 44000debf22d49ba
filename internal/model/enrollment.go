package model

import "time"

// EnrollmentStatus is the state of an enrollment row.
type EnrollmentStatus string

const (
	StatusActive   EnrollmentStatus = "ACTIVE"
	StatusCanceled EnrollmentStatus = "CANCELED"
)

// Enrollment links one member to one offering. At most one row exists per
// (offering, member) pair; canceling flips the status and re-joining
// reactivates the same row.
type Enrollment struct {
	ID         int64            `json:"id"`
	OfferingID int64            `json:"offering_id"`
	MemberID   int64            `json:"member_id"`
	Status     EnrollmentStatus `json:"status"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
	CanceledAt *time.Time       `json:"canceled_at,omitempty"`
}

// NewEnrollment returns an unsaved active enrollment.
func NewEnrollment(offeringID, memberID int64, now time.Time) *Enrollment {
	return &Enrollment{
		OfferingID: offeringID,
		MemberID:   memberID,
		Status:     StatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// IsActive reports whether the enrollment counts against capacity.
func (e *Enrollment) IsActive() bool {
	return e.Status == StatusActive
}

// IsCanceled reports whether the enrollment has been canceled.
func (e *Enrollment) IsCanceled() bool {
	return e.Status == StatusCanceled
}

// OwnedBy reports whether memberID owns the enrollment.
func (e *Enrollment) OwnedBy(memberID int64) bool {
	return e.MemberID == memberID
}

// Cancel moves an active enrollment to canceled. The receiver is left
// untouched when the transition is illegal.
func (e *Enrollment) Cancel(now time.Time) error {
	if e.IsCanceled() {
		return AlreadyCanceled(e.ID)
	}
	e.Status = StatusCanceled
	e.UpdatedAt = now
	e.CanceledAt = &now
	return nil
}

// Reactivate moves a canceled enrollment back to active.
func (e *Enrollment) Reactivate(now time.Time) error {
	if e.IsActive() {
		return AlreadyActive(e.OfferingID)
	}
	e.Status = StatusActive
	e.UpdatedAt = now
	e.CanceledAt = nil
	return nil
}

// Clone returns a deep copy.
func (e *Enrollment) Clone() *Enrollment {
	c := *e
	if e.CanceledAt != nil {
		t := *e.CanceledAt
		c.CanceledAt = &t
	}
	return &c
}
