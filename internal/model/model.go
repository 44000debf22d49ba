// Package model defines the core domain types for the course enrollment system.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Role is the role a member holds, as asserted by the identity provider.
type Role string

const (
	RoleStudent    Role = "STUDENT"
	RoleInstructor Role = "INSTRUCTOR"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleStudent || r == RoleInstructor
}

// Member is a registered user. Members are created by the identity service;
// this system only reads them.
type Member struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

// IsInstructor reports whether the member may open offerings.
func (m *Member) IsInstructor() bool {
	return m.Role == RoleInstructor
}

// Offering is a capacity-limited course members enroll into.
// Capacity never changes after creation.
type Offering struct {
	ID        int64           `json:"id"`
	Title     string          `json:"title"`
	Capacity  int             `json:"capacity"`
	Price     decimal.Decimal `json:"price"`
	OwnerID   int64           `json:"owner_id"`
	CreatedAt time.Time       `json:"created_at"`
}

// OfferingSummary is an offering together with its current active enrollment count.
type OfferingSummary struct {
	Offering
	OwnerName   string `json:"owner_name"`
	ActiveCount int    `json:"active_count"`
}

// Remaining returns the number of free seats.
func (o *OfferingSummary) Remaining() int {
	if n := o.Capacity - o.ActiveCount; n > 0 {
		return n
	}
	return 0
}

// FillRate returns the active count as a fraction of capacity.
func (o *OfferingSummary) FillRate() float64 {
	if o.Capacity <= 0 {
		return 0
	}
	return float64(o.ActiveCount) / float64(o.Capacity)
}

// OfferingSort selects the ordering of an offering listing.
type OfferingSort string

const (
	SortRecent  OfferingSort = "recent"
	SortPopular OfferingSort = "popular"
	SortRate    OfferingSort = "rate"
)

// ParseOfferingSort maps a query value to a sort, defaulting to SortRecent.
func ParseOfferingSort(s string) OfferingSort {
	switch OfferingSort(s) {
	case SortPopular, SortRate:
		return OfferingSort(s)
	default:
		return SortRecent
	}
}

// OfferingQuery is a paged listing request. Page is 1-based.
type OfferingQuery struct {
	Page int
	Size int
	Sort OfferingSort
}

// Normalize clamps the query to valid paging bounds.
func (q OfferingQuery) Normalize() OfferingQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	switch {
	case q.Size <= 0:
		q.Size = 20
	case q.Size > 100:
		q.Size = 100
	}
	if q.Sort == "" {
		q.Sort = SortRecent
	}
	return q
}

// Offset returns the number of rows to skip for the requested page.
func (q OfferingQuery) Offset() int {
	return (q.Page - 1) * q.Size
}

// OfferingPage is one page of an offering listing.
type OfferingPage struct {
	Items      []OfferingSummary `json:"items"`
	Page       int               `json:"page"`
	Size       int               `json:"size"`
	TotalItems int               `json:"total_items"`
}

// CreateOfferingRequest is the payload for opening a new offering.
type CreateOfferingRequest struct {
	Title    string          `json:"title"`
	Capacity int             `json:"capacity"`
	Price    decimal.Decimal `json:"price"`
}

// EnrollRequest is the payload for enrolling into one or more offerings.
type EnrollRequest struct {
	OfferingIDs []int64 `json:"offering_ids"`
}

// EnrollmentView is an enrollment resolved against its offering's display data.
type EnrollmentView struct {
	EnrollmentID  int64            `json:"enrollment_id"`
	OfferingID    int64            `json:"offering_id"`
	OfferingTitle string           `json:"offering_title"`
	MemberID      int64            `json:"member_id"`
	Status        EnrollmentStatus `json:"status"`
	CreatedAt     time.Time        `json:"created_at"`
}

// NewEnrollmentView projects an enrollment with the given offering title.
func NewEnrollmentView(e *Enrollment, title string) EnrollmentView {
	return EnrollmentView{
		EnrollmentID:  e.ID,
		OfferingID:    e.OfferingID,
		OfferingTitle: title,
		MemberID:      e.MemberID,
		Status:        e.Status,
		CreatedAt:     e.CreatedAt,
	}
}
