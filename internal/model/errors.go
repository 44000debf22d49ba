package model

import (
	"errors"
	"fmt"
)

// Kind classifies a business failure. The string value is the error code
// exposed to API clients.
type Kind string

const (
	KindMemberNotFound     Kind = "MEMBER_NOT_FOUND"
	KindOfferingNotFound   Kind = "OFFERING_NOT_FOUND"
	KindEnrollmentNotFound Kind = "ENROLLMENT_NOT_FOUND"
	KindAlreadyActive      Kind = "ALREADY_ENROLLED_ACTIVE"
	KindCourseFull         Kind = "COURSE_FULL"
	KindAlreadyCanceled    Kind = "ALREADY_CANCELED"
	KindUnauthorizedCancel Kind = "UNAUTHORIZED_ENROLLMENT"
	KindInstructorOnly     Kind = "INSTRUCTOR_ONLY"
	KindInvalidRequest     Kind = "INVALID_REQUEST"
	KindInvalidOffering    Kind = "INVALID_OFFERING"
)

// Sentinel errors, one per Kind. Use with errors.Is.
var (
	ErrMemberNotFound     = errors.New("member not found")
	ErrOfferingNotFound   = errors.New("offering not found")
	ErrEnrollmentNotFound = errors.New("enrollment not found")
	ErrAlreadyActive      = errors.New("already enrolled in this offering")
	ErrCourseFull         = errors.New("offering is at capacity")
	ErrAlreadyCanceled    = errors.New("enrollment already canceled")
	ErrUnauthorizedCancel = errors.New("enrollment belongs to another member")
	ErrInstructorOnly     = errors.New("only instructors may open offerings")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrInvalidOffering    = errors.New("invalid offering data")
)

var sentinels = map[Kind]error{
	KindMemberNotFound:     ErrMemberNotFound,
	KindOfferingNotFound:   ErrOfferingNotFound,
	KindEnrollmentNotFound: ErrEnrollmentNotFound,
	KindAlreadyActive:      ErrAlreadyActive,
	KindCourseFull:         ErrCourseFull,
	KindAlreadyCanceled:    ErrAlreadyCanceled,
	KindUnauthorizedCancel: ErrUnauthorizedCancel,
	KindInstructorOnly:     ErrInstructorOnly,
	KindInvalidRequest:     ErrInvalidRequest,
	KindInvalidOffering:    ErrInvalidOffering,
}

// Error is a business failure. It carries the identifiers involved so batch
// results and logs can report them.
type Error struct {
	Kind         Kind
	Message      string
	MemberID     int64
	OfferingID   int64
	EnrollmentID int64
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return sentinels[e.Kind]
}

// KindOf returns the Kind of a business failure anywhere in err's chain.
func KindOf(err error) (Kind, bool) {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind, true
	}
	return "", false
}

// IsBusiness reports whether err is a business failure rather than an
// infrastructure error.
func IsBusiness(err error) bool {
	_, ok := KindOf(err)
	return ok
}

// IsNotFound reports whether err names a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrMemberNotFound) ||
		errors.Is(err, ErrOfferingNotFound) ||
		errors.Is(err, ErrEnrollmentNotFound)
}

// IsConflict reports whether err is a state conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyActive) ||
		errors.Is(err, ErrCourseFull) ||
		errors.Is(err, ErrAlreadyCanceled)
}

// IsForbidden reports whether err is an authorization failure.
func IsForbidden(err error) bool {
	return errors.Is(err, ErrUnauthorizedCancel) ||
		errors.Is(err, ErrInstructorOnly)
}

func MemberNotFound(memberID int64) *Error {
	return &Error{
		Kind:     KindMemberNotFound,
		Message:  fmt.Sprintf("member not found (id: %d)", memberID),
		MemberID: memberID,
	}
}

func OfferingNotFound(offeringID int64) *Error {
	return &Error{
		Kind:       KindOfferingNotFound,
		Message:    fmt.Sprintf("offering not found (id: %d)", offeringID),
		OfferingID: offeringID,
	}
}

func EnrollmentNotFound(enrollmentID int64) *Error {
	return &Error{
		Kind:         KindEnrollmentNotFound,
		Message:      fmt.Sprintf("enrollment not found (id: %d)", enrollmentID),
		EnrollmentID: enrollmentID,
	}
}

func AlreadyActive(offeringID int64) *Error {
	return &Error{
		Kind:       KindAlreadyActive,
		Message:    fmt.Sprintf("already enrolled in offering %d", offeringID),
		OfferingID: offeringID,
	}
}

func CourseFull(offeringID int64, capacity int) *Error {
	return &Error{
		Kind:       KindCourseFull,
		Message:    fmt.Sprintf("offering %d is full (capacity: %d)", offeringID, capacity),
		OfferingID: offeringID,
	}
}

func AlreadyCanceled(enrollmentID int64) *Error {
	return &Error{
		Kind:         KindAlreadyCanceled,
		Message:      fmt.Sprintf("enrollment %d is already canceled", enrollmentID),
		EnrollmentID: enrollmentID,
	}
}

func UnauthorizedCancel(enrollmentID, memberID int64) *Error {
	return &Error{
		Kind:         KindUnauthorizedCancel,
		Message:      "only the owner of an enrollment may cancel it",
		EnrollmentID: enrollmentID,
		MemberID:     memberID,
	}
}

func InstructorOnly(memberID int64) *Error {
	return &Error{
		Kind:     KindInstructorOnly,
		Message:  "offerings can only be opened by instructors",
		MemberID: memberID,
	}
}

func InvalidRequest(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidRequest, Message: fmt.Sprintf(format, args...)}
}

func InvalidOffering(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidOffering, Message: fmt.Sprintf(format, args...)}
}
