package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/Shivanand-hulikatti/course-enrollment/internal/logger"
	"github.com/Shivanand-hulikatti/course-enrollment/internal/model"
	"github.com/Shivanand-hulikatti/course-enrollment/internal/repository"
)

// DefaultMaxBatch caps the number of distinct offerings in one batch call.
const DefaultMaxBatch = 50

// EnrollmentService admits, cancels and lists enrollments.
type EnrollmentService struct {
	store     repository.Store
	offerings OfferingResolver
	guard     *Guard
	lifecycle *Lifecycle
	recorder  Recorder
	log       *logger.Logger
	maxBatch  int
	batchID   func() string
}

// Option configures an EnrollmentService.
type Option func(*EnrollmentService)

// WithRecorder sets the outcome recorder.
func WithRecorder(r Recorder) Option {
	return func(s *EnrollmentService) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithClock sets the clock used for enrollment timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *EnrollmentService) {
		s.lifecycle = NewLifecycle(now)
		s.guard = NewGuard(s.lifecycle)
	}
}

// WithMaxBatch sets the largest accepted batch. Values below 1 are ignored.
func WithMaxBatch(n int) Option {
	return func(s *EnrollmentService) {
		if n > 0 {
			s.maxBatch = n
		}
	}
}

// WithBatchID overrides batch id generation.
func WithBatchID(fn func() string) Option {
	return func(s *EnrollmentService) { s.batchID = fn }
}

// NewEnrollmentService constructs an EnrollmentService.
func NewEnrollmentService(store repository.Store, offerings OfferingResolver, log *logger.Logger, opts ...Option) *EnrollmentService {
	lc := NewLifecycle(nil)
	s := &EnrollmentService{
		store:     store,
		offerings: offerings,
		guard:     NewGuard(lc),
		lifecycle: lc,
		recorder:  nopRecorder{},
		log:       log.With("service", "EnrollmentService"),
		maxBatch:  DefaultMaxBatch,
		batchID:   func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnrollBatch admits memberID into every distinct offering in offeringIDs.
//
// Offerings are processed in ascending id order, each in its own transaction
// holding only that offering's lock, so concurrent batches with overlapping
// sets cannot wait on each other in a cycle and a later failure never undoes
// an earlier admission. Business failures become items in the result. The
// only whole-call business failures are INVALID_REQUEST and MEMBER_NOT_FOUND.
//
// An infrastructure failure stops the batch. The items committed so far are
// returned together with the error.
func (s *EnrollmentService) EnrollBatch(ctx context.Context, memberID int64, offeringIDs []int64) (*model.BatchResult, error) {
	ids, err := s.normalizeBatch(offeringIDs)
	if err != nil {
		return nil, err
	}
	if err := s.requireMember(ctx, memberID); err != nil {
		return nil, err
	}

	result := model.NewBatchResult(s.batchID(), memberID)
	log := s.log.With("batch_id", result.BatchID, "member_id", memberID)
	s.recorder.RecordBatch(ctx, len(ids))

	for _, offeringID := range ids {
		view, err := s.admit(ctx, memberID, offeringID)
		switch {
		case err == nil:
			result.AddSuccess(*view)
			log.Info("admitted", "offering_id", offeringID, "enrollment_id", view.EnrollmentID)
		case model.IsBusiness(err):
			failure := s.failure(ctx, offeringID, err)
			result.AddFailure(failure)
			log.Warn("admission rejected", "offering_id", offeringID, "code", failure.Code)
		default:
			log.Error("batch aborted", "offering_id", offeringID, "processed", result.TotalRequested, "error", err)
			return result, fmt.Errorf("enroll offering %d: %w", offeringID, err)
		}
	}

	log.Info("batch complete", "requested", result.TotalRequested, "succeeded", result.SuccessCount, "failed", result.FailureCount)
	return result, nil
}

// Enroll admits memberID into a single offering. Every failure, including
// business ones, is returned as an error.
func (s *EnrollmentService) Enroll(ctx context.Context, memberID, offeringID int64) (*model.EnrollmentView, error) {
	if offeringID <= 0 {
		return nil, model.InvalidRequest("offering id must be positive")
	}
	if err := s.requireMember(ctx, memberID); err != nil {
		return nil, err
	}
	view, err := s.admit(ctx, memberID, offeringID)
	if err != nil {
		return nil, err
	}
	s.log.Info("admitted", "member_id", memberID, "offering_id", offeringID, "enrollment_id", view.EnrollmentID)
	return view, nil
}

// admit runs the guard for one offering in its own transaction.
func (s *EnrollmentService) admit(ctx context.Context, memberID, offeringID int64) (*model.EnrollmentView, error) {
	var view model.EnrollmentView
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		e, offering, err := s.guard.TryAdmit(ctx, tx, offeringID, memberID)
		if err != nil {
			return err
		}
		view = model.NewEnrollmentView(e, offering.Title)
		return nil
	})
	s.recorder.RecordAdmission(ctx, offeringID, outcomeOf(err))
	if err != nil {
		return nil, err
	}
	return &view, nil
}

func outcomeOf(err error) string {
	if err == nil {
		return OutcomeAdmitted
	}
	if kind, ok := model.KindOf(err); ok {
		return string(kind)
	}
	if repository.IsTransient(err) {
		return OutcomeTransient
	}
	return OutcomeError
}

// failure builds the result entry for a rejected offering. The title lookup
// happens after the offering's transaction has finished.
func (s *EnrollmentService) failure(ctx context.Context, offeringID int64, err error) model.AdmissionFailure {
	f := model.AdmissionFailure{
		OfferingID:    offeringID,
		OfferingTitle: model.UnknownOfferingTitle,
		Message:       err.Error(),
	}
	f.Code, _ = model.KindOf(err)
	if o, rerr := s.offerings.Resolve(ctx, offeringID); rerr == nil {
		f.OfferingTitle = o.Title
	}
	return f
}

// normalizeBatch validates ids and returns them deduplicated in ascending
// order, which is the lock acquisition order.
func (s *EnrollmentService) normalizeBatch(offeringIDs []int64) ([]int64, error) {
	if len(offeringIDs) == 0 {
		return nil, model.InvalidRequest("select at least one offering")
	}
	for _, id := range offeringIDs {
		if id <= 0 {
			return nil, model.InvalidRequest("offering id must be positive (got %d)", id)
		}
	}
	ids := slices.Clone(offeringIDs)
	slices.Sort(ids)
	ids = slices.Compact(ids)
	if len(ids) > s.maxBatch {
		return nil, model.InvalidRequest("at most %d offerings per request (got %d)", s.maxBatch, len(ids))
	}
	return ids, nil
}

// Cancel cancels enrollmentID on behalf of memberID.
//
// The enrollment is checked once without a lock for a fast answer, then
// re-read under the offering lock so that a concurrent cancel of the same row
// is reported as ALREADY_CANCELED rather than written twice.
func (s *EnrollmentService) Cancel(ctx context.Context, memberID, enrollmentID int64) error {
	e, err := s.store.GetEnrollment(ctx, enrollmentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.EnrollmentNotFound(enrollmentID)
		}
		return fmt.Errorf("load enrollment: %w", err)
	}
	if !e.OwnedBy(memberID) {
		s.log.Warn("cancel by non-owner", "enrollment_id", enrollmentID, "member_id", memberID)
		return model.UnauthorizedCancel(enrollmentID, memberID)
	}
	if e.IsCanceled() {
		return model.AlreadyCanceled(enrollmentID)
	}

	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		if _, err := tx.LockOffering(ctx, e.OfferingID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return model.OfferingNotFound(e.OfferingID)
			}
			return err
		}
		current, err := tx.GetEnrollment(ctx, enrollmentID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return model.EnrollmentNotFound(enrollmentID)
			}
			return err
		}
		_, err = s.lifecycle.Cancel(ctx, tx, current)
		return err
	})
	if err != nil {
		if !model.IsBusiness(err) {
			s.log.Error("cancel failed", "enrollment_id", enrollmentID, "error", err)
			return fmt.Errorf("cancel enrollment %d: %w", enrollmentID, err)
		}
		return err
	}

	s.recorder.RecordCancel(ctx, e.OfferingID)
	s.log.Info("enrollment canceled", "enrollment_id", enrollmentID, "member_id", memberID, "offering_id", e.OfferingID)
	return nil
}

// ListActive returns memberID's active enrollments, oldest first. No locks
// are taken; the result is a snapshot.
func (s *EnrollmentService) ListActive(ctx context.Context, memberID int64) ([]model.EnrollmentView, error) {
	if err := s.requireMember(ctx, memberID); err != nil {
		return nil, err
	}
	rows, err := s.store.ListActiveByMember(ctx, memberID)
	if err != nil {
		return nil, fmt.Errorf("list enrollments: %w", err)
	}

	titles := make(map[int64]string, len(rows))
	views := make([]model.EnrollmentView, 0, len(rows))
	for i := range rows {
		e := &rows[i]
		title, ok := titles[e.OfferingID]
		if !ok {
			o, err := s.offerings.Resolve(ctx, e.OfferingID)
			if err != nil {
				if model.IsNotFound(err) {
					s.log.Error("active enrollment references missing offering", "enrollment_id", e.ID, "offering_id", e.OfferingID)
				}
				return nil, err
			}
			title = o.Title
			titles[e.OfferingID] = title
		}
		views = append(views, model.NewEnrollmentView(e, title))
	}
	return views, nil
}

func (s *EnrollmentService) requireMember(ctx context.Context, memberID int64) error {
	ok, err := s.store.MemberExists(ctx, memberID)
	if err != nil {
		return fmt.Errorf("check member: %w", err)
	}
	if !ok {
		return model.MemberNotFound(memberID)
	}
	return nil
}
