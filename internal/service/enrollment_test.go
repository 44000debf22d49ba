package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/Shivanand-hulikatti/course-enrollment/internal/model"
	"github.com/Shivanand-hulikatti/course-enrollment/internal/repository"
)

func TestEnroll_ConcurrentAdmissionsForLastSeat(t *testing.T) {
	storeKinds(t, func(t *testing.T, store repository.Store) {
		f := newFixture(t, store)
		o := f.offering(t, "Single Seat", 1)
		students := f.students(t, 2)

		errs := make([]error, len(students))
		var g errgroup.Group
		for i, st := range students {
			i, st := i, st
			g.Go(func() error {
				_, errs[i] = f.enrollment.Enroll(context.Background(), st.ID, o.ID)
				return nil
			})
		}
		require.NoError(t, g.Wait())

		var admitted, full int
		for _, err := range errs {
			switch {
			case err == nil:
				admitted++
			case assert.ErrorIs(t, err, model.ErrCourseFull):
				full++
			}
		}
		assert.Equal(t, 1, admitted)
		assert.Equal(t, 1, full)
		assert.Equal(t, 1, f.activeCount(t, o.ID))
	})
}

func TestEnroll_CapacityNeverExceeded(t *testing.T) {
	storeKinds(t, func(t *testing.T, store repository.Store) {
		f := newFixture(t, store)
		const capacity = 5
		o := f.offering(t, "Popular", capacity)
		students := f.students(t, 30)

		var mu sync.Mutex
		admitted := 0
		var g errgroup.Group
		for _, st := range students {
			st := st
			g.Go(func() error {
				_, err := f.enrollment.Enroll(context.Background(), st.ID, o.ID)
				if err == nil {
					mu.Lock()
					admitted++
					mu.Unlock()
					return nil
				}
				if kind, _ := model.KindOf(err); kind != model.KindCourseFull {
					return err
				}
				return nil
			})
		}
		require.NoError(t, g.Wait())

		assert.Equal(t, capacity, admitted)
		assert.Equal(t, capacity, f.activeCount(t, o.ID))
		assert.Equal(t, capacity, f.recorder.count(OutcomeAdmitted))
		assert.Equal(t, len(students)-capacity, f.recorder.count(string(model.KindCourseFull)))
	})
}

func TestEnroll_CancelThenReadmitReusesRow(t *testing.T) {
	storeKinds(t, func(t *testing.T, store repository.Store) {
		f := newFixture(t, store)
		ctx := context.Background()
		o := f.offering(t, "Databases", 3)
		st := f.students(t, 1)[0]

		first, err := f.enrollment.Enroll(ctx, st.ID, o.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusActive, first.Status)
		assert.Equal(t, "Databases", first.OfferingTitle)

		require.NoError(t, f.enrollment.Cancel(ctx, st.ID, first.EnrollmentID))
		row, err := store.GetEnrollment(ctx, first.EnrollmentID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusCanceled, row.Status)
		assert.NotNil(t, row.CanceledAt)
		assert.Equal(t, 0, f.activeCount(t, o.ID))

		again, err := f.enrollment.Enroll(ctx, st.ID, o.ID)
		require.NoError(t, err)
		assert.Equal(t, first.EnrollmentID, again.EnrollmentID)
		assert.Equal(t, model.StatusActive, again.Status)

		row, err = store.GetEnrollment(ctx, first.EnrollmentID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusActive, row.Status)
		assert.Nil(t, row.CanceledAt)
		assert.Equal(t, 1, f.activeCount(t, o.ID))
	})
}

func TestEnroll_AlreadyActive(t *testing.T) {
	storeKinds(t, func(t *testing.T, store repository.Store) {
		f := newFixture(t, store)
		ctx := context.Background()
		o := f.offering(t, "Networks", 10)
		st := f.students(t, 1)[0]

		_, err := f.enrollment.Enroll(ctx, st.ID, o.ID)
		require.NoError(t, err)

		_, err = f.enrollment.Enroll(ctx, st.ID, o.ID)
		require.ErrorIs(t, err, model.ErrAlreadyActive)
		assert.Equal(t, 1, f.activeCount(t, o.ID))
	})
}

func TestEnroll_ReactivationRespectsCapacity(t *testing.T) {
	f := newFixture(t, repository.NewMemory(time.Second))
	ctx := context.Background()
	o := f.offering(t, "Tight", 1)
	students := f.students(t, 2)

	v, err := f.enrollment.Enroll(ctx, students[0].ID, o.ID)
	require.NoError(t, err)
	require.NoError(t, f.enrollment.Cancel(ctx, students[0].ID, v.EnrollmentID))

	_, err = f.enrollment.Enroll(ctx, students[1].ID, o.ID)
	require.NoError(t, err)

	_, err = f.enrollment.Enroll(ctx, students[0].ID, o.ID)
	require.ErrorIs(t, err, model.ErrCourseFull)

	row, err := f.store.GetEnrollment(ctx, v.EnrollmentID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCanceled, row.Status, "rejected reactivation writes nothing")
}

func TestEnroll_SingleItemFailures(t *testing.T) {
	f := newFixture(t, repository.NewMemory(time.Second))
	ctx := context.Background()
	st := f.students(t, 1)[0]

	_, err := f.enrollment.Enroll(ctx, st.ID, 404)
	assert.ErrorIs(t, err, model.ErrOfferingNotFound)

	_, err = f.enrollment.Enroll(ctx, 9999, 1)
	assert.ErrorIs(t, err, model.ErrMemberNotFound)

	_, err = f.enrollment.Enroll(ctx, st.ID, 0)
	assert.ErrorIs(t, err, model.ErrInvalidRequest)
}

func TestEnrollBatch_AllUnderCapacity(t *testing.T) {
	storeKinds(t, func(t *testing.T, store repository.Store) {
		f := newFixture(t, store, WithBatchID(func() string { return "batch-1" }))
		var offs []*model.Offering
		for _, title := range []string{"o1", "o2", "o3", "o4", "o5", "o6", "o7", "o8", "o9"} {
			offs = append(offs, f.offering(t, title, 10))
		}
		st := f.students(t, 1)[0]

		res, err := f.enrollment.EnrollBatch(context.Background(), st.ID, []int64{offs[4].ID, offs[1].ID, offs[8].ID})
		require.NoError(t, err)

		assert.Equal(t, "batch-1", res.BatchID)
		assert.Equal(t, st.ID, res.MemberID)
		assert.Equal(t, 3, res.TotalRequested)
		assert.Equal(t, 3, res.SuccessCount)
		assert.Equal(t, 0, res.FailureCount)
		require.Len(t, res.Items, 3)
		assert.Equal(t, []int64{offs[1].ID, offs[4].ID, offs[8].ID},
			[]int64{res.Items[0].OfferingID, res.Items[1].OfferingID, res.Items[2].OfferingID},
			"processed in ascending id order")
		assert.Equal(t, "o2", res.Successes()[0].OfferingTitle)
		assert.Equal(t, 1, f.recorder.batches)
		assert.Equal(t, 3, f.recorder.batchSize)
	})
}

func TestEnrollBatch_PartialSuccess(t *testing.T) {
	storeKinds(t, func(t *testing.T, store repository.Store) {
		f := newFixture(t, store)
		ctx := context.Background()
		first := f.offering(t, "Open A", 5)
		full := f.offering(t, "Full", 1)
		third := f.offering(t, "Open B", 5)
		students := f.students(t, 2)

		_, err := f.enrollment.Enroll(ctx, students[1].ID, full.ID)
		require.NoError(t, err)

		res, err := f.enrollment.EnrollBatch(ctx, students[0].ID, []int64{third.ID, full.ID, first.ID})
		require.NoError(t, err)

		assert.Equal(t, 3, res.TotalRequested)
		assert.Equal(t, 2, res.SuccessCount)
		assert.Equal(t, 1, res.FailureCount)
		require.Len(t, res.Failures(), 1)
		failure := res.Failures()[0]
		assert.Equal(t, full.ID, failure.OfferingID)
		assert.Equal(t, "Full", failure.OfferingTitle)
		assert.Equal(t, model.KindCourseFull, failure.Code)
		assert.NotEmpty(t, failure.Message)
		assert.True(t, res.HasFailure(model.KindCourseFull))

		assert.Equal(t, 1, f.activeCount(t, first.ID))
		assert.Equal(t, 1, f.activeCount(t, full.ID))
		assert.Equal(t, 1, f.activeCount(t, third.ID))
	})
}

func TestEnrollBatch_UnknownAndDuplicateItems(t *testing.T) {
	f := newFixture(t, repository.NewMemory(time.Second))
	ctx := context.Background()
	o := f.offering(t, "Real", 5)
	st := f.students(t, 1)[0]

	_, err := f.enrollment.Enroll(ctx, st.ID, o.ID)
	require.NoError(t, err)

	res, err := f.enrollment.EnrollBatch(ctx, st.ID, []int64{777, o.ID, o.ID, 777})
	require.NoError(t, err)
	require.Len(t, res.Items, 2, "duplicates collapse")
	assert.Equal(t, 0, res.SuccessCount)

	fails := res.Failures()
	assert.Equal(t, o.ID, fails[0].OfferingID)
	assert.Equal(t, model.KindAlreadyActive, fails[0].Code)
	assert.Equal(t, "Real", fails[0].OfferingTitle)
	assert.Equal(t, int64(777), fails[1].OfferingID)
	assert.Equal(t, model.KindOfferingNotFound, fails[1].Code)
	assert.Equal(t, model.UnknownOfferingTitle, fails[1].OfferingTitle)
}

func TestEnrollBatch_WholeCallFailures(t *testing.T) {
	f := newFixture(t, repository.NewMemory(time.Second), WithMaxBatch(3))
	ctx := context.Background()
	st := f.students(t, 1)[0]

	res, err := f.enrollment.EnrollBatch(ctx, 9999, []int64{1})
	assert.Nil(t, res)
	assert.ErrorIs(t, err, model.ErrMemberNotFound)

	_, err = f.enrollment.EnrollBatch(ctx, st.ID, nil)
	assert.ErrorIs(t, err, model.ErrInvalidRequest)

	_, err = f.enrollment.EnrollBatch(ctx, st.ID, []int64{1, -2})
	assert.ErrorIs(t, err, model.ErrInvalidRequest)

	_, err = f.enrollment.EnrollBatch(ctx, st.ID, []int64{1, 2, 3, 4})
	assert.ErrorIs(t, err, model.ErrInvalidRequest)

	// Four ids, three distinct.
	_, err = f.enrollment.EnrollBatch(ctx, st.ID, []int64{1, 2, 3, 3})
	assert.NoError(t, err)
}

func TestEnrollBatch_OpposingOrdersComplete(t *testing.T) {
	storeKinds(t, func(t *testing.T, store repository.Store) {
		f := newFixture(t, store)
		a := f.offering(t, "A", 100)
		b := f.offering(t, "B", 100)
		c := f.offering(t, "C", 100)
		students := f.students(t, 20)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()

		g, gctx := errgroup.WithContext(ctx)
		for i, st := range students {
			st := st
			ids := []int64{a.ID, b.ID, c.ID}
			if i%2 == 1 {
				ids = []int64{c.ID, b.ID, a.ID}
			}
			g.Go(func() error {
				res, err := f.enrollment.EnrollBatch(gctx, st.ID, ids)
				if err != nil {
					return err
				}
				if res.SuccessCount != 3 {
					return assert.AnError
				}
				return nil
			})
		}
		require.NoError(t, g.Wait())
		for _, o := range []*model.Offering{a, b, c} {
			assert.Equal(t, len(students), f.activeCount(t, o.ID))
		}
	})
}

func TestEnrollBatch_TransientFailureStopsWithPartialResult(t *testing.T) {
	store := repository.NewMemory(50 * time.Millisecond)
	f := newFixture(t, store)
	ctx := context.Background()
	first := f.offering(t, "First", 5)
	locked := f.offering(t, "Locked", 5)
	last := f.offering(t, "Last", 5)
	st := f.students(t, 1)[0]

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = store.WithTx(ctx, func(tx repository.Tx) error {
			if _, err := tx.LockOffering(ctx, locked.ID); err != nil {
				return err
			}
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	res, err := f.enrollment.EnrollBatch(ctx, st.ID, []int64{last.ID, locked.ID, first.ID})
	close(release)
	<-done

	require.Error(t, err)
	assert.True(t, repository.IsTransient(err))
	assert.False(t, model.IsBusiness(err), "lock timeout is not a full course")
	require.NotNil(t, res)
	assert.Equal(t, 1, res.SuccessCount)
	assert.Equal(t, 0, res.FailureCount)
	assert.Equal(t, first.ID, res.Items[0].OfferingID)
	assert.Equal(t, 0, f.activeCount(t, last.ID), "items after the failure are not attempted")
	assert.Equal(t, 1, f.recorder.count(OutcomeTransient))
}

func TestCancel(t *testing.T) {
	storeKinds(t, func(t *testing.T, store repository.Store) {
		f := newFixture(t, store)
		ctx := context.Background()
		o := f.offering(t, "Cancelable", 2)
		students := f.students(t, 2)
		owner, other := students[0], students[1]

		v, err := f.enrollment.Enroll(ctx, owner.ID, o.ID)
		require.NoError(t, err)

		err = f.enrollment.Cancel(ctx, other.ID, v.EnrollmentID)
		require.ErrorIs(t, err, model.ErrUnauthorizedCancel)
		row, err := store.GetEnrollment(ctx, v.EnrollmentID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusActive, row.Status)

		require.NoError(t, f.enrollment.Cancel(ctx, owner.ID, v.EnrollmentID))
		assert.ErrorIs(t, f.enrollment.Cancel(ctx, owner.ID, v.EnrollmentID), model.ErrAlreadyCanceled)
		assert.ErrorIs(t, f.enrollment.Cancel(ctx, owner.ID, 12345), model.ErrEnrollmentNotFound)
		assert.Equal(t, 1, f.recorder.cancels)
	})
}

func TestCancel_ConcurrentCancelsWriteOnce(t *testing.T) {
	f := newFixture(t, repository.NewMemory(5*time.Second))
	ctx := context.Background()
	o := f.offering(t, "Race", 2)
	st := f.students(t, 1)[0]
	v, err := f.enrollment.Enroll(ctx, st.ID, o.ID)
	require.NoError(t, err)

	const n = 8
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = f.enrollment.Cancel(ctx, st.ID, v.EnrollmentID)
		}()
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, model.ErrAlreadyCanceled)
	}
	assert.Equal(t, 1, ok)
}

func TestListActive(t *testing.T) {
	storeKinds(t, func(t *testing.T, store repository.Store) {
		base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
		tick := base
		clock := func() time.Time {
			tick = tick.Add(time.Second)
			return tick
		}
		f := newFixture(t, store, WithClock(clock))
		ctx := context.Background()
		a := f.offering(t, "Algebra", 5)
		b := f.offering(t, "Biology", 5)
		c := f.offering(t, "Chemistry", 5)
		st := f.students(t, 1)[0]

		for _, o := range []*model.Offering{c, a, b} {
			_, err := f.enrollment.Enroll(ctx, st.ID, o.ID)
			require.NoError(t, err)
		}
		views, err := f.enrollment.ListActive(ctx, st.ID)
		require.NoError(t, err)
		require.Len(t, views, 3)

		toCancel := views[1].EnrollmentID
		require.NoError(t, f.enrollment.Cancel(ctx, st.ID, toCancel))

		views, err = f.enrollment.ListActive(ctx, st.ID)
		require.NoError(t, err)
		require.Len(t, views, 2)
		assert.Equal(t, "Chemistry", views[0].OfferingTitle)
		assert.Equal(t, "Biology", views[1].OfferingTitle)
		assert.True(t, views[0].CreatedAt.Before(views[1].CreatedAt))
		assert.True(t, views[0].CreatedAt.Equal(base.Add(time.Second)))

		_, err = f.enrollment.ListActive(ctx, 9999)
		assert.ErrorIs(t, err, model.ErrMemberNotFound)

		empty := f.member(t, "idle", model.RoleStudent)
		views, err = f.enrollment.ListActive(ctx, empty.ID)
		require.NoError(t, err)
		assert.Empty(t, views)
	})
}
