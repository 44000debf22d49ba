package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/course-enrollment/internal/database"
	"github.com/Shivanand-hulikatti/course-enrollment/internal/model"
)

type storeFactory func(t *testing.T) Store

func stores(t *testing.T) map[string]storeFactory {
	t.Helper()
	out := map[string]storeFactory{
		"memory": func(t *testing.T) Store {
			return NewMemory(200 * time.Millisecond)
		},
		"sqlite": func(t *testing.T) Store {
			s, err := NewSQLite(filepath.Join(t.TempDir(), "enroll.db"), 200*time.Millisecond)
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
	if url := os.Getenv("ENROLL_TEST_POSTGRES_URL"); url != "" {
		out["postgres"] = func(t *testing.T) Store {
			ctx := context.Background()
			pool, err := pgxpool.New(ctx, url)
			require.NoError(t, err)
			require.NoError(t, database.Migrate(ctx, pool))
			_, err = pool.Exec(ctx, `TRUNCATE enrollments, offerings, members RESTART IDENTITY CASCADE`)
			require.NoError(t, err)
			s := NewPostgres(pool, 200*time.Millisecond)
			t.Cleanup(func() { _ = s.Close() })
			return s
		}
	}
	return out
}

func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, factory := range stores(t) {
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t))
		})
	}
}

func seedMember(t *testing.T, s Store, name string, role model.Role) *model.Member {
	t.Helper()
	m := &model.Member{Name: name, Email: name + "@example.com", Role: role}
	require.NoError(t, s.CreateMember(context.Background(), m))
	require.NotZero(t, m.ID)
	return m
}

func seedOffering(t *testing.T, s Store, owner int64, title string, capacity int, created time.Time) *model.Offering {
	t.Helper()
	o := &model.Offering{
		Title:     title,
		Capacity:  capacity,
		Price:     decimal.RequireFromString("150000"),
		OwnerID:   owner,
		CreatedAt: created,
	}
	require.NoError(t, s.CreateOffering(context.Background(), o))
	require.NotZero(t, o.ID)
	return o
}

func TestStore_Members(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		m := seedMember(t, s, "kim", model.RoleStudent)

		got, err := s.GetMember(ctx, m.ID)
		require.NoError(t, err)
		assert.Equal(t, *m, *got)

		ok, err := s.MemberExists(ctx, m.ID)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.MemberExists(ctx, m.ID+100)
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = s.GetMember(ctx, m.ID+100)
		assert.ErrorIs(t, err, ErrNotFound)

		err = s.CreateMember(ctx, &model.Member{Name: "dup", Email: m.Email, Role: model.RoleStudent})
		assert.ErrorIs(t, err, ErrDuplicate)
	})
}

func TestStore_OfferingRoundTrip(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		owner := seedMember(t, s, "lee", model.RoleInstructor)
		created := time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC)
		o := seedOffering(t, s, owner.ID, "Go Concurrency", 30, created)

		got, err := s.GetOffering(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, "Go Concurrency", got.Title)
		assert.Equal(t, 30, got.Capacity)
		assert.True(t, got.Price.Equal(decimal.RequireFromString("150000")), "price %s", got.Price)
		assert.True(t, got.CreatedAt.Equal(created))

		_, err = s.GetOffering(ctx, o.ID+100)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_TxCommitAndRollback(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		owner := seedMember(t, s, "park", model.RoleInstructor)
		student := seedMember(t, s, "choi", model.RoleStudent)
		o := seedOffering(t, s, owner.ID, "SQL", 2, time.Now().UTC())
		now := time.Now().UTC().Truncate(time.Microsecond)

		// Rolled back insert leaves nothing behind.
		boom := errors.New("boom")
		err := s.WithTx(ctx, func(tx Tx) error {
			_, err := tx.LockOffering(ctx, o.ID)
			require.NoError(t, err)
			require.NoError(t, tx.InsertEnrollment(ctx, model.NewEnrollment(o.ID, student.ID, now)))
			n, err := tx.CountActive(ctx, o.ID)
			require.NoError(t, err)
			assert.Equal(t, 1, n, "own write visible inside the transaction")
			return boom
		})
		require.ErrorIs(t, err, boom)

		err = s.WithTx(ctx, func(tx Tx) error {
			n, err := tx.CountActive(ctx, o.ID)
			require.NoError(t, err)
			assert.Equal(t, 0, n)
			_, err = tx.FindEnrollment(ctx, o.ID, student.ID)
			assert.ErrorIs(t, err, ErrNotFound)
			return nil
		})
		require.NoError(t, err)

		// Committed insert is visible afterwards.
		var id int64
		err = s.WithTx(ctx, func(tx Tx) error {
			if _, err := tx.LockOffering(ctx, o.ID); err != nil {
				return err
			}
			e := model.NewEnrollment(o.ID, student.ID, now)
			if err := tx.InsertEnrollment(ctx, e); err != nil {
				return err
			}
			id = e.ID
			return nil
		})
		require.NoError(t, err)
		require.NotZero(t, id)

		got, err := s.GetEnrollment(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.StatusActive, got.Status)
		assert.Equal(t, student.ID, got.MemberID)
		assert.True(t, got.CreatedAt.Equal(now))
		assert.Nil(t, got.CanceledAt)
	})
}

func TestStore_UpdateAndListActive(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		owner := seedMember(t, s, "jung", model.RoleInstructor)
		student := seedMember(t, s, "han", model.RoleStudent)
		base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
		a := seedOffering(t, s, owner.ID, "A", 5, base)
		b := seedOffering(t, s, owner.ID, "B", 5, base)

		var ids []int64
		for i, o := range []*model.Offering{b, a} {
			e := model.NewEnrollment(o.ID, student.ID, base.Add(time.Duration(i)*time.Minute))
			require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
				if _, err := tx.LockOffering(ctx, o.ID); err != nil {
					return err
				}
				return tx.InsertEnrollment(ctx, e)
			}))
			ids = append(ids, e.ID)
		}

		list, err := s.ListActiveByMember(ctx, student.ID)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, ids[0], list[0].ID, "ordered by creation time")
		assert.Equal(t, ids[1], list[1].ID)

		canceledAt := base.Add(time.Hour)
		require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
			e, err := tx.GetEnrollment(ctx, ids[0])
			if err != nil {
				return err
			}
			if err := e.Cancel(canceledAt); err != nil {
				return err
			}
			return tx.UpdateEnrollment(ctx, e)
		}))

		list, err = s.ListActiveByMember(ctx, student.ID)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, ids[1], list[0].ID)

		got, err := s.GetEnrollment(ctx, ids[0])
		require.NoError(t, err)
		assert.Equal(t, model.StatusCanceled, got.Status)
		require.NotNil(t, got.CanceledAt)
		assert.True(t, got.CanceledAt.Equal(canceledAt))

		err = s.WithTx(ctx, func(tx Tx) error {
			return tx.UpdateEnrollment(ctx, &model.Enrollment{ID: 9999, Status: model.StatusActive})
		})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_LockOfferingNotFound(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		err := s.WithTx(ctx, func(tx Tx) error {
			_, err := tx.LockOffering(ctx, 4242)
			return err
		})
		assert.ErrorIs(t, err, ErrNotFound)
		assert.False(t, IsTransient(err))
	})
}

func TestStore_ListOfferingsSorts(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		owner := seedMember(t, s, "yoon", model.RoleInstructor)
		base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

		// big: 2/10 active, small: 1/2 active, fresh: 0/5 active.
		big := seedOffering(t, s, owner.ID, "big", 10, base)
		small := seedOffering(t, s, owner.ID, "small", 2, base.Add(time.Hour))
		fresh := seedOffering(t, s, owner.ID, "fresh", 5, base.Add(2*time.Hour))

		enroll := func(o *model.Offering, n int) {
			for i := 0; i < n; i++ {
				st := seedMember(t, s, fmt.Sprintf("s-%d-%d", o.ID, i), model.RoleStudent)
				require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
					if _, err := tx.LockOffering(ctx, o.ID); err != nil {
						return err
					}
					return tx.InsertEnrollment(ctx, model.NewEnrollment(o.ID, st.ID, base))
				}))
			}
		}
		enroll(big, 2)
		enroll(small, 1)

		titles := func(sort model.OfferingSort) []string {
			page, err := s.ListOfferings(ctx, model.OfferingQuery{Sort: sort})
			require.NoError(t, err)
			assert.Equal(t, 3, page.TotalItems)
			var out []string
			for _, it := range page.Items {
				out = append(out, it.Title)
			}
			return out
		}
		assert.Equal(t, []string{fresh.Title, small.Title, big.Title}, titles(model.SortRecent))
		assert.Equal(t, []string{big.Title, small.Title, fresh.Title}, titles(model.SortPopular))
		assert.Equal(t, []string{small.Title, big.Title, fresh.Title}, titles(model.SortRate))

		page, err := s.ListOfferings(ctx, model.OfferingQuery{Page: 2, Size: 2})
		require.NoError(t, err)
		require.Len(t, page.Items, 1)
		assert.Equal(t, big.Title, page.Items[0].Title)
		assert.Equal(t, 2, page.Items[0].ActiveCount)
		assert.Equal(t, "yoon", page.Items[0].OwnerName)
	})
}

func TestMemory_LockWaitTimesOutAsTransient(t *testing.T) {
	s := NewMemory(50 * time.Millisecond)
	ctx := context.Background()
	owner := seedMember(t, s, "owner", model.RoleInstructor)
	o := seedOffering(t, s, owner.ID, "hot", 1, time.Now())

	locked := make(chan struct{})
	unlock := make(chan struct{})
	go func() {
		_ = s.WithTx(ctx, func(tx Tx) error {
			if _, err := tx.LockOffering(ctx, o.ID); err != nil {
				return err
			}
			close(locked)
			<-unlock
			return nil
		})
	}()
	<-locked

	err := s.WithTx(ctx, func(tx Tx) error {
		_, err := tx.LockOffering(ctx, o.ID)
		return err
	})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.False(t, model.IsBusiness(err))

	close(unlock)
	require.Eventually(t, func() bool {
		return s.WithTx(ctx, func(tx Tx) error {
			_, err := tx.LockOffering(ctx, o.ID)
			return err
		}) == nil
	}, time.Second, 10*time.Millisecond)
}

func TestSQLite_WriterBusyIsTransient(t *testing.T) {
	path := filepath.Join(t.TempDir(), "busy.db")
	s, err := NewSQLite(path, 50*time.Millisecond)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	owner := seedMember(t, s, "owner", model.RoleInstructor)
	o := seedOffering(t, s, owner.ID, "hot", 1, time.Now())

	locked := make(chan struct{})
	unlock := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- s.WithTx(ctx, func(tx Tx) error {
			if _, err := tx.LockOffering(ctx, o.ID); err != nil {
				return err
			}
			close(locked)
			<-unlock
			return nil
		})
	}()
	<-locked

	err = s.WithTx(ctx, func(tx Tx) error {
		_, err := tx.LockOffering(ctx, o.ID)
		return err
	})
	require.Error(t, err)
	assert.True(t, IsTransient(err), "got %v", err)

	close(unlock)
	require.NoError(t, <-done)
}

func TestClassifyPg(t *testing.T) {
	business := model.CourseFull(1, 1)
	assert.Same(t, business, classifyPg(business))
	assert.ErrorIs(t, classifyPg(fmt.Errorf("x: %w", context.DeadlineExceeded)), ErrTransient)
	assert.Nil(t, classifyPg(nil))

	for _, code := range []string{pgLockNotAvailable, pgDeadlockDetected, pgSerializationFailure, pgQueryCanceled} {
		err := classifyPg(fmt.Errorf("lock offering row: %w", &pgconn.PgError{Code: code}))
		assert.True(t, IsTransient(err), code)
	}
	assert.ErrorIs(t, classifyPg(&pgconn.PgError{Code: pgUniqueViolation}), ErrDuplicate)
	assert.False(t, IsTransient(classifyPg(&pgconn.PgError{Code: "23503"})))

	plain := errors.New("syntax")
	assert.Equal(t, plain, classifyPg(plain))
}
