package service

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/course-enrollment/internal/logger"
	"github.com/Shivanand-hulikatti/course-enrollment/internal/model"
	"github.com/Shivanand-hulikatti/course-enrollment/internal/repository"
)

type fixture struct {
	store      repository.Store
	catalog    *CatalogService
	enrollment *EnrollmentService
	recorder   *countingRecorder
	instructor *model.Member
	seq        int
}

func newFixture(t *testing.T, store repository.Store, opts ...Option) *fixture {
	t.Helper()
	log := logger.Nop()
	rec := newCountingRecorder()
	catalog := NewCatalogService(store, log)
	f := &fixture{
		store:      store,
		catalog:    catalog,
		enrollment: NewEnrollmentService(store, catalog, log, append([]Option{WithRecorder(rec)}, opts...)...),
		recorder:   rec,
	}
	f.instructor = f.member(t, "instructor", model.RoleInstructor)
	return f
}

// storeKinds runs fn once per embedded store implementation.
func storeKinds(t *testing.T, fn func(t *testing.T, store repository.Store)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, repository.NewMemory(5*time.Second))
	})
	t.Run("sqlite", func(t *testing.T) {
		s, err := repository.NewSQLite(filepath.Join(t.TempDir(), "enroll.db"), 5*time.Second)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		fn(t, s)
	})
}

func (f *fixture) member(t *testing.T, name string, role model.Role) *model.Member {
	t.Helper()
	m := &model.Member{Name: name, Email: name + "@example.com", Role: role}
	require.NoError(t, f.store.CreateMember(context.Background(), m))
	return m
}

func (f *fixture) students(t *testing.T, n int) []*model.Member {
	t.Helper()
	out := make([]*model.Member, n)
	for i := range out {
		f.seq++
		out[i] = f.member(t, fmt.Sprintf("student-%d", f.seq), model.RoleStudent)
	}
	return out
}

func (f *fixture) offering(t *testing.T, title string, capacity int) *model.Offering {
	t.Helper()
	o, err := f.catalog.CreateOffering(context.Background(), f.instructor.ID, model.CreateOfferingRequest{
		Title:    title,
		Capacity: capacity,
		Price:    decimal.NewFromInt(100000),
	})
	require.NoError(t, err)
	return o
}

func (f *fixture) activeCount(t *testing.T, offeringID int64) int {
	t.Helper()
	var n int
	require.NoError(t, f.store.WithTx(context.Background(), func(tx repository.Tx) error {
		var err error
		n, err = tx.CountActive(context.Background(), offeringID)
		return err
	}))
	return n
}

type countingRecorder struct {
	mu        sync.Mutex
	outcomes  map[string]int
	cancels   int
	batches   int
	batchSize int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{outcomes: make(map[string]int)}
}

func (r *countingRecorder) RecordAdmission(_ context.Context, _ int64, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[outcome]++
}

func (r *countingRecorder) RecordCancel(context.Context, int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancels++
}

func (r *countingRecorder) RecordBatch(_ context.Context, size int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches++
	r.batchSize += size
}

func (r *countingRecorder) count(outcome string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcomes[outcome]
}
