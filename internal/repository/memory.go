package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Shivanand-hulikatti/course-enrollment/internal/model"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps all rows in maps. Each offering has a one-slot channel used as
// its exclusive lock; a transaction holds the slot until it commits or rolls
// back. Writes are staged in the transaction and applied atomically at commit.
type Memory struct {
	mu          sync.RWMutex
	members     map[int64]model.Member
	emails      map[string]int64
	offerings   map[int64]model.Offering
	enrollments map[int64]*model.Enrollment
	byPair      map[pairKey]int64
	locks       map[int64]chan struct{}

	nextMember     int64
	nextOffering   int64
	nextEnrollment int64

	lockTimeout time.Duration
}

type pairKey struct {
	OfferingID int64
	MemberID   int64
}

// NewMemory returns an empty store. lockTimeout bounds offering lock waits.
func NewMemory(lockTimeout time.Duration) *Memory {
	return &Memory{
		members:     make(map[int64]model.Member),
		emails:      make(map[string]int64),
		offerings:   make(map[int64]model.Offering),
		enrollments: make(map[int64]*model.Enrollment),
		byPair:      make(map[pairKey]int64),
		locks:       make(map[int64]chan struct{}),
		lockTimeout: lockTimeout,
	}
}

func (m *Memory) Close() error { return nil }

// lockFor returns the offering's lock slot, creating it on first use.
func (m *Memory) lockFor(offeringID int64) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	sem, ok := m.locks[offeringID]
	if !ok {
		sem = make(chan struct{}, 1)
		m.locks[offeringID] = sem
	}
	return sem
}

// WithTx executes fn within a transaction.
func (m *Memory) WithTx(ctx context.Context, fn func(Tx) error) error {
	tx := &memTx{
		store:  m,
		held:   make(map[int64]chan struct{}),
		staged: make(map[int64]*model.Enrollment),
	}
	defer tx.release()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit()
}

func (m *Memory) GetEnrollment(_ context.Context, enrollmentID int64) (*model.Enrollment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.enrollments[enrollmentID]
	if !ok {
		return nil, ErrNotFound
	}
	return e.Clone(), nil
}

func (m *Memory) ListActiveByMember(_ context.Context, memberID int64) ([]model.Enrollment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []model.Enrollment{}
	for _, e := range m.enrollments {
		if e.MemberID == memberID && e.IsActive() {
			out = append(out, *e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) CreateMember(_ context.Context, mem *model.Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.emails[mem.Email]; taken {
		return fmt.Errorf("insert member: %w", ErrDuplicate)
	}
	m.nextMember++
	mem.ID = m.nextMember
	m.members[mem.ID] = *mem
	m.emails[mem.Email] = mem.ID
	return nil
}

func (m *Memory) GetMember(_ context.Context, memberID int64) (*model.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mem, ok := m.members[memberID]
	if !ok {
		return nil, ErrNotFound
	}
	return &mem, nil
}

func (m *Memory) MemberExists(_ context.Context, memberID int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.members[memberID]
	return ok, nil
}

func (m *Memory) CreateOffering(_ context.Context, o *model.Offering) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.members[o.OwnerID]; !ok {
		return fmt.Errorf("insert offering: owner %d: %w", o.OwnerID, ErrNotFound)
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	m.nextOffering++
	o.ID = m.nextOffering
	m.offerings[o.ID] = *o
	return nil
}

func (m *Memory) GetOffering(_ context.Context, offeringID int64) (*model.Offering, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.offerings[offeringID]
	if !ok {
		return nil, ErrNotFound
	}
	return &o, nil
}

func (m *Memory) ListOfferings(_ context.Context, q model.OfferingQuery) (*model.OfferingPage, error) {
	q = q.Normalize()

	m.mu.RLock()
	active := make(map[int64]int)
	for _, e := range m.enrollments {
		if e.IsActive() {
			active[e.OfferingID]++
		}
	}
	all := make([]model.OfferingSummary, 0, len(m.offerings))
	for _, o := range m.offerings {
		all = append(all, model.OfferingSummary{
			Offering:    o,
			OwnerName:   m.members[o.OwnerID].Name,
			ActiveCount: active[o.ID],
		})
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		a, b := all[i], all[j]
		switch q.Sort {
		case model.SortPopular:
			if a.ActiveCount != b.ActiveCount {
				return a.ActiveCount > b.ActiveCount
			}
		case model.SortRate:
			if ra, rb := a.FillRate(), b.FillRate(); ra != rb {
				return ra > rb
			}
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})

	page := &model.OfferingPage{Items: []model.OfferingSummary{}, Page: q.Page, Size: q.Size, TotalItems: len(all)}
	if start := q.Offset(); start < len(all) {
		end := start + q.Size
		if end > len(all) {
			end = len(all)
		}
		page.Items = append(page.Items, all[start:end]...)
	}
	return page, nil
}

// =============================================================================
// TRANSACTION VIEW
// =============================================================================

type memTx struct {
	store  *Memory
	held   map[int64]chan struct{}
	staged map[int64]*model.Enrollment // by enrollment id; inserts and updates
	done   bool
}

func (t *memTx) LockOffering(ctx context.Context, offeringID int64) (*model.Offering, error) {
	if t.done {
		return nil, fmt.Errorf("lock offering: transaction already finished")
	}
	o, err := t.store.GetOffering(ctx, offeringID)
	if err != nil {
		return nil, fmt.Errorf("lock offering row: %w", err)
	}
	if _, ok := t.held[offeringID]; ok {
		return o, nil
	}

	sem := t.store.lockFor(offeringID)
	timer := time.NewTimer(t.store.lockTimeout)
	defer timer.Stop()

	select {
	case sem <- struct{}{}:
		t.held[offeringID] = sem
		return o, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: lock wait on offering %d exceeded %s", ErrTransient, offeringID, t.store.lockTimeout)
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: lock wait on offering %d: %w", ErrTransient, offeringID, ctx.Err())
	}
}

func (t *memTx) FindEnrollment(_ context.Context, offeringID, memberID int64) (*model.Enrollment, error) {
	for _, e := range t.staged {
		if e.OfferingID == offeringID && e.MemberID == memberID {
			return e.Clone(), nil
		}
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	id, ok := t.store.byPair[pairKey{offeringID, memberID}]
	if !ok {
		return nil, ErrNotFound
	}
	return t.store.enrollments[id].Clone(), nil
}

func (t *memTx) GetEnrollment(ctx context.Context, enrollmentID int64) (*model.Enrollment, error) {
	if e, ok := t.staged[enrollmentID]; ok {
		return e.Clone(), nil
	}
	return t.store.GetEnrollment(ctx, enrollmentID)
}

func (t *memTx) CountActive(_ context.Context, offeringID int64) (int, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	n := 0
	for id, e := range t.store.enrollments {
		if e.OfferingID != offeringID {
			continue
		}
		if s, ok := t.staged[id]; ok {
			e = s
		}
		if e.IsActive() {
			n++
		}
	}
	for id, e := range t.staged {
		if _, committed := t.store.enrollments[id]; !committed && e.OfferingID == offeringID && e.IsActive() {
			n++
		}
	}
	return n, nil
}

func (t *memTx) InsertEnrollment(ctx context.Context, e *model.Enrollment) error {
	if _, err := t.FindEnrollment(ctx, e.OfferingID, e.MemberID); err == nil {
		return fmt.Errorf("insert enrollment: %w", ErrDuplicate)
	}
	t.store.mu.Lock()
	t.store.nextEnrollment++
	e.ID = t.store.nextEnrollment
	t.store.mu.Unlock()

	t.staged[e.ID] = e.Clone()
	return nil
}

func (t *memTx) UpdateEnrollment(ctx context.Context, e *model.Enrollment) error {
	if _, err := t.GetEnrollment(ctx, e.ID); err != nil {
		return fmt.Errorf("update enrollment: %w", err)
	}
	t.staged[e.ID] = e.Clone()
	return nil
}

func (t *memTx) commit() error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	for id, e := range t.staged {
		if other, ok := t.store.byPair[pairKey{e.OfferingID, e.MemberID}]; ok && other != id {
			return fmt.Errorf("commit enrollment: %w", ErrDuplicate)
		}
	}
	for id, e := range t.staged {
		t.store.enrollments[id] = e
		t.store.byPair[pairKey{e.OfferingID, e.MemberID}] = id
	}
	return nil
}

func (t *memTx) release() {
	t.done = true
	for id, sem := range t.held {
		<-sem
		delete(t.held, id)
	}
}
