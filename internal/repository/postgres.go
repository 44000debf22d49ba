package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/Shivanand-hulikatti/course-enrollment/internal/model"
)

// PostgreSQL error codes that indicate a retryable failure.
const (
	pgLockNotAvailable     = "55P03"
	pgDeadlockDetected     = "40P01"
	pgSerializationFailure = "40001"
	pgQueryCanceled        = "57014"
	pgUniqueViolation      = "23505"
)

// Postgres is the production store.
//
// ─────────────────────────────────────────────────────────────────────────────
// WHY THE OFFERING ROW IS LOCKED
// ─────────────────────────────────────────────────────────────────────────────
//
// Counting ACTIVE enrollments and then inserting is a read-then-write:
//
//	tx A: SELECT COUNT(*) … → 29 (capacity 30)
//	tx B: SELECT COUNT(*) … → 29
//	tx A: INSERT → 30 active
//	tx B: INSERT → 31 active. Over capacity.
//
// Every admission and cancellation therefore starts with
// SELECT … FROM offerings WHERE id = $1 FOR UPDATE. The second transaction
// blocks on that row until the first commits or rolls back, and only then
// takes its count. lock_timeout bounds the wait; exceeding it surfaces as
// ErrTransient, never as a full course.
// ─────────────────────────────────────────────────────────────────────────────
type Postgres struct {
	db          *pgxpool.Pool
	lockTimeout time.Duration
}

// NewPostgres constructs a Postgres store on an existing pool.
func NewPostgres(db *pgxpool.Pool, lockTimeout time.Duration) *Postgres {
	return &Postgres{db: db, lockTimeout: lockTimeout}
}

// Close releases the pool.
func (r *Postgres) Close() error {
	r.db.Close()
	return nil
}

type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// WithTx runs fn in a READ COMMITTED transaction with lock_timeout applied.
func (r *Postgres) WithTx(ctx context.Context, fn func(Tx) error) (err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return classifyPg(fmt.Errorf("begin transaction: %w", err))
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	// set_config(..., true) is SET LOCAL: scoped to this transaction.
	if _, err = tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`,
		fmt.Sprintf("%dms", r.lockTimeout.Milliseconds())); err != nil {
		return classifyPg(fmt.Errorf("set lock_timeout: %w", err))
	}

	if err = fn(&pgTx{q: tx}); err != nil {
		return classifyPg(err)
	}

	if err = tx.Commit(ctx); err != nil {
		return classifyPg(fmt.Errorf("commit transaction: %w", err))
	}
	return nil
}

// classifyPg tags retryable database failures with ErrTransient. Business
// errors and ErrNotFound pass through untouched.
func classifyPg(err error) error {
	if err == nil || model.IsBusiness(err) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrTransient) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgLockNotAvailable, pgDeadlockDetected, pgSerializationFailure, pgQueryCanceled:
			return fmt.Errorf("%w: %w", ErrTransient, err)
		case pgUniqueViolation:
			return fmt.Errorf("%w: %w", ErrDuplicate, err)
		}
		return err
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
	return err
}

type pgTx struct {
	q pgQuerier
}

func (t *pgTx) LockOffering(ctx context.Context, offeringID int64) (*model.Offering, error) {
	o, err := scanOffering(t.q.QueryRow(ctx,
		`SELECT id, title, capacity, price::text, owner_id, created_at
		 FROM offerings
		 WHERE id = $1
		 FOR UPDATE`,
		offeringID,
	))
	if err != nil {
		return nil, fmt.Errorf("lock offering row: %w", err)
	}
	return o, nil
}

func (t *pgTx) FindEnrollment(ctx context.Context, offeringID, memberID int64) (*model.Enrollment, error) {
	e, err := scanEnrollment(t.q.QueryRow(ctx,
		`SELECT id, offering_id, member_id, status, created_at, updated_at, canceled_at
		 FROM enrollments
		 WHERE offering_id = $1 AND member_id = $2`,
		offeringID, memberID,
	))
	if err != nil {
		return nil, fmt.Errorf("find enrollment: %w", err)
	}
	return e, nil
}

func (t *pgTx) GetEnrollment(ctx context.Context, enrollmentID int64) (*model.Enrollment, error) {
	return getEnrollmentPg(ctx, t.q, enrollmentID)
}

func (t *pgTx) CountActive(ctx context.Context, offeringID int64) (int, error) {
	var n int
	err := t.q.QueryRow(ctx,
		`SELECT COUNT(*) FROM enrollments WHERE offering_id = $1 AND status = $2`,
		offeringID, string(model.StatusActive),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active enrollments: %w", err)
	}
	return n, nil
}

func (t *pgTx) InsertEnrollment(ctx context.Context, e *model.Enrollment) error {
	err := t.q.QueryRow(ctx,
		`INSERT INTO enrollments (offering_id, member_id, status, created_at, updated_at, canceled_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		e.OfferingID, e.MemberID, string(e.Status), e.CreatedAt.UTC(), e.UpdatedAt.UTC(), utcPtr(e.CanceledAt),
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("insert enrollment: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateEnrollment(ctx context.Context, e *model.Enrollment) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE enrollments
		 SET status = $2, updated_at = $3, canceled_at = $4
		 WHERE id = $1`,
		e.ID, string(e.Status), e.UpdatedAt.UTC(), utcPtr(e.CanceledAt),
	)
	if err != nil {
		return fmt.Errorf("update enrollment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Postgres) GetEnrollment(ctx context.Context, enrollmentID int64) (*model.Enrollment, error) {
	e, err := getEnrollmentPg(ctx, r.db, enrollmentID)
	return e, classifyPg(err)
}

func getEnrollmentPg(ctx context.Context, q pgQuerier, enrollmentID int64) (*model.Enrollment, error) {
	e, err := scanEnrollment(q.QueryRow(ctx,
		`SELECT id, offering_id, member_id, status, created_at, updated_at, canceled_at
		 FROM enrollments WHERE id = $1`,
		enrollmentID,
	))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get enrollment: %w", err)
	}
	return e, nil
}

func (r *Postgres) ListActiveByMember(ctx context.Context, memberID int64) ([]model.Enrollment, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, offering_id, member_id, status, created_at, updated_at, canceled_at
		 FROM enrollments
		 WHERE member_id = $1 AND status = $2
		 ORDER BY created_at ASC, id ASC`,
		memberID, string(model.StatusActive),
	)
	if err != nil {
		return nil, classifyPg(fmt.Errorf("list enrollments: %w", err))
	}
	defer rows.Close()

	out := []model.Enrollment{}
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan enrollment: %w", err)
		}
		out = append(out, *e)
	}
	return out, classifyPg(rows.Err())
}

// ─── Members ──────────────────────────────────────────────────────────────────

func (r *Postgres) CreateMember(ctx context.Context, m *model.Member) error {
	err := r.db.QueryRow(ctx,
		`INSERT INTO members (name, email, role) VALUES ($1, $2, $3) RETURNING id`,
		m.Name, m.Email, string(m.Role),
	).Scan(&m.ID)
	if err != nil {
		return classifyPg(fmt.Errorf("insert member: %w", err))
	}
	return nil
}

func (r *Postgres) GetMember(ctx context.Context, memberID int64) (*model.Member, error) {
	var m model.Member
	var role string
	err := r.db.QueryRow(ctx,
		`SELECT id, name, email, role FROM members WHERE id = $1`,
		memberID,
	).Scan(&m.ID, &m.Name, &m.Email, &role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, classifyPg(fmt.Errorf("get member: %w", err))
	}
	m.Role = model.Role(role)
	return &m, nil
}

func (r *Postgres) MemberExists(ctx context.Context, memberID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM members WHERE id = $1)`,
		memberID,
	).Scan(&exists)
	if err != nil {
		return false, classifyPg(fmt.Errorf("check member: %w", err))
	}
	return exists, nil
}

// ─── Offerings ────────────────────────────────────────────────────────────────

func (r *Postgres) CreateOffering(ctx context.Context, o *model.Offering) error {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	err := r.db.QueryRow(ctx,
		`INSERT INTO offerings (title, capacity, price, owner_id, created_at)
		 VALUES ($1, $2, $3::numeric, $4, $5)
		 RETURNING id`,
		o.Title, o.Capacity, o.Price.String(), o.OwnerID, o.CreatedAt.UTC(),
	).Scan(&o.ID)
	if err != nil {
		return classifyPg(fmt.Errorf("insert offering: %w", err))
	}
	return nil
}

func (r *Postgres) GetOffering(ctx context.Context, offeringID int64) (*model.Offering, error) {
	o, err := scanOffering(r.db.QueryRow(ctx,
		`SELECT id, title, capacity, price::text, owner_id, created_at
		 FROM offerings WHERE id = $1`,
		offeringID,
	))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, classifyPg(fmt.Errorf("get offering: %w", err))
	}
	return o, nil
}

func (r *Postgres) ListOfferings(ctx context.Context, q model.OfferingQuery) (*model.OfferingPage, error) {
	q = q.Normalize()

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM offerings`).Scan(&total); err != nil {
		return nil, classifyPg(fmt.Errorf("count offerings: %w", err))
	}

	rows, err := r.db.Query(ctx,
		`SELECT o.id, o.title, o.capacity, o.price::text, o.owner_id, o.created_at,
		        COALESCE(m.name, ''), COUNT(e.id) AS active_count
		 FROM offerings o
		 LEFT JOIN members m ON m.id = o.owner_id
		 LEFT JOIN enrollments e ON e.offering_id = o.id AND e.status = 'ACTIVE'
		 GROUP BY o.id, m.name
		 ORDER BY `+pgOrderBy(q.Sort)+`
		 LIMIT $1 OFFSET $2`,
		q.Size, q.Offset(),
	)
	if err != nil {
		return nil, classifyPg(fmt.Errorf("list offerings: %w", err))
	}
	defer rows.Close()

	page := &model.OfferingPage{Items: []model.OfferingSummary{}, Page: q.Page, Size: q.Size, TotalItems: total}
	for rows.Next() {
		var s model.OfferingSummary
		var price string
		if err := rows.Scan(&s.ID, &s.Title, &s.Capacity, &price, &s.OwnerID, &s.CreatedAt, &s.OwnerName, &s.ActiveCount); err != nil {
			return nil, fmt.Errorf("scan offering: %w", err)
		}
		if s.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("parse offering price: %w", err)
		}
		page.Items = append(page.Items, s)
	}
	return page, classifyPg(rows.Err())
}

func pgOrderBy(sort model.OfferingSort) string {
	switch sort {
	case model.SortPopular:
		return "active_count DESC, o.created_at DESC, o.id DESC"
	case model.SortRate:
		return "(COUNT(e.id)::float8 / o.capacity) DESC, o.created_at DESC, o.id DESC"
	default:
		return "o.created_at DESC, o.id DESC"
	}
}

// ─── Scanning ─────────────────────────────────────────────────────────────────

func scanOffering(row pgx.Row) (*model.Offering, error) {
	var o model.Offering
	var price string
	if err := row.Scan(&o.ID, &o.Title, &o.Capacity, &price, &o.OwnerID, &o.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	p, err := decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("parse offering price: %w", err)
	}
	o.Price = p
	return &o, nil
}

func scanEnrollment(row pgx.Row) (*model.Enrollment, error) {
	var e model.Enrollment
	var status string
	if err := row.Scan(&e.ID, &e.OfferingID, &e.MemberID, &status, &e.CreatedAt, &e.UpdatedAt, &e.CanceledAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	e.Status = model.EnrollmentStatus(status)
	return &e, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
