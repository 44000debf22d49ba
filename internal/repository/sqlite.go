package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/Shivanand-hulikatti/course-enrollment/internal/model"
)

// SQLite is a single-node store for local development and small deployments.
//
// Transactions are opened with _txlock=immediate, so BEGIN takes the
// database-wide write lock. That is coarser than a per-offering row lock but
// gives the same guarantee: the active count read inside the transaction
// cannot change before commit. Waiting longer than the busy timeout yields
// SQLITE_BUSY, reported as ErrTransient.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) the database at path and migrates the
// schema. Use ":memory:" for a throwaway database.
func NewSQLite(path string, lockTimeout time.Duration) (*SQLite, error) {
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_busy_timeout=%d&_foreign_keys=on&_journal_mode=WAL",
		path, lockTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if path == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return s, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS members (
		id    INTEGER PRIMARY KEY AUTOINCREMENT,
		name  TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		role  TEXT NOT NULL CHECK (role IN ('STUDENT', 'INSTRUCTOR'))
	);

	CREATE TABLE IF NOT EXISTS offerings (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		title      TEXT    NOT NULL,
		capacity   INTEGER NOT NULL CHECK (capacity > 0),
		price      TEXT    NOT NULL,
		owner_id   INTEGER NOT NULL REFERENCES members(id),
		created_at TEXT    NOT NULL
	);

	CREATE TABLE IF NOT EXISTS enrollments (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		offering_id INTEGER NOT NULL REFERENCES offerings(id),
		member_id   INTEGER NOT NULL REFERENCES members(id),
		status      TEXT    NOT NULL CHECK (status IN ('ACTIVE', 'CANCELED')),
		created_at  TEXT    NOT NULL,
		updated_at  TEXT    NOT NULL,
		canceled_at TEXT,
		UNIQUE (offering_id, member_id)
	);

	CREATE INDEX IF NOT EXISTS idx_enrollments_offering_status
		ON enrollments(offering_id, status);
	CREATE INDEX IF NOT EXISTS idx_enrollments_member_status
		ON enrollments(member_id, status);
	`
	_, err := s.db.Exec(schema)
	return err
}

type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx executes fn within a database transaction.
func (s *SQLite) WithTx(ctx context.Context, fn func(Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classifySQLite(fmt.Errorf("begin transaction: %w", err))
	}
	defer sqlTx.Rollback()

	if err := fn(&sqliteTx{q: sqlTx}); err != nil {
		return classifySQLite(err)
	}
	if err := sqlTx.Commit(); err != nil {
		return classifySQLite(fmt.Errorf("commit transaction: %w", err))
	}
	return nil
}

func classifySQLite(err error) error {
	if err == nil || model.IsBusiness(err) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrTransient) {
		return err
	}
	var sqErr sqlite3.Error
	if errors.As(err, &sqErr) {
		switch {
		case sqErr.Code == sqlite3.ErrBusy, sqErr.Code == sqlite3.ErrLocked:
			return fmt.Errorf("%w: %w", ErrTransient, err)
		case sqErr.ExtendedCode == sqlite3.ErrConstraintUnique:
			return fmt.Errorf("%w: %w", ErrDuplicate, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
	return err
}

type sqliteTx struct {
	q sqlQuerier
}

// LockOffering reads the offering. The write lock was already taken by
// BEGIN IMMEDIATE.
func (t *sqliteTx) LockOffering(ctx context.Context, offeringID int64) (*model.Offering, error) {
	o, err := getOfferingSQLite(ctx, t.q, offeringID)
	if err != nil {
		return nil, fmt.Errorf("lock offering row: %w", err)
	}
	return o, nil
}

func (t *sqliteTx) FindEnrollment(ctx context.Context, offeringID, memberID int64) (*model.Enrollment, error) {
	e, err := scanEnrollmentSQLite(t.q.QueryRowContext(ctx,
		`SELECT id, offering_id, member_id, status, created_at, updated_at, canceled_at
		 FROM enrollments WHERE offering_id = ? AND member_id = ?`,
		offeringID, memberID,
	))
	if err != nil {
		return nil, fmt.Errorf("find enrollment: %w", err)
	}
	return e, nil
}

func (t *sqliteTx) GetEnrollment(ctx context.Context, enrollmentID int64) (*model.Enrollment, error) {
	return getEnrollmentSQLite(ctx, t.q, enrollmentID)
}

func (t *sqliteTx) CountActive(ctx context.Context, offeringID int64) (int, error) {
	var n int
	err := t.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM enrollments WHERE offering_id = ? AND status = ?`,
		offeringID, string(model.StatusActive),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active enrollments: %w", err)
	}
	return n, nil
}

func (t *sqliteTx) InsertEnrollment(ctx context.Context, e *model.Enrollment) error {
	res, err := t.q.ExecContext(ctx,
		`INSERT INTO enrollments (offering_id, member_id, status, created_at, updated_at, canceled_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.OfferingID, e.MemberID, string(e.Status), formatTime(e.CreatedAt), formatTime(e.UpdatedAt), formatTimePtr(e.CanceledAt),
	)
	if err != nil {
		return fmt.Errorf("insert enrollment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert enrollment id: %w", err)
	}
	e.ID = id
	return nil
}

func (t *sqliteTx) UpdateEnrollment(ctx context.Context, e *model.Enrollment) error {
	res, err := t.q.ExecContext(ctx,
		`UPDATE enrollments SET status = ?, updated_at = ?, canceled_at = ? WHERE id = ?`,
		string(e.Status), formatTime(e.UpdatedAt), formatTimePtr(e.CanceledAt), e.ID,
	)
	if err != nil {
		return fmt.Errorf("update enrollment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) GetEnrollment(ctx context.Context, enrollmentID int64) (*model.Enrollment, error) {
	e, err := getEnrollmentSQLite(ctx, s.db, enrollmentID)
	return e, classifySQLite(err)
}

func getEnrollmentSQLite(ctx context.Context, q sqlQuerier, enrollmentID int64) (*model.Enrollment, error) {
	e, err := scanEnrollmentSQLite(q.QueryRowContext(ctx,
		`SELECT id, offering_id, member_id, status, created_at, updated_at, canceled_at
		 FROM enrollments WHERE id = ?`,
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

func (s *SQLite) ListActiveByMember(ctx context.Context, memberID int64) ([]model.Enrollment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, offering_id, member_id, status, created_at, updated_at, canceled_at
		 FROM enrollments
		 WHERE member_id = ? AND status = ?
		 ORDER BY created_at ASC, id ASC`,
		memberID, string(model.StatusActive),
	)
	if err != nil {
		return nil, classifySQLite(fmt.Errorf("list enrollments: %w", err))
	}
	defer rows.Close()

	out := []model.Enrollment{}
	for rows.Next() {
		e, err := scanEnrollmentSQLite(rows)
		if err != nil {
			return nil, fmt.Errorf("scan enrollment: %w", err)
		}
		out = append(out, *e)
	}
	return out, classifySQLite(rows.Err())
}

// =============================================================================
// MEMBERS
// =============================================================================

func (s *SQLite) CreateMember(ctx context.Context, m *model.Member) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO members (name, email, role) VALUES (?, ?, ?)`,
		m.Name, m.Email, string(m.Role),
	)
	if err != nil {
		return classifySQLite(fmt.Errorf("insert member: %w", err))
	}
	if m.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("insert member id: %w", err)
	}
	return nil
}

func (s *SQLite) GetMember(ctx context.Context, memberID int64) (*model.Member, error) {
	var m model.Member
	var role string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, email, role FROM members WHERE id = ?`, memberID,
	).Scan(&m.ID, &m.Name, &m.Email, &role)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, classifySQLite(fmt.Errorf("get member: %w", err))
	}
	m.Role = model.Role(role)
	return &m, nil
}

func (s *SQLite) MemberExists(ctx context.Context, memberID int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM members WHERE id = ?)`, memberID,
	).Scan(&exists)
	if err != nil {
		return false, classifySQLite(fmt.Errorf("check member: %w", err))
	}
	return exists, nil
}

// =============================================================================
// OFFERINGS
// =============================================================================

func (s *SQLite) CreateOffering(ctx context.Context, o *model.Offering) error {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO offerings (title, capacity, price, owner_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		o.Title, o.Capacity, o.Price.String(), o.OwnerID, formatTime(o.CreatedAt),
	)
	if err != nil {
		return classifySQLite(fmt.Errorf("insert offering: %w", err))
	}
	if o.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("insert offering id: %w", err)
	}
	return nil
}

func (s *SQLite) GetOffering(ctx context.Context, offeringID int64) (*model.Offering, error) {
	o, err := getOfferingSQLite(ctx, s.db, offeringID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, classifySQLite(fmt.Errorf("get offering: %w", err))
	}
	return o, nil
}

func getOfferingSQLite(ctx context.Context, q sqlQuerier, offeringID int64) (*model.Offering, error) {
	var o model.Offering
	var price, created string
	err := q.QueryRowContext(ctx,
		`SELECT id, title, capacity, price, owner_id, created_at FROM offerings WHERE id = ?`,
		offeringID,
	).Scan(&o.ID, &o.Title, &o.Capacity, &price, &o.OwnerID, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if o.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("parse offering price: %w", err)
	}
	if o.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *SQLite) ListOfferings(ctx context.Context, q model.OfferingQuery) (*model.OfferingPage, error) {
	q = q.Normalize()

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM offerings`).Scan(&total); err != nil {
		return nil, classifySQLite(fmt.Errorf("count offerings: %w", err))
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT o.id, o.title, o.capacity, o.price, o.owner_id, o.created_at,
		        COALESCE(m.name, ''), COUNT(e.id) AS active_count
		 FROM offerings o
		 LEFT JOIN members m ON m.id = o.owner_id
		 LEFT JOIN enrollments e ON e.offering_id = o.id AND e.status = 'ACTIVE'
		 GROUP BY o.id
		 ORDER BY `+sqliteOrderBy(q.Sort)+`
		 LIMIT ? OFFSET ?`,
		q.Size, q.Offset(),
	)
	if err != nil {
		return nil, classifySQLite(fmt.Errorf("list offerings: %w", err))
	}
	defer rows.Close()

	page := &model.OfferingPage{Items: []model.OfferingSummary{}, Page: q.Page, Size: q.Size, TotalItems: total}
	for rows.Next() {
		var o model.OfferingSummary
		var price, created string
		if err := rows.Scan(&o.ID, &o.Title, &o.Capacity, &price, &o.OwnerID, &created, &o.OwnerName, &o.ActiveCount); err != nil {
			return nil, fmt.Errorf("scan offering: %w", err)
		}
		if o.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("parse offering price: %w", err)
		}
		if o.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		page.Items = append(page.Items, o)
	}
	return page, classifySQLite(rows.Err())
}

func sqliteOrderBy(sort model.OfferingSort) string {
	switch sort {
	case model.SortPopular:
		return "active_count DESC, o.created_at DESC, o.id DESC"
	case model.SortRate:
		return "(CAST(COUNT(e.id) AS REAL) / o.capacity) DESC, o.created_at DESC, o.id DESC"
	default:
		return "o.created_at DESC, o.id DESC"
	}
}

// =============================================================================
// SCANNING
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEnrollmentSQLite(row rowScanner) (*model.Enrollment, error) {
	var e model.Enrollment
	var status, created, updated string
	var canceled sql.NullString
	if err := row.Scan(&e.ID, &e.OfferingID, &e.MemberID, &status, &created, &updated, &canceled); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	e.Status = model.EnrollmentStatus(status)

	var err error
	if e.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if e.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	if canceled.Valid {
		t, err := parseTime(canceled.String)
		if err != nil {
			return nil, err
		}
		e.CanceledAt = &t
	}
	return &e, nil
}

// Timestamps are stored as fixed-width UTC text so they sort lexically.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}
