package database

// Schema is the PostgreSQL schema, applied in order by Migrate.
//
// enrollments carries one row per (offering, member) for the life of the
// relationship; status flips between ACTIVE and CANCELED. The partial index
// on ACTIVE rows serves the capacity count taken under the offering lock.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS members (
		id         BIGSERIAL PRIMARY KEY,
		name       VARCHAR(50)  NOT NULL,
		email      VARCHAR(120) NOT NULL UNIQUE,
		role       VARCHAR(20)  NOT NULL CHECK (role IN ('STUDENT', 'INSTRUCTOR')),
		created_at TIMESTAMPTZ  NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS offerings (
		id         BIGSERIAL PRIMARY KEY,
		title      VARCHAR(200)   NOT NULL,
		capacity   INTEGER        NOT NULL CHECK (capacity > 0),
		price      NUMERIC(12, 2) NOT NULL CHECK (price >= 0),
		owner_id   BIGINT         NOT NULL REFERENCES members(id),
		created_at TIMESTAMPTZ    NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_offerings_created_at ON offerings (created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS enrollments (
		id          BIGSERIAL PRIMARY KEY,
		offering_id BIGINT      NOT NULL REFERENCES offerings(id),
		member_id   BIGINT      NOT NULL REFERENCES members(id),
		status      VARCHAR(20) NOT NULL CHECK (status IN ('ACTIVE', 'CANCELED')),
		created_at  TIMESTAMPTZ NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL,
		canceled_at TIMESTAMPTZ,
		CONSTRAINT uq_enrollments_offering_member UNIQUE (offering_id, member_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_enrollments_offering_status ON enrollments (offering_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_enrollments_member_status ON enrollments (member_id, status)`,
}
