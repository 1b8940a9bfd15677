// Package postgres persists bookings to Postgres.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/sheriff-roster-crawler/internal/booking"
	"github.com/JakeFAU/sheriff-roster-crawler/internal/crawler"
)

const defaultTable = "bookings"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool shared by the stores.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// execer is the part of *pgxpool.Pool the stores use; pgxmock satisfies it.
type execer interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
}

// BookingStore is a crawler.Sink that inserts one row per booking, tagged
// with the run that harvested it.
type BookingStore struct {
	pool    execer
	table   string
	runID   string
	insert  string
	written atomic.Int64
}

// Connect opens a pool using cfg. The pool is shared between a BookingStore
// and a RunStore; the caller closes it.
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	poolCfg, err := poolConfig(cfg)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

func poolConfig(cfg Config) (*pgxpool.Config, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("sink.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if poolCfg.MinConns > poolCfg.MaxConns {
		return nil, fmt.Errorf("min conns %d exceeds max conns %d", poolCfg.MinConns, poolCfg.MaxConns)
	}
	return poolCfg, nil
}

// NewBookingStoreWithPool constructs a store on a pool the caller owns.
func NewBookingStoreWithPool(pool execer, table, runID string) (*BookingStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &BookingStore{
		pool:   pool,
		table:  table,
		runID:  runID,
		insert: insertStatement(table),
	}, nil
}

// EnsureTable creates the bookings table when it does not exist.
func (s *BookingStore) EnsureTable(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id           TEXT NOT NULL,
	county           TEXT NOT NULL,
	booking_id       TEXT NOT NULL,
	person_id        TEXT NOT NULL,
	booking_num      TEXT,
	booking_date     TIMESTAMPTZ NOT NULL,
	release_date     TIMESTAMPTZ,
	held_for         TEXT,
	first_name       TEXT NOT NULL,
	middle_name      TEXT,
	last_name        TEXT NOT NULL,
	sex              TEXT NOT NULL,
	race             TEXT NOT NULL,
	birth_date       DATE NOT NULL,
	classification   TEXT,
	arresting_agency TEXT,
	address          TEXT,
	city             TEXT NOT NULL,
	state            TEXT,
	zip_code         TEXT,
	charges          TEXT NOT NULL,
	bond_total       NUMERIC(12,2),
	court_date       TIMESTAMPTZ
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// Write inserts b.
func (s *BookingStore) Write(ctx context.Context, b booking.Booking) error {
	args := []any{
		s.runID,
		b.County,
		b.BookingID,
		b.PersonID,
		b.BookingNum,
		b.BookingDate,
		b.ReleaseDate,
		b.HeldFor,
		b.FirstName,
		b.MiddleName,
		b.LastName,
		string(b.Sex),
		string(b.Race),
		b.BirthDate,
		b.Classification,
		b.ArrestingAgency,
		b.Address,
		b.City,
		b.State,
		b.ZipCode,
		b.Charges,
		b.BondTotal,
		b.CourtDate,
	}
	if _, err := s.pool.Exec(ctx, s.insert, args...); err != nil {
		return fmt.Errorf("insert booking %s/%s: %w", b.County, b.BookingID, err)
	}
	s.written.Add(1)
	return nil
}

// Close reports the rows written. The pool stays open for its owner.
func (s *BookingStore) Close(context.Context) ([]crawler.Artifact, error) {
	return []crawler.Artifact{{
		Sink:    "postgres",
		URI:     "postgres://" + s.table + "?run_id=" + s.runID,
		Records: int(s.written.Load()),
	}}, nil
}

func insertStatement(table string) string {
	return fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	county,
	booking_id,
	person_id,
	booking_num,
	booking_date,
	release_date,
	held_for,
	first_name,
	middle_name,
	last_name,
	sex,
	race,
	birth_date,
	classification,
	arresting_agency,
	address,
	city,
	state,
	zip_code,
	charges,
	bond_total,
	court_date
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23
)`, table)
}
