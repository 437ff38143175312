// Package postgres implements the fleet, health, failover and audit stores
// on database/sql with the pgx stdlib driver.
//
// Multi-row changes run in utils.WithTx and lock the rows they touch with
// SELECT ... FOR UPDATE so concurrent processes serialize on the same agent,
// backup number or event.
package postgres

import (
	"database/sql"
	"errors"
	"time"

	"telephony-failover/internal/failover"
	"telephony-failover/internal/health"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	pgUniqueViolation = "23505"

	activeEventIndex = "failover_events_one_active_idx"
)

type Store struct {
	db  *sql.DB
	now func() time.Time
}

var (
	_ health.Store   = (*Store)(nil)
	_ failover.Store = (*Store)(nil)
)

func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// DB exposes the pool for readiness checks.
func (s *Store) DB() *sql.DB { return s.db }

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgUniqueViolation && (constraint == "" || pgErr.ConstraintName == constraint)
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}
