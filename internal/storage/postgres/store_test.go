package postgres

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"testing"

	"telephony-failover/internal/failover"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsUniqueViolation(t *testing.T) {
	active := &pgconn.PgError{Code: "23505", ConstraintName: activeEventIndex}
	other := &pgconn.PgError{Code: "23505", ConstraintName: "backup_phone_numbers_phone_number_key"}
	fk := &pgconn.PgError{Code: "23503", ConstraintName: activeEventIndex}

	assert.True(t, isUniqueViolation(active, activeEventIndex))
	assert.True(t, isUniqueViolation(fmt.Errorf("insert: %w", active), activeEventIndex))
	assert.False(t, isUniqueViolation(other, activeEventIndex))
	assert.True(t, isUniqueViolation(other, ""))
	assert.False(t, isUniqueViolation(fk, activeEventIndex))
	assert.False(t, isUniqueViolation(errors.New("boom"), ""))
	assert.False(t, isUniqueViolation(nil, ""))
}

func TestListEventsQuery(t *testing.T) {
	q, args := listEventsQuery(failover.EventFilter{})
	assert.NotContains(t, q, "WHERE")
	assert.Empty(t, args)

	q, args = listEventsQuery(failover.EventFilter{Status: failover.StatusPendingApproval, SourceAccountID: "acc", Limit: 20})
	assert.Contains(t, q, "WHERE status = $1 AND source_account_id = $2")
	assert.True(t, strings.HasSuffix(q, "LIMIT $3"))
	assert.Equal(t, []any{failover.StatusPendingApproval, "acc", 20}, args)

	q, args = listEventsQuery(failover.EventFilter{SourceAccountID: "acc"})
	assert.Contains(t, q, "WHERE source_account_id = $1")
	assert.Len(t, args, 1)
}

func TestMigrationsEmbedded(t *testing.T) {
	ups, err := fs.Glob(migrationsFS, "migrations/*.up.sql")
	require.NoError(t, err)
	downs, err := fs.Glob(migrationsFS, "migrations/*.down.sql")
	require.NoError(t, err)
	require.NotEmpty(t, ups)
	assert.Equal(t, len(ups), len(downs), "every migration needs a down file")

	b, err := fs.ReadFile(migrationsFS, "migrations/000001_init.up.sql")
	require.NoError(t, err)
	schema := string(b)
	assert.Contains(t, schema, "CREATE UNIQUE INDEX "+activeEventIndex)
	for _, s := range failover.ActiveStatuses {
		assert.Contains(t, schema, "'"+string(s)+"'")
	}
}
