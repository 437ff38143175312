package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"telephony-failover/internal/failover"
	"telephony-failover/internal/health"
	"telephony-failover/pkg/utils"
)

const eventColumns = `id, trigger_type, status, source_account_id, target_account_id,
       affected_agents, total_agents, reason, created_by, approved_by, approved_at,
       window_started_at, window_ends_at, test_results, executed_at,
       rolled_back_at, rolled_back_by, notes, error, created_at, updated_at`

func scanEvent(r rowScanner) (failover.Event, error) {
	var (
		ev    failover.Event
		tests []byte
	)
	if err := r.Scan(
		&ev.ID,
		&ev.TriggerType,
		&ev.Status,
		&ev.SourceAccountID,
		&ev.TargetAccountID,
		&ev.AffectedAgents,
		&ev.TotalAgents,
		&ev.Reason,
		&ev.CreatedBy,
		&ev.ApprovedBy,
		&ev.ApprovedAt,
		&ev.WindowStartedAt,
		&ev.WindowEndsAt,
		&tests,
		&ev.ExecutedAt,
		&ev.RolledBackAt,
		&ev.RolledBackBy,
		&ev.Notes,
		&ev.Error,
		&ev.CreatedAt,
		&ev.UpdatedAt,
	); err != nil {
		return failover.Event{}, err
	}
	ev.TestResults = []failover.TestResult{}
	if len(tests) > 0 {
		if err := json.Unmarshal(tests, &ev.TestResults); err != nil {
			return failover.Event{}, fmt.Errorf("decode test results of event %s: %w", ev.ID, err)
		}
	}
	return ev, nil
}

func encodeTests(tests []failover.TestResult) ([]byte, error) {
	if tests == nil {
		tests = []failover.TestResult{}
	}
	return json.Marshal(tests)
}

func (s *Store) CreateEvent(ctx context.Context, ev failover.Event) error {
	tests, err := encodeTests(ev.TestResults)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO failover_events (
  id, trigger_type, status, source_account_id, target_account_id,
  affected_agents, total_agents, reason, created_by, approved_by, approved_at,
  window_started_at, window_ends_at, test_results, executed_at,
  rolled_back_at, rolled_back_by, notes, error, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21
)
`
	_, err = s.db.ExecContext(ctx, q,
		ev.ID,
		ev.TriggerType,
		ev.Status,
		ev.SourceAccountID,
		ev.TargetAccountID,
		ev.AffectedAgents,
		ev.TotalAgents,
		ev.Reason,
		ev.CreatedBy,
		ev.ApprovedBy,
		ev.ApprovedAt,
		ev.WindowStartedAt,
		ev.WindowEndsAt,
		string(tests),
		ev.ExecutedAt,
		ev.RolledBackAt,
		ev.RolledBackBy,
		ev.Notes,
		ev.Error,
		ev.CreatedAt,
		ev.UpdatedAt,
	)
	if isUniqueViolation(err, activeEventIndex) {
		return failover.ErrActiveEventExists
	}
	return err
}

func (s *Store) GetEvent(ctx context.Context, eventID string) (failover.Event, error) {
	q := `SELECT ` + eventColumns + ` FROM failover_events WHERE id = $1`
	ev, err := scanEvent(s.db.QueryRowContext(ctx, q, eventID))
	if errors.Is(err, sql.ErrNoRows) {
		return failover.Event{}, failover.ErrEventNotFound
	}
	return ev, err
}

// ListEvents returns matching events newest first.
func (s *Store) ListEvents(ctx context.Context, f failover.EventFilter) ([]failover.Event, error) {
	q, args := listEventsQuery(f)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []failover.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func listEventsQuery(f failover.EventFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, "status = $"+strconv.Itoa(len(args)))
	}
	if f.SourceAccountID != "" {
		args = append(args, f.SourceAccountID)
		where = append(where, "source_account_id = $"+strconv.Itoa(len(args)))
	}

	var b strings.Builder
	b.WriteString(`SELECT ` + eventColumns + ` FROM failover_events`)
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY created_at DESC, id DESC")
	if f.Limit > 0 {
		args = append(args, f.Limit)
		b.WriteString(" LIMIT $" + strconv.Itoa(len(args)))
	}
	return b.String(), args
}

func (s *Store) TransitionEvent(ctx context.Context, eventID string, from failover.Status, mutate func(*failover.Event) error) (failover.Event, error) {
	var next failover.Event
	err := utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		q := `SELECT ` + eventColumns + ` FROM failover_events WHERE id = $1 FOR UPDATE`
		cur, err := scanEvent(tx.QueryRowContext(ctx, q, eventID))
		if errors.Is(err, sql.ErrNoRows) {
			return failover.ErrEventNotFound
		}
		if err != nil {
			return err
		}
		if cur.Status != from {
			return failover.ErrStatusConflict
		}

		next = cur
		if err := mutate(&next); err != nil {
			return err
		}
		return updateEvent(ctx, tx, next)
	})
	if err != nil {
		return failover.Event{}, err
	}
	return next, nil
}

// updateEvent writes every mutable column. Identity, trigger, accounts and
// counts never change after creation.
func updateEvent(ctx context.Context, tx *sql.Tx, ev failover.Event) error {
	tests, err := encodeTests(ev.TestResults)
	if err != nil {
		return err
	}
	const q = `
UPDATE failover_events SET
  status = $2, approved_by = $3, approved_at = $4, window_started_at = $5, window_ends_at = $6,
  test_results = $7, executed_at = $8, rolled_back_at = $9, rolled_back_by = $10,
  notes = $11, error = $12, updated_at = $13
WHERE id = $1
`
	_, err = tx.ExecContext(ctx, q,
		ev.ID,
		ev.Status,
		ev.ApprovedBy,
		ev.ApprovedAt,
		ev.WindowStartedAt,
		ev.WindowEndsAt,
		string(tests),
		ev.ExecutedAt,
		ev.RolledBackAt,
		ev.RolledBackBy,
		ev.Notes,
		ev.Error,
		ev.UpdatedAt,
	)
	return err
}

func (s *Store) AppendTestResult(ctx context.Context, eventID string, result failover.TestResult) error {
	b, err := json.Marshal([]failover.TestResult{result})
	if err != nil {
		return err
	}
	const q = `UPDATE failover_events SET test_results = test_results || $2::jsonb WHERE id = $1`
	res, err := s.db.ExecContext(ctx, q, eventID, string(b))
	if err != nil {
		return err
	}
	return expectRow(res, failover.ErrEventNotFound)
}

func (s *Store) AppendHealthRecords(ctx context.Context, records ...health.Record) error {
	if len(records) == 0 {
		return nil
	}
	const q = `
INSERT INTO health_check_records (
  id, target_type, target_id, account_id, status, details, response_time_ms, checked_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8
)
`
	return utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, q)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, r := range records {
			details, err := json.Marshal(r.Details)
			if err != nil {
				return fmt.Errorf("encode details of %s %s: %w", r.TargetType, r.TargetID, err)
			}
			if r.Details == nil {
				details = []byte("{}")
			}
			if _, err := stmt.ExecContext(ctx,
				r.ID,
				r.TargetType,
				r.TargetID,
				r.AccountID,
				r.Status,
				string(details),
				r.ResponseTimeMs,
				r.CheckedAt,
			); err != nil {
				return err
			}
		}
		return nil
	})
}
