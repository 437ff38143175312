package postgres

import (
	"context"
	"database/sql"

	"telephony-failover/internal/audit"
)

// AuditRepo is the append-only audit trail in audit_events.
type AuditRepo struct {
	db *sql.DB
}

var _ audit.Repository = (*AuditRepo)(nil)

func NewAuditRepo(db *sql.DB) *AuditRepo { return &AuditRepo{db: db} }

func (r *AuditRepo) Append(ctx context.Context, e audit.Event) error {
	const q = `
INSERT INTO audit_events (
  id, type, actor_id, actor_role, ip_address, account_id, failover_event_id, message, metadata, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID,
		e.Type,
		e.ActorID,
		e.ActorRole,
		e.IPAddress,
		e.AccountID,
		e.FailoverEventID,
		e.Message,
		e.Metadata,
		e.CreatedAt,
	)
	return err
}

func (r *AuditRepo) List(ctx context.Context, limit int) ([]audit.Event, error) {
	const q = `
SELECT id, type, actor_id, actor_role, ip_address, account_id, failover_event_id, message, metadata, created_at
FROM audit_events
ORDER BY created_at DESC, id DESC
LIMIT $1
`
	rows, err := r.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []audit.Event
	for rows.Next() {
		var e audit.Event
		if err := rows.Scan(
			&e.ID,
			&e.Type,
			&e.ActorID,
			&e.ActorRole,
			&e.IPAddress,
			&e.AccountID,
			&e.FailoverEventID,
			&e.Message,
			&e.Metadata,
			&e.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
