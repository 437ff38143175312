package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"telephony-failover/internal/fleet"
	"telephony-failover/pkg/utils"
)

const accountColumns = `id, name, account_sid, auth_token, active, health_status, last_health_check, created_at`

func scanAccount(r rowScanner) (fleet.TelephonyAccount, error) {
	var a fleet.TelephonyAccount
	err := r.Scan(
		&a.ID,
		&a.Name,
		&a.AccountSID,
		&a.AuthToken,
		&a.Active,
		&a.HealthStatus,
		&a.LastHealthCheck,
		&a.CreatedAt,
	)
	return a, err
}

func (s *Store) GetAccount(ctx context.Context, accountID string) (fleet.TelephonyAccount, error) {
	q := `SELECT ` + accountColumns + ` FROM telephony_accounts WHERE id = $1`
	a, err := scanAccount(s.db.QueryRowContext(ctx, q, accountID))
	if errors.Is(err, sql.ErrNoRows) {
		return fleet.TelephonyAccount{}, fleet.ErrAccountNotFound
	}
	return a, err
}

// AccountBySID resolves the account a provider webhook was signed for.
func (s *Store) AccountBySID(ctx context.Context, accountSID string) (fleet.TelephonyAccount, error) {
	q := `SELECT ` + accountColumns + ` FROM telephony_accounts WHERE account_sid = $1 ORDER BY created_at, id LIMIT 1`
	a, err := scanAccount(s.db.QueryRowContext(ctx, q, accountSID))
	if errors.Is(err, sql.ErrNoRows) {
		return fleet.TelephonyAccount{}, fleet.ErrAccountNotFound
	}
	return a, err
}

func (s *Store) ListActiveAccounts(ctx context.Context) ([]fleet.TelephonyAccount, error) {
	q := `SELECT ` + accountColumns + ` FROM telephony_accounts WHERE active ORDER BY created_at, id`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []fleet.TelephonyAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) UpdateAccountHealth(ctx context.Context, accountID string, status fleet.HealthStatus, checkedAt time.Time) error {
	const q = `UPDATE telephony_accounts SET health_status = $2, last_health_check = $3 WHERE id = $1`
	res, err := s.db.ExecContext(ctx, q, accountID, status, checkedAt)
	if err != nil {
		return err
	}
	return expectRow(res, fleet.ErrAccountNotFound)
}

const agentColumns = `id, name, status, platform_agent_id, phone_number, telephony_account_id,
       original_phone_number, original_telephony_account_id, health_status, last_health_check, created_at`

func scanAgent(r rowScanner) (fleet.VoiceAgent, error) {
	var a fleet.VoiceAgent
	err := r.Scan(
		&a.ID,
		&a.Name,
		&a.Status,
		&a.PlatformAgentID,
		&a.PhoneNumber,
		&a.TelephonyAccountID,
		&a.OriginalPhoneNumber,
		&a.OriginalTelephonyAccountID,
		&a.HealthStatus,
		&a.LastHealthCheck,
		&a.CreatedAt,
	)
	return a, err
}

func (s *Store) queryAgents(ctx context.Context, where string, args ...any) ([]fleet.VoiceAgent, error) {
	q := `SELECT ` + agentColumns + ` FROM voice_agents WHERE ` + where + ` ORDER BY created_at, id`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []fleet.VoiceAgent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) GetAgent(ctx context.Context, agentID string) (fleet.VoiceAgent, error) {
	q := `SELECT ` + agentColumns + ` FROM voice_agents WHERE id = $1`
	a, err := scanAgent(s.db.QueryRowContext(ctx, q, agentID))
	if errors.Is(err, sql.ErrNoRows) {
		return fleet.VoiceAgent{}, fleet.ErrAgentNotFound
	}
	return a, err
}

func (s *Store) ListAgentsByAccount(ctx context.Context, accountID string) ([]fleet.VoiceAgent, error) {
	return s.queryAgents(ctx, `telephony_account_id = $1`, accountID)
}

func (s *Store) ListMovableAgents(ctx context.Context, accountID string) ([]fleet.VoiceAgent, error) {
	return s.queryAgents(ctx,
		`telephony_account_id = $1 AND status = $2 AND platform_agent_id <> '' AND phone_number <> ''`,
		accountID, fleet.AgentStatusActive)
}

func (s *Store) ListFailedOverAgents(ctx context.Context, accountID, originalAccountID string) ([]fleet.VoiceAgent, error) {
	return s.queryAgents(ctx,
		`telephony_account_id = $1 AND original_phone_number <> '' AND original_telephony_account_id = $2`,
		accountID, originalAccountID)
}

// AgentByPhoneNumber resolves the agent an inbound call was dialed to.
func (s *Store) AgentByPhoneNumber(ctx context.Context, number string) (fleet.VoiceAgent, error) {
	agents, err := s.queryAgents(ctx, `phone_number = $1`, number)
	if err != nil {
		return fleet.VoiceAgent{}, err
	}
	if len(agents) == 0 {
		return fleet.VoiceAgent{}, fleet.ErrAgentNotFound
	}
	return agents[0], nil
}

func (s *Store) UpdateAgentHealth(ctx context.Context, agentID string, status fleet.HealthStatus, checkedAt time.Time) error {
	const q = `UPDATE voice_agents SET health_status = $2, last_health_check = $3 WHERE id = $1`
	res, err := s.db.ExecContext(ctx, q, agentID, status, checkedAt)
	if err != nil {
		return err
	}
	return expectRow(res, fleet.ErrAgentNotFound)
}

func (s *Store) CountUnassignedBackupNumbers(ctx context.Context, accountID string) (int, error) {
	const q = `SELECT count(*) FROM backup_phone_numbers WHERE telephony_account_id = $1 AND NOT assigned`
	var n int
	if err := s.db.QueryRowContext(ctx, q, accountID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) ClaimBackupNumber(ctx context.Context, agentID, targetAccountID string, at time.Time) (fleet.Move, error) {
	var move fleet.Move
	err := utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		agent, err := lockAgent(ctx, tx, agentID)
		if err != nil {
			return err
		}

		// SKIP LOCKED lets concurrent claims for other agents take the next free number.
		const pick = `
SELECT id, phone_number, telephony_account_id, created_at
FROM backup_phone_numbers
WHERE telephony_account_id = $1 AND NOT assigned
ORDER BY created_at, id
LIMIT 1
FOR UPDATE SKIP LOCKED
`
		var b fleet.BackupPhoneNumber
		if err := tx.QueryRowContext(ctx, pick, targetAccountID).Scan(
			&b.ID,
			&b.PhoneNumber,
			&b.TelephonyAccountID,
			&b.CreatedAt,
		); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fleet.ErrNoBackupNumber
			}
			return err
		}

		const assign = `UPDATE backup_phone_numbers SET assigned = TRUE, assigned_agent_id = $2, assigned_at = $3 WHERE id = $1`
		if _, err := tx.ExecContext(ctx, assign, b.ID, agentID, at); err != nil {
			return fmt.Errorf("assign backup number: %w", err)
		}
		b.Assigned = true
		b.AssignedAgentID = agentID
		b.AssignedAt = &at

		rebind := `
UPDATE voice_agents
SET original_phone_number = phone_number,
    original_telephony_account_id = telephony_account_id,
    phone_number = $2,
    telephony_account_id = $3
WHERE id = $1
RETURNING ` + agentColumns
		moved, err := scanAgent(tx.QueryRowContext(ctx, rebind, agentID, b.PhoneNumber, targetAccountID))
		if err != nil {
			return fmt.Errorf("rebind agent: %w", err)
		}

		move = fleet.Move{Agent: moved, Backup: b, OldNumber: agent.PhoneNumber, OldAccountID: agent.TelephonyAccountID}
		return nil
	})
	return move, err
}

func (s *Store) RestoreAgent(ctx context.Context, agentID string) (fleet.VoiceAgent, error) {
	var restored fleet.VoiceAgent
	err := utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		agent, err := lockAgent(ctx, tx, agentID)
		if err != nil {
			return err
		}
		if !agent.FailedOver() {
			restored = agent
			return nil
		}

		const release = `
UPDATE backup_phone_numbers
SET assigned = FALSE, assigned_agent_id = '', assigned_at = NULL
WHERE assigned_agent_id = $1 AND phone_number = $2
`
		if _, err := tx.ExecContext(ctx, release, agentID, agent.PhoneNumber); err != nil {
			return fmt.Errorf("release backup number: %w", err)
		}

		restore := `
UPDATE voice_agents
SET phone_number = original_phone_number,
    telephony_account_id = original_telephony_account_id,
    original_phone_number = '',
    original_telephony_account_id = ''
WHERE id = $1
RETURNING ` + agentColumns
		restored, err = scanAgent(tx.QueryRowContext(ctx, restore, agentID))
		return err
	})
	return restored, err
}

func lockAgent(ctx context.Context, tx *sql.Tx, agentID string) (fleet.VoiceAgent, error) {
	q := `SELECT ` + agentColumns + ` FROM voice_agents WHERE id = $1 FOR UPDATE`
	a, err := scanAgent(tx.QueryRowContext(ctx, q, agentID))
	if errors.Is(err, sql.ErrNoRows) {
		return fleet.VoiceAgent{}, fleet.ErrAgentNotFound
	}
	return a, err
}

func expectRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
