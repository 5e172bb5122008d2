package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/replyloop/backend/internal/models"
)

const automationCols = `id, account_id, type, title, description, active, config, total_replies, last_triggered_at, created_at, updated_at`

func scanAutomation(row interface{ Scan(...any) error }) (models.Automation, error) {
	var a models.Automation
	var desc sql.NullString
	var lastTriggered sql.NullTime
	var rawCfg []byte
	err := row.Scan(&a.ID, &a.AccountID, &a.Type, &a.Title, &desc, &a.Active,
		&rawCfg, &a.TotalReplies, &lastTriggered, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return models.Automation{}, err
	}
	a.Description = strPtr(desc)
	a.LastTriggeredAt = timePtr(lastTriggered)
	if len(rawCfg) > 0 {
		if err := json.Unmarshal(rawCfg, &a.Config); err != nil {
			return models.Automation{}, fmt.Errorf("invalid config json for automation %s: %w", a.ID, err)
		}
	}
	return a, nil
}

func (s *Store) CreateAutomation(ctx context.Context, a models.Automation) (models.Automation, error) {
	if a.ID == "" {
		a.ID = newID("auto")
	}
	cfg, err := json.Marshal(a.Config)
	if err != nil {
		return models.Automation{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO public.automations
		  (id, account_id, type, title, description, active, config, total_replies, created_at, updated_at)
		VALUES
		  ($1, $2, $3, $4, $5, $6, $7::jsonb, 0, NOW(), NOW())
		RETURNING `+automationCols,
		a.ID, a.AccountID, a.Type, a.Title, nullStr(a.Description), a.Active, string(cfg))
	return scanAutomation(row)
}

func (s *Store) GetAutomation(ctx context.Context, id string) (models.Automation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+automationCols+` FROM public.automations WHERE id = $1`, id)
	return scanAutomation(row)
}

// ListAutomationsForAccount returns the account's automations in creation
// order, which fixes the evaluation order during dispatch.
func (s *Store) ListAutomationsForAccount(ctx context.Context, accountID string, activeOnly bool) ([]models.Automation, error) {
	query := `SELECT ` + automationCols + ` FROM public.automations WHERE account_id = $1`
	if activeOnly {
		query += ` AND active`
	}
	query += ` ORDER BY created_at`
	rows, err := s.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAutomations(rows)
}

// ListActiveAutomationsByType is used by the webhook router's last-resort
// account resolution (scan comment_to_dm automations for a media match).
func (s *Store) ListActiveAutomationsByType(ctx context.Context, automationType string) ([]models.Automation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+automationCols+`
		  FROM public.automations
		 WHERE type = $1 AND active
		 ORDER BY created_at
	`, automationType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAutomations(rows)
}

func collectAutomations(rows *sql.Rows) ([]models.Automation, error) {
	out := make([]models.Automation, 0)
	for rows.Next() {
		a, err := scanAutomation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) UpdateAutomation(ctx context.Context, a models.Automation) (models.Automation, error) {
	cfg, err := json.Marshal(a.Config)
	if err != nil {
		return models.Automation{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		UPDATE public.automations
		   SET title = $2, description = $3, active = $4, config = $5::jsonb, updated_at = NOW()
		 WHERE id = $1
		RETURNING `+automationCols,
		a.ID, a.Title, nullStr(a.Description), a.Active, string(cfg))
	return scanAutomation(row)
}

func (s *Store) DeleteAutomation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM public.automations WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// RecordAutomationTrigger bumps the reply counter and last-triggered stamp
// after a successful delivery.
func (s *Store) RecordAutomationTrigger(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE public.automations
		   SET total_replies = total_replies + 1, last_triggered_at = NOW(), updated_at = NOW()
		 WHERE id = $1
	`, id)
	return err
}

// ArchiveAutomations moves all of an account's automations into a single
// backup row keyed by external user id. Runs in one transaction so a failed
// archive leaves the live rows untouched.
func (s *Store) ArchiveAutomations(ctx context.Context, acct models.Account) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT `+automationCols+` FROM public.automations WHERE account_id = $1 ORDER BY created_at
	`, acct.ID)
	if err != nil {
		return 0, err
	}
	archived, err := collectAutomations(rows)
	rows.Close()
	if err != nil {
		return 0, err
	}

	payload, err := json.Marshal(archived)
	if err != nil {
		return 0, err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO public.automation_backups (id, user_id, ig_user_id, payload, created_at)
		VALUES ($1, $2, $3, $4::jsonb, NOW())
		ON CONFLICT (ig_user_id) DO UPDATE SET
		  user_id = EXCLUDED.user_id,
		  payload = EXCLUDED.payload,
		  created_at = NOW()
	`, newID("bak"), acct.UserID, acct.IGUserID, string(payload))
	if err != nil {
		return 0, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM public.automations WHERE account_id = $1`, acct.ID); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(archived), nil
}

// RestoreAutomations recreates backed-up automations for a reconnected
// account. Restored automations start inactive and the backup row is removed.
func (s *Store) RestoreAutomations(ctx context.Context, accountID, igUserID string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var payload []byte
	err = tx.QueryRowContext(ctx, `
		SELECT payload FROM public.automation_backups WHERE ig_user_id = $1
	`, igUserID).Scan(&payload)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var archived []models.Automation
	if err := json.Unmarshal(payload, &archived); err != nil {
		return 0, fmt.Errorf("invalid backup payload for %s: %w", igUserID, err)
	}

	restored := 0
	for _, a := range archived {
		cfg, err := json.Marshal(a.Config)
		if err != nil {
			return restored, err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO public.automations
			  (id, account_id, type, title, description, active, config, total_replies, last_triggered_at, created_at, updated_at)
			VALUES
			  ($1, $2, $3, $4, $5, FALSE, $6::jsonb, $7, $8, NOW(), NOW())
		`, newID("auto"), accountID, a.Type, a.Title, nullStr(a.Description), string(cfg), a.TotalReplies, nullTime(a.LastTriggeredAt))
		if err != nil {
			return restored, err
		}
		restored++
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM public.automation_backups WHERE ig_user_id = $1`, igUserID); err != nil {
		return restored, err
	}
	if err := tx.Commit(); err != nil {
		return restored, err
	}
	return restored, nil
}
