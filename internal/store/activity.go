package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/replyloop/backend/internal/models"
)

func (s *Store) InsertActivity(ctx context.Context, a models.ActivityLog) (string, error) {
	if a.ID == "" {
		a.ID = newID("act")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO public.activity_logs
		  (id, account_id, automation_id, action, target_id, matched_keyword, detail, created_at)
		VALUES
		  ($1, $2, $3, $4, $5, $6, $7, NOW())
	`, a.ID, a.AccountID, nullStr(a.AutomationID), a.Action, a.TargetID, nullStr(a.Trigger), nullStr(a.Detail))
	if err != nil {
		return "", err
	}
	return a.ID, nil
}

func (s *Store) ListActivityForAccount(ctx context.Context, accountID string, limit int) ([]models.ActivityLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, automation_id, action, target_id, matched_keyword, detail, created_at
		  FROM public.activity_logs
		 WHERE account_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.ActivityLog, 0)
	for rows.Next() {
		var a models.ActivityLog
		var automationID, trigger, detail sql.NullString
		if err := rows.Scan(&a.ID, &a.AccountID, &automationID, &a.Action, &a.TargetID, &trigger, &detail, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.AutomationID = strPtr(automationID)
		a.Trigger = strPtr(trigger)
		a.Detail = strPtr(detail)
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeleteActivityBefore removes activity rows older than the cutoff (retention
// sweep).
func (s *Store) DeleteActivityBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM public.activity_logs WHERE created_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
