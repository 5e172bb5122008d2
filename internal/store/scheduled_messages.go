package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/replyloop/backend/internal/models"
)

const scheduledCols = `id, user_id, account_id, recipient, message, links, scheduled_for, status, error, sent_at, created_at, updated_at`

func scanScheduledMessage(row interface{ Scan(...any) error }) (models.ScheduledMessage, error) {
	var m models.ScheduledMessage
	var errMsg sql.NullString
	var sentAt sql.NullTime
	var rawLinks []byte
	err := row.Scan(&m.ID, &m.UserID, &m.AccountID, &m.Recipient, &m.Message, &rawLinks,
		&m.ScheduledFor, &m.Status, &errMsg, &sentAt, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return models.ScheduledMessage{}, err
	}
	m.Error = strPtr(errMsg)
	m.SentAt = timePtr(sentAt)
	if len(rawLinks) > 0 {
		_ = json.Unmarshal(rawLinks, &m.Links)
	}
	return m, nil
}

func (s *Store) CreateScheduledMessage(ctx context.Context, m models.ScheduledMessage) (models.ScheduledMessage, error) {
	if m.ID == "" {
		m.ID = newID("sched")
	}
	links, err := json.Marshal(m.Links)
	if err != nil {
		return models.ScheduledMessage{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO public.scheduled_messages
		  (id, user_id, account_id, recipient, message, links, scheduled_for, status, created_at, updated_at)
		VALUES
		  ($1, $2, $3, $4, $5, $6::jsonb, $7, 'pending', NOW(), NOW())
		RETURNING `+scheduledCols,
		m.ID, m.UserID, m.AccountID, m.Recipient, m.Message, string(links), m.ScheduledFor)
	return scanScheduledMessage(row)
}

func (s *Store) ListScheduledMessagesForUser(ctx context.Context, userID string) ([]models.ScheduledMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+scheduledCols+`
		  FROM public.scheduled_messages
		 WHERE user_id = $1
		 ORDER BY scheduled_for
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.ScheduledMessage, 0)
	for rows.Next() {
		m, err := scanScheduledMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// DeleteScheduledMessage removes a message, allowed only while still pending.
func (s *Store) DeleteScheduledMessage(ctx context.Context, id, userID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM public.scheduled_messages
		 WHERE id = $1 AND user_id = $2 AND status = 'pending'
	`, id, userID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListDueScheduledMessages returns unclaimed pending messages whose due time
// has passed, oldest first.
func (s *Store) ListDueScheduledMessages(ctx context.Context, limit int) ([]models.ScheduledMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+scheduledCols+`
		  FROM public.scheduled_messages
		 WHERE status = 'pending'
		   AND claim_id IS NULL
		   AND scheduled_for <= NOW()
		 ORDER BY scheduled_for
		 LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.ScheduledMessage, 0)
	for rows.Next() {
		m, err := scanScheduledMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ClaimScheduledMessage claims a due message atomically so concurrent runner
// instances never double-send. Returns false when another instance won.
func (s *Store) ClaimScheduledMessage(ctx context.Context, id, claimID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE public.scheduled_messages
		   SET claim_id = $2, updated_at = NOW()
		 WHERE id = $1
		   AND status = 'pending'
		   AND claim_id IS NULL
		   AND scheduled_for <= NOW()
	`, id, claimID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Store) MarkScheduledMessageSent(ctx context.Context, id, claimID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE public.scheduled_messages
		   SET status = 'sent', sent_at = NOW(), error = NULL, updated_at = NOW()
		 WHERE id = $1 AND claim_id = $2
	`, id, claimID)
	return err
}

func (s *Store) MarkScheduledMessageFailed(ctx context.Context, id, claimID, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE public.scheduled_messages
		   SET status = 'failed', error = $3, updated_at = NOW()
		 WHERE id = $1 AND claim_id = $2
	`, id, claimID, reason)
	return err
}

// ResolveScheduledRecipient replaces a "pending:<username>" placeholder with
// the resolved external id.
func (s *Store) ResolveScheduledRecipient(ctx context.Context, id, igUserID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE public.scheduled_messages
		   SET recipient = $2, updated_at = NOW()
		 WHERE id = $1
	`, id, igUserID)
	return err
}
