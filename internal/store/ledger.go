package store

import (
	"context"
	"database/sql"

	"github.com/replyloop/backend/internal/models"
)

// IsCommentProcessed reports whether a (comment, automation) pair has already
// been acted on for the account. The router checks this before any
// externally-visible work.
func (s *Store) IsCommentProcessed(ctx context.Context, accountID, commentID, automationID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM public.processed_comments
		 WHERE account_id = $1 AND comment_id = $2 AND automation_id = $3
	`, accountID, commentID, automationID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// MarkCommentProcessed records the tuple with an atomic insert-if-absent.
// When a record already exists (a redelivered webhook racing this one) the
// existing row is returned unchanged and created is false; the caller must
// then skip delivery.
func (s *Store) MarkCommentProcessed(ctx context.Context, accountID, commentID, automationID, action string) (models.ProcessedComment, bool, error) {
	var rec models.ProcessedComment
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO public.processed_comments (id, account_id, comment_id, automation_id, action, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (account_id, comment_id, automation_id) DO NOTHING
		RETURNING id, account_id, comment_id, automation_id, action, created_at
	`, newID("pc"), accountID, commentID, automationID, action).
		Scan(&rec.ID, &rec.AccountID, &rec.CommentID, &rec.AutomationID, &rec.Action, &rec.CreatedAt)
	if err == nil {
		return rec, true, nil
	}
	if err != sql.ErrNoRows {
		return models.ProcessedComment{}, false, err
	}

	// Conflict: another delivery won the race. Return its record.
	err = s.db.QueryRowContext(ctx, `
		SELECT id, account_id, comment_id, automation_id, action, created_at
		  FROM public.processed_comments
		 WHERE account_id = $1 AND comment_id = $2 AND automation_id = $3
	`, accountID, commentID, automationID).
		Scan(&rec.ID, &rec.AccountID, &rec.CommentID, &rec.AutomationID, &rec.Action, &rec.CreatedAt)
	if err != nil {
		return models.ProcessedComment{}, false, err
	}
	return rec, false, nil
}

// UpdateProcessedAction stamps the final outcome once delivery settles.
func (s *Store) UpdateProcessedAction(ctx context.Context, id, action string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE public.processed_comments SET action = $2 WHERE id = $1
	`, id, action)
	return err
}
