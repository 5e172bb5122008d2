package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/replyloop/backend/internal/models"
)

// TrackInteraction upserts the per-account record for an external user seen
// in a comment or message, keeping the username -> id mapping fresh for
// scheduled-message resolution.
func (s *Store) TrackInteraction(ctx context.Context, accountID, igUserID, username string) error {
	if igUserID == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO public.follower_records
		  (id, account_id, ig_user_id, username, is_following, first_seen_at, last_seen_at)
		VALUES
		  ($1, $2, $3, NULLIF($4, ''), FALSE, NOW(), NOW())
		ON CONFLICT (account_id, ig_user_id) DO UPDATE SET
		  username = COALESCE(NULLIF(EXCLUDED.username, ''), public.follower_records.username),
		  last_seen_at = NOW()
	`, newID("fol"), accountID, igUserID, username)
	return err
}

// ResolveUsername maps a username to its external user id for the account.
// Only users who have interacted with the account before are resolvable.
func (s *Store) ResolveUsername(ctx context.Context, accountID, username string) (string, error) {
	var igUserID string
	err := s.db.QueryRowContext(ctx, `
		SELECT ig_user_id
		  FROM public.follower_records
		 WHERE account_id = $1 AND LOWER(username) = LOWER($2)
		 ORDER BY last_seen_at DESC
		 LIMIT 1
	`, accountID, strings.TrimSpace(username)).Scan(&igUserID)
	if err != nil {
		return "", err
	}
	return igUserID, nil
}

func (s *Store) GetFollowerRecord(ctx context.Context, accountID, igUserID string) (models.FollowerRecord, error) {
	var f models.FollowerRecord
	var welcomeSent sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, ig_user_id, COALESCE(username, ''), is_following, welcome_sent_at, first_seen_at, last_seen_at
		  FROM public.follower_records
		 WHERE account_id = $1 AND ig_user_id = $2
	`, accountID, igUserID).
		Scan(&f.ID, &f.AccountID, &f.IGUserID, &f.Username, &f.IsFollowing, &welcomeSent, &f.FirstSeenAt, &f.LastSeenAt)
	if err != nil {
		return models.FollowerRecord{}, err
	}
	f.WelcomeSentAt = timePtr(welcomeSent)
	return f, nil
}

// WelcomeEligible reports whether a welcome message may be sent to the user:
// never sent before, or sent longer ago than the cooldown.
func (s *Store) WelcomeEligible(ctx context.Context, accountID, igUserID string, cooldown time.Duration) (bool, error) {
	f, err := s.GetFollowerRecord(ctx, accountID, igUserID)
	if err == sql.ErrNoRows {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if f.WelcomeSentAt == nil {
		return true, nil
	}
	if cooldown <= 0 {
		return false, nil
	}
	return time.Since(*f.WelcomeSentAt) >= cooldown, nil
}

func (s *Store) MarkWelcomeSent(ctx context.Context, accountID, igUserID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE public.follower_records
		   SET welcome_sent_at = NOW(), last_seen_at = NOW()
		 WHERE account_id = $1 AND ig_user_id = $2
	`, accountID, igUserID)
	return err
}
