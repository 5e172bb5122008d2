package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/replyloop/backend/internal/models"
)

const accountCols = `id, user_id, ig_user_id, ig_business_id, username, access_token, token_expires_at, page_token, page_token_expires_at, active, created_at, updated_at`

func scanAccount(row interface{ Scan(...any) error }) (models.Account, error) {
	var a models.Account
	var bizID, pageToken sql.NullString
	var tokenExp, pageExp sql.NullTime
	err := row.Scan(&a.ID, &a.UserID, &a.IGUserID, &bizID, &a.Username, &a.AccessToken,
		&tokenExp, &pageToken, &pageExp, &a.Active, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return models.Account{}, err
	}
	a.IGBusinessID = strPtr(bizID)
	a.TokenExpiresAt = timePtr(tokenExp)
	a.PageToken = strPtr(pageToken)
	a.PageTokenExpiresAt = timePtr(pageExp)
	return a, nil
}

// UpsertAccount creates the account on first connect and reactivates it when
// the same external user id reconnects, refreshing credentials in place.
func (s *Store) UpsertAccount(ctx context.Context, a models.Account) (models.Account, error) {
	if a.ID == "" {
		a.ID = newID("acc")
	}
	query := `
		INSERT INTO public.accounts
		  (id, user_id, ig_user_id, ig_business_id, username, access_token, token_expires_at, page_token, page_token_expires_at, active, created_at, updated_at)
		VALUES
		  ($1, $2, $3, $4, $5, $6, $7, $8, $9, TRUE, NOW(), NOW())
		ON CONFLICT (ig_user_id) DO UPDATE SET
		  user_id = EXCLUDED.user_id,
		  username = EXCLUDED.username,
		  access_token = EXCLUDED.access_token,
		  token_expires_at = EXCLUDED.token_expires_at,
		  page_token = COALESCE(EXCLUDED.page_token, public.accounts.page_token),
		  page_token_expires_at = COALESCE(EXCLUDED.page_token_expires_at, public.accounts.page_token_expires_at),
		  active = TRUE,
		  updated_at = NOW()
		RETURNING ` + accountCols
	row := s.db.QueryRowContext(ctx, query,
		a.ID, a.UserID, a.IGUserID, nullStr(a.IGBusinessID), a.Username, a.AccessToken,
		nullTime(a.TokenExpiresAt), nullStr(a.PageToken), nullTime(a.PageTokenExpiresAt))
	return scanAccount(row)
}

func (s *Store) GetAccount(ctx context.Context, id string) (models.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountCols+` FROM public.accounts WHERE id = $1`, id)
	return scanAccount(row)
}

func (s *Store) GetAccountByBusinessID(ctx context.Context, bizID string) (models.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountCols+` FROM public.accounts WHERE ig_business_id = $1 AND active`, bizID)
	return scanAccount(row)
}

func (s *Store) GetAccountByIGUserID(ctx context.Context, igUserID string) (models.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountCols+` FROM public.accounts WHERE ig_user_id = $1 AND active`, igUserID)
	return scanAccount(row)
}

func (s *Store) ListAccountsForUser(ctx context.Context, userID string) ([]models.Account, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+accountCols+` FROM public.accounts WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.Account, 0)
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SetBusinessID persists a business-account id resolved from a webhook entry
// (self-healing cache for account lookups).
func (s *Store) SetBusinessID(ctx context.Context, accountID, bizID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE public.accounts
		   SET ig_business_id = $2, updated_at = NOW()
		 WHERE id = $1 AND ig_business_id IS NULL
	`, accountID, bizID)
	return err
}

func (s *Store) UpdateAccountToken(ctx context.Context, accountID, accessToken string, expiresAt *time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE public.accounts
		   SET access_token = $2, token_expires_at = $3, updated_at = NOW()
		 WHERE id = $1
	`, accountID, accessToken, nullTime(expiresAt))
	return err
}

func (s *Store) DeactivateAccount(ctx context.Context, accountID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE public.accounts
		   SET active = FALSE, updated_at = NOW()
		 WHERE id = $1
	`, accountID)
	return err
}

// ListAccountsWithExpiringTokens returns active accounts whose long-lived
// token expires before the cutoff, for the refresh sweep.
func (s *Store) ListAccountsWithExpiringTokens(ctx context.Context, before time.Time) ([]models.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+accountCols+`
		  FROM public.accounts
		 WHERE active
		   AND token_expires_at IS NOT NULL
		   AND token_expires_at <= $1
		 ORDER BY token_expires_at
	`, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.Account, 0)
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
