package workers

import (
	"context"
	"log"
	"time"

	"github.com/replyloop/backend/internal/instagram"
	"github.com/replyloop/backend/internal/store"
)

// TokenRefreshWorker extends long-lived access tokens before they expire.
// Tokens are refreshable for 60 days; refreshing anything inside the lookahead
// window every few hours keeps accounts from going dark.
type TokenRefreshWorker struct {
	Store     *store.Store
	Client    *instagram.Client
	Interval  time.Duration
	Lookahead time.Duration
}

func (w *TokenRefreshWorker) Start(ctx context.Context) {
	if w.Interval <= 0 {
		w.Interval = 6 * time.Hour
	}
	if w.Lookahead <= 0 {
		w.Lookahead = 7 * 24 * time.Hour
	}
	log.Printf("[TokenRefresh] worker started interval=%s lookahead=%s", w.Interval, w.Lookahead)

	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	w.run(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Printf("[TokenRefresh] worker stopped err=%v", ctx.Err())
			return
		case <-ticker.C:
			w.run(ctx)
		}
	}
}

func (w *TokenRefreshWorker) run(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	n, err := w.RunOnce(sweepCtx)
	if err != nil {
		log.Printf("[TokenRefresh] sweep error err=%v", err)
		return
	}
	if n > 0 {
		log.Printf("[TokenRefresh] refreshed=%d", n)
	}
}

// RunOnce refreshes every account whose token expires within the lookahead
// window. One account's refresh failure does not stop the sweep.
func (w *TokenRefreshWorker) RunOnce(ctx context.Context) (int, error) {
	accounts, err := w.Store.ListAccountsWithExpiringTokens(ctx, time.Now().Add(w.Lookahead))
	if err != nil {
		return 0, err
	}

	refreshed := 0
	for _, acct := range accounts {
		tok, err := w.Client.RefreshLongLived(ctx, acct.AccessToken)
		if err != nil {
			log.Printf("[TokenRefresh] refresh_failed accountId=%s err=%v", acct.ID, err)
			continue
		}
		if err := w.Store.UpdateAccountToken(ctx, acct.ID, tok.AccessToken, tok.ExpiresAt); err != nil {
			log.Printf("[TokenRefresh] save_failed accountId=%s err=%v", acct.ID, err)
			continue
		}
		refreshed++
	}
	return refreshed, nil
}
