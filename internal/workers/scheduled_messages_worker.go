package workers

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"log"
	"strings"
	"time"

	"github.com/replyloop/backend/internal/dispatch"
	"github.com/replyloop/backend/internal/models"
	"github.com/replyloop/backend/internal/store"
)

// ScheduledMessageRunner sweeps due scheduled messages once a minute, claims
// each one atomically, and delivers it as a direct message. A message that
// fails delivery is marked failed and never retried.
type ScheduledMessageRunner struct {
	Store      *store.Store
	Dispatcher *dispatch.Dispatcher
	Interval   time.Duration
	BatchSize  int
}

// Start begins the sweep loop. An immediate first sweep runs before the
// ticker so restarts don't add a full interval of delay.
func (w *ScheduledMessageRunner) Start(ctx context.Context) {
	if w.Interval <= 0 {
		w.Interval = time.Minute
	}
	if w.BatchSize <= 0 {
		w.BatchSize = 25
	}
	log.Printf("[ScheduledMessages] worker started interval=%s batch=%d", w.Interval, w.BatchSize)

	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	w.run(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Printf("[ScheduledMessages] worker stopped err=%v", ctx.Err())
			return
		case <-ticker.C:
			w.run(ctx)
		}
	}
}

func (w *ScheduledMessageRunner) run(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	n, err := w.RunOnce(sweepCtx)
	if err != nil {
		log.Printf("[ScheduledMessages] sweep error err=%v", err)
		return
	}
	if n > 0 {
		log.Printf("[ScheduledMessages] delivered=%d", n)
	}
}

// RunOnce processes one sweep and returns how many messages were delivered.
func (w *ScheduledMessageRunner) RunOnce(ctx context.Context) (int, error) {
	due, err := w.Store.ListDueScheduledMessages(ctx, w.BatchSize)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, msg := range due {
		claimID := "claim_" + randHex(12)

		claimed, err := w.Store.ClaimScheduledMessage(ctx, msg.ID, claimID)
		if err != nil {
			log.Printf("[ScheduledMessages] claim_failed id=%s err=%v", msg.ID, err)
			continue
		}
		if !claimed {
			log.Printf("[ScheduledMessages] claim_skipped id=%s reason=already_claimed", msg.ID)
			continue
		}

		if w.deliver(ctx, msg, claimID) {
			sent++
		}
	}
	return sent, nil
}

// deliver sends one claimed message and records the terminal status.
func (w *ScheduledMessageRunner) deliver(ctx context.Context, msg models.ScheduledMessage, claimID string) bool {
	acct, err := w.Store.GetAccount(ctx, msg.AccountID)
	if err != nil {
		reason := "account_load_failed"
		if err == sql.ErrNoRows {
			reason = "account_not_found"
		}
		w.fail(ctx, msg, claimID, reason)
		return false
	}
	if !acct.Active {
		w.fail(ctx, msg, claimID, "account_disconnected")
		return false
	}

	recipient := msg.Recipient
	if username, ok := strings.CutPrefix(recipient, models.PendingRecipientPrefix); ok {
		igUserID, err := w.Store.ResolveUsername(ctx, acct.ID, username)
		if err == sql.ErrNoRows {
			w.fail(ctx, msg, claimID, "recipient_unresolved")
			return false
		}
		if err != nil {
			w.fail(ctx, msg, claimID, "recipient_lookup_failed")
			return false
		}
		if err := w.Store.ResolveScheduledRecipient(ctx, msg.ID, igUserID); err != nil {
			log.Printf("[ScheduledMessages] recipient_update_failed id=%s err=%v", msg.ID, err)
		}
		recipient = igUserID
	}

	outcome := w.Dispatcher.DirectMessage(ctx, acct, recipient, msg.Message, msg.Links)
	if !outcome.Delivered {
		w.fail(ctx, msg, claimID, truncateReason(outcome.Err))
		return false
	}

	if err := w.Store.MarkScheduledMessageSent(ctx, msg.ID, claimID); err != nil {
		log.Printf("[ScheduledMessages] mark_sent_failed id=%s err=%v", msg.ID, err)
	}
	if _, err := w.Store.InsertActivity(ctx, models.ActivityLog{
		AccountID: acct.ID,
		Action:    "scheduled_message_sent",
		TargetID:  recipient,
	}); err != nil {
		log.Printf("[ScheduledMessages] activity_insert_failed id=%s err=%v", msg.ID, err)
	}
	log.Printf("[ScheduledMessages] sent id=%s accountId=%s channel=%s", msg.ID, acct.ID, outcome.Channel)
	return true
}

func (w *ScheduledMessageRunner) fail(ctx context.Context, msg models.ScheduledMessage, claimID, reason string) {
	log.Printf("[ScheduledMessages] failed id=%s reason=%s", msg.ID, reason)
	if err := w.Store.MarkScheduledMessageFailed(ctx, msg.ID, claimID, reason); err != nil {
		log.Printf("[ScheduledMessages] mark_failed_error id=%s err=%v", msg.ID, err)
	}
	if _, err := w.Store.InsertActivity(ctx, models.ActivityLog{
		AccountID: msg.AccountID,
		Action:    "scheduled_message_failed",
		TargetID:  msg.Recipient,
		Detail:    &reason,
	}); err != nil {
		log.Printf("[ScheduledMessages] activity_insert_failed id=%s err=%v", msg.ID, err)
	}
}

func truncateReason(s string) string {
	if s == "" {
		return "delivery_failed"
	}
	if len(s) > 500 {
		return s[:500]
	}
	return s
}

func randHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return strings.Repeat("0", n*2)
	}
	return hex.EncodeToString(b)
}
