package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/replyloop/backend/internal/automation"
	"github.com/replyloop/backend/internal/models"
)

type webhookPayload struct {
	Object string         `json:"object"`
	Entry  []webhookEntry `json:"entry"`
}

type webhookEntry struct {
	ID        string             `json:"id"` // business account id of the target
	Changes   []webhookChange    `json:"changes,omitempty"`
	Messaging []webhookMessaging `json:"messaging,omitempty"`
}

type webhookChange struct {
	Field string             `json:"field"`
	Value webhookChangeValue `json:"value"`
}

type webhookChangeValue struct {
	ID   string `json:"id"` // comment id
	Text string `json:"text"`
	From struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"from"`
	Media struct {
		ID string `json:"id"`
	} `json:"media"`
}

type webhookMessaging struct {
	Sender struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"sender"`
	Recipient struct {
		ID string `json:"id"`
	} `json:"recipient"`
	Message *struct {
		MID    string `json:"mid"`
		Text   string `json:"text"`
		IsEcho bool   `json:"is_echo"`
	} `json:"message,omitempty"`
	Reaction *struct {
		MID      string `json:"mid"`
		Action   string `json:"action"`
		Reaction string `json:"reaction"`
	} `json:"reaction,omitempty"`
}

// VerifyWebhook answers the provider's GET handshake by echoing the
// challenge when the shared verify token matches.
func (h *Handler) VerifyWebhook(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	expected := os.Getenv("IG_VERIFY_TOKEN")
	if mode == "subscribe" && expected != "" && token == expected {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(challenge))
		return
	}
	log.Printf("[Webhook] verify rejected mode=%q tokenMatch=%t", mode, expected != "" && token == expected)
	w.WriteHeader(http.StatusForbidden)
}

// ReceiveWebhook processes one POST delivery. Once the payload parses, the
// response is always 200: the provider treats non-200 as "retry", which
// would only amplify duplicate processing.
func (h *Handler) ReceiveWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	if secret := os.Getenv("IG_APP_SECRET"); secret != "" {
		if !verifySignature(secret, r.Header.Get("X-Hub-Signature-256"), body) {
			log.Printf("[Webhook] signature mismatch, rejecting")
			w.WriteHeader(http.StatusForbidden)
			return
		}
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if payload.Object != "instagram" {
		// Not ours; acknowledge without processing.
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}

	ctx := r.Context()
	for _, entry := range payload.Entry {
		h.processEntry(ctx, entry)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func verifySignature(secret, header string, body []byte) bool {
	header = strings.TrimSpace(header)
	if !strings.HasPrefix(header, "sha256=") {
		return false
	}
	provided, err := hex.DecodeString(strings.TrimPrefix(header, "sha256="))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(provided, mac.Sum(nil))
}

// processEntry resolves the owning account and fans the entry's sub-events
// into the matching pipeline. Every failure is logged and isolated so one
// bad entry cannot block its siblings or the 200 response.
func (h *Handler) processEntry(ctx context.Context, entry webhookEntry) {
	acct, ok := h.resolveAccount(ctx, entry)
	if !ok {
		log.Printf("[Webhook] no account resolved for entry id=%s, skipping", entry.ID)
		return
	}

	// Self-healing cache: persist the business id so the next lookup is a
	// single indexed query.
	if (acct.IGBusinessID == nil || *acct.IGBusinessID == "") && entry.ID != "" {
		if err := h.store.SetBusinessID(ctx, acct.ID, entry.ID); err != nil {
			log.Printf("[Webhook] persist business id failed accountId=%s err=%v", acct.ID, err)
		} else {
			bid := entry.ID
			acct.IGBusinessID = &bid
		}
	}

	for _, change := range entry.Changes {
		if change.Field != "comments" {
			continue
		}
		h.handleCommentEvent(ctx, acct, change.Value)
	}
	for _, msg := range entry.Messaging {
		switch {
		case msg.Reaction != nil:
			h.handleReactionEvent(ctx, acct, msg)
		case msg.Message != nil:
			h.handleMessageEvent(ctx, acct, msg)
		}
	}
}

// resolveAccount tries, in order: cached business-account id, raw external
// user id, and (comment entries only) a scan of active comment_to_dm
// automations whose media filter matches the event's media.
func (h *Handler) resolveAccount(ctx context.Context, entry webhookEntry) (models.Account, bool) {
	if entry.ID != "" {
		if acct, err := h.store.GetAccountByBusinessID(ctx, entry.ID); err == nil {
			return acct, true
		} else if err != sql.ErrNoRows {
			log.Printf("[Webhook] business id lookup failed id=%s err=%v", entry.ID, err)
		}
		if acct, err := h.store.GetAccountByIGUserID(ctx, entry.ID); err == nil {
			return acct, true
		} else if err != sql.ErrNoRows {
			log.Printf("[Webhook] ig user id lookup failed id=%s err=%v", entry.ID, err)
		}
	}

	for _, change := range entry.Changes {
		if change.Field != "comments" || change.Value.Media.ID == "" {
			continue
		}
		autos, err := h.store.ListActiveAutomationsByType(ctx, models.AutomationCommentToDM)
		if err != nil {
			log.Printf("[Webhook] media-scan resolution failed err=%v", err)
			continue
		}
		for _, a := range autos {
			if a.Config.MediaID != "" && a.Config.MediaID == change.Value.Media.ID {
				acct, err := h.store.GetAccount(ctx, a.AccountID)
				if err == nil && acct.Active {
					log.Printf("[Webhook] resolved account via media scan mediaId=%s accountId=%s", change.Value.Media.ID, acct.ID)
					return acct, true
				}
			}
		}
	}
	return models.Account{}, false
}

func (h *Handler) handleCommentEvent(ctx context.Context, acct models.Account, v webhookChangeValue) {
	if v.ID == "" || v.From.ID == acct.IGUserID {
		return
	}

	key := "comment:" + v.ID
	if h.guard.Seen(key) {
		log.Printf("[Webhook] duplicate delivery suppressed key=%s", key)
		return
	}
	h.guard.Remember(key)

	if err := h.store.TrackInteraction(ctx, acct.ID, v.From.ID, v.From.Username); err != nil {
		log.Printf("[Webhook] track commenter failed accountId=%s err=%v", acct.ID, err)
	}

	autos, err := h.store.ListAutomationsForAccount(ctx, acct.ID, true)
	if err != nil {
		log.Printf("[Webhook] list automations failed accountId=%s err=%v", acct.ID, err)
		return
	}

	ev := automation.Event{
		Kind:      automation.EventComment,
		SenderID:  v.From.ID,
		Username:  v.From.Username,
		CommentID: v.ID,
		MediaID:   v.Media.ID,
		Text:      v.Text,
	}
	matches := automation.MatchAutomations(ev, autos, automation.Options{})

	for _, m := range matches {
		h.fireCommentAutomation(ctx, acct, m, ev)
	}
}

// fireCommentAutomation runs one matched comment_to_dm automation through
// the ledger and delivery, isolating its failures from sibling automations.
func (h *Handler) fireCommentAutomation(ctx context.Context, acct models.Account, m automation.Match, ev automation.Event) {
	a := m.Automation

	processed, err := h.store.IsCommentProcessed(ctx, acct.ID, ev.CommentID, a.ID)
	if err != nil {
		log.Printf("[Webhook] ledger check failed commentId=%s automationId=%s err=%v", ev.CommentID, a.ID, err)
		return
	}
	if processed {
		return
	}

	// Claim the tuple before the slow external call so a concurrently
	// redelivered webhook loses the race instead of double-sending.
	rec, created, err := h.store.MarkCommentProcessed(ctx, acct.ID, ev.CommentID, a.ID, "pending")
	if err != nil {
		log.Printf("[Webhook] ledger mark failed commentId=%s automationId=%s err=%v", ev.CommentID, a.ID, err)
		return
	}
	if !created {
		return
	}

	vars := map[string]string{"username": ev.Username, "keyword": m.Keyword}
	text := automation.Render(a.Config.MessageTemplate, vars)
	fallback := automation.Render(a.Config.FallbackCommentMessage, vars)

	if a.Config.DelaySeconds > 0 {
		h.sleep(time.Duration(a.Config.DelaySeconds) * time.Second)
	}

	outcome := h.disp.PrivateReply(ctx, acct, a.Config, ev.CommentID, text, fallback)

	action := "delivery_failed"
	if outcome.Delivered {
		switch outcome.Channel {
		case "fallback_comment_reply":
			action = "comment_reply_sent"
		default:
			action = "private_reply_sent"
		}
	}
	if err := h.store.UpdateProcessedAction(ctx, rec.ID, action); err != nil {
		log.Printf("[Webhook] ledger action update failed id=%s err=%v", rec.ID, err)
	}

	h.recordOutcome(ctx, acct, a, action, ev.CommentID, m.Keyword, outcome.Err)

	// Optional public follow-up after a successful private reply.
	if outcome.Delivered && outcome.Channel == "private_reply" && a.Config.CommentReplyEnabled && a.Config.CommentReplyTemplate != "" {
		replyText := automation.Render(a.Config.CommentReplyTemplate, vars)
		followUp := h.disp.CommentReply(ctx, acct, ev.CommentID, replyText)
		if followUp.Delivered {
			h.recordOutcome(ctx, acct, a, "comment_reply_sent", ev.CommentID, m.Keyword, "")
		} else {
			log.Printf("[Webhook] follow-up comment reply failed commentId=%s err=%s", ev.CommentID, followUp.Err)
		}
	}
}

func (h *Handler) handleMessageEvent(ctx context.Context, acct models.Account, msg webhookMessaging) {
	m := msg.Message
	if m == nil || m.IsEcho || msg.Sender.ID == "" || msg.Sender.ID == acct.IGUserID {
		return
	}

	if m.MID != "" {
		key := "message:" + m.MID
		if h.guard.Seen(key) {
			return
		}
		h.guard.Remember(key)
	}

	if err := h.store.TrackInteraction(ctx, acct.ID, msg.Sender.ID, msg.Sender.Username); err != nil {
		log.Printf("[Webhook] track sender failed accountId=%s err=%v", acct.ID, err)
	}

	autos, err := h.store.ListAutomationsForAccount(ctx, acct.ID, true)
	if err != nil {
		log.Printf("[Webhook] list automations failed accountId=%s err=%v", acct.ID, err)
		return
	}

	ev := automation.Event{
		Kind:     automation.EventMessage,
		SenderID: msg.Sender.ID,
		Username: msg.Sender.Username,
		Text:     m.Text,
	}
	matches := automation.MatchAutomations(ev, autos, automation.Options{IncludeWelcome: h.welcomeEnabled})

	for _, match := range matches {
		h.fireMessageAutomation(ctx, acct, match, ev)
	}
}

func (h *Handler) fireMessageAutomation(ctx context.Context, acct models.Account, m automation.Match, ev automation.Event) {
	a := m.Automation

	if a.Type == models.AutomationWelcome {
		cooldown := time.Duration(a.Config.CooldownHours) * time.Hour
		ok, err := h.store.WelcomeEligible(ctx, acct.ID, ev.SenderID, cooldown)
		if err != nil {
			log.Printf("[Webhook] welcome cooldown check failed accountId=%s sender=%s err=%v", acct.ID, ev.SenderID, err)
			return
		}
		if !ok {
			return
		}
	}

	vars := map[string]string{"username": ev.Username, "keyword": m.Keyword}
	text := automation.Render(a.Config.MessageTemplate, vars)

	if a.Config.DelaySeconds > 0 {
		h.sleep(time.Duration(a.Config.DelaySeconds) * time.Second)
	}

	outcome := h.disp.DirectMessage(ctx, acct, ev.SenderID, text, a.Config.Links)
	action := "delivery_failed"
	if outcome.Delivered {
		action = "dm_sent"
	}
	h.recordOutcome(ctx, acct, a, action, ev.SenderID, m.Keyword, outcome.Err)

	if outcome.Delivered && a.Type == models.AutomationWelcome {
		if err := h.store.MarkWelcomeSent(ctx, acct.ID, ev.SenderID); err != nil {
			log.Printf("[Webhook] mark welcome sent failed accountId=%s sender=%s err=%v", acct.ID, ev.SenderID, err)
		}
	}
}

func (h *Handler) handleReactionEvent(ctx context.Context, acct models.Account, msg webhookMessaging) {
	if msg.Sender.ID == "" || msg.Sender.ID == acct.IGUserID {
		return
	}
	if msg.Reaction != nil && msg.Reaction.Action == "unreact" {
		return
	}

	if msg.Reaction != nil && msg.Reaction.MID != "" {
		key := "reaction:" + msg.Reaction.MID
		if h.guard.Seen(key) {
			return
		}
		h.guard.Remember(key)
	}

	autos, err := h.store.ListAutomationsForAccount(ctx, acct.ID, true)
	if err != nil {
		log.Printf("[Webhook] list automations failed accountId=%s err=%v", acct.ID, err)
		return
	}

	ev := automation.Event{
		Kind:     automation.EventReaction,
		SenderID: msg.Sender.ID,
		Username: msg.Sender.Username,
	}
	for _, match := range automation.MatchAutomations(ev, autos, automation.Options{}) {
		h.fireMessageAutomation(ctx, acct, match, ev)
	}
}

// recordOutcome writes stats, activity log and realtime notification for one
// delivery attempt.
func (h *Handler) recordOutcome(ctx context.Context, acct models.Account, a models.Automation, action, targetID, keyword, errMsg string) {
	delivered := action != "delivery_failed"
	if delivered {
		if err := h.store.RecordAutomationTrigger(ctx, a.ID); err != nil {
			log.Printf("[Webhook] stats update failed automationId=%s err=%v", a.ID, err)
		}
	}

	entry := models.ActivityLog{
		AccountID:    acct.ID,
		AutomationID: &a.ID,
		Action:       action,
		TargetID:     targetID,
	}
	if keyword != "" {
		entry.Trigger = &keyword
	}
	if errMsg != "" {
		detail := truncate(errMsg, 500)
		entry.Detail = &detail
	}
	if _, err := h.store.InsertActivity(ctx, entry); err != nil {
		log.Printf("[Webhook] activity insert failed accountId=%s err=%v", acct.ID, err)
	}

	h.rt.emit(acct.UserID, realtimeEvent{
		Type:         "automation.triggered",
		AccountID:    acct.ID,
		AutomationID: a.ID,
		Action:       action,
		At:           time.Now().UTC().Format(time.RFC3339),
	})
}
