package handlers

import (
	"database/sql"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/replyloop/backend/internal/models"
)

// CreateScheduledMessage queues a DM for future delivery. A recipient that is
// a username rather than an external id is stored as "pending:<username>"
// and resolved by the runner at send time.
//
// URL: POST /api/scheduled-messages/user/{userId}
func (h *Handler) CreateScheduledMessage(w http.ResponseWriter, r *http.Request) {
	userID := pathVar(r, "userId")

	var req struct {
		AccountID    string        `json:"accountId"`
		Recipient    string        `json:"recipient"`
		Username     string        `json:"username"`
		Message      string        `json:"message"`
		Links        []models.Link `json:"links"`
		ScheduledFor time.Time     `json:"scheduledFor"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeValidationError(w, "message", "message is required")
		return
	}
	if req.ScheduledFor.IsZero() || !req.ScheduledFor.After(time.Now()) {
		writeValidationError(w, "scheduledFor", "scheduled time must be in the future")
		return
	}

	recipient := strings.TrimSpace(req.Recipient)
	if recipient == "" {
		username := strings.TrimSpace(strings.TrimPrefix(req.Username, "@"))
		if username == "" {
			writeValidationError(w, "recipient", "recipient id or username is required")
			return
		}
		recipient = models.PendingRecipientPrefix + username
	}

	ctx := r.Context()
	acct, err := h.store.GetAccount(ctx, req.AccountID)
	if err == sql.ErrNoRows || (err == nil && acct.UserID != userID) {
		writeError(w, http.StatusNotFound, "account not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if !acct.Active {
		writeValidationError(w, "accountId", "account is disconnected")
		return
	}

	msg, err := h.store.CreateScheduledMessage(ctx, models.ScheduledMessage{
		UserID:       userID,
		AccountID:    acct.ID,
		Recipient:    recipient,
		Message:      req.Message,
		Links:        req.Links,
		ScheduledFor: req.ScheduledFor.UTC(),
	})
	if err != nil {
		log.Printf("[ScheduledMessages] create failed userId=%s err=%v", userID, err)
		writeError(w, http.StatusInternalServerError, "create failed")
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// ListScheduledMessagesForUser returns all of the user's scheduled messages
// regardless of status, ordered by due time.
//
// URL: GET /api/scheduled-messages/user/{userId}
func (h *Handler) ListScheduledMessagesForUser(w http.ResponseWriter, r *http.Request) {
	userID := pathVar(r, "userId")
	msgs, err := h.store.ListScheduledMessagesForUser(r.Context(), userID)
	if err != nil {
		log.Printf("[ScheduledMessages] list failed userId=%s err=%v", userID, err)
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// DeleteScheduledMessage cancels a message that has not been picked up yet.
// Sent and failed messages are immutable history.
//
// URL: DELETE /api/scheduled-messages/{id}/user/{userId}
func (h *Handler) DeleteScheduledMessage(w http.ResponseWriter, r *http.Request) {
	userID := pathVar(r, "userId")
	id := pathVar(r, "id")

	deleted, err := h.store.DeleteScheduledMessage(r.Context(), id, userID)
	if err != nil {
		log.Printf("[ScheduledMessages] delete failed id=%s err=%v", id, err)
		writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "no pending message with that id")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// ListActivityForAccount returns the account's recent activity log entries,
// newest first.
//
// URL: GET /api/activity/account/{accountId}/user/{userId}?limit=N
func (h *Handler) ListActivityForAccount(w http.ResponseWriter, r *http.Request) {
	acct, ok := h.ownedAccount(w, r)
	if !ok {
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	entries, err := h.store.ListActivityForAccount(r.Context(), acct.ID, limit)
	if err != nil {
		log.Printf("[Activity] list failed accountId=%s err=%v", acct.ID, err)
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
