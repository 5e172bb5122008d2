package handlers

import (
	"database/sql"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/replyloop/backend/internal/models"
)

// ConnectAccount finishes the OAuth dance for a user: code -> short-lived
// token -> long-lived token -> profile, then upserts the account and restores
// any automations archived on a previous disconnect.
//
// URL: POST /api/accounts/connect/user/{userId}
func (h *Handler) ConnectAccount(w http.ResponseWriter, r *http.Request) {
	userID := pathVar(r, "userId")
	var req struct {
		Code        string `json:"code"`
		RedirectURI string `json:"redirectUri"`
	}
	if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.Code) == "" {
		writeError(w, http.StatusBadRequest, "missing code")
		return
	}

	appID := os.Getenv("IG_APP_ID")
	appSecret := os.Getenv("IG_APP_SECRET")
	redirect := req.RedirectURI
	if redirect == "" {
		redirect = os.Getenv("IG_REDIRECT_URI")
	}
	if appID == "" || appSecret == "" {
		writeError(w, http.StatusInternalServerError, "oauth not configured")
		return
	}

	ctx := r.Context()
	short, err := h.ig.ExchangeCode(ctx, appID, appSecret, redirect, req.Code)
	if err != nil {
		log.Printf("[Accounts] code exchange failed userId=%s err=%v", userID, err)
		writeError(w, http.StatusBadGateway, "code exchange failed")
		return
	}
	long, err := h.ig.ExchangeLongLived(ctx, appSecret, short.AccessToken)
	if err != nil {
		log.Printf("[Accounts] long-lived exchange failed userId=%s err=%v", userID, err)
		writeError(w, http.StatusBadGateway, "token exchange failed")
		return
	}

	profile, err := h.ig.GetProfile(ctx, long.AccessToken)
	if err != nil {
		log.Printf("[Accounts] profile fetch failed userId=%s err=%v", userID, err)
		writeError(w, http.StatusBadGateway, "profile fetch failed")
		return
	}
	igUserID := profile.UserID
	if igUserID == "" {
		igUserID = short.UserID
	}
	if igUserID == "" {
		writeError(w, http.StatusBadGateway, "no user id in profile")
		return
	}

	acct, err := h.store.UpsertAccount(ctx, models.Account{
		UserID:         userID,
		IGUserID:       igUserID,
		Username:       profile.Username,
		AccessToken:    long.AccessToken,
		TokenExpiresAt: long.ExpiresAt,
	})
	if err != nil {
		log.Printf("[Accounts] upsert failed userId=%s igUserId=%s err=%v", userID, igUserID, err)
		writeError(w, http.StatusInternalServerError, "failed to save account")
		return
	}

	restored, err := h.store.RestoreAutomations(ctx, acct.ID, igUserID)
	if err != nil {
		// The connect itself succeeded; restore trouble is not fatal.
		log.Printf("[Accounts] restore failed accountId=%s err=%v", acct.ID, err)
	} else if restored > 0 {
		log.Printf("[Accounts] restored %d archived automations accountId=%s", restored, acct.ID)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"account":  acct,
		"restored": restored,
	})
}

// DisconnectAccount archives the account's automations and deactivates it.
// Reconnecting the same external user later restores the archive.
//
// URL: POST /api/accounts/{accountId}/disconnect/user/{userId}
func (h *Handler) DisconnectAccount(w http.ResponseWriter, r *http.Request) {
	userID := pathVar(r, "userId")
	accountID := pathVar(r, "accountId")

	ctx := r.Context()
	acct, err := h.store.GetAccount(ctx, accountID)
	if err == sql.ErrNoRows || (err == nil && acct.UserID != userID) {
		writeError(w, http.StatusNotFound, "account not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	archived, err := h.store.ArchiveAutomations(ctx, acct)
	if err != nil {
		log.Printf("[Accounts] archive failed accountId=%s err=%v", acct.ID, err)
		writeError(w, http.StatusInternalServerError, "archive failed")
		return
	}
	if err := h.store.DeactivateAccount(ctx, acct.ID); err != nil {
		log.Printf("[Accounts] deactivate failed accountId=%s err=%v", acct.ID, err)
		writeError(w, http.StatusInternalServerError, "deactivate failed")
		return
	}
	log.Printf("[Accounts] disconnected accountId=%s archived=%d", acct.ID, archived)

	writeJSON(w, http.StatusOK, map[string]any{
		"disconnected": true,
		"archived":     archived,
	})
}

// ListAccountsForUser returns all accounts (active and inactive) the user
// has ever connected.
//
// URL: GET /api/accounts/user/{userId}
func (h *Handler) ListAccountsForUser(w http.ResponseWriter, r *http.Request) {
	userID := pathVar(r, "userId")
	accounts, err := h.store.ListAccountsForUser(r.Context(), userID)
	if err != nil {
		log.Printf("[Accounts] list failed userId=%s err=%v", userID, err)
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	writeJSON(w, http.StatusOK, accounts)
}

// GetAccountForUser returns one account, scoped to the owning user.
//
// URL: GET /api/accounts/{accountId}/user/{userId}
func (h *Handler) GetAccountForUser(w http.ResponseWriter, r *http.Request) {
	userID := pathVar(r, "userId")
	accountID := pathVar(r, "accountId")

	acct, err := h.store.GetAccount(r.Context(), accountID)
	if err == sql.ErrNoRows || (err == nil && acct.UserID != userID) {
		writeError(w, http.StatusNotFound, "account not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// ListAccountMedia feeds the media picker used by the comment_to_dm mediaId
// filter. Requires a resolved business id on the account.
//
// URL: GET /api/accounts/{accountId}/media/user/{userId}?limit=N
func (h *Handler) ListAccountMedia(w http.ResponseWriter, r *http.Request) {
	userID := pathVar(r, "userId")
	accountID := pathVar(r, "accountId")

	acct, err := h.store.GetAccount(r.Context(), accountID)
	if err == sql.ErrNoRows || (err == nil && acct.UserID != userID) {
		writeError(w, http.StatusNotFound, "account not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if acct.IGBusinessID == nil || *acct.IGBusinessID == "" {
		writeError(w, http.StatusConflict, "account has no business id yet")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	items, err := h.ig.FetchRecentMedia(r.Context(), *acct.IGBusinessID, acct.AccessToken, limit)
	if err != nil {
		log.Printf("[Accounts] media fetch failed accountId=%s err=%v", accountID, err)
		writeError(w, http.StatusBadGateway, "media fetch failed")
		return
	}
	writeJSON(w, http.StatusOK, items)
}
