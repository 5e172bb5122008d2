package handlers

import (
	"database/sql"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/replyloop/backend/internal/automation"
	"github.com/replyloop/backend/internal/models"
)

var validAutomationTypes = map[string]bool{
	models.AutomationCommentToDM:   true,
	models.AutomationAutoDMReply:   true,
	models.AutomationMentionReply:  true,
	models.AutomationWelcome:       true,
	models.AutomationStoryReaction: true,
}

type automationRequest struct {
	Type        string                  `json:"type"`
	Title       string                  `json:"title"`
	Description *string                 `json:"description"`
	Active      *bool                   `json:"active"`
	Config      models.AutomationConfig `json:"config"`
}

// ownedAccount loads the account and confirms it belongs to the path user.
func (h *Handler) ownedAccount(w http.ResponseWriter, r *http.Request) (models.Account, bool) {
	userID := pathVar(r, "userId")
	accountID := pathVar(r, "accountId")

	acct, err := h.store.GetAccount(r.Context(), accountID)
	if err == sql.ErrNoRows || (err == nil && acct.UserID != userID) {
		writeError(w, http.StatusNotFound, "account not found")
		return models.Account{}, false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return models.Account{}, false
	}
	return acct, true
}

// CreateAutomation validates and stores a new automation for an account.
//
// URL: POST /api/automations/account/{accountId}/user/{userId}
func (h *Handler) CreateAutomation(w http.ResponseWriter, r *http.Request) {
	acct, ok := h.ownedAccount(w, r)
	if !ok {
		return
	}

	var req automationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if !validAutomationTypes[req.Type] {
		writeValidationError(w, "type", "unknown automation type")
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeValidationError(w, "title", "title is required")
		return
	}
	if err := automation.ValidateConfig(req.Type, req.Config); err != nil {
		var ve *automation.ValidationError
		if errors.As(err, &ve) {
			writeValidationError(w, ve.Field, ve.Msg)
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	created, err := h.store.CreateAutomation(r.Context(), models.Automation{
		AccountID:   acct.ID,
		Type:        req.Type,
		Title:       req.Title,
		Description: req.Description,
		Active:      active,
		Config:      req.Config,
	})
	if err != nil {
		log.Printf("[Automations] create failed accountId=%s err=%v", acct.ID, err)
		writeError(w, http.StatusInternalServerError, "create failed")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// ListAutomations returns the account's automations in creation order.
//
// URL: GET /api/automations/account/{accountId}/user/{userId}?active=true
func (h *Handler) ListAutomations(w http.ResponseWriter, r *http.Request) {
	acct, ok := h.ownedAccount(w, r)
	if !ok {
		return
	}

	activeOnly := r.URL.Query().Get("active") == "true"
	autos, err := h.store.ListAutomationsForAccount(r.Context(), acct.ID, activeOnly)
	if err != nil {
		log.Printf("[Automations] list failed accountId=%s err=%v", acct.ID, err)
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	writeJSON(w, http.StatusOK, autos)
}

// GetAutomation returns one automation, scoped to the owning account/user.
//
// URL: GET /api/automations/{automationId}/account/{accountId}/user/{userId}
func (h *Handler) GetAutomation(w http.ResponseWriter, r *http.Request) {
	acct, ok := h.ownedAccount(w, r)
	if !ok {
		return
	}

	auto, err := h.store.GetAutomation(r.Context(), pathVar(r, "automationId"))
	if err == sql.ErrNoRows || (err == nil && auto.AccountID != acct.ID) {
		writeError(w, http.StatusNotFound, "automation not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, auto)
}

// UpdateAutomation replaces an automation's editable fields. The config is
// re-validated against the (possibly new) type.
//
// URL: PUT /api/automations/{automationId}/account/{accountId}/user/{userId}
func (h *Handler) UpdateAutomation(w http.ResponseWriter, r *http.Request) {
	acct, ok := h.ownedAccount(w, r)
	if !ok {
		return
	}

	existing, err := h.store.GetAutomation(r.Context(), pathVar(r, "automationId"))
	if err == sql.ErrNoRows || (err == nil && existing.AccountID != acct.ID) {
		writeError(w, http.StatusNotFound, "automation not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	var req automationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Type == "" {
		req.Type = existing.Type
	}
	if !validAutomationTypes[req.Type] {
		writeValidationError(w, "type", "unknown automation type")
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		req.Title = existing.Title
	}
	if err := automation.ValidateConfig(req.Type, req.Config); err != nil {
		var ve *automation.ValidationError
		if errors.As(err, &ve) {
			writeValidationError(w, ve.Field, ve.Msg)
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	existing.Type = req.Type
	existing.Title = req.Title
	existing.Description = req.Description
	existing.Config = req.Config
	if req.Active != nil {
		existing.Active = *req.Active
	}

	updated, err := h.store.UpdateAutomation(r.Context(), existing)
	if err != nil {
		log.Printf("[Automations] update failed automationId=%s err=%v", existing.ID, err)
		writeError(w, http.StatusInternalServerError, "update failed")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// DeleteAutomation removes one automation.
//
// URL: DELETE /api/automations/{automationId}/account/{accountId}/user/{userId}
func (h *Handler) DeleteAutomation(w http.ResponseWriter, r *http.Request) {
	acct, ok := h.ownedAccount(w, r)
	if !ok {
		return
	}

	auto, err := h.store.GetAutomation(r.Context(), pathVar(r, "automationId"))
	if err == sql.ErrNoRows || (err == nil && auto.AccountID != acct.ID) {
		writeError(w, http.StatusNotFound, "automation not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	if err := h.store.DeleteAutomation(r.Context(), auto.ID); err != nil {
		if err == sql.ErrNoRows {
			writeError(w, http.StatusNotFound, "automation not found")
			return
		}
		log.Printf("[Automations] delete failed automationId=%s err=%v", auto.ID, err)
		writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}
