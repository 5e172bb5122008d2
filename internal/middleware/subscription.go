package middleware

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"strings"
)

// PlanLimits defines the limits for each plan.
type PlanLimits struct {
	Accounts          int `json:"accounts"`           // -1 = unlimited
	Automations       int `json:"automations"`        // per account, -1 = unlimited
	ScheduledMessages int `json:"scheduled_messages"` // pending at once, -1 = unlimited
}

// SubscriptionEnforcer enforces plan limits on resource-creating routes.
type SubscriptionEnforcer struct {
	DB     *sql.DB
	Limits map[string]PlanLimits
}

func NewSubscriptionEnforcer(db *sql.DB) *SubscriptionEnforcer {
	limits := map[string]PlanLimits{
		"free": {
			Accounts:          1,
			Automations:       3,
			ScheduledMessages: 10,
		},
		"pro": {
			Accounts:          5,
			Automations:       25,
			ScheduledMessages: -1,
		},
		"enterprise": {
			Accounts:          -1,
			Automations:       -1,
			ScheduledMessages: -1,
		},
	}

	return &SubscriptionEnforcer{
		DB:     db,
		Limits: limits,
	}
}

// Middleware returns an HTTP middleware that enforces subscription limits.
func (se *SubscriptionEnforcer) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if se.shouldSkip(r) {
			next.ServeHTTP(w, r)
			return
		}

		userID := se.extractUserID(r)
		if userID == "" {
			next.ServeHTTP(w, r)
			return
		}

		planID, err := se.getUserPlan(userID)
		if err != nil {
			// If the plan can't be determined, default to free tier.
			planID = "free"
		}

		if !se.checkLimits(r, userID, planID) {
			se.respondLimitExceeded(w, planID)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// shouldSkip returns true for routes that never consume plan quota: webhooks
// must always be accepted, and billing must stay reachable to upgrade.
func (se *SubscriptionEnforcer) shouldSkip(r *http.Request) bool {
	skipPaths := []string{
		"/webhook",
		"/api/billing",
		"/health",
		"/api/events",
	}

	for _, path := range skipPaths {
		if strings.HasPrefix(r.URL.Path, path) {
			return true
		}
	}

	return false
}

// extractUserID pulls the user id from path segments like
// /api/accounts/user/{userId}.
func (se *SubscriptionEnforcer) extractUserID(r *http.Request) string {
	parts := strings.Split(r.URL.Path, "/")
	for i, part := range parts {
		if part == "user" && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	return ""
}

func (se *SubscriptionEnforcer) getUserPlan(userID string) (string, error) {
	var planID string
	err := se.DB.QueryRow(`
		SELECT COALESCE(plan_id, 'free') as plan_id
		FROM public.subscriptions
		WHERE user_id = $1 AND status = 'active'
	`, userID).Scan(&planID)

	if err == sql.ErrNoRows {
		return "free", nil
	}

	return planID, err
}

// checkLimits verifies the request stays within the plan's quota.
func (se *SubscriptionEnforcer) checkLimits(r *http.Request, userID, planID string) bool {
	if r.Method != http.MethodPost {
		return true
	}
	limits := se.Limits[planID]

	switch {
	case strings.Contains(r.URL.Path, "/accounts/connect"):
		if limits.Accounts < 0 {
			return true
		}
		var count int
		se.DB.QueryRow(`
			SELECT COUNT(*) FROM public.accounts WHERE user_id = $1 AND active
		`, userID).Scan(&count)
		return count < limits.Accounts

	case strings.Contains(r.URL.Path, "/automations"):
		if limits.Automations < 0 {
			return true
		}
		accountID := se.extractAccountID(r)
		if accountID == "" {
			return true
		}
		var count int
		se.DB.QueryRow(`
			SELECT COUNT(*) FROM public.automations WHERE account_id = $1
		`, accountID).Scan(&count)
		return count < limits.Automations

	case strings.Contains(r.URL.Path, "/scheduled-messages"):
		if limits.ScheduledMessages < 0 {
			return true
		}
		var count int
		se.DB.QueryRow(`
			SELECT COUNT(*)
			  FROM public.scheduled_messages sm
			  JOIN public.accounts a ON a.id = sm.account_id
			 WHERE a.user_id = $1 AND sm.status = 'pending'
		`, userID).Scan(&count)
		return count < limits.ScheduledMessages
	}

	return true
}

// extractAccountID pulls the account id from path segments like
// /api/automations/account/{accountId}/user/{userId}.
func (se *SubscriptionEnforcer) extractAccountID(r *http.Request) string {
	parts := strings.Split(r.URL.Path, "/")
	for i, part := range parts {
		if part == "account" && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	return ""
}

func (se *SubscriptionEnforcer) respondLimitExceeded(w http.ResponseWriter, planID string) {
	limits := se.Limits[planID]

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)

	response := map[string]interface{}{
		"error":       "subscription_limit_exceeded",
		"message":     "Your current plan has reached its limits",
		"plan":        planID,
		"limits":      limits,
		"upgrade_url": "/account/billing",
	}

	json.NewEncoder(w).Encode(response)
}
