package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
)

// Health reports process liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// RegisterRoutes wires every API endpoint onto the router.
func RegisterRoutes(h *Handler, r *mux.Router) {
	r.HandleFunc("/health", h.Health).Methods("GET")

	// Instagram webhook (GET = verification handshake, POST = event delivery)
	r.HandleFunc("/webhook/instagram", h.VerifyWebhook).Methods("GET")
	r.HandleFunc("/webhook/instagram", h.ReceiveWebhook).Methods("POST")

	// Accounts
	r.HandleFunc("/api/accounts/connect/user/{userId}", h.ConnectAccount).Methods("POST")
	r.HandleFunc("/api/accounts/user/{userId}", h.ListAccountsForUser).Methods("GET")
	r.HandleFunc("/api/accounts/{accountId}/user/{userId}", h.GetAccountForUser).Methods("GET")
	r.HandleFunc("/api/accounts/{accountId}/disconnect/user/{userId}", h.DisconnectAccount).Methods("POST")
	r.HandleFunc("/api/accounts/{accountId}/media/user/{userId}", h.ListAccountMedia).Methods("GET")

	// Automations
	r.HandleFunc("/api/automations/account/{accountId}/user/{userId}", h.CreateAutomation).Methods("POST")
	r.HandleFunc("/api/automations/account/{accountId}/user/{userId}", h.ListAutomations).Methods("GET")
	r.HandleFunc("/api/automations/{automationId}/account/{accountId}/user/{userId}", h.GetAutomation).Methods("GET")
	r.HandleFunc("/api/automations/{automationId}/account/{accountId}/user/{userId}", h.UpdateAutomation).Methods("PUT")
	r.HandleFunc("/api/automations/{automationId}/account/{accountId}/user/{userId}", h.DeleteAutomation).Methods("DELETE")

	// Scheduled messages
	r.HandleFunc("/api/scheduled-messages/user/{userId}", h.CreateScheduledMessage).Methods("POST")
	r.HandleFunc("/api/scheduled-messages/user/{userId}", h.ListScheduledMessagesForUser).Methods("GET")
	r.HandleFunc("/api/scheduled-messages/{id}/user/{userId}", h.DeleteScheduledMessage).Methods("DELETE")

	// Activity feed
	r.HandleFunc("/api/activity/account/{accountId}/user/{userId}", h.ListActivityForAccount).Methods("GET")

	// Realtime events
	r.HandleFunc("/api/events/ws", h.EventsWebSocket)

	// Billing
	r.HandleFunc("/api/billing/plans", h.GetBillingPlans).Methods("GET")
	r.HandleFunc("/api/billing/subscription/user/{userId}", h.GetUserSubscription).Methods("GET")
	r.HandleFunc("/api/billing/subscription/user/{userId}", h.CreateSubscription).Methods("POST")
	r.HandleFunc("/api/billing/subscription/cancel/user/{userId}", h.CancelSubscription).Methods("POST")
	r.HandleFunc("/webhook/stripe", h.StripeWebhook).Methods("POST")
}
