package middleware

import (
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func newEnforcer(t *testing.T) (*SubscriptionEnforcer, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewSubscriptionEnforcer(db), mock
}

func TestMiddleware_SkipsWebhookPaths(t *testing.T) {
	se, _ := newEnforcer(t)
	h := se.Middleware(okHandler())

	for _, path := range []string{"/webhook/instagram", "/api/billing/plans", "/health", "/api/events/ws"} {
		req := httptest.NewRequest("POST", path, nil)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected pass-through, got %d", path, rr.Code)
		}
	}
}

func TestMiddleware_FreePlanAutomationLimit(t *testing.T) {
	se, mock := newEnforcer(t)
	h := se.Middleware(okHandler())

	// No active subscription row, so the user is on the free plan.
	mock.ExpectQuery(`FROM public\.subscriptions`).
		WithArgs("u1").
		WillReturnError(sql.ErrNoRows)
	// Already at the free plan's 3-automation cap.
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM public\.automations`).
		WithArgs("acc1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	req := httptest.NewRequest("POST", "/api/automations/account/acc1/user/u1", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402 at the cap, got %d", rr.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestMiddleware_UnderLimitPasses(t *testing.T) {
	se, mock := newEnforcer(t)
	h := se.Middleware(okHandler())

	mock.ExpectQuery(`FROM public\.subscriptions`).
		WithArgs("u1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM public\.automations`).
		WithArgs("acc1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	req := httptest.NewRequest("POST", "/api/automations/account/acc1/user/u1", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected pass under the cap, got %d", rr.Code)
	}
}

func TestMiddleware_EnterpriseUnlimited(t *testing.T) {
	se, mock := newEnforcer(t)
	h := se.Middleware(okHandler())

	mock.ExpectQuery(`FROM public\.subscriptions`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"plan_id"}).AddRow("enterprise"))

	req := httptest.NewRequest("POST", "/api/automations/account/acc1/user/u1", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("enterprise must never hit a count query, got %d", rr.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestMiddleware_ReadsAreNeverLimited(t *testing.T) {
	se, mock := newEnforcer(t)
	h := se.Middleware(okHandler())

	mock.ExpectQuery(`FROM public\.subscriptions`).
		WithArgs("u1").
		WillReturnError(sql.ErrNoRows)

	req := httptest.NewRequest("GET", "/api/automations/account/acc1/user/u1", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("GET must pass regardless of quota, got %d", rr.Code)
	}
}

func TestExtractUserID(t *testing.T) {
	se, _ := newEnforcer(t)

	req := httptest.NewRequest("POST", "/api/scheduled-messages/user/u42", nil)
	if got := se.extractUserID(req); got != "u42" {
		t.Fatalf("expected u42, got %q", got)
	}

	req = httptest.NewRequest("POST", "/api/billing/plans", nil)
	if got := se.extractUserID(req); got != "" {
		t.Fatalf("expected empty user id, got %q", got)
	}
}
