package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/replyloop/backend/internal/models"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	return New(db), mock, func() { _ = db.Close() }
}

func TestMarkCommentProcessed_Creates(t *testing.T) {
	s, mock, done := newMockStore(t)
	defer done()

	now := time.Now()
	mock.ExpectQuery(`INSERT INTO public\.processed_comments`).
		WithArgs(sqlmock.AnyArg(), "acc1", "c1", "auto1", "pending").
		WillReturnRows(sqlmock.NewRows([]string{"id", "account_id", "comment_id", "automation_id", "action", "created_at"}).
			AddRow("pc_1", "acc1", "c1", "auto1", "pending", now))

	rec, created, err := s.MarkCommentProcessed(context.Background(), "acc1", "c1", "auto1", "pending")
	if err != nil {
		t.Fatalf("MarkCommentProcessed: %v", err)
	}
	if !created || rec.ID != "pc_1" {
		t.Fatalf("expected fresh record, got created=%v rec=%+v", created, rec)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestMarkCommentProcessed_ConflictReturnsExisting(t *testing.T) {
	s, mock, done := newMockStore(t)
	defer done()

	now := time.Now()
	// ON CONFLICT DO NOTHING returns no rows; the store re-reads the winner.
	mock.ExpectQuery(`INSERT INTO public\.processed_comments`).
		WithArgs(sqlmock.AnyArg(), "acc1", "c1", "auto1", "pending").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`SELECT id, account_id, comment_id, automation_id, action, created_at`).
		WithArgs("acc1", "c1", "auto1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "account_id", "comment_id", "automation_id", "action", "created_at"}).
			AddRow("pc_existing", "acc1", "c1", "auto1", "private_reply_sent", now))

	rec, created, err := s.MarkCommentProcessed(context.Background(), "acc1", "c1", "auto1", "pending")
	if err != nil {
		t.Fatalf("MarkCommentProcessed: %v", err)
	}
	if created {
		t.Fatalf("expected created=false on conflict")
	}
	if rec.ID != "pc_existing" || rec.Action != "private_reply_sent" {
		t.Fatalf("expected existing record back, got %+v", rec)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestIsCommentProcessed(t *testing.T) {
	s, mock, done := newMockStore(t)
	defer done()

	mock.ExpectQuery(`SELECT 1 FROM public\.processed_comments`).
		WithArgs("acc1", "c1", "auto1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectQuery(`SELECT 1 FROM public\.processed_comments`).
		WithArgs("acc1", "c2", "auto1").
		WillReturnError(sql.ErrNoRows)

	got, err := s.IsCommentProcessed(context.Background(), "acc1", "c1", "auto1")
	if err != nil || !got {
		t.Fatalf("expected processed=true, got %v err=%v", got, err)
	}
	got, err = s.IsCommentProcessed(context.Background(), "acc1", "c2", "auto1")
	if err != nil || got {
		t.Fatalf("expected processed=false, got %v err=%v", got, err)
	}
}

func TestClaimScheduledMessage(t *testing.T) {
	s, mock, done := newMockStore(t)
	defer done()

	mock.ExpectExec(`UPDATE public\.scheduled_messages`).
		WithArgs("sched1", "claim_abc").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE public\.scheduled_messages`).
		WithArgs("sched1", "claim_other").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := s.ClaimScheduledMessage(context.Background(), "sched1", "claim_abc")
	if err != nil || !ok {
		t.Fatalf("first claim should win: ok=%v err=%v", ok, err)
	}
	ok, err = s.ClaimScheduledMessage(context.Background(), "sched1", "claim_other")
	if err != nil || ok {
		t.Fatalf("second claim should lose: ok=%v err=%v", ok, err)
	}
}

func TestDeleteScheduledMessage_OnlyPending(t *testing.T) {
	s, mock, done := newMockStore(t)
	defer done()

	mock.ExpectExec(`DELETE FROM public\.scheduled_messages`).
		WithArgs("sched1", "u1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := s.DeleteScheduledMessage(context.Background(), "sched1", "u1")
	if err != nil {
		t.Fatalf("DeleteScheduledMessage: %v", err)
	}
	if ok {
		t.Fatalf("a sent message must not be deletable")
	}
}

func TestUpsertAccount_ReturnsRow(t *testing.T) {
	s, mock, done := newMockStore(t)
	defer done()

	now := time.Now()
	cols := []string{"id", "user_id", "ig_user_id", "ig_business_id", "username", "access_token",
		"token_expires_at", "page_token", "page_token_expires_at", "active", "created_at", "updated_at"}
	mock.ExpectQuery(`INSERT INTO public\.accounts`).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("acc_1", "u1", "ig1", nil, "alice", "tok", nil, nil, nil, true, now, now))

	acct, err := s.UpsertAccount(context.Background(), models.Account{
		UserID:      "u1",
		IGUserID:    "ig1",
		Username:    "alice",
		AccessToken: "tok",
	})
	if err != nil {
		t.Fatalf("UpsertAccount: %v", err)
	}
	if acct.ID != "acc_1" || !acct.Active || acct.IGBusinessID != nil {
		t.Fatalf("unexpected account %+v", acct)
	}
}

func TestRestoreAutomations_NoBackup(t *testing.T) {
	s, mock, done := newMockStore(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT payload FROM public\.automation_backups`).
		WithArgs("ig1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	n, err := s.RestoreAutomations(context.Background(), "acc1", "ig1")
	if err != nil {
		t.Fatalf("RestoreAutomations: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 restored, got %d", n)
	}
}

func TestRestoreAutomations_RecreatesInactive(t *testing.T) {
	s, mock, done := newMockStore(t)
	defer done()

	payload := `[{"id":"old1","accountId":"gone","type":"comment_to_dm","title":"promo","active":true,` +
		`"config":{"keywords":["promo"],"messageTemplate":"hi"},"totalReplies":7}]`

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT payload FROM public\.automation_backups`).
		WithArgs("ig1").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow([]byte(payload)))
	mock.ExpectExec(`INSERT INTO public\.automations`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM public\.automation_backups`).
		WithArgs("ig1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	n, err := s.RestoreAutomations(context.Background(), "acc_new", "ig1")
	if err != nil {
		t.Fatalf("RestoreAutomations: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 restored, got %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestListDueScheduledMessages_ScansLinks(t *testing.T) {
	s, mock, done := newMockStore(t)
	defer done()

	now := time.Now()
	cols := []string{"id", "user_id", "account_id", "recipient", "message", "links",
		"scheduled_for", "status", "error", "sent_at", "created_at", "updated_at"}
	mock.ExpectQuery(`FROM public\.scheduled_messages`).
		WithArgs(25).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("sched1", "u1", "acc1", "r1", "hi", []byte(`[{"label":"Shop","url":"https://x"}]`),
				now, "pending", nil, nil, now, now))

	msgs, err := s.ListDueScheduledMessages(context.Background(), 25)
	if err != nil {
		t.Fatalf("ListDueScheduledMessages: %v", err)
	}
	if len(msgs) != 1 || len(msgs[0].Links) != 1 || msgs[0].Links[0].URL != "https://x" {
		t.Fatalf("unexpected messages %+v", msgs)
	}
}
