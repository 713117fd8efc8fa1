package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/Wachitugo/ConvivenciaLaboral-sub001/internal/history"
	"github.com/Wachitugo/ConvivenciaLaboral-sub001/internal/tenant"
)

const (
	testSessionID  = "5f0c6a1e-2b7d-4c38-9a51-0d3e8f6b7c21"
	otherSessionID = "9b2e4d60-7f1a-4e0c-8d35-6a7c1b9e0f42"
)

func newMockSessions(t *testing.T) (*SessionStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewSessionStore(db), mock
}

func scopedCtx(orgID, userID string) context.Context {
	return tenant.WithContext(context.Background(), tenant.Context{
		OrganizationID: orgID,
		Caller:         tenant.Caller{UserID: userID},
	})
}

func TestSessionAddMessageScopesOrganization(t *testing.T) {
	store, mock := newMockSessions(t)

	mock.ExpectQuery("INSERT INTO assistant\\.chat_messages").WithArgs(
		testSessionID,
		"user",
		"hola",
		[]byte(`[{"uri":"gs://a.pdf","name":"a.pdf"}]`),
		"org-a",
	).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("message-id"))
	mock.ExpectExec("UPDATE assistant\\.chat_sessions").WithArgs(
		testSessionID,
		"org-a",
	).WillReturnResult(sqlmock.NewResult(1, 1))

	err := store.AddMessage(scopedCtx("org-a", "user-a"), testSessionID, "user", "hola", []history.FileRef{{URI: "gs://a.pdf", Name: "a.pdf"}})
	if err != nil {
		t.Fatalf("add message: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSessionAddMessageUnknownSession(t *testing.T) {
	store, mock := newMockSessions(t)
	mock.ExpectQuery("INSERT INTO assistant\\.chat_messages").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	err := store.AddMessage(scopedCtx("org-a", ""), otherSessionID, "user", "hola", nil)
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSessionRequiresOrganization(t *testing.T) {
	store, _ := newMockSessions(t)
	if _, err := store.GetSession(context.Background(), "s"); err == nil {
		t.Fatal("expected error without organization")
	}
	if err := store.AddMessage(context.Background(), "s", "user", "x", nil); err == nil {
		t.Fatal("expected error without organization")
	}
	if _, err := store.CreateSession(context.Background(), "", "u", ""); err == nil {
		t.Fatal("expected error without organization")
	}
}

func TestSessionGetScopesUser(t *testing.T) {
	store, mock := newMockSessions(t)
	now := time.Now()

	mock.ExpectQuery(`SELECT id, organization_id, user_id, COALESCE\(case_id, ''\), title, created_at, updated_at`).
		WithArgs(testSessionID, "org-a", "user-a").
		WillReturnRows(sqlmock.NewRows([]string{"id", "organization_id", "user_id", "case_id", "title", "created_at", "updated_at"}).
			AddRow(testSessionID, "org-a", "user-a", "case-1", "Conflicto", now, now))

	session, err := store.GetSession(scopedCtx("org-a", "user-a"), testSessionID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if session.CaseID != "case-1" || session.UserID != "user-a" {
		t.Fatalf("unexpected session %+v", session)
	}
}

func TestSessionRecentMessagesDecodesAttachments(t *testing.T) {
	store, mock := newMockSessions(t)
	now := time.Now()

	mock.ExpectQuery(`SELECT \* FROM \(SELECT`).
		WithArgs(testSessionID, "org-a", 5).
		WillReturnRows(sqlmock.NewRows([]string{"role", "content", "attachments", "created_at"}).
			AddRow("user", "te envío el acta", []byte(`[{"uri":"gs://acta.pdf","kind":"document"}]`), now).
			AddRow("assistant", "Recibido", []byte(`[]`), now))

	messages, err := store.GetRecentMessages(scopedCtx("org-a", ""), testSessionID, 5)
	if err != nil {
		t.Fatalf("GetRecentMessages: %v", err)
	}
	if len(messages) != 2 || len(messages[0].Attachments) != 1 || messages[0].Attachments[0].Kind != history.KindDocument {
		t.Fatalf("unexpected messages %+v", messages)
	}
}

func TestSessionRejectsMalformedID(t *testing.T) {
	store, mock := newMockSessions(t)
	ctx := scopedCtx("org-a", "user-a")

	if _, err := store.GetSession(ctx, "not-a-uuid"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("GetSession: expected ErrSessionNotFound, got %v", err)
	}
	if err := store.AddMessage(ctx, "not-a-uuid", "user", "hola", nil); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("AddMessage: expected ErrSessionNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("no queries expected: %v", err)
	}
}

func TestSessionCreate(t *testing.T) {
	store, mock := newMockSessions(t)
	mock.ExpectQuery("INSERT INTO assistant\\.chat_sessions").
		WithArgs("org-a", "user-a", nil).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("new-id"))

	id, err := store.CreateSession(context.Background(), "org-a", "user-a", "")
	if err != nil || id != "new-id" {
		t.Fatalf("CreateSession = %q, %v", id, err)
	}
}

func TestSessionDeleteNotFound(t *testing.T) {
	store, mock := newMockSessions(t)
	mock.ExpectExec("DELETE FROM assistant\\.chat_sessions").
		WithArgs(testSessionID, "org-a").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.DeleteSession(scopedCtx("org-a", ""), testSessionID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}
