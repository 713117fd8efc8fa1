package chat

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Wachitugo/ConvivenciaLaboral-sub001/internal/history"
	"github.com/Wachitugo/ConvivenciaLaboral-sub001/internal/tenant"
	"github.com/Wachitugo/ConvivenciaLaboral-sub001/pkg/database"
)

var ErrSessionNotFound = errors.New("session not found")

var errTenantRequired = errors.New("organization ID is required")

// validSessionID reports whether id can match the UUID primary key.
func validSessionID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

type Session struct {
	ID             string            `json:"id"`
	OrganizationID string            `json:"organization_id"`
	UserID         string            `json:"user_id"`
	CaseID         string            `json:"case_id,omitempty"`
	Title          string            `json:"title"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	Messages       []history.Message `json:"messages,omitempty"`
}

type SessionSummary struct {
	ID            string       `json:"id"`
	CaseID        string       `json:"case_id,omitempty"`
	Title         string       `json:"title"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
	LastMessageAt sql.NullTime `json:"-"`
	MessageCount  int          `json:"message_count"`
}

// SessionStore persists chat sessions. Every query is scoped to the
// organization (and user, when present) of the request's tenant context.
type SessionStore struct {
	db *sql.DB
}

func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

func (s *SessionStore) CreateSession(ctx context.Context, organizationID, userID, caseID string) (string, error) {
	if organizationID == "" {
		return "", errTenantRequired
	}

	var sessionID string
	err := s.db.QueryRowContext(
		ctx,
		`INSERT INTO assistant.chat_sessions (organization_id, user_id, case_id)
		 VALUES ($1, $2, $3)
		 RETURNING id`,
		organizationID,
		userID,
		database.NullableString(caseID),
	).Scan(&sessionID)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return sessionID, nil
}

func (s *SessionStore) GetSession(ctx context.Context, sessionID string) (Session, error) {
	orgID := tenant.OrganizationID(ctx)
	if orgID == "" {
		return Session{}, errTenantRequired
	}
	if !validSessionID(sessionID) {
		return Session{}, ErrSessionNotFound
	}

	query := `SELECT id, organization_id, user_id, COALESCE(case_id, ''), title, created_at, updated_at
		 FROM assistant.chat_sessions
		 WHERE id = $1 AND organization_id = $2`
	args := []any{sessionID, orgID}
	if userID := tenant.UserID(ctx); userID != "" {
		query += " AND user_id = $3"
		args = append(args, userID)
	}

	var session Session
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&session.ID,
		&session.OrganizationID,
		&session.UserID,
		&session.CaseID,
		&session.Title,
		&session.CreatedAt,
		&session.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

// GetSessionWithMessages loads the session and its full message list.
func (s *SessionStore) GetSessionWithMessages(ctx context.Context, sessionID string) (Session, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}
	messages, err := s.fetchMessages(ctx, session.OrganizationID, sessionID, 0)
	if err != nil {
		return Session{}, err
	}
	session.Messages = messages
	return session, nil
}

func (s *SessionStore) ListSessions(ctx context.Context, limit, offset int) ([]SessionSummary, error) {
	orgID := tenant.OrganizationID(ctx)
	if orgID == "" {
		return nil, errTenantRequired
	}
	if limit <= 0 {
		limit = 25
	}

	query := `SELECT
			s.id,
			COALESCE(s.case_id, ''),
			s.title,
			s.created_at,
			s.updated_at,
			MAX(m.created_at) AS last_message_at,
			COUNT(m.id) AS message_count
		FROM assistant.chat_sessions s
		LEFT JOIN assistant.chat_messages m ON m.session_id = s.id
		WHERE s.organization_id = $1`
	args := []any{orgID}
	argIdx := 2

	if userID := tenant.UserID(ctx); userID != "" {
		query += fmt.Sprintf(" AND s.user_id = $%d", argIdx)
		args = append(args, userID)
		argIdx++
	}

	query += fmt.Sprintf(` GROUP BY s.id, s.case_id, s.title, s.created_at, s.updated_at
		ORDER BY COALESCE(MAX(m.created_at), s.created_at) DESC
		LIMIT $%d OFFSET $%d`, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var summaries []SessionSummary
	for rows.Next() {
		var summary SessionSummary
		if err := rows.Scan(
			&summary.ID,
			&summary.CaseID,
			&summary.Title,
			&summary.CreatedAt,
			&summary.UpdatedAt,
			&summary.LastMessageAt,
			&summary.MessageCount,
		); err != nil {
			return nil, fmt.Errorf("scan session summary: %w", err)
		}
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions rows: %w", err)
	}
	return summaries, nil
}

func (s *SessionStore) AddMessage(ctx context.Context, sessionID, role, content string, attachments []history.FileRef) error {
	orgID := tenant.OrganizationID(ctx)
	if orgID == "" {
		return errTenantRequired
	}
	if !validSessionID(sessionID) {
		return ErrSessionNotFound
	}
	if attachments == nil {
		attachments = []history.FileRef{}
	}
	attachmentsJSON, err := json.Marshal(attachments)
	if err != nil {
		return fmt.Errorf("encode attachments: %w", err)
	}

	var messageID string
	err = s.db.QueryRowContext(
		ctx,
		`INSERT INTO assistant.chat_messages (session_id, role, content, attachments)
		SELECT s.id, $2, $3, $4
		FROM assistant.chat_sessions s
		WHERE s.id = $1 AND s.organization_id = $5
		RETURNING id`,
		sessionID,
		role,
		content,
		attachmentsJSON,
		orgID,
	).Scan(&messageID)
	if err != nil {
		if errors.Is(err, database.ErrNoRows) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("add message: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		`UPDATE assistant.chat_sessions
		 SET updated_at = NOW()
		 WHERE id = $1 AND organization_id = $2`,
		sessionID,
		orgID,
	)
	if err != nil {
		return fmt.Errorf("update session timestamp: %w", err)
	}
	return nil
}

func (s *SessionStore) UpdateTitle(ctx context.Context, sessionID, title string) error {
	orgID := tenant.OrganizationID(ctx)
	if orgID == "" {
		return errTenantRequired
	}
	if !validSessionID(sessionID) {
		return ErrSessionNotFound
	}

	query := `UPDATE assistant.chat_sessions
		 SET title = $1, updated_at = NOW()
		 WHERE id = $2 AND organization_id = $3`
	args := []any{title, sessionID, orgID}
	if userID := tenant.UserID(ctx); userID != "" {
		query += " AND user_id = $4"
		args = append(args, userID)
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update title: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// DeleteSession removes the session; messages go with it through the
// foreign key cascade.
func (s *SessionStore) DeleteSession(ctx context.Context, sessionID string) error {
	orgID := tenant.OrganizationID(ctx)
	if orgID == "" {
		return errTenantRequired
	}
	if !validSessionID(sessionID) {
		return ErrSessionNotFound
	}

	query := `DELETE FROM assistant.chat_sessions WHERE id = $1 AND organization_id = $2`
	args := []any{sessionID, orgID}
	if userID := tenant.UserID(ctx); userID != "" {
		query += " AND user_id = $3"
		args = append(args, userID)
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// GetRecentMessages returns at most limit messages, oldest first.
func (s *SessionStore) GetRecentMessages(ctx context.Context, sessionID string, limit int) ([]history.Message, error) {
	orgID := tenant.OrganizationID(ctx)
	if orgID == "" {
		return nil, errTenantRequired
	}
	if !validSessionID(sessionID) {
		return nil, ErrSessionNotFound
	}
	if limit <= 0 {
		limit = 25
	}
	return s.fetchMessages(ctx, orgID, sessionID, limit)
}

func (s *SessionStore) fetchMessages(ctx context.Context, orgID, sessionID string, limit int) ([]history.Message, error) {
	query := `SELECT
		m.role,
		m.content,
		m.attachments,
		m.created_at
	FROM assistant.chat_messages m
	JOIN assistant.chat_sessions s ON m.session_id = s.id
	WHERE m.session_id = $1 AND s.organization_id = $2`

	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = s.db.QueryContext(
			ctx,
			`SELECT * FROM (`+query+` ORDER BY m.created_at DESC LIMIT $3) recent ORDER BY created_at ASC`,
			sessionID,
			orgID,
			limit,
		)
	} else {
		rows, err = s.db.QueryContext(ctx, query+` ORDER BY m.created_at ASC`, sessionID, orgID)
	}
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	defer rows.Close()

	var messages []history.Message
	for rows.Next() {
		var (
			message     history.Message
			attachments []byte
			createdAt   time.Time
		)
		if err := rows.Scan(&message.Role, &message.Content, &attachments, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if len(attachments) > 0 {
			if err := json.Unmarshal(attachments, &message.Attachments); err != nil {
				return nil, fmt.Errorf("decode attachments: %w", err)
			}
		}
		messages = append(messages, message)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get messages rows: %w", err)
	}
	return messages, nil
}
