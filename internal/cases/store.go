// Package cases is the narrow read/update view the assistant has over case
// records owned by the case-management product.
package cases

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Wachitugo/ConvivenciaLaboral-sub001/internal/tenant"
)

var ErrCaseNotFound = errors.New("case not found")

const StatusProtocolActive = "protocol_active"

type Case struct {
	ID             string
	OrganizationID string
	Title          string
	Summary        string
	Status         string
	ProtocolName   string
	SeverityLevel  string
	UpdatedAt      time.Time
}

// Update carries the fields to change. Nil fields are left untouched.
type Update struct {
	Status        *string
	ProtocolName  *string
	SeverityLevel *string
}

func (u Update) empty() bool {
	return u.Status == nil && u.ProtocolName == nil && u.SeverityLevel == nil
}

type Store interface {
	GetCase(ctx context.Context, id string) (*Case, error)
	UpdateCase(ctx context.Context, id string, update Update) error
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// GetCase returns ErrCaseNotFound when the case does not exist or belongs to
// another organization than the one in the request context.
func (s *PostgresStore) GetCase(ctx context.Context, id string) (*Case, error) {
	if id == "" {
		return nil, ErrCaseNotFound
	}
	query := `SELECT id, organization_id, title, summary, status,
			COALESCE(protocol_name, ''), COALESCE(severity_level, ''), updated_at
		FROM assistant.cases
		WHERE id = $1`
	args := []any{id}
	if orgID := tenant.OrganizationID(ctx); orgID != "" {
		query += " AND organization_id = $2"
		args = append(args, orgID)
	}

	var c Case
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&c.ID,
		&c.OrganizationID,
		&c.Title,
		&c.Summary,
		&c.Status,
		&c.ProtocolName,
		&c.SeverityLevel,
		&c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCaseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get case: %w", err)
	}
	return &c, nil
}

func (s *PostgresStore) UpdateCase(ctx context.Context, id string, update Update) error {
	if update.empty() {
		return nil
	}

	var sets []string
	var args []any
	argIdx := 1
	add := func(column string, value *string) {
		if value == nil {
			return
		}
		sets = append(sets, fmt.Sprintf("%s = $%d", column, argIdx))
		args = append(args, *value)
		argIdx++
	}
	add("status", update.Status)
	add("protocol_name", update.ProtocolName)
	add("severity_level", update.SeverityLevel)

	query := fmt.Sprintf(`UPDATE assistant.cases SET %s, updated_at = NOW() WHERE id = $%d`,
		strings.Join(sets, ", "), argIdx)
	args = append(args, id)
	argIdx++
	if orgID := tenant.OrganizationID(ctx); orgID != "" {
		query += fmt.Sprintf(" AND organization_id = $%d", argIdx)
		args = append(args, orgID)
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update case: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrCaseNotFound
	}
	return nil
}

// RetrievalIndex returns the knowledge index an organization searches, or ""
// when none is configured.
func (s *PostgresStore) RetrievalIndex(ctx context.Context, organizationID string) (string, error) {
	var indexID sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT retrieval_index_id FROM assistant.organizations WHERE id = $1`,
		organizationID,
	).Scan(&indexID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get retrieval index: %w", err)
	}
	return indexID.String, nil
}
