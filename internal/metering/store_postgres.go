package metering

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresStore keeps policies, memberships and usage counters in the
// assistant schema.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Usage(ctx context.Context, kind OwnerKind, ownerID, period string) (UsageRecord, error) {
	record := UsageRecord{OwnerID: ownerID, OwnerKind: kind, Period: period}
	err := s.db.QueryRowContext(ctx, `
		SELECT input_units, output_units
		FROM assistant.usage_records
		WHERE owner_kind = $1 AND owner_id = $2 AND period = $3
	`, string(kind), ownerID, period).Scan(&record.InputUnits, &record.OutputUnits)
	if errors.Is(err, sql.ErrNoRows) {
		return record, nil
	}
	if err != nil {
		return UsageRecord{}, fmt.Errorf("query usage: %w", err)
	}
	return record, nil
}

func (s *PostgresStore) IncrementUsage(ctx context.Context, kind OwnerKind, ownerID, period string, input, output int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO assistant.usage_records (owner_kind, owner_id, period, input_units, output_units, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (owner_kind, owner_id, period) DO UPDATE SET
			input_units = assistant.usage_records.input_units + EXCLUDED.input_units,
			output_units = assistant.usage_records.output_units + EXCLUDED.output_units,
			updated_at = NOW()
	`, string(kind), ownerID, period, input, output)
	if err != nil {
		return fmt.Errorf("increment usage: %w", err)
	}
	return nil
}

func (s *PostgresStore) Limits(ctx context.Context, kind OwnerKind, ownerID string) (LimitPolicy, error) {
	var input, output sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT input_limit, output_limit
		FROM assistant.limit_policies
		WHERE owner_kind = $1 AND owner_id = $2
	`, string(kind), ownerID).Scan(&input, &output)
	if errors.Is(err, sql.ErrNoRows) {
		return LimitPolicy{}, nil
	}
	if err != nil {
		return LimitPolicy{}, fmt.Errorf("query limits: %w", err)
	}
	var policy LimitPolicy
	if input.Valid {
		policy.InputLimit = int64Ptr(input.Int64)
	}
	if output.Valid {
		policy.OutputLimit = int64Ptr(output.Int64)
	}
	return policy, nil
}

func (s *PostgresStore) Organizations(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT organization_id
		FROM assistant.organization_members
		WHERE user_id = $1
		ORDER BY created_at, organization_id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query organizations: %w", err)
	}
	defer rows.Close()

	var orgs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan organization: %w", err)
		}
		orgs = append(orgs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate organizations: %w", err)
	}
	return orgs, nil
}
