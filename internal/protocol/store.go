package protocol

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Wachitugo/ConvivenciaLaboral-sub001/pkg/database"
)

// maxUpdateAttempts bounds retries when two writers race to create the same
// case's first instance.
const maxUpdateAttempts = 3

var errCreateConflict = errors.New("protocol created concurrently")

// UpdateFunc receives the stored instance, or nil when the case has none yet,
// and returns the instance to write. Returning a nil instance leaves the row
// untouched.
type UpdateFunc func(current *Instance) (*Instance, error)

type Store interface {
	GetProtocol(ctx context.Context, caseID string) (*Instance, error)
	// UpdateProtocol runs fn against the current row and writes its result
	// before any other writer can read the row.
	UpdateProtocol(ctx context.Context, caseID string, fn UpdateFunc) (*Instance, error)
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const selectProtocolSQL = `SELECT case_id, session_id, protocol_name, category, severity_level,
		current_step, is_completed, steps, created_at, updated_at
	FROM assistant.protocols
	WHERE case_id = $1`

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresStore) GetProtocol(ctx context.Context, caseID string) (*Instance, error) {
	return scanInstance(s.db.QueryRowContext(ctx, selectProtocolSQL, caseID))
}

// UpdateProtocol loads the row with SELECT ... FOR UPDATE, applies fn and
// writes the result in the same transaction. fn may run more than once.
func (s *PostgresStore) UpdateProtocol(ctx context.Context, caseID string, fn UpdateFunc) (*Instance, error) {
	if caseID == "" {
		return nil, errors.New("protocol case ID is required")
	}
	for attempt := 1; ; attempt++ {
		inst, err := s.updateOnce(ctx, caseID, fn)
		if errors.Is(err, errCreateConflict) && attempt < maxUpdateAttempts {
			continue
		}
		return inst, err
	}
}

func (s *PostgresStore) updateOnce(ctx context.Context, caseID string, fn UpdateFunc) (_ *Instance, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin protocol update: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	current, err := scanInstance(tx.QueryRowContext(ctx, selectProtocolSQL+` FOR UPDATE`, caseID))
	if errors.Is(err, ErrProtocolNotFound) {
		current, err = nil, nil
	}
	if err != nil {
		return nil, err
	}

	next, err := fn(current)
	if err != nil {
		return nil, err
	}
	if next == nil {
		if err = tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit protocol update: %w", err)
		}
		return current, nil
	}
	if next.CaseID != caseID {
		return nil, fmt.Errorf("protocol case ID mismatch: %q != %q", next.CaseID, caseID)
	}

	if current == nil {
		err = insertInstance(ctx, tx, next)
	} else {
		err = updateInstance(ctx, tx, next)
	}
	if err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit protocol update: %w", err)
	}
	return next, nil
}

func scanInstance(row rowScanner) (*Instance, error) {
	var (
		inst      Instance
		sessionID sql.NullString
		severity  sql.NullString
		current   sql.NullInt64
		steps     []byte
	)
	err := row.Scan(
		&inst.CaseID,
		&sessionID,
		&inst.ProtocolName,
		&inst.Category,
		&severity,
		&current,
		&inst.IsCompleted,
		&steps,
		&inst.CreatedAt,
		&inst.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProtocolNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get protocol: %w", err)
	}

	if err := json.Unmarshal(steps, &inst.Steps); err != nil {
		return nil, fmt.Errorf("decode protocol steps: %w", err)
	}
	inst.SessionID = sessionID.String
	inst.SeverityLevel = severity.String
	if current.Valid {
		cur := int(current.Int64)
		inst.CurrentStep = &cur
	}
	return &inst, nil
}

func encodeInstance(inst *Instance) ([]byte, sql.NullInt64, error) {
	steps, err := json.Marshal(inst.Steps)
	if err != nil {
		return nil, sql.NullInt64{}, fmt.Errorf("encode protocol steps: %w", err)
	}
	var current sql.NullInt64
	if inst.CurrentStep != nil {
		current = sql.NullInt64{Int64: int64(*inst.CurrentStep), Valid: true}
	}
	return steps, current, nil
}

// insertInstance creates the first row for a case. Losing the race to another
// creator yields errCreateConflict so the caller can retry as a merge.
func insertInstance(ctx context.Context, tx *sql.Tx, inst *Instance) error {
	steps, current, err := encodeInstance(inst)
	if err != nil {
		return err
	}
	result, err := tx.ExecContext(ctx,
		`INSERT INTO assistant.protocols (
			case_id, session_id, protocol_name, category, severity_level,
			current_step, is_completed, steps, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (case_id) DO NOTHING`,
		inst.CaseID,
		database.NullableString(inst.SessionID),
		inst.ProtocolName,
		inst.Category,
		database.NullableString(inst.SeverityLevel),
		current,
		inst.IsCompleted,
		steps,
		inst.CreatedAt,
		inst.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert protocol: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return errCreateConflict
	}
	return nil
}

func updateInstance(ctx context.Context, tx *sql.Tx, inst *Instance) error {
	steps, current, err := encodeInstance(inst)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE assistant.protocols SET
			session_id = COALESCE($2, session_id),
			protocol_name = $3,
			category = $4,
			severity_level = $5,
			current_step = $6,
			is_completed = $7,
			steps = $8,
			updated_at = $9
		WHERE case_id = $1`,
		inst.CaseID,
		database.NullableString(inst.SessionID),
		inst.ProtocolName,
		inst.Category,
		database.NullableString(inst.SeverityLevel),
		current,
		inst.IsCompleted,
		steps,
		inst.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update protocol: %w", err)
	}
	return nil
}
