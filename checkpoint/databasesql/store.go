// Package databasesql provides a durable checkpoint.Store on the
// standard database/sql interface. It targets PostgreSQL through the
// lib/pq driver but works with any driver that speaks $n placeholders.
package databasesql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	// Registers the postgres driver for sql.Open("postgres", ...).
	_ "github.com/lib/pq"

	"github.com/ctxwindow/ctxwindow/checkpoint"
)

// Store implements checkpoint.Store on *sql.DB.
type Store struct {
	db *sql.DB
}

// New creates a Store using the given database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateSchema applies the same table schema as the pgx backend.
func (s *Store) CreateSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create checkpoint schema: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS ctxwindow_checkpoints (
	id UUID PRIMARY KEY,
	session_id UUID NOT NULL,
	reason TEXT NOT NULL,
	kind TEXT NOT NULL,
	base_id UUID,
	turn_counter BIGINT NOT NULL,
	milestone BOOLEAN NOT NULL DEFAULT FALSE,
	workflow_view JSONB NOT NULL,
	conversational_view JSONB NOT NULL,
	history_blob BYTEA,
	history_raw_size INTEGER NOT NULL DEFAULT 0,
	history_checksum TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_ctxwindow_checkpoints_session
	ON ctxwindow_checkpoints (session_id, turn_counter DESC);
`

// Save implements checkpoint.Store.
func (s *Store) Save(ctx context.Context, cp *checkpoint.Checkpoint) (uuid.UUID, error) {
	workflowJSON, err := json.Marshal(cp.Workflow)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal workflow view: %w", err)
	}
	conversationalJSON, err := json.Marshal(cp.Conversational)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal conversational view: %w", err)
	}

	id := cp.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return uuid.Nil, fmt.Errorf("begin checkpoint save: %w", err)
	}
	defer tx.Rollback()

	var latestCounter int64
	err = tx.QueryRowContext(ctx, `
		SELECT turn_counter FROM ctxwindow_checkpoints
		WHERE session_id = $1
		ORDER BY turn_counter DESC, created_at DESC
		LIMIT 1
		FOR UPDATE
	`, cp.SessionID).Scan(&latestCounter)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, fmt.Errorf("query latest counter: %w", err)
	}
	if err == nil && cp.TurnCounter < latestCounter {
		return uuid.Nil, checkpoint.ErrOutOfOrderCheckpoint
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ctxwindow_checkpoints
			(id, session_id, reason, kind, base_id, turn_counter, milestone,
			 workflow_view, conversational_view,
			 history_blob, history_raw_size, history_checksum, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
	`, id, cp.SessionID, string(cp.Reason), string(cp.Kind), cp.BaseID,
		cp.TurnCounter, cp.Milestone, workflowJSON, conversationalJSON,
		cp.HistoryBlob, cp.HistoryRawSize, cp.HistoryChecksum)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert checkpoint: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return uuid.Nil, fmt.Errorf("commit checkpoint save: %w", err)
	}
	return id, nil
}

const selectColumns = `
	id, session_id, reason, kind, base_id, turn_counter, milestone,
	workflow_view, conversational_view,
	history_blob, history_raw_size, history_checksum, created_at
`

// Get implements checkpoint.Store.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*checkpoint.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+selectColumns+`
		FROM ctxwindow_checkpoints WHERE id = $1
	`, id)

	cp, err := scanCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, checkpoint.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get checkpoint: %w", err)
	}
	return cp, nil
}

// GetLatest implements checkpoint.Store.
func (s *Store) GetLatest(ctx context.Context, sessionID uuid.UUID) (*checkpoint.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+selectColumns+`
		FROM ctxwindow_checkpoints
		WHERE session_id = $1
		ORDER BY turn_counter DESC, created_at DESC
		LIMIT 1
	`, sessionID)

	cp, err := scanCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, checkpoint.ErrNoCheckpoint
	}
	if err != nil {
		return nil, fmt.Errorf("get latest checkpoint: %w", err)
	}
	return cp, nil
}

// Delete implements checkpoint.Store.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM ctxwindow_checkpoints WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

// ListBySession implements checkpoint.Store.
func (s *Store) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*checkpoint.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+selectColumns+`
		FROM ctxwindow_checkpoints
		WHERE session_id = $1
		ORDER BY turn_counter DESC, created_at DESC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var list []*checkpoint.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		list = append(list, cp)
	}
	return list, rows.Err()
}

// Sweep implements checkpoint.Store.
func (s *Store) Sweep(ctx context.Context, policy checkpoint.RetentionPolicy) (int, error) {
	cutoff := time.Now().Add(-policy.TTL)
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM ctxwindow_checkpoints
		WHERE milestone = FALSE
		  AND created_at < $1
		  AND id NOT IN (
			SELECT id FROM (
				SELECT id, ROW_NUMBER() OVER (
					PARTITION BY session_id
					ORDER BY turn_counter DESC, created_at DESC
				) AS rank
				FROM ctxwindow_checkpoints
			) ranked
			WHERE ranked.rank <= $2
		  )
	`, cutoff, policy.MaxPerSession)
	if err != nil {
		return 0, fmt.Errorf("sweep checkpoints: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sweep rows affected: %w", err)
	}
	return int(affected), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row rowScanner) (*checkpoint.Checkpoint, error) {
	var (
		cp                 checkpoint.Checkpoint
		reason, kind       string
		baseID             sql.NullString
		workflowJSON       []byte
		conversationalJSON []byte
	)

	err := row.Scan(
		&cp.ID,
		&cp.SessionID,
		&reason,
		&kind,
		&baseID,
		&cp.TurnCounter,
		&cp.Milestone,
		&workflowJSON,
		&conversationalJSON,
		&cp.HistoryBlob,
		&cp.HistoryRawSize,
		&cp.HistoryChecksum,
		&cp.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	cp.Reason = checkpoint.TriggerReason(reason)
	cp.Kind = checkpoint.Kind(kind)

	if baseID.Valid {
		parsed, err := uuid.Parse(baseID.String)
		if err != nil {
			return nil, fmt.Errorf("parse base_id: %w", err)
		}
		cp.BaseID = &parsed
	}

	if err := json.Unmarshal(workflowJSON, &cp.Workflow); err != nil {
		return nil, fmt.Errorf("unmarshal workflow view: %w", err)
	}
	if err := json.Unmarshal(conversationalJSON, &cp.Conversational); err != nil {
		return nil, fmt.Errorf("unmarshal conversational view: %w", err)
	}
	return &cp, nil
}
