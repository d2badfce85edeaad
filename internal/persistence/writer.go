package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// ActionLogWriter writes processed actions and their journal entries to
// Postgres using multi-row INSERTs. Writes are idempotent: replays and
// retried batches hit ON CONFLICT DO NOTHING.
type ActionLogWriter struct {
	db *sql.DB
}

// ActionRow represents a row in event_log.actions.
type ActionRow struct {
	Sequence       int64
	ActionType     string
	IdempotencyKey string
	CurveID        *string
	Payload        []byte // original wire JSON, replayable through the parser
	StateHash      []byte
	PrevHash       []byte
	BlockHeight    int64
	BlockTime      int64
	SourceSequence int64
}

// JournalRow represents a row in event_log.journal. FromAddress is empty
// for mints.
type JournalRow struct {
	JournalID   string
	Ref         string
	Sequence    int64
	FromAddress string
	ToAddress   string
	Denom       string
	Amount      int64
	JournalType int32
	BlockTime   int64
}

func NewActionLogWriter(db *sql.DB) *ActionLogWriter {
	return &ActionLogWriter{db: db}
}

// DB exposes the underlying handle for transaction control.
func (w *ActionLogWriter) DB() *sql.DB {
	return w.db
}

// WriteActionBatch writes a batch of actions inside the given transaction.
func (w *ActionLogWriter) WriteActionBatch(ctx context.Context, tx *sql.Tx, actions []ActionRow) error {
	if len(actions) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.actions
		(sequence, action_type, idempotency_key, curve_id, payload, state_hash, prev_hash, block_height, block_time, source_sequence)
		VALUES `

	values := make([]string, 0, len(actions))
	args := make([]interface{}, 0, len(actions)*10)

	for i, a := range actions {
		base := i * 10
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10,
		))
		args = append(args,
			a.Sequence, a.ActionType, a.IdempotencyKey, a.CurveID, a.Payload,
			a.StateHash, a.PrevHash, a.BlockHeight, a.BlockTime, a.SourceSequence,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteJournalBatch writes a batch of journal entries inside the given
// transaction.
func (w *ActionLogWriter) WriteJournalBatch(ctx context.Context, tx *sql.Tx, journals []JournalRow) error {
	if len(journals) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.journal
		(journal_id, ref, sequence, from_address, to_address, denom, amount, journal_type, block_time)
		VALUES `

	values := make([]string, 0, len(journals))
	args := make([]interface{}, 0, len(journals)*9)

	for i, j := range journals {
		base := i * 9
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9,
		))
		args = append(args,
			j.JournalID, j.Ref, j.Sequence, j.FromAddress, j.ToAddress,
			j.Denom, j.Amount, j.JournalType, j.BlockTime,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (journal_id) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}
