package projection

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"PerpEngine/internal/observability"
)

// Output mirrors the slice of core output the projection tables need.
// The orchestrator bridges between core.Output and this.
type Output struct {
	Sequence   int64
	ActionType string
	CurveID    *string
	BlockTime  int64
	Journals   []JournalEntry
	Positions  []PositionRow
	Funding    *FundingRow
}

// JournalEntry is a simplified journal for projection consumption.
// FromAddress is empty for mints.
type JournalEntry struct {
	FromAddress string
	ToAddress   string
	Denom       string
	Amount      int64
	JournalType int32
}

// PositionRow is one position upsert. Size zero means the position
// closed and its row is deleted.
type PositionRow struct {
	CurveID             string
	Trader              string
	Size                int64
	Margin              int64
	Notional            int64
	LastPremiumFraction int64
	BlockHeight         int64
	BlockTime           int64
	Version             int64
}

// FundingRow is one funding settlement for the history tables.
type FundingRow struct {
	CurveID         string
	FundingRate     int64
	PremiumFraction int64
	BlockTime       int64
}

// Worker updates projection tables from processed actions. The feed
// channel is lossy: when projections fall behind they are rebuilt from
// the action log, so a failed update logs and moves on.
type Worker struct {
	db        *sql.DB
	inputChan <-chan Output
	metrics   *observability.Metrics
	logger    zerolog.Logger
	lastSeq   int64
}

func NewWorker(db *sql.DB, inputChan <-chan Output, metrics *observability.Metrics, logger zerolog.Logger) *Worker {
	return &Worker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run drains the projection channel until ctx is cancelled or the
// channel closes.
func (pw *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			if err := pw.processOutput(ctx, output); err != nil {
				pw.logger.Warn().Err(err).Int64("sequence", output.Sequence).
					Msg("projection update failed")
				continue
			}

			pw.lastSeq = output.Sequence
			if pw.metrics != nil {
				pw.metrics.ProjectionApplied.Inc()
				pw.metrics.ProjectionLastSequence.Set(float64(output.Sequence))
			}
		}
	}
}

func (pw *Worker) processOutput(ctx context.Context, output Output) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, j := range output.Journals {
		if err := pw.updateBalanceProjection(ctx, tx, j, output.Sequence); err != nil {
			return fmt.Errorf("balance projection: %w", err)
		}
	}

	for _, p := range output.Positions {
		if err := pw.updatePositionProjection(ctx, tx, p, output.Sequence); err != nil {
			return fmt.Errorf("position projection: %w", err)
		}
	}

	if output.Funding != nil {
		if err := applyFunding(ctx, tx, *output.Funding, output.Sequence); err != nil {
			return fmt.Errorf("funding projection: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, output.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

func (pw *Worker) updateBalanceProjection(ctx context.Context, tx *sql.Tx, j JournalEntry, seq int64) error {
	// Mints have no source address to debit.
	if j.FromAddress != "" {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.balances (address, denom, balance, last_sequence)
			VALUES ($1, $2, -$3, $4)
			ON CONFLICT (address, denom)
			DO UPDATE SET balance = projections.balances.balance - $3, last_sequence = $4
		`, j.FromAddress, j.Denom, j.Amount, seq); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (address, denom, balance, last_sequence)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (address, denom)
		DO UPDATE SET balance = projections.balances.balance + $3, last_sequence = $4
	`, j.ToAddress, j.Denom, j.Amount, seq); err != nil {
		return err
	}

	return nil
}

func (pw *Worker) updatePositionProjection(ctx context.Context, tx *sql.Tx, p PositionRow, seq int64) error {
	if p.Size == 0 {
		_, err := tx.ExecContext(ctx, `
			DELETE FROM projections.positions WHERE curve_id = $1 AND trader = $2
		`, p.CurveID, p.Trader)
		return err
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.positions
			(curve_id, trader, size, margin, notional, last_premium_fraction,
			 block_height, block_time, version, last_sequence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (curve_id, trader) DO UPDATE SET
			size = $3, margin = $4, notional = $5, last_premium_fraction = $6,
			block_height = $7, block_time = $8, version = $9, last_sequence = $10
	`, p.CurveID, p.Trader, p.Size, p.Margin, p.Notional, p.LastPremiumFraction,
		p.BlockHeight, p.BlockTime, p.Version, seq)
	return err
}

// RebuildProjections rebuilds the balance projection from the journal
// log and clears the rest. Positions, premium fractions and funding
// history repopulate as the orchestrator replays the action log.
func RebuildProjections(ctx context.Context, db *sql.DB, logger zerolog.Logger) error {
	truncateStatements := []string{
		`TRUNCATE projections.balances`,
		`TRUNCATE projections.positions`,
		`TRUNCATE projections.premium_fractions`,
		`TRUNCATE projections.funding_history`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	}

	for _, stmt := range truncateStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	// Credit side first, then fold the debit side in. Mints carry an
	// empty from_address and contribute no debit.
	_, err := db.ExecContext(ctx, `
		INSERT INTO projections.balances (address, denom, balance, last_sequence)
		SELECT
			to_address AS address,
			denom,
			SUM(amount) AS balance,
			MAX(sequence) AS last_sequence
		FROM event_log.journal
		GROUP BY to_address, denom
	`)
	if err != nil {
		return fmt.Errorf("rebuild credit balances: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO projections.balances (address, denom, balance, last_sequence)
		SELECT
			from_address AS address,
			denom,
			-SUM(amount) AS balance,
			MAX(sequence) AS last_sequence
		FROM event_log.journal
		WHERE from_address <> ''
		GROUP BY from_address, denom
		ON CONFLICT (address, denom) DO UPDATE
			SET balance = projections.balances.balance + EXCLUDED.balance,
			    last_sequence = GREATEST(projections.balances.last_sequence, EXCLUDED.last_sequence)
	`)
	if err != nil {
		return fmt.Errorf("rebuild debit balances: %w", err)
	}

	logger.Info().Msg("projection rebuild complete")
	return nil
}
