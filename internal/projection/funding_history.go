package projection

import (
	"context"
	"database/sql"
)

// applyFunding records one funding settlement: the cumulative premium
// fraction series for lazy settlement math and a history row for
// queries.
func applyFunding(ctx context.Context, tx *sql.Tx, f FundingRow, seq int64) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.premium_fractions (curve_id, sequence, premium_fraction, block_time)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (curve_id, sequence) DO NOTHING
	`, f.CurveID, seq, f.PremiumFraction, f.BlockTime); err != nil {
		return err
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.funding_history
			(curve_id, sequence, funding_rate, premium_fraction, block_time)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (curve_id, sequence) DO NOTHING
	`, f.CurveID, seq, f.FundingRate, f.PremiumFraction, f.BlockTime)
	return err
}
