package query

import (
	"context"
	"database/sql"
	"fmt"

	"PerpEngine/internal/observability"
)

// Service provides read-only access to the projection tables. Queries
// are served over gRPC-Gateway JSON routes and every response carries
// the projection watermark as as_of_sequence for freshness semantics.
type Service struct {
	db      *sql.DB
	metrics *observability.Metrics
}

func NewService(db *sql.DB, metrics *observability.Metrics) *Service {
	return &Service{db: db, metrics: metrics}
}

// GetPositions returns all open positions for a trader.
func (s *Service) GetPositions(ctx context.Context, trader string) ([]PositionResponse, error) {
	defer s.observe("GetPositions")

	asOfSeq, err := s.getWatermark(ctx)
	if err != nil {
		return nil, s.fail("GetPositions", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT curve_id, size, margin, notional, last_premium_fraction,
		       block_height, block_time, version
		FROM projections.positions
		WHERE trader = $1
		ORDER BY curve_id
	`, trader)
	if err != nil {
		return nil, s.fail("GetPositions", err)
	}
	defer rows.Close()

	var positions []PositionResponse
	for rows.Next() {
		var p PositionResponse
		p.Trader = trader
		p.AsOfSequence = asOfSeq
		if err := rows.Scan(
			&p.CurveID, &p.Size, &p.Margin, &p.Notional, &p.LastPremiumFraction,
			&p.BlockHeight, &p.BlockTime, &p.Version,
		); err != nil {
			return nil, s.fail("GetPositions", err)
		}
		positions = append(positions, p)
	}

	return positions, s.fail("GetPositions", rows.Err())
}

// GetPosition returns one trader's position on a curve, or sql.ErrNoRows.
func (s *Service) GetPosition(ctx context.Context, curveID, trader string) (*PositionResponse, error) {
	defer s.observe("GetPosition")

	asOfSeq, err := s.getWatermark(ctx)
	if err != nil {
		return nil, s.fail("GetPosition", err)
	}

	var p PositionResponse
	p.CurveID = curveID
	p.Trader = trader
	p.AsOfSequence = asOfSeq
	err = s.db.QueryRowContext(ctx, `
		SELECT size, margin, notional, last_premium_fraction,
		       block_height, block_time, version
		FROM projections.positions
		WHERE curve_id = $1 AND trader = $2
	`, curveID, trader).Scan(
		&p.Size, &p.Margin, &p.Notional, &p.LastPremiumFraction,
		&p.BlockHeight, &p.BlockTime, &p.Version,
	)
	if err != nil {
		return nil, s.fail("GetPosition", err)
	}

	return &p, nil
}

// GetPremiumFractions returns the newest cumulative premium fraction
// entries for a curve.
func (s *Service) GetPremiumFractions(ctx context.Context, curveID string, limit int) ([]PremiumFractionResponse, error) {
	defer s.observe("GetPremiumFractions")

	asOfSeq, err := s.getWatermark(ctx)
	if err != nil {
		return nil, s.fail("GetPremiumFractions", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence, premium_fraction, block_time
		FROM projections.premium_fractions
		WHERE curve_id = $1
		ORDER BY sequence DESC
		LIMIT $2
	`, curveID, limit)
	if err != nil {
		return nil, s.fail("GetPremiumFractions", err)
	}
	defer rows.Close()

	var entries []PremiumFractionResponse
	for rows.Next() {
		var e PremiumFractionResponse
		e.CurveID = curveID
		e.AsOfSequence = asOfSeq
		if err := rows.Scan(&e.Sequence, &e.PremiumFraction, &e.BlockTime); err != nil {
			return nil, s.fail("GetPremiumFractions", err)
		}
		entries = append(entries, e)
	}

	return entries, s.fail("GetPremiumFractions", rows.Err())
}

// GetFundingHistory returns funding settlements for a curve with
// cursor-based pagination on sequence.
func (s *Service) GetFundingHistory(ctx context.Context, curveID string, limit int, afterSequence *int64) ([]FundingHistoryResponse, error) {
	defer s.observe("GetFundingHistory")

	asOfSeq, err := s.getWatermark(ctx)
	if err != nil {
		return nil, s.fail("GetFundingHistory", err)
	}

	query := `
		SELECT sequence, funding_rate, premium_fraction, block_time
		FROM projections.funding_history
		WHERE curve_id = $1
	`
	args := []interface{}{curveID}
	argIdx := 2

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.fail("GetFundingHistory", err)
	}
	defer rows.Close()

	var history []FundingHistoryResponse
	for rows.Next() {
		var h FundingHistoryResponse
		h.CurveID = curveID
		h.AsOfSequence = asOfSeq
		if err := rows.Scan(&h.Sequence, &h.FundingRate, &h.PremiumFraction, &h.BlockTime); err != nil {
			return nil, s.fail("GetFundingHistory", err)
		}
		history = append(history, h)
	}

	return history, s.fail("GetFundingHistory", rows.Err())
}

// GetJournalHistory returns ledger journal entries touching an address
// with cursor-based pagination on sequence.
func (s *Service) GetJournalHistory(ctx context.Context, address string, limit int, afterSequence *int64) ([]JournalHistoryEntry, error) {
	defer s.observe("GetJournalHistory")

	query := `
		SELECT journal_id, ref, sequence, from_address, to_address,
		       denom, amount, journal_type, block_time
		FROM event_log.journal
		WHERE (from_address = $1 OR to_address = $1)
	`
	args := []interface{}{address}
	argIdx := 2

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.fail("GetJournalHistory", err)
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.Ref, &e.Sequence, &e.FromAddress, &e.ToAddress,
			&e.Denom, &e.Amount, &e.JournalType, &e.BlockTime,
		); err != nil {
			return nil, s.fail("GetJournalHistory", err)
		}
		entries = append(entries, e)
	}

	return entries, s.fail("GetJournalHistory", rows.Err())
}

// VerifyIntegrity checks hash chain continuity in the action log and
// the minted-supply invariant across the balance projection.
func (s *Service) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	defer s.observe("VerifyIntegrity")

	report := &IntegrityReport{}

	rows, err := s.db.QueryContext(ctx, `
		SELECT a1.sequence
		FROM event_log.actions a1
		LEFT JOIN event_log.actions a2 ON a2.sequence = a1.sequence - 1
		WHERE a1.sequence > 0 AND a1.prev_hash != COALESCE(a2.state_hash, a1.prev_hash)
		ORDER BY a1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, s.fail("VerifyIntegrity", err)
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, s.fail("VerifyIntegrity", err)
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail("VerifyIntegrity", err)
	}

	// Projected balances per denom must sum to the total minted supply.
	// Mints carry an empty from_address in the journal.
	balanceRows, err := s.db.QueryContext(ctx, `
		SELECT b.denom, COALESCE(m.supply, 0) AS supply, b.projected
		FROM (
			SELECT denom, SUM(balance) AS projected
			FROM projections.balances
			GROUP BY denom
		) b
		LEFT JOIN (
			SELECT denom, SUM(amount) AS supply
			FROM event_log.journal
			WHERE from_address = ''
			GROUP BY denom
		) m ON m.denom = b.denom
		WHERE b.projected != COALESCE(m.supply, 0)
	`)
	if err != nil {
		return nil, s.fail("VerifyIntegrity", err)
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var u UnbalancedDenom
		if err := balanceRows.Scan(&u.Denom, &u.Supply, &u.Projected); err != nil {
			return nil, s.fail("VerifyIntegrity", err)
		}
		report.UnbalancedDenoms = append(report.UnbalancedDenoms, u)
	}
	if err := balanceRows.Err(); err != nil {
		return nil, s.fail("VerifyIntegrity", err)
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.UnbalancedDenoms) == 0
	return report, nil
}

// --- helpers ---

func (s *Service) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}

func (s *Service) observe(method string) {
	if s.metrics != nil {
		s.metrics.QueryRequests.WithLabelValues(method).Inc()
	}
}

func (s *Service) fail(method string, err error) error {
	if err != nil && s.metrics != nil {
		s.metrics.QueryErrors.WithLabelValues(method).Inc()
	}
	return err
}
