package engine

import (
	"fmt"

	"PerpEngine/internal/bank"
	fpmath "PerpEngine/internal/math"
	"PerpEngine/internal/vamm"
)

// PayFunding settles one funding period on a curve. Anyone may trigger it.
// The premium fraction is appended to the curve's cumulative history;
// individual positions settle lazily when next touched. The net payment of
// the curve's aggregate exposure flows between the vault and the insurance
// fund.
func (e *Engine) PayFunding(curveID string, blk vamm.Block) error {
	v, err := e.requireCurve(curveID)
	if err != nil {
		return err
	}

	rp := e.beginRollback(v, curveID, "")
	defer e.endRollback()
	if err := e.payFunding(v, curveID, blk); err != nil {
		e.revert(v, rp)
		return err
	}
	return nil
}

func (e *Engine) payFunding(v *vamm.Vamm, curveID string, blk vamm.Block) error {
	premiumFraction, err := v.SettleFunding(e.address, blk)
	if err != nil {
		return fmt.Errorf("settling funding on %s: %w", curveID, err)
	}

	cumulative := e.latestPremiumFraction(curveID) + premiumFraction
	e.appendPremiumFraction(curveID, cumulative)

	totalSize := v.State().TotalPositionSize
	payment := fpmath.ComputeFundingPayment(totalSize, premiumFraction, e.cfg.Decimals)

	ref := "funding:" + curveID
	switch {
	case payment > 0:
		// Net payers owe the vault more than receivers are due.
		if err := e.ledger.Transfer(e.address, e.cfg.InsuranceFund, e.cfg.EligibleCollateral, payment, bank.JournalTypeFundingSettle, ref); err != nil {
			return fmt.Errorf("%w: funding surplus transfer: %v", ErrInsufficientFunds, err)
		}
	case payment < 0:
		if err := e.ledger.Transfer(e.cfg.InsuranceFund, e.address, e.cfg.EligibleCollateral, -payment, bank.JournalTypeFundingSettle, ref); err != nil {
			return fmt.Errorf("%w: funding deficit transfer: %v", ErrInsufficientFunds, err)
		}
	}

	e.logger.Info().
		Str("curve", curveID).
		Int64("premium_fraction", premiumFraction).
		Int64("cumulative", cumulative).
		Int64("net_payment", payment).
		Msg("funding settled")
	return nil
}
