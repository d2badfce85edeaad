package engine

import (
	"fmt"

	"PerpEngine/internal/bank"
	fpmath "PerpEngine/internal/math"
	"PerpEngine/internal/vamm"
)

// Liquidate forces down an undercollateralized position. Positions still
// above the liquidation-fee ratio are trimmed by the partial ratio;
// everything else is closed outright. Half the penalty pays the
// liquidator, the rest goes to the insurance fund.
func (e *Engine) Liquidate(liquidator, curveID, trader string, quoteLimit int64, blk vamm.Block) error {
	v, err := e.requireCurve(curveID)
	if err != nil {
		return err
	}
	pos := e.getPosition(curveID, trader)
	if pos.IsZero() {
		return fmt.Errorf("%w: no position on %s", ErrZeroPosition, curveID)
	}

	ratio, err := e.marginRatio(v, pos, blk.Time)
	if err != nil {
		return err
	}
	if ratio > e.cfg.MaintenanceMarginRatio {
		return fmt.Errorf("%w: margin ratio %d above maintenance %d", ErrOvercollateralized, ratio, e.cfg.MaintenanceMarginRatio)
	}

	slot := &TmpSwapInfo{Curve: curveID, Trader: trader, Liquidator: liquidator}
	if err := e.takeSwapSlot(slot); err != nil {
		return fmt.Errorf("%w: swap already in flight", err)
	}
	defer e.clearSwapSlot()

	rp := e.beginRollback(v, curveID, trader)
	defer e.endRollback()

	if ratio > e.cfg.LiquidationFee && e.cfg.PartialLiquidationRatio != 0 {
		err = e.partialLiquidate(v, pos, slot, blk)
	} else {
		err = e.fullLiquidate(v, pos, slot, quoteLimit, blk)
	}
	if err != nil {
		e.revert(v, rp)
	}
	return err
}

// partialLiquidate closes the partial ratio of the position, realizing the
// same share of its spot PnL, and charges the liquidation penalty against
// margin.
func (e *Engine) partialLiquidate(v *vamm.Vamm, pos *Position, slot *TmpSwapInfo, blk vamm.Block) error {
	_, upnl, err := e.positionValue(v, pos, PnlCalcSpot, blk.Time)
	if err != nil {
		return err
	}

	partialSize := fpmath.MulDiv(fpmath.Abs(pos.Size), e.cfg.PartialLiquidationRatio, e.cfg.Decimals)
	if partialSize == 0 {
		return fmt.Errorf("%w: partial size rounds to zero", ErrArithmetic)
	}

	exchangedQuote, err := v.SwapOutput(e.address, pos.Direction(), partialSize, 0, blk)
	if err != nil {
		return wrapCurveErr(err)
	}

	realized := fpmath.MulDiv(upnl, e.cfg.PartialLiquidationRatio, e.cfg.Decimals)
	penalty := fpmath.MulDiv(exchangedQuote, e.cfg.LiquidationFee, e.cfg.Decimals)
	liquidatorFee := penalty / 2

	newMargin := pos.Margin + realized - penalty
	if newMargin < 0 {
		return fmt.Errorf("%w: margin %d cannot absorb penalty %d", ErrArithmetic, pos.Margin, penalty)
	}

	sign := pos.Sign()
	pos.Size -= sign * partialSize
	if sign > 0 {
		pos.Notional = pos.Notional - exchangedQuote + realized
	} else {
		pos.Notional = pos.Notional - exchangedQuote - realized
	}
	pos.Margin = newMargin
	pos.BlockHeight = blk.Height
	pos.BlockTime = blk.Time
	e.setPosition(pos)

	ref := liquidateRef(slot)
	if err := e.withdrawFromVault(slot.Curve, slot.Liquidator, liquidatorFee, bank.JournalTypeLiquidationFee, ref); err != nil {
		return err
	}
	if err := e.withdrawFromVault(slot.Curve, e.cfg.InsuranceFund, penalty-liquidatorFee, bank.JournalTypeInsuranceCredit, ref); err != nil {
		return err
	}

	e.openInterestSub(slot.Curve, exchangedQuote)
	e.enterRestrictionMode(slot.Curve, slot.Trader, blk.Height)

	e.logger.Info().
		Str("trader", slot.Trader).
		Str("curve", slot.Curve).
		Str("liquidator", slot.Liquidator).
		Int64("size_closed", partialSize).
		Int64("penalty", penalty).
		Msg("position partially liquidated")
	return nil
}

// fullLiquidate closes the whole position. The liquidation fee comes out
// of the remaining margin, or becomes bad debt when the margin cannot
// cover it; any margin left after the fee accrues to the insurance fund.
func (e *Engine) fullLiquidate(v *vamm.Vamm, pos *Position, slot *TmpSwapInfo, quoteLimit int64, blk vamm.Block) error {
	closeQuote, err := v.SwapOutput(e.address, pos.Direction(), fpmath.Abs(pos.Size), quoteLimit, blk)
	if err != nil {
		return wrapCurveErr(err)
	}

	rm := e.calcRemainMarginWithFunding(pos, closePnL(pos, closeQuote))
	liquidatorFee := fpmath.MulDiv(closeQuote, e.cfg.LiquidationFee, e.cfg.Decimals) / 2

	badDebt := rm.BadDebt
	remain := rm.Margin
	if liquidatorFee > remain {
		badDebt += liquidatorFee - remain
		remain = 0
	} else {
		remain -= liquidatorFee
	}

	ref := liquidateRef(slot)
	if err := e.realizeBadDebt(slot.Curve, slot.Trader, badDebt, blk.Height, ref); err != nil {
		return err
	}
	if remain > 0 {
		if err := e.withdrawFromVault(slot.Curve, e.cfg.InsuranceFund, remain, bank.JournalTypeInsuranceCredit, ref); err != nil {
			return err
		}
	}
	if err := e.withdrawFromVault(slot.Curve, slot.Liquidator, liquidatorFee, bank.JournalTypeLiquidationFee, ref); err != nil {
		return err
	}

	e.openInterestSub(slot.Curve, pos.Notional)
	e.removePosition(slot.Curve, slot.Trader)
	e.enterRestrictionMode(slot.Curve, slot.Trader, blk.Height)

	e.logger.Info().
		Str("trader", slot.Trader).
		Str("curve", slot.Curve).
		Str("liquidator", slot.Liquidator).
		Int64("close_quote", closeQuote).
		Int64("bad_debt", badDebt).
		Msg("position liquidated")
	return nil
}

func liquidateRef(slot *TmpSwapInfo) string {
	return "liquidate:" + slot.Curve + ":" + slot.Trader
}
