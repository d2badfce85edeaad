package engine

import (
	"errors"
	"fmt"

	"PerpEngine/internal/bank"
	fpmath "PerpEngine/internal/math"
	"PerpEngine/internal/vamm"
)

// OpenPosition opens, increases, decreases or reverses a position. The
// side is the taker side; quoteAmount is the margin posted for an increase
// and leverage scales it into notional. baseLimit bounds slippage on the
// swap, zero disables the check.
func (e *Engine) OpenPosition(trader, curveID string, side Side, quoteAmount, leverage, baseLimit int64, blk vamm.Block) error {
	if err := e.requireNotPaused(); err != nil {
		return err
	}
	v, err := e.requireCurve(curveID)
	if err != nil {
		return err
	}
	if side != SideBuy && side != SideSell {
		return fmt.Errorf("%w: invalid side %d", ErrInvalidState, side)
	}
	if e.inRestrictionMode(curveID, trader, blk.Height) {
		return fmt.Errorf("%w: trader was liquidated this block", ErrRestrictedAction)
	}
	if quoteAmount <= 0 {
		return fmt.Errorf("%w: quote amount must be positive", ErrArithmetic)
	}
	if leverage < e.cfg.Decimals {
		return fmt.Errorf("%w: leverage below one", ErrUndercollateralized)
	}
	// The implied entry margin ratio 1/leverage must satisfy initial margin.
	if fpmath.MulDiv(e.cfg.Decimals, e.cfg.Decimals, leverage) < e.cfg.InitialMarginRatio {
		return fmt.Errorf("%w: leverage exceeds initial margin ratio", ErrUndercollateralized)
	}

	slot := &TmpSwapInfo{
		Curve:        curveID,
		Trader:       trader,
		Side:         side,
		QuoteAmount:  quoteAmount,
		Leverage:     leverage,
		OpenNotional: fpmath.MulDiv(quoteAmount, leverage, e.cfg.Decimals),
	}
	if err := e.takeSwapSlot(slot); err != nil {
		return fmt.Errorf("%w: swap already in flight", err)
	}
	defer e.clearSwapSlot()

	rp := e.beginRollback(v, curveID, trader)
	defer e.endRollback()

	pos := e.getPosition(curveID, trader)
	if pos.IsZero() || pos.Side() == side {
		err = e.increasePosition(v, slot, baseLimit, blk)
	} else {
		err = e.reversePosition(v, pos, slot, baseLimit, blk)
	}
	if err != nil {
		e.revert(v, rp)
	}
	return err
}

// increasePosition swaps quote in and grows the position in the slot's
// direction. Also opens fresh positions and the follow-up leg of a
// reversal.
func (e *Engine) increasePosition(v *vamm.Vamm, slot *TmpSwapInfo, baseLimit int64, blk vamm.Block) error {
	baseOut, err := v.SwapInput(e.address, slot.Side.Direction(), slot.OpenNotional, baseLimit, false, blk)
	if err != nil {
		return wrapCurveErr(err)
	}
	return e.completeIncrease(v, slot, baseOut, blk)
}

func (e *Engine) completeIncrease(v *vamm.Vamm, slot *TmpSwapInfo, baseOut int64, blk vamm.Block) error {
	pos := e.getPosition(slot.Curve, slot.Trader)
	if pos == nil {
		pos = &Position{
			Curve:                      slot.Curve,
			Trader:                     slot.Trader,
			LastUpdatedPremiumFraction: e.latestPremiumFraction(slot.Curve),
		}
	}

	pos.Size += slot.Side.Sign() * baseOut
	pos.Notional += slot.OpenNotional

	newMargin := fpmath.MulDiv(pos.Notional, e.cfg.Decimals, slot.Leverage)
	if delta := newMargin - pos.Margin; delta > 0 {
		if err := e.ledger.Transfer(slot.Trader, e.address, e.cfg.EligibleCollateral, delta, bank.JournalTypeMarginDeposit, openRef(slot)); err != nil {
			return fmt.Errorf("%w: posting margin: %v", ErrInsufficientFunds, err)
		}
	}
	pos.Margin = newMargin

	e.openInterestAdd(slot.Curve, slot.OpenNotional)
	if !slot.FeesPaid {
		if err := e.payFees(v, slot.Trader, slot.OpenNotional, openRef(slot)); err != nil {
			return err
		}
		slot.FeesPaid = true
	}

	pos.BlockHeight = blk.Height
	pos.BlockTime = blk.Time
	e.setPosition(pos)

	e.logger.Debug().
		Str("trader", slot.Trader).
		Str("curve", slot.Curve).
		Stringer("side", slot.Side).
		Int64("base", baseOut).
		Int64("notional", slot.OpenNotional).
		Msg("position increased")
	return nil
}

// reversePosition handles an opposing order: a pure decrease when the
// current exposure exceeds the incoming notional, otherwise close and
// reopen on the other side.
func (e *Engine) reversePosition(v *vamm.Vamm, pos *Position, slot *TmpSwapInfo, baseLimit int64, blk vamm.Block) error {
	value, upnl, err := e.positionValue(v, pos, PnlCalcSpot, blk.Time)
	if err != nil {
		return err
	}
	slot.PositionValue = value
	slot.UnrealizedPnL = upnl

	if value > slot.OpenNotional {
		return e.decreasePosition(v, pos, slot, baseLimit, blk)
	}
	return e.closeAndReverse(v, pos, slot, blk)
}

func (e *Engine) decreasePosition(v *vamm.Vamm, pos *Position, slot *TmpSwapInfo, baseLimit int64, blk vamm.Block) error {
	baseOut, err := v.SwapInput(e.address, slot.Side.Direction(), slot.OpenNotional, baseLimit, false, blk)
	if err != nil {
		return wrapCurveErr(err)
	}

	// Realize the traded share of the snapshot PnL.
	realized := fpmath.MulDiv(slot.UnrealizedPnL, baseOut, fpmath.Abs(pos.Size))
	rm := e.calcRemainMarginWithFunding(pos, realized)

	sign := pos.Sign()
	pos.Size += slot.Side.Sign() * baseOut
	if sign > 0 {
		pos.Notional = pos.Notional + realized - slot.OpenNotional
	} else {
		pos.Notional = pos.Notional - realized - slot.OpenNotional
	}
	if pos.Notional < 0 || sign*fpmath.Sign(pos.Size) < 0 {
		panic(fmt.Sprintf("FATAL: decrease flipped position: curve=%s trader=%s size=%d notional=%d",
			pos.Curve, pos.Trader, pos.Size, pos.Notional))
	}
	pos.Margin = rm.Margin
	pos.LastUpdatedPremiumFraction = rm.LatestPremium

	e.openInterestSub(slot.Curve, slot.OpenNotional)
	if err := e.payFees(v, slot.Trader, slot.OpenNotional, openRef(slot)); err != nil {
		return err
	}

	pos.BlockHeight = blk.Height
	pos.BlockTime = blk.Time
	e.setPosition(pos)

	e.logger.Debug().
		Str("trader", slot.Trader).
		Str("curve", slot.Curve).
		Int64("realized_pnl", realized).
		Int64("size", pos.Size).
		Msg("position decreased")
	return nil
}

// closeAndReverse closes the full position at market, then opens the
// leftover notional on the opposite side. A leftover that rounds to zero
// margin finishes flat.
func (e *Engine) closeAndReverse(v *vamm.Vamm, pos *Position, slot *TmpSwapInfo, blk vamm.Block) error {
	closeQuote, err := v.SwapOutput(e.address, pos.Direction(), fpmath.Abs(pos.Size), 0, blk)
	if err != nil {
		return wrapCurveErr(err)
	}

	rm := e.calcRemainMarginWithFunding(pos, closePnL(pos, closeQuote))
	if err := e.realizeBadDebt(slot.Curve, slot.Trader, rm.BadDebt, blk.Height, openRef(slot)); err != nil {
		return err
	}
	e.openInterestSub(slot.Curve, pos.Notional)
	e.removePosition(slot.Curve, slot.Trader)

	if err := e.payFees(v, slot.Trader, slot.OpenNotional, openRef(slot)); err != nil {
		return err
	}
	slot.FeesPaid = true

	if rm.Margin > 0 {
		if err := e.withdrawFromVault(slot.Curve, slot.Trader, rm.Margin, bank.JournalTypePnLPayout, openRef(slot)); err != nil {
			return err
		}
	}

	leftover := fpmath.Abs(slot.OpenNotional - closeQuote)
	if fpmath.MulDiv(leftover, e.cfg.Decimals, slot.Leverage) == 0 {
		e.logger.Debug().Str("trader", slot.Trader).Str("curve", slot.Curve).Msg("reversal closed flat")
		return nil
	}

	slot.OpenNotional = leftover
	return e.increasePosition(v, slot, 0, blk)
}

// ClosePosition closes the full position at market. quoteLimit bounds
// slippage: minimum received for longs, maximum paid for shorts.
func (e *Engine) ClosePosition(trader, curveID string, quoteLimit int64, blk vamm.Block) error {
	if err := e.requireNotPaused(); err != nil {
		return err
	}
	v, err := e.requireCurve(curveID)
	if err != nil {
		return err
	}
	if e.inRestrictionMode(curveID, trader, blk.Height) {
		return fmt.Errorf("%w: trader was liquidated this block", ErrRestrictedAction)
	}
	pos := e.getPosition(curveID, trader)
	if pos.IsZero() {
		return fmt.Errorf("%w: no position on %s", ErrZeroPosition, curveID)
	}

	slot := &TmpSwapInfo{Curve: curveID, Trader: trader}
	if err := e.takeSwapSlot(slot); err != nil {
		return fmt.Errorf("%w: swap already in flight", err)
	}
	defer e.clearSwapSlot()

	rp := e.beginRollback(v, curveID, trader)
	defer e.endRollback()
	if err := e.closeAtMarket(v, pos, quoteLimit, blk); err != nil {
		e.revert(v, rp)
		return err
	}
	return nil
}

func (e *Engine) closeAtMarket(v *vamm.Vamm, pos *Position, quoteLimit int64, blk vamm.Block) error {
	curveID, trader := pos.Curve, pos.Trader

	closeQuote, err := v.SwapOutput(e.address, pos.Direction(), fpmath.Abs(pos.Size), quoteLimit, blk)
	if err != nil {
		return wrapCurveErr(err)
	}

	pnl := closePnL(pos, closeQuote)
	rm := e.calcRemainMarginWithFunding(pos, pnl)
	if err := e.realizeBadDebt(curveID, trader, rm.BadDebt, blk.Height, closeRef(curveID, trader)); err != nil {
		return err
	}
	if rm.Margin > 0 {
		if err := e.withdrawFromVault(curveID, trader, rm.Margin, bank.JournalTypePnLPayout, closeRef(curveID, trader)); err != nil {
			return err
		}
	}

	e.openInterestSub(curveID, pos.Notional)
	if err := e.payFees(v, trader, pos.Notional, closeRef(curveID, trader)); err != nil {
		return err
	}
	e.removePosition(curveID, trader)

	e.logger.Debug().
		Str("trader", trader).
		Str("curve", curveID).
		Int64("close_quote", closeQuote).
		Int64("pnl", pnl).
		Int64("refund", rm.Margin).
		Msg("position closed")
	return nil
}

// closePnL is the signed realized PnL of exchanging the full position for
// closeQuote.
func closePnL(pos *Position, closeQuote int64) int64 {
	if pos.Size > 0 {
		return closeQuote - pos.Notional
	}
	return pos.Notional - closeQuote
}

// wrapCurveErr maps curve sentinels onto the engine's error taxonomy.
func wrapCurveErr(err error) error {
	switch {
	case errors.Is(err, vamm.ErrOverSlippage):
		return fmt.Errorf("%w: %v", ErrSlippageExceeded, err)
	case errors.Is(err, vamm.ErrNotOpen):
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	case errors.Is(err, vamm.ErrInvalidAmount), errors.Is(err, vamm.ErrDrainedReserves):
		return fmt.Errorf("%w: %v", ErrArithmetic, err)
	default:
		return err
	}
}

func openRef(slot *TmpSwapInfo) string {
	return "open:" + slot.Curve + ":" + slot.Trader
}

func closeRef(curve, trader string) string {
	return "close:" + curve + ":" + trader
}
