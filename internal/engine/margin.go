package engine

import (
	"fmt"

	fpmath "PerpEngine/internal/math"
	"PerpEngine/internal/vamm"
)

// PnlCalcOption selects the valuation source for unrealized PnL.
type PnlCalcOption int32

const (
	PnlCalcSpot PnlCalcOption = iota
	PnlCalcTwap
)

func (o PnlCalcOption) String() string {
	switch o {
	case PnlCalcSpot:
		return "Spot"
	case PnlCalcTwap:
		return "Twap"
	default:
		return "Unknown"
	}
}

// positionValue values |size| through the curve and derives the signed
// unrealized PnL against the position's open notional.
func (e *Engine) positionValue(v *vamm.Vamm, pos *Position, opt PnlCalcOption, now int64) (value, upnl int64, err error) {
	if pos.IsZero() {
		return 0, 0, ErrZeroPosition
	}
	size := fpmath.Abs(pos.Size)

	switch opt {
	case PnlCalcSpot:
		value, err = v.OutputAmount(pos.Direction(), size)
	case PnlCalcTwap:
		value, err = v.OutputTwap(pos.Direction(), size, v.Config().SpotPriceWindow, now)
	default:
		return 0, 0, fmt.Errorf("%w: unknown pnl calc option %d", ErrInvalidState, opt)
	}
	if err != nil {
		return 0, 0, fmt.Errorf("valuing position: %w", err)
	}

	if pos.Size > 0 {
		upnl = value - pos.Notional
	} else {
		upnl = pos.Notional - value
	}
	return value, upnl, nil
}

// remainMargin is the outcome of settling pending funding plus a margin
// delta against a position's margin.
type remainMargin struct {
	Margin         int64
	BadDebt        int64
	FundingPayment int64
	LatestPremium  int64
}

// calcRemainMarginWithFunding settles the premium-fraction delta since the
// position's last stamp, then applies delta. Margin never goes negative:
// the shortfall becomes bad debt.
func (e *Engine) calcRemainMarginWithFunding(pos *Position, delta int64) remainMargin {
	latest := e.latestPremiumFraction(pos.Curve)

	var funding int64
	if pos.Size != 0 {
		funding = fpmath.ComputeFundingPayment(pos.Size, latest-pos.LastUpdatedPremiumFraction, e.cfg.Decimals)
	}

	net := pos.Margin + delta - funding
	out := remainMargin{FundingPayment: funding, LatestPremium: latest}
	if net < 0 {
		out.BadDebt = -net
	} else {
		out.Margin = net
	}
	return out
}

// marginRatioWithValuation computes the ratio for a chosen valuation.
func (e *Engine) marginRatioWithValuation(pos *Position, value, upnl int64) int64 {
	rm := e.calcRemainMarginWithFunding(pos, upnl)
	return fpmath.MulDiv(rm.Margin-rm.BadDebt, e.cfg.Decimals, value)
}

// marginRatio values the position at spot and TWAP and keeps whichever PnL
// has the larger magnitude.
func (e *Engine) marginRatio(v *vamm.Vamm, pos *Position, now int64) (int64, error) {
	spotValue, spotPnL, err := e.positionValue(v, pos, PnlCalcSpot, now)
	if err != nil {
		return 0, err
	}
	twapValue, twapPnL, err := e.positionValue(v, pos, PnlCalcTwap, now)
	if err != nil {
		return 0, err
	}

	if fpmath.Abs(spotPnL) >= fpmath.Abs(twapPnL) {
		return e.marginRatioWithValuation(pos, spotValue, spotPnL), nil
	}
	return e.marginRatioWithValuation(pos, twapValue, twapPnL), nil
}

// preferredValuation returns the valuation with the SMALLER PnL magnitude,
// used where the engine must not credit the trader with an inflated gain
// (withdrawals, free collateral).
func (e *Engine) preferredValuation(v *vamm.Vamm, pos *Position, now int64) (value, upnl int64, err error) {
	spotValue, spotPnL, err := e.positionValue(v, pos, PnlCalcSpot, now)
	if err != nil {
		return 0, 0, err
	}
	twapValue, twapPnL, err := e.positionValue(v, pos, PnlCalcTwap, now)
	if err != nil {
		return 0, 0, err
	}
	if fpmath.Abs(spotPnL) <= fpmath.Abs(twapPnL) {
		return spotValue, spotPnL, nil
	}
	return twapValue, twapPnL, nil
}

// freeCollateral is margin plus negative PnL, less the initial margin the
// open notional requires. Positive means the position can give up funds.
func (e *Engine) freeCollateral(v *vamm.Vamm, pos *Position, now int64) (int64, error) {
	value, upnl, err := e.preferredValuation(v, pos, now)
	if err != nil {
		return 0, err
	}
	imRequirement := fpmath.MulDiv(value, e.cfg.InitialMarginRatio, e.cfg.Decimals)
	return pos.Margin + fpmath.Min(0, upnl) - imRequirement, nil
}
