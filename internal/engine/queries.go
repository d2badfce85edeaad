package engine

import (
	"fmt"

	"PerpEngine/internal/vamm"
)

// Configuration returns a copy of the engine config.
func (e *Engine) Configuration() Config { return e.cfg }

// IsPaused reports the pause flag.
func (e *Engine) IsPaused() bool { return e.paused }

// CurveState returns a copy of a curve's accounting state.
func (e *Engine) CurveState(curveID string) (State, error) {
	if _, err := e.requireCurve(curveID); err != nil {
		return State{}, err
	}
	return *e.state(curveID), nil
}

// GetPosition returns a copy of a trader's position.
func (e *Engine) GetPosition(curveID, trader string) (Position, error) {
	pos := e.getPosition(curveID, trader)
	if pos.IsZero() {
		return Position{}, fmt.Errorf("%w: %s on %s", ErrZeroPosition, trader, curveID)
	}
	return *pos, nil
}

// GetMarginRatio returns the decimal-scaled margin ratio of a position,
// valued at the worse of spot and TWAP.
func (e *Engine) GetMarginRatio(curveID, trader string, now int64) (int64, error) {
	v, err := e.requireCurve(curveID)
	if err != nil {
		return 0, err
	}
	pos := e.getPosition(curveID, trader)
	if pos.IsZero() {
		return 0, fmt.Errorf("%w: %s on %s", ErrZeroPosition, trader, curveID)
	}
	return e.marginRatio(v, pos, now)
}

// GetUnrealizedPnL values a position with the chosen calculation option
// and returns (position value, unrealized pnl).
func (e *Engine) GetUnrealizedPnL(curveID, trader string, opt PnlCalcOption, now int64) (int64, int64, error) {
	v, err := e.requireCurve(curveID)
	if err != nil {
		return 0, 0, err
	}
	pos := e.getPosition(curveID, trader)
	if pos.IsZero() {
		return 0, 0, fmt.Errorf("%w: %s on %s", ErrZeroPosition, trader, curveID)
	}
	return e.positionValue(v, pos, opt, now)
}

// GetPositionWithFundingPayment returns the position with pending funding
// settled into margin, clamped at zero.
func (e *Engine) GetPositionWithFundingPayment(curveID, trader string) (Position, error) {
	pos := e.getPosition(curveID, trader)
	if pos.IsZero() {
		return Position{}, fmt.Errorf("%w: %s on %s", ErrZeroPosition, trader, curveID)
	}
	adjusted := *pos
	rm := e.calcRemainMarginWithFunding(pos, 0)
	adjusted.Margin = rm.Margin
	adjusted.LastUpdatedPremiumFraction = rm.LatestPremium
	return adjusted, nil
}

// GetCumulativePremiumFraction returns the latest cumulative premium
// fraction for a curve, zero when funding has never settled.
func (e *Engine) GetCumulativePremiumFraction(curveID string) (int64, error) {
	if _, err := e.requireCurve(curveID); err != nil {
		return 0, err
	}
	return e.latestPremiumFraction(curveID), nil
}

// PremiumFractions returns the full cumulative history for a curve.
func (e *Engine) PremiumFractions(curveID string) []int64 {
	hist := e.premiums[curveID]
	out := make([]int64, len(hist))
	copy(out, hist)
	return out
}

// GetTraderBalanceWithFundingPayment sums funding-adjusted margins across
// every curve the trader holds a position on.
func (e *Engine) GetTraderBalanceWithFundingPayment(trader string) int64 {
	var total int64
	for key, pos := range e.positions {
		if key.Trader != trader || pos.IsZero() {
			continue
		}
		rm := e.calcRemainMarginWithFunding(pos, 0)
		total += rm.Margin
	}
	return total
}

// GetFreeCollateral returns the withdrawable margin headroom of a
// position.
func (e *Engine) GetFreeCollateral(curveID, trader string, now int64) (int64, error) {
	v, err := e.requireCurve(curveID)
	if err != nil {
		return 0, err
	}
	pos := e.getPosition(curveID, trader)
	if pos.IsZero() {
		return 0, fmt.Errorf("%w: %s on %s", ErrZeroPosition, trader, curveID)
	}
	return e.freeCollateral(v, pos, now)
}

// Positions returns copies of all open positions. Order is unspecified;
// callers sort as needed.
func (e *Engine) Positions() []Position {
	out := make([]Position, 0, len(e.positions))
	for _, pos := range e.positions {
		out = append(out, *pos)
	}
	return out
}

// Curve exposes a registered curve handle for read paths.
func (e *Engine) Curve(curveID string) (*vamm.Vamm, error) {
	return e.requireCurve(curveID)
}
