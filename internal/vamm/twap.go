package vamm

import (
	fpmath "PerpEngine/internal/math"
)

// snapshotPriceFn prices one reserve snapshot.
type snapshotPriceFn func(snap ReserveSnapshot) (int64, error)

// TwapPrice returns the time-weighted spot price over the trailing window.
// A zero window returns the current spot price.
func (v *Vamm) TwapPrice(window, now int64) (int64, error) {
	return v.calcTwap(window, now, func(snap ReserveSnapshot) (int64, error) {
		return fpmath.MulDiv(snap.QuoteReserve, v.config.Decimals, snap.BaseReserve), nil
	})
}

// InputTwap time-weights the base amount a quote swap would have returned at
// each snapshot's reserves.
func (v *Vamm) InputTwap(dir Direction, quoteAmount, window, now int64) (int64, error) {
	return v.calcTwap(window, now, func(snap ReserveSnapshot) (int64, error) {
		return InputAmountWithReserves(dir, quoteAmount, snap.QuoteReserve, snap.BaseReserve, v.config.Decimals)
	})
}

// OutputTwap time-weights the quote amount a base swap would have returned
// at each snapshot's reserves.
func (v *Vamm) OutputTwap(dir Direction, baseAmount, window, now int64) (int64, error) {
	return v.calcTwap(window, now, func(snap ReserveSnapshot) (int64, error) {
		return OutputAmountWithReserves(dir, baseAmount, snap.QuoteReserve, snap.BaseReserve, v.config.Decimals)
	})
}

// calcTwap walks snapshots newest-first, weighting each snapshot's value by
// the seconds it was in force, clamped to the window start.
func (v *Vamm) calcTwap(window, now int64, priceAt snapshotPriceFn) (int64, error) {
	n := len(v.snapshots)
	if n == 0 {
		return 0, ErrDrainedReserves
	}

	latest, err := priceAt(v.snapshots[n-1])
	if err != nil {
		return 0, err
	}
	if window == 0 || n == 1 {
		return latest, nil
	}

	windowStart := now - window
	weighted := fpmath.NewInt128()
	defer fpmath.PutInt128(weighted)
	var totalSeconds int64

	prevTime := now
	for i := n - 1; i >= 0; i-- {
		snap := v.snapshots[i]
		price, err := priceAt(snap)
		if err != nil {
			return 0, err
		}

		from := fpmath.Max(snap.Timestamp, windowStart)
		seconds := prevTime - from
		if seconds > 0 {
			term := fpmath.MulInt128(price, seconds)
			weighted.Add(weighted, term)
			fpmath.PutInt128(term)
			totalSeconds += seconds
		}

		if snap.Timestamp <= windowStart {
			break
		}
		prevTime = snap.Timestamp
	}

	if totalSeconds == 0 {
		return latest, nil
	}
	twap, _ := fpmath.DivInt128(weighted, totalSeconds)
	return twap, nil
}
