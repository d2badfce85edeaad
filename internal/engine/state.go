package engine

import "PerpEngine/internal/vamm"

// State is the per-curve mutable accounting the engine owns: open interest
// and the bad debt prefunded by the insurance fund.
type State struct {
	OpenInterestNotional int64
	BadDebt              int64
}

// PositionKey identifies a position.
type PositionKey struct {
	Curve  string
	Trader string
}

// restrictionKey scopes restriction mode to one trader on one curve at one
// block height.
type restrictionKey struct {
	Curve  string
	Trader string
	Height int64
}

// TmpSwapInfo is the in-flight record of a position action between the
// swap and its completion. Exactly one may exist at a time; a non-empty
// slot at action entry means a previous action never completed.
type TmpSwapInfo struct {
	Curve         string
	Trader        string
	Liquidator    string
	Side          Side
	QuoteAmount   int64
	Leverage      int64
	OpenNotional  int64
	PositionValue int64
	UnrealizedPnL int64
	MarginToVault int64
	FeesPaid      bool
}

func (e *Engine) state(curve string) *State {
	st, ok := e.states[curve]
	if !ok {
		st = &State{}
		e.states[curve] = st
	}
	return st
}

// latestPremiumFraction returns the last cumulative premium fraction
// recorded for a curve, zero when none has been.
func (e *Engine) latestPremiumFraction(curve string) int64 {
	hist := e.premiums[curve]
	if len(hist) == 0 {
		return 0
	}
	return hist[len(hist)-1]
}

func (e *Engine) appendPremiumFraction(curve string, cumulative int64) {
	e.premiums[curve] = append(e.premiums[curve], cumulative)
}

func (e *Engine) enterRestrictionMode(curve, trader string, height int64) {
	key := restrictionKey{Curve: curve, Trader: trader, Height: height}
	if e.rollback != nil && !e.restricted[key] {
		e.rollback.restricted = append(e.rollback.restricted, key)
	}
	e.restricted[key] = true
}

func (e *Engine) inRestrictionMode(curve, trader string, height int64) bool {
	return e.restricted[restrictionKey{Curve: curve, Trader: trader, Height: height}]
}

// rollbackPoint captures everything one action may mutate: the curve and
// its reserve history, the per-curve accounting State, the trader's
// position, the premium-fraction history and the ledger journal mark. A
// failed action restores all of it.
type rollbackPoint struct {
	curve       string
	trader      string
	curveState  vamm.State
	curveSnaps  []vamm.ReserveSnapshot
	engineState State
	hadState    bool
	position    Position
	hadPosition bool
	premiumLen  int
	restricted  []restrictionKey
	journalMark int
}

// beginRollback records the pre-action state. The point stays registered
// on the engine until endRollback so enterRestrictionMode can log the keys
// it adds.
func (e *Engine) beginRollback(v *vamm.Vamm, curve, trader string) *rollbackPoint {
	rp := &rollbackPoint{
		curve:       curve,
		trader:      trader,
		curveState:  v.State(),
		curveSnaps:  append([]vamm.ReserveSnapshot(nil), v.Snapshots()...),
		premiumLen:  len(e.premiums[curve]),
		journalMark: e.ledger.JournalLen(),
	}
	if st, ok := e.states[curve]; ok {
		rp.hadState = true
		rp.engineState = *st
	}
	if pos := e.getPosition(curve, trader); pos != nil {
		rp.hadPosition = true
		rp.position = *pos
	}
	e.rollback = rp
	return rp
}

func (e *Engine) endRollback() { e.rollback = nil }

// revert restores the captured state. A rejected action must leave no
// trace: not in the curve, not in the position set, not in the ledger.
func (e *Engine) revert(v *vamm.Vamm, rp *rollbackPoint) {
	v.Restore(rp.curveState, rp.curveSnaps)
	if rp.hadState {
		st := rp.engineState
		e.states[rp.curve] = &st
	} else {
		delete(e.states, rp.curve)
	}
	if rp.hadPosition {
		pos := rp.position
		e.positions[PositionKey{Curve: rp.curve, Trader: rp.trader}] = &pos
	} else {
		delete(e.positions, PositionKey{Curve: rp.curve, Trader: rp.trader})
	}
	if hist := e.premiums[rp.curve]; len(hist) > rp.premiumLen {
		if rp.premiumLen == 0 {
			delete(e.premiums, rp.curve)
		} else {
			e.premiums[rp.curve] = hist[:rp.premiumLen]
		}
	}
	for _, key := range rp.restricted {
		delete(e.restricted, key)
	}
	e.ledger.RevertTo(rp.journalMark)
}

// takeSwapSlot stages the in-flight record, failing when one is already
// staged.
func (e *Engine) takeSwapSlot(slot *TmpSwapInfo) error {
	if e.swap != nil {
		return ErrInvalidState
	}
	e.swap = slot
	return nil
}

func (e *Engine) clearSwapSlot() {
	e.swap = nil
}
