package engine

import (
	"fmt"

	"github.com/rs/zerolog"

	"PerpEngine/internal/bank"
	"PerpEngine/internal/feepool"
	"PerpEngine/internal/insurance"
	fpmath "PerpEngine/internal/math"
	"PerpEngine/internal/vamm"
)

// Engine is the margin engine: it owns every position, the per-curve
// accounting state, and the vault address all collateral moves through.
// All methods assume single-threaded execution; the deterministic core
// serializes calls.
type Engine struct {
	address    string
	cfg        Config
	paused     bool
	ledger     *bank.Ledger
	fund       *insurance.Fund
	feePool    *feepool.FeePool
	states     map[string]*State
	positions  map[PositionKey]*Position
	premiums   map[string][]int64
	restricted map[restrictionKey]bool
	swap       *TmpSwapInfo
	rollback   *rollbackPoint
	logger     zerolog.Logger
}

// New wires the engine against its collaborators. address is the vault's
// bank address.
func New(cfg Config, address string, ledger *bank.Ledger, fund *insurance.Fund, pool *feepool.FeePool, logger zerolog.Logger) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Engine{
		address:    address,
		cfg:        cfg,
		ledger:     ledger,
		fund:       fund,
		feePool:    pool,
		states:     make(map[string]*State),
		positions:  make(map[PositionKey]*Position),
		premiums:   make(map[string][]int64),
		restricted: make(map[restrictionKey]bool),
		logger:     logger,
	}, nil
}

// Address returns the vault's bank address.
func (e *Engine) Address() string { return e.address }

func (e *Engine) requireNotPaused() error {
	if e.paused {
		return fmt.Errorf("%w: engine is paused", ErrInvalidState)
	}
	return nil
}

func (e *Engine) requireCurve(id string) (*vamm.Vamm, error) {
	v, ok := e.fund.Curve(id)
	if !ok || !e.fund.IsCovered(id) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCurve, id)
	}
	return v, nil
}

func (e *Engine) getPosition(curve, trader string) *Position {
	return e.positions[PositionKey{Curve: curve, Trader: trader}]
}

func (e *Engine) setPosition(pos *Position) {
	pos.Version++
	e.positions[PositionKey{Curve: pos.Curve, Trader: pos.Trader}] = pos
}

func (e *Engine) removePosition(curve, trader string) {
	delete(e.positions, PositionKey{Curve: curve, Trader: trader})
}

// payFees charges the curve's toll and spread on a notional. Toll goes to
// the fee pool, spread to the insurance fund.
func (e *Engine) payFees(v *vamm.Vamm, trader string, notional int64, ref string) error {
	toll, spread := v.CalcFee(notional)
	if toll > 0 {
		if err := e.ledger.Transfer(trader, e.cfg.FeePool, e.cfg.EligibleCollateral, toll, bank.JournalTypeFee, ref); err != nil {
			return fmt.Errorf("%w: toll fee: %v", ErrInsufficientFunds, err)
		}
	}
	if spread > 0 {
		if err := e.ledger.Transfer(trader, e.cfg.InsuranceFund, e.cfg.EligibleCollateral, spread, bank.JournalTypeInsuranceCredit, ref); err != nil {
			return fmt.Errorf("%w: spread fee: %v", ErrInsufficientFunds, err)
		}
	}
	return nil
}

// withdrawFromVault pays a recipient from the vault. When the vault lacks
// funds the insurance fund prefunds the shortfall, recorded as bad debt on
// the curve State until realized.
func (e *Engine) withdrawFromVault(curve, to string, amount int64, jt bank.JournalType, ref string) error {
	if amount <= 0 {
		return nil
	}
	if held := e.ledger.BalanceOf(e.address, e.cfg.EligibleCollateral); held < amount {
		shortfall := amount - held
		if err := e.ledger.Transfer(e.cfg.InsuranceFund, e.address, e.cfg.EligibleCollateral, shortfall, bank.JournalTypeBadDebtCover, ref); err != nil {
			return fmt.Errorf("%w: insurance shortfall cover: %v", ErrInsufficientFunds, err)
		}
		e.state(curve).BadDebt += shortfall
		e.logger.Warn().Str("curve", curve).Int64("shortfall", shortfall).Msg("vault shortfall covered by insurance fund")
	}
	return e.ledger.Transfer(e.address, to, e.cfg.EligibleCollateral, amount, jt, ref)
}

// realizeBadDebt charges confirmed bad debt to the insurance fund,
// consuming any prepaid cover on the curve State first.
func (e *Engine) realizeBadDebt(curve, trader string, amount int64, height int64, ref string) error {
	if amount <= 0 {
		return nil
	}
	st := e.state(curve)
	if st.BadDebt >= amount {
		st.BadDebt -= amount
		return nil
	}

	uncovered := amount - st.BadDebt
	st.BadDebt = 0
	if err := e.ledger.Transfer(e.cfg.InsuranceFund, e.address, e.cfg.EligibleCollateral, uncovered, bank.JournalTypeBadDebtCover, ref); err != nil {
		return fmt.Errorf("%w: realizing bad debt: %v", ErrInsufficientFunds, err)
	}
	e.enterRestrictionMode(curve, trader, height)
	e.logger.Warn().Str("curve", curve).Int64("amount", amount).Msg("bad debt realized")
	return nil
}

// DepositMargin adds collateral to an existing position.
func (e *Engine) DepositMargin(trader, curveID string, amount int64, blk vamm.Block) error {
	if _, err := e.requireCurve(curveID); err != nil {
		return err
	}
	if amount <= 0 {
		return fmt.Errorf("%w: deposit must be positive", ErrArithmetic)
	}
	pos := e.getPosition(curveID, trader)
	if pos.IsZero() {
		return fmt.Errorf("%w: no position on %s", ErrZeroPosition, curveID)
	}

	if err := e.ledger.Transfer(trader, e.address, e.cfg.EligibleCollateral, amount, bank.JournalTypeMarginDeposit, depositRef(curveID, trader)); err != nil {
		return fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
	}
	pos.Margin += amount
	pos.BlockHeight = blk.Height
	pos.BlockTime = blk.Time
	e.setPosition(pos)

	e.logger.Debug().Str("trader", trader).Str("curve", curveID).Int64("amount", amount).Msg("margin deposited")
	return nil
}

// WithdrawMargin removes collateral from a position. Pending funding is
// settled first; the withdrawal must leave no bad debt and non-negative
// free collateral.
func (e *Engine) WithdrawMargin(trader, curveID string, amount int64, blk vamm.Block) error {
	v, err := e.requireCurve(curveID)
	if err != nil {
		return err
	}
	if amount <= 0 {
		return fmt.Errorf("%w: withdrawal must be positive", ErrArithmetic)
	}
	pos := e.getPosition(curveID, trader)
	if pos.IsZero() {
		return fmt.Errorf("%w: no position on %s", ErrZeroPosition, curveID)
	}

	rp := e.beginRollback(v, curveID, trader)
	defer e.endRollback()
	if err := e.withdrawMargin(v, pos, amount, blk); err != nil {
		e.revert(v, rp)
		return err
	}

	e.logger.Debug().Str("trader", trader).Str("curve", curveID).Int64("amount", amount).Msg("margin withdrawn")
	return nil
}

func (e *Engine) withdrawMargin(v *vamm.Vamm, pos *Position, amount int64, blk vamm.Block) error {
	rm := e.calcRemainMarginWithFunding(pos, -amount)
	if rm.BadDebt != 0 {
		return fmt.Errorf("%w: withdrawal exceeds margin", ErrUndercollateralized)
	}
	pos.Margin = rm.Margin
	pos.LastUpdatedPremiumFraction = rm.LatestPremium

	free, err := e.freeCollateral(v, pos, blk.Time)
	if err != nil {
		return err
	}
	if free < 0 {
		return fmt.Errorf("%w: free collateral %d after withdrawal", ErrUndercollateralized, free)
	}

	if err := e.withdrawFromVault(pos.Curve, pos.Trader, amount, bank.JournalTypeMarginWithdraw, withdrawRef(pos.Curve, pos.Trader)); err != nil {
		return err
	}
	pos.BlockHeight = blk.Height
	pos.BlockTime = blk.Time
	e.setPosition(pos)
	return nil
}

func depositRef(curve, trader string) string  { return "deposit:" + curve + ":" + trader }
func withdrawRef(curve, trader string) string { return "withdraw:" + curve + ":" + trader }

// openInterestAdd grows a curve's open interest.
func (e *Engine) openInterestAdd(curve string, amount int64) {
	e.state(curve).OpenInterestNotional += amount
}

// openInterestSub shrinks open interest, saturating at zero since rounding
// can leave dust behind.
func (e *Engine) openInterestSub(curve string, amount int64) {
	st := e.state(curve)
	st.OpenInterestNotional = fpmath.Max(0, st.OpenInterestNotional-amount)
}
