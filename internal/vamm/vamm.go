package vamm

import (
	"errors"
	"fmt"

	fpmath "PerpEngine/internal/math"
)

// Direction names the asset flowing into the pool: AddToAmm sends the swap's
// input asset in (quote for input swaps, base for output swaps),
// RemoveFromAmm takes it out.
type Direction int32

const (
	AddToAmm Direction = iota + 1
	RemoveFromAmm
)

func (d Direction) String() string {
	switch d {
	case AddToAmm:
		return "AddToAmm"
	case RemoveFromAmm:
		return "RemoveFromAmm"
	default:
		return "Unknown"
	}
}

// Flip returns the opposite direction.
func (d Direction) Flip() Direction {
	if d == AddToAmm {
		return RemoveFromAmm
	}
	return AddToAmm
}

var (
	ErrNotOpen         = errors.New("amm is closed")
	ErrUnauthorized    = errors.New("caller is not authorized")
	ErrOverSlippage    = errors.New("swap output beyond limit")
	ErrOverFluctuation = errors.New("price over fluctuation limit")
	ErrSettlementEarly = errors.New("settlement period has not passed")
	ErrInvalidAmount   = errors.New("amount must be positive")
	ErrDrainedReserves = errors.New("swap would drain reserves")
	ErrInvalidRatio    = errors.New("ratio exceeds decimal scale")
)

// Block carries the execution context every mutating call runs under.
type Block struct {
	Height int64
	Time   int64
}

// IndexFeed is the oracle dependency. Inline interface so the package does
// not bind to a concrete pricefeed implementation.
type IndexFeed interface {
	Price(key string) (int64, error)
	TwapPrice(key string, interval, now int64) (int64, error)
}

// Config holds the curve's static parameters.
type Config struct {
	Owner            string
	MarginEngine     string
	InsuranceFund    string
	BaseDenom        string
	QuoteDenom       string
	Decimals         int64
	TollRatio        int64
	SpreadRatio      int64
	FluctuationLimit int64
	FundingPeriod    int64
	FundingBuffer    int64
	SpotPriceWindow  int64
	PricefeedKey     string
}

// State is the curve's mutable reserve and funding state.
type State struct {
	QuoteReserve      int64
	BaseReserve       int64
	TotalPositionSize int64 // net base exposure, signed
	FundingRate       int64 // signed, decimal-scaled
	NextFundingTime   int64
	Open              bool
}

// ReserveSnapshot records reserves after a change, one per block height.
type ReserveSnapshot struct {
	QuoteReserve int64
	BaseReserve  int64
	Timestamp    int64
	BlockHeight  int64
}

// Vamm is a virtual constant-product curve. No real liquidity backs the
// reserves; they exist to quote prices for the margin engine.
type Vamm struct {
	ID        string
	config    Config
	state     State
	snapshots []ReserveSnapshot
	feed      IndexFeed
}

// New constructs an open curve with an initial reserve snapshot.
func New(id string, cfg Config, quoteReserve, baseReserve int64, feed IndexFeed, blk Block) (*Vamm, error) {
	if quoteReserve <= 0 || baseReserve <= 0 {
		return nil, ErrInvalidAmount
	}
	if err := validateRatios(cfg); err != nil {
		return nil, err
	}

	v := &Vamm{
		ID:     id,
		config: cfg,
		state: State{
			QuoteReserve:    quoteReserve,
			BaseReserve:     baseReserve,
			NextFundingTime: fpmath.NextFundingTime(blk.Time, cfg.FundingPeriod, cfg.FundingBuffer),
			Open:            true,
		},
		feed: feed,
	}
	v.addReserveSnapshot(blk)
	return v, nil
}

func validateRatios(cfg Config) error {
	for _, r := range []int64{cfg.TollRatio, cfg.SpreadRatio, cfg.FluctuationLimit} {
		if r < 0 || r > cfg.Decimals {
			return ErrInvalidRatio
		}
	}
	return nil
}

// Config returns a copy of the curve configuration.
func (v *Vamm) Config() Config { return v.config }

// State returns a copy of the curve state.
func (v *Vamm) State() State { return v.state }

// ConfigUpdate carries optional config overrides; nil fields are untouched.
type ConfigUpdate struct {
	Owner            *string
	MarginEngine     *string
	PricefeedKey     *string
	TollRatio        *int64
	SpreadRatio      *int64
	FluctuationLimit *int64
	SpotPriceWindow  *int64
}

// UpdateConfig applies optional overrides, owner only.
func (v *Vamm) UpdateConfig(caller string, upd ConfigUpdate) error {
	if caller != v.config.Owner {
		return ErrUnauthorized
	}
	next := v.config
	if upd.Owner != nil {
		next.Owner = *upd.Owner
	}
	if upd.MarginEngine != nil {
		next.MarginEngine = *upd.MarginEngine
	}
	if upd.PricefeedKey != nil {
		next.PricefeedKey = *upd.PricefeedKey
	}
	if upd.TollRatio != nil {
		next.TollRatio = *upd.TollRatio
	}
	if upd.SpreadRatio != nil {
		next.SpreadRatio = *upd.SpreadRatio
	}
	if upd.FluctuationLimit != nil {
		next.FluctuationLimit = *upd.FluctuationLimit
	}
	if upd.SpotPriceWindow != nil {
		next.SpotPriceWindow = *upd.SpotPriceWindow
	}
	if err := validateRatios(next); err != nil {
		return err
	}
	v.config = next
	return nil
}

// SetOpen opens or closes the curve for trading. The owner and the
// insurance fund may call it.
func (v *Vamm) SetOpen(caller string, open bool, blk Block) error {
	if caller != v.config.Owner && (v.config.InsuranceFund == "" || caller != v.config.InsuranceFund) {
		return ErrUnauthorized
	}
	v.state.Open = open
	if open {
		v.state.NextFundingTime = fpmath.NextFundingTime(blk.Time, v.config.FundingPeriod, v.config.FundingBuffer)
	}
	return nil
}

// IsOpen reports whether trading is enabled.
func (v *Vamm) IsOpen() bool { return v.state.Open }

// SpotPrice returns quote_reserve / base_reserve, decimal-scaled.
func (v *Vamm) SpotPrice() int64 {
	return fpmath.MulDiv(v.state.QuoteReserve, v.config.Decimals, v.state.BaseReserve)
}

// ============================================================
// Pricing
// ============================================================

// invariantK computes quote_r * base_r / D, the truncated product the swap
// formulas pivot around. Recomputed per swap, so the rounding drift of past
// trades feeds forward.
func invariantK(quoteReserve, baseReserve, decimals int64) (k int64, err error) {
	k, _ = fpmath.MulDivExact(quoteReserve, baseReserve, decimals)
	if k <= 0 {
		return 0, ErrDrainedReserves
	}
	return k, nil
}

// InputAmountWithReserves prices a quote amount against explicit reserves.
// The truncated quotient is nudged by one base unit against the trader
// whenever the division is inexact.
func InputAmountWithReserves(dir Direction, quoteAmount, quoteReserve, baseReserve, decimals int64) (int64, error) {
	if quoteAmount == 0 {
		return 0, nil
	}
	k, err := invariantK(quoteReserve, baseReserve, decimals)
	if err != nil {
		return 0, err
	}

	var quoteAfter int64
	if dir == AddToAmm {
		quoteAfter = quoteReserve + quoteAmount
	} else {
		quoteAfter = quoteReserve - quoteAmount
	}
	if quoteAfter <= 0 {
		return 0, ErrDrainedReserves
	}

	baseAfter, exact := fpmath.MulDivExact(k, decimals, quoteAfter)
	out := fpmath.Abs(baseAfter - baseReserve)
	if !exact {
		if dir == AddToAmm {
			out--
		} else {
			out++
		}
	}
	return out, nil
}

// OutputAmountWithReserves prices a base amount against explicit reserves,
// symmetric to InputAmountWithReserves on the base side.
func OutputAmountWithReserves(dir Direction, baseAmount, quoteReserve, baseReserve, decimals int64) (int64, error) {
	if baseAmount == 0 {
		return 0, nil
	}
	k, err := invariantK(quoteReserve, baseReserve, decimals)
	if err != nil {
		return 0, err
	}

	var baseAfter int64
	if dir == AddToAmm {
		baseAfter = baseReserve + baseAmount
	} else {
		baseAfter = baseReserve - baseAmount
	}
	if baseAfter <= 0 {
		return 0, ErrDrainedReserves
	}

	quoteAfter, exact := fpmath.MulDivExact(k, decimals, baseAfter)
	out := fpmath.Abs(quoteAfter - quoteReserve)
	if !exact {
		if dir == AddToAmm {
			out--
		} else {
			out++
		}
	}
	return out, nil
}

// InputAmount prices a quote amount at current reserves without trading.
func (v *Vamm) InputAmount(dir Direction, quoteAmount int64) (int64, error) {
	return InputAmountWithReserves(dir, quoteAmount, v.state.QuoteReserve, v.state.BaseReserve, v.config.Decimals)
}

// OutputAmount prices a base amount at current reserves without trading.
func (v *Vamm) OutputAmount(dir Direction, baseAmount int64) (int64, error) {
	return OutputAmountWithReserves(dir, baseAmount, v.state.QuoteReserve, v.state.BaseReserve, v.config.Decimals)
}

// CalcFee splits toll and spread fees off a quote amount.
func (v *Vamm) CalcFee(quoteAmount int64) (toll, spread int64) {
	toll = fpmath.MulRatio(quoteAmount, v.config.TollRatio, v.config.Decimals)
	spread = fpmath.MulRatio(quoteAmount, v.config.SpreadRatio, v.config.Decimals)
	return toll, spread
}

// ============================================================
// Swaps
// ============================================================

// SwapInput trades quoteAmount of quote for base. Only the margin engine may
// call it. baseLimit bounds slippage: minimum base out when adding quote,
// maximum base in when removing.
func (v *Vamm) SwapInput(caller string, dir Direction, quoteAmount, baseLimit int64, canOverFluctuate bool, blk Block) (int64, error) {
	if err := v.checkTradeAllowed(caller); err != nil {
		return 0, err
	}
	if quoteAmount <= 0 {
		return 0, ErrInvalidAmount
	}

	baseOut, err := v.InputAmount(dir, quoteAmount)
	if err != nil {
		return 0, err
	}
	if baseLimit != 0 {
		if dir == AddToAmm && baseOut < baseLimit {
			return 0, fmt.Errorf("%w: base %d < limit %d", ErrOverSlippage, baseOut, baseLimit)
		}
		if dir == RemoveFromAmm && baseOut > baseLimit {
			return 0, fmt.Errorf("%w: base %d > limit %d", ErrOverSlippage, baseOut, baseLimit)
		}
	}

	if err := v.updateReserve(dir, quoteAmount, baseOut, canOverFluctuate, blk); err != nil {
		return 0, err
	}
	return baseOut, nil
}

// SwapOutput trades baseAmount of base for quote. quoteLimit bounds
// slippage: minimum quote received when selling base in, maximum quote paid
// when buying base out.
func (v *Vamm) SwapOutput(caller string, dir Direction, baseAmount, quoteLimit int64, blk Block) (int64, error) {
	if err := v.checkTradeAllowed(caller); err != nil {
		return 0, err
	}
	if baseAmount <= 0 {
		return 0, ErrInvalidAmount
	}

	quoteOut, err := v.OutputAmount(dir, baseAmount)
	if err != nil {
		return 0, err
	}
	if quoteLimit != 0 {
		if dir == AddToAmm && quoteOut < quoteLimit {
			return 0, fmt.Errorf("%w: quote %d < limit %d", ErrOverSlippage, quoteOut, quoteLimit)
		}
		if dir == RemoveFromAmm && quoteOut > quoteLimit {
			return 0, fmt.Errorf("%w: quote %d > limit %d", ErrOverSlippage, quoteOut, quoteLimit)
		}
	}

	// The reserve update sees the opposite flow: base in means quote out.
	if err := v.updateReserve(dir.Flip(), quoteOut, baseAmount, true, blk); err != nil {
		return 0, err
	}
	return quoteOut, nil
}

func (v *Vamm) checkTradeAllowed(caller string) error {
	if !v.state.Open {
		return ErrNotOpen
	}
	if caller != v.config.MarginEngine {
		return ErrUnauthorized
	}
	return nil
}

// updateReserve applies the rounded swap amounts. AddToAmm grows the quote
// side and shrinks the base side.
func (v *Vamm) updateReserve(dir Direction, quoteDelta, baseDelta int64, canOverFluctuate bool, blk Block) error {
	var quoteNext, baseNext, tpsNext int64
	if dir == AddToAmm {
		quoteNext = v.state.QuoteReserve + quoteDelta
		baseNext = v.state.BaseReserve - baseDelta
		tpsNext = v.state.TotalPositionSize + baseDelta
	} else {
		quoteNext = v.state.QuoteReserve - quoteDelta
		baseNext = v.state.BaseReserve + baseDelta
		tpsNext = v.state.TotalPositionSize - baseDelta
	}
	if quoteNext <= 0 || baseNext <= 0 {
		return ErrDrainedReserves
	}

	if !canOverFluctuate {
		if err := v.checkFluctuationLimit(quoteNext, baseNext, blk); err != nil {
			return err
		}
	}

	v.state.QuoteReserve = quoteNext
	v.state.BaseReserve = baseNext
	v.state.TotalPositionSize = tpsNext
	v.addReserveSnapshot(blk)
	return nil
}

// checkFluctuationLimit compares the post-trade spot price to the last
// price recorded before this block.
func (v *Vamm) checkFluctuationLimit(quoteNext, baseNext int64, blk Block) error {
	limit := v.config.FluctuationLimit
	if limit == 0 || len(v.snapshots) == 0 {
		return nil
	}

	ref := v.snapshots[len(v.snapshots)-1]
	for i := len(v.snapshots) - 1; i >= 0; i-- {
		if v.snapshots[i].BlockHeight < blk.Height {
			ref = v.snapshots[i]
			break
		}
	}

	refPrice := fpmath.MulDiv(ref.QuoteReserve, v.config.Decimals, ref.BaseReserve)
	nextPrice := fpmath.MulDiv(quoteNext, v.config.Decimals, baseNext)
	move := fpmath.Abs(nextPrice - refPrice)
	if fpmath.MulDiv(move, v.config.Decimals, refPrice) > limit {
		return ErrOverFluctuation
	}
	return nil
}

// addReserveSnapshot appends a snapshot, updating in place when the height
// already has one.
func (v *Vamm) addReserveSnapshot(blk Block) {
	snap := ReserveSnapshot{
		QuoteReserve: v.state.QuoteReserve,
		BaseReserve:  v.state.BaseReserve,
		Timestamp:    blk.Time,
		BlockHeight:  blk.Height,
	}
	if n := len(v.snapshots); n > 0 && v.snapshots[n-1].BlockHeight == blk.Height {
		v.snapshots[n-1] = snap
		return
	}
	v.snapshots = append(v.snapshots, snap)
}

// Snapshots returns the reserve history.
func (v *Vamm) Snapshots() []ReserveSnapshot { return v.snapshots }

// Restore overwrites the curve's mutable state and reserve history, used
// when rebuilding from a persisted snapshot.
func (v *Vamm) Restore(state State, snapshots []ReserveSnapshot) {
	v.state = state
	v.snapshots = make([]ReserveSnapshot, len(snapshots))
	copy(v.snapshots, snapshots)
}

// ============================================================
// Funding
// ============================================================

// SettleFunding computes the signed premium fraction for the elapsed period.
// Positive means longs pay. Only the margin engine may settle.
func (v *Vamm) SettleFunding(caller string, blk Block) (premiumFraction int64, err error) {
	if caller != v.config.MarginEngine {
		return 0, ErrUnauthorized
	}
	if !v.state.Open {
		return 0, ErrNotOpen
	}
	if blk.Time < v.state.NextFundingTime {
		return 0, ErrSettlementEarly
	}

	ammTwap, err := v.TwapPrice(v.config.SpotPriceWindow, blk.Time)
	if err != nil {
		return 0, err
	}
	indexTwap, err := v.feed.TwapPrice(v.config.PricefeedKey, v.config.SpotPriceWindow, blk.Time)
	if err != nil {
		return 0, fmt.Errorf("index twap: %w", err)
	}

	premium := ammTwap - indexTwap
	premiumFraction = fpmath.ComputePremiumFraction(premium, v.config.FundingPeriod)

	v.state.FundingRate = fpmath.ComputeFundingRate(premiumFraction, indexTwap, v.config.Decimals)
	v.state.NextFundingTime = fpmath.NextFundingTime(blk.Time, v.config.FundingPeriod, v.config.FundingBuffer)
	return premiumFraction, nil
}

// IndexPrice returns the oracle spot price for the curve's pricefeed key.
func (v *Vamm) IndexPrice() (int64, error) {
	return v.feed.Price(v.config.PricefeedKey)
}
