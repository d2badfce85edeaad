package vamm

import (
	"errors"
	"testing"
)

const (
	dec    = int64(1_000_000_000)
	engine = "engine"
	owner  = "owner"
)

type stubFeed struct {
	spot int64
	twap int64
}

func (s *stubFeed) Price(string) (int64, error) { return s.spot, nil }

func (s *stubFeed) TwapPrice(string, int64, int64) (int64, error) { return s.twap, nil }

func testConfig() Config {
	return Config{
		Owner:           owner,
		MarginEngine:    engine,
		BaseDenom:       "ETH",
		QuoteDenom:      "USDC",
		Decimals:        dec,
		FundingPeriod:   3_600,
		FundingBuffer:   600,
		SpotPriceWindow: 900,
		PricefeedKey:    "ETH",
	}
}

func testVamm(t *testing.T) *Vamm {
	t.Helper()
	v, err := New("vamm-eth", testConfig(), 1_000*dec, 100*dec, &stubFeed{spot: 10 * dec, twap: 10 * dec}, Block{Height: 1, Time: 1_000})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return v
}

// ============================================================
// Pricing
// ============================================================

func TestSpotPrice(t *testing.T) {
	v := testVamm(t)
	if got := v.SpotPrice(); got != 10*dec {
		t.Errorf("spot price = %d, want %d", got, 10*dec)
	}
}

func TestInputAmountExactDivision(t *testing.T) {
	v := testVamm(t)
	// 600 quote in: base_after = 62.5, out = 37.5 with no remainder.
	out, err := v.InputAmount(AddToAmm, 600*dec)
	if err != nil {
		t.Fatalf("InputAmount: %v", err)
	}
	if out != 37_500_000_000 {
		t.Errorf("base out = %d, want 37500000000", out)
	}
}

func TestInputAmountRoundsAgainstTrader(t *testing.T) {
	v := testVamm(t)
	// 100 quote out: base in rounds UP when removing quote from the pool.
	out, err := v.InputAmount(RemoveFromAmm, 100*dec)
	if err != nil {
		t.Fatalf("InputAmount: %v", err)
	}
	if out != 11_111_111_112 {
		t.Errorf("base in = %d, want 11111111112", out)
	}
}

func TestSwapInputSequenceCarriesRoundingDrift(t *testing.T) {
	v := testVamm(t)
	blk := Block{Height: 2, Time: 1_010}

	first, err := v.SwapInput(engine, AddToAmm, 600*dec, 0, false, blk)
	if err != nil {
		t.Fatalf("first swap: %v", err)
	}
	second, err := v.SwapInput(engine, AddToAmm, 600*dec, 0, false, Block{Height: 3, Time: 1_020})
	if err != nil {
		t.Fatalf("second swap: %v", err)
	}
	if first != 37_500_000_000 {
		t.Errorf("first = %d, want 37500000000", first)
	}
	if second != 17_045_454_545 {
		t.Errorf("second = %d, want 17045454545", second)
	}
	if got := v.State().TotalPositionSize; got != 54_545_454_545 {
		t.Errorf("total position size = %d, want 54545454545", got)
	}
}

func TestSwapOutputChain(t *testing.T) {
	// Short 100 quote, a long of 60 quote, then buy the short back.
	v := testVamm(t)

	baseIn, err := v.SwapInput(engine, RemoveFromAmm, 100*dec, 0, false, Block{Height: 2, Time: 1_010})
	if err != nil {
		t.Fatalf("short: %v", err)
	}
	if baseIn != 11_111_111_112 {
		t.Fatalf("short base = %d, want 11111111112", baseIn)
	}

	if _, err := v.SwapInput(engine, AddToAmm, 60*dec, 0, false, Block{Height: 3, Time: 1_020}); err != nil {
		t.Fatalf("long: %v", err)
	}

	quoteIn, err := v.SwapOutput(engine, RemoveFromAmm, baseIn, 0, Block{Height: 4, Time: 1_030})
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if quoteIn != 114_626_865_681 {
		t.Errorf("close quote = %d, want 114626865681", quoteIn)
	}

	st := v.State()
	if st.QuoteReserve != 1_074_626_865_681 {
		t.Errorf("quote reserve = %d, want 1074626865681", st.QuoteReserve)
	}
	if st.BaseReserve != 93_055_555_556 {
		t.Errorf("base reserve = %d, want 93055555556", st.BaseReserve)
	}
}

// ============================================================
// Guards
// ============================================================

func TestSwapRequiresEngineCaller(t *testing.T) {
	v := testVamm(t)
	if _, err := v.SwapInput("intruder", AddToAmm, dec, 0, false, Block{Height: 2, Time: 1_010}); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestSwapRejectedWhenClosed(t *testing.T) {
	v := testVamm(t)
	if err := v.SetOpen(owner, false, Block{Height: 2, Time: 1_010}); err != nil {
		t.Fatalf("SetOpen: %v", err)
	}
	if _, err := v.SwapInput(engine, AddToAmm, dec, 0, false, Block{Height: 2, Time: 1_010}); !errors.Is(err, ErrNotOpen) {
		t.Errorf("expected ErrNotOpen, got %v", err)
	}
}

func TestSwapInputBaseLimit(t *testing.T) {
	v := testVamm(t)
	blk := Block{Height: 2, Time: 1_010}

	// Buying base: limit above the quote must fail.
	if _, err := v.SwapInput(engine, AddToAmm, 600*dec, 38_000_000_000, false, blk); !errors.Is(err, ErrOverSlippage) {
		t.Errorf("expected ErrOverSlippage, got %v", err)
	}
	// At the exact quote it passes.
	if _, err := v.SwapInput(engine, AddToAmm, 600*dec, 37_500_000_000, false, blk); err != nil {
		t.Errorf("swap at limit: %v", err)
	}
}

func TestFluctuationLimit(t *testing.T) {
	cfg := testConfig()
	cfg.FluctuationLimit = 10_000_000 // 1% per block
	v, err := New("vamm-eth", cfg, 1_000*dec, 100*dec, &stubFeed{}, Block{Height: 1, Time: 1_000})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// 600 quote moves price from 10 to ~26: far past 1%.
	if _, err := v.SwapInput(engine, AddToAmm, 600*dec, 0, false, Block{Height: 2, Time: 1_010}); !errors.Is(err, ErrOverFluctuation) {
		t.Errorf("expected ErrOverFluctuation, got %v", err)
	}
	// The liquidation path may go over.
	if _, err := v.SwapInput(engine, AddToAmm, 600*dec, 0, true, Block{Height: 2, Time: 1_010}); err != nil {
		t.Errorf("canOverFluctuate swap: %v", err)
	}
}

func TestUpdateConfigOwnerOnly(t *testing.T) {
	v := testVamm(t)
	toll := int64(5_000_000)
	if err := v.UpdateConfig("intruder", ConfigUpdate{TollRatio: &toll}); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
	if err := v.UpdateConfig(owner, ConfigUpdate{TollRatio: &toll}); err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}
	if got := v.Config().TollRatio; got != toll {
		t.Errorf("toll ratio = %d, want %d", got, toll)
	}
}

func TestCalcFee(t *testing.T) {
	v := testVamm(t)
	toll, spread := int64(10_000_000), int64(5_000_000) // 1% / 0.5%
	if err := v.UpdateConfig(owner, ConfigUpdate{TollRatio: &toll, SpreadRatio: &spread}); err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}
	gotToll, gotSpread := v.CalcFee(600 * dec)
	if gotToll != 6*dec {
		t.Errorf("toll = %d, want %d", gotToll, 6*dec)
	}
	if gotSpread != 3*dec {
		t.Errorf("spread = %d, want %d", gotSpread, 3*dec)
	}
}

// ============================================================
// Snapshots and TWAP
// ============================================================

func TestSnapshotsSameHeightUpdateInPlace(t *testing.T) {
	v := testVamm(t)
	blk := Block{Height: 2, Time: 1_010}

	if _, err := v.SwapInput(engine, AddToAmm, 100*dec, 0, false, blk); err != nil {
		t.Fatalf("swap: %v", err)
	}
	if _, err := v.SwapInput(engine, AddToAmm, 100*dec, 0, false, blk); err != nil {
		t.Fatalf("swap: %v", err)
	}

	snaps := v.Snapshots()
	if len(snaps) != 2 {
		t.Fatalf("snapshot count = %d, want 2", len(snaps))
	}
	last := snaps[len(snaps)-1]
	if last.QuoteReserve != 1_200*dec {
		t.Errorf("snapshot quote = %d, want %d", last.QuoteReserve, 1_200*dec)
	}
}

func TestTwapPriceTimeWeighted(t *testing.T) {
	v := testVamm(t)

	// Price 10 until t=1600, then ~16 until now=1900.
	if _, err := v.SwapInput(engine, AddToAmm, 600*dec, 0, false, Block{Height: 2, Time: 1_600}); err != nil {
		t.Fatalf("swap: %v", err)
	}

	// Window 900 covers [1000, 1900]: 600s at 10, 300s at 25.6.
	got, err := v.TwapPrice(900, 1_900)
	if err != nil {
		t.Fatalf("TwapPrice: %v", err)
	}
	want := (600*10*dec + 300*25_600_000_000) / 900
	if got != want {
		t.Errorf("twap = %d, want %d", got, want)
	}
}

func TestTwapZeroWindowIsSpot(t *testing.T) {
	v := testVamm(t)
	got, err := v.TwapPrice(0, 1_000)
	if err != nil {
		t.Fatalf("TwapPrice: %v", err)
	}
	if got != 10*dec {
		t.Errorf("twap = %d, want %d", got, 10*dec)
	}
}

// ============================================================
// Funding
// ============================================================

func TestSettleFundingPremium(t *testing.T) {
	feed := &stubFeed{spot: 10 * dec, twap: 9_976 * dec / 1_000} // index twap 9.976
	v, err := New("vamm-eth", testConfig(), 1_000*dec, 100*dec, feed, Block{Height: 1, Time: 1_000})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	next := v.State().NextFundingTime
	// amm twap 10 vs index 9.976: premium 0.024 over 1h pays 0.001 to shorts.
	frac, err := v.SettleFunding(engine, Block{Height: 10, Time: next})
	if err != nil {
		t.Fatalf("SettleFunding: %v", err)
	}
	if frac != 1_000_000 {
		t.Errorf("premium fraction = %d, want 1000000", frac)
	}
	if got := v.State().NextFundingTime; got <= next {
		t.Errorf("next funding time not advanced: %d", got)
	}
}

func TestSettleFundingTooEarly(t *testing.T) {
	v := testVamm(t)
	if _, err := v.SettleFunding(engine, Block{Height: 2, Time: 1_001}); !errors.Is(err, ErrSettlementEarly) {
		t.Errorf("expected ErrSettlementEarly, got %v", err)
	}
}

func TestSettleFundingEngineOnly(t *testing.T) {
	v := testVamm(t)
	if _, err := v.SettleFunding("intruder", Block{Height: 2, Time: 90_000}); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}
