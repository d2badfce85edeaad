package testutil

import (
	"testing"

	"github.com/rs/zerolog"

	"PerpEngine/internal/bank"
	"PerpEngine/internal/engine"
	"PerpEngine/internal/feepool"
	"PerpEngine/internal/insurance"
	"PerpEngine/internal/oracle"
	"PerpEngine/internal/vamm"
)

// Standard fixture constants. Nine decimal places everywhere.
const (
	Decimals int64 = 1_000_000_000
	Denom          = "USDC"

	Owner         = "owner"
	EngineAddr    = "engine-vault"
	InsuranceAddr = "insurance-fund"
	FeePoolAddr   = "fee-pool"
	CurveID       = "vamm-eth"
	FeedKey       = "ETH"

	Alice = "alice"
	Bob   = "bob"
	Carol = "carol"

	TraderBalance int64 = 5_000 * Decimals
)

// Scenario is the standard in-memory fixture: one ETH curve at reserves
// 1000/100, three traders and the insurance fund each funded with 5000
// quote, fees off, all risk ratios at 5%.
type Scenario struct {
	Ledger  *bank.Ledger
	Feed    *oracle.PriceFeed
	Fund    *insurance.Fund
	FeePool *feepool.FeePool
	Engine  *engine.Engine
	Curve   *vamm.Vamm

	Height int64
	Time   int64
}

// NewScenario builds the fixture. The clock starts at height 1, t=1000.
func NewScenario(t *testing.T) *Scenario {
	t.Helper()

	s := &Scenario{
		Ledger: bank.NewLedger(),
		Feed:   oracle.NewPriceFeed(Owner),
		Height: 1,
		Time:   1_000,
	}

	for _, account := range []string{Alice, Bob, Carol, InsuranceAddr} {
		if err := s.Ledger.Mint(account, Denom, TraderBalance); err != nil {
			t.Fatalf("funding %s: %v", account, err)
		}
	}
	if err := s.Feed.AppendPrice(Owner, FeedKey, 10*Decimals, s.Time); err != nil {
		t.Fatalf("seeding pricefeed: %v", err)
	}

	s.Fund = insurance.NewFund(Owner, InsuranceAddr, s.Ledger)
	s.FeePool = feepool.New(Owner, FeePoolAddr, s.Ledger)

	curve, err := vamm.New(CurveID, vamm.Config{
		Owner:           Owner,
		MarginEngine:    EngineAddr,
		InsuranceFund:   InsuranceAddr,
		BaseDenom:       "ETH",
		QuoteDenom:      Denom,
		Decimals:        Decimals,
		FundingPeriod:   3_600,
		FundingBuffer:   600,
		SpotPriceWindow: 900,
		PricefeedKey:    FeedKey,
	}, 1_000*Decimals, 100*Decimals, s.Feed, s.Block())
	if err != nil {
		t.Fatalf("creating curve: %v", err)
	}
	s.Curve = curve
	if err := s.Fund.AddCurve(Owner, curve); err != nil {
		t.Fatalf("registering curve: %v", err)
	}

	eng, err := engine.New(engine.Config{
		Owner:                  Owner,
		InsuranceFund:          InsuranceAddr,
		FeePool:                FeePoolAddr,
		EligibleCollateral:     Denom,
		Decimals:               Decimals,
		InitialMarginRatio:     50_000_000,
		MaintenanceMarginRatio: 50_000_000,
		LiquidationFee:         50_000_000,
	}, EngineAddr, s.Ledger, s.Fund, s.FeePool, zerolog.Nop())
	if err != nil {
		t.Fatalf("creating engine: %v", err)
	}
	s.Engine = eng
	return s
}

// Block returns the current execution context.
func (s *Scenario) Block() vamm.Block {
	return vamm.Block{Height: s.Height, Time: s.Time}
}

// NextBlock advances the clock by one height and one second.
func (s *Scenario) NextBlock() vamm.Block {
	s.Height++
	s.Time++
	return s.Block()
}

// AdvanceTime moves the clock forward without minting intermediate blocks.
func (s *Scenario) AdvanceTime(seconds int64) vamm.Block {
	s.Height++
	s.Time += seconds
	return s.Block()
}

// Balance is shorthand for a quote balance lookup.
func (s *Scenario) Balance(address string) int64 {
	return s.Ledger.BalanceOf(address, Denom)
}
