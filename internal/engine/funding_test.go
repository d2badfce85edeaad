package engine_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"PerpEngine/internal/engine"
	"PerpEngine/internal/testutil"
	"PerpEngine/internal/vamm"
)

// ============================================================
// Funding settlement
// ============================================================

func TestPayFundingBeforeDue(t *testing.T) {
	s := testutil.NewScenario(t)

	err := s.Engine.PayFunding(testutil.CurveID, s.NextBlock())
	require.ErrorIs(t, err, vamm.ErrSettlementEarly)
}

func TestPayFundingLongsPay(t *testing.T) {
	s := testutil.NewScenario(t)

	// Alice's long pushes the mark to 15.625 against a 10 index.
	require.NoError(t, s.Engine.OpenPosition(testutil.Alice, testutil.CurveID, engine.SideBuy, 25*dec, 10*dec, 0, s.NextBlock()))

	blk := s.AdvanceTime(2_700) // t=3701, past the first hour boundary
	require.NoError(t, s.Engine.PayFunding(testutil.CurveID, blk))

	// premium 5.625 over a one-hour period is 5.625/24 per day fraction.
	cumulative, err := s.Engine.GetCumulativePremiumFraction(testutil.CurveID)
	require.NoError(t, err)
	require.Equal(t, int64(234_375_000), cumulative)

	curveState := s.Curve.State()
	require.Equal(t, int64(23_437_500), curveState.FundingRate)
	require.Equal(t, int64(7_200), curveState.NextFundingTime)

	// The vault owes 20 base * fraction to the insurance fund up front;
	// alice's margin absorbs it the next time her position is touched.
	require.Equal(t, int64(20_312_500_000), s.Balance(testutil.EngineAddr))
	require.Equal(t, testutil.TraderBalance+4_687_500_000, s.Balance(testutil.InsuranceAddr))

	pos, err := s.Engine.GetPositionWithFundingPayment(testutil.CurveID, testutil.Alice)
	require.NoError(t, err)
	require.Equal(t, int64(20_312_500_000), pos.Margin)
	require.Equal(t, int64(234_375_000), pos.LastUpdatedPremiumFraction)
}

func TestPayFundingLongsReceive(t *testing.T) {
	s := testutil.NewScenario(t)

	require.NoError(t, s.Engine.OpenPosition(testutil.Alice, testutil.CurveID, engine.SideBuy, 25*dec, 10*dec, 0, s.NextBlock()))
	// Index jumps to 20 while the mark sits at 15.625.
	require.NoError(t, s.Feed.AppendPrice(testutil.Owner, testutil.FeedKey, 20*dec, s.Time))

	blk := s.AdvanceTime(2_700)
	require.NoError(t, s.Engine.PayFunding(testutil.CurveID, blk))

	cumulative, err := s.Engine.GetCumulativePremiumFraction(testutil.CurveID)
	require.NoError(t, err)
	require.Equal(t, int64(-182_291_666), cumulative)

	// Negative fraction flows from the insurance fund into the vault.
	require.Equal(t, int64(25_000_000_000+3_645_833_320), s.Balance(testutil.EngineAddr))
	require.Equal(t, testutil.TraderBalance-3_645_833_320, s.Balance(testutil.InsuranceAddr))

	pos, err := s.Engine.GetPositionWithFundingPayment(testutil.CurveID, testutil.Alice)
	require.NoError(t, err)
	require.Equal(t, int64(28_645_833_320), pos.Margin)
}

func TestPayFundingAccumulates(t *testing.T) {
	s := testutil.NewScenario(t)

	require.NoError(t, s.Engine.OpenPosition(testutil.Alice, testutil.CurveID, engine.SideBuy, 25*dec, 10*dec, 0, s.NextBlock()))

	require.NoError(t, s.Engine.PayFunding(testutil.CurveID, s.AdvanceTime(2_700)))
	require.NoError(t, s.Engine.PayFunding(testutil.CurveID, s.AdvanceTime(3_600)))

	cumulative, err := s.Engine.GetCumulativePremiumFraction(testutil.CurveID)
	require.NoError(t, err)
	require.Equal(t, int64(2*234_375_000), cumulative)

	history := s.Engine.PremiumFractions(testutil.CurveID)
	require.Equal(t, []int64{234_375_000, 468_750_000}, history)
}

func TestFundingSettlesIntoMarginOnTouch(t *testing.T) {
	s := testutil.NewScenario(t)

	require.NoError(t, s.Engine.OpenPosition(testutil.Alice, testutil.CurveID, engine.SideBuy, 25*dec, 10*dec, 0, s.NextBlock()))
	require.NoError(t, s.Engine.PayFunding(testutil.CurveID, s.AdvanceTime(2_700)))

	// Withdrawing margin settles the accrued funding first.
	require.NoError(t, s.Engine.WithdrawMargin(testutil.Alice, testutil.CurveID, 1*dec, s.Block()))

	pos, err := s.Engine.GetPosition(testutil.CurveID, testutil.Alice)
	require.NoError(t, err)
	require.Equal(t, int64(20_312_500_000-1*dec), pos.Margin)
	require.Equal(t, int64(234_375_000), pos.LastUpdatedPremiumFraction)
}
