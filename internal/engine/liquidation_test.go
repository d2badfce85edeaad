package engine_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"PerpEngine/internal/engine"
	"PerpEngine/internal/testutil"
)

// setRiskParams overrides the liquidation knobs on the scenario engine.
func setRiskParams(t *testing.T, s *testutil.Scenario, mmr, partial, liqFee int64) {
	t.Helper()
	err := s.Engine.UpdateConfig(testutil.Owner, engine.ConfigUpdate{
		MaintenanceMarginRatio:  &mmr,
		PartialLiquidationRatio: &partial,
		LiquidationFee:          &liqFee,
	})
	require.NoError(t, err)
}

// ============================================================
// Partial liquidation
// ============================================================

func TestPartialLiquidation(t *testing.T) {
	s := testutil.NewScenario(t)
	setRiskParams(t, s, 100_000_000, 250_000_000, 25_000_000)

	require.NoError(t, s.Engine.OpenPosition(testutil.Alice, testutil.CurveID, engine.SideBuy, 25*dec, 10*dec, 0, s.NextBlock()))
	require.NoError(t, s.Engine.OpenPosition(testutil.Bob, testutil.CurveID, engine.SideSell, 45_180_722_890, 1*dec, 0, s.NextBlock()))

	// Past the spot window both valuations settle on the post-trade price.
	blk := s.AdvanceTime(900)

	ratio, err := s.Engine.GetMarginRatio(testutil.CurveID, testutil.Alice, blk.Time)
	require.NoError(t, err)
	require.Equal(t, int64(38_237_499), ratio)

	require.NoError(t, s.Engine.Liquidate(testutil.Carol, testutil.CurveID, testutil.Alice, 0, blk))

	pos, err := s.Engine.GetPosition(testutil.CurveID, testutil.Alice)
	require.NoError(t, err)
	require.Equal(t, int64(15*dec), pos.Size)
	require.Equal(t, int64(19_274_981_657), pos.Margin)
	require.Equal(t, int64(177_530_731_931), pos.Notional)

	// Penalty splits evenly between the liquidator and the insurance fund.
	require.Equal(t, testutil.TraderBalance+855_695_509, s.Balance(testutil.Carol))
	require.Equal(t, testutil.TraderBalance+855_695_509, s.Balance(testutil.InsuranceAddr))

	curveState := s.Curve.State()
	require.Equal(t, int64(1_136_363_636_366), curveState.QuoteReserve)
	require.Equal(t, int64(88*dec), curveState.BaseReserve)

	ratio, err = s.Engine.GetMarginRatio(testutil.CurveID, testutil.Alice, blk.Time)
	require.NoError(t, err)
	require.Equal(t, int64(43_713_253), ratio)
}

func TestPartialLiquidationEntersRestrictionMode(t *testing.T) {
	s := testutil.NewScenario(t)
	setRiskParams(t, s, 100_000_000, 250_000_000, 25_000_000)

	require.NoError(t, s.Engine.OpenPosition(testutil.Alice, testutil.CurveID, engine.SideBuy, 25*dec, 10*dec, 0, s.NextBlock()))
	require.NoError(t, s.Engine.OpenPosition(testutil.Bob, testutil.CurveID, engine.SideSell, 45_180_722_890, 1*dec, 0, s.NextBlock()))

	blk := s.AdvanceTime(900)
	require.NoError(t, s.Engine.Liquidate(testutil.Carol, testutil.CurveID, testutil.Alice, 0, blk))

	// The liquidated trader can neither open nor close for the rest of
	// the block.
	err := s.Engine.OpenPosition(testutil.Alice, testutil.CurveID, engine.SideBuy, 10*dec, 2*dec, 0, blk)
	require.ErrorIs(t, err, engine.ErrRestrictedAction)
	err = s.Engine.ClosePosition(testutil.Alice, testutil.CurveID, 0, blk)
	require.ErrorIs(t, err, engine.ErrRestrictedAction)

	// Other traders on the curve are unaffected.
	require.NoError(t, s.Engine.ClosePosition(testutil.Bob, testutil.CurveID, 0, blk))

	// The next block trades normally again.
	require.NoError(t, s.Engine.OpenPosition(testutil.Alice, testutil.CurveID, engine.SideBuy, 10*dec, 2*dec, 0, s.NextBlock()))
}

// ============================================================
// Full liquidation
// ============================================================

func TestFullLiquidationWithBadDebt(t *testing.T) {
	s := testutil.NewScenario(t)

	require.NoError(t, s.Engine.OpenPosition(testutil.Alice, testutil.CurveID, engine.SideBuy, 60*dec, 10*dec, 0, s.NextBlock()))
	require.NoError(t, s.Engine.OpenPosition(testutil.Bob, testutil.CurveID, engine.SideSell, 250*dec, 2*dec, 0, s.NextBlock()))

	blk := s.AdvanceTime(900)

	ratio, err := s.Engine.GetMarginRatio(testutil.CurveID, testutil.Alice, blk.Time)
	require.NoError(t, err)
	require.Equal(t, int64(-680_991_735), ratio)

	require.NoError(t, s.Engine.Liquidate(testutil.Carol, testutil.CurveID, testutil.Alice, 0, blk))

	_, err = s.Engine.GetPosition(testutil.CurveID, testutil.Alice)
	require.ErrorIs(t, err, engine.ErrZeroPosition)

	// Close quote 321_238_938_050 against notional 600 leaves a loss far past
	// the 60 margin; the insurance fund eats the loss plus the liquidator fee.
	require.Equal(t, testutil.TraderBalance+8_030_973_451, s.Balance(testutil.Carol))
	require.Equal(t, testutil.TraderBalance-226_792_035_401, s.Balance(testutil.InsuranceAddr))
	require.Equal(t, int64(528_761_061_950), s.Balance(testutil.EngineAddr))

	curveState := s.Curve.State()
	require.Equal(t, int64(778_761_061_950), curveState.QuoteReserve)
	require.Equal(t, int64(128_409_090_910), curveState.BaseReserve)

	// The liquidated trader stays blocked for the rest of the block, even
	// now that they hold no position.
	err = s.Engine.OpenPosition(testutil.Alice, testutil.CurveID, engine.SideBuy, 10*dec, 2*dec, 0, blk)
	require.ErrorIs(t, err, engine.ErrRestrictedAction)
	err = s.Engine.ClosePosition(testutil.Alice, testutil.CurveID, 0, blk)
	require.ErrorIs(t, err, engine.ErrRestrictedAction)
}

func TestFullLiquidationSurplusGoesToInsurance(t *testing.T) {
	s := testutil.NewScenario(t)

	require.NoError(t, s.Engine.OpenPosition(testutil.Alice, testutil.CurveID, engine.SideBuy, 25*dec, 10*dec, 0, s.NextBlock()))
	require.NoError(t, s.Engine.OpenPosition(testutil.Bob, testutil.CurveID, engine.SideSell, 45_180_722_890, 1*dec, 0, s.NextBlock()))

	// MMR 10% puts alice under water while her margin still covers the fee.
	setRiskParams(t, s, 100_000_000, 0, 25_000_000)

	blk := s.AdvanceTime(900)
	insuranceBefore := s.Balance(testutil.InsuranceAddr)
	require.NoError(t, s.Engine.Liquidate(testutil.Carol, testutil.CurveID, testutil.Alice, 0, blk))

	_, err := s.Engine.GetPosition(testutil.CurveID, testutil.Alice)
	require.ErrorIs(t, err, engine.ErrZeroPosition)

	// Close quote 233_945_490_700, realized loss 16_054_509_300, remaining
	// margin 8_945_490_700 splits into the fee and the insurance remainder.
	carolFee := s.Balance(testutil.Carol) - testutil.TraderBalance
	insuranceGain := s.Balance(testutil.InsuranceAddr) - insuranceBefore
	require.Equal(t, int64(2_924_318_633), carolFee)
	require.Equal(t, int64(6_021_172_067), insuranceGain)

	// Alice forfeits exactly her margin across fee, insurance and the vault.
	aliceLoss := testutil.TraderBalance - s.Balance(testutil.Alice)
	require.Equal(t, aliceLoss, carolFee+insuranceGain+s.Balance(testutil.EngineAddr)-45_180_722_890)
}

// ============================================================
// Guards
// ============================================================

func TestLiquidateOvercollateralized(t *testing.T) {
	s := testutil.NewScenario(t)

	require.NoError(t, s.Engine.OpenPosition(testutil.Alice, testutil.CurveID, engine.SideBuy, 60*dec, 10*dec, 0, s.NextBlock()))

	blk := s.AdvanceTime(900)
	err := s.Engine.Liquidate(testutil.Carol, testutil.CurveID, testutil.Alice, 0, blk)
	require.ErrorIs(t, err, engine.ErrOvercollateralized)
}

func TestLiquidateWithoutPosition(t *testing.T) {
	s := testutil.NewScenario(t)

	err := s.Engine.Liquidate(testutil.Carol, testutil.CurveID, testutil.Bob, 0, s.NextBlock())
	require.ErrorIs(t, err, engine.ErrZeroPosition)
}
