package ingestion

import (
	"encoding/json"
	"fmt"

	"PerpEngine/internal/action"
	"PerpEngine/internal/engine"
)

// EncodeAction serializes a typed action back to its wire JSON. The
// persisted payload round-trips through ParseRawAction on replay, so
// the two functions must stay inverses.
func EncodeAction(act action.Action) ([]byte, error) {
	switch a := act.(type) {
	case *action.OpenPosition:
		return json.Marshal(openPositionJSON{
			ActionID:    a.ActionID.String(),
			Trader:      a.Trader,
			CurveID:     a.Curve,
			Side:        sideString(a.Side),
			QuoteAmount: a.QuoteAmount,
			Leverage:    a.Leverage,
			BaseLimit:   a.BaseLimit,
			Sequence:    a.Seq,
			BlockHeight: a.Height,
			BlockTime:   a.Time,
		})
	case *action.ClosePosition:
		return json.Marshal(closePositionJSON{
			ActionID:    a.ActionID.String(),
			Trader:      a.Trader,
			CurveID:     a.Curve,
			QuoteLimit:  a.QuoteLimit,
			Sequence:    a.Seq,
			BlockHeight: a.Height,
			BlockTime:   a.Time,
		})
	case *action.DepositMargin:
		return json.Marshal(marginJSON{
			ActionID:    a.ActionID.String(),
			Trader:      a.Trader,
			CurveID:     a.Curve,
			Amount:      a.Amount,
			Sequence:    a.Seq,
			BlockHeight: a.Height,
			BlockTime:   a.Time,
		})
	case *action.WithdrawMargin:
		return json.Marshal(marginJSON{
			ActionID:    a.ActionID.String(),
			Trader:      a.Trader,
			CurveID:     a.Curve,
			Amount:      a.Amount,
			Sequence:    a.Seq,
			BlockHeight: a.Height,
			BlockTime:   a.Time,
		})
	case *action.Liquidate:
		return json.Marshal(liquidateJSON{
			ActionID:    a.ActionID.String(),
			Liquidator:  a.Liquidator,
			Trader:      a.Trader,
			CurveID:     a.Curve,
			QuoteLimit:  a.QuoteLimit,
			Sequence:    a.Seq,
			BlockHeight: a.Height,
			BlockTime:   a.Time,
		})
	case *action.PayFunding:
		return json.Marshal(payFundingJSON{
			CurveID:     a.Curve,
			Sequence:    a.Seq,
			BlockHeight: a.Height,
			BlockTime:   a.Time,
		})
	case *action.OraclePrice:
		return json.Marshal(oraclePriceJSON{
			FeedKey:     a.FeedKey,
			Price:       a.Price,
			Sequence:    a.Seq,
			BlockHeight: a.Height,
			BlockTime:   a.Time,
		})
	case *action.RiskParamUpdate:
		return json.Marshal(riskParamUpdateJSON{
			Caller:                  a.Caller,
			InitialMarginRatio:      a.InitialMarginRatio,
			MaintenanceMarginRatio:  a.MaintenanceMarginRatio,
			PartialLiquidationRatio: a.PartialLiquidationRatio,
			LiquidationFee:          a.LiquidationFee,
			Sequence:                a.Seq,
			BlockHeight:             a.Height,
			BlockTime:               a.Time,
		})
	case *action.SetPause:
		return json.Marshal(setPauseJSON{
			Caller:      a.Caller,
			Paused:      a.Paused,
			Sequence:    a.Seq,
			BlockHeight: a.Height,
			BlockTime:   a.Time,
		})
	default:
		return nil, fmt.Errorf("unknown action type: %T", act)
	}
}

func sideString(s engine.Side) string {
	if s == engine.SideSell {
		return "sell"
	}
	return "buy"
}
