package ingestion

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"PerpEngine/internal/action"
	"PerpEngine/internal/engine"
)

// ParseRawAction converts a RawAction (JSON bytes + action type name)
// into a typed action. The ingestion shell validates and converts before
// anything reaches the core.
func ParseRawAction(raw RawAction) (action.Action, error) {
	switch raw.ActionType {
	case "OpenPosition":
		return parseOpenPosition(raw.Data)
	case "ClosePosition":
		return parseClosePosition(raw.Data)
	case "DepositMargin":
		return parseDepositMargin(raw.Data)
	case "WithdrawMargin":
		return parseWithdrawMargin(raw.Data)
	case "Liquidate":
		return parseLiquidate(raw.Data)
	case "PayFunding":
		return parsePayFunding(raw.Data)
	case "OraclePrice":
		return parseOraclePrice(raw.Data)
	case "RiskParamUpdate":
		return parseRiskParamUpdate(raw.Data)
	case "SetPause":
		return parseSetPause(raw.Data)
	default:
		return nil, fmt.Errorf("unknown action type: %s", raw.ActionType)
	}
}

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers.

type openPositionJSON struct {
	ActionID    string `json:"action_id"`
	Trader      string `json:"trader"`
	CurveID     string `json:"curve_id"`
	Side        string `json:"side"` // "buy" or "sell"
	QuoteAmount int64  `json:"quote_amount"`
	Leverage    int64  `json:"leverage"`
	BaseLimit   int64  `json:"base_limit"`
	Sequence    int64  `json:"sequence"`
	BlockHeight int64  `json:"block_height"`
	BlockTime   int64  `json:"block_time"`
}

func parseOpenPosition(data []byte) (*action.OpenPosition, error) {
	var j openPositionJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse OpenPosition: %w", err)
	}

	actionID, err := uuid.Parse(j.ActionID)
	if err != nil {
		return nil, fmt.Errorf("parse action_id: %w", err)
	}

	side := engine.SideBuy
	if j.Side == "sell" {
		side = engine.SideSell
	}

	return &action.OpenPosition{
		ActionID:    actionID,
		Trader:      j.Trader,
		Curve:       j.CurveID,
		Side:        side,
		QuoteAmount: j.QuoteAmount,
		Leverage:    j.Leverage,
		BaseLimit:   j.BaseLimit,
		Seq:         j.Sequence,
		Height:      j.BlockHeight,
		Time:        j.BlockTime,
	}, nil
}

type closePositionJSON struct {
	ActionID    string `json:"action_id"`
	Trader      string `json:"trader"`
	CurveID     string `json:"curve_id"`
	QuoteLimit  int64  `json:"quote_limit"`
	Sequence    int64  `json:"sequence"`
	BlockHeight int64  `json:"block_height"`
	BlockTime   int64  `json:"block_time"`
}

func parseClosePosition(data []byte) (*action.ClosePosition, error) {
	var j closePositionJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ClosePosition: %w", err)
	}
	actionID, err := uuid.Parse(j.ActionID)
	if err != nil {
		return nil, fmt.Errorf("parse action_id: %w", err)
	}
	return &action.ClosePosition{
		ActionID:   actionID,
		Trader:     j.Trader,
		Curve:      j.CurveID,
		QuoteLimit: j.QuoteLimit,
		Seq:        j.Sequence,
		Height:     j.BlockHeight,
		Time:       j.BlockTime,
	}, nil
}

type marginJSON struct {
	ActionID    string `json:"action_id"`
	Trader      string `json:"trader"`
	CurveID     string `json:"curve_id"`
	Amount      int64  `json:"amount"`
	Sequence    int64  `json:"sequence"`
	BlockHeight int64  `json:"block_height"`
	BlockTime   int64  `json:"block_time"`
}

func parseDepositMargin(data []byte) (*action.DepositMargin, error) {
	var j marginJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse DepositMargin: %w", err)
	}
	actionID, err := uuid.Parse(j.ActionID)
	if err != nil {
		return nil, fmt.Errorf("parse action_id: %w", err)
	}
	return &action.DepositMargin{
		ActionID: actionID,
		Trader:   j.Trader,
		Curve:    j.CurveID,
		Amount:   j.Amount,
		Seq:      j.Sequence,
		Height:   j.BlockHeight,
		Time:     j.BlockTime,
	}, nil
}

func parseWithdrawMargin(data []byte) (*action.WithdrawMargin, error) {
	var j marginJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse WithdrawMargin: %w", err)
	}
	actionID, err := uuid.Parse(j.ActionID)
	if err != nil {
		return nil, fmt.Errorf("parse action_id: %w", err)
	}
	return &action.WithdrawMargin{
		ActionID: actionID,
		Trader:   j.Trader,
		Curve:    j.CurveID,
		Amount:   j.Amount,
		Seq:      j.Sequence,
		Height:   j.BlockHeight,
		Time:     j.BlockTime,
	}, nil
}

type liquidateJSON struct {
	ActionID    string `json:"action_id"`
	Liquidator  string `json:"liquidator"`
	Trader      string `json:"trader"`
	CurveID     string `json:"curve_id"`
	QuoteLimit  int64  `json:"quote_limit"`
	Sequence    int64  `json:"sequence"`
	BlockHeight int64  `json:"block_height"`
	BlockTime   int64  `json:"block_time"`
}

func parseLiquidate(data []byte) (*action.Liquidate, error) {
	var j liquidateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Liquidate: %w", err)
	}
	actionID, err := uuid.Parse(j.ActionID)
	if err != nil {
		return nil, fmt.Errorf("parse action_id: %w", err)
	}
	return &action.Liquidate{
		ActionID:   actionID,
		Liquidator: j.Liquidator,
		Trader:     j.Trader,
		Curve:      j.CurveID,
		QuoteLimit: j.QuoteLimit,
		Seq:        j.Sequence,
		Height:     j.BlockHeight,
		Time:       j.BlockTime,
	}, nil
}

type payFundingJSON struct {
	CurveID     string `json:"curve_id"`
	Sequence    int64  `json:"sequence"`
	BlockHeight int64  `json:"block_height"`
	BlockTime   int64  `json:"block_time"`
}

func parsePayFunding(data []byte) (*action.PayFunding, error) {
	var j payFundingJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PayFunding: %w", err)
	}
	return &action.PayFunding{
		Curve:  j.CurveID,
		Seq:    j.Sequence,
		Height: j.BlockHeight,
		Time:   j.BlockTime,
	}, nil
}

type oraclePriceJSON struct {
	FeedKey     string `json:"feed_key"`
	Price       int64  `json:"price"`
	Sequence    int64  `json:"sequence"`
	BlockHeight int64  `json:"block_height"`
	BlockTime   int64  `json:"block_time"`
}

func parseOraclePrice(data []byte) (*action.OraclePrice, error) {
	var j oraclePriceJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse OraclePrice: %w", err)
	}
	return &action.OraclePrice{
		FeedKey: j.FeedKey,
		Price:   j.Price,
		Seq:     j.Sequence,
		Height:  j.BlockHeight,
		Time:    j.BlockTime,
	}, nil
}

type riskParamUpdateJSON struct {
	Caller                  string `json:"caller"`
	InitialMarginRatio      *int64 `json:"initial_margin_ratio,omitempty"`
	MaintenanceMarginRatio  *int64 `json:"maintenance_margin_ratio,omitempty"`
	PartialLiquidationRatio *int64 `json:"partial_liquidation_ratio,omitempty"`
	LiquidationFee          *int64 `json:"liquidation_fee,omitempty"`
	Sequence                int64  `json:"sequence"`
	BlockHeight             int64  `json:"block_height"`
	BlockTime               int64  `json:"block_time"`
}

func parseRiskParamUpdate(data []byte) (*action.RiskParamUpdate, error) {
	var j riskParamUpdateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse RiskParamUpdate: %w", err)
	}
	return &action.RiskParamUpdate{
		Caller:                  j.Caller,
		InitialMarginRatio:      j.InitialMarginRatio,
		MaintenanceMarginRatio:  j.MaintenanceMarginRatio,
		PartialLiquidationRatio: j.PartialLiquidationRatio,
		LiquidationFee:          j.LiquidationFee,
		Seq:                     j.Sequence,
		Height:                  j.BlockHeight,
		Time:                    j.BlockTime,
	}, nil
}

type setPauseJSON struct {
	Caller      string `json:"caller"`
	Paused      bool   `json:"paused"`
	Sequence    int64  `json:"sequence"`
	BlockHeight int64  `json:"block_height"`
	BlockTime   int64  `json:"block_time"`
}

func parseSetPause(data []byte) (*action.SetPause, error) {
	var j setPauseJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse SetPause: %w", err)
	}
	return &action.SetPause{
		Caller: j.Caller,
		Paused: j.Paused,
		Seq:    j.Sequence,
		Height: j.BlockHeight,
		Time:   j.BlockTime,
	}, nil
}
