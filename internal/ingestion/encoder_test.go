package ingestion_test

import (
	"testing"

	"github.com/google/uuid"

	"PerpEngine/internal/action"
	"PerpEngine/internal/engine"
	"PerpEngine/internal/ingestion"
)

// The persisted payload must parse back to the same action, since
// replay runs the log through the live parser.
func TestEncodeOpenPositionRoundTrip(t *testing.T) {
	orig := &action.OpenPosition{
		ActionID:    uuid.New(),
		Trader:      "trader-alice",
		Curve:       "vamm-eth",
		Side:        engine.SideSell,
		QuoteAmount: 25_000_000_000,
		Leverage:    10_000_000_000,
		BaseLimit:   2_000_000_000,
		Seq:         42,
		Height:      100,
		Time:        1700000000,
	}

	data, err := ingestion.EncodeAction(orig)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	parsed, err := ingestion.ParseRawAction(ingestion.RawAction{
		ActionType: orig.ActionType().String(),
		Data:       data,
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	got, ok := parsed.(*action.OpenPosition)
	if !ok {
		t.Fatalf("expected *action.OpenPosition, got %T", parsed)
	}
	if *got != *orig {
		t.Errorf("round trip changed the action:\n got %+v\nwant %+v", got, orig)
	}
}

func TestEncodeRiskParamUpdatePreservesNilFields(t *testing.T) {
	mmr := int64(40_000_000)
	orig := &action.RiskParamUpdate{
		Caller:                 "owner-addr",
		MaintenanceMarginRatio: &mmr,
		Seq:                    2,
		Height:                 106,
		Time:                   1700000060,
	}

	data, err := ingestion.EncodeAction(orig)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	parsed, err := ingestion.ParseRawAction(ingestion.RawAction{
		ActionType: orig.ActionType().String(),
		Data:       data,
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	got := parsed.(*action.RiskParamUpdate)
	if got.InitialMarginRatio != nil || got.PartialLiquidationRatio != nil || got.LiquidationFee != nil {
		t.Error("unset ratios must stay nil through the round trip")
	}
	if got.MaintenanceMarginRatio == nil || *got.MaintenanceMarginRatio != mmr {
		t.Errorf("maintenance_margin_ratio: got %v, want %d", got.MaintenanceMarginRatio, mmr)
	}
}

func TestEncodePayFundingKeepsIdempotencyKey(t *testing.T) {
	orig := &action.PayFunding{Curve: "vamm-eth", Seq: 11, Height: 104, Time: 1700003600}

	data, err := ingestion.EncodeAction(orig)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	parsed, err := ingestion.ParseRawAction(ingestion.RawAction{
		ActionType: orig.ActionType().String(),
		Data:       data,
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if parsed.IdempotencyKey() != orig.IdempotencyKey() {
		t.Errorf("idempotency key changed: got %s, want %s",
			parsed.IdempotencyKey(), orig.IdempotencyKey())
	}
}
