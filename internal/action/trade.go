package action

import (
	"github.com/google/uuid"

	"PerpEngine/internal/engine"
	"PerpEngine/internal/vamm"
)

// OpenPosition opens, increases, decreases or reverses a position.
// Idempotency key: action_id (UUID assigned upstream).
type OpenPosition struct {
	ActionID    uuid.UUID // Idempotency key
	Trader      string
	Curve       string
	Side        engine.Side
	QuoteAmount int64 // Fixed-point quote
	Leverage    int64 // Fixed-point, >= D for 1x
	BaseLimit   int64 // Slippage bound, 0 disables
	Seq         int64 // Source sequence from the gateway
	Height      int64
	Time        int64
}

func (a *OpenPosition) IdempotencyKey() string {
	return a.ActionID.String()
}

func (a *OpenPosition) ActionType() Type {
	return TypeOpenPosition
}

func (a *OpenPosition) CurveID() *string {
	c := a.Curve
	return &c
}

func (a *OpenPosition) SourceSequence() int64 {
	return a.Seq
}

func (a *OpenPosition) Block() vamm.Block {
	return vamm.Block{Height: a.Height, Time: a.Time}
}

// ClosePosition closes the trader's whole position at market.
type ClosePosition struct {
	ActionID   uuid.UUID
	Trader     string
	Curve      string
	QuoteLimit int64 // Slippage bound, 0 disables
	Seq        int64
	Height     int64
	Time       int64
}

func (a *ClosePosition) IdempotencyKey() string {
	return a.ActionID.String()
}

func (a *ClosePosition) ActionType() Type {
	return TypeClosePosition
}

func (a *ClosePosition) CurveID() *string {
	c := a.Curve
	return &c
}

func (a *ClosePosition) SourceSequence() int64 {
	return a.Seq
}

func (a *ClosePosition) Block() vamm.Block {
	return vamm.Block{Height: a.Height, Time: a.Time}
}
