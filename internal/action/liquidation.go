package action

import (
	"github.com/google/uuid"

	"PerpEngine/internal/vamm"
)

// Liquidate closes (or partially closes) an undercollateralized position.
// Submitted by external liquidator bots watching margin ratios.
type Liquidate struct {
	ActionID   uuid.UUID
	Liquidator string
	Trader     string
	Curve      string
	QuoteLimit int64 // Slippage bound on the close leg, 0 disables
	Seq        int64
	Height     int64
	Time       int64
}

func (a *Liquidate) IdempotencyKey() string {
	return a.ActionID.String()
}

func (a *Liquidate) ActionType() Type {
	return TypeLiquidate
}

func (a *Liquidate) CurveID() *string {
	c := a.Curve
	return &c
}

func (a *Liquidate) SourceSequence() int64 {
	return a.Seq
}

func (a *Liquidate) Block() vamm.Block {
	return vamm.Block{Height: a.Height, Time: a.Time}
}
