package action

import (
	"github.com/google/uuid"

	"PerpEngine/internal/vamm"
)

// DepositMargin adds collateral to an existing position.
type DepositMargin struct {
	ActionID uuid.UUID
	Trader   string
	Curve    string
	Amount   int64 // Fixed-point quote
	Seq      int64
	Height   int64
	Time     int64
}

func (a *DepositMargin) IdempotencyKey() string {
	return a.ActionID.String()
}

func (a *DepositMargin) ActionType() Type {
	return TypeDepositMargin
}

func (a *DepositMargin) CurveID() *string {
	c := a.Curve
	return &c
}

func (a *DepositMargin) SourceSequence() int64 {
	return a.Seq
}

func (a *DepositMargin) Block() vamm.Block {
	return vamm.Block{Height: a.Height, Time: a.Time}
}

// WithdrawMargin removes collateral from a position. Pending funding is
// settled into margin before the free-collateral check.
type WithdrawMargin struct {
	ActionID uuid.UUID
	Trader   string
	Curve    string
	Amount   int64
	Seq      int64
	Height   int64
	Time     int64
}

func (a *WithdrawMargin) IdempotencyKey() string {
	return a.ActionID.String()
}

func (a *WithdrawMargin) ActionType() Type {
	return TypeWithdrawMargin
}

func (a *WithdrawMargin) CurveID() *string {
	c := a.Curve
	return &c
}

func (a *WithdrawMargin) SourceSequence() int64 {
	return a.Seq
}

func (a *WithdrawMargin) Block() vamm.Block {
	return vamm.Block{Height: a.Height, Time: a.Time}
}
