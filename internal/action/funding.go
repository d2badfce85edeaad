package action

import (
	"fmt"

	"PerpEngine/internal/vamm"
)

// PayFunding settles one funding period on a curve.
// Idempotency key: "{curve}:funding:{time}", one settlement per boundary.
type PayFunding struct {
	Curve  string
	Seq    int64
	Height int64
	Time   int64
}

func (a *PayFunding) IdempotencyKey() string {
	return fmt.Sprintf("%s:funding:%d", a.Curve, a.Time)
}

func (a *PayFunding) ActionType() Type {
	return TypePayFunding
}

func (a *PayFunding) CurveID() *string {
	c := a.Curve
	return &c
}

func (a *PayFunding) SourceSequence() int64 {
	return a.Seq
}

func (a *PayFunding) Block() vamm.Block {
	return vamm.Block{Height: a.Height, Time: a.Time}
}
