package action

import (
	"fmt"

	"PerpEngine/internal/vamm"
)

// RiskParamUpdate changes the engine's risk configuration. Nil fields are
// untouched. Owner-only; the engine enforces the caller check.
type RiskParamUpdate struct {
	Caller                  string
	InitialMarginRatio      *int64
	MaintenanceMarginRatio  *int64
	PartialLiquidationRatio *int64
	LiquidationFee          *int64
	Seq                     int64
	Height                  int64
	Time                    int64
}

func (a *RiskParamUpdate) IdempotencyKey() string {
	return fmt.Sprintf("risk_param:%d", a.Seq)
}

func (a *RiskParamUpdate) ActionType() Type {
	return TypeRiskParamUpdate
}

func (a *RiskParamUpdate) CurveID() *string {
	return nil // Global: risk params apply engine-wide
}

func (a *RiskParamUpdate) SourceSequence() int64 {
	return a.Seq
}

func (a *RiskParamUpdate) Block() vamm.Block {
	return vamm.Block{Height: a.Height, Time: a.Time}
}

// SetPause toggles trading engine-wide. Owner-only.
type SetPause struct {
	Caller string
	Paused bool
	Seq    int64
	Height int64
	Time   int64
}

func (a *SetPause) IdempotencyKey() string {
	return fmt.Sprintf("set_pause:%d", a.Seq)
}

func (a *SetPause) ActionType() Type {
	return TypeSetPause
}

func (a *SetPause) CurveID() *string {
	return nil
}

func (a *SetPause) SourceSequence() int64 {
	return a.Seq
}

func (a *SetPause) Block() vamm.Block {
	return vamm.Block{Height: a.Height, Time: a.Time}
}
