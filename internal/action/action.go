package action

import (
	"PerpEngine/internal/vamm"
)

// Type discriminator for action payloads
type Type int32

const (
	TypeUnknown Type = iota
	TypeOpenPosition
	TypeClosePosition
	TypeDepositMargin
	TypeWithdrawMargin
	TypeLiquidate
	TypePayFunding
	TypeOraclePrice
	TypeRiskParamUpdate
	TypeSetPause
)

func (t Type) String() string {
	switch t {
	case TypeOpenPosition:
		return "OpenPosition"
	case TypeClosePosition:
		return "ClosePosition"
	case TypeDepositMargin:
		return "DepositMargin"
	case TypeWithdrawMargin:
		return "WithdrawMargin"
	case TypeLiquidate:
		return "Liquidate"
	case TypePayFunding:
		return "PayFunding"
	case TypeOraclePrice:
		return "OraclePrice"
	case TypeRiskParamUpdate:
		return "RiskParamUpdate"
	case TypeSetPause:
		return "SetPause"
	default:
		return "Unknown"
	}
}

// Action is the interface every inbound action payload implements.
type Action interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// ActionType returns the discriminator
	ActionType() Type

	// CurveID returns the curve context (nil for global actions)
	CurveID() *string

	// SourceSequence returns the upstream ordering key
	SourceSequence() int64

	// Block returns the execution context the action runs under.
	// Heights and times are versioned inputs, never wall-clock.
	Block() vamm.Block
}

// Envelope wraps every processed action in the log
type Envelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Action type discriminator
	ActionType Type

	// Curve context (nullable for global actions)
	CurveID *string

	// Execution block of the action (versioned input, NOT wall-clock)
	BlockHeight int64
	BlockTime   int64

	// Upstream sequence for ordering validation
	SourceSequence int64

	// SHA-256 of state AFTER applying this action
	StateHash [32]byte

	// Previous action's state hash (chain integrity)
	PrevHash [32]byte
}
