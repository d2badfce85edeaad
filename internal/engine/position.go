package engine

import (
	"PerpEngine/internal/vamm"
)

// Side is the taker side of a position action.
type Side int32

const (
	SideBuy Side = iota + 1
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "Buy"
	case SideSell:
		return "Sell"
	default:
		return "Unknown"
	}
}

// Sign returns +1 for Buy, -1 for Sell.
func (s Side) Sign() int64 {
	if s == SideBuy {
		return 1
	}
	return -1
}

// Direction maps the side onto the curve: buys add quote to the pool.
func (s Side) Direction() vamm.Direction {
	if s == SideBuy {
		return vamm.AddToAmm
	}
	return vamm.RemoveFromAmm
}

// Position is a trader's exposure on one curve. Size is signed base:
// positive long, negative short. Margin and Notional are quote and never
// negative.
type Position struct {
	Curve                      string
	Trader                     string
	Size                       int64
	Margin                     int64
	Notional                   int64
	LastUpdatedPremiumFraction int64
	BlockHeight                int64
	BlockTime                  int64
	Version                    int64
}

// IsZero reports whether the position carries no exposure.
func (p *Position) IsZero() bool {
	return p == nil || p.Size == 0
}

// Direction returns the curve direction the position was opened in.
func (p *Position) Direction() vamm.Direction {
	if p.Size >= 0 {
		return vamm.AddToAmm
	}
	return vamm.RemoveFromAmm
}

// Sign returns +1 for long, -1 for short, 0 for flat.
func (p *Position) Sign() int64 {
	switch {
	case p.Size > 0:
		return 1
	case p.Size < 0:
		return -1
	default:
		return 0
	}
}

// Side returns the side that grows the position.
func (p *Position) Side() Side {
	if p.Size >= 0 {
		return SideBuy
	}
	return SideSell
}

// CanonicalBytes returns a deterministic serialization for state hashing.
func (p *Position) CanonicalBytes() []byte {
	buf := make([]byte, 0, 96)

	buf = append(buf, byte(len(p.Curve)))
	buf = append(buf, []byte(p.Curve)...)
	buf = append(buf, byte(len(p.Trader)))
	buf = append(buf, []byte(p.Trader)...)
	buf = appendInt64LE(buf, p.Size)
	buf = appendInt64LE(buf, p.Margin)
	buf = appendInt64LE(buf, p.Notional)
	buf = appendInt64LE(buf, p.LastUpdatedPremiumFraction)
	buf = appendInt64LE(buf, p.BlockHeight)
	buf = appendInt64LE(buf, p.Version)

	return buf
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}
