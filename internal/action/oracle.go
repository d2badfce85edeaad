package action

import (
	"fmt"

	"PerpEngine/internal/vamm"
)

// OraclePrice records an index-price sample from the oracle relay.
// Price actions run on their own sequence partition: gaps are tolerated
// and stale samples are skipped, never rejected.
type OraclePrice struct {
	FeedKey string // Asset key on the pricefeed, e.g. "ETH"
	Price   int64  // Fixed-point quote per base
	Seq     int64  // Monotonic per feed key
	Height  int64
	Time    int64
}

func (a *OraclePrice) IdempotencyKey() string {
	return fmt.Sprintf("%s:price:%d", a.FeedKey, a.Seq)
}

func (a *OraclePrice) ActionType() Type {
	return TypeOraclePrice
}

func (a *OraclePrice) CurveID() *string {
	return nil // Global: one feed key may back several curves
}

func (a *OraclePrice) SourceSequence() int64 {
	return a.Seq
}

func (a *OraclePrice) Block() vamm.Block {
	return vamm.Block{Height: a.Height, Time: a.Time}
}
