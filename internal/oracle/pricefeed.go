package oracle

import (
	"errors"
	"fmt"

	fpmath "PerpEngine/internal/math"
)

var (
	ErrUnauthorized = errors.New("caller is not the feed owner")
	ErrNoPrice      = errors.New("no price recorded for key")
	ErrStalePrice   = errors.New("price timestamp not newer than last sample")
)

// PriceData is one oracle sample.
type PriceData struct {
	Price     int64
	Timestamp int64
}

// PriceFeed stores append-only price histories per asset key and serves
// spot and time-weighted reads. It is the index-price source the curves
// settle funding against.
type PriceFeed struct {
	owner   string
	samples map[string][]PriceData
}

func NewPriceFeed(owner string) *PriceFeed {
	return &PriceFeed{
		owner:   owner,
		samples: make(map[string][]PriceData),
	}
}

// AppendPrice records a sample. Timestamps must be strictly increasing per
// key.
func (f *PriceFeed) AppendPrice(caller, key string, price, timestamp int64) error {
	if caller != f.owner {
		return ErrUnauthorized
	}
	hist := f.samples[key]
	if n := len(hist); n > 0 && hist[n-1].Timestamp >= timestamp {
		return fmt.Errorf("%w: key %s", ErrStalePrice, key)
	}
	f.samples[key] = append(hist, PriceData{Price: price, Timestamp: timestamp})
	return nil
}

// Price returns the latest sample for key.
func (f *PriceFeed) Price(key string) (int64, error) {
	hist := f.samples[key]
	if len(hist) == 0 {
		return 0, fmt.Errorf("%w: %s", ErrNoPrice, key)
	}
	return hist[len(hist)-1].Price, nil
}

// PriceAt returns the sample in force at the given time.
func (f *PriceFeed) PriceAt(key string, at int64) (int64, error) {
	hist := f.samples[key]
	for i := len(hist) - 1; i >= 0; i-- {
		if hist[i].Timestamp <= at {
			return hist[i].Price, nil
		}
	}
	return 0, fmt.Errorf("%w: %s at %d", ErrNoPrice, key, at)
}

// Samples copies every recorded history, keyed by asset.
func (f *PriceFeed) Samples() map[string][]PriceData {
	out := make(map[string][]PriceData, len(f.samples))
	for key, hist := range f.samples {
		cp := make([]PriceData, len(hist))
		copy(cp, hist)
		out[key] = cp
	}
	return out
}

// Restore overwrites the sample histories from a snapshot.
func (f *PriceFeed) Restore(samples map[string][]PriceData) {
	f.samples = make(map[string][]PriceData, len(samples))
	for key, hist := range samples {
		cp := make([]PriceData, len(hist))
		copy(cp, hist)
		f.samples[key] = cp
	}
}

// TwapPrice time-weights samples over the trailing interval. A zero
// interval returns the latest price.
func (f *PriceFeed) TwapPrice(key string, interval, now int64) (int64, error) {
	hist := f.samples[key]
	n := len(hist)
	if n == 0 {
		return 0, fmt.Errorf("%w: %s", ErrNoPrice, key)
	}
	latest := hist[n-1].Price
	if interval == 0 || n == 1 {
		return latest, nil
	}

	windowStart := now - interval
	weighted := fpmath.NewInt128()
	defer fpmath.PutInt128(weighted)
	var totalSeconds int64

	prevTime := now
	for i := n - 1; i >= 0; i-- {
		sample := hist[i]
		from := fpmath.Max(sample.Timestamp, windowStart)
		seconds := prevTime - from
		if seconds > 0 {
			term := fpmath.MulInt128(sample.Price, seconds)
			weighted.Add(weighted, term)
			fpmath.PutInt128(term)
			totalSeconds += seconds
		}
		if sample.Timestamp <= windowStart {
			break
		}
		prevTime = sample.Timestamp
	}

	if totalSeconds == 0 {
		return latest, nil
	}
	twap, _ := fpmath.DivInt128(weighted, totalSeconds)
	return twap, nil
}
