package oracle

import (
	"errors"
	"testing"
)

const dec = int64(1_000_000_000)

func TestAppendAndSpot(t *testing.T) {
	f := NewPriceFeed("oracle-owner")
	if err := f.AppendPrice("oracle-owner", "ETH", 10*dec, 1_000); err != nil {
		t.Fatalf("AppendPrice: %v", err)
	}
	got, err := f.Price("ETH")
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if got != 10*dec {
		t.Errorf("price = %d, want %d", got, 10*dec)
	}
}

func TestAppendOwnerOnly(t *testing.T) {
	f := NewPriceFeed("oracle-owner")
	if err := f.AppendPrice("intruder", "ETH", 10*dec, 1_000); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestAppendRejectsStaleTimestamp(t *testing.T) {
	f := NewPriceFeed("oracle-owner")
	if err := f.AppendPrice("oracle-owner", "ETH", 10*dec, 1_000); err != nil {
		t.Fatalf("AppendPrice: %v", err)
	}
	if err := f.AppendPrice("oracle-owner", "ETH", 11*dec, 1_000); !errors.Is(err, ErrStalePrice) {
		t.Errorf("expected ErrStalePrice, got %v", err)
	}
}

func TestPriceUnknownKey(t *testing.T) {
	f := NewPriceFeed("oracle-owner")
	if _, err := f.Price("BTC"); !errors.Is(err, ErrNoPrice) {
		t.Errorf("expected ErrNoPrice, got %v", err)
	}
}

func TestTwapPrice(t *testing.T) {
	f := NewPriceFeed("oracle-owner")
	for _, s := range []struct{ price, ts int64 }{
		{10 * dec, 1_000},
		{12 * dec, 1_600},
		{14 * dec, 1_800},
	} {
		if err := f.AppendPrice("oracle-owner", "ETH", s.price, s.ts); err != nil {
			t.Fatalf("AppendPrice: %v", err)
		}
	}

	// Window [1000, 1900]: 600s at 10, 200s at 12, 100s at 14.
	got, err := f.TwapPrice("ETH", 900, 1_900)
	if err != nil {
		t.Fatalf("TwapPrice: %v", err)
	}
	want := (600*10*dec + 200*12*dec + 100*14*dec) / 900
	if got != want {
		t.Errorf("twap = %d, want %d", got, want)
	}
}

func TestPriceAt(t *testing.T) {
	f := NewPriceFeed("oracle-owner")
	if err := f.AppendPrice("oracle-owner", "ETH", 10*dec, 1_000); err != nil {
		t.Fatalf("AppendPrice: %v", err)
	}
	if err := f.AppendPrice("oracle-owner", "ETH", 12*dec, 2_000); err != nil {
		t.Fatalf("AppendPrice: %v", err)
	}

	got, err := f.PriceAt("ETH", 1_500)
	if err != nil {
		t.Fatalf("PriceAt: %v", err)
	}
	if got != 10*dec {
		t.Errorf("price at 1500 = %d, want %d", got, 10*dec)
	}
	if _, err := f.PriceAt("ETH", 500); !errors.Is(err, ErrNoPrice) {
		t.Errorf("expected ErrNoPrice, got %v", err)
	}
}
