package math

const (
	secondsPerDay  int64 = 86_400
	secondsPerHour int64 = 3_600
)

// ComputePremiumFraction pro-rates a signed premium over one funding period.
// premium is (amm TWAP - index TWAP); a positive result means longs pay.
func ComputePremiumFraction(premium, fundingPeriod int64) int64 {
	return MulDiv(premium, fundingPeriod, secondsPerDay)
}

// ComputeFundingRate expresses a premium fraction relative to the index
// price, decimal-scaled.
func ComputeFundingRate(premiumFraction, indexTwap, scale int64) int64 {
	return MulDiv(premiumFraction, scale, indexTwap)
}

// ComputeFundingPayment is the signed quote flow for a signed base exposure
// under a premium-fraction delta. Positive size and positive delta means the
// holder pays.
func ComputeFundingPayment(size, premiumDelta, scale int64) int64 {
	if size == 0 || premiumDelta == 0 {
		return 0
	}
	return MulDiv(size, premiumDelta, scale)
}

// NextFundingTime aligns the following settlement to the top of the hour,
// never earlier than the buffer period from now.
func NextFundingTime(now, fundingPeriod, fundingBuffer int64) int64 {
	aligned := (now + fundingPeriod) / secondsPerHour * secondsPerHour
	return Max(aligned, now+fundingBuffer)
}
