package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Address identifies a principal on the platform (user, operator, contract).
type Address string

// ZeroAddress is the canonical empty principal.
const ZeroAddress Address = ""

// PricePoint is an aggregated gold price observation.
type PricePoint struct {
	Price decimal.Decimal
	At    time.Time
}

// Clock supplies the current time. Injected so components can be driven
// deterministically in tests, mirroring ledger block time.
type Clock func() time.Time

// OrSystem returns the clock itself, or the system clock when nil.
func OrSystem(c Clock) Clock {
	if c == nil {
		return time.Now
	}
	return c
}

// Platform-wide numeric parameters. Amounts are 18-decimal fixed point USD.
var (
	// MinAmount is the smallest USD amount accepted for mints and DCA plans.
	MinAmount = decimal.RequireFromString("0.01")
	// MaxAmount is the largest USD amount accepted for mints and DCA plans.
	MaxAmount = decimal.NewFromInt(10000)
)

const (
	// MinFrequencySeconds is one day, the shortest DCA period.
	MinFrequencySeconds int64 = 86_400
	// MaxFrequencySeconds is thirty days, the longest DCA period.
	MaxFrequencySeconds int64 = 2_592_000

	// BpsDenominator converts basis points to a ratio.
	BpsDenominator int64 = 10_000
	// FeeCeilingBps caps every configurable fee at 10%.
	FeeCeilingBps int64 = 1_000

	DefaultMintFeeBps      int64 = 50
	DefaultRedeemFeeBps    int64 = 50
	DefaultExecutionFeeBps int64 = 10

	DefaultDeviationThresholdBps  int64 = 500
	DefaultBreakerWindowSeconds   int64 = 300
	DefaultBreakerCooldownSeconds int64 = 3600
)

// AmountInBounds reports whether a USD amount is within [MinAmount, MaxAmount].
func AmountInBounds(amount decimal.Decimal) bool {
	return amount.GreaterThanOrEqual(MinAmount) && amount.LessThanOrEqual(MaxAmount)
}

// FrequencyInBounds reports whether a DCA frequency is acceptable.
func FrequencyInBounds(seconds int64) bool {
	return seconds >= MinFrequencySeconds && seconds <= MaxFrequencySeconds
}
