package breaker

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"goldsynth/internal/domain"
)

// sample is one observed price inside the rolling window.
type sample struct {
	price decimal.Decimal
	at    time.Time
}

// Options tune the breaker. Zero values fall back to the platform defaults.
type Options struct {
	DeviationThresholdBps int64
	WindowSeconds         int64
	CooldownSeconds       int64
}

// Breaker is a two-state (Normal/Triggered) safety machine. Callers feed it
// every price they are about to act on; when the relative deviation between
// the newest sample and the earliest in-window sample crosses the threshold
// the breaker trips and gates price-dependent operations for the cooldown.
//
// Transitions are caller-driven; after the cooldown elapses the breaker
// self-resets lazily on the next check or read.
type Breaker struct {
	mu          sync.Mutex
	opts        Options
	samples     []sample
	triggeredAt *time.Time
	clock       domain.Clock
	logger      zerolog.Logger
}

// New builds a breaker with the given options.
func New(opts Options, clock domain.Clock, logger zerolog.Logger) *Breaker {
	if opts.DeviationThresholdBps <= 0 {
		opts.DeviationThresholdBps = domain.DefaultDeviationThresholdBps
	}
	if opts.WindowSeconds <= 0 {
		opts.WindowSeconds = domain.DefaultBreakerWindowSeconds
	}
	if opts.CooldownSeconds <= 0 {
		opts.CooldownSeconds = domain.DefaultBreakerCooldownSeconds
	}
	return &Breaker{
		opts:   opts,
		clock:  domain.OrSystem(clock),
		logger: logger.With().Str("component", "breaker").Logger(),
	}
}

// CheckPrice records a sample and evaluates the deviation rule. It returns
// true when the breaker is triggered after the check. A re-trigger during an
// open episode does not extend the cooldown.
func (b *Breaker) CheckPrice(price decimal.Decimal) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock()
	b.lazyReset(now)
	b.evict(now)

	if len(b.samples) > 0 && b.triggeredAt == nil {
		ref := b.samples[0]
		if ref.price.IsPositive() {
			deviation := price.Sub(ref.price).Abs().DivRound(ref.price, 18)
			threshold := decimal.NewFromInt(b.opts.DeviationThresholdBps).Shift(-4)
			if deviation.GreaterThanOrEqual(threshold) {
				t := now
				b.triggeredAt = &t
				b.logger.Warn().
					Str("price", price.String()).
					Str("reference", ref.price.String()).
					Str("deviation", deviation.String()).
					Msg("circuit breaker triggered")
			}
		}
	}

	b.samples = append(b.samples, sample{price: price, at: now})
	return b.triggeredAt != nil
}

// IsTriggered reports whether the breaker currently gates operations.
func (b *Breaker) IsTriggered() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lazyReset(b.clock())
	return b.triggeredAt != nil
}

// TimeUntilReset returns how long until the cooldown elapses, zero when the
// breaker is not triggered.
func (b *Breaker) TimeUntilReset() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock()
	b.lazyReset(now)
	if b.triggeredAt == nil {
		return 0
	}
	remaining := b.triggeredAt.Add(time.Duration(b.opts.CooldownSeconds) * time.Second).Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (b *Breaker) lazyReset(now time.Time) {
	if b.triggeredAt == nil {
		return
	}
	if !now.Before(b.triggeredAt.Add(time.Duration(b.opts.CooldownSeconds) * time.Second)) {
		b.triggeredAt = nil
		b.logger.Info().Msg("circuit breaker reset after cooldown")
	}
}

func (b *Breaker) evict(now time.Time) {
	cutoff := now.Add(-time.Duration(b.opts.WindowSeconds) * time.Second)
	idx := 0
	for idx < len(b.samples) && b.samples[idx].at.Before(cutoff) {
		idx++
	}
	if idx > 0 {
		b.samples = b.samples[idx:]
	}
}
