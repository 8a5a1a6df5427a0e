package oracle

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"goldsynth/internal/authz"
	"goldsynth/internal/domain"
)

// Source is one registered price feed with its aggregation weight.
type Source struct {
	ID             string
	WeightBps      int64
	MaxStaleness   int64 // seconds
	LastPrice      decimal.Decimal
	LastReportedAt time.Time
}

// Aggregator combines weighted, untrusted price sources into one trusted
// price. Aggregation is a pure function of the registered state at call time.
type Aggregator struct {
	mu      sync.RWMutex
	sources map[string]*Source
	auth    *authz.Authorizer
	clock   domain.Clock
	logger  zerolog.Logger
}

// New builds an empty aggregator.
func New(auth *authz.Authorizer, clock domain.Clock, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		sources: make(map[string]*Source),
		auth:    auth,
		clock:   domain.OrSystem(clock),
		logger:  logger.With().Str("component", "oracle").Logger(),
	}
}

// AddSource registers a weighted source. Admin only. The sum of registered
// weights may never exceed 10000 bps.
func (a *Aggregator) AddSource(caller domain.Address, id string, weightBps, maxStalenessSeconds int64) error {
	if err := a.auth.Require(caller, authz.RoleAdmin); err != nil {
		return err
	}
	if weightBps <= 0 || maxStalenessSeconds <= 0 {
		return fmt.Errorf("%w: weight and staleness must be positive", domain.ErrInvalidWeight)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.sources[id]; exists {
		return fmt.Errorf("%w: source %q already registered", domain.ErrInvalidWeight, id)
	}

	total := weightBps
	for _, s := range a.sources {
		total += s.WeightBps
	}
	if total > domain.BpsDenominator {
		return fmt.Errorf("%w: total weight %d exceeds %d bps", domain.ErrInvalidWeight, total, domain.BpsDenominator)
	}

	a.sources[id] = &Source{ID: id, WeightBps: weightBps, MaxStaleness: maxStalenessSeconds}
	a.logger.Info().Str("source", id).Int64("weight_bps", weightBps).Int64("max_staleness_s", maxStalenessSeconds).Msg("price source registered")
	return nil
}

// RemoveSource deregisters a source. Admin only.
func (a *Aggregator) RemoveSource(caller domain.Address, id string) error {
	if err := a.auth.Require(caller, authz.RoleAdmin); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.sources[id]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownSource, id)
	}
	delete(a.sources, id)
	a.logger.Info().Str("source", id).Msg("price source removed")
	return nil
}

// UpdatePrice records a source's latest report. Operator only. A zero
// reportedAt means "now".
func (a *Aggregator) UpdatePrice(caller domain.Address, id string, price decimal.Decimal, reportedAt time.Time) error {
	if err := a.auth.Require(caller, authz.RoleOperator); err != nil {
		return err
	}
	if !price.IsPositive() {
		return fmt.Errorf("%w: price must be positive", domain.ErrInvalidAmount)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	src, ok := a.sources[id]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownSource, id)
	}
	if reportedAt.IsZero() {
		reportedAt = a.clock()
	}
	src.LastPrice = price
	src.LastReportedAt = reportedAt
	return nil
}

// LatestPrice returns the weighted average over all currently fresh sources,
// renormalized over the live weight. The returned timestamp is the newest
// included report. Fails with ErrNoFreshSources when every source is stale.
func (a *Aggregator) LatestPrice() (decimal.Decimal, time.Time, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	now := a.clock()

	// Deterministic iteration order: aggregation over a map must not depend
	// on Go's map randomization.
	ids := make([]string, 0, len(a.sources))
	for id := range a.sources {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	weighted := decimal.Zero
	liveWeight := int64(0)
	var newest time.Time

	for _, id := range ids {
		src := a.sources[id]
		if src.LastReportedAt.IsZero() {
			continue
		}
		if now.Sub(src.LastReportedAt) > time.Duration(src.MaxStaleness)*time.Second {
			continue
		}
		weighted = weighted.Add(src.LastPrice.Mul(decimal.NewFromInt(src.WeightBps)))
		liveWeight += src.WeightBps
		if src.LastReportedAt.After(newest) {
			newest = src.LastReportedAt
		}
	}

	if liveWeight == 0 {
		return decimal.Decimal{}, time.Time{}, domain.ErrNoFreshSources
	}

	price := domain.DivFloor(weighted, decimal.NewFromInt(liveWeight))
	return price, newest, nil
}

// Sources returns a snapshot of the registry for inspection surfaces.
func (a *Aggregator) Sources() []Source {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]Source, 0, len(a.sources))
	for _, s := range a.sources {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
