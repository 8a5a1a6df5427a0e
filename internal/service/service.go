package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"goldsynth/internal/alerting"
	"goldsynth/internal/breaker"
	"goldsynth/internal/cache"
	"goldsynth/internal/config"
	"goldsynth/internal/dca"
	"goldsynth/internal/domain"
	"goldsynth/internal/events"
	"goldsynth/internal/feeds"
	"goldsynth/internal/oracle"
	"goldsynth/internal/scheduler"
	"goldsynth/internal/storage"
)

// Service is the off-core executor loop: it polls the external feeds, pushes
// reports into the oracle, samples the breaker, and triggers due DCA plans.
type Service struct {
	scheduler *scheduler.Scheduler
	feeds     []feeds.Feed
	oracle    *oracle.Aggregator
	breaker   *breaker.Breaker
	plans     *dca.Scheduler
	registry  *events.Registry
	store     storage.PriceSampleStore
	execStore storage.ExecutionStore
	cache     cache.PriceCache
	emitter   events.Emitter
	notifier  alerting.Notifier
	logger    zerolog.Logger

	operator     domain.Address
	channels     []string
	alertsOn     bool
	thresholdBps int64
	locker       storage.AdvisoryLocker
	lockKey      int64

	wasTriggered bool
}

// Options carries the executor's collaborators. Store, cache, emitter and
// notifier are optional.
type Options struct {
	Scheduler *scheduler.Scheduler
	Feeds     []feeds.Feed
	Oracle    *oracle.Aggregator
	Breaker   *breaker.Breaker
	Plans     *dca.Scheduler
	Registry  *events.Registry
	Store     storage.PriceSampleStore
	ExecStore storage.ExecutionStore
	Cache     cache.PriceCache
	Emitter   events.Emitter
	Notifier  alerting.Notifier
}

// New constructs the executor service.
func New(cfg *config.Config, opts Options, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := opts.Store.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		scheduler:    opts.Scheduler,
		feeds:        opts.Feeds,
		oracle:       opts.Oracle,
		breaker:      opts.Breaker,
		plans:        opts.Plans,
		registry:     opts.Registry,
		store:        opts.Store,
		execStore:    opts.ExecStore,
		cache:        opts.Cache,
		emitter:      opts.Emitter,
		notifier:     opts.Notifier,
		logger:       logger.With().Str("component", "executor").Logger(),
		operator:     domain.Address(cfg.DCA.Operator),
		channels:     cfg.Alerting.Channels,
		alertsOn:     cfg.Alerting.Enabled,
		thresholdBps: cfg.Breaker.DeviationThresholdBps,
		locker:       locker,
		lockKey:      cfg.Scheduler.AdvisoryLockKey,
	}
}

// Run begins the executor loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessBucket)
}

// ProcessBucket 执行单个时间桶的采样与触发逻辑。
func (s *Service) ProcessBucket(ctx context.Context, bucket time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("bucket", bucket).Msg("skip bucket because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	return s.executeBucket(ctx, bucket)
}

func (s *Service) executeBucket(ctx context.Context, bucket time.Time) error {
	fresh := s.pollFeeds(ctx)

	price, reportedAt, err := s.oracle.LatestPrice()
	if err != nil {
		if s.store != nil {
			msg := err.Error()
			sample := storage.PriceSample{
				Bucket:       bucket,
				Price:        decimal.Zero,
				DeviationBps: decimal.Zero,
				FreshSources: fresh,
				Status:       "errored",
				Error:        &msg,
			}
			if storeErr := s.store.UpsertPriceSample(ctx, sample); storeErr != nil {
				s.logger.Error().Err(storeErr).Time("bucket", bucket).Msg("failed to record errored sample")
			}
		}
		return fmt.Errorf("aggregate price: %w", err)
	}

	deviation := s.deviationBps(ctx, price)
	triggered := s.breaker.CheckPrice(price)

	if s.cache != nil {
		if err := s.cache.SetLatest(ctx, domain.PricePoint{Price: price, At: reportedAt}); err != nil {
			s.logger.Warn().Err(err).Msg("failed to cache latest price")
		}
	}

	if s.store != nil {
		sample := storage.PriceSample{
			Bucket:           bucket,
			Price:            price,
			DeviationBps:     deviation,
			FreshSources:     fresh,
			BreakerTriggered: triggered,
			Status:           "complete",
		}
		if err := s.store.UpsertPriceSample(ctx, sample); err != nil {
			s.logger.Error().Err(err).Time("bucket", bucket).Msg("failed to upsert sample")
		}
	}

	s.emit(events.New(events.TypePriceSampled, domain.ZeroAddress, bucket, map[string]string{
		"price":         price.String(),
		"deviation_bps": deviation.StringFixed(0),
		"fresh_sources": fmt.Sprintf("%d", fresh),
	}))

	s.logger.Info().Time("bucket", bucket).
		Str("price", price.String()).
		Int("fresh_sources", fresh).
		Bool("breaker_triggered", triggered).
		Msg("sample recorded")

	// alert on the rising edge only, not on every sample of an active trip
	if triggered && !s.wasTriggered {
		s.onBreakerTripped(ctx, bucket, price, deviation)
	}
	s.wasTriggered = triggered

	if triggered {
		s.logger.Warn().Time("bucket", bucket).Msg("breaker active, skipping DCA executions")
		return nil
	}

	s.executePlans(ctx, bucket)
	return nil
}

// pollFeeds pushes every reachable feed's report into the oracle and returns
// how many feeds answered.
func (s *Service) pollFeeds(ctx context.Context) int {
	fresh := 0
	for _, feed := range s.feeds {
		price, reportedAt, err := feed.FetchPrice(ctx)
		if err != nil {
			s.logger.Warn().Err(err).Str("feed", feed.ID()).Msg("feed fetch failed")
			continue
		}
		if err := s.oracle.UpdatePrice(s.operator, feed.ID(), price, reportedAt); err != nil {
			s.logger.Error().Err(err).Str("feed", feed.ID()).Msg("oracle update rejected")
			continue
		}
		fresh++
	}
	return fresh
}

func (s *Service) executePlans(ctx context.Context, bucket time.Time) {
	if s.plans == nil || s.registry == nil {
		return
	}

	for _, user := range s.registry.Users() {
		results, err := s.plans.ExecuteAll(s.operator, user)
		if err != nil {
			s.logger.Error().Err(err).Str("user", string(user)).Msg("batch execution rejected")
			continue
		}
		for _, res := range results {
			if res.Err != nil {
				continue
			}
			s.journalExecution(ctx, user, bucket, res)
		}
	}
}

func (s *Service) journalExecution(ctx context.Context, user domain.Address, bucket time.Time, res dca.Result) {
	if s.execStore == nil {
		return
	}
	plan, err := s.plans.Plan(user, res.PlanID)
	if err != nil {
		return
	}
	rec := storage.ExecutionRecord{
		User:           user,
		PlanID:         res.PlanID,
		UsdAmount:      plan.AmountUsd,
		TokensReceived: res.TokensReceived,
		Fee:            res.Fee,
		ExecutedAt:     bucket,
	}
	if _, err := s.execStore.InsertExecution(ctx, rec); err != nil {
		s.logger.Error().Err(err).Str("user", string(user)).Int("plan", res.PlanID).Msg("failed to journal execution")
	}
}

func (s *Service) onBreakerTripped(ctx context.Context, bucket time.Time, price, deviation decimal.Decimal) {
	cooldown := s.breaker.TimeUntilReset()

	s.emit(events.New(events.TypeCircuitBreakerTripped, domain.ZeroAddress, bucket, map[string]string{
		"price":         price.String(),
		"deviation_bps": deviation.StringFixed(0),
		"cooldown":      cooldown.String(),
	}))

	if !s.alertsOn || s.notifier == nil {
		return
	}
	note := alerting.Notification{
		Kind:         alerting.KindBreakerTripped,
		Bucket:       bucket,
		Price:        price,
		DeviationBps: deviation,
		ThresholdBps: s.thresholdBps,
		Cooldown:     cooldown,
		Channels:     s.channels,
	}
	if err := s.notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Time("bucket", bucket).Msg("failed to dispatch alert")
	}
}

// deviationBps reports how far the new price sits from the previously cached
// price, in basis points. Zero when no prior price is known.
func (s *Service) deviationBps(ctx context.Context, price decimal.Decimal) decimal.Decimal {
	if s.cache == nil {
		return decimal.Zero
	}
	prev, err := s.cache.Latest(ctx)
	if err != nil || prev.Price.IsZero() {
		return decimal.Zero
	}
	return price.Sub(prev.Price).Abs().
		Mul(decimal.NewFromInt(domain.BpsDenominator)).
		DivRound(prev.Price, 4)
}

func (s *Service) emit(ev events.Event) {
	if s.emitter != nil {
		s.emitter.Emit(ev)
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
