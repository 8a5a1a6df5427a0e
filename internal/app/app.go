package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"goldsynth/internal/alerting"
	"goldsynth/internal/api"
	"goldsynth/internal/authz"
	"goldsynth/internal/breaker"
	"goldsynth/internal/cache"
	"goldsynth/internal/config"
	"goldsynth/internal/dca"
	"goldsynth/internal/domain"
	"goldsynth/internal/events"
	"goldsynth/internal/feeds"
	"goldsynth/internal/oracle"
	"goldsynth/internal/scheduler"
	"goldsynth/internal/service"
	"goldsynth/internal/storage"
	"goldsynth/internal/token"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// platform bundles the in-process core built from configuration.
type platform struct {
	auth     *authz.Authorizer
	oracle   *oracle.Aggregator
	breaker  *breaker.Breaker
	token    *token.Token
	plans    *dca.Scheduler
	registry *events.Registry
	emitter  events.Emitter
	closers  []func()
}

func (p *platform) close() {
	for _, c := range p.closers {
		c()
	}
}

// buildPlatform wires authorizer, oracle, breaker, token and DCA scheduler.
// extraEmitters are appended after the log emitter and user registry.
func (a *App) buildPlatform(extraEmitters ...events.Emitter) (*platform, error) {
	cfg := a.Config

	admin := domain.Address(cfg.Token.Admin)
	operator := domain.Address(cfg.DCA.Operator)

	auth := authz.New(admin)
	if operator != admin {
		if err := auth.Grant(admin, authz.RoleOperator, operator); err != nil {
			return nil, fmt.Errorf("grant operator role: %w", err)
		}
	}

	registry := events.NewRegistry()
	emitters := events.Multi{events.NewLogEmitter(a.Logger), registry}
	var closers []func()
	for _, e := range extraEmitters {
		if e != nil {
			emitters = append(emitters, e)
		}
	}
	if cfg.NATS.Enabled {
		pub, err := events.NewNATSPublisher(cfg.NATS.URL, cfg.NATS.SubjectPrefix, a.Logger)
		if err != nil {
			return nil, fmt.Errorf("connect NATS: %w", err)
		}
		emitters = append(emitters, pub)
		closers = append(closers, pub.Close)
	}

	agg := oracle.New(auth, nil, a.Logger)
	for _, src := range cfg.Oracle.Sources {
		if err := agg.AddSource(admin, src.ID, src.WeightBps, src.MaxStalenessSeconds); err != nil {
			return nil, fmt.Errorf("register oracle source %q: %w", src.ID, err)
		}
	}

	brk := breaker.New(breaker.Options{
		DeviationThresholdBps: cfg.Breaker.DeviationThresholdBps,
		WindowSeconds:         cfg.Breaker.WindowSeconds,
		CooldownSeconds:       cfg.Breaker.CooldownSeconds,
	}, nil, a.Logger)

	tok := token.New(token.Options{
		Name:         cfg.Token.Name,
		Symbol:       cfg.Token.Symbol,
		MintFeeBps:   cfg.Token.MintFeeBps,
		RedeemFeeBps: cfg.Token.RedeemFeeBps,
		FeeRecipient: domain.Address(cfg.Token.FeeRecipient),
	}, agg, brk, auth, emitters, nil, a.Logger)

	plans := dca.New(tok, auth, domain.Address(cfg.DCA.FeeRecipient), cfg.DCA.ExecutionFeeBps, emitters, nil, a.Logger)

	return &platform{
		auth:     auth,
		oracle:   agg,
		breaker:  brk,
		token:    tok,
		plans:    plans,
		registry: registry,
		emitter:  emitters,
		closers:  closers,
	}, nil
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) newCache(ctx context.Context) (cache.PriceCache, error) {
	if !a.Config.Redis.Enabled {
		return cache.NewMemory(a.Config.Redis.TTL, nil), nil
	}
	cfg := a.Config.Redis
	return cache.NewRedis(ctx, cfg.Addr, cfg.Password, cfg.DB, cfg.TTL, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run executes the long-running executor service plus the optional HTTP API.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	} else {
		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate schema: %w", err)
		}
	}
	if closeStore != nil {
		defer closeStore()
	}

	var journal events.Emitter
	if store != nil {
		journal = storage.NewJournal(store, a.Logger)
	}

	p, err := a.buildPlatform(journal)
	if err != nil {
		return err
	}
	defer p.close()

	priceCache, err := a.newCache(ctx)
	if err != nil {
		return err
	}
	defer priceCache.Close()

	feedList, err := feeds.FromConfig(a.Config, a.Logger)
	if err != nil {
		return err
	}
	if len(feedList) == 0 {
		return errors.New("no oracle sources configured")
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		CronSpec:     a.Config.Scheduler.CronSpec,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	var sampleStore storage.PriceSampleStore
	var execStore storage.ExecutionStore
	if store != nil {
		sampleStore = store
		execStore = store
	}

	svc := service.New(a.Config, service.Options{
		Scheduler: sched,
		Feeds:     feedList,
		Oracle:    p.oracle,
		Breaker:   p.breaker,
		Plans:     p.plans,
		Registry:  p.registry,
		Store:     sampleStore,
		ExecStore: execStore,
		Cache:     priceCache,
		Emitter:   p.emitter,
		Notifier:  a.newNotifier(),
	}, a.Logger)

	apiErr := make(chan error, 1)
	if a.Config.API.Enabled {
		server := api.NewServer(a.Config.API, priceCache, p.breaker, p.token, p.plans, a.Logger)
		go func() {
			if err := server.Run(ctx); err != nil {
				apiErr <- err
			}
		}()
	}

	a.Logger.Info().Msg("starting executor service")
	runErr := make(chan error, 1)
	go func() { runErr <- svc.Run(ctx) }()

	select {
	case err = <-apiErr:
		cancel()
		<-runErr
	case err = <-runErr:
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("executor service stopped")
	return nil
}

// ExportOptions hold parameters for exporting historical samples.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// PlansOptions configure the plans command.
type PlansOptions struct {
	User    string
	APIBase string
}
