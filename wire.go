package main

import (
	"context"
	"fmt"

	"github.com/winniepooh001/GPTComparison/config"
	"github.com/winniepooh001/GPTComparison/internal/adapters/alpaca"
	"github.com/winniepooh001/GPTComparison/internal/adapters/llm"
	"github.com/winniepooh001/GPTComparison/internal/adapters/logger"
	"github.com/winniepooh001/GPTComparison/internal/adapters/paperbroker"
	"github.com/winniepooh001/GPTComparison/internal/adapters/sqlstore"
	"github.com/winniepooh001/GPTComparison/internal/adapters/universe"
	"github.com/winniepooh001/GPTComparison/internal/app"
	"github.com/winniepooh001/GPTComparison/internal/domain"
	"github.com/winniepooh001/GPTComparison/internal/ledger"
	"github.com/winniepooh001/GPTComparison/internal/lifecycle"
	"github.com/winniepooh001/GPTComparison/internal/metrics"
	"github.com/winniepooh001/GPTComparison/internal/ports"
	"github.com/winniepooh001/GPTComparison/internal/strategy"
)

// base is what every command needs: configuration, a logger and the ledger store.
type base struct {
	cfg    *config.Config
	logger *logger.ZeroLogger
	store  *sqlstore.Store
}

func openBase() (*base, error) {
	cfg, err := config.LoadConfig(overrides)
	if err != nil {
		return nil, err
	}
	log := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	store, err := sqlstore.New(sqlstore.Config{
		Driver:       cfg.DBDriver,
		DSN:          cfg.DBDSN,
		QueryTimeout: cfg.QueryTimeout,
		Logger:       log,
	})
	if err != nil {
		return nil, err
	}
	return &base{cfg: cfg, logger: log, store: store}, nil
}

func (b *base) Close() {
	if err := b.store.Close(); err != nil {
		b.logger.Error(context.Background(), err, "Error closing ledger store")
	}
}

// runtime is a fully wired engine.
type runtime struct {
	*base
	engine  *app.Engine
	metrics *metrics.Registry
	market  *alpaca.Client
	cache   *universe.RedisCache // nil without REDIS_ADDR
	creds   config.Credentials   // account used for market data and the price stream
}

func (r *runtime) Close() {
	if r.cache != nil {
		r.cache.Close()
	}
	r.base.Close()
}

// openRuntime wires every adapter into an engine and restores persisted ledgers.
func openRuntime(ctx context.Context) (*runtime, error) {
	b, err := openBase()
	if err != nil {
		return nil, err
	}
	rt := &runtime{base: b, metrics: metrics.New()}
	if err := rt.wire(ctx); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (r *runtime) wire(ctx context.Context) error {
	cfg, log := r.cfg, r.logger

	creds, ok := dataCredentials(cfg)
	if !ok {
		return fmt.Errorf("market data needs an Alpaca account (ALPACA_KEY_ID/ALPACA_SECRET_KEY or a per-strategy pair): %w", ports.ErrConfigurationError)
	}
	market, err := alpaca.New(alpaca.Config{
		Name:       "market-data",
		KeyID:      creds.KeyID,
		SecretKey:  creds.SecretKey,
		TradingURL: cfg.AlpacaTradingURL,
		DataURL:    cfg.AlpacaDataURL,
		Feed:       cfg.AlpacaFeed,
		Logger:     log,
	})
	if err != nil {
		return err
	}
	r.market, r.creds = market, creds

	uni, err := r.newUniverse(ctx)
	if err != nil {
		return err
	}

	list, err := buildStrategies(cfg, log, true)
	if err != nil {
		return err
	}
	reg, err := strategy.NewRegistry(list...)
	if err != nil {
		return err
	}

	book := ledger.NewBook()
	book.Open(reg.IDs(), cfg.Engine.StartingCapital, cfg.Engine.TransactionCost)
	managers := make(map[domain.StrategyID]*lifecycle.Manager, reg.Len())
	for _, id := range reg.IDs() {
		broker, err := r.broker(id)
		if err != nil {
			return err
		}
		m, err := lifecycle.NewManager(id, lifecycle.Config{
			Broker:        broker,
			Logger:        log,
			SubmitTimeout: cfg.Engine.SubmitTimeout,
		})
		if err != nil {
			return err
		}
		managers[id] = m
	}

	r.engine, err = app.NewEngine(app.Deps{
		Config:     cfg.Engine,
		Logger:     log,
		Strategies: reg,
		Book:       book,
		Managers:   managers,
		Universe:   uni,
		Market:     market,
		Repo:       r.store,
		Metrics:    r.metrics,
	})
	if err != nil {
		return err
	}
	_, err = r.engine.Load(ctx)
	return err
}

// broker gives each strategy its own account: a paper account in dry-run,
// otherwise the strategy's Alpaca account.
func (r *runtime) broker(id domain.StrategyID) (ports.Broker, error) {
	if r.cfg.Engine.DryRun {
		return paperbroker.New(r.cfg.Engine.StartingCapital, r.market), nil
	}
	c := r.cfg.Credentials[id]
	return alpaca.New(alpaca.Config{
		Name:       string(id),
		KeyID:      c.KeyID,
		SecretKey:  c.SecretKey,
		TradingURL: r.cfg.AlpacaTradingURL,
		DataURL:    r.cfg.AlpacaDataURL,
		Feed:       r.cfg.AlpacaFeed,
		Logger:     r.logger,
	})
}

// newUniverse reads constituents from the configured file, behind the Redis
// cache when one is configured and reachable.
func (r *runtime) newUniverse(ctx context.Context) (ports.UniverseProvider, error) {
	file, err := universe.NewFileProvider(r.cfg.UniverseFile, r.logger)
	if err != nil {
		return nil, err
	}
	if r.cfg.RedisAddr == "" {
		return file, nil
	}
	cache, err := universe.NewRedisCache(ctx, universe.RedisConfig{
		Addr:     r.cfg.RedisAddr,
		Password: r.cfg.RedisPassword,
		DB:       r.cfg.RedisDB,
		TTL:      r.cfg.UniverseCacheTTL,
	})
	if err != nil {
		r.logger.Warn(ctx, "Universe cache unavailable, reading constituents directly", map[string]interface{}{
			"addr":  r.cfg.RedisAddr,
			"error": err.Error(),
		})
		return file, nil
	}
	r.cache = cache
	return universe.NewCachedProvider(file, cache, r.logger)
}

// dataCredentials picks the shared Alpaca pair, or the first strategy pair.
func dataCredentials(cfg *config.Config) (config.Credentials, bool) {
	for _, id := range domain.AllStrategies {
		if c := cfg.Credentials[id]; c.KeyID != "" && c.SecretKey != "" {
			return c, true
		}
	}
	return config.Credentials{}, false
}

// buildStrategies creates every allowed strategy. LLM strategies whose
// provider has no API key are skipped with a warning; withLLM false skips
// them all.
func buildStrategies(cfg *config.Config, log ports.Logger, withLLM bool) ([]ports.Strategy, error) {
	ctx := context.Background()
	e := cfg.Engine
	var out []ports.Strategy

	if withLLM {
		providers := []struct {
			id       domain.StrategyID
			provider string
			key      string
			model    string
		}{
			{domain.StrategyChatGPT, llm.ProviderOpenAI, cfg.OpenAIKey, cfg.OpenAIModel},
			{domain.StrategyDeepSeek, llm.ProviderDeepSeek, cfg.DeepSeekKey, cfg.DeepSeekModel},
			{domain.StrategyClaude, llm.ProviderAnthropic, cfg.AnthropicKey, cfg.AnthropicModel},
			{domain.StrategyGemini, llm.ProviderGemini, cfg.GeminiKey, cfg.GeminiModel},
		}
		llmCfg := strategy.DefaultLLMConfig()
		llmCfg.MaxRiskFraction = e.RiskFractionBounds.Max
		if e.MaxPositions > 0 {
			llmCfg.MaxTrades = e.MaxPositions
		}
		for _, p := range providers {
			if !e.Allowed(p.id) {
				continue
			}
			if p.key == "" {
				log.Warn(ctx, "Skipping LLM strategy without API key", map[string]interface{}{"strategy": p.id, "provider": p.provider})
				continue
			}
			client, err := llm.New(llm.Config{
				Provider:          p.provider,
				APIKey:            p.key,
				Model:             p.model,
				RequestsPerMinute: cfg.LLMRatePerMin,
				Timeout:           e.StrategyTimeout,
				Logger:            log,
			})
			if err != nil {
				return nil, err
			}
			s, err := strategy.NewLLM(p.id, client, llmCfg, log)
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		}
	}

	if e.Allowed(domain.StrategyMomentum) {
		mc := strategy.DefaultMomentumConfig()
		limitCandidates(&mc.MaxCandidates, &mc.MaxPositions, e)
		s, err := strategy.NewMomentum(mc, log)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if e.Allowed(domain.StrategyMeanReversion) {
		rc := strategy.DefaultMeanReversionConfig()
		limitCandidates(&rc.MaxCandidates, &rc.MaxPositions, e)
		s, err := strategy.NewMeanReversion(rc, log)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if e.Allowed(domain.StrategyRandomSharpe) {
		sc := strategy.DefaultRandomSharpeConfig()
		limitCandidates(&sc.MaxCandidates, &sc.MaxPositions, e)
		sc.Seed = e.RandomSeed
		sc.RiskFreeRate = e.RiskFreeRate
		s, err := strategy.NewRandomSharpe(sc, log)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("no strategy enabled: %w", ports.ErrConfigurationError)
	}
	return out, nil
}

func limitCandidates(candidates, positions *int, e config.EngineConfig) {
	if e.MaxCandidates > 0 {
		*candidates = e.MaxCandidates
	}
	if e.MaxPositions > 0 {
		*positions = e.MaxPositions
	}
}
