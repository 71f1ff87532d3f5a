package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"quant-agent-go/internal/agent"
	"quant-agent-go/internal/api"
	"quant-agent-go/internal/cache"
	"quant-agent-go/internal/chain"
	"quant-agent-go/internal/config"
	"quant-agent-go/internal/custody"
	"quant-agent-go/internal/database"
	"quant-agent-go/internal/logger"
	"quant-agent-go/internal/market"
	"quant-agent-go/internal/news"
	"quant-agent-go/internal/portfolio"
	"quant-agent-go/internal/registry"
	"quant-agent-go/internal/settlement"
	"quant-agent-go/internal/trader"
	"quant-agent-go/internal/upstream"
	"quant-agent-go/internal/vault"
)

func main() {
	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		panic(fmt.Sprintf("could not load config: %v", err))
	}

	// Initialize logger
	log, err := logger.New(cfg.Logger, "server")
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("Configuration loaded")

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
		<-sigchan
		log.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	// Initialize database
	db, err := database.NewDatabase(cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	repo := database.NewRepository(db, log)
	log.Info("Database connection successful and schema migrated.", zap.String("driver", cfg.Database.Driver))

	reg := registry.Default()

	// Market data
	var rdb redis.UniversalClient
	if cfg.Cache.Backend == cache.BackendRedis {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.Redis.Address,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("Redis unreachable, cache lookups will miss until it recovers", zap.Error(err))
		}
	}
	cacheSettings := func(name string) cache.Settings {
		return cache.Settings{
			Backend:   cfg.Cache.Backend,
			Namespace: cfg.Cache.Redis.Prefix + ":" + name,
			TTL:       cfg.Market.IndicatorTTL,
			MaxSize:   cfg.Market.CacheSize,
		}
	}
	technicalCache, err := cache.New[market.Technicals](cacheSettings("technical"), rdb, log)
	if err != nil {
		log.Fatal("Failed to create technical cache", zap.Error(err))
	}
	fundamentalCache, err := cache.New[market.Fundamentals](cacheSettings("fundamental"), rdb, log)
	if err != nil {
		log.Fatal("Failed to create fundamental cache", zap.Error(err))
	}

	marketClient := func(name, baseURL string, headers map[string]string) *upstream.Client {
		return upstream.NewClient(upstream.Options{
			Name:           name,
			BaseURL:        baseURL,
			RateLimit:      cfg.Market.RateLimit,
			RateLimitBurst: cfg.Market.RateLimitBurst,
			Timeout:        cfg.Market.Timeout,
			Headers:        headers,
		}, log)
	}
	prices := market.NewPriceCache(marketClient("coingecko", cfg.Market.CoinGeckoURL, nil), reg, market.ExtraPriceIDs, cfg.Market.PriceFreshness, log)
	indicators := market.NewIndicators(marketClient("taapi", cfg.Market.TaapiURL, nil), technicalCache, market.IndicatorSettings{
		Secret:        cfg.Market.TaapiKey,
		Exchange:      cfg.Market.Exchange,
		QuoteCurrency: cfg.Market.QuoteCurrency,
		Interval:      cfg.Market.Interval,
	}, log)
	fundamentals := market.NewFundamentals(marketClient("birdeye", cfg.Market.BirdeyeURL, map[string]string{"X-API-KEY": cfg.Market.BirdeyeKey}), fundamentalCache, reg, log)
	macro := market.NewMacro(marketClient("coinglass", cfg.Market.CoinGlassURL, map[string]string{"CG-API-KEY": cfg.Market.CoinGlassKey}), log)
	searcher := news.NewSearcher(marketClient("tavily", cfg.News.TavilyURL, nil), cfg.News.TavilyKey, cfg.News.Days, cfg.News.MaxResults, log)

	// Chain and signing key
	chainClient, err := chain.Dial(ctx, cfg.Chain, cfg.Trading.ScaleDecimals, log)
	if err != nil {
		log.Fatal("Failed to connect to chain RPC", zap.Error(err))
	}
	if key := signingKey(ctx, cfg, log); key != "" {
		if _, err := chainClient.WithSigner(key); err != nil {
			log.Fatal("Invalid server signing key", zap.Error(err))
		}
		log.Info("Server wallet loaded", zap.String("address", chainClient.SignerAddress()))
	} else {
		log.Warn("No server signing key configured, trade settlement is disabled")
	}

	provider, err := custody.NewLocalProvider(cfg.Custody.EncryptionKey, log)
	if err != nil {
		log.Fatal("Failed to initialize custody provider", zap.Error(err))
	}

	// Agent
	model := agent.NewRuntime(upstream.NewClient(upstream.Options{
		Name:    cfg.Agent.Provider,
		BaseURL: cfg.Agent.BaseURL,
		Timeout: cfg.Agent.Timeout,
		Headers: map[string]string{"Authorization": "Bearer " + cfg.Agent.APIKey},
	}, log), agent.RuntimeOptions{
		Model:         cfg.Agent.Model,
		Temperature:   cfg.Agent.Temperature,
		MaxToolRounds: cfg.Agent.MaxToolRounds,
	}, log)
	toolbox := &agent.Toolbox{
		Macro:        macro,
		Technicals:   indicators,
		Fundamentals: fundamentals,
		News:         searcher,
		Strategies:   repo,
		Prices:       prices,
		Balances:     chainClient,
	}
	sessions := agent.NewSessions(repo, provider, toolbox, model, agent.SessionOptions{
		TTL:        cfg.Agent.SessionTTL,
		MaxEntries: cfg.Agent.MaxSessions,
	}, log)

	// Settlement and orchestration
	pipeline := settlement.NewPipeline(reg, prices, chainClient, repo, settlement.Options{
		SettlementCurrency: cfg.Trading.SettlementCurrency,
		FallbackRateUSD:    cfg.Trading.FallbackRateUSD,
	}, log)
	reconciler := portfolio.NewReconciler(chainClient, repo, cfg.Trading.SettlementCurrency, log)
	engine := trader.NewEngine(log, sessions, pipeline, reconciler, repo, prices, trader.Options{
		WarmEvery: cfg.Server.PriceWarmEvery,
	})
	go engine.Run(ctx)

	// HTTP server
	server := api.NewServer(cfg.Server, engine, log)
	errc := make(chan error, 1)
	go func() { errc <- server.Start() }()

	select {
	case <-ctx.Done():
	case err := <-errc:
		if err != nil {
			log.Error("HTTP server stopped", zap.Error(err))
		}
		cancel()
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Failed to shut down HTTP server", zap.Error(err))
	}
	log.Info("Server has been shut down.")
}

// signingKey returns the server key from Vault when enabled, else from configuration.
func signingKey(ctx context.Context, cfg config.Config, log *zap.Logger) string {
	if !cfg.Vault.Enabled {
		return cfg.Chain.PrivateKey
	}
	vc, err := vault.NewClient(cfg.Vault)
	if err != nil {
		log.Fatal("Failed to create vault client", zap.Error(err))
	}
	key, err := vc.SignerKey(ctx)
	if err != nil {
		log.Warn("Signing key not available from vault, falling back to configuration", zap.Error(err))
		return cfg.Chain.PrivateKey
	}
	log.Info("Signing key loaded from vault", zap.String("path", cfg.Vault.Path))
	return key
}
