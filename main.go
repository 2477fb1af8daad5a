package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"metron-core/internal/analysis"
	"metron-core/internal/api"
	"metron-core/internal/broadcast"
	"metron-core/internal/data"
	"metron-core/internal/engine"
	"metron-core/internal/events"
	"metron-core/internal/gateway"
	"metron-core/internal/market"
	"metron-core/internal/monitor"
	"metron-core/internal/notify"
	"metron-core/internal/order"
	"metron-core/internal/persistence"
	"metron-core/internal/reconciliation"
	"metron-core/internal/strategy"
	"metron-core/internal/stream"
	"metron-core/pkg/config"
	"metron-core/pkg/db"
	"metron-core/pkg/logger"
	marketbinance "metron-core/pkg/market/binance"
)

var buildVersion = "dev"

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error().Err(err).Msg("metron core stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("metron core stopped")
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	log.Info().
		Str("version", buildVersion).
		Str("symbol", cfg.Symbol).
		Str("store", cfg.StoreDriver).
		Bool("paper", cfg.PaperTrading).
		Bool("mock_feed", cfg.UseMockFeed).
		Msg("starting metron core")

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	metrics := monitor.NewMetrics()
	bus := events.NewBus()

	gw, venue, health := newGateway(ctx, cfg, log)
	defer gw.Close()

	catalog, policy, err := strategy.LoadConfig(cfg.StrategiesFile)
	if err != nil {
		return fmt.Errorf("load strategies: %w", err)
	}
	manager := strategy.NewManager(store, catalog, log.With().Str("component", "strategy").Logger())
	if err := manager.Load(ctx); err != nil {
		return err
	}

	executor := order.NewExecutor(store, gw, order.Config{
		RiskPercentage: cfg.RiskPercentage,
		Paper:          cfg.PaperTrading,
		PaperBalance:   cfg.PaperBalance,
		MinBalance:     cfg.MinBalance,
		QuoteAsset:     cfg.QuoteAsset,
		Exchange:       venue,
	}, metrics, log)
	if err := executor.LoadSettings(ctx); err != nil {
		return err
	}

	reconCfg := reconciliation.DefaultConfig()
	reconCfg.Policy = reconciliation.Policy(cfg.UnverifiedPolicy)
	recon := reconciliation.NewService(executor, store, gw, bus, reconCfg, log)
	if _, err := recon.SyncPositions(ctx); err != nil {
		return fmt.Errorf("reconcile positions: %w", err)
	}
	go recon.Run(ctx, time.Minute)

	queue := persistence.NewQueue(store, persistence.Options{Size: cfg.PersistQueueSize}, metrics, log)

	notifier := newNotifier(cfg, log)
	(&monitor.Monitor{Bus: bus, Sink: notifier, Logger: log.With().Str("component", "monitor").Logger()}).Start(ctx)

	history := data.NewHistory(store, gw, log)
	eng := stream.New(stream.Config{
		Symbol:           cfg.Symbol,
		Timeframe:        cfg.AnalysisTimeframe,
		BufferSize:       cfg.BufferSize,
		BackfillLimit:    cfg.BackfillLimit,
		Freshness:        cfg.Freshness,
		ReconnectBackoff: cfg.ReconnectBackoff,
		ReadTimeout:      cfg.ReadTimeout,
		AnalysisInterval: cfg.AnalysisInterval,
	}, stream.Deps{
		Source:   newTickSource(cfg),
		History:  history,
		Queue:    queue,
		Analyzer: analysis.NewAnalyzer(policy, cfg.SignalCacheTTL),
		Strategy: manager,
		Executor: executor,
		Bus:      bus,
		Alerts:   notifier,
		Metrics:  metrics,
		Logger:   log,
	})

	latest := broadcast.NewLatest()
	relay := broadcast.NewRelay(bus, cfg.Symbol, log, append([]broadcast.Sink{latest}, newRelaySinks(ctx, cfg, log)...)...)
	go relay.Run(ctx)

	svc := engine.NewImpl(engine.Config{
		Stream:    eng,
		Strategy:  manager,
		Executor:  executor,
		Candles:   history,
		Trades:    store,
		Queue:     queue,
		Reconcile: recon,
		Health:    health,
		Policy:    policy,
		Timeframe: cfg.AnalysisTimeframe,
		Meta: engine.Meta{
			Version:     buildVersion,
			Venue:       venue,
			UseMockFeed: cfg.UseMockFeed,
		},
		Logger: log,
	})

	if cfg.OperatorKey == "" {
		log.Warn().Msg("OPERATOR_KEY not set; mutating API routes are unreachable")
	}
	server := api.NewServer(api.Options{
		Engine:      svc,
		Latest:      latest,
		Metrics:     metrics,
		Symbol:      cfg.Symbol,
		JWTSecret:   cfg.JWTSecret,
		OperatorKey: cfg.OperatorKey,
		Logger:      log,
	})
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("api listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	streamCtx, cancelStream := context.WithCancel(ctx)
	defer cancelStream()
	streamErr := make(chan error, 1)
	go func() { streamErr <- eng.Run(streamCtx) }()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-serverErr:
		runErr = fmt.Errorf("api server: %w", err)
	case err := <-streamErr:
		runErr = err
		streamErr <- nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("api shutdown")
	}
	cancelStream()
	select {
	case <-streamErr:
	case <-shutdownCtx.Done():
		log.Warn().Msg("stream engine did not stop in time")
	}
	if err := queue.Close(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("candle queue did not drain")
	}
	return runErr
}

func openStore(ctx context.Context, cfg *config.Config) (db.Store, error) {
	switch cfg.StoreDriver {
	case "postgres":
		pg, err := db.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return pg, nil
	default:
		lite, err := db.Open(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return lite, nil
	}
}

// newGateway returns the exchange gateway, the venue name recorded on
// trades, and the breaker health reporter (nil for the mock).
func newGateway(ctx context.Context, cfg *config.Config, log zerolog.Logger) (gateway.Gateway, string, engine.HealthReporter) {
	if cfg.UseMockFeed {
		return gateway.NewMock(100, map[string]float64{cfg.QuoteAsset: cfg.PaperBalance}), "mock", nil
	}
	gw := gateway.NewBinance(gateway.BinanceConfig{
		APIKey:    cfg.BinanceAPIKey,
		APISecret: cfg.BinanceAPISecret,
		Testnet:   cfg.BinanceTestnet,
		Timeout:   cfg.GatewayTimeout,
		Breaker:   gateway.DefaultBreakerConfig(),
		Logger:    log,
	})
	if cfg.BinanceAPIKey != "" {
		gw.StartTimeSync(ctx)
	}
	venue := "binance"
	if cfg.BinanceTestnet {
		venue = "binance-testnet"
	}
	return gw, venue, gw
}

func newTickSource(cfg *config.Config) market.TickSource {
	if cfg.UseMockFeed {
		return &market.MockSource{StartPrice: 100, Step: 0.5, Interval: time.Second}
	}
	return &market.BinanceSource{Stream: marketbinance.NewStreamClient(cfg.BinanceTestnet)}
}

func newNotifier(cfg *config.Config, log zerolog.Logger) *notify.Notifier {
	var channels []notify.Channel
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		channels = append(channels, notify.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	if cfg.DiscordWebhookURL != "" {
		channels = append(channels, notify.NewDiscord(cfg.DiscordWebhookURL))
	}
	n := notify.NewNotifier(log, channels...)
	log.Info().Strs("channels", n.Channels()).Msg("notifier configured")
	return n
}

// newRelaySinks connects the optional Redis and Kafka relays. A relay that
// cannot connect is logged and skipped.
func newRelaySinks(ctx context.Context, cfg *config.Config, log zerolog.Logger) []broadcast.Sink {
	var sinks []broadcast.Sink
	if cfg.RedisAddr != "" {
		pub, err := broadcast.NewRedisPublisher(ctx, broadcast.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      time.Hour,
		})
		if err != nil {
			log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis relay disabled")
		} else {
			sinks = append(sinks, pub)
		}
	}
	if len(cfg.KafkaBrokers) > 0 {
		prod, err := broadcast.NewKafkaProducer(broadcast.KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
		})
		if err != nil {
			log.Warn().Err(err).Msg("kafka relay disabled")
		} else {
			sinks = append(sinks, prod)
		}
	}
	return sinks
}
