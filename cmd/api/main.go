package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"lv-margin/internal/accounts"
	"lv-margin/internal/auth"
	"lv-margin/internal/config"
	"lv-margin/internal/db"
	"lv-margin/internal/health"
	"lv-margin/internal/httpserver"
	"lv-margin/internal/ledger"
	"lv-margin/internal/loans"
	"lv-margin/internal/logging"
	"lv-margin/internal/marketdata"
	"lv-margin/internal/metrics"
	"lv-margin/internal/monitor"
	"lv-margin/internal/notify"
	"lv-margin/internal/orders"
	"lv-margin/internal/positions"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("load .env: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.Mode)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	startedAt := time.Now().UTC()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var (
		store ledger.Store
		pool  *pgxpool.Pool
	)
	if cfg.DBDSN != "" {
		p, err := db.NewPool(ctx, cfg.DBDSN)
		if err != nil {
			return err
		}
		defer p.Close()
		if err := db.Migrate(ctx, p); err != nil {
			return err
		}
		pool = p
		store = ledger.NewPGStore(p)
		logger.Info("using postgres ledger")
	} else {
		store = ledger.NewMemoryStore()
		logger.Warn("DB_DSN not set, using in-memory ledger")
	}

	var cache marketdata.Cache
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, quotes fall back to durable prices on miss", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		cache = marketdata.NewRedisCache(rdb, cfg.PriceCacheTTL, logger)
	}
	source := marketdata.NewHTTPSource(cfg.PriceAPIURL, cfg.PriceRateLimit, cfg.PriceFetchTimeout)
	feed := marketdata.NewFeed(source, cache, store, marketdata.FeedConfig{
		TTL:          cfg.PriceCacheTTL,
		FetchTimeout: cfg.PriceFetchTimeout,
	}, logger, m)

	bus := marketdata.NewBus()
	sinks := []notify.Sink{notify.NewBusSink(bus)}
	if len(cfg.KafkaBrokers) > 0 {
		kafkaSink := notify.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kafkaSink.Close()
		sinks = append(sinks, kafkaSink)
		logger.Info("kafka notifications enabled", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	}
	dispatcher := notify.NewDispatcher(notify.DispatcherConfig{}, logger, m, sinks...)
	defer dispatcher.Stop()

	accountSvc := accounts.NewService(store, cfg.Risk, logger)
	positionSvc := positions.NewService(store, accountSvc, feed, cfg.Risk, logger)
	orderSvc := orders.NewService(store, accountSvc, positionSvc, feed, cfg.Risk, logger)
	orderSvc.SetNotifier(dispatcher)
	orderSvc.SetMetrics(m)
	loanSvc := loans.NewService(store, accountSvc, cfg.Risk, logger)
	loanSvc.SetNotifier(dispatcher)
	authSvc := auth.NewService(cfg.JWTIssuer, []byte(cfg.JWTSecret), cfg.JWTTTL, cfg.InternalTokenHash)

	mon := monitor.New(orderSvc, positionSvc, loanSvc, feed, monitor.Config{
		Tick:             cfg.MonitorTick,
		LiquidationEvery: cfg.LiquidationEvery,
		InterestEvery:    cfg.InterestEvery,
	}, logger)
	mon.SetNotifier(dispatcher)
	mon.SetMetrics(m)
	mon.Start(ctx)
	defer mon.Stop()

	marketdata.StartPublisher(ctx, bus, feed, cfg.QuoteSymbols, cfg.PriceCacheTTL, logger)

	router := httpserver.NewRouter(httpserver.RouterDeps{
		AuthHandler:      auth.NewHandler(authSvc),
		AccountsHandler:  accounts.NewHandler(accountSvc),
		PositionsHandler: positions.NewHandler(positionSvc),
		OrderHandler:     orders.NewHandler(orderSvc),
		LoansHandler:     loans.NewHandler(loanSvc),
		MarketHandler:    marketdata.NewHandler(feed),
		HealthHandler:    health.NewHandler(store, pool, mon, authSvc.CheckInternal, startedAt, cfg.Mode, cfg.HTTPAddr),
		AuthService:      authSvc,
		WSHandler:        httpserver.NewWSHandler(bus, authSvc, accountSvc, positionSvc, cfg.WebSocketOrigin, logger),
		MetricsHandler:   promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		RateLimiter:      httpserver.NewRateLimiter(20, 40),
		AllowedOrigin:    cfg.WebSocketOrigin,
		Logger:           logger,
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", cfg.HTTPAddr), zap.String("mode", cfg.Mode))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	return nil
}
