package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"steady-hand/internal/aggregator"
	"steady-hand/internal/bot"
	"steady-hand/internal/cache"
	"steady-hand/internal/config"
	"steady-hand/internal/db"
	"steady-hand/internal/domain"
	"steady-hand/internal/exchange"
	"steady-hand/internal/execution"
	"steady-hand/internal/handler"
	"steady-hand/internal/job"
	"steady-hand/internal/monitor"
	"steady-hand/internal/repository"
	"steady-hand/internal/risk"
	"steady-hand/internal/service"
	signalsrc "steady-hand/internal/signal"
	"steady-hand/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/trace"

	_ "steady-hand/docs"
)

var (
	loadEnvFunc           = godotenv.Load
	loadConfigFunc        = config.Load
	initPostgresFunc      = db.InitPostgres
	initRedisFunc         = cache.InitRedis
	initTracerFunc        = tracing.InitTracer
	newExchangeClientFunc = newExchangeClient
	reconcileFunc         = func(eng *execution.Engine, ctx context.Context) error { return eng.Reconcile(ctx) }
	startTelegramBotFunc  = bot.StartTelegramBot
	startTradingJobFunc   = func(j *job.TradingJob, ctx context.Context) { go j.Start(ctx) }
	startMonitorJobFunc   = func(j *job.MonitorJob, ctx context.Context) { go j.Start(ctx) }
	newRouterFunc         = gin.Default
	setupSignalNotify     = signal.Notify
	waitForSignalFunc     = func(quit <-chan os.Signal) { <-quit }
	startHTTPServerFunc   = func(srv *http.Server) error { return srv.ListenAndServe() }
	shutdownHTTPServerFunc = func(srv *http.Server, ctx context.Context) error { return srv.Shutdown(ctx) }
)

// @title           Steady Hand API
// @version         1.0
// @description     Risk-gated crypto trading service with OpenTelemetry tracing.

// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key

// @host      localhost:8080
// @BasePath  /
func main() {
	loadEnvFunc()

	cfg := loadConfigFunc()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Init Postgres and Redis. Postgres carries the audit trail; Redis only
	// backs the volatility cache, so either may be absent in development.
	if err := initPostgresFunc(ctx, cfg.DatabaseURL); err != nil {
		log.Printf("Warning: postgres unavailable, order audit disabled: %v", err)
	}
	defer db.Close()
	if err := initRedisFunc(ctx, cfg.RedisURL); err != nil {
		log.Printf("Warning: redis unavailable, volatility cache disabled: %v", err)
	}

	// Init tracing
	tp, tracer, err := initTracerFunc(ctx)
	if err != nil {
		log.Fatalf("failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("error shutting down tracer provider: %v", err)
		}
	}()

	// Create repositories and run migrations. A typed nil *pgxpool.Pool is
	// still a non-nil interface, so only assign when the connection is live;
	// repositories return ErrDatabaseUnavailable otherwise.
	var pool repository.PgxPool
	if db.Pool != nil {
		pool = db.Pool
	}
	orderEventRepo := repository.NewOrderEventRepository(pool, tracer)
	positionRepo := repository.NewPositionRepository(pool, tracer)
	alertRepo := repository.NewAlertRepository(pool, tracer)
	assessmentRepo := repository.NewAssessmentRepository(pool, tracer)
	if pool != nil {
		migrators := []interface {
			RunMigrations(ctx context.Context) error
		}{orderEventRepo, positionRepo, alertRepo, assessmentRepo}
		for _, m := range migrators {
			if err := m.RunMigrations(ctx); err != nil {
				log.Fatalf("failed to run migrations: %v", err)
			}
		}
	}

	state := domain.NewPortfolioState()
	client := newExchangeClientFunc(tracer, cfg)

	// Risk layer
	var rdb risk.RedisClient
	if cache.Client != nil {
		rdb = cache.Client
	}
	volatility := risk.NewVolatilityCache(tracer, client, rdb, time.Duration(cfg.VolatilityCacheSecs)*time.Second)
	assessor := risk.NewAssessor(tracer, risk.Limits{
		MinConfidence:         cfg.MinConfidence,
		MaxRiskScore:          cfg.MaxRiskScore,
		MaxPositionsTotal:     cfg.MaxPositionsTotal,
		MaxPositionsPerStrat:  cfg.MaxPositionsPerStrat,
		MaxPositionsPerSymbol: cfg.MaxPositionsPerSymbol,
		SoftLimitFraction:     cfg.SoftLimitFraction,
		MaxDrawdownPct:        cfg.MaxDrawdownPct,
		MaxDailyLoss:          cfg.MaxDailyLoss,
		MaxVaR95Fraction:      cfg.MaxVaR95,
		SharpeFloor:           cfg.SharpeFloor,
		ConcentrationLimit:    cfg.ConcentrationLimit,
		HighVolatility:        cfg.HighVolatility,
		IlliquidityPenalty:    cfg.IlliquidityPenalty,
		MaxSingleAssetPct:     cfg.MaxPositionSizePct,
		MinViableSizePct:      cfg.MinViableSizePct,
	}, volatility, state)

	// Execution engine, reconciled against the exchange before any cycle runs
	engine := execution.NewEngine(tracer, client, state, orderEventRepo, positionRepo,
		time.Duration(cfg.OrderCooldownSecs)*time.Second, cfg.MaxPositionsTotal)
	if err := reconcileFunc(engine, ctx); err != nil {
		log.Printf("Warning: startup reconciliation failed: %v", err)
	}

	// Signal sources and aggregation
	regime := aggregator.NewRegimeClassifier(cfg.MaxSignalsPerCycle*2, cfg.HighVolatility)
	agg := aggregator.New(tracer, aggregator.Config{
		MaxSignals:         cfg.MaxSignalsPerCycle,
		ConsensusBonus:     cfg.ConsensusBonus,
		ConsensusBonusCap:  cfg.ConsensusBonusCap,
		KellyFraction:      cfg.KellyFraction,
		KellyMinPct:        cfg.KellyMinPct,
		KellyMaxPct:        cfg.KellyMaxPct,
		DefaultWinRate:     cfg.DefaultWinRate,
		DefaultAvgReturn:   cfg.DefaultAvgReturn,
		DefaultStopLossPct: cfg.DefaultStopLossPct,
		DefaultRewardRatio: cfg.DefaultRewardRatio,
	}, regime)

	symbols := make([]string, 0, len(domain.MajorPairs))
	for s := range domain.MajorPairs {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	scanner := signalsrc.NewScanner(tracer, client, symbols)
	intake := signalsrc.NewIntake("webhook", 64)

	// Start Telegram bot (also the alert notifier; nil without a token)
	tgBot := startTelegramBotFunc(cfg.TelegramBotToken, cfg.TelegramChatID, engine, alertRepo, state)

	tradingService := service.NewTradingService(tracer,
		[]service.SignalSource{scanner, intake},
		agg, assessor, engine, assessmentRepo, client, regime, state, tgBot,
		cfg.WorkerPoolSize)

	portfolioMonitor := monitor.New(tracer, client, engine, state, tgBot, alertRepo, monitor.Thresholds{
		MaxDailyLoss:          cfg.MaxDailyLoss,
		MaxDrawdownPct:        cfg.MaxDrawdownPct,
		MaxVaR95Fraction:      cfg.MaxVaR95,
		SharpeFloor:           cfg.SharpeFloor,
		ConcentrationLimit:    cfg.ConcentrationLimit,
		EmergencyMaxDailyLoss: cfg.EmergencyMaxDailyLoss,
		EmergencyMaxDrawdown:  cfg.EmergencyMaxDrawdown,
		AlertCooldown:         time.Duration(cfg.AlertCooldownSecs) * time.Second,
	})

	// Background jobs, stopped by ctx cancel
	startTradingJobFunc(job.NewTradingJob(tracer, tradingService, cfg.CycleIntervalSecs), ctx)
	startMonitorJobFunc(job.NewMonitorJob(tracer, portfolioMonitor, cfg.MonitorIntervalSecs), ctx)

	// Create handlers and routes
	h := handler.New(tracer, engine, alertRepo, orderEventRepo, intake, tradingService, state, cfg.HTTPAPIKey)

	r := newRouterFunc()
	r.Use(otelgin.Middleware("steady-hand"))

	h.RegisterRoutes(r)
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:    ":8080",
		Handler: r,
	}

	go func() {
		if err := startHTTPServerFunc(srv); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	setupSignalNotify(quit, syscall.SIGINT, syscall.SIGTERM)
	waitForSignalFunc(quit)
	log.Println("Shutting down server...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := shutdownHTTPServerFunc(srv, shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exiting")
}

func newExchangeClient(tracer trace.Tracer, cfg *config.Config) exchange.Client {
	if cfg.DataSource == "live" {
		return exchange.NewLiveClient(tracer, exchange.Options{
			APIKey:         cfg.ExchangeAPIKey,
			APISecret:      cfg.ExchangeAPISecret,
			Testnet:        cfg.ExchangeTestnet,
			RecvWindowMS:   cfg.RecvWindowMS,
			RequestTimeout: time.Duration(cfg.RequestTimeoutSecs) * time.Second,
			Limiter:        exchange.NewRateLimiter(cfg.RequestsPerMinute, time.Minute),
		})
	}
	log.Println("Using simulated exchange (set DATA_SOURCE=live for real orders)")
	return exchange.NewSimClient(cfg.PortfolioValue)
}
