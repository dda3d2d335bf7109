package main

import (
	"context"
	"net/http"
	"os"
	"testing"
	"time"

	"steady-hand/internal/bot"
	"steady-hand/internal/config"
	"steady-hand/internal/domain"
	"steady-hand/internal/exchange"
	"steady-hand/internal/execution"
	"steady-hand/internal/job"

	"github.com/gin-gonic/gin"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestMainBootstrap(t *testing.T) {
	gin.SetMode(gin.TestMode)
	restore := stubServerDeps()
	defer restore()

	done := make(chan struct{})
	go func() {
		main()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("main did not exit")
	}
}

func stubServerDeps() func() {
	origLoadEnv := loadEnvFunc
	origLoadConfig := loadConfigFunc
	origInitPostgres := initPostgresFunc
	origInitRedis := initRedisFunc
	origInitTracer := initTracerFunc
	origNewClient := newExchangeClientFunc
	origReconcile := reconcileFunc
	origStartTelegram := startTelegramBotFunc
	origStartTrading := startTradingJobFunc
	origStartMonitor := startMonitorJobFunc
	origNewRouter := newRouterFunc
	origSetupSignal := setupSignalNotify
	origWait := waitForSignalFunc
	origStartHTTP := startHTTPServerFunc
	origShutdownHTTP := shutdownHTTPServerFunc

	loadEnvFunc = func(...string) error { return nil }
	loadConfigFunc = func() *config.Config {
		return &config.Config{DataSource: "sim", PortfolioValue: 10000, CycleIntervalSecs: 1, MonitorIntervalSecs: 1}
	}
	initPostgresFunc = func(context.Context, string) error { return nil }
	initRedisFunc = func(context.Context, string) error { return nil }
	initTracerFunc = func(ctx context.Context) (*sdktrace.TracerProvider, trace.Tracer, error) {
		tp := sdktrace.NewTracerProvider()
		return tp, tp.Tracer("test"), nil
	}
	newExchangeClientFunc = func(trace.Tracer, *config.Config) exchange.Client {
		return exchange.NewSimClient(10000)
	}
	reconcileFunc = func(*execution.Engine, context.Context) error { return nil }
	startTelegramBotFunc = func(string, int64, bot.PositionSource, bot.AlertReader, *domain.PortfolioState) *bot.TelegramBot {
		return nil
	}
	startTradingJobFunc = func(*job.TradingJob, context.Context) {}
	startMonitorJobFunc = func(*job.MonitorJob, context.Context) {}
	newRouterFunc = func(...gin.OptionFunc) *gin.Engine { return gin.New() }
	setupSignalNotify = func(c chan<- os.Signal, sig ...os.Signal) {}
	waitForSignalFunc = func(<-chan os.Signal) {}
	startHTTPServerFunc = func(*http.Server) error { return http.ErrServerClosed }
	shutdownHTTPServerFunc = func(*http.Server, context.Context) error { return nil }

	return func() {
		loadEnvFunc = origLoadEnv
		loadConfigFunc = origLoadConfig
		initPostgresFunc = origInitPostgres
		initRedisFunc = origInitRedis
		initTracerFunc = origInitTracer
		newExchangeClientFunc = origNewClient
		reconcileFunc = origReconcile
		startTelegramBotFunc = origStartTelegram
		startTradingJobFunc = origStartTrading
		startMonitorJobFunc = origStartMonitor
		newRouterFunc = origNewRouter
		setupSignalNotify = origSetupSignal
		waitForSignalFunc = origWait
		startHTTPServerFunc = origStartHTTP
		shutdownHTTPServerFunc = origShutdownHTTP
	}
}

func TestNewExchangeClientDefaultsToSim(t *testing.T) {
	client := newExchangeClient(trace.NewNoopTracerProvider().Tracer("test"), &config.Config{
		DataSource:     "sim",
		PortfolioValue: 5000,
	})
	if _, ok := client.(*exchange.SimClient); !ok {
		t.Fatalf("expected a sim client, got %T", client)
	}
}
