package config

import (
	"log"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	DatabaseURL      string
	RedisURL         string
	TelegramBotToken string
	TelegramChatID   int64
	HTTPAPIKey       string

	// Exchange connectivity.
	DataSource         string // "live" or "sim"
	ExchangeAPIKey     string
	ExchangeAPISecret  string
	ExchangeTestnet    bool
	RecvWindowMS       int64
	RequestTimeoutSecs int
	RequestsPerMinute  int

	// Portfolio and hard limits.
	PortfolioValue         float64
	MaxPositionSizePct     float64
	MinViableSizePct       float64
	MaxDailyLoss           float64
	MaxDrawdownPct         float64
	MaxVaR95               float64
	SharpeFloor            float64
	MaxPositionsTotal      int
	MaxPositionsPerStrat   int
	MaxPositionsPerSymbol  int
	EmergencyMaxDailyLoss  float64
	EmergencyMaxDrawdown   float64
	OrderCooldownSecs      int
	CycleIntervalSecs      int
	MonitorIntervalSecs    int
	AlertCooldownSecs      int
	WorkerPoolSize         int

	// Scoring knobs. These mirror the tolerances the strategy was tuned with;
	// change them through the environment, not in code.
	MinConfidence        float64
	MaxRiskScore         float64
	MaxSignalsPerCycle   int
	ConsensusBonus       float64
	ConsensusBonusCap    float64
	KellyFraction        float64
	KellyMinPct          float64
	KellyMaxPct          float64
	DefaultWinRate       float64
	DefaultAvgReturn     float64
	DefaultStopLossPct   float64
	DefaultRewardRatio   float64
	SoftLimitFraction    float64
	ConcentrationLimit   float64
	IlliquidityPenalty   float64
	HighVolatility       float64
	VolatilityCacheSecs  int
}

func Load() *Config {
	cfg := &Config{
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisURL:          os.Getenv("REDIS_URL"),
		TelegramBotToken:  os.Getenv("TELEGRAM_BOT_TOKEN"),
		HTTPAPIKey:        os.Getenv("API_KEY"),
		ExchangeAPIKey:    os.Getenv("EXCHANGE_API_KEY"),
		ExchangeAPISecret: os.Getenv("EXCHANGE_API_SECRET"),
	}

	if cfg.DatabaseURL == "" {
		log.Println("Warning: DATABASE_URL not set")
	}
	if cfg.RedisURL == "" {
		log.Println("Warning: REDIS_URL not set, defaulting to localhost:6379")
		cfg.RedisURL = "localhost:6379"
	}
	if cfg.TelegramBotToken == "" {
		log.Println("Warning: TELEGRAM_BOT_TOKEN not set, operator bot disabled")
	}

	cfg.TelegramChatID = envInt64("TELEGRAM_CHAT_ID", 0)

	cfg.DataSource = strings.ToLower(strings.TrimSpace(os.Getenv("DATA_SOURCE")))
	if cfg.DataSource == "" {
		cfg.DataSource = "sim"
	}
	if cfg.DataSource != "live" && cfg.DataSource != "sim" {
		log.Printf("Warning: unsupported DATA_SOURCE=%q, defaulting to sim", cfg.DataSource)
		cfg.DataSource = "sim"
	}
	if cfg.DataSource == "live" && (cfg.ExchangeAPIKey == "" || cfg.ExchangeAPISecret == "") {
		log.Println("Warning: DATA_SOURCE=live but exchange credentials are not set")
	}

	cfg.ExchangeTestnet = strings.EqualFold(strings.TrimSpace(os.Getenv("EXCHANGE_TESTNET")), "true")
	cfg.RecvWindowMS = envInt64("RECV_WINDOW_MS", 5000)
	cfg.RequestTimeoutSecs = envInt("REQUEST_TIMEOUT_SECS", 10)
	cfg.RequestsPerMinute = envInt("REQUESTS_PER_MINUTE", 60)

	cfg.PortfolioValue = envFloat("PORTFOLIO_VALUE", 10000)
	cfg.MaxPositionSizePct = envFloat("MAX_POSITION_SIZE_PCT", 2.0)
	cfg.MinViableSizePct = envFloat("MIN_VIABLE_SIZE_PCT", 0.25)
	cfg.MaxDailyLoss = envFloat("MAX_DAILY_LOSS", 500)
	cfg.MaxDrawdownPct = envFloat("MAX_DRAWDOWN_PCT", 15)
	cfg.MaxVaR95 = envFloat("MAX_VAR_95", 0.05)
	cfg.SharpeFloor = envFloat("SHARPE_FLOOR", 0.5)
	cfg.MaxPositionsTotal = envInt("MAX_POSITIONS_TOTAL", 5)
	cfg.MaxPositionsPerStrat = envInt("MAX_POSITIONS_PER_STRATEGY", 3)
	cfg.MaxPositionsPerSymbol = envInt("MAX_POSITIONS_PER_SYMBOL", 1)
	cfg.EmergencyMaxDailyLoss = envFloat("EMERGENCY_MAX_DAILY_LOSS", 1000)
	cfg.EmergencyMaxDrawdown = envFloat("EMERGENCY_MAX_DRAWDOWN_PCT", 20)
	cfg.OrderCooldownSecs = envInt("ORDER_COOLDOWN_SECS", 300)
	cfg.CycleIntervalSecs = envInt("CYCLE_INTERVAL_SECS", 300)
	cfg.MonitorIntervalSecs = envInt("MONITOR_INTERVAL_SECS", 60)
	cfg.AlertCooldownSecs = envInt("ALERT_COOLDOWN_SECS", 900)
	cfg.WorkerPoolSize = envInt("WORKER_POOL_SIZE", 4)

	cfg.MinConfidence = envFloat("MIN_CONFIDENCE", 0.6)
	cfg.MaxRiskScore = envFloat("MAX_RISK_SCORE", 0.8)
	cfg.MaxSignalsPerCycle = envInt("MAX_SIGNALS_PER_CYCLE", 8)
	cfg.ConsensusBonus = envFloat("CONSENSUS_BONUS", 0.1)
	cfg.ConsensusBonusCap = envFloat("CONSENSUS_BONUS_CAP", 0.3)
	cfg.KellyFraction = envFloat("KELLY_FRACTION", 0.25)
	cfg.KellyMinPct = envFloat("KELLY_MIN_PCT", 1.0)
	cfg.KellyMaxPct = envFloat("KELLY_MAX_PCT", 5.0)
	cfg.DefaultWinRate = envFloat("DEFAULT_WIN_RATE", 0.55)
	cfg.DefaultAvgReturn = envFloat("DEFAULT_AVG_RETURN", 0.02)
	cfg.DefaultStopLossPct = envFloat("DEFAULT_STOP_LOSS_PCT", 2.0)
	cfg.DefaultRewardRatio = envFloat("DEFAULT_REWARD_RATIO", 2.5)
	cfg.SoftLimitFraction = envFloat("SOFT_LIMIT_FRACTION", 0.8)
	cfg.ConcentrationLimit = envFloat("CONCENTRATION_LIMIT", 0.5)
	cfg.IlliquidityPenalty = envFloat("ILLIQUIDITY_PENALTY", 0.15)
	cfg.HighVolatility = envFloat("HIGH_VOLATILITY", 0.04)
	cfg.VolatilityCacheSecs = envInt("VOLATILITY_CACHE_SECS", 900)

	return cfg
}

func envInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
		log.Printf("Warning: invalid %s=%q, using %d", key, v, def)
	}
	return def
}

func envInt64(key string, def int64) int64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
		log.Printf("Warning: invalid %s=%q, using %d", key, v, def)
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil && n > 0 {
			return n
		}
		log.Printf("Warning: invalid %s=%q, using %g", key, v, def)
	}
	return def
}
