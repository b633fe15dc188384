package config

import "strings"

const (
	defaultAppEnv             = "dev"
	defaultAppLogLevel        = "info"
	defaultUpbitBaseURL       = "https://api.upbit.com"
	defaultUpbitTimeout       = 10
	defaultUpbitRPS           = 8
	defaultBreakerThreshold   = 5
	defaultBreakerTimeout     = 30
	defaultMarketCode         = "KRW-BTC"
	defaultCandleUnit         = "1m"
	defaultSimCount           = 100
	defaultSimInterval        = 0.1
	defaultSimBudget          = 50000
	defaultSimCachePath       = "data/candles.db"
	defaultLiveInterval       = 60
	defaultLiveBudget         = 10000
	defaultLiveFillTimeout    = 10
	defaultLiveFeeRate        = 0.0005
	defaultOperatorHistory    = 200
	defaultOperatorRetries    = 2
	defaultOperatorRetryBase  = 500
	defaultOperatorRetryMax   = 5000
	defaultStoreResultsPath   = "data/results.db"
)

// applyDefaults fills every field the loaded sources did not set.
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Upbit.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.Simulation.applyDefaults(keys)
	c.Live.applyDefaults(keys)
	c.Operator.applyDefaults(keys)
	c.Store.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
	)
}

func (u *UpbitConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("upbit.base_url", &u.BaseURL, defaultUpbitBaseURL),
		intFieldDefault("upbit.timeout_seconds", &u.TimeoutSeconds, defaultUpbitTimeout),
		floatFieldDefault("upbit.requests_per_second", &u.RequestsPerSecond, defaultUpbitRPS),
		intFieldDefault("upbit.breaker_threshold", &u.BreakerThreshold, defaultBreakerThreshold),
		intFieldDefault("upbit.breaker_timeout_seconds", &u.BreakerTimeoutSeconds, defaultBreakerTimeout),
	)
	u.BaseURL = strings.TrimRight(strings.TrimSpace(u.BaseURL), "/")
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("market.code", &m.Code, defaultMarketCode),
		stringFieldDefault("market.candle_unit", &m.CandleUnit, defaultCandleUnit),
	)
	m.Code = strings.ToUpper(strings.TrimSpace(m.Code))
}

func (s *SimulationConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		intFieldDefault("simulation.count", &s.Count, defaultSimCount),
		floatFieldDefault("simulation.interval_seconds", &s.IntervalSeconds, defaultSimInterval),
		int64FieldDefault("simulation.budget", &s.Budget, defaultSimBudget),
		stringFieldDefault("simulation.cache_path", &s.CachePath, defaultSimCachePath),
	)
}

func (l *LiveConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		floatFieldDefault("live.interval_seconds", &l.IntervalSeconds, defaultLiveInterval),
		int64FieldDefault("live.budget", &l.Budget, defaultLiveBudget),
		intFieldDefault("live.fill_timeout_seconds", &l.FillTimeoutSeconds, defaultLiveFillTimeout),
		fieldDefault{
			key:   "live.fee_rate",
			apply: func() { l.FeeRate = defaultLiveFeeRate },
		},
	)
}

func (o *OperatorConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		intFieldDefault("operator.history_size", &o.HistorySize, defaultOperatorHistory),
		// zero retries is a valid explicit choice, so only an absent key gets the default
		fieldDefault{
			key:   "operator.max_retries",
			apply: func() { o.MaxRetries = defaultOperatorRetries },
		},
		intFieldDefault("operator.retry_base_ms", &o.RetryBaseMS, defaultOperatorRetryBase),
		intFieldDefault("operator.retry_max_ms", &o.RetryMaxMS, defaultOperatorRetryMax),
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("store.results_path", &s.ResultsPath, defaultStoreResultsPath),
	)
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return strings.TrimSpace(*target) == "" },
		apply: func() { *target = def },
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return *target == 0 },
		apply: func() { *target = def },
	}
}

func int64FieldDefault(key string, target *int64, def int64) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return *target == 0 },
		apply: func() { *target = def },
	}
}

func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return *target == 0 },
		apply: func() { *target = def },
	}
}
