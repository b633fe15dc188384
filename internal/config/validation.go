package config

import (
	"fmt"
	"strings"

	"smtm/internal/scheduler"
	"smtm/internal/strategy"
)

func validate(c *Config) error {
	if err := c.Upbit.validate(); err != nil {
		return err
	}
	if err := c.Market.validate(); err != nil {
		return err
	}
	if err := c.Simulation.validate(); err != nil {
		return err
	}
	if err := c.Live.validate(); err != nil {
		return err
	}
	if err := c.Operator.validate(); err != nil {
		return err
	}
	return nil
}

func (u *UpbitConfig) validate() error {
	if !strings.HasPrefix(u.BaseURL, "http://") && !strings.HasPrefix(u.BaseURL, "https://") {
		return fmt.Errorf("upbit.base_url must be an http(s) url, got %q", u.BaseURL)
	}
	if u.TimeoutSeconds <= 0 {
		return fmt.Errorf("upbit.timeout_seconds must be > 0")
	}
	if u.RequestsPerSecond <= 0 {
		return fmt.Errorf("upbit.requests_per_second must be > 0")
	}
	if u.BreakerThreshold <= 0 || u.BreakerTimeoutSeconds <= 0 {
		return fmt.Errorf("upbit.breaker_threshold and upbit.breaker_timeout_seconds must be > 0")
	}
	return nil
}

func (m *MarketConfig) validate() error {
	if !strings.Contains(m.Code, "-") {
		return fmt.Errorf("market.code must look like KRW-BTC, got %q", m.Code)
	}
	if _, ok := scheduler.ParseCandleUnit(m.CandleUnit); !ok {
		return fmt.Errorf("market.candle_unit %q is not an Upbit minute unit", m.CandleUnit)
	}
	return nil
}

func (s *SimulationConfig) validate() error {
	if s.Count <= 0 {
		return fmt.Errorf("simulation.count must be > 0")
	}
	if _, ok := scheduler.SecondsToDuration(s.IntervalSeconds); !ok {
		return fmt.Errorf("simulation.interval_seconds must be > 0")
	}
	if s.Budget <= 0 {
		return fmt.Errorf("simulation.budget must be > 0")
	}
	if err := validateStrategy("simulation.strategy", s.Strategy); err != nil {
		return err
	}
	if _, err := s.EndTime(); err != nil {
		return fmt.Errorf("simulation.end: %w", err)
	}
	return nil
}

func (l *LiveConfig) validate() error {
	if _, ok := scheduler.SecondsToDuration(l.IntervalSeconds); !ok {
		return fmt.Errorf("live.interval_seconds must be > 0")
	}
	if l.Budget <= 0 {
		return fmt.Errorf("live.budget must be > 0")
	}
	if l.FillTimeoutSeconds <= 0 {
		return fmt.Errorf("live.fill_timeout_seconds must be > 0")
	}
	if l.FeeRate < 0 || l.FeeRate >= 0.1 {
		return fmt.Errorf("live.fee_rate must be in [0, 0.1)")
	}
	return validateStrategy("live.strategy", l.Strategy)
}

func (o *OperatorConfig) validate() error {
	if o.HistorySize <= 0 {
		return fmt.Errorf("operator.history_size must be > 0")
	}
	if o.MaxRetries < 0 || o.MaxRetries > 10 {
		return fmt.Errorf("operator.max_retries must be in [0, 10]")
	}
	if o.RetryBaseMS <= 0 || o.RetryMaxMS < o.RetryBaseMS {
		return fmt.Errorf("operator.retry_base_ms must be > 0 and <= retry_max_ms")
	}
	return nil
}

func validateStrategy(key string, index int) error {
	if index < 0 || index >= strategy.Count() {
		return fmt.Errorf("%s must be in [0, %d), got %d", key, strategy.Count(), index)
	}
	return nil
}

// ValidateLive checks what live trading needs beyond the file itself.
func (c *Config) ValidateLive() error {
	if !c.Upbit.HasCredentials() {
		return fmt.Errorf("live mode requires upbit.access_key and upbit.secret_key (or SMTM_UPBIT_ACCESS_KEY / SMTM_UPBIT_SECRET_KEY)")
	}
	return nil
}
