package config

import (
	"fmt"
	"strings"
	"time"

	"smtm/internal/scheduler"
)

// Config is the full smtm configuration.
type Config struct {
	App        AppConfig        `toml:"app" yaml:"app"`
	Upbit      UpbitConfig      `toml:"upbit" yaml:"upbit"`
	Market     MarketConfig     `toml:"market" yaml:"market"`
	Simulation SimulationConfig `toml:"simulation" yaml:"simulation"`
	Live       LiveConfig       `toml:"live" yaml:"live"`
	Operator   OperatorConfig   `toml:"operator" yaml:"operator"`
	Store      StoreConfig      `toml:"store" yaml:"store"`
}

type AppConfig struct {
	Env      string `toml:"env" yaml:"env"`
	LogLevel string `toml:"log_level" yaml:"log_level"`
	LogPath  string `toml:"log_path" yaml:"log_path"`
	HTTPAddr string `toml:"http_addr" yaml:"http_addr"`
}

type UpbitConfig struct {
	BaseURL               string  `toml:"base_url" yaml:"base_url"`
	AccessKey             string  `toml:"access_key" yaml:"-"`
	SecretKey             string  `toml:"secret_key" yaml:"-"`
	TimeoutSeconds        int     `toml:"timeout_seconds" yaml:"timeout_seconds"`
	RequestsPerSecond     float64 `toml:"requests_per_second" yaml:"requests_per_second"`
	BreakerThreshold      int     `toml:"breaker_threshold" yaml:"breaker_threshold"`
	BreakerTimeoutSeconds int     `toml:"breaker_timeout_seconds" yaml:"breaker_timeout_seconds"`
}

func (u UpbitConfig) HasCredentials() bool {
	return strings.TrimSpace(u.AccessKey) != "" && strings.TrimSpace(u.SecretKey) != ""
}

func (u UpbitConfig) Timeout() time.Duration {
	return time.Duration(u.TimeoutSeconds) * time.Second
}

func (u UpbitConfig) BreakerTimeout() time.Duration {
	return time.Duration(u.BreakerTimeoutSeconds) * time.Second
}

type MarketConfig struct {
	Code       string `toml:"code" yaml:"code"`
	CandleUnit string `toml:"candle_unit" yaml:"candle_unit"`
}

// UnitMinutes returns the candle unit in minutes; Load has validated it.
func (m MarketConfig) UnitMinutes() int {
	u, _ := scheduler.ParseCandleUnit(m.CandleUnit)
	return u
}

type SimulationConfig struct {
	End             string  `toml:"end" yaml:"end"`
	Count           int     `toml:"count" yaml:"count"`
	IntervalSeconds float64 `toml:"interval_seconds" yaml:"interval_seconds"`
	Budget          int64   `toml:"budget" yaml:"budget"`
	Strategy        int     `toml:"strategy" yaml:"strategy"`
	CachePath       string  `toml:"cache_path" yaml:"cache_path"`
}

// EndTime parses End; an empty value means the most recent candles.
func (s SimulationConfig) EndTime() (time.Time, error) {
	return ParseEnd(s.End)
}

type LiveConfig struct {
	IntervalSeconds    float64 `toml:"interval_seconds" yaml:"interval_seconds"`
	Budget             int64   `toml:"budget" yaml:"budget"`
	Strategy           int     `toml:"strategy" yaml:"strategy"`
	FillTimeoutSeconds int     `toml:"fill_timeout_seconds" yaml:"fill_timeout_seconds"`
	FeeRate            float64 `toml:"fee_rate" yaml:"fee_rate"`
}

func (l LiveConfig) FillTimeout() time.Duration {
	return time.Duration(l.FillTimeoutSeconds) * time.Second
}

type OperatorConfig struct {
	HistorySize int `toml:"history_size" yaml:"history_size"`
	MaxRetries  int `toml:"max_retries" yaml:"max_retries"`
	RetryBaseMS int `toml:"retry_base_ms" yaml:"retry_base_ms"`
	RetryMaxMS  int `toml:"retry_max_ms" yaml:"retry_max_ms"`
}

type StoreConfig struct {
	ResultsPath string `toml:"results_path" yaml:"results_path"`
	ChartPath   string `toml:"chart_path" yaml:"chart_path"`
}

var endLayouts = []string{
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseEnd reads a UTC simulation end time in one of the accepted layouts.
func ParseEnd(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	for _, layout := range endLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid end time %q (want YYYY-MM-DDTHH:MM:SS)", raw)
}

// keySet tracks the config paths set explicitly by a file or the environment.
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
