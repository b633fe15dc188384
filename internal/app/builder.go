package app

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"smtm/internal/config"
	"smtm/internal/console"
	"smtm/internal/dataprovider"
	"smtm/internal/operator"
	"smtm/internal/pkg/backoff"
	"smtm/internal/strategy"
	"smtm/internal/trader"
	"smtm/internal/upbit"
)

// Builder assembles initialized operators from configuration. Every call
// returns a fresh operator; operators are single-use.
type Builder struct {
	cfg      *config.Config
	client   *upbit.Client
	candles  dataprovider.CandleSource
	observer operator.Observer

	// onBuild is told about every operator handed out so signals and the
	// query API can reach the current one.
	onBuild func(*operator.Operator)
}

func NewBuilder(cfg *config.Config, client *upbit.Client, candles dataprovider.CandleSource, obs operator.Observer) *Builder {
	if candles == nil && client != nil {
		candles = dataprovider.NewUpbitSource(client)
	}
	return &Builder{cfg: cfg, client: client, candles: candles, observer: obs}
}

// SimulationSettings seeds the console from the simulation section.
func SimulationSettings(cfg *config.Config) console.Settings {
	end, _ := cfg.Simulation.EndTime()
	return console.Settings{
		Market:   cfg.Market.Code,
		End:      end,
		Count:    cfg.Simulation.Count,
		Interval: cfg.Simulation.IntervalSeconds,
		Budget:   cfg.Simulation.Budget,
		Strategy: cfg.Simulation.Strategy,
	}
}

func (b *Builder) options(ctx context.Context) []operator.Option {
	oc := b.cfg.Operator
	opts := []operator.Option{
		operator.WithContext(ctx),
		operator.WithHistorySize(oc.HistorySize),
		operator.WithRetry(backoff.Policy{
			Retries: oc.MaxRetries,
			Base:    time.Duration(oc.RetryBaseMS) * time.Millisecond,
			Max:     time.Duration(oc.RetryMaxMS) * time.Millisecond,
		}),
	}
	if b.observer != nil {
		opts = append(opts, operator.WithObserver(b.observer))
	}
	return opts
}

// Simulation fetches the candle window and returns an operator ready to start.
func (b *Builder) Simulation(ctx context.Context, s console.Settings) (*operator.Operator, error) {
	if b.candles == nil {
		return nil, fmt.Errorf("simulation: no candle source")
	}
	mkt := s.Market
	if mkt == "" {
		mkt = b.cfg.Market.Code
	}
	dp := dataprovider.NewSimulation(b.candles, mkt, b.cfg.Market.UnitMinutes())
	if err := dp.InitializeSimulation(ctx, s.End, s.Count); err != nil {
		return nil, err
	}
	tr := trader.NewSimulation(mkt, s.Budget)
	return b.assemble(ctx, dp, tr, s.Strategy, s.Interval)
}

// Live returns an operator trading the live budget through the Upbit client.
func (b *Builder) Live(ctx context.Context) (*operator.Operator, error) {
	if err := b.cfg.ValidateLive(); err != nil {
		return nil, err
	}
	if b.client == nil {
		return nil, fmt.Errorf("live: upbit client is required")
	}
	lc := b.cfg.Live
	dp := dataprovider.NewLive(b.client, b.cfg.Market.Code)
	tr := trader.NewLive(b.client, trader.LiveConfig{
		Market:      b.cfg.Market.Code,
		Budget:      lc.Budget,
		FeeRate:     decimal.NewFromFloat(lc.FeeRate),
		FillTimeout: lc.FillTimeout(),
	})
	return b.assemble(ctx, dp, tr, lc.Strategy, lc.IntervalSeconds)
}

func (b *Builder) assemble(ctx context.Context, dp dataprovider.Provider, tr trader.Trader, strategyIndex int, interval float64) (*operator.Operator, error) {
	st, err := strategy.ByIndex(strategyIndex)
	if err != nil {
		return nil, err
	}
	op := operator.New(b.options(ctx)...)
	if err := op.Initialize(dp, tr, st); err != nil {
		return nil, err
	}
	if !op.SetInterval(interval) {
		return nil, fmt.Errorf("invalid interval %v", interval)
	}
	if b.onBuild != nil {
		b.onBuild(op)
	}
	return op, nil
}

// consoleBuilder adapts Builder to the console's interface.
type consoleBuilder struct{ b *Builder }

func (c consoleBuilder) Build(ctx context.Context, s console.Settings) (console.Operator, error) {
	op, err := c.b.Simulation(ctx, s)
	if err != nil {
		return nil, err
	}
	return op, nil
}
