package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"smtm/internal/analyzer"
	"smtm/internal/config"
	"smtm/internal/console"
	"smtm/internal/dataprovider"
	"smtm/internal/logger"
	"smtm/internal/metrics"
	"smtm/internal/operator"
	"smtm/internal/store/candlecache"
	"smtm/internal/store/resultstore"
	"smtm/internal/trader"
	queryhttp "smtm/internal/transport/http/queryhttp"
	"smtm/internal/upbit"
)

type Mode string

const (
	ModeConsole  Mode = "console"
	ModeSimulate Mode = "simulate"
	ModeLive     Mode = "live"
)

func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ModeConsole:
		return ModeConsole, nil
	case ModeSimulate, "sim":
		return ModeSimulate, nil
	case ModeLive:
		return ModeLive, nil
	default:
		return "", fmt.Errorf("unknown mode %q (want console, simulate or live)", raw)
	}
}

const finalScoreWait = 5 * time.Second

type Option func(*App)

// WithIO sets the console input and the summary/console output.
func WithIO(in io.Reader, out io.Writer) Option {
	return func(a *App) {
		if in != nil {
			a.in = in
		}
		if out != nil {
			a.out = out
		}
	}
}

// WithConfigPath enables hot reload of the log level from path.
func WithConfigPath(path string) Option {
	return func(a *App) { a.cfgPath = strings.TrimSpace(path) }
}

// WithSignals replaces the process signal channel, mainly for tests.
func WithSignals(ch <-chan os.Signal) Option {
	return func(a *App) { a.signals = ch }
}

// App wires configuration to the selected mode and its supporting services.
type App struct {
	cfg     *config.Config
	mode    Mode
	cfgPath string
	in      io.Reader
	out     io.Writer
	signals <-chan os.Signal
	log     *logger.Logger

	client   *upbit.Client
	cache    *candlecache.Store
	results  *resultstore.Store
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	builder  *Builder
	http     *queryhttp.Server

	stopping atomic.Bool

	mu        sync.Mutex
	current   *operator.Operator
	lastRunID string
}

func New(cfg *config.Config, mode Mode, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	a := &App{
		cfg:  cfg,
		mode: mode,
		in:   os.Stdin,
		out:  os.Stdout,
		log:  logger.Named("app"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	if err := a.build(); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build() error {
	uc := a.cfg.Upbit
	a.client = upbit.NewClient(upbit.Config{
		BaseURL:           uc.BaseURL,
		AccessKey:         uc.AccessKey,
		SecretKey:         uc.SecretKey,
		Timeout:           uc.Timeout(),
		RequestsPerSecond: uc.RequestsPerSecond,
		BreakerThreshold:  uc.BreakerThreshold,
		BreakerTimeout:    uc.BreakerTimeout(),
	})

	var candles dataprovider.CandleSource = dataprovider.NewUpbitSource(a.client)
	if path := a.cfg.Simulation.CachePath; path != "" && a.mode != ModeLive {
		store, err := candlecache.Open(path)
		if err != nil {
			return fmt.Errorf("open candle cache: %w", err)
		}
		a.cache = store
		candles = candlecache.NewCachedSource(candles, store)
	}
	if path := a.cfg.Store.ResultsPath; path != "" {
		store, err := resultstore.Open(path)
		if err != nil {
			return fmt.Errorf("open result store: %w", err)
		}
		a.results = store
	}

	a.registry = prometheus.NewRegistry()
	a.metrics = metrics.New(a.registry)
	a.builder = NewBuilder(a.cfg, a.client, candles, a.metrics)
	a.builder.onBuild = a.setCurrent

	if addr := a.cfg.App.HTTPAddr; addr != "" {
		var runs queryhttp.RunStore
		if a.results != nil {
			runs = a.results
		}
		srv, err := queryhttp.NewServer(queryhttp.Config{
			Addr:     addr,
			Operator: currentOperator{a},
			Runs:     runs,
			Metrics:  metrics.Handler(a.registry),
		})
		if err != nil {
			return err
		}
		a.http = srv
	}
	return nil
}

// Run blocks until the selected mode finishes or ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	newStartupSummary(a.cfg, a.mode).Print(a.out)

	group, gctx := errgroup.WithContext(ctx)
	runCtx, cancel := context.WithCancel(gctx)
	defer cancel()

	group.Go(func() error {
		a.watchSignals(runCtx)
		return nil
	})
	if a.http != nil {
		group.Go(func() error {
			if err := a.http.Start(runCtx); err != nil {
				return fmt.Errorf("query http server error: %w", err)
			}
			return nil
		})
	}
	if a.cfgPath != "" {
		group.Go(func() error {
			return config.Watch(runCtx, a.cfgPath, func(next *config.Config) {
				logger.SetLevel(next.App.LogLevel)
				a.log.Infof("log level now %s", logger.Level())
			})
		})
	}
	group.Go(func() error {
		defer cancel()
		return a.runMode(runCtx)
	})
	return group.Wait()
}

func (a *App) runMode(ctx context.Context) error {
	switch a.mode {
	case ModeConsole:
		c := console.New(a.in, a.out, consoleBuilder{a.builder}, SimulationSettings(a.cfg))
		return c.Run(ctx)
	case ModeSimulate:
		op, err := a.builder.Simulation(ctx, SimulationSettings(a.cfg))
		if err != nil {
			return fmt.Errorf("simulation: %w", err)
		}
		return a.runOnce(ctx, op, a.cfg.Simulation.Budget)
	case ModeLive:
		op, err := a.builder.Live(ctx)
		if err != nil {
			return fmt.Errorf("live: %w", err)
		}
		return a.runOnce(ctx, op, a.cfg.Live.Budget)
	default:
		return fmt.Errorf("unknown mode %q", a.mode)
	}
}

func (a *App) runOnce(ctx context.Context, op *operator.Operator, budget int64) error {
	if a.stopping.Load() {
		op.Stop()
		a.log.Infof("stop requested before start, nothing to run")
		return nil
	}
	started := time.Now().UTC()
	if !op.Start() {
		if a.stopping.Load() {
			return nil
		}
		return fmt.Errorf("%s: operator did not start (state %s)", a.mode, op.State())
	}
	select {
	case <-op.Done():
	case <-ctx.Done():
		op.Stop()
		<-op.Done()
	}
	return a.finishRun(context.WithoutCancel(ctx), op, budget, started)
}

func (a *App) finishRun(ctx context.Context, op *operator.Operator, budget int64, started time.Time) error {
	score := finalScore(op)
	results := op.GetTradingResults()
	a.log.Infof("%s run finished: ticks=%d filled=%d skipped=%d equity=%s return=%.4f%%",
		a.mode, op.Ticks(), score.Filled, score.Skipped, score.Equity.StringFixed(0), score.ReturnPct)

	if a.results != nil {
		id, err := a.results.SaveRun(ctx, resultstore.RunRecord{
			Mode:       string(a.mode),
			Market:     a.cfg.Market.Code,
			Strategy:   op.StrategyName(),
			Budget:     budget,
			Ticks:      op.Ticks(),
			Score:      score,
			StartedAt:  started,
			FinishedAt: time.Now().UTC(),
		}, results)
		if err != nil {
			return fmt.Errorf("save run: %w", err)
		}
		a.mu.Lock()
		a.lastRunID = id
		a.mu.Unlock()
		a.log.Infof("run saved: id=%s results=%d", id, len(results))
	}
	if path := a.cfg.Store.ChartPath; path != "" {
		title := fmt.Sprintf("%s %s %s", a.cfg.Market.Code, op.StrategyName(), a.mode)
		if err := writeChart(path, title, budget, results); err != nil {
			return fmt.Errorf("write chart: %w", err)
		}
		a.log.Infof("equity chart written to %s", path)
	}
	return nil
}

func finalScore(op *operator.Operator) analyzer.Score {
	ch := make(chan analyzer.Score, 1)
	op.GetScore(func(s analyzer.Score) { ch <- s })
	select {
	case s := <-ch:
		return s
	case <-time.After(finalScoreWait):
		return op.LastScore()
	}
}

func writeChart(path, title string, budget int64, results []trader.TradeResult) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := analyzer.RenderEquityChart(f, title, budget, results); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (a *App) watchSignals(ctx context.Context) {
	ch := a.signals
	if ch == nil {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
		ch = sigCh
	}
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-ch:
			a.log.Infof("received %s, stopping", sig)
			a.Stop()
		}
	}
}

// Stop marks the app as stopping and stops the current operator. The
// console keeps reading commands; other modes finish once the operator has
// terminated.
func (a *App) Stop() {
	a.stopping.Store(true)
	if op := a.Current(); op != nil {
		op.Stop()
	}
}

func (a *App) setCurrent(op *operator.Operator) {
	a.mu.Lock()
	a.current = op
	a.mu.Unlock()
}

func (a *App) Current() *operator.Operator {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// LastRunID is the id of the most recently saved run.
func (a *App) LastRunID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastRunID
}

// Results exposes the result store; nil when persistence is disabled.
func (a *App) Results() *resultstore.Store { return a.results }

func (a *App) Close() error {
	var firstErr error
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			firstErr = err
		}
	}
	if a.results != nil {
		if err := a.results.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
