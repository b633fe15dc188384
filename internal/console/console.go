// Package console runs the interactive simulator: a line-oriented command
// loop that configures, starts and queries simulation operators.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"smtm/internal/analyzer"
	"smtm/internal/config"
	"smtm/internal/logger"
	"smtm/internal/operator"
	"smtm/internal/scheduler"
	"smtm/internal/strategy"
	"smtm/internal/trader"
)

const scoreWait = 5 * time.Second

// Settings are the simulation parameters edited from the console.
type Settings struct {
	Market   string    `yaml:"market"`
	End      time.Time `yaml:"end"`
	Count    int       `yaml:"count"`
	Interval float64   `yaml:"interval_seconds"`
	Budget   int64     `yaml:"budget"`
	Strategy int       `yaml:"strategy"`
}

// Operator is the console's view of a built operator.
type Operator interface {
	Start() bool
	Stop()
	State() operator.State
	Done() <-chan struct{}
	GetScore(cb func(analyzer.Score))
	GetTradingResults() []trader.TradeResult
}

// Builder creates a fresh, initialized operator for the given settings.
type Builder interface {
	Build(ctx context.Context, s Settings) (Operator, error)
}

type Console struct {
	in       *bufio.Scanner
	out      io.Writer
	builder  Builder
	settings Settings
	log      *logger.Logger

	mu sync.Mutex
	op Operator
}

func New(in io.Reader, out io.Writer, b Builder, s Settings) *Console {
	return &Console{
		in:       bufio.NewScanner(in),
		out:      out,
		builder:  b,
		settings: s,
		log:      logger.Named("console"),
	}
}

func (c *Console) Settings() Settings { return c.settings }

// Run reads commands until terminate, EOF or ctx cancellation.
func (c *Console) Run(ctx context.Context) error {
	c.printHelp()
	for {
		if ctx.Err() != nil {
			c.Stop()
			return nil
		}
		fmt.Fprint(c.out, "input command (h:help): ")
		line, ok := c.readLine()
		if !ok {
			c.Stop()
			return c.in.Err()
		}
		if !c.onCommand(ctx, line) {
			return nil
		}
	}
}

// Stop stops the current operator, if any. Safe to call from a signal handler.
func (c *Console) Stop() {
	c.mu.Lock()
	op := c.op
	c.mu.Unlock()
	if op != nil {
		op.Stop()
	}
}

func (c *Console) readLine() (string, bool) {
	if !c.in.Scan() {
		return "", false
	}
	return strings.TrimSpace(c.in.Text()), true
}

// onCommand reports false when the console should exit.
func (c *Console) onCommand(ctx context.Context, input string) bool {
	if input == "" {
		return true
	}
	cmd, ok := lookup(strings.ToLower(input))
	if !ok {
		fmt.Fprintln(c.out, "invalid command")
		return true
	}
	value := ""
	if cmd.needValue {
		guide := cmd.valueGuide
		if cmd.kind == cmdStrategy {
			guide = strategyGuide()
		}
		fmt.Fprint(c.out, guide, " ")
		line, ok := c.readLine()
		if !ok {
			c.Stop()
			return false
		}
		value = line
	}
	return c.execute(ctx, cmd.kind, value)
}

func (c *Console) execute(ctx context.Context, kind commandKind, value string) bool {
	switch kind {
	case cmdHelp:
		c.printHelp()
	case cmdInitialize:
		c.initialize(ctx)
	case cmdStart:
		c.start()
	case cmdStop:
		c.Stop()
	case cmdTerminate:
		c.Stop()
		fmt.Fprintln(c.out, "terminated")
		return false
	case cmdRun:
		c.run(ctx)
	case cmdQuery:
		c.query(value)
	case cmdEnd:
		c.setEnd(value)
	case cmdCount:
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			c.settings.Count = n
		} else {
			c.ignored("count", value)
		}
	case cmdInterval:
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			if _, ok := scheduler.SecondsToDuration(v); ok {
				c.settings.Interval = v
				return true
			}
		}
		c.ignored("interval", value)
	case cmdBudget:
		if n, err := strconv.ParseInt(value, 10, 64); err == nil && n > 0 {
			c.settings.Budget = n
		} else {
			c.ignored("budget", value)
		}
	case cmdStrategy:
		if n, err := strconv.Atoi(value); err == nil && n >= 0 && n < strategy.Count() {
			c.settings.Strategy = n
		} else {
			c.ignored("strategy", value)
		}
	default:
		fmt.Fprintln(c.out, "invalid command")
	}
	return true
}

func (c *Console) ignored(field, value string) {
	fmt.Fprintf(c.out, "invalid %s %q, keeping previous value\n", field, value)
}

func (c *Console) setEnd(value string) {
	end, err := config.ParseEnd(value)
	if err != nil {
		c.ignored("end", value)
		return
	}
	c.settings.End = end
}

func (c *Console) initialize(ctx context.Context) bool {
	c.mu.Lock()
	prev := c.op
	c.mu.Unlock()
	if prev != nil && prev.State() == operator.StateRunning {
		fmt.Fprintln(c.out, "simulation is running, stop it first")
		return false
	}
	op, err := c.builder.Build(ctx, c.settings)
	if err != nil {
		c.log.Warnf("initialize failed: %v", err)
		fmt.Fprintf(c.out, "initialize failed: %v\n", err)
		return false
	}
	c.mu.Lock()
	c.op = op
	c.mu.Unlock()
	fmt.Fprintln(c.out, "initialized")
	return true
}

func (c *Console) current() Operator {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.op
}

func (c *Console) start() bool {
	op := c.current()
	if op == nil {
		fmt.Fprintln(c.out, "not initialized, run initialize first")
		return false
	}
	if !op.Start() {
		fmt.Fprintf(c.out, "cannot start from state %s\n", op.State())
		return false
	}
	fmt.Fprintln(c.out, "started")
	return true
}

// run initializes, starts and waits for the operator to terminate, then
// prints the final score.
func (c *Console) run(ctx context.Context) {
	if !c.initialize(ctx) || !c.start() {
		return
	}
	op := c.current()
	select {
	case <-op.Done():
	case <-ctx.Done():
		op.Stop()
		<-op.Done()
	}
	c.printScore(op)
}

func (c *Console) query(target string) {
	op := c.current()
	switch strings.ToLower(target) {
	case "state":
		if op == nil {
			fmt.Fprintln(c.out, "not initialized")
			return
		}
		fmt.Fprintln(c.out, op.State())
	case "score":
		if op == nil {
			fmt.Fprintln(c.out, "not initialized")
			return
		}
		c.printScore(op)
	case "result", "results":
		if op == nil {
			fmt.Fprintln(c.out, "not initialized")
			return
		}
		c.printResults(op.GetTradingResults())
	case "config":
		raw, err := yaml.Marshal(c.settings)
		if err != nil {
			fmt.Fprintf(c.out, "config: %v\n", err)
			return
		}
		fmt.Fprint(c.out, string(raw))
	default:
		fmt.Fprintln(c.out, "invalid query target")
	}
}

func (c *Console) printScore(op Operator) {
	ch := make(chan analyzer.Score, 1)
	op.GetScore(func(s analyzer.Score) { ch <- s })
	select {
	case s := <-ch:
		fmt.Fprintf(c.out, "budget %d, equity %s, return %.4f%%, filled %d, skipped %d, mdd %.4f%%\n",
			s.InitialBalance, s.Equity.StringFixed(0), s.ReturnPct, s.Filled, s.Skipped, s.MaxDrawdownPct)
	case <-time.After(scoreWait):
		fmt.Fprintln(c.out, "score request timed out")
	}
}

func (c *Console) printResults(results []trader.TradeResult) {
	if len(results) == 0 {
		fmt.Fprintln(c.out, "no trading results")
		return
	}
	table := tablewriter.NewWriter(c.out)
	table.SetHeader([]string{"tick", "time", "side", "status", "price", "amount", "balance", "holdings", "reason"})
	table.SetAutoWrapText(false)
	for _, r := range results {
		table.Append([]string{
			strconv.Itoa(r.Tick),
			r.Timestamp.UTC().Format("2006-01-02T15:04:05"),
			string(r.Side),
			string(r.Status),
			r.Price.String(),
			r.Amount.String(),
			strconv.FormatInt(r.Balance, 10),
			r.Holdings.String(),
			r.Reason,
		})
	}
	table.Render()
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.out, "command list =================")
	for _, cmd := range commands {
		fmt.Fprintln(c.out, cmd.guide)
	}
}

func strategyGuide() string {
	var b strings.Builder
	b.WriteString("input strategy index (")
	for i, name := range strategy.Names() {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%d: %s", i, name)
	}
	b.WriteString(") :")
	return b.String()
}
