package app

import (
	"fmt"
	"io"
	"strings"

	"smtm/internal/config"
	"smtm/internal/strategy"
)

// StartupSummary is the block printed before the selected mode starts.
type StartupSummary struct {
	Mode       Mode
	Market     string
	CandleUnit string
	Strategy   string
	Budget     int64
	Interval   float64
	Count      int
	End        string
	HTTPAddr   string
	CachePath  string
	Results    string
}

func newStartupSummary(cfg *config.Config, mode Mode) StartupSummary {
	s := StartupSummary{
		Mode:       mode,
		Market:     cfg.Market.Code,
		CandleUnit: cfg.Market.CandleUnit,
		HTTPAddr:   cfg.App.HTTPAddr,
		CachePath:  cfg.Simulation.CachePath,
		Results:    cfg.Store.ResultsPath,
	}
	index := cfg.Simulation.Strategy
	if mode == ModeLive {
		index = cfg.Live.Strategy
		s.Budget = cfg.Live.Budget
		s.Interval = cfg.Live.IntervalSeconds
	} else {
		s.Budget = cfg.Simulation.Budget
		s.Interval = cfg.Simulation.IntervalSeconds
		s.Count = cfg.Simulation.Count
		s.End = cfg.Simulation.End
	}
	if names := strategy.Names(); index >= 0 && index < len(names) {
		s.Strategy = fmt.Sprintf("%d (%s)", index, names[index])
	}
	return s
}

func (s StartupSummary) Print(w io.Writer) {
	fmt.Fprintln(w, strings.Repeat("=", 60))
	fmt.Fprintf(w, "%*s\n", 30+len("SMTM STARTUP SUMMARY")/2, "SMTM STARTUP SUMMARY")
	fmt.Fprintln(w, strings.Repeat("=", 60))
	fmt.Fprintf(w, "  mode:      %s\n", s.Mode)
	fmt.Fprintf(w, "  market:    %s (%s candles)\n", s.Market, s.CandleUnit)
	fmt.Fprintf(w, "  strategy:  %s\n", formatValue(s.Strategy))
	fmt.Fprintf(w, "  budget:    %d KRW\n", s.Budget)
	fmt.Fprintf(w, "  interval:  %gs\n", s.Interval)
	if s.Mode != ModeLive {
		fmt.Fprintf(w, "  window:    %d candles ending %s\n", s.Count, formatValue(s.End))
		fmt.Fprintf(w, "  cache:     %s\n", formatValue(s.CachePath))
	}
	fmt.Fprintf(w, "  results:   %s\n", formatValue(s.Results))
	fmt.Fprintf(w, "  query api: %s\n", formatValue(s.HTTPAddr))
	fmt.Fprintln(w, strings.Repeat("=", 60))
}

func formatValue(v string) string {
	if strings.TrimSpace(v) == "" {
		return "-"
	}
	return v
}
