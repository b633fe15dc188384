package dataprovider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"smtm/internal/logger"
	"smtm/internal/market"
)

// Simulation serves a candle window fetched once by InitializeSimulation.
type Simulation struct {
	source CandleSource
	market string
	unit   int
	log    *logger.Logger

	mu      sync.Mutex
	candles []market.Snapshot
	index   int
}

func NewSimulation(source CandleSource, mkt string, unit int) *Simulation {
	if unit <= 0 {
		unit = 1
	}
	return &Simulation{source: source, market: mkt, unit: unit, log: logger.Named("sim-data")}
}

// InitializeSimulation fetches count candles ending at end and resets the cursor.
func (s *Simulation) InitializeSimulation(ctx context.Context, end time.Time, count int) error {
	if s.source == nil {
		return fmt.Errorf("simulation provider: candle source is nil")
	}
	if count <= 0 {
		return fmt.Errorf("simulation provider: count must be positive, got %d", count)
	}
	candles, err := s.source.FetchCandles(ctx, CandleRequest{Market: s.market, Unit: s.unit, End: end, Count: count})
	if err != nil {
		return fmt.Errorf("simulation provider: fetch candles: %w", err)
	}
	s.mu.Lock()
	s.candles = append([]market.Snapshot(nil), candles...)
	s.index = 0
	s.mu.Unlock()
	s.log.Infof("prepared %d candles market=%s unit=%dm end=%s", len(candles), s.market, s.unit, end.Format(time.RFC3339))
	return nil
}

func (s *Simulation) Next(ctx context.Context) (market.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return market.Snapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index >= len(s.candles) {
		return market.Snapshot{}, ErrExhausted
	}
	snap := s.candles[s.index]
	s.index++
	return snap, nil
}

// Remaining reports how many candles are left to replay.
func (s *Simulation) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.candles) - s.index
}
