// Package resultstore persists finished runs and their trading results.
package resultstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"smtm/internal/analyzer"
	"smtm/internal/strategy"
	"smtm/internal/trader"
)

var ErrRunNotFound = errors.New("run not found")

// RunRecord summarizes one operator run.
type RunRecord struct {
	ID         string         `json:"id"`
	Mode       string         `json:"mode"`
	Market     string         `json:"market"`
	Strategy   string         `json:"strategy"`
	Budget     int64          `json:"budget"`
	Ticks      int            `json:"ticks"`
	Score      analyzer.Score `json:"score"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}

type runModel struct {
	ID         string         `gorm:"column:id;primaryKey"`
	Mode       string         `gorm:"column:mode;index"`
	Market     string         `gorm:"column:market"`
	Strategy   string         `gorm:"column:strategy"`
	Budget     int64          `gorm:"column:budget"`
	Ticks      int            `gorm:"column:ticks"`
	ReturnPct  float64        `gorm:"column:return_pct"`
	ScoreJSON  datatypes.JSON `gorm:"column:score_json;type:TEXT"`
	StartedAt  time.Time      `gorm:"column:started_at"`
	FinishedAt time.Time      `gorm:"column:finished_at;index"`
	CreatedAt  time.Time      `gorm:"column:created_at"`
}

func (runModel) TableName() string { return "runs" }

type resultModel struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	RunID     string    `gorm:"column:run_id;index:idx_run_seq,priority:1"`
	Seq       int       `gorm:"column:seq;index:idx_run_seq,priority:2"`
	Tick      int       `gorm:"column:tick"`
	Market    string    `gorm:"column:market"`
	Side      string    `gorm:"column:side"`
	Status    string    `gorm:"column:status"`
	Reason    string    `gorm:"column:reason"`
	Price     string    `gorm:"column:price"`
	Amount    string    `gorm:"column:amount"`
	Funds     int64     `gorm:"column:funds"`
	Fee       string    `gorm:"column:fee"`
	Balance   int64     `gorm:"column:balance"`
	Holdings  string    `gorm:"column:holdings"`
	OrderID   string    `gorm:"column:order_id"`
	Timestamp time.Time `gorm:"column:ts"`
}

func (resultModel) TableName() string { return "trade_results" }

type Store struct {
	db *gorm.DB
}

func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("result store: path is required")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000&_journal_mode=WAL"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&runModel{}, &resultModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveRun stores rec and its results in one transaction and returns the run id.
func (s *Store) SaveRun(ctx context.Context, rec RunRecord, results []trader.TradeResult) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	scoreJSON, err := json.Marshal(rec.Score)
	if err != nil {
		return "", err
	}
	run := runModel{
		ID:         rec.ID,
		Mode:       rec.Mode,
		Market:     rec.Market,
		Strategy:   rec.Strategy,
		Budget:     rec.Budget,
		Ticks:      rec.Ticks,
		ReturnPct:  rec.Score.ReturnPct,
		ScoreJSON:  datatypes.JSON(scoreJSON),
		StartedAt:  rec.StartedAt.UTC(),
		FinishedAt: rec.FinishedAt.UTC(),
	}
	rows := make([]resultModel, 0, len(results))
	for i, r := range results {
		rows = append(rows, resultModel{
			RunID:     rec.ID,
			Seq:       i,
			Tick:      r.Tick,
			Market:    r.Market,
			Side:      string(r.Side),
			Status:    string(r.Status),
			Reason:    r.Reason,
			Price:     r.Price.String(),
			Amount:    r.Amount.String(),
			Funds:     r.Funds,
			Fee:       r.Fee.String(),
			Balance:   r.Balance,
			Holdings:  r.Holdings.String(),
			OrderID:   r.OrderID,
			Timestamp: r.Timestamp.UTC(),
		})
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&run).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.CreateInBatches(&rows, 200).Error
	})
	if err != nil {
		return "", fmt.Errorf("save run %s: %w", rec.ID, err)
	}
	return rec.ID, nil
}

// ListRuns returns the most recently finished runs first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var models []runModel
	if err := s.db.WithContext(ctx).Order("finished_at DESC, created_at DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]RunRecord, 0, len(models))
	for _, m := range models {
		out = append(out, m.record())
	}
	return out, nil
}

func (s *Store) Run(ctx context.Context, id string) (RunRecord, error) {
	var m runModel
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return RunRecord{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return RunRecord{}, err
	}
	return m.record(), nil
}

// RunResults returns the results of run id in recorded order.
func (s *Store) RunResults(ctx context.Context, id string) ([]trader.TradeResult, error) {
	var rows []resultModel
	if err := s.db.WithContext(ctx).Where("run_id = ?", id).Order("seq ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]trader.TradeResult, 0, len(rows))
	for _, r := range rows {
		out = append(out, trader.TradeResult{
			Tick:      r.Tick,
			Market:    r.Market,
			Side:      strategy.Side(r.Side),
			Status:    trader.Status(r.Status),
			Reason:    r.Reason,
			Price:     parseDecimal(r.Price),
			Amount:    parseDecimal(r.Amount),
			Funds:     r.Funds,
			Fee:       parseDecimal(r.Fee),
			Balance:   r.Balance,
			Holdings:  parseDecimal(r.Holdings),
			OrderID:   r.OrderID,
			Timestamp: r.Timestamp.UTC(),
		})
	}
	return out, nil
}

func (m runModel) record() RunRecord {
	rec := RunRecord{
		ID:         m.ID,
		Mode:       m.Mode,
		Market:     m.Market,
		Strategy:   m.Strategy,
		Budget:     m.Budget,
		Ticks:      m.Ticks,
		StartedAt:  m.StartedAt.UTC(),
		FinishedAt: m.FinishedAt.UTC(),
	}
	if len(m.ScoreJSON) > 0 {
		_ = json.Unmarshal(m.ScoreJSON, &rec.Score)
	}
	return rec
}

func parseDecimal(raw string) decimal.Decimal {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	return d
}
