// Package queryhttp exposes a small read-mostly HTTP surface over a running
// operator: state, results, score, stop, persisted runs and /metrics.
package queryhttp

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"smtm/internal/analyzer"
	"smtm/internal/logger"
	"smtm/internal/operator"
	"smtm/internal/store/resultstore"
	"smtm/internal/trader"
)

const (
	defaultAddr         = ":8140"
	defaultScoreTimeout = 3 * time.Second
	defaultRunsLimit    = 20
)

// Operator is the part of *operator.Operator the API reads.
type Operator interface {
	State() operator.State
	Ticks() int
	TickLimit() int
	Interval() float64
	StrategyName() string
	GetTradingResults() []trader.TradeResult
	LastScore() analyzer.Score
	GetScore(cb func(analyzer.Score))
	Stop()
}

// RunStore is the part of *resultstore.Store the API reads.
type RunStore interface {
	ListRuns(ctx context.Context, limit int) ([]resultstore.RunRecord, error)
	Run(ctx context.Context, id string) (resultstore.RunRecord, error)
	RunResults(ctx context.Context, id string) ([]trader.TradeResult, error)
}

type Config struct {
	Addr         string
	Operator     Operator
	Runs         RunStore
	Metrics      http.Handler
	ScoreTimeout time.Duration
}

type Server struct {
	addr   string
	router *gin.Engine
	cfg    Config
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Operator == nil {
		return nil, errors.New("query http server requires an operator")
	}
	if cfg.Addr == "" {
		cfg.Addr = defaultAddr
	}
	if cfg.ScoreTimeout <= 0 {
		cfg.ScoreTimeout = defaultScoreTimeout
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	s := &Server{addr: cfg.Addr, router: router, cfg: cfg}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if s.cfg.Metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.cfg.Metrics))
	}
	api := s.router.Group("/api")
	api.GET("/state", s.handleState)
	api.GET("/results", s.handleResults)
	api.GET("/score", s.handleScore)
	api.POST("/stop", s.handleStop)
	api.GET("/runs", s.handleRuns)
	api.GET("/runs/:id", s.handleRun)
	api.GET("/runs/:id/results", s.handleRunResults)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.addr
}

// Start serves until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	srv := &http.Server{Addr: s.addr, Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Infof("query api listening on %s", s.addr)

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleState(c *gin.Context) {
	op := s.cfg.Operator
	c.JSON(http.StatusOK, gin.H{
		"state":      op.State().String(),
		"ticks":      op.Ticks(),
		"tick_limit": op.TickLimit(),
		"interval":   op.Interval(),
		"strategy":   op.StrategyName(),
	})
}

func (s *Server) handleResults(c *gin.Context) {
	results := s.cfg.Operator.GetTradingResults()
	c.JSON(http.StatusOK, gin.H{"count": len(results), "results": results})
}

// handleScore returns a freshly priced score unless ?cached=1 is passed or
// the operator does not answer within the timeout.
func (s *Server) handleScore(c *gin.Context) {
	if c.Query("cached") == "1" {
		c.JSON(http.StatusOK, gin.H{"cached": true, "score": s.cfg.Operator.LastScore()})
		return
	}
	ch := make(chan analyzer.Score, 1)
	s.cfg.Operator.GetScore(func(sc analyzer.Score) { ch <- sc })
	timer := time.NewTimer(s.cfg.ScoreTimeout)
	defer timer.Stop()
	select {
	case sc := <-ch:
		c.JSON(http.StatusOK, gin.H{"cached": false, "score": sc})
	case <-timer.C:
		c.JSON(http.StatusOK, gin.H{"cached": true, "score": s.cfg.Operator.LastScore()})
	case <-c.Request.Context().Done():
		c.Status(http.StatusRequestTimeout)
	}
}

func (s *Server) handleStop(c *gin.Context) {
	s.cfg.Operator.Stop()
	c.JSON(http.StatusAccepted, gin.H{"state": s.cfg.Operator.State().String()})
}

func (s *Server) handleRuns(c *gin.Context) {
	if s.cfg.Runs == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "result store disabled"})
		return
	}
	limit := defaultRunsLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	runs, err := s.cfg.Runs.ListRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) handleRun(c *gin.Context) {
	if s.cfg.Runs == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "result store disabled"})
		return
	}
	rec, err := s.cfg.Runs.Run(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleRunResults(c *gin.Context) {
	if s.cfg.Runs == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "result store disabled"})
		return
	}
	id := c.Param("id")
	if _, err := s.cfg.Runs.Run(c.Request.Context(), id); err != nil {
		writeStoreError(c, err)
		return
	}
	results, err := s.cfg.Runs.RunResults(c.Request.Context(), id)
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "count": len(results), "results": results})
}

func writeStoreError(c *gin.Context, err error) {
	if errors.Is(err, resultstore.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debugf("HTTP %s %s status=%d ip=%s dur=%s",
			c.Request.Method, c.Request.URL.Path, c.Writer.Status(), c.ClientIP(), time.Since(start))
	}
}
