package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/vaultpilot/internal/domain"
	"github.com/vadiminshakov/vaultpilot/internal/events"
)

const (
	heartbeatInterval = 30 * time.Second
	defaultCycleLimit = 20
	maxCycleLimit     = 500
)

// DefaultAprData dataset served when the configuration does not provide one.
func DefaultAprData() map[string]domain.AprEntry {
	return map[string]domain.AprEntry{
		"AAVE":     {DepositApr: 4.5, BorrowApr: 5.2},
		"BALANCER": {DepositApr: 3.8, BorrowApr: 4.9},
	}
}

type cycleReader interface {
	Latest(n int) ([]domain.CycleRecord, error)
}

// Server exposes the APR endpoint and the cycle report endpoints.
type Server struct {
	addr        string
	logger      *zap.Logger
	apr         map[string]domain.AprEntry
	cycles      cycleReader
	broadcaster *events.CycleBroadcaster
	router      *gin.Engine
}

// NewServer creates a new web server instance. cycles and broadcaster may be nil when
// only the APR endpoint is served.
func NewServer(logger *zap.Logger, addr string, apr map[string]domain.AprEntry, cycles cycleReader, broadcaster *events.CycleBroadcaster) *Server {
	if len(apr) == 0 {
		apr = DefaultAprData()
	}
	now := time.Now().UTC()
	data := make(map[string]domain.AprEntry, len(apr))
	for pool, entry := range apr {
		if entry.Timestamp.IsZero() {
			entry.Timestamp = now
		}
		data[strings.ToUpper(pool)] = entry
	}

	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		addr:        addr,
		logger:      logger,
		apr:         data,
		cycles:      cycles,
		broadcaster: broadcaster,
	}
	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	g := router.Group("/api")
	g.GET("/health", s.health)
	g.GET("/apr", s.listApr)
	g.GET("/apr/:pool", s.poolApr)
	g.GET("/cycles", s.listCycles)
	g.GET("/cycles/stream", s.streamCycles)
	return router
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("http server listening", zap.String("addr", s.addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "http server")
	}
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)))
	}
}

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message"`
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) listApr(c *gin.Context) {
	c.JSON(http.StatusOK, envelope{
		Success: true,
		Data:    s.apr,
		Message: "APR data retrieved successfully",
	})
}

func (s *Server) poolApr(c *gin.Context) {
	pool := c.Param("pool")
	entry, ok := s.apr[strings.ToUpper(pool)]
	if !ok {
		c.JSON(http.StatusNotFound, envelope{
			Error:   "Pool not found",
			Message: fmt.Sprintf("No APR data available for pool: %s", pool),
		})
		return
	}
	c.JSON(http.StatusOK, envelope{
		Success: true,
		Data:    entry,
		Message: fmt.Sprintf("APR data for %s retrieved successfully", pool),
	})
}

func (s *Server) listCycles(c *gin.Context) {
	if s.cycles == nil {
		c.JSON(http.StatusServiceUnavailable, envelope{Error: "Cycle store not available", Message: "cycle reports are not recorded"})
		return
	}

	limit := defaultCycleLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, envelope{Error: "Invalid limit", Message: fmt.Sprintf("limit must be a positive integer, got %q", raw)})
			return
		}
		limit = min(n, maxCycleLimit)
	}

	records, err := s.cycles.Latest(limit)
	if err != nil {
		s.logger.Error("failed to load cycle reports", zap.Error(err))
		c.JSON(http.StatusInternalServerError, envelope{Error: "Failed to load cycle reports", Message: err.Error()})
		return
	}

	results := make([]domain.CycleResult, 0, len(records))
	for _, record := range records {
		results = append(results, record.Result)
	}
	c.JSON(http.StatusOK, envelope{
		Success: true,
		Data:    results,
		Message: fmt.Sprintf("%d cycle reports retrieved", len(results)),
	})
}

func (s *Server) streamCycles(c *gin.Context) {
	if s.broadcaster == nil {
		c.String(http.StatusServiceUnavailable, "cycle stream not available")
		return
	}

	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	ch := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(ch)

	// send a comment heartbeat so proxies keep connection
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": ping\n\n")
			w.Flush()
		case result, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(result)
			if err != nil {
				s.logger.Error("cycle stream encode", zap.String("cycle_id", result.ID), zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "event: cycle\n")
			fmt.Fprintf(w, "data: %s\n\n", payload)
			w.Flush()
		}
	}
}
