package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"graphpool/internal/graphdb"
	"graphpool/internal/platform/logger"
	"graphpool/internal/platform/pool"
)

// Backend is the part of graphdb.Container the API needs.
type Backend interface {
	Exec(ctx context.Context, query string, params map[string]any) (*pool.Result, error)
	ExecTx(ctx context.Context, statements []graphdb.Statement) ([]*pool.Result, error)
	Health(ctx context.Context) error
	Stats() pool.Stats
}

// EventTotals is implemented by the stats recorders.
type EventTotals interface {
	Totals(ctx context.Context) (map[string]int64, error)
}

var _ Backend = (*graphdb.Container)(nil)

// Options configures the admin server.
type Options struct {
	Addr string
	// Env "dev" enables gin debug mode
	Env string
	// RequestTimeout bounds every handler's context (0 = no limit)
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	RateLimit       RateLimitOptions
	// Tokens enables bearer auth for everything except /healthz
	Tokens          []string
	Events          EventTotals
	Logger          *slog.Logger
}

// Server serves the admin API.
type Server struct {
	backend Backend
	opts    Options
	log     *slog.Logger
	limits  *LimiterStore
	router  *gin.Engine
}

// New builds the router. The server is started with Run.
func New(backend Backend, opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	if opts.RateLimit.RPS <= 0 {
		opts.RateLimit.RPS = 20
	}
	if opts.RateLimit.Burst <= 0 {
		opts.RateLimit.Burst = 40
	}

	if opts.Env == "dev" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		backend: backend,
		opts:    opts,
		log:     log.With("component", "httpapi"),
		limits:  NewLimiterStore(opts.RateLimit.RPS, opts.RateLimit.Burst, 0),
	}

	r := gin.New()
	r.Use(
		gin.Recovery(),
		s.requestLogger(),
		RateLimit(s.limits, opts.RateLimit),
		NewACL(opts.Tokens).Middleware("/healthz"),
	)
	if opts.RequestTimeout > 0 {
		r.Use(requestTimeout(opts.RequestTimeout))
	}
	s.register(r)
	s.router = r
	return s
}

// Handler returns the underlying http.Handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) register(r *gin.Engine) {
	r.GET("/healthz", s.handleHealth)
	r.GET("/stats", s.handleStats)
	r.POST("/query", s.handleQuery)
	r.POST("/tx", s.handleTx)
}

// Run listens on Addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.limits.StartJanitor(ctx, 2*time.Minute)

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("admin api listening", "addr", s.opts.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("admin api: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("admin api shutdown: %w", err)
	}
	s.log.Info("admin api stopped")
	return nil
}

// HealthResponse is returned by GET /healthz.
type HealthResponse struct {
	Status string     `json:"status"`
	State  pool.State `json:"state"`
}

func (s *Server) handleHealth(c *gin.Context) {
	if err := s.backend.Health(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, HealthResponse{Status: "ok", State: s.backend.Stats().State})
}

// StatsResponse is returned by GET /stats.
type StatsResponse struct {
	Pool        pool.Stats       `json:"pool"`
	Healthy     bool             `json:"healthy"`
	Utilization float64          `json:"utilization"`
	Events      map[string]int64 `json:"events,omitempty"`
}

func (s *Server) handleStats(c *gin.Context) {
	stats := s.backend.Stats()
	resp := StatsResponse{
		Pool:        stats,
		Healthy:     pool.IsHealthy(stats),
		Utilization: stats.Utilization(),
	}
	if s.opts.Events != nil {
		totals, err := s.opts.Events.Totals(c.Request.Context())
		if err != nil {
			s.log.Warn("event totals unavailable", logger.Err(err))
		} else {
			resp.Events = totals
		}
	}
	c.JSON(http.StatusOK, resp)
}

// QueryResponse is returned by POST /query.
type QueryResponse struct {
	Result *pool.Result `json:"result"`
}

func (s *Server) handleQuery(c *gin.Context) {
	var req graphdb.Statement
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	res, err := s.backend.Exec(c.Request.Context(), req.Query, req.Params)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, QueryResponse{Result: res})
}

// TxRequest is the body of POST /tx.
type TxRequest struct {
	Statements []graphdb.Statement `json:"statements" binding:"required,min=1,dive"`
}

// TxResponse is returned by POST /tx.
type TxResponse struct {
	Results []*pool.Result `json:"results"`
}

func (s *Server) handleTx(c *gin.Context) {
	var req TxRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	results, err := s.backend.ExecTx(c.Request.Context(), req.Statements)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, TxResponse{Results: results})
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		attrs := []any{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"client", c.ClientIP(),
		}
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			s.log.Error("request failed", append(attrs, "error", c.Errors.String())...)
		case len(c.Errors) > 0:
			s.log.Warn("request rejected", append(attrs, "error", c.Errors.String())...)
		default:
			s.log.Debug("request", attrs...)
		}
	}
}

func requestTimeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
