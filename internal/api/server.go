// Package api exposes the engine over HTTP.
//
// Routes:
//
//	POST /v1/records                     submit values or ciphertext handles
//	GET  /v1/records/:id                 inspect a record
//	POST /v1/records/:id/reveal          request the raw reveal
//	POST /v1/records/:id/score           compute the encrypted score
//	GET  /v1/records/:id/score           read the revealed score
//	POST /v1/records/:id/score/reveal    request the score reveal
//	GET  /v1/requests/:id                resolve a decryption request
//	POST /v1/requests/:id/invalidate     retire a pending request
//	POST /v1/oracle/callback             deliver a signed decryption result
//	GET  /v1/oracle/jobs                 jobs waiting for an external oracle
//	GET  /metrics                        prometheus exposition
//	GET  /healthz                        liveness
//
// The caller's principal is read from the X-Sealgauge-Principal header and
// handed to the capability check.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/roach88/sealgauge/internal/engine"
	"github.com/roach88/sealgauge/internal/ir"
	"github.com/roach88/sealgauge/internal/metrics"
	"github.com/roach88/sealgauge/internal/oracle"
)

// PrincipalHeader carries the caller identity.
const PrincipalHeader = "X-Sealgauge-Principal"

// Outbox holds decryption jobs that have not been answered yet. A job is
// dropped once its callback is settled.
type Outbox interface {
	Pending() []oracle.Job
	Cancel(id ir.RequestID)
}

// Server is the HTTP front end of an Engine.
type Server struct {
	engine   *engine.Engine
	outbox   Outbox
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	limiter  *rate.Limiter
	router   *gin.Engine
}

// Option configures a Server.
type Option func(*Server)

// WithOutbox serves GET /v1/oracle/jobs from o.
func WithOutbox(o Outbox) Option {
	return func(s *Server) { s.outbox = o }
}

// WithMetrics instruments every route with m and serves g on /metrics.
func WithMetrics(m *metrics.Metrics, g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = g
	}
}

// WithRateLimit rejects requests beyond r per second (with burst) with 429.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(s *Server) { s.limiter = rate.NewLimiter(r, burst) }
}

// New builds the router for e.
func New(e *engine.Engine, opts ...Option) *Server {
	s := &Server{engine: e}
	for _, opt := range opts {
		opt(s)
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	if s.metrics != nil {
		r.Use(s.metrics.Middleware())
	}
	if s.limiter != nil {
		r.Use(rateLimit(s.limiter))
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if s.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	v1 := r.Group("/v1")
	{
		records := v1.Group("/records")
		records.POST("", s.submit)
		records.GET("/:id", s.inspect)
		records.POST("/:id/reveal", s.requestRawReveal)
		records.POST("/:id/score", s.computeScore)
		records.GET("/:id/score", s.readScore)
		records.POST("/:id/score/reveal", s.requestScoreReveal)

		requests := v1.Group("/requests")
		requests.GET("/:id", s.request)
		requests.POST("/:id/invalidate", s.invalidate)

		v1.POST("/oracle/callback", s.callback)
		v1.GET("/oracle/jobs", s.jobs)
	}

	s.router = r
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		slog.Info("http server stopping")
		return srv.Shutdown(shutdownCtx)
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"latency", time.Since(start),
			"principal", c.GetHeader(PrincipalHeader),
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "errors", c.Errors.String())
		}
		switch {
		case status >= 500:
			slog.Error("http request", attrs...)
		case status >= 400:
			slog.Warn("http request", attrs...)
		default:
			slog.Debug("http request", attrs...)
		}
	}
}

func rateLimit(l *rate.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errorBody{
				Code:    "RATE_LIMITED",
				Message: "too many requests",
			})
			return
		}
		c.Next()
	}
}
