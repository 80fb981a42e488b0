// Package opsserver exposes the client's operational surface: liveness,
// connection state, and Prometheus metrics.
package opsserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/temporalos/chatkit/internal/logging"
	"github.com/temporalos/chatkit/internal/transport"
)

// StatusSource reports the current state of a named socket.
type StatusSource func() transport.Status

// Options configures the ops server.
type Options struct {
	Addr     string
	Logger   *logging.Logger
	Registry *prometheus.Registry

	// Sockets maps a display name to its status source, shown on /health.
	Sockets map[string]StatusSource
}

// Server is a small HTTP server for operational endpoints.
type Server struct {
	srv *http.Server
	log *logging.Logger
}

// New builds the ops server and its routes.
func New(opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = logging.NewNop()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestID())

	router.GET("/health", func(c *gin.Context) {
		sockets := make(map[string]string, len(opts.Sockets))
		healthy := true
		for name, status := range opts.Sockets {
			s := status()
			sockets[name] = string(s)
			if s != transport.StatusConnected {
				healthy = false
			}
		}
		code := http.StatusOK
		state := "healthy"
		if !healthy {
			code = http.StatusServiceUnavailable
			state = "degraded"
		}
		c.JSON(code, gin.H{
			"status":  state,
			"sockets": sockets,
		})
	})

	handler := promhttp.Handler()
	if opts.Registry != nil {
		handler = promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{})
	}
	router.GET("/metrics", gin.WrapH(handler))

	return &Server{
		srv: &http.Server{
			Addr:         opts.Addr,
			Handler:      router,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		log: log,
	}
}

// requestID tags every response so scrape and probe traffic can be
// correlated with log lines.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader("X-Request-ID")
		if rid == "" {
			rid = uuid.New().String()
		}
		c.Header("X-Request-ID", rid)
		c.Next()
	}
}

// Start serves in a background goroutine.
func (s *Server) Start() {
	go func() {
		s.log.Info("ops server listening", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("ops server failed", zap.Error(err))
		}
	}()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}
