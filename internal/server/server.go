// Package server is the authoritative HTTP server for rooms and entries.
// Devices replay their outbox against it and reconcile from its canonical
// room reads.
package server

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mmynk/kettle/internal/api"
	"github.com/mmynk/kettle/internal/auth"
	"github.com/mmynk/kettle/internal/metrics"
	"github.com/mmynk/kettle/internal/middleware"
	"github.com/mmynk/kettle/internal/storage"
)

// Server serves the ledger HTTP surface.
type Server struct {
	store    storage.Store
	jwt      *auth.JWTManager
	logger   *slog.Logger
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	origins  []string
	newCode  func() string
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger used by handlers.
func WithLogger(l *slog.Logger) Option { return func(s *Server) { s.logger = l } }

// WithMetrics records request metrics and serves g on /metrics.
func WithMetrics(m *metrics.Metrics, g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = g
	}
}

// WithCORSOrigins allows browser requests from the given origins.
func WithCORSOrigins(origins []string) Option { return func(s *Server) { s.origins = origins } }

// WithCodeGenerator replaces the random room code generator.
func WithCodeGenerator(gen func() string) Option { return func(s *Server) { s.newCode = gen } }

// New creates a Server with the given storage backend and token validator.
func New(store storage.Store, jwt *auth.JWTManager, opts ...Option) *Server {
	s := &Server{
		store:   store,
		jwt:     jwt,
		logger:  slog.Default(),
		newCode: newRoomCode,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the gin engine with every route registered.
func (s *Server) Handler() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	if len(s.origins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:  s.origins,
			AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", api.HeaderIdempotencyKey},
			ExposeHeaders: []string{"Content-Length"},
			MaxAge:        12 * time.Hour,
		}))
	}
	router.Use(middleware.RequestLogger(s.logger, s.metrics))

	router.GET(api.PathHealth, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	if s.gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	protected := router.Group("/")
	protected.Use(middleware.RequireAuth(s.jwt, s.store), middleware.Idempotency(s.store))
	{
		protected.POST(api.PathEntries, s.AddEntry)
		protected.DELETE(api.PathEntries+"/:id", s.DeleteEntry)

		protected.GET(api.PathRooms, s.ListRooms)
		protected.POST(api.PathRooms, s.CreateOrJoinRoom)
		protected.GET(api.PathRooms+"/:id", s.GetRoom)
		protected.PUT(api.PathRooms+"/:id", s.RenameRoom)
		protected.DELETE(api.PathRooms+"/:id/members", s.LeaveRoom)
	}
	return router
}

func fail(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, api.ErrorResponse{Message: message})
}

// internalError logs err and answers with a generic 500.
func (s *Server) internalError(c *gin.Context, op string, err error) {
	_ = c.Error(err)
	s.logger.Error(op+" failed", "error", err)
	fail(c, http.StatusInternalServerError, "An error occurred.")
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
