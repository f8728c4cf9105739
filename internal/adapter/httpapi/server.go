package httpapi

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kzaleski/signalmap/internal/adapter/postgres"
	"github.com/kzaleski/signalmap/internal/config"
	"github.com/kzaleski/signalmap/internal/domain"
	"github.com/kzaleski/signalmap/internal/observability"
)

// Store is the database surface the API reads from and registers viewers in.
type Store interface {
	QueryTelemetry(ctx context.Context, q postgres.TelemetryQuery) ([]domain.TelemetrySample, error)
	QuerySpeedtests(ctx context.Context, q postgres.SpeedtestQuery) ([]domain.SpeedtestSample, error)
	ListStations(ctx context.Context, q postgres.StationQuery) ([]domain.Station, error)
	LookupStations(ctx context.Context, ks domain.KeySet) ([]domain.Station, error)
	RegisterViewer(ctx context.Context, shortCode string) error
	ViewerExists(ctx context.Context, shortCode string) (bool, error)
	Ping(ctx context.Context) error
}

// Enqueuer hands submitted measurements to the ingest queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, key string, payload []byte) error
}

// Server bundles the router and dependencies of the public API service.
type Server struct {
	cfg      *config.Config
	store    Store
	enqueuer Enqueuer
	issuer   *TokenIssuer
	pepper   []byte
	logger   *slog.Logger
	metrics  *observability.Metrics
	engine   *gin.Engine
}

// New constructs the server with routes and middleware. The signing key and
// registration pepper are mandatory: without them the submit path cannot
// authenticate anyone.
func New(cfg *config.Config, store Store, enqueuer Enqueuer, logger *slog.Logger, metrics *observability.Metrics) (*Server, error) {
	if cfg.JWTSigningKey == "" {
		return nil, errors.New("JWT_SIGNING_KEY is required")
	}
	pepper, err := hex.DecodeString(cfg.RegistrationPepperHex)
	if err != nil || len(pepper) == 0 {
		return nil, errors.New("REGISTRATION_PEPPER_HEX must be non-empty hex")
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())

	s := &Server{
		cfg:      cfg,
		store:    store,
		enqueuer: enqueuer,
		issuer:   NewTokenIssuer([]byte(cfg.JWTSigningKey)),
		pepper:   pepper,
		logger:   logger,
		metrics:  metrics,
		engine:   engine,
	}
	s.registerRoutes()
	return s, nil
}

// Engine exposes the underlying gin engine (for tests).
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.HTTPAddr,
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.engine.GET("/readyz", s.handleReadiness)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.engine.Group("/api")
	api.GET("/telemetry", s.handleTelemetry)
	api.GET("/telemetry-with-bts", s.handleTelemetryWithBts)
	api.GET("/bts", s.handleStations)
	api.GET("/speedtest", s.handleSpeedtests)
	api.POST("/register", s.handleRegister)
	api.GET("/token", s.handleToken)
	api.GET("/speedtest/ping", handleSpeedtestPing)

	authed := api.Group("", requireToken(s.issuer))
	authed.POST("/submit", s.handleSubmit)
	authed.POST("/speedtest", s.handleSubmitSpeedtest)
	authed.POST("/speedtest/upload", s.handleSpeedtestUpload)
}

func (s *Server) handleReadiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// requestContext bounds one handler's database work.
func requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), 10*time.Second)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
