package server

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/Chino66/Command-Tool-Develop/internal/api/http"
	"github.com/Chino66/Command-Tool-Develop/internal/api/middleware"
	"github.com/Chino66/Command-Tool-Develop/internal/api/ws"
	"github.com/Chino66/Command-Tool-Develop/internal/domain/session"
	"github.com/Chino66/Command-Tool-Develop/internal/infrastructure/config"
	"github.com/Chino66/Command-Tool-Develop/internal/infrastructure/logging"
	"github.com/Chino66/Command-Tool-Develop/internal/infrastructure/monitoring"
	"github.com/Chino66/Command-Tool-Develop/internal/infrastructure/resilience"
)

const shutdownTimeout = 10 * time.Second

// Server wraps the HTTP server and its dependencies.
type Server struct {
	router   *gin.Engine
	http     *nethttp.Server
	sessions *session.Manager
	logger   *logging.Logger
	config   *config.Config
	metrics  *monitoring.Metrics
}

// NewServer creates a new server instance.
func NewServer(cfg *config.Config) (*Server, error) {
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	logger.Info("Initializing cmdproxy server",
		zap.String("port", cfg.Server.Port),
		zap.String("default_profile", cfg.Shell.Profile),
		zap.Int("max_sessions", cfg.Shell.MaxSessions),
	)

	metrics := monitoring.NewMetrics()

	profiles := config.BuiltinProfiles()
	if cfg.Shell.ProfilesFile != "" {
		profiles, err = config.LoadProfiles(cfg.Shell.ProfilesFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load profiles: %w", err)
		}
		logger.Info("Loaded shell profiles",
			zap.String("file", cfg.Shell.ProfilesFile),
			zap.Strings("profiles", profiles.Names()),
		)
	}
	if _, ok := profiles.Get(cfg.Shell.Profile, ""); !ok {
		return nil, fmt.Errorf("default profile %q is not defined", cfg.Shell.Profile)
	}

	breakers := resilience.NewGroup(resilience.Settings{
		Failures: cfg.Shell.SpawnFailures,
		Cooldown: cfg.Shell.SpawnCooldown,
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warn("Spawn breaker state changed",
				zap.String("profile", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
	})

	sessions := session.NewManager(session.Config{
		Profiles:       profiles,
		DefaultProfile: cfg.Shell.Profile,
		WorkDir:        cfg.Shell.WorkDir,
		Timeout:        cfg.Shell.Timeout,
		StartTimeout:   cfg.Shell.StartTimeout,
		CloseTimeout:   cfg.Shell.CloseTimeout,
		Debug:          cfg.Shell.Debug,
		MaxSessions:    cfg.Shell.MaxSessions,
		Breakers:       breakers,
		Recorder:       metrics,
		Logger:         logger.Shell(),
	})

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.AccessLog(logger.Named("http")))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.CORSForOrigins(cfg.Server.CORSOrigins)))
	if cfg.Server.Gzip {
		router.Use(middleware.Gzip(gzip.DefaultCompression))
	}
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		limits := middleware.DefaultRateLimitConfig()
		limits.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
		limits.Burst = cfg.RateLimit.Burst
		router.Use(middleware.RateLimit(limits))
	}

	http.NewHandlers(sessions, metrics, logger.Named("http")).Register(router)
	ws.NewHandler(sessions, metrics, logger.Logger).Register(router)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	logger.Info("Server initialized successfully")

	return &Server{
		router:   router,
		sessions: sessions,
		logger:   logger,
		config:   cfg,
		metrics:  metrics,
	}, nil
}

func newLogger(cfg config.LogConfig) (*logging.Logger, error) {
	logCfg := logging.DefaultConfig()
	if cfg.Development {
		logCfg = logging.DevelopmentConfig()
	}
	if cfg.Level != "" {
		logCfg.Level = cfg.Level
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}

// Router returns the configured gin engine.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Sessions returns the session manager.
func (s *Server) Sessions() *session.Manager {
	return s.sessions
}

// Logger returns the server logger.
func (s *Server) Logger() *logging.Logger {
	return s.logger
}

// Run serves HTTP until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := s.config.Server.Host + ":" + s.config.Server.Port
	s.http = &nethttp.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.Close(shutdownCtx)
}

// Close stops accepting requests and closes every session.
func (s *Server) Close(ctx context.Context) error {
	s.logger.Info("Shutting down server...")

	var err error
	if s.http != nil {
		if shutdownErr := s.http.Shutdown(ctx); shutdownErr != nil {
			s.logger.Error("HTTP shutdown failed", zap.Error(shutdownErr))
			err = fmt.Errorf("failed to shut down http server: %w", shutdownErr)
		}
	}

	s.sessions.CloseAll()
	s.logger.Info("Closed all sessions")

	_ = s.logger.Sync()
	return err
}
