// Package main provides the entry point for the shop session service.
// It initializes all dependencies, sets up HTTP routes with middleware,
// starts the background session maintenance loops, and runs the server
// with graceful shutdown support.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/teja230/storesight-sub006/internal/cache"
	"github.com/teja230/storesight-sub006/internal/config"
	"github.com/teja230/storesight-sub006/internal/database"
	"github.com/teja230/storesight-sub006/internal/handlers"
	"github.com/teja230/storesight-sub006/internal/identity"
	"github.com/teja230/storesight-sub006/internal/middleware"
	"github.com/teja230/storesight-sub006/internal/monitor"
	"github.com/teja230/storesight-sub006/internal/repository"
	"github.com/teja230/storesight-sub006/internal/session"
	"github.com/teja230/storesight-sub006/internal/token"
	"github.com/teja230/storesight-sub006/pkg/logger"
)

func main() {
	// Load .env.local file only in development (when GO_ENV is not set or set to "development")
	goEnv := os.Getenv("GO_ENV")
	if goEnv == "" || goEnv == "development" {
		if err := godotenv.Load(".env.local"); err != nil {
			if !os.IsNotExist(err) {
				fmt.Fprintf(os.Stderr, "Warning: Error loading .env.local file: %v\n", err)
			}
		}
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	log.Info("Starting shop session service")
	log.WithFields(logrus.Fields{
		"port":             cfg.Server.Port,
		"host":             cfg.Server.Host,
		"tls":              cfg.IsTLSEnabled(),
		"max_per_shop":     cfg.Session.MaxPerShop,
		"session_ttl":      cfg.Session.SessionTTL.String(),
		"updater_workers":  cfg.Updater.Workers,
		"breaker_interval": cfg.Breaker.Interval.String(),
	}).Info("Service configuration loaded")

	svc, err := initializeServices(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize services")
	}

	server := setupServer(cfg, svc, log)
	runServer(server, cfg, svc, log)
}

// services bundles the wired dependency graph.
type services struct {
	cache    cache.Cache
	redis    *goredis.Client
	database *database.Manager
	metrics  *monitor.Metrics
	limiter  *session.Limiter
	resolver *session.Resolver
	updater  *session.Updater
	reaper   *session.Reaper
	service  *session.Service
	breaker  *monitor.PoolHealthMonitor
	cookies  *token.CookieSigner
	exchange identity.Exchanger

	// cancel stops the background maintenance loops.
	cancel context.CancelFunc
}

func initializeServices(cfg *config.Config, log *logrus.Logger) (*services, error) {
	// Initialize database manager. The relational store is the source of
	// truth; the service refuses to start without it.
	dbMgr, err := database.NewManager(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("session store initialization failed: %w", err)
	}

	// Try Redis first, fall back to the in-memory cache. Cache loss degrades
	// performance but never correctness.
	var (
		sessionCache cache.Cache
		redisClient  *goredis.Client
	)
	redisCache, cacheErr := cache.NewClient(&cfg.Redis, log)
	if cacheErr != nil {
		log.WithError(cacheErr).Warn("Failed to connect to Redis, falling back to in-memory cache")
		log.Warn("Note: In-memory cache will not persist entries between restarts")
		sessionCache = cache.NewMemoryStore(log)
	} else {
		log.Info("Successfully connected to Redis cache")
		sessionCache = redisCache
		redisClient = redisCache.Underlying()
	}

	repo := repository.NewPostgresSessionRepository(dbMgr.Pool)

	metrics := monitor.NewMetrics()
	metrics.Register(prometheus.DefaultRegisterer)

	limiter := session.NewLimiter(repo, sessionCache, &cfg.Session, metrics, log)
	updater := session.NewUpdater(repo, sessionCache, &cfg.Updater, &cfg.Session, metrics, log)
	resolver := session.NewResolver(sessionCache, repo, updater, &cfg.Session, metrics, log)
	svc := session.NewService(repo, sessionCache, &cfg.Session, metrics, log)
	reaper := session.NewReaper(repo, sessionCache, &cfg.Reaper, &cfg.Session, metrics, log)

	statsSource := monitor.NewPgxStatsSource(dbMgr.Pool)
	breaker := monitor.NewPoolHealthMonitor(&cfg.Breaker, statsSource, dbMgr, metrics, log)

	exchange := identity.NewClient(&cfg.Identity, log)
	cookies := token.NewCookieSigner(&cfg.Cookie)

	// Start background loops
	bgCtx, cancel := context.WithCancel(context.Background())
	updater.Start()
	go reaper.Run(bgCtx)
	go breaker.Run(bgCtx)

	return &services{
		cache:    sessionCache,
		redis:    redisClient,
		database: dbMgr,
		metrics:  metrics,
		limiter:  limiter,
		resolver: resolver,
		updater:  updater,
		reaper:   reaper,
		service:  svc,
		breaker:  breaker,
		cookies:  cookies,
		exchange: exchange,
		cancel:   cancel,
	}, nil
}

func setupServer(cfg *config.Config, svc *services, log *logrus.Logger) *http.Server {
	sessionHandler := handlers.NewSessionHandler(
		svc.exchange, svc.limiter, svc.service, svc.updater, svc.cookies, cfg, log)
	healthHandler := handlers.NewHealthHandler(svc.cache, svc.database, svc.breaker, log)

	middlewareStack := middleware.NewStack(cfg, svc.resolver, svc.cookies, svc.redis, svc.metrics, log)

	router := mux.NewRouter()

	// API v1 router with /api/v1/session prefix
	apiV1Router := router.PathPrefix("/api/v1/session").Subrouter()

	healthHandler.RegisterRoutes(apiV1Router)
	apiV1Router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// Login does not require an existing session
	sessionHandler.RegisterPublicRoutes(apiV1Router)

	// Session-management routes require a resolved session
	authedRouter := apiV1Router.NewRoute().Subrouter()
	authedRouter.Use(middlewareStack.Authenticate)
	sessionHandler.RegisterRoutes(authedRouter)

	// Apply middleware to the entire router
	finalHandler := middlewareStack.Chain(
		router,
		middlewareStack.Recovery,
		middlewareStack.RequestLogger,
		middlewareStack.SecurityHeaders,
		middlewareStack.CORS,
		middlewareStack.RateLimit,
		middlewareStack.ContentType,
	)

	return &http.Server{
		Addr:         cfg.ServerAddr(),
		Handler:      finalHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}

func runServer(server *http.Server, cfg *config.Config, svc *services, log *logrus.Logger) {
	go startServer(server, cfg, log)

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		log.WithError(shutdownErr).Error("Server forced to shutdown")
	} else {
		log.Info("Server exited gracefully")
	}

	// Drain pending session updates before closing stores so queued token
	// refreshes are not lost.
	svc.updater.Stop(shutdownCtx)
	svc.cancel()

	if cacheErr := svc.cache.Close(); cacheErr != nil {
		log.WithError(cacheErr).Error("Failed to close cache connection")
	}
	svc.database.Close()
	log.Info("Session store connections closed")
}

func startServer(server *http.Server, cfg *config.Config, log *logrus.Logger) {
	log.WithFields(logrus.Fields{
		"addr": server.Addr,
		"tls":  cfg.IsTLSEnabled(),
	}).Info("Starting HTTP server")

	var startErr error
	if cfg.IsTLSEnabled() {
		startErr = server.ListenAndServeTLS(cfg.Server.TLSCert, cfg.Server.TLSKey)
	} else {
		startErr = server.ListenAndServe()
	}

	if startErr != nil && startErr != http.ErrServerClosed {
		log.WithError(startErr).Fatal("Failed to start server")
	}
}
