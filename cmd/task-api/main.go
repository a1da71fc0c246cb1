package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"task-tracker/api"
	"task-tracker/auth"
	"task-tracker/config"
	"task-tracker/storage"
)

const shutdownTimeout = 10 * time.Second

// backingStore is what either storage driver provides.
type backingStore interface {
	api.TaskStore
	auth.UserStore
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := log.New()
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}
	if cfg.LogFormat == "json" {
		logger.SetFormatter(&log.JSONFormatter{})
	}

	store, closeStore, err := openStore(cfg, logger)
	if err != nil {
		logger.Fatalf("storage: %v", err)
	}
	defer closeStore()

	var tasks api.TaskStore = store
	var deduper api.Deduper
	if cfg.RedisConnectionString != "" {
		redisOpts, err := config.RedisOptions(cfg.RedisConnectionString)
		if err != nil {
			logger.Fatalf("redis: %v", err)
		}
		rc := redis.NewClient(redisOpts)
		defer rc.Close()
		if cfg.TasksCacheTTL > 0 {
			tasks = storage.NewCache(store, rc, cfg.TasksCacheTTL, storage.WithCacheLogger(logger))
		}
		deduper = api.NewRedisDeduper(rc, cfg.DeduperTTL)
	} else {
		logger.Info("REDIS_CONNECTION_STRING not set; list cache and idempotency keys disabled")
	}

	var events *api.EventDispatcher
	if cfg.TaskEventsQueue != "" {
		queue, err := storage.NewEventQueue(cfg.StorageConnectionString, cfg.TaskEventsQueue)
		if err != nil {
			logger.Fatalf("event queue: %v", err)
		}
		events = api.NewEventDispatcher(queue, cfg.EventWorkers, cfg.EventBuffer, logger)
		defer events.Close()
	}

	authCfg := api.AuthConfig{
		Secret:       []byte(cfg.JWTSecret),
		Issuer:       cfg.JWTIssuer,
		JWKSAudience: cfg.Audience,
		JWKSIssuer:   cfg.JWKSIssuer,
		JWKSCacheTTL: cfg.JWKSCacheTTL,
	}
	if cfg.JWKSURL != "" {
		jwks, err := keyfunc.Get(cfg.JWKSURL, keyfunc.Options{RefreshInterval: time.Hour})
		if err != nil {
			logger.Fatalf("jwks: %v", err)
		}
		defer jwks.EndBackground()
		authCfg.JWKS = jwks
	}
	accounts := auth.NewService(store, []byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.TokenTTL)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.CORSOrigin,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Idempotency-Key"},
	}))
	e.Use(api.GzipRequestMiddleware())

	api.Register(e, api.Deps{
		Tasks:         tasks,
		Auth:          api.NewAuth(authCfg),
		Accounts:      accounts,
		Deduper:       deduper,
		Events:        events,
		Logger:        logger,
		AuthRateLimit: cfg.AuthRateLimit,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.WithFields(log.Fields{"addr": cfg.ListenAddr, "store": cfg.StoreDriver}).Info("task api listening")
		if err := e.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("shutdown: %v", err)
	}
}

func openStore(cfg config.Config, logger *log.Logger) (backingStore, func(), error) {
	switch cfg.StoreDriver {
	case config.DriverAzTables:
		s, err := storage.New(cfg.StorageConnectionString, cfg.TasksTable, cfg.UsersTable)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	default:
		s, err := storage.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, closer(s, logger), nil
	}
}

func closer(c io.Closer, logger *log.Logger) func() {
	return func() {
		if err := c.Close(); err != nil {
			logger.WithError(err).Warn("close store")
		}
	}
}
