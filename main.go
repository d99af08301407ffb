package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/labstack/echo-contrib/pprof"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"prism-events/api"
	"prism-events/storage"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	configureLogger(log.StandardLogger(), cfg)
	logger := log.New()
	configureLogger(logger, cfg)

	if cfg.TracingEnabled {
		tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())))
		otel.SetTracerProvider(tp)
		defer func() {
			if err := tp.Shutdown(context.Background()); err != nil {
				logger.WithError(err).Error("tracer shutdown")
			}
		}()
	}

	var (
		rc      *redis.Client
		deduper api.Deduper
	)
	if cfg.RedisConnection != "" {
		opts, err := parseRedisOptions(cfg.RedisConnection)
		if err != nil {
			log.Fatalf("redis config: %v", err)
		}
		rc = redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(context.Background(), cfg.RedisDialTimeout)
		err = rc.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		defer rc.Close()
		deduper = api.NewRedisDeduper(rc, cfg.DeduperTTL)
	} else {
		logger.Info("REDIS_CONNECTION_STRING not set; projection cache and idempotency keys disabled")
	}

	eventLog := storage.NewLog()
	projection := storage.NewProjection(eventLog, rc, cfg.TasksCacheTTL)

	e := echo.New()
	e.HideBanner = true
	e.JSONSerializer = api.JSONSerializer{}
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderContentEncoding, api.HeaderIdempotencyKey},
	}))
	e.Use(api.RequestLogger(logger))
	e.Use(api.GzipRequestMiddleware())

	api.Register(e, eventLog, projection, logger, api.Options{
		MaxEventBytes: cfg.MaxEventBytes,
		Deduper:       deduper,
	})
	if cfg.PprofEnabled {
		pprof.Register(e)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := e.Start(cfg.ListenAddr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server stopped")
		}
	}()
	logger.WithField("addr", cfg.ListenAddr()).Info("prism-events started")

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("graceful shutdown failed")
	}
}

func configureLogger(l *log.Logger, cfg Config) {
	if cfg.Debug {
		l.SetLevel(log.DebugLevel)
	}
	if strings.EqualFold(cfg.LogFormat, "json") {
		l.SetFormatter(&log.JSONFormatter{})
	}
}
