package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	"authcore.org/internal/auth"
	"authcore.org/internal/cache"
	"authcore.org/internal/config"
	"authcore.org/internal/httpapi"
	"authcore.org/internal/obs"
	"authcore.org/internal/store/memory"
	"authcore.org/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	configPath := flag.String("config", os.Getenv("AUTHCORE_CONFIG"), "Path to YAML config")
	flag.Parse()

	// Инициализация observability (регистрация метрик, JSON-логгер и т.п.)
	obs.Init()
	obs.InitBuildInfo(version, commit)
	logger := obs.Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.WithError(err).Fatal("load config")
	}
	if err := obs.SetLevel(cfg.Log.Level); err != nil {
		logger.WithError(err).Fatal("set log level")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracingCfg := cfg.Tracing
	tracingCfg.ServiceVersion = version
	shutdownTracing, err := obs.InitTracing(ctx, tracingCfg)
	if err != nil {
		logger.WithError(err).Fatal("init tracing")
	}

	store, probe, closeStore := openStore(cfg, logger)

	opts := []auth.ServiceOption{
		auth.WithHasher(auth.NewPasswordHasher(cfg.Password.PasswordParams, cfg.Password.Concurrency)),
		auth.WithLogger(logger),
		auth.WithTokenTTL(cfg.Token.TTL),
	}
	principalCache, closeCache := openCache(ctx, cfg, logger)
	if principalCache != nil {
		opts = append(opts, auth.WithCache(principalCache))
	}
	svc, err := auth.NewService(store, opts...)
	if err != nil {
		logger.WithError(err).Fatal("init auth service")
	}

	scheduler := startPurge(cfg, svc, logger)

	// HTTP API
	api := httpapi.New(svc, probe, version,
		httpapi.WithLogger(logger),
		httpapi.WithCORSOrigins(cfg.HTTP.CORSOrigins),
		httpapi.WithMaxBodyBytes(cfg.HTTP.MaxBodyBytes),
	)
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}
	go func() {
		logger.WithFields(logrus.Fields{"addr": srv.Addr, "version": version}).Info("starting authcore http")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("http listen")
		}
	}()

	// gRPC health
	var grpcSrv *grpc.Server
	if cfg.GRPC.Addr != "" {
		health := httpapi.NewHealthServer(probe, 10*time.Second, logger)
		grpcSrv = grpc.NewServer()
		health.Register(grpcSrv)
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			logger.WithError(err).Fatal("grpc listen")
		}
		go health.Run(ctx)
		go func() {
			logger.WithField("addr", cfg.GRPC.Addr).Info("starting grpc health")
			if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				logger.WithError(err).Error("grpc serve")
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	if scheduler != nil {
		<-scheduler.Stop().Done()
	}
	closeCache()
	closeStore()
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.WithError(err).Warn("tracing shutdown")
	}
	logger.Info("stopped")
}

func openStore(cfg *config.Config, logger logrus.FieldLogger) (auth.Store, httpapi.ReadyProbe, func()) {
	if cfg.Database.Driver == "memory" {
		logger.Warn("using in-memory store; data is lost on restart")
		return memory.New(), httpapi.ReadyProbe{}, func() {}
	}
	store, err := pg.Open(cfg.Database.DSN, cfg.Database.Pool)
	if err != nil {
		logger.WithError(err).Fatal("open db")
	}
	return store, httpapi.ReadyProbe{DB: store.DB()}, func() { _ = store.Close() }
}

func openCache(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger) (auth.PrincipalCache, func()) {
	switch cfg.Cache.Mode {
	case "memory":
		return cache.NewMemory(cfg.Cache.Size, cfg.Cache.TTL), func() {}
	case "redis":
		rc, err := cache.NewRedis(ctx, cfg.Cache.Redis)
		if err != nil {
			logger.WithError(err).Fatal("connect redis cache")
		}
		return rc, func() { _ = rc.Close() }
	default:
		return nil, func() {}
	}
}

// startPurge schedules deletion of expired tokens. Nothing is scheduled
// when tokens never expire or the schedule is empty.
func startPurge(cfg *config.Config, svc *auth.Service, logger logrus.FieldLogger) *cron.Cron {
	if cfg.Token.TTL == 0 || cfg.Token.PurgeSchedule == "" {
		return nil
	}
	c := cron.New()
	_, err := c.AddFunc(cfg.Token.PurgeSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		n, err := svc.PurgeExpiredTokens(ctx)
		if err != nil {
			logger.WithError(err).Error("purge expired tokens")
			return
		}
		logger.WithField("purged", n).Info("expired tokens purged")
	})
	if err != nil {
		logger.WithError(err).Fatal("schedule token purge")
	}
	c.Start()
	return c
}
