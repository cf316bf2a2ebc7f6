package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mentorship/internal/account"
	"mentorship/internal/backend"
	"mentorship/internal/backend/memory"
	"mentorship/internal/backend/postgres"
	"mentorship/internal/cloudinary"
	"mentorship/internal/config"
	"mentorship/internal/connection"
	"mentorship/internal/httpapi"
	"mentorship/internal/httpmiddleware"
	"mentorship/internal/logger"
	"mentorship/internal/mailer"
	"mentorship/internal/messaging"
	"mentorship/internal/otp"
	"mentorship/internal/profile"
	"mentorship/internal/queue"
	"mentorship/internal/realtime"
	"mentorship/internal/store"
	"mentorship/internal/tracer"
	"mentorship/internal/worker"
)

func main() {
	cfg := config.Load()

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	log := logger.New(cfg.LogFile, cfg.Production())
	defer func() { _ = log.Sync() }()

	if err := runHTTP(cfg, log); err != nil {
		log.Fatal("http server failed", zap.Error(err))
	}
}

func runHTTP(cfg config.App, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer := tracer.Init(cfg.OTELEnabled, cfg.OTELEndpoint, "mentorship-api", log)
	defer func() { _ = shutdownTracer(context.Background()) }()

	health := map[string]httpapi.HealthCheck{}

	var redisClient *store.Redis
	needRedis := cfg.RealtimeBackend == "redis" || cfg.QueueBackend == "redis"
	if needRedis {
		redisClient = store.NewRedis(cfg.RedisAddr)
		defer redisClient.Close()
		health["redis"] = redisClient.Healthy
	}

	broker, err := newBroker(cfg, redisClient)
	if err != nil {
		return err
	}
	defer broker.Close()

	var data backend.Store
	switch cfg.BackendMode {
	case "memory":
		log.Warn("using in-memory backend, data is lost on restart")
		data = memory.New(broker)
	default:
		db, err := store.NewDB(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("db connect failed: %w", err)
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			return err
		}
		health["db"] = db.Healthy
		data = postgres.New(db.Client, broker, logger.Module(log, "postgres"))
	}
	data = backend.WithTimeout(data, cfg.RequestTimeout)

	var objects backend.ObjectStore
	var localObjects *memory.Objects
	if cfg.CloudinaryConfigured() {
		objects = cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, "mentorship")
		log.Info("cloudinary configured", zap.String("cloud", cfg.CloudinaryCloudName))
	} else {
		log.Warn("cloudinary not configured, serving uploads from memory")
		localObjects = memory.NewObjects("http://localhost:" + cfg.HTTPPort + "/objects")
		objects = localObjects
	}

	jobs, closeJobs, err := newQueue(cfg, redisClient)
	if err != nil {
		return err
	}
	defer closeJobs()
	if cfg.QueueBackend == "memory" {
		// no separate worker process can reach an in-memory queue
		w := worker.New(newMailer(cfg, log), logger.Module(log, "worker"))
		go func() { _ = w.Run(ctx, jobs) }()
	}

	var codes otp.Store = otp.NewMemory()
	if redisClient != nil {
		codes = otp.NewRedis(redisClient.Client)
	}

	profiles := profile.NewService(data, objects, 30*time.Second, logger.Module(log, "profile"))
	accounts := account.NewService(data, profiles, codes, jobs, account.TokenConfig{
		Issuer:     cfg.JWTIssuer,
		SigningKey: cfg.JWTSigningKey,
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
		OTPTTL:     cfg.OTPTTL,
	}, logger.Module(log, "account"))

	limiter := httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	go limiter.RunSweeper(ctx, time.Minute, 10*time.Minute)

	r := httpapi.NewRouter(httpapi.Deps{
		Config:      cfg,
		Log:         log,
		Accounts:    accounts,
		Profiles:    profiles,
		Connections: connection.NewManager(data, profiles, jobs, logger.Module(log, "connection")),
		Messages:    messaging.NewService(data, objects, logger.Module(log, "messaging")),
		Health:      health,
		Limiter:     limiter,
	})
	if localObjects != nil {
		r.GET("/objects/:bucket/*path", func(c *gin.Context) {
			data, ok := localObjects.Object(c.Param("bucket"), strings.TrimPrefix(c.Param("path"), "/"))
			if !ok {
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			}
			c.Data(http.StatusOK, http.DetectContentType(data), data)
		})
	}

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", zap.String("port", cfg.HTTPPort),
			zap.String("backend", cfg.BackendMode), zap.String("realtime", cfg.RealtimeBackend),
			zap.String("queue", cfg.QueueBackend))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down server")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server forced shutdown", zap.Error(err))
	}
	log.Info("server exited")
	return nil
}

func newBroker(cfg config.App, redisClient *store.Redis) (realtime.Broker, error) {
	switch cfg.RealtimeBackend {
	case "memory":
		return realtime.NewMemory(), nil
	case "nats":
		return realtime.NewNATS(cfg.NATSURL)
	case "redis":
		return realtime.NewRedis(redisClient.Client), nil
	}
	return nil, fmt.Errorf("unknown REALTIME_BACKEND %q", cfg.RealtimeBackend)
}

func newQueue(cfg config.App, redisClient *store.Redis) (queue.Queue, func(), error) {
	switch cfg.QueueBackend {
	case "memory":
		return queue.NewInMemory(256), func() {}, nil
	case "rabbitmq":
		q, err := queue.NewRabbit(cfg.RabbitURL, cfg.RabbitQueue, 8)
		if err != nil {
			return nil, nil, fmt.Errorf("rabbitmq connect failed: %w", err)
		}
		return q, func() { _ = q.Close() }, nil
	case "redis":
		return queue.NewRedisQueue(redisClient.Client, ""), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown QUEUE_BACKEND %q", cfg.QueueBackend)
}

func newMailer(cfg config.App, log *zap.Logger) *mailer.Mailer {
	l := logger.Module(log, "mailer")
	if cfg.SMTPUser == "" {
		return mailer.NewWithSender(mailer.LogSender{Log: l}, cfg.SMTPFrom, l)
	}
	return mailer.New(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPFrom, l)
}
