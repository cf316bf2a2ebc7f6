package main

import (
	"context"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"mentorship/internal/config"
	"mentorship/internal/logger"
	"mentorship/internal/mailer"
	"mentorship/internal/queue"
	"mentorship/internal/store"
	"mentorship/internal/worker"
)

// Worker consumes queued jobs and sends the emails they describe.
func main() {
	cfg := config.Load()
	log := logger.New(cfg.LogFile, cfg.Production())
	defer func() { _ = log.Sync() }()

	// Graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var q queue.Queue
	switch cfg.QueueBackend {
	case "rabbitmq":
		rq, err := queue.NewRabbit(cfg.RabbitURL, cfg.RabbitQueue, 8)
		if err != nil {
			log.Fatal("rabbitmq connect failed", zap.Error(err))
		}
		defer rq.Close()
		q = rq
	case "redis":
		redisClient := store.NewRedis(cfg.RedisAddr)
		defer redisClient.Close()
		if !redisClient.Healthy(ctx) {
			log.Warn("redis not reachable yet, consumer will keep retrying", zap.String("addr", cfg.RedisAddr))
		}
		q = queue.NewRedisQueue(redisClient.Client, "")
	default:
		log.Fatal("worker needs a shared queue; the api runs jobs in-process for QUEUE_BACKEND=memory",
			zap.String("queue", cfg.QueueBackend))
	}

	mlog := logger.Module(log, "mailer")
	var m *mailer.Mailer
	if cfg.SMTPUser == "" {
		log.Warn("SMTP not configured, emails are logged only")
		m = mailer.NewWithSender(mailer.LogSender{Log: mlog}, cfg.SMTPFrom, mlog)
	} else {
		m = mailer.New(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPFrom, mlog)
	}

	if err := worker.New(m, logger.Module(log, "worker")).Run(ctx, q); err != nil {
		log.Fatal("worker failed", zap.Error(err))
	}
}
