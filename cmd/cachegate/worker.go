package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/jonwraymond/cachegate/config"
	"github.com/jonwraymond/cachegate/observe"
	"github.com/jonwraymond/cachegate/resilience"
	"github.com/jonwraymond/cachegate/webhook"
)

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Deliver queued webhooks",
		Long:  "Consume webhook delivery tasks enqueued by serve when webhook.delivery is \"queue\"",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			path, _ := cmd.Flags().GetString("config")
			cfg, logger, err := loadConfig(ctx, path)
			if err != nil {
				return err
			}
			wh := cfg.Webhook
			if wh.Delivery != config.DeliveryQueue || wh.QueueRedisAddr == "" {
				return fmt.Errorf("worker requires webhook.delivery=%s and webhook.queue_redis_addr", config.DeliveryQueue)
			}
			queue := wh.QueueName
			if queue == "" {
				queue = webhook.DefaultQueue
			}

			srv := asynq.NewServer(asynq.RedisClientOpt{Addr: wh.QueueRedisAddr}, asynq.Config{
				Concurrency: wh.WorkerCount,
				Queues:      map[string]int{queue: 1},
			})
			mux := asynq.NewServeMux()
			// asynq owns retries, so each task makes a single attempt.
			webhook.NewHandler(webhook.NewHTTPNotifier(webhook.Config{
				SigningKey: []byte(wh.SigningKey),
				Timeout:    wh.Timeout,
				Retry:      resilience.RetryConfig{MaxAttempts: 1},
			})).Register(mux)

			if err := srv.Start(mux); err != nil {
				return fmt.Errorf("start worker: %w", err)
			}
			logger.Info(ctx, "webhook worker started",
				observe.F("queue", queue),
				observe.F("concurrency", wh.WorkerCount))
			<-ctx.Done()
			srv.Shutdown()
			return nil
		},
	}
}
