package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/partyplanner/config"
	"github.com/mohammad-safakhou/partyplanner/internal/queue"
	"github.com/mohammad-safakhou/partyplanner/internal/store"
	"github.com/mohammad-safakhou/partyplanner/internal/worker"
)

func workerCMD(cfgPath *string) *cobra.Command {
	var name string
	var cmd = &cobra.Command{
		Use:   "worker",
		Short: "Consume queued runs from Redis and store their transcripts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(*cfgPath)
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := buildApp(cfg)
			if err != nil {
				return err
			}
			st, err := store.New(ctx, cfg.Storage.Postgres)
			if err != nil {
				return fmt.Errorf("worker needs postgres: %w", err)
			}
			defer st.Close()
			rdb, err := newRedis(ctx, cfg.Storage.Redis)
			if err != nil {
				return err
			}
			defer rdb.Close()

			rc := cfg.Storage.Redis
			if err := queue.EnsureGroup(ctx, rdb, rc.Stream, rc.Group); err != nil {
				return err
			}
			reg, err := queue.NewSchemaRegistry()
			if err != nil {
				return err
			}
			if name == "" {
				host, _ := os.Hostname()
				name = fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
			}
			consumer := queue.NewConsumer(rdb, reg, rc.Stream, rc.Group, name, a.metrics, nil)

			if cfg.Telemetry.Enabled && cfg.Telemetry.MetricsPort > 0 {
				go serveMetrics(ctx, a, cfg.Telemetry.MetricsPort)
			}
			go reportLag(ctx, a, rdb, rc)

			proc := worker.NewProcessor(nil, st, consumer, a.orch, worker.OptionsFromConfig(cfg.Worker), a.metrics)
			return proc.Start(ctx)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "consumer name (default hostname plus random suffix)")
	return cmd
}

// serveMetrics exposes /metrics for a worker that has no API server.
func serveMetrics(ctx context.Context, a *app, port int) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.GET("/metrics", echo.WrapHandler(a.metrics.Handler()))
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.Shutdown(shutdownCtx)
	}()
	if err := e.Start(fmt.Sprintf(":%d", port)); err != nil && ctx.Err() == nil {
		log.Printf("metrics server exited: %v", err)
	}
}

// reportLag logs the consumer group backlog once a minute.
func reportLag(ctx context.Context, a *app, rdb redis.Cmdable, rc config.RedisConfig) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			lag, err := queue.GroupLag(ctx, rdb, rc.Stream, rc.Group)
			if err != nil {
				log.Printf("warn: group lag: %v", err)
				continue
			}
			a.metrics.QueueBacklog(lag.Pending, lag.Lag)
			log.Printf("queue %s/%s pending=%d lag=%d consumers=%d oldest_idle=%s", rc.Stream, rc.Group, lag.Pending, lag.Lag, lag.Consumers, lag.OldestIdle.Round(time.Second))
		}
	}
}
