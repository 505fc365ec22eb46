package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/partyplanner/config"
	"github.com/mohammad-safakhou/partyplanner/internal/queue"
	srv "github.com/mohammad-safakhou/partyplanner/internal/server"
	"github.com/mohammad-safakhou/partyplanner/internal/store"
)

func serveCMD(cfgPath *string) *cobra.Command {
	var serveAddr string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(*cfgPath)
			if serveAddr != "" {
				cfg.Server.Address = serveAddr
			}
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := buildApp(cfg)
			if err != nil {
				return err
			}
			deps := srv.Deps{
				Runner:    a.orch,
				Metrics:   a.metrics,
				JWTSecret: []byte(cfg.Server.JWTSecret),
			}
			if a.embeddings != nil {
				deps.Embeddings = a.embeddings
			}
			if cfg.Server.StoreRunsEnabled {
				st, err := store.New(ctx, cfg.Storage.Postgres)
				if err != nil {
					return err
				}
				defer st.Close()
				deps.Store = st
			}
			if cfg.Server.AsyncRunsEnabled {
				rdb, err := newRedis(ctx, cfg.Storage.Redis)
				if err != nil {
					return err
				}
				defer rdb.Close()
				reg, err := queue.NewSchemaRegistry()
				if err != nil {
					return err
				}
				deps.Queue = queue.NewPublisher(rdb, reg, cfg.Storage.Redis.Stream, 0, a.metrics)
			}

			server := srv.New(deps)
			errCh := make(chan error, 1)
			go func() { errCh <- server.Start(cfg.Server.Address) }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}
			log.Printf("shutting down")
			shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
			defer stop()
			return server.Shutdown(shutdownCtx)
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.address)")
	return serve
}
