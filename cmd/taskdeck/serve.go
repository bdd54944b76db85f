package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"taskdeck/internal/logging"
	"taskdeck/internal/remote"
	"taskdeck/internal/repository"
	"taskdeck/internal/storage"
)

// serveCmd implements 'taskdeck serve'.
func serveCmd(a *app) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync server over the local database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if listen != "" {
				a.cfg.Server.ListenAddr = listen
			}
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address; overrides server.listen_addr")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	store, err := storage.Open(a.cfg.DBPath, logging.Component(a.logger, "storage"))
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	a.closers = append(a.closers, store)
	repo := repository.New(store, logging.Component(a.logger, "repository"))

	fanout, err := a.fanout(ctx)
	if err != nil {
		return err
	}

	// Writes made by other processes on the same database file reach the
	// streams through the store's own subscription.
	changes, err := repo.Subscribe(ctx)
	if err != nil {
		return err
	}
	go func() {
		<-changes
		for range changes {
			if err := fanout.Publish(ctx); err != nil {
				a.logger.WithError(err).Warn("publish external change")
			}
		}
	}()

	srv := remote.NewServer(repo, fanout, a.cfg.Token, logging.Component(a.logger, "server"))
	e := srv.Echo()
	errCh := make(chan error, 1)
	go func() {
		a.logger.WithField("addr", a.cfg.Server.ListenAddr).Info("sync server listening")
		errCh <- e.Start(a.cfg.Server.ListenAddr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a.logger.Info("shutting down")
	return e.Shutdown(shutdownCtx)
}

func (a *app) fanout(ctx context.Context) (remote.Fanout, error) {
	if a.cfg.Server.RedisURL == "" {
		return remote.NewLocalFanout(), nil
	}
	opts, err := redis.ParseURL(a.cfg.Server.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("server.redis_url: %w", err)
	}
	rc := redis.NewClient(opts)
	if err := rc.Ping(ctx).Err(); err != nil {
		rc.Close()
		return nil, fmt.Errorf("redis: %w", err)
	}
	a.closers = append(a.closers, rc)
	f := remote.NewRedisFanout(rc, a.cfg.Server.Channel, logging.Component(a.logger, "fanout"))
	go f.Run(ctx)
	a.logger.WithField("channel", a.cfg.Server.Channel).Info("fan-out through redis")
	return f, nil
}
