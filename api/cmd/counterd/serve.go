package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"imgbatch/api/auth"
	"imgbatch/api/cache"
	"imgbatch/api/config"
	"imgbatch/api/database"
	"imgbatch/api/handlers"
	"imgbatch/api/kafka"
	"imgbatch/api/realtime"
	"imgbatch/api/repository"
	"imgbatch/api/service"
	"imgbatch/internal/counter"
)

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger, migrate bool) error {
	pool, err := database.ConnectPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	if migrate {
		if err := database.Migrate(ctx, pool, "up", logger); err != nil {
			return err
		}
	}

	jwtSvc, err := auth.NewService(cfg.JWTSecret, cfg.TokenLifetime)
	if err != nil {
		return err
	}

	hub := realtime.NewHub(logger)
	defer hub.Close()

	var (
		wg        sync.WaitGroup
		svcCache  service.Cache
		publisher service.Publisher = service.PublishFunc(func(_ context.Context, c counter.Counts) error {
			hub.Broadcast(c)
			return nil
		})
		deps = map[string]handlers.Pinger{"postgres": pool}
	)

	bgCtx, stopBackground := context.WithCancel(ctx)
	defer func() {
		stopBackground()
		wg.Wait()
	}()

	if cfg.RedisAddr != "" {
		client, err := database.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			return err
		}
		defer client.Close()

		counts := cache.NewCountsCache(client, cfg.CacheTTL, logger)
		svcCache, publisher = counts, counts
		deps["redis"] = counts

		// every replica, this one included, pushes what the channel carries
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := counts.Listen(bgCtx, hub.Broadcast); err != nil {
				logger.Error("Counter update listener stopped", zap.Error(err))
			}
		}()
	}

	svc := service.NewCounterService(repository.NewPostgresRepo(pool), svcCache, publisher, logger)

	if len(cfg.KafkaBrokers) > 0 {
		consumer, err := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaGroup, cfg.KafkaTopic, logger)
		if err != nil {
			return err
		}
		defer consumer.Close()

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := consumer.Run(bgCtx, svc.Apply); err != nil {
				logger.Error("Increment consumer stopped", zap.Error(err))
			}
		}()
		logger.Info("Consuming increment events", zap.String("topic", cfg.KafkaTopic), zap.Strings("brokers", cfg.KafkaBrokers))
	}

	router := handlers.NewRouter(handlers.RouterDeps{
		Counter:  handlers.NewCounterHandler(svc, hub, logger),
		Health:   handlers.NewHealthHandler(deps),
		Verifier: jwtSvc,
		Logger:   logger,
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server started", zap.String("address", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
	defer cancel()
	hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
