package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "github.com/geon0078/VLM-Ovis/docs"
	"github.com/geon0078/VLM-Ovis/internal/cache"
	"github.com/geon0078/VLM-Ovis/internal/gallery"
	"github.com/geon0078/VLM-Ovis/internal/handler"
	"github.com/geon0078/VLM-Ovis/internal/metrics"
	"github.com/geon0078/VLM-Ovis/internal/service"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Load the model and serve the web page and API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger

	logger.Info("starting Ovis vision model server")
	sess, err := a.loadSession(ctx)
	if err != nil {
		return err
	}

	analyzeService := service.NewAnalyzeService(logger, sess)
	if cfg.CacheEnable {
		redisCache := cache.NewRedisCache(cfg.RedisConfig)
		defer redisCache.Close()
		if err := redisCache.Ping(ctx); err != nil {
			logger.Warnf("redis is not reachable yet: %v", err)
		}
		analyzeService.SetCacheClient(redisCache)
		logger.Info("set redis as cache")
	}

	examples, err := gallery.Prepare(logger, cfg.Gallery.Manifest, cfg.Gallery.Dir)
	if err != nil {
		logger.Warnf("gallery disabled: %v", err)
	}

	h := handler.NewAnalyzeHandler(logger, analyzeService, examples, cfg.Server.MaxUploadBytes)

	r := chi.NewRouter()
	r.Use([]func(http.Handler) http.Handler{
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
		middleware.Throttle(cfg.Server.ThrottleLimit),
		middleware.Timeout(cfg.Server.Timeout),
		metrics.Middleware,
	}...)

	h.Routes(r)
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))
	r.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:    cfg.Server.Addr(),
		Handler: r,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("server started %s", cfg.Server.Addr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}
